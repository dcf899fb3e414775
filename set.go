// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probemap

import "iter"

// Set is an unordered set of keys. It shares the Map implementation with
// key-only bins.
//
// A Set is NOT goroutine-safe.
type Set[K comparable] struct {
	m Map[K, struct{}]
}

// NewSet constructs a new Set with room for initialCapacity elements. The
// zero value for a Set is not usable.
func NewSet[K comparable](initialCapacity int, options ...Option[K, struct{}]) *Set[K] {
	s := &Set[K]{}
	s.m.init(initialCapacity, options)
	return s
}

// CollectSet constructs a new Set holding the elements of seq.
func CollectSet[K comparable](seq iter.Seq[K], options ...Option[K, struct{}]) *Set[K] {
	s := NewSet[K](0, options...)
	s.InsertMany(seq)
	return s
}

// Insert adds key to the set, returning Added if it was not present and
// Unmodified otherwise.
func (s *Set[K]) Insert(key K) InsertResult {
	return s.m.Put(key, struct{}{})
}

// InsertMany adds every element of seq to the set and returns the number of
// elements that were added.
func (s *Set[K]) InsertMany(seq iter.Seq[K]) int {
	var added int
	for k := range seq {
		if s.Insert(k) == Added {
			added++
		}
	}
	return added
}

// Contains returns true if key is in the set.
func (s *Set[K]) Contains(key K) bool {
	return s.m.Contains(key)
}

// Delete removes key from the set, returning true if it was present.
func (s *Set[K]) Delete(key K) bool {
	return s.m.Delete(key)
}

// Reserve makes room for extra more elements.
func (s *Set[K]) Reserve(extra int) {
	s.m.Reserve(extra)
}

// Clear removes all elements, retaining the capacity.
func (s *Set[K]) Clear() {
	s.m.Clear()
}

// Len returns the number of elements in the set.
func (s *Set[K]) Len() int {
	return s.m.Len()
}

// Capacity returns the number of bins in the set.
func (s *Set[K]) Capacity() int {
	return s.m.Capacity()
}

// Clone returns a deep copy of the set.
func (s *Set[K]) Clone() *Set[K] {
	c := &Set[K]{}
	s.m.cloneInto(&c.m)
	return c
}

// Equal returns true if both sets hold the same elements.
func (s *Set[K]) Equal(other *Set[K]) bool {
	return s.m.Equal(&other.m)
}

// Close releases the set's memory back to its allocator.
func (s *Set[K]) Close() {
	s.m.Close()
}
