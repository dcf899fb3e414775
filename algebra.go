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

// Container is implemented by anything that can answer membership queries,
// such as a Map or a Set.
type Container[K comparable] interface {
	Contains(key K) bool
}

// RemoveAllMatching deletes every entry for which pred returns true and
// returns the number of entries deleted. pred may query the map but must not
// mutate it.
func (m *Map[K, V]) RemoveAllMatching(pred func(key K, value V) bool) int {
	m.checkMutable("RemoveAllMatching")
	var removed int
	for i := range m.bins {
		if !m.occupied(m.bins, i) {
			continue
		}
		if b := &m.bins[i]; pred(b.key, b.value) {
			m.removeAt(i)
			removed++
		}
	}
	m.checkInvariants()
	return removed
}

// Filtered returns a new map holding the entries for which pred returns true.
func (m *Map[K, V]) Filtered(pred func(key K, value V) bool) *Map[K, V] {
	c := m.Clone()
	c.RemoveAllMatching(func(key K, value V) bool {
		return !pred(key, value)
	})
	return c
}

// IntersectWith deletes every entry whose key is not contained in other and
// returns the number of entries deleted.
func (m *Map[K, V]) IntersectWith(other Container[K]) int {
	return m.RemoveAllMatching(func(key K, _ V) bool {
		return !other.Contains(key)
	})
}

// IntersectedWith returns a new map holding the entries whose key is
// contained in other.
func (m *Map[K, V]) IntersectedWith(other Container[K]) *Map[K, V] {
	c := m.Clone()
	c.IntersectWith(other)
	return c
}

// RemoveAllMatching deletes every element for which pred returns true and
// returns the number of elements deleted.
func (s *Set[K]) RemoveAllMatching(pred func(key K) bool) int {
	return s.m.RemoveAllMatching(func(key K, _ struct{}) bool {
		return pred(key)
	})
}

// Filtered returns a new set holding the elements for which pred returns
// true.
func (s *Set[K]) Filtered(pred func(key K) bool) *Set[K] {
	c := s.Clone()
	c.RemoveAllMatching(func(key K) bool {
		return !pred(key)
	})
	return c
}

// IntersectWith deletes every element not contained in other and returns the
// number of elements deleted.
func (s *Set[K]) IntersectWith(other Container[K]) int {
	return s.m.IntersectWith(other)
}

// IntersectedWith returns a new set holding the elements contained in both s
// and other.
func (s *Set[K]) IntersectedWith(other Container[K]) *Set[K] {
	c := s.Clone()
	c.IntersectWith(other)
	return c
}
