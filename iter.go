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

// Iterator is a cursor over the entries of a Map in bin order. Next must be
// called prior to reading the first entry:
//
//	it := m.Iterator()
//	defer it.Close()
//	for it.Next() {
//		fmt.Println(it.Key(), it.Value())
//	}
//
// An Iterator borrows its map until it is exhausted or closed. The map must
// not be mutated while the borrow is outstanding, though values may be
// updated through ValuePtr.
type Iterator[K comparable, V comparable] struct {
	m    *Map[K, V]
	bins []Bin[K, V]
	// index is the current bin, -1 before the first call to Next and
	// len(bins) once exhausted.
	index   int
	yielded int
	// owned is set if closing the iterator closes the map.
	owned  bool
	closed bool
}

// Iterator returns an Iterator borrowing the map.
func (m *Map[K, V]) Iterator() *Iterator[K, V] {
	it := m.newIterator(false)
	return &it
}

// Consume returns an Iterator that takes ownership of the map. The map is
// closed once the iterator is exhausted or closed, and must not be used by
// the caller afterwards. Consume is meant for temporaries such as the result
// of IntersectedWith.
func (m *Map[K, V]) Consume() *Iterator[K, V] {
	it := m.newIterator(true)
	return &it
}

func (m *Map[K, V]) newIterator(owned bool) Iterator[K, V] {
	m.borrows++
	return Iterator[K, V]{
		m:     m,
		bins:  m.bins,
		index: -1,
		owned: owned,
	}
}

// Next advances to the next entry, returning false at the end of iteration.
// Reaching the end closes the iterator.
func (it *Iterator[K, V]) Next() bool {
	if it.closed {
		return false
	}
	for it.index++; it.index < len(it.bins); it.index++ {
		if it.m.occupied(it.bins, it.index) {
			it.yielded++
			return true
		}
	}
	it.Close()
	return false
}

// Key returns the key of the current entry.
func (it *Iterator[K, V]) Key() K {
	return it.bins[it.index].key
}

// Value returns the value of the current entry.
func (it *Iterator[K, V]) Value() V {
	return it.bins[it.index].value
}

// ValuePtr returns a pointer to the value of the current entry. Keys cannot
// be modified through an iterator.
func (it *Iterator[K, V]) ValuePtr() *V {
	return &it.bins[it.index].value
}

// Len returns the number of entries not yet returned by Next.
func (it *Iterator[K, V]) Len() int {
	if it.closed {
		return 0
	}
	return it.m.used - it.yielded
}

// Close releases the iterator's borrow of its map. Close is idempotent.
func (it *Iterator[K, V]) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.m.borrows--
	if it.owned {
		it.m.Close()
	}
	it.bins = nil
}

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, iteration stops. All can be ranged over directly:
//
//	for k, v := range m.All {
//		fmt.Printf("%v: %v\n", k, v)
//	}
//
// The map is borrowed for the duration of the iteration.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	it := m.newIterator(false)
	defer it.Close()
	for it.Next() {
		if !yield(it.Key(), it.Value()) {
			return
		}
	}
}

// Keys calls yield sequentially for each key present in the map.
func (m *Map[K, V]) Keys(yield func(key K) bool) {
	it := m.newIterator(false)
	defer it.Close()
	for it.Next() {
		if !yield(it.Key()) {
			return
		}
	}
}

// Values calls yield sequentially for each value present in the map.
func (m *Map[K, V]) Values(yield func(value V) bool) {
	it := m.newIterator(false)
	defer it.Close()
	for it.Next() {
		if !yield(it.Value()) {
			return
		}
	}
}

// SetIterator is a cursor over the elements of a Set in bin order. It follows
// the same protocol as Iterator.
type SetIterator[K comparable] struct {
	it Iterator[K, struct{}]
}

// Iterator returns a SetIterator borrowing the set.
func (s *Set[K]) Iterator() *SetIterator[K] {
	return &SetIterator[K]{it: s.m.newIterator(false)}
}

// Consume returns a SetIterator that takes ownership of the set, closing it
// once the iterator is exhausted or closed.
func (s *Set[K]) Consume() *SetIterator[K] {
	return &SetIterator[K]{it: s.m.newIterator(true)}
}

// Next advances to the next element, returning false at the end of
// iteration.
func (it *SetIterator[K]) Next() bool {
	return it.it.Next()
}

// Elem returns the current element.
func (it *SetIterator[K]) Elem() K {
	return it.it.Key()
}

// Len returns the number of elements not yet returned by Next.
func (it *SetIterator[K]) Len() int {
	return it.it.Len()
}

// Close releases the iterator's borrow of its set.
func (it *SetIterator[K]) Close() {
	it.it.Close()
}

// All calls yield sequentially for each element present in the set. If yield
// returns false, iteration stops.
func (s *Set[K]) All(yield func(key K) bool) {
	s.m.Keys(yield)
}
