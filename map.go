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

// Package probemap is a Go implementation of a small-size-optimized open
// addressing hash table with lazy deletion.
//
// # Layout
//
// A table is a single array of bins whose length is always a power of two so
// that hash(key)%N can be computed as hash(key)&(N-1). A bin holds a key and,
// for a Map, a value. A Set stores Map[K, struct{}] bins, so sets hold keys
// only. Every bin is in one of three states:
//
//	   empty: the key equals the designated null key
//	occupied: the key is a live user key
//	    hole: the bin held an element that has been deleted
//
// The null key defaults to the zero value of K, which allows fresh storage to
// be used as is. WithNullKey selects another value; then every allocation is
// filled explicitly.
//
// # Probing
//
// Collisions are resolved by triangular probing: starting at hash&(N-1) the
// table visits offsets hash+1, hash+3, hash+6, ... which covers every bin
// exactly once before repeating (see probeSeq). Lookups stop at the first
// empty bin or at a non-hole bin with an equal key. Inserts probe for the same
// thing while remembering the first hole they pass, and reuse that hole in
// preference to the terminating empty bin so that churn does not keep
// extending probe chains.
//
// # Tombstones
//
// A deleted bin cannot become empty, since that would cut the probe chains of
// every key that was placed beyond it. Holes are tracked either in-band, by
// overwriting the key with a sentinel that is neither null nor a valid key,
// or in a roaring bitmap sized lazily on the first deletion. Pointer keys get
// an in-band sentinel automatically; WithHoleKey designates one for other key
// types.
//
// # Growth
//
// The table keeps count+holes at or below 3/4 of its bins. When an insert
// would push the live count over that bound the table grows to the next power
// of two. Otherwise, if tombstones are to blame, the table is rehashed in
// place at its current size, which drops every hole. Growth by default
// allocates a new array and reinserts every live element. If the Allocator
// implements Reallocator the array is extended instead and rehashed in place
// by following displacement cycles (see rehashInPlace).
//
// # Iteration
//
// Iteration is in bin order, which depends on the hash function and is not
// stable across mutations or between equal tables. Outstanding iterators
// borrow the table; under the invariants build tag mutating a borrowed table
// panics.
//
// A Map is NOT goroutine-safe.
package probemap

import (
	"fmt"
	"iter"
	"math/bits"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	debug = false

	// A table with N bins holds at most N*growScaleQ/growScaleP elements,
	// holes included (a maximum load factor of 3/4).
	growScaleP = 4
	growScaleQ = 3

	// maxCapacity bounds the number of bins so that bin indexes fit the
	// uint32 domain of the tombstone bitmaps.
	maxCapacity = 1 << 30
	// maxElements is the most a table of maxCapacity bins can hold.
	maxElements = maxCapacity / growScaleP * growScaleQ
)

// borrowChecks enables the assertion that a table is not mutated while
// iterators are outstanding.
var borrowChecks = invariants

// ErrKeyNotFound is returned by Map.Lookup when the key is not present.
var ErrKeyNotFound = errors.New("probemap: key not found")

// InsertResult describes what an insert did to the table.
type InsertResult uint8

const (
	// Added means the key was not present and has been inserted.
	Added InsertResult = iota
	// Modified means the key was present and its value has been overwritten.
	Modified
	// Unmodified means the key was present with an equal value.
	Unmodified
)

func (r InsertResult) String() string {
	switch r {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Unmodified:
		return "unmodified"
	default:
		return fmt.Sprintf("InsertResult(%d)", uint8(r))
	}
}

// Bin holds a key and value.
type Bin[K comparable, V any] struct {
	key   K
	value V
}

// Map is an unordered map from keys to values with Put, Get, Delete, and All
// operations. Deleted entries leave tombstones that are reused by later
// inserts and dropped when the table is rehashed.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V comparable] struct {
	hash      func(key K) uint64
	allocator Allocator[K, V]
	logger    *zap.Logger
	// bins has a power of two length, or is empty.
	bins  []Bin[K, V]
	tombs tombstones[K]
	// nullKey marks empty bins. nullIsZero records whether it is the zero
	// value of K, in which case freshly allocated bins need no fill.
	nullKey    K
	nullIsZero bool
	// The number of occupied bins.
	used int
	// The number of hole bins.
	holes int
	// The number of outstanding iterators.
	borrows int
}

// New constructs a new Map with room for initialCapacity elements. If
// initialCapacity is 0 the map will start out with zero capacity and will
// grow on the first insert. The zero value for a Map is not usable.
func New[K comparable, V comparable](initialCapacity int, options ...Option[K, V]) *Map[K, V] {
	m := &Map[K, V]{}
	m.init(initialCapacity, options)
	return m
}

// Collect constructs a new Map holding the key/value pairs of seq. Later
// pairs overwrite earlier ones with the same key.
func Collect[K comparable, V comparable](seq iter.Seq2[K, V], options ...Option[K, V]) *Map[K, V] {
	m := New[K, V](0, options...)
	m.InsertMany(seq)
	return m
}

func (m *Map[K, V]) init(initialCapacity int, options []Option[K, V]) {
	m.hash = defaultHasher[K]()
	m.allocator = defaultAllocator[K, V]{}
	m.logger = zap.NewNop()
	if sentinel, ok := pointerSentinel[K](); ok {
		m.tombs = tombstones[K]{inBand: true, sentinel: sentinel}
	}

	for _, op := range options {
		op.apply(m)
	}

	var zero K
	m.nullIsZero = m.nullKey == zero
	if m.tombs.inBand && m.tombs.sentinel == m.nullKey {
		panic(errors.AssertionFailedf("probemap: hole key %v equals the null key", m.nullKey))
	}

	if initialCapacity > maxElements {
		panic(errors.AssertionFailedf("probemap: initial capacity %d exceeds the maximum of %d",
			initialCapacity, maxElements))
	}
	if initialCapacity > 0 {
		m.resize(capacityFor(initialCapacity))
	}
	m.checkInvariants()
}

// Close closes the map, releasing any memory back to its configured
// allocator. It is unnecessary to close a map using the default allocator. It
// is invalid to use a Map after it has been closed, though Close itself is
// idempotent.
func (m *Map[K, V]) Close() {
	m.checkMutable("Close")
	if len(m.bins) > 0 {
		m.allocator.FreeBins(m.bins)
	}
	m.bins = nil
	m.tombs.bitmap = nil
	m.used = 0
	m.holes = 0
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists. It is a programming error to insert
// the null key or the hole key.
func (m *Map[K, V]) Put(key K, value V) InsertResult {
	m.checkMutable("Put")
	if key == m.nullKey {
		panic(errors.AssertionFailedf("probemap: cannot insert the null key %v", key))
	}
	if m.tombs.inBand && key == m.tombs.sentinel {
		panic(errors.AssertionFailedf("probemap: cannot insert the hole key %v", key))
	}

	// Make room first so that the probe below runs against the final
	// storage.
	m.reserveFor(1)

	h := m.hash(key)
	n := len(m.bins)
	i, hole := probeFirstHole(n, h,
		func(i int) bool {
			b := &m.bins[i]
			return b.key == m.nullKey || (b.key == key && !m.tombs.isHole(i, b.key))
		},
		func(i int) bool {
			b := &m.bins[i]
			return b.key != m.nullKey && m.tombs.isHole(i, b.key)
		})
	if debug {
		m.logger.Debug("put", zap.Any("key", key), zap.Int("index", i), zap.Int("hole", hole))
	}

	if i < n && m.bins[i].key != m.nullKey {
		b := &m.bins[i]
		if b.value == value {
			return Unmodified
		}
		b.value = value
		m.checkInvariants()
		return Modified
	}

	switch {
	case hole < n:
		i = hole
		m.tombs.clear(i)
		m.holes--
	case i == n:
		panic(errors.AssertionFailedf("probemap: no empty bin or hole for %v\n%s", key, m.debugString()))
	}
	m.bins[i] = Bin[K, V]{key: key, value: value}
	m.used++
	m.checkInvariants()
	return Added
}

// InsertMany puts every key/value pair of seq into the map and returns the
// number of keys that were added.
func (m *Map[K, V]) InsertMany(seq iter.Seq2[K, V]) int {
	var added int
	for k, v := range seq {
		if m.Put(k, v) == Added {
			added++
		}
	}
	return added
}

// Get retrieves the value from the map for the specified key, return ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	if i := m.find(key); i < len(m.bins) {
		return m.bins[i].value, true
	}
	return value, false
}

// GetPtr returns a pointer to the value stored for key, or nil if the key is
// not present. Unlike an Iterator the pointer does not borrow the map, so
// nothing detects its misuse: it is invalidated by the next mutation of the
// map and must not be used after that.
func (m *Map[K, V]) GetPtr(key K) *V {
	if i := m.find(key); i < len(m.bins) {
		return &m.bins[i].value
	}
	return nil
}

// Lookup retrieves the value for the specified key, returning an error that
// wraps ErrKeyNotFound if the key is not present.
func (m *Map[K, V]) Lookup(key K) (V, error) {
	if i := m.find(key); i < len(m.bins) {
		return m.bins[i].value, nil
	}
	var zero V
	return zero, errors.Wrapf(ErrKeyNotFound, "key %v", key)
}

// Contains returns true if the key is present in the map.
func (m *Map[K, V]) Contains(key K) bool {
	return m.find(key) < len(m.bins)
}

// Delete deletes the entry corresponding to the specified key from the map,
// returning true if the key was present. The map never shrinks.
//
// The deleted value is zeroed. With bitmap tombstones the deleted key stays
// in its bin, and anything it references stays reachable, until the next
// rehash or Clear. In-band tombstones overwrite the key.
func (m *Map[K, V]) Delete(key K) bool {
	m.checkMutable("Delete")
	i := m.find(key)
	if i == len(m.bins) {
		return false
	}
	m.removeAt(i)
	if debug {
		m.logger.Debug("delete", zap.Any("key", key), zap.Int("index", i),
			zap.Int("used", m.used), zap.Int("holes", m.holes))
	}
	m.checkInvariants()
	return true
}

// Reserve makes room for extra more elements, growing the map if necessary.
func (m *Map[K, V]) Reserve(extra int) {
	m.checkMutable("Reserve")
	if extra <= 0 {
		return
	}
	if extra > maxElements-m.used {
		panic(errors.AssertionFailedf("probemap: cannot reserve %d more elements beyond %d, the maximum is %d",
			extra, m.used, maxElements))
	}
	if m.exceeds(m.used + extra) {
		m.grow(capacityFor(m.used + extra))
	}
}

// Clear deletes all entries from the map resulting in an empty map. The
// capacity of the map is retained.
func (m *Map[K, V]) Clear() {
	m.checkMutable("Clear")
	m.fillNull(m.bins)
	m.tombs.reset()
	m.used = 0
	m.holes = 0
	m.checkInvariants()
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.used
}

// Capacity returns the number of bins in the map.
func (m *Map[K, V]) Capacity() int {
	return len(m.bins)
}

// Clone returns a deep copy of the map backed by its own storage of the same
// capacity. Keys and values are copied by assignment.
func (m *Map[K, V]) Clone() *Map[K, V] {
	c := &Map[K, V]{}
	m.cloneInto(c)
	return c
}

func (m *Map[K, V]) cloneInto(c *Map[K, V]) {
	*c = Map[K, V]{
		hash:       m.hash,
		allocator:  m.allocator,
		logger:     m.logger,
		tombs:      m.tombs.clone(),
		nullKey:    m.nullKey,
		nullIsZero: m.nullIsZero,
		used:       m.used,
		holes:      m.holes,
	}
	// Bins are copied positionally, holes included, which keeps every probe
	// chain intact without rehashing.
	if len(m.bins) > 0 {
		c.bins = c.allocator.AllocBins(len(m.bins))
		copy(c.bins, m.bins)
	}
	c.checkInvariants()
}

// Equal returns true if both maps hold the same keys mapped to equal values.
func (m *Map[K, V]) Equal(other *Map[K, V]) bool {
	if m.used != other.used {
		return false
	}
	for i := range m.bins {
		if !m.occupied(m.bins, i) {
			continue
		}
		b := &m.bins[i]
		if v, ok := other.Get(b.key); !ok || v != b.value {
			return false
		}
	}
	return true
}

// occupied is the single source of truth for whether bins[i] holds a live
// element.
func (m *Map[K, V]) occupied(bins []Bin[K, V], i int) bool {
	k := bins[i].key
	return k != m.nullKey && !m.tombs.isHole(i, k)
}

// find returns the index of the bin holding key, or len(m.bins) if the key is
// not present.
func (m *Map[K, V]) find(key K) int {
	n := len(m.bins)
	if n == 0 {
		return n
	}
	i := probe(n, m.hash(key), func(i int) bool {
		b := &m.bins[i]
		return b.key == m.nullKey || (b.key == key && !m.tombs.isHole(i, b.key))
	})
	if i == n || m.bins[i].key == m.nullKey {
		return n
	}
	return i
}

// removeAt turns the occupied bin i into a hole. The value is zeroed so that
// the garbage collector can reclaim anything it references.
func (m *Map[K, V]) removeAt(i int) {
	b := &m.bins[i]
	var zero V
	b.value = zero
	m.tombs.mark(i, &b.key)
	m.used--
	m.holes++
}

func (m *Map[K, V]) checkMutable(op string) {
	if borrowChecks && m.borrows != 0 {
		panic(errors.AssertionFailedf("probemap: %s called with %d outstanding iterators", op, m.borrows))
	}
}

// capacityFor returns the number of bins needed to hold n elements.
func capacityFor(n int) int {
	if n <= 0 {
		return 0
	}
	need := (uint64(n)*growScaleP + growScaleQ - 1) / growScaleQ
	return 1 << bits.Len64(need-1)
}

// exceeds returns true if n elements do not fit the current bins under the
// load factor bound.
func (m *Map[K, V]) exceeds(n int) bool {
	return uint64(n)*growScaleP > uint64(len(m.bins))*growScaleQ
}

// reserveFor makes room for extra more elements before an insert. Growth is
// needed if the live elements alone would not fit. If they would but the
// tombstones push the table over the bound, the table is rehashed in place to
// drop the tombstones instead.
func (m *Map[K, V]) reserveFor(extra int) {
	switch {
	case m.exceeds(m.used + extra):
		m.grow(capacityFor(m.used + extra))
	case m.exceeds(m.used + m.holes + extra):
		if m.logger.Core().Enabled(zap.DebugLevel) {
			m.logger.Debug("purge-tombstones", zap.Int("capacity", len(m.bins)),
				zap.Int("used", m.used), zap.Int("holes", m.holes))
		}
		m.rehashInPlace(nil, len(m.bins))
	}
}

func (m *Map[K, V]) grow(newCapacity int) {
	if newCapacity > maxCapacity {
		panic(errors.AssertionFailedf("probemap: capacity %d exceeds the maximum of %d", newCapacity, maxCapacity))
	}
	if r, ok := m.allocator.(Reallocator[K, V]); ok && len(m.bins) > 0 {
		m.rehashInPlace(r, newCapacity)
		return
	}
	m.resize(newCapacity)
}

func (m *Map[K, V]) nullBin() Bin[K, V] {
	return Bin[K, V]{key: m.nullKey}
}

// fillNull resets every bin in v to the empty state.
func (m *Map[K, V]) fillNull(v []Bin[K, V]) {
	if m.nullIsZero {
		clear(v)
		return
	}
	null := m.nullBin()
	for i := range v {
		v[i] = null
	}
}

func (m *Map[K, V]) allocBins(n int) []Bin[K, V] {
	v := m.allocator.AllocBins(n)
	if !m.nullIsZero {
		m.fillNull(v)
	}
	return v
}

// resize resize the capacity of the table by allocating a bigger array and
// uncheckedPutting each live element of the table into the new array (we know
// that no insertion here will Put an already-present value), and discard the
// old backing array. The old array is untouched until the new one has been
// allocated.
func (m *Map[K, V]) resize(newCapacity int) {
	oldBins, oldTombs := m.bins, m.tombs
	m.bins = m.allocBins(newCapacity)
	m.tombs.bitmap = nil
	m.holes = 0

	if m.logger.Core().Enabled(zap.DebugLevel) {
		m.logger.Debug("resize", zap.Int("old-capacity", len(oldBins)),
			zap.Int("new-capacity", newCapacity), zap.Int("used", m.used))
	}

	for i := range oldBins {
		b := &oldBins[i]
		if b.key == m.nullKey || oldTombs.isHole(i, b.key) {
			continue
		}
		m.uncheckedPut(m.hash(b.key), b.key, b.value)
	}

	if len(oldBins) > 0 {
		m.allocator.FreeBins(oldBins)
	}

	m.checkInvariants()
}

// uncheckedPut inserts an entry known not to be in the table into a table
// known to have no holes.
func (m *Map[K, V]) uncheckedPut(h uint64, key K, value V) {
	n := len(m.bins)
	i := probe(n, h, func(i int) bool {
		return m.bins[i].key == m.nullKey
	})
	if i == n {
		panic(errors.AssertionFailedf("probemap: no empty bin for %v\n%s", key, m.debugString()))
	}
	m.bins[i] = Bin[K, V]{key: key, value: value}
}

// rehashInPlace rehashes the table into newCapacity bins without allocating
// a second table. If newCapacity exceeds the current capacity the bins are
// first extended with r. Every hole is dropped.
//
// Placement follows displacement cycles. A "done" bitmap records bins whose
// contents are final. Each live element that is not yet done is lifted out of
// its bin and placed at the first bin in its probe sequence that is not done.
// If that bin is empty the cycle ends. Otherwise the element there is lifted
// out in turn and the cycle continues with it. Every step marks one more bin
// done, so cycles terminate. Since every bin ahead of an element in its probe
// sequence was done, and hence occupied, when the element was placed, lookups
// reach it.
func (m *Map[K, V]) rehashInPlace(r Reallocator[K, V], newCapacity int) {
	oldCapacity := len(m.bins)
	if newCapacity > oldCapacity {
		m.bins = r.ReallocBins(m.bins, newCapacity)
		// The tail contents are unspecified.
		m.fillNull(m.bins[oldCapacity:])
	}

	// Drop the tombstones.
	if m.holes > 0 {
		for i := 0; i < oldCapacity; i++ {
			if b := &m.bins[i]; b.key != m.nullKey && m.tombs.isHole(i, b.key) {
				*b = m.nullBin()
			}
		}
		m.tombs.reset()
		m.holes = 0
	}

	done := roaring.New()
	notDone := func(j int) bool {
		return !done.Contains(uint32(j))
	}
	var swaps int
	for i := 0; i < newCapacity; i++ {
		if m.bins[i].key == m.nullKey || done.Contains(uint32(i)) {
			continue
		}
		cur := m.bins[i]
		m.bins[i] = m.nullBin()
		for {
			j := probe(newCapacity, m.hash(cur.key), notDone)
			if j == newCapacity {
				panic(errors.AssertionFailedf("probemap: rehash found no bin for %v\n%s", cur.key, m.debugString()))
			}
			done.Add(uint32(j))
			if m.bins[j].key == m.nullKey {
				m.bins[j] = cur
				break
			}
			cur, m.bins[j] = m.bins[j], cur
			swaps++
		}
	}

	if m.logger.Core().Enabled(zap.DebugLevel) {
		m.logger.Debug("rehash-in-place", zap.Int("old-capacity", oldCapacity),
			zap.Int("new-capacity", newCapacity), zap.Int("used", m.used), zap.Int("swaps", swaps))
	}

	m.checkInvariants()
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		n := len(m.bins)
		if n&(n-1) != 0 {
			panic(errors.AssertionFailedf("invariant failed: capacity %d is not a power of two", n))
		}

		// For every occupied bin, verify we can find the key. Count the
		// number of occupied and hole bins.
		var used, holes int
		for i := range m.bins {
			b := &m.bins[i]
			switch {
			case b.key == m.nullKey:
				if !m.tombs.inBand && m.tombs.isHole(i, b.key) {
					panic(errors.AssertionFailedf("invariant failed: bin(%d): empty bin marked as a hole\n%s",
						i, m.debugString()))
				}
			case m.tombs.isHole(i, b.key):
				holes++
			default:
				if j := m.find(b.key); j != i {
					panic(errors.AssertionFailedf("invariant failed: bin(%d): %v found at %d\n%s",
						i, b.key, j, m.debugString()))
				}
				used++
			}
		}

		if used != m.used {
			panic(errors.AssertionFailedf("invariant failed: found %d used bins, but used count is %d\n%s",
				used, m.used, m.debugString()))
		}
		if holes != m.holes {
			panic(errors.AssertionFailedf("invariant failed: found %d holes, but hole count is %d\n%s",
				holes, m.holes, m.debugString()))
		}
		if m.exceeds(m.used + m.holes) {
			panic(errors.AssertionFailedf("invariant failed: %d used and %d holes exceed capacity %d",
				m.used, m.holes, n))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  holes=%d\n", len(m.bins), m.used, m.holes)
	for i := range m.bins {
		b := &m.bins[i]
		switch {
		case b.key == m.nullKey:
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		case m.tombs.isHole(i, b.key):
			fmt.Fprintf(&buf, "  %4d: hole\n", i)
		default:
			fmt.Fprintf(&buf, "  %4d: %v [hash=%016x]\n", i, b.key, m.hash(b.key))
		}
	}
	return buf.String()
}
