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

import (
	"slices"

	"go.uber.org/zap"
)

// Option provide an interface to do work on Map while it is being created.
type Option[K comparable, V comparable] interface {
	apply(m *Map[K, V])
}

type hashOption[K comparable, V comparable] struct {
	hash func(key K) uint64
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V].
// The function must be deterministic. By default a Map uses hash/maphash with
// a per-map seed.
func WithHash[K comparable, V comparable](hash func(key K) uint64) Option[K, V] {
	return hashOption[K, V]{hash}
}

// Allocator specifies an interface for allocating and releasing the bins used
// by a Map. The default allocator utilizes Go's builtin make() and allows the
// GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that bins be
// freed then Map.Close must be called in order to ensure FreeBins is called.
type Allocator[K comparable, V any] interface {
	// AllocBins should return a slice equivalent to make([]Bin[K,V], n).
	AllocBins(n int) []Bin[K, V]

	// FreeBins can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocBins or
	// ReallocBins.
	FreeBins(v []Bin[K, V])
}

// Reallocator is an Allocator that can extend an existing allocation. A Map
// whose allocator implements Reallocator grows in place: the bins are
// extended and then rehashed without a second table.
type Reallocator[K comparable, V any] interface {
	Allocator[K, V]

	// ReallocBins returns a slice of length n whose first len(v) elements are
	// the elements of v. The contents of the remaining elements are
	// unspecified. Ownership of v passes to ReallocBins.
	ReallocBins(v []Bin[K, V], n int) []Bin[K, V]
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) AllocBins(n int) []Bin[K, V] {
	return make([]Bin[K, V], n)
}

func (defaultAllocator[K, V]) FreeBins(v []Bin[K, V]) {
}

// ReallocatingAllocator is a Reallocator backed by Go slices. Growth reuses
// the existing backing array when its capacity allows.
type ReallocatingAllocator[K comparable, V any] struct{}

func (ReallocatingAllocator[K, V]) AllocBins(n int) []Bin[K, V] {
	return make([]Bin[K, V], n)
}

func (ReallocatingAllocator[K, V]) FreeBins(v []Bin[K, V]) {
}

func (ReallocatingAllocator[K, V]) ReallocBins(v []Bin[K, V], n int) []Bin[K, V] {
	if n <= len(v) {
		return v[:n]
	}
	return slices.Grow(v, n-len(v))[:n]
}

type allocatorOption[K comparable, V comparable] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Map[K,V].
func WithAllocator[K comparable, V comparable](allocator Allocator[K, V]) Option[K, V] {
	return allocatorOption[K, V]{allocator}
}

type nullKeyOption[K comparable, V comparable] struct {
	key K
}

func (op nullKeyOption[K, V]) apply(m *Map[K, V]) {
	m.nullKey = op.key
}

// WithNullKey designates the key value that marks an empty bin. It defaults
// to the zero value of K. The null key can never be inserted. Choosing a
// non-zero null key costs an explicit fill of every allocation.
func WithNullKey[K comparable, V comparable](key K) Option[K, V] {
	return nullKeyOption[K, V]{key}
}

type holeKeyOption[K comparable, V comparable] struct {
	key K
}

func (op holeKeyOption[K, V]) apply(m *Map[K, V]) {
	m.tombs = tombstones[K]{inBand: true, sentinel: op.key}
}

// WithHoleKey designates a key value that tags deleted bins in-band, instead
// of tracking them in a side bitmap. Like the null key, the hole key can
// never be inserted. Pointer keys get a private sentinel automatically.
func WithHoleKey[K comparable, V comparable](key K) Option[K, V] {
	return holeKeyOption[K, V]{key}
}

type bitmapTombstonesOption[K comparable, V comparable] struct{}

func (bitmapTombstonesOption[K, V]) apply(m *Map[K, V]) {
	m.tombs = tombstones[K]{}
}

// WithBitmapTombstones forces deleted bins to be tracked in a side bitmap
// even when K could host an in-band sentinel.
func WithBitmapTombstones[K comparable, V comparable]() Option[K, V] {
	return bitmapTombstonesOption[K, V]{}
}

type loggerOption[K comparable, V comparable] struct {
	logger *zap.Logger
}

func (op loggerOption[K, V]) apply(m *Map[K, V]) {
	m.logger = op.logger
}

// WithLogger is an option to specify the logger receiving growth and rehash
// events at debug level.
func WithLogger[K comparable, V comparable](logger *zap.Logger) Option[K, V] {
	return loggerOption[K, V]{logger}
}
