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
	"reflect"

	"github.com/RoaringBitmap/roaring"
)

// tombstones tracks which bins that look occupied are holes, i.e. held an
// element that has since been deleted. A hole must stay distinguishable from
// an empty bin so that probe sequences passing through it keep going.
//
// There are two strategies. When the key type has room for a value that is
// neither the null key nor any valid user key, a hole is tagged in-band by
// overwriting its key with that sentinel. Otherwise a side bitmap records the
// hole indexes and the hole keeps its stale key.
type tombstones[K comparable] struct {
	inBand   bool
	sentinel K
	// bitmap is nil until the first deletion. Only used when !inBand.
	bitmap *roaring.Bitmap
}

func (t *tombstones[K]) isHole(i int, key K) bool {
	if t.inBand {
		return key == t.sentinel
	}
	return t.bitmap != nil && t.bitmap.Contains(uint32(i))
}

// mark turns bin i, whose key is at key, into a hole.
func (t *tombstones[K]) mark(i int, key *K) {
	if t.inBand {
		*key = t.sentinel
		return
	}
	if t.bitmap == nil {
		t.bitmap = roaring.New()
	}
	t.bitmap.Add(uint32(i))
}

// clear forgets that bin i is a hole. The in-band strategy needs nothing here
// as the caller overwrites the sentinel key.
func (t *tombstones[K]) clear(i int) {
	if !t.inBand && t.bitmap != nil {
		t.bitmap.Remove(uint32(i))
	}
}

func (t *tombstones[K]) reset() {
	if t.bitmap != nil {
		t.bitmap.Clear()
	}
}

func (t *tombstones[K]) clone() tombstones[K] {
	c := *t
	if t.bitmap != nil {
		c.bitmap = t.bitmap.Clone()
	}
	return c
}

// pointerSentinel returns an in-band hole sentinel if K is a pointer type. The
// sentinel is a fresh allocation that is never handed out, so no user pointer
// can equal it. Pointers to zero-sized types are excluded as Go may give all
// such allocations the same address.
func pointerSentinel[K comparable]() (K, bool) {
	var zero K
	t := reflect.TypeFor[K]()
	if t.Kind() != reflect.Pointer || t.Elem().Size() == 0 {
		return zero, false
	}
	return reflect.New(t.Elem()).Convert(t).Interface().(K), true
}
