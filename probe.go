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

import "fmt"

// probeSeq maintains the state for a probe sequence over individual bins. The
// sequence is a triangular progression of the form
//
//	p(i) := (i^2 + i)/2 + hash (mod mask+1)
//
// which visits hash, hash+1, hash+3, hash+6, hash+10, ... Since (i^2+i)/2 is a
// bijection in Z/(2^m), the first mask+1 offsets of the sequence visit every
// bin exactly once when the number of bins is a power of two. See
// https://en.wikipedia.org/wiki/Quadratic_probing.
type probeSeq struct {
	mask   uint64
	offset uint64
	index  uint64
}

func makeProbeSeq(hash, mask uint64) probeSeq {
	return probeSeq{
		mask:   mask,
		offset: hash & mask,
		index:  0,
	}
}

func (s probeSeq) next() probeSeq {
	s.index++
	s.offset = (s.offset + s.index) & s.mask
	return s
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d index=%d", s.mask, s.offset, s.index)
}

// probe walks the probe sequence starting at hash over n bins, where n is a
// power of two, and returns the first index for which hit returns true. If all
// n bins are visited without a hit, probe returns n. An empty table (n == 0)
// misses immediately.
func probe(n int, hash uint64, hit func(i int) bool) int {
	if n == 0 {
		return 0
	}
	seq := makeProbeSeq(hash, uint64(n-1))
	for k := 0; k < n; k, seq = k+1, seq.next() {
		if i := int(seq.offset); hit(i) {
			return i
		}
	}
	return n
}

// probeFirstHole is like probe, but it also returns the first index visited
// before the walk terminated for which isHole returns true, or n if there was
// none. Termination is governed by hit alone.
func probeFirstHole(n int, hash uint64, hit, isHole func(i int) bool) (index, hole int) {
	hole = n
	if n == 0 {
		return 0, hole
	}
	seq := makeProbeSeq(hash, uint64(n-1))
	for k := 0; k < n; k, seq = k+1, seq.next() {
		i := int(seq.offset)
		if hit(i) {
			return i, hole
		}
		if hole == n && isHole(i) {
			hole = i
		}
	}
	return n, hole
}
