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

package stress

import (
	"context"
	"maps"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/probemap"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// checkContextEvery is the number of operations between context checks.
const checkContextEvery = 1024

// holeKey tags deleted bins in-band. Workload keys are always positive.
const holeKey = -1

// Result summarizes one completed workload.
type Result struct {
	Name     string
	Ops      int
	Len      int
	Capacity int
	Growths  int
	Elapsed  time.Duration
}

// Run executes every workload of cfg on a pool of cfg.Workers goroutines.
// Each workload owns its table, so every table has a single writer. Run
// returns the result of every workload in configuration order, or the first
// error encountered. A workload stops early if ctx is done.
func Run(ctx context.Context, cfg *Config, logger *zap.Logger, metrics *Metrics) ([]Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	// A panicking task never reaches its own wg.Done; the panic handler
	// calls it instead once the panic has been recorded.
	var wg sync.WaitGroup
	var mu sync.Mutex
	var panicErr error
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(v interface{}) {
		err, ok := v.(error)
		if !ok {
			err = errors.Newf("%v", v)
		}
		logger.Error("workload panicked", zap.Error(err))
		mu.Lock()
		if panicErr == nil {
			panicErr = errors.Wrap(err, "workload panicked")
		}
		mu.Unlock()
		wg.Done()
	}))
	if err != nil {
		return nil, errors.Wrap(err, "creating worker pool")
	}
	defer func() {
		if err := pool.ReleaseTimeout(5 * time.Second); err != nil {
			logger.Warn("releasing worker pool", zap.Error(err))
		}
	}()

	results := make([]Result, len(cfg.Workloads))
	errs := make([]error, len(cfg.Workloads))
	for i := range cfg.Workloads {
		wg.Add(1)
		if err := pool.Submit(func() {
			results[i], errs[i] = runWorkload(ctx, &cfg.Workloads[i], logger, metrics)
			wg.Done()
		}); err != nil {
			wg.Done()
			errs[i] = errors.Wrapf(err, "submitting workload %q", cfg.Workloads[i].Name)
		}
	}
	wg.Wait()

	if panicErr != nil {
		return results, panicErr
	}
	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (w *Workload) options(logger *zap.Logger) []probemap.Option[int64, int64] {
	options := []probemap.Option[int64, int64]{probemap.WithLogger[int64, int64](logger)}
	switch w.Hasher {
	case HasherFNV:
		options = append(options, probemap.WithHash[int64, int64](probemap.FNV64[int64]))
	case HasherDegenerate:
		// Sixteen distinct hashes pile every key onto a few long probe
		// chains.
		options = append(options, probemap.WithHash[int64, int64](func(key int64) uint64 {
			return uint64(key) & 0xf
		}))
	}
	if w.InPlaceGrowth {
		options = append(options, probemap.WithAllocator[int64, int64](probemap.ReallocatingAllocator[int64, int64]{}))
	}
	if !w.BitmapTombstones {
		options = append(options, probemap.WithHoleKey[int64, int64](holeKey))
	}
	return options
}

func runWorkload(
	ctx context.Context, w *Workload, logger *zap.Logger, metrics *Metrics,
) (Result, error) {
	logger = logger.With(zap.String("workload", w.Name))
	res := Result{Name: w.Name}
	start := time.Now()

	m := probemap.New[int64, int64](w.InitialCapacity, w.options(logger)...)
	defer m.Close()
	e := make(map[int64]int64)

	rng := rand.New(rand.NewSource(w.Seed))
	total := w.Insert + w.Delete + w.Lookup
	inserts := metrics.ops.WithLabelValues(w.Name, "insert")
	deletes := metrics.ops.WithLabelValues(w.Name, "delete")
	lookups := metrics.ops.WithLabelValues(w.Name, "lookup")
	growths := metrics.growths.WithLabelValues(w.Name)
	mismatches := metrics.mismatches.WithLabelValues(w.Name)

	mismatch := func(err error) (Result, error) {
		mismatches.Inc()
		res.Elapsed = time.Since(start)
		return res, errors.Wrapf(err, "workload %q: op %d", w.Name, res.Ops)
	}

	capacity := m.Capacity()
	logger.Info("starting", zap.Int("ops", w.Ops), zap.Int64("key-space", w.KeySpace),
		zap.String("hasher", w.Hasher), zap.Bool("in-place-growth", w.InPlaceGrowth),
		zap.Bool("bitmap-tombstones", w.BitmapTombstones))

	for res.Ops < w.Ops {
		if res.Ops%checkContextEvery == 0 {
			if err := ctx.Err(); err != nil {
				res.Elapsed = time.Since(start)
				return res, errors.Wrapf(err, "workload %q", w.Name)
			}
		}

		k := 1 + rng.Int63n(w.KeySpace)
		switch r := rng.Float64() * total; {
		case r < w.Insert:
			v := rng.Int63()
			old, ok := e[k]
			want := probemap.Added
			switch {
			case ok && old == v:
				want = probemap.Unmodified
			case ok:
				want = probemap.Modified
			}
			if got := m.Put(k, v); got != want {
				return mismatch(errors.Newf("put %d: got %s, expected %s", k, got, want))
			}
			e[k] = v
			inserts.Inc()

		case r < w.Insert+w.Delete:
			_, ok := e[k]
			if got := m.Delete(k); got != ok {
				return mismatch(errors.Newf("delete %d: got %t, expected %t", k, got, ok))
			}
			delete(e, k)
			deletes.Inc()

		default:
			ev, eok := e[k]
			if v, ok := m.Get(k); ok != eok || v != ev {
				return mismatch(errors.Newf("get %d: got (%d, %t), expected (%d, %t)", k, v, ok, ev, eok))
			}
			lookups.Inc()
		}
		res.Ops++

		if c := m.Capacity(); c != capacity {
			logger.Debug("capacity changed", zap.Int("old", capacity), zap.Int("new", c), zap.Int("len", m.Len()))
			capacity = c
			res.Growths++
			growths.Inc()
		}

		if w.VerifyEvery > 0 && res.Ops%w.VerifyEvery == 0 {
			if err := verify(m, e); err != nil {
				return mismatch(err)
			}
		}
	}
	if err := verify(m, e); err != nil {
		return mismatch(err)
	}

	res.Len = m.Len()
	res.Capacity = m.Capacity()
	res.Elapsed = time.Since(start)
	logger.Info("finished", zap.Int("len", res.Len), zap.Int("capacity", res.Capacity),
		zap.Int("growths", res.Growths), zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// verify cross-checks m against the reference map e.
func verify(m *probemap.Map[int64, int64], e map[int64]int64) error {
	if m.Len() != len(e) {
		return errors.Newf("length %d, expected %d", m.Len(), len(e))
	}
	for k, v := range m.All {
		if ev, ok := e[k]; !ok || ev != v {
			return errors.Newf("entry %d=%d, expected (%d, %t)", k, v, ev, ok)
		}
	}
	ref := probemap.Collect(maps.All(e))
	defer ref.Close()
	if !m.Equal(ref) {
		return errors.New("table differs from the reference map")
	}
	return nil
}
