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
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts stress activity in a private registry, so that several runs
// in one process do not collide.
type Metrics struct {
	registry   *prometheus.Registry
	ops        *prometheus.CounterVec
	growths    *prometheus.CounterVec
	mismatches *prometheus.CounterVec
}

// NewMetrics registers the stress counters in a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "probemap",
				Subsystem: "stress",
				Name:      "ops_total",
				Help:      "Total number of table operations by workload and kind.",
			}, []string{"workload", "op"}),
		growths: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "probemap",
				Subsystem: "stress",
				Name:      "growths_total",
				Help:      "Total number of capacity changes by workload.",
			}, []string{"workload"}),
		mismatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "probemap",
				Subsystem: "stress",
				Name:      "mismatches_total",
				Help:      "Total number of disagreements with the reference map by workload.",
			}, []string{"workload"}),
	}
	m.registry.MustRegister(m.ops, m.growths, m.mismatches)
	return m
}

// Registry returns the registry holding the counters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Snapshot returns the current counter values keyed by
// name{label=value,...}.
func (m *Metrics) Snapshot() map[string]float64 {
	r := make(map[string]float64)
	// Gather returns whatever it could collect alongside any error.
	families, _ := m.registry.Gather()
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			var buf strings.Builder
			buf.WriteString(mf.GetName())
			buf.WriteByte('{')
			for i, l := range metric.GetLabel() {
				if i > 0 {
					buf.WriteByte(',')
				}
				buf.WriteString(l.GetName())
				buf.WriteByte('=')
				buf.WriteString(l.GetValue())
			}
			buf.WriteByte('}')
			r[buf.String()] = metric.GetCounter().GetValue()
		}
	}
	return r
}
