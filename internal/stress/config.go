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

// Package stress runs randomized workloads against probemap tables and
// cross-checks every table against a builtin map.
package stress

import (
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"
)

const (
	defaultOps         = 100000
	defaultKeySpace    = 1 << 16
	defaultVerifyEvery = 10000
)

// Hashers accepted by Workload.Hasher.
const (
	HasherMaphash    = "maphash"
	HasherFNV        = "fnv"
	HasherDegenerate = "degenerate"
)

// LogConfig configures the stress logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// Filename enables rotated file output. Empty means stderr.
	Filename   string `toml:"filename"`
	MaxSize    int    `toml:"max-size"`
	MaxDays    int    `toml:"max-days"`
	MaxBackups int    `toml:"max-backups"`
}

// Workload describes one randomized run against its own table.
type Workload struct {
	Name string `toml:"name"`
	Ops  int    `toml:"ops"`
	// Keys are drawn uniformly from [1, KeySpace].
	KeySpace        int64 `toml:"key-space"`
	InitialCapacity int   `toml:"initial-capacity"`

	// Relative operation weights. They are normalized by their sum.
	Insert float64 `toml:"insert"`
	Delete float64 `toml:"delete"`
	Lookup float64 `toml:"lookup"`

	Hasher           string `toml:"hasher"`
	InPlaceGrowth    bool   `toml:"in-place-growth"`
	BitmapTombstones bool   `toml:"bitmap-tombstones"`
	// VerifyEvery is the number of operations between full cross-checks. A
	// final cross-check always runs.
	VerifyEvery int   `toml:"verify-every"`
	Seed        int64 `toml:"seed"`
}

// Config is the stress tool configuration.
type Config struct {
	Workers   int        `toml:"workers"`
	Log       LogConfig  `toml:"log"`
	Workloads []Workload `toml:"workload"`
}

// LoadConfig reads, defaults and validates the TOML configuration at path.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "loading config %s", path)
	}
	return finishConfig(cfg, md)
}

// ParseConfig is LoadConfig for configuration text.
func ParseConfig(data string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	return finishConfig(cfg, md)
}

func finishConfig(cfg *Config, md toml.MetaData) (*Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Newf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults fills in every unset field.
func (c *Config) SetDefaults() {
	if c.Workers == 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	for i := range c.Workloads {
		w := &c.Workloads[i]
		if w.Name == "" {
			w.Name = fmt.Sprintf("workload-%d", i)
		}
		if w.Ops == 0 {
			w.Ops = defaultOps
		}
		if w.KeySpace == 0 {
			w.KeySpace = defaultKeySpace
		}
		if w.Insert == 0 && w.Delete == 0 && w.Lookup == 0 {
			w.Insert, w.Delete, w.Lookup = 0.5, 0.3, 0.2
		}
		if w.Hasher == "" {
			w.Hasher = HasherMaphash
		}
		if w.VerifyEvery == 0 {
			w.VerifyEvery = defaultVerifyEvery
		}
		if w.Seed == 0 {
			w.Seed = int64(i + 1)
		}
	}
}

// Validate checks the configuration for values the runner cannot use.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.Newf("workers must be positive, got %d", c.Workers)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(err, "log level")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Newf("log format must be console or json, got %q", c.Log.Format)
	}
	if len(c.Workloads) == 0 {
		return errors.New("no workloads configured")
	}

	names := make(map[string]struct{}, len(c.Workloads))
	for i := range c.Workloads {
		w := &c.Workloads[i]
		if _, ok := names[w.Name]; ok {
			return errors.Newf("duplicate workload name %q", w.Name)
		}
		names[w.Name] = struct{}{}
		if err := w.validate(); err != nil {
			return errors.Wrapf(err, "workload %q", w.Name)
		}
	}
	return nil
}

func (w *Workload) validate() error {
	switch {
	case w.Ops <= 0:
		return errors.Newf("ops must be positive, got %d", w.Ops)
	case w.KeySpace <= 0 || w.KeySpace == math.MaxInt64:
		return errors.Newf("key-space must be in [1, %d), got %d", int64(math.MaxInt64), w.KeySpace)
	case w.InitialCapacity < 0:
		return errors.Newf("initial-capacity must not be negative, got %d", w.InitialCapacity)
	case w.Insert < 0 || w.Delete < 0 || w.Lookup < 0:
		return errors.New("operation weights must not be negative")
	case w.VerifyEvery < 0:
		return errors.Newf("verify-every must not be negative, got %d", w.VerifyEvery)
	}
	switch w.Hasher {
	case HasherMaphash, HasherFNV, HasherDegenerate:
	default:
		return errors.Newf("unknown hasher %q", w.Hasher)
	}
	return nil
}
