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

// probestress runs randomized workloads against probemap tables and reports
// any disagreement with a builtin map.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/probemap/internal/stress"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:           "probestress",
	Short:         "Stress the probemap hash table",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the workloads of a TOML config",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		cfg, err := stress.LoadConfig(path)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("workers") {
			if cfg.Workers, err = cmd.Flags().GetInt("workers"); err != nil {
				return err
			}
		}

		logger, err := stress.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		metrics := stress.NewMetrics()
		results, err := stress.Run(ctx, cfg, logger, metrics)
		for _, r := range results {
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s ops=%-10d len=%-8d capacity=%-8d growths=%-3d elapsed=%s\n",
				r.Name, r.Ops, r.Len, r.Capacity, r.Growths, r.Elapsed)
		}
		if err != nil {
			logger.Error("stress run failed", zap.Error(err), zap.Any("metrics", metrics.Snapshot()))
			return errors.Wrap(err, "stress run failed")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("config", "probestress.toml", "path of the TOML config")
	runCmd.Flags().Int("workers", 0, "override the number of pool workers")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "probestress: %+v\n", err)
		os.Exit(1)
	}
}
