// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/consistent/pkg/consistent"
	"github.com/AleutianAI/consistent/pkg/ux"
	"github.com/AleutianAI/consistent/services/loadgen"
	"github.com/spf13/cobra"
)

// errInconsistent is returned when a pass's counters disagree with its
// committed batches.
var errInconsistent = errors.New("counter sum does not match committed batches")

type benchFlags struct {
	workers      int
	variables    int
	transactions int
	span         int
	rate         float64
	seed         uint64
	timeout      time.Duration
	jsonOut      bool
}

func newBenchCmd(a *app) *cobra.Command {
	f := &benchFlags{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run one load pass and print the outcome",
		Long: `bench starts a runtime, runs the configured workload once, flushes
every pending batch and prints committed/rejected counts. It fails if
the final counters disagree with the committed batches.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, a, f)
		},
	}

	fl := cmd.Flags()
	fl.IntVarP(&f.workers, "workers", "w", 0, "concurrent workers (overrides workload.workers)")
	fl.IntVar(&f.variables, "variables", 0, "shared counters (overrides workload.variables)")
	fl.IntVarP(&f.transactions, "transactions", "n", 0, "transactions per worker (overrides workload.transactions)")
	fl.IntVar(&f.span, "span", 0, "counters per transaction (overrides workload.span)")
	fl.Float64Var(&f.rate, "rate", 0, "transactions per second, 0 for unlimited (overrides workload.rate)")
	fl.Uint64Var(&f.seed, "seed", 0, "counter selection seed (overrides workload.seed)")
	fl.DurationVar(&f.timeout, "timeout", 5*time.Minute, "abort the pass after this long")
	fl.BoolVar(&f.jsonOut, "json", false, "print the report as JSON")
	return cmd
}

func (f *benchFlags) apply(cmd *cobra.Command, cfg *loadgen.Config) {
	fl := cmd.Flags()
	if fl.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fl.Changed("variables") {
		cfg.Variables = f.variables
	}
	if fl.Changed("transactions") {
		cfg.Transactions = f.transactions
	}
	if fl.Changed("span") {
		cfg.Span = f.span
	}
	if fl.Changed("rate") {
		cfg.Rate = f.rate
	}
	if fl.Changed("seed") {
		cfg.Seed = f.seed
	}
}

func runBench(cmd *cobra.Command, a *app, f *benchFlags) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()

	workload := a.cfg.Workload
	f.apply(cmd, &workload)
	if err := workload.Validate(); err != nil {
		return err
	}

	stopTelemetry, err := a.startTelemetry(ctx)
	if err != nil {
		return err
	}
	defer stopTelemetry()

	j, err := a.openJournal()
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
	}

	report, err := consistent.Run(ctx, func(ctx context.Context, rt *consistent.Runtime) (loadgen.Report, error) {
		return loadgen.Run(ctx, rt, workload)
	}, a.runtimeOptions(j)...)
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}

	if f.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(ux.NewPrinter(cmd.OutOrStdout()), report)
	}

	if !report.Consistent {
		return errInconsistent
	}
	return nil
}

func printReport(p *ux.Printer, r loadgen.Report) {
	tps := 0.0
	if secs := r.Elapsed.Seconds(); secs > 0 {
		tps = float64(r.Transactions) / secs
	}
	p.Summary("consistent bench", []ux.Field{
		{Label: "run", Value: r.RunID},
		{Label: "workers", Value: strconv.Itoa(r.Workers)},
		{Label: "transactions", Value: strconv.FormatInt(r.Transactions, 10)},
		{Label: "committed", Value: strconv.FormatInt(r.Committed, 10)},
		{Label: "rejected", Value: strconv.FormatInt(r.Rejected, 10)},
		{Label: "commit ratio", Value: p.Bar(r.CommitRatio(), 20)},
		{Label: "counter sum", Value: fmt.Sprintf("%d (expected %d)", r.Sum, r.Expected)},
		{Label: "elapsed", Value: r.Elapsed.Round(time.Millisecond).String()},
		{Label: "throughput", Value: fmt.Sprintf("%.0f tx/s", tps)},
	})
	if r.Consistent {
		p.Status(ux.IconSuccess, "counters match committed batches")
	} else {
		p.Status(ux.IconError, errInconsistent.Error())
	}
}
