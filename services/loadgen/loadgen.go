// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loadgen drives a consistent.Runtime with concurrent counter
// increments and checks the outcome.
//
// Every worker duplicates every counter, then runs transactions that
// refresh and increment a random subset of counters. Because a batch only
// commits when none of its counters moved since the refresh, each
// committed batch adds exactly one to each of its counters. After a flush
// the sum of the counters must therefore equal committed batches times
// the subset size; Report.Consistent records whether it did.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/consistent/pkg/consistent"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrInvalidConfig is returned when Config fails validation.
var ErrInvalidConfig = errors.New("loadgen: invalid config")

var validate = validator.New()

// Config describes one load-generation pass.
type Config struct {
	// Workers is the number of concurrent goroutines, each with its own
	// replica of every counter.
	Workers int `yaml:"workers" json:"workers" validate:"gte=1,lte=1024"`

	// Variables is the number of shared counters.
	Variables int `yaml:"variables" json:"variables" validate:"gte=1,lte=100000"`

	// Transactions is the number of scopes each worker runs.
	Transactions int `yaml:"transactions" json:"transactions" validate:"gte=1"`

	// Span is how many distinct counters each transaction increments.
	Span int `yaml:"span" json:"span" validate:"gte=1,ltefield=Variables"`

	// Rate caps transactions per second across all workers. Zero means
	// unlimited.
	Rate float64 `yaml:"rate" json:"rate" validate:"gte=0"`

	// Burst is the limiter's bucket size. Defaults to Workers.
	Burst int `yaml:"burst" json:"burst" validate:"gte=0"`

	// Seed makes counter selection reproducible. Zero picks a random seed.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns a small, unthrottled workload.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		Variables:    8,
		Transactions: 250,
		Span:         2,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Report summarises one pass.
type Report struct {
	RunID        string        `json:"run_id"`
	Workers      int           `json:"workers"`
	Transactions int64         `json:"transactions"`
	Published    int64         `json:"published"`
	Committed    int64         `json:"committed"`
	Rejected     int64         `json:"rejected"`
	Counters     []int         `json:"counters"`
	Sum          int64         `json:"sum"`
	Expected     int64         `json:"expected"`
	Consistent   bool          `json:"consistent"`
	Elapsed      time.Duration `json:"elapsed"`
}

// CommitRatio is committed over reconciled batches, or 0 if none.
func (r Report) CommitRatio() float64 {
	if total := r.Committed + r.Rejected; total > 0 {
		return float64(r.Committed) / float64(total)
	}
	return 0
}

// Run executes one pass against rt.
//
// Description:
//
//	Creates cfg.Variables fresh counters, starts cfg.Workers workers that
//	each run cfg.Transactions scopes, flushes the runtime and checks the
//	counter sum. Counts in the Report are deltas over this pass, so rt
//	may be reused for several passes as long as nothing else publishes
//	batches meanwhile.
//
// Inputs:
//   - ctx: Cancels the pass. Workers stop at their next transaction.
//   - rt: The runtime, from inside consistent.Run.
//   - cfg: Workload. Must pass Validate.
//
// Outputs:
//   - Report: Outcome of the pass.
//   - error: ErrInvalidConfig, ctx.Err(), or a Transaction/Flush error.
//
// Thread Safety: Safe for concurrent use, but concurrent passes on one
// runtime make each Report's counts include the other's batches.
func Run(ctx context.Context, rt *consistent.Runtime, cfg Config) (Report, error) {
	if rt == nil {
		return Report{}, consistent.ErrNilRuntime
	}
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = cfg.Workers
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	limiter := rate.NewLimiter(limit, burst)

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	report := Report{RunID: uuid.NewString(), Workers: cfg.Workers}
	logger := slog.Default().With(
		slog.String("component", "loadgen"),
		slog.String("run_id", report.RunID),
	)

	counters := make([]*consistent.Var[int], cfg.Variables)
	for i := range counters {
		counters[i] = consistent.NewVar(rt, 0)
	}

	before := rt.Stats()
	start := time.Now()
	var issued atomic.Int64

	replicas := replicate(counters, cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for w, handles := range replicas {
		rng := rand.New(rand.NewPCG(seed, uint64(w)))

		g.Go(func() error {
			for n := 0; n < cfg.Transactions; n++ {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				picks := rng.Perm(len(handles))[:cfg.Span]
				if err := increment(gctx, rt, handles, picks); err != nil {
					return err
				}
				issued.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("workload: %w", err)
	}
	if err := rt.Flush(ctx); err != nil {
		return report, fmt.Errorf("flush: %w", err)
	}

	after := rt.Stats()
	report.Transactions = issued.Load()
	report.Published = after.Published - before.Published
	report.Committed = after.Committed - before.Committed
	report.Rejected = after.Rejected - before.Rejected
	report.Elapsed = time.Since(start)

	report.Counters = make([]int, len(counters))
	for i, c := range counters {
		report.Counters[i] = c.Read()
		report.Sum += int64(report.Counters[i])
	}
	report.Expected = report.Committed * int64(cfg.Span)
	report.Consistent = report.Sum == report.Expected

	level := slog.LevelInfo
	if !report.Consistent {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "load pass finished",
		slog.Int64("transactions", report.Transactions),
		slog.Int64("committed", report.Committed),
		slog.Int64("rejected", report.Rejected),
		slog.Int64("sum", report.Sum),
		slog.Int64("expected", report.Expected),
		slog.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// replicate gives each worker its own replica of every counter. It must
// finish before any worker commits: a replica duplicated later starts at
// generation 0, and its first commit would set every replica back to
// generation 1, letting a refreshed handle pass its check on a stale base.
func replicate(counters []*consistent.Var[int], workers int) [][]*consistent.Var[int] {
	out := make([][]*consistent.Var[int], workers)
	for w := range out {
		out[w] = make([]*consistent.Var[int], len(counters))
		for i, c := range counters {
			out[w][i] = c.Duplicate()
		}
	}
	return out
}

// increment runs one transaction adding 1 to each picked counter, each
// re-based on the last committed value first.
func increment(ctx context.Context, rt *consistent.Runtime, handles []*consistent.Var[int], picks []int) error {
	_, err := consistent.Transaction(ctx, rt, func(s *consistent.Scope) (struct{}, error) {
		for _, i := range picks {
			h := handles[i]
			h.Refresh()
			h.Modify(s, func(v int) int { return v + 1 })
		}
		return struct{}{}, nil
	})
	return err
}
