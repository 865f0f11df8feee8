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
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/AleutianAI/consistent/pkg/config"
	"github.com/AleutianAI/consistent/pkg/consistent"
	"github.com/AleutianAI/consistent/pkg/logging"
	"github.com/AleutianAI/consistent/pkg/telemetry"
	"github.com/AleutianAI/consistent/services/loadgen"
	"github.com/AleutianAI/consistent/services/monitor"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveFlags struct {
	addr     string
	duration time.Duration
	pause    time.Duration
	passes   int
}

func newServeCmd(a *app) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workload continuously behind the HTTP monitor",
		Long: `serve keeps one runtime alive, runs load passes against it back to
back and exposes /healthz, /v1/stats, /v1/journal and /metrics. Edits
to the config file change the log level and the workload of the next
pass without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, a, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "monitor listen address (overrides monitor.addr)")
	fl.DurationVar(&f.duration, "duration", 0, "stop after this long, 0 to run until interrupted")
	fl.DurationVar(&f.pause, "pause", time.Second, "pause between load passes")
	fl.IntVar(&f.passes, "passes", 0, "stop load after this many passes, 0 for no limit")
	return cmd
}

func runServe(cmd *cobra.Command, a *app, f *serveFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if f.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	addr := a.cfg.Monitor.Addr
	if f.addr != "" {
		addr = f.addr
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
	var reader monitor.JournalReader
	if j != nil {
		defer j.Close()
		reader = j
	}

	var workload atomic.Pointer[loadgen.Config]
	w := a.cfg.Workload
	workload.Store(&w)

	_, err = consistent.Run(ctx, func(ctx context.Context, rt *consistent.Runtime) (struct{}, error) {
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return monitor.Serve(gctx, addr, monitor.NewRouter(rt, reader, telemetry.MetricsHandler()))
		})
		g.Go(func() error {
			return loadLoop(gctx, rt, &workload, f)
		})
		if a.configPath != "" {
			g.Go(func() error {
				return config.Watch(gctx, a.configPath, func(next *config.Config) {
					a.reload(next, &workload)
				})
			})
		}
		return struct{}{}, g.Wait()
	}, a.runtimeOptions(j)...)
	return err
}

// loadLoop runs passes until ctx ends or f.passes is reached. A pass cut
// short by ctx is not an error.
func loadLoop(ctx context.Context, rt *consistent.Runtime, workload *atomic.Pointer[loadgen.Config], f *serveFlags) error {
	for pass := 1; f.passes == 0 || pass <= f.passes; pass++ {
		report, err := loadgen.Run(ctx, rt, *workload.Load())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		slog.Info("load pass complete",
			slog.Int("pass", pass),
			slog.Int64("committed", report.Committed),
			slog.Int64("rejected", report.Rejected),
			slog.Duration("elapsed", report.Elapsed),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.pause):
		}
	}
	<-ctx.Done()
	return nil
}

// reload applies the parts of a new config that can change at runtime.
func (a *app) reload(next *config.Config, workload *atomic.Pointer[loadgen.Config]) {
	if level, err := logging.ParseLevel(next.Logging.Level); err == nil {
		a.logger.SetLevel(level)
	}
	if err := next.Workload.Validate(); err != nil {
		slog.Warn("ignoring reloaded workload", slog.String("error", err.Error()))
		return
	}
	w := next.Workload
	workload.Store(&w)
}
