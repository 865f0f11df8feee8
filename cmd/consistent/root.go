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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/consistent/pkg/config"
	"github.com/AleutianAI/consistent/pkg/consistent"
	"github.com/AleutianAI/consistent/pkg/journal"
	"github.com/AleutianAI/consistent/pkg/logging"
	"github.com/AleutianAI/consistent/pkg/telemetry"
	"github.com/spf13/cobra"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "consistent",
		Short: "Drive and inspect a deferred-reconciliation runtime",
		Long: `consistent runs concurrent counter workloads against replicated
variables whose writes are reconciled in batches, and reports how many
batches committed and how many were rejected as stale.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newBenchCmd(a),
		newServeCmd(a),
		newJournalCmd(a),
	)
	return root
}

// setup loads the config and installs the process logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	lc, err := cfg.LoggingConfig()
	if err != nil {
		return err
	}
	lc.Output = cmd.ErrOrStderr()

	a.cfg = cfg
	a.logger = logging.New(lc)
	slog.SetDefault(a.logger.Slog())
	return nil
}

// startTelemetry initialises OTel and returns its shutdown.
func (a *app) startTelemetry(ctx context.Context) (func(), error) {
	shutdown, err := telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}, nil
}

// openJournal opens the configured journal, or returns nil if none is
// configured.
func (a *app) openJournal() (*journal.Journal, error) {
	if !a.cfg.JournalEnabled() {
		return nil, nil
	}
	jc := a.cfg.JournalConfig()
	jc.Logger = a.logger.Slog()
	j, err := journal.Open(jc)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return j, nil
}

// runtimeOptions builds the consistent.Run options for this invocation.
func (a *app) runtimeOptions(j *journal.Journal) []consistent.Option {
	opts := []consistent.Option{
		consistent.WithLogger(a.logger.Slog()),
		consistent.WithQueueWarnThreshold(a.cfg.Runtime.QueueWarnThreshold),
	}
	if j != nil {
		opts = append(opts, consistent.WithJournal(j))
	}
	return opts
}
