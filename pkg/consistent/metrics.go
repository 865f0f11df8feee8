// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package consistent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for runtime metrics.
var meter = otel.Meter("aleutian.consistent")

// Metric instruments.
var (
	scopesActive      metric.Int64UpDownCounter
	batchesPublished  metric.Int64Counter
	batchesReconciled metric.Int64Counter
	batchIntents      metric.Int64Histogram
	reconcileDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		scopesActive, err = meter.Int64UpDownCounter(
			"consistent_scopes_active",
			metric.WithDescription("Number of currently open transaction scopes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		batchesPublished, err = meter.Int64Counter(
			"consistent_batches_published_total",
			metric.WithDescription("Total number of batches published by closing scopes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		batchesReconciled, err = meter.Int64Counter(
			"consistent_batches_reconciled_total",
			metric.WithDescription("Total number of reconciled batches by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		batchIntents, err = meter.Int64Histogram(
			"consistent_batch_intents",
			metric.WithDescription("Number of write-intents per reconciled batch"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reconcileDuration, err = meter.Float64Histogram(
			"consistent_reconcile_duration_seconds",
			metric.WithDescription("Duration of the atomic reconcile pass in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordScopeOpened(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	scopesActive.Add(ctx, 1)
}

// recordScopeClosed records a scope exit and, if it produced one, the
// published batch.
func recordScopeClosed(ctx context.Context, published bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	scopesActive.Add(ctx, -1)
	if published {
		batchesPublished.Add(ctx, 1)
	}
}

// recordReconcile records one reconciled batch.
func recordReconcile(ctx context.Context, outcome Outcome, intents int, duration time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	batchesReconciled.Add(ctx, 1, attrs)
	batchIntents.Record(ctx, int64(intents), attrs)
	reconcileDuration.Record(ctx, duration.Seconds(), attrs)
}
