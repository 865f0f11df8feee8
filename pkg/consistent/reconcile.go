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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/consistent/pkg/stm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// pass is the result of one atomic reconcile pass.
type pass struct {
	batch     *batch
	lives     []uint64
	valid     []bool
	committed bool
	pending   int
	started   time.Time
}

// reconcile is the reconciler loop. It returns nil when ctx is cancelled
// and an error wrapping ErrReconcilerFailed on any fault.
func (rt *Runtime) reconcile(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrReconcilerFailed, p)
		}
		if err != nil {
			rt.logger.Error("reconciler stopped", slog.String("error", err.Error()))
		}
		stm.Do(rt.space, func(tx *stm.Tx) {
			rt.stopped.Set(tx, true)
		})
	}()

	rt.logger.Debug("reconciler started")
	for {
		p, err := stm.Atomically(ctx, rt.space, rt.reconcileOne)
		if err != nil {
			if ctx.Err() != nil {
				rt.logger.Debug("reconciler exiting", slog.Int("pending", rt.Pending()))
				return nil
			}
			return fmt.Errorf("%w: %w", ErrReconcilerFailed, err)
		}
		err = rt.settle(ctx, p)
		stm.Do(rt.space, func(tx *stm.Tx) {
			rt.settling.Set(tx, false)
			if err != nil {
				rt.stopped.Set(tx, true)
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrReconcilerFailed, err)
		}
	}
}

// reconcileOne waits for quiescence and a queued batch, then validates and
// applies or drops the head batch. Waiting, dequeue, validation and
// application all happen in this single transaction.
func (rt *Runtime) reconcileOne(tx *stm.Tx) (pass, error) {
	tx.Check(rt.active.Get(tx) == 0)
	q := rt.queue.Get(tx)
	tx.Check(len(q) > 0)

	p := pass{started: time.Now()}
	p.batch = q[0]
	rest := q[1:]
	if len(rest) == 0 {
		rest = nil
	}
	rt.queue.Set(tx, rest)
	rt.settling.Set(tx, true)
	p.pending = len(rest)

	p.lives = make([]uint64, len(p.batch.intents))
	p.valid = make([]bool, len(p.batch.intents))
	p.committed = true
	for i, in := range p.batch.intents {
		p.lives[i], p.valid[i] = in.check(tx)
		if !p.valid[i] {
			p.committed = false
		}
	}

	if p.committed {
		for i, in := range p.batch.intents {
			in.commit(tx, p.lives[i]+1)
		}
	}
	return p, nil
}

// settle does the bookkeeping for a finished pass: counters, metrics,
// tracing, logging and the journal.
func (rt *Runtime) settle(ctx context.Context, p pass) error {
	duration := time.Since(p.started)
	outcome := OutcomeRejected
	if p.committed {
		outcome = OutcomeCommitted
		rt.committed.Add(1)
	} else {
		rt.rejected.Add(1)
	}

	ctx, span := rt.tracer.Start(ctx, "consistent.reconcile",
		trace.WithAttributes(
			attribute.String("batch_id", p.batch.id.String()),
			attribute.Int64("seq", int64(p.batch.seq)),
			attribute.Int("intents", len(p.batch.intents)),
			attribute.String("outcome", string(outcome)),
		),
	)
	defer span.End()

	recordReconcile(ctx, outcome, len(p.batch.intents), duration)

	rt.logger.Debug("batch reconciled",
		slog.String("batch_id", p.batch.id.String()),
		slog.Uint64("seq", p.batch.seq),
		slog.String("outcome", string(outcome)),
		slog.Int("intents", len(p.batch.intents)),
		slog.Int("pending", p.pending),
		slog.Duration("duration", duration),
	)

	if rt.journal == nil {
		return nil
	}

	rec := BatchRecord{
		RuntimeID:    rt.ID(),
		BatchID:      p.batch.id.String(),
		Seq:          p.batch.seq,
		Outcome:      outcome,
		Intents:      make([]IntentRecord, len(p.batch.intents)),
		ClosedAt:     p.batch.closedAt,
		ReconciledAt: time.Now(),
	}
	for i, in := range p.batch.intents {
		ir := in.record()
		ir.Live = p.lives[i]
		ir.Valid = p.valid[i]
		rec.Intents[i] = ir
	}
	if err := rt.journal.Record(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "journal record failed")
		return fmt.Errorf("journal batch %d: %w", p.batch.seq, err)
	}
	return nil
}
