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
	"log/slog"
	"sync/atomic"

	"github.com/AleutianAI/consistent/pkg/stm"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Runtime is the process-wide state shared by scopes, variables and the
// reconciler of one Run.
//
// Thread Safety: Safe for concurrent use.
type Runtime struct {
	id    uuid.UUID
	space *stm.Space

	// Shared cells, mutated only through stm transactions.
	active   *stm.Cell[int]
	queue    *stm.Cell[[]*batch]
	settling *stm.Cell[bool]
	stopped  *stm.Cell[bool]

	// seq numbers published batches; it is also the published count.
	seq *stm.Cell[uint64]

	logger    *slog.Logger
	tracer    trace.Tracer
	journal   Journal
	queueWarn int

	// Counters (atomic, no lock needed)
	committed atomic.Int64
	rejected  atomic.Int64
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// WithJournal records the outcome of every reconciled batch in j.
//
// A Record error is fatal: the reconciler stops and Run returns the error
// wrapped in ErrReconcilerFailed.
func WithJournal(j Journal) Option {
	return func(rt *Runtime) {
		rt.journal = j
	}
}

// WithQueueWarnThreshold logs a warning when the number of pending batches
// grows past n. Zero disables the warning.
func WithQueueWarnThreshold(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.queueWarn = n
		}
	}
}

// WithTracer sets the tracer used for scope and reconcile spans.
// Default: otel.Tracer("consistent").
func WithTracer(tracer trace.Tracer) Option {
	return func(rt *Runtime) {
		if tracer != nil {
			rt.tracer = tracer
		}
	}
}

func newRuntime(opts ...Option) *Runtime {
	space := stm.NewSpace()
	rt := &Runtime{
		id:       uuid.New(),
		space:    space,
		active:   stm.NewCell(space, 0),
		queue:    stm.NewCell[[]*batch](space, nil),
		settling: stm.NewCell(space, false),
		stopped:  stm.NewCell(space, false),
		seq:      stm.NewCell(space, uint64(0)),
		logger:   slog.Default(),
		tracer:   otel.Tracer("consistent"),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = rt.logger.With(
		slog.String("component", "consistent"),
		slog.String("runtime_id", rt.id.String()),
	)
	return rt
}

// Run executes body under a fresh Runtime.
//
// Description:
//
//	Creates the runtime state and starts its reconciler, then runs body.
//	The reconciler and body are linked: if the reconciler fails, body's
//	context is cancelled and Run returns the reconciler's error. When body
//	returns, the reconciler is stopped. Batches still queued at that point
//	are never applied; call Flush before returning to wait for them.
//
// Inputs:
//   - ctx: Parent context. Must not be nil.
//   - body: The work to run. Receives a context cancelled on reconciler
//     failure and must honour it.
//   - opts: Runtime options.
//
// Outputs:
//   - R: body's result.
//   - error: body's error, or an error wrapping ErrReconcilerFailed.
//
// Thread Safety: Safe for concurrent use. Each call gets its own Runtime.
func Run[R any](ctx context.Context, body func(ctx context.Context, rt *Runtime) (R, error), opts ...Option) (R, error) {
	var zero R
	if ctx == nil {
		return zero, ErrNilContext
	}
	if body == nil {
		return zero, ErrNilFunc
	}

	rt := newRuntime(opts...)

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()

	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		return rt.reconcile(gctx)
	})

	var result R
	g.Go(func() error {
		defer stopLoop()
		r, err := body(gctx, rt)
		result = r
		return err
	})

	err := g.Wait()
	return result, err
}

// ID returns the runtime's identifier, as used in logs and journal records.
func (rt *Runtime) ID() string {
	return rt.id.String()
}

// Pending returns the number of batches waiting for reconciliation.
func (rt *Runtime) Pending() int {
	return len(rt.queue.Load())
}

// Active returns the number of open transaction scopes.
func (rt *Runtime) Active() int {
	return rt.active.Load()
}

// Stats is a point-in-time view of runtime counters.
type Stats struct {
	RuntimeID string `json:"runtime_id"`
	Published int64  `json:"published"`
	Committed int64  `json:"committed"`
	Rejected  int64  `json:"rejected"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
}

// Stats returns the runtime counters.
//
// The counters are read individually and may be mutually inconsistent
// while batches are in flight.
func (rt *Runtime) Stats() Stats {
	return Stats{
		RuntimeID: rt.ID(),
		Published: int64(rt.seq.Load()),
		Committed: rt.committed.Load(),
		Rejected:  rt.rejected.Load(),
		Pending:   rt.Pending(),
		Active:    rt.Active(),
	}
}

// Flush blocks until every batch queued so far has been reconciled and
// its outcome counted and journaled.
//
// Batches are reconciled only while no scope is open, so Flush also waits
// out any open scope (including one held by the caller, which deadlocks
// until ctx is done).
//
// Outputs:
//   - error: ctx.Err() if cancelled, ErrRuntimeClosed if the reconciler
//     stopped first.
func (rt *Runtime) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	_, err := stm.Atomically(ctx, rt.space, func(tx *stm.Tx) (struct{}, error) {
		if rt.stopped.Get(tx) {
			return struct{}{}, ErrRuntimeClosed
		}
		tx.Check(len(rt.queue.Get(tx)) == 0 && !rt.settling.Get(tx))
		return struct{}{}, nil
	})
	return err
}

// enter opens a scope.
func (rt *Runtime) enter() error {
	_, err := stm.Atomically(context.Background(), rt.space, func(tx *stm.Tx) (struct{}, error) {
		if rt.stopped.Get(tx) {
			return struct{}{}, ErrRuntimeClosed
		}
		rt.active.Set(tx, rt.active.Get(tx)+1)
		return struct{}{}, nil
	})
	return err
}

// leave closes a scope, publishing intents as one batch when non-empty.
// The enqueue and the decrement are one atomic step.
func (rt *Runtime) leave(ctx context.Context, intents []intent) {
	var b *batch
	var pending int
	stm.Do(rt.space, func(tx *stm.Tx) {
		if len(intents) > 0 {
			seq := rt.seq.Get(tx) + 1
			rt.seq.Set(tx, seq)
			b = newBatch(seq, intents)
			q := rt.queue.Get(tx)
			rt.queue.Set(tx, append(q[:len(q):len(q)], b))
		}
		pending = len(rt.queue.Get(tx))
		rt.active.Set(tx, rt.active.Get(tx)-1)
	})

	recordScopeClosed(ctx, b != nil)
	if b == nil {
		return
	}

	if rt.queueWarn > 0 && pending == rt.queueWarn+1 {
		rt.logger.Warn("batch queue backlog",
			slog.Int("pending", pending),
			slog.Int("threshold", rt.queueWarn),
		)
	}
}
