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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Scope is the capability handed to a Transaction's work function. Writes
// to variables take a Scope, so they can only be issued inside a
// Transaction.
type Scope struct {
	rt  *Runtime
	ctx context.Context

	mu      sync.Mutex
	intents []intent
	closed  bool
}

// Context returns the context the scope was opened with.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Runtime returns the runtime the scope belongs to.
func (s *Scope) Runtime() *Runtime {
	return s.rt
}

// Len returns the number of write-intents recorded so far.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.intents)
}

// capture runs write and records the intent it returns. The closed check,
// the write and the append happen under the scope's lock, so a write
// either lands with its intent or not at all.
//
// Panics with ErrForeignRuntime or ErrScopeClosed on misuse.
func (s *Scope) capture(rt *Runtime, write func() intent) {
	if rt != s.rt {
		panic(ErrForeignRuntime)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		panic(ErrScopeClosed)
	}
	s.intents = append(s.intents, write())
}

// close seals the scope and returns its intents in issue order.
func (s *Scope) close() []intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.intents
}

// Transaction runs work inside a transaction scope of rt.
//
// Description:
//
//	Opens a scope (reconciliation is held off while any scope is open),
//	runs work, and on success publishes every write-intent work produced
//	as one batch. If work returns an error or panics, nothing is
//	published. The scope is closed in every case. Scopes nest: an inner
//	Transaction publishes its own batch when it returns.
//
// Inputs:
//   - ctx: Context for tracing. If already done, no scope is opened.
//   - rt: The runtime. Must not be nil.
//   - work: The scope body. Must not be nil.
//
// Outputs:
//   - R: work's result, unchanged.
//   - error: work's error, ctx.Err(), ErrRuntimeClosed, or a nil-argument
//     error.
//
// Thread Safety: Safe for concurrent use.
func Transaction[R any](ctx context.Context, rt *Runtime, work func(s *Scope) (R, error)) (result R, err error) {
	var zero R
	if ctx == nil {
		return zero, ErrNilContext
	}
	if rt == nil {
		return zero, ErrNilRuntime
	}
	if work == nil {
		return zero, ErrNilFunc
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := rt.enter(); err != nil {
		return zero, err
	}
	recordScopeOpened(ctx)

	ctx, span := rt.tracer.Start(ctx, "consistent.Transaction",
		trace.WithAttributes(attribute.String("runtime_id", rt.ID())),
	)
	defer span.End()

	s := &Scope{rt: rt, ctx: ctx}

	var publish []intent
	defer func() {
		if p := recover(); p != nil {
			s.close()
			rt.leave(ctx, nil)
			span.SetStatus(codes.Error, "scope panicked")
			panic(p)
		}
		s.close()
		rt.leave(ctx, publish)
	}()

	result, err = work(s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scope failed")
		return result, err
	}

	publish = s.close()
	span.SetAttributes(attribute.Int("intents", len(publish)))
	return result, nil
}
