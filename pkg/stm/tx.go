// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stm

import (
	"context"

	astm "github.com/anacrolix/stm"
)

// Tx is a running transaction on a Space.
type Tx struct {
	space *Space
	tx    *astm.Tx
	wrote bool
	done  bool
}

// Retry abandons the transaction. Its writes are discarded and it runs
// again once a cell it read is changed by another commit.
func (tx *Tx) Retry() {
	tx.tx.Retry()
}

// Check retries the transaction unless cond holds.
func (tx *Tx) Check(cond bool) {
	if !cond {
		tx.Retry()
	}
}

func (tx *Tx) check(s *Space) {
	if tx.done {
		panic(ErrTxDone)
	}
	if s != tx.space {
		panic(ErrForeignCell)
	}
}

// abort unwinds an attempt whose writes must be dropped.
type abort[R any] struct {
	r   R
	err error
}

// Atomically runs fn as one transaction on s.
//
// Description:
//
//	fn sees a consistent view of every cell it reads. If fn returns a nil
//	error its writes are committed together; if it returns an error the
//	writes are dropped and the error is returned. If fn calls Retry the
//	attempt is dropped and Atomically blocks until a cell fn read changes,
//	then runs fn again. Any other panic in fn propagates to the caller
//	with no writes applied.
//
//	fn may also be re-run when a concurrent commit invalidates what it
//	read, so it must not have effects outside the cells it writes.
//
// Inputs:
//   - ctx: Cancels a transaction blocked in Retry. Must not be nil.
//   - s: The Space the transaction runs on. Must not be nil.
//   - fn: The transaction body. May run more than once.
//
// Outputs:
//   - R: fn's result from the committed attempt.
//   - error: fn's error, ctx.Err() if cancelled, or a nil-argument error.
//
// Thread Safety: Safe for concurrent use. Must not be called from inside
// another transaction.
func Atomically[R any](ctx context.Context, s *Space, fn func(tx *Tx) (R, error)) (result R, err error) {
	var zero R
	if ctx == nil {
		return zero, ErrNilContext
	}
	if s == nil {
		return zero, ErrNilSpace
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	// A waiting transaction reads cancelled, so setting it wakes the wait.
	var cancelled *astm.Var[bool]
	if ctx.Done() != nil {
		cancelled = astm.NewVar(false)
		stop := context.AfterFunc(ctx, func() { store(cancelled, true) })
		defer stop()
	}

	defer func() {
		if p := recover(); p != nil {
			a, ok := p.(abort[R])
			if !ok {
				panic(p)
			}
			result, err = a.r, a.err
		}
	}()

	result = astm.Atomically(func(atx *astm.Tx) R {
		if cancelled != nil && cancelled.Get(atx) {
			panic(abort[R]{r: zero, err: ctx.Err()})
		}
		tx := &Tx{space: s, tx: atx}
		r, err := attempt(tx, fn)
		if err != nil {
			panic(abort[R]{r: r, err: err})
		}
		if tx.wrote {
			s.version.Set(atx, s.version.Get(atx)+1)
		}
		return r
	})
	return result, nil
}

// Do runs fn as one transaction on s with no cancellation.
//
// Use it for short non-blocking updates; a Retry inside fn parks the
// caller until a cell fn read changes.
func Do(s *Space, fn func(tx *Tx)) {
	_, _ = Atomically(context.Background(), s, func(tx *Tx) (struct{}, error) {
		fn(tx)
		return struct{}{}, nil
	})
}

// attempt runs fn once and seals tx however fn exits.
func attempt[R any](tx *Tx, fn func(tx *Tx) (R, error)) (R, error) {
	defer func() { tx.done = true }()
	return fn(tx)
}
