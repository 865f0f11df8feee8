// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package consistent provides replicated variables with deferred, batched,
// conflict-detected reconciliation.
//
// # Architecture Overview
//
// Every goroutine that shares a logical variable holds its own replica.
// Reads hit the replica directly. Writes happen inside a transaction scope:
// they update the replica at once and are also recorded as write-intents.
// When the scope closes, its intents become one batch on the runtime's
// queue. A single background reconciler applies batches one at a time, and
// only while no scope is open anywhere in the runtime.
//
//	┌──────────────┐   ┌──────────────┐   ┌──────────────┐
//	│ goroutine A  │   │ goroutine B  │   │ goroutine C  │
//	│  replica a   │   │  replica b   │   │  replica c   │
//	└──────┬───────┘   └──────┬───────┘   └──────┬───────┘
//	       │ Transaction      │ Transaction      │ Read only
//	       ▼                  ▼                  │
//	┌─────────────────────────────────────┐      │
//	│ batch queue (FIFO)  active scopes=N │      │
//	└──────────────────┬──────────────────┘      │
//	                   │ N == 0                  │
//	                   ▼                         │
//	┌─────────────────────────────────────┐      │
//	│ reconciler: validate generations,   │──────┘ broadcast on commit
//	│ apply whole batch or drop it        │
//	└─────────────────────────────────────┘
//
// # Generations
//
// Each replica carries the generation it last confirmed (observed) and a
// current generation that every commit overwrites on every replica. A
// write-intent captures the writer's observed generation. At reconcile
// time the intent is valid only if that generation still equals the
// writer's current generation; otherwise some other replica committed in
// between and the whole batch is dropped.
//
// Dropped batches are silent. The writer is not told, and its replica keeps
// the unconfirmed value until a later commit broadcasts over it.
//
// # Usage
//
//	_, err := consistent.Run(ctx, func(ctx context.Context, rt *consistent.Runtime) (struct{}, error) {
//	    counter := consistent.NewVar(rt, 0)
//	    mine := counter.Duplicate() // hand to another goroutine
//
//	    _, err := consistent.Transaction(ctx, rt, func(s *consistent.Scope) (struct{}, error) {
//	        mine.Modify(s, func(n int) int { return n + 1 })
//	        return struct{}{}, nil
//	    })
//	    return struct{}{}, err
//	})
//
// # Failure
//
// A reconciler failure (a journal error or a panic) ends the run. The
// body's context is cancelled and every later Transaction or Flush returns
// an error, but Run still waits for the body to return: a body that
// neither watches its context nor checks those errors keeps Run blocked.
//
// # Thread Safety
//
// Runtime is safe for concurrent use. A Var handle is one replica and is
// meant to be used by one goroutine; give other goroutines their own handle
// with Duplicate. A Scope may be written to from several goroutines while
// its Transaction is running.
package consistent
