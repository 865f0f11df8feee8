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
	"time"

	"github.com/AleutianAI/consistent/pkg/stm"
	"github.com/google/uuid"
)

// intent is a write-intent. It is plain data captured at write time; the
// reconciler evaluates it against live generations inside its atomic pass.
type intent interface {
	// check reports the writer's live generation and whether the intent
	// is still valid against it.
	check(tx *stm.Tx) (live uint64, valid bool)

	// commit broadcasts the value with generation next to every replica
	// and advances the writer's observed generation.
	commit(tx *stm.Tx, next uint64)

	// record describes the intent for journals and logs.
	record() IntentRecord
}

type writeIntent[T any] struct {
	v        *Var[T]
	value    T
	observed uint64
}

func (w *writeIntent[T]) check(tx *stm.Tx) (uint64, bool) {
	live := w.v.self.current.Get(tx)
	return live, live == w.observed
}

func (w *writeIntent[T]) commit(tx *stm.Tx, next uint64) {
	for _, r := range w.v.reg.replicas.Get(tx) {
		r.value.Set(tx, w.value)
		r.base.Set(tx, w.value)
		r.current.Set(tx, next)
	}
	w.v.observed.Set(tx, next)
}

func (w *writeIntent[T]) record() IntentRecord {
	return IntentRecord{
		VarID:    w.v.ID(),
		Replica:  w.v.self.index,
		Observed: w.observed,
	}
}

// batch is the ordered intents of one completed scope.
type batch struct {
	id       uuid.UUID
	seq      uint64
	intents  []intent
	closedAt time.Time
}

func newBatch(seq uint64, intents []intent) *batch {
	return &batch{
		id:       uuid.New(),
		seq:      seq,
		intents:  intents,
		closedAt: time.Now(),
	}
}
