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
	"time"
)

// Outcome is the fate of a reconciled batch.
type Outcome string

const (
	// OutcomeCommitted means every intent was valid and applied.
	OutcomeCommitted Outcome = "committed"

	// OutcomeRejected means at least one intent was stale and nothing
	// was applied.
	OutcomeRejected Outcome = "rejected"
)

// IntentRecord describes one evaluated write-intent.
type IntentRecord struct {
	VarID    string `json:"var_id"`
	Replica  int    `json:"replica"`
	Observed uint64 `json:"observed"`
	Live     uint64 `json:"live"`
	Valid    bool   `json:"valid"`
}

// BatchRecord describes one reconciled batch.
type BatchRecord struct {
	RuntimeID    string         `json:"runtime_id"`
	BatchID      string         `json:"batch_id"`
	Seq          uint64         `json:"seq"`
	Outcome      Outcome        `json:"outcome"`
	Intents      []IntentRecord `json:"intents"`
	ClosedAt     time.Time      `json:"closed_at"`
	ReconciledAt time.Time      `json:"reconciled_at"`
}

// Journal receives a record for every reconciled batch, in reconcile
// order. It is called from the reconciler goroutine, outside the atomic
// pass.
type Journal interface {
	Record(ctx context.Context, rec BatchRecord) error
}
