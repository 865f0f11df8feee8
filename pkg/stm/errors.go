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

import "errors"

var (
	// ErrNilContext is returned when a nil context is passed to Atomically.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilSpace is returned when Atomically is called without a Space.
	ErrNilSpace = errors.New("space must not be nil")

	// ErrForeignCell is the panic value when a cell is used with a
	// transaction running on a different Space.
	ErrForeignCell = errors.New("stm: cell belongs to another space")

	// ErrTxDone is the panic value when a Tx is used after its
	// transaction function returned.
	ErrTxDone = errors.New("stm: transaction already finished")
)
