// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stm provides typed transactional cells grouped into commit
// domains, the shared-cell layer under the consistent runtime.
//
// A Space is one commit domain. Cells belong to exactly one Space and are
// only read or written inside a transaction on that Space, or through the
// single-cell Load shortcut:
//
//	space := stm.NewSpace()
//	count := stm.NewCell(space, 0)
//
//	_, err := stm.Atomically(ctx, space, func(tx *stm.Tx) (struct{}, error) {
//	    count.Set(tx, count.Get(tx)+1)
//	    return struct{}{}, nil
//	})
//
// Transactions run optimistically on github.com/anacrolix/stm and see a
// consistent view of every cell they read. Writes are buffered in the Tx
// and become visible together when the transaction commits; writing
// transactions on one Space are serialized through the Space's version.
// A transaction that cannot make progress calls Retry (or Check with a
// false condition): its writes are dropped and it sleeps until a cell it
// read changes, then runs again from the start. Because a body may run
// more than once, it must not have effects outside the cells it writes.
//
// # Thread Safety
//
// Space and Cell are safe for concurrent use. A Tx belongs to the goroutine
// running the transaction function and is invalid once that function
// returns. Transactions must not be nested.
package stm
