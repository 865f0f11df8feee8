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
	astm "github.com/anacrolix/stm"
)

// Space is a commit domain for cells.
//
// Every transaction that writes at least one cell of the Space also bumps
// the Space's version, so writing transactions on one Space never commit
// concurrently.
type Space struct {
	version *astm.Var[uint64]
}

// NewSpace creates an empty Space.
func NewSpace() *Space {
	return &Space{version: astm.NewVar(uint64(0))}
}

// Version returns the number of writing commits made on the Space.
func (s *Space) Version() uint64 {
	return load(s.version)
}

// Cell is a transactional memory location holding a T.
type Cell[T any] struct {
	space *Space
	v     *astm.Var[T]
}

// NewCell creates a cell on s holding v.
func NewCell[T any](s *Space, v T) *Cell[T] {
	return &Cell[T]{space: s, v: astm.NewVar(v)}
}

// Load returns the committed value of the cell as a single atomic read.
func (c *Cell[T]) Load() T {
	return load(c.v)
}

// Get returns the value of the cell as seen by tx, including writes tx
// has buffered.
func (c *Cell[T]) Get(tx *Tx) T {
	tx.check(c.space)
	return c.v.Get(tx.tx)
}

// Set buffers a write of v to the cell in tx.
func (c *Cell[T]) Set(tx *Tx, v T) {
	tx.check(c.space)
	tx.wrote = true
	c.v.Set(tx.tx, v)
}

func load[T any](v *astm.Var[T]) T {
	return astm.Atomically(func(tx *astm.Tx) T {
		return v.Get(tx)
	})
}

func store[T any](v *astm.Var[T], val T) {
	astm.Atomically(func(tx *astm.Tx) struct{} {
		v.Set(tx, val)
		return struct{}{}
	})
}
