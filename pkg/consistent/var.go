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
	"github.com/AleutianAI/consistent/pkg/stm"
	"github.com/google/uuid"
)

// replica is one registry entry: a replica's local value, the last value
// it received by broadcast, and its copy of the current generation. All
// three are overwritten by every commit.
type replica[T any] struct {
	index   int
	value   *stm.Cell[T]
	base    *stm.Cell[T]
	current *stm.Cell[uint64]
}

// registry is shared by every handle of one logical variable.
//
// Entries are never removed. A replica whose handle is dropped stays in
// the registry and keeps receiving broadcasts.
type registry[T any] struct {
	id       uuid.UUID
	replicas *stm.Cell[[]*replica[T]]
}

// Var is a handle to one replica of a logically shared variable.
//
// Read returns the replica's local value without waiting. Write, Swap and
// Modify change the local value at once and record a write-intent in the
// enclosing Scope; the change reaches other replicas only if the batch
// carrying it is committed.
//
// Thread Safety: A handle is meant for one goroutine. Use Duplicate to give
// another goroutine its own replica.
type Var[T any] struct {
	rt       *Runtime
	reg      *registry[T]
	self     *replica[T]
	observed *stm.Cell[uint64]
}

// NewVar creates a logical variable holding value, with a single replica
// owned by the caller. Panics with ErrNilRuntime if rt is nil.
func NewVar[T any](rt *Runtime, value T) *Var[T] {
	if rt == nil {
		panic(ErrNilRuntime)
	}
	self := &replica[T]{
		index:   0,
		value:   stm.NewCell(rt.space, value),
		base:    stm.NewCell(rt.space, value),
		current: stm.NewCell(rt.space, uint64(0)),
	}
	return &Var[T]{
		rt: rt,
		reg: &registry[T]{
			id:       uuid.New(),
			replicas: stm.NewCell(rt.space, []*replica[T]{self}),
		},
		self:     self,
		observed: stm.NewCell(rt.space, uint64(0)),
	}
}

// Duplicate registers a new replica of the same logical variable, seeded
// with this handle's local value at the instant of the call.
//
// The new replica starts at generation 0 for both its observed and current
// generation, whatever generation this handle has reached.
func (v *Var[T]) Duplicate() *Var[T] {
	space := v.rt.space
	dup := &Var[T]{
		rt:       v.rt,
		reg:      v.reg,
		observed: stm.NewCell(space, uint64(0)),
	}
	stm.Do(space, func(tx *stm.Tx) {
		reps := v.reg.replicas.Get(tx)
		seed := v.self.value.Get(tx)
		dup.self = &replica[T]{
			index:   len(reps),
			value:   stm.NewCell(space, seed),
			base:    stm.NewCell(space, seed),
			current: stm.NewCell(space, uint64(0)),
		}
		v.reg.replicas.Set(tx, append(reps[:len(reps):len(reps)], dup.self))
	})
	return dup
}

// Read returns this replica's local value.
func (v *Var[T]) Read() T {
	return v.self.value.Load()
}

// Write sets this replica's local value and records a write-intent in s.
//
// The local value is not rolled back if the batch is later rejected.
// Panics with ErrScopeClosed or ErrForeignRuntime on misuse.
func (v *Var[T]) Write(s *Scope, value T) {
	v.swap(s, value)
}

// Swap writes value and returns the local value it replaced.
func (v *Var[T]) Swap(s *Scope, value T) T {
	return v.swap(s, value)
}

// Modify writes f applied to the current local value.
func (v *Var[T]) Modify(s *Scope, f func(T) T) {
	v.Write(s, f(v.Read()))
}

func (v *Var[T]) swap(s *Scope, value T) T {
	var old T
	s.capture(v.rt, func() intent {
		var observed uint64
		stm.Do(v.rt.space, func(tx *stm.Tx) {
			old = v.self.value.Get(tx)
			v.self.value.Set(tx, value)
			observed = v.observed.Get(tx)
		})
		return &writeIntent[T]{v: v, value: value, observed: observed}
	})
	return old
}

// Refresh re-bases the handle on the last committed broadcast: the local
// value is reset to the value the replica last received (or was seeded
// with), the observed generation is set to the replica's current one, and
// that value is returned. Local writes not yet reconciled are discarded
// from the local view; their intents are unaffected.
//
// A handle's observed generation only moves when one of its own batches
// commits, so after another replica commits, every later write from this
// handle is rejected until it refreshes. Call Refresh at the start of a
// scope: nothing commits while the scope is open, so the refreshed view
// holds until it closes.
func (v *Var[T]) Refresh() T {
	var value T
	stm.Do(v.rt.space, func(tx *stm.Tx) {
		v.observed.Set(tx, v.self.current.Get(tx))
		value = v.self.base.Get(tx)
		v.self.value.Set(tx, value)
	})
	return value
}

// ID returns the identity of the logical variable, shared by all replicas.
func (v *Var[T]) ID() string {
	return v.reg.id.String()
}

// Replica returns this handle's index in the registry. The handle made by
// NewVar is replica 0.
func (v *Var[T]) Replica() int {
	return v.self.index
}

// Replicas returns the number of replicas registered for the variable.
func (v *Var[T]) Replicas() int {
	return len(v.reg.replicas.Load())
}

// Generations returns this handle's observed generation and its replica's
// current generation, read atomically. observed < current means the
// handle's next write will be rejected.
func (v *Var[T]) Generations() (observed, current uint64) {
	stm.Do(v.rt.space, func(tx *stm.Tx) {
		observed = v.observed.Get(tx)
		current = v.self.current.Get(tx)
	})
	return observed, current
}
