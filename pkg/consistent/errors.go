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

import "errors"

var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilRuntime is returned (or panicked, from constructors) when a
	// nil runtime is passed.
	ErrNilRuntime = errors.New("runtime must not be nil")

	// ErrNilFunc is returned when Run or Transaction receive a nil function.
	ErrNilFunc = errors.New("function must not be nil")

	// ErrRuntimeClosed is returned when a scope is opened or a flush is
	// requested after the reconciler stopped.
	ErrRuntimeClosed = errors.New("runtime is closed")

	// ErrReconcilerFailed wraps the cause of a fatal reconciler exit.
	ErrReconcilerFailed = errors.New("reconciler failed")

	// ErrScopeClosed is the panic value when a Scope is written to after
	// its Transaction returned.
	ErrScopeClosed = errors.New("consistent: scope is closed")

	// ErrForeignRuntime is the panic value when a Var is written through a
	// Scope of a different Runtime.
	ErrForeignRuntime = errors.New("consistent: variable belongs to another runtime")
)
