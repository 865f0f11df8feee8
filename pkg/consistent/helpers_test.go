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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// withRuntime runs fn inside Run with a test timeout and fails the test if
// Run fails.
func withRuntime(t *testing.T, fn func(ctx context.Context, rt *Runtime), opts ...Option) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Run(ctx, func(ctx context.Context, rt *Runtime) (struct{}, error) {
		fn(ctx, rt)
		return struct{}{}, nil
	}, opts...)
	require.NoError(t, err)
}

// txn runs fn as a Transaction with no result.
func txn(ctx context.Context, rt *Runtime, fn func(s *Scope)) error {
	_, err := Transaction(ctx, rt, func(s *Scope) (struct{}, error) {
		fn(s)
		return struct{}{}, nil
	})
	return err
}

// holdScope opens a scope on another goroutine, runs fn in it, and keeps it
// open until release is called. done yields the Transaction's error.
func holdScope(ctx context.Context, rt *Runtime, fn func(s *Scope)) (release func(), done <-chan error) {
	opened := make(chan struct{})
	rel := make(chan struct{})
	d := make(chan error, 1)
	go func() {
		d <- txn(ctx, rt, func(s *Scope) {
			if fn != nil {
				fn(s)
			}
			close(opened)
			<-rel
		})
	}()
	<-opened
	var once sync.Once
	return func() { once.Do(func() { close(rel) }) }, d
}

// recordingJournal keeps every record in memory.
type recordingJournal struct {
	mu      sync.Mutex
	records []BatchRecord
}

func (j *recordingJournal) Record(_ context.Context, rec BatchRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *recordingJournal) all() []BatchRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]BatchRecord(nil), j.records...)
}
