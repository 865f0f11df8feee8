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

	"github.com/stretchr/testify/assert"
)

func TestNewVar(t *testing.T) {
	withRuntime(t, func(ctx context.Context, rt *Runtime) {
		v := NewVar(rt, "hello")
		assert.Equal(t, "hello", v.Read())
		assert.Equal(t, 0, v.Replica())
		assert.Equal(t, 1, v.Replicas())
		assert.NotEmpty(t, v.ID())

		obs, cur := v.Generations()
		assert.Zero(t, obs)
		assert.Zero(t, cur)

		assert.NotEqual(t, v.ID(), NewVar(rt, "hello").ID())
	})
}

func TestNewVar_NilRuntimePanics(t *testing.T) {
	assert.PanicsWithValue(t, ErrNilRuntime, func() { NewVar[int](nil, 0) })
}

func TestDuplicate(t *testing.T) {
	withRuntime(t, func(ctx context.Context, rt *Runtime) {
		v := NewVar(rt, 1)
		release, done := holdScope(ctx, rt, func(s *Scope) { v.Write(s, 7) })

		// Seeded from the local value, uncommitted write included.
		dup := v.Duplicate()
		assert.Equal(t, 7, dup.Read())
		assert.Equal(t, v.ID(), dup.ID())
		assert.Equal(t, 1, dup.Replica())
		assert.Equal(t, 2, v.Replicas())
		assert.Equal(t, 2, dup.Replicas())

		release()
		assert.NoError(t, <-done)
		assert.NoError(t, rt.Flush(ctx))

		// The new replica joined the registry before the commit, so it
		// received the broadcast.
		assert.Equal(t, 7, dup.Read())

		// Duplicates always start at generation zero.
		late := v.Duplicate()
		obs, cur := late.Generations()
		assert.Zero(t, obs)
		assert.Zero(t, cur)
		assert.Equal(t, 2, late.Replica())
	})
}

func TestDuplicate_IndependentLocalValues(t *testing.T) {
	withRuntime(t, func(ctx context.Context, rt *Runtime) {
		v := NewVar(rt, 0)
		dup := v.Duplicate()

		release, done := holdScope(ctx, rt, func(s *Scope) { dup.Write(s, 3) })
		assert.Equal(t, 3, dup.Read())
		assert.Equal(t, 0, v.Read(), "local writes stay local until committed")
		release()
		assert.NoError(t, <-done)
		assert.NoError(t, rt.Flush(ctx))
		assert.Equal(t, 3, v.Read())
	})
}

func TestSwapAndModify(t *testing.T) {
	withRuntime(t, func(ctx context.Context, rt *Runtime) {
		v := NewVar(rt, 10)
		peer := v.Duplicate()

		assert.NoError(t, txn(ctx, rt, func(s *Scope) {
			assert.Equal(t, 10, v.Swap(s, 20))
			v.Modify(s, func(n int) int { return n + 1 })
			assert.Equal(t, 21, v.Read())
			assert.Equal(t, 2, s.Len())
		}))
		assert.NoError(t, rt.Flush(ctx))
		assert.Equal(t, 21, peer.Read())
	})
}

func TestStaleHandleAndRefresh(t *testing.T) {
	withRuntime(t, func(ctx context.Context, rt *Runtime) {
		v := NewVar(rt, 0)
		peer := v.Duplicate()

		assert.NoError(t, txn(ctx, rt, func(s *Scope) { peer.Write(s, 1) }))
		assert.NoError(t, rt.Flush(ctx))

		obs, cur := v.Generations()
		assert.Equal(t, uint64(0), obs)
		assert.Equal(t, uint64(1), cur)

		// v has not caught up with the broadcast, so its write is stale.
		assert.NoError(t, txn(ctx, rt, func(s *Scope) { v.Write(s, 2) }))
		assert.NoError(t, rt.Flush(ctx))
		assert.Equal(t, int64(1), rt.Stats().Rejected)
		assert.Equal(t, 1, peer.Read())

		assert.Equal(t, 2, v.Read(), "rejected writes are not rolled back")

		assert.NoError(t, txn(ctx, rt, func(s *Scope) {
			assert.Equal(t, 1, v.Refresh(), "refresh adopts the last broadcast")
			assert.Equal(t, 1, v.Read())
			v.Write(s, 3)
		}))
		assert.NoError(t, rt.Flush(ctx))
		assert.Equal(t, 3, peer.Read())
		assert.Equal(t, int64(2), rt.Stats().Committed)

		obs, cur = v.Generations()
		assert.Equal(t, uint64(2), obs)
		assert.Equal(t, uint64(2), cur)
	})
}

func TestRefresh_DiscardsUnreconciledLocalWrite(t *testing.T) {
	withRuntime(t, func(ctx context.Context, rt *Runtime) {
		v := NewVar(rt, 0)
		release, done := holdScope(ctx, rt, nil)

		assert.NoError(t, txn(ctx, rt, func(s *Scope) { v.Write(s, 5) }))
		assert.Equal(t, 5, v.Read())
		assert.Equal(t, 0, v.Refresh())
		assert.Equal(t, 0, v.Read())

		release()
		assert.NoError(t, <-done)
		assert.NoError(t, rt.Flush(ctx))

		// The intent was unaffected and its broadcast lands.
		assert.Equal(t, 5, v.Read())
		assert.Equal(t, 5, v.Refresh())
	})
}

func TestConcurrentCounter(t *testing.T) {
	const (
		workers = 8
		rounds  = 50
	)
	j := &recordingJournal{}

	withRuntime(t, func(ctx context.Context, rt *Runtime) {
		counter := NewVar(rt, 0)
		handles := make([]*Var[int], workers)
		for i := range handles {
			handles[i] = counter.Duplicate()
		}

		var wg sync.WaitGroup
		for _, h := range handles {
			wg.Add(1)
			go func(h *Var[int]) {
				defer wg.Done()
				for i := 0; i < rounds; i++ {
					err := txn(ctx, rt, func(s *Scope) {
						h.Refresh()
						h.Modify(s, func(n int) int { return n + 1 })
					})
					assert.NoError(t, err)
				}
			}(h)
		}
		wg.Wait()
		assert.NoError(t, rt.Flush(ctx))

		st := rt.Stats()
		assert.Equal(t, int64(workers*rounds), st.Published)
		assert.Equal(t, st.Published, st.Committed+st.Rejected)
		assert.Positive(t, st.Committed)

		// Every committed increment builds on the previous one.
		want := int(st.Committed)
		assert.Equal(t, want, counter.Read())
		for _, h := range handles {
			assert.Equal(t, want, h.Read())
		}
		assert.Equal(t, 0, rt.Active())
		assert.Equal(t, 0, rt.Pending())
	}, WithJournal(j))

	recs := j.all()
	assert.Len(t, recs, workers*rounds)
	for i, rec := range recs {
		assert.Equal(t, uint64(i+1), rec.Seq)
	}
}
