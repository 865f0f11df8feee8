// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal is a BadgerDB-backed audit log of reconciled batches.
//
// Each call to Record stores one consistent.BatchRecord under a
// journal-wide sequence number, so records from successive runtimes that
// share a journal directory never collide:
//
//	Key:   "batch/" + 8-byte big-endian sequence
//	Value: [4-byte CRC32][JSON-encoded BatchRecord]
//
// The journal stores outcomes, not values. It is for inspection (the
// monitor's /v1/journal endpoint and the CLI's journal command), and
// nothing is replayed from it.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/consistent/pkg/consistent"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNilContext is returned when a nil context is passed.
	ErrNilContext = errors.New("journal: nil context")

	// ErrNoPath is returned when an on-disk journal has no path.
	ErrNoPath = errors.New("journal: path is required unless in_memory is set")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("journal: closed")

	// ErrCorrupted is returned when a stored record fails its checksum.
	ErrCorrupted = errors.New("journal: corrupted record")
)

var keyPrefix = []byte("batch/")

// Journal stores batch outcomes in BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Journal struct {
	db       *badger.DB
	gc       *gcRunner
	logger   *slog.Logger
	inMemory bool

	seq    atomic.Uint64
	closed atomic.Bool

	// mu orders Close after in-flight writes.
	mu sync.RWMutex
}

var _ consistent.Journal = (*Journal)(nil)

// Open opens (or creates) a journal.
//
// Description:
//
//	Opens BadgerDB per cfg, resumes the sequence after the highest stored
//	key and, for on-disk journals with a GC interval, starts value log
//	garbage collection.
//
// Inputs:
//   - cfg: Journal configuration. Path is required unless InMemory.
//
// Outputs:
//   - *Journal: Ready for use. Call Close when done.
//   - error: ErrNoPath, or a BadgerDB open or scan failure.
func Open(cfg Config) (*Journal, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		db:       db,
		logger:   logger.With(slog.String("component", "journal")),
		inMemory: cfg.InMemory,
	}

	last, err := lastSeq(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	j.seq.Store(last)

	if cfg.GCInterval > 0 && !cfg.InMemory {
		j.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, j.logger)
	}

	j.logger.Info("journal opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
		slog.Uint64("last_seq", last),
	)
	return j, nil
}

// lastSeq returns the highest stored sequence number, or 0.
func lastSeq(db *badger.DB) (uint64, error) {
	var last uint64
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte{}, keyPrefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF))
		if it.ValidForPrefix(keyPrefix) {
			key := it.Item().Key()
			if len(key) == len(keyPrefix)+8 {
				last = binary.BigEndian.Uint64(key[len(keyPrefix):])
			}
		}
		return nil
	})
	return last, err
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

func encode(rec consistent.BatchRecord) ([]byte, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], crc32.ChecksumIEEE(body))
	copy(out[4:], body)
	return out, nil
}

func decode(data []byte) (consistent.BatchRecord, error) {
	var rec consistent.BatchRecord
	if len(data) < 4 {
		return rec, ErrCorrupted
	}
	if crc32.ChecksumIEEE(data[4:]) != binary.BigEndian.Uint32(data[:4]) {
		return rec, ErrCorrupted
	}
	if err := json.Unmarshal(data[4:], &rec); err != nil {
		return rec, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	return rec, nil
}

// Record appends rec to the journal.
//
// Outputs:
//   - error: ErrNilContext, ErrClosed, ctx.Err(), or a write failure.
//
// Thread Safety: Safe for concurrent use.
func (j *Journal) Record(ctx context.Context, rec consistent.BatchRecord) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed.Load() {
		return ErrClosed
	}

	ctx, span := otel.Tracer("journal").Start(ctx, "journal.Record",
		trace.WithAttributes(
			attribute.String("batch_id", rec.BatchID),
			attribute.String("outcome", string(rec.Outcome)),
		),
	)
	defer span.End()

	data, err := encode(rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return fmt.Errorf("encode record: %w", err)
	}

	seq := j.seq.Add(1)
	if err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(seq), data)
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return fmt.Errorf("write record %d: %w", seq, err)
	}

	span.SetAttributes(attribute.Int64("journal_seq", int64(seq)))
	j.logger.Debug("batch recorded",
		slog.Uint64("journal_seq", seq),
		slog.String("batch_id", rec.BatchID),
		slog.String("outcome", string(rec.Outcome)),
	)
	return nil
}

// List returns the most recent records, oldest first. A limit of zero or
// less returns every record.
//
// Outputs:
//   - []consistent.BatchRecord: Up to limit records.
//   - error: ErrNilContext, ErrClosed, ctx.Err(), or an error wrapping
//     ErrCorrupted.
//
// Thread Safety: Safe for concurrent use.
func (j *Journal) List(ctx context.Context, limit int) ([]consistent.BatchRecord, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed.Load() {
		return nil, ErrClosed
	}

	var out []consistent.BatchRecord
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		start := append(append([]byte{}, keyPrefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		for it.Seek(start); it.ValidForPrefix(keyPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec consistent.BatchRecord
			err := it.Item().Value(func(val []byte) error {
				var err error
				rec, err = decode(val)
				return err
			})
			if err != nil {
				return fmt.Errorf("key %x: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Len returns the number of records written, including those from
// earlier opens of the same directory.
func (j *Journal) Len() uint64 {
	return j.seq.Load()
}

// Close stops GC, syncs and closes the database. Safe to call more than
// once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed.Swap(true) {
		return nil
	}

	if j.gc != nil {
		j.gc.stop()
	}
	if !j.inMemory {
		if err := j.db.Sync(); err != nil {
			j.logger.Warn("sync before close failed", slog.String("error", err.Error()))
		}
	}
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	j.logger.Info("journal closed", slog.Uint64("last_seq", j.seq.Load()))
	return nil
}
