// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/consistent/pkg/config"
	"github.com/AleutianAI/consistent/pkg/consistent"
	"github.com/AleutianAI/consistent/services/loadgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, journal string) string {
	t.Helper()
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")

	body := fmt.Sprintf(`
logging:
  level: warn
  format: text
telemetry:
  trace_exporter: none
  metric_exporter: none
journal:
%s
workload:
  workers: 2
  variables: 4
  transactions: 10
  span: 2
  seed: 7
monitor:
  addr: "127.0.0.1:0"
`, journal)
	path := filepath.Join(t.TempDir(), "consistent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestBench_JSON(t *testing.T) {
	cfg := writeConfig(t, "  in_memory: true")

	out, _, err := execute(t, "--config", cfg, "bench", "--json")
	require.NoError(t, err)

	var report loadgen.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Consistent)
	assert.Equal(t, 2, report.Workers)
	assert.Equal(t, int64(20), report.Transactions)
	assert.Equal(t, int64(20), report.Committed+report.Rejected)
	assert.Equal(t, report.Committed*2, report.Sum)
	assert.Len(t, report.Counters, 4)
}

func TestBench_FlagsOverrideWorkload(t *testing.T) {
	cfg := writeConfig(t, "  in_memory: false")

	out, _, err := execute(t, "--config", cfg, "bench", "--json",
		"--workers", "3", "--transactions", "5", "--variables", "6", "--span", "1")
	require.NoError(t, err)

	var report loadgen.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.Workers)
	assert.Equal(t, int64(15), report.Transactions)
	assert.Len(t, report.Counters, 6)
	assert.True(t, report.Consistent)
}

func TestBench_Summary(t *testing.T) {
	cfg := writeConfig(t, "  in_memory: false")

	out, _, err := execute(t, "--config", cfg, "bench")
	require.NoError(t, err)
	assert.Contains(t, out, "consistent bench")
	assert.Contains(t, out, "committed:")
	assert.Contains(t, out, "OK: counters match committed batches")
}

func TestBench_InvalidWorkload(t *testing.T) {
	cfg := writeConfig(t, "  in_memory: false")

	_, _, err := execute(t, "--config", cfg, "bench", "--span", "9")
	require.Error(t, err)
	assert.ErrorIs(t, err, loadgen.ErrInvalidConfig)
}

func TestRoot_InvalidLogLevel(t *testing.T) {
	cfg := writeConfig(t, "  in_memory: false")

	_, _, err := execute(t, "--config", cfg, "--log-level", "loud", "bench")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestJournal_AfterBench(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")
	cfg := writeConfig(t, fmt.Sprintf("  path: %q\n  sync_writes: false", dir))

	_, _, err := execute(t, "--config", cfg, "bench")
	require.NoError(t, err)

	out, _, err := execute(t, "--config", cfg, "journal", "--json", "--limit", "5")
	require.NoError(t, err)

	var records []consistent.BatchRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 5)
	for i := 1; i < len(records); i++ {
		assert.Less(t, records[i-1].Seq, records[i].Seq)
	}

	out, _, err = execute(t, "--config", cfg, "journal")
	require.NoError(t, err)
	assert.Contains(t, out, "records:")
	assert.Contains(t, out, "20")
}

func TestJournal_PathFlag(t *testing.T) {
	cfg := writeConfig(t, "  in_memory: false")

	out, _, err := execute(t, "--config", cfg, "journal", "--path", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "journal is empty")
}

func TestJournal_NotConfigured(t *testing.T) {
	cfg := writeConfig(t, "  in_memory: false")

	_, _, err := execute(t, "--config", cfg, "journal")
	assert.ErrorIs(t, err, errNoJournal)
}

func TestServe_StopsAfterDuration(t *testing.T) {
	cfg := writeConfig(t, "  in_memory: true")

	start := time.Now()
	_, _, err := execute(t, "--config", cfg, "serve",
		"--duration", "300ms", "--pause", "10ms", "--passes", "2")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}
