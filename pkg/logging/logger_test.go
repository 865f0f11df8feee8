// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" Warn ", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func newBufferLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	logger := New(cfg)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNew_ServiceAttribute(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Service: "bench"})
	logger.Info("hello", "k", "v")

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0]["service"] != "bench" {
		t.Errorf("service = %v, want bench", lines[0]["service"])
	}
	if lines[0]["k"] != "v" {
		t.Errorf("k = %v, want v", lines[0]["k"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Format: FormatText})
	logger.Info("hello")

	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output missing msg: %q", buf.String())
	}
}

func TestNew_AutoFormatNonTerminal(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Format: FormatAuto})
	logger.Info("hello")

	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("auto format on a buffer should be JSON, got %q", buf.String())
	}
}

func TestNew_Quiet(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Quiet: true})
	logger.Error("dropped")

	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Level: LevelWarn})
	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	lines := decodeLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %s", len(lines), buf.String())
	}
	if lines[0]["msg"] != "w" || lines[1]["msg"] != "e" {
		t.Errorf("unexpected messages: %v", lines)
	}
}

func TestLogger_SetLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Level: LevelInfo})
	child := logger.With("component", "reconciler")

	child.Debug("hidden")
	logger.SetLevel(LevelDebug)
	child.Debug("shown")

	if logger.Level() != LevelDebug || child.Level() != LevelDebug {
		t.Errorf("Level() = %v/%v, want DEBUG", logger.Level(), child.Level())
	}

	lines := decodeLines(t, buf)
	if len(lines) != 1 || lines[0]["msg"] != "shown" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if lines[0]["component"] != "reconciler" {
		t.Errorf("component = %v", lines[0]["component"])
	}

	child.SetLevel(LevelError)
	if logger.Level() != LevelError {
		t.Errorf("child SetLevel should change the shared level, got %v", logger.Level())
	}
}

func TestLogger_Slog(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{})
	logger.Slog().LogAttrs(context.Background(), slog.LevelInfo, "attrs", slog.Int("n", 3))

	lines := decodeLines(t, buf)
	if len(lines) != 1 || lines[0]["n"] != float64(3) {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestLogger_FileLogging(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, _ := newBufferLogger(t, Config{LogDir: dir, Service: "svc", Quiet: true})
	logger.Info("to file", "batch", 7)

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "svc_*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("log files = %v, err = %v", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to file"`) || !strings.Contains(string(data), `"batch":7`) {
		t.Errorf("file content = %s", data)
	}
}

func TestLogger_FileLoggingInvalidDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}

	logger, buf := newBufferLogger(t, Config{LogDir: filepath.Join(blocker, "sub")})
	if logger.file != nil {
		t.Error("expected file logging to be disabled")
	}
	if !strings.Contains(buf.String(), "file logging disabled") {
		t.Errorf("expected a notice on stderr, got %q", buf.String())
	}
}

func TestLogger_ChildCloseIsNoop(t *testing.T) {
	dir := t.TempDir()
	logger, _ := newBufferLogger(t, Config{LogDir: dir, Quiet: true})
	child := logger.With("k", "v")

	if err := child.Close(); err != nil {
		t.Fatalf("child Close() error = %v", err)
	}
	child.Info("still open")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	logger, buf := newBufferLogger(t, Config{Quiet: true})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.With("worker", n).Info("tick")
				if j%10 == 0 {
					logger.SetLevel(LevelInfo)
				}
			}
		}(i)
	}
	wg.Wait()
	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote output")
	}
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

type failingHandler struct {
	slog.Handler
	calls int
}

func (h *failingHandler) Handle(context.Context, slog.Record) error {
	h.calls++
	return errors.New("handler failed")
}

func TestMultiHandler_HandleContinuesAfterError(t *testing.T) {
	var buf bytes.Buffer
	failing := &failingHandler{Handler: slog.NewJSONHandler(&buf, nil)}
	ok := slog.NewJSONHandler(&buf, nil)
	h := &multiHandler{handlers: []slog.Handler{failing, ok}}

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "m", 0))
	if err == nil {
		t.Error("expected the first handler's error")
	}
	if failing.calls != 1 {
		t.Errorf("failing handler calls = %d", failing.calls)
	}
	if !strings.Contains(buf.String(), `"msg":"m"`) {
		t.Errorf("second handler did not receive the record: %q", buf.String())
	}
}

func TestMultiHandler_Enabled(t *testing.T) {
	warn := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	debug := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug})

	h := &multiHandler{handlers: []slog.Handler{warn}}
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info should be disabled when only a Warn handler exists")
	}
	h = &multiHandler{handlers: []slog.Handler{warn, debug}}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info should be enabled when any handler accepts it")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}
