// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitor serves a read-only HTTP view of a running runtime.
//
//	GET /healthz             liveness plus active/pending counts
//	GET /v1/stats            consistent.Stats as JSON
//	GET /v1/journal?limit=N  the last N journal records, oldest first
//	GET /metrics             Prometheus scrape (when a handler is given)
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/consistent/pkg/consistent"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// StatsSource reports runtime statistics. *consistent.Runtime satisfies it.
type StatsSource interface {
	Stats() consistent.Stats
}

// JournalReader lists recent batch records. *journal.Journal satisfies it.
type JournalReader interface {
	List(ctx context.Context, limit int) ([]consistent.BatchRecord, error)
}

// NewRouter builds the monitor's gin engine.
//
// Inputs:
//   - src: Stats source. Must not be nil.
//   - j: Journal reader. If nil, /v1/journal answers 404.
//   - metrics: Prometheus handler. If nil, /metrics is not registered.
//
// Outputs:
//   - *gin.Engine: Ready to serve.
func NewRouter(src StatsSource, j JournalReader, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("consistent-monitor"))
	router.Use(requestLogger(slog.Default().With(slog.String("component", "monitor"))))

	router.GET("/healthz", healthz(src))

	v1 := router.Group("/v1")
	{
		v1.GET("/stats", stats(src))
		v1.GET("/journal", journalRecords(j))
	}

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}

func healthz(src StatsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := src.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"runtime_id": st.RuntimeID,
			"active":     st.Active,
			"pending":    st.Pending,
		})
	}
}

func stats(src StatsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Stats())
	}
}

func journalRecords(j JournalReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if j == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
			return
		}

		limit := defaultJournalLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxJournalLimit {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("limit must be an integer between 1 and %d", maxJournalLimit),
				})
				return
			}
			limit = n
		}

		records, err := j.List(c.Request.Context(), limit)
		if err != nil {
			slog.Error("list journal failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
			return
		}
		if records == nil {
			records = []consistent.BatchRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
	}
}

// requestLogger logs each request at Debug.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully within five seconds.
//
// Outputs:
//   - error: nil after a clean shutdown, or the listen/shutdown error.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("monitor listening", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("monitor: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("monitor shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}
