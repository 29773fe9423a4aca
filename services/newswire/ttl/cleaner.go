// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl evicts idle dialogue sessions on a schedule.
//
// Session deletion cascades turns before the session object; the delete
// function is injected so tests and the composition root decide what a
// delete actually touches. Pipeline run records are not handled here:
// the run store's native TTL expires them.
package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

// ListSessionsFunc returns candidate sessions, newest activity first.
// The cleaner filters by last activity itself.
type ListSessionsFunc func(ctx context.Context, limit int) ([]datatypes.SessionInfo, error)

// DeleteSessionFunc removes one session and everything scoped to it,
// returning how many turns went with it.
type DeleteSessionFunc func(ctx context.Context, sessionID string) (int, error)

// Config holds the cleaner schedule.
//
// # Fields
//
//   - Interval: How often to run cleanup cycles. Default: 1 hour.
//   - SessionTTL: Idle time after which a session expires. Default: 7 days.
//   - BatchSize: Maximum sessions examined per cycle. Default: 100.
type Config struct {
	Interval   time.Duration
	SessionTTL time.Duration
	BatchSize  int
}

// DefaultConfig returns the production schedule.
func DefaultConfig() Config {
	return Config{
		Interval:   1 * time.Hour,
		SessionTTL: 7 * 24 * time.Hour,
		BatchSize:  100,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = d.SessionTTL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
}

// CleanupResult summarizes one cleanup cycle.
type CleanupResult struct {
	StartTime       time.Time
	EndTime         time.Time
	SessionsFound   int
	SessionsDeleted int
	TurnsDeleted    int
	Errors          []string
}

// DurationMs is the cycle wall time in milliseconds.
func (r CleanupResult) DurationMs() int64 {
	return r.EndTime.Sub(r.StartTime).Milliseconds()
}

// Cleaner runs the eviction loop.
//
// # Thread Safety
//
// All public methods are safe for concurrent use. Only one loop runs at
// a time; a second Start fails until Stop.
type Cleaner struct {
	list   ListSessionsFunc
	delete DeleteSessionFunc
	cfg    Config

	mu      sync.Mutex
	running bool
	done    chan struct{}

	now func() time.Time
}

// NewCleaner creates a session cleaner. Both functions must be non-nil.
func NewCleaner(list ListSessionsFunc, del DeleteSessionFunc, cfg Config) *Cleaner {
	cfg.applyDefaults()
	return &Cleaner{
		list:   list,
		delete: del,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Start launches the background loop. The first cycle runs immediately.
func (c *Cleaner) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("session cleaner is already running")
	}
	c.running = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	slog.Info("Session cleaner starting",
		"interval", c.cfg.Interval.String(),
		"session_ttl", c.cfg.SessionTTL.String(),
		"batch_size", c.cfg.BatchSize,
	)
	go c.runLoop(ctx)
	return nil
}

// Stop signals the loop to exit. Safe to call repeatedly.
func (c *Cleaner) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	slog.Info("Session cleaner stopping")
	close(c.done)
	c.running = false
}

// RunNow performs one cleanup cycle outside the schedule.
func (c *Cleaner) RunNow(ctx context.Context) CleanupResult {
	return c.runCycle(ctx)
}

func (c *Cleaner) runLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.executeCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Session cleaner stopped (context cancelled)")
			return
		case <-c.done:
			slog.Info("Session cleaner stopped (stop requested)")
			return
		case <-ticker.C:
			c.executeCycle(ctx)
		}
	}
}

func (c *Cleaner) executeCycle(ctx context.Context) {
	result := c.runCycle(ctx)
	if result.SessionsFound > 0 || len(result.Errors) > 0 {
		slog.Info("Session cleanup cycle completed",
			"sessions_found", result.SessionsFound,
			"sessions_deleted", result.SessionsDeleted,
			"turns_deleted", result.TurnsDeleted,
			"errors", len(result.Errors),
			"duration_ms", result.DurationMs(),
		)
	} else {
		slog.Debug("Session cleanup cycle completed (no expired sessions)")
	}
}

// runCycle lists candidates, filters by last activity, and deletes the
// expired ones. Individual delete failures are recorded and skipped; the
// session stays for the next cycle.
func (c *Cleaner) runCycle(ctx context.Context) (result CleanupResult) {
	result.StartTime = c.now()
	defer func() { result.EndTime = c.now() }()

	sessions, err := c.list(ctx, c.cfg.BatchSize)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("list sessions failed: %v", err))
		return result
	}

	cutoff := c.now().Add(-c.cfg.SessionTTL)
	for i := range sessions {
		s := &sessions[i]
		if s.LastActivity.IsZero() || s.LastActivity.After(cutoff) {
			continue
		}
		result.SessionsFound++

		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, "context cancelled mid-cycle")
			return result
		}

		turns, err := c.delete(ctx, s.SessionID)
		if err != nil {
			slog.Warn("Expired session delete failed",
				"session_id", s.SessionID, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("delete %s failed: %v", s.SessionID, err))
			continue
		}
		result.SessionsDeleted++
		result.TurnsDeleted += turns
		slog.Debug("Expired session deleted",
			"session_id", s.SessionID,
			"turns_deleted", turns,
			"last_activity", s.LastActivity,
		)
	}
	return result
}
