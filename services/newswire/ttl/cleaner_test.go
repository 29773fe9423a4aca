// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func sessionIdleFor(id string, idle time.Duration) datatypes.SessionInfo {
	return datatypes.SessionInfo{
		SessionID:    id,
		LastActivity: fixedNow.Add(-idle),
	}
}

type deleteRecorder struct {
	mu      sync.Mutex
	deleted []string
	turns   int
	err     error
}

func (d *deleteRecorder) delete(_ context.Context, sessionID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return 0, d.err
	}
	d.deleted = append(d.deleted, sessionID)
	return d.turns, nil
}

func (d *deleteRecorder) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deleted...)
}

func newFixedCleaner(list ListSessionsFunc, del DeleteSessionFunc, cfg Config) *Cleaner {
	c := NewCleaner(list, del, cfg)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestRunNow_DeletesOnlyExpiredSessions(t *testing.T) {
	sessions := []datatypes.SessionInfo{
		sessionIdleFor("fresh", time.Hour),
		sessionIdleFor("stale", 8*24*time.Hour),
		sessionIdleFor("ancient", 30*24*time.Hour),
	}
	rec := &deleteRecorder{turns: 4}
	c := newFixedCleaner(
		func(_ context.Context, _ int) ([]datatypes.SessionInfo, error) { return sessions, nil },
		rec.delete,
		Config{},
	)

	result := c.RunNow(context.Background())

	assert.Equal(t, 2, result.SessionsFound)
	assert.Equal(t, 2, result.SessionsDeleted)
	assert.Equal(t, 8, result.TurnsDeleted)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{"stale", "ancient"}, rec.ids())
}

func TestRunNow_ZeroLastActivitySkipped(t *testing.T) {
	sessions := []datatypes.SessionInfo{{SessionID: "no-activity"}}
	rec := &deleteRecorder{}
	c := newFixedCleaner(
		func(_ context.Context, _ int) ([]datatypes.SessionInfo, error) { return sessions, nil },
		rec.delete,
		Config{},
	)

	result := c.RunNow(context.Background())
	assert.Zero(t, result.SessionsFound)
	assert.Empty(t, rec.ids())
}

func TestRunNow_ListFailureRecorded(t *testing.T) {
	c := newFixedCleaner(
		func(_ context.Context, _ int) ([]datatypes.SessionInfo, error) {
			return nil, errors.New("weaviate down")
		},
		(&deleteRecorder{}).delete,
		Config{},
	)

	result := c.RunNow(context.Background())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "list sessions failed")
}

func TestRunNow_DeleteFailureSkipsSession(t *testing.T) {
	sessions := []datatypes.SessionInfo{sessionIdleFor("stale", 8 * 24 * time.Hour)}
	rec := &deleteRecorder{err: errors.New("cascade failed")}
	c := newFixedCleaner(
		func(_ context.Context, _ int) ([]datatypes.SessionInfo, error) { return sessions, nil },
		rec.delete,
		Config{},
	)

	result := c.RunNow(context.Background())
	assert.Equal(t, 1, result.SessionsFound)
	assert.Zero(t, result.SessionsDeleted)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "delete stale failed")
}

func TestRunNow_CustomTTL(t *testing.T) {
	sessions := []datatypes.SessionInfo{sessionIdleFor("hour-old", 2 * time.Hour)}
	rec := &deleteRecorder{}
	c := newFixedCleaner(
		func(_ context.Context, _ int) ([]datatypes.SessionInfo, error) { return sessions, nil },
		rec.delete,
		Config{SessionTTL: time.Hour},
	)

	result := c.RunNow(context.Background())
	assert.Equal(t, 1, result.SessionsDeleted)
}

func TestStart_SecondStartFails(t *testing.T) {
	c := NewCleaner(
		func(_ context.Context, _ int) ([]datatypes.SessionInfo, error) { return nil, nil },
		(&deleteRecorder{}).delete,
		Config{Interval: time.Hour},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Start(ctx))
	require.Error(t, c.Start(ctx))

	c.Stop()
	c.Stop() // idempotent

	require.NoError(t, c.Start(ctx))
	c.Stop()
}

func TestStart_RunsInitialCycle(t *testing.T) {
	listed := make(chan struct{}, 1)
	c := NewCleaner(
		func(_ context.Context, _ int) ([]datatypes.SessionInfo, error) {
			select {
			case listed <- struct{}{}:
			default:
			}
			return nil, nil
		},
		(&deleteRecorder{}).delete,
		Config{Interval: time.Hour},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	select {
	case <-listed:
	case <-time.After(time.Second):
		t.Fatal("initial cleanup cycle never ran")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Hour, cfg.Interval)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 100, cfg.BatchSize)
}
