// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_SecondRequestRejectedWithoutWait(t *testing.T) {
	g := newUserGate()
	ctx := context.Background()

	release, err := g.acquire(ctx, "u1", false)
	require.NoError(t, err)

	_, err = g.acquire(ctx, "u1", false)
	require.Error(t, err)
	assert.Equal(t, datatypes.KindBusyRetry, datatypes.KindOf(err))

	release()
	release2, err := g.acquire(ctx, "u1", false)
	require.NoError(t, err)
	release2()
}

func TestGate_DistinctUsersIndependent(t *testing.T) {
	g := newUserGate()
	ctx := context.Background()

	r1, err := g.acquire(ctx, "u1", false)
	require.NoError(t, err)
	r2, err := g.acquire(ctx, "u2", false)
	require.NoError(t, err)
	r1()
	r2()
}

func TestGate_WaiterReceivesHandoff(t *testing.T) {
	g := newUserGate()
	ctx := context.Background()

	release, err := g.acquire(ctx, "u1", false)
	require.NoError(t, err)

	acquired := make(chan func(), 1)
	go func() {
		r, err := g.acquire(ctx, "u1", true)
		require.NoError(t, err)
		acquired <- r
	}()
	time.Sleep(20 * time.Millisecond)

	select {
	case <-acquired:
		t.Fatal("waiter acquired before release")
	default:
	}

	release()
	select {
	case r := <-acquired:
		r()
	case <-time.After(time.Second):
		t.Fatal("waiter never received the handoff")
	}
}

func TestGate_QueueDepthIsOne(t *testing.T) {
	g := newUserGate()
	ctx := context.Background()

	release, err := g.acquire(ctx, "u1", false)
	require.NoError(t, err)
	defer release()

	waiting := make(chan struct{})
	go func() {
		close(waiting)
		r, err := g.acquire(ctx, "u1", true)
		if err == nil {
			r()
		}
	}()
	<-waiting
	time.Sleep(20 * time.Millisecond)

	_, err = g.acquire(ctx, "u1", true)
	require.Error(t, err, "third request is rejected even with wait")
	assert.Equal(t, datatypes.KindBusyRetry, datatypes.KindOf(err))
}

func TestGate_WaiterHonorsCancellation(t *testing.T) {
	g := newUserGate()

	release, err := g.acquire(context.Background(), "u1", false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = g.acquire(ctx, "u1", true)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned queue slot is reusable.
	release()
	r, err := g.acquire(context.Background(), "u1", false)
	require.NoError(t, err)
	r()
}
