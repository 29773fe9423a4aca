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
	"sync"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

// userGate serializes pipeline runs per user: one active run, one
// queued waiter. A third concurrent request is rejected regardless of
// its wait preference.
type userGate struct {
	mu    sync.Mutex
	slots map[string]*gateSlot
}

type gateSlot struct {
	busy  bool
	queue chan struct{}
}

func newUserGate() *userGate {
	return &userGate{slots: make(map[string]*gateSlot)}
}

// acquire claims the user's slot. When the slot is busy, wait selects
// between queueing (depth 1) and an immediate BusyRetry. The returned
// release hands the slot to the queued waiter if one exists.
func (g *userGate) acquire(ctx context.Context, userID string, wait bool) (release func(), err error) {
	g.mu.Lock()
	slot := g.slots[userID]
	if slot == nil {
		slot = &gateSlot{}
		g.slots[userID] = slot
	}
	if !slot.busy {
		slot.busy = true
		g.mu.Unlock()
		return func() { g.release(userID) }, nil
	}
	if !wait || slot.queue != nil {
		g.mu.Unlock()
		return nil, &datatypes.BusyError{
			Kind: datatypes.KindBusyRetry, Resource: "user", ID: userID,
		}
	}
	handoff := make(chan struct{})
	slot.queue = handoff
	g.mu.Unlock()

	select {
	case <-handoff:
		return func() { g.release(userID) }, nil
	case <-ctx.Done():
		g.mu.Lock()
		handedOff := false
		select {
		case <-handoff:
			// Release fired between ctx.Done and the lock; the slot is
			// ours and must be given back.
			handedOff = true
		default:
			slot.queue = nil
		}
		g.mu.Unlock()
		if handedOff {
			g.release(userID)
		}
		return nil, ctx.Err()
	}
}

// release frees the slot or hands it to the queued waiter.
func (g *userGate) release(userID string) {
	g.mu.Lock()
	slot := g.slots[userID]
	if slot == nil {
		g.mu.Unlock()
		return
	}
	if slot.queue != nil {
		handoff := slot.queue
		slot.queue = nil
		g.mu.Unlock()
		close(handoff) // slot stays busy, ownership transfers
		return
	}
	delete(g.slots, userID)
	g.mu.Unlock()
}
