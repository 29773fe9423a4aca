// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"testing"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/stretchr/testify/assert"
)

func TestDecayFactor(t *testing.T) {
	base := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 1.0, decayFactor(base, base, DefaultHalfLife))
	assert.Equal(t, 1.0, decayFactor(base, base.Add(-time.Hour), DefaultHalfLife),
		"backward spans never amplify")
	assert.InDelta(t, 0.5, decayFactor(base, base.Add(14*24*time.Hour), DefaultHalfLife), 1e-9)
	assert.InDelta(t, 0.25, decayFactor(base, base.Add(28*24*time.Hour), DefaultHalfLife), 1e-9)
}

func TestInteractionWeight(t *testing.T) {
	weights := DefaultActionWeights()

	like := &datatypes.InteractionRecord{Action: datatypes.ActionLike}
	assert.Equal(t, 1.5, interactionWeight(like, weights))

	halved := &datatypes.InteractionRecord{Action: datatypes.ActionLike, Importance: 0.5}
	assert.Equal(t, 0.75, interactionWeight(halved, weights))

	unknown := &datatypes.InteractionRecord{Action: "bookmark"}
	assert.Zero(t, interactionWeight(unknown, weights))
}

func TestNormalizeWeights(t *testing.T) {
	assert.Nil(t, normalizeWeights(nil))
	assert.Nil(t, normalizeWeights(map[string]float64{}))

	got := normalizeWeights(map[string]float64{"tech": 2.0, "sports": 0.5})
	assert.InDelta(t, 1.0, got["tech"], 1e-9)
	assert.InDelta(t, 0.25, got["sports"], 1e-9)
}

func TestFold_DimensionChangeResets(t *testing.T) {
	now := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	weights := DefaultActionWeights()
	state := newDerivedState(now)

	rec := &datatypes.InteractionRecord{Action: datatypes.ActionQuery, Timestamp: now}
	state.fold(rec, []float32{1, 0}, weights, DefaultHalfLife)
	assert.Len(t, state.VectorSum, 2)

	// A new embedding dimensionality restarts the vector accumulator.
	state.fold(rec, []float32{0, 1, 0}, weights, DefaultHalfLife)
	assert.Len(t, state.VectorSum, 3)
	assert.InDelta(t, 1.0, state.Weight, 1e-9)
}

func TestRebase_PreservesMean(t *testing.T) {
	now := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	weights := DefaultActionWeights()
	state := newDerivedState(now)

	rec := &datatypes.InteractionRecord{Action: datatypes.ActionQuery, Timestamp: now, Category: "tech"}
	state.fold(rec, []float32{2, 4}, weights, DefaultHalfLife)
	before := state.meanVector()

	state.rebase(now.Add(14*24*time.Hour), DefaultHalfLife)
	after := state.meanVector()

	assert.InDelta(t, 0.5, state.Weight, 1e-9, "weight halves over one half-life")
	for i := range before {
		assert.InDelta(t, before[i], after[i], 1e-6, "mean direction is anchor-independent")
	}
	assert.InDelta(t, 0.5, state.Categories["tech"], 1e-9)
}
