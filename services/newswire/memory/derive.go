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
	"math"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

// DefaultHalfLife is the exponential decay half-life applied to
// interaction weights.
const DefaultHalfLife = 14 * 24 * time.Hour

// DefaultActionWeights maps interaction actions to their base weights.
func DefaultActionWeights() map[datatypes.InteractionAction]float64 {
	return map[datatypes.InteractionAction]float64{
		datatypes.ActionQuery:        1.0,
		datatypes.ActionView:         0.3,
		datatypes.ActionLike:         1.5,
		datatypes.ActionShare:        1.2,
		datatypes.ActionDwell:        0.4,
		datatypes.ActionDialogueTurn: 0.8,
	}
}

// decayFactor returns 2^(−Δ/halfLife) for the span from→to. Spans that
// do not advance time decay by 1 so re-anchoring is monotone.
func decayFactor(from, to time.Time, halfLife time.Duration) float64 {
	if !from.Before(to) {
		return 1
	}
	return math.Exp2(-to.Sub(from).Hours() / halfLife.Hours())
}

// interactionWeight is the action weight scaled by the record's
// importance (default 1 when unset).
func interactionWeight(rec *datatypes.InteractionRecord, weights map[datatypes.InteractionAction]float64) float64 {
	w := weights[rec.Action]
	if rec.Importance > 0 {
		w *= rec.Importance
	}
	return w
}

// derivedState is the incrementally maintained profile accumulator.
//
// VectorSum is Σ w·d·e over embedded interactions, Weight the matching
// Σ w·d, and Categories the per-category Σ w·d — all anchored at
// AnchoredAt. Re-anchoring to a later instant multiplies every term by
// the same decay factor, so the mean vector and the category ratios the
// consumers read are anchor-independent.
type derivedState struct {
	VectorSum  []float64
	Weight     float64
	Categories map[string]float64
	AnchoredAt time.Time
}

func newDerivedState(at time.Time) *derivedState {
	return &derivedState{Categories: make(map[string]float64), AnchoredAt: at}
}

// rebase advances the anchor to now, decaying every accumulated term.
func (s *derivedState) rebase(now time.Time, halfLife time.Duration) {
	c := decayFactor(s.AnchoredAt, now, halfLife)
	if c != 1 {
		for i := range s.VectorSum {
			s.VectorSum[i] *= c
		}
		s.Weight *= c
		for k := range s.Categories {
			s.Categories[k] *= c
		}
	}
	s.AnchoredAt = now
}

// fold adds one interaction, decayed from its timestamp to the anchor.
// The embedding may be nil for text-less interactions.
func (s *derivedState) fold(rec *datatypes.InteractionRecord, embedding []float32, weights map[datatypes.InteractionAction]float64, halfLife time.Duration) {
	w := interactionWeight(rec, weights)
	if w == 0 {
		return
	}
	d := w * decayFactor(rec.Timestamp, s.AnchoredAt, halfLife)

	if len(embedding) > 0 {
		if len(s.VectorSum) != len(embedding) {
			// Embedding dimensionality changed (model swap): restart
			// the vector sum from this point.
			s.VectorSum = make([]float64, len(embedding))
			s.Weight = 0
		}
		for i, x := range embedding {
			s.VectorSum[i] += d * float64(x)
		}
		s.Weight += d
	}

	if rec.Category != "" {
		s.Categories[rec.Category] += d
	}
}

// meanVector returns VectorSum / Weight as float32, or nil when no
// embedded interaction has been folded.
func (s *derivedState) meanVector() []float32 {
	if s.Weight == 0 || len(s.VectorSum) == 0 {
		return nil
	}
	mean := make([]float32, len(s.VectorSum))
	for i, x := range s.VectorSum {
		mean[i] = float32(x / s.Weight)
	}
	return mean
}

// normalizeWeights scales category weights so the largest is 1. Ratios
// are preserved; an empty map stays nil.
func normalizeWeights(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	var max float64
	for _, w := range raw {
		if w > max {
			max = w
		}
	}
	if max == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, w := range raw {
		out[k] = w / max
	}
	return out
}

// stateFromProfile reconstructs the accumulator from a stored profile.
// InterestVector is the mean, so the sum is mean · weight.
func stateFromProfile(p *datatypes.UserProfile) *derivedState {
	s := newDerivedState(p.UpdatedAt)
	s.Weight = p.InterestWeight
	if len(p.InterestVector) > 0 && p.InterestWeight > 0 {
		s.VectorSum = make([]float64, len(p.InterestVector))
		for i, x := range p.InterestVector {
			s.VectorSum[i] = float64(x) * p.InterestWeight
		}
	}
	for k, w := range p.CategoryWeights {
		s.Categories[k] = w
	}
	return s
}

// applyToProfile writes the accumulator back onto the profile. Category
// weights are stored raw; GetProfile normalizes the exposed copy.
func (s *derivedState) applyToProfile(p *datatypes.UserProfile) {
	p.InterestVector = s.meanVector()
	p.InterestWeight = s.Weight
	if len(s.Categories) > 0 {
		p.CategoryWeights = s.Categories
	} else {
		p.CategoryWeights = nil
	}
	p.UpdatedAt = s.AnchoredAt
}

// countAction bumps the matching profile counter.
func countAction(p *datatypes.UserProfile, action datatypes.InteractionAction) {
	switch action {
	case datatypes.ActionQuery:
		p.Counters.QueriesIssued++
	case datatypes.ActionView, datatypes.ActionDwell:
		p.Counters.ArticlesViewed++
	case datatypes.ActionLike:
		p.Counters.CardsLiked++
	case datatypes.ActionDialogueTurn:
		p.Counters.DialogueTurns++
	}
}
