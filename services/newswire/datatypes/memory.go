// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// =============================================================================
// Interactions
// =============================================================================

// InteractionAction is the behavior class of one recorded interaction.
type InteractionAction string

const (
	ActionQuery        InteractionAction = "query"
	ActionView         InteractionAction = "view"
	ActionLike         InteractionAction = "like"
	ActionShare        InteractionAction = "share"
	ActionDwell        InteractionAction = "dwell"
	ActionDialogueTurn InteractionAction = "dialogue-turn"
)

// ValidAction reports whether a is a recognized interaction action.
func ValidAction(a InteractionAction) bool {
	switch a {
	case ActionQuery, ActionView, ActionLike, ActionShare, ActionDwell, ActionDialogueTurn:
		return true
	}
	return false
}

// InteractionRecord is one append-only entry in a user's behavior log.
//
// # Description
//
// The log is the source of truth for a user's derived profile: interest
// vector and category weights are recomputable from it. Records are
// ordered by timestamp per user and never mutated.
//
// # Fields
//
//   - Target: article fingerprint or session id the action refers to.
//   - Text: the query or message text associated with the action, used
//     for interest-vector embedding.
//   - Category: article category when the target is an article.
//   - Importance: caller-weighted significance in [0,1], default 1.
type InteractionRecord struct {
	UserID     string            `json:"user_id" validate:"required"`
	Timestamp  time.Time         `json:"timestamp"`
	Action     InteractionAction `json:"action" validate:"required"`
	Target     string            `json:"target,omitempty"`
	Text       string            `json:"text,omitempty" validate:"omitempty,maxbytes"`
	Category   string            `json:"category,omitempty"`
	Importance float64           `json:"importance,omitempty" validate:"gte=0,lte=1"`
}

// Validate checks bounds after JSON binding.
func (r *InteractionRecord) Validate() error {
	if !ValidAction(r.Action) {
		return &ProviderError{Kind: KindValidation, Provider: "interaction", Message: "unknown action " + string(r.Action)}
	}
	return pipelineValidate.Struct(r)
}

// =============================================================================
// User Profiles
// =============================================================================

// StylePreferences are the user-set response shaping hints carried into
// dialogue prompts.
type StylePreferences struct {
	ResponseLength       string  `json:"response_length,omitempty" validate:"omitempty,oneof=short medium long"`
	Formality            string  `json:"formality,omitempty" validate:"omitempty,oneof=casual neutral formal"`
	DetailDepth          string  `json:"detail_depth,omitempty" validate:"omitempty,oneof=overview balanced deep"`
	PersonalizationLevel float64 `json:"personalization_level" validate:"gte=0,lte=1"`
}

// ProfileCounters tracks interaction volume per class.
type ProfileCounters struct {
	QueriesIssued  int `json:"queries_issued"`
	ArticlesViewed int `json:"articles_viewed"`
	CardsLiked     int `json:"cards_liked"`
	DialogueTurns  int `json:"dialogue_turns"`
}

// UserProfile is the derived view over a user's interaction log.
//
// # Description
//
// InterestVector is the weighted running mean of embeddings of texts the
// user engaged with, action-weighted and decayed with a 14-day half-life.
// CategoryWeights are normalized decayed counts. Both are derivable from
// the interaction log; Rebuild recomputes them from scratch and must agree
// with the incrementally maintained state within floating-point tolerance.
//
// # Invariants
//
//   - CategoryWeights values lie in [0,1] and are normalized to max 1.
//   - PersonalizationLevel is user-set, default 0.5.
type UserProfile struct {
	UserID           string             `json:"user_id"`
	InterestVector   []float32          `json:"interest_vector,omitempty"`
	InterestWeight   float64            `json:"interest_weight,omitempty"`
	CategoryWeights  map[string]float64 `json:"category_weights,omitempty"`
	PreferredSources []string           `json:"preferred_sources,omitempty"`
	Style            StylePreferences   `json:"style"`
	Counters         ProfileCounters    `json:"counters"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`

	// DerivedThrough marks the newest interaction folded into the
	// derived fields; later log entries are pending.
	DerivedThrough time.Time `json:"derived_through,omitempty"`
}

// TopCategories returns up to n categories by descending weight,
// deterministic on ties (lexicographic).
func (p *UserProfile) TopCategories(n int) []string {
	if len(p.CategoryWeights) == 0 || n <= 0 {
		return nil
	}
	cats := make([]string, 0, len(p.CategoryWeights))
	for c := range p.CategoryWeights {
		cats = append(cats, c)
	}
	// Insertion sort; category maps stay small.
	for i := 1; i < len(cats); i++ {
		for j := i; j > 0; j-- {
			wa, wb := p.CategoryWeights[cats[j]], p.CategoryWeights[cats[j-1]]
			if wa > wb || (wa == wb && cats[j] < cats[j-1]) {
				cats[j], cats[j-1] = cats[j-1], cats[j]
			} else {
				break
			}
		}
	}
	if len(cats) > n {
		cats = cats[:n]
	}
	return cats
}

// ProfileUpdateRequest is the body of PUT /v1/user/:id/profile.
// Only style preferences and preferred sources are caller-settable;
// derived fields are recomputed, not patched.
type ProfileUpdateRequest struct {
	Style            *StylePreferences `json:"style,omitempty"`
	PreferredSources []string          `json:"preferred_sources,omitempty"`
}

// Validate checks bounds after JSON binding.
func (r *ProfileUpdateRequest) Validate() error {
	return pipelineValidate.Struct(r)
}
