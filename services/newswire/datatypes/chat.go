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
// Messages
// =============================================================================

// Message is one conversation turn.
//
// Role is "user", "assistant", or "system". Synthetic system notes
// produced by history summarization carry role "system".
type Message struct {
	Role      string    `json:"role" validate:"required,oneof=user assistant system"`
	Content   string    `json:"content" validate:"required,maxbytes"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// TokenUsage is the provider-reported token accounting for one completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// =============================================================================
// Dialogue Requests / Responses
// =============================================================================

// ChatRequest is the body of POST /v1/chat.
//
// # Description
//
// One dialogue turn. An empty SessionID creates a new session implicitly.
// RunID restricts retrieval to articles from that pipeline run. Turns
// against a session are strictly serialized: a second request while one is
// in flight returns SessionBusy unless Wait is set.
//
// # Validation
//
//   - Message: required, <= 8KB.
//   - MaxContextNews: 1..10 (default 5).
//   - SimilarityFloor: 0..1 (default 0.2).
type ChatRequest struct {
	UserID          string   `json:"user_id,omitempty"`
	SessionID       string   `json:"session_id,omitempty" validate:"omitempty,uuid4"`
	Message         string   `json:"message" validate:"required,maxbytes"`
	MaxContextNews  *int     `json:"max_context_news,omitempty" validate:"omitempty,gte=1,lte=10"`
	SimilarityFloor *float64 `json:"similarity_floor,omitempty" validate:"omitempty,gte=0,lte=1"`
	RunID           string   `json:"run_id,omitempty" validate:"omitempty,uuid4"`
	UseMemory       *bool    `json:"use_memory,omitempty"`
	Personalize     *bool    `json:"personalize,omitempty"`
	Wait            bool     `json:"wait,omitempty"`
}

// Validate checks bounds after JSON binding.
func (r *ChatRequest) Validate() error {
	return pipelineValidate.Struct(r)
}

// EnsureDefaults fills unset optional fields.
func (r *ChatRequest) EnsureDefaults() {
	if r.UserID == "" {
		r.UserID = "anonymous"
	}
	if r.MaxContextNews == nil {
		n := 5
		r.MaxContextNews = &n
	}
	if r.SimilarityFloor == nil {
		f := 0.2
		r.SimilarityFloor = &f
	}
	if r.UseMemory == nil {
		b := true
		r.UseMemory = &b
	}
	if r.Personalize == nil {
		b := true
		r.Personalize = &b
	}
}

// ChatResponse is one completed dialogue turn.
//
// Confidence is the mean cosine of the retrieved chunks against the
// query, clamped into [0,1]. Sources are numbered to match the inline
// [n] citations in the reply. Warnings carries "LowRecall" when
// retrieval thinned below two results.
type ChatResponse struct {
	SessionID   string       `json:"session_id"`
	Reply       string       `json:"reply"`
	Sources     []SourceInfo `json:"sources,omitempty"`
	Confidence  float64      `json:"confidence"`
	Usage       TokenUsage   `json:"usage"`
	Suggestions []string     `json:"suggestions,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// =============================================================================
// Sessions
// =============================================================================

// SessionInfo is the listing shape for GET /v1/sessions.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
	TurnCount    int       `json:"turn_count"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

// SessionHistory is the shape for GET /v1/chat/:sessionId.
type SessionHistory struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}
