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

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// pipelineValidate is the validator instance for pipeline and chat
// datatypes. Initialized in init() with custom validators.
var pipelineValidate *validator.Validate

// MaxQueryBytes caps query and message bodies. Byte length, not runes, to
// bound memory on hostile payloads.
const MaxQueryBytes = 8 * 1024

func init() {
	pipelineValidate = validator.New()
	_ = pipelineValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = pipelineValidate.RegisterValidation("window", validateWindow)
}

// validateMaxBytes enforces MaxQueryBytes on string fields.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// validateWindow accepts the relative lookback vocabulary: 1d, 1w, 1m, 1y.
func validateWindow(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "1d", "1w", "1m", "1y":
		return true
	}
	return false
}

// =============================================================================
// Stage Vocabulary
// =============================================================================

// Stage names a pipeline stage. Stage results are recorded under these
// names in execution order.
type Stage string

const (
	StageSearch    Stage = "search"
	StageStore     Stage = "store"
	StageIndex     Stage = "index"
	StageSentiment Stage = "sentiment"
	StageAnalyze   Stage = "analyze"
	StageCards     Stage = "cards"
	StageMemory    Stage = "memory"
)

// StageOutcome is the terminal state of one stage within a run.
type StageOutcome string

const (
	StageSuccess   StageOutcome = "success"
	StageSkipped   StageOutcome = "skipped"
	StageFailed    StageOutcome = "failed"
	StageCancelled StageOutcome = "cancelled"
)

// StageResult records one stage's outcome on a run.
//
// An enabled stage that runs and yields zero items records success with a
// zero count; skipped is reserved for disabled stages.
type StageResult struct {
	Stage      Stage        `json:"stage"`
	Outcome    StageOutcome `json:"outcome"`
	ErrorKind  ErrorKind    `json:"error_kind,omitempty"`
	Error      string       `json:"error,omitempty"`
	Count      int          `json:"count"`
	DurationMs int64        `json:"duration_ms"`
}

// =============================================================================
// Pipeline Request
// =============================================================================

// StageToggles enables or disables individual stages. Search always runs;
// a disabled stage records skipped and does not block successors that do
// not require it.
type StageToggles struct {
	Store        bool `json:"store"`
	Index        bool `json:"index"`
	Analyze      bool `json:"analyze"`
	Card         bool `json:"card"`
	Sentiment    bool `json:"sentiment"`
	MemoryUpdate bool `json:"memory_update"`
}

// Any reports whether at least one stage is enabled. A request body
// that omits stages entirely gets AllStages applied by the handler.
func (t StageToggles) Any() bool {
	return t.Store || t.Index || t.Analyze || t.Card || t.Sentiment || t.MemoryUpdate
}

// AllStages returns toggles with every stage enabled.
func AllStages() StageToggles {
	return StageToggles{Store: true, Index: true, Analyze: true, Card: true, Sentiment: true, MemoryUpdate: true}
}

// QuickStages returns the quick-path toggles: cards only.
func QuickStages() StageToggles {
	return StageToggles{Card: true}
}

// PipelineRequest is the body of POST /v1/pipeline/process.
//
// # Description
//
// Carries the query, the requesting user, result and card bounds, the
// relative lookback window, and the per-stage toggles. Defaults are
// applied by EnsureDefaults; bounds are enforced by Validate.
//
// # Validation
//
//   - Query: required, <= 8KB.
//   - NumResults: 0..100 (default 10). Zero short-circuits the run with
//     empty arrays and no downstream stages.
//   - MaxCards: 1..10 (default 5).
//   - Window: one of "", "1d", "1w", "1m", "1y".
type PipelineRequest struct {
	Query      string       `json:"query" validate:"required,maxbytes"`
	UserID     string       `json:"user_id,omitempty"`
	NumResults *int         `json:"num_results,omitempty" validate:"omitempty,gte=0,lte=100"`
	MaxCards   *int         `json:"max_cards,omitempty" validate:"omitempty,gte=1,lte=10"`
	Window     string       `json:"window,omitempty" validate:"window"`
	Language   string       `json:"language,omitempty" validate:"omitempty,len=2"`
	Country    string       `json:"country,omitempty" validate:"omitempty,len=2"`
	Stages     StageToggles `json:"stages"`

	// Wait queues the request behind an in-flight run for the same user
	// (bounded depth 1) instead of returning BusyRetry.
	Wait bool `json:"wait,omitempty"`
}

// Validate checks bounds after JSON binding.
func (r *PipelineRequest) Validate() error {
	return pipelineValidate.Struct(r)
}

// EnsureDefaults fills unset optional fields.
func (r *PipelineRequest) EnsureDefaults() {
	if r.NumResults == nil {
		n := 10
		r.NumResults = &n
	}
	if r.MaxCards == nil {
		n := 5
		r.MaxCards = &n
	}
	if r.UserID == "" {
		r.UserID = "anonymous"
	}
	if r.Window == "" {
		r.Window = "1w"
	}
}

// =============================================================================
// Pipeline Run
// =============================================================================

// RunStatus is the status of a pipeline run. Queued and running are
// transient; the rest are terminal.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunRunning        RunStatus = "running"
	RunSuccess        RunStatus = "success"
	RunPartialSuccess RunStatus = "partial-success"
	RunFailed         RunStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunPartialSuccess || s == RunFailed
}

// RunCounts aggregates per-stage item counts.
type RunCounts struct {
	TotalFound     int `json:"total_found"`
	Stored         int `json:"stored"`
	Duplicates     int `json:"duplicates"`
	VectorsCreated int `json:"vectors_created"`
	CardsGenerated int `json:"cards_generated"`
}

// PipelineRun is the aggregate result of one orchestrator invocation.
//
// # Description
//
// Stage results appear in execution order. Warnings name degraded stages
// on partial successes. Cards and the corpus analysis are returned inline;
// the run record itself is retained for seven days and retrievable via
// GET /v1/pipeline/status/:runId.
type PipelineRun struct {
	RunID              string             `json:"run_id"`
	UserID             string             `json:"user_id"`
	Query              string             `json:"query"`
	Stages             StageToggles       `json:"stages"`
	Status             RunStatus          `json:"status"`
	StageResults       []StageResult      `json:"stage_results"`
	Counts             RunCounts          `json:"counts"`
	Cards              []NewsCard         `json:"cards,omitempty"`
	Analysis           string             `json:"analysis,omitempty"`
	SentimentCounts    map[string]int     `json:"sentiment_counts,omitempty"`
	Fingerprints       []string           `json:"fingerprints,omitempty"`
	RecommendedQueries []string           `json:"recommended_queries,omitempty"`
	Warnings           []string           `json:"warnings,omitempty"`
	Errors             []string           `json:"errors,omitempty"`
	StartedAt          time.Time          `json:"started_at"`
	TotalDurationMs    int64              `json:"total_duration_ms"`
}

// NewPipelineRun seeds a run record for a request.
func NewPipelineRun(req PipelineRequest) *PipelineRun {
	return &PipelineRun{
		RunID:     uuid.New().String(),
		UserID:    req.UserID,
		Query:     req.Query,
		Stages:    req.Stages,
		StartedAt: time.Now().UTC(),
	}
}

// StageResultFor returns the recorded result for a stage, if present.
func (r *PipelineRun) StageResultFor(stage Stage) (StageResult, bool) {
	for _, sr := range r.StageResults {
		if sr.Stage == stage {
			return sr, true
		}
	}
	return StageResult{}, false
}
