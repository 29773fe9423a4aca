// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orchestrates the news processing stage graph:
// search, store, then index / sentiment / corpus analysis in parallel,
// then cards and the memory update. Each stage records an outcome on
// the run; criticality decides whether a failure aborts, degrades, or
// merely warns.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/llm"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/cards"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/index"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/memory"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/observability"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/runs"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/search"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/sentiment"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("aleutian.newswire.pipeline")

// DefaultDeadline bounds one full pipeline run.
const DefaultDeadline = 300 * time.Second

// TrendSink receives completed runs for time-series recording.
type TrendSink interface {
	RecordRun(ctx context.Context, run *datatypes.PipelineRun) error
}

// RunArchiver mirrors completed runs to long-term storage.
type RunArchiver interface {
	Archive(ctx context.Context, run *datatypes.PipelineRun) error
}

// Config tunes the orchestrator.
type Config struct {
	// Deadline is the overall per-run budget. Zero selects 300 s.
	Deadline time.Duration

	// Provider concurrency caps. Zero selects the defaults.
	SearchConcurrency    int
	LLMConcurrency       int
	SentimentConcurrency int
}

// Deps wires the orchestrator's collaborators. Search and LLM are
// required; the rest are optional and their stages degrade or skip.
type Deps struct {
	Search   search.Provider
	Store    store.Store
	Index    index.Index
	Scorer   sentiment.Scorer
	Cards    *cards.Synthesizer
	LLM      llm.LLMClient
	Memory   memory.Store
	Runs     runs.Store
	Trends   TrendSink
	Archiver RunArchiver
}

// Orchestrator runs the stage graph.
//
// # Thread Safety
//
// Safe for concurrent use. Runs for distinct users proceed in
// parallel; runs for the same user are serialized with a queue depth
// of one.
type Orchestrator struct {
	deps     Deps
	deadline time.Duration

	// runMu guards run-record mutation from sibling stages.
	runMu sync.Mutex

	gate      *userGate
	searchSem chan struct{}
	llmSem    chan struct{}
	scoreSem  chan struct{}

	now func() time.Time
}

// New creates an orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.SearchConcurrency <= 0 {
		cfg.SearchConcurrency = 4
	}
	if cfg.LLMConcurrency <= 0 {
		cfg.LLMConcurrency = 2
	}
	if cfg.SentimentConcurrency <= 0 {
		cfg.SentimentConcurrency = 4
	}
	return &Orchestrator{
		deps:      deps,
		deadline:  cfg.Deadline,
		gate:      newUserGate(),
		searchSem: make(chan struct{}, cfg.SearchConcurrency),
		llmSem:    make(chan struct{}, cfg.LLMConcurrency),
		scoreSem:  make(chan struct{}, cfg.SentimentConcurrency),
		now:       time.Now,
	}
}

// LLMSemaphore exposes the LLM concurrency cap so the dialogue path
// shares the same bound on outbound generation.
func (o *Orchestrator) LLMSemaphore() chan struct{} { return o.llmSem }

// Run executes one pipeline request end to end.
//
// # Description
//
// The request is validated and gated per user, then the stage graph
// runs under the overall deadline. A failed search aborts the run; a
// failed store downgrades identity assignment to in-memory; all other
// stage failures record warnings. The finished run is persisted,
// trend points and the archive copy are written best-effort, and the
// record is returned regardless of status.
//
// # Inputs
//
//   - req: Validated by this method; defaults applied here.
//
// # Outputs
//
//   - *datatypes.PipelineRun: Always non-nil on a nil error, including
//     failed runs; the caller maps run status to a response.
//   - error: Validation failure or user-gate rejection, before any
//     stage ran.
func (o *Orchestrator) Run(ctx context.Context, req datatypes.PipelineRequest) (*datatypes.PipelineRun, error) {
	ctx, span := tracer.Start(ctx, "PipelineRun")
	defer span.End()

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		return nil, &datatypes.ProviderError{
			Kind: datatypes.KindValidation, Provider: "pipeline", Message: err.Error(),
		}
	}

	release, err := o.gate.acquire(ctx, req.UserID, req.Wait)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	run := datatypes.NewPipelineRun(req)
	run.Status = datatypes.RunRunning
	span.SetAttributes(
		attribute.String("run.id", run.RunID),
		attribute.String("run.user", req.UserID),
	)
	o.checkpoint(ctx, run)

	started := o.now()
	o.execute(ctx, run, req)
	run.TotalDurationMs = o.now().Sub(started).Milliseconds()

	o.finalize(run)
	observability.RecordRun(string(run.Status))
	span.SetAttributes(attribute.String("run.status", string(run.Status)))
	if run.Status == datatypes.RunFailed {
		span.SetStatus(codes.Error, "pipeline run failed")
	}

	// Post-run persistence must survive an expired deadline.
	post := context.WithoutCancel(ctx)
	o.checkpoint(post, run)
	o.postRun(post, run)

	slog.Info("Pipeline run finished",
		"runId", run.RunID, "user", req.UserID, "status", run.Status,
		"stored", run.Counts.Stored, "cards", run.Counts.CardsGenerated,
		"durationMs", run.TotalDurationMs)
	return run, nil
}

// execute walks the stage graph, mutating the run record.
func (o *Orchestrator) execute(ctx context.Context, run *datatypes.PipelineRun, req datatypes.PipelineRequest) {
	// An explicit zero-result request completes right away: success with
	// empty arrays, no provider call, no downstream stages.
	if req.NumResults != nil && *req.NumResults == 0 {
		o.runStage(ctx, run, datatypes.StageSearch, true, func(context.Context) (int, error) {
			return 0, nil
		})
		return
	}

	// ===== Search (fatal) =====
	var raws []datatypes.RawArticle
	ok := o.runStage(ctx, run, datatypes.StageSearch, true, func(ctx context.Context) (int, error) {
		o.searchSem <- struct{}{}
		defer func() { <-o.searchSem }()

		found, err := o.deps.Search.Search(ctx, req.Query, search.Options{
			Num:      *req.NumResults,
			Language: req.Language,
			Country:  req.Country,
			Window:   req.Window,
		})
		observability.RecordProviderCall(o.deps.Search.Name(), err)
		if err != nil {
			return 0, err
		}
		raws = found
		return len(found), nil
	})
	if !ok {
		return
	}
	run.Counts.TotalFound = len(raws)
	if len(raws) == 0 {
		// Empty result set is a successful run with empty arrays.
		return
	}

	// ===== Store (downgrades) =====
	var articles []datatypes.Article
	storeEnabled := req.Stages.Store && o.deps.Store != nil
	o.runStage(ctx, run, datatypes.StageStore, storeEnabled, func(ctx context.Context) (int, error) {
		result, err := o.deps.Store.UpsertMany(ctx, raws)
		if err != nil {
			return 0, err
		}
		articles = result.Articles
		run.Counts.Stored = result.Stored
		run.Counts.Duplicates = result.Duplicates
		run.Fingerprints = result.Fingerprints
		return result.Stored, nil
	})
	if articles == nil {
		// Disabled or failed store: assign identity in memory so every
		// downstream stage still sees fingerprinted articles.
		articles = store.Normalize(raws, o.now())
		for i := range articles {
			articles[i].Query = req.Query
		}
		if run.Fingerprints == nil {
			for i := range articles {
				run.Fingerprints = append(run.Fingerprints, articles[i].Fingerprint)
			}
		}
	}

	// ===== Siblings: index, sentiment, analysis =====
	sentiments := make(map[string]datatypes.SentimentScore)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.runStage(gCtx, run, datatypes.StageIndex, req.Stages.Index && o.deps.Index != nil, func(ctx context.Context) (int, error) {
			result, err := o.deps.Index.IndexArticles(ctx, articles)
			if err != nil {
				return 0, err
			}
			run.Counts.VectorsCreated = result.ChunksWritten
			if len(result.PartiallyIndexed) > 0 {
				o.warn(run, fmt.Sprintf("%d articles partially indexed", len(result.PartiallyIndexed)))
			}
			return result.ChunksWritten, nil
		})
		return nil
	})
	g.Go(func() error {
		o.runStage(gCtx, run, datatypes.StageSentiment, req.Stages.Sentiment && o.deps.Scorer != nil, func(ctx context.Context) (int, error) {
			o.scoreSem <- struct{}{}
			defer func() { <-o.scoreSem }()

			texts := make([]string, len(articles))
			for i := range articles {
				texts[i] = scoreText(&articles[i])
			}
			scores, err := o.deps.Scorer.Score(ctx, texts)
			if err != nil {
				return 0, err
			}
			counts := make(map[string]int)
			for i := range scores {
				sentiments[articles[i].Fingerprint] = scores[i]
				counts[string(scores[i].Label)]++
			}
			run.SentimentCounts = counts
			return len(scores), nil
		})
		return nil
	})
	g.Go(func() error {
		o.runStage(gCtx, run, datatypes.StageAnalyze, req.Stages.Analyze, func(ctx context.Context) (int, error) {
			o.llmSem <- struct{}{}
			defer func() { <-o.llmSem }()

			analysis, err := o.deps.LLM.Generate(ctx, buildAnalysisPrompt(req.Query, articles), llm.GenerationParams{
				Temperature: &analysisTemperature,
				MaxTokens:   &analysisMaxTokens,
			})
			observability.RecordProviderCall("llm", err)
			if err != nil {
				return 0, err
			}
			run.Analysis = strings.TrimSpace(analysis)
			return 1, nil
		})
		return nil
	})
	_ = g.Wait()

	// ===== Profile (feeds cards and recommendations) =====
	profile := o.loadProfile(ctx, run, req.UserID)

	// ===== Cards =====
	o.runStage(ctx, run, datatypes.StageCards, req.Stages.Card && o.deps.Cards != nil, func(ctx context.Context) (int, error) {
		o.llmSem <- struct{}{}
		defer func() { <-o.llmSem }()

		result, err := o.deps.Cards.Synthesize(ctx, articles, cards.Options{
			MaxCards:   *req.MaxCards,
			Profile:    profile,
			Sentiments: sentiments,
		})
		if err != nil {
			return 0, err
		}
		run.Cards = result.Cards
		run.Counts.CardsGenerated = len(result.Cards)
		if result.Degraded {
			o.warn(run, "CardGenerationDegraded")
		}
		return len(result.Cards), nil
	})

	// ===== Memory =====
	o.runStage(ctx, run, datatypes.StageMemory, req.Stages.MemoryUpdate && o.deps.Memory != nil && req.UserID != "", func(ctx context.Context) (int, error) {
		err := o.deps.Memory.Record(ctx, &datatypes.InteractionRecord{
			UserID:     req.UserID,
			Timestamp:  o.now(),
			Action:     datatypes.ActionQuery,
			Text:       req.Query,
			Category:   dominantCategory(articles),
			Importance: 1,
		})
		if err != nil {
			return 0, err
		}
		if err := o.deps.Memory.UpdateDerived(ctx, req.UserID); err != nil {
			return 1, err
		}
		return 1, nil
	})

	run.RecommendedQueries = recommendedQueries(profile, req.Query)
}

// runStage executes one stage with timing, outcome recording, and
// metrics. Disabled stages record skipped. Returns false only when the
// stage failed or was cancelled.
func (o *Orchestrator) runStage(ctx context.Context, run *datatypes.PipelineRun, stage datatypes.Stage, enabled bool, fn func(ctx context.Context) (int, error)) bool {
	if !enabled {
		o.record(run, datatypes.StageResult{Stage: stage, Outcome: datatypes.StageSkipped})
		observability.RecordStage(string(stage), string(datatypes.StageSkipped), 0)
		return true
	}
	if err := ctx.Err(); err != nil {
		o.recordAborted(run, stage, err, 0)
		return false
	}

	ctx, span := tracer.Start(ctx, "stage."+string(stage))
	defer span.End()

	started := o.now()
	count, err := fn(ctx)
	elapsed := o.now().Sub(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
		if ctx.Err() != nil {
			o.recordAborted(run, stage, ctx.Err(), elapsed)
			return false
		}
		kind := datatypes.KindOf(err)
		o.record(run, datatypes.StageResult{
			Stage: stage, Outcome: datatypes.StageFailed,
			ErrorKind: kind, Error: err.Error(),
			Count: count, DurationMs: elapsed.Milliseconds(),
		})
		observability.RecordStage(string(stage), string(datatypes.StageFailed), elapsed)
		o.warn(run, fmt.Sprintf("stage %s failed: %s", stage, kind))
		run.Errors = append(run.Errors, err.Error())
		slog.Warn("Pipeline stage failed",
			"runId", run.RunID, "stage", stage, "kind", kind, "error", err)
		return false
	}

	o.record(run, datatypes.StageResult{
		Stage: stage, Outcome: datatypes.StageSuccess,
		Count: count, DurationMs: elapsed.Milliseconds(),
	})
	observability.RecordStage(string(stage), string(datatypes.StageSuccess), elapsed)
	return true
}

// recordAborted records a cancelled outcome for a stage stopped by
// deadline or caller cancellation.
func (o *Orchestrator) recordAborted(run *datatypes.PipelineRun, stage datatypes.Stage, err error, elapsed time.Duration) {
	o.record(run, datatypes.StageResult{
		Stage: stage, Outcome: datatypes.StageCancelled,
		ErrorKind:  datatypes.KindOf(err),
		DurationMs: elapsed.Milliseconds(),
	})
	observability.RecordStage(string(stage), string(datatypes.StageCancelled), elapsed)
}

// record appends a stage result. Sibling stages record concurrently.
func (o *Orchestrator) record(run *datatypes.PipelineRun, result datatypes.StageResult) {
	o.runMu.Lock()
	run.StageResults = append(run.StageResults, result)
	o.runMu.Unlock()
}

// warn appends a run warning under the same lock as stage results.
func (o *Orchestrator) warn(run *datatypes.PipelineRun, msg string) {
	o.runMu.Lock()
	run.Warnings = append(run.Warnings, msg)
	o.runMu.Unlock()
}

// loadProfile fetches the user's profile, best effort.
func (o *Orchestrator) loadProfile(ctx context.Context, run *datatypes.PipelineRun, userID string) *datatypes.UserProfile {
	if o.deps.Memory == nil || userID == "" {
		return nil
	}
	profile, err := o.deps.Memory.GetProfile(ctx, userID)
	if err != nil {
		slog.Warn("Profile load failed", "runId", run.RunID, "user", userID, "error", err)
		return nil
	}
	return profile
}

// finalize derives the terminal status from stage outcomes.
func (o *Orchestrator) finalize(run *datatypes.PipelineRun) {
	if result, ok := run.StageResultFor(datatypes.StageSearch); ok && result.Outcome != datatypes.StageSuccess {
		run.Status = datatypes.RunFailed
		return
	}
	for _, result := range run.StageResults {
		if result.Outcome == datatypes.StageFailed || result.Outcome == datatypes.StageCancelled {
			run.Status = datatypes.RunPartialSuccess
			return
		}
	}
	run.Status = datatypes.RunSuccess
}

// checkpoint persists the run record, best effort.
func (o *Orchestrator) checkpoint(ctx context.Context, run *datatypes.PipelineRun) {
	if o.deps.Runs == nil {
		return
	}
	if err := o.deps.Runs.Save(ctx, run); err != nil {
		slog.Warn("Run checkpoint failed", "runId", run.RunID, "error", err)
	}
}

// postRun writes trend points and the archive copy for a finished run.
// Both are best effort; failures never change the run's status.
func (o *Orchestrator) postRun(ctx context.Context, run *datatypes.PipelineRun) {
	if o.deps.Trends != nil && len(run.Cards) > 0 {
		if err := o.deps.Trends.RecordRun(ctx, run); err != nil {
			slog.Warn("Trend recording failed", "runId", run.RunID, "error", err)
		}
	}
	if o.deps.Archiver != nil && run.Status != datatypes.RunFailed {
		if err := o.deps.Archiver.Archive(ctx, run); err != nil {
			slog.Warn("Run archive failed", "runId", run.RunID, "error", err)
		}
	}
}

// scoreText is the sentiment input for one article; the scorer itself
// caps length.
func scoreText(a *datatypes.Article) string {
	if a.Body != "" {
		return a.Title + ". " + a.Body
	}
	return a.Title + ". " + a.Snippet
}

// dominantCategory returns the most frequent non-empty category in the
// batch, lexicographically smallest on ties.
func dominantCategory(articles []datatypes.Article) string {
	counts := make(map[string]int)
	for i := range articles {
		if c := articles[i].Category; c != "" {
			counts[c]++
		}
	}
	best, bestN := "", 0
	for c, n := range counts {
		if n > bestN || (n == bestN && (best == "" || c < best)) {
			best, bestN = c, n
		}
	}
	return best
}
