// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dialogue

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/llm"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/index"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/memory"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/observability"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/retrieval"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/runs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// defaultContextWindow is the assumed model context in tokens when
	// the backend doesn't say. History gets 60% of it.
	defaultContextWindow = 8192
	historyBudgetRatio   = 0.6

	// turnCap triggers history pruning; the oldest half is replaced by
	// one summary note.
	turnCap = 30

	// summaryTimeout bounds the async first-turn title generation and
	// the prune summarization.
	summaryTimeout = 30 * time.Second

	maxSuggestions = 3
)

var (
	chatTemperature  = float32(0.7)
	chatMaxTokens    = 1200
	noteTemperature  = float32(0.3)
	noteMaxTokens    = 300
	titleTemperature = float32(0.3)
	titleMaxTokens   = 40
)

// Retriever is the slice of the retrieval engine the dialogue path
// uses.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Result, error)
	ForgetSession(sessionID string)
}

// Config tunes the manager.
type Config struct {
	// ContextWindowTokens overrides the assumed model context window.
	ContextWindowTokens int

	// LLMSemaphore, when set, bounds concurrent generations together
	// with the pipeline's analysis and card calls.
	LLMSemaphore chan struct{}
}

// Manager runs dialogue turns.
//
// # Thread Safety
//
// Safe for concurrent use. Turns within one session are strictly
// serialized; concurrent turns against the same session either wait or
// fail with SessionBusy per the request's Wait flag.
type Manager struct {
	sessions  SessionStore
	retriever Retriever
	llm       llm.LLMClient
	memory    memory.Store
	runs      runs.Store

	contextWindow int
	llmSem        chan struct{}

	mu    sync.Mutex
	locks map[string]chan struct{}

	now func() time.Time
}

// NewManager creates a dialogue manager. Memory and the run store are
// optional; without them personalization and run-scoped retrieval
// degrade silently.
func NewManager(sessions SessionStore, retriever Retriever, client llm.LLMClient, mem memory.Store, runStore runs.Store, cfg Config) *Manager {
	window := cfg.ContextWindowTokens
	if window <= 0 {
		window = defaultContextWindow
	}
	return &Manager{
		sessions:      sessions,
		retriever:     retriever,
		llm:           client,
		memory:        mem,
		runs:          runStore,
		contextWindow: window,
		llmSem:        cfg.LLMSemaphore,
		locks:         make(map[string]chan struct{}),
		now:           time.Now,
	}
}

// Chat executes one dialogue turn.
//
// # Description
//
// Resolves or creates the session, loads history within the token
// budget, retrieves supporting news context, generates the reply, and
// persists the turn. Retrieval failure degrades to an uncontextualized
// reply with a warning; generation failure or cancellation returns an
// error without recording the turn.
//
// # Inputs
//
//   - req: Validated here; defaults applied here.
//
// # Outputs
//
//   - *datatypes.ChatResponse: The reply with numbered sources,
//     confidence, usage, and suggestions.
//   - error: Validation, unknown session, SessionBusy, or generation
//     failure.
func (m *Manager) Chat(ctx context.Context, req datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	ctx, span := tracer.Start(ctx, "Chat")
	defer span.End()

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		return nil, &datatypes.ProviderError{
			Kind: datatypes.KindValidation, Provider: "dialogue", Message: err.Error(),
		}
	}

	// Resolve or create the session before taking its lock, so lock
	// keys are always real session ids.
	var session *datatypes.SessionInfo
	var err error
	created := false
	if req.SessionID == "" {
		session, err = m.sessions.Create(ctx, req.UserID, req.RunID)
		created = true
	} else {
		session, err = m.sessions.Get(ctx, req.SessionID)
	}
	if err != nil {
		observability.RecordDialogueTurn("error")
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", session.SessionID))

	release, err := m.lockSession(ctx, session.SessionID, req.Wait)
	if err != nil {
		observability.RecordDialogueTurn("busy")
		return nil, err
	}
	defer release()

	resp, err := m.turn(ctx, req, session, created)
	if err != nil {
		observability.RecordDialogueTurn("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		return nil, err
	}
	observability.RecordDialogueTurn("success")
	return resp, nil
}

// turn is the serialized body of one dialogue turn; the session lock is
// held throughout.
func (m *Manager) turn(ctx context.Context, req datatypes.ChatRequest, session *datatypes.SessionInfo, created bool) (*datatypes.ChatResponse, error) {
	var turns []Turn
	if !created {
		loaded, err := m.sessions.Turns(ctx, session.SessionID)
		if err != nil {
			return nil, err
		}
		turns = loaded
	}
	historyBudget := int(float64(m.contextWindow) * historyBudgetRatio)
	history := historyWithinBudget(turns, historyBudget)

	response := &datatypes.ChatResponse{SessionID: session.SessionID}

	// ===== Retrieval (degrades) =====
	chunks := m.retrieveContext(ctx, req, session, response)

	// ===== Personalization =====
	var profile *datatypes.UserProfile
	if *req.UseMemory && *req.Personalize && m.memory != nil {
		if p, err := m.memory.GetProfile(ctx, req.UserID); err == nil {
			profile = p
		} else {
			slog.Warn("Profile load failed for dialogue", "user", req.UserID, "error", err)
		}
	}

	// ===== Generation =====
	messages := assembleMessages(profile, chunks, history, req.Message)
	result, err := m.generate(ctx, messages)
	if err != nil {
		// No partial turn is recorded on generation failure or
		// cancellation.
		return nil, err
	}

	response.Reply = result.Content
	response.Usage = result.Usage
	response.Confidence = meanCosine(chunks)
	response.Sources = sourcesFromChunks(chunks)
	response.Suggestions = deriveSuggestions(chunks, maxSuggestions)

	// ===== Persistence =====
	ordinal := nextOrdinal(turns)
	turn := &Turn{
		SessionID: session.SessionID,
		Question:  req.Message,
		Answer:    result.Content,
		Kind:      TurnKindExchange,
		Ordinal:   ordinal,
		Timestamp: m.now().UTC(),
	}
	if err := m.sessions.AppendTurn(ctx, turn); err != nil {
		return nil, err
	}

	m.recordInteractions(ctx, req, response)
	m.maybePrune(ctx, session.SessionID, append(turns, *turn))
	if ordinal == 0 {
		// First exchange names the session, asynchronously.
		go m.summarizeSession(session.SessionID, req.Message, result.Content)
	}
	return response, nil
}

// retrieveContext runs the retrieval pass, mapping failure and low
// recall to response warnings.
func (m *Manager) retrieveContext(ctx context.Context, req datatypes.ChatRequest, session *datatypes.SessionInfo, response *datatypes.ChatResponse) []datatypes.RetrievedChunk {
	if m.retriever == nil {
		return nil
	}

	floor := *req.SimilarityFloor
	if floor == 0 {
		floor = -1 // explicit zero disables the floor
	}

	var filter index.Filter
	runID := req.RunID
	if runID == "" {
		runID = session.RunID
	}
	if runID != "" && m.runs != nil {
		if run, err := m.runs.Get(ctx, runID); err == nil {
			filter.Fingerprints = run.Fingerprints
		} else {
			response.Warnings = append(response.Warnings, "run scope unavailable, searching the whole corpus")
		}
	}

	result, err := m.retriever.Retrieve(ctx, retrieval.Request{
		Query:       req.Message,
		UserID:      req.UserID,
		SessionID:   session.SessionID,
		K:           *req.MaxContextNews,
		Floor:       floor,
		Filter:      filter,
		Personalize: *req.UseMemory && *req.Personalize,
	})
	if err != nil {
		slog.Warn("Retrieval failed, answering without context",
			"session", session.SessionID, "error", err)
		response.Warnings = append(response.Warnings, "news retrieval unavailable, reply is not grounded in sources")
		return nil
	}
	if result.LowRecall {
		response.Warnings = append(response.Warnings, "LowRecall")
	}
	return result.Chunks
}

// generate calls the LLM under the shared concurrency cap.
func (m *Manager) generate(ctx context.Context, messages []datatypes.Message) (*llm.ChatResult, error) {
	if m.llmSem != nil {
		select {
		case m.llmSem <- struct{}{}:
			defer func() { <-m.llmSem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	result, err := m.llm.Chat(ctx, messages, llm.GenerationParams{
		Temperature: &chatTemperature,
		MaxTokens:   &chatMaxTokens,
	})
	observability.RecordProviderCall("llm", err)
	return result, err
}

// recordInteractions logs the turn against the user's memory profile:
// the message itself plus the articles it drew on.
func (m *Manager) recordInteractions(ctx context.Context, req datatypes.ChatRequest, response *datatypes.ChatResponse) {
	if m.memory == nil || !*req.UseMemory {
		return
	}
	now := m.now().UTC()
	records := []*datatypes.InteractionRecord{{
		UserID:     req.UserID,
		Timestamp:  now,
		Action:     datatypes.ActionDialogueTurn,
		Target:     response.SessionID,
		Text:       req.Message,
		Importance: 1,
	}}
	for _, src := range response.Sources {
		records = append(records, &datatypes.InteractionRecord{
			UserID:     req.UserID,
			Timestamp:  now,
			Action:     datatypes.ActionDialogueTurn,
			Target:     src.Fingerprint,
			Importance: 0.5,
		})
	}
	for _, rec := range records {
		if err := m.memory.Record(ctx, rec); err != nil {
			slog.Warn("Interaction record failed", "user", req.UserID, "error", err)
			return
		}
	}
	if err := m.memory.UpdateDerived(ctx, req.UserID); err != nil {
		slog.Warn("Derived profile update failed", "user", req.UserID, "error", err)
	}
}

// maybePrune replaces the oldest half of an over-cap session with one
// summary note. Best effort; a failed prune leaves history intact.
func (m *Manager) maybePrune(ctx context.Context, sessionID string, turns []Turn) {
	if len(turns) <= turnCap {
		return
	}
	cutoff := turns[len(turns)/2].Ordinal
	if cutoff <= 0 {
		return
	}

	var oldest []Turn
	for i := range turns {
		if turns[i].Ordinal < cutoff {
			oldest = append(oldest, turns[i])
		}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), summaryTimeout)
	defer cancel()

	note, err := m.llm.Generate(ctx, buildPruneSummaryPrompt(oldest), llm.GenerationParams{
		Temperature: &noteTemperature,
		MaxTokens:   &noteMaxTokens,
	})
	if err != nil {
		slog.Warn("History summarization failed, keeping full history",
			"session", sessionID, "error", err)
		return
	}
	if err := m.sessions.ReplaceOldest(ctx, sessionID, cutoff, strings.TrimSpace(note)); err != nil {
		slog.Warn("History prune failed", "session", sessionID, "error", err)
	}
}

// summarizeSession generates the session title after the first turn.
// Runs detached from the request.
func (m *Manager) summarizeSession(sessionID, question, answer string) {
	ctx, cancel := context.WithTimeout(context.Background(), summaryTimeout)
	defer cancel()

	title, err := m.llm.Generate(ctx, buildSessionSummaryPrompt(question, answer), llm.GenerationParams{
		Temperature: &titleTemperature,
		MaxTokens:   &titleMaxTokens,
	})
	if err != nil {
		slog.Warn("Session summary generation failed", "session", sessionID, "error", err)
		return
	}
	if err := m.sessions.SetSummary(ctx, sessionID, strings.TrimSpace(title)); err != nil {
		slog.Warn("Session summary update failed", "session", sessionID, "error", err)
	}
}

// StartSession creates a session up front. The websocket path issues
// the session id on connect instead of on the first turn.
func (m *Manager) StartSession(ctx context.Context, userID, runID string) (*datatypes.SessionInfo, error) {
	return m.sessions.Create(ctx, userID, runID)
}

// History returns the session's messages for GET /v1/chat/:sessionId.
func (m *Manager) History(ctx context.Context, sessionID string) (*datatypes.SessionHistory, error) {
	if _, err := m.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	turns, err := m.sessions.Turns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := &datatypes.SessionHistory{SessionID: sessionID, Messages: []datatypes.Message{}}
	for i := range turns {
		t := &turns[i]
		if t.Kind == TurnKindSummary {
			history.Messages = append(history.Messages, datatypes.Message{
				Role: "system", Content: t.Answer, Timestamp: t.Timestamp,
			})
			continue
		}
		history.Messages = append(history.Messages,
			datatypes.Message{Role: "user", Content: t.Question, Timestamp: t.Timestamp},
			datatypes.Message{Role: "assistant", Content: t.Answer, Timestamp: t.Timestamp},
		)
	}
	return history, nil
}

// List returns session listings for GET /v1/sessions.
func (m *Manager) List(ctx context.Context, userID string, limit int) ([]datatypes.SessionInfo, error) {
	return m.sessions.List(ctx, userID, limit)
}

// Delete removes a session, its turns, and its cached embeddings.
func (m *Manager) Delete(ctx context.Context, sessionID string) (int, error) {
	deleted, err := m.sessions.Delete(ctx, sessionID)
	if err != nil {
		return deleted, err
	}
	if m.retriever != nil {
		m.retriever.ForgetSession(sessionID)
	}
	return deleted, nil
}

// ===== Session Locking =====

// lockSession claims the session's turn slot. Without wait, a busy
// session fails immediately with SessionBusy.
func (m *Manager) lockSession(ctx context.Context, sessionID string, wait bool) (func(), error) {
	m.mu.Lock()
	slot, ok := m.locks[sessionID]
	if !ok {
		slot = make(chan struct{}, 1)
		m.locks[sessionID] = slot
	}
	m.mu.Unlock()

	if wait {
		select {
		case slot <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		select {
		case slot <- struct{}{}:
		default:
			return nil, &datatypes.BusyError{
				Kind: datatypes.KindSessionBusy, Resource: "session", ID: sessionID,
			}
		}
	}
	return func() { <-slot }, nil
}

// ===== Scoring Helpers =====

// meanCosine is the turn's confidence: mean retrieval cosine clamped
// into [0,1]. Zero without context.
func meanCosine(chunks []datatypes.RetrievedChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for i := range chunks {
		sum += chunks[i].Cosine
	}
	mean := sum / float64(len(chunks))
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}

// sourcesFromChunks numbers the retrieved chunks to match the [n]
// citations in the prompt's context block.
func sourcesFromChunks(chunks []datatypes.RetrievedChunk) []datatypes.SourceInfo {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]datatypes.SourceInfo, len(chunks))
	for i := range chunks {
		out[i] = datatypes.SourceInfo{
			Index:       i + 1,
			Fingerprint: chunks[i].Fingerprint,
			Title:       chunks[i].Title,
			URL:         chunks[i].URL,
			Source:      chunks[i].Source,
			Score:       chunks[i].FinalScore,
		}
	}
	return out
}

// nextOrdinal is one past the highest stored ordinal.
func nextOrdinal(turns []Turn) int {
	next := 0
	for i := range turns {
		if turns[i].Ordinal >= next {
			next = turns[i].Ordinal + 1
		}
	}
	return next
}
