// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/llm"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/dialogue"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/memory"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/retrieval"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/runs"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// perform routes one request through a fresh engine and returns the
// recorder plus the decoded envelope.
func perform(t *testing.T, register func(*gin.Engine), method, target string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	router := gin.New()
	register(router)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if len(w.Body.Bytes()) > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

// performRaw sends a verbatim body, for malformed-JSON cases.
func performRaw(t *testing.T, register func(*gin.Engine), method, target, raw string) *httptest.ResponseRecorder {
	t.Helper()

	router := gin.New()
	register(router)

	req := httptest.NewRequest(method, target, bytes.NewReader([]byte(raw)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// chatReq builds a minimal valid turn request.
func chatReq(sessionID, message string) datatypes.ChatRequest {
	return datatypes.ChatRequest{SessionID: sessionID, Message: message}
}

// dataMap re-decodes envelope.Data as a map for field assertions.
func dataMap(t *testing.T, env envelope) map[string]any {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

// ===== Dialogue Fakes =====

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*datatypes.SessionInfo
	turns    map[string][]dialogue.Turn
}

var _ dialogue.SessionStore = (*memSessionStore)(nil)

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions: make(map[string]*datatypes.SessionInfo),
		turns:    make(map[string][]dialogue.Turn),
	}
}

func (s *memSessionStore) Create(_ context.Context, userID, runID string) (*datatypes.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := &datatypes.SessionInfo{
		SessionID:    uuid.New().String(),
		UserID:       userID,
		Summary:      dialogue.SummaryPending,
		RunID:        runID,
		LastActivity: time.Now().UTC(),
	}
	s.sessions[info.SessionID] = info
	return info, nil
}

func (s *memSessionStore) Get(_ context.Context, sessionID string) (*datatypes.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.sessions[sessionID]
	if !ok {
		return nil, &datatypes.NotFoundError{Resource: "session", ID: sessionID}
	}
	copied := *info
	return &copied, nil
}

func (s *memSessionStore) List(_ context.Context, userID string, limit int) ([]datatypes.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datatypes.SessionInfo, 0, len(s.sessions))
	for _, info := range s.sessions {
		if userID != "" && info.UserID != userID {
			continue
		}
		out = append(out, *info)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memSessionStore) AppendTurn(_ context.Context, turn *dialogue.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], *turn)
	if info, ok := s.sessions[turn.SessionID]; ok {
		info.TurnCount = turn.Ordinal + 1
		info.LastActivity = turn.Timestamp
	}
	return nil
}

func (s *memSessionStore) Turns(_ context.Context, sessionID string) ([]dialogue.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dialogue.Turn(nil), s.turns[sessionID]...), nil
}

func (s *memSessionStore) ReplaceOldest(_ context.Context, sessionID string, cutoff int, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := []dialogue.Turn{{SessionID: sessionID, Answer: summary, Kind: dialogue.TurnKindSummary, Ordinal: cutoff - 1}}
	for _, turn := range s.turns[sessionID] {
		if turn.Ordinal >= cutoff {
			kept = append(kept, turn)
		}
	}
	s.turns[sessionID] = kept
	return nil
}

func (s *memSessionStore) SetSummary(_ context.Context, sessionID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.sessions[sessionID]; ok {
		info.Summary = summary
	}
	return nil
}

func (s *memSessionStore) Delete(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return 0, &datatypes.NotFoundError{Resource: "session", ID: sessionID}
	}
	deleted := len(s.turns[sessionID])
	delete(s.sessions, sessionID)
	delete(s.turns, sessionID)
	return deleted, nil
}

type stubRetriever struct {
	result *retrieval.Result
}

var _ dialogue.Retriever = (*stubRetriever)(nil)

func (r *stubRetriever) Retrieve(context.Context, retrieval.Request) (*retrieval.Result, error) {
	if r.result != nil {
		return r.result, nil
	}
	return &retrieval.Result{}, nil
}

func (r *stubRetriever) ForgetSession(string) {}

type stubLLM struct {
	reply string
}

var _ llm.LLMClient = (*stubLLM)(nil)

func (l *stubLLM) Generate(context.Context, string, llm.GenerationParams) (string, error) {
	return l.reply, nil
}

func (l *stubLLM) Chat(context.Context, []datatypes.Message, llm.GenerationParams) (*llm.ChatResult, error) {
	return &llm.ChatResult{
		Content: l.reply,
		Usage:   datatypes.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

// newTestManager wires a dialogue manager against in-memory fakes.
func newTestManager(store *memSessionStore) *dialogue.Manager {
	return dialogue.NewManager(store, &stubRetriever{}, &stubLLM{reply: "stub reply"}, nil, nil, dialogue.Config{})
}

// ===== Store Fakes =====

type stubRunStore struct {
	mu   sync.Mutex
	runs map[string]*datatypes.PipelineRun
	err  error
}

var _ runs.Store = (*stubRunStore)(nil)

func newStubRunStore() *stubRunStore {
	return &stubRunStore{runs: make(map[string]*datatypes.PipelineRun)}
}

func (s *stubRunStore) Save(_ context.Context, run *datatypes.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.runs[run.RunID] = run
	return nil
}

func (s *stubRunStore) Get(_ context.Context, runID string) (*datatypes.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	run, ok := s.runs[runID]
	if !ok {
		return nil, &datatypes.NotFoundError{Resource: "run", ID: runID}
	}
	return run, nil
}

type stubMemoryStore struct {
	mu       sync.Mutex
	profiles map[string]*datatypes.UserProfile
	recorded []*datatypes.InteractionRecord
	cleared  []string
	err      error
}

var _ memory.Store = (*stubMemoryStore)(nil)

func newStubMemoryStore() *stubMemoryStore {
	return &stubMemoryStore{profiles: make(map[string]*datatypes.UserProfile)}
}

func (s *stubMemoryStore) Record(_ context.Context, rec *datatypes.InteractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	copied := *rec
	s.recorded = append(s.recorded, &copied)
	return nil
}

func (s *stubMemoryStore) GetProfile(_ context.Context, userID string) (*datatypes.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	return &datatypes.UserProfile{UserID: userID}, nil
}

func (s *stubMemoryStore) UpdateDerived(context.Context, string) error { return nil }
func (s *stubMemoryStore) Rebuild(context.Context, string) error      { return nil }

func (s *stubMemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.cleared = append(s.cleared, userID)
	delete(s.profiles, userID)
	return nil
}

func (s *stubMemoryStore) UpdateSettings(_ context.Context, userID string, req *datatypes.ProfileUpdateRequest) (*datatypes.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	profile := &datatypes.UserProfile{UserID: userID}
	if req.Style != nil {
		profile.Style = *req.Style
	}
	profile.PreferredSources = req.PreferredSources
	s.profiles[userID] = profile
	return profile, nil
}

func (s *stubMemoryStore) lastRecorded() *datatypes.InteractionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recorded) == 0 {
		return nil
	}
	return s.recorded[len(s.recorded)-1]
}
