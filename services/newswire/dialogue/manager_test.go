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
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/llm"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/retrieval"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===== Fakes =====

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*datatypes.SessionInfo
	turns    map[string][]Turn

	replacedCutoff  int
	replacedSummary string
	summarySet      string
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[string]*datatypes.SessionInfo),
		turns:    make(map[string][]Turn),
	}
}

func (s *fakeSessionStore) Create(_ context.Context, userID, runID string) (*datatypes.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := &datatypes.SessionInfo{
		SessionID: uuid.New().String(),
		UserID:    userID,
		RunID:     runID,
		Summary:   SummaryPending,
	}
	s.sessions[info.SessionID] = info
	return info, nil
}

func (s *fakeSessionStore) Get(_ context.Context, sessionID string) (*datatypes.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.sessions[sessionID]
	if !ok {
		return nil, &datatypes.NotFoundError{Resource: "session", ID: sessionID}
	}
	copied := *info
	return &copied, nil
}

func (s *fakeSessionStore) List(_ context.Context, userID string, limit int) ([]datatypes.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []datatypes.SessionInfo
	for _, info := range s.sessions {
		if userID == "" || info.UserID == userID {
			out = append(out, *info)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeSessionStore) AppendTurn(_ context.Context, turn *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], *turn)
	if info, ok := s.sessions[turn.SessionID]; ok {
		info.TurnCount = turn.Ordinal + 1
		info.LastActivity = turn.Timestamp
	}
	return nil
}

func (s *fakeSessionStore) Turns(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]Turn(nil), s.turns[sessionID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (s *fakeSessionStore) ReplaceOldest(_ context.Context, sessionID string, cutoff int, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []Turn
	for _, t := range s.turns[sessionID] {
		if t.Ordinal >= cutoff {
			kept = append(kept, t)
		}
	}
	kept = append(kept, Turn{
		SessionID: sessionID, Answer: summary, Kind: TurnKindSummary, Ordinal: cutoff - 1,
	})
	s.turns[sessionID] = kept
	s.replacedCutoff = cutoff
	s.replacedSummary = summary
	return nil
}

func (s *fakeSessionStore) SetSummary(_ context.Context, sessionID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.sessions[sessionID]; ok {
		info.Summary = summary
	}
	s.summarySet = summary
	return nil
}

func (s *fakeSessionStore) Delete(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return 0, &datatypes.NotFoundError{Resource: "session", ID: sessionID}
	}
	n := len(s.turns[sessionID])
	delete(s.sessions, sessionID)
	delete(s.turns, sessionID)
	return n, nil
}

func (s *fakeSessionStore) turnCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns[sessionID])
}

var _ SessionStore = (*fakeSessionStore)(nil)

type fakeRetriever struct {
	mu        sync.Mutex
	result    *retrieval.Result
	err       error
	lastReq   retrieval.Request
	forgotten []string
}

func (r *fakeRetriever) Retrieve(_ context.Context, req retrieval.Request) (*retrieval.Result, error) {
	r.mu.Lock()
	r.lastReq = req
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if r.result == nil {
		return &retrieval.Result{}, nil
	}
	return r.result, nil
}

func (r *fakeRetriever) ForgetSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, sessionID)
}

func (r *fakeRetriever) last() retrieval.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReq
}

var _ Retriever = (*fakeRetriever)(nil)

type fakeChatLLM struct {
	mu       sync.Mutex
	reply    string
	chatErr  error
	genText  string
	genErr   error
	lastMsgs []datatypes.Message
	block    chan struct{} // when set, Chat blocks until closed
}

func (f *fakeChatLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.genText, f.genErr
}

func (f *fakeChatLLM) Chat(ctx context.Context, messages []datatypes.Message, _ llm.GenerationParams) (*llm.ChatResult, error) {
	f.mu.Lock()
	f.lastMsgs = messages
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &llm.ChatResult{
		Content: f.reply,
		Usage:   datatypes.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func (f *fakeChatLLM) messages() []datatypes.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMsgs
}

var _ llm.LLMClient = (*fakeChatLLM)(nil)

type fakeRunStore struct {
	run *datatypes.PipelineRun
}

func (f *fakeRunStore) Save(context.Context, *datatypes.PipelineRun) error { return nil }

func (f *fakeRunStore) Get(_ context.Context, runID string) (*datatypes.PipelineRun, error) {
	if f.run == nil || f.run.RunID != runID {
		return nil, &datatypes.NotFoundError{Resource: "run", ID: runID}
	}
	return f.run, nil
}

// ===== Helpers =====

func retrievedChunks() *retrieval.Result {
	return &retrieval.Result{Chunks: []datatypes.RetrievedChunk{
		{Fingerprint: "fp-1", Title: "Fusion Milestone", Text: "net gain", Cosine: 0.9, FinalScore: 0.8},
		{Fingerprint: "fp-2", Title: "Grid Storage", Text: "battery", Cosine: 0.7, FinalScore: 0.6},
	}}
}

func newTestManager(store *fakeSessionStore, retriever *fakeRetriever, client *fakeChatLLM) *Manager {
	return NewManager(store, retriever, client, nil, nil, Config{})
}

// ===== Tests =====

func TestChat_NewSessionCreatesAndRecordsTurn(t *testing.T) {
	store := newFakeSessionStore()
	retriever := &fakeRetriever{result: retrievedChunks()}
	client := &fakeChatLLM{reply: "Fusion reached net gain [1].", genText: "Fusion progress"}
	m := newTestManager(store, retriever, client)

	resp, err := m.Chat(context.Background(), datatypes.ChatRequest{Message: "what happened in fusion?"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "Fusion reached net gain [1].", resp.Reply)
	assert.Equal(t, 150, resp.Usage.TotalTokens)

	require.Len(t, resp.Sources, 2)
	assert.Equal(t, 1, resp.Sources[0].Index)
	assert.Equal(t, "fp-1", resp.Sources[0].Fingerprint)
	assert.Equal(t, 2, resp.Sources[1].Index)

	assert.InDelta(t, 0.8, resp.Confidence, 1e-9, "mean of 0.9 and 0.7")
	assert.Len(t, resp.Suggestions, 2)
	assert.Empty(t, resp.Warnings)

	turns, err := store.Turns(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, 0, turns[0].Ordinal)
	assert.Equal(t, "what happened in fusion?", turns[0].Question)
	assert.Equal(t, TurnKindExchange, turns[0].Kind)

	// The system prompt carries the numbered context block.
	msgs := client.messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "[1] Fusion Milestone")

	// The first turn's async title generation lands.
	require.Eventually(t, func() bool {
		info, err := store.Get(context.Background(), resp.SessionID)
		return err == nil && info.Summary == "Fusion progress"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChat_UnknownSessionNotFound(t *testing.T) {
	m := newTestManager(newFakeSessionStore(), &fakeRetriever{}, &fakeChatLLM{})

	_, err := m.Chat(context.Background(), datatypes.ChatRequest{
		SessionID: uuid.New().String(),
		Message:   "hello",
	})
	require.Error(t, err)
	assert.Equal(t, datatypes.KindNotFound, datatypes.KindOf(err))
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	m := newTestManager(newFakeSessionStore(), &fakeRetriever{}, &fakeChatLLM{})

	_, err := m.Chat(context.Background(), datatypes.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, datatypes.KindValidation, datatypes.KindOf(err))
}

func TestChat_SessionBusyWithoutWait(t *testing.T) {
	store := newFakeSessionStore()
	session, err := store.Create(context.Background(), "u1", "")
	require.NoError(t, err)

	block := make(chan struct{})
	client := &fakeChatLLM{reply: "ok", block: block}
	m := newTestManager(store, &fakeRetriever{}, client)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := m.Chat(context.Background(), datatypes.ChatRequest{
			SessionID: session.SessionID, Message: "first",
		})
		done <- err
	}()
	<-started
	time.Sleep(30 * time.Millisecond)

	_, err = m.Chat(context.Background(), datatypes.ChatRequest{
		SessionID: session.SessionID, Message: "second",
	})
	require.Error(t, err)
	assert.Equal(t, datatypes.KindSessionBusy, datatypes.KindOf(err))

	close(block)
	require.NoError(t, <-done)
}

func TestChat_WaitQueuesBehindActiveTurn(t *testing.T) {
	store := newFakeSessionStore()
	session, err := store.Create(context.Background(), "u1", "")
	require.NoError(t, err)

	block := make(chan struct{})
	client := &fakeChatLLM{reply: "ok", block: block}
	m := newTestManager(store, &fakeRetriever{}, client)

	first := make(chan error, 1)
	go func() {
		_, err := m.Chat(context.Background(), datatypes.ChatRequest{
			SessionID: session.SessionID, Message: "first",
		})
		first <- err
	}()
	time.Sleep(30 * time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := m.Chat(context.Background(), datatypes.ChatRequest{
			SessionID: session.SessionID, Message: "second", Wait: true,
		})
		second <- err
	}()
	time.Sleep(30 * time.Millisecond)

	select {
	case <-second:
		t.Fatal("waiting turn completed while the first held the session")
	default:
	}

	close(block)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, 2, store.turnCount(session.SessionID))
}

func TestChat_RetrievalFailureDegrades(t *testing.T) {
	store := newFakeSessionStore()
	retriever := &fakeRetriever{err: errors.New("index down")}
	client := &fakeChatLLM{reply: "best effort answer"}
	m := newTestManager(store, retriever, client)

	resp, err := m.Chat(context.Background(), datatypes.ChatRequest{Message: "anything new?"})
	require.NoError(t, err)
	assert.Equal(t, "best effort answer", resp.Reply)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, resp.Confidence)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "retrieval unavailable")

	// The degraded turn is still persisted.
	assert.Equal(t, 1, store.turnCount(resp.SessionID))
}

func TestChat_LowRecallWarning(t *testing.T) {
	store := newFakeSessionStore()
	retriever := &fakeRetriever{result: &retrieval.Result{
		Chunks:    retrievedChunks().Chunks[:1],
		LowRecall: true,
	}}
	m := newTestManager(store, retriever, &fakeChatLLM{reply: "thin"})

	resp, err := m.Chat(context.Background(), datatypes.ChatRequest{Message: "obscure topic"})
	require.NoError(t, err)
	assert.Contains(t, resp.Warnings, "LowRecall")
}

func TestChat_LLMFailureRecordsNoTurn(t *testing.T) {
	store := newFakeSessionStore()
	client := &fakeChatLLM{chatErr: &datatypes.ProviderError{
		Kind: datatypes.KindProviderUnavailable, Provider: "llm", Message: "down",
	}}
	m := newTestManager(store, &fakeRetriever{}, client)

	resp, err := m.Chat(context.Background(), datatypes.ChatRequest{Message: "hi"})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, datatypes.KindProviderUnavailable, datatypes.KindOf(err))

	for _, turns := range store.turns {
		assert.Empty(t, turns)
	}
}

func TestChat_ExplicitZeroFloorDisablesFloor(t *testing.T) {
	store := newFakeSessionStore()
	retriever := &fakeRetriever{result: retrievedChunks()}
	m := newTestManager(store, retriever, &fakeChatLLM{reply: "ok"})

	zero := 0.0
	_, err := m.Chat(context.Background(), datatypes.ChatRequest{
		Message: "hi", SimilarityFloor: &zero,
	})
	require.NoError(t, err)
	assert.Negative(t, retriever.last().Floor)
}

func TestChat_RunScopeRestrictsRetrieval(t *testing.T) {
	store := newFakeSessionStore()
	retriever := &fakeRetriever{result: retrievedChunks()}
	client := &fakeChatLLM{reply: "ok"}

	runID := uuid.New().String()
	runStore := &fakeRunStore{run: &datatypes.PipelineRun{
		RunID:        runID,
		Fingerprints: []string{"fp-1", "fp-2"},
	}}
	m := NewManager(store, retriever, client, nil, runStore, Config{})

	_, err := m.Chat(context.Background(), datatypes.ChatRequest{
		Message: "scoped question", RunID: runID,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-1", "fp-2"}, retriever.last().Filter.Fingerprints)
}

func TestChat_UnknownRunFallsBackToCorpus(t *testing.T) {
	store := newFakeSessionStore()
	retriever := &fakeRetriever{result: retrievedChunks()}
	m := NewManager(store, retriever, &fakeChatLLM{reply: "ok"}, nil, &fakeRunStore{}, Config{})

	resp, err := m.Chat(context.Background(), datatypes.ChatRequest{
		Message: "scoped question", RunID: uuid.New().String(),
	})
	require.NoError(t, err)
	assert.Empty(t, retriever.last().Filter.Fingerprints)
	require.NotEmpty(t, resp.Warnings)
	assert.Contains(t, resp.Warnings[0], "run scope unavailable")
}

func TestChat_PrunesHistoryPastCap(t *testing.T) {
	store := newFakeSessionStore()
	session, err := store.Create(context.Background(), "u1", "")
	require.NoError(t, err)
	for i := 0; i < turnCap+1; i++ {
		require.NoError(t, store.AppendTurn(context.Background(), &Turn{
			SessionID: session.SessionID,
			Question:  "q", Answer: "a",
			Kind: TurnKindExchange, Ordinal: i,
		}))
	}

	client := &fakeChatLLM{reply: "ok", genText: "condensed history"}
	m := newTestManager(store, &fakeRetriever{}, client)

	_, err = m.Chat(context.Background(), datatypes.ChatRequest{
		SessionID: session.SessionID, Message: "next",
	})
	require.NoError(t, err)

	assert.Equal(t, "condensed history", store.replacedSummary)
	assert.Equal(t, 16, store.replacedCutoff, "cutoff is the middle ordinal of 32 turns")

	turns, err := store.Turns(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, TurnKindSummary, turns[0].Kind)
}

func TestChat_SecondTurnSeesHistory(t *testing.T) {
	store := newFakeSessionStore()
	client := &fakeChatLLM{reply: "second answer", genText: "t"}
	m := newTestManager(store, &fakeRetriever{}, client)

	first, err := m.Chat(context.Background(), datatypes.ChatRequest{Message: "first question"})
	require.NoError(t, err)

	_, err = m.Chat(context.Background(), datatypes.ChatRequest{
		SessionID: first.SessionID, Message: "follow-up",
	})
	require.NoError(t, err)

	msgs := client.messages()
	var contents []string
	for _, m := range msgs {
		contents = append(contents, m.Content)
	}
	assert.Contains(t, contents, "first question")
	assert.Contains(t, contents, "follow-up")
}

func TestHistory_InterleavesRoles(t *testing.T) {
	store := newFakeSessionStore()
	session, err := store.Create(context.Background(), "u1", "")
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(context.Background(), &Turn{
		SessionID: session.SessionID, Answer: "summary note", Kind: TurnKindSummary, Ordinal: 0,
	}))
	require.NoError(t, store.AppendTurn(context.Background(), &Turn{
		SessionID: session.SessionID, Question: "q", Answer: "a", Kind: TurnKindExchange, Ordinal: 1,
	}))

	m := newTestManager(store, &fakeRetriever{}, &fakeChatLLM{})
	history, err := m.History(context.Background(), session.SessionID)
	require.NoError(t, err)

	require.Len(t, history.Messages, 3)
	assert.Equal(t, "system", history.Messages[0].Role)
	assert.Equal(t, "user", history.Messages[1].Role)
	assert.Equal(t, "assistant", history.Messages[2].Role)
}

func TestDelete_ForgetsSessionEmbeddings(t *testing.T) {
	store := newFakeSessionStore()
	session, err := store.Create(context.Background(), "u1", "")
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(context.Background(), &Turn{
		SessionID: session.SessionID, Question: "q", Answer: "a", Kind: TurnKindExchange,
	}))

	retriever := &fakeRetriever{}
	m := newTestManager(store, retriever, &fakeChatLLM{})

	deleted, err := m.Delete(context.Background(), session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{session.SessionID}, retriever.forgotten)

	_, err = m.Delete(context.Background(), session.SessionID)
	require.Error(t, err)
	assert.Equal(t, datatypes.KindNotFound, datatypes.KindOf(err))
}

func TestMeanCosine_Clamped(t *testing.T) {
	assert.Zero(t, meanCosine(nil))
	assert.Zero(t, meanCosine([]datatypes.RetrievedChunk{{Cosine: -0.5}}))
	assert.Equal(t, 1.0, meanCosine([]datatypes.RetrievedChunk{{Cosine: 1.2}}))
	assert.InDelta(t, 0.5, meanCosine([]datatypes.RetrievedChunk{{Cosine: 0.4}, {Cosine: 0.6}}), 1e-9)
}
