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
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/llm"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/index"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/search"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===== Fakes =====

type fakeSearch struct {
	raws  []datatypes.RawArticle
	err   error
	calls int
}

func (f *fakeSearch) Search(_ context.Context, _ string, _ search.Options) ([]datatypes.RawArticle, error) {
	f.calls++
	return f.raws, f.err
}

func (f *fakeSearch) Name() string { return "fake-search" }

type fakeArticleStore struct {
	err error
}

func (f *fakeArticleStore) UpsertMany(_ context.Context, raws []datatypes.RawArticle) (*store.UpsertResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	articles := store.Normalize(raws, time.Now())
	fps := make([]string, len(articles))
	for i := range articles {
		fps[i] = articles[i].Fingerprint
	}
	return &store.UpsertResult{Stored: len(articles), Fingerprints: fps, Articles: articles}, nil
}

func (f *fakeArticleStore) GetByFingerprints(context.Context, []string) ([]datatypes.Article, error) {
	return nil, nil
}

func (f *fakeArticleStore) QueryByTagsAndRange(context.Context, store.Query) ([]datatypes.Article, error) {
	return nil, nil
}

type fakePipelineIndex struct {
	err error
}

func (f *fakePipelineIndex) IndexArticles(_ context.Context, articles []datatypes.Article) (*index.IndexResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &index.IndexResult{ArticlesSeen: len(articles), ChunksWritten: len(articles) * 2}, nil
}

func (f *fakePipelineIndex) QueryByVector(context.Context, []float32, int, index.Filter) ([]datatypes.RetrievedChunk, error) {
	return nil, nil
}

func (f *fakePipelineIndex) DeleteByFingerprints(context.Context, []string) error { return nil }

type fakeScorer struct{}

func (f *fakeScorer) Score(_ context.Context, texts []string) ([]datatypes.SentimentScore, error) {
	out := make([]datatypes.SentimentScore, len(texts))
	for i := range out {
		out[i] = datatypes.SentimentScore{Label: datatypes.SentimentNeutral, Confidence: 0.5}
	}
	return out, nil
}

type fakeLLM struct {
	response string
	delay    time.Duration
	err      error
}

func (f *fakeLLM) Generate(ctx context.Context, _ string, _ llm.GenerationParams) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.response, f.err
}

func (f *fakeLLM) Chat(ctx context.Context, _ []datatypes.Message, _ llm.GenerationParams) (*llm.ChatResult, error) {
	content, err := f.Generate(ctx, "", llm.GenerationParams{})
	if err != nil {
		return nil, err
	}
	return &llm.ChatResult{Content: content}, nil
}

// ===== Helpers =====

func rawBatch(n int) []datatypes.RawArticle {
	out := make([]datatypes.RawArticle, n)
	for i := range out {
		out[i] = datatypes.RawArticle{
			Title:       "Article " + string(rune('A'+i)),
			Snippet:     "snippet",
			URL:         "https://example.com/" + string(rune('a'+i)),
			Source:      "example.com",
			Category:    "technology",
			PublishedAt: time.Now().Add(-time.Hour),
		}
	}
	return out
}

func newTestOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.LLM == nil {
		deps.LLM = &fakeLLM{response: "analysis text"}
	}
	return New(deps, cfg)
}

func processRequest(query string) datatypes.PipelineRequest {
	return datatypes.PipelineRequest{
		Query:  query,
		UserID: "user-1",
		Stages: datatypes.StageToggles{Store: true, Index: true, Analyze: true, Sentiment: true},
	}
}

// ===== Tests =====

func TestRun_SuccessRecordsAllStages(t *testing.T) {
	o := newTestOrchestrator(Deps{
		Search: &fakeSearch{raws: rawBatch(3)},
		Store:  &fakeArticleStore{},
		Index:  &fakePipelineIndex{},
		Scorer: &fakeScorer{},
	}, Config{})

	run, err := o.Run(context.Background(), processRequest("chip shortage"))
	require.NoError(t, err)

	assert.Equal(t, datatypes.RunSuccess, run.Status)
	assert.Equal(t, 3, run.Counts.TotalFound)
	assert.Equal(t, 3, run.Counts.Stored)
	assert.Equal(t, 6, run.Counts.VectorsCreated)
	assert.Len(t, run.Fingerprints, 3)
	assert.Equal(t, "analysis text", run.Analysis)
	assert.Equal(t, 3, run.SentimentCounts["neutral"])

	for _, stage := range []datatypes.Stage{
		datatypes.StageSearch, datatypes.StageStore, datatypes.StageIndex,
		datatypes.StageSentiment, datatypes.StageAnalyze,
	} {
		result, ok := run.StageResultFor(stage)
		require.True(t, ok, stage)
		assert.Equal(t, datatypes.StageSuccess, result.Outcome, stage)
	}

	cardsResult, ok := run.StageResultFor(datatypes.StageCards)
	require.True(t, ok)
	assert.Equal(t, datatypes.StageSkipped, cardsResult.Outcome, "card stage disabled by toggles")
}

func TestRun_SearchFailureIsFatal(t *testing.T) {
	o := newTestOrchestrator(Deps{
		Search: &fakeSearch{err: &datatypes.ProviderError{
			Kind: datatypes.KindProviderUnavailable, Provider: "fake-search", Message: "down",
		}},
	}, Config{})

	run, err := o.Run(context.Background(), processRequest("q"))
	require.NoError(t, err)

	assert.Equal(t, datatypes.RunFailed, run.Status)
	result, ok := run.StageResultFor(datatypes.StageSearch)
	require.True(t, ok)
	assert.Equal(t, datatypes.StageFailed, result.Outcome)
	assert.Equal(t, datatypes.KindProviderUnavailable, result.ErrorKind)
	assert.NotEmpty(t, run.Errors)

	_, stored := run.StageResultFor(datatypes.StageStore)
	assert.False(t, stored, "nothing runs after a fatal search failure")
}

func TestRun_StoreFailureDowngradesToInMemory(t *testing.T) {
	o := newTestOrchestrator(Deps{
		Search: &fakeSearch{raws: rawBatch(2)},
		Store:  &fakeArticleStore{err: errors.New("weaviate down")},
		Index:  &fakePipelineIndex{},
	}, Config{})

	run, err := o.Run(context.Background(), processRequest("q"))
	require.NoError(t, err)

	assert.Equal(t, datatypes.RunPartialSuccess, run.Status)
	storeResult, _ := run.StageResultFor(datatypes.StageStore)
	assert.Equal(t, datatypes.StageFailed, storeResult.Outcome)

	// Downstream stages still saw fingerprinted articles.
	indexResult, _ := run.StageResultFor(datatypes.StageIndex)
	assert.Equal(t, datatypes.StageSuccess, indexResult.Outcome)
	assert.Equal(t, 4, run.Counts.VectorsCreated)
	assert.Len(t, run.Fingerprints, 2)
}

func TestRun_EmptySearchShortCircuits(t *testing.T) {
	o := newTestOrchestrator(Deps{
		Search: &fakeSearch{raws: nil},
		Store:  &fakeArticleStore{},
	}, Config{})

	run, err := o.Run(context.Background(), processRequest("obscure topic"))
	require.NoError(t, err)

	assert.Equal(t, datatypes.RunSuccess, run.Status)
	assert.Zero(t, run.Counts.TotalFound)
	assert.Empty(t, run.Cards)
	_, ran := run.StageResultFor(datatypes.StageStore)
	assert.False(t, ran, "no downstream stages on an empty result set")
}

func TestRun_ZeroResultsRequestShortCircuits(t *testing.T) {
	provider := &fakeSearch{raws: rawBatch(3)}
	o := newTestOrchestrator(Deps{
		Search: provider,
		Store:  &fakeArticleStore{},
		Index:  &fakePipelineIndex{},
		Scorer: &fakeScorer{},
	}, Config{})

	req := processRequest("chip shortage")
	zero := 0
	req.NumResults = &zero

	run, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, datatypes.RunSuccess, run.Status)
	assert.Zero(t, run.Counts.TotalFound)
	assert.Empty(t, run.Cards)
	assert.Empty(t, run.Fingerprints)
	assert.Zero(t, provider.calls, "provider is never invoked for a zero-result request")

	searchResult, ok := run.StageResultFor(datatypes.StageSearch)
	require.True(t, ok)
	assert.Equal(t, datatypes.StageSuccess, searchResult.Outcome)
	assert.Zero(t, searchResult.Count)

	for _, stage := range []datatypes.Stage{
		datatypes.StageStore, datatypes.StageIndex,
		datatypes.StageSentiment, datatypes.StageAnalyze, datatypes.StageCards,
	} {
		_, ran := run.StageResultFor(stage)
		assert.False(t, ran, stage)
	}
}

func TestRun_ValidationRejected(t *testing.T) {
	o := newTestOrchestrator(Deps{Search: &fakeSearch{}}, Config{})

	_, err := o.Run(context.Background(), datatypes.PipelineRequest{Query: ""})
	require.Error(t, err)
	assert.Equal(t, datatypes.KindValidation, datatypes.KindOf(err))
}

func TestRun_PerUserBusy(t *testing.T) {
	slow := &fakeLLM{response: "ok", delay: 200 * time.Millisecond}
	o := newTestOrchestrator(Deps{
		Search: &fakeSearch{raws: rawBatch(1)},
		LLM:    slow,
	}, Config{})

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		req := processRequest("q")
		_, _ = o.Run(context.Background(), req)
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let the first run claim the gate

	_, err := o.Run(context.Background(), processRequest("q"))
	require.Error(t, err)
	assert.Equal(t, datatypes.KindBusyRetry, datatypes.KindOf(err))
	<-done
}

func TestRun_WaitQueuesBehindActiveRun(t *testing.T) {
	slow := &fakeLLM{response: "ok", delay: 100 * time.Millisecond}
	o := newTestOrchestrator(Deps{
		Search: &fakeSearch{raws: rawBatch(1)},
		LLM:    slow,
	}, Config{})

	first := make(chan *datatypes.PipelineRun, 1)
	go func() {
		run, _ := o.Run(context.Background(), processRequest("q"))
		first <- run
	}()
	time.Sleep(20 * time.Millisecond)

	req := processRequest("q")
	req.Wait = true
	run, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, datatypes.RunSuccess, run.Status)
	assert.Equal(t, datatypes.RunSuccess, (<-first).Status)
}

func TestRun_DeadlineYieldsPartialSuccess(t *testing.T) {
	slow := &fakeLLM{response: "late", delay: 500 * time.Millisecond}
	o := newTestOrchestrator(Deps{
		Search: &fakeSearch{raws: rawBatch(1)},
		Store:  &fakeArticleStore{},
		LLM:    slow,
	}, Config{Deadline: 100 * time.Millisecond})

	run, err := o.Run(context.Background(), processRequest("q"))
	require.NoError(t, err)

	assert.Equal(t, datatypes.RunPartialSuccess, run.Status)
	analyzeResult, ok := run.StageResultFor(datatypes.StageAnalyze)
	require.True(t, ok)
	assert.Equal(t, datatypes.StageCancelled, analyzeResult.Outcome)

	searchResult, _ := run.StageResultFor(datatypes.StageSearch)
	assert.Equal(t, datatypes.StageSuccess, searchResult.Outcome,
		"completed stages keep their outcomes")
}

func TestFinalize(t *testing.T) {
	o := newTestOrchestrator(Deps{Search: &fakeSearch{}}, Config{})

	run := &datatypes.PipelineRun{StageResults: []datatypes.StageResult{
		{Stage: datatypes.StageSearch, Outcome: datatypes.StageSuccess},
		{Stage: datatypes.StageStore, Outcome: datatypes.StageSkipped},
	}}
	o.finalize(run)
	assert.Equal(t, datatypes.RunSuccess, run.Status, "skipped stages do not degrade the run")

	run.StageResults = append(run.StageResults, datatypes.StageResult{
		Stage: datatypes.StageIndex, Outcome: datatypes.StageFailed,
	})
	o.finalize(run)
	assert.Equal(t, datatypes.RunPartialSuccess, run.Status)
}

func TestDominantCategory(t *testing.T) {
	articles := []datatypes.Article{
		{Category: "technology"},
		{Category: "business"},
		{Category: "technology"},
		{Category: ""},
	}
	assert.Equal(t, "technology", dominantCategory(articles))
	assert.Equal(t, "", dominantCategory(nil))

	tied := []datatypes.Article{{Category: "b"}, {Category: "a"}}
	assert.Equal(t, "a", dominantCategory(tied), "ties break lexicographically")
}

func TestRecommendedQueries(t *testing.T) {
	assert.Nil(t, recommendedQueries(nil, "q"))

	profile := &datatypes.UserProfile{CategoryWeights: map[string]float64{
		"technology": 1.0, "business": 0.5, "science": 0.3, "sports": 0.1,
	}}
	got := recommendedQueries(profile, "latest technology news")
	assert.Equal(t, []string{"latest business news", "latest science news"}, got,
		"the current query is excluded and only top-3 categories considered")
}
