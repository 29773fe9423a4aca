// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/index"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)

// ===== Fakes =====

type fakeEmbedder struct {
	calls  atomic.Int32
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

type fakeIndex struct {
	hits      []datatypes.RetrievedChunk
	byFPHits  []datatypes.RetrievedChunk
	lastK     int
	lastF     index.Filter
	err       error
}

func (f *fakeIndex) IndexArticles(context.Context, []datatypes.Article) (*index.IndexResult, error) {
	return &index.IndexResult{}, nil
}

func (f *fakeIndex) QueryByVector(_ context.Context, _ []float32, k int, flt index.Filter) ([]datatypes.RetrievedChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastK = k
	f.lastF = flt
	if len(flt.Fingerprints) > 0 && f.byFPHits != nil {
		return f.byFPHits, nil
	}
	return f.hits, nil
}

func (f *fakeIndex) DeleteByFingerprints(context.Context, []string) error { return nil }

type fakeStore struct {
	articles []datatypes.Article
	queryErr error
}

func (f *fakeStore) UpsertMany(context.Context, []datatypes.RawArticle) (*store.UpsertResult, error) {
	return &store.UpsertResult{}, nil
}

func (f *fakeStore) GetByFingerprints(_ context.Context, fps []string) ([]datatypes.Article, error) {
	var out []datatypes.Article
	for _, a := range f.articles {
		for _, fp := range fps {
			if a.Fingerprint == fp {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) QueryByTagsAndRange(_ context.Context, _ store.Query) ([]datatypes.Article, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.articles, nil
}

func chunk(fp string, ordinal int, cosine float64, age time.Duration) datatypes.RetrievedChunk {
	return datatypes.RetrievedChunk{
		Fingerprint: fp,
		Ordinal:     ordinal,
		Text:        "text-" + fp,
		Cosine:      cosine,
		PublishedAt: testNow.Add(-age),
	}
}

func newTestEngine(idx *fakeIndex, st *fakeStore, emb *fakeEmbedder) *Engine {
	var s store.Store
	if st != nil {
		s = st
	}
	e := NewEngine(idx, s, emb, nil)
	e.now = func() time.Time { return testNow }
	return e
}

// ===== Tests =====

func TestRetrieve_RanksAndCollapses(t *testing.T) {
	idx := &fakeIndex{hits: []datatypes.RetrievedChunk{
		chunk("fp-a", 0, 0.9, time.Hour),
		chunk("fp-a", 1, 0.7, time.Hour), // collapsed into fp-a's best
		chunk("fp-b", 0, 0.8, time.Hour),
		chunk("fp-c", 0, 0.1, time.Hour), // below the 0.2 floor
	}}
	st := &fakeStore{articles: []datatypes.Article{
		{Fingerprint: "fp-a", Title: "Alpha", URL: "https://a.example"},
	}}
	emb := &fakeEmbedder{vector: []float32{1, 0}}
	e := newTestEngine(idx, st, emb)

	res, err := e.Retrieve(context.Background(), Request{Query: "alpha news", K: 5})
	require.NoError(t, err)

	require.Len(t, res.Chunks, 2)
	assert.Equal(t, "fp-a", res.Chunks[0].Fingerprint)
	assert.Equal(t, 0, res.Chunks[0].Ordinal, "best chunk per article survives")
	assert.Equal(t, "fp-b", res.Chunks[1].Fingerprint)
	assert.False(t, res.LowRecall)

	assert.Equal(t, "Alpha", res.Chunks[0].Title, "titles hydrate from the store")
	assert.Equal(t, "https://a.example", res.Chunks[0].URL)

	assert.Greater(t, res.Chunks[0].FinalScore, res.Chunks[1].FinalScore)
	assert.Equal(t, 15, idx.lastK, "vector pass overfetches 3k")
}

func TestRetrieve_LowRecall(t *testing.T) {
	idx := &fakeIndex{hits: []datatypes.RetrievedChunk{
		chunk("fp-a", 0, 0.9, time.Hour),
		chunk("fp-b", 0, 0.05, time.Hour),
	}}
	e := newTestEngine(idx, nil, &fakeEmbedder{vector: []float32{1, 0}})

	res, err := e.Retrieve(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Len(t, res.Chunks, 1)
	assert.True(t, res.LowRecall)
}

func TestRetrieve_FloorDisabledWithNegative(t *testing.T) {
	idx := &fakeIndex{hits: []datatypes.RetrievedChunk{
		chunk("fp-a", 0, 0.05, time.Hour),
	}}
	e := newTestEngine(idx, nil, &fakeEmbedder{vector: []float32{1, 0}})

	res, err := e.Retrieve(context.Background(), Request{Query: "q", Floor: -1})
	require.NoError(t, err)
	assert.Len(t, res.Chunks, 1)
}

func TestRetrieve_KeywordPassUnionsFreshArticles(t *testing.T) {
	idx := &fakeIndex{
		hits: []datatypes.RetrievedChunk{
			chunk("fp-a", 0, 0.9, time.Hour),
		},
		byFPHits: []datatypes.RetrievedChunk{
			chunk("fp-kw", 0, 0.5, time.Hour),
		},
	}
	st := &fakeStore{articles: []datatypes.Article{
		{Fingerprint: "fp-a"},  // already in vector hits, skipped
		{Fingerprint: "fp-kw"}, // contributed by the keyword pass
	}}
	e := newTestEngine(idx, st, &fakeEmbedder{vector: []float32{1, 0}})

	res, err := e.Retrieve(context.Background(), Request{Query: "merger coverage", K: 5})
	require.NoError(t, err)

	fps := []string{res.Chunks[0].Fingerprint, res.Chunks[1].Fingerprint}
	assert.Equal(t, []string{"fp-a", "fp-kw"}, fps)
	assert.Equal(t, []string{"fp-kw"}, idx.lastF.Fingerprints,
		"second index query is scoped to keyword-only articles")
}

func TestRetrieve_RunScopedFilterSkipsKeywordPass(t *testing.T) {
	idx := &fakeIndex{hits: []datatypes.RetrievedChunk{
		chunk("fp-a", 0, 0.9, time.Hour),
		chunk("fp-b", 0, 0.8, time.Hour),
	}}
	st := &fakeStore{queryErr: errors.New("store should not be queried")}
	e := newTestEngine(idx, st, &fakeEmbedder{vector: []float32{1, 0}})

	res, err := e.Retrieve(context.Background(), Request{
		Query:  "q",
		Filter: index.Filter{Fingerprints: []string{"fp-a", "fp-b"}},
	})
	require.NoError(t, err)
	assert.Len(t, res.Chunks, 2)
}

func TestRetrieve_KeywordPassFailureIsNonFatal(t *testing.T) {
	idx := &fakeIndex{hits: []datatypes.RetrievedChunk{
		chunk("fp-a", 0, 0.9, time.Hour),
		chunk("fp-b", 0, 0.8, time.Hour),
	}}
	st := &fakeStore{queryErr: errors.New("store down")}
	e := newTestEngine(idx, st, &fakeEmbedder{vector: []float32{1, 0}})

	res, err := e.Retrieve(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Len(t, res.Chunks, 2)
}

func TestRetrieve_EmptyQueryRejected(t *testing.T) {
	e := newTestEngine(&fakeIndex{}, nil, &fakeEmbedder{vector: []float32{1, 0}})
	_, err := e.Retrieve(context.Background(), Request{Query: "   "})
	require.Error(t, err)
	assert.Equal(t, datatypes.KindValidation, datatypes.KindOf(err))
}

func TestEmbedQuery_SessionCache(t *testing.T) {
	emb := &fakeEmbedder{vector: []float32{3, 4}}
	e := newTestEngine(&fakeIndex{}, nil, emb)

	v1, err := e.embedQuery(context.Background(), "sess-1", "query")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, float64(v1[0]), 1e-6, "embeddings normalize to unit length")
	assert.InDelta(t, 0.8, float64(v1[1]), 1e-6)

	_, err = e.embedQuery(context.Background(), "sess-1", "query")
	require.NoError(t, err)
	assert.Equal(t, int32(1), emb.calls.Load(), "second call hits the cache")

	_, err = e.embedQuery(context.Background(), "sess-2", "query")
	require.NoError(t, err)
	assert.Equal(t, int32(2), emb.calls.Load(), "cache is session-scoped")

	e.ForgetSession("sess-1")
	_, err = e.embedQuery(context.Background(), "sess-1", "query")
	require.NoError(t, err)
	assert.Equal(t, int32(3), emb.calls.Load())
}

func TestFinalScore_PersonalizationTerm(t *testing.T) {
	c := chunk("fp-a", 0, 0.8, time.Hour)
	c.Vector = []float32{1, 0}
	interest := []float32{1, 0}

	base := finalScore(&c, nil, 0, testNow)
	personalized := finalScore(&c, interest, 1.0, testNow)
	assert.InDelta(t, affinityWeight, personalized-base, 1e-9,
		"perfectly aligned interest adds the full affinity weight")

	opposed := c
	opposed.Vector = []float32{-1, 0}
	assert.InDelta(t, base, finalScore(&opposed, interest, 1.0, testNow), 1e-9,
		"negative affinity never subtracts")

	mismatched := c
	mismatched.Vector = []float32{1, 0, 0}
	assert.InDelta(t, base, finalScore(&mismatched, interest, 1.0, testNow), 1e-9,
		"dimension mismatch skips the term")
}

func TestKeywordFromQuery(t *testing.T) {
	assert.Equal(t, "semiconductor", keywordFromQuery("the semiconductor crunch?"))
	assert.Equal(t, "", keywordFromQuery("  "))
}

func TestCosine32(t *testing.T) {
	assert.InDelta(t, 1.0, cosine32([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine32([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosine32([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, cosine32([]float32{0, 0}, []float32{1, 0}))
}
