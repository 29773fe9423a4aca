// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements hybrid recall over the chunk index: a
// vector pass, an optional keyword pass over the article store, and a
// profile-aware re-rank that collapses multi-chunk hits down to one
// chunk per article.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/llm"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/cards"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/index"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/memory"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/observability"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("aleutian.newswire.retrieval")

// ===== Scoring =====

// Re-rank term weights. Cosine dominates; recency and the interest-
// vector affinity adjust the ordering without overturning a clearly
// better semantic match.
const (
	cosineWeight   = 0.6
	recencyWeight  = 0.25
	affinityWeight = 0.15
)

const (
	defaultK     = 5
	maxK         = 10
	defaultFloor = 0.2

	// overfetchFactor widens the vector pass so the per-article
	// collapse still leaves k candidates.
	overfetchFactor = 3

	// lowRecallThreshold flags a retrieval that survived the floor
	// with fewer results than a useful context block needs.
	lowRecallThreshold = 2

	// embedCacheCap bounds the per-session query-embedding cache.
	embedCacheCap = 256
)

// Request describes one retrieval.
//
// # Fields
//
//   - Query: The text to embed and search with. Required.
//   - UserID: Enables the profile affinity term when Personalize is set.
//   - SessionID: Scopes the query-embedding cache to a dialogue session.
//   - K: Result count, default 5, capped at 10.
//   - Floor: Minimum cosine similarity; 0 selects the 0.2 default. Pass
//     a negative value to disable the floor entirely.
//   - Filter: Index-side constraint, typically the seeding run's
//     fingerprints or a recency window.
//   - Personalize: Enables the interest-vector affinity term.
type Request struct {
	Query       string
	UserID      string
	SessionID   string
	K           int
	Floor       float64
	Filter      index.Filter
	Personalize bool
}

// Result is one retrieval's output.
//
// LowRecall is set when fewer than 2 chunks survived the similarity
// floor; the caller decides whether to proceed without context.
type Result struct {
	Chunks    []datatypes.RetrievedChunk `json:"chunks"`
	LowRecall bool                       `json:"low_recall"`
}

// Engine performs hybrid retrieval.
//
// # Thread Safety
//
// Safe for concurrent use. Query embeddings are deduplicated across
// concurrent identical requests via singleflight and cached per
// session.
type Engine struct {
	index    index.Index
	articles store.Store
	embedder llm.EmbeddingClient
	memory   memory.Store

	embedGroup singleflight.Group
	cacheMu    sync.Mutex
	embedCache map[string][]float32

	now func() time.Time
}

// NewEngine creates a retrieval engine. The article store and memory
// store are optional: without the store the keyword pass and source
// hydration are skipped, without memory the affinity term is zero.
func NewEngine(idx index.Index, articles store.Store, embedder llm.EmbeddingClient, mem memory.Store) *Engine {
	return &Engine{
		index:      idx,
		articles:   articles,
		embedder:   embedder,
		memory:     mem,
		embedCache: make(map[string][]float32),
		now:        time.Now,
	}
}

// Retrieve runs the full recall-and-rank path.
//
// # Description
//
// The query is embedded (cached per session), the index is searched for
// the top 3k chunks under the filter, and, when the filter is broad, a
// keyword pass over the article store contributes additional candidate
// articles whose chunks are vector-scored in a second index query. The
// union is re-ranked, collapsed to one chunk per article, floored, and
// truncated to k.
//
// # Inputs
//
//   - req: Query text plus scoping; see Request.
//
// # Outputs
//
//   - *Result: Ranked chunks with FinalScore set, plus the LowRecall flag.
//   - error: Embedding or index failure; the keyword pass degrades
//     silently to vector-only.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Retrieve")
	defer span.End()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, &datatypes.ProviderError{
			Kind: datatypes.KindValidation, Provider: "retrieval", Message: "empty query",
		}
	}
	k := req.K
	if k <= 0 {
		k = defaultK
	}
	if k > maxK {
		k = maxK
	}
	floor := req.Floor
	if floor == 0 {
		floor = defaultFloor
	} else if floor < 0 {
		floor = 0
	}
	span.SetAttributes(
		attribute.Int("retrieval.k", k),
		attribute.Float64("retrieval.floor", floor),
	)

	vector, err := e.embedQuery(ctx, req.SessionID, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query embedding failed")
		return nil, err
	}

	hits, err := e.index.QueryByVector(ctx, vector, k*overfetchFactor, req.Filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector pass failed")
		return nil, err
	}

	if broadFilter(req.Filter) {
		extra, kwErr := e.keywordPass(ctx, query, vector, k, req.Filter, hits)
		if kwErr != nil {
			// Keyword recall is additive; losing it costs breadth, not
			// correctness.
			slog.Warn("Keyword pass failed, continuing vector-only", "error", kwErr)
		} else {
			hits = append(hits, extra...)
		}
	}

	var interest []float32
	personalization := 0.0
	if req.Personalize && req.UserID != "" && e.memory != nil {
		if profile, pErr := e.memory.GetProfile(ctx, req.UserID); pErr != nil {
			slog.Warn("Profile load failed, skipping affinity term",
				"userId", req.UserID, "error", pErr)
		} else {
			interest = profile.InterestVector
			personalization = profile.Style.PersonalizationLevel
		}
	}

	now := e.now()
	for i := range hits {
		hits[i].FinalScore = finalScore(&hits[i], interest, personalization, now)
	}

	ranked := collapseByArticle(hits)
	kept := ranked[:0]
	scores := make([]float64, 0, len(ranked))
	for _, c := range ranked {
		if c.Cosine < floor {
			continue
		}
		kept = append(kept, c)
		scores = append(scores, c.FinalScore)
	}
	if len(kept) > k {
		kept = kept[:k]
		scores = scores[:k]
	}
	observability.RecordRetrievalScores(scores)

	result := &Result{Chunks: kept, LowRecall: len(kept) < lowRecallThreshold}
	span.SetAttributes(
		attribute.Int("retrieval.results", len(kept)),
		attribute.Bool("retrieval.low_recall", result.LowRecall),
	)

	e.hydrateSources(ctx, result.Chunks)
	return result, nil
}

// ===== Query Embedding =====

// embedQuery returns the unit-length embedding of the query, cached per
// session and deduplicated across concurrent identical calls.
func (e *Engine) embedQuery(ctx context.Context, sessionID, query string) ([]float32, error) {
	key := sessionID + "\x00" + query
	if sessionID != "" {
		e.cacheMu.Lock()
		cached, ok := e.embedCache[key]
		e.cacheMu.Unlock()
		if ok {
			return cached, nil
		}
	}

	v, err, _ := e.embedGroup.Do(key, func() (interface{}, error) {
		vectors, err := e.embedder.Embed(ctx, []string{query})
		observability.RecordProviderCall("embedding", err)
		if err != nil {
			return nil, err
		}
		if len(vectors) != 1 || len(vectors[0]) == 0 {
			return nil, &datatypes.ProviderError{
				Kind:     datatypes.KindInvalidResponse,
				Provider: "embedding",
				Message:  fmt.Sprintf("expected 1 vector, got %d", len(vectors)),
			}
		}
		return normalizeVector(vectors[0]), nil
	})
	if err != nil {
		return nil, err
	}
	vector := v.([]float32)

	if sessionID != "" {
		e.cacheMu.Lock()
		if len(e.embedCache) >= embedCacheCap {
			// Full reset beats per-entry bookkeeping at this size.
			e.embedCache = make(map[string][]float32)
		}
		e.embedCache[key] = vector
		e.cacheMu.Unlock()
	}
	return vector, nil
}

// ForgetSession drops a session's cached query embeddings. Called when
// a dialogue session is deleted.
func (e *Engine) ForgetSession(sessionID string) {
	if sessionID == "" {
		return
	}
	prefix := sessionID + "\x00"
	e.cacheMu.Lock()
	for key := range e.embedCache {
		if strings.HasPrefix(key, prefix) {
			delete(e.embedCache, key)
		}
	}
	e.cacheMu.Unlock()
}

// ===== Keyword Pass =====

// broadFilter reports whether the filter leaves the corpus open enough
// that a keyword pass adds recall. Run-scoped retrievals are already
// narrowed to a fingerprint set.
func broadFilter(f index.Filter) bool {
	return len(f.Fingerprints) == 0
}

// keywordPass finds articles matching the query keyword and vector-
// scores their chunks in a second, fingerprint-scoped index query.
// Articles already present in the vector hits are skipped.
func (e *Engine) keywordPass(ctx context.Context, query string, vector []float32, k int, f index.Filter, existing []datatypes.RetrievedChunk) ([]datatypes.RetrievedChunk, error) {
	if e.articles == nil {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "keywordPass")
	defer span.End()

	matches, err := e.articles.QueryByTagsAndRange(ctx, store.Query{
		Keyword:  keywordFromQuery(query),
		Category: f.Category,
		Since:    f.PublishedAfter,
		Limit:    k,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(existing))
	for i := range existing {
		seen[existing[i].Fingerprint] = true
	}
	var fresh []string
	for i := range matches {
		if !seen[matches[i].Fingerprint] {
			fresh = append(fresh, matches[i].Fingerprint)
		}
	}
	if len(fresh) == 0 {
		return nil, nil
	}
	span.SetAttributes(attribute.Int("retrieval.keyword_articles", len(fresh)))

	return e.index.QueryByVector(ctx, vector, k, index.Filter{Fingerprints: fresh})
}

// keywordFromQuery picks the longest token of the query as the keyword
// term; the store's keyword match is a single-term contains.
func keywordFromQuery(query string) string {
	best := ""
	for _, tok := range strings.Fields(query) {
		tok = strings.Trim(tok, `.,;:!?"'()[]`)
		if len(tok) > len(best) {
			best = tok
		}
	}
	return best
}

// ===== Re-rank =====

// finalScore combines cosine, recency decay, and the interest-vector
// affinity weighted by the user's personalization level.
func finalScore(c *datatypes.RetrievedChunk, interest []float32, personalization float64, now time.Time) float64 {
	score := cosineWeight*c.Cosine +
		recencyWeight*cards.RecencyDecay(c.PublishedAt, now)
	if personalization > 0 && len(interest) > 0 && len(c.Vector) == len(interest) {
		affinity := cosine32(c.Vector, interest)
		if affinity > 0 {
			score += affinityWeight * personalization * affinity
		}
	}
	return score
}

// collapseByArticle keeps each article's best-scoring chunk and sorts
// the survivors by final score descending, deterministic on ties
// (fingerprint, then ordinal).
func collapseByArticle(hits []datatypes.RetrievedChunk) []datatypes.RetrievedChunk {
	best := make(map[string]int, len(hits))
	out := make([]datatypes.RetrievedChunk, 0, len(hits))
	for i := range hits {
		j, ok := best[hits[i].Fingerprint]
		if !ok {
			best[hits[i].Fingerprint] = len(out)
			out = append(out, hits[i])
			continue
		}
		if hits[i].FinalScore > out[j].FinalScore {
			out[j] = hits[i]
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FinalScore != out[j].FinalScore {
			return out[i].FinalScore > out[j].FinalScore
		}
		if out[i].Fingerprint != out[j].Fingerprint {
			return out[i].Fingerprint < out[j].Fingerprint
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out
}

// hydrateSources fills Title and URL from the article store, best
// effort. The chunk class does not carry them.
func (e *Engine) hydrateSources(ctx context.Context, chunks []datatypes.RetrievedChunk) {
	if e.articles == nil || len(chunks) == 0 {
		return
	}
	fingerprints := make([]string, len(chunks))
	for i := range chunks {
		fingerprints[i] = chunks[i].Fingerprint
	}
	articles, err := e.articles.GetByFingerprints(ctx, fingerprints)
	if err != nil {
		slog.Warn("Source hydration failed", "error", err)
		return
	}
	byFP := make(map[string]*datatypes.Article, len(articles))
	for i := range articles {
		byFP[articles[i].Fingerprint] = &articles[i]
	}
	for i := range chunks {
		if a := byFP[chunks[i].Fingerprint]; a != nil {
			chunks[i].Title = a.Title
			chunks[i].URL = a.URL
			if chunks[i].Source == "" {
				chunks[i].Source = a.Source
			}
		}
	}
}

// ===== Vector Math =====

// cosine32 computes cosine similarity between two equal-length vectors.
func cosine32(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// normalizeVector scales a vector to unit length; zero vectors pass
// through unchanged.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
