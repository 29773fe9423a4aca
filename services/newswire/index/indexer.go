// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/llm"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.newswire.index")

const (
	// embedBatchSize caps texts per embedding call.
	embedBatchSize = 32

	// defaultEmbedTimeout bounds one embedding batch.
	defaultEmbedTimeout = 30 * time.Second

	// defaultQueryTimeout bounds one vector query.
	defaultQueryTimeout = 5 * time.Second
)

// Filter narrows QueryByVector.
//
// Zero-valued fields are unconstrained. Fingerprints restricts hits to
// the given articles (the run-scoped retrieval path); PublishedAfter is
// the recency window; Category matches the chunk's parent category.
type Filter struct {
	Fingerprints   []string  `json:"fingerprints,omitempty"`
	PublishedAfter time.Time `json:"published_after,omitempty"`
	Category       string    `json:"category,omitempty"`
}

// IndexResult reports one IndexArticles invocation.
//
// PartiallyIndexed names articles that lost at least one embedding batch
// but kept their successfully embedded chunks.
type IndexResult struct {
	ArticlesSeen     int      `json:"articles_seen"`
	ChunksWritten    int      `json:"chunks_written"`
	PartiallyIndexed []string `json:"partially_indexed,omitempty"`
}

// Index is the vector-index interface the pipeline and retrieval engine
// depend on.
type Index interface {
	// IndexArticles chunks, embeds, and upserts the batch. Prior chunks
	// for each article are deleted first so re-indexing is atomic per
	// fingerprint.
	IndexArticles(ctx context.Context, articles []datatypes.Article) (*IndexResult, error)

	// QueryByVector returns the top-k chunks nearest to the given
	// pre-normalized vector under the filter, cosine scored.
	QueryByVector(ctx context.Context, vector []float32, k int, f Filter) ([]datatypes.RetrievedChunk, error)

	// DeleteByFingerprints removes every chunk belonging to the given
	// articles.
	DeleteByFingerprints(ctx context.Context, fingerprints []string) error
}

// WeaviateIndex implements Index on the NewsChunk class.
//
// # Description
//
// Vectors are L2-normalized at write time so cosine similarity reduces
// to a dot product; Weaviate reports certainty = (1+cos)/2, which the
// query path maps back to raw cosine. Chunk objects carry deterministic
// UUIDs derived from (fingerprint, ordinal).
//
// # Thread Safety
//
// Safe for concurrent use.
type WeaviateIndex struct {
	client       *weaviate.Client
	embedder     llm.EmbeddingClient
	embedTimeout time.Duration
	queryTimeout time.Duration
}

var _ Index = (*WeaviateIndex)(nil)

// NewWeaviateIndex creates the indexer. Zero timeouts select the
// defaults (30 s per embed batch, 5 s per query).
func NewWeaviateIndex(client *weaviate.Client, embedder llm.EmbeddingClient, embedTimeout, queryTimeout time.Duration) *WeaviateIndex {
	if embedTimeout <= 0 {
		embedTimeout = defaultEmbedTimeout
	}
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &WeaviateIndex{
		client:       client,
		embedder:     embedder,
		embedTimeout: embedTimeout,
		queryTimeout: queryTimeout,
	}
}

// IndexArticles chunks, embeds, and upserts a batch of articles.
//
// # Description
//
// Prior chunks for every article in the batch are deleted up front,
// then chunks are embedded in batches of 32. One failed embedding batch
// does not fail its articles: their surviving chunks are still written
// and the articles are reported in PartiallyIndexed. The call fails
// only when nothing could be embedded at all or the chunk write fails.
//
// # Outputs
//
//   - *IndexResult: Chunk and degradation accounting.
//   - error: IndexUnavailable on delete/write failure; the last embed
//     error when every batch failed.
func (w *WeaviateIndex) IndexArticles(ctx context.Context, articles []datatypes.Article) (*IndexResult, error) {
	ctx, span := tracer.Start(ctx, "IndexArticles")
	defer span.End()
	span.SetAttributes(attribute.Int("index.articles", len(articles)))

	result := &IndexResult{ArticlesSeen: len(articles)}
	if len(articles) == 0 {
		return result, nil
	}

	fingerprints := make([]string, len(articles))
	var chunks []datatypes.Chunk
	for i, article := range articles {
		fingerprints[i] = article.Fingerprint
		chunks = append(chunks, ChunkArticle(article)...)
	}

	if err := w.DeleteByFingerprints(ctx, fingerprints); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prior chunk delete failed")
		return nil, err
	}

	embedded, partial, embedErr := w.embedChunks(ctx, chunks)
	if len(embedded) == 0 {
		if embedErr != nil {
			span.RecordError(embedErr)
			span.SetStatus(codes.Error, "all embedding batches failed")
			return nil, embedErr
		}
		return result, nil
	}
	result.PartiallyIndexed = partial

	written, err := w.writeChunks(ctx, embedded)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk write failed")
		return nil, err
	}
	result.ChunksWritten = written

	slog.Info("Indexed article batch",
		"articles", len(articles),
		"chunks", written,
		"partially_indexed", len(partial))
	span.SetAttributes(attribute.Int("index.chunks_written", written))
	return result, nil
}

// embedChunks runs the embedding batches. Returns the chunks that got
// vectors, the fingerprints of articles that lost a batch, and the last
// embedding error (non-nil only if at least one batch failed).
func (w *WeaviateIndex) embedChunks(ctx context.Context, chunks []datatypes.Chunk) ([]datatypes.Chunk, []string, error) {
	var embedded []datatypes.Chunk
	var lastErr error
	degraded := make(map[string]bool)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		batchCtx, cancel := context.WithTimeout(ctx, w.embedTimeout)
		vectors, err := w.embedder.Embed(batchCtx, texts)
		cancel()
		if err != nil {
			lastErr = err
			for _, c := range batch {
				degraded[c.Fingerprint] = true
			}
			slog.Warn("Embedding batch failed, continuing with remaining batches",
				"batch_start", start, "batch_size", len(batch), "error", err)
			continue
		}

		for i := range batch {
			batch[i].Vector = normalizeVector(vectors[i])
			embedded = append(embedded, batch[i])
		}
	}

	partial := make([]string, 0, len(degraded))
	for fp := range degraded {
		partial = append(partial, fp)
	}
	return embedded, partial, lastErr
}

// writeChunks batch-inserts embedded chunks under deterministic UUIDs.
func (w *WeaviateIndex) writeChunks(ctx context.Context, chunks []datatypes.Chunk) (int, error) {
	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class:      datatypes.ClassNewsChunk,
			ID:         ChunkUUID(c.Fingerprint, c.Ordinal),
			Vector:     c.Vector,
			Properties: c.ToMap(),
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, &datatypes.StorageError{
			Kind:      datatypes.KindIndexUnavailable,
			Component: "vector-index",
			Message:   "chunk batch write failed",
			Err:       err,
		}
	}

	written := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			written++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Weaviate rejected chunk in batch", "error", errItem.Message)
			}
		}
	}
	return written, nil
}

// DeleteByFingerprints removes every chunk for the given articles in one
// batch delete.
func (w *WeaviateIndex) DeleteByFingerprints(ctx context.Context, fingerprints []string) error {
	ctx, span := tracer.Start(ctx, "DeleteByFingerprints")
	defer span.End()

	if len(fingerprints) == 0 {
		return nil
	}

	where := filters.Where().
		WithPath([]string{"fingerprint"}).
		WithOperator(filters.ContainsAny).
		WithValueText(fingerprints...)

	resp, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.ClassNewsChunk).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return &datatypes.StorageError{
			Kind:      datatypes.KindIndexUnavailable,
			Component: "vector-index",
			Message:   "chunk delete failed",
			Err:       err,
		}
	}

	if resp != nil && resp.Results != nil && resp.Results.Matches > 0 {
		slog.Debug("Deleted prior chunks", "matches", resp.Results.Matches)
	}
	return nil
}

// QueryByVector returns the top-k nearest chunks under the filter.
//
// Scores on the returned chunks are raw cosine similarity recovered
// from Weaviate's certainty; FinalScore is left for the retrieval
// engine's re-ranking.
func (w *WeaviateIndex) QueryByVector(ctx context.Context, vector []float32, k int, f Filter) ([]datatypes.RetrievedChunk, error) {
	ctx, span := tracer.Start(ctx, "QueryByVector")
	defer span.End()
	span.SetAttributes(attribute.Int("index.k", k))

	ctx, cancel := context.WithTimeout(ctx, w.queryTimeout)
	defer cancel()

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: "fingerprint"},
		{Name: "ordinal"},
		{Name: "text"},
		{Name: "source"},
		{Name: "published_at"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
			{Name: "vector"},
		}},
	}

	query := w.client.GraphQL().Get().
		WithClassName(datatypes.ClassNewsChunk).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k)

	if where := buildChunkFilter(f); where != nil {
		query = query.WithWhere(where)
	}

	resp, err := query.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector query failed")
		return nil, &datatypes.StorageError{
			Kind:      datatypes.KindIndexUnavailable,
			Component: "vector-index",
			Message:   "vector query failed",
			Err:       err,
		}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.NewsChunkQueryResponse](resp)
	if err != nil {
		return nil, &datatypes.StorageError{
			Kind:      datatypes.KindInvalidResponse,
			Component: "vector-index",
			Message:   "unparseable chunk query response",
			Err:       err,
		}
	}

	hits := make([]datatypes.RetrievedChunk, 0, len(parsed.Get.NewsChunk))
	for i := range parsed.Get.NewsChunk {
		r := &parsed.Get.NewsChunk[i]
		hits = append(hits, datatypes.RetrievedChunk{
			Fingerprint: r.Fingerprint,
			Ordinal:     r.Ordinal,
			Text:        r.Text,
			Source:      r.Source,
			PublishedAt: msToTime(r.PublishedAt),
			Cosine:      r.Cosine(),
			Vector:      r.Additional.Vector,
		})
	}
	return hits, nil
}

// buildChunkFilter translates a Filter into a Weaviate where clause, or
// nil when unconstrained.
func buildChunkFilter(f Filter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if len(f.Fingerprints) > 0 {
		operands = append(operands, filters.Where().
			WithPath([]string{"fingerprint"}).
			WithOperator(filters.ContainsAny).
			WithValueText(f.Fingerprints...))
	}
	if !f.PublishedAfter.IsZero() {
		operands = append(operands, filters.Where().
			WithPath([]string{"published_at"}).
			WithOperator(filters.GreaterThanEqual).
			WithValueNumber(float64(f.PublishedAfter.UnixMilli())))
	}
	if f.Category != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"category"}).
			WithOperator(filters.Equal).
			WithValueText(f.Category))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().
			WithOperator(filters.And).
			WithOperands(operands)
	}
}

// normalizeVector scales a vector to unit length so similarity reduces
// to a dot product. Zero vectors pass through unchanged.
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

// msToTime converts Unix milliseconds to UTC time; 0 maps to zero time.
func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
