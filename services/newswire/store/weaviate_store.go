// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.newswire.store")

const (
	// defaultOpTimeout bounds every store operation.
	defaultOpTimeout = 10 * time.Second

	// defaultQueryLimit applies when Query.Limit is zero.
	defaultQueryLimit = 25

	// maxQueryLimit caps Query.Limit.
	maxQueryLimit = 100
)

// articleFields are the properties fetched on every article query.
var articleFields = []graphql.Field{
	{Name: "fingerprint"},
	{Name: "title"},
	{Name: "snippet"},
	{Name: "body"},
	{Name: "url"},
	{Name: "source"},
	{Name: "author"},
	{Name: "published_at"},
	{Name: "language"},
	{Name: "category"},
	{Name: "keywords"},
	{Name: "query"},
	{Name: "discovered_at"},
	{Name: "last_seen_at"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
	}},
}

// WeaviateStore implements Store on the NewsArticle class.
//
// # Description
//
// Articles live one object per fingerprint under a deterministic UUID
// (ArticleUUID), which makes the batched upsert idempotent: re-inserting
// an existing fingerprint overwrites the same object, and the duplicate
// path merges tags through a partial update instead.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying Weaviate client handles
// connection pooling.
type WeaviateStore struct {
	client  *weaviate.Client
	timeout time.Duration
}

// Compile-time interface check.
var _ Store = (*WeaviateStore)(nil)

// NewWeaviateStore creates the article store. A zero timeout selects the
// 10 s default.
func NewWeaviateStore(client *weaviate.Client, timeout time.Duration) *WeaviateStore {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &WeaviateStore{client: client, timeout: timeout}
}

// UpsertMany assigns identity to the batch and persists it.
//
// # Description
//
// Normalizes the batch (fingerprints, in-batch dedup), looks up which
// fingerprints already exist, batch-inserts the new articles under their
// deterministic UUIDs, and merges tags into the stored duplicates. A
// failed duplicate merge degrades to a warning; a failed insert batch
// fails the call with StoreUnavailable.
//
// # Inputs
//
//   - ctx: Cancellation and deadline. The store adds its own 10 s cap.
//   - raws: Provider records. Untitled records are dropped.
//
// # Outputs
//
//   - *UpsertResult: Counts plus the normalized batch (see UpsertResult).
//   - error: StoreUnavailable when Weaviate is unreachable or the insert
//     batch fails outright.
func (s *WeaviateStore) UpsertMany(ctx context.Context, raws []datatypes.RawArticle) (*UpsertResult, error) {
	ctx, span := tracer.Start(ctx, "UpsertMany")
	defer span.End()
	span.SetAttributes(attribute.Int("article.batch_size", len(raws)))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().UTC()
	batch := Normalize(raws, now)
	if len(batch) == 0 {
		return &UpsertResult{}, nil
	}

	fingerprints := make([]string, len(batch))
	for i, a := range batch {
		fingerprints[i] = a.Fingerprint
	}

	existing, err := s.GetByFingerprints(ctx, fingerprints)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "duplicate lookup failed")
		return nil, err
	}
	existingByFp := make(map[string]datatypes.Article, len(existing))
	for _, a := range existing {
		existingByFp[a.Fingerprint] = a
	}

	var inserts []*models.Object
	result := &UpsertResult{
		Fingerprints: fingerprints,
		Articles:     make([]datatypes.Article, 0, len(batch)),
	}

	for _, article := range batch {
		stored, isDup := existingByFp[article.Fingerprint]
		if !isDup {
			article.LastSeenAt = now
			inserts = append(inserts, &models.Object{
				Class:      datatypes.ClassNewsArticle,
				ID:         ArticleUUID(article.Fingerprint),
				Properties: article.ToMap(),
			})
			result.Articles = append(result.Articles, article)
			continue
		}

		result.Duplicates++
		stored.MergeTags(datatypes.RawArticle{
			Category: article.Category,
			Keywords: article.Keywords,
		}, now)
		s.mergeDuplicate(ctx, stored)
		result.Articles = append(result.Articles, stored)
	}

	if len(inserts) == 0 {
		slog.Info("Upsert batch was all duplicates", "duplicates", result.Duplicates)
		return result, nil
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(inserts...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch insert failed")
		return nil, &datatypes.StorageError{
			Kind:      datatypes.KindStoreUnavailable,
			Component: "article-store",
			Message:   "batch insert failed",
			Err:       err,
		}
	}

	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			result.Stored++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Weaviate rejected article in batch", "error", errItem.Message)
			}
		}
	}

	slog.Info("Article upsert complete",
		"stored", result.Stored,
		"duplicates", result.Duplicates,
		"batch", len(batch))
	span.SetAttributes(
		attribute.Int("article.stored", result.Stored),
		attribute.Int("article.duplicates", result.Duplicates))
	return result, nil
}

// mergeDuplicate pushes merged tags and last-seen onto a stored article.
// Failures degrade to a warning; the duplicate count already stands.
func (s *WeaviateStore) mergeDuplicate(ctx context.Context, merged datatypes.Article) {
	err := s.client.Data().Updater().
		WithClassName(datatypes.ClassNewsArticle).
		WithID(string(ArticleUUID(merged.Fingerprint))).
		WithProperties(map[string]interface{}{
			"category":     merged.Category,
			"keywords":     merged.Keywords,
			"last_seen_at": merged.LastSeenAt.UnixMilli(),
		}).
		WithMerge().
		Do(ctx)
	if err != nil {
		slog.Warn("Failed to merge duplicate sighting", "fingerprint", merged.Fingerprint, "error", err)
	}
}

// GetByFingerprints returns the stored articles matching the given
// fingerprints. Unknown fingerprints are absent from the result.
func (s *WeaviateStore) GetByFingerprints(ctx context.Context, fingerprints []string) ([]datatypes.Article, error) {
	ctx, span := tracer.Start(ctx, "GetByFingerprints")
	defer span.End()

	if len(fingerprints) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where := filters.Where().
		WithPath([]string{"fingerprint"}).
		WithOperator(filters.ContainsAny).
		WithValueText(fingerprints...)

	resp, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassNewsArticle).
		WithFields(articleFields...).
		WithWhere(where).
		WithLimit(len(fingerprints)).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fingerprint lookup failed")
		return nil, &datatypes.StorageError{
			Kind:      datatypes.KindStoreUnavailable,
			Component: "article-store",
			Message:   "fingerprint lookup failed",
			Err:       err,
		}
	}

	return parseArticles(resp)
}

// QueryByTagsAndRange lists stored articles matching the filter, newest
// first by published-at.
func (s *WeaviateStore) QueryByTagsAndRange(ctx context.Context, q Query) ([]datatypes.Article, error) {
	ctx, span := tracer.Start(ctx, "QueryByTagsAndRange")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	var operands []*filters.WhereBuilder
	if q.Category != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"category"}).
			WithOperator(filters.Equal).
			WithValueText(q.Category))
	}
	if q.Source != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"source"}).
			WithOperator(filters.Equal).
			WithValueText(q.Source))
	}
	if q.Keyword != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"keywords"}).
			WithOperator(filters.ContainsAny).
			WithValueText(q.Keyword))
	}
	if !q.Since.IsZero() {
		operands = append(operands, filters.Where().
			WithPath([]string{"published_at"}).
			WithOperator(filters.GreaterThanEqual).
			WithValueNumber(float64(q.Since.UnixMilli())))
	}
	if !q.Until.IsZero() {
		operands = append(operands, filters.Where().
			WithPath([]string{"published_at"}).
			WithOperator(filters.LessThanEqual).
			WithValueNumber(float64(q.Until.UnixMilli())))
	}

	query := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassNewsArticle).
		WithFields(articleFields...).
		WithSort(graphql.Sort{Path: []string{"published_at"}, Order: graphql.Desc}).
		WithLimit(limit)

	switch len(operands) {
	case 0:
		// Unfiltered listing.
	case 1:
		query = query.WithWhere(operands[0])
	default:
		query = query.WithWhere(filters.Where().
			WithOperator(filters.And).
			WithOperands(operands))
	}

	resp, err := query.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tag/range query failed")
		return nil, &datatypes.StorageError{
			Kind:      datatypes.KindStoreUnavailable,
			Component: "article-store",
			Message:   "tag/range query failed",
			Err:       err,
		}
	}

	return parseArticles(resp)
}

// parseArticles converts a NewsArticle GraphQL response into domain
// articles.
func parseArticles(resp *models.GraphQLResponse) ([]datatypes.Article, error) {
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.NewsArticleQueryResponse](resp)
	if err != nil {
		return nil, &datatypes.StorageError{
			Kind:      datatypes.KindInvalidResponse,
			Component: "article-store",
			Message:   "unparseable article query response",
			Err:       err,
		}
	}
	articles := make([]datatypes.Article, 0, len(parsed.Get.NewsArticle))
	for i := range parsed.Get.NewsArticle {
		articles = append(articles, parsed.Get.NewsArticle[i].ToArticle())
	}
	return articles, nil
}
