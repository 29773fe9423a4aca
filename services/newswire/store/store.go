// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store is the article store: idempotent persistence keyed by
// fingerprint, duplicate detection, and tag/range queries over the
// NewsArticle class.
//
// This package is the single authority for article identity. No other
// component computes fingerprints; the pipeline obtains them through
// Normalize or UpsertMany.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
)

// =============================================================================
// Store Interface
// =============================================================================

// UpsertResult reports one batched upsert.
//
// Fingerprints and Articles follow first-seen batch order and cover the
// whole normalized batch: freshly stored articles and duplicates alike.
// Duplicates carry the merged view (stored tags folded with the new
// sighting) so downstream stages see what the store now holds.
type UpsertResult struct {
	Stored       int                 `json:"stored"`
	Duplicates   int                 `json:"duplicates"`
	Fingerprints []string            `json:"fingerprints"`
	Articles     []datatypes.Article `json:"articles,omitempty"`
}

// Query narrows QueryByTagsAndRange.
//
// Zero-valued fields are unconstrained. Since/Until bound published-at;
// Limit defaults to 25 and is capped at 100.
type Query struct {
	Category string    `json:"category,omitempty"`
	Source   string    `json:"source,omitempty"`
	Keyword  string    `json:"keyword,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Until    time.Time `json:"until,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// Store is the article persistence interface the pipeline and retrieval
// engine depend on.
type Store interface {
	// UpsertMany assigns identity to the raw batch and persists it.
	// Duplicates never overwrite title or body; they merge tags and
	// refresh last-seen. Writes are durable before the call returns.
	UpsertMany(ctx context.Context, raws []datatypes.RawArticle) (*UpsertResult, error)

	// GetByFingerprints returns the stored articles for the given
	// fingerprints, in no guaranteed order. Unknown fingerprints are
	// silently absent from the result.
	GetByFingerprints(ctx context.Context, fingerprints []string) ([]datatypes.Article, error)

	// QueryByTagsAndRange lists stored articles matching the filter,
	// newest first.
	QueryByTagsAndRange(ctx context.Context, q Query) ([]datatypes.Article, error)
}

// =============================================================================
// Identity
// =============================================================================

// Fingerprint computes the stable identity of a raw article.
//
// # Description
//
// URL-first: the lowercased canonical URL (fragment stripped, trailing
// slash trimmed). When the record carries no usable absolute URL, the
// fallback is the hex SHA-256 of title, source, and the published day,
// lowercased and joined with a field separator. Both strategies are
// deterministic; two sightings of the same story through the same path
// always collide.
func Fingerprint(raw datatypes.RawArticle) string {
	if canonical := canonicalURL(raw.URL); canonical != "" {
		return canonical
	}

	day := ""
	if !raw.PublishedAt.IsZero() {
		day = raw.PublishedAt.UTC().Format("2006-01-02")
	}
	seed := strings.ToLower(strings.TrimSpace(raw.Title)) + "\x1f" +
		strings.ToLower(strings.TrimSpace(raw.Source)) + "\x1f" + day
	hash := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(hash[:])
}

// canonicalURL normalizes a URL for identity, or returns "" when the
// value cannot serve as one (empty, relative, unparseable).
func canonicalURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" || parsed.Scheme == "" {
		return ""
	}
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return strings.ToLower(parsed.String())
}

// ArticleUUID derives the deterministic Weaviate object ID for a
// fingerprint: first 16 bytes of its SHA-256, rendered as a UUID.
func ArticleUUID(fingerprint string) strfmt.UUID {
	hash := sha256.Sum256([]byte(fingerprint))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// =============================================================================
// Normalization
// =============================================================================

// Normalize assigns fingerprints to a raw batch and collapses in-batch
// duplicates, preserving first-seen order.
//
// # Description
//
// The first sighting of each fingerprint becomes the article; later
// sightings merge tags into it. Untitled records are dropped (the search
// adapter already rejects them; this is the store's own guard). The
// orchestrator uses Normalize directly when the store is disabled or has
// downgraded to in-memory operation, so identity assignment never
// depends on store availability.
func Normalize(raws []datatypes.RawArticle, now time.Time) []datatypes.Article {
	seen := make(map[string]int, len(raws))
	articles := make([]datatypes.Article, 0, len(raws))

	for _, raw := range raws {
		if strings.TrimSpace(raw.Title) == "" {
			continue
		}
		fp := Fingerprint(raw)
		if idx, dup := seen[fp]; dup {
			articles[idx].MergeTags(raw, now)
			continue
		}
		seen[fp] = len(articles)
		articles = append(articles, datatypes.Article{
			Fingerprint:  fp,
			Title:        raw.Title,
			Snippet:      raw.Snippet,
			Body:         raw.Body,
			URL:          raw.URL,
			Source:       raw.Source,
			Author:       raw.Author,
			PublishedAt:  raw.PublishedAt,
			Language:     raw.Language,
			Category:     raw.Category,
			Keywords:     raw.Keywords,
			Query:        raw.Query,
			DiscoveredAt: now,
		})
	}
	return articles
}
