// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the wire and storage types shared across the
// newswire service: articles, chunks, cards, pipeline runs, dialogue
// sessions, user memory, and the error taxonomy that binds them together.
package datatypes

import (
	"strings"
	"time"
)

// =============================================================================
// Articles
// =============================================================================

// RawArticle is a provider result before the store has assigned identity.
//
// # Description
//
// RawArticle carries the normalized fields parsed out of a search
// provider's payload. It has no fingerprint yet; the article store is the
// single authority for identity assignment. Missing optional fields stay
// empty.
//
// # Fields
//
//   - Title: Required. Records without a title are rejected upstream.
//   - Snippet: Provider summary text, may be empty.
//   - Body: Full text when the provider supplies it, usually empty.
//   - URL: Canonical link. May be empty for some wire items.
//   - Source: Publisher name ("Reuters", "AP News").
//   - Author: Optional byline.
//   - PublishedAt: UTC. Day granularity is acceptable.
//   - Language: BCP-47-ish provider language code ("en", "de").
//   - Category: Free-form provider category, may be empty.
//   - Keywords: Provider keyword tags, may be empty.
//   - Query: The query that surfaced this record.
//   - Rank: 1-based position in the provider response.
type RawArticle struct {
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet,omitempty"`
	Body        string    `json:"body,omitempty"`
	URL         string    `json:"url,omitempty"`
	Source      string    `json:"source,omitempty"`
	Author      string    `json:"author,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Language    string    `json:"language,omitempty"`
	Category    string    `json:"category,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	Query       string    `json:"query,omitempty"`
	Rank        int       `json:"rank,omitempty"`
}

// Article is the normalized unit of news after the store assigned identity.
//
// # Description
//
// An Article is a RawArticle plus a stable fingerprint and discovery
// metadata. The fingerprint is the lowercased canonical URL or, when the
// URL is absent, a hash of title, source, and published day. Articles are
// created on first discovery and only mutated to merge tags and refresh
// re-rank signals; the core never deletes them.
//
// # Invariants
//
//   - Fingerprint is unique and non-empty.
//   - Title is non-empty.
//   - PublishedAt <= DiscoveredAt plus small clock skew.
type Article struct {
	Fingerprint  string    `json:"fingerprint"`
	Title        string    `json:"title"`
	Snippet      string    `json:"snippet,omitempty"`
	Body         string    `json:"body,omitempty"`
	URL          string    `json:"url,omitempty"`
	Source       string    `json:"source,omitempty"`
	Author       string    `json:"author,omitempty"`
	PublishedAt  time.Time `json:"published_at,omitempty"`
	Language     string    `json:"language,omitempty"`
	Category     string    `json:"category,omitempty"`
	Keywords     []string  `json:"keywords,omitempty"`
	Query        string    `json:"query,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
	LastSeenAt   time.Time `json:"last_seen_at,omitempty"`
}

// MergeTags folds tags from a duplicate sighting into the stored article.
// Title, body, and identity fields are never overwritten by duplicates.
func (a *Article) MergeTags(dup RawArticle, seenAt time.Time) {
	a.LastSeenAt = seenAt
	if dup.Category != "" && a.Category == "" {
		a.Category = dup.Category
	}
	existing := make(map[string]bool, len(a.Keywords))
	for _, k := range a.Keywords {
		existing[strings.ToLower(k)] = true
	}
	for _, k := range dup.Keywords {
		if k != "" && !existing[strings.ToLower(k)] {
			a.Keywords = append(a.Keywords, k)
			existing[strings.ToLower(k)] = true
		}
	}
}

// =============================================================================
// Chunks
// =============================================================================

// ChunkSourceField marks which article field a chunk was cut from.
type ChunkSourceField string

const (
	ChunkFromTitle   ChunkSourceField = "title"
	ChunkFromSummary ChunkSourceField = "summary"
	ChunkFromBody    ChunkSourceField = "body"
)

// Chunk is an embedding-addressable fragment of an article.
//
// # Description
//
// Chunks are identified by (article fingerprint, ordinal). Ordinals are
// 0-based and contiguous; chunk 0 always carries the title and summary.
// Vectors are normalized at write time so similarity reduces to a dot
// product.
type Chunk struct {
	Fingerprint string           `json:"fingerprint"`
	Ordinal     int              `json:"ordinal"`
	Text        string           `json:"text"`
	TokenCount  int              `json:"token_count"`
	SourceField ChunkSourceField `json:"source_field"`
	Vector      []float32        `json:"vector,omitempty"`
	PublishedAt time.Time        `json:"published_at,omitempty"`
	Source      string           `json:"source,omitempty"`
	Category    string           `json:"category,omitempty"`
}

// RetrievedChunk is a chunk hit returned by the retrieval engine with its
// scoring breakdown and source attribution.
type RetrievedChunk struct {
	Fingerprint string    `json:"fingerprint"`
	Ordinal     int       `json:"ordinal"`
	Text        string    `json:"text"`
	Title       string    `json:"title,omitempty"`
	URL         string    `json:"url,omitempty"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Cosine      float64   `json:"cosine"`
	FinalScore  float64   `json:"final_score"`

	// Vector is the chunk's stored embedding, populated on vector
	// queries for downstream re-ranking. Never serialized to clients.
	Vector []float32 `json:"-"`
}

// SourceInfo attributes a dialogue reply to the articles that informed it.
type SourceInfo struct {
	Index       int     `json:"index"`
	Fingerprint string  `json:"fingerprint"`
	Title       string  `json:"title,omitempty"`
	URL         string  `json:"url,omitempty"`
	Source      string  `json:"source,omitempty"`
	Score       float64 `json:"score,omitempty"`
}
