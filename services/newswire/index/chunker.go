// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index is the embedding indexer: it cuts articles into chunks,
// embeds them in batches, and maintains the NewsChunk vector class,
// including the nearVector query the retrieval engine runs against it.
package index

import (
	"crypto/sha256"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianNewswire/services/llm"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// headChunkTokenCap bounds chunk 0 (title + summary).
	headChunkTokenCap = 512

	// bodyChunkTokenCap is the window size for body chunks.
	bodyChunkTokenCap = 400

	// bodyChunkTokenOverlap is the window overlap for body chunks.
	bodyChunkTokenOverlap = 40

	// minChunkTokens drops body fragments too short to carry signal.
	// Chunk 0 is exempt: every indexed article keeps at least its head.
	minChunkTokens = 40
)

// paragraphSeparators split body text at paragraph boundaries first,
// then sentences, then words.
var paragraphSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// ChunkArticle cuts an article into embedding-addressable chunks.
//
// # Description
//
// Chunk 0 concatenates title and summary, truncated at 512 tokens. When
// full text is present it is split paragraph-first and windowed at 400
// tokens with a 40-token overlap; body fragments under 40 tokens are
// dropped. Ordinals are 0-based and contiguous in output order. Token
// counts use the 4-bytes-per-token estimate shared with the LLM layer.
//
// # Inputs
//
//   - article: A normalized article.
//
// # Outputs
//
//   - []datatypes.Chunk: The head chunk plus body chunks, vectors unset.
//     Empty when the article has neither title nor summary.
func ChunkArticle(article datatypes.Article) []datatypes.Chunk {
	head := strings.TrimSpace(article.Title)
	sourceField := datatypes.ChunkFromTitle
	if snippet := strings.TrimSpace(article.Snippet); snippet != "" {
		head = strings.TrimSpace(head + "\n\n" + snippet)
		sourceField = datatypes.ChunkFromSummary
	}
	if head == "" {
		return nil
	}
	head = truncateTokens(head, headChunkTokenCap)

	chunks := []datatypes.Chunk{{
		Fingerprint: article.Fingerprint,
		Ordinal:     0,
		Text:        head,
		TokenCount:  llm.EstimateTokens(head),
		SourceField: sourceField,
		PublishedAt: article.PublishedAt,
		Source:      article.Source,
		Category:    article.Category,
	}}

	body := strings.TrimSpace(article.Body)
	if body == "" {
		return chunks
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(bodyChunkTokenCap),
		textsplitter.WithChunkOverlap(bodyChunkTokenOverlap),
		textsplitter.WithSeparators(paragraphSeparators),
		textsplitter.WithLenFunc(llm.EstimateTokens),
	)

	pieces, err := splitter.SplitText(body)
	if err != nil {
		slog.Warn("Body split failed, indexing head chunk only",
			"fingerprint", article.Fingerprint, "error", err)
		return chunks
	}

	ordinal := 1
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		tokens := llm.EstimateTokens(piece)
		if tokens < minChunkTokens {
			continue
		}
		chunks = append(chunks, datatypes.Chunk{
			Fingerprint: article.Fingerprint,
			Ordinal:     ordinal,
			Text:        piece,
			TokenCount:  tokens,
			SourceField: datatypes.ChunkFromBody,
			PublishedAt: article.PublishedAt,
			Source:      article.Source,
			Category:    article.Category,
		})
		ordinal++
	}
	return chunks
}

// ChunkUUID derives the deterministic Weaviate object ID for a chunk
// from its (fingerprint, ordinal) identity, so re-indexing overwrites
// in place.
func ChunkUUID(fingerprint string, ordinal int) strfmt.UUID {
	hash := sha256.Sum256([]byte(fingerprint + "\x1f" + strconv.Itoa(ordinal)))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// truncateTokens cuts text at a token budget (4 bytes/token), backing up
// to a rune boundary so UTF-8 sequences stay intact.
func truncateTokens(text string, maxTokens int) string {
	limit := maxTokens * 4
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}
