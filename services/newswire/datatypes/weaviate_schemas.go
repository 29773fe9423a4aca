// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Class names for the news corpus and dialogue state.
const (
	ClassNewsArticle = "NewsArticle"
	ClassNewsChunk   = "NewsChunk"
	ClassChatSession = "ChatSession"
	ClassChatTurn    = "ChatTurn"
)

// GetNewsArticleSchema returns the class holding one object per article,
// keyed by its fingerprint-derived UUID. Articles carry no vector; the
// NewsChunk class owns the embedding space.
func GetNewsArticleSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassNewsArticle,
		Description: "A normalized news article with stable fingerprint identity.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "fingerprint",
				DataType:        []string{"text"},
				Description:     "Stable identity: lowercased canonical URL or title+source+day hash.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Article headline as delivered by the provider.",
				Tokenization: "word",
			},
			{
				Name:         "snippet",
				DataType:     []string{"text"},
				Description:  "Provider summary text.",
				Tokenization: "word",
			},
			{
				Name:         "body",
				DataType:     []string{"text"},
				Description:  "Full text when available.",
				Tokenization: "word",
			},
			{
				Name:            "url",
				DataType:        []string{"text"},
				Description:     "Canonical link.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Publisher name.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "author",
				DataType:     []string{"text"},
				Description:  "Optional byline.",
				Tokenization: "word",
			},
			{
				Name:            "published_at",
				DataType:        []string{"number"},
				Description:     "Publication time (Unix ms, UTC). Day granularity acceptable.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "language",
				DataType:        []string{"text"},
				Description:     "Provider language code.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Free-form category tag.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "keywords",
				DataType:        []string{"text[]"},
				Description:     "Keyword tags, merged across duplicate sightings.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:         "query",
				DataType:     []string{"text"},
				Description:  "The query that first surfaced this article.",
				Tokenization: "word",
			},
			{
				Name:            "discovered_at",
				DataType:        []string{"number"},
				Description:     "First-seen time (Unix ms).",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "last_seen_at",
				DataType:        []string{"number"},
				Description:     "Refreshed on duplicate sightings (Unix ms).",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetNewsChunkSchema returns the class holding one vector per article
// chunk. Chunk identity is (fingerprint, ordinal); the object UUID is
// derived from both so re-indexing is idempotent.
func GetNewsChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassNewsChunk,
		Description: "An embedding-addressable fragment of a news article.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "fingerprint",
				DataType:        []string{"text"},
				Description:     "Parent article fingerprint.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ordinal",
				DataType:        []string{"int"},
				Description:     "0-based contiguous chunk position within the article.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "Chunk text.",
				Tokenization: "word",
			},
			{
				Name:     "token_count",
				DataType: []string{"int"},
			},
			{
				Name:            "source_field",
				DataType:        []string{"text"},
				Description:     "Which article field the chunk was cut from: title, summary, body.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "published_at",
				DataType:        []string{"number"},
				Description:     "Parent publication time (Unix ms), for recency filters.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Parent publisher name.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Parent category tag.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// GetChatSessionSchema returns the session metadata class.
func GetChatSessionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:               ClassChatSession,
		Description:         "Metadata for a dialogue session, including an LLM-generated summary.",
		Vectorizer:          "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{IndexTimestamps: true},
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The unique ID for the dialogue session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "Owning user.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "summary",
				DataType:     []string{"text"},
				Description:  "A short, LLM-generated summary of the conversation.",
				Tokenization: "word",
			},
			{
				Name:            "run_id",
				DataType:        []string{"text"},
				Description:     "The pipeline run that seeded this session, if any.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				Description:     "Session creation time (Unix ms).",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "last_activity",
				DataType:        []string{"number"},
				Description:     "Refreshed on every turn (Unix ms). Drives age-based eviction.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "turn_count",
				DataType:        []string{"int"},
				Description:     "Completed user/assistant turn pairs.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetChatTurnSchema returns the class holding one user/assistant exchange
// per object. Synthetic history-summary notes are stored as turns with
// kind "summary" and an empty question.
func GetChatTurnSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassChatTurn,
		Description: "A record of a user question and the assistant's answer.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The session this turn belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "question",
				DataType:     []string{"text"},
				Description:  "The user's message. Empty on summary notes.",
				Tokenization: "word",
			},
			{
				Name:         "answer",
				DataType:     []string{"text"},
				Description:  "The assistant's reply, or the summary note text.",
				Tokenization: "word",
			},
			{
				Name:            "kind",
				DataType:        []string{"text"},
				Description:     "\"turn\" for exchanges, \"summary\" for synthetic history notes.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ordinal",
				DataType:        []string{"int"},
				Description:     "The sequential turn number within the session (1-indexed).",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				Description:     "The time the exchange completed (Unix ms).",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes at startup.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetNewsArticleSchema,
		GetNewsChunkSchema,
		GetChatSessionSchema,
		GetChatTurnSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// The client returns an error for a missing class; that is the
		// signal to create it.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			err := client.Schema().ClassCreator().WithClass(class).Do(context.Background())
			if err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
