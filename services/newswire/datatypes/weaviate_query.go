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
	"encoding/json"
	"fmt"
	"time"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("NewsArticle").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[NewsArticleQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, a := range parsed.Get.NewsArticle {
//	    fmt.Println(a.Fingerprint)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
//
// # Assumptions
//
//   - The response Data field is JSON-marshalable.
//   - The target type T has correct json tags.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Query Response Types
// =============================================================================

// NewsArticleQueryResponse represents the response from querying the
// NewsArticle class.
type NewsArticleQueryResponse struct {
	Get struct {
		NewsArticle []NewsArticleResult `json:"NewsArticle"`
	} `json:"Get"`
}

// NewsArticleResult represents a single article from a query.
type NewsArticleResult struct {
	Fingerprint  string   `json:"fingerprint"`
	Title        string   `json:"title"`
	Snippet      string   `json:"snippet"`
	Body         string   `json:"body"`
	URL          string   `json:"url"`
	Source       string   `json:"source"`
	Author       string   `json:"author"`
	PublishedAt  int64    `json:"published_at"`
	Language     string   `json:"language"`
	Category     string   `json:"category"`
	Keywords     []string `json:"keywords"`
	Query        string   `json:"query"`
	DiscoveredAt int64    `json:"discovered_at"`
	LastSeenAt   int64    `json:"last_seen_at"`
	Additional   struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ToArticle converts a query result back into the domain shape.
func (r *NewsArticleResult) ToArticle() Article {
	return Article{
		Fingerprint:  r.Fingerprint,
		Title:        r.Title,
		Snippet:      r.Snippet,
		Body:         r.Body,
		URL:          r.URL,
		Source:       r.Source,
		Author:       r.Author,
		PublishedAt:  msToTime(r.PublishedAt),
		Language:     r.Language,
		Category:     r.Category,
		Keywords:     r.Keywords,
		Query:        r.Query,
		DiscoveredAt: msToTime(r.DiscoveredAt),
		LastSeenAt:   msToTime(r.LastSeenAt),
	}
}

// NewsChunkQueryResponse represents the response from querying the
// NewsChunk class.
type NewsChunkQueryResponse struct {
	Get struct {
		NewsChunk []NewsChunkResult `json:"NewsChunk"`
	} `json:"Get"`
}

// NewsChunkResult represents a single chunk from a query.
//
// Certainty is populated on nearVector queries ([0,1], cosine mapped by
// Weaviate as (1+cos)/2); Distance is metric-dependent and unused here.
type NewsChunkResult struct {
	Fingerprint string `json:"fingerprint"`
	Ordinal     int    `json:"ordinal"`
	Text        string `json:"text"`
	TokenCount  int    `json:"token_count"`
	SourceField string `json:"source_field"`
	PublishedAt int64  `json:"published_at"`
	Source      string `json:"source"`
	Category    string `json:"category"`
	Additional  struct {
		ID        string    `json:"id"`
		Certainty *float32  `json:"certainty"`
		Distance  *float32  `json:"distance"`
		Vector    []float32 `json:"vector"`
	} `json:"_additional"`
}

// Cosine recovers the raw cosine similarity from Weaviate's certainty.
// Returns 0 when the query carried no vector search.
func (r *NewsChunkResult) Cosine() float64 {
	if r.Additional.Certainty == nil {
		return 0
	}
	return 2*float64(*r.Additional.Certainty) - 1
}

// ChatSessionQueryResponse represents the response from querying the
// ChatSession class.
type ChatSessionQueryResponse struct {
	Get struct {
		ChatSession []ChatSessionResult `json:"ChatSession"`
	} `json:"Get"`
}

// ChatSessionResult represents a single session from a query.
type ChatSessionResult struct {
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	Summary      string `json:"summary"`
	RunID        string `json:"run_id"`
	Timestamp    int64  `json:"timestamp"`
	LastActivity int64  `json:"last_activity"`
	TurnCount    int    `json:"turn_count"`
	Additional   struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// ToSessionInfo converts a query result into the listing shape.
func (r *ChatSessionResult) ToSessionInfo() SessionInfo {
	return SessionInfo{
		SessionID:    r.SessionID,
		UserID:       r.UserID,
		Summary:      r.Summary,
		RunID:        r.RunID,
		TurnCount:    r.TurnCount,
		LastActivity: msToTime(r.LastActivity),
	}
}

// ChatTurnQueryResponse represents the response from querying the
// ChatTurn class.
type ChatTurnQueryResponse struct {
	Get struct {
		ChatTurn []ChatTurnResult `json:"ChatTurn"`
	} `json:"Get"`
}

// ChatTurnResult represents a single turn from a query.
type ChatTurnResult struct {
	SessionID  string `json:"session_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Kind       string `json:"kind"`
	Ordinal    int    `json:"ordinal"`
	Timestamp  int64  `json:"timestamp"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// =============================================================================
// Property Maps for Writes
// =============================================================================

// ToMap converts an Article to the map format required by Weaviate's
// WithProperties() method. Zero times are written as 0 ms.
func (a *Article) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"fingerprint":   a.Fingerprint,
		"title":         a.Title,
		"snippet":       a.Snippet,
		"body":          a.Body,
		"url":           a.URL,
		"source":        a.Source,
		"author":        a.Author,
		"published_at":  timeToMs(a.PublishedAt),
		"language":      a.Language,
		"category":      a.Category,
		"keywords":      a.Keywords,
		"query":         a.Query,
		"discovered_at": timeToMs(a.DiscoveredAt),
		"last_seen_at":  timeToMs(a.LastSeenAt),
	}
}

// ToMap converts a Chunk to the Weaviate property map. The vector itself
// travels on the object, not in the properties.
func (c *Chunk) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"fingerprint":  c.Fingerprint,
		"ordinal":      c.Ordinal,
		"text":         c.Text,
		"token_count":  c.TokenCount,
		"source_field": string(c.SourceField),
		"published_at": timeToMs(c.PublishedAt),
		"source":       c.Source,
		"category":     c.Category,
	}
}

// ChatSessionProperties represents the properties for creating a
// ChatSession object.
type ChatSessionProperties struct {
	SessionID    string
	UserID       string
	Summary      string
	RunID        string
	Timestamp    int64
	LastActivity int64
	TurnCount    int
}

// ToMap converts ChatSessionProperties to map[string]interface{} for Weaviate.
func (p *ChatSessionProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id":    p.SessionID,
		"user_id":       p.UserID,
		"summary":       p.Summary,
		"run_id":        p.RunID,
		"timestamp":     p.Timestamp,
		"last_activity": p.LastActivity,
		"turn_count":    p.TurnCount,
	}
}

// ChatTurnProperties represents the properties for creating a ChatTurn
// object.
type ChatTurnProperties struct {
	SessionID string
	Question  string
	Answer    string
	Kind      string
	Ordinal   int
	Timestamp int64
}

// ToMap converts ChatTurnProperties to map[string]interface{} for Weaviate.
func (p *ChatTurnProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id": p.SessionID,
		"question":   p.Question,
		"answer":     p.Answer,
		"kind":       p.Kind,
		"ordinal":    p.Ordinal,
		"timestamp":  p.Timestamp,
	}
}

// =============================================================================
// Time Helpers
// =============================================================================

// timeToMs converts a time to Unix milliseconds; zero time maps to 0.
func timeToMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// msToTime converts Unix milliseconds to UTC time; 0 maps to the zero time.
func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
