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

import "time"

// =============================================================================
// Sentiment
// =============================================================================

// SentimentLabel is the polarity class assigned by the sentiment scorer.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// SentimentScore is one scored text.
//
// Magnitude is the absolute strength of the dominant polarity in [0,1].
// Confidence below 0.4 collapses the label to neutral before the score
// leaves the scorer.
type SentimentScore struct {
	Label      SentimentLabel `json:"label"`
	Magnitude  float64        `json:"magnitude"`
	Confidence float64        `json:"confidence"`
}

// =============================================================================
// News Cards
// =============================================================================

// NewsCard is the ranked, structured extract produced per pipeline run.
//
// # Description
//
// Each card belongs to exactly one article. Importance and display
// priority are deterministic functions of recency, source credibility,
// sentiment magnitude, and profile affinity; only the LLM-generated text
// fields vary between runs. Cards are returned inline on the run and are
// not persisted by the core.
//
// # Invariants
//
//   - Importance in [0,100]; DisplayPriority in [1,10].
//   - Cards are ordered by descending priority, ties broken by
//     published-at descending then fingerprint ascending.
//   - KeyPoints has 3..6 entries; TopicTags has 1..5.
type NewsCard struct {
	Fingerprint       string         `json:"fingerprint"`
	Headline          string         `json:"headline"`
	Summary           string         `json:"summary"`
	KeyPoints         []string       `json:"key_points"`
	TopicTags         []string       `json:"topic_tags"`
	Sentiment         SentimentLabel `json:"sentiment"`
	SentimentScore    float64        `json:"sentiment_score"`
	Confidence        float64        `json:"confidence"`
	SourceCredibility float64        `json:"source_credibility"`
	Importance        float64        `json:"importance"`
	DisplayPriority   int            `json:"display_priority"`
	URL               string         `json:"url,omitempty"`
	Source            string         `json:"source,omitempty"`
	PublishedAt       time.Time      `json:"published_at,omitempty"`
	GeneratedAt       time.Time      `json:"generated_at"`
}
