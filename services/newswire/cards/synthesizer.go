// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cards ranks articles by a deterministic importance score and
// synthesizes structured news cards for the top of the ranking. This
// package is the sole owner of the card-generation prompt and its
// response schema.
package cards

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianNewswire/services/llm"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("aleutian.newswire.cards")

const (
	defaultMaxCards   = 5
	defaultParallel   = 4
	defaultGenTimeout = 60 * time.Second

	// maxKeyPoints / maxTopicTags truncate over-long model output; a
	// card under minKeyPoints fails generation instead.
	minKeyPoints = 3
	maxKeyPoints = 6
	maxTopicTags = 5

	// excerptTokenCap bounds the article text quoted into the prompt.
	excerptTokenCap = 600
)

var (
	cardTemperature = float32(0.3)
	cardMaxTokens   = 700
)

// Options tunes one Synthesize call.
//
// Sentiments carries per-fingerprint scores from the sentiment stage;
// articles without an entry get a neutral card. A nil Profile zeroes
// the affinity term.
type Options struct {
	MaxCards   int
	Profile    *datatypes.UserProfile
	Sentiments map[string]datatypes.SentimentScore
}

// Result is the outcome of one synthesis batch.
//
// Degraded is set when more than half the selected articles failed
// generation; the cards that succeeded are still returned, in rank
// order.
type Result struct {
	Cards    []datatypes.NewsCard `json:"cards"`
	Selected int                  `json:"selected"`
	Failed   int                  `json:"failed"`
	Degraded bool                 `json:"degraded"`
}

// Synthesizer generates news cards through an LLM backend.
//
// # Thread Safety
//
// Safe for concurrent use.
type Synthesizer struct {
	llm      llm.LLMClient
	timeout  time.Duration
	parallel int
	now      func() time.Time
}

// NewSynthesizer creates a card synthesizer. Zero timeout and
// parallelism select the defaults (60 s per card, 4 concurrent).
func NewSynthesizer(client llm.LLMClient, timeout time.Duration, parallel int) *Synthesizer {
	if timeout <= 0 {
		timeout = defaultGenTimeout
	}
	if parallel <= 0 {
		parallel = defaultParallel
	}
	return &Synthesizer{
		llm:      client,
		timeout:  timeout,
		parallel: parallel,
		now:      time.Now,
	}
}

// Synthesize ranks articles and generates cards for the top selection.
//
// # Description
//
// Importance, selection, and ordering are deterministic for fixed
// inputs and profile; only the generated text varies. Generation runs
// in parallel with per-card isolation: a failed card is dropped, and
// when more than half fail the result is flagged Degraded.
//
// # Inputs
//
//   - articles: Candidate articles, typically one pipeline run's batch.
//   - opts: Card count, optional profile, per-article sentiment.
//
// # Outputs
//
//   - *Result: Cards in rank order plus failure accounting.
//   - error: Only when the context is done before generation finishes.
func (s *Synthesizer) Synthesize(ctx context.Context, articles []datatypes.Article, opts Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Synthesize")
	defer span.End()
	span.SetAttributes(attribute.Int("cards.candidates", len(articles)))

	maxCards := opts.MaxCards
	if maxCards <= 0 {
		maxCards = defaultMaxCards
	}

	result := &Result{}
	if len(articles) == 0 {
		return result, nil
	}

	now := s.now()
	ranked := make([]rankedArticle, len(articles))
	for i := range articles {
		magnitude := opts.Sentiments[articles[i].Fingerprint].Magnitude
		ranked[i] = rankedArticle{
			article:    &articles[i],
			importance: Importance(&articles[i], magnitude, opts.Profile, now),
		}
	}
	selected := selectTop(ranked, maxCards)
	result.Selected = len(selected)
	span.SetAttributes(attribute.Int("cards.selected", len(selected)))

	generated := make([]*datatypes.NewsCard, len(selected))
	var mu sync.Mutex
	failed := 0

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for i := range selected {
		i := i
		g.Go(func() error {
			card, err := s.generateCard(gCtx, selected[i], i+1, len(selected), opts, now)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				slog.Warn("Card generation failed",
					"fingerprint", selected[i].article.Fingerprint, "error", err)
				return nil // Per-card failures never abort the batch.
			}
			generated[i] = card
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, card := range generated {
		if card != nil {
			result.Cards = append(result.Cards, *card)
		}
	}
	result.Failed = failed
	if failed*2 > len(selected) {
		result.Degraded = true
		slog.Warn("Card generation degraded",
			"selected", len(selected), "failed", failed)
	}
	return result, nil
}

// cardResponse is the JSON shape demanded from the model.
type cardResponse struct {
	Headline  string   `json:"headline"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"keyPoints"`
	TopicTags []string `json:"topicTags"`
}

// generateCard produces one card: prompt, structured generation, bounds
// enforcement, deterministic scoring fields.
func (s *Synthesizer) generateCard(ctx context.Context, ranked rankedArticle, rank, total int, opts Options, now time.Time) (*datatypes.NewsCard, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	article := ranked.article
	params := llm.GenerationParams{
		Temperature: &cardTemperature,
		MaxTokens:   &cardMaxTokens,
	}

	var resp cardResponse
	if err := llm.GenerateStructured(ctx, s.llm, buildCardPrompt(article), params, &resp); err != nil {
		return nil, err
	}
	if err := validateCardResponse(&resp); err != nil {
		return nil, err
	}

	sentiment, ok := opts.Sentiments[article.Fingerprint]
	if !ok || sentiment.Label == "" {
		sentiment.Label = datatypes.SentimentNeutral
	}

	return &datatypes.NewsCard{
		Fingerprint:       article.Fingerprint,
		Headline:          resp.Headline,
		Summary:           resp.Summary,
		KeyPoints:         resp.KeyPoints,
		TopicTags:         resp.TopicTags,
		Sentiment:         sentiment.Label,
		SentimentScore:    sentiment.Magnitude,
		Confidence:        sentiment.Confidence,
		SourceCredibility: SourceCredibility(article.Source),
		Importance:        ranked.importance * 100,
		DisplayPriority:   displayPriority(rank, total),
		URL:               article.URL,
		Source:            article.Source,
		PublishedAt:       article.PublishedAt,
		GeneratedAt:       now,
	}, nil
}

// validateCardResponse enforces the card schema bounds: over-long
// lists truncate, missing content fails the card.
func validateCardResponse(resp *cardResponse) error {
	resp.Headline = strings.TrimSpace(resp.Headline)
	resp.Summary = strings.TrimSpace(resp.Summary)
	if resp.Headline == "" || resp.Summary == "" {
		return fmt.Errorf("card response missing headline or summary: %w", datatypes.ErrUnstructuredOutput)
	}

	resp.KeyPoints = trimStrings(resp.KeyPoints)
	if len(resp.KeyPoints) < minKeyPoints {
		return fmt.Errorf("card response has %d key points, need at least %d: %w",
			len(resp.KeyPoints), minKeyPoints, datatypes.ErrUnstructuredOutput)
	}
	if len(resp.KeyPoints) > maxKeyPoints {
		resp.KeyPoints = resp.KeyPoints[:maxKeyPoints]
	}

	resp.TopicTags = trimStrings(resp.TopicTags)
	if len(resp.TopicTags) == 0 {
		return fmt.Errorf("card response has no topic tags: %w", datatypes.ErrUnstructuredOutput)
	}
	if len(resp.TopicTags) > maxTopicTags {
		resp.TopicTags = resp.TopicTags[:maxTopicTags]
	}
	return nil
}

// trimStrings drops empty entries after whitespace trimming.
func trimStrings(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// buildCardPrompt composes the card-generation prompt. This prompt and
// its schema live only here.
func buildCardPrompt(article *datatypes.Article) string {
	var b strings.Builder
	b.WriteString("You are a news analyst. Produce a news card for the article below.\n\n")
	b.WriteString("Article:\n")
	b.WriteString("Title: " + article.Title + "\n")
	if article.Source != "" {
		b.WriteString("Source: " + article.Source + "\n")
	}
	if !article.PublishedAt.IsZero() {
		b.WriteString("Published: " + article.PublishedAt.UTC().Format(time.RFC3339) + "\n")
	}
	if article.Category != "" {
		b.WriteString("Category: " + article.Category + "\n")
	}
	text := article.Body
	if text == "" {
		text = article.Snippet
	}
	if text != "" {
		b.WriteString("Text: " + excerpt(text, excerptTokenCap) + "\n")
	}
	b.WriteString(`
Respond with ONLY a single JSON object, no markdown fences, no commentary:
{
  "headline": "concise headline, at most 120 characters",
  "summary": "2 to 4 sentence summary",
  "keyPoints": ["3 to 6 short key-point bullets"],
  "topicTags": ["1 to 5 lowercase topic tags"]
}
`)
	return b.String()
}

// excerpt bounds quoted article text at maxTokens, cutting on a rune
// boundary.
func excerpt(text string, maxTokens int) string {
	limit := maxTokens * 4
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}
