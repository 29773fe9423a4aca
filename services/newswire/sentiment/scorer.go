// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sentiment labels article text with polarity, magnitude, and
// confidence using a weighted keyword lexicon. The built-in lexicon can
// be extended from a JSON file and hot-reloaded while the service runs.
package sentiment

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.newswire.sentiment")

const (
	// maxInputRunes caps scored text; longer inputs keep the head and tail.
	maxInputRunes  = 2000
	headInputRunes = 1000
	tailInputRunes = 500

	// neutralBand is the polarity balance below which a text is neutral.
	neutralBand = 0.15

	// collapseConfidence is the floor under which any label collapses
	// to neutral.
	collapseConfidence = 0.4

	// negationWindow is how many preceding tokens a negator reaches.
	negationWindow = 2
)

// Scorer scores texts for sentiment. Results are index-aligned with the
// input slice.
type Scorer interface {
	Score(ctx context.Context, texts []string) ([]datatypes.SentimentScore, error)
}

// LexiconScorer scores text against a polarity lexicon.
//
// # Description
//
// Tokens are matched against signed term weights; a negator within two
// preceding tokens flips a term's sign. The polarity balance
// (pos−neg)/(pos+neg) picks the label and its absolute value is the
// magnitude. Confidence grows with the total matched weight and
// saturates; below 0.4 the result collapses to neutral with zero
// magnitude. Scoring is deterministic for a fixed lexicon.
//
// # Thread Safety
//
// Safe for concurrent use. Reload swaps the lexicon atomically.
type LexiconScorer struct {
	lexicon atomic.Pointer[Lexicon]
}

var _ Scorer = (*LexiconScorer)(nil)

// NewLexiconScorer creates a scorer backed by the built-in lexicon.
func NewLexiconScorer() *LexiconScorer {
	s := &LexiconScorer{}
	s.lexicon.Store(BuiltinLexicon())
	return s
}

// LoadFile merges a JSON lexicon file onto the built-in lexicon and
// swaps it in. On error the current lexicon stays active.
func (s *LexiconScorer) LoadFile(path string) error {
	lexicon, err := LoadLexiconFile(path)
	if err != nil {
		return err
	}
	s.lexicon.Store(lexicon)
	return nil
}

// Score labels each text with polarity, magnitude, and confidence.
//
// # Outputs
//
//   - []datatypes.SentimentScore: One entry per input, index-aligned.
//   - error: Only the context error when the caller cancels mid-batch.
func (s *LexiconScorer) Score(ctx context.Context, texts []string) ([]datatypes.SentimentScore, error) {
	_, span := tracer.Start(ctx, "Score")
	defer span.End()
	span.SetAttributes(attribute.Int("sentiment.texts", len(texts)))

	lexicon := s.lexicon.Load()
	scores := make([]datatypes.SentimentScore, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scores[i] = scoreText(lexicon, text)
	}
	return scores, nil
}

// scoreText runs the lexicon algorithm on one capped text.
func scoreText(lexicon *Lexicon, text string) datatypes.SentimentScore {
	tokens := tokenize(capInput(text))

	var pos, neg float64
	for i, token := range tokens {
		weight := lexicon.Lookup(token)
		if weight == 0 {
			continue
		}
		for back := 1; back <= negationWindow && i-back >= 0; back++ {
			if lexicon.IsNegator(tokens[i-back]) {
				weight = -weight
				break
			}
		}
		if weight > 0 {
			pos += weight
		} else {
			neg -= weight
		}
	}

	signal := pos + neg
	if signal == 0 {
		return datatypes.SentimentScore{
			Label:      datatypes.SentimentNeutral,
			Magnitude:  0,
			Confidence: 0.5,
		}
	}

	balance := (pos - neg) / signal
	magnitude := math.Abs(balance)
	confidence := signal / (signal + 2)

	label := datatypes.SentimentNeutral
	switch {
	case balance > neutralBand:
		label = datatypes.SentimentPositive
	case balance < -neutralBand:
		label = datatypes.SentimentNegative
	}

	if confidence < collapseConfidence && label != datatypes.SentimentNeutral {
		label = datatypes.SentimentNeutral
		magnitude = 0
	}

	return datatypes.SentimentScore{
		Label:      label,
		Magnitude:  magnitude,
		Confidence: confidence,
	}
}

// capInput bounds scored text at 2000 runes, keeping the first 1000 and
// last 500 of longer inputs.
func capInput(text string) string {
	runes := []rune(text)
	if len(runes) <= maxInputRunes {
		return text
	}
	head := string(runes[:headInputRunes])
	tail := string(runes[len(runes)-tailInputRunes:])
	return head + " " + tail
}

// tokenize lowercases and splits on non-letter runes, keeping
// apostrophes so contractions survive ("isn't").
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}
