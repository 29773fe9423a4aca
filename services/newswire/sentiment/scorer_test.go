// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sentiment

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_Positive(t *testing.T) {
	scorer := NewLexiconScorer()
	scores, err := scorer.Score(context.Background(),
		[]string{"Markets rally as record profits drive strong growth"})
	require.NoError(t, err)
	require.Len(t, scores, 1)

	got := scores[0]
	assert.Equal(t, datatypes.SentimentPositive, got.Label)
	assert.InDelta(t, 1.0, got.Magnitude, 1e-9)
	assert.GreaterOrEqual(t, got.Confidence, 0.4)
}

func TestScore_Negative(t *testing.T) {
	scorer := NewLexiconScorer()
	scores, err := scorer.Score(context.Background(),
		[]string{"Shares plunge as fraud scandal triggers banking crisis"})
	require.NoError(t, err)

	got := scores[0]
	assert.Equal(t, datatypes.SentimentNegative, got.Label)
	assert.InDelta(t, 1.0, got.Magnitude, 1e-9)
	assert.GreaterOrEqual(t, got.Confidence, 0.4)
}

func TestScore_NoSignal(t *testing.T) {
	scorer := NewLexiconScorer()
	scores, err := scorer.Score(context.Background(),
		[]string{"The committee will meet again on Tuesday"})
	require.NoError(t, err)

	got := scores[0]
	assert.Equal(t, datatypes.SentimentNeutral, got.Label)
	assert.Zero(t, got.Magnitude)
}

func TestScore_LowConfidenceCollapses(t *testing.T) {
	// A single weak term leaves confidence under 0.4.
	scorer := NewLexiconScorer()
	scores, err := scorer.Score(context.Background(), []string{"A good day"})
	require.NoError(t, err)

	got := scores[0]
	assert.Equal(t, datatypes.SentimentNeutral, got.Label)
	assert.Zero(t, got.Magnitude)
	assert.Less(t, got.Confidence, 0.4)
}

func TestScore_NegationFlips(t *testing.T) {
	scorer := NewLexiconScorer()
	scores, err := scorer.Score(context.Background(),
		[]string{"Output did not collapse and the bank avoided a default crisis this winter"})
	require.NoError(t, err)

	// "not collapse" and "avoided a default" read positive; "crisis"
	// stays negative but is outweighed.
	assert.NotEqual(t, datatypes.SentimentNegative, scores[0].Label)
}

func TestScore_MixedLeansDominant(t *testing.T) {
	scorer := NewLexiconScorer()
	scores, err := scorer.Score(context.Background(),
		[]string{"Strong growth forecast despite layoffs, lawsuit threats and recession fears"})
	require.NoError(t, err)

	got := scores[0]
	assert.Equal(t, datatypes.SentimentNegative, got.Label)
	assert.Less(t, got.Magnitude, 1.0, "mixed polarity should not saturate magnitude")
}

func TestScore_BatchAligned(t *testing.T) {
	scorer := NewLexiconScorer()
	scores, err := scorer.Score(context.Background(), []string{
		"Record profits and strong growth boost confidence in the recovery",
		"War fears deepen as the conflict threatens a wider crisis",
		"",
	})
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Equal(t, datatypes.SentimentPositive, scores[0].Label)
	assert.Equal(t, datatypes.SentimentNegative, scores[1].Label)
	assert.Equal(t, datatypes.SentimentNeutral, scores[2].Label)
}

func TestScore_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scorer := NewLexiconScorer()
	_, err := scorer.Score(ctx, []string{"growth"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCapInput(t *testing.T) {
	short := strings.Repeat("a", 2000)
	assert.Equal(t, short, capInput(short))

	long := strings.Repeat("x", 3000)
	capped := capInput(long)
	assert.Equal(t, 1501, utf8.RuneCountInString(capped), "head 1000 + separator + tail 500")

	// Tail content survives the cap.
	tailed := strings.Repeat("y", 2500) + " market crash"
	assert.Contains(t, capInput(tailed), "crash")
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("Stocks didn't fall — they rallied, sharply!")
	assert.Equal(t, []string{"stocks", "didn't", "fall", "they", "rallied", "sharply"}, tokens)
}

func TestLoadFile_MergesOntoBuiltin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexicon.json")
	payload := `{"terms": {"moonshot": 0.9, "growth": -0.2, "overweight": 2.5}, "negators": ["sans"]}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	scorer := NewLexiconScorer()
	require.NoError(t, scorer.LoadFile(path))

	lexicon := scorer.lexicon.Load()
	assert.Equal(t, 0.9, lexicon.Lookup("moonshot"), "file adds new terms")
	assert.Equal(t, -0.2, lexicon.Lookup("growth"), "file overrides built-in weights")
	assert.Equal(t, 1.0, lexicon.Lookup("overweight"), "weights clamp to [-1,1]")
	assert.Equal(t, 0.7, lexicon.Lookup("profit"), "untouched built-ins survive")
	assert.True(t, lexicon.IsNegator("sans"))
	assert.True(t, lexicon.IsNegator("wasn't"), "contractions negate via suffix")
}

func TestLoadFile_BadJSONKeepsLexicon(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexicon.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o600))

	scorer := NewLexiconScorer()
	require.Error(t, scorer.LoadFile(path))

	// Built-in lexicon is still active.
	scores, err := scorer.Score(context.Background(),
		[]string{"Record profits drive strong growth and a broad rally"})
	require.NoError(t, err)
	assert.Equal(t, datatypes.SentimentPositive, scores[0].Label)
}

func TestLookup_PluralFallback(t *testing.T) {
	lexicon := BuiltinLexicon()
	assert.Equal(t, lexicon.Lookup("profit"), lexicon.Lookup("profits"))
	assert.Zero(t, lexicon.Lookup("tuesday"))
}
