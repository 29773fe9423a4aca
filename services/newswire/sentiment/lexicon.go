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
	"encoding/json"
	"fmt"
	"os"
)

// Lexicon maps lowercase terms to signed polarity weights in [-1, 1].
// Positive weights mark positive terms, negative weights negative ones.
// Negators flip the sign of a polarity term within two tokens.
type Lexicon struct {
	Terms    map[string]float64
	Negators map[string]bool
}

// lexiconFile is the on-disk JSON shape. Terms extend and override the
// built-in lexicon; negators are added to the built-in set.
type lexiconFile struct {
	Terms    map[string]float64 `json:"terms"`
	Negators []string           `json:"negators,omitempty"`
}

// Lookup returns the weight for a token, falling back to a naive
// singular form for plurals. Zero means the token carries no polarity.
func (l *Lexicon) Lookup(token string) float64 {
	if w, ok := l.Terms[token]; ok {
		return w
	}
	if n := len(token); n > 3 && token[n-1] == 's' {
		if w, ok := l.Terms[token[:n-1]]; ok {
			return w
		}
	}
	return 0
}

// IsNegator reports whether a token flips the polarity of a following
// term. Contracted forms ("isn't", "won't") count via their suffix.
func (l *Lexicon) IsNegator(token string) bool {
	if l.Negators[token] {
		return true
	}
	n := len(token)
	return n > 3 && token[n-3:] == "n't"
}

// BuiltinLexicon returns the default news-domain lexicon.
func BuiltinLexicon() *Lexicon {
	terms := map[string]float64{
		// Positive.
		"gain": 0.7, "rally": 0.7, "surge": 0.7, "soar": 0.8, "boom": 0.7,
		"growth": 0.7, "profit": 0.7, "record": 0.6, "strong": 0.6,
		"recovery": 0.6, "rebound": 0.6, "breakthrough": 0.8, "win": 0.6,
		"success": 0.7, "optimism": 0.7, "upbeat": 0.6, "improve": 0.6,
		"upgrade": 0.6, "beat": 0.5, "expand": 0.5, "hire": 0.5,
		"hiring": 0.5, "innovation": 0.6, "milestone": 0.6, "approval": 0.6,
		"approve": 0.6, "award": 0.5, "launch": 0.4, "partnership": 0.4,
		"deal": 0.3, "agreement": 0.3, "stabilize": 0.4, "resilient": 0.6,
		"robust": 0.6, "thrive": 0.7, "prosper": 0.7, "advance": 0.5,
		"outperform": 0.7, "exceed": 0.6, "boost": 0.6, "bullish": 0.7,
		"confidence": 0.5, "relief": 0.5, "peace": 0.6, "cure": 0.7,
		"discovery": 0.6, "donation": 0.5, "celebrate": 0.6, "praise": 0.6,
		"good": 0.5, "great": 0.6, "positive": 0.6, "benefit": 0.5,

		// Negative.
		"loss": -0.7, "plunge": -0.8, "crash": -0.9, "slump": -0.7,
		"decline": -0.6, "drop": -0.5, "fall": -0.5, "tumble": -0.7,
		"crisis": -0.8, "recession": -0.8, "layoff": -0.7, "layoffs": -0.7,
		"fraud": -0.9, "scandal": -0.8, "lawsuit": -0.7, "probe": -0.5,
		"investigation": -0.5, "bankruptcy": -0.9, "default": -0.7,
		"collapse": -0.8, "fail": -0.7, "failure": -0.7, "warning": -0.5,
		"warn": -0.5, "fear": -0.6, "threat": -0.7, "risk": -0.4,
		"war": -0.8, "attack": -0.8, "conflict": -0.7, "violence": -0.8,
		"death": -0.8, "dead": -0.8, "kill": -0.9, "injury": -0.6,
		"disaster": -0.8, "catastrophe": -0.9, "emergency": -0.6,
		"outbreak": -0.7, "shortage": -0.6, "inflation": -0.5,
		"downturn": -0.7, "downgrade": -0.6, "cut": -0.4, "weak": -0.6,
		"worse": -0.6, "worst": -0.8, "bad": -0.5, "negative": -0.6,
		"bearish": -0.7, "panic": -0.8, "turmoil": -0.7, "volatile": -0.5,
		"strike": -0.5, "protest": -0.5, "sanction": -0.6, "ban": -0.5,
		"fine": -0.4, "penalty": -0.5, "breach": -0.7, "hack": -0.7,
		"corruption": -0.8, "shutdown": -0.6, "delay": -0.4, "recall": -0.6,
	}
	negators := map[string]bool{
		"not": true, "no": true, "never": true, "without": true,
		"hardly": true, "barely": true, "cannot": true, "denies": true,
		"deny": true, "avoid": true, "avoids": true, "avoided": true,
		"avert": true, "averts": true, "averted": true,
	}
	return &Lexicon{Terms: terms, Negators: negators}
}

// LoadLexiconFile reads a JSON lexicon and merges it onto the built-in
// one. File terms override built-in weights; file negators extend the
// built-in set.
func LoadLexiconFile(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lexicon %s: %w", path, err)
	}

	var file lexiconFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing lexicon %s: %w", path, err)
	}

	merged := BuiltinLexicon()
	for term, weight := range file.Terms {
		if weight > 1 {
			weight = 1
		}
		if weight < -1 {
			weight = -1
		}
		merged.Terms[term] = weight
	}
	for _, negator := range file.Negators {
		merged.Negators[negator] = true
	}
	return merged, nil
}
