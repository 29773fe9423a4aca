// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cards

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

// Importance term weights. The four terms each lie in [0,1]; the
// weighted sum is scaled to [0,100] on the card.
const (
	recencyWeight     = 0.45
	credibilityWeight = 0.25
	sentimentWeight   = 0.20
	affinityWeight    = 0.10

	// recencyHalfScale is the e-folding span of the recency term.
	recencyHalfScale = 48.0

	// recencyFloor keeps old articles rankable rather than zeroed.
	recencyFloor = 0.05
)

// credibilityTiers maps source domains to deterministic credibility
// scores. Matching is by registered-domain suffix; unknown sources get
// credibilityDefault. Judged tables keep importance reproducible where
// a model-scored credibility would not be.
var credibilityTiers = map[string]float64{
	"reuters.com": 0.9, "apnews.com": 0.9, "bloomberg.com": 0.9,
	"bbc.com": 0.9, "bbc.co.uk": 0.9, "ft.com": 0.9, "wsj.com": 0.9,
	"nytimes.com": 0.9, "economist.com": 0.9, "nature.com": 0.9,

	"theguardian.com": 0.75, "washingtonpost.com": 0.75, "npr.org": 0.75,
	"cnn.com": 0.75, "nbcnews.com": 0.75, "abcnews.go.com": 0.75,
	"cbsnews.com": 0.75, "politico.com": 0.75, "axios.com": 0.75,
	"cnbc.com": 0.75, "forbes.com": 0.75, "techcrunch.com": 0.75,
	"theverge.com": 0.75, "wired.com": 0.75, "arstechnica.com": 0.75,

	"news.yahoo.com": 0.6, "yahoo.com": 0.6, "msn.com": 0.6,
	"businessinsider.com": 0.6, "huffpost.com": 0.6, "nypost.com": 0.6,
}

const credibilityDefault = 0.5

// RecencyDecay returns exp(−Δhours/48) clamped to [0.05, 1] for the
// span from publishedAt to now. Unknown publish times score the floor.
func RecencyDecay(publishedAt, now time.Time) float64 {
	if publishedAt.IsZero() {
		return recencyFloor
	}
	deltaHours := now.Sub(publishedAt).Hours()
	if deltaHours < 0 {
		deltaHours = 0
	}
	decay := math.Exp(-deltaHours / recencyHalfScale)
	if decay < recencyFloor {
		return recencyFloor
	}
	if decay > 1 {
		return 1
	}
	return decay
}

// SourceCredibility scores a source domain from the tier table.
func SourceCredibility(source string) float64 {
	host := strings.ToLower(strings.TrimSpace(source))
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return credibilityDefault
	}
	if score, ok := credibilityTiers[host]; ok {
		return score
	}
	// Suffix match covers subdomain sources ("uk.reuters.com").
	for domain, score := range credibilityTiers {
		if strings.HasSuffix(host, "."+domain) {
			return score
		}
	}
	return credibilityDefault
}

// ProfileAffinity scores how well an article matches a user profile:
// the normalized weight of the article's category plus a preferred-
// source bonus. Zero without a profile.
func ProfileAffinity(article *datatypes.Article, profile *datatypes.UserProfile) float64 {
	if profile == nil {
		return 0
	}
	affinity := 0.7 * profile.CategoryWeights[article.Category]
	for _, source := range profile.PreferredSources {
		if strings.EqualFold(source, article.Source) {
			affinity += 0.3
			break
		}
	}
	return affinity
}

// Importance combines the four ranking terms into [0,1]. The card
// stores it scaled to [0,100].
func Importance(article *datatypes.Article, sentimentMagnitude float64, profile *datatypes.UserProfile, now time.Time) float64 {
	return recencyWeight*RecencyDecay(article.PublishedAt, now) +
		credibilityWeight*SourceCredibility(article.Source) +
		sentimentWeight*sentimentMagnitude +
		affinityWeight*ProfileAffinity(article, profile)
}

// rankedArticle pairs an article with its computed importance.
type rankedArticle struct {
	article    *datatypes.Article
	importance float64
}

// selectTop ranks articles by importance and returns the top n,
// deterministic under ties: published-at descending, then fingerprint
// ascending.
func selectTop(ranked []rankedArticle, n int) []rankedArticle {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.importance != b.importance {
			return a.importance > b.importance
		}
		if !a.article.PublishedAt.Equal(b.article.PublishedAt) {
			return a.article.PublishedAt.After(b.article.PublishedAt)
		}
		return a.article.Fingerprint < b.article.Fingerprint
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// displayPriority maps a 1-based rank among n cards to [1,10]; rank 1
// gets priority 10.
func displayPriority(rank, n int) int {
	if n <= 1 {
		return 10
	}
	normalized := float64(n-rank) / float64(n-1)
	return 1 + int(math.Floor(9*normalized))
}
