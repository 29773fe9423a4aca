// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

const (
	// analysisArticleCap bounds how many articles feed the corpus
	// summary prompt.
	analysisArticleCap = 20

	// analysisSnippetCap bounds each quoted snippet in bytes.
	analysisSnippetCap = 400
)

var (
	analysisTemperature = float32(0.4)
	analysisMaxTokens   = 800
)

// buildAnalysisPrompt composes the whole-corpus summary prompt from the
// run's query and the freshly stored articles.
func buildAnalysisPrompt(query string, articles []datatypes.Article) string {
	var b strings.Builder
	b.WriteString("You are a news analyst. Summarize the current coverage of the topic below.\n\n")
	b.WriteString("Topic: " + query + "\n\nArticles:\n")

	n := len(articles)
	if n > analysisArticleCap {
		n = analysisArticleCap
	}
	for i := 0; i < n; i++ {
		a := &articles[i]
		b.WriteString(fmt.Sprintf("%d. %s", i+1, a.Title))
		if a.Source != "" {
			b.WriteString(" (" + a.Source + ")")
		}
		b.WriteString("\n")
		snippet := a.Snippet
		if snippet == "" {
			snippet = a.Body
		}
		if len(snippet) > analysisSnippetCap {
			snippet = snippet[:analysisSnippetCap]
		}
		if snippet != "" {
			b.WriteString("   " + snippet + "\n")
		}
	}

	b.WriteString(`
Write 2-4 paragraphs of structured Markdown covering the major developments,
points of agreement and disagreement across sources, and what to watch next.
Do not invent facts beyond the articles above.
`)
	return b.String()
}

// recommendedQueries derives follow-up query suggestions from the
// user's top profile categories. Deterministic for a fixed profile.
func recommendedQueries(profile *datatypes.UserProfile, currentQuery string) []string {
	if profile == nil {
		return nil
	}
	var out []string
	for _, category := range profile.TopCategories(3) {
		suggestion := "latest " + category + " news"
		if !strings.EqualFold(suggestion, currentQuery) {
			out = append(out, suggestion)
		}
	}
	return out
}
