// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dialogue

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/llm"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

// systemPreamble establishes role, formatting, refusal rules, and the
// numeric citation convention.
const systemPreamble = `You are a news assistant answering questions grounded in the provided sources.

Formatting: respond in structured Markdown. Use headings for distinct topics, bullet lists for enumerations, and bold for key terms.

Grounding rules:
- Cite sources inline by numeric index, e.g. [1] or [2][3], matching the numbered sources below.
- If the sources do not support a claim, say so instead of asserting it.
- Never invent sources, quotes, or numbers.`

// buildPersonalizationBlock renders profile-derived hints as natural
// language, scaled by the user's personalization level. Empty when the
// profile carries nothing actionable.
func buildPersonalizationBlock(profile *datatypes.UserProfile) string {
	if profile == nil || profile.Style.PersonalizationLevel <= 0 {
		return ""
	}
	var hints []string

	if cats := profile.TopCategories(3); len(cats) > 0 {
		strength := "some"
		if profile.Style.PersonalizationLevel >= 0.7 {
			strength = "strong"
		}
		hints = append(hints, fmt.Sprintf("The user has %s interest in: %s.",
			strength, strings.Join(cats, ", ")))
	}

	switch profile.Style.ResponseLength {
	case "short":
		hints = append(hints, "Keep responses brief.")
	case "long":
		hints = append(hints, "Thorough responses are welcome.")
	}
	switch profile.Style.Formality {
	case "casual":
		hints = append(hints, "Use a conversational tone.")
	case "formal":
		hints = append(hints, "Use a formal tone.")
	}
	switch profile.Style.DetailDepth {
	case "overview":
		hints = append(hints, "Favor high-level overviews over technical detail.")
	case "deep":
		hints = append(hints, "Go deep on technical detail when relevant.")
	}

	if len(hints) == 0 {
		return ""
	}
	return "Reader preferences (apply with judgment, never mention them):\n" + strings.Join(hints, " ")
}

// buildContextBlock renders numbered source excerpts. The numbering
// matches the SourceInfo indices returned to the caller.
func buildContextBlock(chunks []datatypes.RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Sources:\n")
	for i := range chunks {
		c := &chunks[i]
		b.WriteString(fmt.Sprintf("[%d] %s", i+1, c.Title))
		if c.Source != "" {
			b.WriteString(" — " + c.Source)
		}
		if !c.PublishedAt.IsZero() {
			b.WriteString(", " + c.PublishedAt.UTC().Format("2006-01-02"))
		}
		if c.URL != "" {
			b.WriteString(" (" + c.URL + ")")
		}
		b.WriteString("\n" + c.Text + "\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// assembleMessages builds the full message list for one turn: system
// preamble (with optional personalization and context), pruned history,
// and the new user message.
func assembleMessages(profile *datatypes.UserProfile, chunks []datatypes.RetrievedChunk, history []datatypes.Message, userMessage string) []datatypes.Message {
	system := systemPreamble
	if block := buildPersonalizationBlock(profile); block != "" {
		system += "\n\n" + block
	}
	if block := buildContextBlock(chunks); block != "" {
		system += "\n\n" + block
	}

	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{Role: "user", Content: userMessage, Timestamp: time.Now().UTC()})
	return messages
}

// historyWithinBudget converts stored turns to messages, newest first,
// until the token budget is exhausted, then restores chronological
// order. Summary notes become system messages.
func historyWithinBudget(turns []Turn, budgetTokens int) []datatypes.Message {
	type pair struct {
		msgs   []datatypes.Message
		tokens int
	}

	pairs := make([]pair, 0, len(turns))
	for i := range turns {
		t := &turns[i]
		var msgs []datatypes.Message
		if t.Kind == TurnKindSummary {
			msgs = []datatypes.Message{{Role: "system", Content: t.Answer, Timestamp: t.Timestamp}}
		} else {
			msgs = []datatypes.Message{
				{Role: "user", Content: t.Question, Timestamp: t.Timestamp},
				{Role: "assistant", Content: t.Answer, Timestamp: t.Timestamp},
			}
		}
		tokens := 0
		for _, m := range msgs {
			tokens += llm.EstimateTokens(m.Content)
		}
		pairs = append(pairs, pair{msgs: msgs, tokens: tokens})
	}

	kept := 0
	remaining := budgetTokens
	for i := len(pairs) - 1; i >= 0; i-- {
		if pairs[i].tokens > remaining {
			break
		}
		remaining -= pairs[i].tokens
		kept++
	}

	var out []datatypes.Message
	for _, p := range pairs[len(pairs)-kept:] {
		out = append(out, p.msgs...)
	}
	return out
}

// buildPruneSummaryPrompt asks for the synthetic note that replaces
// pruned history.
func buildPruneSummaryPrompt(turns []Turn) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation in at most 300 tokens. ")
	b.WriteString("Preserve concrete facts, names, and the user's stated goals. ")
	b.WriteString("Write it as a neutral briefing note, not a dialogue.\n\n")
	for i := range turns {
		t := &turns[i]
		if t.Kind == TurnKindSummary {
			b.WriteString("Earlier summary: " + t.Answer + "\n")
			continue
		}
		b.WriteString("User: " + t.Question + "\nAssistant: " + t.Answer + "\n")
	}
	return b.String()
}

// buildSessionSummaryPrompt asks for the short session title shown in
// listings.
func buildSessionSummaryPrompt(question, answer string) string {
	return "Write a title of at most 8 words for a conversation that starts with this exchange. " +
		"Respond with the title only, no quotes.\n\n" +
		"User: " + question + "\nAssistant: " + answer
}

// deriveSuggestions proposes follow-up questions from the retrieved
// sources. Deterministic for a fixed source list.
func deriveSuggestions(chunks []datatypes.RetrievedChunk, max int) []string {
	var out []string
	seen := make(map[string]bool)
	for i := range chunks {
		if len(out) >= max {
			break
		}
		title := strings.TrimSpace(chunks[i].Title)
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true
		out = append(out, fmt.Sprintf("What else is being reported about %q?", title))
	}
	return out
}
