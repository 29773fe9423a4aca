// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/trends"
)

// RenderRun prints a pipeline run summary: status, stage outcomes,
// counts, warnings, and the generated cards.
func RenderRun(run *datatypes.PipelineRun) {
	Header(fmt.Sprintf("Run %s — %s", run.RunID, run.Status))
	Dim("query: %s  (%.1fs)", run.Query, float64(run.TotalDurationMs)/1000)
	Rule(60)

	for _, sr := range run.StageResults {
		line := fmt.Sprintf("  %-14s %-10s count=%d  %dms", sr.Stage, sr.Outcome, sr.Count, sr.DurationMs)
		if sr.Error != "" {
			line += "  " + sr.Error
		}
		fmt.Println(line)
	}
	fmt.Printf("  found=%d stored=%d duplicates=%d vectors=%d cards=%d\n",
		run.Counts.TotalFound, run.Counts.Stored, run.Counts.Duplicates,
		run.Counts.VectorsCreated, run.Counts.CardsGenerated)

	for _, w := range run.Warnings {
		Warn("%s", w)
	}
	for _, e := range run.Errors {
		Error("%s", e)
	}

	if run.Analysis != "" {
		Rule(60)
		fmt.Println(run.Analysis)
	}
	if len(run.Cards) > 0 {
		Rule(60)
		RenderCards(run.Cards)
	}
	if len(run.RecommendedQueries) > 0 {
		Dim("try next: %s", strings.Join(run.RecommendedQueries, " | "))
	}
}

// RenderCards prints news cards in display order.
func RenderCards(cards []datatypes.NewsCard) {
	for i, card := range cards {
		fmt.Printf("%s\n", render(styleTitle, fmt.Sprintf("%d. %s", i+1, card.Headline)))
		if card.Summary != "" {
			fmt.Printf("   %s\n", card.Summary)
		}
		for _, point := range card.KeyPoints {
			fmt.Printf("   • %s\n", point)
		}
		meta := fmt.Sprintf("   %s  sentiment=%s(%.2f)  importance=%.2f",
			card.Source, card.Sentiment, card.SentimentScore, card.Importance)
		if len(card.TopicTags) > 0 {
			meta += "  [" + strings.Join(card.TopicTags, ", ") + "]"
		}
		Dim("%s", meta)
		if card.URL != "" {
			Dim("   %s", card.URL)
		}
		fmt.Println()
	}
}

// RenderChatResponse prints a reply with its numbered citations,
// confidence, and follow-up suggestions.
func RenderChatResponse(resp *datatypes.ChatResponse) {
	fmt.Println(resp.Reply)
	if len(resp.Sources) > 0 {
		fmt.Println()
		Dim("sources:")
		for _, src := range resp.Sources {
			label := src.Title
			if label == "" {
				label = src.Fingerprint
			}
			Dim("  [%d] %s (%.2f) %s", src.Index, label, src.Score, src.URL)
		}
	}
	Dim("confidence: %.2f  tokens: %d", resp.Confidence, resp.Usage.TotalTokens)
	for _, w := range resp.Warnings {
		Warn("%s", w)
	}
	if len(resp.Suggestions) > 0 {
		Dim("follow-ups: %s", strings.Join(resp.Suggestions, " | "))
	}
}

// RenderSessions prints a session listing, newest first.
func RenderSessions(sessions []datatypes.SessionInfo) {
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, s := range sessions {
		fmt.Printf("%s\n", render(styleTitle, s.SessionID))
		summary := s.Summary
		if summary == "" {
			summary = "(no summary)"
		}
		fmt.Printf("  %s\n", summary)
		Dim("  user=%s turns=%d last activity %s", s.UserID, s.TurnCount,
			s.LastActivity.Local().Format(time.RFC822))
	}
}

// RenderHistory prints a session transcript.
func RenderHistory(history *datatypes.SessionHistory) {
	Header("Session " + history.SessionID)
	for _, msg := range history.Messages {
		prefix := msg.Role
		switch msg.Role {
		case "user":
			prefix = "you"
		case "assistant":
			prefix = "newswire"
		case "system":
			prefix = "note"
		}
		fmt.Printf("%s: %s\n", render(styleTitle, prefix), msg.Content)
	}
}

// RenderTrendSeries prints a topic's time series with a bar sized to
// the largest mention count.
func RenderTrendSeries(topic, window string, points []trends.TrendPoint) {
	Header(fmt.Sprintf("Trend: %s (%s)", topic, window))
	if len(points) == 0 {
		fmt.Println("No data points in this window.")
		return
	}
	maxMentions := 1
	for _, p := range points {
		if p.Mentions > maxMentions {
			maxMentions = p.Mentions
		}
	}
	for _, p := range points {
		bar := strings.Repeat("█", p.Mentions*30/maxMentions)
		fmt.Printf("%s  %-30s %3d  sentiment %+0.2f\n",
			p.Time.Local().Format("Jan 02 15:04"), bar, p.Mentions, p.Sentiment)
	}
}
