// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search adapts external news search providers into the
// normalized RawArticle shape. The pipeline talks to the Provider
// interface only; the concrete adapter handles provider vocabulary,
// rate limiting, and retries.
package search

import (
	"context"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

// Options narrows a search call.
//
// # Fields
//
//   - Num: maximum results to return. Zero means the default (10);
//     values above 100 are capped.
//   - Language: provider language code ("en"). Empty uses the provider
//     default.
//   - Country: provider country code ("us"). Empty uses the provider
//     default.
//   - Window: relative lookback, one of "1d", "1w", "1m", "1y". Empty
//     means no time restriction.
type Options struct {
	Num      int    `json:"num,omitempty"`
	Language string `json:"language,omitempty"`
	Country  string `json:"country,omitempty"`
	Window   string `json:"window,omitempty"`
}

// Provider is the interface the pipeline searches through.
//
// Search returns between 0 and Options.Num records, deduplicated by URL
// within the single response. Implementations classify failures into the
// shared taxonomy: ProviderUnavailable, ProviderRateLimited,
// InvalidResponse.
type Provider interface {
	Search(ctx context.Context, query string, opts Options) ([]datatypes.RawArticle, error)
	Name() string
}

const (
	// DefaultNum applies when Options.Num is negative (unset).
	DefaultNum = 10
	// MaxNum is the hard cap on requested results.
	MaxNum = 100
)

// clampNum resolves the effective result count for a request. Zero is
// an explicit request for no results and stays zero; defaults are the
// caller's job.
func clampNum(num int) int {
	if num < 0 {
		return DefaultNum
	}
	if num > MaxNum {
		return MaxNum
	}
	return num
}
