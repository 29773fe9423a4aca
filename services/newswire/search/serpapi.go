// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

var tracer = otel.Tracer("aleutian.newswire.search")

const (
	serpAPIBaseURL = "https://serpapi.com/search.json"

	retryBase     = 500 * time.Millisecond
	retryFactor   = 2
	retryAttempts = 3
)

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SerpAPIProvider queries SerpAPI's google_news engine.
type SerpAPIProvider struct {
	apiKey     string
	httpClient HTTPClient
	limiter    *rate.Limiter
	baseURL    string
}

// --- SerpAPI google_news wire types ---

type serpNewsResponse struct {
	NewsResults []serpNewsResult `json:"news_results"`
	Error       string           `json:"error,omitempty"`
}

type serpNewsResult struct {
	Position int              `json:"position"`
	Title    string           `json:"title"`
	Snippet  string           `json:"snippet"`
	Link     string           `json:"link"`
	Date     string           `json:"date"`
	Source   serpNewsSource   `json:"source"`
	Stories  []serpNewsResult `json:"stories,omitempty"`
}

type serpNewsSource struct {
	Name    string   `json:"name"`
	Authors []string `json:"authors,omitempty"`
}

// NewSerpAPIProvider builds the adapter from the environment.
//
// SERPAPI_API_KEY (or /run/secrets/serpapi_api_key) is required.
// SERPAPI_QPS tunes the token bucket; default 1 request per second.
func NewSerpAPIProvider() (*SerpAPIProvider, error) {
	apiKey := os.Getenv("SERPAPI_API_KEY")

	// 1. Robust Secret Loading
	if apiKey == "" {
		secretPath := "/run/secrets/serpapi_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read SerpAPI Key from Podman Secrets")
		}
	}

	// 2. Graceful Failure
	if apiKey == "" {
		slog.Warn("SerpAPI Key is missing.")
		return nil, fmt.Errorf("SERPAPI_API_KEY is missing")
	}

	qps := 1.0
	if raw := os.Getenv("SERPAPI_QPS"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			slog.Warn("Invalid SERPAPI_QPS, using default", "value", raw)
		} else {
			qps = parsed
		}
	}

	return &SerpAPIProvider{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(qps), 1),
		baseURL:    serpAPIBaseURL,
	}, nil
}

// Name implements the Provider interface
func (s *SerpAPIProvider) Name() string {
	return "serpapi"
}

// Search implements the Provider interface.
//
// # Description
//
// Issues one google_news call per invocation. On 429/503 it retries with
// exponential backoff (base 500 ms, factor 2, jitter +/-25%, 3 attempts
// total). The token bucket is consulted before every outbound attempt.
//
// # Inputs
//
//   - ctx: Deadline and cancellation. The backoff sleep honors it.
//   - query: Non-empty search terms.
//   - opts: Result count, locale, and lookback window. A zero count
//     returns an empty set without an outbound call.
//
// # Outputs
//
//   - []datatypes.RawArticle: 0..Num records, URL-deduplicated, records
//     without a title dropped with a warning.
//   - error: ProviderError tagged with the taxonomy kind.
func (s *SerpAPIProvider) Search(ctx context.Context, query string, opts Options) ([]datatypes.RawArticle, error) {
	ctx, span := tracer.Start(ctx, "search.serpapi")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}

	num := clampNum(opts.Num)
	if num == 0 {
		// An explicit zero-result request never reaches the provider.
		return []datatypes.RawArticle{}, nil
	}
	span.SetAttributes(
		attribute.String("search.query", query),
		attribute.Int("search.num", num),
		attribute.String("search.window", opts.Window),
	)

	params := url.Values{}
	params.Set("engine", "google_news")
	params.Set("q", query)
	params.Set("api_key", s.apiKey)
	params.Set("num", strconv.Itoa(num))
	if opts.Language != "" {
		params.Set("hl", opts.Language)
	}
	if opts.Country != "" {
		params.Set("gl", opts.Country)
	}
	if tbs := windowToTBS(opts.Window); tbs != "" {
		params.Set("tbs", tbs)
	}
	fullURL := s.baseURL + "?" + params.Encode()

	body, err := s.fetchWithRetry(ctx, fullURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serpapi fetch failed")
		return nil, err
	}

	var apiResp serpNewsResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		parseErr := &datatypes.ProviderError{
			Kind:     datatypes.KindInvalidResponse,
			Provider: "serpapi",
			Message:  fmt.Sprintf("unparseable response body: %v", err),
		}
		span.RecordError(parseErr)
		span.SetStatus(codes.Error, "serpapi parse failed")
		return nil, parseErr
	}
	if apiResp.Error != "" {
		apiErr := &datatypes.ProviderError{
			Kind:     datatypes.KindInvalidResponse,
			Provider: "serpapi",
			Message:  apiResp.Error,
		}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, "serpapi error payload")
		return nil, apiErr
	}

	articles := s.parseResults(apiResp.NewsResults, query, num)
	span.SetAttributes(attribute.Int("search.results", len(articles)))
	slog.Info("SerpAPI news search completed", "query", query, "results", len(articles))
	return articles, nil
}

// fetchWithRetry performs the HTTP call inside the retry budget.
func (s *SerpAPIProvider) fetchWithRetry(ctx context.Context, fullURL string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(attempt - 1)
			slog.Warn("Retrying SerpAPI call", "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create SerpAPI request: %w", err)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &datatypes.ProviderError{
				Kind:     datatypes.KindProviderUnavailable,
				Provider: "serpapi",
				Message:  err.Error(),
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = &datatypes.ProviderError{
				Kind:     datatypes.KindProviderUnavailable,
				Provider: "serpapi",
				Message:  readErr.Error(),
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &datatypes.ProviderError{
				Kind:       datatypes.KindProviderRateLimited,
				Provider:   "serpapi",
				StatusCode: resp.StatusCode,
				Message:    strings.TrimSpace(string(body)),
			}
			continue
		case resp.StatusCode == http.StatusServiceUnavailable:
			lastErr = &datatypes.ProviderError{
				Kind:       datatypes.KindProviderUnavailable,
				Provider:   "serpapi",
				StatusCode: resp.StatusCode,
				Message:    strings.TrimSpace(string(body)),
			}
			continue
		default:
			// Other statuses are not retried: the request itself is wrong
			// or the key is rejected, and repeating it cannot help.
			return nil, &datatypes.ProviderError{
				Kind:       datatypes.KindProviderUnavailable,
				Provider:   "serpapi",
				StatusCode: resp.StatusCode,
				Message:    strings.TrimSpace(string(body)),
			}
		}
	}

	return nil, lastErr
}

// parseResults normalizes the provider payload. Clustered entries carry
// their records under stories; those are flattened in place.
func (s *SerpAPIProvider) parseResults(results []serpNewsResult, query string, num int) []datatypes.RawArticle {
	var articles []datatypes.RawArticle
	seenURLs := make(map[string]bool)
	rank := 0

	var walk func(items []serpNewsResult)
	walk = func(items []serpNewsResult) {
		for _, item := range items {
			if len(articles) >= num {
				return
			}
			if len(item.Stories) > 0 {
				walk(item.Stories)
				continue
			}
			if strings.TrimSpace(item.Title) == "" {
				slog.Warn("Dropping untitled news record", "url", item.Link, "query", query)
				continue
			}
			if item.Link != "" {
				key := strings.ToLower(item.Link)
				if seenURLs[key] {
					continue
				}
				seenURLs[key] = true
			}

			rank++
			article := datatypes.RawArticle{
				Title:       strings.TrimSpace(item.Title),
				Snippet:     strings.TrimSpace(item.Snippet),
				URL:         item.Link,
				Source:      item.Source.Name,
				PublishedAt: parseSerpDate(item.Date),
				Query:       query,
				Rank:        rank,
			}
			if len(item.Source.Authors) > 0 {
				article.Author = item.Source.Authors[0]
			}
			articles = append(articles, article)
		}
	}
	walk(results)

	return articles
}

// windowToTBS maps the relative lookback to Google's time filter.
func windowToTBS(window string) string {
	switch window {
	case "1d":
		return "qdr:d"
	case "1w":
		return "qdr:w"
	case "1m":
		return "qdr:m"
	case "1y":
		return "qdr:y"
	case "":
		return ""
	default:
		slog.Warn("Unknown search window, ignoring", "window", window)
		return ""
	}
}

// backoffDelay computes the nth retry delay with +/-25% jitter.
func backoffDelay(retry int) time.Duration {
	delay := retryBase
	for i := 1; i < retry; i++ {
		delay *= retryFactor
	}
	jitter := 0.75 + 0.5*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

// parseSerpDate handles the google_news date formats. Unparseable dates
// return the zero time; day precision is all downstream scoring needs.
func parseSerpDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	layouts := []string{
		"01/02/2006, 03:04 PM, -0700 MST",
		time.RFC3339,
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
