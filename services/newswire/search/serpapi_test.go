// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the SerpAPI news search adapter.

package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

// --- Mock HTTP Client ---

type MockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

// --- Test Fixtures ---

func newTestProvider(baseURL string) *SerpAPIProvider {
	return &SerpAPIProvider{
		apiKey:     "test-key",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 1),
		baseURL:    baseURL,
	}
}

const sampleNewsPayload = `{
	"news_results": [
		{
			"position": 1,
			"title": "Chipmaker beats earnings expectations",
			"snippet": "Quarterly revenue rose 20 percent.",
			"link": "https://news.example.com/chips-earnings",
			"date": "08/20/2026, 07:12 AM, +0000 UTC",
			"source": {"name": "Example Wire", "authors": ["A. Reporter"]}
		},
		{
			"position": 2,
			"title": "Fed signals rate pause",
			"snippet": "Officials see inflation cooling.",
			"link": "https://news.example.com/fed-pause",
			"date": "08/19/2026, 09:00 PM, +0000 UTC",
			"source": {"name": "Capital Daily"}
		}
	]
}`

// --- Search Tests ---

func TestSerpAPI_Search_ParsesNewsResults(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("engine") != "google_news" {
			t.Errorf("Expected engine google_news, got %s", q.Get("engine"))
		}
		if q.Get("q") != "semiconductors" {
			t.Errorf("Expected query forwarded, got %s", q.Get("q"))
		}
		if q.Get("api_key") != "test-key" {
			t.Errorf("Expected api_key forwarded, got %s", q.Get("api_key"))
		}
		fmt.Fprint(w, sampleNewsPayload)
	}))
	defer server.Close()

	provider := newTestProvider(server.URL)

	articles, err := provider.Search(context.Background(), "semiconductors", Options{})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("Expected 2 articles, got %d", len(articles))
	}

	first := articles[0]
	if first.Title != "Chipmaker beats earnings expectations" {
		t.Errorf("Title mismatch: %s", first.Title)
	}
	if first.Source != "Example Wire" {
		t.Errorf("Source mismatch: %s", first.Source)
	}
	if first.Author != "A. Reporter" {
		t.Errorf("Author mismatch: %s", first.Author)
	}
	if first.Rank != 1 || articles[1].Rank != 2 {
		t.Errorf("Rank assignment wrong: %d, %d", first.Rank, articles[1].Rank)
	}
	if first.Query != "semiconductors" {
		t.Errorf("Originating query not recorded: %s", first.Query)
	}
	if first.PublishedAt.IsZero() {
		t.Error("Expected published date to parse")
	}
	if got := first.PublishedAt.UTC().Format("2006-01-02"); got != "2026-08-20" {
		t.Errorf("Published date wrong: %s", got)
	}
}

func TestSerpAPI_Search_DedupsByURL(t *testing.T) {
	t.Parallel()

	payload := `{"news_results": [
		{"title": "Story A", "link": "https://example.com/a", "source": {"name": "Wire"}},
		{"title": "Story A again", "link": "https://EXAMPLE.com/a", "source": {"name": "Wire"}},
		{"title": "Story B", "link": "https://example.com/b", "source": {"name": "Wire"}}
	]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, payload)
	}))
	defer server.Close()

	articles, err := newTestProvider(server.URL).Search(context.Background(), "test", Options{})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("Expected URL dedup to keep 2 articles, got %d", len(articles))
	}
	if articles[0].Title != "Story A" || articles[1].Title != "Story B" {
		t.Errorf("Wrong survivors after dedup: %s, %s", articles[0].Title, articles[1].Title)
	}
}

func TestSerpAPI_Search_DropsUntitledRecords(t *testing.T) {
	t.Parallel()

	payload := `{"news_results": [
		{"title": "  ", "link": "https://example.com/untitled", "source": {"name": "Wire"}},
		{"title": "Titled", "link": "https://example.com/titled", "source": {"name": "Wire"}}
	]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, payload)
	}))
	defer server.Close()

	articles, err := newTestProvider(server.URL).Search(context.Background(), "test", Options{})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(articles) != 1 || articles[0].Title != "Titled" {
		t.Fatalf("Expected untitled record dropped, got %+v", articles)
	}
}

func TestSerpAPI_Search_FlattensStoryClusters(t *testing.T) {
	t.Parallel()

	payload := `{"news_results": [
		{"stories": [
			{"title": "Cluster story 1", "link": "https://example.com/c1", "source": {"name": "Wire"}},
			{"title": "Cluster story 2", "link": "https://example.com/c2", "source": {"name": "Wire"}}
		]},
		{"title": "Plain story", "link": "https://example.com/p", "source": {"name": "Wire"}}
	]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, payload)
	}))
	defer server.Close()

	articles, err := newTestProvider(server.URL).Search(context.Background(), "test", Options{})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(articles) != 3 {
		t.Fatalf("Expected clustered stories flattened to 3 articles, got %d", len(articles))
	}
	if articles[0].Title != "Cluster story 1" || articles[2].Title != "Plain story" {
		t.Errorf("Flattening order wrong: %v", articles)
	}
}

func TestSerpAPI_Search_ForwardsLocaleAndWindow(t *testing.T) {
	t.Parallel()

	var captured map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		captured = map[string]string{
			"hl":  q.Get("hl"),
			"gl":  q.Get("gl"),
			"tbs": q.Get("tbs"),
			"num": q.Get("num"),
		}
		fmt.Fprint(w, `{"news_results": []}`)
	}))
	defer server.Close()

	_, err := newTestProvider(server.URL).Search(context.Background(), "test", Options{
		Num:      25,
		Language: "en",
		Country:  "us",
		Window:   "1w",
	})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if captured["hl"] != "en" || captured["gl"] != "us" {
		t.Errorf("Locale params not forwarded: %v", captured)
	}
	if captured["tbs"] != "qdr:w" {
		t.Errorf("Expected tbs qdr:w, got %s", captured["tbs"])
	}
	if captured["num"] != "25" {
		t.Errorf("Expected num 25, got %s", captured["num"])
	}
}

func TestSerpAPI_Search_CapsRequestedResults(t *testing.T) {
	t.Parallel()

	var gotNum string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotNum = r.URL.Query().Get("num")
		fmt.Fprint(w, `{"news_results": []}`)
	}))
	defer server.Close()

	provider := newTestProvider(server.URL)

	if _, err := provider.Search(context.Background(), "test", Options{Num: 500}); err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if gotNum != "100" {
		t.Errorf("Expected num capped at 100, got %s", gotNum)
	}

	if _, err := provider.Search(context.Background(), "test", Options{Num: -1}); err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if gotNum != "10" {
		t.Errorf("Expected default num 10, got %s", gotNum)
	}
}

func TestSerpAPI_Search_ZeroNumSkipsProvider(t *testing.T) {
	t.Parallel()

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, `{"news_results": [{"title": "A", "link": "https://example.com/a"}]}`)
	}))
	defer server.Close()

	provider := newTestProvider(server.URL)

	articles, err := provider.Search(context.Background(), "anything", Options{Num: 0})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(articles) != 0 {
		t.Errorf("Expected empty result set for num 0, got %d articles", len(articles))
	}
	if requests != 0 {
		t.Errorf("Expected no outbound request for num 0, got %d", requests)
	}
}

func TestSerpAPI_Search_RetriesOn429ThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error": "rate limited"}`)
			return
		}
		fmt.Fprint(w, sampleNewsPayload)
	}))
	defer server.Close()

	articles, err := newTestProvider(server.URL).Search(context.Background(), "test", Options{})
	if err != nil {
		t.Fatalf("Search should recover after 429, got: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls.Load())
	}
	if len(articles) != 2 {
		t.Errorf("Expected parsed articles after recovery, got %d", len(articles))
	}
}

func TestSerpAPI_Search_RateLimitedAfterBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": "rate limited"}`)
	}))
	defer server.Close()

	_, err := newTestProvider(server.URL).Search(context.Background(), "test", Options{})

	if err == nil {
		t.Fatal("Search should fail after exhausting the retry budget")
	}
	if calls.Load() != retryAttempts {
		t.Errorf("Expected %d attempts, got %d", retryAttempts, calls.Load())
	}
	if datatypes.KindOf(err) != datatypes.KindProviderRateLimited {
		t.Errorf("Expected KindProviderRateLimited, got %s", datatypes.KindOf(err))
	}
}

func TestSerpAPI_Search_BadStatusNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": "invalid api key"}`)
	}))
	defer server.Close()

	_, err := newTestProvider(server.URL).Search(context.Background(), "test", Options{})

	if err == nil {
		t.Fatal("Search should fail on 401")
	}
	if calls.Load() != 1 {
		t.Errorf("401 must not be retried, got %d attempts", calls.Load())
	}
	if datatypes.KindOf(err) != datatypes.KindProviderUnavailable {
		t.Errorf("Expected KindProviderUnavailable, got %s", datatypes.KindOf(err))
	}
}

func TestSerpAPI_Search_ErrorPayloadIsInvalidResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": "Google hasn't returned any results for this query."}`)
	}))
	defer server.Close()

	_, err := newTestProvider(server.URL).Search(context.Background(), "test", Options{})

	if err == nil {
		t.Fatal("Search should surface the provider error payload")
	}
	if datatypes.KindOf(err) != datatypes.KindInvalidResponse {
		t.Errorf("Expected KindInvalidResponse, got %s", datatypes.KindOf(err))
	}
}

func TestSerpAPI_Search_NetworkErrorRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mock := &MockHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			calls.Add(1)
			return nil, errors.New("connection refused")
		},
	}
	provider := &SerpAPIProvider{
		apiKey:     "test-key",
		httpClient: mock,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		baseURL:    "http://serpapi.invalid/search.json",
	}

	_, err := provider.Search(context.Background(), "test", Options{})

	if err == nil {
		t.Fatal("Search should fail when every attempt errors")
	}
	if calls.Load() != retryAttempts {
		t.Errorf("Expected %d attempts, got %d", retryAttempts, calls.Load())
	}
	if datatypes.KindOf(err) != datatypes.KindProviderUnavailable {
		t.Errorf("Expected KindProviderUnavailable, got %s", datatypes.KindOf(err))
	}
}

func TestSerpAPI_Search_EmptyQueryRejected(t *testing.T) {
	t.Parallel()

	provider := newTestProvider("http://serpapi.invalid/search.json")

	if _, err := provider.Search(context.Background(), "   ", Options{}); err == nil {
		t.Fatal("Search should reject an empty query")
	}
}

// --- Helper Tests ---

func TestWindowToTBS(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		window   string
		expected string
	}{
		{"1d", "qdr:d"},
		{"1w", "qdr:w"},
		{"1m", "qdr:m"},
		{"1y", "qdr:y"},
		{"", ""},
		{"2w", ""},
	}
	for _, tc := range testCases {
		if got := windowToTBS(tc.window); got != tc.expected {
			t.Errorf("windowToTBS(%q) = %q, expected %q", tc.window, got, tc.expected)
		}
	}
}

func TestBackoffDelay_JitterBounds(t *testing.T) {
	t.Parallel()

	for i := 0; i < 50; i++ {
		first := backoffDelay(1)
		if first < 375*time.Millisecond || first > 625*time.Millisecond {
			t.Fatalf("First retry delay out of jitter bounds: %v", first)
		}
		second := backoffDelay(2)
		if second < 750*time.Millisecond || second > 1250*time.Millisecond {
			t.Fatalf("Second retry delay out of jitter bounds: %v", second)
		}
	}
}

func TestParseSerpDate(t *testing.T) {
	t.Parallel()

	parsed := parseSerpDate("08/20/2026, 07:12 AM, +0000 UTC")
	if parsed.IsZero() {
		t.Fatal("Expected google_news date format to parse")
	}
	if parsed.Format("2006-01-02") != "2026-08-20" {
		t.Errorf("Wrong parsed date: %v", parsed)
	}

	if got := parseSerpDate("2026-08-20"); got.IsZero() {
		t.Error("Expected plain date format to parse")
	}
	if got := parseSerpDate("yesterday-ish"); !got.IsZero() {
		t.Errorf("Unparseable date should be zero time, got %v", got)
	}
	if got := parseSerpDate(""); !got.IsZero() {
		t.Errorf("Empty date should be zero time, got %v", got)
	}
}
