// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/AleutianAI/AleutianNewswire/pkg/logging"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/trends"
)

// ===== Envelope =====

// apiEnvelope is the service's uniform response wrapper.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// APIError is a non-success response from the newswire service.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("newswire returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ===== Client =====

// Client is a thin HTTP client for the newswire API. All methods decode
// the success/error envelope and surface service errors as *APIError.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logging.Logger
}

// NewClient builds a client against baseURL (scheme://host:port, no
// trailing slash required).
func NewClient(baseURL string, timeout time.Duration, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// do executes the request and decodes the envelope's data into out.
// A nil out discards the payload.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("api request", "method", method, "path", path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling newswire at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Kind = env.Error.Kind
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out == nil || env.Data == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	return nil
}

// ===== Pipeline =====

// Process runs the full pipeline.
func (c *Client) Process(ctx context.Context, req datatypes.PipelineRequest) (*datatypes.PipelineRun, error) {
	var run datatypes.PipelineRun
	if err := c.do(ctx, http.MethodPost, "/v1/pipeline/process", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Quick runs the cards-only quick pipeline.
func (c *Client) Quick(ctx context.Context, req datatypes.PipelineRequest) (*datatypes.PipelineRun, error) {
	var run datatypes.PipelineRun
	if err := c.do(ctx, http.MethodPost, "/v1/pipeline/quick", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RunStatus fetches a retained run record by id.
func (c *Client) RunStatus(ctx context.Context, runID string) (*datatypes.PipelineRun, error) {
	var run datatypes.PipelineRun
	path := "/v1/pipeline/status/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ===== Dialogue =====

// Chat executes one dialogue turn.
func (c *Client) Chat(ctx context.Context, req datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	var resp datatypes.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/v1/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History fetches a session transcript.
func (c *Client) History(ctx context.Context, sessionID string) (*datatypes.SessionHistory, error) {
	var history datatypes.SessionHistory
	path := "/v1/chat/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// Sessions lists sessions, newest activity first. userID filters when
// non-empty; limit of zero means no limit.
func (c *Client) Sessions(ctx context.Context, userID string, limit int) ([]datatypes.SessionInfo, error) {
	query := url.Values{}
	if userID != "" {
		query.Set("user_id", userID)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := "/v1/sessions"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var payload struct {
		Sessions []datatypes.SessionInfo `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Sessions, nil
}

// DeleteSession removes a session and returns the number of turns
// deleted with it.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	var payload struct {
		TurnsDeleted int `json:"turns_deleted"`
	}
	path := "/v1/chat/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &payload); err != nil {
		return 0, err
	}
	return payload.TurnsDeleted, nil
}

// ===== Browse =====

// Trending runs the canned trending quick pipeline.
func (c *Client) Trending(ctx context.Context, userID string) (*datatypes.PipelineRun, error) {
	path := "/v1/news/trending"
	if userID != "" {
		path += "?user_id=" + url.QueryEscape(userID)
	}
	var run datatypes.PipelineRun
	if err := c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Category runs the canned quick pipeline for one category.
func (c *Client) Category(ctx context.Context, category, userID string) (*datatypes.PipelineRun, error) {
	path := "/v1/news/category/" + url.PathEscape(category)
	if userID != "" {
		path += "?user_id=" + url.QueryEscape(userID)
	}
	var run datatypes.PipelineRun
	if err := c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ===== Trends =====

// TrendSeries is the aggregated time series for one topic.
type TrendSeries struct {
	Topic  string              `json:"topic"`
	Window string              `json:"window"`
	Points []trends.TrendPoint `json:"points"`
}

// TopicTrends fetches mention counts and mean sentiment for a topic
// over the given window (1d, 1w, 1m, 1y).
func (c *Client) TopicTrends(ctx context.Context, topic, window string) (*TrendSeries, error) {
	path := "/v1/trends/" + url.PathEscape(topic)
	if window != "" {
		path += "?window=" + url.QueryEscape(window)
	}
	var series TrendSeries
	if err := c.do(ctx, http.MethodGet, path, nil, &series); err != nil {
		return nil, err
	}
	return &series, nil
}

// ===== User =====

// Profile fetches the derived profile for a user.
func (c *Client) Profile(ctx context.Context, userID string) (*datatypes.UserProfile, error) {
	var profile datatypes.UserProfile
	path := "/v1/user/" + url.PathEscape(userID) + "/profile"
	if err := c.do(ctx, http.MethodGet, path, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateProfile replaces a user's explicit settings and returns the
// refreshed profile.
func (c *Client) UpdateProfile(ctx context.Context, userID string, update datatypes.ProfileUpdateRequest) (*datatypes.UserProfile, error) {
	var profile datatypes.UserProfile
	path := "/v1/user/" + url.PathEscape(userID) + "/profile"
	if err := c.do(ctx, http.MethodPut, path, update, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// RecordInteraction appends one interaction event to a user's memory.
func (c *Client) RecordInteraction(ctx context.Context, userID string, record datatypes.InteractionRecord) error {
	path := "/v1/user/" + url.PathEscape(userID) + "/interaction"
	return c.do(ctx, http.MethodPost, path, record, nil)
}

// ClearMemory erases everything stored for a user.
func (c *Client) ClearMemory(ctx context.Context, userID string) error {
	path := "/v1/user/" + url.PathEscape(userID) + "/memory"
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ===== Health =====

// HealthReport is the service's liveness response. The health endpoint
// does not use the envelope.
type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Health probes the service's /health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling newswire at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var report HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decoding health response: %w", err)
	}
	return &report, nil
}
