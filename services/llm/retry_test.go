// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
)

func retryableProviderErr(provider string) *datatypes.ProviderError {
	return &datatypes.ProviderError{
		Kind:      datatypes.KindProviderUnavailable,
		Provider:  provider,
		Message:   "upstream timeout",
		Retryable: true,
	}
}

// TestWithRetry_RetryableErrorRetriedOnce tests the single-retry budget.
//
// # Description
//
// A retryable provider failure gets exactly one more attempt. The second
// attempt's success must be returned.
func TestWithRetry_RetryableErrorRetriedOnce(t *testing.T) {
	t.Parallel()

	inner := &scriptedClient{
		errs:      []error{retryableProviderErr("ollama"), nil},
		responses: []string{"", "recovered"},
	}
	client := WithRetry(inner)

	got, err := client.Generate(context.Background(), "prompt", GenerationParams{})

	if err != nil {
		t.Fatalf("Generate returned error after recovery: %v", err)
	}
	if got != "recovered" {
		t.Errorf("Expected second attempt's response, got '%s'", got)
	}
	if len(inner.prompts) != 2 {
		t.Errorf("Expected 2 attempts, got %d", len(inner.prompts))
	}
}

// TestWithRetry_NonRetryableFailsFast tests immediate failure.
//
// # Description
//
// Validation-class failures must not burn the retry budget. One attempt,
// error returned as-is.
func TestWithRetry_NonRetryableFailsFast(t *testing.T) {
	t.Parallel()

	permErr := &datatypes.ProviderError{
		Kind:     datatypes.KindInvalidResponse,
		Provider: "openai",
		Message:  "bad request",
	}
	inner := &scriptedClient{errs: []error{permErr}}
	client := WithRetry(inner)

	_, err := client.Generate(context.Background(), "prompt", GenerationParams{})

	if err == nil {
		t.Fatal("Generate should fail on non-retryable error")
	}
	var pe *datatypes.ProviderError
	if !errors.As(err, &pe) || pe.Kind != datatypes.KindInvalidResponse {
		t.Errorf("Expected original error back, got: %v", err)
	}
	if len(inner.prompts) != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", len(inner.prompts))
	}
}

// TestWithRetry_BudgetExhausted tests two consecutive retryable failures.
func TestWithRetry_BudgetExhausted(t *testing.T) {
	t.Parallel()

	inner := &scriptedClient{
		errs: []error{retryableProviderErr("serpapi"), retryableProviderErr("serpapi")},
	}
	client := WithRetry(inner)

	_, err := client.Generate(context.Background(), "prompt", GenerationParams{})

	if err == nil {
		t.Fatal("Generate should fail when all attempts fail")
	}
	if !datatypes.IsRetryable(err) {
		t.Error("Final error should keep its retryable tag for upstream classification")
	}
	if len(inner.prompts) != 2 {
		t.Errorf("Expected exactly 2 attempts, got %d", len(inner.prompts))
	}
}

// TestWithRetry_ContextCancelledDuringBackoff tests deadline interaction.
//
// # Description
//
// The backoff sleep must yield to context cancellation rather than holding
// the caller for the full delay.
func TestWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	inner := &scriptedClient{
		errs: []error{retryableProviderErr("ollama"), retryableProviderErr("ollama")},
	}
	client := WithRetry(inner)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Generate(ctx, "prompt", GenerationParams{})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Generate should fail when context expires during backoff")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got: %v", err)
	}
	if elapsed >= retryDelay {
		t.Errorf("Backoff should abort early on cancellation, waited %v", elapsed)
	}
	if len(inner.prompts) != 1 {
		t.Errorf("Second attempt should not run after cancellation, got %d attempts", len(inner.prompts))
	}
}

// TestWithRetry_ChatRetries tests that the Chat path shares retry behavior.
func TestWithRetry_ChatRetries(t *testing.T) {
	t.Parallel()

	inner := &scriptedClient{
		errs:      []error{retryableProviderErr("anthropic"), nil},
		responses: []string{"", "chat recovered"},
	}
	client := WithRetry(inner)

	messages := []datatypes.Message{{Role: "user", Content: "hello"}}
	result, err := client.Chat(context.Background(), messages, GenerationParams{})

	if err != nil {
		t.Fatalf("Chat returned error after recovery: %v", err)
	}
	if result.Content != "chat recovered" {
		t.Errorf("Expected second attempt's content, got '%s'", result.Content)
	}
	if len(inner.prompts) != 2 {
		t.Errorf("Expected 2 attempts, got %d", len(inner.prompts))
	}
}
