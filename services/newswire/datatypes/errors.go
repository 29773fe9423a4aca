// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// ErrorKind tags a failure with a stable, transport-independent category.
//
// # Description
//
// Every error that crosses a component boundary carries exactly one kind.
// The pipeline orchestrator keys its abort/downgrade/warn decisions on the
// kind, and the HTTP layer maps kinds to status codes in one place
// (HTTPStatusForKind). Kinds are stable strings so clients can switch on
// them.
type ErrorKind string

const (
	// KindProviderUnavailable marks an external dependency that exhausted
	// its retry budget.
	KindProviderUnavailable ErrorKind = "ProviderUnavailable"

	// KindProviderRateLimited is distinguished from Unavailable so the
	// orchestrator may degrade instead of aborting.
	KindProviderRateLimited ErrorKind = "ProviderRateLimited"

	// KindInvalidResponse marks an unparseable or schema-violating
	// upstream payload.
	KindInvalidResponse ErrorKind = "InvalidResponse"

	// KindContextOverflow means the composed prompt exceeded the model
	// window. Never a retry condition.
	KindContextOverflow ErrorKind = "ContextOverflow"

	// KindUnstructuredOutput means the model declined the required JSON
	// schema even after one repair attempt.
	KindUnstructuredOutput ErrorKind = "UnstructuredOutput"

	// KindStoreUnavailable and KindIndexUnavailable mark persistence
	// layers that are down.
	KindStoreUnavailable ErrorKind = "StoreUnavailable"
	KindIndexUnavailable ErrorKind = "IndexUnavailable"

	// KindConstraintViolation should be impossible if fingerprint logic
	// is correct. Surfaced as a fatal bug, never retried.
	KindConstraintViolation ErrorKind = "ConstraintViolation"

	// KindNotFound marks an absent session, run, user, or article.
	KindNotFound ErrorKind = "NotFound"

	// KindSessionBusy marks a serialization conflict on a dialogue
	// session with an in-flight turn.
	KindSessionBusy ErrorKind = "SessionBusy"

	// KindBusyRetry marks per-user pipeline concurrency exhaustion.
	KindBusyRetry ErrorKind = "BusyRetry"

	// KindDeadlineExceeded marks an orchestrator or turn deadline hit.
	KindDeadlineExceeded ErrorKind = "DeadlineExceeded"

	// KindCancelled marks caller cancellation.
	KindCancelled ErrorKind = "Cancelled"

	// KindValidation marks a rejected request body or parameter.
	KindValidation ErrorKind = "Validation"

	// KindInternal is a bug. Detail is logged, never sent to callers.
	KindInternal ErrorKind = "Internal"
)

// =============================================================================
// Tagged Errors
// =============================================================================

// ProviderError describes a failed call to an external provider (search,
// LLM, embedding, sentiment).
//
// # Fields
//
//   - Kind: taxonomy tag, one of the Provider/InvalidResponse kinds.
//   - Provider: short provider name for logs ("serpapi", "openai").
//   - StatusCode: HTTP status from the provider, 0 when not applicable.
//   - Message: human-readable detail.
//   - Retryable: whether a retry loop may try again.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s returned status %d: %s", e.Kind, e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Provider, e.Message)
}

// StorageError describes a failed article store, vector index, or memory
// store operation.
type StorageError struct {
	Kind      ErrorKind
	Component string
	Message   string
	Err       error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Component, e.Message)
}

func (e *StorageError) Unwrap() error { return e.Err }

// BusyError marks a serialization conflict: a second pipeline run for one
// user, or a second turn against a session with one in flight.
type BusyError struct {
	Kind     ErrorKind
	Resource string
	ID       string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s: %s %s has a request in flight", e.Kind, e.Resource, e.ID)
}

// NotFoundError marks an absent entity.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %s not found", KindNotFound, e.Resource, e.ID)
}

// =============================================================================
// Classification Helpers
// =============================================================================

// KindOf extracts the taxonomy kind from any error in the chain.
// Untagged errors classify as Internal; context errors classify as
// Cancelled / DeadlineExceeded.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind
	}
	var be *BusyError
	if errors.As(err, &be) {
		return be.Kind
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return KindNotFound
	}
	if errors.Is(err, ErrContextOverflow) {
		return KindContextOverflow
	}
	if errors.Is(err, ErrUnstructuredOutput) {
		return KindUnstructuredOutput
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindDeadlineExceeded
	}
	return KindInternal
}

// Sentinels for the two LLM-shape failures that need errors.Is checks
// across package boundaries.
var (
	ErrContextOverflow    = errors.New("prompt exceeds model context window")
	ErrUnstructuredOutput = errors.New("model output failed schema validation after repair")
)

// IsRetryable reports whether a retry loop may attempt the operation
// again. Only transient provider failures qualify.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// HTTPStatusForKind maps a taxonomy kind to its HTTP status code.
func HTTPStatusForKind(kind ErrorKind) int {
	switch kind {
	case KindValidation, KindInvalidResponse, KindContextOverflow:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindSessionBusy, KindBusyRetry, KindProviderRateLimited:
		return http.StatusTooManyRequests
	case KindProviderUnavailable, KindUnstructuredOutput:
		return http.StatusBadGateway
	case KindStoreUnavailable, KindIndexUnavailable:
		return http.StatusServiceUnavailable
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
