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

// APIError is the error half of the response envelope.
type APIError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// APIResponse is the uniform JSON envelope for every HTTP response.
//
// Success responses carry Data and optionally Warnings (for partial
// successes naming degraded stages). Failure responses carry the single
// most specific error kind.
type APIResponse struct {
	Success  bool        `json:"success"`
	Data     interface{} `json:"data,omitempty"`
	Error    *APIError   `json:"error,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

// OK wraps data in a success envelope.
func OK(data interface{}) APIResponse {
	return APIResponse{Success: true, Data: data}
}

// OKWithWarnings wraps data in a success envelope carrying degradation
// warnings.
func OKWithWarnings(data interface{}, warnings []string) APIResponse {
	return APIResponse{Success: true, Data: data, Warnings: warnings}
}

// Fail builds a failure envelope from a taxonomy kind and message.
func Fail(kind ErrorKind, message string) APIResponse {
	return APIResponse{Success: false, Error: &APIError{Kind: kind, Message: message}}
}

// FailFromError classifies err and builds the failure envelope. Internal
// errors are masked; the detail stays in the server log.
func FailFromError(err error) APIResponse {
	kind := KindOf(err)
	msg := err.Error()
	if kind == KindInternal {
		msg = "internal error"
	}
	return Fail(kind, msg)
}
