// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// database queries, key-value store keys, or time-series queries. Using these
// validators prevents injection attacks (Flux injection, filter injection, key
// traversal).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// topicPattern matches valid trend topic names.
// Allows: lowercase letters, digits, dots, hyphens, underscores
// Max length: 64 characters
var topicPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,63}$`)

// userIDPattern matches valid user identifiers.
// Allows: letters, digits, dots, hyphens, underscores, at-signs (email-style IDs)
// Max length: 128 characters
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@\-]{0,127}$`)

// categoryPattern matches valid news category names.
// Allows: lowercase letters and hyphens (e.g., "technology", "world-news")
// Max length: 48 characters
var categoryPattern = regexp.MustCompile(`^[a-z][a-z\-]{0,47}$`)

// ValidateTopic validates a trend topic name to prevent Flux injection.
//
// Valid topics:
//   - 1-64 characters
//   - Lowercase letters a-z
//   - Digits 0-9
//   - Dots (.), underscores (_), hyphens (-)
//
// Returns an error if the topic is invalid.
//
// Example:
//
//	if err := validation.ValidateTopic(topic); err != nil {
//	    return nil, fmt.Errorf("invalid topic: %w", err)
//	}
//	// Safe to use in Flux query
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}

	if !topicPattern.MatchString(topic) {
		return fmt.Errorf("invalid topic format: %q (must be 1-64 lowercase alphanumeric chars, dots, underscores, or hyphens)", topic)
	}

	return nil
}

// SanitizeTopic normalizes and validates a trend topic.
// Returns the lowercase topic if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	safeTopic, err := validation.SanitizeTopic(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeTopic is lowercase and validated
func SanitizeTopic(topic string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(topic))
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if err := ValidateTopic(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateUserID validates a user identifier before it is used in
// key-value store keys or database filters.
//
// Valid user IDs:
//   - 1-128 characters
//   - Letters, digits, dots, underscores, at-signs, hyphens
//   - Must start with a letter or digit
//
// Returns an error if the user ID is invalid.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}

	if !userIDPattern.MatchString(userID) {
		return fmt.Errorf("invalid user id format: %q (must be 1-128 alphanumeric chars, dots, underscores, at-signs, or hyphens)", userID)
	}

	return nil
}

// ValidateCategory validates a news category name before it is used
// in database filters.
//
// Valid categories:
//   - 1-48 characters
//   - Lowercase letters and hyphens
//   - Must start with a letter
//
// Returns an error if the category is invalid.
func ValidateCategory(category string) error {
	if category == "" {
		return fmt.Errorf("category cannot be empty")
	}

	if !categoryPattern.MatchString(category) {
		return fmt.Errorf("invalid category format: %q (must be 1-48 lowercase letters or hyphens)", category)
	}

	return nil
}

// ValidateCategories validates multiple category names.
// Returns an error listing all invalid categories if any fail validation.
func ValidateCategories(categories []string) error {
	var invalid []string
	for _, c := range categories {
		if err := ValidateCategory(c); err != nil {
			invalid = append(invalid, c)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid categories: %v", invalid)
	}
	return nil
}
