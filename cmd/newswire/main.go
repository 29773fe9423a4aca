// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command newswire starts the news pipeline and dialogue HTTP server.
//
// # Environment Variables
//
//   - NEWSWIRE_PORT: HTTP server port (default: 12310)
//   - LLM_BACKEND_TYPE: LLM provider - local, openai, ollama, claude, gemini (default: local)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (required)
//   - EMBEDDING_SERVICE_URL: embedding sidecar URL
//   - SERPAPI_API_KEY: news search provider key (required)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - NEWSWIRE_MEMORY_DB: user-memory BadgerDB path (default: ./data/memory)
//   - NEWSWIRE_RUN_DB: run-record BadgerDB path (default: ./data/runs)
//   - NEWSWIRE_RUN_TTL_HOURS: run retention (default: 168)
//   - NEWSWIRE_SESSION_TTL_HOURS: idle-session retention (default: 168)
//   - INFLUXDB_URL / INFLUXDB_TOKEN / INFLUXDB_ORG / INFLUXDB_BUCKET: topic trends (optional)
//   - NEWSWIRE_ARCHIVE_BUCKET: GCS bucket for run archival (optional)
//   - NEWSWIRE_LEXICON_PATH: sentiment lexicon file to hot-reload (optional)
//   - NEWSWIRE_ALLOWED_ORIGINS: CORS allowlist, comma-separated (optional)
//
// # Usage
//
//	# Build
//	go build -o newswire ./cmd/newswire
//
//	# Run
//	./newswire
//
//	# Or via container
//	podman-compose up newswire
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := newswire.Config{
		Port:           getEnvInt("NEWSWIRE_PORT", 12310),
		LLMBackend:     getEnvString("LLM_BACKEND_TYPE", "local"),
		WeaviateURL:    os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint:   getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
		MemoryDBPath:   getEnvString("NEWSWIRE_MEMORY_DB", "./data/memory"),
		RunDBPath:      getEnvString("NEWSWIRE_RUN_DB", "./data/runs"),
		RunTTL:         time.Duration(getEnvInt("NEWSWIRE_RUN_TTL_HOURS", 168)) * time.Hour,
		SessionTTL:     time.Duration(getEnvInt("NEWSWIRE_SESSION_TTL_HOURS", 168)) * time.Hour,
		InfluxURL:      os.Getenv("INFLUXDB_URL"),
		InfluxToken:    os.Getenv("INFLUXDB_TOKEN"),
		InfluxOrg:      os.Getenv("INFLUXDB_ORG"),
		InfluxBucket:   os.Getenv("INFLUXDB_BUCKET"),
		ArchiveBucket:  os.Getenv("NEWSWIRE_ARCHIVE_BUCKET"),
		LexiconPath:    os.Getenv("NEWSWIRE_LEXICON_PATH"),
		AllowedOrigins: os.Getenv("NEWSWIRE_ALLOWED_ORIGINS"),
	}

	slog.Info("Starting newswire",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := newswire.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create newswire service: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Newswire error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
