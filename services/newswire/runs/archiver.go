// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const archiveTimeout = 30 * time.Second

// Archiver mirrors completed run records to a GCS bucket so they
// outlive the run store's TTL. Objects land under
// runs/<YYYY-MM-DD>/<run-id>.json, dated by the run's start time.
//
// # Thread Safety
//
// Safe for concurrent use.
type Archiver struct {
	bucket *storage.BucketHandle
	close  func() error
}

// NewArchiver creates an archiver against the named bucket using
// application-default credentials.
func NewArchiver(ctx context.Context, bucketName string) (*Archiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Archiver{bucket: client.Bucket(bucketName), close: client.Close}, nil
}

// Close releases the underlying client.
func (a *Archiver) Close() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}

// Archive uploads one run record. Failures are reported, not retried;
// the run store copy remains authoritative until its TTL.
func (a *Archiver) Archive(ctx context.Context, run *datatypes.PipelineRun) error {
	ctx, span := tracer.Start(ctx, "ArchiveRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", run.RunID))

	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.RunID, err)
	}

	name := fmt.Sprintf("runs/%s/%s.json", run.StartedAt.UTC().Format("2006-01-02"), run.RunID)
	w := a.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "archive write failed")
		return fmt.Errorf("write archive object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "archive close failed")
		return fmt.Errorf("finalize archive object %s: %w", name, err)
	}
	slog.Debug("Run archived", "runId", run.RunID, "object", name)
	return nil
}
