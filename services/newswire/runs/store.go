// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runs persists pipeline run records for status polling and
// later inspection. Records live in BadgerDB under a 7-day TTL; an
// optional archiver mirrors completed runs to object storage before
// they expire.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	badgerdb "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.newswire.runs")

// DefaultTTL is how long a run record stays queryable.
const DefaultTTL = 7 * 24 * time.Hour

const runKeyPrefix = "run/"

// Store persists and retrieves pipeline runs.
type Store interface {
	// Save writes the run under its run id. Subsequent saves of the
	// same id overwrite, so in-progress runs can checkpoint status.
	Save(ctx context.Context, run *datatypes.PipelineRun) error

	// Get returns the run for the given id, or a NotFound error when it
	// never existed or its TTL expired.
	Get(ctx context.Context, runID string) (*datatypes.PipelineRun, error)
}

// BadgerRunStore implements Store on an embedded BadgerDB using native
// entry TTL for expiry.
//
// # Thread Safety
//
// Safe for concurrent use; badger transactions provide atomicity.
type BadgerRunStore struct {
	db  *badgerdb.DB
	ttl time.Duration
}

var _ Store = (*BadgerRunStore)(nil)

// NewBadgerRunStore wraps an open database. Zero ttl selects the 7-day
// default.
func NewBadgerRunStore(db *badgerdb.DB, ttl time.Duration) *BadgerRunStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BadgerRunStore{db: db, ttl: ttl}
}

// Save writes the run record with the store's TTL.
func (s *BadgerRunStore) Save(ctx context.Context, run *datatypes.PipelineRun) error {
	ctx, span := tracer.Start(ctx, "SaveRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", run.RunID))

	if run.RunID == "" {
		return &datatypes.StorageError{
			Kind: datatypes.KindValidation, Component: "run-store", Message: "run id is empty",
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.RunID, err)
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		entry := badgerdb.NewEntry([]byte(runKeyPrefix+run.RunID), payload).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run save failed")
		return &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "run-store",
			Message: "run save failed", Err: err,
		}
	}
	return nil
}

// Get loads a run record by id.
func (s *BadgerRunStore) Get(ctx context.Context, runID string) (*datatypes.PipelineRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var run datatypes.PipelineRun
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(runKeyPrefix + runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, &datatypes.NotFoundError{Resource: "run", ID: runID}
	}
	if err != nil {
		return nil, &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "run-store",
			Message: "run load failed", Err: err,
		}
	}
	return &run, nil
}
