// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory keeps per-user behavior memory: an append-only
// interaction log and the profile derived from it (interest vector,
// category weights, counters). Storage is an embedded BadgerDB; derived
// state is maintained incrementally and can be rebuilt from the log.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/llm"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	badger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.newswire.memory")

const (
	profileKeyPrefix     = "profile/"
	interactionKeyPrefix = "interaction/"

	// embedBatchSize caps texts per embedding call during derived-state
	// updates and rebuilds.
	embedBatchSize = 32

	// deleteChunkSize bounds deletions per transaction so Clear never
	// trips badger's transaction size limit.
	deleteChunkSize = 1000
)

// Store is the user-memory interface the pipeline, dialogue engine,
// and HTTP surface depend on.
type Store interface {
	// Record appends one interaction to the user's log and bumps the
	// profile counters. Derived fields are not touched; call
	// UpdateDerived to fold pending entries in.
	Record(ctx context.Context, rec *datatypes.InteractionRecord) error

	// GetProfile returns the user's profile with category weights
	// normalized so the largest is 1. Unknown users get a default
	// profile (personalization 0.5) without persisting it.
	GetProfile(ctx context.Context, userID string) (*datatypes.UserProfile, error)

	// UpdateDerived folds interactions recorded since the last update
	// into the interest vector and category weights.
	UpdateDerived(ctx context.Context, userID string) error

	// Rebuild recomputes the derived fields and counters from the full
	// interaction log. The result matches incremental maintenance
	// within floating-point tolerance.
	Rebuild(ctx context.Context, userID string) error

	// Clear removes the user's profile and entire interaction log.
	Clear(ctx context.Context, userID string) error

	// UpdateSettings replaces the caller-settable profile fields (style
	// preferences, preferred sources) and returns the updated profile.
	UpdateSettings(ctx context.Context, userID string, req *datatypes.ProfileUpdateRequest) (*datatypes.UserProfile, error)
}

// Config tunes the derived-field computation.
type Config struct {
	// HalfLife is the interaction decay half-life. Default 14 days.
	HalfLife time.Duration

	// ActionWeights overrides the per-action base weights. Default
	// query 1.0, view 0.3, like 1.5, share 1.2, dwell 0.4,
	// dialogue-turn 0.8.
	ActionWeights map[datatypes.InteractionAction]float64
}

// BadgerMemory implements Store on an embedded BadgerDB.
//
// # Description
//
// Keys are `profile/<user>` and `interaction/<user>/<ts-nanos>` with
// zero-padded nanos so a prefix scan yields the log in time order. A
// per-user mutex serializes writers; readers go straight to badger.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerMemory struct {
	db       *badger.DB
	embedder llm.EmbeddingClient
	cfg      Config

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
	lastNano  map[string]int64

	now func() time.Time
}

var _ Store = (*BadgerMemory)(nil)

// NewBadgerMemory creates the store. The embedder is used to vectorize
// interaction texts for the interest vector; zero-valued Config fields
// select the defaults.
func NewBadgerMemory(db *badger.DB, embedder llm.EmbeddingClient, cfg Config) *BadgerMemory {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultHalfLife
	}
	if cfg.ActionWeights == nil {
		cfg.ActionWeights = DefaultActionWeights()
	}
	return &BadgerMemory{
		db:        db,
		embedder:  embedder,
		cfg:       cfg,
		userLocks: make(map[string]*sync.Mutex),
		lastNano:  make(map[string]int64),
		now:       time.Now,
	}
}

// lockUser returns the mutex serializing writes for one user.
func (m *BadgerMemory) lockUser(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.userLocks[userID] = lock
	}
	return lock
}

// nextNano returns a strictly increasing nano timestamp for the user's
// log keys. Caller must hold the user lock.
func (m *BadgerMemory) nextNano(userID string, ts time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	nano := ts.UnixNano()
	if nano <= m.lastNano[userID] {
		nano = m.lastNano[userID] + 1
	}
	m.lastNano[userID] = nano
	return nano
}

func profileKey(userID string) []byte {
	return []byte(profileKeyPrefix + userID)
}

func interactionKey(userID string, nano int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%019d", interactionKeyPrefix, userID, nano))
}

func interactionPrefix(userID string) []byte {
	return []byte(interactionKeyPrefix + userID + "/")
}

// Record appends one interaction and bumps the profile counters.
func (m *BadgerMemory) Record(ctx context.Context, rec *datatypes.InteractionRecord) error {
	ctx, span := tracer.Start(ctx, "Record")
	defer span.End()
	span.SetAttributes(attribute.String("memory.action", string(rec.Action)))

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	lock := m.lockUser(rec.UserID)
	lock.Lock()
	defer lock.Unlock()

	now := m.now()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	// Keys order by arrival so caller-supplied timestamps can never
	// land behind the derived-state high-water mark.
	nano := m.nextNano(rec.UserID, now)

	profile, err := m.loadProfile(rec.UserID)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = defaultProfile(rec.UserID)
		profile.CreatedAt = now
		profile.UpdatedAt = now
	}
	countAction(profile, rec.Action)

	recData, err := json.Marshal(rec)
	if err != nil {
		return storageErr("marshal interaction", err)
	}
	profileData, err := json.Marshal(profile)
	if err != nil {
		return storageErr("marshal profile", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(interactionKey(rec.UserID, nano), recData); err != nil {
			return err
		}
		return txn.Set(profileKey(rec.UserID), profileData)
	})
	if err != nil {
		span.RecordError(err)
		return storageErr("append interaction", err)
	}
	return nil
}

// GetProfile returns the profile with normalized category weights.
func (m *BadgerMemory) GetProfile(ctx context.Context, userID string) (*datatypes.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profile, err := m.loadProfile(userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return defaultProfile(userID), nil
	}
	profile.CategoryWeights = normalizeWeights(profile.CategoryWeights)
	return profile, nil
}

// UpdateDerived folds interactions newer than DerivedThrough into the
// derived fields.
func (m *BadgerMemory) UpdateDerived(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "UpdateDerived")
	defer span.End()

	lock := m.lockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	profile, err := m.loadProfile(userID)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}

	afterNano := int64(-1)
	if !profile.DerivedThrough.IsZero() {
		afterNano = profile.DerivedThrough.UnixNano()
	}
	pending, err := m.scanInteractions(userID, afterNano)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	span.SetAttributes(attribute.Int("memory.pending", len(pending)))

	embeddings, err := m.embedTexts(ctx, records(pending))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "interaction embedding failed")
		return err
	}

	state := stateFromProfile(profile)
	state.rebase(m.now(), m.cfg.HalfLife)
	for i := range pending {
		state.fold(&pending[i].Record, embeddings[i], m.cfg.ActionWeights, m.cfg.HalfLife)
	}
	state.applyToProfile(profile)
	profile.DerivedThrough = time.Unix(0, pending[len(pending)-1].KeyNano).UTC()

	return m.saveProfile(profile)
}

// Rebuild recomputes derived fields and counters from the full log.
func (m *BadgerMemory) Rebuild(ctx context.Context, userID string) error {
	ctx, span := tracer.Start(ctx, "Rebuild")
	defer span.End()

	lock := m.lockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	profile, err := m.loadProfile(userID)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = defaultProfile(userID)
		profile.CreatedAt = m.now()
	}

	log, err := m.scanInteractions(userID, -1)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("memory.log_size", len(log)))

	embeddings, err := m.embedTexts(ctx, records(log))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "interaction embedding failed")
		return err
	}

	profile.Counters = datatypes.ProfileCounters{}
	state := newDerivedState(m.now())
	for i := range log {
		countAction(profile, log[i].Record.Action)
		state.fold(&log[i].Record, embeddings[i], m.cfg.ActionWeights, m.cfg.HalfLife)
	}
	state.applyToProfile(profile)
	if len(log) > 0 {
		profile.DerivedThrough = time.Unix(0, log[len(log)-1].KeyNano).UTC()
	} else {
		profile.DerivedThrough = time.Time{}
	}

	slog.Info("Rebuilt user memory", "user_id", userID, "interactions", len(log))
	return m.saveProfile(profile)
}

// Clear removes the profile and the whole interaction log.
func (m *BadgerMemory) Clear(ctx context.Context, userID string) error {
	_, span := tracer.Start(ctx, "Clear")
	defer span.End()

	lock := m.lockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	keys, err := m.collectKeys(interactionPrefix(userID))
	if err != nil {
		return err
	}
	keys = append(keys, profileKey(userID))

	for start := 0; start < len(keys); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]
		err := m.db.Update(func(txn *badger.Txn) error {
			for _, key := range chunk {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			span.RecordError(err)
			return storageErr("clear user memory", err)
		}
	}

	m.mu.Lock()
	delete(m.lastNano, userID)
	m.mu.Unlock()

	slog.Info("Cleared user memory", "user_id", userID, "keys", len(keys))
	return nil
}

// UpdateSettings replaces the caller-settable profile fields.
func (m *BadgerMemory) UpdateSettings(ctx context.Context, userID string, req *datatypes.ProfileUpdateRequest) (*datatypes.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	lock := m.lockUser(userID)
	lock.Lock()
	defer lock.Unlock()

	profile, err := m.loadProfile(userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		profile = defaultProfile(userID)
		profile.CreatedAt = m.now()
		profile.UpdatedAt = profile.CreatedAt
	}
	if req.Style != nil {
		profile.Style = *req.Style
	}
	if req.PreferredSources != nil {
		profile.PreferredSources = req.PreferredSources
	}

	if err := m.saveProfile(profile); err != nil {
		return nil, err
	}

	view := *profile
	view.CategoryWeights = normalizeWeights(profile.CategoryWeights)
	return &view, nil
}

// defaultProfile is the unpersisted view for users with no stored state.
func defaultProfile(userID string) *datatypes.UserProfile {
	return &datatypes.UserProfile{
		UserID: userID,
		Style:  datatypes.StylePreferences{PersonalizationLevel: 0.5},
	}
}

// loadProfile reads the raw stored profile, nil when absent.
func (m *BadgerMemory) loadProfile(userID string) (*datatypes.UserProfile, error) {
	var profile *datatypes.UserProfile
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			profile = &datatypes.UserProfile{}
			return json.Unmarshal(val, profile)
		})
	})
	if err != nil {
		return nil, storageErr("load profile", err)
	}
	return profile, nil
}

func (m *BadgerMemory) saveProfile(profile *datatypes.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return storageErr("marshal profile", err)
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(profileKey(profile.UserID), data)
	})
	if err != nil {
		return storageErr("save profile", err)
	}
	return nil
}

// storedInteraction pairs a log record with its key timestamp; the key
// nano is the derived-state high-water mark (record timestamps may be
// caller-supplied and out of key order).
type storedInteraction struct {
	Record  datatypes.InteractionRecord
	KeyNano int64
}

// records projects the record slice for batch embedding.
func records(stored []storedInteraction) []datatypes.InteractionRecord {
	out := make([]datatypes.InteractionRecord, len(stored))
	for i := range stored {
		out[i] = stored[i].Record
	}
	return out
}

// scanInteractions returns log entries whose key nano is strictly after
// afterNano, in key order. Pass -1 for the full log.
func (m *BadgerMemory) scanInteractions(userID string, afterNano int64) ([]storedInteraction, error) {
	prefix := interactionPrefix(userID)
	var scanned []storedInteraction

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefix
		if afterNano >= 0 {
			start = interactionKey(userID, afterNano+1)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			keyNano, err := parseKeyNano(item.Key(), prefix)
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				var rec datatypes.InteractionRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				scanned = append(scanned, storedInteraction{Record: rec, KeyNano: keyNano})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("scan interactions", err)
	}
	return scanned, nil
}

// parseKeyNano extracts the zero-padded nano suffix from a log key.
func parseKeyNano(key, prefix []byte) (int64, error) {
	suffix := string(key[len(prefix):])
	nano, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed interaction key %q: %w", key, err)
	}
	return nano, nil
}

// collectKeys returns copies of all keys under a prefix.
func (m *BadgerMemory) collectKeys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("scan keys", err)
	}
	return keys, nil
}

// embedTexts returns an embedding per record, index-aligned; records
// without text get nil. Calls the embedder in batches.
func (m *BadgerMemory) embedTexts(ctx context.Context, records []datatypes.InteractionRecord) ([][]float32, error) {
	embeddings := make([][]float32, len(records))

	var texts []string
	var positions []int
	for i := range records {
		if records[i].Text != "" {
			texts = append(texts, records[i].Text)
			positions = append(positions, i)
		}
	}

	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := m.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for i, vec := range vectors {
			embeddings[positions[start+i]] = vec
		}
	}
	return embeddings, nil
}

func storageErr(message string, err error) error {
	return &datatypes.StorageError{
		Kind:      datatypes.KindStoreUnavailable,
		Component: "user-memory",
		Message:   message,
		Err:       err,
	}
}
