// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dialogue implements the retrieval-augmented chat surface:
// session and turn persistence, strict per-session turn serialization,
// prompt assembly with numbered citations, and history pruning.
package dialogue

import (
	"context"
	"crypto/sha256"
	"sort"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.newswire.dialogue")

// Turn kinds. A summary turn is the synthetic system note that replaces
// pruned history.
const (
	TurnKindExchange = "turn"
	TurnKindSummary  = "summary"
)

// SummaryPending is the placeholder summary until the async first-turn
// summarization lands.
const SummaryPending = "Summary pending..."

const (
	sessionOpTimeout = 10 * time.Second

	// maxSessionList caps GET /v1/sessions.
	maxSessionList = 100

	// maxTurnsFetch caps a single history load; the turn cap keeps real
	// sessions well under this.
	maxTurnsFetch = 200
)

// Turn is one persisted exchange (or summary note) within a session.
type Turn struct {
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Kind      string    `json:"kind"`
	Ordinal   int       `json:"ordinal"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStore persists dialogue sessions and their turns.
type SessionStore interface {
	// Create inserts a fresh session and returns its metadata.
	Create(ctx context.Context, userID, runID string) (*datatypes.SessionInfo, error)

	// Get returns session metadata, or NotFound.
	Get(ctx context.Context, sessionID string) (*datatypes.SessionInfo, error)

	// List returns sessions newest-activity first, optionally filtered
	// by user.
	List(ctx context.Context, userID string, limit int) ([]datatypes.SessionInfo, error)

	// AppendTurn writes one turn and bumps the session's turn count and
	// last-activity.
	AppendTurn(ctx context.Context, turn *Turn) error

	// Turns returns the session's turns in ordinal order.
	Turns(ctx context.Context, sessionID string) ([]Turn, error)

	// ReplaceOldest deletes every turn with ordinal < cutoff and writes
	// a single summary turn in their place.
	ReplaceOldest(ctx context.Context, sessionID string, cutoff int, summary string) error

	// SetSummary updates the session's summary text.
	SetSummary(ctx context.Context, sessionID, summary string) error

	// Delete removes the session and all its turns, returning how many
	// turns were deleted.
	Delete(ctx context.Context, sessionID string) (int, error)
}

// SessionUUID derives the deterministic object id for a session.
func SessionUUID(sessionID string) strfmt.UUID {
	hash := sha256.Sum256([]byte("session\x1f" + sessionID))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// TurnUUID derives the deterministic object id for a turn, keyed by
// session and ordinal so re-writes are idempotent.
func TurnUUID(sessionID string, ordinal int) strfmt.UUID {
	hash := sha256.Sum256([]byte("turn\x1f" + sessionID + "\x1f" + strconv.Itoa(ordinal)))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// sessionFields are the properties fetched on every session query.
var sessionFields = []graphql.Field{
	{Name: "session_id"},
	{Name: "user_id"},
	{Name: "summary"},
	{Name: "run_id"},
	{Name: "timestamp"},
	{Name: "last_activity"},
	{Name: "turn_count"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
	}},
}

var turnFields = []graphql.Field{
	{Name: "session_id"},
	{Name: "question"},
	{Name: "answer"},
	{Name: "kind"},
	{Name: "ordinal"},
	{Name: "timestamp"},
}

// WeaviateSessionStore implements SessionStore on the ChatSession and
// ChatTurn classes.
//
// # Thread Safety
//
// Safe for concurrent use; the dialogue manager serializes writes per
// session above this layer.
type WeaviateSessionStore struct {
	client  *weaviate.Client
	timeout time.Duration
	now     func() time.Time
}

var _ SessionStore = (*WeaviateSessionStore)(nil)

// NewWeaviateSessionStore creates the session store. A zero timeout
// selects the 10 s default.
func NewWeaviateSessionStore(client *weaviate.Client, timeout time.Duration) *WeaviateSessionStore {
	if timeout <= 0 {
		timeout = sessionOpTimeout
	}
	return &WeaviateSessionStore{client: client, timeout: timeout, now: time.Now}
}

// Create inserts a fresh session with a pending summary.
func (s *WeaviateSessionStore) Create(ctx context.Context, userID, runID string) (*datatypes.SessionInfo, error) {
	ctx, span := tracer.Start(ctx, "CreateSession")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sessionID := uuid.New().String()
	now := s.now().UTC()
	props := datatypes.ChatSessionProperties{
		SessionID:    sessionID,
		UserID:       userID,
		Summary:      SummaryPending,
		RunID:        runID,
		Timestamp:    now.UnixMilli(),
		LastActivity: now.UnixMilli(),
	}
	_, err := s.client.Data().Creator().
		WithClassName(datatypes.ClassChatSession).
		WithID(string(SessionUUID(sessionID))).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session create failed")
		return nil, &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "session-store",
			Message: "session create failed", Err: err,
		}
	}
	span.SetAttributes(attribute.String("session.id", sessionID))
	return &datatypes.SessionInfo{
		SessionID:    sessionID,
		UserID:       userID,
		Summary:      SummaryPending,
		RunID:        runID,
		LastActivity: now,
	}, nil
}

// Get returns session metadata by session id.
func (s *WeaviateSessionStore) Get(ctx context.Context, sessionID string) (*datatypes.SessionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueText(sessionID)

	resp, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassChatSession).
		WithFields(sessionFields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "session-store",
			Message: "session lookup failed", Err: err,
		}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatSessionQueryResponse](resp)
	if err != nil {
		return nil, &datatypes.StorageError{
			Kind: datatypes.KindInvalidResponse, Component: "session-store",
			Message: "unparseable session response", Err: err,
		}
	}
	if len(parsed.Get.ChatSession) == 0 {
		return nil, &datatypes.NotFoundError{Resource: "session", ID: sessionID}
	}
	info := parsed.Get.ChatSession[0].ToSessionInfo()
	return &info, nil
}

// List returns sessions sorted by last activity descending.
func (s *WeaviateSessionStore) List(ctx context.Context, userID string, limit int) ([]datatypes.SessionInfo, error) {
	ctx, span := tracer.Start(ctx, "ListSessions")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 || limit > maxSessionList {
		limit = maxSessionList
	}

	query := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassChatSession).
		WithFields(sessionFields...).
		WithSort(graphql.Sort{Path: []string{"last_activity"}, Order: graphql.Desc}).
		WithLimit(limit)
	if userID != "" {
		query = query.WithWhere(filters.Where().
			WithPath([]string{"user_id"}).
			WithOperator(filters.Equal).
			WithValueText(userID))
	}

	resp, err := query.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session list failed")
		return nil, &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "session-store",
			Message: "session list failed", Err: err,
		}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatSessionQueryResponse](resp)
	if err != nil {
		return nil, &datatypes.StorageError{
			Kind: datatypes.KindInvalidResponse, Component: "session-store",
			Message: "unparseable session list response", Err: err,
		}
	}
	sessions := make([]datatypes.SessionInfo, 0, len(parsed.Get.ChatSession))
	for i := range parsed.Get.ChatSession {
		sessions = append(sessions, parsed.Get.ChatSession[i].ToSessionInfo())
	}
	return sessions, nil
}

// AppendTurn writes the turn and refreshes the session's activity
// metadata.
func (s *WeaviateSessionStore) AppendTurn(ctx context.Context, turn *Turn) error {
	ctx, span := tracer.Start(ctx, "AppendTurn")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", turn.SessionID),
		attribute.Int("turn.ordinal", turn.Ordinal),
	)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	props := datatypes.ChatTurnProperties{
		SessionID: turn.SessionID,
		Question:  turn.Question,
		Answer:    turn.Answer,
		Kind:      turn.Kind,
		Ordinal:   turn.Ordinal,
		Timestamp: turn.Timestamp.UnixMilli(),
	}
	_, err := s.client.Data().Creator().
		WithClassName(datatypes.ClassChatTurn).
		WithID(string(TurnUUID(turn.SessionID, turn.Ordinal))).
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn append failed")
		return &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "session-store",
			Message: "turn append failed", Err: err,
		}
	}

	err = s.client.Data().Updater().
		WithClassName(datatypes.ClassChatSession).
		WithID(string(SessionUUID(turn.SessionID))).
		WithProperties(map[string]interface{}{
			"last_activity": turn.Timestamp.UnixMilli(),
			"turn_count":    turn.Ordinal + 1,
		}).
		WithMerge().
		Do(ctx)
	if err != nil {
		return &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "session-store",
			Message: "session activity update failed", Err: err,
		}
	}
	return nil
}

// Turns returns the session's turns sorted by ordinal.
func (s *WeaviateSessionStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueText(sessionID)

	resp, err := s.client.GraphQL().Get().
		WithClassName(datatypes.ClassChatTurn).
		WithFields(turnFields...).
		WithWhere(where).
		WithLimit(maxTurnsFetch).
		Do(ctx)
	if err != nil {
		return nil, &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "session-store",
			Message: "turn load failed", Err: err,
		}
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChatTurnQueryResponse](resp)
	if err != nil {
		return nil, &datatypes.StorageError{
			Kind: datatypes.KindInvalidResponse, Component: "session-store",
			Message: "unparseable turn response", Err: err,
		}
	}

	turns := make([]Turn, 0, len(parsed.Get.ChatTurn))
	for i := range parsed.Get.ChatTurn {
		r := &parsed.Get.ChatTurn[i]
		turns = append(turns, Turn{
			SessionID: r.SessionID,
			Question:  r.Question,
			Answer:    r.Answer,
			Kind:      r.Kind,
			Ordinal:   r.Ordinal,
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		})
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Ordinal < turns[j].Ordinal })
	return turns, nil
}

// ReplaceOldest prunes turns below the cutoff ordinal and writes the
// summary note at ordinal cutoff-1, so ordering places it just before
// the preserved tail.
func (s *WeaviateSessionStore) ReplaceOldest(ctx context.Context, sessionID string, cutoff int, summary string) error {
	ctx, span := tracer.Start(ctx, "ReplaceOldest")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("turn.cutoff", cutoff),
	)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"session_id"}).
				WithOperator(filters.Equal).
				WithValueText(sessionID),
			filters.Where().
				WithPath([]string{"ordinal"}).
				WithOperator(filters.LessThan).
				WithValueInt(int64(cutoff)),
		})

	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.ClassChatTurn).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn prune failed")
		return &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "session-store",
			Message: "turn prune failed", Err: err,
		}
	}

	note := datatypes.ChatTurnProperties{
		SessionID: sessionID,
		Answer:    summary,
		Kind:      TurnKindSummary,
		Ordinal:   cutoff - 1,
		Timestamp: s.now().UTC().UnixMilli(),
	}
	_, err = s.client.Data().Creator().
		WithClassName(datatypes.ClassChatTurn).
		WithID(string(TurnUUID(sessionID, cutoff-1))).
		WithProperties(note.ToMap()).
		Do(ctx)
	if err != nil {
		return &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "session-store",
			Message: "summary note write failed", Err: err,
		}
	}
	return nil
}

// SetSummary updates the session's summary text.
func (s *WeaviateSessionStore) SetSummary(ctx context.Context, sessionID, summary string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.client.Data().Updater().
		WithClassName(datatypes.ClassChatSession).
		WithID(string(SessionUUID(sessionID))).
		WithProperties(map[string]interface{}{"summary": summary}).
		WithMerge().
		Do(ctx)
	if err != nil {
		return &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "session-store",
			Message: "summary update failed", Err: err,
		}
	}
	return nil
}

// Delete cascades: turns first, then the session object, so a failure
// between the two never orphans turns.
func (s *WeaviateSessionStore) Delete(ctx context.Context, sessionID string) (int, error) {
	ctx, span := tracer.Start(ctx, "DeleteSession")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueText(sessionID)

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.ClassChatTurn).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn cascade delete failed")
		return 0, &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "session-store",
			Message: "turn cascade delete failed", Err: err,
		}
	}
	deleted := 0
	if resp != nil && resp.Results != nil {
		deleted = int(resp.Results.Successful)
	}

	err = s.client.Data().Deleter().
		WithClassName(datatypes.ClassChatSession).
		WithID(string(SessionUUID(sessionID))).
		Do(ctx)
	if err != nil {
		return deleted, &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "session-store",
			Message: "session delete failed", Err: err,
		}
	}
	return deleted, nil
}
