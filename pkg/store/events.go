package store

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Retention caps. Old rows are pruned on insert, keeping the tables bounded
// without a background sweeper.
const (
	maxStatusEvents      = 500
	maxGenerationHistory = 1000
)

// StatusEvent is one entry of the daemon's append-only event log. IDs are
// ULIDs, so lexical order is creation order.
type StatusEvent struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt int64          `json:"created_at"`
}

// ulidEntropy is monotonic so IDs minted within the same millisecond still
// sort in insertion order. Only called under the store mutex.
var ulidEntropy = ulid.Monotonic(crand.Reader, 0)

func newULID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// AppendEvent records a status event and prunes beyond the retention cap.
func (s *Store) AppendEvent(ctx context.Context, eventType string, payload map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payload == nil {
		payload = map[string]any{}
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode event payload: %w", err)
	}
	id := newULID()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO status_events (id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		id, eventType, string(blob), nowMilli()); err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM status_events WHERE id NOT IN (
			SELECT id FROM status_events ORDER BY id DESC LIMIT ?)`,
		maxStatusEvents); err != nil {
		return "", fmt.Errorf("prune events: %w", err)
	}
	return id, nil
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]StatusEvent, error) {
	if limit <= 0 || limit > maxStatusEvents {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, payload, created_at
		FROM status_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	defer rows.Close()

	events := []StatusEvent{}
	for rows.Next() {
		var ev StatusEvent
		var blob string
		if err := rows.Scan(&ev.ID, &ev.EventType, &blob, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("recent events: %w", err)
		}
		if err := json.Unmarshal([]byte(blob), &ev.Payload); err != nil {
			ev.Payload = map[string]any{}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GenerationRecord is one completed task execution kept for history views.
type GenerationRecord struct {
	ID         string         `json:"id"`
	PipelineID string         `json:"pipeline_id,omitempty"`
	TaskType   string         `json:"task_type"`
	Params     map[string]any `json:"parameters,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Success    bool           `json:"success"`
	DurationMS int64          `json:"duration_ms"`
	CreatedAt  int64          `json:"created_at"`
}

// RecordGeneration appends a generation-history row and prunes beyond the
// retention cap.
func (s *Store) RecordGeneration(ctx context.Context, rec GenerationRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	params, err := json.Marshal(rec.Params)
	if err != nil {
		return "", fmt.Errorf("encode generation params: %w", err)
	}
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return "", fmt.Errorf("encode generation result: %w", err)
	}
	id := rec.ID
	if id == "" {
		id = newULID()
	}
	success := 0
	if rec.Success {
		success = 1
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_history (id, pipeline_id, task_type, parameters, result, success, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.PipelineID, rec.TaskType, string(params), string(result),
		success, rec.DurationMS, nowMilli()); err != nil {
		return "", fmt.Errorf("record generation: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM generation_history WHERE id NOT IN (
			SELECT id FROM generation_history ORDER BY id DESC LIMIT ?)`,
		maxGenerationHistory); err != nil {
		return "", fmt.Errorf("prune generation history: %w", err)
	}
	return id, nil
}
