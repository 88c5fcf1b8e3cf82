package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opencli/daemon/pkg/pipeline"
)

// PipelineSummary is the list-view projection of a stored pipeline.
type PipelineSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// SavePipeline inserts or replaces a pipeline. CreatedAt is preserved on
// update; UpdatedAt always moves forward.
func (s *Store) SavePipeline(ctx context.Context, def *pipeline.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMilli()
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM pipelines WHERE id = ?`, def.ID).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		createdAt = now
	case err != nil:
		return fmt.Errorf("save pipeline %s: %w", def.ID, err)
	}
	def.CreatedAt = createdAt
	def.UpdatedAt = now

	blob, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode pipeline %s: %w", def.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			updated_at = excluded.updated_at`,
		def.ID, def.Name, string(blob), createdAt, now)
	if err != nil {
		return fmt.Errorf("save pipeline %s: %w", def.ID, err)
	}
	return nil
}

// GetPipeline loads one pipeline by id.
func (s *Store) GetPipeline(ctx context.Context, id string) (*pipeline.Definition, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT definition FROM pipelines WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline %s: %w", id, err)
	}
	var def pipeline.Definition
	if err := json.Unmarshal([]byte(blob), &def); err != nil {
		return nil, fmt.Errorf("decode pipeline %s: %w", id, err)
	}
	return &def, nil
}

// ListPipelines returns summaries ordered by most recently updated.
func (s *Store) ListPipelines(ctx context.Context) ([]PipelineSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, definition, created_at, updated_at
		FROM pipelines ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	summaries := []PipelineSummary{}
	for rows.Next() {
		var sum PipelineSummary
		var blob string
		if err := rows.Scan(&sum.ID, &sum.Name, &blob, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list pipelines: %w", err)
		}
		var def pipeline.Definition
		if err := json.Unmarshal([]byte(blob), &def); err == nil {
			sum.NodeCount = len(def.Nodes)
			sum.EdgeCount = len(def.Edges)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// DeletePipeline removes one pipeline.
func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pipeline %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete pipeline %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
