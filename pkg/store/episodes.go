package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opencli/daemon/pkg/episode"
)

// SaveEpisode inserts or replaces an episode. CreatedAt is preserved on
// update.
func (s *Store) SaveEpisode(ctx context.Context, ep *episode.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMilli()
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM episodes WHERE id = ?`, ep.ID).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		createdAt = now
	case err != nil:
		return fmt.Errorf("save episode %s: %w", ep.ID, err)
	}
	ep.CreatedAt = createdAt
	ep.UpdatedAt = now
	if ep.Status == "" {
		ep.Status = episode.StatusDraft
	}

	script, err := json.Marshal(ep.Script)
	if err != nil {
		return fmt.Errorf("encode episode script %s: %w", ep.ID, err)
	}
	settings, err := json.Marshal(ep.Settings)
	if err != nil {
		return fmt.Errorf("encode episode settings %s: %w", ep.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, title, synopsis, script, settings, status, progress, output_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			synopsis = excluded.synopsis,
			script = excluded.script,
			settings = excluded.settings,
			status = excluded.status,
			progress = excluded.progress,
			output_path = excluded.output_path,
			updated_at = excluded.updated_at`,
		ep.ID, ep.Title, ep.Synopsis, string(script), string(settings),
		ep.Status, ep.Progress, ep.OutputPath, createdAt, now)
	if err != nil {
		return fmt.Errorf("save episode %s: %w", ep.ID, err)
	}
	return nil
}

// GetEpisode loads one episode by id.
func (s *Store) GetEpisode(ctx context.Context, id string) (*episode.Episode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, synopsis, script, settings, status, progress, output_path, created_at, updated_at
		FROM episodes WHERE id = ?`, id)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get episode %s: %w", id, err)
	}
	return ep, nil
}

// ListEpisodes returns all episodes, most recently updated first.
func (s *Store) ListEpisodes(ctx context.Context) ([]*episode.Episode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, synopsis, script, settings, status, progress, output_path, created_at, updated_at
		FROM episodes ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	episodes := []*episode.Episode{}
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("list episodes: %w", err)
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (*episode.Episode, error) {
	var ep episode.Episode
	var script, settings string
	if err := row.Scan(&ep.ID, &ep.Title, &ep.Synopsis, &script, &settings,
		&ep.Status, &ep.Progress, &ep.OutputPath, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(script), &ep.Script); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &ep.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &ep, nil
}

// UpdateEpisodeState updates the generation state of an episode without
// touching its script.
func (s *Store) UpdateEpisodeState(ctx context.Context, id, status string, progress float64, outputPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE episodes SET status = ?, progress = ?,
			output_path = CASE WHEN ? != '' THEN ? ELSE output_path END,
			updated_at = ?
		WHERE id = ?`,
		status, progress, outputPath, outputPath, nowMilli(), id)
	if err != nil {
		return fmt.Errorf("update episode %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update episode %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEpisode removes one episode; character references cascade.
func (s *Store) DeleteEpisode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete episode %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete episode %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CharacterReference is a named reference image attached to an episode.
type CharacterReference struct {
	ID        string         `json:"id"`
	EpisodeID string         `json:"episode_id"`
	Name      string         `json:"name"`
	ImagePath string         `json:"image_path,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// SaveCharacter inserts or replaces a character reference.
func (s *Store) SaveCharacter(ctx context.Context, ref *CharacterReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref.CreatedAt == 0 {
		ref.CreatedAt = nowMilli()
	}
	meta := "{}"
	if ref.Metadata != nil {
		b, err := json.Marshal(ref.Metadata)
		if err != nil {
			return fmt.Errorf("encode character metadata: %w", err)
		}
		meta = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO character_references (id, episode_id, name, image_path, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			image_path = excluded.image_path,
			metadata = excluded.metadata`,
		ref.ID, ref.EpisodeID, ref.Name, ref.ImagePath, meta, ref.CreatedAt)
	if err != nil {
		return fmt.Errorf("save character %s: %w", ref.ID, err)
	}
	return nil
}

// ListCharacters returns an episode's character references in creation order.
func (s *Store) ListCharacters(ctx context.Context, episodeID string) ([]CharacterReference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, episode_id, name, image_path, metadata, created_at
		FROM character_references WHERE episode_id = ? ORDER BY created_at`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	refs := []CharacterReference{}
	for rows.Next() {
		var ref CharacterReference
		var meta string
		if err := rows.Scan(&ref.ID, &ref.EpisodeID, &ref.Name, &ref.ImagePath, &meta, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("list characters: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &ref.Metadata); err != nil {
			ref.Metadata = nil
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeleteCharacter removes one character reference by id.
func (s *Store) DeleteCharacter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM character_references WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete character %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete character %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
