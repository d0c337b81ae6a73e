package rendercache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists rendered episode audio in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS render_cache (
			episode_id TEXT NOT NULL,
			line_index INT NOT NULL,
			voice_id TEXT NOT NULL DEFAULT '',
			audio BYTEA NOT NULL,
			rendered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (episode_id, line_index)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, episodeID string, lineIndex int) (Entry, bool, error) {
	var entry Entry
	err := s.pool.QueryRow(ctx,
		`SELECT episode_id, line_index, voice_id, audio, rendered_at
		 FROM render_cache WHERE episode_id=$1 AND line_index=$2`,
		episodeID, lineIndex,
	).Scan(&entry.EpisodeID, &entry.LineIndex, &entry.VoiceID, &entry.Audio, &entry.RenderedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("get cache entry: %w", err)
	}
	return entry, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.EpisodeID) == "" {
		return errors.New("episode_id is required")
	}
	if entry.RenderedAt.IsZero() {
		entry.RenderedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO render_cache (episode_id, line_index, voice_id, audio, rendered_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (episode_id, line_index) DO UPDATE SET voice_id=$3, audio=$4, rendered_at=$5`,
		entry.EpisodeID, entry.LineIndex, entry.VoiceID, entry.Audio, entry.RenderedAt,
	)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, episodeID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT episode_id, line_index, voice_id, rendered_at
		 FROM render_cache WHERE episode_id=$1 ORDER BY line_index`,
		episodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.EpisodeID, &entry.LineIndex, &entry.VoiceID, &entry.RenderedAt); err != nil {
			return nil, fmt.Errorf("scan cache row: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, episodeID string, lineIndex int) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM render_cache WHERE episode_id=$1 AND line_index=$2`,
		episodeID, lineIndex); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteEpisode(ctx context.Context, episodeID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM render_cache WHERE episode_id=$1`, episodeID); err != nil {
		return fmt.Errorf("delete episode cache: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
