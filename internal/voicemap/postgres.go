package voicemap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists voice mappings in PostgreSQL so they apply across
// episodes and restarts.
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
		`CREATE TABLE IF NOT EXISTS voice_mappings (
			speaker_key TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			voice TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, speakerKey string) (Entry, bool, error) {
	var entry Entry
	err := s.pool.QueryRow(ctx,
		`SELECT speaker_key, display_name, voice FROM voice_mappings WHERE speaker_key=$1`,
		speakerKey,
	).Scan(&entry.SpeakerKey, &entry.DisplayName, &entry.Voice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("get mapping: %w", err)
	}
	return entry, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, entry Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_mappings (speaker_key, display_name, voice, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (speaker_key) DO UPDATE SET display_name=$2, voice=$3, updated_at=now()`,
		entry.SpeakerKey, entry.DisplayName, entry.Voice,
	)
	if err != nil {
		return fmt.Errorf("put mapping: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, speakerKey string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM voice_mappings WHERE speaker_key=$1`, speakerKey); err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT speaker_key, display_name, voice FROM voice_mappings ORDER BY speaker_key`)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.SpeakerKey, &entry.DisplayName, &entry.Voice); err != nil {
			return nil, fmt.Errorf("scan mapping row: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mapping rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
