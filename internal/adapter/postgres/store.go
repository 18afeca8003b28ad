package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/platewise/researchd/internal/domain"
	"github.com/platewise/researchd/internal/domain/source"
	"github.com/platewise/researchd/internal/port/archive"
)

// Store implements archive.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Save upserts one terminal session. Driven by retried archive attempts,
// the same record may arrive more than once; the last write wins.
func (s *Store) Save(ctx context.Context, rec archive.Record) error {
	sources, err := marshalSources(rec.Sources)
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.ID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO research_sessions (id, query, status, answer, sources, rounds, retries, created_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   answer = EXCLUDED.answer,
		   sources = EXCLUDED.sources,
		   rounds = EXCLUDED.rounds,
		   retries = EXCLUDED.retries,
		   finished_at = EXCLUDED.finished_at`,
		rec.ID, rec.Query, rec.Status, rec.Answer, sources,
		rec.Rounds, rec.Retries, rec.CreatedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*archive.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, query, status, answer, sources, rounds, retries, created_at, finished_at
		 FROM research_sessions WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get session %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]archive.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, query, status, answer, sources, rounds, retries, created_at, finished_at
		 FROM research_sessions ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []archive.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*archive.Record, error) {
	var rec archive.Record
	var sources []byte
	err := row.Scan(&rec.ID, &rec.Query, &rec.Status, &rec.Answer, &sources,
		&rec.Rounds, &rec.Retries, &rec.CreatedAt, &rec.FinishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sources, &rec.Sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	return &rec, nil
}

// marshalSources serializes sources for the JSONB column; nil becomes []
// so reads never see SQL NULL.
func marshalSources(sources []source.Source) ([]byte, error) {
	if sources == nil {
		sources = []source.Source{}
	}
	return json.Marshal(sources)
}
