// Package archive defines the port for persisting finished sessions.
package archive

import (
	"context"
	"time"

	"github.com/platewise/researchd/internal/domain/source"
)

// Record is the archived form of one terminal session.
type Record struct {
	ID         string
	Query      string
	Status     string
	Answer     string
	Sources    []source.Source
	Rounds     int
	Retries    int
	CreatedAt  time.Time
	FinishedAt time.Time
}

// Store persists terminal sessions. Save is called exactly once per
// session, after the terminal event has been delivered to the sink.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (*Record, error)
	ListRecent(ctx context.Context, limit int) ([]Record, error)
}
