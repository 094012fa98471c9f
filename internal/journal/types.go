package journal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Config controls batching behavior.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns production batching defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
	}
}

// Metrics tracks journal activity.
type Metrics struct {
	Inserts int64
	Flushes int64
	Errors  int64
}

// Execer is the slice of the pgx pool API the journal needs.
// Satisfied by *pgxpool.Pool.
type Execer interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// transitionRow is one row of the connection_transitions table.
type transitionRow struct {
	OccurredAt time.Time
	FromState  string
	ToState    string
	Reason     string
	Attempt    int
	ErrText    string
}
