package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mvisser/tether/internal/manager"
)

// Journal records connection state transitions to the
// connection_transitions table in batches.
type Journal struct {
	cfg    Config
	logger *slog.Logger

	// Database
	db Execer

	// Batching
	batch   []transitionRow
	batchMu sync.Mutex
	kick    chan struct{}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics
}

// New creates a Journal writing through db.
func New(cfg Config, db Execer, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Journal{
		cfg:    cfg,
		db:     db,
		logger: logger,
		batch:  make([]transitionRow, 0, cfg.BatchSize),
		kick:   make(chan struct{}, 1),
	}
}

// Start begins the flush loop.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("transition journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the pending batch and shuts the journal down.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping transition journal")

	if j.cancel != nil {
		j.cancel()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		j.logger.Info("transition journal stopped")
	case <-ctx.Done():
		j.logger.Warn("transition journal stop timed out")
	}

	// Final flush
	j.flush(ctx)

	return nil
}

// Attach subscribes the journal to a manager's state transitions.
// The returned subscription can be passed to mgr.Unsubscribe.
func (j *Journal) Attach(mgr *manager.Manager) manager.Subscription {
	return mgr.Subscribe(manager.EventStateChanged, func(event any) {
		change, ok := event.(manager.StateChange)
		if !ok {
			return
		}
		j.Record(change)
	})
}

// Record adds one transition to the pending batch. It never writes to
// the database inline; a full batch only wakes the flush loop, so the
// caller (a manager event callback) is never blocked on I/O.
func (j *Journal) Record(change manager.StateChange) {
	row := transitionRow{
		OccurredAt: time.Now().UTC(),
		FromState:  change.From.String(),
		ToState:    change.To.String(),
		Reason:     change.Reason.String(),
		Attempt:    change.Attempt,
	}
	if change.Err != nil {
		row.ErrText = change.Err.Error()
	}

	j.batchMu.Lock()
	j.batch = append(j.batch, row)
	full := len(j.batch) >= j.cfg.BatchSize
	j.batchMu.Unlock()

	if full {
		select {
		case j.kick <- struct{}{}:
		default:
		}
	}
}

// Stats returns current metrics.
func (j *Journal) Stats() Metrics {
	j.batchMu.Lock()
	defer j.batchMu.Unlock()
	return j.metrics
}

// flushLoop flushes on the interval timer and on batch-full kicks.
func (j *Journal) flushLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.flush(j.ctx)
		case <-j.kick:
			j.flush(j.ctx)
		}
	}
}

// flush writes the current batch to the database.
func (j *Journal) flush(ctx context.Context) {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := j.batch
	j.batch = make([]transitionRow, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()

	if err := j.batchInsert(ctx, batch); err != nil {
		j.logger.Error("batch insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.metrics.Errors++
		j.batchMu.Unlock()
		return
	}

	j.batchMu.Lock()
	j.metrics.Inserts += int64(len(batch))
	j.metrics.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed transitions",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (j *Journal) batchInsert(ctx context.Context, rows []transitionRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		var errText any
		if r.ErrText != "" {
			errText = r.ErrText
		}
		batch.Queue(`
			INSERT INTO connection_transitions (occurred_at, from_state, to_state, reason, attempt, error)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, r.OccurredAt, r.FromState, r.ToState, r.Reason, r.Attempt, errText)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
