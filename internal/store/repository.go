package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/petvitals/internal/buffer"
	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/logger"
	"codeberg.org/mutker/petvitals/internal/metrics"
	"codeberg.org/mutker/petvitals/internal/report"
	_ "github.com/mattn/go-sqlite3"
)

// Repository persists samples in batches and events immediately.
type Repository interface {
	RecordSample(s metrics.Sample) error
	RecordEvent(ctx context.Context, ev report.Event) error
	Samples(ctx context.Context, sinceMs int64, limit int) ([]metrics.Sample, error)
	Events(ctx context.Context, category string) ([]report.Event, error)
	Flush() error
	// Pending returns the number of samples waiting for a flush.
	Pending() int
	Close() error
}

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	pending       *buffer.Ring[metrics.Sample]
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.MaxPending < cfg.BatchSize {
		cfg.MaxPending = cfg.BatchSize
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("max_pending", cfg.MaxPending).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Metrics repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		pending:       buffer.MustNew[metrics.Sample](cfg.MaxPending),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	// Periodic flushing only when batches can sit partially filled
	if cfg.BatchSize > 1 && cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(cfg.BatchTimeout)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) RecordSample(s metrics.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending.Len() == r.pending.Cap() {
		r.logger.Warn().
			Int("max_pending", r.cfg.MaxPending).
			Msg("Pending samples full, dropping oldest")
	}
	r.pending.Push(s)

	if r.pending.Len() >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) RecordEvent(ctx context.Context, ev report.Event) error {
	errFactory := errors.New()

	data, err := json.Marshal(ev.Data)
	if err != nil {
		return errFactory.Wrap(ErrEncodeEvent, err)
	}

	_, err = r.db.ExecContext(ctx, insertEventSQL,
		ev.ID, ev.Timestamp.UnixMilli(), ev.Category, ev.Message, string(data))
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *repository) Samples(ctx context.Context, sinceMs int64, limit int) ([]metrics.Sample, error) {
	errFactory := errors.New()

	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx, selectSamplesSQL, sinceMs, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []metrics.Sample
	for rows.Next() {
		var s metrics.Sample
		if err := rows.Scan(&s.Timestamp, &s.MemoryUsageMB, &s.CPUUsagePercent, &s.FPS, &s.GPUUsagePercent); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func (r *repository) Events(ctx context.Context, category string) ([]report.Event, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, selectEventsSQL, category)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []report.Event
	for rows.Next() {
		var (
			ev   report.Event
			at   int64
			data string
		)
		if err := rows.Scan(&ev.ID, &at, &ev.Category, &ev.Message, &data); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
			return nil, errFactory.Wrap(ErrEncodeEvent, err)
		}
		ev.Timestamp = time.UnixMilli(at)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func (r *repository) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flush()
}

func (r *repository) Pending() int {
	return r.pending.Len()
}

func (r *repository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.close()
	})
	return err
}

func (r *repository) close() error {
	errFactory := errors.New()

	// Signal the flusher goroutine to stop and wait for its final flush
	close(r.shutdownChan)
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	<-r.flushDoneChan

	if err := r.Flush(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to flush pending samples")
	}

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Metrics repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			if err := r.Flush(); err != nil {
				r.logger.Error().Err(err).Msg("Periodic flush failed")
			}
		case <-r.shutdownChan:
			return
		}
	}
}

func (r *repository) flush() error {
	batch := r.pending.Snapshot()
	if len(batch) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertSampleSQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, s := range batch {
		if _, err := stmt.Exec(s.Timestamp, s.MemoryUsageMB, s.CPUUsagePercent, s.FPS, s.GPUUsagePercent); err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(batch)).Msg("Flushed samples to database")
	r.pending.Clear()

	return nil
}
