package store_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/logger"
	"codeberg.org/mutker/petvitals/internal/metrics"
	"codeberg.org/mutker/petvitals/internal/report"
	"codeberg.org/mutker/petvitals/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) store.Config {
	t.Helper()
	cfg := store.DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = filepath.Join(t.TempDir(), "metrics.db")
	cfg.BatchSize = 3
	cfg.BatchTimeout = 0
	return cfg
}

func TestValidate(t *testing.T) {
	cfg := store.DefaultConfig()
	assert.NoError(t, cfg.Validate(), "disabled config is always valid")

	cfg.Enabled = true
	cfg.DBPath = ""
	assert.True(t, errors.HasCode(cfg.Validate(), store.ErrInvalidDBPath))

	cfg.DBPath = "/tmp/x.db"
	cfg.BatchSize = 0
	assert.True(t, errors.HasCode(cfg.Validate(), store.ErrInvalidConfig))
}

func TestRepositoryBatchesSamples(t *testing.T) {
	repo, err := store.NewRepository(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	require.NoError(t, repo.RecordSample(metrics.Sample{Timestamp: 1, MemoryUsageMB: 10}))
	require.NoError(t, repo.RecordSample(metrics.Sample{Timestamp: 2, MemoryUsageMB: 11}))

	got, err := repo.Samples(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got, "samples stay buffered until the batch fills")

	require.NoError(t, repo.RecordSample(metrics.Sample{Timestamp: 3, MemoryUsageMB: 12, CPUUsagePercent: 50, FPS: 60}))

	got, err = repo.Samples(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, metrics.Sample{Timestamp: 3, MemoryUsageMB: 12, CPUUsagePercent: 50, FPS: 60}, got[2])

	got, err = repo.Samples(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Timestamp)
}

func TestRepositoryFlushOnClose(t *testing.T) {
	cfg := testConfig(t)
	repo, err := store.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, repo.RecordSample(metrics.Sample{Timestamp: 7}))
	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close(), "close is idempotent")

	reopened, err := store.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Samples(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].Timestamp)
}

func TestRepositoryPendingIsBounded(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 10
	cfg.MaxPending = 25

	repo, err := store.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("ALTER TABLE samples RENAME TO samples_offline")
	require.NoError(t, err)

	failures := 0
	for i := 1; i <= 5000; i++ {
		if err := repo.RecordSample(metrics.Sample{Timestamp: int64(i)}); err != nil {
			assert.True(t, errors.HasCode(err, store.ErrTransactionFailed))
			failures++
		}
		require.LessOrEqual(t, repo.Pending(), cfg.MaxPending)
	}
	assert.Equal(t, 5000-cfg.BatchSize+1, failures)
	assert.Equal(t, cfg.MaxPending, repo.Pending())

	_, err = db.Exec("ALTER TABLE samples_offline RENAME TO samples")
	require.NoError(t, err)
	require.NoError(t, repo.Flush())
	assert.Zero(t, repo.Pending())

	got, err := repo.Samples(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, got, cfg.MaxPending)
	assert.Equal(t, int64(5000-cfg.MaxPending+1), got[0].Timestamp, "oldest samples are dropped")
	assert.Equal(t, int64(5000), got[len(got)-1].Timestamp)
}

func TestRepositoryEvents(t *testing.T) {
	repo, err := store.NewRepository(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)
	ev := report.NewEvent(at, report.CategoryPerformance, "Slow span", map[string]any{"name": "load", "durationMs": 800.0})

	require.NoError(t, repo.RecordEvent(ctx, ev))
	require.NoError(t, repo.RecordEvent(ctx, ev), "duplicate ids are ignored")
	require.NoError(t, repo.RecordEvent(ctx, report.NewEvent(at, report.CategorySecurity, "csp", nil)))

	got, err := repo.Events(ctx, report.CategoryPerformance)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.Equal(t, "Slow span", got[0].Message)
	assert.Equal(t, "load", got[0].Data["name"])
	assert.InDelta(t, 800.0, got[0].Data["durationMs"], 0.001)
	assert.True(t, at.Equal(got[0].Timestamp))
}

func TestSchemaVersion(t *testing.T) {
	cfg := testConfig(t)
	repo, err := store.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	version, err := store.GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, store.SchemaVersion, version)

	for _, table := range []string{"samples", "events"} {
		exists, err := store.TableExists(db, table)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}
}

func TestSchemaMismatchBacksUpAndRecreates(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 1

	repo, err := store.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, repo.RecordSample(metrics.Sample{Timestamp: 1}))
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_versions (version, applied_at) VALUES (99, datetime('now'))`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err = store.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.Samples(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got, "tables are recreated")

	backups, err := os.ReadDir(filepath.Join(filepath.Dir(cfg.DBPath), "backups"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestServiceDisabled(t *testing.T) {
	svc, err := store.NewService(store.DefaultConfig(), logger.Nop())
	require.NoError(t, err)

	assert.NoError(t, svc.Consume(context.Background(), metrics.Sample{}))
	svc.ReportEvent(report.Event{})
	assert.Nil(t, svc.Repository())
	assert.NoError(t, svc.Close())
}

func TestServicePersists(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 1

	svc, err := store.NewService(cfg, logger.Nop())
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()
	require.NoError(t, svc.Consume(ctx, metrics.Sample{Timestamp: 42, FPS: 30}))
	svc.ReportEvent(report.NewEvent(time.UnixMilli(42), report.CategoryInteraction, "slow click", nil))

	samples, err := svc.Repository().Samples(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.InDelta(t, 30.0, samples[0].FPS, 0.001)

	events, err := svc.Repository().Events(ctx, report.CategoryInteraction)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = svc.Consume(cancelled, metrics.Sample{})
	assert.True(t, errors.HasCode(err, store.ErrOperationTimeout))
}
