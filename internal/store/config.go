package store

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/petvitals/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/petvitals/metrics.db"
	defaultBatchSize    = 10
	defaultBatchTimeout = 5 * time.Second
	defaultMaxPending   = 1000
)

type Config struct {
	DBPath          string
	BatchSize       int
	BatchTimeout    time.Duration
	// MaxPending caps unflushed samples while the database rejects writes.
	// The oldest are dropped first. Raised to BatchSize when smaller.
	MaxPending      int
	BackupOnMigrate bool
	Enabled         bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:          defaultDBPath,
		BatchSize:       defaultBatchSize,
		BatchTimeout:    defaultBatchTimeout,
		MaxPending:      defaultMaxPending,
		BackupOnMigrate: true,
		Enabled:         false, // Disabled by default
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate storage settings if persistence is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 1 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			Field string
			Value int
		}{
			Field: "batch_size",
			Value: c.BatchSize,
		})
	}
	return nil
}

// backupDir keeps migration backups next to the database file.
func (c Config) backupDir() string {
	return filepath.Join(filepath.Dir(c.DBPath), "backups")
}
