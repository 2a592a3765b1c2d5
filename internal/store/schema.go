package store

import (
	"database/sql"

	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp   INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
	       memory_mb   REAL NOT NULL,
	       cpu_percent REAL NOT NULL CHECK (cpu_percent BETWEEN 0 AND 100),
	       fps         REAL NOT NULL CHECK (fps >= 0),
	       gpu_percent REAL NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS samples_timestamp ON samples (timestamp);
	   CREATE TABLE IF NOT EXISTS events (
	       id          TEXT PRIMARY KEY,
	       timestamp   INTEGER NOT NULL,
	       category    TEXT NOT NULL,
	       message     TEXT NOT NULL,
	       data        TEXT NOT NULL
	   );`

	insertSampleSQL = `
    INSERT INTO samples (
        timestamp, memory_mb, cpu_percent, fps, gpu_percent
    ) VALUES (?, ?, ?, ?, ?)`

	insertEventSQL = `
    INSERT OR IGNORE INTO events (
        id, timestamp, category, message, data
    ) VALUES (?, ?, ?, ?, ?)`

	selectSamplesSQL = `
    SELECT timestamp, memory_mb, cpu_percent, fps, gpu_percent
    FROM samples
    WHERE timestamp >= ?
    ORDER BY id ASC
    LIMIT ?`

	selectEventsSQL = `
    SELECT id, timestamp, category, message, data
    FROM events
    WHERE category = ?
    ORDER BY timestamp ASC, id ASC`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for a new database
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
