package metrics

import (
	"database/sql"

	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
)

const (
	SchemaVersion = 1

	dayLayout = "2006-01-02"

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS transitions (
	       id         INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp  INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
	       actuator   TEXT NOT NULL,
	       state      INTEGER NOT NULL CHECK (state IN (0, 1))
	   );
	   CREATE INDEX IF NOT EXISTS transitions_timestamp ON transitions (timestamp);
	   CREATE TABLE IF NOT EXISTS daily_on_time (
	       day        TEXT NOT NULL,
	       actuator   TEXT NOT NULL,
	       seconds    REAL NOT NULL CHECK (seconds >= 0),
	       PRIMARY KEY (day, actuator)
	   );`

	insertTransitionSQL = `
    INSERT INTO transitions (timestamp, actuator, state)
    VALUES (?, ?, ?)`

	addOnTimeSQL = `
    INSERT INTO daily_on_time (day, actuator, seconds)
    VALUES (?, ?, ?)
    ON CONFLICT (day, actuator) DO UPDATE SET seconds = seconds + excluded.seconds`

	selectTransitionsSQL = `
    SELECT timestamp, actuator, state
    FROM transitions
    WHERE timestamp >= ?
    ORDER BY id`

	selectDailyOnTimeSQL = `
    SELECT actuator, seconds
    FROM daily_on_time
    WHERE day = ?`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating duty journal schema...")

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
		return storageError(ErrSchemaInitFailed, "create_tables", "", err)
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return storageError(ErrSchemaInitFailed, "record_version", "", err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Duty journal schema initialized")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database.
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
		return 0, storageError(ErrSchemaValidationFailed, "get_version", "", err)
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, storageError(ErrSchemaValidationFailed, "check_table_exists", tableName, err)
	}
	return exists, nil
}
