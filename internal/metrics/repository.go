package metrics

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []Entry
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
	closeErr      error
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, storageError(ErrStorageInit, "create_directory", cfg.DBPath, err)
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageError(ErrStorageInit, "open_database", "", err)
	}

	if err := ValidateAndUpdateSchema(db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("flush_interval", cfg.FlushInterval).
		Msg("Duty journal initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]Entry, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.FlushInterval > 0 {
		repo.flushTicker = time.NewTicker(cfg.FlushInterval)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(entries ...Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, entries...)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

// Transitions returns every flushed transition at or after since, oldest
// first.
func (r *repository) Transitions(since time.Time) ([]Transition, error) {
	errFactory := errors.New()

	rows, err := r.db.Query(selectTransitionsSQL, since.UnixMilli())
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageQuery, err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			ts    int64
			name  string
			state int
		)
		if err := rows.Scan(&ts, &name, &state); err != nil {
			return nil, errFactory.Wrap(ErrStorageQuery, err)
		}

		id, ok := climate.ParseActuator(name)
		if !ok {
			r.logger.Warn().Str("actuator", name).Msg("Skipping unknown actuator in journal")
			continue
		}
		out = append(out, Transition{Time: time.UnixMilli(ts), Actuator: id, On: state == 1})
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageQuery, err)
	}

	return out, nil
}

// DailyOnTime returns the flushed on-time per actuator for a YYYY-MM-DD day.
func (r *repository) DailyOnTime(day string) (map[climate.ActuatorID]time.Duration, error) {
	errFactory := errors.New()

	rows, err := r.db.Query(selectDailyOnTimeSQL, day)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageQuery, err)
	}
	defer rows.Close()

	out := make(map[climate.ActuatorID]time.Duration)
	for rows.Next() {
		var (
			name    string
			seconds float64
		)
		if err := rows.Scan(&name, &seconds); err != nil {
			return nil, errFactory.Wrap(ErrStorageQuery, err)
		}
		if id, ok := climate.ParseActuator(name); ok {
			out[id] = time.Duration(seconds * float64(time.Second))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageQuery, err)
	}

	return out, nil
}

func (r *repository) Close() error {
	r.closeOnce.Do(func() {
		close(r.shutdownChan)
		if r.flushTicker != nil {
			r.flushTicker.Stop()
		}

		// Wait for the flusher to exit before the final flush
		<-r.flushDoneChan

		r.mu.Lock()
		flushErr := r.flush()
		r.mu.Unlock()

		if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to checkpoint WAL")
		}

		if err := r.db.Close(); err != nil {
			r.closeErr = errors.Join(flushErr, storageError(ErrStorageClose, "close_database", "", err))
			return
		}
		r.closeErr = flushErr

		r.logger.Info().Msg("Duty journal closed")
	})

	return r.closeErr
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				r.logger.Warn().Err(err).Msg("Periodic duty journal flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			return
		}
	}
}

// flush writes the buffer in one transaction. The caller holds r.mu. On
// failure the buffer is kept so the next flush retries it.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	rollback := func(cause error) error {
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, cause)
	}

	insertTransition, err := tx.Prepare(insertTransitionSQL)
	if err != nil {
		return rollback(err)
	}
	defer insertTransition.Close()

	addOnTime, err := tx.Prepare(addOnTimeSQL)
	if err != nil {
		return rollback(err)
	}
	defer addOnTime.Close()

	for _, entry := range r.buffer {
		switch {
		case entry.Transition != nil:
			tr := entry.Transition
			_, err = insertTransition.Exec(tr.Time.UnixMilli(), tr.Actuator.String(), boolToInt(tr.On))
		case entry.OnTime != nil:
			ot := entry.OnTime
			_, err = addOnTime.Exec(ot.Day, ot.Actuator.String(), ot.Duration.Seconds())
		}
		if err != nil {
			return rollback(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("entries", len(r.buffer)).Msg("Flushed duty journal")
	r.buffer = r.buffer[:0]

	return nil
}
