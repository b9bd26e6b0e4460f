package metrics

import (
	"time"

	"codeberg.org/mutker/climactl/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm       = 0o755
	defaultDBPath        = "/var/lib/climactl/duty.db"
	defaultBatchSize     = 16
	defaultFlushInterval = 30 * time.Second
)

type Config struct {
	DBPath string
	// BatchSize is the number of buffered entries that forces a flush.
	BatchSize int
	// FlushInterval bounds how long entries stay buffered. Zero flushes
	// only on BatchSize and Close.
	FlushInterval time.Duration
	Enabled       bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:        defaultDBPath,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
		Enabled:       false, // Disabled by default
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate when the journal is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 1 || c.FlushInterval < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize     int
			FlushInterval time.Duration
		}{c.BatchSize, c.FlushInterval})
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
