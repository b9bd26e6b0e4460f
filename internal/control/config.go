package control

import (
	"time"

	"codeberg.org/mutker/climactl/internal/errors"
)

const (
	defaultInterval  = 5 * time.Second
	defaultIOTimeout = 2 * time.Second
	defaultMaxFaults = 10

	// Lower bound on the time given to ResetAll during shutdown.
	minResetTimeout = 5 * time.Second
)

type Config struct {
	// Interval is the pause after each tick before the next one starts.
	// Time spent in a tick is not subtracted, so the period drifts.
	Interval time.Duration
	// IOTimeout bounds every sensor read and actuator write. Zero disables it.
	IOTimeout time.Duration
	// MaxFaults is the number of consecutive faulted ticks after which the
	// loop stops itself. Zero disables the ceiling.
	MaxFaults int
}

func DefaultConfig() Config {
	return Config{
		Interval:  defaultInterval,
		IOTimeout: defaultIOTimeout,
		MaxFaults: defaultMaxFaults,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval.String())
	}
	if c.IOTimeout < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "io timeout must not be negative")
	}
	if c.MaxFaults < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "max faults must not be negative")
	}

	return nil
}

func (c Config) resetTimeout() time.Duration {
	return max(c.IOTimeout, minResetTimeout)
}
