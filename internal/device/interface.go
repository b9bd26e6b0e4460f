package device

import (
	"context"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/errors"
)

// Sensors gives read access to the enclosure sensors. Any read may fail with
// a sensor_fault error.
type Sensors interface {
	ReadTemperature(ctx context.Context) (int, error)
	ReadHumidity(ctx context.Context) (uint, error)
	ReadLight(ctx context.Context) (uint, error)
}

// Actuators drives the enclosure relays. SetState may fail with an
// actuator_fault error; ResetAll drives every relay to off and is used on
// shutdown.
type Actuators interface {
	SetState(ctx context.Context, id climate.ActuatorID, on bool) error
	ResetAll(ctx context.Context) error
}

// Closer releases hardware resources held by an adapter.
type Closer interface {
	Close() error
}

// Bank bundles the adapters selected for one hardware mode.
type Bank struct {
	Sensors   Sensors
	Actuators Actuators
	closers   []Closer
}

// Close releases every adapter in the bank. Failures are joined under a
// shutdown_failed error.
func (b *Bank) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := joinErrors(errs); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}
