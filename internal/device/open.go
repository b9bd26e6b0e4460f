package device

import (
	"context"

	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
	"gobot.io/x/gobot/v2/platforms/raspi"
)

const (
	HardwareSim   = "sim"
	HardwareRaspi = "raspi"
)

// Open builds the sensor and actuator adapters for the named hardware mode.
func Open(hardware string, log logger.Logger) (*Bank, error) {
	errFactory := errors.New()
	if log == nil {
		log = logger.Nop()
	}

	switch hardware {
	case HardwareSim, "":
		log.Info().Msg("Using simulated sensors and in-memory relays")
		return &Bank{
			Sensors:   NewSimSensors(DefaultSimReading, 1, 1),
			Actuators: NewMemoryActuators(log),
		}, nil

	case HardwareRaspi:
		adaptor := raspi.NewAdaptor()
		if err := adaptor.Connect(); err != nil {
			return nil, errFactory.Wrap(ErrAdaptorConnect, err)
		}

		actuators, err := NewRaspiActuators(adaptor, RelayPins, log)
		if err != nil {
			_ = adaptor.Finalize()
			return nil, err
		}

		sensors, err := NewRaspiSensors(adaptor, log)
		if err != nil {
			_ = actuators.ResetAll(context.Background())
			_ = actuators.Close()
			_ = adaptor.Finalize()
			return nil, err
		}

		log.Info().Msg("Raspberry Pi relays and I2C sensors ready")

		return &Bank{
			Sensors:   sensors,
			Actuators: actuators,
			closers:   []Closer{sensors, actuators, adaptorCloser{adaptor}},
		}, nil

	default:
		return nil, errFactory.WithData(ErrUnknownHardware, hardware)
	}
}

type adaptorCloser struct {
	adaptor *raspi.Adaptor
}

func (a adaptorCloser) Close() error {
	return a.adaptor.Finalize()
}
