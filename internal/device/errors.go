package device

import (
	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/errors"
)

const (
	ErrTemperatureReadFailed = errors.ErrorCode("sensor_temperature_read_failed")
	ErrHumidityReadFailed    = errors.ErrorCode("sensor_humidity_read_failed")
	ErrLightReadFailed       = errors.ErrorCode("sensor_light_read_failed")
	ErrRelayWriteFailed      = errors.ErrorCode("relay_write_failed")
	ErrUnknownActuator       = errors.ErrorCode("unknown_actuator")
	ErrUnknownHardware       = errors.ErrorCode("unknown_hardware")
	ErrAdaptorConnect        = errors.ErrorCode("adaptor_connect_failed")
)

type sensorFault struct {
	Sensor string
}

func (f sensorFault) String() string { return f.Sensor }

type actuatorFault struct {
	Actuator climate.ActuatorID
}

func (f actuatorFault) String() string { return f.Actuator.String() }

// newSensorError wraps a driver failure for the named sensor as a sensor_fault.
func newSensorError(code errors.ErrorCode, sensor string, err error) errors.Error {
	errFactory := errors.New()
	return errFactory.Wrap(errors.ErrSensorFault, errFactory.Wrap(code, err)).
		WithData(sensorFault{Sensor: sensor})
}

// newActuatorError wraps a driver failure for id as an actuator_fault.
func newActuatorError(code errors.ErrorCode, id climate.ActuatorID, err error) errors.Error {
	errFactory := errors.New()
	return errFactory.Wrap(errors.ErrActuatorFault, errFactory.Wrap(code, err)).
		WithData(actuatorFault{Actuator: id})
}

// ActuatorOf returns the actuator named by an actuator_fault error.
func ActuatorOf(err error) (climate.ActuatorID, bool) {
	var coded errors.Error
	if errors.As(err, &coded) {
		if f, ok := coded.GetData().(actuatorFault); ok {
			return f.Actuator, true
		}
	}

	return 0, false
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	return errors.Join(errs...)
}
