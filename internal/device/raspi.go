package device

import (
	"context"
	"math"
	"sync"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"
)

// RelayPins maps each actuator to its Raspberry Pi header pin. The defaults
// are BCM 23, 22, 27, 24 and 17.
var RelayPins = map[climate.ActuatorID]string{
	climate.Exhaust:    "16",
	climate.Intake:     "15",
	climate.Humidifier: "13",
	climate.Light:      "18",
	climate.Rain:       "11",
}

// RaspiActuators drives one gobot relay per actuator on a Raspberry Pi.
type RaspiActuators struct {
	mu     sync.Mutex
	relays map[climate.ActuatorID]*gpio.RelayDriver
	logger logger.Logger
}

// NewRaspiActuators starts a relay driver on every pin in pins. The adaptor
// must already be connected.
func NewRaspiActuators(adaptor *raspi.Adaptor, pins map[climate.ActuatorID]string, log logger.Logger) (*RaspiActuators, error) {
	errFactory := errors.New()
	ra := &RaspiActuators{
		relays: make(map[climate.ActuatorID]*gpio.RelayDriver, len(pins)),
		logger: log.With("relays"),
	}

	for _, id := range climate.Actuators() {
		pin, ok := pins[id]
		if !ok {
			return nil, errFactory.WithData(errors.ErrInvalidConfig, "no relay pin for "+id.String())
		}

		relay := gpio.NewRelayDriver(adaptor, pin)
		if err := relay.Start(); err != nil {
			return nil, errFactory.Wrap(errors.ErrInitFailed, err).WithData(id.String())
		}
		ra.relays[id] = relay

		ra.logger.Debug().Str("actuator", id.String()).Str("pin", pin).Msg("Relay ready")
	}

	return ra, nil
}

func (ra *RaspiActuators) SetState(_ context.Context, id climate.ActuatorID, on bool) error {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	relay, ok := ra.relays[id]
	if !ok {
		return newActuatorError(ErrUnknownActuator, id, nil)
	}

	var err error
	if on {
		err = relay.On()
	} else {
		err = relay.Off()
	}
	if err != nil {
		return newActuatorError(ErrRelayWriteFailed, id, err)
	}

	return nil
}

// ResetAll switches every relay off, attempting all of them even when some
// fail.
func (ra *RaspiActuators) ResetAll(_ context.Context) error {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	var errs []error
	for _, id := range climate.Actuators() {
		relay, ok := ra.relays[id]
		if !ok {
			continue
		}
		if err := relay.Off(); err != nil {
			errs = append(errs, newActuatorError(ErrRelayWriteFailed, id, err))
		}
	}

	return joinErrors(errs)
}

// Close halts every relay driver.
func (ra *RaspiActuators) Close() error {
	ra.mu.Lock()
	defer ra.mu.Unlock()

	var errs []error
	for _, id := range climate.Actuators() {
		if relay, ok := ra.relays[id]; ok {
			if err := relay.Halt(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return joinErrors(errs)
}

// RaspiSensors reads an SHT2x temperature/humidity sensor and a BH1750 light
// sensor on the Pi's default I2C bus.
type RaspiSensors struct {
	sht    *i2c.SHT2xDriver
	lux    *i2c.BH1750Driver
	logger logger.Logger
}

func NewRaspiSensors(adaptor *raspi.Adaptor, log logger.Logger) (*RaspiSensors, error) {
	errFactory := errors.New()

	sht := i2c.NewSHT2xDriver(adaptor)
	if err := sht.Start(); err != nil {
		return nil, errFactory.Wrap(errors.ErrInitFailed, err).WithData("sht2x")
	}

	lux := i2c.NewBH1750Driver(adaptor)
	if err := lux.Start(); err != nil {
		_ = sht.Halt()
		return nil, errFactory.Wrap(errors.ErrInitFailed, err).WithData("bh1750")
	}

	return &RaspiSensors{sht: sht, lux: lux, logger: log.With("sensors")}, nil
}

func (rs *RaspiSensors) ReadTemperature(_ context.Context) (int, error) {
	temp, err := rs.sht.Temperature()
	if err != nil {
		return 0, newSensorError(ErrTemperatureReadFailed, "temperature", err)
	}

	return int(math.Round(float64(temp))), nil
}

func (rs *RaspiSensors) ReadHumidity(_ context.Context) (uint, error) {
	humidity, err := rs.sht.Humidity()
	if err != nil {
		return 0, newSensorError(ErrHumidityReadFailed, "humidity", err)
	}

	return clampUint(int(math.Round(float64(humidity))), -1), nil
}

func (rs *RaspiSensors) ReadLight(_ context.Context) (uint, error) {
	lux, err := rs.lux.Lux()
	if err != nil {
		return 0, newSensorError(ErrLightReadFailed, "light", err)
	}

	return clampUint(lux, -1), nil
}

func (rs *RaspiSensors) Close() error {
	return joinErrors(nonNil(rs.sht.Halt(), rs.lux.Halt()))
}

func nonNil(errs ...error) []error {
	var out []error
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}

	return out
}
