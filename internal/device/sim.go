package device

import (
	"context"
	"math/rand"
	"sync"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/logger"
)

// SimSensors returns configurable readings for running without hardware.
// Values drift by up to ±Jitter around the base reading on every read.
type SimSensors struct {
	mu     sync.Mutex
	base   climate.Reading
	jitter int
	rng    *rand.Rand
}

// DefaultSimReading is what the simulator reports out of the box.
var DefaultSimReading = climate.Reading{Temperature: 25, Humidity: 45, Light: 500}

func NewSimSensors(base climate.Reading, jitter int, seed int64) *SimSensors {
	if jitter < 0 {
		jitter = 0
	}

	return &SimSensors{
		base:   base,
		jitter: jitter,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Set replaces the base reading.
func (s *SimSensors) Set(r climate.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = r
}

func (s *SimSensors) ReadTemperature(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, newSensorError(ErrTemperatureReadFailed, "temperature", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base.Temperature + s.drift(), nil
}

func (s *SimSensors) ReadHumidity(ctx context.Context) (uint, error) {
	if err := ctx.Err(); err != nil {
		return 0, newSensorError(ErrHumidityReadFailed, "humidity", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return clampUint(int(s.base.Humidity)+s.drift(), 100), nil
}

func (s *SimSensors) ReadLight(ctx context.Context) (uint, error) {
	if err := ctx.Err(); err != nil {
		return 0, newSensorError(ErrLightReadFailed, "light", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return clampUint(int(s.base.Light)+s.drift()*10, -1), nil
}

// drift must be called with s.mu held.
func (s *SimSensors) drift() int {
	if s.jitter == 0 {
		return 0
	}

	return s.rng.Intn(2*s.jitter+1) - s.jitter
}

// clampUint floors v at zero and, when ceiling is non-negative, caps it.
func clampUint(v, ceiling int) uint {
	if v < 0 {
		return 0
	}
	if ceiling >= 0 && v > ceiling {
		return uint(ceiling)
	}

	return uint(v)
}

// MemoryActuators is an in-memory relay bank. It backs the sim hardware mode
// and records every write.
type MemoryActuators struct {
	mu     sync.RWMutex
	states map[climate.ActuatorID]bool
	writes int
	resets int
	logger logger.Logger
}

func NewMemoryActuators(log logger.Logger) *MemoryActuators {
	if log == nil {
		log = logger.Nop()
	}

	return &MemoryActuators{
		states: make(map[climate.ActuatorID]bool),
		logger: log.With("relays"),
	}
}

func (m *MemoryActuators) SetState(ctx context.Context, id climate.ActuatorID, on bool) error {
	if !knownActuator(id) {
		return newActuatorError(ErrUnknownActuator, id, nil)
	}
	if err := ctx.Err(); err != nil {
		return newActuatorError(ErrRelayWriteFailed, id, err)
	}

	m.mu.Lock()
	prev := m.states[id]
	m.states[id] = on
	m.writes++
	m.mu.Unlock()

	if prev != on {
		m.logger.Debug().Str("actuator", id.String()).Bool("on", on).Msg("Relay switched")
	}

	return nil
}

func (m *MemoryActuators) ResetAll(_ context.Context) error {
	m.mu.Lock()
	for _, id := range climate.Actuators() {
		m.states[id] = false
	}
	m.resets++
	m.mu.Unlock()

	m.logger.Debug().Msg("All relays off")

	return nil
}

// State returns the last state written to id.
func (m *MemoryActuators) State(id climate.ActuatorID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[id]
}

// Commands returns the current relay bank as a command set.
func (m *MemoryActuators) Commands() climate.Commands {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return climate.Commands{
		Exhaust:    m.states[climate.Exhaust],
		Intake:     m.states[climate.Intake],
		Humidifier: m.states[climate.Humidifier],
		Light:      m.states[climate.Light],
		Rain:       m.states[climate.Rain],
	}
}

func (m *MemoryActuators) Resets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resets
}

func knownActuator(id climate.ActuatorID) bool {
	for _, known := range climate.Actuators() {
		if id == known {
			return true
		}
	}

	return false
}

func (m *MemoryActuators) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
