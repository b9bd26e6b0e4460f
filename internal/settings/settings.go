// Package settings holds the operator's manual overrides. Setters may be
// called from any goroutine; the control loop reads both values as one
// consistent snapshot per tick.
package settings

import (
	"sync"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/logger"
)

const (
	minValue = 0
	maxValue = 100
)

type Store struct {
	mu      sync.RWMutex
	current climate.Settings
	logger  logger.Logger
}

// New returns a store seeded with initial, clamped into range.
func New(initial climate.Settings, log logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}

	s := &Store{logger: log.With("settings")}
	s.current.LightIntensity, _ = s.clamp("light_intensity", initial.LightIntensity)
	s.current.TargetHumidity, _ = s.clamp("target_humidity", initial.TargetHumidity)

	return s
}

// Snapshot returns both settings as read under one lock.
func (s *Store) Snapshot() climate.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetLightIntensity stores v clamped to [0, 100] and returns the applied
// value and whether clamping occurred.
func (s *Store) SetLightIntensity(v int) (int, bool) {
	applied, clamped := s.clamp("light_intensity", v)

	s.mu.Lock()
	s.current.LightIntensity = applied
	s.mu.Unlock()

	s.logger.Info().Int("light_intensity", applied).Msg("Manual light intensity updated")

	return applied, clamped
}

// SetTargetHumidity stores v clamped to [0, 100] and returns the applied
// value and whether clamping occurred.
func (s *Store) SetTargetHumidity(v int) (int, bool) {
	applied, clamped := s.clamp("target_humidity", v)

	s.mu.Lock()
	s.current.TargetHumidity = applied
	s.mu.Unlock()

	s.logger.Info().Int("target_humidity", applied).Msg("Manual target humidity updated")

	return applied, clamped
}

// Set replaces both settings atomically.
func (s *Store) Set(next climate.Settings) climate.Settings {
	next.LightIntensity, _ = s.clamp("light_intensity", next.LightIntensity)
	next.TargetHumidity, _ = s.clamp("target_humidity", next.TargetHumidity)

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.logger.Info().
		Int("light_intensity", next.LightIntensity).
		Int("target_humidity", next.TargetHumidity).
		Msg("Manual settings replaced")

	return next
}

func (s *Store) clamp(field string, v int) (int, bool) {
	applied := v
	switch {
	case v < minValue:
		applied = minValue
	case v > maxValue:
		applied = maxValue
	default:
		return v, false
	}

	s.logger.Warn().
		Str("field", field).
		Int("requested", v).
		Int("applied", applied).
		Msg("Manual setting out of range, clamped")

	return applied, true
}
