package metrics

import (
	"sync"
	"time"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/control"
	"codeberg.org/mutker/climactl/internal/device"
	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
)

// DutyRecorder derives actuator transitions and on-time from the status
// stream. An actuator whose write failed in a tick keeps its previous state,
// since the relay was not switched.
type DutyRecorder struct {
	repo   Repository
	logger logger.Logger

	mu      sync.Mutex
	known   bool
	state   climate.Commands
	onSince map[climate.ActuatorID]time.Time
	last    time.Time
}

// No-op implementation
type noopRecorder struct{}

// NewService returns the duty journal recorder for cfg, or a no-op recorder
// when the journal is disabled.
func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	log = log.With("dutylog")

	if !cfg.Enabled {
		log.Debug().Msg("Duty journal disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return NewDutyRecorder(repo, log), nil
}

func NewDutyRecorder(repo Repository, log logger.Logger) *DutyRecorder {
	return &DutyRecorder{
		repo:    repo,
		logger:  log,
		onSince: make(map[climate.ActuatorID]time.Time),
	}
}

func (d *DutyRecorder) OnStatus(status control.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if status.Time.After(d.last) {
		d.last = status.Time
	}
	if !status.Sensed {
		return
	}

	failed := failedActuators(status.Faults)

	var entries []Entry
	status.Commands.Each(func(id climate.ActuatorID, on bool) {
		if failed[id] {
			return
		}

		prev := d.state.Get(id)
		if d.known && prev == on {
			return
		}
		// The first status only establishes a baseline for actuators that
		// are off; relays start reset.
		if !d.known && !on {
			return
		}

		entries = append(entries, d.switchLocked(id, on, status.Time)...)
	})
	d.known = true

	d.record(entries)
}

func (*DutyRecorder) OnAlert(climate.Alert) {}

func (*DutyRecorder) OnFault(errors.Error) {}

// Close credits every actuator still on up to the last status time and
// records it switching off, matching the reset performed at shutdown.
func (d *DutyRecorder) Close() error {
	d.mu.Lock()
	var entries []Entry
	for _, id := range climate.Actuators() {
		if d.state.Get(id) {
			entries = append(entries, d.switchLocked(id, false, d.last)...)
		}
	}
	d.mu.Unlock()

	d.record(entries)

	if err := d.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

// switchLocked updates the tracked state and returns the journal entries for
// the change. The caller holds d.mu.
func (d *DutyRecorder) switchLocked(id climate.ActuatorID, on bool, at time.Time) []Entry {
	entries := []Entry{{Transition: &Transition{Time: at, Actuator: id, On: on}}}

	if on {
		d.onSince[id] = at
	} else if since, ok := d.onSince[id]; ok {
		for _, share := range splitByDay(id, since, at) {
			share := share
			entries = append(entries, Entry{OnTime: &share})
		}
		delete(d.onSince, id)
	}
	setCommand(&d.state, id, on)

	return entries
}

func (d *DutyRecorder) record(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	if err := d.repo.Record(entries...); err != nil {
		d.logger.ErrorWithCode(errors.New().Wrap(ErrRecord, err)).Msg("Failed to record actuator duty")
	}
}

// splitByDay credits the interval [from, to) to the local days it spans.
func splitByDay(id climate.ActuatorID, from, to time.Time) []OnTime {
	var out []OnTime
	for from.Before(to) {
		y, m, d := from.Date()
		end := time.Date(y, m, d+1, 0, 0, 0, 0, from.Location())
		if end.After(to) {
			end = to
		}
		out = append(out, OnTime{Day: from.Format(dayLayout), Actuator: id, Duration: end.Sub(from)})
		from = end
	}
	return out
}

func failedActuators(faults []errors.Error) map[climate.ActuatorID]bool {
	failed := make(map[climate.ActuatorID]bool)
	for _, fault := range faults {
		if id, ok := device.ActuatorOf(fault); ok {
			failed[id] = true
		}
	}
	return failed
}

func setCommand(c *climate.Commands, id climate.ActuatorID, on bool) {
	switch id {
	case climate.Exhaust:
		c.Exhaust = on
	case climate.Intake:
		c.Intake = on
	case climate.Humidifier:
		c.Humidifier = on
	case climate.Light:
		c.Light = on
	case climate.Rain:
		c.Rain = on
	}
}

func (*noopRecorder) OnStatus(control.Status) {}

func (*noopRecorder) OnAlert(climate.Alert) {}

func (*noopRecorder) OnFault(errors.Error) {}

func (*noopRecorder) Close() error {
	return nil
}
