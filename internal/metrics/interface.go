package metrics

import (
	"time"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/control"
)

// Recorder journals actuator duty from the loop's status stream.
type Recorder interface {
	control.Observer
	// Close accounts open on-intervals up to the last status seen, flushes
	// and releases the store.
	Close() error
}

// Repository defines the interface for duty journal storage
type Repository interface {
	Record(entries ...Entry) error
	Transitions(since time.Time) ([]Transition, error)
	DailyOnTime(day string) (map[climate.ActuatorID]time.Duration, error)
	Close() error
}

// Transition is one actuator switching on or off.
type Transition struct {
	Time     time.Time
	Actuator climate.ActuatorID
	On       bool
}

// OnTime is a slice of on-time credited to one actuator on one local day.
type OnTime struct {
	Day      string // YYYY-MM-DD
	Actuator climate.ActuatorID
	Duration time.Duration
}

// Entry is a buffered journal write; exactly one field is set.
type Entry struct {
	Transition *Transition
	OnTime     *OnTime
}
