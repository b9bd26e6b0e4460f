package control

import (
	"time"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/errors"
)

// Observer receives everything the loop publishes. Methods are called
// synchronously from the loop goroutine, so implementations must return
// quickly or they delay the next tick.
type Observer interface {
	OnStatus(status Status)
	OnAlert(alert climate.Alert)
	OnFault(fault errors.Error)
}

// Status is the snapshot published once per tick.
type Status struct {
	Time     time.Time
	Tick     uint64
	Settings climate.Settings

	// Sensed is false when the sensors could not be read; Reading,
	// Commands and the text fields are then zero.
	Sensed   bool
	Reading  climate.Reading
	Commands climate.Commands

	TemperatureText string
	HumidityText    string
	LightText       string

	Degraded bool
	Faults   []errors.Error
}

// State is the lifecycle position of a Loop.
type State int32

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Observers fans every event out to each member in order.
type Observers []Observer

func (o Observers) OnStatus(status Status) {
	for _, obs := range o {
		obs.OnStatus(status)
	}
}

func (o Observers) OnAlert(alert climate.Alert) {
	for _, obs := range o {
		obs.OnAlert(alert)
	}
}

func (o Observers) OnFault(fault errors.Error) {
	for _, obs := range o {
		obs.OnFault(fault)
	}
}
