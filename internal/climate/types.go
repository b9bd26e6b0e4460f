package climate

import (
	"fmt"
	"time"
)

// Reading is one sample of every enclosure sensor, taken once per tick.
type Reading struct {
	Temperature int  // °C
	Humidity    uint // relative humidity, percent
	Light       uint // lux
}

// Settings holds the operator's manual overrides, each in [0, 100].
type Settings struct {
	LightIntensity int
	TargetHumidity int
}

// DefaultSettings matches the controller's power-on state: full light,
// 50% target humidity.
func DefaultSettings() Settings {
	return Settings{
		LightIntensity: 100,
		TargetHumidity: 50,
	}
}

// ActuatorID identifies one relay-driven device in the enclosure.
type ActuatorID int

const (
	Exhaust ActuatorID = iota
	Intake
	Humidifier
	Light
	Rain
)

var actuatorNames = [...]string{
	Exhaust:    "exhaust",
	Intake:     "intake",
	Humidifier: "humidifier",
	Light:      "light",
	Rain:       "rain",
}

func (id ActuatorID) String() string {
	if id < 0 || int(id) >= len(actuatorNames) {
		return fmt.Sprintf("actuator(%d)", int(id))
	}

	return actuatorNames[id]
}

// ParseActuator returns the actuator with the given name.
func ParseActuator(name string) (ActuatorID, bool) {
	for id, n := range actuatorNames {
		if n == name {
			return ActuatorID(id), true
		}
	}

	return 0, false
}

// Actuators lists every actuator in the order commands are applied.
func Actuators() []ActuatorID {
	return []ActuatorID{Exhaust, Intake, Humidifier, Light, Rain}
}

// Commands is the desired on/off state of every actuator for one tick.
type Commands struct {
	Exhaust    bool
	Intake     bool
	Humidifier bool
	Light      bool
	Rain       bool
}

// Get returns the commanded state for id. Unknown ids are reported off.
func (c Commands) Get(id ActuatorID) bool {
	switch id {
	case Exhaust:
		return c.Exhaust
	case Intake:
		return c.Intake
	case Humidifier:
		return c.Humidifier
	case Light:
		return c.Light
	case Rain:
		return c.Rain
	default:
		return false
	}
}

// Each calls fn for every actuator in application order.
func (c Commands) Each(fn func(id ActuatorID, on bool)) {
	for _, id := range Actuators() {
		fn(id, c.Get(id))
	}
}

// AllOff is the safe state every actuator is driven to on shutdown.
func AllOff() Commands {
	return Commands{}
}

type AlertKind int

const (
	TemperatureOutOfRange AlertKind = iota + 1
	HumidityOutOfRange
)

func (k AlertKind) String() string {
	switch k {
	case TemperatureOutOfRange:
		return "temperature_out_of_range"
	case HumidityOutOfRange:
		return "humidity_out_of_range"
	default:
		return "unknown"
	}
}

// Alert reports a reading outside the safe band. Alerts are raised on every
// tick the condition holds.
type Alert struct {
	Kind    AlertKind
	Value   int
	Message string
}

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// Clock builds a TimeOfDay from hours and minutes, wrapping past midnight.
func Clock(hour, minute int) TimeOfDay {
	m := (hour*60 + minute) % minutesPerDay
	if m < 0 {
		m += minutesPerDay
	}

	return TimeOfDay(m)
}

// TimeOfDayOf returns the local time of day of t.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return Clock(t.Hour(), t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}
