package mqtt

import (
	"time"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/control"
	"codeberg.org/mutker/climactl/internal/device"
	"codeberg.org/mutker/climactl/internal/errors"
)

type settingsMessage struct {
	LightIntensity int `json:"light_intensity"`
	TargetHumidity int `json:"target_humidity"`
}

type readingMessage struct {
	Temperature int  `json:"temperature"`
	Humidity    uint `json:"humidity"`
	Light       uint `json:"light"`
}

type commandsMessage struct {
	Exhaust    bool `json:"exhaust"`
	Intake     bool `json:"intake"`
	Humidifier bool `json:"humidifier"`
	Light      bool `json:"light"`
	Rain       bool `json:"rain"`
}

type statusMessage struct {
	Time     time.Time        `json:"time"`
	Tick     uint64           `json:"tick"`
	Settings settingsMessage  `json:"settings"`
	Sensed   bool             `json:"sensed"`
	Reading  *readingMessage  `json:"reading,omitempty"`
	Commands *commandsMessage `json:"commands,omitempty"`
	Text     []string         `json:"text,omitempty"`
	Degraded bool             `json:"degraded"`
	Faults   []faultMessage   `json:"faults,omitempty"`
}

type alertMessage struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Value   int       `json:"value"`
	Message string    `json:"message"`
}

type faultMessage struct {
	Time     time.Time `json:"time"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Actuator string    `json:"actuator,omitempty"`
}

func newStatusMessage(s control.Status) statusMessage {
	msg := statusMessage{
		Time: s.Time,
		Tick: s.Tick,
		Settings: settingsMessage{
			LightIntensity: s.Settings.LightIntensity,
			TargetHumidity: s.Settings.TargetHumidity,
		},
		Sensed:   s.Sensed,
		Degraded: s.Degraded,
	}

	if s.Sensed {
		msg.Reading = &readingMessage{
			Temperature: s.Reading.Temperature,
			Humidity:    s.Reading.Humidity,
			Light:       s.Reading.Light,
		}
		msg.Commands = &commandsMessage{
			Exhaust:    s.Commands.Get(climate.Exhaust),
			Intake:     s.Commands.Get(climate.Intake),
			Humidifier: s.Commands.Get(climate.Humidifier),
			Light:      s.Commands.Get(climate.Light),
			Rain:       s.Commands.Get(climate.Rain),
		}
		msg.Text = []string{s.TemperatureText, s.HumidityText, s.LightText}
	}

	for _, fault := range s.Faults {
		fm := newFaultMessage(fault)
		fm.Time = s.Time
		msg.Faults = append(msg.Faults, fm)
	}

	return msg
}

func newFaultMessage(fault errors.Error) faultMessage {
	msg := faultMessage{
		Code:    string(fault.Code()),
		Message: fault.Error(),
	}
	if id, ok := device.ActuatorOf(fault); ok {
		msg.Actuator = id.String()
	}
	return msg
}
