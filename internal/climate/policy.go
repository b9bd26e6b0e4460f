package climate

import (
	"fmt"

	"codeberg.org/mutker/climactl/internal/errors"
)

const (
	exhaustAboveTemperature = 28
	intakeBelowTemperature  = 20
	rainBelowHumidity       = 30
	lightIntensityThreshold = 50

	minSafeTemperature = 15
	maxSafeTemperature = 35
	minSafeHumidity    = 30
	maxSafeHumidity    = 70

	// SHT2x operating range; anything outside is a bad read.
	minPlausibleTemperature = -40
	maxPlausibleTemperature = 125
	maxPlausibleHumidity    = 100
)

var (
	lightsOn  = Clock(6, 0)
	lightsOff = Clock(18, 0)
)

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Commands Commands
	Alerts   []Alert
}

// Decide maps a reading, the operator settings and the time of day to
// actuator commands and alerts. Each rule is evaluated independently; there
// are no interlocks between actuators.
func Decide(r Reading, s Settings, now TimeOfDay) Decision {
	var cmd Commands

	switch {
	case r.Temperature > exhaustAboveTemperature:
		cmd.Exhaust = true
	case r.Temperature < intakeBelowTemperature:
		cmd.Intake = true
	}

	cmd.Humidifier = int(r.Humidity) < s.TargetHumidity
	cmd.Light = InLightWindow(now) && s.LightIntensity > lightIntensityThreshold
	cmd.Rain = r.Humidity < rainBelowHumidity

	return Decision{
		Commands: cmd,
		Alerts:   CheckAlerts(r),
	}
}

// InLightWindow reports whether now falls in the daylight window
// [06:00, 18:00).
func InLightWindow(now TimeOfDay) bool {
	return now >= lightsOn && now < lightsOff
}

// CheckAlerts returns an alert for every reading outside its safe band.
func CheckAlerts(r Reading) []Alert {
	var alerts []Alert

	if r.Temperature < minSafeTemperature || r.Temperature > maxSafeTemperature {
		alerts = append(alerts, Alert{
			Kind:    TemperatureOutOfRange,
			Value:   r.Temperature,
			Message: fmt.Sprintf("temperature out of range (%d°C)", r.Temperature),
		})
	}

	if r.Humidity < minSafeHumidity || r.Humidity > maxSafeHumidity {
		alerts = append(alerts, Alert{
			Kind:    HumidityOutOfRange,
			Value:   int(r.Humidity),
			Message: fmt.Sprintf("humidity out of range (%d%%)", r.Humidity),
		})
	}

	return alerts
}

// Validate rejects readings no working sensor can produce.
func (r Reading) Validate() error {
	errFactory := errors.New()

	if r.Temperature < minPlausibleTemperature || r.Temperature > maxPlausibleTemperature {
		return errFactory.WithData(errors.ErrSensorFault,
			fmt.Sprintf("implausible temperature %d°C", r.Temperature))
	}

	if r.Humidity > maxPlausibleHumidity {
		return errFactory.WithData(errors.ErrSensorFault,
			fmt.Sprintf("implausible humidity %d%%", r.Humidity))
	}

	return nil
}

func FormatTemperature(r Reading) string {
	return fmt.Sprintf("Temperature: %d°C", r.Temperature)
}

func FormatHumidity(r Reading) string {
	return fmt.Sprintf("Humidity: %d%%", r.Humidity)
}

func FormatLight(r Reading) string {
	return fmt.Sprintf("Light: %d lux", r.Light)
}
