package climate_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noon = climate.Clock(12, 0)

func TestDecideTemperature(t *testing.T) {
	tests := []struct {
		temperature int
		exhaust     bool
		intake      bool
	}{
		{temperature: 40, exhaust: true},
		{temperature: 29, exhaust: true},
		{temperature: 28},
		{temperature: 24},
		{temperature: 20},
		{temperature: 19, intake: true},
		{temperature: -5, intake: true},
	}

	for _, tt := range tests {
		d := climate.Decide(climate.Reading{Temperature: tt.temperature, Humidity: 50}, climate.DefaultSettings(), noon)
		assert.Equal(t, tt.exhaust, d.Commands.Exhaust, "exhaust at %d°C", tt.temperature)
		assert.Equal(t, tt.intake, d.Commands.Intake, "intake at %d°C", tt.temperature)
	}
}

func TestDecideHumidifier(t *testing.T) {
	tests := []struct {
		humidity uint
		target   int
		want     bool
	}{
		{humidity: 49, target: 50, want: true},
		{humidity: 50, target: 50},
		{humidity: 51, target: 50},
		{humidity: 0, target: 0},
		{humidity: 99, target: 100, want: true},
		{humidity: 100, target: 100},
		{humidity: 10, target: 5},
	}

	for _, tt := range tests {
		s := climate.Settings{LightIntensity: 100, TargetHumidity: tt.target}
		d := climate.Decide(climate.Reading{Temperature: 24, Humidity: tt.humidity}, s, noon)
		assert.Equal(t, tt.want, d.Commands.Humidifier, "humidity %d target %d", tt.humidity, tt.target)
	}
}

func TestDecideRainIgnoresTarget(t *testing.T) {
	for _, target := range []int{0, 20, 50, 100} {
		s := climate.Settings{LightIntensity: 0, TargetHumidity: target}

		d := climate.Decide(climate.Reading{Temperature: 24, Humidity: 29}, s, noon)
		assert.True(t, d.Commands.Rain, "target %d", target)

		d = climate.Decide(climate.Reading{Temperature: 24, Humidity: 30}, s, noon)
		assert.False(t, d.Commands.Rain, "target %d", target)
	}
}

func TestDecideLight(t *testing.T) {
	tests := []struct {
		name      string
		now       climate.TimeOfDay
		intensity int
		want      bool
	}{
		{"window opens at six", climate.Clock(6, 0), 100, true},
		{"just before six", climate.Clock(5, 59), 100, false},
		{"last minute of window", climate.Clock(17, 59), 100, true},
		{"window closes at eighteen", climate.Clock(18, 0), 100, false},
		{"midnight", climate.Clock(0, 0), 100, false},
		{"intensity at threshold", noon, 50, false},
		{"intensity above threshold", noon, 51, true},
		{"intensity zero", noon, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := climate.Settings{LightIntensity: tt.intensity, TargetHumidity: 50}
			d := climate.Decide(climate.Reading{Temperature: 24, Humidity: 50}, s, tt.now)
			assert.Equal(t, tt.want, d.Commands.Light)
		})
	}
}

func TestCheckAlerts(t *testing.T) {
	tests := []struct {
		name  string
		r     climate.Reading
		kinds []climate.AlertKind
	}{
		{"in band", climate.Reading{Temperature: 25, Humidity: 50}, nil},
		{"temperature at low edge", climate.Reading{Temperature: 15, Humidity: 50}, nil},
		{"temperature at high edge", climate.Reading{Temperature: 35, Humidity: 50}, nil},
		{"humidity at low edge", climate.Reading{Temperature: 25, Humidity: 30}, nil},
		{"humidity at high edge", climate.Reading{Temperature: 25, Humidity: 70}, nil},
		{"too cold", climate.Reading{Temperature: 14, Humidity: 50}, []climate.AlertKind{climate.TemperatureOutOfRange}},
		{"too hot", climate.Reading{Temperature: 36, Humidity: 50}, []climate.AlertKind{climate.TemperatureOutOfRange}},
		{"too dry", climate.Reading{Temperature: 25, Humidity: 29}, []climate.AlertKind{climate.HumidityOutOfRange}},
		{"too wet", climate.Reading{Temperature: 25, Humidity: 71}, []climate.AlertKind{climate.HumidityOutOfRange}},
		{
			"both",
			climate.Reading{Temperature: 40, Humidity: 90},
			[]climate.AlertKind{climate.TemperatureOutOfRange, climate.HumidityOutOfRange},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := climate.CheckAlerts(tt.r)
			var kinds []climate.AlertKind
			for _, a := range alerts {
				kinds = append(kinds, a.Kind)
			}
			assert.Equal(t, tt.kinds, kinds)
		})
	}
}

func TestDecideWarmDayScenario(t *testing.T) {
	d := climate.Decide(
		climate.Reading{Temperature: 30, Humidity: 45, Light: 500},
		climate.Settings{LightIntensity: 100, TargetHumidity: 50},
		climate.Clock(12, 0),
	)

	assert.Equal(t, climate.Commands{Exhaust: true, Humidifier: true, Light: true}, d.Commands)
	assert.Empty(t, d.Alerts)
}

func TestDecideColdNightScenario(t *testing.T) {
	d := climate.Decide(
		climate.Reading{Temperature: 10, Humidity: 20, Light: 0},
		climate.Settings{LightIntensity: 30, TargetHumidity: 50},
		climate.Clock(3, 0),
	)

	assert.Equal(t, climate.Commands{Intake: true, Humidifier: true, Rain: true}, d.Commands)
	require.Len(t, d.Alerts, 2)
	assert.Equal(t, climate.Alert{
		Kind:    climate.TemperatureOutOfRange,
		Value:   10,
		Message: "temperature out of range (10°C)",
	}, d.Alerts[0])
	assert.Equal(t, climate.Alert{
		Kind:    climate.HumidityOutOfRange,
		Value:   20,
		Message: "humidity out of range (20%)",
	}, d.Alerts[1])
}

func TestReadingValidate(t *testing.T) {
	assert.NoError(t, climate.Reading{Temperature: 25, Humidity: 100}.Validate())
	assert.NoError(t, climate.Reading{Temperature: -40, Humidity: 0}.Validate())

	err := climate.Reading{Temperature: 25, Humidity: 101}.Validate()
	require.Error(t, err)
	assert.Equal(t, errors.ErrSensorFault, errors.CodeOf(err))

	err = climate.Reading{Temperature: 200, Humidity: 50}.Validate()
	require.Error(t, err)
	assert.Equal(t, errors.ErrSensorFault, errors.CodeOf(err))
}

func TestTimeOfDay(t *testing.T) {
	assert.Equal(t, "06:00", climate.Clock(6, 0).String())
	assert.Equal(t, "00:30", climate.Clock(24, 30).String())
	assert.Equal(t, "23:59", climate.Clock(0, -1).String())

	at := time.Date(2024, 5, 1, 17, 45, 12, 0, time.Local)
	assert.Equal(t, climate.Clock(17, 45), climate.TimeOfDayOf(at))
}

func TestCommandsEach(t *testing.T) {
	cmd := climate.Commands{Intake: true, Rain: true}

	var seen []climate.ActuatorID
	on := map[climate.ActuatorID]bool{}
	cmd.Each(func(id climate.ActuatorID, state bool) {
		seen = append(seen, id)
		on[id] = state
	})

	assert.Equal(t, climate.Actuators(), seen)
	assert.True(t, on[climate.Intake])
	assert.True(t, on[climate.Rain])
	assert.False(t, on[climate.Exhaust])
	assert.Equal(t, "humidifier", climate.Humidifier.String())
	assert.Equal(t, "actuator(9)", climate.ActuatorID(9).String())
}

func TestStatusText(t *testing.T) {
	r := climate.Reading{Temperature: 25, Humidity: 45, Light: 500}

	assert.Equal(t, "Temperature: 25°C", climate.FormatTemperature(r))
	assert.Equal(t, "Humidity: 45%", climate.FormatHumidity(r))
	assert.Equal(t, "Light: 500 lux", climate.FormatLight(r))
}

func TestParseActuator(t *testing.T) {
	for _, id := range climate.Actuators() {
		got, ok := climate.ParseActuator(id.String())
		require.True(t, ok, id.String())
		assert.Equal(t, id, got)
	}

	_, ok := climate.ParseActuator("heater")
	assert.False(t, ok)
}
