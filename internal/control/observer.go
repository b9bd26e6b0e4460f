package control

import (
	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
)

// LogObserver writes every published event to a logger. Status lines go out
// at info level so they appear with --verbose; alerts and faults always do.
type LogObserver struct {
	logger logger.Logger
}

func NewLogObserver(log logger.Logger) *LogObserver {
	return &LogObserver{logger: log.With("status")}
}

func (o *LogObserver) OnStatus(status Status) {
	if !status.Sensed {
		o.logger.Warn().
			Uint64("tick", status.Tick).
			Int("faults", len(status.Faults)).
			Msg("Status degraded: no reading")
		return
	}

	o.logger.Info().
		Uint64("tick", status.Tick).
		Str("temperature", status.TemperatureText).
		Str("humidity", status.HumidityText).
		Str("light", status.LightText).
		Bool("degraded", status.Degraded).
		Msg("")
}

func (o *LogObserver) OnAlert(alert climate.Alert) {
	o.logger.Warn().
		Str("kind", alert.Kind.String()).
		Int("value", alert.Value).
		Msg(alert.Message)
}

func (o *LogObserver) OnFault(fault errors.Error) {
	o.logger.ErrorWithCode(fault).Msg("Fault reported")
}
