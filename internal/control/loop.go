package control

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/device"
	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
	"codeberg.org/mutker/climactl/internal/settings"
)

// Loop runs the sense, decide, actuate and publish cycle on a fixed period.
// A Loop runs at most once: Idle -> Running -> Stopping -> Stopped.
type Loop struct {
	cfg       Config
	sensors   device.Sensors
	actuators device.Actuators
	settings  *settings.Store
	observers Observers
	now       func() time.Time
	logger    logger.Logger

	mu       sync.Mutex
	state    State
	err      error
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	ticks atomic.Uint64

	// Port calls still running, including ones abandoned on timeout.
	pending *inflight

	// Owned by the loop goroutine.
	sensorFaults   int
	actuatorFaults int
}

type Option func(*Loop)

func WithObservers(observers ...Observer) Option {
	return func(l *Loop) {
		l.observers = append(l.observers, observers...)
	}
}

// WithClock replaces the wall clock used for the daylight window.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

func WithLogger(log logger.Logger) Option {
	return func(l *Loop) {
		l.logger = log
	}
}

func New(cfg Config, sensors device.Sensors, actuators device.Actuators, store *settings.Store, opts ...Option) (*Loop, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if sensors == nil || actuators == nil || store == nil {
		return nil, errFactory.WithData(errors.ErrInvalidArgument, "sensors, actuators and settings are required")
	}

	l := &Loop{
		cfg:       cfg,
		sensors:   sensors,
		actuators: actuators,
		settings:  store,
		now:       time.Now,
		logger:    logger.Nop(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		pending:   newInflight(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("control")

	return l, nil
}

// Start begins ticking in a new goroutine. Cancelling ctx is treated as a
// stop request; it never interrupts a tick in flight.
func (l *Loop) Start(ctx context.Context) error {
	errFactory := errors.New()

	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Idle:
	case Stopped:
		return errFactory.New(errors.ErrLoopStopped)
	default:
		return errFactory.New(errors.ErrLoopStarted)
	}

	l.state = Running
	l.logger.Info().
		Dur("interval", l.cfg.Interval).
		Dur("io_timeout", l.cfg.IOTimeout).
		Int("max_faults", l.cfg.MaxFaults).
		Msg("Control loop started")

	go l.run(ctx)

	return nil
}

// RequestStop asks the loop to stop after the tick in flight. It never
// blocks and may be called any number of times from any goroutine.
func (l *Loop) RequestStop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Idle:
		l.state = Stopped
		l.stopOnce.Do(func() { close(l.stop) })
		close(l.done)
	case Running:
		l.state = Stopping
		l.stopOnce.Do(func() { close(l.stop) })
		l.logger.Info().Msg("Stop requested")
	}
}

// Wait blocks until the loop is Stopped and returns the terminal error, if
// the loop stopped on a fatal fault or failed to reset the actuators.
func (l *Loop) Wait() error {
	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Done is closed once the loop is Stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Ticks returns the number of ticks started so far.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

func (l *Loop) Settings() climate.Settings {
	return l.settings.Snapshot()
}

func (l *Loop) SetLightIntensity(v int) (int, bool) {
	return l.settings.SetLightIntensity(v)
}

func (l *Loop) SetTargetHumidity(v int) (int, bool) {
	return l.settings.SetTargetHumidity(v)
}

// SetSettings replaces both manual settings at once, clamping each.
func (l *Loop) SetSettings(s climate.Settings) climate.Settings {
	return l.settings.Set(s)
}

func (l *Loop) run(ctx context.Context) {
	// Tick I/O outlives ctx so a stop never lands mid-tick.
	ioCtx := context.WithoutCancel(ctx)

	// The delay restarts after every tick; a slow tick pushes the next one
	// back instead of being made up.
	timer := time.NewTimer(l.cfg.Interval)
	defer timer.Stop()

	var fatal errors.Error
	for !l.stopRequested(ctx) {
		if fatal = l.tick(ioCtx); fatal != nil {
			break
		}

		timer.Reset(l.cfg.Interval)
		select {
		case <-ctx.Done():
		case <-l.stop:
		case <-timer.C:
		}
	}

	l.shutdown(fatal)
}

func (l *Loop) stopRequested(ctx context.Context) bool {
	select {
	case <-l.stop:
		return true
	case <-ctx.Done():
		l.mu.Lock()
		if l.state == Running {
			l.state = Stopping
			l.logger.Info().Msg("Context cancelled, stopping")
		}
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// tick runs one cycle and returns a loop_fatal error once the fault ceiling
// is reached.
func (l *Loop) tick(ctx context.Context) errors.Error {
	now := l.now()
	status := Status{
		Time:     now,
		Tick:     l.ticks.Add(1),
		Settings: l.settings.Snapshot(),
	}

	reading, err := l.readAll(ctx)
	if err != nil {
		l.sensorFaults++
		status.Degraded = true
		status.Faults = []errors.Error{err}

		l.logger.Warn().
			Uint64("tick", status.Tick).
			Int("consecutive", l.sensorFaults).
			Err(err).
			Msg("Sensor fault, skipping decision")

		l.publish(status, nil)
		return l.checkCeiling(err)
	}
	l.sensorFaults = 0

	decision := climate.Decide(reading, status.Settings, climate.TimeOfDayOf(now))

	status.Sensed = true
	status.Reading = reading
	status.Commands = decision.Commands
	status.TemperatureText = climate.FormatTemperature(reading)
	status.HumidityText = climate.FormatHumidity(reading)
	status.LightText = climate.FormatLight(reading)

	status.Faults = l.apply(ctx, decision.Commands)
	status.Degraded = len(status.Faults) > 0
	if len(status.Faults) == len(climate.Actuators()) {
		l.actuatorFaults++
	} else {
		l.actuatorFaults = 0
	}

	l.logger.Debug().
		Uint64("tick", status.Tick).
		Int("temperature", reading.Temperature).
		Uint("humidity", reading.Humidity).
		Uint("light", reading.Light).
		Int("light_intensity", status.Settings.LightIntensity).
		Int("target_humidity", status.Settings.TargetHumidity).
		Bool("exhaust", decision.Commands.Exhaust).
		Bool("intake", decision.Commands.Intake).
		Bool("humidifier", decision.Commands.Humidifier).
		Bool("light_on", decision.Commands.Light).
		Bool("rain", decision.Commands.Rain).
		Int("alerts", len(decision.Alerts)).
		Int("faults", len(status.Faults)).
		Msg("")

	l.publish(status, decision.Alerts)

	if l.actuatorFaults > 0 {
		return l.checkCeiling(status.Faults[len(status.Faults)-1])
	}

	return nil
}

// readAll reads every sensor; any failure fails the whole reading.
func (l *Loop) readAll(ctx context.Context) (climate.Reading, errors.Error) {
	var r climate.Reading

	// A call abandoned by an earlier tick must finish before the ports are
	// used again.
	if err := l.awaitIdle(ctx); err != nil {
		return climate.Reading{}, asFault(errors.ErrSensorFault, err, "busy")
	}

	err := l.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		if r.Temperature, err = l.sensors.ReadTemperature(ctx); err != nil {
			return err
		}
		if r.Humidity, err = l.sensors.ReadHumidity(ctx); err != nil {
			return err
		}
		r.Light, err = l.sensors.ReadLight(ctx)
		return err
	})
	if err != nil {
		return climate.Reading{}, asFault(errors.ErrSensorFault, err, "read")
	}

	if err := r.Validate(); err != nil {
		return climate.Reading{}, asFault(errors.ErrSensorFault, err, "validate")
	}

	return r, nil
}

// apply writes every command, continuing past individual failures.
func (l *Loop) apply(ctx context.Context, cmd climate.Commands) []errors.Error {
	var faults []errors.Error

	cmd.Each(func(id climate.ActuatorID, on bool) {
		err := l.awaitIdle(ctx)
		if err == nil {
			err = l.withTimeout(ctx, func(ctx context.Context) error {
				return l.actuators.SetState(ctx, id, on)
			})
		}
		if err != nil {
			fault := asFault(errors.ErrActuatorFault, err, id.String())
			l.logger.ErrorWithCode(fault).Str("actuator", id.String()).Bool("on", on).Msg("Actuator write failed")
			faults = append(faults, fault)
		}
	})

	return faults
}

func (l *Loop) publish(status Status, alerts []climate.Alert) {
	l.observers.OnStatus(status)
	for _, alert := range alerts {
		l.observers.OnAlert(alert)
	}
	for _, fault := range status.Faults {
		l.observers.OnFault(fault)
	}
}

func (l *Loop) checkCeiling(last errors.Error) errors.Error {
	if l.cfg.MaxFaults == 0 {
		return nil
	}

	errFactory := errors.New()

	if l.sensorFaults >= l.cfg.MaxFaults {
		return errFactory.Wrap(errors.ErrLoopFatal, last).
			WithData(fmt.Sprintf("%d consecutive sensor faults", l.sensorFaults))
	}
	if l.actuatorFaults >= l.cfg.MaxFaults {
		return errFactory.Wrap(errors.ErrLoopFatal, last).
			WithData(fmt.Sprintf("%d consecutive ticks with every actuator failing", l.actuatorFaults))
	}

	return nil
}

// shutdown drives every actuator off and marks the loop Stopped.
func (l *Loop) shutdown(fatal errors.Error) {
	var terminal []error

	l.mu.Lock()
	l.state = Stopping
	l.mu.Unlock()

	if fatal != nil {
		l.logger.ErrorWithCode(fatal).Uint64("ticks", l.Ticks()).Msg("Control loop giving up")
		l.observers.OnFault(fatal)
		terminal = append(terminal, fatal)
	}

	reportReset := func(err error) {
		fault := errors.New().Wrap(errors.ErrResetFailed, err)
		l.logger.ErrorWithCode(fault).Msg("Failed to reset actuators")
		l.observers.OnFault(fault)
		terminal = append(terminal, fault)
	}

	// An abandoned write landing after the reset would switch a relay back
	// on, so stale calls drain first.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), l.cfg.resetTimeout())
	drained := l.pending.wait(drainCtx)
	cancelDrain()

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.resetTimeout())
	defer cancel()

	switch err := l.withDeadline(ctx, l.actuators.ResetAll); {
	case err != nil:
		reportReset(err)
	case !drained:
		reportReset(errors.New().WithData(errors.ErrTimeout,
			fmt.Sprintf("%d port call(s) still in flight after reset", l.pending.count())))
	default:
		l.logger.Info().Msg("All actuators reset to off")
	}

	l.mu.Lock()
	if len(terminal) > 0 {
		l.err = errors.Join(terminal...)
	}
	l.state = Stopped
	l.mu.Unlock()

	l.logger.Info().Uint64("ticks", l.Ticks()).Msg("Control loop stopped")
	close(l.done)
}

// withTimeout runs fn under the configured I/O timeout.
func (l *Loop) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	if l.cfg.IOTimeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.IOTimeout)
	defer cancel()

	return l.withDeadline(ctx, fn)
}

// withDeadline returns when fn does or when ctx expires, whichever is first.
// Drivers that ignore ctx are abandoned on expiry; they stay counted in
// l.pending until they return.
func (l *Loop) withDeadline(ctx context.Context, fn func(context.Context) error) error {
	result := make(chan error, 1)
	l.pending.add()
	go func() {
		defer l.pending.done()
		result <- fn(ctx)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	}
}

// awaitIdle waits up to the I/O timeout for abandoned calls to return.
func (l *Loop) awaitIdle(ctx context.Context) error {
	if l.pending.count() == 0 {
		return nil
	}

	if l.cfg.IOTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.IOTimeout)
		defer cancel()
	}

	if !l.pending.wait(ctx) {
		return errors.New().WithData(errors.ErrTimeout,
			fmt.Sprintf("%d earlier port call(s) still in flight", l.pending.count()))
	}

	l.logger.Debug().Msg("Abandoned port calls returned")
	return nil
}

// asFault returns err as a coded fault carrying code, wrapping it when the
// adapter did not already.
func asFault(code errors.ErrorCode, err error, data string) errors.Error {
	var coded errors.Error
	if errors.As(err, &coded) && coded.Code() == code {
		return coded
	}

	return errors.New().Wrap(code, err).WithData(data)
}
