package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/config"
	"codeberg.org/mutker/climactl/internal/console"
	"codeberg.org/mutker/climactl/internal/control"
	"codeberg.org/mutker/climactl/internal/device"
	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
	"codeberg.org/mutker/climactl/internal/metrics"
	"codeberg.org/mutker/climactl/internal/mqtt"
	"codeberg.org/mutker/climactl/internal/pid"
	"codeberg.org/mutker/climactl/internal/settings"
)

const mqttConnectTimeout = 30 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	initLogger(cfg)
	log := logger.Default()
	logger.Debug().Str("config_file", cfg.ConfigFile()).Msg("Config loaded")

	pidPath := pid.DefaultPath()
	if err := pid.Write(pidPath); err != nil {
		logError(err, "Failed to write PID file")
		return 1
	}
	defer func() {
		if err := pid.Remove(pidPath); err != nil {
			logError(err, "Failed to remove PID file")
		}
	}()

	bank, err := device.Open(cfg.Hardware, log)
	if err != nil {
		logError(err, "Failed to initialize hardware")
		return 1
	}
	defer func() {
		if err := bank.Close(); err != nil {
			logError(err, "Failed to release hardware")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observers := []control.Observer{control.NewLogObserver(log)}

	journal, err := metrics.NewService(metrics.Config{
		DBPath:        cfg.DutyLog.DBPath,
		BatchSize:     metrics.DefaultConfig().BatchSize,
		FlushInterval: metrics.DefaultConfig().FlushInterval,
		Enabled:       cfg.DutyLog.Enabled,
	}, log)
	if err != nil {
		logError(err, "Failed to initialize duty journal")
		return 1
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logError(err, "Failed to close duty journal")
		}
	}()
	observers = append(observers, journal)

	if cfg.MQTT.Enabled {
		if pub := connectMQTT(ctx, cfg.MQTT, log); pub != nil {
			defer pub.Close()
			observers = append(observers, pub)
		}
	}

	var con *console.Console
	if cfg.Console {
		con = console.New(os.Stdout, log)
		observers = append(observers, con)
	}

	store := settings.New(cfg.Settings(), log)
	loop, err := control.New(control.Config{
		Interval:  cfg.Interval,
		IOTimeout: cfg.IOTimeout,
		MaxFaults: cfg.MaxFaults,
	}, bank.Sensors, bank.Actuators, store,
		control.WithObservers(observers...),
		control.WithLogger(log),
	)
	if err != nil {
		logError(err, "Failed to create control loop")
		return 1
	}

	if err := loop.Start(ctx); err != nil {
		logError(err, "Failed to start control loop")
		return 1
	}
	logger.Info().
		Str("hardware", cfg.Hardware).
		Dur("interval", cfg.Interval).
		Int("light_intensity", store.Snapshot().LightIntensity).
		Int("target_humidity", store.Snapshot().TargetHumidity).
		Msg("Climate control started")

	go handleSignals(ctx, loop)

	if cfg.ConfigFile() != "" {
		err := cfg.Watch(ctx, func(s climate.Settings) {
			logger.Info().Msg("Config file changed, applying manual settings")
			loop.SetSettings(s)
		})
		if err != nil {
			logError(err, "Failed to watch config file")
		}
	}

	if con != nil {
		go func() {
			if err := con.Run(ctx, loop, os.Stdin); err != nil {
				logError(err, "Console stopped")
			}
		}()
	}

	if err := loop.Wait(); err != nil {
		logError(err, "Climate control stopped on error")
		return 1
	}

	logger.Info().Msg("Exiting...")
	return 0
}

// initLogger applies --debug, then --verbose, then log_level.
func initLogger(cfg *config.Config) {
	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())

	if cfg.Debug || cfg.Verbose {
		return
	}
	if level, ok := logger.ParseLevel(cfg.LogLevel); ok {
		logger.SetLogLevel(level)
	}
}

func connectMQTT(ctx context.Context, cfg config.MQTTConfig, log logger.Logger) *mqtt.Publisher {
	ctx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()

	pub, err := mqtt.Connect(ctx, mqtt.Config{
		BrokerURL:   cfg.Broker,
		ClientID:    cfg.ClientID,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TopicPrefix: cfg.TopicPrefix,
		QoS:         byte(cfg.QoS),
		Retained:    cfg.Retained,
	}, log)
	if err != nil {
		// Control keeps running without the broker.
		logError(err, "MQTT unavailable, continuing without publishing")
		return nil
	}

	return pub
}

func handleSignals(ctx context.Context, loop *control.Loop) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-loop.Done():
			return
		case sig := <-sigs:
			logger.Info().Str("signal", sig.String()).Msg("Received termination signal")
			loop.RequestStop()
		}
	}
}

func logError(err error, msg string) {
	var coded errors.Error
	if errors.As(err, &coded) {
		logger.ErrorWithCode(coded).Msg(msg)
		return
	}
	logger.Error().Err(err).Msg(msg)
}
