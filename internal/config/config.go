package config

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/climactl/internal/climate"
	"codeberg.org/mutker/climactl/internal/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultIOTimeout      = 2 * time.Second
	DefaultMaxFaults      = 10
	DefaultHardware       = "sim"
	DefaultLogLevel       = "warning"
	DefaultMQTTClientID   = "climactl"
	DefaultMQTTPrefix     = "climactl"
	DefaultDutyLogPath    = "/var/lib/climactl/duty.db"
	defaultEnvPrefix      = "CLIMACTL"
	defaultConfigName     = "climactl"
	defaultConfigDir      = "/etc"
	configPathEnvVariable = "CLIMACTL_CONFIG"
)

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
	Retained    bool   `mapstructure:"retained"`
}

type DutyLogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

type Config struct {
	Interval       time.Duration `mapstructure:"interval"`
	IOTimeout      time.Duration `mapstructure:"io_timeout"`
	MaxFaults      int           `mapstructure:"max_faults"`
	LightIntensity int           `mapstructure:"light_intensity"`
	TargetHumidity int           `mapstructure:"target_humidity"`
	Hardware       string        `mapstructure:"hardware"`
	Console        bool          `mapstructure:"console"`
	LogLevel       string        `mapstructure:"log_level"`
	Debug          bool          `mapstructure:"debug"`
	Verbose        bool          `mapstructure:"verbose"`

	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	DutyLog DutyLogConfig `mapstructure:"dutylog"`

	v        *viper.Viper
	fileUsed string
	watchMu  sync.Mutex
	watching bool
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"interval":        "interval",
	"io-timeout":      "io_timeout",
	"max-faults":      "max_faults",
	"light-intensity": "light_intensity",
	"target-humidity": "target_humidity",
	"hardware":        "hardware",
	"console":         "console",
	"log-level":       "log_level",
	"debug":           "debug",
	"verbose":         "verbose",
	"mqtt":            "mqtt.enabled",
	"mqtt-broker":     "mqtt.broker",
	"dutylog":         "dutylog.enabled",
	"dutylog-db":      "dutylog.db_path",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("climactl", pflag.ContinueOnError)
	fs.String("config", "", "Path to the TOML configuration file")
	fs.Duration("interval", DefaultInterval, "Interval between control ticks")
	fs.Duration("io-timeout", DefaultIOTimeout, "Timeout for each sensor read and actuator write (0 disables)")
	fs.Int("max-faults", DefaultMaxFaults, "Consecutive faulted ticks before stopping (0 disables)")
	fs.Int("light-intensity", climate.DefaultSettings().LightIntensity, "Initial manual light intensity (0-100)")
	fs.Int("target-humidity", climate.DefaultSettings().TargetHumidity, "Initial target humidity (0-100)")
	fs.String("hardware", DefaultHardware, "Hardware backend: sim or raspi")
	fs.Bool("console", false, "Read operator commands from stdin")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning, error")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.Bool("mqtt", false, "Publish status and alerts to an MQTT broker")
	fs.String("mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	fs.Bool("dutylog", false, "Record actuator on-time in a SQLite journal")
	fs.String("dutylog-db", DefaultDutyLogPath, "Path to the duty journal database")

	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("io_timeout", DefaultIOTimeout)
	v.SetDefault("max_faults", DefaultMaxFaults)
	v.SetDefault("light_intensity", climate.DefaultSettings().LightIntensity)
	v.SetDefault("target_humidity", climate.DefaultSettings().TargetHumidity)
	v.SetDefault("hardware", DefaultHardware)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("mqtt.client_id", DefaultMQTTClientID)
	v.SetDefault("mqtt.topic_prefix", DefaultMQTTPrefix)
	v.SetDefault("dutylog.db_path", DefaultDutyLogPath)
}

// Load reads configuration from defaults, the config file, environment
// variables and args, in increasing order of precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := o.configPath
	if flagPath, _ := fs.GetString("config"); flagPath != "" {
		path = flagPath
	}
	if path == "" {
		path = os.Getenv(configPathEnvVariable)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath(defaultConfigDir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{v: v, fileUsed: v.ConfigFileUsed()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	errFactory := errors.New()

	invalid := func(code errors.ErrorCode, field string, value interface{}, reason string) error {
		return errFactory.Wrap(code, &fieldError{field: field, value: value, reason: reason})
	}

	if c.Interval <= 0 {
		return invalid(errors.ErrInvalidInterval, "interval", c.Interval, "must be positive")
	}
	if c.IOTimeout < 0 {
		return invalid(errors.ErrInvalidConfig, "io_timeout", c.IOTimeout, "must not be negative")
	}
	if c.MaxFaults < 0 {
		return invalid(errors.ErrInvalidConfig, "max_faults", c.MaxFaults, "must not be negative")
	}
	if c.LightIntensity < 0 || c.LightIntensity > 100 {
		return invalid(errors.ErrInvalidConfig, "light_intensity", c.LightIntensity, "must be within 0-100")
	}
	if c.TargetHumidity < 0 || c.TargetHumidity > 100 {
		return invalid(errors.ErrInvalidConfig, "target_humidity", c.TargetHumidity, "must be within 0-100")
	}
	if c.Hardware != "sim" && c.Hardware != "raspi" {
		return invalid(errors.ErrInvalidConfig, "hardware", c.Hardware, "must be sim or raspi")
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return invalid(errors.ErrInvalidLogLevel, "log_level", c.LogLevel, "must be debug, info, warning or error")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return invalid(errors.ErrInvalidConfig, "mqtt.broker", c.MQTT.Broker, "required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return invalid(errors.ErrInvalidConfig, "mqtt.qos", c.MQTT.QoS, "must be 0, 1 or 2")
	}
	if c.DutyLog.Enabled && c.DutyLog.DBPath == "" {
		return invalid(errors.ErrInvalidConfig, "dutylog.db_path", c.DutyLog.DBPath, "required when the duty journal is enabled")
	}

	return nil
}

// Settings returns the initial manual settings.
func (c *Config) Settings() climate.Settings {
	return climate.Settings{
		LightIntensity: c.LightIntensity,
		TargetHumidity: c.TargetHumidity,
	}
}

// ConfigFile returns the path of the file that was read, if any.
func (c *Config) ConfigFile() string {
	return c.fileUsed
}

// Watch re-reads the config file whenever it changes and reports the manual
// settings it holds. Other keys are not reloaded. Watch may be called once.
func (c *Config) Watch(ctx context.Context, callback func(climate.Settings)) error {
	errFactory := errors.New()

	if c.fileUsed == "" {
		return errFactory.WithMessage(errors.ErrReadConfig, "no config file to watch")
	}

	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watching {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "config watch already active")
	}
	c.watching = true

	var mu sync.Mutex
	last := c.Settings()

	c.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}

		next := climate.Settings{
			LightIntensity: c.v.GetInt("light_intensity"),
			TargetHumidity: c.v.GetInt("target_humidity"),
		}

		mu.Lock()
		changed := next != last
		last = next
		mu.Unlock()

		if changed {
			callback(next)
		}
	})
	c.v.WatchConfig()

	return nil
}
