package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/servoctl/internal/errors"
	"codeberg.org/mutker/servoctl/internal/metrics"
	"codeberg.org/mutker/servoctl/internal/servo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix    = "SERVOCTL"
	DefaultLogLevel     = string(LogLevelInfo)
	DefaultTickInterval = 15 // ms
	DefaultPollInterval = 1  // ms
	DefaultDriver       = string(DriverSimulated)
	DefaultPWMPeriod    = 20000 // us
	DefaultMinPulse     = 500   // us
	DefaultMaxPulse     = 2500  // us
	DefaultMetricsDB    = "/var/lib/servoctl/metrics.db"

	configName = "servoctl"
)

type Config struct {
	TickInterval int       `mapstructure:"tick_interval"`
	PollInterval int       `mapstructure:"poll_interval"`
	Debug        bool      `mapstructure:"debug"`
	LogLevel     string    `mapstructure:"log_level"`
	Driver       string    `mapstructure:"driver"`
	PWMChip      string    `mapstructure:"pwm_chip"`
	PWMPeriod    int       `mapstructure:"pwm_period_us"`
	MinPulse     int       `mapstructure:"min_pulse_us"`
	MaxPulse     int       `mapstructure:"max_pulse_us"`
	Metrics      bool      `mapstructure:"metrics"`
	MetricsDB    string    `mapstructure:"metrics_db"`
	Channels     []Channel `mapstructure:"channels"`
}

// Channel declares one actuator to register at startup. Unset fields fall
// back to the scheduler defaults.
type Channel struct {
	ID     int  `mapstructure:"id"`
	Min    *int `mapstructure:"min"`
	Max    *int `mapstructure:"max"`
	Target *int `mapstructure:"target"`
	Rate   *int `mapstructure:"rate"`
}

func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(o)
	}
	if !o.argsSet {
		o.args = os.Args[1:]
	}

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	flags.Int("tick-interval", DefaultTickInterval, "Minimum milliseconds between motion ticks")
	flags.Int("poll-interval", DefaultPollInterval, "Milliseconds between control loop polls")
	flags.Bool("debug", false, "Emit scheduler diagnostics")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.String("driver", DefaultDriver, "Servo driver (sim, sysfs)")
	flags.String("pwm-chip", servo.DefaultChipPath, "sysfs PWM chip directory")
	flags.Bool("metrics", false, "Record motion samples to sqlite")
	flags.String("metrics-db", DefaultMetricsDB, "Path to the metrics database")
	flags.String("config", "", "Path to the configuration file")

	if err := flags.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	for key, flag := range map[string]string{
		"tick_interval": "tick-interval",
		"poll_interval": "poll-interval",
		"debug":         "debug",
		"log_level":     "log-level",
		"driver":        "driver",
		"pwm_chip":      "pwm-chip",
		"metrics":       "metrics",
		"metrics_db":    "metrics-db",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	configPath := o.configPath
	if path, _ := flags.GetString("config"); path != "" {
		configPath = path
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tick_interval", DefaultTickInterval)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("debug", false)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("driver", DefaultDriver)
	v.SetDefault("pwm_chip", servo.DefaultChipPath)
	v.SetDefault("pwm_period_us", DefaultPWMPeriod)
	v.SetDefault("min_pulse_us", DefaultMinPulse)
	v.SetDefault("max_pulse_us", DefaultMaxPulse)
	v.SetDefault("metrics", false)
	v.SetDefault("metrics_db", DefaultMetricsDB)
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.AddConfigPath("/etc/servoctl")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.TickInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidTickInterval, c.TickInterval)
	}
	if c.PollInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidPollInterval, c.PollInterval)
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if !Driver(c.Driver).IsValid() {
		return errFactory.WithData(errors.ErrInvalidDriver, c.Driver)
	}
	if c.PWMPeriod <= 0 || c.MinPulse <= 0 || c.MinPulse >= c.MaxPulse || c.MaxPulse > c.PWMPeriod {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Period   int
			MinPulse int
			MaxPulse int
		}{
			Period:   c.PWMPeriod,
			MinPulse: c.MinPulse,
			MaxPulse: c.MaxPulse,
		})
	}

	seen := make(map[int]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if seen[ch.ID] {
			return errFactory.WithData(errors.ErrInvalidConfig, struct {
				Channel int
				Reason  string
			}{
				Channel: ch.ID,
				Reason:  "declared twice",
			})
		}
		seen[ch.ID] = true

		if ch.Min != nil && ch.Max != nil && *ch.Min > *ch.Max {
			return errFactory.WithData(errors.ErrInvalidBounds, struct {
				Channel int
				Min     int
				Max     int
			}{
				Channel: ch.ID,
				Min:     *ch.Min,
				Max:     *ch.Max,
			})
		}
		if ch.Rate != nil && *ch.Rate < 0 {
			return errFactory.WithData(errors.ErrInvalidConfig, struct {
				Channel int
				Rate    int
			}{
				Channel: ch.ID,
				Rate:    *ch.Rate,
			})
		}
	}

	return nil
}

func (c *Config) TickDuration() time.Duration {
	return time.Duration(c.TickInterval) * time.Millisecond
}

func (c *Config) PollDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

func (c *Config) Sysfs() servo.SysfsConfig {
	cfg := servo.DefaultSysfsConfig()
	cfg.ChipPath = c.PWMChip
	cfg.Pulse.Period = time.Duration(c.PWMPeriod) * time.Microsecond
	cfg.Pulse.MinPulse = time.Duration(c.MinPulse) * time.Microsecond
	cfg.Pulse.MaxPulse = time.Duration(c.MaxPulse) * time.Microsecond

	return cfg
}

func (c *Config) MetricsConfig() metrics.Config {
	cfg := metrics.DefaultConfig()
	cfg.Enabled = c.Metrics
	cfg.DBPath = c.MetricsDB

	return cfg
}
