package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/perf"
	"codeberg.org/mutker/petvitals/internal/store"
	"codeberg.org/mutker/petvitals/internal/telemetry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultInterval        = 1000
	DefaultBufferCapacity  = 100
	DefaultSlowInteraction = 100
	DefaultRecentMetrics   = 100
	DefaultSpanRetention   = 500
	DefaultLogLevel        = "warning"
	DefaultDatabase        = "/var/lib/petvitals/metrics.db"
	DefaultBatchSize       = 10
	DefaultBatchTimeout    = 5
	DefaultListen          = ":9464"
	DefaultPIDFile         = "/run/petvitals.pid"

	defaultEnvPrefix  = "PETVITALS"
	configEnvVar      = "PETVITALS_CONFIG"
	defaultConfigName = "petvitals"
	defaultConfigDir  = "/etc"
)

type Config struct {
	Interval        int                `mapstructure:"interval"`
	BufferCapacity  int                `mapstructure:"buffer_capacity"`
	SlowInteraction float64            `mapstructure:"slow_interaction"`
	RecentMetrics   int                `mapstructure:"recent_metrics"`
	SpanRetention   int                `mapstructure:"span_retention"`
	Thresholds      map[string]float64 `mapstructure:"thresholds"`
	LogLevel        string             `mapstructure:"log_level"`
	Debug           bool               `mapstructure:"debug"`
	Verbose         bool               `mapstructure:"verbose"`
	GPU             bool               `mapstructure:"gpu"`
	Persist         bool               `mapstructure:"persist"`
	Database        string             `mapstructure:"database"`
	BatchSize       int                `mapstructure:"batch_size"`
	BatchTimeout    int                `mapstructure:"batch_timeout"`
	Listen          string             `mapstructure:"listen"`
	PIDFile         string             `mapstructure:"pid_file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("buffer_capacity", DefaultBufferCapacity)
	v.SetDefault("slow_interaction", DefaultSlowInteraction)
	v.SetDefault("recent_metrics", DefaultRecentMetrics)
	v.SetDefault("span_retention", DefaultSpanRetention)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("database", DefaultDatabase)
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("batch_timeout", DefaultBatchTimeout)
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("pid_file", DefaultPIDFile)

	for category, ms := range perf.DefaultThresholds() {
		v.SetDefault("thresholds."+strings.ToLower(string(category)), ms)
	}
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("petvitals", pflag.ContinueOnError)

	fs.String("config", "", "Path to the configuration file")
	fs.Int("interval", DefaultInterval, "Sampling interval in milliseconds")
	fs.Int("buffer-capacity", DefaultBufferCapacity, "Number of samples kept in memory")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.Bool("gpu", false, "Sample GPU utilisation through NVML")
	fs.Bool("persist", false, "Store samples and events in SQLite")
	fs.String("database", DefaultDatabase, "Path to the metrics database")
	fs.String("listen", DefaultListen, "HTTP listen address for /metrics and /vitals, empty to disable")
	fs.String("pid-file", DefaultPIDFile, "Path to the PID file")

	return fs
}

// flagKeys maps flag names onto config keys where they differ.
var flagKeys = map[string]string{
	"buffer-capacity": "buffer_capacity",
	"log-level":       "log_level",
	"pid-file":        "pid_file",
}

// Load reads defaults, the TOML file, PETVITALS_* environment variables and
// flags, in increasing order of precedence, and validates the result.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{
		args:      os.Args[1:],
		envPrefix: defaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(&o)
	}

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		key := f.Name
		if k, ok := flagKeys[key]; ok {
			key = k
		}
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
	}

	configPath := o.configPath
	if p, _ := fs.GetString("config"); p != "" {
		configPath = p
	}
	if configPath == "" {
		configPath = os.Getenv(configEnvVar)
	}

	if err := readConfigFile(v, configPath); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, path string) error {
	v.SetConfigType("toml")

	if path != "" {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}

	v.SetConfigName(defaultConfigName)
	v.AddConfigPath(defaultConfigDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}

	return nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.BufferCapacity <= 0 {
		return errFactory.WithData(errors.ErrInvalidCapacity, c.BufferCapacity)
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if err := c.Telemetry().Validate(); err != nil {
		return err
	}

	return c.Store().Validate()
}

// Telemetry converts the sampling and threshold settings.
func (c *Config) Telemetry() telemetry.Config {
	thresholds := perf.DefaultThresholds()
	for name, ms := range c.Thresholds {
		category := perf.ParseCategory(name)
		if category == perf.Default && name != string(perf.Default) {
			continue
		}
		thresholds[category] = ms
	}

	return telemetry.Config{
		Interval:          time.Duration(c.Interval) * time.Millisecond,
		BufferCapacity:    c.BufferCapacity,
		SlowInteractionMs: c.SlowInteraction,
		RecentMetrics:     c.RecentMetrics,
		SpanRetention:     c.SpanRetention,
		Thresholds:        thresholds,
	}
}

// Store converts the persistence settings.
func (c *Config) Store() store.Config {
	cfg := store.DefaultConfig()
	cfg.Enabled = c.Persist
	cfg.DBPath = c.Database
	cfg.BatchSize = c.BatchSize
	cfg.BatchTimeout = time.Duration(c.BatchTimeout) * time.Second

	return cfg
}
