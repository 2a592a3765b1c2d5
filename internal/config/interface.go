package config

// Provider exposes the loaded configuration to components that should not
// depend on the Config struct layout.
type Provider interface {
	// GetInterval returns the sampling interval in milliseconds
	GetInterval() int

	// GetLogLevel returns the configured logging level
	GetLogLevel() string

	// IsPersistEnabled returns whether samples and events are stored
	IsPersistEnabled() bool

	// GetDatabasePath returns the path to the metrics database
	GetDatabasePath() string

	// IsGPUEnabled returns whether the NVML probe is used
	IsGPUEnabled() bool

	// GetListenAddr returns the HTTP listen address, empty when disabled
	GetListenAddr() string
}

// Option adjusts how Load finds its sources.
type Option func(*options)

type options struct {
	args       []string
	configPath string
	envPrefix  string
}

// WithArgs parses args instead of the process arguments.
func WithArgs(args []string) Option {
	return func(o *options) { o.args = args }
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "PETVITALS"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) { o.envPrefix = prefix }
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

func (l LogLevel) String() string {
	return string(l)
}

func (c *Config) GetInterval() int        { return c.Interval }
func (c *Config) GetLogLevel() string     { return c.LogLevel }
func (c *Config) IsPersistEnabled() bool  { return c.Persist }
func (c *Config) GetDatabasePath() string { return c.Database }
func (c *Config) IsGPUEnabled() bool      { return c.GPU }
func (c *Config) GetListenAddr() string   { return c.Listen }
