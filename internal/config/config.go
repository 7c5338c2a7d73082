// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	DataStore() DataStoreConfig
	Engine() EngineConfig
	Browser() BrowserConfig
	Scheduler() SchedulerConfig
	Metrics() MetricsConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserHumanoidEnabled(bool)

	// Engine Setters
	SetEngineMaxStepsPerIteration(int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	DataStoreCfg DataStoreConfig `mapstructure:"datastore" yaml:"datastore"`
	EngineCfg    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	SchedulerCfg SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	MetricsCfg   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig   { return c.DatabaseCfg }
func (c *Config) DataStore() DataStoreConfig { return c.DataStoreCfg }
func (c *Config) Engine() EngineConfig       { return c.EngineCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Scheduler() SchedulerConfig { return c.SchedulerCfg }
func (c *Config) Metrics() MetricsConfig     { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)        { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserHumanoidEnabled(b bool) { c.BrowserCfg.Humanoid.Enabled = b }
func (c *Config) SetEngineMaxStepsPerIteration(n int) {
	c.EngineCfg.MaxStepsPerIteration = n
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the connection details of the definition and history store.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time" yaml:"max_conn_idle_time"`
}

// DataStoreConfig locates the typed data tables scrapers read and write.
// A DSN starting with libsql://, http:// or https:// selects a remote libsql
// database, anything else is a SQLite file path (or ":memory:").
type DataStoreConfig struct {
	DSN       string `mapstructure:"dsn" yaml:"dsn"`
	AuthToken string `mapstructure:"auth_token" yaml:"-"`
	// BatchSize is the page size iterators use when streaming rows.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// EngineConfig tunes instruction interpretation and execution tracking.
type EngineConfig struct {
	// MaxStepsPerIteration caps executed instructions per iteration. Zero disables the cap.
	MaxStepsPerIteration int `mapstructure:"max_steps_per_iteration" yaml:"max_steps_per_iteration"`
	RegexCacheSize       int `mapstructure:"regex_cache_size" yaml:"regex_cache_size"`
	// ElementTimeout bounds a selector search across all frames.
	ElementTimeout time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	// FrameTimeout bounds the search inside a single frame.
	FrameTimeout         time.Duration `mapstructure:"frame_timeout" yaml:"frame_timeout"`
	PollInterval         time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	NavigationWait       time.Duration `mapstructure:"navigation_wait" yaml:"navigation_wait"`
	SubscriberBuffer     int           `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer"`
	TerminateGracePeriod time.Duration `mapstructure:"terminate_grace_period" yaml:"terminate_grace_period"`
}

// BrowserConfig holds settings for the pooled browser processes.
type BrowserConfig struct {
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args     []string `mapstructure:"args" yaml:"args"`
	// UserDataRoot holds one persisted profile per slot for headed sessions.
	UserDataRoot   string        `mapstructure:"user_data_root" yaml:"user_data_root"`
	ViewportWidth  int64         `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int64         `mapstructure:"viewport_height" yaml:"viewport_height"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxSlots       int           `mapstructure:"max_slots" yaml:"max_slots"`
	// LaunchRate limits browser process launches per second.
	LaunchRate    float64        `mapstructure:"launch_rate" yaml:"launch_rate"`
	LaunchBurst   int            `mapstructure:"launch_burst" yaml:"launch_burst"`
	ScreenshotDir string         `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	Humanoid      HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// SchedulerConfig configures the routine scheduler.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// MaxSleep bounds how long the scheduler sleeps before rechecking routines.
	MaxSleep time.Duration `mapstructure:"max_sleep" yaml:"max_sleep"`
}

// MetricsConfig configures the prometheus endpoint served by `serve`.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scrapeflow")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Database --
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// -- Data Store --
	v.SetDefault("datastore.dsn", "scrapeflow-data.db")
	v.SetDefault("datastore.batch_size", 100)

	// -- Engine --
	v.SetDefault("engine.max_steps_per_iteration", 0)
	v.SetDefault("engine.regex_cache_size", 256)
	v.SetDefault("engine.element_timeout", "30s")
	v.SetDefault("engine.frame_timeout", "2s")
	v.SetDefault("engine.poll_interval", "250ms")
	v.SetDefault("engine.navigation_wait", "30s")
	v.SetDefault("engine.subscriber_buffer", 256)
	v.SetDefault("engine.terminate_grace_period", "35s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_data_root", "~/.scrapeflow/profiles")
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.default_timeout", "30s")
	v.SetDefault("browser.max_slots", 4)
	v.SetDefault("browser.launch_rate", 2.0)
	v.SetDefault("browser.launch_burst", 2)
	v.SetDefault("browser.screenshot_dir", "screenshots")
	// Initialize all Humanoid defaults using the centralized function in humanoid_config.go.
	setHumanoidDefaults(v)

	// -- Scheduler --
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.max_sleep", "1m")

	// -- Metrics --
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9464")
	v.SetDefault("metrics.path", "/metrics")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "SCRAPEFLOW_DATABASE_URL")
	_ = v.BindEnv("datastore.auth_token", "SCRAPEFLOW_DATASTORE_AUTH_TOKEN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.MaxSlots <= 0 {
		return fmt.Errorf("browser.max_slots must be a positive integer")
	}
	if c.BrowserCfg.DefaultTimeout <= 0 {
		return fmt.Errorf("browser.default_timeout must be a positive duration")
	}
	if c.EngineCfg.MaxStepsPerIteration < 0 {
		return fmt.Errorf("engine.max_steps_per_iteration cannot be negative")
	}
	if c.EngineCfg.FrameTimeout <= 0 || c.EngineCfg.ElementTimeout <= 0 {
		return fmt.Errorf("engine.element_timeout and engine.frame_timeout must be positive durations")
	}
	if c.DataStoreCfg.BatchSize <= 0 {
		return fmt.Errorf("datastore.batch_size must be a positive integer")
	}
	if err := c.BrowserCfg.Humanoid.Validate(); err != nil {
		return fmt.Errorf("browser.humanoid configuration invalid: %w", err)
	}
	return nil
}
