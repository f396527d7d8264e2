// File: internal/config/config.go
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Engine() EngineConfig
	Locator() LocatorConfig
	Target() TargetConfig
	Journal() JournalConfig

	// Target Setters, driven by CLI flags.
	SetTargetURL(string)
	SetTargetMaxDeletions(int)
	SetTargetExcludeKeywords([]string)
	SetTargetExcludePattern(string)
	SetTargetDryRun(bool)
	SetTargetLoginMode(string)

	// Browser Setters
	SetBrowserDriver(string)
	SetBrowserHeadless(bool)
	SetBrowserHumanoidEnabled(bool)

	// Engine Setters
	SetEngineInterActionDelay(time.Duration)
	SetEnginePostDeleteSettle(time.Duration)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	EngineCfg  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	LocatorCfg LocatorConfig `mapstructure:"locator" yaml:"locator"`
	TargetCfg  TargetConfig  `mapstructure:"target" yaml:"target"`
	JournalCfg JournalConfig `mapstructure:"journal" yaml:"journal"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Engine() EngineConfig   { return c.EngineCfg }
func (c *Config) Locator() LocatorConfig { return c.LocatorCfg }
func (c *Config) Target() TargetConfig   { return c.TargetCfg }
func (c *Config) Journal() JournalConfig { return c.JournalCfg }

// --- Interface Method Implementations (Setters) ---

// CLI overrides
func (c *Config) SetTargetURL(u string)               { c.TargetCfg.URL = u }
func (c *Config) SetTargetMaxDeletions(n int)         { c.TargetCfg.MaxDeletions = n }
func (c *Config) SetTargetExcludeKeywords(k []string) { c.TargetCfg.ExcludeKeywords = k }
func (c *Config) SetTargetExcludePattern(p string)    { c.TargetCfg.ExcludePattern = p }
func (c *Config) SetTargetDryRun(b bool)              { c.TargetCfg.DryRun = b }
func (c *Config) SetTargetLoginMode(m string)         { c.TargetCfg.LoginMode = m }
func (c *Config) SetBrowserDriver(d string)           { c.BrowserCfg.Driver = d }
func (c *Config) SetBrowserHeadless(b bool)           { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserHumanoidEnabled(b bool)    { c.BrowserCfg.Humanoid.Enabled = b }
func (c *Config) SetEngineInterActionDelay(d time.Duration) {
	c.EngineCfg.InterActionDelay = d
}
func (c *Config) SetEnginePostDeleteSettle(d time.Duration) {
	c.EngineCfg.PostDeleteSettle = d
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	// LogFile may start with ~ and may contain {timestamp}, which is replaced
	// with the start time of the process.
	LogFile    string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int         `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool        `mapstructure:"compress" yaml:"compress"`
	Colors     ColorConfig `mapstructure:"colors" yaml:"colors"`
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

// Supported browser drivers.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// BrowserConfig holds settings for the automated browser.
type BrowserConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"`
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	// UserDataDir keeps cookies between runs so a login survives. Empty means
	// a throwaway profile.
	UserDataDir string `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	// RemoteURL attaches to an already running browser instead of launching one.
	RemoteURL         string         `mapstructure:"remote_url" yaml:"remote_url"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Stealth           bool           `mapstructure:"stealth" yaml:"stealth"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	Humanoid          HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// EngineConfig tunes the elimination loop.
type EngineConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	RecoveryMode     string        `mapstructure:"recovery_mode" yaml:"recovery_mode"`
	RecoverySettle   time.Duration `mapstructure:"recovery_settle" yaml:"recovery_settle"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout" yaml:"recovery_timeout"`
	RecoveryAttempts int           `mapstructure:"recovery_attempts" yaml:"recovery_attempts"`
	MaxResets        int           `mapstructure:"max_resets" yaml:"max_resets"`
	PostDeleteSettle time.Duration `mapstructure:"post_delete_settle" yaml:"post_delete_settle"`
	ScrollSettle     time.Duration `mapstructure:"scroll_settle" yaml:"scroll_settle"`
	StaleSettle      time.Duration `mapstructure:"stale_settle" yaml:"stale_settle"`
	StaleRetries     int           `mapstructure:"stale_retries" yaml:"stale_retries"`
	InterActionDelay time.Duration `mapstructure:"inter_action_delay" yaml:"inter_action_delay"`
	ActionsPerSecond float64       `mapstructure:"actions_per_second" yaml:"actions_per_second"`
}

// LocatorConfig controls element polling and the selector table.
type LocatorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	WaitTimeout  time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	// TableFile overlays a YAML selector table onto the built-in one.
	TableFile string `mapstructure:"table_file" yaml:"table_file"`
}

// Login modes.
const (
	LoginPrompt = "prompt"
	LoginWait   = "wait"
	LoginNone   = "none"
)

// TargetConfig describes the list page and what to leave alone.
type TargetConfig struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	ExcludeKeywords []string      `mapstructure:"exclude_keywords" yaml:"exclude_keywords"`
	ExcludePattern  string        `mapstructure:"exclude_pattern" yaml:"exclude_pattern"`
	MaxDeletions    int           `mapstructure:"max_deletions" yaml:"max_deletions"`
	DryRun          bool          `mapstructure:"dry_run" yaml:"dry_run"`
	LoginMode       string        `mapstructure:"login_mode" yaml:"login_mode"`
	LoginTimeout    time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
	LoginSettle     time.Duration `mapstructure:"login_settle" yaml:"login_settle"`
}

// Journal drivers.
const (
	JournalNone     = "none"
	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"
)

// JournalConfig selects where run history is persisted.
type JournalConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
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
	v.SetDefault("logger.service_name", "sweep-cli")
	v.SetDefault("logger.log_file", "logs/sweep_{timestamp}.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", false)

	// -- Browser --
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_data_dir", "~/.sweep/profile")
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 900})
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.action_timeout", "10s")
	setHumanoidDefaults(v)

	// -- Engine --
	v.SetDefault("engine.failure_threshold", 3)
	v.SetDefault("engine.recovery_mode", "reload")
	v.SetDefault("engine.recovery_settle", "5s")
	v.SetDefault("engine.recovery_timeout", "30s")
	v.SetDefault("engine.recovery_attempts", 2)
	v.SetDefault("engine.max_resets", 10)
	v.SetDefault("engine.post_delete_settle", "2s")
	v.SetDefault("engine.scroll_settle", "2s")
	v.SetDefault("engine.stale_settle", "1s")
	v.SetDefault("engine.stale_retries", 3)
	v.SetDefault("engine.inter_action_delay", "1s")
	v.SetDefault("engine.actions_per_second", 4.0)

	// -- Locator --
	v.SetDefault("locator.poll_interval", "200ms")
	v.SetDefault("locator.wait_timeout", "5s")
	v.SetDefault("locator.table_file", "")

	// -- Target --
	v.SetDefault("target.url", "")
	v.SetDefault("target.exclude_pattern", "")
	v.SetDefault("target.max_deletions", 0)
	v.SetDefault("target.dry_run", false)
	v.SetDefault("target.login_mode", LoginPrompt)
	v.SetDefault("target.login_timeout", "5m")
	v.SetDefault("target.login_settle", "3s")

	// -- Journal --
	v.SetDefault("journal.driver", JournalSQLite)
	v.SetDefault("journal.dsn", "~/.sweep/journal.db")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The postgres DSN usually carries a password, so it may come from the
	// environment only.
	_ = v.BindEnv("journal.dsn", "SWEEP_JOURNAL_DSN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every file-system setting.
func (c *Config) expandPaths() error {
	paths := []*string{&c.LoggerCfg.LogFile, &c.BrowserCfg.UserDataDir, &c.LocatorCfg.TableFile}
	if c.JournalCfg.Driver == JournalSQLite {
		paths = append(paths, &c.JournalCfg.DSN)
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if err := c.LocatorCfg.Validate(); err != nil {
		return fmt.Errorf("locator configuration invalid: %w", err)
	}
	if err := c.TargetCfg.Validate(); err != nil {
		return fmt.Errorf("target configuration invalid: %w", err)
	}
	if err := c.JournalCfg.Validate(); err != nil {
		return fmt.Errorf("journal configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	switch b.Driver {
	case DriverChromedp, DriverRod:
	default:
		return fmt.Errorf("driver must be %q or %q, got %q", DriverChromedp, DriverRod, b.Driver)
	}
	if b.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	if b.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be a positive duration")
	}
	if b.Humanoid.ClickHoldMinMs > b.Humanoid.ClickHoldMaxMs {
		return fmt.Errorf("humanoid.click_hold_min_ms must not exceed humanoid.click_hold_max_ms")
	}
	return nil
}

// Validate checks the engine settings.
func (e *EngineConfig) Validate() error {
	if e.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be a positive integer")
	}
	if e.RecoveryMode != "reload" && e.RecoveryMode != "back" {
		return fmt.Errorf("recovery_mode must be \"reload\" or \"back\", got %q", e.RecoveryMode)
	}
	if e.RecoveryAttempts <= 0 {
		return fmt.Errorf("recovery_attempts must be a positive integer")
	}
	if e.MaxResets < 0 || e.StaleRetries < 0 {
		return fmt.Errorf("max_resets and stale_retries must not be negative")
	}
	if e.ActionsPerSecond < 0 {
		return fmt.Errorf("actions_per_second must not be negative")
	}
	if e.InterActionDelay < 0 || e.PostDeleteSettle < 0 || e.ScrollSettle < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}

// Validate checks the locator settings.
func (l *LocatorConfig) Validate() error {
	if l.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if l.WaitTimeout < l.PollInterval {
		return fmt.Errorf("wait_timeout must be at least poll_interval")
	}
	return nil
}

// Validate checks the target settings. The URL is required only when a run
// is started, so it is not checked here.
func (t *TargetConfig) Validate() error {
	if t.MaxDeletions < 0 {
		return fmt.Errorf("max_deletions must not be negative")
	}
	switch t.LoginMode {
	case LoginPrompt, LoginWait, LoginNone:
	default:
		return fmt.Errorf("login_mode must be one of prompt, wait, none; got %q", t.LoginMode)
	}
	if t.LoginMode == LoginWait && t.LoginTimeout <= 0 {
		return fmt.Errorf("login_timeout must be a positive duration when login_mode is wait")
	}
	if t.ExcludePattern != "" {
		if _, err := regexp.Compile(t.ExcludePattern); err != nil {
			return fmt.Errorf("exclude_pattern does not compile: %w", err)
		}
	}
	return nil
}

// Validate checks the journal settings.
func (j *JournalConfig) Validate() error {
	switch j.Driver {
	case JournalNone, "":
		return nil
	case JournalSQLite, JournalPostgres:
		if strings.TrimSpace(j.DSN) == "" {
			return fmt.Errorf("dsn is required for the %s journal", j.Driver)
		}
		return nil
	default:
		return fmt.Errorf("driver must be one of none, sqlite, postgres; got %q", j.Driver)
	}
}
