// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/rewards-cli/internal/retry"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Retries RetriesConfig `mapstructure:"retries" yaml:"retries"`
	Search  SearchConfig  `mapstructure:"search" yaml:"search"`
	Terms   TermsConfig   `mapstructure:"terms" yaml:"terms"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Rewards RewardsConfig `mapstructure:"rewards" yaml:"rewards"`
	Notify  NotifyConfig  `mapstructure:"notify" yaml:"notify"`
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

// RetriesConfig mirrors the retries block of the config file. It is turned
// into an immutable retry.Policy before anything uses it.
type RetriesConfig struct {
	Max                int     `mapstructure:"max" yaml:"max"`
	BaseDelayInSeconds float64 `mapstructure:"base_delay_in_seconds" yaml:"base_delay_in_seconds"`
	Strategy           string  `mapstructure:"strategy" yaml:"strategy"`
}

// Policy converts the block into the value handed to the search engine.
func (r RetriesConfig) Policy() (retry.Policy, error) {
	strategy, err := retry.ParseStrategy(r.Strategy)
	if err != nil {
		return retry.Policy{}, err
	}
	p := retry.Policy{
		MaxAttempts: r.Max,
		BaseDelay:   retry.SecondsToDuration(r.BaseDelayInSeconds),
		Strategy:    strategy,
	}
	if err := p.Validate(); err != nil {
		return retry.Policy{}, err
	}
	return p, nil
}

// SearchConfig tunes the search loop and the search page interaction.
type SearchConfig struct {
	Language          string        `mapstructure:"language" yaml:"language"`
	Geo               string        `mapstructure:"geo" yaml:"geo"`
	URL               string        `mapstructure:"url" yaml:"url"`
	InputSelector     string        `mapstructure:"input_selector" yaml:"input_selector"`
	PacingMin         time.Duration `mapstructure:"pacing_min" yaml:"pacing_min"`
	PacingMax         time.Duration `mapstructure:"pacing_max" yaml:"pacing_max"`
	TypeVerifyTries   int           `mapstructure:"type_verify_tries" yaml:"type_verify_tries"`
	TypeVerifyTimeout time.Duration `mapstructure:"type_verify_timeout" yaml:"type_verify_timeout"`
}

// TermsConfig configures the two term providers.
type TermsConfig struct {
	TrendsURL       string  `mapstructure:"trends_url" yaml:"trends_url"`
	SuggestURL      string  `mapstructure:"suggest_url" yaml:"suggest_url"`
	MaxLookbackDays int     `mapstructure:"max_lookback_days" yaml:"max_lookback_days"`
	ParallelDays    int     `mapstructure:"parallel_days" yaml:"parallel_days"`
	RateLimit       float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// StoreConfig selects and configures the backlog persistence backend.
type StoreConfig struct {
	Driver  string        `mapstructure:"driver" yaml:"driver"`
	Path    string        `mapstructure:"path" yaml:"path"`
	URL     string        `mapstructure:"url" yaml:"-"`
	LockTTL time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// BrowserConfig holds settings for the Chrome instances driven through chromedp.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ProfileDir        string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Proxy             string        `mapstructure:"proxy" yaml:"proxy"`
	DesktopUserAgent  string        `mapstructure:"desktop_user_agent" yaml:"desktop_user_agent"`
	MobileUserAgent   string        `mapstructure:"mobile_user_agent" yaml:"mobile_user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// NetworkConfig tunes the shared HTTP client.
type NetworkConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Proxy           string        `mapstructure:"proxy" yaml:"proxy"`
}

// RewardsConfig points at the rewards portal endpoints.
type RewardsConfig struct {
	Account      string `mapstructure:"account" yaml:"account"`
	UserInfoURL  string `mapstructure:"user_info_url" yaml:"user_info_url"`
	DashboardURL string `mapstructure:"dashboard_url" yaml:"dashboard_url"`
}

// NotifyConfig configures the run summary notification.
type NotifyConfig struct {
	Summary string   `mapstructure:"summary" yaml:"summary"`
	URLs    []string `mapstructure:"urls" yaml:"-"`
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
	v.SetDefault("logger.service_name", "rewards-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 2)
	v.SetDefault("logger.max_age", 3)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Retries --
	v.SetDefault("retries.max", retry.DefaultMaxAttempts)
	v.SetDefault("retries.base_delay_in_seconds", retry.DefaultBaseDelay.Seconds())
	v.SetDefault("retries.strategy", string(retry.DefaultStrategy))

	// -- Search --
	v.SetDefault("search.language", "")
	v.SetDefault("search.geo", "")
	v.SetDefault("search.url", "https://www.bing.com/")
	v.SetDefault("search.input_selector", "#sb_form_q")
	v.SetDefault("search.pacing_min", "10s")
	v.SetDefault("search.pacing_max", "15s")
	v.SetDefault("search.type_verify_tries", 1000)
	v.SetDefault("search.type_verify_timeout", "10s")

	// -- Terms --
	v.SetDefault("terms.trends_url", "https://trends.google.com/trends/api/dailytrends")
	v.SetDefault("terms.suggest_url", "https://api.bing.com/osjson.aspx")
	v.SetDefault("terms.max_lookback_days", 30)
	v.SetDefault("terms.parallel_days", 3)
	v.SetDefault("terms.rate_limit", 2.0)

	// -- Store --
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "~/.rewards-cli/backlog.db")
	v.SetDefault("store.lock_ttl", "6h")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.profile_dir", "~/.rewards-cli/profiles")
	v.SetDefault("browser.desktop_user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36 Edg/129.0.0.0")
	v.SetDefault("browser.mobile_user_agent", "Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Mobile Safari/537.36 EdgA/129.0.0.0")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.action_timeout", "20s")

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.max_retries", 5)
	v.SetDefault("network.retry_backoff", "1s")
	v.SetDefault("network.ignore_tls_errors", false)

	// -- Rewards --
	v.SetDefault("rewards.account", "default")
	v.SetDefault("rewards.user_info_url", "https://www.bing.com/rewards/panelflyout/getuserinfo")
	v.SetDefault("rewards.dashboard_url", "https://rewards.bing.com/")

	// -- Notify --
	v.SetDefault("notify.summary", "on_error")
	v.SetDefault("notify.urls", []string{})
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("store.url", "REWARDS_STORE_URL")
	_ = v.BindEnv("notify.urls", "REWARDS_NOTIFY_URLS")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, fmt.Errorf("error expanding config paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading ~ in every filesystem path setting.
func (c *Config) ExpandPaths() error {
	paths := []*string{&c.Store.Path, &c.Browser.ProfileDir, &c.Logger.LogFile, &c.Browser.ExecPath}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if _, err := c.Retries.Policy(); err != nil {
		return fmt.Errorf("retries: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := c.Terms.Validate(); err != nil {
		return fmt.Errorf("terms: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	switch strings.ToLower(c.Notify.Summary) {
	case "always", "on_error", "never":
	default:
		return fmt.Errorf("notify.summary must be one of always, on_error, never (got %q)", c.Notify.Summary)
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("network.max_retries must be >= 0")
	}
	return nil
}

// Validate checks the search pacing and typing bounds.
func (s *SearchConfig) Validate() error {
	if s.PacingMin < 0 || s.PacingMax < s.PacingMin {
		return fmt.Errorf("pacing_min (%s) must be >= 0 and <= pacing_max (%s)", s.PacingMin, s.PacingMax)
	}
	if s.TypeVerifyTries <= 0 {
		return fmt.Errorf("type_verify_tries must be a positive integer")
	}
	if s.InputSelector == "" {
		return fmt.Errorf("input_selector is required")
	}
	return nil
}

// Validate checks the provider settings.
func (t *TermsConfig) Validate() error {
	if t.TrendsURL == "" || t.SuggestURL == "" {
		return fmt.Errorf("trends_url and suggest_url are required")
	}
	if t.MaxLookbackDays <= 0 {
		return fmt.Errorf("max_lookback_days must be a positive integer")
	}
	if t.ParallelDays <= 0 {
		return fmt.Errorf("parallel_days must be a positive integer")
	}
	if t.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive")
	}
	return nil
}

// Validate checks the backend selection.
func (s *StoreConfig) Validate() error {
	switch s.Driver {
	case "sqlite":
		if s.Path == "" {
			return fmt.Errorf("path is required for the sqlite driver")
		}
	case "postgres":
		if s.URL == "" {
			return fmt.Errorf("url is required for the postgres driver (REWARDS_STORE_URL)")
		}
	default:
		return fmt.Errorf("unknown driver %q (expected sqlite or postgres)", s.Driver)
	}
	return nil
}
