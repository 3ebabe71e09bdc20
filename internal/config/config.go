package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/fractal-balances/internal/explorer"
	"github.com/eugenenazirov/fractal-balances/internal/history"
)

const (
	defaultPort           = "5000"
	defaultPublicPort     = "80"
	defaultAddressesFile  = "addresses.json"
	defaultPublicDir      = "public"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string
	PublicPort           string
	AddressesFile        string
	ExplorerBaseURL      string
	RefreshInterval      time.Duration
	RequestTimeout       time.Duration
	FetchConcurrency     int
	FetchRetries         int
	FetchRetryDelay      time.Duration
	ExplorerRPS          float64
	HistoryLimit         int
	HistoryDB            string
	PublicDir            string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	LogLevel             string
	RateLimitRPS         float64
	RateLimitBurst       int
}

// yamlConfig represents the YAML configuration file structure.
// Pointer fields distinguish "unset" from explicit zero values.
type yamlConfig struct {
	Port                 string        `yaml:"port"`
	PublicPort           string        `yaml:"public_port"`
	AddressesFile        string        `yaml:"addresses_file"`
	ExplorerBaseURL      string        `yaml:"explorer_base_url"`
	RefreshInterval      string        `yaml:"refresh_interval"`
	RequestTimeout       string        `yaml:"request_timeout"`
	FetchConcurrency     *int          `yaml:"fetch_concurrency"`
	FetchRetries         *int          `yaml:"fetch_retries"`
	FetchRetryDelay      string        `yaml:"fetch_retry_delay"`
	ExplorerRPS          *float64      `yaml:"explorer_rps"`
	HistoryLimit         *int          `yaml:"history_limit"`
	HistoryDB            string        `yaml:"history_db"`
	PublicDir            string        `yaml:"public_dir"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	LogLevel             string        `yaml:"log_level"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile      string
	Port            *string
	AddressesFile   *string
	RefreshInterval *time.Duration
	HistoryDB       *string
	PublicDir       *string
	LogLevel        *string
	RateLimitRPS    *float64
	RateLimitBurst  *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Apply environment variables
	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	// Load from YAML file if specified (overrides environment)
	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	// Apply CLI overrides (highest precedence)
	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		PublicPort:           defaultPublicPort,
		AddressesFile:        defaultAddressesFile,
		ExplorerBaseURL:      explorer.DefaultBaseURL,
		RefreshInterval:      30 * time.Second,
		RequestTimeout:       10 * time.Second,
		FetchConcurrency:     4,
		FetchRetries:         2,
		FetchRetryDelay:      500 * time.Millisecond,
		ExplorerRPS:          5,
		HistoryLimit:         history.DefaultLimit,
		PublicDir:            defaultPublicDir,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		LogLevel:             "info",
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, y *yamlConfig) error {
	setString(&cfg.Port, y.Port)
	setString(&cfg.PublicPort, y.PublicPort)
	setString(&cfg.AddressesFile, y.AddressesFile)
	setString(&cfg.ExplorerBaseURL, y.ExplorerBaseURL)
	setString(&cfg.HistoryDB, y.HistoryDB)
	setString(&cfg.PublicDir, y.PublicDir)
	setString(&cfg.LogLevel, y.LogLevel)

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"refresh_interval", y.RefreshInterval, &cfg.RefreshInterval},
		{"request_timeout", y.RequestTimeout, &cfg.RequestTimeout},
		{"fetch_retry_delay", y.FetchRetryDelay, &cfg.FetchRetryDelay},
		{"shutdown_grace_period", y.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", y.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", y.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", y.IdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if y.FetchConcurrency != nil {
		cfg.FetchConcurrency = *y.FetchConcurrency
	}
	if y.FetchRetries != nil {
		cfg.FetchRetries = *y.FetchRetries
	}
	if y.ExplorerRPS != nil {
		cfg.ExplorerRPS = *y.ExplorerRPS
	}
	if y.HistoryLimit != nil {
		cfg.HistoryLimit = *y.HistoryLimit
	}
	if y.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *y.EnableRequestLogging
	}
	if y.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *y.RateLimit.RPS
	}
	if y.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *y.RateLimit.Burst
	}
	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) error {
	setString(&cfg.Port, env("PORT"))
	setString(&cfg.AddressesFile, env("ADDRESSES_FILE"))
	setString(&cfg.ExplorerBaseURL, env("EXPLORER_BASE_URL"))
	setString(&cfg.HistoryDB, env("HISTORY_DB"))
	setString(&cfg.LogLevel, env("LOG_LEVEL"))

	if raw := env("REFRESH_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("REFRESH_INTERVAL: %w", err)
		}
		cfg.RefreshInterval = d
	}

	if rps := env("RATE_LIMIT_RPS"); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := env("RATE_LIMIT_BURST"); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}
	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, o *CLIOverrides) {
	if o.Port != nil {
		setString(&cfg.Port, *o.Port)
	}
	if o.AddressesFile != nil {
		setString(&cfg.AddressesFile, *o.AddressesFile)
	}
	if o.HistoryDB != nil {
		setString(&cfg.HistoryDB, *o.HistoryDB)
	}
	if o.PublicDir != nil {
		setString(&cfg.PublicDir, *o.PublicDir)
	}
	if o.LogLevel != nil {
		setString(&cfg.LogLevel, *o.LogLevel)
	}
	if o.RefreshInterval != nil && *o.RefreshInterval > 0 {
		cfg.RefreshInterval = *o.RefreshInterval
	}
	if o.RateLimitRPS != nil && *o.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *o.RateLimitRPS
	}
	if o.RateLimitBurst != nil && *o.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *o.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if strings.TrimSpace(cfg.AddressesFile) == "" {
		return fmt.Errorf("addresses file cannot be empty")
	}
	u, err := url.Parse(cfg.ExplorerBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("explorer base URL must be an absolute http(s) URL, got %q", cfg.ExplorerBaseURL)
	}
	if cfg.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be > 0")
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be > 0")
	}
	if cfg.FetchConcurrency <= 0 {
		return fmt.Errorf("fetch concurrency must be > 0")
	}
	if cfg.FetchRetries < 0 {
		return fmt.Errorf("fetch retries must be >= 0")
	}
	if cfg.ExplorerRPS < 0 {
		return fmt.Errorf("explorer RPS must be >= 0")
	}
	if cfg.HistoryLimit < 1 {
		return fmt.Errorf("history limit must be >= 1")
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}
