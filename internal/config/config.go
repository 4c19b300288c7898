package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultRelayURL = "http://localhost:9000/api"

// Config holds service configuration loaded from YAML, .env.local and env.
type Config struct {
	RelayURL          string        `validate:"required,url"`
	RelayTimeout      time.Duration `validate:"gt=0"`
	RelayRateLimitRPS float64       `validate:"gte=0"`

	CacheBackend          string        `validate:"oneof=in_memory memcached sqlite"`
	CacheTTL              time.Duration `validate:"gt=0"`
	StaleMaxAge           time.Duration `validate:"gte=0"`
	MemcachedAddrs        string        `validate:"required_if=CacheBackend memcached"`
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	SQLitePath            string `validate:"required_if=CacheBackend sqlite"`

	RetryMaxAttempts    int           `validate:"gte=1,lte=10"`
	RetryBaseDelay      time.Duration `validate:"gt=0"`
	RetryClientErrors   bool
	BreakerEnabled      bool
	BreakerFailures     uint32 `validate:"gte=1"`
	BreakerOpenDuration time.Duration

	RefreshInterval time.Duration `validate:"gt=0"`
	WarmCities      []string      `validate:"dive,required"`
	WarmInterval    time.Duration `validate:"gte=0"`

	ServerPort     string        `validate:"required,numeric"`
	RequestTimeout time.Duration `validate:"gt=0"`
	RateLimitRPS   int           `validate:"gte=1"`
	RateLimitBurst int           `validate:"gte=1"`

	CityMinLength int `validate:"gte=1"`
	CityMaxLength int `validate:"gtefield=CityMinLength"`
	DefaultCity   string

	ShutdownTimeout  time.Duration `validate:"gt=0"`
	DegradedWindow   time.Duration `validate:"gt=0"`
	DegradedErrorPct int           `validate:"gte=1,lte=100"`
	// OverloadDenials is the rate-limit denial count within DegradedWindow
	// above which /health reports overloaded. Zero disables the check.
	OverloadDenials int `validate:"gte=0"`
}

type fileConfig struct {
	Relay struct {
		BaseURL      string  `yaml:"base_url"`
		Timeout      string  `yaml:"timeout"`
		RateLimitRPS float64 `yaml:"rate_limit_rps"`
	} `yaml:"relay"`

	Cache struct {
		Backend     string `yaml:"backend"`
		TTL         string `yaml:"ttl"`
		StaleMaxAge string `yaml:"stale_max_age"`
		Memcached   struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts  int    `yaml:"retry_max_attempts"`
		RetryBaseDelay    string `yaml:"retry_base_delay"`
		RetryClientErrors *bool  `yaml:"retry_client_errors"`
		CircuitBreaker    struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold uint32 `yaml:"failure_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Refresh struct {
		Interval string `yaml:"interval"`
	} `yaml:"refresh"`

	Warming struct {
		Cities   []string `yaml:"cities"`
		Interval string   `yaml:"interval"`
	} `yaml:"warming"`

	Server struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
		RateLimitRPS   int    `yaml:"rate_limit_rps"`
		RateLimitBurst int    `yaml:"rate_limit_burst"`
	} `yaml:"server"`

	City struct {
		MinLength int    `yaml:"min_length"`
		MaxLength int    `yaml:"max_length"`
		Default   string `yaml:"default"`
	} `yaml:"city"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
		OverloadDenials  int    `yaml:"overload_denials"`
	} `yaml:"health"`
}

var validate = validator.New()

// Load reads .env.local (if present) and config/{ENV_NAME}.yaml (default dev)
// from the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return loadFrom(cwd)
}

func loadFrom(root string) (*Config, error) {
	envFile := filepath.Join(root, ".env.local")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(root, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fromFile(fc)
	applyEnv(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.RequestTimeout <= cfg.RelayTimeout {
		cfg.RequestTimeout = cfg.RelayTimeout + time.Second
	}
	return cfg, nil
}

func fromFile(fc fileConfig) *Config {
	cfg := &Config{
		RelayURL:          strings.TrimSpace(fc.Relay.BaseURL),
		RelayTimeout:      parseDuration(fc.Relay.Timeout, 5*time.Second),
		RelayRateLimitRPS: fc.Relay.RateLimitRPS,

		CacheBackend:          strings.ToLower(strings.TrimSpace(fc.Cache.Backend)),
		CacheTTL:              parseDuration(fc.Cache.TTL, time.Hour),
		StaleMaxAge:           parseDurationOrZero(fc.Cache.StaleMaxAge, 0),
		MemcachedAddrs:        strings.TrimSpace(fc.Cache.Memcached.Addrs),
		MemcachedTimeout:      parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond),
		MemcachedMaxIdleConns: intOr(fc.Cache.Memcached.MaxIdleConns, 2),
		SQLitePath:            strings.TrimSpace(fc.Cache.SQLite.Path),

		RetryMaxAttempts:    intOr(fc.Reliability.RetryMaxAttempts, 3),
		RetryBaseDelay:      parseDuration(fc.Reliability.RetryBaseDelay, time.Second),
		RetryClientErrors:   true,
		BreakerEnabled:      fc.Reliability.CircuitBreaker.Enabled,
		BreakerFailures:     fc.Reliability.CircuitBreaker.FailureThreshold,
		BreakerOpenDuration: parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second),

		RefreshInterval: parseDuration(fc.Refresh.Interval, 2*time.Hour),
		WarmCities:      fc.Warming.Cities,
		WarmInterval:    parseDurationOrZero(fc.Warming.Interval, 0),

		ServerPort:     strings.TrimSpace(fc.Server.Port),
		RequestTimeout: parseDuration(fc.Server.RequestTimeout, 10*time.Second),
		RateLimitRPS:   intOr(fc.Server.RateLimitRPS, 20),
		RateLimitBurst: intOr(fc.Server.RateLimitBurst, 40),

		CityMinLength: intOr(fc.City.MinLength, 1),
		CityMaxLength: intOr(fc.City.MaxLength, 100),
		DefaultCity:   strings.TrimSpace(fc.City.Default),

		ShutdownTimeout:  parseDuration(fc.Shutdown.Timeout, 15*time.Second),
		DegradedWindow:   parseDuration(fc.Health.DegradedWindow, time.Minute),
		DegradedErrorPct: intOr(fc.Health.DegradedErrorPct, 50),
		OverloadDenials:  fc.Health.OverloadDenials,
	}
	if fc.Reliability.RetryClientErrors != nil {
		cfg.RetryClientErrors = *fc.Reliability.RetryClientErrors
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.RelayURL == "" {
		cfg.RelayURL = DefaultRelayURL
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	return cfg
}

// applyEnv lets deployment env override file values.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("WEATHER_RELAY_URL")); v != "" {
		cfg.RelayURL = v
	}
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND"))); v != "" {
		cfg.CacheBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
	if v := strings.TrimSpace(os.Getenv("SQLITE_PATH")); v != "" {
		cfg.SQLitePath = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.ServerPort = v
	}
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
