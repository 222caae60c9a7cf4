// config.go — Configuration loading with priority cascade.
// Priority: defaults < global config < project config < env vars < flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all resolved configuration values for the lucentd server
// and lucent-cli client.
type Config struct {
	ListenAddr           string        `yaml:"listen_addr"`
	MetricsAddr          string        `yaml:"metrics_addr"`
	LogLevel             string        `yaml:"log_level"`
	LogFormat            string        `yaml:"log_format"`
	ProtocolVersion      int           `yaml:"protocol_version"`
	PoolMaxPerURL        int           `yaml:"pool_max_per_url"`
	PoolAcquireTimeout   time.Duration `yaml:"pool_acquire_timeout"`
	CacheSize            int           `yaml:"cache_size"`
	CommandTimeoutMax    time.Duration `yaml:"command_timeout_max"`
}

// FlagOverrides holds values explicitly set via command-line flags.
// A nil pointer means the flag was not set, so lower-priority values
// are kept.
type FlagOverrides struct {
	ListenAddr         *string
	MetricsAddr        *string
	LogLevel           *string
	LogFormat          *string
	ProtocolVersion    *int
	PoolMaxPerURL      *int
	PoolAcquireTimeout *time.Duration
	CacheSize          *int
	CommandTimeoutMax  *time.Duration
}

// Defaults returns the base configuration with sensible defaults.
func Defaults() Config {
	return Config{
		ListenAddr:         "127.0.0.1:2424",
		MetricsAddr:        "127.0.0.1:9424",
		LogLevel:           "info",
		LogFormat:          "console",
		ProtocolVersion:    CurrentProtocolVersion,
		PoolMaxPerURL:      8,
		PoolAcquireTimeout: 5 * time.Second,
		CacheSize:          2048,
		CommandTimeoutMax:  35 * time.Second,
	}
}

// CurrentProtocolVersion is the highest wire protocol version this
// build speaks. It gates the version branches documented in the
// dispatcher package.
const CurrentProtocolVersion = 24

// Load builds the final configuration by applying the priority cascade:
// defaults < global (~/.lucent/config.yaml) < project (.lucent.yaml) <
// env vars < flags.
func Load(projectDir string, flags *FlagOverrides) (Config, error) {
	cfg := Defaults()

	if home, err := os.UserHomeDir(); err == nil {
		if err := loadYAMLFile(&cfg, filepath.Join(home, ".lucent", "config.yaml")); err != nil {
			return cfg, fmt.Errorf("global config: %w", err)
		}
	}

	if err := loadYAMLFile(&cfg, filepath.Join(projectDir, ".lucent.yaml")); err != nil {
		return cfg, fmt.Errorf("project config: %w", err)
	}

	loadEnvVars(&cfg)

	if flags != nil {
		applyFlags(&cfg, flags)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadYAMLFile reads a YAML config file and merges non-zero values into cfg.
// A missing file is not an error.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var fileCfg fileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if fileCfg.ListenAddr != nil {
		cfg.ListenAddr = *fileCfg.ListenAddr
	}
	if fileCfg.MetricsAddr != nil {
		cfg.MetricsAddr = *fileCfg.MetricsAddr
	}
	if fileCfg.LogLevel != nil {
		cfg.LogLevel = *fileCfg.LogLevel
	}
	if fileCfg.LogFormat != nil {
		cfg.LogFormat = *fileCfg.LogFormat
	}
	if fileCfg.ProtocolVersion != nil {
		cfg.ProtocolVersion = *fileCfg.ProtocolVersion
	}
	if fileCfg.PoolMaxPerURL != nil {
		cfg.PoolMaxPerURL = *fileCfg.PoolMaxPerURL
	}
	if fileCfg.PoolAcquireTimeoutMs != nil {
		cfg.PoolAcquireTimeout = time.Duration(*fileCfg.PoolAcquireTimeoutMs) * time.Millisecond
	}
	if fileCfg.CacheSize != nil {
		cfg.CacheSize = *fileCfg.CacheSize
	}
	if fileCfg.CommandTimeoutMaxMs != nil {
		cfg.CommandTimeoutMax = time.Duration(*fileCfg.CommandTimeoutMaxMs) * time.Millisecond
	}

	return nil
}

// fileConfig uses pointers to distinguish "not set" from zero values.
// PoolAcquireTimeoutMs is plain milliseconds in the file since
// time.Duration has no natural YAML scalar form.
type fileConfig struct {
	ListenAddr           *string `yaml:"listen_addr"`
	MetricsAddr          *string `yaml:"metrics_addr"`
	LogLevel             *string `yaml:"log_level"`
	LogFormat            *string `yaml:"log_format"`
	ProtocolVersion      *int    `yaml:"protocol_version"`
	PoolMaxPerURL         *int   `yaml:"pool_max_per_url"`
	PoolAcquireTimeoutMs *int    `yaml:"pool_acquire_timeout_ms"`
	CacheSize            *int    `yaml:"cache_size"`
	CommandTimeoutMaxMs  *int    `yaml:"command_timeout_max_ms"`
}

// loadEnvVars applies environment variable overrides.
func loadEnvVars(cfg *Config) {
	if v := os.Getenv("LUCENT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LUCENT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("LUCENT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LUCENT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("LUCENT_POOL_MAX_PER_URL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolMaxPerURL = n
		}
	}
	if v := os.Getenv("LUCENT_POOL_ACQUIRE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolAcquireTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("LUCENT_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheSize = n
		}
	}
	if v := os.Getenv("LUCENT_COMMAND_TIMEOUT_MAX_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CommandTimeoutMax = time.Duration(n) * time.Millisecond
		}
	}
}

// applyFlags applies command-line flag overrides (highest priority).
func applyFlags(cfg *Config, flags *FlagOverrides) {
	if flags.ListenAddr != nil {
		cfg.ListenAddr = *flags.ListenAddr
	}
	if flags.MetricsAddr != nil {
		cfg.MetricsAddr = *flags.MetricsAddr
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		cfg.LogFormat = *flags.LogFormat
	}
	if flags.ProtocolVersion != nil {
		cfg.ProtocolVersion = *flags.ProtocolVersion
	}
	if flags.PoolMaxPerURL != nil {
		cfg.PoolMaxPerURL = *flags.PoolMaxPerURL
	}
	if flags.PoolAcquireTimeout != nil {
		cfg.PoolAcquireTimeout = *flags.PoolAcquireTimeout
	}
	if flags.CacheSize != nil {
		cfg.CacheSize = *flags.CacheSize
	}
	if flags.CommandTimeoutMax != nil {
		cfg.CommandTimeoutMax = *flags.CommandTimeoutMax
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c Config) Validate() error {
	if c.PoolMaxPerURL < 0 {
		return fmt.Errorf("pool_max_per_url must be >= 0, got %d", c.PoolMaxPerURL)
	}
	if c.PoolAcquireTimeout < 0 {
		return fmt.Errorf("pool_acquire_timeout must be >= 0, got %s", c.PoolAcquireTimeout)
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("cache_size must be >= 1, got %d", c.CacheSize)
	}
	if c.ProtocolVersion < 1 {
		return fmt.Errorf("protocol_version must be >= 1, got %d", c.ProtocolVersion)
	}
	return nil
}
