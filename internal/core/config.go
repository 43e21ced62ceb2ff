// internal/core/config.go
// Layered configuration: defaults < YAML file < SVCPROBE_ env < flag overrides

package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables; "__" separates nested keys
const EnvPrefix = "SVCPROBE_"

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the complete application configuration
type Config struct {
	Scanner ScannerConfig `koanf:"scanner"`
	Output  OutputConfig  `koanf:"output"`
	Store   StoreConfig   `koanf:"store"`
	Log     LogConfig     `koanf:"log"`
}

// ScannerConfig contains probe engine settings
type ScannerConfig struct {
	Engine         string        `koanf:"engine"`
	Concurrency    int           `koanf:"concurrency"`
	Rate           int           `koanf:"rate"` // connects per second, 0 = unlimited
	Adaptive       bool          `koanf:"adaptive"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	ProbeTimeout   time.Duration `koanf:"probe_timeout"`
	BufferSize     int           `koanf:"buffer_size"`
	Deep           bool          `koanf:"deep"`
	MaxUnits       uint64        `koanf:"max_units"` // 0 disables the check
}

// OutputConfig contains output settings
type OutputConfig struct {
	Formats    []string `koanf:"formats"` // console, table, csv, jsonl
	Directory  string   `koanf:"directory"`
	FilePrefix string   `koanf:"file_prefix"`
	Verbose    bool     `koanf:"verbose"`
	Progress   bool     `koanf:"progress"`
	Color      bool     `koanf:"color"`
}

// StoreConfig contains result database settings
type StoreConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, console
	File   string `koanf:"file"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Scanner: ScannerConfig{
			Engine:         "native",
			Concurrency:    1000,
			ConnectTimeout: 3 * time.Second,
			ReadTimeout:    1 * time.Second,
			ProbeTimeout:   2 * time.Second,
			BufferSize:     1024,
			MaxUnits:       50_000_000,
		},
		Output: OutputConfig{
			Formats:    []string{"console"},
			Directory:  "./results",
			FilePrefix: "svcprobe",
			Color:      true,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "svcprobe.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from every layer. configPath may be empty.
// overrides uses dotted keys ("scanner.concurrency") and wins over everything.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// 3. Environment: SVCPROBE_SCANNER__CONNECT_TIMEOUT=5s -> scanner.connect_timeout
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load overrides: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var (
	validFormats    = map[string]bool{"console": true, "table": true, "csv": true, "jsonl": true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "console": true}
)

// Validate checks ranges and enumerations
func Validate(cfg *Config) error {
	s := cfg.Scanner
	if s.Engine == "" {
		return fmt.Errorf("%w: scanner.engine is empty", ErrInvalidConfig)
	}
	if s.Concurrency < 1 || s.Concurrency > 100000 {
		return fmt.Errorf("%w: scanner.concurrency %d (must be between 1 and 100000)", ErrInvalidConfig, s.Concurrency)
	}
	if s.Rate < 0 || s.Rate > 1000000 {
		return fmt.Errorf("%w: scanner.rate %d (must be between 0 and 1000000)", ErrInvalidConfig, s.Rate)
	}
	for name, d := range map[string]time.Duration{
		"connect_timeout": s.ConnectTimeout,
		"read_timeout":    s.ReadTimeout,
		"probe_timeout":   s.ProbeTimeout,
	} {
		if d < 10*time.Millisecond || d > 5*time.Minute {
			return fmt.Errorf("%w: scanner.%s %v (must be between 10ms and 5m)", ErrInvalidConfig, name, d)
		}
	}
	if s.BufferSize < 64 || s.BufferSize > 65536 {
		return fmt.Errorf("%w: scanner.buffer_size %d (must be between 64 and 65536)", ErrInvalidConfig, s.BufferSize)
	}

	if len(cfg.Output.Formats) == 0 {
		return fmt.Errorf("%w: output.formats is empty", ErrInvalidConfig)
	}
	for _, f := range cfg.Output.Formats {
		if !validFormats[f] {
			return fmt.Errorf("%w: output format %q (must be console, table, csv or jsonl)", ErrInvalidConfig, f)
		}
	}

	if cfg.Store.Enabled && cfg.Store.Path == "" {
		return fmt.Errorf("%w: store.path is empty", ErrInvalidConfig)
	}

	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, cfg.Log.Level)
	}
	if !validLogFormats[cfg.Log.Format] {
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, cfg.Log.Format)
	}
	return nil
}

// Snapshot returns the configuration as a nested map for storage
func (c Config) Snapshot() map[string]interface{} {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(c, "koanf"), nil); err != nil {
		return nil
	}
	return k.Raw()
}
