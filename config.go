package jsbridge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"
)

const (
	envPrefix          = "JSBRIDGE"
	DefaultRotateEvery = 5
	DefaultPoolSize    = 4
)

// Config holds runtime configuration.
type Config struct {
	// Engine selects the engine handle implementation: "goja" or "otto".
	Engine string `envconfig:"ENGINE" default:"goja" yaml:"engine" toml:"engine"`
	// RotateEvery is the evaluation count at which the context is replaced.
	// Zero or less disables rotation.
	RotateEvery int `envconfig:"ROTATE_EVERY" default:"5" yaml:"rotate_every" toml:"rotate_every"`
	// SourceURL names the evaluated script in engine stack traces.
	SourceURL string `envconfig:"SOURCE_URL" yaml:"source_url" toml:"source_url"`
	PoolSize  int    `envconfig:"POOL_SIZE" default:"4" yaml:"pool_size" toml:"pool_size"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level" toml:"log_level"`
	LogDev    bool   `envconfig:"LOG_DEV" default:"false" yaml:"log_dev" toml:"log_dev"`
}

func DefaultConfig() Config {
	return Config{
		Engine:      TypeEngineGoja,
		RotateEvery: DefaultRotateEvery,
		PoolSize:    DefaultPoolSize,
		LogLevel:    "info",
	}
}

// LoadConfig reads configuration from JSBRIDGE_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigOrDefault returns the environment configuration, or the
// defaults if it cannot be loaded.
func LoadConfigOrDefault() Config {
	cfg, err := LoadConfig()
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// LoadConfigFile starts from the defaults, applies the YAML (.yaml, .yml)
// or TOML (.toml) file at path, then applies any JSBRIDGE_* environment
// variables that are set. The environment wins over the file.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	env.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envOverrides mirrors Config without defaults; a nil field means the
// variable is unset and the file value stands.
type envOverrides struct {
	Engine      *string `envconfig:"ENGINE"`
	RotateEvery *int    `envconfig:"ROTATE_EVERY"`
	SourceURL   *string `envconfig:"SOURCE_URL"`
	PoolSize    *int    `envconfig:"POOL_SIZE"`
	LogLevel    *string `envconfig:"LOG_LEVEL"`
	LogDev      *bool   `envconfig:"LOG_DEV"`
}

func (o envOverrides) apply(cfg *Config) {
	if o.Engine != nil {
		cfg.Engine = *o.Engine
	}
	if o.RotateEvery != nil {
		cfg.RotateEvery = *o.RotateEvery
	}
	if o.SourceURL != nil {
		cfg.SourceURL = *o.SourceURL
	}
	if o.PoolSize != nil {
		cfg.PoolSize = *o.PoolSize
	}
	if o.LogLevel != nil {
		cfg.LogLevel = *o.LogLevel
	}
	if o.LogDev != nil {
		cfg.LogDev = *o.LogDev
	}
}

func (c Config) Validate() error {
	switch c.Engine {
	case TypeEngineGoja, TypeEngineOtto:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngine, c.Engine)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("invalid pool size %d", c.PoolSize)
	}
	if c.LogLevel != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
		}
	}
	return nil
}
