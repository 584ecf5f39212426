// Package config loads the subscriber configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// WATERGRANT_* environment variables. The result is checked against an
// embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/watergrant/internal/address"
	"github.com/roach88/watergrant/internal/retry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WATERGRANT_"

//go:embed schema.cue
var schemaSource string

// Config is the subscriber configuration.
type Config struct {
	ValidatorURL   string        `yaml:"validator_url" env:"VALIDATOR_URL"`
	Database       string        `yaml:"database" env:"DATABASE"`
	Family         string        `yaml:"family" env:"FAMILY"`
	KnownBlocks    int           `yaml:"known_blocks" env:"KNOWN_BLOCKS"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout" env:"RECEIVE_TIMEOUT"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	LogLevel       string        `yaml:"log_level" env:"LOG_LEVEL"`
	Retry          retry.Policy  `yaml:"retry" envPrefix:"RETRY_"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		ValidatorURL:   "tcp://validator:4004",
		Database:       "watergrant.db",
		Family:         address.DefaultFamily,
		KnownBlocks:    15,
		ReceiveTimeout: 250 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
		LogLevel:       "info",
		Retry:          retry.Default(),
	}
}

// Load reads path (skipped when empty) over the defaults, applies the
// process environment and validates the result.
func Load(path string) (Config, error) {
	return load(path, env.Options{Prefix: EnvPrefix})
}

// LoadWithEnv is Load with an explicit environment instead of the
// process environment.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	return load(path, env.Options{Prefix: EnvPrefix, Environment: environ})
}

func load(path string, opts env.Options) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c.document()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// document renders the configuration with the YAML field names the
// schema uses.
func (c Config) document() map[string]any {
	return map[string]any{
		"validator_url":   c.ValidatorURL,
		"database":        c.Database,
		"family":          c.Family,
		"known_blocks":    c.KnownBlocks,
		"receive_timeout": c.ReceiveTimeout.String(),
		"request_timeout": c.RequestTimeout.String(),
		"log_level":       c.LogLevel,
		"retry": map[string]any{
			"max_attempts":  c.Retry.MaxAttempts,
			"initial_delay": c.Retry.InitialDelay.String(),
			"multiplier":    c.Retry.Multiplier,
			"max_delay":     c.Retry.MaxDelay.String(),
		},
	}
}

// Namespace returns the address namespace of the configured family.
func (c Config) Namespace() address.Namespace {
	return address.NewNamespace(c.Family)
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
