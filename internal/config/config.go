// Package config loads the settings shared by the callpath commands.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"github.com/aretw0/callpath/internal/validator"
	"gopkg.in/yaml.v3"
)

// Config is the callpath.yaml document.
type Config struct {
	LogLevel  string `yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `yaml:"log_format,omitempty" validate:"omitempty,oneof=text json"`

	Store Store `yaml:"store"`

	// Definitions is the directory holding pipeline files.
	Definitions string `yaml:"definitions,omitempty"`
	// DefinitionsSource selects how Definitions is read: plain YAML files or
	// a Loam document repository (Markdown with front matter).
	DefinitionsSource string `yaml:"definitions_source,omitempty" validate:"omitempty,oneof=yaml loam"`
	// Commands lists external programs usable through the exec step.
	Commands string `yaml:"commands,omitempty"`
	Workers  int    `yaml:"workers,omitempty" validate:"omitempty,min=1,max=256"`

	// EncryptionKey is a base64 encoded 32 byte AES key. When set, payloads
	// and metadata are encrypted at rest.
	EncryptionKey string `yaml:"encryption_key,omitempty" validate:"omitempty,base64"`
	// FallbackKeys are older keys still accepted for decryption.
	FallbackKeys []string `yaml:"fallback_keys,omitempty" validate:"omitempty,dive,base64"`

	// Redact lists regular expressions of payload keys masked by inspect commands.
	Redact []string `yaml:"redact,omitempty"`

	HTTP HTTP `yaml:"http,omitempty"`
}

// Store selects and configures the persistence backend.
type Store struct {
	Driver string `yaml:"driver" validate:"required,oneof=memory sqlite redis"`
	Path   string `yaml:"path,omitempty" validate:"required_if=Driver sqlite"`

	Addr     string `yaml:"addr,omitempty" validate:"required_if=Driver redis"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" validate:"min=0"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// HTTP configures the serve command.
type HTTP struct {
	Addr string `yaml:"addr,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Store:             Store{Driver: "sqlite", Path: "callpath.db"},
		Definitions:       "pipelines",
		DefinitionsSource: "yaml",
		Commands:          "commands.yaml",
		Workers:           4,
		HTTP:              HTTP{Addr: ":8080"},
	}
}

// Load reads path over the defaults, applies CALLPATH_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the encryption key sizes.
func (c *Config) Validate() error {
	if err := validator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, _, err := c.Keys(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Keys decodes the encryption keys. The active key is nil when encryption
// is disabled.
func (c *Config) Keys() (active []byte, fallback [][]byte, err error) {
	if c.EncryptionKey == "" {
		if len(c.FallbackKeys) > 0 {
			return nil, nil, fmt.Errorf("fallback_keys given without encryption_key")
		}
		return nil, nil, nil
	}
	if active, err = decodeKey(c.EncryptionKey); err != nil {
		return nil, nil, fmt.Errorf("encryption_key: %w", err)
	}
	for i, k := range c.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback_keys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"CALLPATH_LOG_LEVEL":      &c.LogLevel,
		"CALLPATH_LOG_FORMAT":     &c.LogFormat,
		"CALLPATH_STORE":          &c.Store.Driver,
		"CALLPATH_SQLITE_PATH":    &c.Store.Path,
		"CALLPATH_REDIS_ADDR":     &c.Store.Addr,
		"CALLPATH_REDIS_PASSWORD": &c.Store.Password,
		"CALLPATH_REDIS_PREFIX":   &c.Store.Prefix,
		"CALLPATH_DEFINITIONS":    &c.Definitions,
		"CALLPATH_SOURCE":         &c.DefinitionsSource,
		"CALLPATH_COMMANDS":       &c.Commands,
		"CALLPATH_ENCRYPTION_KEY": &c.EncryptionKey,
		"CALLPATH_HTTP_ADDR":      &c.HTTP.Addr,
	}
	for name, field := range str {
		if v, ok := lookup(name); ok {
			*field = v
		}
	}

	ints := map[string]*int{
		"CALLPATH_REDIS_DB": &c.Store.DB,
		"CALLPATH_WORKERS":  &c.Workers,
	}
	for name, field := range ints {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = n
	}
	return nil
}
