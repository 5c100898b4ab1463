package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kardianos/qkeychain/qdef"
	"github.com/kardianos/qkeychain/qstore"
)

// Backends accepted in the config file and QKEYCHAIN_BACKEND.
const (
	backendFile     = "file"
	backendBolt     = "bolt"
	backendSQLite   = "sqlite"
	backendMemory   = "memory"
	backendRegistry = "registry"
)

// Config mirrors the YAML config file.
type Config struct {
	// Data is the store location: a directory for "file", a database file
	// for "bolt" and "sqlite", a registry path for "registry".
	Data     string `yaml:"data"`
	Backend  string `yaml:"backend"`
	TieBreak string `yaml:"tie_break"`
	LogLevel string `yaml:"log_level"`

	// PassphraseEnv names an environment variable holding a passphrase used
	// to seal keys instead of the platform default. Salt is hex.
	PassphraseEnv string `yaml:"passphrase_env"`
	Salt          string `yaml:"salt"`
}

func defaultConfig() *Config {
	return &Config{
		Data:     qstore.DefaultPath,
		Backend:  backendBolt,
		TieBreak: qdef.TieBreakNewest.String(),
		LogLevel: "warn",
	}
}

// LoadConfig reads the YAML file at path, if any, over the defaults and then
// applies environment overrides.
func LoadConfig(path string, logger *slog.Logger) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		logger.Debug("loading config from file", "path", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file at %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse YAML config: %w", err)
		}
	}

	if v := os.Getenv("QKEYCHAIN_DATA"); v != "" {
		logger.Debug("overriding config value", "key", "QKEYCHAIN_DATA", "source", "env")
		cfg.Data = v
	}
	if v := os.Getenv("QKEYCHAIN_BACKEND"); v != "" {
		logger.Debug("overriding config value", "key", "QKEYCHAIN_BACKEND", "source", "env")
		cfg.Backend = v
	}
	if v := os.Getenv("QKEYCHAIN_TIE_BREAK"); v != "" {
		logger.Debug("overriding config value", "key", "QKEYCHAIN_TIE_BREAK", "source", "env")
		cfg.TieBreak = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values without touching the store.
func (c *Config) Validate() error {
	switch c.Backend {
	case backendFile, backendBolt, backendSQLite, backendMemory, backendRegistry:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Data == "" && c.Backend != backendMemory {
		return fmt.Errorf("data location is required for backend %s", c.Backend)
	}
	if _, err := qdef.ParseTieBreak(c.TieBreak); err != nil {
		return err
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.PassphraseEnv != "" {
		salt, err := hex.DecodeString(c.Salt)
		if err != nil || len(salt) < 16 {
			return fmt.Errorf("salt must be at least 16 hex-encoded bytes when passphrase_env is set")
		}
	}
	return nil
}

// sealer returns the configured sealer, or nil for the platform default.
func (c *Config) sealer() (qstore.Sealer, error) {
	if c.PassphraseEnv == "" {
		return nil, nil
	}
	pass := os.Getenv(c.PassphraseEnv)
	if pass == "" {
		return nil, fmt.Errorf("%s is not set", c.PassphraseEnv)
	}
	salt, _ := hex.DecodeString(c.Salt)
	return qstore.PassphraseSecretBox(pass, salt)
}

// dataPath expands the data location. For database backends a directory
// location gets a default file name.
func (c *Config) dataPath() string {
	p := os.Expand(c.Data, os.Getenv)
	switch c.Backend {
	case backendBolt:
		if filepath.Ext(p) == "" {
			p = filepath.Join(p, "keychain.db")
		}
	case backendSQLite:
		if filepath.Ext(p) == "" {
			p = filepath.Join(p, "keychain.sqlite")
		}
	}
	return p
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
