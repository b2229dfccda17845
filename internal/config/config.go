// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/jeranaias/gptchat/internal/util"
)

// Session modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// New chat strategies.
const (
	NewChatEager = "eager"
	NewChatLazy  = "lazy"
)

// Cache backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DefaultSystemPrompt is sent with every assistant round trip unless
// overridden. It is not user-editable from the chat itself.
const DefaultSystemPrompt = "You are a helpful assistant. Answer clearly and concisely."

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete gptchat configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Cache   CacheConfig   `toml:"cache"`
	Session SessionConfig `toml:"session"`
	Log     LogConfig     `toml:"log"`
}

// APIConfig configures the remote conversation API.
type APIConfig struct {
	// BaseURL is the server root, e.g. http://localhost:8000
	BaseURL string `toml:"base_url" env:"GPTCHAT_API_URL"`
	// TimeoutSecs bounds each request. 0 leaves the transport default.
	TimeoutSecs int `toml:"timeout_secs" env:"GPTCHAT_API_TIMEOUT_SECS"`
	// SystemPrompt accompanies every /ask call.
	SystemPrompt string `toml:"system_prompt" env:"GPTCHAT_SYSTEM_PROMPT"`
	// RequestsPerSecond throttles outgoing calls (0 = unlimited)
	RequestsPerSecond float64 `toml:"requests_per_second" env:"GPTCHAT_API_RPS"`
}

// CacheConfig configures the persistent key-value cache.
type CacheConfig struct {
	// Backend is "file", "sqlite" or "memory"
	Backend string `toml:"backend" env:"GPTCHAT_CACHE_BACKEND"`
	// Path of the cache file; empty derives one from the backend
	Path string `toml:"path" env:"GPTCHAT_CACHE_PATH"`
	// PollIntervalMs is how often the sqlite backend checks for writes
	// from other processes.
	PollIntervalMs int `toml:"poll_interval_ms" env:"GPTCHAT_CACHE_POLL_MS"`
}

// SessionConfig configures the conversation session store.
type SessionConfig struct {
	// Mode is "local" (conversations live in the cache) or "remote"
	// (conversations live on the server).
	Mode string `toml:"mode" env:"GPTCHAT_SESSION_MODE"`
	// NewChat is "eager" (create a record immediately) or "lazy" (create it
	// when the first message is sent).
	NewChat string `toml:"new_chat" env:"GPTCHAT_NEW_CHAT"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level" env:"GPTCHAT_LOG_LEVEL"`
	Format string `toml:"format" env:"GPTCHAT_LOG_FORMAT"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:      "http://localhost:8000",
			TimeoutSecs:  0,
			SystemPrompt: DefaultSystemPrompt,
		},
		Cache: CacheConfig{
			Backend:        BackendFile,
			PollIntervalMs: 500,
		},
		Session: SessionConfig{
			Mode:    ModeRemote,
			NewChat: NewChatLazy,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// Timeout returns the request timeout as a duration.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// PollInterval returns the sqlite change poll interval.
func (c CacheConfig) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.gptchat.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gptchat"), nil
}

// ConfigPath returns ~/.gptchat/config.toml.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CachePath returns the configured cache path, or the default for the
// backend under ConfigDir.
func (c *Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return c.Cache.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if c.Cache.Backend == BackendSQLite {
		return filepath.Join(dir, "cache.db"), nil
	}
	return filepath.Join(dir, "cache.json"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration. An empty path means the default location;
// a missing default file is not an error, a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err == nil {
			path = p
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode TOML file %s: %w", path, err)
			}
		} else if explicit {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	LoadDotEnv(".env")
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads each existing file into the process environment.
// Values already set in the environment win.
func LoadDotEnv(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
		}
	}
}

// ApplyEnvOverrides applies GPTCHAT_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env config: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	c.API.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.API.BaseURL), "/")
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Session.Mode = strings.ToLower(strings.TrimSpace(c.Session.Mode))
	c.Session.NewChat = strings.ToLower(strings.TrimSpace(c.Session.NewChat))
	if c.API.SystemPrompt == "" {
		c.API.SystemPrompt = DefaultSystemPrompt
	}
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes cfg as TOML to path (the default location when empty).
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.API.BaseURL == "" {
		errs = append(errs, ValidationError{Field: "api.base_url", Message: "must not be empty"})
	} else if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must start with http:// or https://", c.API.BaseURL),
		})
	}
	if c.API.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "api.timeout_secs", Message: "must not be negative"})
	}
	if c.API.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "api.requests_per_second", Message: "must not be negative"})
	}

	switch c.Cache.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, ValidationError{
			Field:   "cache.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: file, sqlite, memory", c.Cache.Backend),
		})
	}

	switch c.Session.Mode {
	case ModeLocal, ModeRemote:
	default:
		errs = append(errs, ValidationError{
			Field:   "session.mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: local, remote", c.Session.Mode),
		})
	}

	switch c.Session.NewChat {
	case NewChatEager, NewChatLazy:
	default:
		errs = append(errs, ValidationError{
			Field:   "session.new_chat",
			Message: fmt.Sprintf("invalid strategy '%s', must be one of: eager, lazy", c.Session.NewChat),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
