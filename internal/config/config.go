// Package config provides configuration loading and structs for bulksearch.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvEdgerc     = "BULKSEARCH_EDGERC"
	EnvSection    = "BULKSEARCH_SECTION"
	EnvAccountKey = "BULKSEARCH_ACCOUNT_KEY"
	EnvWorkers    = "BULKSEARCH_WORKERS"
	EnvInterval   = "BULKSEARCH_POLL_INTERVAL"
	EnvMaxWait    = "BULKSEARCH_MAX_WAIT"
)

// Config holds all configuration for the application.
type Config struct {
	Debug            bool          `yaml:"debug"`
	Edgerc           EdgercConfig  `yaml:"edgerc"`
	AccountSwitchKey string        `yaml:"account_switch_key"`
	Poll             PollConfig    `yaml:"poll"`
	Extract          ExtractConfig `yaml:"extract"`
	HTTP             HTTPConfig    `yaml:"http"`
	Server           ServerConfig  `yaml:"server"`
}

// EdgercConfig locates the EdgeGrid credentials.
type EdgercConfig struct {
	Path    string `yaml:"path"`
	Section string `yaml:"section"`
}

// PollConfig bounds how long a job is waited for.
type PollConfig struct {
	Interval         time.Duration `yaml:"interval"`
	MaxAttempts      int           `yaml:"max_attempts"`
	MaxDuration      time.Duration `yaml:"max_duration"`
	TransientRetries *int          `yaml:"transient_retries"`
}

// TransientRetriesOrDefault returns the retry budget; defaults to 3 when unset.
func (p *PollConfig) TransientRetriesOrDefault() int {
	if p.TransientRetries != nil {
		return *p.TransientRetries
	}
	return defaultTransientRetries
}

// ExtractConfig holds result extraction settings.
type ExtractConfig struct {
	Workers int `yaml:"workers"`
}

// HTTPConfig holds client transport settings.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig holds settings for the local stub search service.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	FixturesDir   string `yaml:"fixtures_dir"`
	CompleteAfter int    `yaml:"complete_after"`
	Watch         bool   `yaml:"watch"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Edgerc.Path = expandPath(cfg.Edgerc.Path, configDir)
	if cfg.Server.FixturesDir != "" {
		cfg.Server.FixturesDir = expandPath(cfg.Server.FixturesDir, configDir)
	}
	return &cfg, nil
}

// LoadOrDefault loads path when it exists. A missing file yields the defaults
// unless required is set.
func LoadOrDefault(path string, required bool) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !required && errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
		ApplyDefaults(cfg)
		cfg.Edgerc.Path = expandPath(cfg.Edgerc.Path, "")
		return cfg, nil
	}
	return nil, err
}

// LoadDotEnv loads a .env file from the working directory into the process
// environment. Variables already set win. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with the BULKSEARCH_* environment variables.
func ApplyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvEdgerc)); v != "" {
		cfg.Edgerc.Path = expandPath(v, "")
	}
	if v := strings.TrimSpace(os.Getenv(EnvSection)); v != "" {
		cfg.Edgerc.Section = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAccountKey)); v != "" {
		cfg.AccountSwitchKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvWorkers)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive integer, got %q", EnvWorkers, v)
		}
		cfg.Extract.Workers = n
	}
	if v := strings.TrimSpace(os.Getenv(EnvInterval)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %q", EnvInterval, v)
		}
		cfg.Poll.Interval = d
	}
	if v := strings.TrimSpace(os.Getenv(EnvMaxWait)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %q", EnvMaxWait, v)
		}
		cfg.Poll.MaxDuration = d
	}
	return nil
}

// Validate reports settings that would leave a run unbounded or unusable.
func (c *Config) Validate() error {
	if c.Poll.MaxAttempts <= 0 && c.Poll.MaxDuration <= 0 {
		return errors.New("poll: max_attempts or max_duration must be set")
	}
	if c.Poll.Interval <= 0 {
		return errors.New("poll: interval must be positive")
	}
	if c.Poll.TransientRetriesOrDefault() < 0 {
		return errors.New("poll: transient_retries must not be negative")
	}
	if c.Extract.Workers < 1 {
		return errors.New("extract: workers must be at least 1")
	}
	return nil
}

// DefaultPath returns ~/.bulksearch/config.yaml, or the relative path when the
// home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".bulksearch", "config.yaml")
	}
	return filepath.Join(home, ".bulksearch", "config.yaml")
}

// expandPath converts a path to absolute. A leading "~/" means the home directory;
// paths starting with "./" are relative to configDir; other relative paths are
// relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	home, homeErr := os.UserHomeDir()
	if strings.HasPrefix(path, "~/") {
		if homeErr != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if strings.HasPrefix(path, "./") || path == "." {
		if configDir == "" {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
		return filepath.Join(configDir, path)
	}
	if homeErr == nil {
		return filepath.Join(home, path)
	}
	return path
}
