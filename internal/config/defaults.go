package config

import "time"

const defaultTransientRetries = 3

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Edgerc.Path == "" {
		cfg.Edgerc.Path = "~/.edgerc"
	}
	if cfg.Edgerc.Section == "" {
		cfg.Edgerc.Section = "default"
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = 5 * time.Second
	}
	// Without an attempt cap the wait is bounded by time.
	if cfg.Poll.MaxAttempts == 0 && cfg.Poll.MaxDuration == 0 {
		cfg.Poll.MaxDuration = 30 * time.Minute
	}
	if cfg.Poll.TransientRetries == nil {
		n := defaultTransientRetries
		cfg.Poll.TransientRetries = &n
	}
	if cfg.Extract.Workers == 0 {
		cfg.Extract.Workers = 4
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = 60 * time.Second
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
	if cfg.Server.CompleteAfter == 0 {
		cfg.Server.CompleteAfter = 2
	}
}
