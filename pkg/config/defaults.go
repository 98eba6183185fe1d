package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Upstream defaults
	DefaultBaseURL           = "https://q.us-east-1.amazonaws.com"
	DefaultFirstTokenTimeout = 30 * time.Second
	DefaultStreamIdleTimeout = 120 * time.Second
	DefaultMaxRetries        = 3
	DefaultModelCacheTTL     = time.Hour

	// Recovery defaults
	DefaultRecoveryTTL       = 5 * time.Minute
	DefaultReasoningHandling = ReasoningIncludeAsText

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills zero-valued fields with defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	if cfg.Auth.WatchCredsFile == nil {
		t := true
		cfg.Auth.WatchCredsFile = &t
	}

	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = DefaultBaseURL
	}
	if cfg.Upstream.FirstTokenTimeout == 0 {
		cfg.Upstream.FirstTokenTimeout = DefaultFirstTokenTimeout
	}
	if cfg.Upstream.StreamIdleTimeout == 0 {
		cfg.Upstream.StreamIdleTimeout = DefaultStreamIdleTimeout
	}
	if cfg.Upstream.MaxRetries == 0 {
		cfg.Upstream.MaxRetries = DefaultMaxRetries
	}
	if cfg.Upstream.ModelCacheTTL == 0 {
		cfg.Upstream.ModelCacheTTL = DefaultModelCacheTTL
	}

	if cfg.Recovery.Enabled == nil {
		t := true
		cfg.Recovery.Enabled = &t
	}
	if cfg.Recovery.TTL == 0 {
		cfg.Recovery.TTL = DefaultRecoveryTTL
	}
	if cfg.Recovery.ReasoningHandling == "" {
		cfg.Recovery.ReasoningHandling = DefaultReasoningHandling
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}
