package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration from an optional YAML file and the
// environment. An empty path skips the file entirely and configures purely
// from env. The sequence is: parse file, apply defaults, apply environment
// overrides, validate.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variables on top of the loaded file.
// The credential and behavior keys are deliberately unprefixed: they are the
// documented operator surface and match what the Kiro CLI already uses.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GANYMEDE_LISTEN_ADDRESS"); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := os.Getenv("GANYMEDE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GANYMEDE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("GATEWAY_KEY"); v != "" {
		cfg.Server.GatewayKey = v
	}
	if v := os.Getenv("REFRESH_TOKEN"); v != "" {
		cfg.Auth.RefreshToken = v
	}
	if v := os.Getenv("KIRO_CREDS_FILE"); v != "" {
		cfg.Auth.CredsFile = v
	}
	if v := os.Getenv("KIRO_CLI_DB_FILE"); v != "" {
		cfg.Auth.CLIDBFile = v
	}
	if v := os.Getenv("PROFILE_ARN"); v != "" {
		cfg.Auth.ProfileARN = v
	}
	if v := os.Getenv("KIRO_API_HOST"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("VPN_PROXY_URL"); v != "" {
		cfg.Upstream.VPNProxyURL = v
	}
	if v := os.Getenv("FIRST_TOKEN_TIMEOUT"); v != "" {
		if d, err := parseFlexDuration(v); err == nil {
			cfg.Upstream.FirstTokenTimeout = d
		}
	}
	if v := os.Getenv("STREAM_IDLE_TIMEOUT"); v != "" {
		if d, err := parseFlexDuration(v); err == nil {
			cfg.Upstream.StreamIdleTimeout = d
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Upstream.MaxRetries = n
		}
	}
	if v := os.Getenv("TRUNCATION_RECOVERY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Recovery.Enabled = &b
		}
	}
	if v := os.Getenv("FAKE_REASONING_HANDLING"); v != "" {
		cfg.Recovery.ReasoningHandling = v
	}
}

// parseFlexDuration accepts Go duration syntax ("30s", "1m") or a bare
// number, which is interpreted as seconds.
func parseFlexDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}
