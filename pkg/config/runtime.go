package config

import (
	"os"
	"strconv"
	"time"
)

// The accessors below re-read their environment key on every call, falling
// back to the loaded configuration. Behavior-tuning values are observed, not
// captured: a request picks up the current value at the moment it needs it.

// LiveGatewayKey returns the bearer the gateway accepts from clients.
func (c *Config) LiveGatewayKey() string {
	if v := os.Getenv("GATEWAY_KEY"); v != "" {
		return v
	}
	return c.Server.GatewayKey
}

// LiveFirstTokenTimeout returns the current first-token timeout.
func (c *Config) LiveFirstTokenTimeout() time.Duration {
	if v := os.Getenv("FIRST_TOKEN_TIMEOUT"); v != "" {
		if d, err := parseFlexDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return c.Upstream.FirstTokenTimeout
}

// LiveStreamIdleTimeout returns the current mid-stream idle timeout.
func (c *Config) LiveStreamIdleTimeout() time.Duration {
	if v := os.Getenv("STREAM_IDLE_TIMEOUT"); v != "" {
		if d, err := parseFlexDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return c.Upstream.StreamIdleTimeout
}

// LiveMaxRetries returns the current total-attempt budget.
func (c *Config) LiveMaxRetries() int {
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return c.Upstream.MaxRetries
}

// LiveRecoveryEnabled reports whether truncation recovery is active.
func (c *Config) LiveRecoveryEnabled() bool {
	if v := os.Getenv("TRUNCATION_RECOVERY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	if c.Recovery.Enabled != nil {
		return *c.Recovery.Enabled
	}
	return true
}

// LiveReasoningHandling returns the current thinking-content mode.
func (c *Config) LiveReasoningHandling() string {
	if v := os.Getenv("FAKE_REASONING_HANDLING"); v != "" {
		switch v {
		case ReasoningIncludeAsText, ReasoningEmitBlock, ReasoningStrip:
			return v
		}
	}
	return c.Recovery.ReasoningHandling
}

// LiveProfileARN returns the operator-configured profile ARN, if any.
func (c *Config) LiveProfileARN() string {
	if v := os.Getenv("PROFILE_ARN"); v != "" {
		return v
	}
	return c.Auth.ProfileARN
}
