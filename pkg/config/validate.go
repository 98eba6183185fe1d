package config

import (
	"fmt"
	"strings"
)

// ValidationError describes a configuration field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for structural problems. Credential
// presence is not checked here: the auth package performs the source search
// and reports a dedicated exit code when nothing usable is found.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddress == "" {
		return &ValidationError{Field: "server.listen_address", Message: "must not be empty"}
	}
	if cfg.Server.GatewayKey == "" {
		return &ValidationError{Field: "server.gateway_key", Message: "required (set GATEWAY_KEY)"}
	}
	if cfg.Upstream.MaxRetries < 1 {
		return &ValidationError{Field: "upstream.max_retries", Message: "must be at least 1"}
	}
	if cfg.Upstream.FirstTokenTimeout <= 0 {
		return &ValidationError{Field: "upstream.first_token_timeout", Message: "must be positive"}
	}
	if !strings.HasPrefix(cfg.Upstream.BaseURL, "http://") && !strings.HasPrefix(cfg.Upstream.BaseURL, "https://") {
		return &ValidationError{Field: "upstream.base_url", Message: "must be an http(s) URL"}
	}
	switch cfg.Recovery.ReasoningHandling {
	case ReasoningIncludeAsText, ReasoningEmitBlock, ReasoningStrip:
	default:
		return &ValidationError{
			Field:   "recovery.reasoning_handling",
			Message: fmt.Sprintf("must be one of %q, %q, %q", ReasoningIncludeAsText, ReasoningEmitBlock, ReasoningStrip),
		}
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "logging.level", Message: "must be debug, info, warn or error"}
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return &ValidationError{Field: "logging.format", Message: "must be json or text"}
	}
	return nil
}
