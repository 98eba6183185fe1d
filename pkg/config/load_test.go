package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEWAY_KEY", "gk_test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("ListenAddress = %q, want %q", cfg.Server.ListenAddress, DefaultListenAddress)
	}
	if cfg.Upstream.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.Upstream.BaseURL, DefaultBaseURL)
	}
	if cfg.Upstream.FirstTokenTimeout != 30*time.Second {
		t.Errorf("FirstTokenTimeout = %v, want 30s", cfg.Upstream.FirstTokenTimeout)
	}
	if cfg.Upstream.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Upstream.MaxRetries)
	}
	if !cfg.LiveRecoveryEnabled() {
		t.Error("recovery should default to enabled")
	}
	if cfg.Recovery.TTL != 5*time.Minute {
		t.Errorf("Recovery.TTL = %v, want 5m", cfg.Recovery.TTL)
	}
	if cfg.Recovery.ReasoningHandling != ReasoningIncludeAsText {
		t.Errorf("ReasoningHandling = %q", cfg.Recovery.ReasoningHandling)
	}
}

func TestLoadMissingGatewayKey(t *testing.T) {
	t.Setenv("GATEWAY_KEY", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("Load() should fail without a gateway key")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("error is %T, want *ValidationError", err)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := writeConfigFile(t, `
server:
  listen_address: "0.0.0.0:9999"
  gateway_key: "from-file"
upstream:
  max_retries: 5
  first_token_timeout: 10s
`)
	t.Setenv("GATEWAY_KEY", "from-env")
	t.Setenv("MAX_RETRIES", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9999" {
		t.Errorf("ListenAddress = %q", cfg.Server.ListenAddress)
	}
	if cfg.Server.GatewayKey != "from-env" {
		t.Errorf("GatewayKey = %q, env should win over file", cfg.Server.GatewayKey)
	}
	if cfg.Upstream.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, env should win over file", cfg.Upstream.MaxRetries)
	}
	if cfg.Upstream.FirstTokenTimeout != 10*time.Second {
		t.Errorf("FirstTokenTimeout = %v", cfg.Upstream.FirstTokenTimeout)
	}
}

func TestLoadInvalidReasoningHandling(t *testing.T) {
	t.Setenv("GATEWAY_KEY", "gk")
	path := writeConfigFile(t, `
recovery:
  reasoning_handling: "verbatim"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should reject unknown reasoning_handling")
	}
}

func TestParseFlexDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"1m", time.Minute, false},
		{"1", time.Second, false},
		{"2.5", 2500 * time.Millisecond, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := parseFlexDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseFlexDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseFlexDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLiveOverrides(t *testing.T) {
	t.Setenv("GATEWAY_KEY", "gk")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Values observed live, after load.
	t.Setenv("FIRST_TOKEN_TIMEOUT", "1")
	t.Setenv("MAX_RETRIES", "2")
	t.Setenv("TRUNCATION_RECOVERY", "false")
	t.Setenv("FAKE_REASONING_HANDLING", "strip")

	if got := cfg.LiveFirstTokenTimeout(); got != time.Second {
		t.Errorf("LiveFirstTokenTimeout() = %v, want 1s", got)
	}
	if got := cfg.LiveMaxRetries(); got != 2 {
		t.Errorf("LiveMaxRetries() = %d, want 2", got)
	}
	if cfg.LiveRecoveryEnabled() {
		t.Error("LiveRecoveryEnabled() = true, want false")
	}
	if got := cfg.LiveReasoningHandling(); got != ReasoningStrip {
		t.Errorf("LiveReasoningHandling() = %q, want strip", got)
	}

	// Invalid live values fall back to loaded config.
	t.Setenv("FAKE_REASONING_HANDLING", "verbatim")
	if got := cfg.LiveReasoningHandling(); got != ReasoningIncludeAsText {
		t.Errorf("LiveReasoningHandling() with bad env = %q, want fallback", got)
	}
}
