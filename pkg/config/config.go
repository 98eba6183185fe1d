package config

import "time"

// Config is the root configuration for the gateway. Values come from an
// optional YAML file; the environment keys listed on each field override the
// file. Keys marked "live" are additionally re-read on every operation that
// depends on them (see runtime.go), so operators and tests can change
// behavior without a restart.
type Config struct {
	// Server configures the inbound HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Auth configures credential sources for the upstream.
	Auth AuthConfig `yaml:"auth"`

	// Upstream configures the Kiro API client and retry behavior.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Recovery configures the truncation-recovery cache.
	Recovery RecoveryConfig `yaml:"recovery"`

	// Logging configures slog output.
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// ListenAddress is the host:port to bind. Env: GANYMEDE_LISTEN_ADDRESS.
	ListenAddress string `yaml:"listen_address"`

	// GatewayKey is the bearer clients must present. Env: GATEWAY_KEY (live).
	GatewayKey string `yaml:"gateway_key"`

	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is zero by default: the server streams SSE responses of
	// unbounded duration and a write deadline would sever them.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
}

// AuthConfig configures where refresh credentials are found. Search order is
// fixed: SQLite, then file, then environment.
type AuthConfig struct {
	// RefreshToken is the env-source refresh token. Env: REFRESH_TOKEN.
	RefreshToken string `yaml:"refresh_token"`

	// CredsFile is the JSON credential file path. Env: KIRO_CREDS_FILE.
	CredsFile string `yaml:"creds_file"`

	// CLIDBFile is the Kiro CLI SQLite database path. Env: KIRO_CLI_DB_FILE.
	CLIDBFile string `yaml:"cli_db_file"`

	// ProfileARN overrides the upstream profile ARN. Env: PROFILE_ARN (live).
	ProfileARN string `yaml:"profile_arn"`

	// WatchCredsFile reloads the credential when the file changes on disk
	// (the Kiro IDE rotates it externally). Default true.
	WatchCredsFile *bool `yaml:"watch_creds_file"`
}

// UpstreamConfig configures the Kiro API client.
type UpstreamConfig struct {
	// BaseURL is the upstream API base. Fixed in production; overridable for
	// tests. Env: KIRO_API_HOST.
	BaseURL string `yaml:"base_url"`

	// FirstTokenTimeout bounds the wait for the first meaningful stream
	// event. Env: FIRST_TOKEN_TIMEOUT (live; accepts "30s" or bare seconds).
	FirstTokenTimeout time.Duration `yaml:"first_token_timeout"`

	// StreamIdleTimeout bounds the gap between stream events once the first
	// token has arrived.
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"`

	// MaxRetries is the total number of upstream attempts per request.
	// Env: MAX_RETRIES (live).
	MaxRetries int `yaml:"max_retries"`

	// VPNProxyURL routes outbound traffic through a proxy. Env: VPN_PROXY_URL.
	// Applied to the process proxy environment at startup; see proxy.go.
	VPNProxyURL string `yaml:"vpn_proxy_url"`

	// ModelCacheTTL is how long a ListAvailableModels result stays fresh.
	ModelCacheTTL time.Duration `yaml:"model_cache_ttl"`
}

// RecoveryConfig configures truncation recovery.
type RecoveryConfig struct {
	// Enabled turns detection and injection on. Env: TRUNCATION_RECOVERY
	// (live). Default true.
	Enabled *bool `yaml:"enabled"`

	// TTL is how long an unclaimed truncation record survives.
	TTL time.Duration `yaml:"ttl"`

	// ReasoningHandling controls what happens to upstream thinking content:
	// "include_as_text", "emit_block", or "strip".
	// Env: FAKE_REASONING_HANDLING (live).
	ReasoningHandling string `yaml:"reasoning_handling"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error". Env: GANYMEDE_LOG_LEVEL.
	Level string `yaml:"level"`

	// Format is "json" or "text". Env: GANYMEDE_LOG_FORMAT.
	Format string `yaml:"format"`
}

// Reasoning handling modes.
const (
	ReasoningIncludeAsText = "include_as_text"
	ReasoningEmitBlock     = "emit_block"
	ReasoningStrip         = "strip"
)
