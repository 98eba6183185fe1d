// Package config loads and validates gateway configuration.
//
// Configuration comes from an optional YAML file plus environment variables;
// the environment always wins. Most knobs are captured at startup, but the
// behavior-tuning keys (GATEWAY_KEY, FIRST_TOKEN_TIMEOUT, MAX_RETRIES,
// TRUNCATION_RECOVERY, FAKE_REASONING_HANDLING, PROFILE_ARN) are re-read on
// each operation through the Live* accessors, so changing the environment
// takes effect on the next request without a restart.
//
// The package also owns outbound proxy wiring: ApplyProxyEnv normalizes
// VPN_PROXY_URL and populates HTTP_PROXY/HTTPS_PROXY/ALL_PROXY/NO_PROXY so
// transports built with http.ProxyFromEnvironment honor it.
package config
