package config

import (
	"os"
	"strings"
	"testing"
)

func TestNormalizeProxyURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.0.0.1:3128", "http://10.0.0.1:3128"},
		{"proxy.corp:8080", "http://proxy.corp:8080"},
		{"http://proxy.corp:8080", "http://proxy.corp:8080"},
		{"socks5://127.0.0.1:1080", "socks5://127.0.0.1:1080"},
	}
	for _, tt := range tests {
		if got := NormalizeProxyURL(tt.in); got != tt.want {
			t.Errorf("NormalizeProxyURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyProxyEnv(t *testing.T) {
	t.Setenv("HTTP_PROXY", "")
	t.Setenv("HTTPS_PROXY", "")
	t.Setenv("ALL_PROXY", "")
	t.Setenv("NO_PROXY", "")

	ApplyProxyEnv("vpn.example:3128")

	for _, key := range []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY"} {
		if got := os.Getenv(key); got != "http://vpn.example:3128" {
			t.Errorf("%s = %q", key, got)
		}
	}
	noProxy := os.Getenv("NO_PROXY")
	if !strings.Contains(noProxy, "127.0.0.1") || !strings.Contains(noProxy, "localhost") {
		t.Errorf("NO_PROXY = %q, must contain loopback entries", noProxy)
	}
}

func TestApplyProxyEnvPreservesExistingNoProxy(t *testing.T) {
	t.Setenv("NO_PROXY", "internal.corp, 10.0.0.0/8")

	ApplyProxyEnv("http://vpn.example:3128")

	noProxy := os.Getenv("NO_PROXY")
	for _, want := range []string{"internal.corp", "10.0.0.0/8", "127.0.0.1", "localhost"} {
		if !strings.Contains(noProxy, want) {
			t.Errorf("NO_PROXY = %q, missing %q", noProxy, want)
		}
	}
}

func TestApplyProxyEnvNoDuplicateLoopback(t *testing.T) {
	t.Setenv("NO_PROXY", "localhost,127.0.0.1")

	ApplyProxyEnv("vpn.example")

	if got := os.Getenv("NO_PROXY"); got != "localhost,127.0.0.1" {
		t.Errorf("NO_PROXY = %q, want unchanged list", got)
	}
}

func TestApplyProxyEnvEmptyIsNoop(t *testing.T) {
	t.Setenv("HTTP_PROXY", "")
	t.Setenv("NO_PROXY", "")

	ApplyProxyEnv("")

	if got := os.Getenv("HTTP_PROXY"); got != "" {
		t.Errorf("HTTP_PROXY = %q, want empty", got)
	}
	if got := os.Getenv("NO_PROXY"); got != "" {
		t.Errorf("NO_PROXY = %q, want empty", got)
	}
}
