package config

import (
	"os"
	"strings"
)

// ApplyProxyEnv wires an outbound VPN proxy into the process environment so
// every transport built with http.ProxyFromEnvironment routes through it.
// The URL gains an http:// scheme when none is present. Loopback destinations
// are always excluded: NO_PROXY keeps its existing entries and gains
// 127.0.0.1 and localhost. An empty proxyURL changes nothing.
func ApplyProxyEnv(proxyURL string) {
	if proxyURL == "" {
		return
	}
	normalized := NormalizeProxyURL(proxyURL)

	os.Setenv("HTTP_PROXY", normalized)
	os.Setenv("HTTPS_PROXY", normalized)
	os.Setenv("ALL_PROXY", normalized)

	os.Setenv("NO_PROXY", appendNoProxy(os.Getenv("NO_PROXY")))
}

// NormalizeProxyURL prefixes http:// when the value has no scheme separator.
func NormalizeProxyURL(u string) string {
	if strings.Contains(u, "://") {
		return u
	}
	return "http://" + u
}

// appendNoProxy adds 127.0.0.1 and localhost to a NO_PROXY list, preserving
// existing entries and avoiding duplicates.
func appendNoProxy(existing string) string {
	entries := []string{}
	seen := map[string]bool{}
	for _, e := range strings.Split(existing, ",") {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		entries = append(entries, e)
	}
	for _, required := range []string{"127.0.0.1", "localhost"} {
		if !seen[required] {
			entries = append(entries, required)
		}
	}
	return strings.Join(entries, ",")
}
