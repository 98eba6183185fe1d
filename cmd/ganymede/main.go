// Ganymede is a local gateway that speaks the Anthropic and OpenAI chat
// APIs in front of the Kiro agentic coding service.
//
// It acts as a protocol translator for LLM API requests, providing:
//   - Anthropic Messages API (/v1/messages) with SSE streaming
//   - OpenAI Chat Completions API (/v1/chat/completions) with SSE streaming
//   - Model catalogue listing in both dialects (/v1/models)
//   - Automatic credential refresh for Kiro Desktop and OIDC accounts
//   - Invisible retry of expired-token, overflow, and slow-start failures
//
// Usage:
//
//	# Start with configuration from environment variables
//	ganymede run
//
//	# Start with a configuration file
//	ganymede run --config /path/to/config.yaml
//
//	# Override the listen address
//	ganymede run --listen 127.0.0.1:9000
//
//	# Validate configuration without starting
//	ganymede run --dry-run
//
//	# Show version information
//	ganymede version
//
// For complete documentation, see: https://github.com/mercator-hq/ganymede
package main

func main() {
	Execute()
}
