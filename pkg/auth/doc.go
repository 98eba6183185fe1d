// Package auth manages the upstream refresh credential: where it comes from,
// how it turns into short-lived access tokens, and how rotated tokens get
// written back.
//
// # Sources
//
// A Credential is discovered at startup from the first source that yields a
// refresh token, in priority order: the Kiro CLI SQLite database, the JSON
// credentials file, the REFRESH_TOKEN environment variable. Each source is a
// Store that can also persist updated tokens (the env store cannot and warns
// once).
//
// # Providers
//
// Two identity providers exchange refresh tokens for access tokens. Desktop
// posts a JSON body to the fixed Kiro desktop endpoint. OIDC posts an OAuth
// 2.0 form (RFC 6749 §6) to the regional AWS SSO token endpoint; scope is
// deliberately never sent on refresh. Which provider governs a credential is
// determined by its shape: client id + secret means OIDC.
//
// # Manager
//
// Manager serializes refreshes with a single-flight latch: any number of
// concurrent AuthHeader calls during an expired-token window produce exactly
// one outbound refresh, and all callers observe its result. A started refresh
// is never cancelled by its caller; its result becomes available to the next
// request even if the original caller went away. An invalid_grant response
// permanently fails the manager until the process is reconfigured.
package auth
