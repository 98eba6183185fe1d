package translate

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/proxy/types"
)

// conversationNamespace scopes the stable conversation-id hash so it can
// never collide with ids minted by other systems.
var conversationNamespace = uuid.MustParse("b4a9c3de-18f2-4f5a-9c7e-2d8a41e6b0cf")

// randomHex returns n bytes of cryptographic randomness as 2n hex chars.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the process has bigger problems; fall
		// back to a fixed marker rather than panicking mid-response.
		return "00000000000000000000000000000000"[:2*n]
	}
	return hex.EncodeToString(b)
}

// NewMessageID mints an Anthropic-shaped message id.
func NewMessageID() string { return "msg_" + randomHex(12) }

// NewCompletionID mints an OpenAI-shaped completion id.
func NewCompletionID() string { return "chatcmpl-" + randomHex(12) }

// NewThinkingSignature mints the placeholder signature attached to thinking
// blocks. The upstream exposes no real signing, so the value only has to
// look like one.
func NewThinkingSignature() string { return "sig_" + randomHex(16) }

// ConversationID derives a stable conversation id from the system preamble
// and the first user message, so retries and follow-up turns of the same
// dialogue replay under one id. Requests with no user text fall back to a
// fresh random id.
func ConversationID(system string, msgs []types.Message) string {
	var first string
	for _, m := range msgs {
		if m.Role == types.RoleUser {
			first = m.TextContent()
			break
		}
	}
	if first == "" && system == "" {
		return uuid.NewString()
	}
	sum := sha256.New()
	sum.Write([]byte(system))
	sum.Write([]byte{0})
	sum.Write([]byte(first))
	return uuid.NewHash(sha256.New(), conversationNamespace, sum.Sum(nil), 5).String()
}
