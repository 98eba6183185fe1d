package types

import "encoding/json"

// Role identifies the author of a logical message.
type Role string

// Message roles shared by both dialects.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockKind discriminates the content block variants.
type BlockKind string

// Content block kinds.
const (
	BlockText       BlockKind = "text"
	BlockImage      BlockKind = "image"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
	BlockThinking   BlockKind = "thinking"
	// BlockOther preserves content the gateway does not understand. The
	// translator drops it; nothing else inspects Raw.
	BlockOther BlockKind = "other"
)

// Block is one element of a logical message's content sequence. Kind selects
// which fields are meaningful; unused fields stay zero.
type Block struct {
	Kind BlockKind

	// Text carries the body for text and thinking blocks, and the flattened
	// string form of tool-result content.
	Text string

	// Signature is the thinking-block signature, when the client supplied one.
	Signature string

	// MediaType and Data describe a base64 image ("image/png", raw base64
	// payload without a data: prefix). URL is set instead when the client
	// referenced the image by address; the translator fetches and transcodes it.
	MediaType string
	Data      string
	URL       string

	// ToolUseID names the tool invocation for tool_use and tool_result blocks.
	ToolUseID string
	// ToolName is set for tool_use blocks.
	ToolName string
	// ToolInput is the raw JSON argument object for tool_use blocks. Invalid
	// JSON is replaced with {} during translation.
	ToolInput json.RawMessage

	// IsError marks a failed tool result.
	IsError bool

	// Raw preserves unrecognized block JSON for BlockOther.
	Raw json.RawMessage
}

// Message is one turn in the normalized conversation.
type Message struct {
	Role    Role
	Content []Block
}

// TextContent concatenates the text of all text blocks in the message.
func (m Message) TextContent() string {
	var out string
	for _, b := range m.Content {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUseIDs lists the ids of all tool_use blocks in the message.
func (m Message) ToolUseIDs() []string {
	var ids []string
	for _, b := range m.Content {
		if b.Kind == BlockToolUse && b.ToolUseID != "" {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}

// ToolDefinition is a dialect-neutral tool description.
type ToolDefinition struct {
	Name        string
	Description string
	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema map[string]interface{}
}

// ToolChoiceMode controls how the model may use the supplied tools.
type ToolChoiceMode string

// Tool choice modes after normalization. The OpenAI values none/auto/required
// map onto none/auto/any; a named choice maps to ToolChoiceTool.
const (
	ToolChoiceUnset ToolChoiceMode = ""
	ToolChoiceNone  ToolChoiceMode = "none"
	ToolChoiceAuto  ToolChoiceMode = "auto"
	ToolChoiceAny   ToolChoiceMode = "any"
	ToolChoiceTool  ToolChoiceMode = "tool"
)

// ToolChoice is the normalized tool_choice directive.
type ToolChoice struct {
	Mode ToolChoiceMode
	// Name is set when Mode == ToolChoiceTool.
	Name string
}

// Dialect identifies which inbound API shape a request arrived through.
type Dialect string

// Supported inbound dialects.
const (
	DialectAnthropic Dialect = "anthropic"
	DialectOpenAI    Dialect = "openai"
)

// UnifiedRequest is the normalized request consumed by the translator. Both
// handler paths produce one; nothing downstream re-reads dialect JSON.
type UnifiedRequest struct {
	Dialect   Dialect
	Model     string
	MaxTokens int
	Stream    bool

	// System is the concatenated system prompt (possibly empty). System blocks
	// are already merged in dialect order; cache_control hints are discarded.
	System string

	// Messages holds the non-system turns in arrival order.
	Messages []Message

	Tools      []ToolDefinition
	ToolChoice ToolChoice

	Temperature   *float64
	TopP          *float64
	TopK          *int
	StopSequences []string
}

// LastAssistantText returns the text of the most recent assistant message, or
// "" when the history has none. Used for content-truncation recovery lookups.
func (r *UnifiedRequest) LastAssistantText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleAssistant {
			if t := r.Messages[i].TextContent(); t != "" {
				return t
			}
		}
	}
	return ""
}

// HistoryToolUseIDs collects every tool_use id appearing in the request
// history, in order of appearance.
func (r *UnifiedRequest) HistoryToolUseIDs() []string {
	var ids []string
	for _, m := range r.Messages {
		ids = append(ids, m.ToolUseIDs()...)
	}
	return ids
}
