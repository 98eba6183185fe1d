package kiro

// Envelope is the request body for generateAssistantResponse. ProfileARN is
// set only for Desktop-provider credentials; IdC users are rejected with a
// 403 when it is present.
type Envelope struct {
	ConversationState ConversationState `json:"conversationState"`
	ProfileARN        string            `json:"profileArn,omitempty"`
}

// ConversationState carries the current turn plus the replayed history.
type ConversationState struct {
	AgentContinuationID string         `json:"agentContinuationId"`
	AgentTaskType       string         `json:"agentTaskType"`
	ChatTriggerType     string         `json:"chatTriggerType"`
	ConversationID      string         `json:"conversationId"`
	CurrentMessage      CurrentMessage `json:"currentMessage"`
	History             []HistoryEntry `json:"history"`
}

// Fixed conversationState field values. The upstream rejects unknown ones.
const (
	AgentTaskTypeVibe     = "vibe"
	ChatTriggerTypeManual = "MANUAL"
	OriginAIEditor        = "AI_EDITOR"
)

type CurrentMessage struct {
	UserInputMessage UserInputMessage `json:"userInputMessage"`
}

// HistoryEntry is a union: exactly one of the two fields is set.
type HistoryEntry struct {
	UserInputMessage         *UserInputMessage         `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *AssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

// UserInputMessage is one user turn. Content carries the flattened text,
// including the folded system preamble on the first turn.
type UserInputMessage struct {
	Content                 string                   `json:"content"`
	ModelID                 string                   `json:"modelId,omitempty"`
	Origin                  string                   `json:"origin,omitempty"`
	Images                  []Image                  `json:"images,omitempty"`
	UserInputMessageContext *UserInputMessageContext `json:"userInputMessageContext,omitempty"`
}

// UserInputMessageContext carries tool definitions and tool results. Tools
// is always serialized, empty or not; the upstream treats a missing key
// differently from an empty list.
type UserInputMessageContext struct {
	Tools       []ToolEntry  `json:"tools"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// ToolEntry wraps one tool definition the way the upstream nests it.
type ToolEntry struct {
	ToolSpecification ToolSpecification `json:"toolSpecification"`
}

type ToolSpecification struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema nests the JSON Schema under a "json" key.
type InputSchema struct {
	JSON map[string]interface{} `json:"json"`
}

// ToolResult reports one tool execution back to the model.
type ToolResult struct {
	ToolUseID string              `json:"toolUseId"`
	Content   []ToolResultContent `json:"content"`
	Status    string              `json:"status,omitempty"`
}

// Tool result status values.
const (
	ToolResultSuccess = "success"
	ToolResultError   = "error"
)

type ToolResultContent struct {
	Text string `json:"text,omitempty"`
}

// Image is an inline image attachment.
type Image struct {
	Format string      `json:"format"`
	Source ImageSource `json:"source"`
}

type ImageSource struct {
	Bytes string `json:"bytes"`
}

// AssistantResponseMessage is one assistant turn in the history.
type AssistantResponseMessage struct {
	Content  string         `json:"content"`
	ToolUses []ToolUseEntry `json:"toolUses,omitempty"`
}

// ToolUseEntry is a completed tool call replayed in history. Input is the
// parsed argument object.
type ToolUseEntry struct {
	ToolUseID string      `json:"toolUseId"`
	Name      string      `json:"name"`
	Input     interface{} `json:"input"`
}
