package types

// ChatCompletionResponse is the non-streaming body of POST /v1/chat/completions.
type ChatCompletionResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"` // always "chat.completion"
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
}

// OpenAIChoice is one completion alternative. The gateway always produces
// exactly one.
type OpenAIChoice struct {
	Index        int                    `json:"index"`
	Message      *OpenAIResponseMessage `json:"message,omitempty"`
	Delta        *OpenAIDelta           `json:"delta,omitempty"`
	FinishReason *string                `json:"finish_reason"`
}

// OpenAIResponseMessage is the aggregated assistant message of a
// non-streaming response.
type OpenAIResponseMessage struct {
	Role      string           `json:"role"`
	Content   *string          `json:"content"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

// OpenAIDelta is the incremental payload of a streaming chunk.
type OpenAIDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   *string          `json:"content,omitempty"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

// OpenAIUsage reports token consumption in OpenAI shape.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one SSE frame of a streaming completion.
type ChatCompletionChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"` // always "chat.completion.chunk"
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
}

// OpenAI finish reasons.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// OpenAIModelList is the OpenAI-dialect body of GET /v1/models.
type OpenAIModelList struct {
	Object string        `json:"object"` // always "list"
	Data   []OpenAIModel `json:"data"`
}

// OpenAIModel is one model entry in the OpenAI list shape.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"` // always "model"
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
