package types

import (
	"encoding/json"
	"fmt"
)

// AnthropicRequest is the body of POST /v1/messages (Messages API 2023-06-01).
type AnthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	Messages      []AnthropicMessage `json:"messages"`
	System        SystemField        `json:"system,omitempty"`
	Tools         []AnthropicTool    `json:"tools,omitempty"`
	ToolChoice    *AnthropicChoice   `json:"tool_choice,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Metadata      json.RawMessage    `json:"metadata,omitempty"`
}

// AnthropicMessage is a single conversation turn on the Anthropic wire.
type AnthropicMessage struct {
	Role    string           `json:"role"`
	Content AnthropicContent `json:"content"`
}

// AnthropicContent is the string-or-block-array union used for message
// content and for tool_result content.
type AnthropicContent struct {
	// Text holds the bare-string form. Blocks holds the array form. At most
	// one is populated.
	Text   string
	Blocks []AnthropicBlock
	isText bool
}

// UnmarshalJSON accepts either a JSON string or an array of content blocks.
func (c *AnthropicContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.isText = true
		return nil
	}
	c.isText = false
	return json.Unmarshal(data, &c.Blocks)
}

// MarshalJSON re-emits whichever form was decoded.
func (c AnthropicContent) MarshalJSON() ([]byte, error) {
	if c.isText {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

// IsString reports whether the content arrived as a bare string.
func (c AnthropicContent) IsString() bool { return c.isText }

// AnthropicBlock is one element of an Anthropic content array. Type selects
// the populated fields.
type AnthropicBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "image"
	Source *AnthropicImageSource `json:"source,omitempty"`

	// type == "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string            `json:"tool_use_id,omitempty"`
	Content   *AnthropicContent `json:"content,omitempty"`
	IsError   *bool             `json:"is_error,omitempty"`

	// type == "thinking"
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Accepted and discarded; the upstream has no caching equivalent.
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

// AnthropicImageSource is either a base64 payload or a URL reference.
type AnthropicImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// SystemField is the string-or-array union for the top-level system prompt.
type SystemField struct {
	Text   string
	Blocks []AnthropicSystemBlock
	isText bool
	set    bool
}

// AnthropicSystemBlock is one entry of the array form of "system".
type AnthropicSystemBlock struct {
	Type         string          `json:"type"`
	Text         string          `json:"text"`
	CacheControl json.RawMessage `json:"cache_control,omitempty"`
}

// UnmarshalJSON accepts either a string or an array of system blocks.
func (s *SystemField) UnmarshalJSON(data []byte) error {
	s.set = true
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.Text = str
		s.isText = true
		return nil
	}
	s.isText = false
	return json.Unmarshal(data, &s.Blocks)
}

// MarshalJSON re-emits whichever form was decoded.
func (s SystemField) MarshalJSON() ([]byte, error) {
	if !s.set {
		return []byte("null"), nil
	}
	if s.isText {
		return json.Marshal(s.Text)
	}
	return json.Marshal(s.Blocks)
}

// Prompt flattens the union into one string, joining array blocks with
// newlines. Cache-control hints are dropped here.
func (s SystemField) Prompt() string {
	if s.isText {
		return s.Text
	}
	var out string
	for i, b := range s.Blocks {
		if i > 0 && out != "" && b.Text != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// AnthropicTool declares a callable tool on the Anthropic wire.
type AnthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// AnthropicChoice is the tool_choice object: {"type":"auto"|"any"|"none"} or
// {"type":"tool","name":...}.
type AnthropicChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Anthropic stop reasons.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopStopSequence = "stop_sequence"
	StopToolUse      = "tool_use"
)

// AnthropicUsage reports token consumption on Anthropic responses.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicResponse is the non-streaming body of POST /v1/messages.
type AnthropicResponse struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"` // always "message"
	Role         string           `json:"role"` // always "assistant"
	Model        string           `json:"model"`
	Content      []AnthropicBlock `json:"content"`
	StopReason   string           `json:"stop_reason,omitempty"`
	StopSequence *string          `json:"stop_sequence"`
	Usage        AnthropicUsage   `json:"usage"`
}

// AnthropicModelList is the Anthropic-dialect body of GET /v1/models.
type AnthropicModelList struct {
	Data    []AnthropicModel `json:"data"`
	HasMore bool             `json:"has_more"`
	FirstID string           `json:"first_id,omitempty"`
	LastID  string           `json:"last_id,omitempty"`
}

// AnthropicModel is one model entry in the Anthropic list shape.
type AnthropicModel struct {
	Type        string `json:"type"` // always "model"
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

// Validate checks structural requirements before normalization.
func (r *AnthropicRequest) Validate() error {
	if r.Model == "" {
		return NewRequestError(400, ErrInvalidRequest, "model is required")
	}
	if r.MaxTokens <= 0 {
		return NewRequestError(400, ErrInvalidRequest, "max_tokens must be a positive integer")
	}
	if len(r.Messages) == 0 {
		return NewRequestError(400, ErrInvalidRequest, "messages must be a non-empty array")
	}
	for i, m := range r.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			return NewRequestError(400, ErrInvalidRequest,
				fmt.Sprintf("messages[%d].role must be \"user\" or \"assistant\", got %q", i, m.Role))
		}
	}
	return nil
}

// ToUnified normalizes the Anthropic request into the shared logical form.
func (r *AnthropicRequest) ToUnified() (*UnifiedRequest, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	u := &UnifiedRequest{
		Dialect:       DialectAnthropic,
		Model:         r.Model,
		MaxTokens:     r.MaxTokens,
		Stream:        r.Stream,
		System:        r.System.Prompt(),
		Temperature:   r.Temperature,
		TopP:          r.TopP,
		TopK:          r.TopK,
		StopSequences: r.StopSequences,
	}

	for _, m := range r.Messages {
		msg := Message{Role: Role(m.Role)}
		if m.Content.IsString() {
			msg.Content = append(msg.Content, Block{Kind: BlockText, Text: m.Content.Text})
		} else {
			for _, b := range m.Content.Blocks {
				blk, err := anthropicBlockToLogical(b)
				if err != nil {
					return nil, err
				}
				msg.Content = append(msg.Content, blk)
			}
		}
		u.Messages = append(u.Messages, msg)
	}

	for _, t := range r.Tools {
		u.Tools = append(u.Tools, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	if r.ToolChoice != nil {
		switch r.ToolChoice.Type {
		case "auto":
			u.ToolChoice = ToolChoice{Mode: ToolChoiceAuto}
		case "any":
			u.ToolChoice = ToolChoice{Mode: ToolChoiceAny}
		case "none":
			u.ToolChoice = ToolChoice{Mode: ToolChoiceNone}
		case "tool":
			if r.ToolChoice.Name == "" {
				return nil, NewRequestError(400, ErrInvalidRequest, "tool_choice.name is required when type is \"tool\"")
			}
			u.ToolChoice = ToolChoice{Mode: ToolChoiceTool, Name: r.ToolChoice.Name}
		default:
			return nil, NewRequestError(400, ErrInvalidRequest,
				fmt.Sprintf("unsupported tool_choice.type %q", r.ToolChoice.Type))
		}
	}
	return u, nil
}

func anthropicBlockToLogical(b AnthropicBlock) (Block, error) {
	switch b.Type {
	case "text":
		return Block{Kind: BlockText, Text: b.Text}, nil
	case "thinking":
		return Block{Kind: BlockThinking, Text: b.Thinking, Signature: b.Signature}, nil
	case "image":
		if b.Source == nil {
			return Block{}, NewRequestError(400, ErrInvalidRequest, "image block requires a source")
		}
		switch b.Source.Type {
		case "base64":
			return Block{Kind: BlockImage, MediaType: b.Source.MediaType, Data: b.Source.Data}, nil
		case "url":
			return Block{Kind: BlockImage, URL: b.Source.URL}, nil
		default:
			return Block{}, NewRequestError(400, ErrInvalidRequest,
				fmt.Sprintf("unsupported image source type %q", b.Source.Type))
		}
	case "tool_use":
		if b.ID == "" || b.Name == "" {
			return Block{}, NewRequestError(400, ErrInvalidRequest, "tool_use block requires id and name")
		}
		return Block{Kind: BlockToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input}, nil
	case "tool_result":
		if b.ToolUseID == "" {
			return Block{}, NewRequestError(400, ErrInvalidRequest, "tool_result block requires tool_use_id")
		}
		blk := Block{Kind: BlockToolResult, ToolUseID: b.ToolUseID}
		if b.IsError != nil {
			blk.IsError = *b.IsError
		}
		if b.Content != nil {
			if b.Content.IsString() {
				blk.Text = b.Content.Text
			} else {
				for _, inner := range b.Content.Blocks {
					if inner.Type == "text" {
						blk.Text += inner.Text
					}
				}
			}
		}
		return blk, nil
	default:
		raw, _ := json.Marshal(b)
		return Block{Kind: BlockOther, Raw: raw}, nil
	}
}
