package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model    string          `json:"model"`
	Messages []OpenAIMessage `json:"messages"`

	MaxTokens           int  `json:"max_tokens,omitempty"`
	MaxCompletionTokens int  `json:"max_completion_tokens,omitempty"`
	Stream              bool `json:"stream,omitempty"`

	StreamOptions *StreamOptions `json:"stream_options,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`

	Stop StopField `json:"stop,omitempty"`

	Tools      []OpenAITool      `json:"tools,omitempty"`
	ToolChoice *OpenAIToolChoice `json:"tool_choice,omitempty"`

	User string `json:"user,omitempty"`
}

// StreamOptions mirrors OpenAI's stream_options object.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// OpenAIMessage is a single turn on the OpenAI wire.
type OpenAIMessage struct {
	Role    string        `json:"role"`
	Content OpenAIContent `json:"content"`

	Name       string           `json:"name,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// OpenAIContent is the string-or-part-array union for message content.
type OpenAIContent struct {
	Text   string
	Parts  []OpenAIContentPart
	isText bool
	set    bool
}

// OpenAIContentPart is one element of the array form of content.
type OpenAIContentPart struct {
	Type     string          `json:"type"` // "text" or "image_url"
	Text     string          `json:"text,omitempty"`
	ImageURL *OpenAIImageURL `json:"image_url,omitempty"`
}

// OpenAIImageURL carries an image reference, either an http(s) URL or a
// data: URI with inline base64.
type OpenAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// UnmarshalJSON accepts a string, null, or an array of content parts.
func (c *OpenAIContent) UnmarshalJSON(data []byte) error {
	c.set = true
	if string(data) == "null" {
		c.isText = true
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.isText = true
		return nil
	}
	c.isText = false
	return json.Unmarshal(data, &c.Parts)
}

// MarshalJSON re-emits whichever form was decoded.
func (c OpenAIContent) MarshalJSON() ([]byte, error) {
	if !c.set || c.isText {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

// StopField is OpenAI's string-or-string-array "stop" union.
type StopField []string

// UnmarshalJSON accepts a single string or an array of strings.
func (s *StopField) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = StopField{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = StopField(many)
	return nil
}

// OpenAITool declares a callable tool: {"type":"function","function":{...}}.
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction describes the function half of an OpenAI tool.
type OpenAIFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// OpenAIToolCall is an assistant-emitted function invocation.
type OpenAIToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall carries a function name plus its arguments as a raw
// JSON-encoded string.
type OpenAIFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// OpenAIToolChoice is the string-or-object tool_choice union:
// "none" | "auto" | "required" | {"type":"function","function":{"name":...}}.
type OpenAIToolChoice struct {
	Value    string
	Function string
}

// UnmarshalJSON accepts the string and object forms.
func (tc *OpenAIToolChoice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		tc.Value = s
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	tc.Value = obj.Type
	tc.Function = obj.Function.Name
	return nil
}

// MarshalJSON re-emits the normalized directive.
func (tc OpenAIToolChoice) MarshalJSON() ([]byte, error) {
	if tc.Function == "" {
		return json.Marshal(tc.Value)
	}
	return json.Marshal(map[string]interface{}{
		"type":     "function",
		"function": map[string]string{"name": tc.Function},
	})
}

// Validate checks structural requirements before normalization.
func (r *ChatCompletionRequest) Validate() error {
	if r.Model == "" {
		return NewRequestError(400, ErrInvalidRequest, "model is required")
	}
	if len(r.Messages) == 0 {
		return NewRequestError(400, ErrInvalidRequest, "messages must be a non-empty array")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "system", "developer", "user", "assistant", "tool":
		default:
			return NewRequestError(400, ErrInvalidRequest,
				fmt.Sprintf("messages[%d].role %q is not supported", i, m.Role))
		}
		if m.Role == "tool" && m.ToolCallID == "" {
			return NewRequestError(400, ErrInvalidRequest,
				fmt.Sprintf("messages[%d] with role \"tool\" requires tool_call_id", i))
		}
	}
	return nil
}

// ToUnified normalizes the OpenAI request into the shared logical form.
// System and developer messages fold into UnifiedRequest.System; tool
// messages become user-side tool_result blocks, mirroring the Anthropic
// layout so the translator has a single history shape to reason about.
func (r *ChatCompletionRequest) ToUnified() (*UnifiedRequest, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	maxTokens := r.MaxTokens
	if r.MaxCompletionTokens > 0 {
		maxTokens = r.MaxCompletionTokens
	}

	u := &UnifiedRequest{
		Dialect:       DialectOpenAI,
		Model:         r.Model,
		MaxTokens:     maxTokens,
		Stream:        r.Stream,
		Temperature:   r.Temperature,
		TopP:          r.TopP,
		StopSequences: []string(r.Stop),
	}

	var system []string
	for _, m := range r.Messages {
		switch m.Role {
		case "system", "developer":
			if t := flattenOpenAIContent(m.Content); t != "" {
				system = append(system, t)
			}
		case "tool":
			u.Messages = append(u.Messages, Message{
				Role: RoleUser,
				Content: []Block{{
					Kind:      BlockToolResult,
					ToolUseID: m.ToolCallID,
					Text:      flattenOpenAIContent(m.Content),
				}},
			})
		case "assistant":
			msg := Message{Role: RoleAssistant}
			if t := flattenOpenAIContent(m.Content); t != "" {
				msg.Content = append(msg.Content, Block{Kind: BlockText, Text: t})
			}
			for _, tc := range m.ToolCalls {
				msg.Content = append(msg.Content, Block{
					Kind:      BlockToolUse,
					ToolUseID: tc.ID,
					ToolName:  tc.Function.Name,
					ToolInput: json.RawMessage(tc.Function.Arguments),
				})
			}
			u.Messages = append(u.Messages, msg)
		case "user":
			msg := Message{Role: RoleUser}
			if m.Content.isText {
				msg.Content = append(msg.Content, Block{Kind: BlockText, Text: m.Content.Text})
			} else {
				for _, p := range m.Content.Parts {
					blk, err := openAIPartToLogical(p)
					if err != nil {
						return nil, err
					}
					msg.Content = append(msg.Content, blk)
				}
			}
			u.Messages = append(u.Messages, msg)
		}
	}
	u.System = strings.Join(system, "\n\n")

	for _, t := range r.Tools {
		if t.Type != "function" {
			return nil, NewRequestError(400, ErrInvalidRequest,
				fmt.Sprintf("unsupported tool type %q", t.Type))
		}
		u.Tools = append(u.Tools, ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	if r.ToolChoice != nil {
		switch r.ToolChoice.Value {
		case "none":
			u.ToolChoice = ToolChoice{Mode: ToolChoiceNone}
		case "auto":
			u.ToolChoice = ToolChoice{Mode: ToolChoiceAuto}
		case "required":
			u.ToolChoice = ToolChoice{Mode: ToolChoiceAny}
		case "function":
			if r.ToolChoice.Function == "" {
				return nil, NewRequestError(400, ErrInvalidRequest, "tool_choice.function.name is required")
			}
			u.ToolChoice = ToolChoice{Mode: ToolChoiceTool, Name: r.ToolChoice.Function}
		default:
			return nil, NewRequestError(400, ErrInvalidRequest,
				fmt.Sprintf("unsupported tool_choice %q", r.ToolChoice.Value))
		}
	}
	return u, nil
}

func flattenOpenAIContent(c OpenAIContent) string {
	if c.isText {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

func openAIPartToLogical(p OpenAIContentPart) (Block, error) {
	switch p.Type {
	case "text":
		return Block{Kind: BlockText, Text: p.Text}, nil
	case "image_url":
		if p.ImageURL == nil || p.ImageURL.URL == "" {
			return Block{}, NewRequestError(400, ErrInvalidRequest, "image_url part requires a url")
		}
		if media, data, ok := parseDataURI(p.ImageURL.URL); ok {
			return Block{Kind: BlockImage, MediaType: media, Data: data}, nil
		}
		return Block{Kind: BlockImage, URL: p.ImageURL.URL}, nil
	default:
		raw, _ := json.Marshal(p)
		return Block{Kind: BlockOther, Raw: raw}, nil
	}
}

// parseDataURI splits "data:image/png;base64,AAAA" into its media type and
// payload. Returns ok=false for anything that is not a base64 data URI.
func parseDataURI(s string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", "", false
	}
	rest := s[len("data:"):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", false
	}
	meta, payload := rest[:comma], rest[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	return strings.TrimSuffix(meta, ";base64"), payload, true
}
