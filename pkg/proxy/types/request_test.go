package types

import (
	"encoding/json"
	"testing"
)

func TestOpenAIToUnified(t *testing.T) {
	body := `{
		"model": "claude-haiku-4.5",
		"max_tokens": 128,
		"messages": [
			{"role": "system", "content": "be helpful"},
			{"role": "developer", "content": "prefer lists"},
			{"role": "user", "content": "ping"},
			{"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":1}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "42"}
		],
		"tools": [{"type": "function", "function": {"name": "lookup", "parameters": {"type": "object"}}}],
		"tool_choice": "auto"
	}`

	var req ChatCompletionRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	u, err := req.ToUnified()
	if err != nil {
		t.Fatalf("ToUnified() error: %v", err)
	}

	if u.Dialect != DialectOpenAI {
		t.Errorf("Dialect = %q", u.Dialect)
	}
	if u.System != "be helpful\n\nprefer lists" {
		t.Errorf("System = %q", u.System)
	}
	// system/developer folded away: user, assistant, tool remain
	if len(u.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(u.Messages))
	}

	asst := u.Messages[1]
	if len(asst.Content) != 1 || asst.Content[0].Kind != BlockToolUse {
		t.Fatalf("assistant content = %+v", asst.Content)
	}
	if asst.Content[0].ToolUseID != "call_1" || asst.Content[0].ToolName != "lookup" {
		t.Errorf("tool_use block = %+v", asst.Content[0])
	}
	if string(asst.Content[0].ToolInput) != `{"q":1}` {
		t.Errorf("ToolInput = %s", asst.Content[0].ToolInput)
	}

	toolMsg := u.Messages[2]
	if toolMsg.Role != RoleUser {
		t.Errorf("tool message role = %q, want %q (normalized to user side)", toolMsg.Role, RoleUser)
	}
	if toolMsg.Content[0].Kind != BlockToolResult || toolMsg.Content[0].ToolUseID != "call_1" || toolMsg.Content[0].Text != "42" {
		t.Errorf("tool_result block = %+v", toolMsg.Content[0])
	}
}

func TestOpenAIContentParts(t *testing.T) {
	body := `{
		"model": "gpt-4o",
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "describe"},
			{"type": "image_url", "image_url": {"url": "data:image/png;base64,QUJD"}},
			{"type": "image_url", "image_url": {"url": "https://example.com/pic.jpg"}}
		]}]
	}`

	var req ChatCompletionRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	u, err := req.ToUnified()
	if err != nil {
		t.Fatalf("ToUnified() error: %v", err)
	}

	blocks := u.Messages[0].Content
	if len(blocks) != 3 {
		t.Fatalf("len(blocks) = %d, want 3", len(blocks))
	}
	if blocks[1].Kind != BlockImage || blocks[1].MediaType != "image/png" || blocks[1].Data != "QUJD" {
		t.Errorf("data URI block = %+v", blocks[1])
	}
	if blocks[2].Kind != BlockImage || blocks[2].URL != "https://example.com/pic.jpg" {
		t.Errorf("url block = %+v", blocks[2])
	}
}

func TestStopFieldUnion(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"single string", `{"model":"m","messages":[{"role":"user","content":"x"}],"stop":"END"}`, []string{"END"}},
		{"array", `{"model":"m","messages":[{"role":"user","content":"x"}],"stop":["a","b"]}`, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ChatCompletionRequest
			if err := json.Unmarshal([]byte(tt.input), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(req.Stop) != len(tt.want) {
				t.Fatalf("Stop = %v, want %v", req.Stop, tt.want)
			}
			for i := range tt.want {
				if req.Stop[i] != tt.want[i] {
					t.Errorf("Stop[%d] = %q, want %q", i, req.Stop[i], tt.want[i])
				}
			}
		})
	}
}

func TestOpenAIToolChoiceUnion(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantMode ToolChoiceMode
		wantName string
		wantErr  bool
	}{
		{"none", `"none"`, ToolChoiceNone, "", false},
		{"auto", `"auto"`, ToolChoiceAuto, "", false},
		{"required", `"required"`, ToolChoiceAny, "", false},
		{"named function", `{"type":"function","function":{"name":"lookup"}}`, ToolChoiceTool, "lookup", false},
		{"unknown string", `"sometimes"`, ToolChoiceUnset, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ChatCompletionRequest{
				Model:    "m",
				Messages: []OpenAIMessage{{Role: "user", Content: OpenAIContent{Text: "x", isText: true, set: true}}},
			}
			var tc OpenAIToolChoice
			if err := json.Unmarshal([]byte(tt.input), &tc); err != nil {
				t.Fatalf("unmarshal tool_choice: %v", err)
			}
			req.ToolChoice = &tc

			u, err := req.ToUnified()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToUnified() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if u.ToolChoice.Mode != tt.wantMode || u.ToolChoice.Name != tt.wantName {
				t.Errorf("ToolChoice = %+v, want mode=%q name=%q", u.ToolChoice, tt.wantMode, tt.wantName)
			}
		})
	}
}

func TestOpenAIMaxCompletionTokensWins(t *testing.T) {
	req := ChatCompletionRequest{
		Model:               "m",
		MaxTokens:           10,
		MaxCompletionTokens: 99,
		Messages:            []OpenAIMessage{{Role: "user", Content: OpenAIContent{Text: "x", isText: true, set: true}}},
	}
	u, err := req.ToUnified()
	if err != nil {
		t.Fatalf("ToUnified() error: %v", err)
	}
	if u.MaxTokens != 99 {
		t.Errorf("MaxTokens = %d, want 99", u.MaxTokens)
	}
}

func TestOpenAIValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"ok", `{"model":"m","messages":[{"role":"user","content":"x"}]}`, false},
		{"no model", `{"messages":[{"role":"user","content":"x"}]}`, true},
		{"no messages", `{"model":"m"}`, true},
		{"tool without id", `{"model":"m","messages":[{"role":"tool","content":"x"}]}`, true},
		{"bad role", `{"model":"m","messages":[{"role":"oracle","content":"x"}]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ChatCompletionRequest
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if err := req.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDataURI(t *testing.T) {
	tests := []struct {
		in        string
		wantMedia string
		wantData  string
		wantOK    bool
	}{
		{"data:image/png;base64,AAAA", "image/png", "AAAA", true},
		{"data:image/jpeg;base64,", "image/jpeg", "", true},
		{"https://example.com/x.png", "", "", false},
		{"data:image/png,notbase64", "", "", false},
		{"data:nocomma", "", "", false},
	}

	for _, tt := range tests {
		media, data, ok := parseDataURI(tt.in)
		if ok != tt.wantOK || media != tt.wantMedia || data != tt.wantData {
			t.Errorf("parseDataURI(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.in, media, data, ok, tt.wantMedia, tt.wantData, tt.wantOK)
		}
	}
}
