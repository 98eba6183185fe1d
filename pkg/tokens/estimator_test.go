package tokens

import (
	"encoding/json"
	"testing"

	"mercator-hq/ganymede/pkg/proxy/types"
)

func TestCountText(t *testing.T) {
	e := NewEstimator()

	tests := []struct {
		name  string
		text  string
		model string
		min   int
		max   int
	}{
		{"empty text", "", "claude-sonnet-4.5", 0, 0},
		{"single char never rounds to zero", "a", "claude-sonnet-4.5", 1, 1},
		{"short text claude", "Hello, world!", "claude-sonnet-4.5", 3, 3},
		{"short text gpt", "Hello, world!", "gpt-4o", 3, 4},
		{"unknown model uses char ratio", "Hello, world!", "mystery-model", 3, 3},
		{
			"medium text",
			"This is a longer message that should come out somewhere around two dozen tokens.",
			"claude-sonnet-4.5",
			19, 22,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.CountText(tt.text, tt.model)
			if got < tt.min || got > tt.max {
				t.Fatalf("CountText(%q, %q) = %d, want %d..%d", tt.text, tt.model, got, tt.min, tt.max)
			}
		})
	}
}

func TestCountMessages(t *testing.T) {
	e := NewEstimator()

	msgs := []types.Message{
		{Role: types.RoleUser, Content: []types.Block{{Kind: types.BlockText, Text: "ping"}}},
	}

	// role 1 + text 1 + message overhead 3 + conversation overhead 3
	if got := e.CountMessages(msgs, "claude-sonnet-4.5", false); got != 8 {
		t.Fatalf("uncorrected count = %d, want 8", got)
	}
	if got := e.CountMessages(msgs, "claude-sonnet-4.5", true); got != 9 {
		t.Fatalf("corrected count = %d, want 9", got)
	}
	// Correction only applies to Claude-family models.
	if got := e.CountMessages(msgs, "mystery-model", true); got != 8 {
		t.Fatalf("non-claude corrected count = %d, want 8", got)
	}

	if got := e.CountMessages(nil, "claude-sonnet-4.5", true); got != 0 {
		t.Fatalf("empty conversation = %d, want 0", got)
	}
}

func TestCountMessagesBlocks(t *testing.T) {
	e := NewEstimator()

	msgs := []types.Message{
		{
			Role: types.RoleAssistant,
			Content: []types.Block{
				{
					Kind:      types.BlockToolUse,
					ToolUseID: "tu_1",
					ToolName:  "get_weather",
					ToolInput: json.RawMessage(`{"city":"Paris"}`),
				},
			},
		},
	}
	// role 1 + name 3 + input 4 + message overhead 3 + conversation overhead 3
	if got := e.CountMessages(msgs, "mystery-model", false); got != 14 {
		t.Fatalf("tool use count = %d, want 14", got)
	}

	withImage := []types.Message{
		{
			Role: types.RoleUser,
			Content: []types.Block{
				{Kind: types.BlockImage, MediaType: "image/png", Data: "aWdub3JlZA=="},
			},
		},
	}
	if got := e.CountMessages(withImage, "claude-sonnet-4.5", false); got < imageTokens {
		t.Fatalf("image count = %d, want at least %d", got, imageTokens)
	}

	withResult := []types.Message{
		{
			Role: types.RoleUser,
			Content: []types.Block{
				{Kind: types.BlockToolResult, ToolUseID: "tu_1", Text: "sunny, 21C"},
			},
		},
	}
	// role 1 + result text 3 + message overhead 3 + conversation overhead 3
	if got := e.CountMessages(withResult, "mystery-model", false); got != 10 {
		t.Fatalf("tool result count = %d, want 10", got)
	}
}

func TestCountTools(t *testing.T) {
	e := NewEstimator()

	tools := []types.ToolDefinition{
		{
			Name:        "get_weather",
			Description: "Get weather",
			InputSchema: map[string]interface{}{"type": "object"},
		},
	}
	// name 3 + description 3 + schema 4 + tool overhead 10
	if got := e.CountTools(tools, "mystery-model"); got != 20 {
		t.Fatalf("tool count = %d, want 20", got)
	}
	if got := e.CountTools(nil, "mystery-model"); got != 0 {
		t.Fatalf("no tools = %d, want 0", got)
	}
}

func TestCountRequest(t *testing.T) {
	e := NewEstimator()

	req := &types.UnifiedRequest{
		Model:  "claude-sonnet-4.5",
		System: "You are terse.",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: []types.Block{{Kind: types.BlockText, Text: "ping"}}},
		},
	}

	plain := e.CountRequest(req, false)
	// system 4 + messages 8 + request overhead 5
	if plain != 17 {
		t.Fatalf("uncorrected request = %d, want 17", plain)
	}
	corrected := e.CountRequest(req, true)
	if corrected <= plain {
		t.Fatalf("corrected %d should exceed uncorrected %d", corrected, plain)
	}
}

func TestFamilyDetection(t *testing.T) {
	tests := []struct {
		model  string
		gpt    bool
		claude bool
	}{
		{"gpt-4o", true, false},
		{"GPT-3.5-turbo", true, false},
		{"claude-sonnet-4.5", false, true},
		{"claude-haiku-4.5", false, true},
		{"amazonq-dev", false, false},
	}
	for _, tt := range tests {
		if got := isGPTFamily(tt.model); got != tt.gpt {
			t.Errorf("isGPTFamily(%q) = %v", tt.model, got)
		}
		if got := isClaudeFamily(tt.model); got != tt.claude {
			t.Errorf("isClaudeFamily(%q) = %v", tt.model, got)
		}
	}
}
