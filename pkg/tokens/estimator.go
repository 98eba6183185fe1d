package tokens

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"mercator-hq/ganymede/pkg/proxy/types"
)

const (
	// defaultCharsPerToken is the character-ratio fallback used for models
	// without a BPE encoding.
	defaultCharsPerToken = 4.0

	// claudeCorrection compensates for Claude tokenizers running denser
	// than the plain character ratio.
	claudeCorrection = 1.15

	// imageTokens is charged per image block. Upstream bills images by
	// resolution tiers; this sits near the common tier.
	imageTokens = 1000

	// perMessageOverhead covers role markers and message boundaries,
	// perToolOverhead the function-call scaffolding around a definition.
	perMessageOverhead = 3
	perToolOverhead    = 10
	requestOverhead    = 5
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// gptEncoding returns the shared cl100k_base encoder, or nil when the
// encoding data cannot be loaded, in which case counting falls back to the
// character ratio.
func gptEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("cl100k_base encoding unavailable, using character-ratio estimation", "error", err)
			return
		}
		encoding = enc
	})
	return encoding
}

// Estimator estimates token counts per model family. The zero value is
// usable; NewEstimator exists for symmetry with the rest of the packages.
type Estimator struct{}

func NewEstimator() *Estimator {
	return &Estimator{}
}

// CountText estimates tokens for one text string. Never returns less than 1
// for non-empty input.
func (e *Estimator) CountText(text, model string) int {
	if text == "" {
		return 0
	}

	if isGPTFamily(model) {
		if enc := gptEncoding(); enc != nil {
			n := len(enc.Encode(text, nil, nil))
			if n < 1 {
				n = 1
			}
			return n
		}
	}

	tokens := float64(len(text)) / defaultCharsPerToken
	if tokens < 1.0 {
		tokens = 1.0
	}
	return int(tokens + 0.5)
}

// CountMessages estimates prompt tokens for a conversation, including
// formatting overhead. applyCorrection enables the Claude-family density
// correction; callers use it for context-window checks, where overshooting
// is safer than undershooting.
func (e *Estimator) CountMessages(msgs []types.Message, model string, applyCorrection bool) int {
	if len(msgs) == 0 {
		return 0
	}

	total := 0
	for _, msg := range msgs {
		total++ // role marker
		for _, block := range msg.Content {
			total += e.countBlock(block, model)
		}
		total += perMessageOverhead
	}
	total += perMessageOverhead // conversation framing

	return e.correct(total, model, applyCorrection)
}

// CountTools estimates tokens for tool definitions, schema included.
func (e *Estimator) CountTools(tools []types.ToolDefinition, model string) int {
	if len(tools) == 0 {
		return 0
	}

	total := 0
	for _, tool := range tools {
		total += e.CountText(tool.Name, model)
		total += e.CountText(tool.Description, model)
		if tool.InputSchema != nil {
			if schema, err := json.Marshal(tool.InputSchema); err == nil {
				total += e.CountText(string(schema), model)
			}
		}
		total += perToolOverhead
	}
	return total
}

// CountRequest estimates the full prompt: system preamble, conversation,
// and tool definitions.
func (e *Estimator) CountRequest(req *types.UnifiedRequest, applyCorrection bool) int {
	total := e.CountText(req.System, req.Model)
	total += e.CountMessages(req.Messages, req.Model, false)
	total += e.CountTools(req.Tools, req.Model)
	total += requestOverhead
	return e.correct(total, req.Model, applyCorrection)
}

func (e *Estimator) countBlock(block types.Block, model string) int {
	switch block.Kind {
	case types.BlockText, types.BlockThinking:
		return e.CountText(block.Text, model)
	case types.BlockToolUse:
		n := e.CountText(block.ToolName, model)
		n += e.CountText(string(block.ToolInput), model)
		return n
	case types.BlockToolResult:
		return e.CountText(block.Text, model)
	case types.BlockImage:
		return imageTokens
	default:
		return e.CountText(block.Text, model)
	}
}

// correct applies the Claude density correction when asked and applicable.
func (e *Estimator) correct(total int, model string, apply bool) int {
	if !apply || !isClaudeFamily(model) || isGPTFamily(model) {
		return total
	}
	return int(float64(total)*claudeCorrection + 0.5)
}

func isGPTFamily(model string) bool {
	return strings.Contains(strings.ToLower(model), "gpt")
}

func isClaudeFamily(model string) bool {
	return strings.Contains(strings.ToLower(model), "claude")
}
