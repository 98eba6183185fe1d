package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/proxy/types"
	"mercator-hq/ganymede/pkg/recovery"
)

// StreamParams carries the per-request constants the response emitters need.
type StreamParams struct {
	// Model is echoed to the client in every response body.
	Model string

	// InputTokens is the estimated prompt size, reported as usage.
	InputTokens int

	// IncludeUsage adds a usage object to the final OpenAI chunk
	// (stream_options.include_usage).
	IncludeUsage bool
}

// StreamResult summarizes a finished emission for logging and metrics.
type StreamResult struct {
	StopReason   string
	OutputTokens int
}

// Aggregate is a fully drained upstream response, ready to render as a
// non-streaming body in either dialect.
type Aggregate struct {
	Text       string
	Thinking   string
	ToolUses   []kiro.ToolUse // Args normalized to valid JSON
	StopReason string
}

// emittedText concatenates everything a renderer sends, for token pricing.
// The OpenAI dialect has no thinking channel, so it prices without it.
func (a *Aggregate) emittedText(withThinking bool) string {
	var b strings.Builder
	b.WriteString(a.Text)
	if withThinking {
		b.WriteString(a.Thinking)
	}
	for _, tu := range a.ToolUses {
		b.WriteString(tu.Args)
	}
	return b.String()
}

// Drain consumes the whole event stream and aggregates it for a
// non-streaming response. Thinking content is separated or dropped per the
// configured handling; unparsable tool arguments degrade to {} and are
// recorded so the next turn can acknowledge the damage.
func (t *Translator) Drain(ctx context.Context, events <-chan kiro.Event) (*Aggregate, error) {
	split := newThinkingSplitter(t.reasoningMode())
	agg := &Aggregate{StopReason: kiro.StopEndTurn}

	var text, thinking strings.Builder
	collect := func(evs []kiro.Event) {
		for _, ev := range evs {
			switch ev.Kind {
			case kiro.EventContent:
				text.WriteString(ev.Text)
			case kiro.EventThinking:
				thinking.WriteString(ev.Text)
			}
		}
	}
	settle := func() *Aggregate {
		collect(split.Flush())
		agg.Text = text.String()
		agg.Thinking = thinking.String()
		t.noteContentTruncation(agg.Text, agg.StopReason, len(agg.ToolUses))
		return agg
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				// Closed without a terminal event; treat what arrived as
				// the whole reply.
				return settle(), nil
			}
			switch ev.Kind {
			case kiro.EventContent:
				collect(split.Feed(ev.Text))
			case kiro.EventThinking:
				thinking.WriteString(ev.Text)
			case kiro.EventToolUse:
				tu := *ev.Tool
				tu.Args = t.normalizeToolArgs(ev.Tool)
				agg.ToolUses = append(agg.ToolUses, tu)
			case kiro.EventEnd:
				agg.StopReason = ev.StopReason
				return settle(), nil
			case kiro.EventError:
				return nil, ev.Err
			}
		}
	}
}

// reasoningMode resolves the configured thinking-content handling.
func (t *Translator) reasoningMode() string {
	if t.cfg == nil {
		return config.ReasoningIncludeAsText
	}
	return t.cfg.LiveReasoningHandling()
}

// recoveryOn reports whether truncation records should be written or read.
func (t *Translator) recoveryOn() bool {
	return t.cache != nil && t.cfg != nil && t.cfg.LiveRecoveryEnabled()
}

// normalizeToolArgs returns the tool call's arguments as valid JSON. An
// empty or unparsable accumulation degrades to {} and the damage is
// recorded for next-turn recovery.
func (t *Translator) normalizeToolArgs(tu *kiro.ToolUse) string {
	args := strings.TrimSpace(tu.Args)
	if args == "" {
		return "{}"
	}
	if json.Valid([]byte(args)) {
		return args
	}
	diag := diagnoseToolArgs(args)
	if t.recoveryOn() {
		t.cache.SaveToolTruncation(tu.ID, tu.Name, diag)
	}
	t.logger.Warn("tool arguments truncated",
		"tool_use_id", tu.ID,
		"tool", tu.Name,
		"size_bytes", diag.SizeBytes,
		"reason", diag.Reason)
	return "{}"
}

// diagnoseToolArgs names what is wrong with an unparsable argument
// accumulation. The reason lands in logs and in the recovery record.
func diagnoseToolArgs(args string) recovery.Diagnosis {
	depth, inString, escaped := 0, false, false
	for _, r := range args {
		switch {
		case escaped:
			escaped = false
		case inString:
			switch r {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case r == '"':
			inString = true
		case r == '{', r == '[':
			depth++
		case r == '}', r == ']':
			depth--
		}
	}
	reason := "malformed json"
	switch {
	case inString:
		reason = "unterminated string"
	case depth == 1:
		reason = "missing 1 closing brace"
	case depth > 1:
		reason = fmt.Sprintf("missing %d closing braces", depth)
	}
	return recovery.Diagnosis{SizeBytes: len(args), Reason: reason}
}

// noteContentTruncation records an assistant reply that looks cut off.
// Only replies that ended normally without tool calls qualify: max_tokens
// and tool_use stops explain themselves.
func (t *Translator) noteContentTruncation(text, stopReason string, toolCount int) {
	if !t.recoveryOn() || toolCount > 0 || stopReason != kiro.StopEndTurn {
		return
	}
	if !recovery.LooksTruncated(text) {
		return
	}
	key := t.cache.SaveContentTruncation(text)
	t.logger.Info("assistant reply looks truncated", "key", key, "chars", len(text))
}

// openaiFinishReason maps upstream stop reasons onto the OpenAI dialect.
func openaiFinishReason(stop string) string {
	switch stop {
	case kiro.StopToolUse:
		return types.FinishToolCalls
	case kiro.StopMaxTokens:
		return types.FinishLength
	default:
		return types.FinishStop
	}
}

func strPtr(s string) *string { return &s }
