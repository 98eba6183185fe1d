package translate

import (
	"context"
	"net/http"
	"strings"
	"time"

	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/proxy/types"
)

// StreamOpenAI re-emits the semantic event stream as chat.completion.chunk
// SSE: a role-priming delta, content deltas, one tool_calls fragment per
// completed call, a finish_reason chunk, and the [DONE] terminator. The
// caller must not retry once this returns: bytes are on the wire.
//
// This dialect has no thinking channel; emit_block behaves like strip and
// include_as_text leaves the tags inline.
func (t *Translator) StreamOpenAI(ctx context.Context, w http.ResponseWriter, events <-chan kiro.Event, p StreamParams) (*StreamResult, error) {
	out := newSSEWriter(w)
	split := newThinkingSplitter(t.reasoningMode())

	id := NewCompletionID()
	created := time.Now().Unix()

	chunk := func(delta types.OpenAIDelta, finish *string, usage *types.OpenAIUsage) error {
		return out.data(&types.ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   p.Model,
			Choices: []types.OpenAIChoice{{Index: 0, Delta: &delta, FinishReason: finish}},
			Usage:   usage,
		})
	}

	// Prime the role before any content; clients key their accumulators
	// on it.
	if err := chunk(types.OpenAIDelta{Role: "assistant"}, nil, nil); err != nil {
		return nil, err
	}

	var text, toolArgs strings.Builder
	toolCount := 0

	content := func(evs []kiro.Event) error {
		for _, ev := range evs {
			if ev.Kind != kiro.EventContent || ev.Text == "" {
				continue
			}
			text.WriteString(ev.Text)
			if err := chunk(types.OpenAIDelta{Content: strPtr(ev.Text)}, nil, nil); err != nil {
				return err
			}
		}
		return nil
	}

	finish := func(stopReason string) (*StreamResult, error) {
		if err := content(split.Flush()); err != nil {
			return nil, err
		}
		outTokens := 0
		if s := text.String() + toolArgs.String(); s != "" {
			outTokens = t.estimator.CountText(s, p.Model)
		}
		var usage *types.OpenAIUsage
		if p.IncludeUsage {
			usage = &types.OpenAIUsage{
				PromptTokens:     p.InputTokens,
				CompletionTokens: outTokens,
				TotalTokens:      p.InputTokens + outTokens,
			}
		}
		reason := openaiFinishReason(stopReason)
		if err := chunk(types.OpenAIDelta{}, &reason, usage); err != nil {
			return nil, err
		}
		if err := out.done(); err != nil {
			return nil, err
		}
		t.noteContentTruncation(text.String(), stopReason, toolCount)
		return &StreamResult{StopReason: stopReason, OutputTokens: outTokens}, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				// Closed without a terminal event; end the stream cleanly.
				return finish(kiro.StopEndTurn)
			}
			switch ev.Kind {
			case kiro.EventContent:
				if err := content(split.Feed(ev.Text)); err != nil {
					return nil, err
				}
			case kiro.EventThinking:
				// No thinking channel in this dialect.
			case kiro.EventToolUse:
				args := t.normalizeToolArgs(ev.Tool)
				toolArgs.WriteString(args)
				idx := toolCount
				toolCount++
				call := types.OpenAIToolCall{
					Index:    &idx,
					ID:       ev.Tool.ID,
					Type:     "function",
					Function: types.OpenAIFunctionCall{Name: ev.Tool.Name, Arguments: args},
				}
				if err := chunk(types.OpenAIDelta{ToolCalls: []types.OpenAIToolCall{call}}, nil, nil); err != nil {
					return nil, err
				}
			case kiro.EventContextUsage:
				// Informational; the parser folds it into the stop reason.
			case kiro.EventEnd:
				return finish(ev.StopReason)
			case kiro.EventError:
				body := types.NewOpenAIError(types.ErrAPI, "response interrupted before completion")
				if werr := out.data(body); werr != nil {
					return nil, werr
				}
				return nil, ev.Err
			}
		}
	}
}

// ChatCompletion renders a drained response as a non-streaming
// /v1/chat/completions body. Tool-call arguments are a single JSON string,
// never fragmented.
func (t *Translator) ChatCompletion(agg *Aggregate, p StreamParams) *types.ChatCompletionResponse {
	msg := &types.OpenAIResponseMessage{Role: "assistant"}
	if agg.Text != "" || len(agg.ToolUses) == 0 {
		msg.Content = strPtr(agg.Text)
	}
	for _, tu := range agg.ToolUses {
		msg.ToolCalls = append(msg.ToolCalls, types.OpenAIToolCall{
			ID:       tu.ID,
			Type:     "function",
			Function: types.OpenAIFunctionCall{Name: tu.Name, Arguments: tu.Args},
		})
	}

	outTokens := 0
	if s := agg.emittedText(false); s != "" {
		outTokens = t.estimator.CountText(s, p.Model)
	}
	reason := openaiFinishReason(agg.StopReason)
	return &types.ChatCompletionResponse{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   p.Model,
		Choices: []types.OpenAIChoice{{Index: 0, Message: msg, FinishReason: &reason}},
		Usage: &types.OpenAIUsage{
			PromptTokens:     p.InputTokens,
			CompletionTokens: outTokens,
			TotalTokens:      p.InputTokens + outTokens,
		},
	}
}
