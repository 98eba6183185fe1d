package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/proxy/types"
)

// pingInterval paces keep-alive pings on Anthropic streams.
const pingInterval = 15 * time.Second

// Wire shapes for Anthropic Messages SSE. Nullable fields use pointers so
// they serialize as JSON null instead of disappearing.

type anthropicMessageStart struct {
	Type    string                `json:"type"`
	Message anthropicStartMessage `json:"message"`
}

type anthropicStartMessage struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Model        string               `json:"model"`
	Content      []interface{}        `json:"content"`
	StopReason   *string              `json:"stop_reason"`
	StopSequence *string              `json:"stop_sequence"`
	Usage        types.AnthropicUsage `json:"usage"`
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      *string         `json:"text,omitempty"`
	Thinking  *string         `json:"thinking,omitempty"`
	Signature *string         `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

type anthropicBlockStart struct {
	Type         string                `json:"type"`
	Index        int                   `json:"index"`
	ContentBlock anthropicContentBlock `json:"content_block"`
}

type anthropicDelta struct {
	Type        string  `json:"type"`
	Text        string  `json:"text,omitempty"`
	Thinking    string  `json:"thinking,omitempty"`
	PartialJSON *string `json:"partial_json,omitempty"`
}

type anthropicBlockDelta struct {
	Type  string         `json:"type"`
	Index int            `json:"index"`
	Delta anthropicDelta `json:"delta"`
}

type anthropicBlockStop struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type anthropicMessageDelta struct {
	Type  string                    `json:"type"`
	Delta anthropicMessageDeltaBody `json:"delta"`
	Usage anthropicOutputUsage      `json:"usage"`
}

type anthropicMessageDeltaBody struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type anthropicOutputUsage struct {
	OutputTokens int `json:"output_tokens"`
}

type anthropicTypeOnly struct {
	Type string `json:"type"`
}

// StreamAnthropic re-emits the semantic event stream as Anthropic Messages
// SSE: message_start, then start/delta/stop triples per content block with
// an index that increments across blocks, then message_delta with the stop
// reason and output usage, then message_stop. Headers and status are the
// handler's business. The caller must not retry once this returns: bytes
// are on the wire.
func (t *Translator) StreamAnthropic(ctx context.Context, w http.ResponseWriter, events <-chan kiro.Event, p StreamParams) (*StreamResult, error) {
	out := newSSEWriter(w)
	split := newThinkingSplitter(t.reasoningMode())

	start := anthropicMessageStart{
		Type: "message_start",
		Message: anthropicStartMessage{
			ID:      NewMessageID(),
			Type:    "message",
			Role:    "assistant",
			Model:   p.Model,
			Content: []interface{}{},
			Usage:   types.AnthropicUsage{InputTokens: p.InputTokens},
		},
	}
	if err := out.event("message_start", start); err != nil {
		return nil, err
	}

	blocks := anthropicBlockWriter{out: out, index: -1}
	var text, thinking, toolArgs strings.Builder
	toolCount := 0

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	emit := func(evs []kiro.Event) error {
		for _, ev := range evs {
			switch ev.Kind {
			case kiro.EventContent:
				text.WriteString(ev.Text)
				if err := blocks.textDelta(ev.Text); err != nil {
					return err
				}
			case kiro.EventThinking:
				thinking.WriteString(ev.Text)
				if err := blocks.thinkingDelta(ev.Text); err != nil {
					return err
				}
			}
		}
		return nil
	}

	finish := func(stopReason string) (*StreamResult, error) {
		if err := emit(split.Flush()); err != nil {
			return nil, err
		}
		if err := blocks.closeBlock(); err != nil {
			return nil, err
		}
		outTokens := 0
		if s := text.String() + thinking.String() + toolArgs.String(); s != "" {
			outTokens = t.estimator.CountText(s, p.Model)
		}
		md := anthropicMessageDelta{
			Type:  "message_delta",
			Delta: anthropicMessageDeltaBody{StopReason: stopReason},
			Usage: anthropicOutputUsage{OutputTokens: outTokens},
		}
		if err := out.event("message_delta", md); err != nil {
			return nil, err
		}
		if err := out.event("message_stop", anthropicTypeOnly{Type: "message_stop"}); err != nil {
			return nil, err
		}
		t.noteContentTruncation(text.String(), stopReason, toolCount)
		return &StreamResult{StopReason: stopReason, OutputTokens: outTokens}, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ping.C:
			if err := out.event("ping", anthropicTypeOnly{Type: "ping"}); err != nil {
				return nil, err
			}
		case ev, ok := <-events:
			if !ok {
				// Closed without a terminal event; end the message cleanly.
				return finish(kiro.StopEndTurn)
			}
			switch ev.Kind {
			case kiro.EventContent:
				if err := emit(split.Feed(ev.Text)); err != nil {
					return nil, err
				}
			case kiro.EventThinking:
				if err := emit([]kiro.Event{ev}); err != nil {
					return nil, err
				}
			case kiro.EventToolUse:
				args := t.normalizeToolArgs(ev.Tool)
				toolArgs.WriteString(args)
				toolCount++
				if err := blocks.toolUse(ev.Tool.ID, ev.Tool.Name, args); err != nil {
					return nil, err
				}
			case kiro.EventContextUsage:
				// Informational; the parser folds it into the stop reason.
			case kiro.EventEnd:
				return finish(ev.StopReason)
			case kiro.EventError:
				body := types.NewAnthropicError(types.ErrAPI, "response interrupted before completion")
				if werr := out.event("error", body); werr != nil {
					return nil, werr
				}
				return nil, ev.Err
			}
		}
	}
}

// anthropicBlockWriter tracks the open content block and its index. Text
// and thinking blocks stay open across deltas of the same kind; tool-use
// blocks open and close within one event.
type anthropicBlockWriter struct {
	out   *sseWriter
	index int
	kind  blockKind
}

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockThinking
)

func (b *anthropicBlockWriter) ensure(kind blockKind) error {
	if b.kind == kind {
		return nil
	}
	if err := b.closeBlock(); err != nil {
		return err
	}
	b.index++
	b.kind = kind
	blk := anthropicContentBlock{}
	switch kind {
	case blockText:
		blk.Type = "text"
		blk.Text = strPtr("")
	case blockThinking:
		blk.Type = "thinking"
		blk.Thinking = strPtr("")
		blk.Signature = strPtr(NewThinkingSignature())
	}
	return b.out.event("content_block_start", anthropicBlockStart{
		Type:         "content_block_start",
		Index:        b.index,
		ContentBlock: blk,
	})
}

func (b *anthropicBlockWriter) closeBlock() error {
	if b.kind == blockNone {
		return nil
	}
	b.kind = blockNone
	return b.out.event("content_block_stop", anthropicBlockStop{
		Type:  "content_block_stop",
		Index: b.index,
	})
}

func (b *anthropicBlockWriter) textDelta(text string) error {
	if err := b.ensure(blockText); err != nil {
		return err
	}
	return b.out.event("content_block_delta", anthropicBlockDelta{
		Type:  "content_block_delta",
		Index: b.index,
		Delta: anthropicDelta{Type: "text_delta", Text: text},
	})
}

func (b *anthropicBlockWriter) thinkingDelta(text string) error {
	if err := b.ensure(blockThinking); err != nil {
		return err
	}
	return b.out.event("content_block_delta", anthropicBlockDelta{
		Type:  "content_block_delta",
		Index: b.index,
		Delta: anthropicDelta{Type: "thinking_delta", Thinking: text},
	})
}

// toolUse writes a complete tool-use block: start with an empty input
// object, one input_json_delta carrying the full arguments, stop.
func (b *anthropicBlockWriter) toolUse(id, name, args string) error {
	if err := b.closeBlock(); err != nil {
		return err
	}
	b.index++
	blk := anthropicContentBlock{
		Type:  "tool_use",
		ID:    id,
		Name:  name,
		Input: json.RawMessage("{}"),
	}
	if err := b.out.event("content_block_start", anthropicBlockStart{
		Type:         "content_block_start",
		Index:        b.index,
		ContentBlock: blk,
	}); err != nil {
		return err
	}
	if err := b.out.event("content_block_delta", anthropicBlockDelta{
		Type:  "content_block_delta",
		Index: b.index,
		Delta: anthropicDelta{Type: "input_json_delta", PartialJSON: &args},
	}); err != nil {
		return err
	}
	return b.out.event("content_block_stop", anthropicBlockStop{
		Type:  "content_block_stop",
		Index: b.index,
	})
}

// AnthropicMessage renders a drained response as a non-streaming
// /v1/messages body.
func (t *Translator) AnthropicMessage(agg *Aggregate, p StreamParams) *types.AnthropicResponse {
	blocks := make([]types.AnthropicBlock, 0, len(agg.ToolUses)+2)
	if agg.Thinking != "" {
		blocks = append(blocks, types.AnthropicBlock{
			Type:      "thinking",
			Thinking:  agg.Thinking,
			Signature: NewThinkingSignature(),
		})
	}
	if agg.Text != "" {
		blocks = append(blocks, types.AnthropicBlock{Type: "text", Text: agg.Text})
	}
	for _, tu := range agg.ToolUses {
		blocks = append(blocks, types.AnthropicBlock{
			Type:  "tool_use",
			ID:    tu.ID,
			Name:  tu.Name,
			Input: json.RawMessage(tu.Args),
		})
	}

	outTokens := 0
	if s := agg.emittedText(true); s != "" {
		outTokens = t.estimator.CountText(s, p.Model)
	}
	return &types.AnthropicResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      p.Model,
		Content:    blocks,
		StopReason: agg.StopReason,
		Usage: types.AnthropicUsage{
			InputTokens:  p.InputTokens,
			OutputTokens: outTokens,
		},
	}
}
