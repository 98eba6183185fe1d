package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/proxy/types"
	"mercator-hq/ganymede/pkg/recovery"
	"mercator-hq/ganymede/pkg/tokens"
)

const (
	// contextHeadroom is the slice of the input window kept free for
	// envelope framing and estimation error.
	contextHeadroom = 1024

	// continuationPrompt stands in when the conversation ends on an
	// assistant turn; the upstream only acts on a user message.
	continuationPrompt = "Continue."

	// systemOpen/systemClose delimit the folded system preamble on the
	// first user turn. The summarizer relies on the exact shape to lift
	// the preamble back off.
	systemOpen  = "<system>\n"
	systemClose = "\n</system>\n\n"
)

// Translator builds upstream envelopes from normalized requests. One
// instance serves all requests; it holds no per-request state.
type Translator struct {
	cfg        *config.Config
	estimator  *tokens.Estimator
	cache      *recovery.Cache
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTranslator wires a translator. A nil cache disables truncation-recovery
// injection regardless of configuration.
func NewTranslator(cfg *config.Config, estimator *tokens.Estimator, cache *recovery.Cache, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	if estimator == nil {
		estimator = tokens.NewEstimator()
	}
	return &Translator{
		cfg:        cfg,
		estimator:  estimator,
		cache:      cache,
		httpClient: &http.Client{},
		logger:     logger.With("component", "translate"),
	}
}

// BuildEnvelope converts a normalized request into the upstream conversation
// envelope. In order: URL images resolve to base64, tool pairing is
// repaired, pending truncation records are injected, messages flatten into
// alternating history entries with the system preamble folded onto the first
// user turn, and the whole thing is summarized if it exceeds the model's
// input window. ProfileARN stays empty; the caller sets it per credential
// provider.
func (t *Translator) BuildEnvelope(ctx context.Context, req *types.UnifiedRequest, info kiro.ModelInfo) (*kiro.Envelope, error) {
	if len(req.Messages) == 0 {
		return nil, types.NewRequestError(400, types.ErrInvalidRequest, "messages must not be empty")
	}

	msgs := cloneMessages(req.Messages)
	if err := t.resolveImages(ctx, msgs); err != nil {
		return nil, err
	}
	msgs = repairToolPairing(msgs, t.logger)
	msgs = t.InjectRecovery(msgs)

	history, current := splitCurrent(flattenMessages(msgs, info.ID), info.ID)
	foldSystem(req.System, history, current)

	if d := toolChoiceDirective(req.ToolChoice); d != "" {
		current.Content = joinText(current.Content, d)
	}
	ensureContext(current).Tools = mapTools(req.Tools, req.ToolChoice)

	env := &kiro.Envelope{
		ConversationState: kiro.ConversationState{
			AgentContinuationID: uuid.NewString(),
			AgentTaskType:       kiro.AgentTaskTypeVibe,
			ChatTriggerType:     kiro.ChatTriggerTypeManual,
			ConversationID:      ConversationID(req.System, req.Messages),
			CurrentMessage:      kiro.CurrentMessage{UserInputMessage: *current},
			History:             history,
		},
	}

	budget := info.MaxInputTokens - contextHeadroom
	if budget <= 0 {
		budget = info.MaxInputTokens
	}
	if t.EnvelopeTokens(env, info.ID) > budget {
		return t.SummarizeEnvelope(env, info.ID, budget)
	}
	return env, nil
}

// InjectRecovery splices pending truncation records into the conversation: a
// synthetic error tool-result immediately before the client's result for a
// truncated call, and a system-notice user message right after a truncated
// reply. Records are consumed on read, so running the pass again over the
// same history injects nothing.
func (t *Translator) InjectRecovery(msgs []types.Message) []types.Message {
	if !t.recoveryOn() {
		return msgs
	}

	for mi := range msgs {
		var rebuilt []types.Block
		injected := false
		for _, b := range msgs[mi].Content {
			if b.Kind == types.BlockToolResult && b.ToolUseID != "" {
				if rec, ok := t.cache.TakeToolTruncation(b.ToolUseID); ok {
					t.logger.Info("injecting tool-truncation recovery",
						"tool_use_id", rec.ToolUseID, "tool", rec.Name)
					rebuilt = append(rebuilt, types.Block{
						Kind:      types.BlockToolResult,
						ToolUseID: b.ToolUseID,
						IsError:   true,
						Text:      recovery.ToolRecoveryText(rec),
					})
					injected = true
				}
			}
			rebuilt = append(rebuilt, b)
		}
		if injected {
			msgs[mi].Content = rebuilt
		}
	}

	last := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleAssistant {
			last = i
			break
		}
	}
	if last >= 0 {
		if text := msgs[last].TextContent(); text != "" {
			if _, ok := t.cache.TakeContentTruncation(text); ok {
				t.logger.Info("injecting content-truncation recovery")
				notice := types.Message{
					Role:    types.RoleUser,
					Content: []types.Block{{Kind: types.BlockText, Text: recovery.ContentRecoveryText}},
				}
				tail := append([]types.Message{notice}, msgs[last+1:]...)
				msgs = append(msgs[:last+1], tail...)
			}
		}
	}
	return msgs
}

// cloneMessages copies the slice and each content slice so translation can
// edit blocks without mutating the handler's request.
func cloneMessages(msgs []types.Message) []types.Message {
	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		out[i].Content = append([]types.Block(nil), m.Content...)
	}
	return out
}

// repairToolPairing enforces tool-use / tool-result reference integrity.
// Results referencing an id never issued in this request degrade to plain
// text; tool-use arguments that fail to parse are replaced with an empty
// object. Both repairs are logged rather than rejected: clients trim
// histories and models emit cut-off JSON, and neither should kill the turn.
func repairToolPairing(msgs []types.Message, logger *slog.Logger) []types.Message {
	known := make(map[string]bool)
	for mi := range msgs {
		for bi := range msgs[mi].Content {
			b := &msgs[mi].Content[bi]
			switch b.Kind {
			case types.BlockToolUse:
				if len(b.ToolInput) > 0 && !json.Valid(b.ToolInput) {
					logger.Warn("replacing invalid tool_use arguments",
						"tool_use_id", b.ToolUseID, "tool", b.ToolName)
					b.ToolInput = json.RawMessage("{}")
				}
				if len(b.ToolInput) == 0 {
					b.ToolInput = json.RawMessage("{}")
				}
				known[b.ToolUseID] = true
			case types.BlockToolResult:
				if !known[b.ToolUseID] {
					logger.Warn("tool_result references unknown tool_use id",
						"tool_use_id", b.ToolUseID)
					text := fmt.Sprintf("[tool result for %s]", b.ToolUseID)
					if b.Text != "" {
						text += " " + b.Text
					}
					*b = types.Block{Kind: types.BlockText, Text: text}
				}
			}
		}
	}
	return msgs
}

// flattenMessages turns logical messages into history entries, merging
// consecutive same-role messages so the replay alternates strictly.
func flattenMessages(msgs []types.Message, modelID string) []kiro.HistoryEntry {
	var entries []kiro.HistoryEntry
	for _, m := range msgs {
		if m.Role == types.RoleAssistant {
			a := assistantFromMessage(m)
			if n := len(entries); n > 0 && entries[n-1].AssistantResponseMessage != nil {
				mergeAssistant(entries[n-1].AssistantResponseMessage, a)
				continue
			}
			entries = append(entries, kiro.HistoryEntry{AssistantResponseMessage: a})
			continue
		}
		// user, tool, and anything unrecognized speak for the human side.
		u := userFromMessage(m, modelID)
		if n := len(entries); n > 0 && entries[n-1].UserInputMessage != nil {
			mergeUser(entries[n-1].UserInputMessage, u)
			continue
		}
		entries = append(entries, kiro.HistoryEntry{UserInputMessage: u})
	}
	return entries
}

func userFromMessage(m types.Message, modelID string) *kiro.UserInputMessage {
	u := &kiro.UserInputMessage{ModelID: modelID, Origin: kiro.OriginAIEditor}
	var parts []string
	for _, b := range m.Content {
		switch b.Kind {
		case types.BlockText, types.BlockThinking:
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		case types.BlockImage:
			u.Images = append(u.Images, kiro.Image{
				Format: imageFormat(b.MediaType),
				Source: kiro.ImageSource{Bytes: b.Data},
			})
		case types.BlockToolResult:
			status := kiro.ToolResultSuccess
			if b.IsError {
				status = kiro.ToolResultError
			}
			mctx := ensureContext(u)
			mctx.ToolResults = append(mctx.ToolResults, kiro.ToolResult{
				ToolUseID: b.ToolUseID,
				Content:   []kiro.ToolResultContent{{Text: b.Text}},
				Status:    status,
			})
		}
		// BlockOther carries content the gateway cannot express upstream.
	}
	u.Content = strings.Join(parts, "\n")
	return u
}

func assistantFromMessage(m types.Message) *kiro.AssistantResponseMessage {
	a := &kiro.AssistantResponseMessage{}
	var parts []string
	for _, b := range m.Content {
		switch b.Kind {
		case types.BlockText:
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		case types.BlockThinking:
			// Replayed reasoning goes back in the inline form the upstream
			// produced it in.
			if b.Text != "" {
				parts = append(parts, thinkingOpen+b.Text+thinkingClose)
			}
		case types.BlockToolUse:
			a.ToolUses = append(a.ToolUses, kiro.ToolUseEntry{
				ToolUseID: b.ToolUseID,
				Name:      b.ToolName,
				Input:     parseToolInput(b.ToolInput),
			})
		}
	}
	a.Content = strings.Join(parts, "\n")
	return a
}

func mergeUser(dst, src *kiro.UserInputMessage) {
	dst.Content = joinText(dst.Content, src.Content)
	dst.Images = append(dst.Images, src.Images...)
	if src.UserInputMessageContext != nil && len(src.UserInputMessageContext.ToolResults) > 0 {
		mctx := ensureContext(dst)
		mctx.ToolResults = append(mctx.ToolResults, src.UserInputMessageContext.ToolResults...)
	}
}

func mergeAssistant(dst, src *kiro.AssistantResponseMessage) {
	dst.Content = joinText(dst.Content, src.Content)
	dst.ToolUses = append(dst.ToolUses, src.ToolUses...)
}

// splitCurrent peels the trailing user entry off as the current message.
// A history ending on an assistant turn gets a minimal continuation prompt
// instead, because the upstream requires a user message to respond to.
func splitCurrent(entries []kiro.HistoryEntry, modelID string) ([]kiro.HistoryEntry, *kiro.UserInputMessage) {
	if n := len(entries); n > 0 && entries[n-1].UserInputMessage != nil {
		return entries[:n-1], entries[n-1].UserInputMessage
	}
	return entries, &kiro.UserInputMessage{
		Content: continuationPrompt,
		ModelID: modelID,
		Origin:  kiro.OriginAIEditor,
	}
}

// foldSystem prepends the labeled system preamble to the first user turn.
// Cache-control hints were already dropped during normalization; the
// upstream has no equivalent.
func foldSystem(system string, history []kiro.HistoryEntry, current *kiro.UserInputMessage) {
	if system == "" {
		return
	}
	preamble := systemOpen + system + systemClose
	for i := range history {
		if u := history[i].UserInputMessage; u != nil {
			u.Content = preamble + u.Content
			return
		}
	}
	current.Content = preamble + current.Content
}

// mapTools converts tool definitions into the upstream descriptor shape.
// tool_choice "none" strips the definitions so nothing is callable.
func mapTools(defs []types.ToolDefinition, choice types.ToolChoice) []kiro.ToolEntry {
	if choice.Mode == types.ToolChoiceNone || len(defs) == 0 {
		return []kiro.ToolEntry{}
	}
	entries := make([]kiro.ToolEntry, 0, len(defs))
	for _, d := range defs {
		schema := d.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		entries = append(entries, kiro.ToolEntry{
			ToolSpecification: kiro.ToolSpecification{
				Name:        d.Name,
				Description: d.Description,
				InputSchema: kiro.InputSchema{JSON: schema},
			},
		})
	}
	return entries
}

// toolChoiceDirective renders forced tool choices as an instruction on the
// current turn; the upstream envelope has no native directive field.
func toolChoiceDirective(choice types.ToolChoice) string {
	switch choice.Mode {
	case types.ToolChoiceAny:
		return "You must respond by calling one of the provided tools."
	case types.ToolChoiceTool:
		return fmt.Sprintf("You must respond by calling the %q tool.", choice.Name)
	default:
		return ""
	}
}

func ensureContext(u *kiro.UserInputMessage) *kiro.UserInputMessageContext {
	if u.UserInputMessageContext == nil {
		u.UserInputMessageContext = &kiro.UserInputMessageContext{Tools: []kiro.ToolEntry{}}
	}
	return u.UserInputMessageContext
}

func parseToolInput(raw json.RawMessage) interface{} {
	var v interface{}
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return map[string]interface{}{}
	}
	return v
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}
