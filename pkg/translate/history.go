package translate

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"mercator-hq/ganymede/pkg/kiro"
	"mercator-hq/ganymede/pkg/proxy/types"
	"mercator-hq/ganymede/pkg/tokens"
)

const (
	// keepTurns is how many trailing exchanges survive summarization
	// intact. Everything older collapses into one summary block.
	keepTurns = 4

	// summaryTokenCap bounds the synthetic summary so it never becomes a
	// second history.
	summaryTokenCap = 2000

	// bulletRuneCap clamps a single abstract sentence. One enormous
	// unpunctuated turn must not eat the whole summary budget.
	bulletRuneCap = 300

	summaryHeader = "[Summary of earlier turns:\n"
	summaryFooter = "]"
)

// OverflowError reports a request whose irreducible tail exceeds the model's
// input window even after summarization. Handlers map it to a 413.
type OverflowError struct {
	Tokens int
	Budget int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("request of ~%d tokens exceeds the model input budget of %d after summarization", e.Tokens, e.Budget)
}

// EnvelopeTokens estimates the prompt size of a built envelope, tool
// definitions included, with the window-check correction applied.
func (t *Translator) EnvelopeTokens(env *kiro.Envelope, model string) int {
	total := t.estimator.CountMessages(envelopeMessages(env), model, true)
	if c := env.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext; c != nil {
		total += toolEntryTokens(t.estimator, c.Tools, model)
	}
	return total
}

// SummarizeEnvelope shrinks an over-budget envelope: the oldest history
// turns collapse into a single bulleted summary entry, then whole turns drop
// oldest-first until the estimate fits. The system preamble and the current
// message always survive. No model call is made; the summary is a degenerate
// first-and-last-sentence abstract whose only job is making the request fit.
func (t *Translator) SummarizeEnvelope(env *kiro.Envelope, model string, budget int) (*kiro.Envelope, error) {
	if t.EnvelopeTokens(env, model) <= budget {
		return env, nil
	}

	preamble, history := extractPreamble(env.ConversationState.History)
	turns := groupTurns(history)

	var summary string
	if cut := len(turns) - keepTurns; cut > 0 {
		summary = t.buildSummary(turns[:cut], model)
		turns = turns[cut:]
	}

	rebuild := func() {
		env.ConversationState.History = assembleHistory(preamble, summary, turns, model)
	}
	rebuild()

	for t.EnvelopeTokens(env, model) > budget && len(turns) > 0 {
		turns = turns[1:]
		rebuild()
	}
	if t.EnvelopeTokens(env, model) > budget && summary != "" {
		summary = ""
		rebuild()
	}
	if got := t.EnvelopeTokens(env, model); got > budget {
		return nil, &OverflowError{Tokens: got, Budget: budget}
	}

	t.logger.Info("summarized oversized request",
		"model", model, "kept_turns", len(turns), "budget", budget)
	return env, nil
}

// extractPreamble lifts the folded system preamble off the first user entry
// so summarization can re-anchor it at the front of whatever survives.
func extractPreamble(history []kiro.HistoryEntry) (string, []kiro.HistoryEntry) {
	for i := range history {
		u := history[i].UserInputMessage
		if u == nil {
			continue
		}
		if !strings.HasPrefix(u.Content, systemOpen) {
			return "", history
		}
		end := strings.Index(u.Content, systemClose)
		if end < 0 {
			return "", history
		}
		preamble := u.Content[:end+len(systemClose)]
		u.Content = u.Content[len(preamble):]
		return preamble, history
	}
	return "", history
}

// turn is one user→assistant exchange. The assistant half may be missing at
// the tail, and a history that opens on an assistant entry forms a leading
// turn of its own.
type turn []kiro.HistoryEntry

func groupTurns(history []kiro.HistoryEntry) []turn {
	var turns []turn
	for _, e := range history {
		if e.UserInputMessage != nil || len(turns) == 0 {
			turns = append(turns, turn{e})
			continue
		}
		turns[len(turns)-1] = append(turns[len(turns)-1], e)
	}
	return turns
}

// buildSummary bullets the collapsed turns, one line per turn, stopping once
// the token cap is reached.
func (t *Translator) buildSummary(turns []turn, model string) string {
	var b strings.Builder
	b.WriteString(summaryHeader)
	used := t.estimator.CountText(summaryHeader, model)
	for _, tn := range turns {
		abstract := turnAbstract(tn)
		if abstract == "" {
			continue
		}
		line := "- " + abstract + "\n"
		cost := t.estimator.CountText(line, model)
		if used+cost > summaryTokenCap {
			break
		}
		b.WriteString(line)
		used += cost
	}
	b.WriteString(summaryFooter)
	return b.String()
}

func turnAbstract(tn turn) string {
	var parts []string
	for _, e := range tn {
		var role, text string
		switch {
		case e.UserInputMessage != nil:
			role, text = "user", e.UserInputMessage.Content
		case e.AssistantResponseMessage != nil:
			role, text = "assistant", e.AssistantResponseMessage.Content
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		parts = append(parts, role+": "+abridge(text))
	}
	return strings.Join(parts, " / ")
}

// abridge keeps the first and last sentence of a span of text.
func abridge(text string) string {
	sentences := splitSentences(text)
	switch len(sentences) {
	case 0:
		return ""
	case 1:
		return clampRunes(sentences[0], bulletRuneCap)
	case 2:
		return clampRunes(sentences[0], bulletRuneCap) + " " + clampRunes(sentences[1], bulletRuneCap)
	default:
		return clampRunes(sentences[0], bulletRuneCap) + " [...] " + clampRunes(sentences[len(sentences)-1], bulletRuneCap)
	}
}

// splitSentences cuts text at sentence-final punctuation. Deliberately
// crude; the abstract only has to be deterministic, not pretty.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		switch r {
		case '.', '!', '?', '。', '！', '？':
			end := i + utf8.RuneLen(r)
			if s := strings.TrimSpace(text[start:end]); s != "" {
				out = append(out, s)
			}
			start = end
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func clampRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}

// assembleHistory rebuilds the history from the preamble, the summary block,
// and the surviving turns. The lead text folds into the first user entry
// when there is one; the fold copies the entry first so repeated rebuilds
// never stack prefixes.
func assembleHistory(preamble, summary string, turns []turn, model string) []kiro.HistoryEntry {
	var history []kiro.HistoryEntry
	for _, tn := range turns {
		history = append(history, tn...)
	}

	lead := preamble
	if summary != "" {
		lead += summary + "\n\n"
	}
	if lead == "" {
		return history
	}

	if len(history) > 0 && history[0].UserInputMessage != nil {
		u := *history[0].UserInputMessage
		u.Content = lead + u.Content
		history[0] = kiro.HistoryEntry{UserInputMessage: &u}
		return history
	}
	entry := kiro.HistoryEntry{UserInputMessage: &kiro.UserInputMessage{
		Content: strings.TrimSuffix(lead, "\n\n"),
		ModelID: model,
		Origin:  kiro.OriginAIEditor,
	}}
	return append([]kiro.HistoryEntry{entry}, history...)
}

// envelopeMessages projects a built envelope back into logical messages so
// the estimator prices it with the same rules as the inbound request.
func envelopeMessages(env *kiro.Envelope) []types.Message {
	var msgs []types.Message
	for _, e := range env.ConversationState.History {
		if e.UserInputMessage != nil {
			msgs = append(msgs, userMessageOf(e.UserInputMessage))
		}
		if e.AssistantResponseMessage != nil {
			msgs = append(msgs, assistantMessageOf(e.AssistantResponseMessage))
		}
	}
	cur := env.ConversationState.CurrentMessage.UserInputMessage
	return append(msgs, userMessageOf(&cur))
}

func userMessageOf(u *kiro.UserInputMessage) types.Message {
	m := types.Message{Role: types.RoleUser}
	if u.Content != "" {
		m.Content = append(m.Content, types.Block{Kind: types.BlockText, Text: u.Content})
	}
	for range u.Images {
		m.Content = append(m.Content, types.Block{Kind: types.BlockImage})
	}
	if c := u.UserInputMessageContext; c != nil {
		for _, tr := range c.ToolResults {
			var text string
			for _, part := range tr.Content {
				text += part.Text
			}
			m.Content = append(m.Content, types.Block{
				Kind:      types.BlockToolResult,
				ToolUseID: tr.ToolUseID,
				Text:      text,
			})
		}
	}
	return m
}

func assistantMessageOf(a *kiro.AssistantResponseMessage) types.Message {
	m := types.Message{Role: types.RoleAssistant}
	if a.Content != "" {
		m.Content = append(m.Content, types.Block{Kind: types.BlockText, Text: a.Content})
	}
	for _, tu := range a.ToolUses {
		args, _ := json.Marshal(tu.Input)
		m.Content = append(m.Content, types.Block{
			Kind:      types.BlockToolUse,
			ToolUseID: tu.ToolUseID,
			ToolName:  tu.Name,
			ToolInput: args,
		})
	}
	return m
}

func toolEntryTokens(e *tokens.Estimator, entries []kiro.ToolEntry, model string) int {
	if len(entries) == 0 {
		return 0
	}
	defs := make([]types.ToolDefinition, 0, len(entries))
	for _, te := range entries {
		defs = append(defs, types.ToolDefinition{
			Name:        te.ToolSpecification.Name,
			Description: te.ToolSpecification.Description,
			InputSchema: te.ToolSpecification.InputSchema.JSON,
		})
	}
	return e.CountTools(defs, model)
}
