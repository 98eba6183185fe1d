package translate

import (
	"strings"

	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/kiro"
)

// The upstream has no native reasoning channel: models emit their chain of
// thought inline as <thinking>…</thinking> spans inside ordinary text. The
// splitter separates those spans out of the content stream so the response
// side can re-emit them as thinking blocks or drop them. Tags routinely
// straddle frame boundaries, so unconsumed text that could still become a
// tag stays buffered until the next chunk decides it.

const (
	thinkingOpen  = "<thinking>"
	thinkingClose = "</thinking>"
)

// thinkingSplitter is a stateful scanner over content chunks. Feed returns
// the events the chunk completes; Flush drains whatever is still buffered at
// end of stream.
type thinkingSplitter struct {
	mode       string
	buf        string
	inThinking bool
}

func newThinkingSplitter(mode string) *thinkingSplitter {
	return &thinkingSplitter{mode: mode}
}

// active reports whether the splitter transforms the stream at all.
// include_as_text passes content through verbatim, tags included.
func (s *thinkingSplitter) active() bool {
	return s.mode == config.ReasoningEmitBlock || s.mode == config.ReasoningStrip
}

// Feed consumes one content chunk and returns the resulting events in
// stream order.
func (s *thinkingSplitter) Feed(text string) []kiro.Event {
	if text == "" {
		return nil
	}
	if !s.active() {
		return []kiro.Event{{Kind: kiro.EventContent, Text: text}}
	}

	s.buf += text
	var evs []kiro.Event
	for {
		if s.inThinking {
			i := strings.Index(s.buf, thinkingClose)
			if i < 0 {
				// Emit all but a possible partial closing tag.
				keep := partialTagSuffix(s.buf, thinkingClose)
				if emit := s.buf[:len(s.buf)-keep]; emit != "" {
					evs = s.appendThinking(evs, emit)
					s.buf = s.buf[len(s.buf)-keep:]
				}
				return evs
			}
			if i > 0 {
				evs = s.appendThinking(evs, s.buf[:i])
			}
			s.buf = s.buf[i+len(thinkingClose):]
			s.inThinking = false
			continue
		}

		i := strings.Index(s.buf, thinkingOpen)
		if i < 0 {
			keep := partialTagSuffix(s.buf, thinkingOpen)
			if emit := s.buf[:len(s.buf)-keep]; emit != "" {
				evs = append(evs, kiro.Event{Kind: kiro.EventContent, Text: emit})
				s.buf = s.buf[len(s.buf)-keep:]
			}
			return evs
		}
		if i > 0 {
			evs = append(evs, kiro.Event{Kind: kiro.EventContent, Text: s.buf[:i]})
		}
		s.buf = s.buf[i+len(thinkingOpen):]
		s.inThinking = true
	}
}

// Flush drains the buffer at end of stream. A reply cut off mid-thinking
// still surfaces its text so nothing silently disappears.
func (s *thinkingSplitter) Flush() []kiro.Event {
	if s.buf == "" {
		return nil
	}
	text := s.buf
	s.buf = ""
	if s.inThinking {
		return s.appendThinking(nil, text)
	}
	return []kiro.Event{{Kind: kiro.EventContent, Text: text}}
}

func (s *thinkingSplitter) appendThinking(evs []kiro.Event, text string) []kiro.Event {
	if s.mode == config.ReasoningStrip {
		return evs
	}
	return append(evs, kiro.Event{Kind: kiro.EventThinking, Text: text})
}

// partialTagSuffix returns the length of the longest suffix of text that is
// a proper prefix of tag, i.e. the bytes that must stay buffered because the
// next chunk might complete the tag.
func partialTagSuffix(text, tag string) int {
	max := len(tag) - 1
	if max > len(text) {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(tag, text[len(text)-n:]) {
			return n
		}
	}
	return 0
}
