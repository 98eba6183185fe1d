package kiro

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// maxFrameSize rejects implausible length prefixes before allocating.
	maxFrameSize = 16 << 20

	// eventBufferSize bounds the parser-to-translator channel so a slow
	// client exerts backpressure instead of growing memory.
	eventBufferSize = 32

	// maxConsecutiveMalformed undecodable frames in a row end the stream.
	maxConsecutiveMalformed = 3

	DefaultFirstTokenTimeout = 30 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
)

// StreamOptions tunes one parse. Zero values take the defaults above.
type StreamOptions struct {
	// FirstTokenTimeout is how long to wait for the first meaningful event
	// (content, tool, or thinking). Raising it surfaces
	// FirstTokenTimeoutError, the only retryable stream failure.
	FirstTokenTimeout time.Duration

	// IdleTimeout is the maximum gap between emitted events once the
	// stream is live.
	IdleTimeout time.Duration
}

// ParseStream demultiplexes one upstream response body into an ordered
// channel of semantic events. The channel is closed after EventEnd or
// EventError, or silently when ctx is cancelled; cancellation also closes
// the body promptly so blocked reads release.
func ParseStream(ctx context.Context, body io.ReadCloser, opts StreamOptions) <-chan Event {
	if opts.FirstTokenTimeout <= 0 {
		opts.FirstTokenTimeout = DefaultFirstTokenTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	events := make(chan Event, eventBufferSize)
	go demux(ctx, body, opts, events)
	return events
}

// rawFrame is one framed payload or the terminal read error.
type rawFrame struct {
	payload []byte
	err     error
}

func demux(ctx context.Context, body io.ReadCloser, opts StreamOptions, events chan<- Event) {
	defer close(events)

	done := make(chan struct{})
	defer close(done)
	go func() {
		// Closing the body is what actually unblocks a pending read when
		// the client goes away.
		select {
		case <-ctx.Done():
			body.Close()
		case <-done:
		}
	}()
	defer body.Close()

	frames := make(chan rawFrame)
	go readFrames(body, frames, done)

	firstTimer := time.NewTimer(opts.FirstTokenTimeout)
	defer firstTimer.Stop()
	firstC := firstTimer.C

	idleTimer := time.NewTimer(opts.IdleTimeout)
	defer idleTimer.Stop()

	st := newStreamState()

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			idleTimer.Reset(opts.IdleTimeout)
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-firstC:
			body.Close()
			emit(Event{Kind: EventError, Err: &FirstTokenTimeoutError{Timeout: opts.FirstTokenTimeout}})
			return

		case <-idleTimer.C:
			body.Close()
			emit(Event{Kind: EventError, Err: &StreamError{Reason: fmt.Sprintf("no events for %s", opts.IdleTimeout)}})
			return

		case f, ok := <-frames:
			if !ok {
				return
			}
			if f.err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(f.err, io.EOF) {
					for _, ev := range st.finish() {
						if !emit(ev) {
							return
						}
					}
					return
				}
				var fe *FramingError
				if errors.As(f.err, &fe) {
					emit(Event{Kind: EventError, Err: fe})
				} else {
					emit(Event{Kind: EventError, Err: &StreamError{Reason: "connection lost", Err: f.err}})
				}
				return
			}

			evs, meaningful, fatal := st.decodeFrame(f.payload)
			if fatal != nil {
				emit(Event{Kind: EventError, Err: fatal})
				return
			}
			if meaningful && firstC != nil {
				firstTimer.Stop()
				firstC = nil
			}
			for _, ev := range evs {
				if !emit(ev) {
					return
				}
			}
		}
	}
}

// readFrames reads length-prefixed frames until EOF or error. Every exit
// path sends a terminal rawFrame carrying the reason.
func readFrames(body io.Reader, frames chan<- rawFrame, done <-chan struct{}) {
	defer close(frames)

	send := func(f rawFrame) bool {
		select {
		case frames <- f:
			return true
		case <-done:
			return false
		}
	}

	r := bufio.NewReaderSize(body, 64<<10)
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				send(rawFrame{err: &FramingError{Reason: "truncated length prefix"}})
			} else {
				send(rawFrame{err: err})
			}
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n == 0 || n > maxFrameSize {
			send(rawFrame{err: &FramingError{Reason: fmt.Sprintf("frame length %d out of range", n)}})
			return
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			send(rawFrame{err: &FramingError{Reason: "short frame body"}})
			return
		}
		if !send(rawFrame{payload: payload}) {
			return
		}
	}
}

// streamState accumulates per-stream decoding state: tool fragments being
// reassembled, the malformed-frame counter, and what the stop reason will
// be.
type streamState struct {
	malformed  int
	tools      map[string]*toolAccum
	toolOrder  []string
	sawToolUse bool
	maxTokens  bool
	bracketSeq int
}

type toolAccum struct {
	id   string
	name string
	args strings.Builder
}

func newStreamState() *streamState {
	return &streamState{tools: make(map[string]*toolAccum)}
}

// decodeFrame turns one JSON payload into zero or more events. meaningful
// reports whether the frame carried content/tool/thinking substance, which
// is what disarms the first-token watchdog. A non-nil fatal ends the
// stream.
func (st *streamState) decodeFrame(payload []byte) (evs []Event, meaningful bool, fatal error) {
	if !json.Valid(payload) {
		st.malformed++
		slog.Debug("skipping undecodable frame", "consecutive", st.malformed)
		if st.malformed >= maxConsecutiveMalformed {
			return nil, false, &ProtocolError{Reason: fmt.Sprintf("%d consecutive undecodable frames", st.malformed)}
		}
		return nil, false, nil
	}
	st.malformed = 0

	root := gjson.ParseBytes(payload)

	if are := root.Get("assistantResponseEvent"); are.Exists() {
		text := are.Get("content").String()
		if text == "" {
			return nil, false, nil
		}
		kept, calls := scanBracketCalls(text)
		if kept != "" {
			evs = append(evs, Event{Kind: EventContent, Text: kept})
		}
		for _, call := range calls {
			st.bracketSeq++
			st.sawToolUse = true
			evs = append(evs, Event{Kind: EventToolUse, Tool: &ToolUse{
				ID:   fmt.Sprintf("bracket_%d", st.bracketSeq),
				Name: call.name,
				Args: call.args,
			}})
		}
		return evs, true, nil
	}

	if tue := root.Get("toolUseEvent"); tue.Exists() {
		id := tue.Get("toolUseId").String()
		if id == "" {
			return nil, false, nil
		}
		acc, exists := st.tools[id]
		if !exists {
			acc = &toolAccum{id: id}
			st.tools[id] = acc
			st.toolOrder = append(st.toolOrder, id)
		}
		if name := tue.Get("name").String(); name != "" && acc.name == "" {
			acc.name = name
		}
		acc.args.WriteString(tue.Get("input").String())
		if acc.args.Len() > maxFrameSize {
			return nil, false, &ProtocolError{Reason: "tool arguments exceed frame limit"}
		}
		if tue.Get("stop").Bool() {
			return []Event{st.finalizeTool(id)}, true, nil
		}
		return nil, true, nil
	}

	if root.Get("codeReferenceEvent").Exists() {
		// Attribution metadata; nothing to forward.
		return nil, false, nil
	}

	if mme := root.Get("messageMetadataEvent"); mme.Exists() {
		cu := mme.Get("contextUsage")
		if !cu.Exists() {
			return nil, false, nil
		}
		pct := cu.Float()
		if cu.IsObject() {
			pct = cu.Get("percentage").Float()
		}
		if pct >= 100 {
			st.maxTokens = true
		}
		return []Event{{Kind: EventContextUsage, ContextUsage: pct}}, false, nil
	}

	if t := root.Get("__type"); t.Exists() {
		msg := root.Get("message").String()
		return nil, false, &ProtocolError{Reason: fmt.Sprintf("upstream error %s: %s", t.String(), msg)}
	}
	if e := root.Get("error"); e.Exists() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.String()
		}
		return nil, false, &ProtocolError{Reason: "upstream error: " + msg}
	}

	// Unknown event kinds are forward compatible: skip.
	return nil, false, nil
}

// finalizeTool closes one accumulator and yields its ToolUse event.
func (st *streamState) finalizeTool(id string) Event {
	acc := st.tools[id]
	delete(st.tools, id)
	for i, v := range st.toolOrder {
		if v == id {
			st.toolOrder = append(st.toolOrder[:i], st.toolOrder[i+1:]...)
			break
		}
	}
	st.sawToolUse = true
	return Event{Kind: EventToolUse, Tool: &ToolUse{ID: acc.id, Name: acc.name, Args: acc.args.String()}}
}

// finish flushes tool calls the upstream never closed (their args are
// whatever arrived, possibly cut mid-JSON) and appends the terminal
// EventEnd.
func (st *streamState) finish() []Event {
	var evs []Event
	for _, id := range append([]string(nil), st.toolOrder...) {
		evs = append(evs, st.finalizeTool(id))
	}

	stop := StopEndTurn
	switch {
	case st.sawToolUse:
		stop = StopToolUse
	case st.maxTokens:
		stop = StopMaxTokens
	}
	return append(evs, Event{Kind: EventEnd, StopReason: stop})
}
