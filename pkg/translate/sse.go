package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// sseWriter serializes Server-Sent Events. Payloads are encoded without
// HTML escaping so multibyte text and tag-like content reach the client
// byte for byte.
type sseWriter struct {
	w     io.Writer
	flush func()
}

func newSSEWriter(w io.Writer) *sseWriter {
	s := &sseWriter{w: w, flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

// encodeJSON marshals v with HTML escaping off, unlike json.Marshal.
func encodeJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// event writes a named event: "event: <name>\ndata: <json>\n\n".
func (s *sseWriter) event(name string, v interface{}) error {
	data, err := encodeJSON(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("failed to write %s event: %w", name, err)
	}
	s.flush()
	return nil
}

// data writes an unnamed event: "data: <json>\n\n".
func (s *sseWriter) data(v interface{}) error {
	payload, err := encodeJSON(v)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE chunk: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write SSE chunk: %w", err)
	}
	s.flush()
	return nil
}

// done writes the OpenAI stream terminator.
func (s *sseWriter) done() error {
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("failed to write SSE done marker: %w", err)
	}
	s.flush()
	return nil
}
