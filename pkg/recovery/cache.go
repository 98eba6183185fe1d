// Package recovery caches truncation context between client turns. When the
// upstream cuts a tool call's arguments or an assistant reply mid-stream,
// the response side records what happened; on the next client turn the
// request side retrieves the record exactly once and injects a synthetic
// acknowledgement so the model can recover. Records live in memory only and
// expire after a TTL; losing them on restart is acceptable.
package recovery

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// DefaultTTL expires records that are never retrieved.
	DefaultTTL = 5 * time.Minute

	// shardCount spreads lock contention; keys hash to a shard.
	shardCount = 16

	// contentKeyRunes is how much of the text feeds the content key. A
	// resent reply matches as long as it shares this prefix, however the
	// tail differs.
	contentKeyRunes = 500

	// previewRunes caps the stored tail excerpt. The tail is where the
	// cut happened, which is what is worth logging.
	previewRunes = 200

	// minTruncationRunes filters short replies that legitimately end
	// without punctuation.
	minTruncationRunes = 1024
)

// Diagnosis describes why tool arguments were judged truncated.
type Diagnosis struct {
	SizeBytes int
	Reason    string
}

// ToolTruncation is one truncated tool call, keyed by its tool-use id.
type ToolTruncation struct {
	ToolUseID string
	Name      string
	Diagnosis Diagnosis
	SavedAt   time.Time
}

// ContentTruncation is one truncated assistant reply, keyed by a hash of
// its leading text.
type ContentTruncation struct {
	Key     string
	Preview string
	SavedAt time.Time
}

// Stats counts live records per kind.
type Stats struct {
	ToolTruncations    int
	ContentTruncations int
}

type shard struct {
	mu      sync.Mutex
	tools   map[string]*ToolTruncation
	content map[string]*ContentTruncation
}

// Record kinds passed to the save hook and used as metric label values.
const (
	KindTool    = "tool"
	KindContent = "content"
)

// Cache is the sharded one-shot truncation store. Every retrieval deletes
// the record it returns.
type Cache struct {
	ttl    time.Duration
	shards [shardCount]*shard
	onSave func(kind string)
}

// NewCache creates a cache; ttl <= 0 takes DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{ttl: ttl}
	for i := range c.shards {
		c.shards[i] = &shard{
			tools:   make(map[string]*ToolTruncation),
			content: make(map[string]*ContentTruncation),
		}
	}
	return c
}

// OnSave registers fn to run after every record save with the record kind,
// KindTool or KindContent. Feeds counters; set before the cache is shared.
func (c *Cache) OnSave(fn func(kind string)) {
	c.onSave = fn
}

func (c *Cache) notify(kind string) {
	if c.onSave != nil {
		c.onSave(kind)
	}
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// SaveToolTruncation records a truncated tool call. A second save for the
// same id overwrites the first.
func (c *Cache) SaveToolTruncation(toolUseID, name string, diag Diagnosis) {
	if toolUseID == "" {
		return
	}
	s := c.shardFor(toolUseID)
	s.mu.Lock()
	s.tools[toolUseID] = &ToolTruncation{
		ToolUseID: toolUseID,
		Name:      name,
		Diagnosis: diag,
		SavedAt:   time.Now(),
	}
	s.mu.Unlock()
	c.notify(KindTool)
}

// TakeToolTruncation retrieves and deletes the record for one tool-use id.
// Expired records are treated as absent.
func (c *Cache) TakeToolTruncation(toolUseID string) (*ToolTruncation, bool) {
	if toolUseID == "" {
		return nil, false
	}
	s := c.shardFor(toolUseID)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tools[toolUseID]
	if !ok {
		return nil, false
	}
	delete(s.tools, toolUseID)
	if time.Since(rec.SavedAt) > c.ttl {
		return nil, false
	}
	return rec, true
}

// SaveContentTruncation records a truncated assistant reply and returns the
// key it was stored under.
func (c *Cache) SaveContentTruncation(text string) string {
	key := contentKey(text)
	s := c.shardFor(key)
	s.mu.Lock()
	s.content[key] = &ContentTruncation{
		Key:     key,
		Preview: tailRunes(text, previewRunes),
		SavedAt: time.Now(),
	}
	s.mu.Unlock()
	c.notify(KindContent)
	return key
}

// TakeContentTruncation retrieves and deletes the record matching the given
// assistant text, if its leading runes hash to a stored key.
func (c *Cache) TakeContentTruncation(text string) (*ContentTruncation, bool) {
	key := contentKey(text)
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.content[key]
	if !ok {
		return nil, false
	}
	delete(s.content, key)
	if time.Since(rec.SavedAt) > c.ttl {
		return nil, false
	}
	return rec, true
}

// Stats reports live record counts across all shards.
func (c *Cache) Stats() Stats {
	var st Stats
	for _, s := range c.shards {
		s.mu.Lock()
		st.ToolTruncations += len(s.tools)
		st.ContentTruncations += len(s.content)
		s.mu.Unlock()
	}
	return st
}

// SweepExpired drops expired records and reports how many were removed.
// Wired to the janitor schedule; retrieval also discards expired records
// lazily, so the sweep only bounds memory.
func (c *Cache) SweepExpired() int {
	cutoff := time.Now().Add(-c.ttl)
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, rec := range s.tools {
			if rec.SavedAt.Before(cutoff) {
				delete(s.tools, k)
				removed++
			}
		}
		for k, rec := range s.content {
			if rec.SavedAt.Before(cutoff) {
				delete(s.content, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// contentKey hashes the leading runes of the text into the 16-hex-char
// cache key.
func contentKey(text string) string {
	sum := sha256.Sum256([]byte(prefixRunes(text, contentKeyRunes)))
	return hex.EncodeToString(sum[:8])
}

// LooksTruncated reports whether assistant text has the shape of an
// upstream cut: long enough to matter and ending without terminal
// punctuation. Callers still check that the stream closed normally and
// carried no tool calls before recording.
func LooksTruncated(text string) bool {
	if utf8.RuneCountInString(text) < minTruncationRunes {
		return false
	}
	trimmed := strings.TrimRight(text, " \t\r\n")
	if trimmed == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	switch last {
	case '.', '!', '?', ':', ';', ')', ']', '}', '"', '\'', '`', '*', '。', '！', '？', '”', '』':
		return false
	}
	return true
}

func prefixRunes(s string, n int) string {
	seen := 0
	for i := range s {
		if seen == n {
			return s[:i]
		}
		seen++
	}
	return s
}

func tailRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[len(runes)-n:])
}
