package recovery

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestToolTruncationOneShot(t *testing.T) {
	c := NewCache(0)
	c.SaveToolTruncation("tu_1", "write_file", Diagnosis{SizeBytes: 31, Reason: "unterminated string"})

	rec, ok := c.TakeToolTruncation("tu_1")
	if !ok {
		t.Fatal("first take missed")
	}
	if rec.ToolUseID != "tu_1" || rec.Name != "write_file" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Diagnosis.Reason != "unterminated string" {
		t.Errorf("diagnosis = %+v", rec.Diagnosis)
	}

	if _, ok := c.TakeToolTruncation("tu_1"); ok {
		t.Fatal("second take returned a deleted record")
	}
}

func TestContentTruncationOneShot(t *testing.T) {
	c := NewCache(0)
	text := strings.Repeat("the reply goes on ", 80) + "and then because the"

	key := c.SaveContentTruncation(text)
	if len(key) != 16 {
		t.Fatalf("key = %q, want 16 hex chars", key)
	}

	rec, ok := c.TakeContentTruncation(text)
	if !ok {
		t.Fatal("first take missed")
	}
	if rec.Key != key {
		t.Errorf("record key = %q, want %q", rec.Key, key)
	}
	if rec.Preview == "" || !strings.HasSuffix(rec.Preview, "because the") {
		t.Errorf("preview = %q, want the tail of the text", rec.Preview)
	}

	if _, ok := c.TakeContentTruncation(text); ok {
		t.Fatal("second take returned a deleted record")
	}
}

// Texts sharing their first 500 runes must map to the same key regardless
// of how their tails differ.
func TestContentKeyStability(t *testing.T) {
	prefix := strings.Repeat("a", 500)
	a := prefix + " tail one"
	b := prefix + " a completely different ending"

	c := NewCache(0)
	keyA := c.SaveContentTruncation(a)

	rec, ok := c.TakeContentTruncation(b)
	if !ok {
		t.Fatal("text with an equal prefix did not match")
	}
	if rec.Key != keyA {
		t.Errorf("keys differ: %q vs %q", rec.Key, keyA)
	}

	if keyB := c.SaveContentTruncation(b); keyB != keyA {
		t.Errorf("save keys differ: %q vs %q", keyB, keyA)
	}

	other := strings.Repeat("b", 500) + " tail one"
	if keyOther := c.SaveContentTruncation(other); keyOther == keyA {
		t.Error("different prefixes produced the same key")
	}
}

func TestContentKeyMultiBytePrefix(t *testing.T) {
	prefix := strings.Repeat("世", 500)
	c := NewCache(0)
	keyA := c.SaveContentTruncation(prefix + " one")
	if _, ok := c.TakeContentTruncation(prefix + " two"); !ok {
		t.Error("multi-byte prefix did not match")
	}
	keyB := c.SaveContentTruncation(prefix + " three")
	if keyA != keyB {
		t.Errorf("keys differ for equal rune prefixes: %q vs %q", keyA, keyB)
	}
}

func TestConcurrentTakesReturnEachRecordOnce(t *testing.T) {
	const n = 64
	c := NewCache(0)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.SaveToolTruncation(fmt.Sprintf("tu_%d", i), "tool", Diagnosis{})
		}(i)
	}
	wg.Wait()

	var hits int64
	for i := 0; i < n; i++ {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, ok := c.TakeToolTruncation(fmt.Sprintf("tu_%d", i)); ok {
					atomic.AddInt64(&hits, 1)
				}
			}(i)
		}
	}
	wg.Wait()

	if hits != n {
		t.Errorf("hits = %d, want %d (each record exactly once)", hits, n)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := NewCache(30 * time.Millisecond)
	c.SaveToolTruncation("tu_1", "tool", Diagnosis{})
	c.SaveContentTruncation("some truncated text")

	time.Sleep(50 * time.Millisecond)

	if _, ok := c.TakeToolTruncation("tu_1"); ok {
		t.Error("expired tool record returned")
	}
	if _, ok := c.TakeContentTruncation("some truncated text"); ok {
		t.Error("expired content record returned")
	}
}

func TestSweepExpired(t *testing.T) {
	c := NewCache(30 * time.Millisecond)
	c.SaveToolTruncation("tu_1", "tool", Diagnosis{})
	c.SaveToolTruncation("tu_2", "tool", Diagnosis{})
	c.SaveContentTruncation("text")

	if removed := c.SweepExpired(); removed != 0 {
		t.Errorf("sweep removed %d fresh records", removed)
	}

	time.Sleep(50 * time.Millisecond)
	if removed := c.SweepExpired(); removed != 3 {
		t.Errorf("sweep removed %d, want 3", removed)
	}
	if st := c.Stats(); st.ToolTruncations != 0 || st.ContentTruncations != 0 {
		t.Errorf("stats after sweep = %+v", st)
	}
}

func TestStats(t *testing.T) {
	c := NewCache(0)
	c.SaveToolTruncation("tu_1", "a", Diagnosis{})
	c.SaveToolTruncation("tu_2", "b", Diagnosis{})
	c.SaveContentTruncation("text")

	if st := c.Stats(); st.ToolTruncations != 2 || st.ContentTruncations != 1 {
		t.Fatalf("stats = %+v, want 2 tool / 1 content", st)
	}

	c.TakeToolTruncation("tu_1")
	if st := c.Stats(); st.ToolTruncations != 1 {
		t.Errorf("stats after take = %+v", st)
	}
}

func TestOnSaveHook(t *testing.T) {
	c := NewCache(0)
	var kinds []string
	c.OnSave(func(kind string) { kinds = append(kinds, kind) })

	c.SaveToolTruncation("tu_1", "a", Diagnosis{})
	c.SaveContentTruncation("text")
	c.SaveToolTruncation("", "ignored", Diagnosis{})

	want := []string{KindTool, KindContent}
	if len(kinds) != len(want) {
		t.Fatalf("hook fired %d times (%v), want %d", len(kinds), kinds, len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("hook call %d = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestEmptyToolUseIDIgnored(t *testing.T) {
	c := NewCache(0)
	c.SaveToolTruncation("", "tool", Diagnosis{})
	if st := c.Stats(); st.ToolTruncations != 0 {
		t.Errorf("empty id was stored: %+v", st)
	}
	if _, ok := c.TakeToolTruncation(""); ok {
		t.Error("empty id take hit")
	}
}

func TestLooksTruncated(t *testing.T) {
	long := strings.Repeat("word ", 250)
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"short mid-sentence", "this ends because the", false},
		{"long mid-sentence", long + "and then because the", true},
		{"long mid-word", long + "becau", true},
		{"long with period", long + "done.", false},
		{"long with question mark", long + "done?", false},
		{"long trailing whitespace after period", long + "done.\n\n", false},
		{"long ending code fence", long + "```", false},
		{"long ending cjk stop", long + "完了。", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksTruncated(tt.text); got != tt.want {
				t.Errorf("LooksTruncated = %v, want %v", got, tt.want)
			}
		})
	}
}
