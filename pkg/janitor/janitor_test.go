package janitor

import (
	"context"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/recovery"
)

func TestSweepDropsExpiredRecords(t *testing.T) {
	cache := recovery.NewCache(time.Millisecond)
	cache.SaveToolTruncation("tool-1", "search", recovery.Diagnosis{
		SizeBytes: 90000, Reason: "unterminated string",
	})
	cache.SaveContentTruncation("a long response that was cut mid sentence")
	time.Sleep(20 * time.Millisecond)

	j := New(cache, nil, nil)
	j.sweep()

	st := cache.Stats()
	if st.ToolTruncations != 0 || st.ContentTruncations != 0 {
		t.Errorf("records after sweep = %+v, want empty", st)
	}
}

func TestSweepKeepsLiveRecords(t *testing.T) {
	cache := recovery.NewCache(time.Hour)
	cache.SaveToolTruncation("tool-1", "search", recovery.Diagnosis{Reason: "missing brace"})

	j := New(cache, nil, nil)
	j.sweep()

	if st := cache.Stats(); st.ToolTruncations != 1 {
		t.Errorf("live record swept: %+v", st)
	}
}

func TestLifecycle(t *testing.T) {
	j := New(recovery.NewCache(0), nil, nil)
	if j.IsRunning() {
		t.Fatal("janitor claims to run before Start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := j.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !j.IsRunning() {
		t.Fatal("janitor not running after Start")
	}
	if j.NextRun().IsZero() {
		t.Error("no sweep scheduled")
	}

	// Starting twice is a no-op, not an error.
	if err := j.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for j.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if j.IsRunning() {
		t.Fatal("janitor still running after context cancel")
	}

	// Stop after stop stays quiet.
	j.Stop()
}
