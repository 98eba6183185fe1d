package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func currentRefreshToken(m *Manager) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.RefreshToken
}

func startWatcher(t *testing.T, path string) (*Manager, chan error, context.CancelFunc) {
	t.Helper()

	if err := os.WriteFile(path, []byte(`{"refreshToken":"rt-original"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	store := NewFileStore(path)
	cred, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	mgr := NewManager(cred, store, Options{})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- WatchCredsFile(ctx, store, mgr) }()

	// Give the watcher time to register before the file changes.
	time.Sleep(100 * time.Millisecond)
	return mgr, done, cancel
}

func waitForToken(t *testing.T, mgr *Manager, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if currentRefreshToken(mgr) == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("refresh token = %q, want %q after file change", currentRefreshToken(mgr), want)
}

func TestWatchCredsFileReloadsRotatedCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	mgr, done, cancel := startWatcher(t, path)

	if err := os.WriteFile(path, []byte(`{"refreshToken":"rt-rotated"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	waitForToken(t, mgr, "rt-rotated")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WatchCredsFile returned %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("WatchCredsFile did not return after cancel")
	}
}

func TestWatchCredsFileHandlesAtomicRename(t *testing.T) {
	// The IDE saves by writing a temp file and renaming it over the target,
	// which is why the watch is on the directory.
	path := filepath.Join(t.TempDir(), "credentials.json")
	mgr, _, cancel := startWatcher(t, path)
	defer cancel()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(`{"refreshToken":"rt-renamed"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	waitForToken(t, mgr, "rt-renamed")
}

func TestWatchCredsFileIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	mgr, _, cancel := startWatcher(t, path)
	defer cancel()

	sibling := filepath.Join(dir, "other.json")
	if err := os.WriteFile(sibling, []byte(`{"refreshToken":"rt-wrong"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	// Longer than the debounce window; a reload would have landed by now.
	time.Sleep(600 * time.Millisecond)
	if got := currentRefreshToken(mgr); got != "rt-original" {
		t.Errorf("refresh token = %q, want untouched %q", got, "rt-original")
	}
}
