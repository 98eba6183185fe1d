package auth

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events an editor or atomic rename
// produces into one reload.
const watchDebounce = 250 * time.Millisecond

// WatchCredsFile watches the credentials file and swaps updated credentials
// into the manager, so a re-login in the IDE takes effect without a restart.
// The parent directory is watched because saves replace the file by rename,
// which would orphan a watch on the file itself. Blocks until ctx is done.
func WatchCredsFile(ctx context.Context, store *FileStore, mgr *Manager) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create credentials watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(store.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	slog.Info("watching credentials file", "path", store.Path())

	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	target := filepath.Clean(store.Path())
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("credentials watcher closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(watchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("credentials watcher closed")
			}
			slog.Warn("credentials watcher error", "error", err)

		case <-debounce.C:
			cred, err := store.Load(ctx)
			if err != nil {
				slog.Warn("credentials file changed but could not be read", "error", err)
				continue
			}
			if cred == nil {
				continue
			}
			if mgr.ReplaceCredential(cred) {
				slog.Info("credentials reloaded from file")
			}
		}
	}
}
