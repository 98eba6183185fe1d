package auth

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store loads and persists a credential for one source. Load returns
// (nil, nil) when the source simply has nothing, reserving errors for real
// failures such as unreadable files or corrupt rows.
type Store interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
	Source() Source
}

// EnvStore reads the refresh token from the REFRESH_TOKEN environment
// variable. It cannot persist rotations and warns once when asked to.
type EnvStore struct {
	warnOnce sync.Once
}

func (s *EnvStore) Source() Source { return SourceEnv }

func (s *EnvStore) Load(ctx context.Context) (*Credential, error) {
	token := os.Getenv("REFRESH_TOKEN")
	if token == "" {
		return nil, nil
	}
	return &Credential{
		Source:       SourceEnv,
		RefreshToken: token,
	}, nil
}

// Save drops the update. A rotated refresh token that only lived in the
// environment is lost on restart, which the operator needs to know about.
func (s *EnvStore) Save(ctx context.Context, cred *Credential) error {
	s.warnOnce.Do(func() {
		slog.Warn("refresh token rotated but REFRESH_TOKEN env cannot be updated; update the environment before the next restart")
	})
	return nil
}

// Discover walks the credential sources in priority order and returns the
// first credential carrying a refresh token, together with the store it came
// from. SQLite wins over the JSON file, which wins over the environment.
// Unreadable sources are logged and skipped rather than aborting the search.
func Discover(ctx context.Context, cliDBPath, credsFilePath string) (*Credential, Store, error) {
	if cliDBPath != "" {
		path := expandHome(cliDBPath)
		if _, statErr := os.Stat(path); statErr != nil {
			// Opening would create an empty database where the CLI expects
			// to own the file; skip instead.
			slog.Warn("credential database not found, trying next source", "path", cliDBPath)
		} else if store, err := NewSQLiteStore(path); err != nil {
			slog.Warn("cannot open credential database, trying next source", "path", cliDBPath, "error", err)
		} else {
			cred, err := store.Load(ctx)
			switch {
			case err != nil:
				slog.Warn("cannot read credential database, trying next source", "path", cliDBPath, "error", err)
				store.Close()
			case cred != nil && cred.RefreshToken != "":
				return cred, store, nil
			default:
				store.Close()
			}
		}
	}

	if credsFilePath != "" {
		store := NewFileStore(expandHome(credsFilePath))
		cred, err := store.Load(ctx)
		switch {
		case err != nil:
			slog.Warn("cannot read credential file, trying next source", "path", credsFilePath, "error", err)
		case cred != nil && cred.RefreshToken != "":
			return cred, store, nil
		}
	}

	store := &EnvStore{}
	cred, _ := store.Load(ctx)
	if cred != nil {
		return cred, store, nil
	}

	return nil, nil, ErrNoCredential
}

// expandHome resolves a leading ~/ against the current user's home
// directory, matching how the CLI writes its own paths.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
