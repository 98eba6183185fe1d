package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileStoreLoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	cred, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("missing file should not be an error, got %v", err)
	}
	if cred != nil {
		t.Fatalf("expected no credential, got %+v", cred)
	}
}

func TestFileStoreLoadOIDCCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	content := `{
  "refreshToken": "rt",
  "clientId": "c",
  "clientSecret": "s",
  "region": "ap-southeast-1",
  "profileArn": "arn:aws:codewhisperer:us-east-1:1:profile/X"
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cred, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Provider() != ProviderOIDC {
		t.Fatalf("provider = %q, want oidc", cred.Provider())
	}
	if cred.Region != "ap-southeast-1" {
		t.Fatalf("region = %q", cred.Region)
	}
	if cred.ProfileARN == "" {
		t.Fatal("profile ARN not loaded")
	}
	if cred.Source != SourceFile {
		t.Fatalf("source = %q", cred.Source)
	}
}

func TestFileStoreSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	store := NewFileStore(path)

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	saved := &Credential{
		Source:       SourceFile,
		RefreshToken: "rt_rotated",
		Region:       "eu-west-1",
		AccessToken:  "at",
		ExpiresAt:    expiry,
	}
	if err := store.Save(context.Background(), saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("file mode = %o, want 0600", perm)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.RefreshToken != "rt_rotated" {
		t.Fatalf("refresh token = %q", loaded.RefreshToken)
	}
	if loaded.AccessToken != "at" {
		t.Fatalf("access token = %q", loaded.AccessToken)
	}
	if loaded.ExpiresAt.Unix() != expiry.Unix() {
		t.Fatalf("expiry = %v, want %v", loaded.ExpiresAt, expiry)
	}
}

func TestDiscoverPriority(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	dbPath := filepath.Join(dir, "cache.db")
	sqliteStore, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := sqliteStore.Save(ctx, &Credential{RefreshToken: "rt_sql"}); err != nil {
		t.Fatal(err)
	}
	sqliteStore.Close()

	filePath := filepath.Join(dir, "credentials.json")
	if err := os.WriteFile(filePath, []byte(`{"refreshToken":"rt_file"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("REFRESH_TOKEN", "rt_env")

	tests := []struct {
		name       string
		dbPath     string
		filePath   string
		wantToken  string
		wantSource Source
	}{
		{"sqlite wins", dbPath, filePath, "rt_sql", SourceSQLite},
		{"file beats env", "", filePath, "rt_file", SourceFile},
		{"env is the fallback", "", "", "rt_env", SourceEnv},
		{"missing sqlite falls through", filepath.Join(dir, "absent.db"), filePath, "rt_file", SourceFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, store, err := Discover(ctx, tt.dbPath, tt.filePath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if closer, ok := store.(*SQLiteStore); ok {
				defer closer.Close()
			}
			if cred.RefreshToken != tt.wantToken {
				t.Fatalf("token = %q, want %q", cred.RefreshToken, tt.wantToken)
			}
			if cred.Source != tt.wantSource {
				t.Fatalf("source = %q, want %q", cred.Source, tt.wantSource)
			}
			if store.Source() != tt.wantSource {
				t.Fatalf("store source = %q, want %q", store.Source(), tt.wantSource)
			}
		})
	}
}

func TestDiscoverNoCredential(t *testing.T) {
	t.Setenv("REFRESH_TOKEN", "")
	_, _, err := Discover(context.Background(), "", "")
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestEnvStoreSaveIsNonFatal(t *testing.T) {
	store := &EnvStore{}
	if err := store.Save(context.Background(), &Credential{RefreshToken: "rt"}); err != nil {
		t.Fatalf("env save should warn, not fail: %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		in   string
		want string
	}{
		{"~/kiro/cache.db", filepath.Join(home, "kiro/cache.db")},
		{"~", home},
		{"/absolute/path.db", "/absolute/path.db"},
		{"relative.db", "relative.db"},
	}
	for _, tt := range tests {
		if got := expandHome(tt.in); got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
