package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// fileCredentials is the JSON shape of the desktop credentials file. Field
// names are camelCase to match what the IDE writes.
type fileCredentials struct {
	RefreshToken string `json:"refreshToken"`
	ProfileARN   string `json:"profileArn,omitempty"`
	Region       string `json:"region,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
}

// FileStore reads and writes the JSON credentials file named by
// KIRO_CREDS_FILE. Writes are atomic so a crash mid-save never leaves a
// truncated file behind.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Source() Source { return SourceFile }

// Path returns the file this store reads and writes.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (*Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var fc fileCredentials
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	if fc.RefreshToken == "" {
		return nil, nil
	}

	cred := &Credential{
		Source:       SourceFile,
		RefreshToken: fc.RefreshToken,
		ClientID:     fc.ClientID,
		ClientSecret: fc.ClientSecret,
		Region:       fc.Region,
		ProfileARN:   fc.ProfileARN,
		AccessToken:  fc.AccessToken,
	}
	if fc.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, fc.ExpiresAt); err == nil {
			cred.ExpiresAt = t
		}
	}
	return cred, nil
}

// Save writes the credential back with its current access token so the next
// process start can skip the initial refresh. The write goes through a temp
// file in the same directory followed by a rename.
func (s *FileStore) Save(ctx context.Context, cred *Credential) error {
	fc := fileCredentials{
		RefreshToken: cred.RefreshToken,
		ProfileARN:   cred.ProfileARN,
		Region:       cred.Region,
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		AccessToken:  cred.AccessToken,
	}
	if !cred.ExpiresAt.IsZero() {
		fc.ExpiresAt = cred.ExpiresAt.UTC().Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("restrict temp credentials file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credentials file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}
