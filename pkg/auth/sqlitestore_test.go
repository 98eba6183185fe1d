package auth

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func insertRow(t *testing.T, store *SQLiteStore, key, value string) {
	t.Helper()
	if _, err := store.db.Exec(`INSERT INTO auth_kv (key, value) VALUES (?, ?)`, key, value); err != nil {
		t.Fatal(err)
	}
}

func readRow(t *testing.T, store *SQLiteStore, key string) map[string]interface{} {
	t.Helper()
	var value string
	if err := store.db.QueryRow(`SELECT value FROM auth_kv WHERE key = ?`, key).Scan(&value); err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		t.Fatalf("parse %s: %v", key, err)
	}
	return doc
}

func TestSQLiteStoreLoadEmpty(t *testing.T) {
	store := newTestDB(t)
	cred, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred != nil {
		t.Fatalf("expected no credential, got %+v", cred)
	}
}

func TestSQLiteStoreLoadCLIRows(t *testing.T) {
	store := newTestDB(t)
	insertRow(t, store, "kirocli:odic:token", `{
		"access_token": "at",
		"expires_at": "2030-01-02T03:04:05Z",
		"refresh_token": "rt",
		"region": "eu-west-1",
		"start_url": "https://corp.awsapps.com/start"
	}`)
	// Registration may live under the legacy prefix even when the token
	// does not.
	insertRow(t, store, "codewhisperer:odic:device-registration", `{"client_id":"cid","client_secret":"cs"}`)

	cred, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.RefreshToken != "rt" {
		t.Fatalf("refresh token = %q", cred.RefreshToken)
	}
	if cred.AccessToken != "at" {
		t.Fatalf("access token = %q", cred.AccessToken)
	}
	if cred.ExpiresAt.Year() != 2030 {
		t.Fatalf("expiry = %v", cred.ExpiresAt)
	}
	if cred.Region != "eu-west-1" {
		t.Fatalf("region = %q", cred.Region)
	}
	if cred.ClientID != "cid" || cred.ClientSecret != "cs" {
		t.Fatalf("registration not picked up: %q %q", cred.ClientID, cred.ClientSecret)
	}
	if cred.Provider() != ProviderOIDC {
		t.Fatalf("provider = %q", cred.Provider())
	}
	if cred.Source != SourceSQLite {
		t.Fatalf("source = %q", cred.Source)
	}
}

func TestSQLiteStoreLegacyScopeFallback(t *testing.T) {
	store := newTestDB(t)
	insertRow(t, store, "codewhisperer:odic:token", `{"refresh_token":"rt_legacy"}`)

	cred, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.RefreshToken != "rt_legacy" {
		t.Fatalf("refresh token = %q", cred.RefreshToken)
	}

	// Saves must target the prefix the token was found under.
	cred.AccessToken = "at_new"
	cred.ExpiresAt = time.Now().Add(time.Hour)
	if err := store.Save(context.Background(), cred); err != nil {
		t.Fatalf("save: %v", err)
	}

	doc := readRow(t, store, "codewhisperer:odic:token")
	if doc["access_token"] != "at_new" {
		t.Fatalf("legacy row not updated: %v", doc)
	}
	var missing string
	err = store.db.QueryRow(`SELECT value FROM auth_kv WHERE key = ?`, "kirocli:odic:token").Scan(&missing)
	if err == nil {
		t.Fatalf("save must not create a row under the other prefix, found %q", missing)
	}
}

func TestSQLiteStoreSavePreservesForeignFields(t *testing.T) {
	store := newTestDB(t)
	insertRow(t, store, "kirocli:odic:token", `{"refresh_token":"rt","start_url":"https://corp.awsapps.com/start"}`)

	cred, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	cred.RefreshToken = "rt_rotated"
	cred.AccessToken = "at"
	cred.ExpiresAt = time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := store.Save(context.Background(), cred); err != nil {
		t.Fatalf("save: %v", err)
	}

	doc := readRow(t, store, "kirocli:odic:token")
	if doc["refresh_token"] != "rt_rotated" {
		t.Fatalf("refresh token not updated: %v", doc)
	}
	if doc["access_token"] != "at" {
		t.Fatalf("access token not written: %v", doc)
	}
	if doc["expires_at"] != "2030-01-02T03:04:05Z" {
		t.Fatalf("expires_at = %v", doc["expires_at"])
	}
	if doc["start_url"] != "https://corp.awsapps.com/start" {
		t.Fatalf("field owned by the CLI was dropped: %v", doc)
	}
}

func TestSQLiteStoreSaveWritesRegistration(t *testing.T) {
	store := newTestDB(t)
	cred := &Credential{
		Source:       SourceSQLite,
		RefreshToken: "rt",
		ClientID:     "cid",
		ClientSecret: "cs",
	}
	if err := store.Save(context.Background(), cred); err != nil {
		t.Fatalf("save: %v", err)
	}

	tok := readRow(t, store, "kirocli:odic:token")
	if tok["refresh_token"] != "rt" {
		t.Fatalf("token row = %v", tok)
	}
	reg := readRow(t, store, "kirocli:odic:device-registration")
	if reg["client_id"] != "cid" || reg["client_secret"] != "cs" {
		t.Fatalf("registration row = %v", reg)
	}
}

func TestSQLiteStoreCloseIsIdempotent(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
