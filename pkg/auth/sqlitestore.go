package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// scopePrefixes are tried in order when probing auth_kv. Older installs
// keyed rows under codewhisperer, current ones under kirocli.
var scopePrefixes = [2]string{"kirocli", "codewhisperer"}

// The "odic" spelling below is what the CLI actually writes. Do not correct
// it or lookups silently miss.
const (
	tokenKeyPattern        = "%s:odic:token"
	registrationKeyPattern = "%s:odic:device-registration"
)

// sqliteToken is the JSON document stored in the token row. Unlike the
// desktop credentials file these names are snake_case.
type sqliteToken struct {
	AccessToken  string `json:"access_token"`
	ExpiresAt    string `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	Region       string `json:"region"`
}

// sqliteRegistration is the JSON document stored in the device-registration
// row.
type sqliteRegistration struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// SQLiteStore reads and writes credentials in the CLI's auth_kv database.
// The database is shared with the CLI, so writes preserve any fields in the
// stored JSON documents that this process does not understand.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string

	mu    sync.Mutex
	scope string // scope prefix of the token row found at Load

	closeOnce sync.Once

	getStmt *sql.Stmt
	setStmt *sql.Stmt
}

// NewSQLiteStore opens the CLI credential database at dbPath, creating the
// auth_kv table when absent so a fresh database can still accept writes.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		dbPath, int((5 * time.Second).Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		scope:  scopePrefixes[0],
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS auth_kv (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store.getStmt, err = db.Prepare(`SELECT value FROM auth_kv WHERE key = ?`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare get statement: %w", err)
	}
	store.setStmt, err = db.Prepare(`INSERT INTO auth_kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		store.getStmt.Close()
		db.Close()
		return nil, fmt.Errorf("failed to prepare set statement: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Source() Source { return SourceSQLite }

// Load probes the token row under each scope prefix and assembles a
// credential from it plus the device-registration row, which may live under
// a different prefix than the token.
func (s *SQLiteStore) Load(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cred *Credential
	for _, scope := range scopePrefixes {
		raw, err := s.get(ctx, fmt.Sprintf(tokenKeyPattern, scope))
		if err != nil {
			return nil, err
		}
		if raw == "" {
			continue
		}
		var tok sqliteToken
		if err := json.Unmarshal([]byte(raw), &tok); err != nil {
			return nil, fmt.Errorf("parse token row: %w", err)
		}
		if tok.RefreshToken == "" {
			continue
		}

		s.scope = scope
		cred = &Credential{
			Source:       SourceSQLite,
			RefreshToken: tok.RefreshToken,
			Region:       tok.Region,
		}
		// Carry a previously issued access token so startup can skip the
		// first refresh; the manager re-checks expiry before every use.
		if tok.AccessToken != "" && tok.ExpiresAt != "" {
			if t, err := time.Parse(time.RFC3339, tok.ExpiresAt); err == nil {
				cred.AccessToken = tok.AccessToken
				cred.ExpiresAt = t
			}
		}
		break
	}
	if cred == nil {
		return nil, nil
	}

	for _, scope := range scopePrefixes {
		raw, err := s.get(ctx, fmt.Sprintf(registrationKeyPattern, scope))
		if err != nil {
			return nil, err
		}
		if raw == "" {
			continue
		}
		var reg sqliteRegistration
		if err := json.Unmarshal([]byte(raw), &reg); err != nil {
			return nil, fmt.Errorf("parse device registration row: %w", err)
		}
		if reg.ClientID != "" && reg.ClientSecret != "" {
			cred.ClientID = reg.ClientID
			cred.ClientSecret = reg.ClientSecret
			break
		}
	}

	return cred, nil
}

// Save updates the token row, and the device-registration row when the
// credential carries a client registration, in a single transaction. Both
// rows are rewritten read-modify-write so fields owned by the CLI survive.
func (s *SQLiteStore) Save(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	tokenKey := fmt.Sprintf(tokenKeyPattern, s.scope)
	doc, err := s.readDoc(ctx, tx, tokenKey)
	if err != nil {
		return err
	}
	doc["refresh_token"] = cred.RefreshToken
	if cred.AccessToken != "" {
		doc["access_token"] = cred.AccessToken
	}
	if !cred.ExpiresAt.IsZero() {
		doc["expires_at"] = cred.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if cred.Region != "" {
		doc["region"] = cred.Region
	}
	if err := s.writeDoc(ctx, tx, tokenKey, doc); err != nil {
		return err
	}

	if cred.ClientID != "" && cred.ClientSecret != "" {
		regKey := fmt.Sprintf(registrationKeyPattern, s.scope)
		doc, err := s.readDoc(ctx, tx, regKey)
		if err != nil {
			return err
		}
		doc["client_id"] = cred.ClientID
		doc["client_secret"] = cred.ClientSecret
		if err := s.writeDoc(ctx, tx, regKey, doc); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// get returns the value for key, or "" when the row does not exist.
func (s *SQLiteStore) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.getStmt.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %q: %w", key, err)
	}
	return value, nil
}

// readDoc loads the JSON document at key inside tx, or an empty document
// when the row does not exist.
func (s *SQLiteStore) readDoc(ctx context.Context, tx *sql.Tx, key string) (map[string]interface{}, error) {
	var value string
	err := tx.StmtContext(ctx, s.getStmt).QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && value == "") {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		// A corrupt row should not block saving a fresh token.
		return map[string]interface{}{}, nil
	}
	return doc, nil
}

func (s *SQLiteStore) writeDoc(ctx context.Context, tx *sql.Tx, key string, doc map[string]interface{}) error {
	value, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if _, err := tx.StmtContext(ctx, s.setStmt).ExecContext(ctx, key, string(value)); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

// Close releases the prepared statements and the database handle. Safe to
// call more than once.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.getStmt != nil {
			s.getStmt.Close()
		}
		if s.setStmt != nil {
			s.setStmt.Close()
		}
		err = s.db.Close()
	})
	return err
}
