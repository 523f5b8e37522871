package settings

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

const localSchema = `
CREATE TABLE IF NOT EXISTS identity (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	user_id TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS preferences_mirror (
	user_id TEXT PRIMARY KEY,
	preferences TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// LocalStore is the on-device sqlite database holding the anonymous
// identity and the last known preferences per user
type LocalStore struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultLocalStorePath returns the database path under the user config
// directory
func DefaultLocalStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, "healthscribe", "settings.db"), nil
}

// OpenLocalStore opens or creates the database at path
func OpenLocalStore(path string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	// sqlite serialises writers anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(localSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create local schema: %w", err)
	}
	return &LocalStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// Identity returns the persisted anonymous identity, or "" when none has
// been created yet
func (s *LocalStore) Identity() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT user_id FROM identity WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read identity: %w", err)
	}
	return id, nil
}

// SaveIdentity persists id unless an identity already exists. It returns
// the identity in effect afterwards.
func (s *LocalStore) SaveIdentity(id string) (string, error) {
	_, err := s.db.Exec(`INSERT INTO identity (id, user_id, created_at) VALUES (1, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("failed to save identity: %w", err)
	}
	return s.Identity()
}

// LoadMirror returns the mirrored preferences of userID merged over the
// defaults, or nil when nothing was mirrored
func (s *LocalStore) LoadMirror(userID string) (*types.Preferences, error) {
	var raw string
	err := s.db.QueryRow(`SELECT preferences FROM preferences_mirror WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror: %w", err)
	}

	prefs, err := types.MergeDefaults([]byte(raw))
	if err != nil {
		return nil, err
	}
	return &prefs, nil
}

// SaveMirror replaces the mirrored preferences of userID
func (s *LocalStore) SaveMirror(userID string, prefs types.Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode mirror: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO preferences_mirror (user_id, preferences, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET preferences = excluded.preferences, updated_at = excluded.updated_at`,
		userID, string(data), s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write mirror: %w", err)
	}
	return nil
}
