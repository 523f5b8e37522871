// Package settings reconciles provider preferences between the service
// API and the local mirror
package settings

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/client"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

var (
	_ Remote = (*client.Client)(nil)
	_ Mirror = (*LocalStore)(nil)
)

// Remote is the preferences API
type Remote interface {
	GetPreferences(ctx context.Context, userID string) (*types.PreferencesRecord, error)
	PutPreferences(ctx context.Context, userID string, prefs types.Preferences, expectedVersion *int) (*types.PreferencesRecord, error)
	ResetPreferences(ctx context.Context, userID string) error
}

// Mirror is the local copy of the last known preferences
type Mirror interface {
	LoadMirror(userID string) (*types.Preferences, error)
	SaveMirror(userID string, prefs types.Preferences) error
}

// Store loads and saves preferences remote-first. Successful remote reads
// and every save are mirrored locally; when the remote fails the mirror is
// served instead. Neither Load nor Save returns an error; the last failure
// is kept for LastError.
type Store struct {
	identity IdentitySource
	remote   Remote
	local    Mirror
	logger   *logrus.Entry

	mu      sync.Mutex
	lastErr error
}

// NewStore creates a settings store
func NewStore(identity IdentitySource, remote Remote, local Mirror, log *logrus.Entry) *Store {
	return &Store{identity: identity, remote: remote, local: local, logger: log}
}

// Load returns the current preferences. Every field is populated and no
// renamed template member survives.
func (s *Store) Load(ctx context.Context) types.Preferences {
	userID, err := s.identity.UserID(ctx)
	if err != nil {
		s.fail(err, "Failed to resolve settings identity")
		return types.DefaultPreferences()
	}

	record, err := s.remote.GetPreferences(ctx, userID)
	switch {
	case err == nil:
		prefs := types.Migrate(record.Preferences)
		s.mirror(userID, prefs)
		s.setLastError(nil)
		return prefs
	case types.IsNotFound(err):
		s.setLastError(nil)
		return types.DefaultPreferences()
	}

	s.fail(err, "Remote preferences unavailable, using local copy")
	mirrored, mErr := s.local.LoadMirror(userID)
	if mErr != nil {
		s.logger.WithError(mErr).Warn("Failed to read local preferences")
	}
	if mirrored == nil {
		return types.DefaultPreferences()
	}
	return *mirrored
}

// Save persists prefs remotely and mirrors them locally. It reports whether
// the remote write succeeded. A record that fails validation is rejected
// without touching either store.
func (s *Store) Save(ctx context.Context, prefs types.Preferences) bool {
	prefs = prefs.Normalize()
	if err := prefs.Validate(); err != nil {
		s.fail(err, "Preferences rejected")
		return false
	}

	userID, err := s.identity.UserID(ctx)
	if err != nil {
		s.fail(err, "Failed to resolve settings identity")
		return false
	}

	record, err := s.remote.PutPreferences(ctx, userID, prefs, nil)
	if err != nil {
		s.fail(err, "Failed to save preferences remotely; kept a local copy")
		s.mirror(userID, prefs)
		return false
	}

	s.mirror(userID, record.Preferences)
	s.setLastError(nil)
	return true
}

// DisableTemplate removes t from current and saves the result. Removing
// the last enabled template fails before anything is persisted and current
// is returned unchanged.
func (s *Store) DisableTemplate(ctx context.Context, current types.Preferences, t types.NoteTemplate) (types.Preferences, bool, error) {
	updated, err := current.DisableTemplate(t)
	if err != nil {
		return current, false, err
	}
	return updated, s.Save(ctx, updated), nil
}

// EnableTemplate adds t to current and saves the result
func (s *Store) EnableTemplate(ctx context.Context, current types.Preferences, t types.NoteTemplate) (types.Preferences, bool, error) {
	updated, err := current.EnableTemplate(t)
	if err != nil {
		return current, false, err
	}
	return updated, s.Save(ctx, updated), nil
}

// Reset deletes the remote record and mirrors the defaults. Unlike Save
// it returns the failure, since a reset that only happened locally would
// be undone by the next Load.
func (s *Store) Reset(ctx context.Context) (types.Preferences, error) {
	userID, err := s.identity.UserID(ctx)
	if err != nil {
		s.fail(err, "Failed to resolve settings identity")
		return types.Preferences{}, err
	}

	if err := s.remote.ResetPreferences(ctx, userID); err != nil && !types.IsNotFound(err) {
		s.fail(err, "Failed to reset preferences")
		return types.Preferences{}, err
	}

	defaults := types.DefaultPreferences()
	s.mirror(userID, defaults)
	s.setLastError(nil)
	return defaults, nil
}

// LastError returns the failure of the most recent Load or Save, or nil
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) mirror(userID string, prefs types.Preferences) {
	if err := s.local.SaveMirror(userID, prefs); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to mirror preferences locally")
	}
}

func (s *Store) fail(err error, msg string) {
	s.logger.WithError(err).Warn(msg)
	s.setLastError(err)
}

func (s *Store) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
