package preferences

import (
	"context"
	"encoding/json"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

// Store defines the persistence operations the service needs
type Store interface {
	Get(ctx context.Context, userID string) (*types.PreferencesRecord, error)
	Put(ctx context.Context, userID string, prefs types.Preferences, expectedVersion *int) (*types.PreferencesRecord, error)
	Delete(ctx context.Context, userID string) error
}

// Service implements the preferences operations
type Service struct {
	store  Store
	logger *logger.Logger
}

// NewService creates a new preferences service
func NewService(store Store, log *logger.Logger) *Service {
	return &Service{store: store, logger: log}
}

// Get returns the stored record for userID
func (s *Service) Get(ctx context.Context, userID string) (*types.PreferencesRecord, error) {
	return s.store.Get(ctx, userID)
}

// Replace validates prefs and stores them as the whole record
func (s *Service) Replace(ctx context.Context, userID string, prefs types.Preferences, expectedVersion *int) (*types.PreferencesRecord, error) {
	prefs = prefs.Normalize()
	if err := prefs.Validate(); err != nil {
		return nil, err
	}

	record, err := s.store.Put(ctx, userID, prefs, expectedVersion)
	if err != nil {
		return nil, err
	}

	s.logger.Audit(userID, "preferences.replace", "preferences", true, map[string]interface{}{"version": record.Version})
	return record, nil
}

// Patch applies the fields present in partial over the stored record, or
// over the defaults when nothing is stored yet
func (s *Service) Patch(ctx context.Context, userID string, partial []byte, expectedVersion *int) (*types.PreferencesRecord, error) {
	current := types.DefaultPreferences()
	existing, err := s.store.Get(ctx, userID)
	switch {
	case err == nil:
		current = existing.Preferences
	case !types.IsNotFound(err):
		return nil, err
	}

	if err := json.Unmarshal(partial, &current); err != nil {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "invalid preferences payload", nil)
	}

	current = current.Normalize()
	if err := current.Validate(); err != nil {
		return nil, err
	}

	record, err := s.store.Put(ctx, userID, current, expectedVersion)
	if err != nil {
		return nil, err
	}

	s.logger.Audit(userID, "preferences.patch", "preferences", true, map[string]interface{}{"version": record.Version})
	return record, nil
}

// Reset deletes the stored record so the defaults apply again
func (s *Service) Reset(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return err
	}
	s.logger.Audit(userID, "preferences.reset", "preferences", true, nil)
	return nil
}
