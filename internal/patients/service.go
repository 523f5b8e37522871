package patients

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/monitoring"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 200

	maxCreateAttempts = 3
)

// Store defines the persistence operations used by the service
type Store interface {
	QueryActive(ctx context.Context, providerID string, limit int) ([]types.Patient, error)
	QueryActiveByName(ctx context.Context, providerID, name string) ([]types.Patient, error)
	EachActive(ctx context.Context, providerID string, fn func(types.Patient) bool) error
	ListRecent(ctx context.Context, providerID string, limit int) ([]types.Patient, error)
	Put(ctx context.Context, patient *types.Patient) error
	Get(ctx context.Context, providerID, patientID string) (*types.Patient, error)
	Update(ctx context.Context, providerID, patientID string, updates *types.PatientUpdates, at time.Time) (*types.Patient, error)
	SoftDelete(ctx context.Context, providerID, patientID string, at time.Time) error
	RecordEncounter(ctx context.Context, providerID, patientID string, at time.Time) (*types.Patient, error)
}

// Service implements patient lookup and maintenance for a provider. Every
// read or write of patient records goes through the PHI access middleware.
type Service struct {
	store   Store
	monitor *monitoring.MonitoringMiddleware
	logger  *logger.Logger
	now     func() time.Time
	newID   func() string
}

// NewService creates a new patient service
func NewService(store Store, monitor *monitoring.MonitoringMiddleware, log *logger.Logger) *Service {
	return &Service{
		store:   store,
		monitor: monitor,
		logger:  log,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

func (s *Service) phi(operation string) func(context.Context, *monitoring.PHITarget, func(context.Context) error) error {
	return s.monitor.PHIMiddleware(operation, "patient")
}

// Search returns the active patients of providerID whose name, MRN or
// email contains term. An empty term returns every active candidate.
// At most limit candidates are considered.
func (s *Service) Search(ctx context.Context, providerID, term string, limit int) ([]types.PatientSummary, error) {
	if err := requireProvider(providerID); err != nil {
		return nil, err
	}

	var candidates []types.Patient
	err := s.phi("patients.search")(ctx, &monitoring.PHITarget{ProviderID: providerID}, func(ctx context.Context) error {
		var err error
		candidates, err = s.store.QueryActive(ctx, providerID, ClampLimit(limit))
		return err
	})
	if err != nil {
		return nil, err
	}

	results := make([]types.PatientSummary, 0, len(candidates))
	for i := range candidates {
		p := &candidates[i]
		if p.ProviderID != providerID || !p.IsActive || !p.Matches(term) {
			continue
		}
		results = append(results, p.Summary())
	}
	return results, nil
}

// Create stores a new active patient owned by providerID. A colliding id
// is regenerated a bounded number of times.
func (s *Service) Create(ctx context.Context, providerID string, fields types.PatientFields) (*types.Patient, error) {
	if err := requireProvider(providerID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(fields.PatientName)
	if name == "" {
		return nil, types.NewValidationError(types.ErrCodeValidationFailed, "patientName is required",
			map[string]interface{}{"field": "patientName"})
	}

	now := s.now().UTC().Format(time.RFC3339)
	patient := &types.Patient{
		ProviderID:          providerID,
		PatientName:         name,
		DateOfBirth:         strings.TrimSpace(fields.DateOfBirth),
		MedicalRecordNumber: strings.TrimSpace(fields.MedicalRecordNumber),
		Email:               strings.TrimSpace(fields.Email),
		Phone:               strings.TrimSpace(fields.Phone),
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	target := &monitoring.PHITarget{ProviderID: providerID}
	err := s.phi("patients.create")(ctx, target, func(ctx context.Context) error {
		for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
			patient.PatientID = s.newID()
			err := s.store.Put(ctx, patient)
			if err == nil {
				target.SubjectID = patient.PatientID
				return nil
			}
			if !errors.Is(err, ErrIDCollision) {
				return err
			}
			s.logger.WithContext(ctx).WithField("attempt", attempt).Warn("Patient id collision, regenerating")
		}
		return types.NewConflictError(types.ErrCodeConflict, "could not allocate a unique patient id", ErrIDCollision)
	})
	if err != nil {
		return nil, err
	}
	return patient, nil
}

// Get returns one patient owned by providerID, including inactive ones
func (s *Service) Get(ctx context.Context, providerID, patientID string) (*types.Patient, error) {
	if err := requireProvider(providerID); err != nil {
		return nil, err
	}
	var patient *types.Patient
	err := s.phi("patients.get")(ctx, &monitoring.PHITarget{ProviderID: providerID, SubjectID: patientID}, func(ctx context.Context) error {
		var err error
		patient, err = s.store.Get(ctx, providerID, patientID)
		return err
	})
	return patient, err
}

// Update applies a partial update to an active patient
func (s *Service) Update(ctx context.Context, providerID, patientID string, updates *types.PatientUpdates) (*types.Patient, error) {
	if err := requireProvider(providerID); err != nil {
		return nil, err
	}
	if updates.IsEmpty() {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "no fields to update", nil)
	}
	if updates.PatientName != nil {
		name := strings.TrimSpace(*updates.PatientName)
		if name == "" {
			return nil, types.NewValidationError(types.ErrCodeValidationFailed, "patientName cannot be empty",
				map[string]interface{}{"field": "patientName"})
		}
		updates.PatientName = &name
	}

	var patient *types.Patient
	err := s.phi("patients.update")(ctx, &monitoring.PHITarget{ProviderID: providerID, SubjectID: patientID}, func(ctx context.Context) error {
		var err error
		patient, err = s.store.Update(ctx, providerID, patientID, updates, s.now())
		return err
	})
	return patient, err
}

// SoftDelete hides a patient from search without removing the record
func (s *Service) SoftDelete(ctx context.Context, providerID, patientID string) error {
	if err := requireProvider(providerID); err != nil {
		return err
	}
	return s.phi("patients.delete")(ctx, &monitoring.PHITarget{ProviderID: providerID, SubjectID: patientID}, func(ctx context.Context) error {
		return s.store.SoftDelete(ctx, providerID, patientID, s.now())
	})
}

// RecordEncounter updates the encounter statistics of a patient
func (s *Service) RecordEncounter(ctx context.Context, providerID, patientID string, at time.Time) (*types.Patient, error) {
	if err := requireProvider(providerID); err != nil {
		return nil, err
	}
	return s.store.RecordEncounter(ctx, providerID, patientID, at)
}

// FindOrCreateByName returns the active patient whose name equals name
// ignoring case, creating one when none exists
func (s *Service) FindOrCreateByName(ctx context.Context, providerID, name string) (*types.Patient, bool, error) {
	if err := requireProvider(providerID); err != nil {
		return nil, false, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, types.NewValidationError(types.ErrCodeValidationFailed, "patientName is required", nil)
	}

	existing, err := s.findByName(ctx, providerID, name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	patient, err := s.Create(ctx, providerID, types.PatientFields{PatientName: name})
	if err != nil {
		return nil, false, err
	}
	return patient, true, nil
}

// findByName tries the exact index key first, then walks every active
// patient for a match that differs only in case
func (s *Service) findByName(ctx context.Context, providerID, name string) (*types.Patient, error) {
	exact, err := s.store.QueryActiveByName(ctx, providerID, name)
	if err != nil {
		return nil, err
	}
	for i := range exact {
		if exact[i].ProviderID == providerID && exact[i].IsActive {
			return &exact[i], nil
		}
	}

	var found *types.Patient
	err = s.store.EachActive(ctx, providerID, func(p types.Patient) bool {
		if p.ProviderID == providerID && p.IsActive && strings.EqualFold(p.PatientName, name) {
			found = &p
			return false
		}
		return true
	})
	return found, err
}

// ListRecent returns the most recently seen active patients
func (s *Service) ListRecent(ctx context.Context, providerID string, limit int) ([]types.PatientSummary, error) {
	if err := requireProvider(providerID); err != nil {
		return nil, err
	}
	patients, err := s.store.ListRecent(ctx, providerID, ClampLimit(limit))
	if err != nil {
		return nil, err
	}

	out := make([]types.PatientSummary, 0, len(patients))
	for i := range patients {
		if patients[i].ProviderID == providerID && patients[i].IsActive {
			out = append(out, patients[i].Summary())
		}
	}
	return out, nil
}

// ClampLimit applies the default and maximum search limits
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultSearchLimit
	case limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return limit
	}
}

func requireProvider(providerID string) error {
	if strings.TrimSpace(providerID) == "" {
		return types.NewAuthenticationError(types.ErrCodeUnauthorized, "provider identity is required")
	}
	return nil
}
