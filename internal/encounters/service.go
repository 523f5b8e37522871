// Package encounters implements the encounter submission flow: upload the
// recording, start the transcription job, persist the metadata and hand the
// patient statistics update to the side effect queue.
package encounters

import (
	"context"
	"io"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/sideeffects"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/monitoring"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200

	// SideEffectPatientStats is the side effect kind of the patient
	// statistics update
	SideEffectPatientStats = "patient_stats"
)

var jobNamePattern = regexp.MustCompile(`^[0-9A-Za-z._-]{1,200}$`)

// AudioUploader stores encounter recordings
type AudioUploader interface {
	ObjectKey(providerID, encounterID, filename string) string
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string, progress ProgressFunc) (string, error)
}

// JobRunner starts and polls transcription jobs
type JobRunner interface {
	Start(ctx context.Context, req JobRequest) (*types.JobStatus, error)
	Status(ctx context.Context, jobName string) (*types.JobStatus, error)
}

// Store persists encounter metadata
type Store interface {
	Put(ctx context.Context, encounter *types.Encounter) error
	Get(ctx context.Context, providerID, encounterID string) (*types.Encounter, error)
	ListByProvider(ctx context.Context, providerID string, limit int) ([]types.Encounter, error)
	UpdateStatus(ctx context.Context, providerID, encounterID string, status *types.JobStatus, at time.Time) (*types.Encounter, error)
}

// PreferencesReader returns a provider's stored settings
type PreferencesReader interface {
	Get(ctx context.Context, userID string) (*types.PreferencesRecord, error)
}

// PatientStats updates the patient side of an encounter
type PatientStats interface {
	FindOrCreateByName(ctx context.Context, providerID, name string) (*types.Patient, bool, error)
	RecordEncounter(ctx context.Context, providerID, patientID string, at time.Time) (*types.Patient, error)
}

// TaskQueue accepts best-effort work
type TaskQueue interface {
	Enqueue(task sideeffects.Task)
}

// JobMetrics counts transcription job submissions
type JobMetrics interface {
	RecordTranscriptionJob(noteTemplate, status string)
}

// Dependencies are the collaborators of the submission flow
type Dependencies struct {
	Audio          AudioUploader
	Jobs           JobRunner
	Store          Store
	Preferences    PreferencesReader
	Patients       PatientStats
	SideEffects    TaskQueue
	Metrics        JobMetrics
	Tracing        *monitoring.TracingManager
	MaxUploadBytes int64
}

// SubmitRequest is one recording to transcribe
type SubmitRequest struct {
	ProviderID   string
	PatientID    string
	PatientName  string
	JobName      string
	NoteTemplate types.NoteTemplate
	Filename     string
	ContentType  string
	Size         int64
	Audio        io.Reader
	Progress     ProgressFunc
}

// Service orchestrates encounter submission and lookup
type Service struct {
	deps   Dependencies
	logger *logger.Logger
	now    func() time.Time
	newID  func() string
}

// NewService creates an encounter service
func NewService(deps Dependencies, log *logger.Logger) *Service {
	return &Service{
		deps:   deps,
		logger: log,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Submit runs the submission flow in order: validate, upload, start the
// job, persist, enqueue the patient statistics update. Nothing is retried
// and an uploaded object is left in place when a later step fails.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (_ *types.Encounter, err error) {
	ctx, end := s.span(ctx, "encounters.submit", attribute.String("provider.id", req.ProviderID))
	defer func() { end(err) }()

	prefs := s.preferences(ctx, req.ProviderID)
	if err := s.validate(&req, prefs); err != nil {
		return nil, err
	}

	encounterID := s.newID()
	if req.JobName == "" {
		req.JobName = encounterID
	}
	log := s.logger.WithContext(ctx).WithField("encounter_id", encounterID).WithField("job_name", req.JobName)

	key := s.deps.Audio.ObjectKey(req.ProviderID, encounterID, req.Filename)
	audioURI, err := s.deps.Audio.Upload(ctx, key, req.Audio, req.Size, req.ContentType, req.Progress)
	if err != nil {
		log.WithError(err).Error("Audio upload failed")
		return nil, err
	}

	now := timestamp(s.now())
	encounter := &types.Encounter{
		EncounterID:  encounterID,
		ProviderID:   req.ProviderID,
		PatientID:    req.PatientID,
		PatientName:  req.PatientName,
		JobName:      req.JobName,
		NoteTemplate: req.NoteTemplate,
		Status:       types.EncounterProcessing,
		AudioURI:     audioURI,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	job, err := s.deps.Jobs.Start(ctx, JobRequest{
		JobName:               req.JobName,
		MediaURI:              audioURI,
		NoteTemplate:          req.NoteTemplate,
		MaxSpeakers:           prefs.MaxSpeakers,
		ShowSpeakerLabels:     prefs.ShowSpeakerLabels,
		ChannelIdentification: prefs.ChannelIdentification,
	})
	if err != nil {
		s.recordJob(req.NoteTemplate, types.EncounterFailed)
		encounter.Status = types.EncounterFailed
		encounter.FailureReason = "transcription job could not be started"
		if putErr := s.deps.Store.Put(ctx, encounter); putErr != nil {
			log.WithError(putErr).Warn("Failed to record failed encounter")
		}
		log.WithError(err).Error("Transcription job start failed")
		return nil, err
	}
	s.recordJob(req.NoteTemplate, job.Status)
	encounter.Status = job.Status

	if err := s.deps.Store.Put(ctx, encounter); err != nil {
		log.WithError(err).Error("Failed to store encounter")
		return nil, err
	}

	s.enqueuePatientStats(req, prefs.AutoCreatePatients)
	s.logger.PHIAccess(ctx, req.ProviderID, req.PatientID, "encounters.submit", true)
	log.Info("Encounter submitted")
	return encounter, nil
}

// Get returns an encounter, refreshing its status from the transcription
// service while the job is still running. The stored record is returned
// when the vendor cannot be reached.
func (s *Service) Get(ctx context.Context, providerID, encounterID string) (*types.Encounter, error) {
	if err := requireProvider(providerID); err != nil {
		return nil, err
	}
	encounter, err := s.deps.Store.Get(ctx, providerID, encounterID)
	if err != nil {
		return nil, err
	}
	if encounter.Status.IsTerminal() {
		return encounter, nil
	}

	status, err := s.deps.Jobs.Status(ctx, encounter.JobName)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("encounter_id", encounterID).Warn("Failed to refresh encounter status")
		return encounter, nil
	}
	if status.Status == encounter.Status {
		return encounter, nil
	}

	updated, err := s.deps.Store.UpdateStatus(ctx, providerID, encounterID, status, s.now())
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List returns the most recent encounters of providerID
func (s *Service) List(ctx context.Context, providerID string, limit int) ([]types.Encounter, error) {
	if err := requireProvider(providerID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.deps.Store.ListByProvider(ctx, providerID, limit)
}

func (s *Service) validate(req *SubmitRequest, prefs types.Preferences) error {
	if err := requireProvider(req.ProviderID); err != nil {
		return err
	}
	if req.Audio == nil {
		return types.NewValidationError(types.ErrCodeInvalidInput, "audio is required", nil)
	}
	if s.deps.MaxUploadBytes > 0 && req.Size > s.deps.MaxUploadBytes {
		return types.NewValidationError(types.ErrCodeInvalidInput, "audio exceeds the maximum upload size",
			map[string]interface{}{"maxBytes": s.deps.MaxUploadBytes})
	}

	req.PatientName = strings.TrimSpace(req.PatientName)
	if req.PatientName == "" {
		return types.NewValidationError(types.ErrCodeValidationFailed, "patientName is required", nil)
	}

	req.JobName = strings.TrimSpace(req.JobName)
	if req.JobName != "" && !jobNamePattern.MatchString(req.JobName) {
		return types.NewValidationError(types.ErrCodeValidationFailed,
			"jobName may only contain letters, digits, '.', '_' and '-'", nil)
	}

	if req.NoteTemplate == "" {
		req.NoteTemplate = prefs.DefaultTemplate
	}
	if !req.NoteTemplate.IsKnown() {
		return types.NewValidationError(types.ErrCodeValidationFailed, "unknown note template",
			map[string]interface{}{"noteTemplate": req.NoteTemplate})
	}
	if !slices.Contains(prefs.EnabledTemplates, req.NoteTemplate) {
		return types.NewValidationError(types.ErrCodeValidationFailed, "note template is not enabled",
			map[string]interface{}{"noteTemplate": req.NoteTemplate})
	}
	if !prefs.ShowSpeakerLabels && !prefs.ChannelIdentification {
		return errNoSpeakerPartitioning
	}
	return nil
}

// preferences returns the provider's settings, or the defaults when none
// are stored or the store cannot be read
func (s *Service) preferences(ctx context.Context, providerID string) types.Preferences {
	if s.deps.Preferences == nil || providerID == "" {
		return types.DefaultPreferences()
	}
	record, err := s.deps.Preferences.Get(ctx, providerID)
	if err != nil {
		if !types.IsNotFound(err) {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to read preferences, using defaults")
		}
		return types.DefaultPreferences()
	}
	return record.Preferences
}

// enqueuePatientStats hands the patient update to the side effect queue.
// Without a patient id the patient is looked up by name and created when
// autoCreate is set; otherwise the update is skipped.
func (s *Service) enqueuePatientStats(req SubmitRequest, autoCreate bool) {
	if s.deps.SideEffects == nil || s.deps.Patients == nil {
		return
	}
	if req.PatientID == "" && !autoCreate {
		return
	}

	at := s.now()
	subject := req.PatientID
	if subject == "" {
		subject = req.PatientName
	}

	s.deps.SideEffects.Enqueue(sideeffects.Task{
		Kind:       SideEffectPatientStats,
		ProviderID: req.ProviderID,
		SubjectID:  subject,
		Run: func(ctx context.Context) error {
			patientID := req.PatientID
			if patientID == "" {
				patient, _, err := s.deps.Patients.FindOrCreateByName(ctx, req.ProviderID, req.PatientName)
				if err != nil {
					return err
				}
				patientID = patient.PatientID
			}
			_, err := s.deps.Patients.RecordEncounter(ctx, req.ProviderID, patientID, at)
			return err
		},
	})
}

func (s *Service) recordJob(template types.NoteTemplate, status types.EncounterStatus) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordTranscriptionJob(string(template), string(status))
	}
}

func (s *Service) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if s.deps.Tracing == nil {
		return ctx, func(error) {}
	}
	ctx, span := s.deps.Tracing.StartSpan(ctx, name, attrs...)
	return ctx, func(err error) {
		if err != nil {
			s.deps.Tracing.RecordError(span, err)
		}
		span.End()
	}
}

func requireProvider(providerID string) error {
	if strings.TrimSpace(providerID) == "" {
		return types.NewAuthenticationError(types.ErrCodeUnauthorized, "provider identity is required")
	}
	return nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
