package encounters

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/auth"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/server"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

// multipart parts above this size are spooled to disk
const maxMemoryBytes = 32 << 20

// API is the service surface the handlers call
type API interface {
	Submit(ctx context.Context, req SubmitRequest) (*types.Encounter, error)
	Get(ctx context.Context, providerID, encounterID string) (*types.Encounter, error)
	List(ctx context.Context, providerID string, limit int) ([]types.Encounter, error)
}

// ListResponse is the body of GET /encounters
type ListResponse struct {
	Encounters []types.Encounter `json:"encounters"`
	Count      int               `json:"count"`
}

// Handlers contains HTTP handlers for the encounter API
type Handlers struct {
	service        API
	maxUploadBytes int64
	logger         *logger.Logger
}

// NewHandlers creates new encounter handlers. Request bodies larger than
// maxUploadBytes plus form overhead are rejected.
func NewHandlers(service API, maxUploadBytes int64, log *logger.Logger) *Handlers {
	return &Handlers{service: service, maxUploadBytes: maxUploadBytes, logger: log}
}

// RegisterRoutes registers the encounter routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/encounters", h.SubmitEncounter).Methods(http.MethodPost)
	router.HandleFunc("/encounters", h.ListEncounters).Methods(http.MethodGet)
	router.HandleFunc("/encounters/{encounterId}", h.GetEncounter).Methods(http.MethodGet)
}

// SubmitEncounter handles POST /encounters as multipart/form-data with an
// audio file part and patientName, patientId, noteTemplate and jobName
// fields
func (h *Handlers) SubmitEncounter(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+maxMemoryBytes)
	}
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			server.WriteErrorCode(w, http.StatusRequestEntityTooLarge, types.ErrCodeInvalidInput, "audio exceeds the maximum upload size", h.logger)
			return
		}
		server.WriteErrorCode(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "invalid multipart form", h.logger)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		server.WriteErrorCode(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "audio file is required", h.logger)
		return
	}
	defer file.Close()

	providerID := auth.ProviderID(r.Context())
	log := h.logger.WithContext(r.Context())
	encounter, err := h.service.Submit(r.Context(), SubmitRequest{
		ProviderID:   providerID,
		PatientID:    r.FormValue("patientId"),
		PatientName:  r.FormValue("patientName"),
		JobName:      r.FormValue("jobName"),
		NoteTemplate: types.NoteTemplate(r.FormValue("noteTemplate")),
		Filename:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Size:         header.Size,
		Audio:        file,
		Progress: func(sent, total int64) {
			if sent == total {
				log.WithField("bytes", sent).Debug("Audio upload complete")
			}
		},
	})
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}
	server.WriteJSON(w, http.StatusAccepted, encounter, h.logger)
}

// ListEncounters handles GET /encounters?limit=
func (h *Handlers) ListEncounters(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			server.WriteErrorCode(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "limit must be a positive integer", h.logger)
			return
		}
		limit = n
	}

	encounters, err := h.service.List(r.Context(), auth.ProviderID(r.Context()), limit)
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}
	server.WriteJSON(w, http.StatusOK, ListResponse{Encounters: encounters, Count: len(encounters)}, h.logger)
}

// GetEncounter handles GET /encounters/{encounterId}
func (h *Handlers) GetEncounter(w http.ResponseWriter, r *http.Request) {
	encounter, err := h.service.Get(r.Context(), auth.ProviderID(r.Context()), mux.Vars(r)["encounterId"])
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}
	server.WriteJSON(w, http.StatusOK, encounter, h.logger)
}
