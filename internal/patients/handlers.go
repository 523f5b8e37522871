package patients

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/auth"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/server"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

// API is the service surface the handlers call
type API interface {
	Search(ctx context.Context, providerID, term string, limit int) ([]types.PatientSummary, error)
	ListRecent(ctx context.Context, providerID string, limit int) ([]types.PatientSummary, error)
	Create(ctx context.Context, providerID string, fields types.PatientFields) (*types.Patient, error)
	Get(ctx context.Context, providerID, patientID string) (*types.Patient, error)
	Update(ctx context.Context, providerID, patientID string, updates *types.PatientUpdates) (*types.Patient, error)
	SoftDelete(ctx context.Context, providerID, patientID string) error
}

// SearchResponse is the body of GET /patients
type SearchResponse struct {
	Patients    []types.PatientSummary `json:"patients"`
	Count       int                    `json:"count"`
	OfferCreate bool                   `json:"offerCreate"`
}

// Handlers contains HTTP handlers for the patient API
type Handlers struct {
	service API
	logger  *logger.Logger
}

// NewHandlers creates new patient handlers
func NewHandlers(service API, log *logger.Logger) *Handlers {
	return &Handlers{service: service, logger: log}
}

// RegisterRoutes registers the patient routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/patients", h.SearchPatients).Methods(http.MethodGet)
	router.HandleFunc("/patients", h.CreatePatient).Methods(http.MethodPost)
	router.HandleFunc("/patients/recent", h.RecentPatients).Methods(http.MethodGet)
	router.HandleFunc("/patients/{patientId}", h.GetPatient).Methods(http.MethodGet)
	router.HandleFunc("/patients/{patientId}", h.UpdatePatient).Methods(http.MethodPatch)
	router.HandleFunc("/patients/{patientId}", h.DeletePatient).Methods(http.MethodDelete)
}

// SearchPatients handles GET /patients?q=&limit=
func (h *Handlers) SearchPatients(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	term := r.URL.Query().Get("q")

	results, err := h.service.Search(r.Context(), auth.ProviderID(r.Context()), term, limit)
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}

	server.WriteJSON(w, http.StatusOK, SearchResponse{
		Patients:    results,
		Count:       len(results),
		OfferCreate: len(results) == 0 && strings.TrimSpace(term) != "",
	}, h.logger)
}

// RecentPatients handles GET /patients/recent
func (h *Handlers) RecentPatients(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}

	results, err := h.service.ListRecent(r.Context(), auth.ProviderID(r.Context()), limit)
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}
	server.WriteJSON(w, http.StatusOK, SearchResponse{Patients: results, Count: len(results)}, h.logger)
}

// CreatePatient handles POST /patients
func (h *Handlers) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var fields types.PatientFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		server.WriteErrorCode(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload", h.logger)
		return
	}

	patient, err := h.service.Create(r.Context(), auth.ProviderID(r.Context()), fields)
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}
	server.WriteJSON(w, http.StatusCreated, patient, h.logger)
}

// GetPatient handles GET /patients/{patientId}
func (h *Handlers) GetPatient(w http.ResponseWriter, r *http.Request) {
	patient, err := h.service.Get(r.Context(), auth.ProviderID(r.Context()), mux.Vars(r)["patientId"])
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}
	server.WriteJSON(w, http.StatusOK, patient, h.logger)
}

// UpdatePatient handles PATCH /patients/{patientId}
func (h *Handlers) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	var updates types.PatientUpdates
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		server.WriteErrorCode(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload", h.logger)
		return
	}

	patient, err := h.service.Update(r.Context(), auth.ProviderID(r.Context()), mux.Vars(r)["patientId"], &updates)
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}
	server.WriteJSON(w, http.StatusOK, patient, h.logger)
}

// DeletePatient handles DELETE /patients/{patientId}
func (h *Handlers) DeletePatient(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SoftDelete(r.Context(), auth.ProviderID(r.Context()), mux.Vars(r)["patientId"]); err != nil {
		server.WriteError(w, err, h.logger)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]string{"message": "patient deactivated"}, h.logger)
}

func (h *Handlers) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultSearchLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		server.WriteErrorCode(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "limit must be a positive integer", h.logger)
		return 0, false
	}
	return ClampLimit(limit), true
}
