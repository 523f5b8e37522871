package preferences

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/auth"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/server"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

const maxBodyBytes = 64 << 10

// API is the service surface the handlers call
type API interface {
	Get(ctx context.Context, userID string) (*types.PreferencesRecord, error)
	Replace(ctx context.Context, userID string, prefs types.Preferences, expectedVersion *int) (*types.PreferencesRecord, error)
	Patch(ctx context.Context, userID string, partial []byte, expectedVersion *int) (*types.PreferencesRecord, error)
	Reset(ctx context.Context, userID string) error
}

// Handlers contains HTTP handlers for the preferences API
type Handlers struct {
	service API
	logger  *logger.Logger
}

// NewHandlers creates new preferences handlers
func NewHandlers(service API, log *logger.Logger) *Handlers {
	return &Handlers{service: service, logger: log}
}

// RegisterRoutes registers the preferences routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/preferences/{userId}", h.GetPreferences).Methods(http.MethodGet)
	router.HandleFunc("/preferences/{userId}", h.PutPreferences).Methods(http.MethodPut)
	router.HandleFunc("/preferences/{userId}", h.PatchPreferences).Methods(http.MethodPatch)
	router.HandleFunc("/preferences/{userId}", h.DeletePreferences).Methods(http.MethodDelete)
}

// GetPreferences handles GET /preferences/{userId}
func (h *Handlers) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	record, err := h.service.Get(r.Context(), userID)
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}
	server.WriteJSON(w, http.StatusOK, record, h.logger)
}

// PutPreferences handles PUT /preferences/{userId}
func (h *Handlers) PutPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	expected, err := expectedVersion(r)
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		server.WriteErrorCode(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid request body", h.logger)
		return
	}
	prefs := types.DefaultPreferences()
	if err := json.Unmarshal(body, &prefs); err != nil {
		server.WriteErrorCode(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload", h.logger)
		return
	}

	record, err := h.service.Replace(r.Context(), userID, prefs, expected)
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}
	server.WriteJSON(w, http.StatusOK, record, h.logger)
}

// PatchPreferences handles PATCH /preferences/{userId}
func (h *Handlers) PatchPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	expected, err := expectedVersion(r)
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || !json.Valid(body) {
		server.WriteErrorCode(w, http.StatusBadRequest, types.ErrCodeInvalidInput, "Invalid JSON payload", h.logger)
		return
	}

	record, err := h.service.Patch(r.Context(), userID, body, expected)
	if err != nil {
		server.WriteError(w, err, h.logger)
		return
	}
	server.WriteJSON(w, http.StatusOK, record, h.logger)
}

// DeletePreferences handles DELETE /preferences/{userId}
func (h *Handlers) DeletePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.service.Reset(r.Context(), userID); err != nil {
		server.WriteError(w, err, h.logger)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]string{"message": "preferences reset"}, h.logger)
}

// authorize returns the path user id when it belongs to the caller
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	subject := auth.ProviderID(r.Context())
	if subject == "" {
		server.WriteErrorCode(w, http.StatusUnauthorized, types.ErrCodeUnauthorized, "User ID not found in request", h.logger)
		return "", false
	}

	userID := mux.Vars(r)["userId"]
	if userID != subject {
		h.logger.WithContext(r.Context()).WithField("path_user_id", userID).Warn("Preferences access for another user rejected")
		server.WriteErrorCode(w, http.StatusForbidden, types.ErrCodeForbidden, "Cannot access another user's preferences", h.logger)
		return "", false
	}
	return userID, true
}

// expectedVersion reads the optional compare-and-set version from the
// expectedVersion query parameter or an If-Match header
func expectedVersion(r *http.Request) (*int, error) {
	raw := r.URL.Query().Get("expectedVersion")
	if raw == "" {
		raw = strings.Trim(strings.TrimPrefix(r.Header.Get("If-Match"), "W/"), `"`)
	}
	if raw == "" {
		return nil, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "expectedVersion must be a non-negative integer", nil)
	}
	return &v, nil
}
