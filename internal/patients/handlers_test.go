package patients

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/auth"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

func newTestRouter() *mux.Router {
	router := mux.NewRouter()
	NewHandlers(newTestService(newMemoryStore()), logger.Discard()).RegisterRoutes(router)
	return router
}

func request(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), &types.UserClaims{Subject: "provider-1"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_CreateAndSearch(t *testing.T) {
	router := newTestRouter()

	created := request(t, router, http.MethodPost, "/patients", `{"patientName":"Jane Doe","medicalRecordNumber":"MRN-1"}`)
	require.Equal(t, http.StatusCreated, created.Code)

	var patient types.Patient
	require.NoError(t, json.NewDecoder(created.Body).Decode(&patient))
	assert.Equal(t, "provider-1", patient.ProviderID)
	assert.True(t, patient.IsActive)

	rec := request(t, router, http.MethodGet, "/patients?q=jane", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)
	assert.False(t, resp.OfferCreate)
	assert.Equal(t, patient.PatientID, resp.Patients[0].PatientID)
}

func TestHandlers_SearchOffersCreate(t *testing.T) {
	router := newTestRouter()

	rec := request(t, router, http.MethodGet, "/patients?q=nobody", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 0, resp.Count)
	assert.True(t, resp.OfferCreate)

	rec = request(t, router, http.MethodGet, "/patients", "")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.OfferCreate)
}

func TestHandlers_InvalidLimit(t *testing.T) {
	router := newTestRouter()

	rec := request(t, router, http.MethodGet, "/patients?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_CreateMissingName(t *testing.T) {
	router := newTestRouter()

	rec := request(t, router, http.MethodPost, "/patients", `{"email":"x@example.org"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_DeleteThenGet(t *testing.T) {
	router := newTestRouter()

	created := request(t, router, http.MethodPost, "/patients", `{"patientName":"Jane Doe"}`)
	var patient types.Patient
	require.NoError(t, json.NewDecoder(created.Body).Decode(&patient))

	del := request(t, router, http.MethodDelete, "/patients/"+patient.PatientID, "")
	require.Equal(t, http.StatusOK, del.Code)

	get := request(t, router, http.MethodGet, "/patients/"+patient.PatientID, "")
	require.Equal(t, http.StatusOK, get.Code)
	var got types.Patient
	require.NoError(t, json.NewDecoder(get.Body).Decode(&got))
	assert.False(t, got.IsActive)

	patch := request(t, router, http.MethodPatch, "/patients/"+patient.PatientID, `{"phone":"555-0100"}`)
	assert.Equal(t, http.StatusConflict, patch.Code)

	missing := request(t, router, http.MethodGet, "/patients/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestHandlers_Recent(t *testing.T) {
	router := newTestRouter()

	request(t, router, http.MethodPost, "/patients", `{"patientName":"Jane Doe"}`)

	rec := request(t, router, http.MethodGet, "/patients/recent?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SearchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)
}
