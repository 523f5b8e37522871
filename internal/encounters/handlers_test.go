package encounters

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/auth"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

func newTestRouter(f *fixture) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(f.service, 1024, logger.Discard()).RegisterRoutes(router)
	return router
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	req = req.WithContext(auth.WithClaims(req.Context(), &types.UserClaims{Subject: "provider-1"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, fields map[string]string, audio []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if audio != nil {
		part, err := mw.CreateFormFile("audio", "visit.wav")
		require.NoError(t, err)
		_, err = io.Copy(part, bytes.NewReader(audio))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/encounters", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandlers_SubmitEncounter(t *testing.T) {
	f := newFixture(fakePreferences{})
	router := newTestRouter(f)

	rec := serve(router, multipartRequest(t, map[string]string{
		"patientName":  "Jane Doe",
		"noteTemplate": string(types.TemplateGIRPP),
		"jobName":      "visit-42",
	}, []byte("audio bytes")))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var encounter types.Encounter
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&encounter))
	assert.Equal(t, "provider-1", encounter.ProviderID)
	assert.Equal(t, "visit-42", encounter.JobName)
	assert.Equal(t, types.TemplateGIRPP, encounter.NoteTemplate)
	assert.Equal(t, "audio bytes", f.audio.uploaded["provider-1/enc-1.wav"])
}

func TestHandlers_SubmitWithoutAudio(t *testing.T) {
	f := newFixture(fakePreferences{})
	rec := serve(newTestRouter(f), multipartRequest(t, map[string]string{"patientName": "Jane Doe"}, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.jobs.started)
}

func TestHandlers_SubmitNotMultipart(t *testing.T) {
	f := newFixture(fakePreferences{})
	req := httptest.NewRequest(http.MethodPost, "/encounters", bytes.NewReader([]byte(`{"patientName":"x"}`)))
	req.Header.Set("Content-Type", "application/json")

	rec := serve(newTestRouter(f), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_SubmitOversizedAudio(t *testing.T) {
	f := newFixture(fakePreferences{})
	rec := serve(newTestRouter(f), multipartRequest(t, map[string]string{"patientName": "Jane Doe"}, bytes.Repeat([]byte("a"), 2048)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, types.ErrCodeInvalidInput, body.Error.Code)
	assert.EqualValues(t, 1024, body.Error.Details["maxBytes"])
}

func TestHandlers_ListAndGet(t *testing.T) {
	f := newFixture(fakePreferences{})
	router := newTestRouter(f)

	submitted := serve(router, multipartRequest(t, map[string]string{"patientName": "Jane Doe"}, []byte("audio")))
	require.Equal(t, http.StatusAccepted, submitted.Code)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/encounters?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "enc-1", list.Encounters[0].EncounterID)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/encounters/enc-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/encounters/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_ListInvalidLimit(t *testing.T) {
	f := newFixture(fakePreferences{})
	rec := serve(newTestRouter(f), httptest.NewRequest(http.MethodGet, "/encounters?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
