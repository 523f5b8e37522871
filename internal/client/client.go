// Package client is a typed HTTP client for the HealthScribe service API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/server"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

// UserAgent is sent with every request
const UserAgent = "healthscribe-cli"

// ProgressFunc receives the number of audio bytes sent so far and the
// declared total. total is zero when the size is unknown.
type ProgressFunc func(sent, total int64)

// Client calls the service API on behalf of one provider
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logrus.Entry
}

// New creates a client for baseURL. A zero timeout leaves the transport
// defaults in place.
func New(baseURL, token string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  log.WithComponent("api-client"),
	}
}

// SearchResult is the response of a patient search
type SearchResult struct {
	Patients    []types.PatientSummary `json:"patients"`
	Count       int                    `json:"count"`
	OfferCreate bool                   `json:"offerCreate"`
}

// EncounterUpload describes one audio submission
type EncounterUpload struct {
	PatientID    string
	PatientName  string
	JobName      string
	NoteTemplate types.NoteTemplate
	Filename     string
	Size         int64
	Audio        io.Reader
}

type encounterList struct {
	Encounters []types.Encounter `json:"encounters"`
	Count      int               `json:"count"`
}

// preferencesEnvelope keeps the stored preferences raw so absent fields
// can fall back to the defaults
type preferencesEnvelope struct {
	UserID      string          `json:"userId"`
	Preferences json.RawMessage `json:"preferences"`
	Version     int             `json:"version"`
	CreatedAt   string          `json:"createdAt"`
	UpdatedAt   string          `json:"updatedAt"`
}

// GetPreferences fetches the stored record of userID merged over the
// defaults
func (c *Client) GetPreferences(ctx context.Context, userID string) (*types.PreferencesRecord, error) {
	var env preferencesEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/preferences/"+url.PathEscape(userID), nil, &env); err != nil {
		return nil, err
	}
	return env.record()
}

// PutPreferences replaces the stored record of userID. A non-nil
// expectedVersion makes the write conditional.
func (c *Client) PutPreferences(ctx context.Context, userID string, prefs types.Preferences, expectedVersion *int) (*types.PreferencesRecord, error) {
	path := "/preferences/" + url.PathEscape(userID)
	if expectedVersion != nil {
		path += "?expectedVersion=" + strconv.Itoa(*expectedVersion)
	}

	var env preferencesEnvelope
	if err := c.doJSON(ctx, http.MethodPut, path, prefs, &env); err != nil {
		return nil, err
	}
	return env.record()
}

// ResetPreferences deletes the stored record of userID
func (c *Client) ResetPreferences(ctx context.Context, userID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/preferences/"+url.PathEscape(userID), nil, nil)
}

// SearchPatients searches the caller's active patients
func (c *Client) SearchPatients(ctx context.Context, term string, limit int) (*SearchResult, error) {
	q := url.Values{}
	q.Set("q", term)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var result SearchResult
	if err := c.doJSON(ctx, http.MethodGet, "/patients?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreatePatient creates a patient owned by the caller
func (c *Client) CreatePatient(ctx context.Context, fields types.PatientFields) (*types.Patient, error) {
	var patient types.Patient
	if err := c.doJSON(ctx, http.MethodPost, "/patients", fields, &patient); err != nil {
		return nil, err
	}
	return &patient, nil
}

// DeletePatient soft-deletes a patient
func (c *Client) DeletePatient(ctx context.Context, patientID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/patients/"+url.PathEscape(patientID), nil, nil)
}

// ListEncounters lists the caller's encounters, newest first
func (c *Client) ListEncounters(ctx context.Context, limit int) ([]types.Encounter, error) {
	path := "/encounters"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var list encounterList
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Encounters, nil
}

// GetEncounter fetches one encounter with its current job status
func (c *Client) GetEncounter(ctx context.Context, encounterID string) (*types.Encounter, error) {
	var encounter types.Encounter
	if err := c.doJSON(ctx, http.MethodGet, "/encounters/"+url.PathEscape(encounterID), nil, &encounter); err != nil {
		return nil, err
	}
	return &encounter, nil
}

// SubmitEncounter streams the audio as a multipart form. The body is
// produced while the request is sent, so large recordings are never held
// in memory.
func (c *Client) SubmitEncounter(ctx context.Context, upload EncounterUpload, progress ProgressFunc) (*types.Encounter, error) {
	if upload.Audio == nil {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "audio is required", nil)
	}

	pr, pw := io.Pipe()
	defer pr.Close()
	form := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeEncounterForm(form, upload, progress))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/encounters", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var encounter types.Encounter
	if err := c.do(req, &encounter); err != nil {
		return nil, err
	}
	return &encounter, nil
}

func writeEncounterForm(form *multipart.Writer, upload EncounterUpload, progress ProgressFunc) error {
	fields := []struct{ name, value string }{
		{"patientId", upload.PatientID},
		{"patientName", upload.PatientName},
		{"jobName", upload.JobName},
		{"noteTemplate", string(upload.NoteTemplate)},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := form.WriteField(f.name, f.value); err != nil {
			return err
		}
	}

	filename := filepath.Base(upload.Filename)
	if upload.Filename == "" {
		filename = "audio"
	}
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return err
	}

	var body io.Reader = upload.Audio
	if progress != nil {
		body = &progressReader{r: upload.Audio, total: upload.Size, fn: progress}
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return form.Close()
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return types.NewInternalError(types.ErrCodeInternalError, "failed to encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, types.NewInternalError(types.ErrCodeInternalError, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewExternalError(types.ErrCodeExternalError, "request failed", err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"method":      req.Method,
		"path":        req.URL.Path,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("API call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewExternalError(types.ErrCodeExternalError, "malformed response body", err)
	}
	return nil
}

// decodeError maps a non-2xx response onto a ScribeError of the matching
// type, keeping the server's code and message when the body carries them
func decodeError(resp *http.Response) error {
	var body server.ErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &body)

	code, message := body.Error.Code, body.Error.Message
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return types.NewValidationError(orDefault(code, types.ErrCodeInvalidInput), message, body.Error.Details)
	case http.StatusUnauthorized:
		return types.NewAuthenticationError(orDefault(code, types.ErrCodeUnauthorized), message)
	case http.StatusForbidden:
		return types.NewAuthorizationError(orDefault(code, types.ErrCodeForbidden), message)
	case http.StatusNotFound:
		return types.NewNotFoundError(orDefault(code, types.ErrCodeNotFound), message)
	case http.StatusConflict:
		return types.NewConflictError(orDefault(code, types.ErrCodeConflict), message, nil)
	default:
		return types.NewExternalError(orDefault(code, types.ErrCodeExternalError), message,
			fmt.Errorf("status %d", resp.StatusCode))
	}
}

func orDefault(code, fallback string) string {
	if code == "" {
		return fallback
	}
	return code
}

func (e *preferencesEnvelope) record() (*types.PreferencesRecord, error) {
	prefs, err := types.MergeDefaults(e.Preferences)
	if err != nil {
		return nil, types.NewExternalError(types.ErrCodeExternalError, "malformed preferences", err)
	}
	return &types.PreferencesRecord{
		UserID:      e.UserID,
		Preferences: prefs,
		Version:     e.Version,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}, nil
}
