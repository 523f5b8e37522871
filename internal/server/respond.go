package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
	Timestamp string `json:"timestamp"`
}

// WriteJSON writes data with status
func WriteJSON(w http.ResponseWriter, status int, data interface{}, log *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil && log != nil {
		log.WithError(err).Error("Failed to encode JSON response")
	}
}

// WriteErrorCode writes an error response with an explicit status and code
func WriteErrorCode(w http.ResponseWriter, status int, code, message string, log *logger.Logger) {
	var body ErrorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Timestamp = time.Now().UTC().Format(time.RFC3339)
	WriteJSON(w, status, body, log)
}

// WriteError maps err to a status and writes it. Errors that are not a
// ScribeError are reported as internal without leaking their text.
func WriteError(w http.ResponseWriter, err error, log *logger.Logger) {
	var se *types.ScribeError
	if !errors.As(err, &se) {
		if log != nil {
			log.WithError(err).Error("Unhandled error")
		}
		WriteErrorCode(w, http.StatusInternalServerError, types.ErrCodeInternalError, "internal error", log)
		return
	}

	status := se.HTTPStatus()
	if status >= http.StatusInternalServerError && log != nil {
		log.WithError(err).WithField("code", se.Code).Error("Request failed")
	}

	var body ErrorBody
	body.Error.Code = se.Code
	body.Error.Message = se.Message
	if se.Type == types.ErrorTypeValidation || se.Type == types.ErrorTypeConflict {
		body.Error.Details = se.Details
	}
	body.Timestamp = time.Now().UTC().Format(time.RFC3339)
	WriteJSON(w, status, body, log)
}
