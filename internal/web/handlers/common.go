package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/facelink/internal/apperr"
	"github.com/kozaktomas/facelink/internal/capture"
	"github.com/kozaktomas/facelink/internal/permission"
	"github.com/kozaktomas/facelink/internal/session"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// Error kinds reported for failures that are not tagged apperr errors.
const (
	kindUnresolved  = "permission_unresolved"
	kindConflict    = "conflict"
	kindNotFound    = "not_found"
	kindUnavailable = "unavailable"
	kindInternal    = "internal"
)

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Field     string `json:"field,omitempty"`
	Resource  string `json:"resource,omitempty"`
	Status    int    `json:"status,omitempty"`
	Succeeded int    `json:"succeeded,omitempty"`
	Attempted int    `json:"attempted,omitempty"`
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends a validation style error response with a fixed message.
func respondError(w http.ResponseWriter, status int, message string) {
	kind := string(apperr.KindValidation)
	if status >= http.StatusInternalServerError {
		kind = kindInternal
	}
	respondJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// respondErr maps err to a status code and error kind and sends it.
func respondErr(w http.ResponseWriter, err error) {
	status, body := describeError(err)
	respondJSON(w, status, body)
}

func describeError(err error) (int, errorResponse) {
	body := errorResponse{Error: apperr.Message(err)}

	if e, ok := apperr.As(err); ok {
		body.Kind = string(e.Kind)
		switch e.Kind {
		case apperr.KindValidation:
			body.Field = e.Field
			return http.StatusBadRequest, body
		case apperr.KindPermissionDenied:
			body.Resource = e.Resource
			return http.StatusForbidden, body
		case apperr.KindPartialBatch:
			body.Error = err.Error()
			body.Succeeded = e.Succeeded
			body.Attempted = e.Attempted
			return http.StatusBadGateway, body
		case apperr.KindTransport:
			body.Status = e.Status
			if e.Class == apperr.ClassClient && e.Status > 0 {
				return e.Status, body
			}
			return http.StatusBadGateway, body
		}
	}

	switch {
	case errors.Is(err, permission.ErrUnresolved):
		body.Kind = kindUnresolved
		body.Error = err.Error()
		return http.StatusPreconditionRequired, body
	case errors.Is(err, session.ErrNoSelection),
		errors.Is(err, session.ErrLinkInFlight),
		errors.Is(err, session.ErrStale):
		body.Kind = kindConflict
		return http.StatusConflict, body
	case errors.Is(err, session.ErrNoFace):
		body.Kind = kindNotFound
		return http.StatusNotFound, body
	case errors.Is(err, session.ErrClosed), errors.Is(err, capture.ErrNoFrame):
		body.Kind = kindUnavailable
		return http.StatusServiceUnavailable, body
	}

	body.Kind = kindInternal
	return http.StatusInternalServerError, body
}

// decodeJSON reads a JSON request body into dst and answers 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
