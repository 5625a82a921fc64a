package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/facelink/internal/apperr"
	"github.com/kozaktomas/facelink/internal/capture"
	"github.com/kozaktomas/facelink/internal/permission"
	"github.com/kozaktomas/facelink/internal/session"
)

func TestRespondJSON(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusCreated, map[string]any{"id": 7, "name": "Ada"})

	if recorder.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d", http.StatusCreated, recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}

	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["id"] != float64(7) || result["name"] != "Ada" {
		t.Errorf("unexpected body %v", result)
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, nil)

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		kind       string
	}{
		{"BadRequest", http.StatusBadRequest, "validation"},
		{"NotFound", http.StatusNotFound, "validation"},
		{"InternalServerError", http.StatusInternalServerError, "internal"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondError(recorder, tc.statusCode, "test error")

			if recorder.Code != tc.statusCode {
				t.Errorf("expected status %d, got %d", tc.statusCode, recorder.Code)
			}
			var body errorResponse
			if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if body.Error != "test error" || body.Kind != tc.kind {
				t.Errorf("unexpected body %+v", body)
			}
		})
	}
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		kind    string
		message string
	}{
		{
			name:    "validation",
			err:     apperr.Validation("name", "Name is required"),
			status:  http.StatusBadRequest,
			kind:    "validation",
			message: "Name is required",
		},
		{
			name:    "permission denied",
			err:     fmt.Errorf("scan: %w", apperr.PermissionDenied("storage", "Storage access is required to manage photos")),
			status:  http.StatusForbidden,
			kind:    "permission_denied",
			message: "Storage access is required to manage photos",
		},
		{
			name:    "transport client",
			err:     apperr.Transport(apperr.ClassClient, http.StatusNotFound, "Face not found", nil),
			status:  http.StatusNotFound,
			kind:    "transport",
			message: "Face not found",
		},
		{
			name:    "transport server",
			err:     apperr.Transport(apperr.ClassServer, http.StatusInternalServerError, "db offline", nil),
			status:  http.StatusBadGateway,
			kind:    "transport",
			message: "db offline",
		},
		{
			name:    "transport network",
			err:     apperr.Transport(apperr.ClassNetwork, 0, "connection refused", nil),
			status:  http.StatusBadGateway,
			kind:    "transport",
			message: "connection refused",
		},
		{
			name:   "partial batch",
			err:    apperr.PartialBatch(1, 2, errors.New("boom")),
			status: http.StatusBadGateway,
			kind:   "partial_batch",
		},
		{
			name:   "unresolved",
			err:    fmt.Errorf("camera: %w", permission.ErrUnresolved),
			status: http.StatusPreconditionRequired,
			kind:   "permission_unresolved",
		},
		{
			name:   "no selection",
			err:    session.ErrNoSelection,
			status: http.StatusConflict,
			kind:   "conflict",
		},
		{
			name:   "no face",
			err:    fmt.Errorf("%w: no history entry 3", session.ErrNoFace),
			status: http.StatusNotFound,
			kind:   "not_found",
		},
		{
			name:   "no frame",
			err:    capture.ErrNoFrame,
			status: http.StatusServiceUnavailable,
			kind:   "unavailable",
		},
		{
			name:   "unknown",
			err:    errors.New("disk full"),
			status: http.StatusInternalServerError,
			kind:   "internal",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := describeError(tc.err)
			if status != tc.status {
				t.Errorf("expected status %d, got %d", tc.status, status)
			}
			if body.Kind != tc.kind {
				t.Errorf("expected kind %q, got %q", tc.kind, body.Kind)
			}
			if tc.message != "" && body.Error != tc.message {
				t.Errorf("expected message %q, got %q", tc.message, body.Error)
			}
		})
	}
}

func TestDescribeError_PartialBatchCounts(t *testing.T) {
	_, body := describeError(apperr.PartialBatch(2, 3, errors.New("boom")))
	if body.Succeeded != 2 || body.Attempted != 3 {
		t.Errorf("expected 2 of 3, got %d of %d", body.Succeeded, body.Attempted)
	}
}

func TestHealthCheck(t *testing.T) {
	recorder := httptest.NewRecorder()
	HealthCheck(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if recorder.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", recorder.Code)
	}
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}
