package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/facelink/internal/apperr"
	"github.com/kozaktomas/facelink/internal/constants"
	"github.com/kozaktomas/facelink/internal/logging"
	"github.com/kozaktomas/facelink/internal/session"
)

// SessionHandler exposes the session state machine.
type SessionHandler struct {
	orch   *session.Orchestrator
	logger *slog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(orch *session.Orchestrator, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		orch:   orch,
		logger: logging.OrDiscard(logger),
	}
}

// Get returns the current session snapshot.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.orch.Snapshot())
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

// SetMode switches the active view.
func (h *SessionHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	mode, err := session.ParseViewMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.orch.SetMode(r.Context(), mode); err != nil {
		h.logger.Warn("entering view failed", "mode", mode, "error", err)
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.orch.Snapshot())
}

// Capture grabs a camera frame and submits it for detection.
func (h *SessionHandler) Capture(w http.ResponseWriter, r *http.Request) {
	result, err := h.orch.CaptureAndSubmit(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Upload submits the multipart "file" field for detection.
func (h *SessionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	h.logger.Info("image uploaded", "filename", sanitizeForLog(header.Filename), "size", len(data))
	result, err := h.orch.UploadAndSubmit(r.Context(), header.Filename, data)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// selectRequest picks a face by exactly one of its fields.
type selectRequest struct {
	Index     *int   `json:"index,omitempty"`
	HistoryID int    `json:"history_id,omitempty"`
	Photo     string `json:"photo,omitempty"`
}

// Select pins a face from the detection result, history or gallery.
func (h *SessionHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var err error
	switch {
	case req.Index != nil && req.HistoryID == 0 && req.Photo == "":
		err = h.orch.SelectDetectedFace(r.Context(), *req.Index)
	case req.Index == nil && req.HistoryID > 0 && req.Photo == "":
		err = h.orch.SelectHistoryEntry(r.Context(), req.HistoryID)
	case req.Index == nil && req.HistoryID == 0 && req.Photo != "":
		err = h.orch.SelectPhoto(r.Context(), req.Photo)
	default:
		respondError(w, http.StatusBadRequest, "exactly one of index, history_id or photo is required")
		return
	}

	if err != nil {
		if selectionRejected(err) {
			respondErr(w, err)
			return
		}
		// The face is pinned; only loading the contacts roster failed.
		h.logger.Warn("contacts load after selection failed", "error", err)
	}
	respondJSON(w, http.StatusOK, h.orch.Snapshot())
}

func selectionRejected(err error) bool {
	return errors.Is(err, session.ErrNoFace) ||
		errors.Is(err, session.ErrClosed) ||
		apperr.IsValidation(err)
}

type linkRequest struct {
	ContactID int `json:"contact_id"`
}

// Link links the selected face to a contact.
func (h *SessionHandler) Link(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ContactID <= 0 {
		respondError(w, http.StatusBadRequest, "contact_id is required")
		return
	}

	ack, err := h.orch.LinkSelected(r.Context(), req.ContactID)
	if err != nil {
		if !errors.Is(err, session.ErrNoSelection) {
			h.logger.Warn("link failed", "contact_id", req.ContactID, "error", err)
		}
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ack)
}

// ClearSelection abandons the pending link.
func (h *SessionHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	h.orch.AbandonLink()
	respondJSON(w, http.StatusOK, h.orch.Snapshot())
}
