package handlers

import (
	"log/slog"
	"net/http"

	"github.com/kozaktomas/facelink/internal/contacts"
	"github.com/kozaktomas/facelink/internal/faceapi"
	"github.com/kozaktomas/facelink/internal/logging"
)

// ContactsHandler handles contact roster endpoints.
type ContactsHandler struct {
	contacts *contacts.Controller
	logger   *slog.Logger
}

// NewContactsHandler creates a new contacts handler.
func NewContactsHandler(cc *contacts.Controller, logger *slog.Logger) *ContactsHandler {
	return &ContactsHandler{
		contacts: cc,
		logger:   logging.OrDiscard(logger),
	}
}

// List reloads and returns the roster.
func (h *ContactsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.contacts.List(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	if list == nil {
		list = []faceapi.Contact{}
	}
	respondJSON(w, http.StatusOK, list)
}

// Create creates a contact from the submitted fields.
func (h *ContactsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req faceapi.ContactFields
	if !decodeJSON(w, r, &req) {
		return
	}

	contact, err := h.contacts.Create(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, contact)
}

// SyncResponse reports a device import.
type SyncResponse struct {
	Imported int               `json:"imported"`
	Contacts []faceapi.Contact `json:"contacts"`
}

// Sync imports the device address book.
func (h *ContactsHandler) Sync(w http.ResponseWriter, r *http.Request) {
	imported, err := h.contacts.SyncFromDevice(r.Context())
	if err != nil {
		h.logger.Warn("device contact sync failed", "imported", imported, "error", err)
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, SyncResponse{
		Imported: imported,
		Contacts: h.contacts.Contacts(),
	})
}
