package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facelink/internal/device"
	"github.com/kozaktomas/facelink/internal/logging"
	"github.com/kozaktomas/facelink/internal/permission"
	"github.com/kozaktomas/facelink/internal/session"
)

// PermissionsHandler resolves the capability gates of a session.
type PermissionsHandler struct {
	gates  map[device.Resource]*permission.Gate
	logger *slog.Logger
}

// NewPermissionsHandler creates a handler over the gates owned by the
// session's capture, contacts and gallery controllers.
func NewPermissionsHandler(orch *session.Orchestrator, logger *slog.Logger) *PermissionsHandler {
	gates := make(map[device.Resource]*permission.Gate)
	for _, g := range []*permission.Gate{
		orch.Capture().Gate(),
		orch.Contacts().Gate(),
		orch.Gallery().Gate(),
	} {
		if g != nil {
			gates[g.Resource()] = g
		}
	}
	return &PermissionsHandler{
		gates:  gates,
		logger: logging.OrDiscard(logger),
	}
}

// PermissionResponse is one gate as seen by the UI.
type PermissionResponse struct {
	permission.Capability
	Prompt *permission.Prompt `json:"prompt,omitempty"`
}

func permissionResponse(g *permission.Gate) PermissionResponse {
	resp := PermissionResponse{Capability: g.Capability()}
	if resp.State == permission.Unresolved {
		p := g.Prompt()
		resp.Prompt = &p
	}
	return resp
}

// List returns every gate, with prompt copy for unresolved ones.
func (h *PermissionsHandler) List(w http.ResponseWriter, r *http.Request) {
	result := make([]PermissionResponse, 0, len(h.gates))
	for _, res := range device.Resources {
		g, ok := h.gates[res]
		if !ok {
			continue
		}
		if _, err := g.Request(r.Context()); err != nil {
			h.logger.Warn("permission check failed", "resource", res, "error", err)
		}
		result = append(result, permissionResponse(g))
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *PermissionsHandler) gate(w http.ResponseWriter, r *http.Request) *permission.Gate {
	res, err := device.ParseResource(chi.URLParam(r, "resource"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	g, ok := h.gates[res]
	if !ok {
		respondError(w, http.StatusNotFound, "resource not managed by this session")
		return nil
	}
	return g
}

// Allow handles the user's allow choice.
func (h *PermissionsHandler) Allow(w http.ResponseWriter, r *http.Request) {
	g := h.gate(w, r)
	if g == nil {
		return
	}
	if err := g.Allow(r.Context()); err != nil {
		// A failed grant side effect (contacts sync) leaves the gate granted.
		if g.State() == permission.Granted {
			h.logger.Warn("grant side effect failed", "resource", g.Resource(), "error", err)
		}
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, permissionResponse(g))
}

// Deny handles the user's deny choice. Denial is terminal for the session.
func (h *PermissionsHandler) Deny(w http.ResponseWriter, r *http.Request) {
	g := h.gate(w, r)
	if g == nil {
		return
	}
	_ = g.Deny()
	respondJSON(w, http.StatusOK, permissionResponse(g))
}
