package session

import (
	"fmt"
	"strings"

	"github.com/kozaktomas/facelink/internal/faceapi"
)

// ViewMode is the active top-level view.
type ViewMode string

// View modes.
const (
	ModeCapture  ViewMode = "capture"
	ModeHistory  ViewMode = "history"
	ModeContacts ViewMode = "contacts"
	ModeGallery  ViewMode = "gallery"
)

// ParseViewMode parses a view mode name.
func ParseViewMode(s string) (ViewMode, error) {
	m := ViewMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeCapture, ModeHistory, ModeContacts, ModeGallery:
		return m, nil
	default:
		return "", fmt.Errorf("unknown view mode %q", s)
	}
}

// Processing is the detection sub-state.
type Processing string

// Processing states.
const (
	Idle      Processing = "idle"
	Detecting Processing = "detecting"
)

// DetectPolicy decides what happens when detections overlap.
type DetectPolicy string

// Detect policies.
const (
	// AcceptLast applies every result in arrival order; the last to resolve wins.
	AcceptLast DetectPolicy = "accept-last"
	// RejectStale applies only the result of the most recently issued detection.
	RejectStale DetectPolicy = "reject-stale"
)

// ParseDetectPolicy parses a policy name. Empty means RejectStale.
func ParseDetectPolicy(s string) (DetectPolicy, error) {
	switch p := DetectPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return RejectStale, nil
	case AcceptLast, RejectStale:
		return p, nil
	default:
		return "", fmt.Errorf("unknown detect policy %q (want accept-last or reject-stale)", s)
	}
}

// FaceSource tells where a selected face came from.
type FaceSource string

// Face sources.
const (
	SourceDetection FaceSource = "detection"
	SourceHistory   FaceSource = "history"
	SourceGallery   FaceSource = "gallery"
)

// SelectedFace is the face carried into the contacts view for linking.
// It refers to a stored face by id and does not own it.
type SelectedFace struct {
	ID       int                  `json:"id"`
	Location faceapi.FaceLocation `json:"location"`
	Source   FaceSource           `json:"source"`
	Photo    string               `json:"photo,omitempty"`
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	Mode         ViewMode                 `json:"mode"`
	Processing   Processing               `json:"processing"`
	Selected     *SelectedFace            `json:"selected,omitempty"`
	Detection    *faceapi.DetectionResult `json:"detection,omitempty"`
	DetectError  string                   `json:"detect_error,omitempty"`
	History      []faceapi.HistoryEntry   `json:"history"`
	HistoryError string                   `json:"history_error,omitempty"`
	Linking      bool                     `json:"linking"`
	LinkError    string                   `json:"link_error,omitempty"`
	Policy       DetectPolicy             `json:"policy"`
}
