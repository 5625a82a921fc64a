package faceapi

import (
	"encoding/json"
	"time"
)

// FaceLocation is a face bounding box in pixel offsets of the submitted image.
type FaceLocation struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// DetectedFace is one face found by the detect endpoint.
// ID is filled from the matching stored face record when the server returns one.
type DetectedFace struct {
	ID         int          `json:"id,omitempty"`
	Location   FaceLocation `json:"location"`
	Descriptor string       `json:"features,omitempty"`
}

// DetectionResult is the response of POST /detect-face.
type DetectionResult struct {
	NumFaces    int            `json:"num_faces"`
	Faces       []DetectedFace `json:"faces"`
	StoredFaces []HistoryEntry `json:"stored_faces,omitempty"`
	PhotoID     int            `json:"photo_id,omitempty"`
}

// HistoryEntry is a face detection record persisted by the server.
type HistoryEntry struct {
	ID            int             `json:"id"`
	Timestamp     string          `json:"timestamp"`
	FaceLocation  FaceLocation    `json:"face_location"`
	SearchResults json.RawMessage `json:"search_results,omitempty"`
}

// historyTimeLayouts are the timestamp formats the server has been seen to emit.
var historyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// Time parses the entry timestamp. The zero time is returned if it cannot be parsed.
func (h HistoryEntry) Time() time.Time {
	for _, layout := range historyTimeLayouts {
		if t, err := time.Parse(layout, h.Timestamp); err == nil {
			return t
		}
	}
	return time.Time{}
}

// HasSearchResults reports whether the entry carries non-null search results.
func (h HistoryEntry) HasSearchResults() bool {
	return len(h.SearchResults) > 0 && string(h.SearchResults) != "null"
}

// Contact is a contact record owned by the server.
type Contact struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Address    string `json:"address,omitempty"`
	BirthDate  string `json:"birth_date,omitempty"` // YYYY-MM-DD
	Occupation string `json:"occupation,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// ContactFields are the fields accepted by POST /contacts.
type ContactFields struct {
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Address    string `json:"address,omitempty"`
	BirthDate  string `json:"birth_date,omitempty"`
	Occupation string `json:"occupation,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// contactCreated is the POST /contacts response.
type contactCreated struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}

// Face is a face attached to a scanned photo.
type Face struct {
	ID       int          `json:"id"`
	Location FaceLocation `json:"location"`
}

// Photo is a scanned or grouped photo. Filename is its unique key.
type Photo struct {
	ID            int            `json:"id,omitempty"`
	Filename      string         `json:"filename"`
	Faces         []Face         `json:"faces,omitempty"`
	FacesDetected int            `json:"faces_detected,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ScanError reports a file the server could not process during a scan.
type ScanError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// ScanResult is the response of POST /photos/scan.
type ScanResult struct {
	Results        []Photo     `json:"results"`
	Errors         []ScanError `json:"errors,omitempty"`
	TotalProcessed int         `json:"total_processed"`
	TotalErrors    int         `json:"total_errors"`
}

// FaceGroup is a server-computed cluster of photos sharing an identity.
type FaceGroup struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Photos []Photo `json:"photos"`
}

type organizeResponse struct {
	Groups []FaceGroup `json:"groups"`
}

// Ack is the acknowledgement returned by link endpoints.
type Ack struct {
	Message string `json:"message"`
}

// File is a binary upload sent as the multipart "file" field.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Blob is a fetched binary photo payload.
type Blob struct {
	ContentType string
	Data        []byte
}
