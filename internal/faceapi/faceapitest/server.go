// Package faceapitest provides an in-memory fake of the face detection API
// for tests. It counts calls per route and can be scripted to fail.
package faceapitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facelink/internal/faceapi"
)

// Route keys used by Calls and FailOn.
const (
	RouteDetect        = "POST /detect-face"
	RouteHistory       = "GET /faces"
	RouteLinkFace      = "POST /faces/{id}/link-contact"
	RouteListContacts  = "GET /contacts"
	RouteCreateContact = "POST /contacts"
	RouteScan          = "POST /photos/scan"
	RouteLinkPhoto     = "POST /photos/{id}/link-face"
	RouteOrganize      = "GET /photos/organize"
	RouteFetchPhoto    = "GET /photos/{filename}"
)

type failure struct {
	status  int
	message string
}

// Server is a fake face detection API backed by httptest.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	calls       map[string]int
	failures    map[string]map[int]failure
	detect      faceapi.DetectionResult
	omitStored  bool
	history     []faceapi.HistoryEntry
	contacts    []faceapi.Contact
	links       map[int]int
	photoLinks  map[int]int
	scans       map[string][]faceapi.Photo
	scanErrors  map[string][]faceapi.ScanError
	groups      []faceapi.FaceGroup
	blobs       map[string][]byte
	nextFaceID  int
	nextContact int
	nextPhotoID int
	delay       map[string]time.Duration
	delayOn     map[string]map[int]time.Duration
}

// New starts a fake server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		calls:       make(map[string]int),
		failures:    make(map[string]map[int]failure),
		links:       make(map[int]int),
		photoLinks:  make(map[int]int),
		scans:       make(map[string][]faceapi.Photo),
		scanErrors:  make(map[string][]faceapi.ScanError),
		blobs:       make(map[string][]byte),
		delay:       make(map[string]time.Duration),
		delayOn:     make(map[string]map[int]time.Duration),
		nextFaceID:  1,
		nextContact: 1,
		nextPhotoID: 1,
	}

	mux := http.NewServeMux()
	s.handle(mux, RouteDetect, s.handleDetect)
	s.handle(mux, RouteHistory, s.handleHistory)
	s.handle(mux, RouteLinkFace, s.handleLinkFace)
	s.handle(mux, RouteListContacts, s.handleListContacts)
	s.handle(mux, RouteCreateContact, s.handleCreateContact)
	s.handle(mux, RouteScan, s.handleScan)
	s.handle(mux, RouteLinkPhoto, s.handleLinkPhoto)
	s.handle(mux, RouteOrganize, s.handleOrganize)
	s.handle(mux, RouteFetchPhoto, s.handleFetchPhoto)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// APIURL returns the base URL clients should use.
func (s *Server) APIURL() string {
	return s.URL + "/api"
}

// Client returns a faceapi client pointed at the fake server.
func (s *Server) Client(t testing.TB) *faceapi.Client {
	t.Helper()
	c, err := faceapi.New(s.APIURL())
	if err != nil {
		t.Fatalf("faceapi.New failed: %v", err)
	}
	return c
}

// handle registers a route under /api, counting calls and applying scripted failures.
func (s *Server) handle(mux *http.ServeMux, route string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(route, " ")
	mux.HandleFunc(method+" /api"+path, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		n := s.calls[route]
		f, failing := s.failures[route][n]
		d := s.delay[route]
		if nd, ok := s.delayOn[route][n]; ok {
			d = nd
		}
		s.mu.Unlock()

		if d > 0 {
			time.Sleep(d)
		}
		if failing {
			writeJSON(w, f.status, map[string]string{"error": http.StatusText(f.status), "message": f.message})
			return
		}
		h(w, r)
	})
}

// Calls returns how many requests a route has received.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// FailOn makes the nth call (1-based) of route fail with status and message.
func (s *Server) FailOn(route string, n, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[route] == nil {
		s.failures[route] = make(map[int]failure)
	}
	s.failures[route][n] = failure{status: status, message: message}
}

// Delay makes every call of route sleep before answering.
func (s *Server) Delay(route string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay[route] = d
}

// DelayOn makes only the nth call (1-based) of route sleep before answering.
func (s *Server) DelayOn(route string, n int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delayOn[route] == nil {
		s.delayOn[route] = make(map[int]time.Duration)
	}
	s.delayOn[route][n] = d
}

// SetDetectResult sets the faces returned by the detect endpoint.
// With omitStored the response carries no stored_faces, as older servers do.
func (s *Server) SetDetectResult(locations []faceapi.FaceLocation, omitStored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	faces := make([]faceapi.DetectedFace, 0, len(locations))
	for _, loc := range locations {
		faces = append(faces, faceapi.DetectedFace{Location: loc, Descriptor: "opaque"})
	}
	s.detect = faceapi.DetectionResult{NumFaces: len(faces), Faces: faces}
	s.omitStored = omitStored
}

// AddContact seeds a contact and returns it.
func (s *Server) AddContact(name string) faceapi.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := faceapi.Contact{ID: s.nextContact, Name: name}
	s.nextContact++
	s.contacts = append(s.contacts, c)
	return c
}

// AddHistory seeds a stored face and returns it.
func (s *Server) AddHistory(loc faceapi.FaceLocation) faceapi.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeFaceLocked(loc)
}

// SetScan sets the photos returned when scanning directory.
func (s *Server) SetScan(directory string, photos []faceapi.Photo, errs []faceapi.ScanError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans[directory] = photos
	s.scanErrors[directory] = errs
}

// SetGroups sets the organize response.
func (s *Server) SetGroups(groups []faceapi.FaceGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = groups
}

// SetBlob sets the binary payload served for filename.
func (s *Server) SetBlob(filename string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[filename] = data
}

// Contacts returns a copy of the stored contacts.
func (s *Server) Contacts() []faceapi.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]faceapi.Contact(nil), s.contacts...)
}

// HistoryLen returns the number of stored faces.
func (s *Server) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// LinkedContact returns the contact linked to faceID.
func (s *Server) LinkedContact(faceID int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.links[faceID]
	return id, ok
}

// LinkedFace returns the face linked to photoID.
func (s *Server) LinkedFace(photoID int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.photoLinks[photoID]
	return id, ok
}

func (s *Server) storeFaceLocked(loc faceapi.FaceLocation) faceapi.HistoryEntry {
	entry := faceapi.HistoryEntry{
		ID:           s.nextFaceID,
		Timestamp:    time.Now().UTC().Format("2006-01-02T15:04:05.999999"),
		FaceLocation: loc,
	}
	s.nextFaceID++
	s.history = append(s.history, entry)
	return entry
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation Error", "No file provided")
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		writeError(w, http.StatusBadRequest, "Validation Error", "Unreadable file")
		return
	}

	s.mu.Lock()
	result := faceapi.DetectionResult{NumFaces: s.detect.NumFaces}
	result.Faces = append([]faceapi.DetectedFace(nil), s.detect.Faces...)
	for _, face := range result.Faces {
		stored := s.storeFaceLocked(face.Location)
		if !s.omitStored {
			result.StoredFaces = append(result.StoredFaces, stored)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	history := append([]faceapi.HistoryEntry{}, s.history...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleLinkFace(w http.ResponseWriter, r *http.Request) {
	faceID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found", "face not found")
		return
	}
	var body struct {
		ContactID *int `json:"contact_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ContactID == nil {
		writeError(w, http.StatusBadRequest, "Validation Error", "contact_id is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasFaceLocked(faceID) {
		writeError(w, http.StatusNotFound, "Not Found", "face not found")
		return
	}
	if !s.hasContactLocked(*body.ContactID) {
		writeError(w, http.StatusNotFound, "Not Found", "contact not found")
		return
	}
	s.links[faceID] = *body.ContactID
	writeJSON(w, http.StatusOK, faceapi.Ack{Message: "Face linked to contact successfully"})
}

func (s *Server) hasFaceLocked(id int) bool {
	for _, h := range s.history {
		if h.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) hasContactLocked(id int) bool {
	for _, c := range s.contacts {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	contacts := append([]faceapi.Contact{}, s.contacts...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var fields faceapi.ContactFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil || fields.Name == "" {
		writeError(w, http.StatusBadRequest, "Validation Error", "name is required")
		return
	}

	s.mu.Lock()
	c := faceapi.Contact{
		ID:         s.nextContact,
		Name:       fields.Name,
		Phone:      fields.Phone,
		Email:      fields.Email,
		Address:    fields.Address,
		BirthDate:  fields.BirthDate,
		Occupation: fields.Occupation,
		Notes:      fields.Notes,
	}
	s.nextContact++
	s.contacts = append(s.contacts, c)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"id": c.ID, "message": "Contact created successfully"})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		_, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "Validation Error", "No file provided")
			return
		}
		s.mu.Lock()
		photo := faceapi.Photo{ID: s.nextPhotoID, Filename: header.Filename, FacesDetected: 1}
		s.nextPhotoID++
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, faceapi.ScanResult{Results: []faceapi.Photo{photo}, TotalProcessed: 1})
		return
	}

	var body struct {
		Directory string `json:"directory"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Validation Error", "invalid body")
		return
	}

	s.mu.Lock()
	photos, ok := s.scans[body.Directory]
	errs := s.scanErrors[body.Directory]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Validation Error", "message": "Directory does not exist", "field": "directory",
		})
		return
	}
	writeJSON(w, http.StatusOK, faceapi.ScanResult{
		Results:        photos,
		Errors:         errs,
		TotalProcessed: len(photos),
		TotalErrors:    len(errs),
	})
}

func (s *Server) handleLinkPhoto(w http.ResponseWriter, r *http.Request) {
	photoID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found", "photo not found")
		return
	}
	var body struct {
		FaceID *int `json:"face_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FaceID == nil {
		writeError(w, http.StatusBadRequest, "Validation Error", "face_id is required")
		return
	}
	s.mu.Lock()
	s.photoLinks[photoID] = *body.FaceID
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, faceapi.Ack{Message: "Photo linked to face successfully"})
}

func (s *Server) handleOrganize(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	groups := append([]faceapi.FaceGroup{}, s.groups...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (s *Server) handleFetchPhoto(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	s.mu.Lock()
	data, ok := s.blobs[filename]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "File Processing Error", "message": fmt.Sprintf("Photo not found: %s", filename),
		})
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}
