package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facelink/internal/apperr"
	"github.com/kozaktomas/facelink/internal/constants"
	"github.com/kozaktomas/facelink/internal/faceapi"
	"github.com/kozaktomas/facelink/internal/gallery"
	"github.com/kozaktomas/facelink/internal/logging"
)

// maxUploadFiles bounds a single gallery upload request.
const maxUploadFiles = 50

// GalleryHandler handles photo gallery endpoints.
type GalleryHandler struct {
	gallery *gallery.Controller
	logger  *slog.Logger
}

// NewGalleryHandler creates a new gallery handler.
func NewGalleryHandler(gc *gallery.Controller, logger *slog.Logger) *GalleryHandler {
	return &GalleryHandler{
		gallery: gc,
		logger:  logging.OrDiscard(logger),
	}
}

// PhotoResponse is a photo with its local blob URL, when resolved.
type PhotoResponse struct {
	faceapi.Photo
	URL string `json:"url,omitempty"`
}

func (h *GalleryHandler) withURLs(photos []faceapi.Photo) []PhotoResponse {
	result := make([]PhotoResponse, 0, len(photos))
	for _, p := range photos {
		u, _ := h.gallery.URL(p.Filename)
		result = append(result, PhotoResponse{Photo: p, URL: u})
	}
	return result
}

// Photos returns the scanned collection.
func (h *GalleryHandler) Photos(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.withURLs(h.gallery.Photos()))
}

type scanRequest struct {
	Directory string `json:"directory"`
}

// ScanResponse is a scan result with the resulting collection.
type ScanResponse struct {
	*faceapi.ScanResult
	Photos []PhotoResponse `json:"photos"`
}

// Scan scans a directory on the server and merges the results.
func (h *GalleryHandler) Scan(w http.ResponseWriter, r *http.Request) {
	h.scan(w, r, h.gallery.Scan)
}

// Rescan drops the cached grouping and scans again.
func (h *GalleryHandler) Rescan(w http.ResponseWriter, r *http.Request) {
	h.scan(w, r, h.gallery.Rescan)
}

func (h *GalleryHandler) scan(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, dir string) (*faceapi.ScanResult, error)) {
	var req scanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := run(r.Context(), req.Directory)
	if err != nil {
		respondErr(w, err)
		return
	}
	h.logger.Info("directory scanned",
		"directory", sanitizeForLog(req.Directory),
		"processed", result.TotalProcessed,
		"errors", result.TotalErrors)
	respondJSON(w, http.StatusOK, ScanResponse{
		ScanResult: result,
		Photos:     h.withURLs(h.gallery.Photos()),
	})
}

// GroupsResponse is the face grouping.
type GroupsResponse struct {
	Groups []faceapi.FaceGroup `json:"groups"`
	Cached bool                `json:"cached"`
}

// Groups returns the face grouping, computing it on first use.
func (h *GalleryHandler) Groups(w http.ResponseWriter, r *http.Request) {
	_, cached := h.gallery.Groups()
	groups, err := h.gallery.Organize(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	if groups == nil {
		groups = []faceapi.FaceGroup{}
	}
	respondJSON(w, http.StatusOK, GroupsResponse{Groups: groups, Cached: cached})
}

// Blob serves the cached photo payload, fetching it on first use.
func (h *GalleryHandler) Blob(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" {
		respondError(w, http.StatusBadRequest, "missing filename")
		return
	}

	if _, err := h.gallery.ResolveURL(r.Context(), filename); err != nil {
		respondErr(w, err)
		return
	}
	blob, ok := h.gallery.Blob(filename)
	if !ok {
		respondError(w, http.StatusNotFound, "photo not cached")
		return
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(blob.Data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(blob.Data)
}

// readUploadedFiles reads the multipart "files" field into upload payloads.
func readUploadedFiles(headers []*multipart.FileHeader) ([]faceapi.File, error) {
	files := make([]faceapi.File, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > constants.MaxUploadSize {
			return nil, apperr.Validation("files", fmt.Sprintf("%s is too large", fh.Filename))
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %s", fh.Filename)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %s", fh.Filename)
		}
		files = append(files, faceapi.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return files, nil
}

// UploadResponse reports uploaded photos and the regrouped collection.
type UploadResponse struct {
	Uploaded []PhotoResponse     `json:"uploaded"`
	Groups   []faceapi.FaceGroup `json:"groups"`
}

// Upload sends photos to the server one at a time and regroups.
func (h *GalleryHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) > maxUploadFiles {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("at most %d files per upload", maxUploadFiles))
		return
	}
	files, err := readUploadedFiles(headers)
	if err != nil {
		respondErr(w, err)
		return
	}

	uploaded, err := h.gallery.Upload(r.Context(), files)
	if err != nil {
		respondErr(w, err)
		return
	}
	groups, _ := h.gallery.Groups()
	respondJSON(w, http.StatusOK, UploadResponse{
		Uploaded: h.withURLs(uploaded),
		Groups:   groups,
	})
}

type linkFaceRequest struct {
	FaceID int `json:"face_id"`
}

// LinkFace records that a photo shows a stored face.
func (h *GalleryHandler) LinkFace(w http.ResponseWriter, r *http.Request) {
	photoID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid photo id")
		return
	}
	var req linkFaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ack, err := h.gallery.LinkPhotoToFace(r.Context(), photoID, req.FaceID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ack)
}
