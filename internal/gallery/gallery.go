// Package gallery maintains the scanned photo collection, the memoized
// face grouping and the local URL cache for photo payloads.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kozaktomas/facelink/internal/apperr"
	"github.com/kozaktomas/facelink/internal/device"
	"github.com/kozaktomas/facelink/internal/faceapi"
	"github.com/kozaktomas/facelink/internal/logging"
	"github.com/kozaktomas/facelink/internal/permission"
)

// ErrNoFaces is returned when a selected photo has no detected face.
var ErrNoFaces = errors.New("photo has no detected faces")

// API is the subset of the remote client the controller uses.
type API interface {
	ScanDirectory(ctx context.Context, directory string) (*faceapi.ScanResult, error)
	ScanFile(ctx context.Context, file faceapi.File) (*faceapi.ScanResult, error)
	LinkPhotoToFace(ctx context.Context, photoID, faceID int) (*faceapi.Ack, error)
	OrganizePhotos(ctx context.Context) ([]faceapi.FaceGroup, error)
	FetchPhoto(ctx context.Context, filename string) (*faceapi.Blob, error)
}

// ProgressFunc is called after each uploaded file.
type ProgressFunc func(done, total int)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithStore sets the blob store. The default is an in-memory store.
func WithStore(s BlobStore) Option {
	return func(c *Controller) { c.store = s }
}

// WithProgress sets the upload progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Controller) { c.progress = fn }
}

// Controller owns the photo collection and the storage permission gate.
type Controller struct {
	api      API
	gate     *permission.Gate
	store    BlobStore
	progress ProgressFunc
	logger   *slog.Logger

	mu          sync.Mutex
	photos      []faceapi.Photo
	index       map[string]int
	urls        map[string]string
	groups      []faceapi.FaceGroup
	groupsValid bool
	err         error
	gen         uint64
	mounted     bool
}

// New creates a mounted gallery controller.
func New(api API, provider device.Provider, opts ...Option) *Controller {
	c := &Controller{
		api:     api,
		index:   make(map[string]int),
		urls:    make(map[string]string),
		mounted: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	c.gate = permission.NewGate(device.Storage, provider, permission.WithLogger(c.logger))
	return c
}

// Gate returns the storage permission gate.
func (c *Controller) Gate() *permission.Gate {
	return c.gate
}

// Mount marks the view active and resolves an existing storage grant.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if !c.mounted {
		c.mounted = true
		c.gen++
	}
	c.mu.Unlock()

	if _, err := c.gate.Request(ctx); err != nil {
		return c.fail(c.generation(), err)
	}
	return nil
}

// Unmount marks the view inactive; late results are discarded.
func (c *Controller) Unmount() {
	c.mu.Lock()
	c.mounted = false
	c.gen++
	c.mu.Unlock()
	c.gate.Reset()
}

// Close releases the blob store.
func (c *Controller) Close() error {
	return c.store.Close()
}

func (c *Controller) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// current must be called with c.mu held.
func (c *Controller) current(gen uint64) bool {
	return c.mounted && c.gen == gen
}

func (c *Controller) fail(gen uint64, err error) error {
	c.mu.Lock()
	if c.current(gen) {
		c.err = err
	}
	c.mu.Unlock()
	return err
}

// Err returns the error shown in the gallery area, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// ClearError dismisses the current error.
func (c *Controller) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = nil
}

// Photos returns a copy of the collection in scan order.
func (c *Controller) Photos() []faceapi.Photo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]faceapi.Photo(nil), c.photos...)
}

// Groups returns the memoized grouping and whether it has been computed.
func (c *Controller) Groups() ([]faceapi.FaceGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]faceapi.FaceGroup(nil), c.groups...), c.groupsValid
}

// Scan asks the server to scan directory and appends the results to the
// collection. Photos already known by filename are updated in place.
// Per-file scan errors are returned in the result without failing the call.
func (c *Controller) Scan(ctx context.Context, directory string) (*faceapi.ScanResult, error) {
	gen := c.generation()
	if err := c.gate.Require(); err != nil {
		return nil, c.fail(gen, err)
	}
	directory = strings.TrimSpace(directory)
	if directory == "" {
		return nil, c.fail(gen, apperr.Validation("directory", "Please select a directory to scan"))
	}

	result, err := c.api.ScanDirectory(ctx, directory)
	if err != nil {
		return nil, c.fail(gen, fmt.Errorf("failed to scan photos: %w", err))
	}
	c.logScanErrors(result)

	added := c.merge(gen, result.Results)
	c.resolveAll(ctx, added)
	return result, nil
}

// Rescan invalidates the grouping and scans directory again. The next
// Organize call recomputes the groups.
func (c *Controller) Rescan(ctx context.Context, directory string) (*faceapi.ScanResult, error) {
	c.InvalidateGroups()
	return c.Scan(ctx, directory)
}

// InvalidateGroups drops the memoized grouping.
func (c *Controller) InvalidateGroups() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups = nil
	c.groupsValid = false
}

// Upload sends each file to the server for scanning, one at a time, and then
// regroups. It stops at the first failing file.
func (c *Controller) Upload(ctx context.Context, files []faceapi.File) ([]faceapi.Photo, error) {
	gen := c.generation()
	if err := c.gate.Require(); err != nil {
		return nil, c.fail(gen, err)
	}
	if len(files) == 0 {
		return nil, c.fail(gen, apperr.Validation("files", "Please select photos to upload"))
	}

	var uploaded []faceapi.Photo
	for i, f := range files {
		result, err := c.api.ScanFile(ctx, f)
		if err != nil {
			batchErr := apperr.PartialBatch(i, i+1, err)
			return uploaded, c.fail(gen, fmt.Errorf("failed to process photos: %w", batchErr))
		}
		c.logScanErrors(result)
		uploaded = append(uploaded, result.Results...)
		c.resolveAll(ctx, c.merge(gen, result.Results))
		if c.progress != nil {
			c.progress(i+1, len(files))
		}
	}

	c.InvalidateGroups()
	if _, err := c.Organize(ctx); err != nil {
		return uploaded, err
	}
	return uploaded, nil
}

func (c *Controller) logScanErrors(result *faceapi.ScanResult) {
	for _, e := range result.Errors {
		c.logger.Warn("photo not processed", "filename", e.Filename, "error", e.Error)
	}
}

// merge adds photos to the collection and returns the filenames that were new.
func (c *Controller) merge(gen uint64, photos []faceapi.Photo) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(gen) {
		return nil
	}

	var added []string
	for _, p := range photos {
		if i, ok := c.index[p.Filename]; ok {
			c.photos[i] = p
			continue
		}
		c.index[p.Filename] = len(c.photos)
		c.photos = append(c.photos, p)
		added = append(added, p.Filename)
	}
	return added
}

func (c *Controller) resolveAll(ctx context.Context, filenames []string) {
	for _, name := range filenames {
		if _, err := c.ResolveURL(ctx, name); err != nil {
			c.logger.Warn("failed to resolve photo url", "filename", name, "error", err)
		}
	}
}

// Organize returns the face grouping, computing it once. The result stays
// cached until Rescan or Upload invalidates it.
func (c *Controller) Organize(ctx context.Context) ([]faceapi.FaceGroup, error) {
	gen := c.generation()
	c.mu.Lock()
	if c.groupsValid {
		groups := append([]faceapi.FaceGroup(nil), c.groups...)
		c.mu.Unlock()
		return groups, nil
	}
	c.mu.Unlock()

	groups, err := c.api.OrganizePhotos(ctx)
	if err != nil {
		return nil, c.fail(gen, fmt.Errorf("failed to organize photos: %w", err))
	}

	c.mu.Lock()
	if c.current(gen) {
		c.groups = append([]faceapi.FaceGroup(nil), groups...)
		c.groupsValid = true
	}
	c.mu.Unlock()
	return groups, nil
}

// ResolveURL returns a local URL for the photo payload, fetching it at most
// once per filename. Concurrent first calls for one filename may both fetch;
// the last to finish wins.
func (c *Controller) ResolveURL(ctx context.Context, filename string) (string, error) {
	if u, ok := c.URL(filename); ok {
		return u, nil
	}

	blob, err := c.api.FetchPhoto(ctx, filename)
	if err != nil {
		return "", fmt.Errorf("fetch photo %s: %w", filename, err)
	}
	u, err := c.store.Put(filename, blob)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.urls[filename] = u
	c.mu.Unlock()
	return u, nil
}

// URL returns the cached URL for filename.
func (c *Controller) URL(filename string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.urls[filename]
	return u, ok
}

// Blob returns the cached payload for filename.
func (c *Controller) Blob(filename string) (*faceapi.Blob, bool) {
	if _, ok := c.URL(filename); !ok {
		return nil, false
	}
	return c.store.Get(filename)
}

// FindPhoto looks a photo up by filename in the collection and then in the groups.
func (c *Controller) FindPhoto(filename string) (faceapi.Photo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.index[filename]; ok {
		return c.photos[i], true
	}
	for _, g := range c.groups {
		for _, p := range g.Photos {
			if p.Filename == filename {
				return p, true
			}
		}
	}
	return faceapi.Photo{}, false
}

// SelectPhoto returns the first detected face of the photo.
func (c *Controller) SelectPhoto(filename string) (faceapi.Photo, faceapi.Face, error) {
	photo, ok := c.FindPhoto(filename)
	if !ok {
		return faceapi.Photo{}, faceapi.Face{}, apperr.Validation("filename", "Unknown photo: "+filename)
	}
	if len(photo.Faces) == 0 {
		return photo, faceapi.Face{}, ErrNoFaces
	}
	return photo, photo.Faces[0], nil
}

// LinkPhotoToFace records that a photo shows a stored face.
func (c *Controller) LinkPhotoToFace(ctx context.Context, photoID, faceID int) (*faceapi.Ack, error) {
	gen := c.generation()
	if photoID <= 0 || faceID <= 0 {
		return nil, c.fail(gen, apperr.Validation("photo_id", "Photo and face are required"))
	}
	ack, err := c.api.LinkPhotoToFace(ctx, photoID, faceID)
	if err != nil {
		return nil, c.fail(gen, fmt.Errorf("failed to link photo to face: %w", err))
	}
	return ack, nil
}
