package gallery

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/kozaktomas/facelink/internal/capture"
	"github.com/kozaktomas/facelink/internal/faceapi"
)

// ErrCacheLocked is returned when another process holds the blob cache.
var ErrCacheLocked = errors.New("blob cache is locked by another process")

// BlobStore keeps fetched photo payloads and hands out local URLs for them.
type BlobStore interface {
	Put(filename string, blob *faceapi.Blob) (string, error)
	Get(filename string) (*faceapi.Blob, bool)
	Close() error
}

// MemoryStore keeps payloads in memory and returns blob: URLs.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*faceapi.Blob
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*faceapi.Blob)}
}

// Put implements BlobStore.
func (m *MemoryStore) Put(filename string, blob *faceapi.Blob) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[filename] = blob
	return "blob:facelink/" + url.PathEscape(filename), nil
}

// Get implements BlobStore.
func (m *MemoryStore) Get(filename string) (*faceapi.Blob, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[filename]
	return b, ok
}

// Close implements BlobStore.
func (m *MemoryStore) Close() error {
	return nil
}

// DiskStore writes payloads under a cache directory and returns file:// URLs.
// The directory is held with an exclusive lock while the store is open.
type DiskStore struct {
	dir  string
	lock *flock.Flock

	mu    sync.RWMutex
	types map[string]string
	paths map[string]string
}

// NewDiskStore opens (creating if needed) a blob cache in dir.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob cache dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, ".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire blob cache lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", dir, ErrCacheLocked)
	}

	return &DiskStore{
		dir:   dir,
		lock:  lock,
		types: make(map[string]string),
		paths: make(map[string]string),
	}, nil
}

// cacheName maps a photo filename to a file name in the cache. Sanitizing
// alone is lossy ("Jiří photo.jpg" and "Jiri_photo.jpg" agree), so a name
// based UUID of the original filename keeps entries apart.
func cacheName(filename string) string {
	clean := capture.SanitizeFilename(filename)
	ext := filepath.Ext(clean)
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(filename))
	return strings.TrimSuffix(clean, ext) + "-" + id.String() + ext
}

// Put implements BlobStore.
func (d *DiskStore) Put(filename string, blob *faceapi.Blob) (string, error) {
	path := filepath.Join(d.dir, cacheName(filename))
	if err := os.WriteFile(path, blob.Data, 0o644); err != nil {
		return "", fmt.Errorf("write cached photo: %w", err)
	}

	d.mu.Lock()
	d.types[filename] = blob.ContentType
	d.paths[filename] = path
	d.mu.Unlock()

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String(), nil
}

// Get implements BlobStore.
func (d *DiskStore) Get(filename string) (*faceapi.Blob, bool) {
	d.mu.RLock()
	path, ok := d.paths[filename]
	contentType := d.types[filename]
	d.mu.RUnlock()
	if !ok {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return &faceapi.Blob{ContentType: contentType, Data: data}, true
}

// Close releases the cache lock.
func (d *DiskStore) Close() error {
	return d.lock.Unlock()
}
