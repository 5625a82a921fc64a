package gallery

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/kozaktomas/facelink/internal/apperr"
	"github.com/kozaktomas/facelink/internal/device"
	"github.com/kozaktomas/facelink/internal/faceapi"
	"github.com/kozaktomas/facelink/internal/faceapi/faceapitest"
	"github.com/kozaktomas/facelink/internal/permission"
)

func setupGallery(t *testing.T) (*Controller, *faceapitest.Server) {
	t.Helper()
	srv := faceapitest.New(t)
	c := New(srv.Client(t), device.NewStatic().Grant(device.Storage))
	if _, err := c.Gate().Request(context.Background()); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return c, srv
}

func photos(names ...string) []faceapi.Photo {
	out := make([]faceapi.Photo, 0, len(names))
	for i, n := range names {
		out = append(out, faceapi.Photo{
			ID:       i + 1,
			Filename: n,
			Faces:    []faceapi.Face{{ID: 100 + i, Location: faceapi.FaceLocation{Top: 1, Right: 20, Bottom: 20, Left: 1}}},
		})
	}
	return out
}

func TestScan_RequiresStorage(t *testing.T) {
	srv := faceapitest.New(t)
	c := New(srv.Client(t), device.NewStatic())

	if _, err := c.Scan(context.Background(), "/photos"); !errors.Is(err, permission.ErrUnresolved) {
		t.Errorf("expected ErrUnresolved, got %v", err)
	}

	_ = c.Gate().Deny()
	_, err := c.Scan(context.Background(), "/photos")
	if apperr.Message(err) != "Storage access is required to manage photos" {
		t.Errorf("unexpected error %v", err)
	}
	if srv.Calls(faceapitest.RouteScan) != 0 {
		t.Error("expected no scan call")
	}
}

func TestScan_EmptyDirectory(t *testing.T) {
	c, srv := setupGallery(t)

	_, err := c.Scan(context.Background(), "  ")
	if !apperr.IsValidation(err) || apperr.Message(err) != "Please select a directory to scan" {
		t.Errorf("expected validation error, got %v", err)
	}
	if srv.Calls(faceapitest.RouteScan) != 0 {
		t.Error("expected no scan call")
	}
}

func TestScan_IsAdditive(t *testing.T) {
	c, srv := setupGallery(t)
	srv.SetScan("/a", photos("a1.jpg", "a2.jpg"), nil)
	srv.SetScan("/b", photos("b1.jpg", "b2.jpg", "b3.jpg"), nil)

	if _, err := c.Scan(context.Background(), "/a"); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	if _, err := c.Scan(context.Background(), "/b"); err != nil {
		t.Fatalf("second scan failed: %v", err)
	}

	got := c.Photos()
	if len(got) != 5 {
		t.Fatalf("expected 5 photos, got %d", len(got))
	}
	seen := make(map[string]bool)
	for _, p := range got {
		if seen[p.Filename] {
			t.Errorf("duplicate filename %s", p.Filename)
		}
		seen[p.Filename] = true
	}

	// scanning the same directory again must not duplicate
	if _, err := c.Scan(context.Background(), "/a"); err != nil {
		t.Fatalf("repeat scan failed: %v", err)
	}
	if len(c.Photos()) != 5 {
		t.Errorf("expected 5 photos after repeat scan, got %d", len(c.Photos()))
	}
}

func TestScan_ResolvesNewPhotosOnce(t *testing.T) {
	c, srv := setupGallery(t)
	srv.SetScan("/a", photos("a1.jpg"), nil)
	srv.SetBlob("a1.jpg", []byte("jpeg-bytes"))

	if _, err := c.Scan(context.Background(), "/a"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if _, err := c.Scan(context.Background(), "/a"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if n := srv.Calls(faceapitest.RouteFetchPhoto); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
	if _, ok := c.URL("a1.jpg"); !ok {
		t.Error("expected url cached")
	}
	blob, ok := c.Blob("a1.jpg")
	if !ok || string(blob.Data) != "jpeg-bytes" {
		t.Errorf("unexpected blob %v", blob)
	}
}

func TestScan_ReportsPerFileErrors(t *testing.T) {
	c, srv := setupGallery(t)
	srv.SetScan("/a", photos("ok.jpg"), []faceapi.ScanError{{Filename: "broken.jpg", Error: "cannot decode"}})

	result, err := c.Scan(context.Background(), "/a")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if result.TotalErrors != 1 || result.Errors[0].Filename != "broken.jpg" {
		t.Errorf("unexpected scan errors %+v", result.Errors)
	}
	if len(c.Photos()) != 1 {
		t.Errorf("expected 1 photo, got %d", len(c.Photos()))
	}
}

func TestScan_ServerValidationError(t *testing.T) {
	c, _ := setupGallery(t)

	_, err := c.Scan(context.Background(), "/missing")
	e, ok := apperr.As(err)
	if !ok || e.Class != apperr.ClassClient || e.Field != "directory" {
		t.Errorf("expected client transport error on directory, got %v", err)
	}
	if c.Err() == nil {
		t.Error("expected error slot set")
	}
}

func TestResolveURL_CacheHit(t *testing.T) {
	c, srv := setupGallery(t)
	srv.SetBlob("face.jpg", []byte("data"))

	first, err := c.ResolveURL(context.Background(), "face.jpg")
	if err != nil {
		t.Fatalf("ResolveURL failed: %v", err)
	}
	second, err := c.ResolveURL(context.Background(), "face.jpg")
	if err != nil {
		t.Fatalf("ResolveURL failed: %v", err)
	}
	if first != second {
		t.Errorf("expected same url, got %q and %q", first, second)
	}
	if n := srv.Calls(faceapitest.RouteFetchPhoto); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
}

func TestResolveURL_NotFound(t *testing.T) {
	c, _ := setupGallery(t)

	_, err := c.ResolveURL(context.Background(), "nope.jpg")
	if !apperr.IsTransport(err) || !strings.Contains(apperr.Message(err), "Photo not found: nope.jpg") {
		t.Errorf("expected transport error, got %v", err)
	}
	if _, ok := c.URL("nope.jpg"); ok {
		t.Error("expected nothing cached")
	}
}

func TestResolveURL_Concurrent(t *testing.T) {
	c, srv := setupGallery(t)
	srv.SetBlob("face.jpg", []byte("data"))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.ResolveURL(context.Background(), "face.jpg"); err != nil {
				t.Errorf("ResolveURL failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if _, ok := c.URL("face.jpg"); !ok {
		t.Error("expected url cached")
	}
	if n := srv.Calls(faceapitest.RouteFetchPhoto); n < 1 || n > 5 {
		t.Errorf("unexpected fetch count %d", n)
	}
}

func TestOrganize_Memoized(t *testing.T) {
	c, srv := setupGallery(t)
	srv.SetGroups([]faceapi.FaceGroup{{ID: "1", Name: "Person 1", Photos: photos("a.jpg")}})
	srv.SetScan("/a", photos("b.jpg"), nil)

	for range 2 {
		groups, err := c.Organize(context.Background())
		if err != nil {
			t.Fatalf("Organize failed: %v", err)
		}
		if len(groups) != 1 || groups[0].Name != "Person 1" {
			t.Errorf("unexpected groups %+v", groups)
		}
	}
	if n := srv.Calls(faceapitest.RouteOrganize); n != 1 {
		t.Errorf("expected 1 organize call, got %d", n)
	}

	// a plain scan keeps the snapshot
	if _, err := c.Scan(context.Background(), "/a"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	_, _ = c.Organize(context.Background())
	if n := srv.Calls(faceapitest.RouteOrganize); n != 1 {
		t.Errorf("expected scan not to invalidate groups, got %d calls", n)
	}

	// an explicit rescan does
	if _, err := c.Rescan(context.Background(), "/a"); err != nil {
		t.Fatalf("rescan failed: %v", err)
	}
	if _, cached := c.Groups(); cached {
		t.Error("expected groups invalidated by rescan")
	}
	_, _ = c.Organize(context.Background())
	if n := srv.Calls(faceapitest.RouteOrganize); n != 2 {
		t.Errorf("expected 2 organize calls after rescan, got %d", n)
	}
}

func TestOrganize_FailureNotCached(t *testing.T) {
	c, srv := setupGallery(t)
	srv.FailOn(faceapitest.RouteOrganize, 1, http.StatusInternalServerError, "clustering failed")

	if _, err := c.Organize(context.Background()); !apperr.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, err := c.Organize(context.Background()); err != nil {
		t.Fatalf("second Organize failed: %v", err)
	}
	if n := srv.Calls(faceapitest.RouteOrganize); n != 2 {
		t.Errorf("expected retry after failure, got %d calls", n)
	}
}

func TestUpload(t *testing.T) {
	c, srv := setupGallery(t)

	var progress []int
	c.progress = func(done, _ int) { progress = append(progress, done) }

	files := []faceapi.File{
		{Name: "one.jpg", ContentType: "image/jpeg", Data: []byte("1")},
		{Name: "two.jpg", ContentType: "image/jpeg", Data: []byte("2")},
	}
	uploaded, err := c.Upload(context.Background(), files)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if len(uploaded) != 2 || len(c.Photos()) != 2 {
		t.Errorf("expected 2 photos, got %d uploaded, %d in collection", len(uploaded), len(c.Photos()))
	}
	if srv.Calls(faceapitest.RouteScan) != 2 {
		t.Errorf("expected 2 scan calls, got %d", srv.Calls(faceapitest.RouteScan))
	}
	if srv.Calls(faceapitest.RouteOrganize) != 1 {
		t.Error("expected a regroup after upload")
	}
	if len(progress) != 2 {
		t.Errorf("expected 2 progress calls, got %v", progress)
	}
}

func TestUpload_StopsAtFirstFailure(t *testing.T) {
	c, srv := setupGallery(t)
	srv.FailOn(faceapitest.RouteScan, 2, http.StatusUnprocessableEntity, "bad image")

	files := []faceapi.File{{Name: "a.jpg"}, {Name: "b.jpg"}, {Name: "c.jpg"}}
	uploaded, err := c.Upload(context.Background(), files)
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindPartialBatch || e.Succeeded != 1 {
		t.Fatalf("expected partial batch with 1 success, got %v", err)
	}
	if len(uploaded) != 1 {
		t.Errorf("expected 1 uploaded photo, got %d", len(uploaded))
	}
	if srv.Calls(faceapitest.RouteScan) != 2 {
		t.Errorf("expected 2 scan calls, got %d", srv.Calls(faceapitest.RouteScan))
	}
}

func TestSelectPhoto(t *testing.T) {
	c, srv := setupGallery(t)
	withFaces := photos("face.jpg")[0]
	srv.SetScan("/a", []faceapi.Photo{withFaces, {ID: 9, Filename: "empty.jpg"}}, nil)
	if _, err := c.Scan(context.Background(), "/a"); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	_, face, err := c.SelectPhoto("face.jpg")
	if err != nil {
		t.Fatalf("SelectPhoto failed: %v", err)
	}
	if face.ID != withFaces.Faces[0].ID {
		t.Errorf("expected first face, got %+v", face)
	}

	if _, _, err := c.SelectPhoto("empty.jpg"); !errors.Is(err, ErrNoFaces) {
		t.Errorf("expected ErrNoFaces, got %v", err)
	}
	if _, _, err := c.SelectPhoto("unknown.jpg"); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLinkPhotoToFace(t *testing.T) {
	c, srv := setupGallery(t)

	if _, err := c.LinkPhotoToFace(context.Background(), 3, 7); err != nil {
		t.Fatalf("LinkPhotoToFace failed: %v", err)
	}
	if id, ok := srv.LinkedFace(3); !ok || id != 7 {
		t.Errorf("expected photo 3 linked to face 7, got %d (%v)", id, ok)
	}
	if _, err := c.LinkPhotoToFace(context.Background(), 0, 7); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDiskStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}

	if _, err := NewDiskStore(dir); !errors.Is(err, ErrCacheLocked) {
		t.Errorf("expected ErrCacheLocked for second store, got %v", err)
	}

	u, err := store.Put("Jiří photo.jpg", &faceapi.Blob{ContentType: "image/jpeg", Data: []byte("abc")})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !strings.HasPrefix(u, "file://") || !strings.Contains(u, "/Jiri_photo-") || !strings.HasSuffix(u, ".jpg") {
		t.Errorf("unexpected url %q", u)
	}

	// sanitizes to the same name as the photo above
	other, err := store.Put("Jiri_photo.jpg", &faceapi.Blob{ContentType: "image/png", Data: []byte("xyz")})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if other == u {
		t.Errorf("expected distinct urls for distinct filenames, both %q", u)
	}
	if blob, ok := store.Get("Jiri_photo.jpg"); !ok || string(blob.Data) != "xyz" {
		t.Errorf("unexpected blob for second photo %+v", blob)
	}

	blob, ok := store.Get("Jiří photo.jpg")
	if !ok || string(blob.Data) != "abc" || blob.ContentType != "image/jpeg" {
		t.Errorf("unexpected blob %+v", blob)
	}
	if _, ok := store.Get("other.jpg"); ok {
		t.Error("expected miss")
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	reopened, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("expected reopen after close, got %v", err)
	}
	_ = reopened.Close()
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	u, _ := s.Put("my photo.jpg", &faceapi.Blob{Data: []byte("x")})
	if u != "blob:facelink/my%20photo.jpg" {
		t.Errorf("unexpected url %q", u)
	}
	if _, ok := s.Get("my photo.jpg"); !ok {
		t.Error("expected hit")
	}
}

func TestUnmount_DiscardsLateScan(t *testing.T) {
	c, _ := setupGallery(t)

	gen := c.generation()
	c.Unmount()
	if added := c.merge(gen, photos("late.jpg")); added != nil {
		t.Errorf("expected late merge discarded, got %v", added)
	}
	if len(c.Photos()) != 0 {
		t.Errorf("expected empty collection, got %d", len(c.Photos()))
	}
}
