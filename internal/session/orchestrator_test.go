package session

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"testing"
	"time"

	"github.com/kozaktomas/facelink/internal/apperr"
	"github.com/kozaktomas/facelink/internal/capture"
	"github.com/kozaktomas/facelink/internal/contacts"
	"github.com/kozaktomas/facelink/internal/device"
	"github.com/kozaktomas/facelink/internal/faceapi"
	"github.com/kozaktomas/facelink/internal/faceapi/faceapitest"
	"github.com/kozaktomas/facelink/internal/gallery"
	"github.com/kozaktomas/facelink/internal/permission"
)

var faceBox = faceapi.FaceLocation{Top: 10, Right: 200, Bottom: 220, Left: 30}

// frameSource always has a frame ready.
type frameSource struct{}

func (frameSource) Open(context.Context) error { return nil }
func (frameSource) Close() error               { return nil }
func (frameSource) Frame(context.Context) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	img.Set(1, 1, color.White)
	return img, nil
}

type fixture struct {
	o        *Orchestrator
	srv      *faceapitest.Server
	provider *device.Static
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	srv := faceapitest.New(t)
	client := srv.Client(t)
	provider := device.NewStatic().Grant(device.Camera).Grant(device.Contacts).Grant(device.Storage)

	cameraGate := permission.NewGate(device.Camera, provider)
	if _, err := cameraGate.Request(context.Background()); err != nil {
		t.Fatalf("camera Request failed: %v", err)
	}
	cp := capture.NewController(frameSource{}, cameraGate)
	cc := contacts.New(client, provider)
	gc := gallery.New(client, provider)
	if err := gc.Mount(context.Background()); err != nil {
		t.Fatalf("gallery Mount failed: %v", err)
	}

	o := New(client, cp, cc, gc, opts...)
	t.Cleanup(func() { _ = o.Close() })
	return &fixture{o: o, srv: srv, provider: provider}
}

func payload() *capture.Payload {
	return &capture.Payload{Data: []byte("jpeg"), MimeType: "image/jpeg", Filename: "capture.jpg"}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInitialState(t *testing.T) {
	f := setup(t)
	s := f.o.Snapshot()

	if s.Mode != ModeCapture || s.Processing != Idle || s.Selected != nil {
		t.Errorf("unexpected initial state %+v", s)
	}
	if s.Policy != RejectStale {
		t.Errorf("expected default policy reject-stale, got %s", s.Policy)
	}
}

func TestStart_LoadsHistory(t *testing.T) {
	f := setup(t)
	f.srv.AddHistory(faceBox)

	f.o.Start(context.Background())
	if len(f.o.Snapshot().History) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(f.o.Snapshot().History))
	}
}

func TestStart_FailureKeptInHistorySlot(t *testing.T) {
	f := setup(t)
	f.srv.FailOn(faceapitest.RouteHistory, 1, http.StatusInternalServerError, "db offline")

	f.o.Start(context.Background())
	s := f.o.Snapshot()
	if s.HistoryError != "db offline" {
		t.Errorf("expected history error, got %q", s.HistoryError)
	}
	if s.DetectError != "" {
		t.Errorf("expected detect slot untouched, got %q", s.DetectError)
	}
}

func TestSetMode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if err := f.o.SetMode(ctx, ModeHistory); err != nil {
		t.Fatalf("SetMode history failed: %v", err)
	}
	if f.srv.Calls(faceapitest.RouteHistory) != 1 {
		t.Error("expected history refresh on entering history")
	}

	for range 2 {
		if err := f.o.SetMode(ctx, ModeGallery); err != nil {
			t.Fatalf("SetMode gallery failed: %v", err)
		}
	}
	if n := f.srv.Calls(faceapitest.RouteOrganize); n != 1 {
		t.Errorf("expected organize once, got %d", n)
	}

	if err := f.o.SetMode(ctx, ModeContacts); err != nil {
		t.Fatalf("SetMode contacts failed: %v", err)
	}
	if f.srv.Calls(faceapitest.RouteListContacts) != 1 {
		t.Error("expected roster load on entering contacts")
	}

	if err := f.o.SetMode(ctx, ModeCapture); err != nil {
		t.Fatalf("SetMode capture failed: %v", err)
	}
	if f.o.Snapshot().Mode != ModeCapture {
		t.Errorf("expected capture mode, got %s", f.o.Snapshot().Mode)
	}
}

func TestSetMode_ChangesEvenWhenRefreshFails(t *testing.T) {
	f := setup(t)
	f.srv.FailOn(faceapitest.RouteHistory, 1, http.StatusBadGateway, "upstream down")

	err := f.o.SetMode(context.Background(), ModeHistory)
	if !apperr.IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}
	if f.o.Snapshot().Mode != ModeHistory {
		t.Errorf("expected history mode, got %s", f.o.Snapshot().Mode)
	}
}

func TestSelectFace_AlwaysEntersContacts(t *testing.T) {
	sources := []struct {
		name   string
		prior  ViewMode
		source FaceSource
	}{
		{"detection from capture", ModeCapture, SourceDetection},
		{"history from history", ModeHistory, SourceHistory},
		{"gallery from gallery", ModeGallery, SourceGallery},
		{"detection from gallery", ModeGallery, SourceDetection},
		{"history from contacts", ModeContacts, SourceHistory},
	}

	for _, tt := range sources {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			f.srv.SetDetectResult([]faceapi.FaceLocation{faceBox}, false)
			f.srv.SetScan("/photos", []faceapi.Photo{{
				ID: 1, Filename: "p.jpg", Faces: []faceapi.Face{{ID: 42, Location: faceBox}},
			}}, nil)

			var want SelectedFace
			switch tt.source {
			case SourceDetection:
				res, err := f.o.Submit(ctx, payload())
				if err != nil {
					t.Fatalf("Submit failed: %v", err)
				}
				want = SelectedFace{ID: res.Faces[0].ID, Location: faceBox, Source: SourceDetection}
			case SourceHistory:
				entry := f.srv.AddHistory(faceBox)
				if _, err := f.o.RefreshHistory(ctx); err != nil {
					t.Fatalf("RefreshHistory failed: %v", err)
				}
				want = SelectedFace{ID: entry.ID, Location: faceBox, Source: SourceHistory}
			case SourceGallery:
				if _, err := f.o.Gallery().Scan(ctx, "/photos"); err != nil {
					t.Fatalf("Scan failed: %v", err)
				}
				want = SelectedFace{ID: 42, Location: faceBox, Source: SourceGallery, Photo: "p.jpg"}
			}

			_ = f.o.SetMode(ctx, tt.prior)

			var err error
			switch tt.source {
			case SourceDetection:
				err = f.o.SelectDetectedFace(ctx, 0)
			case SourceHistory:
				err = f.o.SelectHistoryEntry(ctx, want.ID)
			case SourceGallery:
				err = f.o.SelectPhoto(ctx, "p.jpg")
			}
			if err != nil {
				t.Fatalf("select failed: %v", err)
			}

			s := f.o.Snapshot()
			if s.Mode != ModeContacts {
				t.Errorf("expected contacts mode, got %s", s.Mode)
			}
			if s.Selected == nil || *s.Selected != want {
				t.Errorf("expected selection %+v, got %+v", want, s.Selected)
			}
		})
	}
}

func TestSelect_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if err := f.o.SelectDetectedFace(ctx, 0); !errors.Is(err, ErrNoFace) {
		t.Errorf("expected ErrNoFace without detection, got %v", err)
	}
	if err := f.o.SelectHistoryEntry(ctx, 99); !errors.Is(err, ErrNoFace) {
		t.Errorf("expected ErrNoFace for unknown entry, got %v", err)
	}
	if f.o.Snapshot().Mode != ModeCapture {
		t.Error("expected mode unchanged after failed selection")
	}
}

func TestSelectFace_WithoutStoredRecord(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	contact := f.srv.AddContact("John Doe")

	face := SelectedFace{Location: faceBox, Source: SourceDetection}
	if err := f.o.SelectFace(ctx, face); err != nil {
		t.Fatalf("SelectFace failed: %v", err)
	}
	s := f.o.Snapshot()
	if s.Mode != ModeContacts {
		t.Errorf("expected contacts mode, got %s", s.Mode)
	}
	if s.Selected == nil || *s.Selected != face {
		t.Fatalf("expected selection %+v, got %+v", face, s.Selected)
	}

	_, err := f.o.LinkSelected(ctx, contact.ID)
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.srv.Calls(faceapitest.RouteLinkFace) != 0 {
		t.Error("expected no link request for a face without id")
	}
	if f.o.Snapshot().Selected == nil {
		t.Error("expected selection kept after failed link")
	}
}

func TestEndToEnd_CaptureSelectLink(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.srv.SetDetectResult([]faceapi.FaceLocation{faceBox}, false)
	contact := f.srv.AddContact("John Doe")

	f.o.Start(ctx)
	before := len(f.o.Snapshot().History)

	res, err := f.o.CaptureAndSubmit(ctx)
	if err != nil {
		t.Fatalf("CaptureAndSubmit failed: %v", err)
	}
	if res.NumFaces != 1 || res.Faces[0].Location != faceBox {
		t.Fatalf("unexpected detection %+v", res)
	}
	s := f.o.Snapshot()
	if s.Processing != Idle || s.Detection == nil || s.Mode != ModeCapture {
		t.Fatalf("unexpected state after detection %+v", s)
	}

	if err := f.o.SelectDetectedFace(ctx, 0); err != nil {
		t.Fatalf("SelectDetectedFace failed: %v", err)
	}
	if f.o.Snapshot().Mode != ModeContacts {
		t.Fatalf("expected contacts mode, got %s", f.o.Snapshot().Mode)
	}

	historyCalls := f.srv.Calls(faceapitest.RouteHistory)
	if _, err := f.o.LinkSelected(ctx, contact.ID); err != nil {
		t.Fatalf("LinkSelected failed: %v", err)
	}

	s = f.o.Snapshot()
	if s.Selected != nil {
		t.Errorf("expected selection cleared, got %+v", s.Selected)
	}
	if f.srv.Calls(faceapitest.RouteHistory) != historyCalls+1 {
		t.Error("expected history refresh after link")
	}
	if len(s.History) != before+1 {
		t.Errorf("expected %d history entries, got %d", before+1, len(s.History))
	}
	if id, ok := f.srv.LinkedContact(res.Faces[0].ID); !ok || id != contact.ID {
		t.Errorf("expected face linked to contact %d", contact.ID)
	}
}

func TestSubmit_FailureClearsDetection(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.srv.SetDetectResult([]faceapi.FaceLocation{faceBox}, false)

	if _, err := f.o.Submit(ctx, payload()); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	_ = f.o.SetMode(ctx, ModeHistory)
	f.srv.FailOn(faceapitest.RouteDetect, 2, http.StatusTooManyRequests, "Rate limit exceeded")

	_, err := f.o.Submit(ctx, payload())
	e, ok := apperr.As(err)
	if !ok || e.Class != apperr.ClassClient || e.Status != http.StatusTooManyRequests {
		t.Fatalf("expected client transport error, got %v", err)
	}

	s := f.o.Snapshot()
	if s.Detection != nil {
		t.Error("expected stale detection cleared")
	}
	if s.DetectError != "Rate limit exceeded" {
		t.Errorf("unexpected detect error %q", s.DetectError)
	}
	if s.Processing != Idle {
		t.Errorf("expected idle, got %s", s.Processing)
	}
	if s.Mode != ModeHistory {
		t.Errorf("expected mode unchanged, got %s", s.Mode)
	}
}

func TestSubmit_RecoversIDsFromHistory(t *testing.T) {
	f := setup(t)
	f.srv.SetDetectResult([]faceapi.FaceLocation{faceBox}, true)

	res, err := f.o.Submit(context.Background(), payload())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Faces[0].ID == 0 {
		t.Fatal("expected face id recovered from history")
	}
	if err := f.o.SelectDetectedFace(context.Background(), 0); err != nil {
		t.Errorf("expected selectable face, got %v", err)
	}
}

func TestCaptureAndSubmit_NoFrame(t *testing.T) {
	srv := faceapitest.New(t)
	client := srv.Client(t)
	provider := device.NewStatic().Grant(device.Camera)
	gate := permission.NewGate(device.Camera, provider)
	_, _ = gate.Request(context.Background())

	stills := capture.NewStillSource(t.TempDir())
	o := New(client, capture.NewController(stills, gate), contacts.New(client, provider), gallery.New(client, provider))
	defer o.Close()

	if _, err := o.CaptureAndSubmit(context.Background()); !errors.Is(err, capture.ErrNoFrame) {
		t.Errorf("expected ErrNoFrame, got %v", err)
	}
	if srv.Calls(faceapitest.RouteDetect) != 0 {
		t.Error("expected no detect call")
	}
}

func TestUploadAndSubmit_InvalidFile(t *testing.T) {
	f := setup(t)

	_, err := f.o.UploadAndSubmit(context.Background(), "notes.txt", []byte("plain text"))
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.srv.Calls(faceapitest.RouteDetect) != 0 {
		t.Error("expected no detect call")
	}
	if f.o.Snapshot().DetectError == "" {
		t.Error("expected error in detect slot")
	}
}

func TestDetectPolicy_RejectStale(t *testing.T) {
	f := setup(t, WithPolicy(RejectStale))
	ctx := context.Background()
	f.srv.SetDetectResult([]faceapi.FaceLocation{faceBox}, false)
	f.srv.DelayOn(faceapitest.RouteDetect, 1, 300*time.Millisecond)

	type outcome struct {
		res *faceapi.DetectionResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.o.Submit(ctx, payload())
		done <- outcome{res, err}
	}()
	waitFor(t, func() bool { return f.srv.Calls(faceapitest.RouteDetect) == 1 })

	second, err := f.o.Submit(ctx, payload())
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	if f.o.Snapshot().Processing != Detecting {
		t.Error("expected detecting while the first request is in flight")
	}

	first := <-done
	if !errors.Is(first.err, ErrStale) {
		t.Errorf("expected ErrStale for superseded request, got %v", first.err)
	}

	s := f.o.Snapshot()
	if s.Processing != Idle {
		t.Errorf("expected idle, got %s", s.Processing)
	}
	if s.Detection.Faces[0].ID != second.Faces[0].ID {
		t.Errorf("expected newest result kept, got face %d want %d", s.Detection.Faces[0].ID, second.Faces[0].ID)
	}
}

func TestDetectPolicy_AcceptLast(t *testing.T) {
	f := setup(t, WithPolicy(AcceptLast))
	ctx := context.Background()
	f.srv.SetDetectResult([]faceapi.FaceLocation{faceBox}, false)
	f.srv.DelayOn(faceapitest.RouteDetect, 1, 300*time.Millisecond)

	done := make(chan *faceapi.DetectionResult, 1)
	go func() {
		res, err := f.o.Submit(ctx, payload())
		if err != nil {
			t.Errorf("first Submit failed: %v", err)
		}
		done <- res
	}()
	waitFor(t, func() bool { return f.srv.Calls(faceapitest.RouteDetect) == 1 })

	if _, err := f.o.Submit(ctx, payload()); err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	first := <-done
	if first == nil {
		t.Fatal("expected first result")
	}

	s := f.o.Snapshot()
	if s.Detection.Faces[0].ID != first.Faces[0].ID {
		t.Errorf("expected last-resolved result kept, got face %d want %d", s.Detection.Faces[0].ID, first.Faces[0].ID)
	}
	if s.Processing != Idle {
		t.Errorf("expected idle, got %s", s.Processing)
	}
}

func TestLinkSelected_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if _, err := f.o.LinkSelected(ctx, 1); !errors.Is(err, ErrNoSelection) {
		t.Errorf("expected ErrNoSelection, got %v", err)
	}

	entry := f.srv.AddHistory(faceBox)
	_, _ = f.o.RefreshHistory(ctx)
	if err := f.o.SelectHistoryEntry(ctx, entry.ID); err != nil {
		t.Fatalf("select failed: %v", err)
	}

	// unknown contact: link fails, selection stays
	if _, err := f.o.LinkSelected(ctx, 999); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	s := f.o.Snapshot()
	if s.Selected == nil {
		t.Error("expected selection kept after failed link")
	}
	if s.LinkError == "" {
		t.Error("expected link error recorded")
	}

	historyCalls := f.srv.Calls(faceapitest.RouteHistory)
	f.o.AbandonLink()
	if f.o.Snapshot().Selected != nil {
		t.Error("expected selection cleared on abandon")
	}
	if f.srv.Calls(faceapitest.RouteHistory) != historyCalls {
		t.Error("expected no history refresh on abandon")
	}
}

func TestLinkSelected_OneInFlight(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	entry := f.srv.AddHistory(faceBox)
	contact := f.srv.AddContact("Jane")
	_, _ = f.o.RefreshHistory(ctx)
	if err := f.o.SelectHistoryEntry(ctx, entry.ID); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	f.srv.Delay(faceapitest.RouteLinkFace, 200*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := f.o.LinkSelected(ctx, contact.ID)
		done <- err
	}()
	waitFor(t, func() bool { return f.srv.Calls(faceapitest.RouteLinkFace) == 1 })

	if _, err := f.o.LinkSelected(ctx, contact.ID); !errors.Is(err, ErrLinkInFlight) {
		t.Errorf("expected ErrLinkInFlight, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("link failed: %v", err)
	}
	if f.srv.Calls(faceapitest.RouteLinkFace) != 1 {
		t.Errorf("expected 1 link call, got %d", f.srv.Calls(faceapitest.RouteLinkFace))
	}
}

func TestSubscribe(t *testing.T) {
	f := setup(t)
	events, cancel := f.o.Subscribe()
	defer cancel()

	if err := f.o.SetMode(context.Background(), ModeCapture); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != EventMode || ev.Data == nil || ev.Data.Mode != ModeCapture {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected mode event")
	}
}

func TestClose_DiscardsLateResults(t *testing.T) {
	f := setup(t)
	f.srv.SetDetectResult([]faceapi.FaceLocation{faceBox}, false)
	f.srv.Delay(faceapitest.RouteDetect, 200*time.Millisecond)

	events, _ := f.o.Subscribe()

	done := make(chan error, 1)
	go func() {
		_, err := f.o.Submit(context.Background(), payload())
		done <- err
	}()
	waitFor(t, func() bool { return f.srv.Calls(faceapitest.RouteDetect) == 1 })

	if err := f.o.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if f.o.Snapshot().Detection != nil {
		t.Error("expected late detection discarded")
	}

	// drain until the channel is closed
	for range events {
	}
	if err := f.o.SetMode(context.Background(), ModeHistory); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestParse(t *testing.T) {
	if m, err := ParseViewMode("Gallery"); err != nil || m != ModeGallery {
		t.Errorf("ParseViewMode: %v %v", m, err)
	}
	if _, err := ParseViewMode("settings"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if p, err := ParseDetectPolicy(""); err != nil || p != RejectStale {
		t.Errorf("ParseDetectPolicy empty: %v %v", p, err)
	}
	if p, err := ParseDetectPolicy("accept-last"); err != nil || p != AcceptLast {
		t.Errorf("ParseDetectPolicy: %v %v", p, err)
	}
	if _, err := ParseDetectPolicy("newest"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
