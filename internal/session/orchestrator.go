// Package session owns the cross-cutting client state: the active view, the
// detection sub-state, the pinned face selection and the history list. All
// state changes go through the Orchestrator's transition methods.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kozaktomas/facelink/internal/apperr"
	"github.com/kozaktomas/facelink/internal/capture"
	"github.com/kozaktomas/facelink/internal/constants"
	"github.com/kozaktomas/facelink/internal/contacts"
	"github.com/kozaktomas/facelink/internal/faceapi"
	"github.com/kozaktomas/facelink/internal/gallery"
	"github.com/kozaktomas/facelink/internal/logging"
)

// Sentinel errors.
var (
	ErrNoSelection  = errors.New("no face selected")
	ErrLinkInFlight = contacts.ErrLinkInFlight
	ErrNoFace       = errors.New("face not found")
	ErrClosed       = errors.New("session closed")
	ErrStale        = errors.New("detection result superseded by a newer request")
)

// API is the subset of the remote client the orchestrator calls directly.
type API interface {
	Detect(ctx context.Context, file faceapi.File) (*faceapi.DetectionResult, error)
	History(ctx context.Context) ([]faceapi.HistoryEntry, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy sets the detect policy.
func WithPolicy(p DetectPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator is the session state machine.
type Orchestrator struct {
	api      API
	capture  *capture.Controller
	contacts *contacts.Controller
	gallery  *gallery.Controller
	policy   DetectPolicy
	logger   *slog.Logger
	events   broadcaster

	mu         sync.Mutex
	mode       ViewMode
	processing Processing
	selected   *SelectedFace
	detection  *faceapi.DetectionResult
	detectErr  error
	history    []faceapi.HistoryEntry
	historyErr error
	linking    bool
	linkErr    error
	seq        uint64
	inflight   int
	closed     bool
}

// New creates an orchestrator in its initial state: capture mode, idle, no selection.
func New(api API, cp *capture.Controller, cc *contacts.Controller, gc *gallery.Controller, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:        api,
		capture:    cp,
		contacts:   cc,
		gallery:    gc,
		policy:     RejectStale,
		mode:       ModeCapture,
		processing: Idle,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrDiscard(o.logger)
	return o
}

// Capture returns the capture controller.
func (o *Orchestrator) Capture() *capture.Controller { return o.capture }

// Contacts returns the contacts controller.
func (o *Orchestrator) Contacts() *contacts.Controller { return o.contacts }

// Gallery returns the gallery controller.
func (o *Orchestrator) Gallery() *gallery.Controller { return o.gallery }

// Policy returns the detect policy.
func (o *Orchestrator) Policy() DetectPolicy { return o.policy }

// Start performs the initial history load. A failure is logged and kept in
// the history error slot; it does not prevent the session from running.
func (o *Orchestrator) Start(ctx context.Context) {
	if _, err := o.RefreshHistory(ctx); err != nil {
		o.logger.Warn("initial history load failed", "error", err)
	}
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := Snapshot{
		Mode:       o.mode,
		Processing: o.processing,
		History:    append([]faceapi.HistoryEntry{}, o.history...),
		Linking:    o.linking,
		Policy:     o.policy,
	}
	if o.selected != nil {
		sel := *o.selected
		s.Selected = &sel
	}
	if o.detection != nil {
		s.Detection = cloneDetection(o.detection)
	}
	if o.detectErr != nil {
		s.DetectError = apperr.Message(o.detectErr)
	}
	if o.historyErr != nil {
		s.HistoryError = apperr.Message(o.historyErr)
	}
	if o.linkErr != nil {
		s.LinkError = apperr.Message(o.linkErr)
	}
	return s
}

func cloneDetection(d *faceapi.DetectionResult) *faceapi.DetectionResult {
	c := *d
	c.Faces = append([]faceapi.DetectedFace(nil), d.Faces...)
	c.StoredFaces = append([]faceapi.HistoryEntry(nil), d.StoredFaces...)
	return &c
}

// Subscribe registers an event listener. The returned function unregisters it.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	ch := o.events.add()
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		o.events.remove(ch)
		return ch, func() {}
	}
	return ch, func() { o.events.remove(ch) }
}

// emit sends an event with a fresh snapshot. Must not be called with o.mu held.
func (o *Orchestrator) emit(eventType, message string) {
	snap := o.Snapshot()
	o.events.send(Event{Type: eventType, Message: message, Data: &snap})
}

// SetMode switches the active view. Any mode may be entered at any time.
// Entering history refreshes it, entering gallery organizes photos unless
// the grouping is cached, entering contacts loads the roster. The mode
// changes even if that follow-up call fails; its error is returned.
func (o *Orchestrator) SetMode(ctx context.Context, mode ViewMode) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.mode = mode
	o.mu.Unlock()
	o.emit(EventMode, string(mode))
	o.logger.Debug("view mode changed", "mode", mode)

	return o.enter(ctx, mode)
}

func (o *Orchestrator) enter(ctx context.Context, mode ViewMode) error {
	switch mode {
	case ModeHistory:
		_, err := o.RefreshHistory(ctx)
		return err
	case ModeGallery:
		if err := o.gallery.Mount(ctx); err != nil {
			return err
		}
		_, err := o.gallery.Organize(ctx)
		return err
	case ModeContacts:
		return o.contacts.Mount(ctx)
	}
	return nil
}

// CaptureAndSubmit grabs a camera frame and submits it. capture.ErrNoFrame is
// returned when the stream is not ready; the caller may retry.
func (o *Orchestrator) CaptureAndSubmit(ctx context.Context) (*faceapi.DetectionResult, error) {
	payload, err := o.capture.Capture(ctx)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, capture.ErrNoFrame
	}
	return o.Submit(ctx, payload)
}

// UploadAndSubmit wraps user-provided image bytes and submits them.
func (o *Orchestrator) UploadAndSubmit(ctx context.Context, name string, data []byte) (*faceapi.DetectionResult, error) {
	payload, err := o.capture.UploadBytes(name, data)
	if err != nil {
		o.mu.Lock()
		o.detectErr = err
		o.mu.Unlock()
		o.emit(EventDetection, apperr.Message(err))
		return nil, err
	}
	return o.Submit(ctx, payload)
}

// Submit sends a payload for detection. On success the result replaces the
// current one and history is refreshed; on failure the stale result is
// cleared and the error kept. The view mode is not changed either way.
// Under RejectStale a result of a superseded request is returned with ErrStale
// and not applied.
func (o *Orchestrator) Submit(ctx context.Context, payload *capture.Payload) (*faceapi.DetectionResult, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.seq++
	seq := o.seq
	o.inflight++
	o.processing = Detecting
	o.mu.Unlock()
	o.emit(EventProcessing, string(Detecting))

	o.logger.Info("submitting image for detection", "filename", payload.Filename, "size", len(payload.Data), "seq", seq)
	result, err := o.api.Detect(ctx, faceapi.File{
		Name:        payload.Filename,
		ContentType: payload.MimeType,
		Data:        payload.Data,
	})

	o.mu.Lock()
	o.inflight--
	if o.inflight == 0 {
		o.processing = Idle
	}
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if o.policy == RejectStale && seq != o.seq {
		o.mu.Unlock()
		o.logger.Debug("discarding stale detection", "seq", seq)
		o.emit(EventProcessing, string(o.Snapshot().Processing))
		if err != nil {
			return nil, err
		}
		return result, ErrStale
	}
	if err != nil {
		o.detection = nil
		o.detectErr = err
		o.mu.Unlock()
		o.logger.Warn("detection failed", "error", err)
		o.emit(EventDetection, apperr.Message(err))
		return nil, err
	}
	o.detection = cloneDetection(result)
	o.detectErr = nil
	o.mu.Unlock()
	o.logger.Info("detection completed", "faces", result.NumFaces, "seq", seq)
	o.emit(EventDetection, fmt.Sprintf("%d face(s) detected", result.NumFaces))

	if _, err := o.RefreshHistory(ctx); err != nil {
		o.logger.Warn("history refresh after detection failed", "error", err)
	}
	o.recoverFaceIDs(seq)
	return o.currentDetection(result), nil
}

// recoverFaceIDs fills missing face ids of the current detection by matching
// locations against history. Servers that omit stored_faces need this.
func (o *Orchestrator) recoverFaceIDs(seq uint64) {
	o.mu.Lock()
	if o.detection == nil || (o.policy == RejectStale && seq != o.seq) {
		o.mu.Unlock()
		return
	}
	changed := false
	for i, f := range o.detection.Faces {
		if f.ID != 0 {
			continue
		}
		if id, ok := faceapi.MatchHistory(f.Location, o.history, constants.FaceMatchIoUThreshold); ok {
			o.detection.Faces[i].ID = id
			changed = true
		}
	}
	o.mu.Unlock()
	if changed {
		o.emit(EventDetection, "face ids recovered from history")
	}
}

func (o *Orchestrator) currentDetection(fallback *faceapi.DetectionResult) *faceapi.DetectionResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.detection == nil {
		return fallback
	}
	return cloneDetection(o.detection)
}

// RefreshHistory reloads the detection history.
func (o *Orchestrator) RefreshHistory(ctx context.Context) ([]faceapi.HistoryEntry, error) {
	history, err := o.api.History(ctx)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if err != nil {
		o.historyErr = err
		o.mu.Unlock()
		o.emit(EventHistory, apperr.Message(err))
		return nil, err
	}
	o.history = append([]faceapi.HistoryEntry(nil), history...)
	o.historyErr = nil
	o.mu.Unlock()
	o.emit(EventHistory, fmt.Sprintf("%d entries", len(history)))
	return history, nil
}

// SelectFace pins face and switches to the contacts view, whatever the
// current view is. A face without a stored record is pinned too; linking it
// fails validation in the contacts controller.
func (o *Orchestrator) SelectFace(ctx context.Context, face SelectedFace) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.selected = &face
	o.linkErr = nil
	o.mode = ModeContacts
	o.mu.Unlock()
	o.logger.Info("face selected", "face_id", face.ID, "source", face.Source)
	o.emit(EventSelection, fmt.Sprintf("face %d selected", face.ID))
	o.emit(EventMode, string(ModeContacts))

	return o.enter(ctx, ModeContacts)
}

// SelectDetectedFace selects face index of the current detection result.
func (o *Orchestrator) SelectDetectedFace(ctx context.Context, index int) error {
	o.mu.Lock()
	if o.detection == nil || index < 0 || index >= len(o.detection.Faces) {
		o.mu.Unlock()
		return fmt.Errorf("%w: no detected face at index %d", ErrNoFace, index)
	}
	face := o.detection.Faces[index]
	if face.ID == 0 {
		if id, ok := faceapi.MatchHistory(face.Location, o.history, constants.FaceMatchIoUThreshold); ok {
			face.ID = id
		}
	}
	o.mu.Unlock()

	return o.SelectFace(ctx, SelectedFace{ID: face.ID, Location: face.Location, Source: SourceDetection})
}

// SelectHistoryEntry selects a stored face from the history list.
func (o *Orchestrator) SelectHistoryEntry(ctx context.Context, id int) error {
	o.mu.Lock()
	var entry *faceapi.HistoryEntry
	for i := range o.history {
		if o.history[i].ID == id {
			entry = &o.history[i]
			break
		}
	}
	if entry == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: no history entry %d", ErrNoFace, id)
	}
	face := SelectedFace{ID: entry.ID, Location: entry.FaceLocation, Source: SourceHistory}
	o.mu.Unlock()

	return o.SelectFace(ctx, face)
}

// SelectPhoto selects the first face of a gallery photo.
func (o *Orchestrator) SelectPhoto(ctx context.Context, filename string) error {
	photo, face, err := o.gallery.SelectPhoto(filename)
	if err != nil {
		if errors.Is(err, gallery.ErrNoFaces) {
			return fmt.Errorf("%w: %s has no detected faces", ErrNoFace, filename)
		}
		return err
	}
	return o.SelectFace(ctx, SelectedFace{
		ID:       face.ID,
		Location: face.Location,
		Source:   SourceGallery,
		Photo:    photo.Filename,
	})
}

// LinkSelected links the selected face to contactID. On success the
// selection is cleared and history refreshed. On failure the selection stays
// so the user can retry or abandon.
func (o *Orchestrator) LinkSelected(ctx context.Context, contactID int) (*faceapi.Ack, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if o.selected == nil {
		o.mu.Unlock()
		return nil, ErrNoSelection
	}
	if o.linking {
		o.mu.Unlock()
		return nil, ErrLinkInFlight
	}
	face := *o.selected
	o.linking = true
	o.mu.Unlock()
	o.emit(EventLink, fmt.Sprintf("linking face %d to contact %d", face.ID, contactID))

	ack, err := o.contacts.LinkFace(ctx, face.ID, contactID)

	o.mu.Lock()
	o.linking = false
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if err != nil {
		o.linkErr = err
		o.mu.Unlock()
		o.emit(EventLink, apperr.Message(err))
		return nil, err
	}
	if o.selected != nil && o.selected.ID == face.ID {
		o.selected = nil
	}
	o.linkErr = nil
	o.mu.Unlock()
	o.emit(EventSelection, "selection cleared")

	if _, err := o.RefreshHistory(ctx); err != nil {
		o.logger.Warn("history refresh after link failed", "error", err)
	}
	return ack, nil
}

// AbandonLink clears the selection without linking. History is not refreshed.
func (o *Orchestrator) AbandonLink() {
	o.mu.Lock()
	had := o.selected != nil
	o.selected = nil
	o.linkErr = nil
	o.mu.Unlock()
	if had {
		o.emit(EventSelection, "selection cleared")
	}
}

// Close stops the session. Results of calls still outstanding are discarded
// when they arrive.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.events.send(Event{Type: EventClosed})
	o.events.closeAll()
	o.contacts.Unmount()
	o.gallery.Unmount()

	var errs []error
	if err := o.capture.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera: %w", err))
	}
	if err := o.gallery.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close blob store: %w", err))
	}
	return errors.Join(errs...)
}
