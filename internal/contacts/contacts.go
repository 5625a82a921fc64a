// Package contacts maintains the contact roster: listing, creation, import
// from the device address book and linking faces to contacts.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/facelink/internal/apperr"
	"github.com/kozaktomas/facelink/internal/constants"
	"github.com/kozaktomas/facelink/internal/device"
	"github.com/kozaktomas/facelink/internal/faceapi"
	"github.com/kozaktomas/facelink/internal/logging"
	"github.com/kozaktomas/facelink/internal/permission"
)

// ErrLinkInFlight is returned when a link for the same face is still running.
var ErrLinkInFlight = errors.New("link already in progress for this face")

// API is the subset of the remote client the controller uses.
type API interface {
	ListContacts(ctx context.Context) ([]faceapi.Contact, error)
	CreateContact(ctx context.Context, fields faceapi.ContactFields) (*faceapi.Contact, error)
	LinkFaceToContact(ctx context.Context, faceID, contactID int) (*faceapi.Ack, error)
}

// ProgressFunc is called after each imported contact.
type ProgressFunc func(done, total int)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithProgress sets the callback reporting device import progress.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Controller) { c.progress = fn }
}

// Controller owns the roster and the contacts permission gate.
type Controller struct {
	api      API
	provider device.Provider
	gate     *permission.Gate
	progress ProgressFunc
	logger   *slog.Logger

	mu      sync.Mutex
	roster  []faceapi.Contact
	err     error
	gen     uint64
	mounted bool
	linking map[int]bool
}

// New creates a mounted controller. Allowing the contacts gate runs one
// device sync.
func New(api API, provider device.Provider, opts ...Option) *Controller {
	c := &Controller{
		api:      api,
		provider: provider,
		mounted:  true,
		linking:  make(map[int]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)
	c.gate = permission.NewGate(device.Contacts, provider,
		permission.WithLogger(c.logger),
		permission.WithOnGrant(func(ctx context.Context) error {
			_, err := c.SyncFromDevice(ctx)
			return err
		}),
	)
	return c
}

// Gate returns the contacts permission gate.
func (c *Controller) Gate() *permission.Gate {
	return c.gate
}

// Mount marks the view active, resolves an existing grant and loads the
// roster when access is already granted.
func (c *Controller) Mount(ctx context.Context) error {
	c.mu.Lock()
	if !c.mounted {
		c.mounted = true
		c.gen++
	}
	c.mu.Unlock()

	state, err := c.gate.Request(ctx)
	if err != nil {
		return c.fail(c.generation(), err)
	}
	if state != permission.Granted {
		return nil
	}
	_, err = c.List(ctx)
	return err
}

// Unmount marks the view inactive. Results of calls still outstanding are
// discarded on arrival and the gate resets to unresolved.
func (c *Controller) Unmount() {
	c.mu.Lock()
	c.mounted = false
	c.gen++
	c.linking = make(map[int]bool)
	c.mu.Unlock()
	c.gate.Reset()
}

func (c *Controller) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// current reports whether a call started at gen may still update state.
// Must be called with c.mu held.
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

// Err returns the error shown in the contacts area, or nil.
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

// Contacts returns a copy of the roster.
func (c *Controller) Contacts() []faceapi.Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]faceapi.Contact(nil), c.roster...)
}

// List fetches the roster from the server and replaces the local copy.
func (c *Controller) List(ctx context.Context) ([]faceapi.Contact, error) {
	gen := c.generation()
	list, err := c.api.ListContacts(ctx)
	if err != nil {
		return nil, c.fail(gen, fmt.Errorf("failed to load contacts: %w", err))
	}

	c.mu.Lock()
	if c.current(gen) {
		c.roster = append([]faceapi.Contact(nil), list...)
	}
	c.mu.Unlock()
	return list, nil
}

// Create validates fields and creates a contact. A blank name fails before
// any network call.
func (c *Controller) Create(ctx context.Context, fields faceapi.ContactFields) (*faceapi.Contact, error) {
	gen := c.generation()
	fields.Name = strings.TrimSpace(fields.Name)
	if fields.Name == "" {
		return nil, c.fail(gen, apperr.Validation("name", "Name is required"))
	}
	if fields.BirthDate != "" {
		if _, err := time.Parse(time.DateOnly, fields.BirthDate); err != nil {
			return nil, c.fail(gen, apperr.Validation("birth_date", "Birth date must be in YYYY-MM-DD format"))
		}
	}

	created, err := c.api.CreateContact(ctx, fields)
	if err != nil {
		return nil, c.fail(gen, fmt.Errorf("failed to create contact: %w", err))
	}

	c.mu.Lock()
	if c.current(gen) {
		c.roster = append(c.roster, *created)
	}
	c.mu.Unlock()
	c.logger.Info("contact created", "id", created.ID, "name", created.Name)
	return created, nil
}

// SyncFromDevice imports the device address book. Entries are created one at
// a time in device order. The batch stops at the first failure and already
// created contacts are kept; the returned count is the number created.
func (c *Controller) SyncFromDevice(ctx context.Context) (int, error) {
	gen := c.generation()
	if err := c.gate.Require(); err != nil {
		return 0, c.fail(gen, err)
	}

	entries, err := c.provider.SyncDeviceContacts(ctx)
	if err != nil {
		return 0, c.fail(gen, fmt.Errorf("failed to sync contacts: %w", err))
	}
	c.logger.Info("importing device contacts", "count", len(entries))

	imported := 0
	for i, entry := range entries {
		_, err := c.Create(ctx, faceapi.ContactFields{
			Name:    entry.Name,
			Phone:   entry.Phone,
			Email:   entry.Email,
			Address: entry.Address,
			Notes:   constants.DeviceImportNote,
		})
		if err != nil {
			c.logger.Warn("device import stopped", "imported", imported, "failed_entry", i, "error", err)
			batchErr := apperr.PartialBatch(imported, i+1, err)
			return imported, c.fail(gen, fmt.Errorf("failed to sync contacts: %w", batchErr))
		}
		imported++
		if c.progress != nil {
			c.progress(imported, len(entries))
		}
	}

	if _, err := c.List(ctx); err != nil {
		return imported, err
	}
	return imported, nil
}

// LinkFace links a stored face to a contact. Only one link per face may run
// at a time.
func (c *Controller) LinkFace(ctx context.Context, faceID, contactID int) (*faceapi.Ack, error) {
	gen := c.generation()
	if faceID <= 0 {
		return nil, c.fail(gen, apperr.Validation("face_id", "No face selected"))
	}

	c.mu.Lock()
	if c.linking[faceID] {
		c.mu.Unlock()
		return nil, ErrLinkInFlight
	}
	c.linking[faceID] = true
	c.mu.Unlock()

	ack, err := c.api.LinkFaceToContact(ctx, faceID, contactID)

	c.mu.Lock()
	if c.gen == gen {
		delete(c.linking, faceID)
	}
	c.mu.Unlock()

	if err != nil {
		return nil, c.fail(gen, fmt.Errorf("failed to link contact to face: %w", err))
	}
	c.logger.Info("face linked to contact", "face_id", faceID, "contact_id", contactID)
	return ack, nil
}
