package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/facelink/internal/capture"
	"github.com/kozaktomas/facelink/internal/config"
	"github.com/kozaktomas/facelink/internal/contacts"
	"github.com/kozaktomas/facelink/internal/device"
	"github.com/kozaktomas/facelink/internal/faceapi"
	"github.com/kozaktomas/facelink/internal/gallery"
	"github.com/kozaktomas/facelink/internal/logging"
	"github.com/kozaktomas/facelink/internal/permission"
	"github.com/kozaktomas/facelink/internal/session"
)

// app holds what every command needs: configuration, a logger and the
// detection service client.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	client *faceapi.Client
}

// sessionOptions tunes how a command builds its session.
type sessionOptions struct {
	interactive     bool // prompt on the terminal for permissions
	syncProgress    contacts.ProgressFunc
	uploadProgress  gallery.ProgressFunc
	memoryBlobStore bool
}

// newApp loads configuration and applies the persistent flag overrides.
func newApp() (*app, error) {
	cfg := config.Load()
	if apiURL != "" {
		cfg.API.URL = apiURL
	}
	if captureDir != "" {
		cfg.API.CaptureDir = captureDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	client, err := faceapi.New(cfg.API.URL,
		faceapi.WithTimeout(cfg.API.Timeout),
		faceapi.WithCaptureDir(cfg.API.CaptureDir),
		faceapi.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	if cfg.API.CaptureDir != "" {
		fmt.Fprintf(os.Stderr, "Capturing API responses to: %s\n", cfg.API.CaptureDir)
	}

	return &app{cfg: cfg, logger: logger, client: client}, nil
}

// provider builds the device bridge with the configured pre-granted
// resources, optionally wrapped with terminal prompts.
func (a *app) provider(interactive bool) (device.Provider, error) {
	grants := make([]device.Resource, 0, len(a.cfg.Device.Grants))
	for _, g := range a.cfg.Device.Grants {
		r, err := device.ParseResource(g)
		if err != nil {
			return nil, fmt.Errorf("FACELINK_DEVICE_GRANTS: %w", err)
		}
		grants = append(grants, r)
	}

	var p device.Provider = device.NewBridge(a.cfg.Device.ContactsFile, grants...)
	if interactive || a.cfg.Device.Interactive {
		p = device.NewInteractive(p, os.Stdin, os.Stderr)
	}
	return p, nil
}

// frameSource picks the still-image directory when configured, the webcam otherwise.
func (a *app) frameSource() capture.FrameSource {
	if a.cfg.Camera.StillsDir != "" {
		return capture.NewStillSource(a.cfg.Camera.StillsDir)
	}
	return capture.NewWebcam(a.cfg.Camera.Device)
}

// blobStore opens the on-disk photo cache. When another process holds the
// cache lock the session falls back to memory.
func (a *app) blobStore(memory bool) gallery.BlobStore {
	if memory {
		return gallery.NewMemoryStore()
	}
	store, err := gallery.NewDiskStore(a.cfg.Cache.Dir)
	if err != nil {
		if errors.Is(err, gallery.ErrCacheLocked) {
			a.logger.Warn("photo cache in use, keeping blobs in memory", "dir", a.cfg.Cache.Dir)
		} else {
			a.logger.Warn("photo cache unavailable, keeping blobs in memory", "dir", a.cfg.Cache.Dir, "error", err)
		}
		return gallery.NewMemoryStore()
	}
	return store
}

// newSession wires the capture, contacts and gallery controllers into one
// orchestrator. The caller owns the returned session and must Close it.
func (a *app) newSession(opts sessionOptions) (*session.Orchestrator, error) {
	policy, err := session.ParseDetectPolicy(a.cfg.Session.DetectPolicy)
	if err != nil {
		return nil, err
	}
	provider, err := a.provider(opts.interactive)
	if err != nil {
		return nil, err
	}

	var cp *capture.Controller
	cameraGate := permission.NewGate(device.Camera, provider,
		permission.WithProbe(func(ctx context.Context) error { return cp.Probe(ctx) }),
		permission.WithLogger(a.logger),
	)
	cp = capture.NewController(a.frameSource(), cameraGate,
		capture.WithFrameSize(a.cfg.Camera.FrameWidth, a.cfg.Camera.FrameHeight),
		capture.WithQuality(a.cfg.Camera.JPEGQuality),
		capture.WithLogger(a.logger),
	)

	cc := a.contactsController(provider, opts.syncProgress)
	gc := a.galleryController(provider, opts.memoryBlobStore, opts.uploadProgress)

	return session.New(a.client, cp, cc, gc,
		session.WithPolicy(policy),
		session.WithLogger(a.logger),
	), nil
}

// contactsController builds a standalone contacts controller.
func (a *app) contactsController(provider device.Provider, progress contacts.ProgressFunc) *contacts.Controller {
	opts := []contacts.Option{contacts.WithLogger(a.logger)}
	if progress != nil {
		opts = append(opts, contacts.WithProgress(progress))
	}
	return contacts.New(a.client, provider, opts...)
}

// galleryController builds a standalone gallery controller. The caller must
// Close it to release the blob cache.
func (a *app) galleryController(provider device.Provider, memory bool, progress gallery.ProgressFunc) *gallery.Controller {
	opts := []gallery.Option{
		gallery.WithLogger(a.logger),
		gallery.WithStore(a.blobStore(memory)),
	}
	if progress != nil {
		opts = append(opts, gallery.WithProgress(progress))
	}
	return gallery.New(a.client, provider, opts...)
}

// ensureGranted resolves gate from an existing grant, asking the provider
// when there is none.
func ensureGranted(ctx context.Context, gate *permission.Gate) error {
	state, err := gate.Request(ctx)
	if err != nil {
		return err
	}
	switch state {
	case permission.Granted:
		return nil
	case permission.Denied:
		return gate.Err()
	}
	return gate.Allow(ctx)
}

// commandContext bounds a one-shot command by the API timeout times the
// number of remote calls it may make.
func (a *app) commandContext(calls int) (context.Context, context.CancelFunc) {
	d := a.cfg.API.Timeout * time.Duration(max(calls, 1))
	if d <= 0 {
		d = 2 * time.Minute
	}
	return context.WithTimeout(context.Background(), d)
}

// newProgressBar creates a progress bar, or nil if JSON output.
func newProgressBar(count int, description, unit string, jsonOutput bool) *progressbar.ProgressBar {
	if jsonOutput {
		return nil
	}
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// barProgress adapts a lazily created bar to the controllers' progress
// callbacks, which report the total with every step.
type barProgress struct {
	description string
	unit        string
	quiet       bool
	bar         *progressbar.ProgressBar
}

func (b *barProgress) report(done, total int) {
	if b.quiet {
		return
	}
	if b.bar == nil {
		b.bar = newProgressBar(total, b.description, b.unit, false)
	}
	_ = b.bar.Set(done)
}

// close ends the bar line, whether or not the batch completed.
func (b *barProgress) close() {
	if b.bar == nil {
		return
	}
	_ = b.bar.Exit()
	fmt.Fprintln(os.Stderr)
}
