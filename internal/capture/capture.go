// Package capture acquires still images from a frame source or a user file
// and turns them into payloads for the detection service.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/facelink/internal/apperr"
	"github.com/kozaktomas/facelink/internal/constants"
	"github.com/kozaktomas/facelink/internal/logging"
	"github.com/kozaktomas/facelink/internal/permission"
)

// ErrNoFrame is returned by a FrameSource whose stream is not ready yet.
var ErrNoFrame = errors.New("no frame available")

// Payload is one image ready for submission. It is consumed by a single detect call.
type Payload struct {
	Data     []byte
	MimeType string
	Filename string
}

// FrameSource is a live image stream such as a webcam.
type FrameSource interface {
	Open(ctx context.Context) error
	// Frame returns the current frame or ErrNoFrame.
	Frame(ctx context.Context) (image.Image, error)
	Close() error
}

// Option configures a Controller.
type Option func(*Controller)

// WithFrameSize sets the maximum frame size; larger frames are downscaled.
func WithFrameSize(width, height int) Option {
	return func(c *Controller) {
		c.width = width
		c.height = height
	}
}

// WithQuality sets the JPEG quality used for captured frames.
func WithQuality(q int) Option {
	return func(c *Controller) { c.quality = q }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller produces payloads from the camera (gated) or from files (ungated).
type Controller struct {
	source  FrameSource
	gate    *permission.Gate
	width   int
	height  int
	quality int
	logger  *slog.Logger

	mu     sync.Mutex
	opened bool
}

// NewController creates a capture controller. gate guards Capture; it may be
// nil when the source needs no permission.
func NewController(source FrameSource, gate *permission.Gate, opts ...Option) *Controller {
	c := &Controller{
		source:  source,
		gate:    gate,
		width:   constants.DefaultFrameWidth,
		height:  constants.DefaultFrameHeight,
		quality: constants.DefaultJPEGQuality,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)
	return c
}

// Gate returns the camera gate.
func (c *Controller) Gate() *permission.Gate {
	return c.gate
}

// Probe opens the stream and releases it immediately. It is used as the
// camera gate's probe so the platform answer is definite before any frame.
func (c *Controller) Probe(ctx context.Context) error {
	if c.source == nil {
		return errors.New("no camera configured")
	}
	if err := c.source.Open(ctx); err != nil {
		return err
	}
	return c.source.Close()
}

// Capture grabs one frame and encodes it as JPEG. It returns a nil payload
// and nil error when the stream has no frame yet; the caller may retry.
func (c *Controller) Capture(ctx context.Context) (*Payload, error) {
	if c.gate != nil {
		if err := c.gate.Require(); err != nil {
			return nil, err
		}
	}
	if c.source == nil {
		return nil, errors.New("no camera configured")
	}

	if err := c.ensureOpen(ctx); err != nil {
		return nil, err
	}

	frame, err := c.source.Frame(ctx)
	if errors.Is(err, ErrNoFrame) {
		c.logger.Debug("capture skipped, stream not ready")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}

	data, err := encodeJPEG(fitWithin(frame, c.width, c.height), c.quality)
	if err != nil {
		return nil, err
	}

	return &Payload{
		Data:     data,
		MimeType: constants.CaptureMimeType,
		Filename: fmt.Sprintf("capture-%s.jpg", uuid.NewString()),
	}, nil
}

func (c *Controller) ensureOpen(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return nil
	}
	if err := c.source.Open(ctx); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	c.opened = true
	return nil
}

// Close releases the stream if it is open.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil
	}
	c.opened = false
	return c.source.Close()
}

// UploadFile wraps a user-chosen file. No permission is required.
func (c *Controller) UploadFile(path string) (*Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return c.UploadBytes(filepath.Base(path), data)
}

// UploadBytes wraps uploaded image bytes. JPEG and PNG pass through unchanged;
// other decodable formats are re-encoded as JPEG.
func (c *Controller) UploadBytes(name string, data []byte) (*Payload, error) {
	if len(data) == 0 {
		return nil, apperr.Validation("file", "Please select an image file")
	}
	if len(data) > constants.MaxUploadSize {
		return nil, apperr.Validation("file", fmt.Sprintf("File too large (max %d MB)", constants.MaxUploadSize>>20))
	}

	mimeType := http.DetectContentType(data)
	filename := SanitizeFilename(name)

	switch mimeType {
	case "image/jpeg", "image/png":
		return &Payload{Data: data, MimeType: mimeType, Filename: filename}, nil
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, apperr.Validation("file", "Unsupported file type: "+mimeType)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Validation("file", fmt.Sprintf("Cannot decode %s image", mimeType))
	}
	converted, err := encodeJPEG(img, c.quality)
	if err != nil {
		return nil, err
	}
	filename = strings.TrimSuffix(filename, filepath.Ext(filename)) + ".jpg"
	c.logger.Debug("converted upload to jpeg", "from", mimeType, "filename", filename)
	return &Payload{Data: converted, MimeType: constants.CaptureMimeType, Filename: filename}, nil
}

// fitWithin downscales img to fit maxW x maxH, keeping the aspect ratio.
func fitWithin(img image.Image, maxW, maxH int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxW <= 0 || maxH <= 0 || (w <= maxW && h <= maxH) {
		return img
	}

	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	newW := max(1, int(math.Round(float64(w)*scale)))
	newH := max(1, int(math.Round(float64(h)*scale)))

	resized := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// SanitizeFilename strips directories and diacritics and replaces anything
// outside [A-Za-z0-9._-] with an underscore (e.g. "Jiří Novák.png" -> "Jiri_Novak.png").
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	name, _, _ = transform.String(t, name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "upload"
	}
	return out
}
