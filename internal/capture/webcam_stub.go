//go:build !gocv

package capture

import (
	"context"
	"errors"
	"image"
)

var errNoWebcam = errors.New("webcam support not compiled in (build with -tags gocv)")

// Webcam is unavailable without the gocv build tag.
type Webcam struct{}

// NewWebcam returns a source whose Open always fails.
func NewWebcam(int) *Webcam {
	return &Webcam{}
}

// Open implements FrameSource.
func (w *Webcam) Open(context.Context) error { return errNoWebcam }

// Frame implements FrameSource.
func (w *Webcam) Frame(context.Context) (image.Image, error) { return nil, ErrNoFrame }

// Close implements FrameSource.
func (w *Webcam) Close() error { return nil }

// WebcamSupported reports whether the binary was built with webcam support.
const WebcamSupported = false
