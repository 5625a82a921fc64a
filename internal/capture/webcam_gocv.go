//go:build gocv

package capture

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Webcam reads frames from a local video device through OpenCV.
type Webcam struct {
	deviceID int

	mu  sync.Mutex
	cap *gocv.VideoCapture
}

// NewWebcam creates a webcam source for the given device index.
func NewWebcam(deviceID int) *Webcam {
	return &Webcam{deviceID: deviceID}
}

// Open implements FrameSource.
func (w *Webcam) Open(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cap != nil {
		return nil
	}
	vc, err := gocv.OpenVideoCapture(w.deviceID)
	if err != nil {
		return fmt.Errorf("open video device %d: %w", w.deviceID, err)
	}
	w.cap = vc
	return nil
}

// Frame implements FrameSource.
func (w *Webcam) Frame(_ context.Context) (image.Image, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cap == nil {
		return nil, ErrNoFrame
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := w.cap.Read(&mat); !ok || mat.Empty() {
		return nil, ErrNoFrame
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

// Close implements FrameSource.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cap == nil {
		return nil
	}
	err := w.cap.Close()
	w.cap = nil
	return err
}

// WebcamSupported reports whether the binary was built with webcam support.
const WebcamSupported = true
