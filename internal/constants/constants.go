// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Remote service constants
const (
	// DefaultAPIURL is the face detection API used when none is configured
	DefaultAPIURL = "http://localhost:5000/api"

	// DefaultRequestTimeout bounds every remote call
	DefaultRequestTimeout = 30 * time.Second
)

// Capture constants
const (
	// DefaultFrameWidth and DefaultFrameHeight bound captured frames
	DefaultFrameWidth  = 720
	DefaultFrameHeight = 480

	// DefaultJPEGQuality is the encoder quality for captured frames
	DefaultJPEGQuality = 92

	// CaptureMimeType is the format the remote service expects for captures
	CaptureMimeType = "image/jpeg"

	// MaxUploadSize is the largest file accepted by the upload path
	MaxUploadSize = 16 << 20
)

// Contacts constants
const (
	// DeviceImportNote annotates contacts imported from the device
	DeviceImportNote = "Imported from device contacts"
)

// Session constants
const (
	// FaceMatchIoUThreshold is the minimum Intersection over Union for
	// recovering a detected face's id from history
	FaceMatchIoUThreshold = 0.5
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)
