package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

var stillExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif"}

// StillSource replays image files from a directory as camera frames, one
// file per frame in name order, wrapping around at the end.
type StillSource struct {
	dir string

	mu    sync.Mutex
	files []string
	next  int
}

// NewStillSource creates a frame source reading images from dir.
func NewStillSource(dir string) *StillSource {
	return &StillSource{dir: dir}
}

// Open implements FrameSource.
func (s *StillSource) Open(_ context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("open still directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(stillExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}

	s.mu.Lock()
	s.files = files
	s.next = 0
	s.mu.Unlock()
	return nil
}

// Frame implements FrameSource.
func (s *StillSource) Frame(_ context.Context) (image.Image, error) {
	s.mu.Lock()
	if len(s.files) == 0 {
		s.mu.Unlock()
		return nil, ErrNoFrame
	}
	path := s.files[s.next%len(s.files)]
	s.next++
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return img, nil
}

// Close implements FrameSource.
func (s *StillSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = nil
	return nil
}
