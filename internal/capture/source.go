// Package capture acquires image frames from the host camera or picker and
// runs the periodic live-capture loop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/example/facegate/internal/normalize"
)

// ErrNoSelection means no frame was available, or the user cancelled the
// picker. Callers treat it as a silent no-op, never as a failure.
var ErrNoSelection = errors.New("no image selected")

// FrameSource hands out paths of captured image files. The production
// implementation is backed by the host platform; tests use fakes.
type FrameSource interface {
	// Acquire returns the path of the next captured frame, or
	// ErrNoSelection when nothing is available.
	Acquire(ctx context.Context) (string, error)
	// Close releases the underlying capture resource. Safe to call more
	// than once.
	Close() error
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// SpoolSource reads frames from a spool directory the host camera or picker
// writes into. Each file is handed out at most once.
type SpoolSource struct {
	dir string

	mu     sync.Mutex
	seen   map[string]bool
	closed bool
}

// NewSpoolSource opens a spool-directory backed frame source.
func NewSpoolSource(dir string) (*SpoolSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open spool directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("spool path %s is not a directory", dir)
	}
	return &SpoolSource{dir: dir, seen: make(map[string]bool)}, nil
}

// Acquire returns the oldest not-yet-seen image file in the spool directory.
func (s *SpoolSource) Acquire(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", errors.New("frame source is closed")
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("read spool directory: %w", err)
	}

	var candidates []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if !imageExtensions[strings.ToLower(ext)] {
			continue
		}
		// Face crops written next to streamed frames are pipeline
		// output, not new frames.
		if strings.HasSuffix(strings.TrimSuffix(name, ext), normalize.CroppedSuffix) {
			continue
		}
		path := filepath.Join(s.dir, name)
		if s.seen[path] {
			continue
		}
		candidates = append(candidates, path)
	}

	if len(candidates) == 0 {
		return "", ErrNoSelection
	}

	sort.Strings(candidates)
	path := candidates[0]
	s.seen[path] = true
	return path, nil
}

// Close marks the source released. Subsequent Acquire calls fail.
func (s *SpoolSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
