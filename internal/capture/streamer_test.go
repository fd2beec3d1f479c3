package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeSource struct {
	mu       sync.Mutex
	frames   []string
	err      error
	acquires int
	closes   int
}

func (f *fakeSource) Acquire(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.err != nil {
		return "", f.err
	}
	if len(f.frames) == 0 {
		return "", ErrNoSelection
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSource) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type recordingSubmitter struct {
	mu     sync.Mutex
	frames []string
	errs   []error
}

func (r *recordingSubmitter) submit(ctx context.Context, framePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, framePath)
	if len(r.errs) == 0 {
		return nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return err
}

func (r *recordingSubmitter) submitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStreamerSubmitsFrames(t *testing.T) {
	source := &fakeSource{frames: []string{"a.jpg", "b.jpg"}}
	sub := &recordingSubmitter{}

	streamer := NewStreamer(
		func() (FrameSource, error) { return source, nil },
		sub.submit,
		5*time.Millisecond,
		zap.NewNop(),
	)

	if err := streamer.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(sub.submitted()) >= 2 })
	streamer.Stop()

	frames := sub.submitted()
	if frames[0] != "a.jpg" || frames[1] != "b.jpg" {
		t.Fatalf("unexpected submission order: %v", frames)
	}
}

func TestStreamerSurvivesSubmitFailures(t *testing.T) {
	source := &fakeSource{frames: []string{"a.jpg", "b.jpg", "c.jpg"}}
	sub := &recordingSubmitter{errs: []error{errors.New("transport down")}}

	streamer := NewStreamer(
		func() (FrameSource, error) { return source, nil },
		sub.submit,
		5*time.Millisecond,
		zap.NewNop(),
	)

	if err := streamer.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(sub.submitted()) >= 3 })
	streamer.Stop()
}

func TestStreamerStopReleasesSource(t *testing.T) {
	source := &fakeSource{}
	streamer := NewStreamer(
		func() (FrameSource, error) { return source, nil },
		func(ctx context.Context, framePath string) error { return nil },
		5*time.Millisecond,
		zap.NewNop(),
	)

	if err := streamer.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !streamer.Running() {
		t.Fatal("expected streamer to be running")
	}

	streamer.Stop()
	if streamer.Running() {
		t.Fatal("expected streamer to be stopped")
	}
	if source.closeCount() != 1 {
		t.Fatalf("expected source to be closed exactly once, got %d", source.closeCount())
	}

	// Stop is idempotent.
	streamer.Stop()
	if source.closeCount() != 1 {
		t.Fatalf("second stop must not re-close the source, got %d closes", source.closeCount())
	}
}

func TestStreamerRejectsDoubleStart(t *testing.T) {
	streamer := NewStreamer(
		func() (FrameSource, error) { return &fakeSource{}, nil },
		func(ctx context.Context, framePath string) error { return nil },
		time.Hour,
		zap.NewNop(),
	)

	if err := streamer.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer streamer.Stop()

	if err := streamer.Start(); err == nil {
		t.Fatal("expected error on second start")
	}
}

func TestStreamerStartPropagatesSourceError(t *testing.T) {
	streamer := NewStreamer(
		func() (FrameSource, error) { return nil, errors.New("camera busy") },
		func(ctx context.Context, framePath string) error { return nil },
		time.Millisecond,
		zap.NewNop(),
	)

	if err := streamer.Start(); err == nil {
		t.Fatal("expected error when source cannot be opened")
	}
	if streamer.Running() {
		t.Fatal("streamer must not be running after failed start")
	}
}

func TestStreamerCanRestartAfterStop(t *testing.T) {
	var opened int
	streamer := NewStreamer(
		func() (FrameSource, error) { opened++; return &fakeSource{}, nil },
		func(ctx context.Context, framePath string) error { return nil },
		time.Hour,
		zap.NewNop(),
	)

	if err := streamer.Start(); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	streamer.Stop()

	if err := streamer.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	streamer.Stop()

	if opened != 2 {
		t.Fatalf("expected a fresh source per run, got %d opens", opened)
	}
}
