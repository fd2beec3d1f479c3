package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SubmitFunc runs the shared normalization pipeline for one captured frame.
type SubmitFunc func(ctx context.Context, framePath string) error

// SourceFactory opens a fresh frame source for a stream run, so a stopped
// stream can be started again.
type SourceFactory func() (FrameSource, error)

// Streamer periodically grabs a frame from a live source and submits it.
// It runs independently of user-triggered captures; per-frame failures are
// logged and skipped, never abort the loop.
type Streamer struct {
	openSource SourceFactory
	submit     SubmitFunc
	interval   time.Duration
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamer builds a streamer. It does nothing until Start is called.
func NewStreamer(openSource SourceFactory, submit SubmitFunc, interval time.Duration, logger *zap.Logger) *Streamer {
	return &Streamer{
		openSource: openSource,
		submit:     submit,
		interval:   interval,
		logger:     logger.Named("streamer"),
	}
}

// Start opens the frame source and launches the capture loop.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("stream already running")
	}

	source, err := s.openSource()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.run(ctx, source, done)

	s.logger.Info("stream started", zap.Duration("interval", s.interval))
	return nil
}

// Stop cancels the capture loop and waits until the camera resource is
// released. Stopping a stopped streamer is a no-op.
func (s *Streamer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("stream stopped")
}

// Running reports whether the capture loop is active.
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Streamer) run(ctx context.Context, source FrameSource, done chan struct{}) {
	// The source must be released on every exit path.
	defer close(done)
	defer func() {
		if err := source.Close(); err != nil {
			s.logger.Warn("failed to release frame source", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.captureOne(ctx, source)
		}
	}
}

func (s *Streamer) captureOne(ctx context.Context, source FrameSource) {
	path, err := source.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSelection) || errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("frame acquisition failed, skipping", zap.Error(err))
		return
	}

	if err := s.submit(ctx, path); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("frame submission failed, skipping", zap.String("frame", path), zap.Error(err))
	}
}
