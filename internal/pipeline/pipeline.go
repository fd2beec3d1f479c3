// Package pipeline orchestrates a capture run: normalize orientation, detect
// and crop the face, submit the result to the recognition backend.
package pipeline

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/capture"
	"github.com/example/facegate/internal/facedetect"
	"github.com/example/facegate/internal/logging"
	"github.com/example/facegate/internal/normalize"
	"github.com/example/facegate/internal/recognition"
	"github.com/example/facegate/internal/repository"
)

// State of a capture run. A run moves Idle -> Capturing -> Detecting ->
// Submitting -> Idle; any failure short-circuits back to Idle.
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateDetecting
	StateSubmitting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateDetecting:
		return "detecting"
	case StateSubmitting:
		return "submitting"
	default:
		return "unknown"
	}
}

// SubmissionStore defines the persistence operations needed by the pipeline.
type SubmissionStore interface {
	Save(ctx context.Context, submission *repository.Submission) error
	FindByRequestID(ctx context.Context, requestID string) (*repository.Submission, error)
	FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*repository.Submission, error)
}

// Outcome is the result of a completed capture run.
type Outcome struct {
	RequestID string
	Message   string
	FaceBox   facedetect.BoundingBox
	ImagePath string
}

type cachedOutcome struct {
	RequestID string                 `json:"request_id"`
	Origin    string                 `json:"origin"`
	Hash      string                 `json:"sha1_hash"`
	FaceBox   facedetect.BoundingBox `json:"face_box"`
	Success   bool                   `json:"success"`
	Message   string                 `json:"message"`
	CreatedAt time.Time              `json:"created_at"`
}

// Pipeline wires the face locator, the recognition transport, persistence and
// caching into the shared capture flow used by both the user-triggered and
// the periodic paths.
type Pipeline struct {
	locator   facedetect.Locator
	transport recognition.Transport
	store     SubmissionStore
	cache     Cache
	logger    *zap.Logger

	state          atomic.Int32
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New constructs a pipeline.
func New(locator facedetect.Locator, transport recognition.Transport, store SubmissionStore, cache Cache, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		locator:        locator,
		transport:      transport,
		store:          store,
		cache:          cache,
		logger:         logger.Named("pipeline"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// State returns the current pipeline state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// StartStream announces a new live capture stream to the backend.
func (p *Pipeline) StartStream(ctx context.Context) (*recognition.StreamAck, error) {
	ack, err := p.transport.StartStream(ctx)
	if err != nil {
		return nil, transportFailure(err)
	}
	return ack, nil
}

// ProcessAcquired pulls one frame from the source and runs the capture flow.
// A cancelled selection is a silent no-op and produces zero network requests.
func (p *Pipeline) ProcessAcquired(ctx context.Context, source capture.FrameSource, origin string) (*Outcome, error) {
	path, err := source.Acquire(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return p.ProcessFile(ctx, path, origin)
}

// ProcessFile runs the full capture flow for an image file: orientation
// normalization (in place), face detection, clamped crop, and exactly one
// submission to the recognition backend. Every failure is terminal for the
// run; nothing is retried.
func (p *Pipeline) ProcessFile(ctx context.Context, path, origin string) (*Outcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(p.logger, "pipeline.process", requestID)

	p.state.Store(int32(StateCapturing))
	defer p.state.Store(int32(StateIdle))

	if err := normalize.NormalizeOrientation(path); err != nil {
		opLogger.Error("orientation normalization failed", zap.Error(err))
		return nil, classify(err)
	}

	captured, err := normalize.Decode(path)
	if err != nil {
		opLogger.Error("image decode failed", zap.Error(err))
		return nil, classify(err)
	}

	p.state.Store(int32(StateDetecting))

	boxes, err := p.locator.Detect(ctx, captured.Img)
	if err != nil {
		opLogger.Error("face detection failed", zap.Error(err))
		return nil, classify(err)
	}
	if len(boxes) == 0 {
		opLogger.Info("no face detected", zap.String("image", path))
		return nil, classify(ErrNoFaceDetected)
	}

	// First detection in the detector's reported order, remaining faces
	// are discarded.
	box := boxes[0].Clamp(captured.Width, captured.Height)
	if box.Empty() {
		opLogger.Info("detected face box has no usable area", zap.String("image", path))
		return nil, classify(ErrNoFaceDetected)
	}

	submitPath, err := normalize.CropToFace(path, box)
	if err != nil {
		opLogger.Error("face crop failed", zap.Error(err))
		return nil, classify(err)
	}

	p.state.Store(int32(StateSubmitting))

	imageBytes, err := os.ReadFile(submitPath)
	if err != nil {
		opLogger.Error("failed to read cropped image", zap.Error(err))
		return nil, classify(fmt.Errorf("%w: %v", normalize.ErrDecode, err))
	}

	cacheKey := fmt.Sprintf("submission:%s", requestID)
	if err := p.withCacheRetry(ctx, requestID, "cache.set.processing", func() error {
		return p.cache.Set(ctx, cacheKey, "processing", time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, classify(err)
	}

	hash := sha1.Sum(imageBytes)
	hashHex := hex.EncodeToString(hash[:])

	result, err := p.transport.Recognize(ctx, imageBytes)
	if err != nil {
		failure := transportFailure(err)
		p.persist(ctx, opLogger, &repository.Submission{
			RequestID: requestID,
			Origin:    origin,
			SHA1Hash:  hashHex,
			FaceFound: true,
			FaceLeft:  box.Left, FaceTop: box.Top, FaceWidth: box.Width, FaceHeight: box.Height,
			Success:   false,
			Message:   failure.Message,
			CreatedAt: time.Now().UTC(),
		})
		opLogger.Error("recognition submission failed", zap.Error(err))
		return nil, failure
	}

	submission := &repository.Submission{
		RequestID: requestID,
		Origin:    origin,
		SHA1Hash:  hashHex,
		FaceFound: true,
		FaceLeft:  box.Left, FaceTop: box.Top, FaceWidth: box.Width, FaceHeight: box.Height,
		Success:   true,
		Message:   result.Message,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.Save(ctx, submission); err != nil {
		wrapped := logging.NewOperationError("pipeline.save_submission", requestID, err)
		opLogger.Error("failed to persist submission", zap.Error(wrapped))
		return nil, classify(wrapped)
	}

	cached := cachedOutcome{
		RequestID: requestID,
		Origin:    origin,
		Hash:      hashHex,
		FaceBox:   box,
		Success:   true,
		Message:   result.Message,
		CreatedAt: submission.CreatedAt,
	}
	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize outcome", zap.Error(err))
		return nil, classify(err)
	}
	if err := p.withCacheRetry(ctx, requestID, "cache.set.result", func() error {
		return p.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Error("failed to cache outcome", zap.Error(err))
		return nil, classify(err)
	}

	return &Outcome{
		RequestID: requestID,
		Message:   result.Message,
		FaceBox:   box,
		ImagePath: submitPath,
	}, nil
}

// GetResult retrieves a cached submission outcome or loads from persistence.
func (p *Pipeline) GetResult(ctx context.Context, requestID string) (*repository.Submission, error) {
	cacheKey := fmt.Sprintf("submission:%s", requestID)
	if cached, err := p.withCacheGet(ctx, requestID, "cache.get.result", cacheKey); err == nil {
		var payload cachedOutcome
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(p.logger, "pipeline.get_result", requestID).Warn("failed to decode cached outcome", zap.Error(err))
		} else if payload.RequestID != "" {
			return &repository.Submission{
				RequestID:  payload.RequestID,
				Origin:     payload.Origin,
				SHA1Hash:   payload.Hash,
				FaceFound:  true,
				FaceLeft:   payload.FaceBox.Left,
				FaceTop:    payload.FaceBox.Top,
				FaceWidth:  payload.FaceBox.Width,
				FaceHeight: payload.FaceBox.Height,
				Success:    payload.Success,
				Message:    payload.Message,
				CreatedAt:  payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(p.logger, "pipeline.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return p.store.FindByRequestID(ctx, requestID)
}

// DuplicateCount reports how many other submissions carry the same image
// hash. Lookup failures degrade to zero.
func (p *Pipeline) DuplicateCount(ctx context.Context, submission *repository.Submission) int {
	if submission.SHA1Hash == "" {
		return 0
	}
	duplicates, err := p.store.FindDuplicatesByHash(ctx, submission.SHA1Hash, submission.RequestID)
	if err != nil {
		logging.WithOperation(p.logger, "pipeline.find_duplicates", submission.RequestID).Warn("failed to look up duplicate submissions", zap.Error(err))
		return 0
	}
	return len(duplicates)
}

func (p *Pipeline) persist(ctx context.Context, opLogger *zap.Logger, submission *repository.Submission) {
	if err := p.store.Save(ctx, submission); err != nil {
		opLogger.Warn("failed to persist failed submission", zap.Error(err))
	}
}

func (p *Pipeline) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if p.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := p.initialBackoff
	opLogger := logging.WithOperation(p.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < p.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		// A miss is a normal outcome, not a cache failure.
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, requestID, err)
		}

		if !isTransientError(err) || attempt == p.retryAttempts-1 {
			opLogger.Error("cache operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (p *Pipeline) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := p.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := p.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
