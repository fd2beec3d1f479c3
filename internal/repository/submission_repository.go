package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/facegate/internal/logging"
)

// Submission represents a persisted recognition submission.
type Submission struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Origin     string    `gorm:"column:origin;size:32"`
	SHA1Hash   string    `gorm:"column:sha1_hash;index;size:40"`
	FaceFound  bool      `gorm:"column:face_found"`
	FaceLeft   int       `gorm:"column:face_left"`
	FaceTop    int       `gorm:"column:face_top"`
	FaceWidth  int       `gorm:"column:face_width"`
	FaceHeight int       `gorm:"column:face_height"`
	Success    bool      `gorm:"column:success"`
	Message    string    `gorm:"column:message;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (Submission) TableName() string {
	return "submissions"
}

// SubmissionRepository provides persistence APIs for submissions.
type SubmissionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSubmissionRepository creates a new repository instance.
func NewSubmissionRepository(db *gorm.DB, logger *zap.Logger) *SubmissionRepository {
	return &SubmissionRepository{
		db:             db,
		logger:         logger.Named("submission_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *SubmissionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Submission{})
}

// Save persists a submission entry, retrying transient database errors.
func (r *SubmissionRepository) Save(ctx context.Context, submission *Submission) error {
	return r.executeWithRetry(ctx, "repository.save_submission", submission.RequestID, func() error {
		return r.db.WithContext(ctx).Create(submission).Error
	})
}

// FindByRequestID retrieves a submission by request identifier.
func (r *SubmissionRepository) FindByRequestID(ctx context.Context, requestID string) (*Submission, error) {
	var submission Submission
	if err := r.db.WithContext(ctx).First(&submission, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &submission, nil
}

// FindDuplicatesByHash retrieves submissions of the same image, excluding the
// request itself.
func (r *SubmissionRepository) FindDuplicatesByHash(ctx context.Context, hash, excludeRequestID string) ([]*Submission, error) {
	var submissions []*Submission
	err := r.db.WithContext(ctx).
		Where("sha1_hash = ? AND request_id <> ?", hash, excludeRequestID).
		Order("created_at DESC").
		Find(&submissions).Error
	if err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *SubmissionRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)

	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
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
