package pipeline

import (
	"errors"
	"fmt"

	"github.com/example/facegate/internal/capture"
	"github.com/example/facegate/internal/normalize"
	"github.com/example/facegate/internal/recognition"
)

// ErrNoFaceDetected means the locator found zero faces. Non-fatal: the caller
// shows a message and stops the pipeline run, no automatic retry.
var ErrNoFaceDetected = errors.New("no face detected")

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindNoSelection: the user cancelled the picker. Silent no-op.
	KindNoSelection Kind = iota
	// KindDecode: the image file is unreadable.
	KindDecode
	// KindNoFace: zero detections. User-visible, non-retryable.
	KindNoFace
	// KindConfiguration: the recognition endpoint is not configured.
	KindConfiguration
	// KindTransport: network failure or non-200 from the backend.
	KindTransport
	// KindInternal: persistence or cache failure inside the service.
	KindInternal
)

// Failure is a terminal pipeline error carrying the title+message pair shown
// to the user. No failure triggers an automatic retry.
type Failure struct {
	Kind    Kind
	Title   string
	Message string
	Err     error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Title == "" {
		return fmt.Sprintf("pipeline failure: %v", f.Err)
	}
	return fmt.Sprintf("%s: %s: %v", f.Title, f.Message, f.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Silent reports whether the failure should be swallowed without any user
// feedback.
func (f *Failure) Silent() bool {
	return f.Kind == KindNoSelection
}

func classify(err error) *Failure {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}

	switch {
	case errors.Is(err, capture.ErrNoSelection):
		return &Failure{Kind: KindNoSelection, Err: err}
	case errors.Is(err, normalize.ErrDecode):
		return &Failure{
			Kind:    KindDecode,
			Title:   "Image unreadable",
			Message: "The captured image could not be decoded.",
			Err:     err,
		}
	case errors.Is(err, ErrNoFaceDetected):
		return &Failure{
			Kind:    KindNoFace,
			Title:   "No face detected",
			Message: "No face was found in the image. Center the face and try again.",
			Err:     err,
		}
	case errors.Is(err, recognition.ErrNotConfigured):
		return &Failure{
			Kind:    KindConfiguration,
			Title:   "Recognition unavailable",
			Message: "The recognition endpoint is not configured.",
			Err:     err,
		}
	default:
		return &Failure{
			Kind:    KindInternal,
			Title:   "Processing failed",
			Message: "The capture could not be processed.",
			Err:     err,
		}
	}
}

func transportFailure(err error) *Failure {
	if errors.Is(err, recognition.ErrNotConfigured) {
		return classify(err)
	}

	message := "The recognition service could not be reached."
	var httpErr *recognition.HTTPError
	if errors.As(err, &httpErr) {
		message = fmt.Sprintf("The recognition service returned status %d.", httpErr.StatusCode)
	}
	return &Failure{
		Kind:    KindTransport,
		Title:   "Recognition failed",
		Message: message,
		Err:     err,
	}
}
