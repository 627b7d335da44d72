// Package verification defines the speaker-recognition service surface used
// for voiceprint enrollment, together with an HTTP client for the Speaker
// Recognition v1.0 REST API and an in-memory implementation.
package verification

import (
	"context"
	"errors"
)

// Sentinel errors returned by Client implementations. Callers match them
// with errors.Is.
var (
	// ErrNotFound means the service does not know the requested profile.
	ErrNotFound = errors.New("verification profile not found")
	// ErrRecognition means the service rejected submitted audio
	// (silence, unknown phrase, too noisy, ...).
	ErrRecognition = errors.New("audio not recognized for enrollment")
	// ErrTransport means the service could not be reached or failed
	// to answer (connection errors, timeouts, 5xx, throttling).
	ErrTransport = errors.New("speaker recognition service unavailable")
)

// Profile is a server-side verification profile.
type Profile struct {
	ID                   string
	RemainingEnrollments int
}

// EnrollmentResult is returned by a successful enrollment submission.
// An empty Phrase together with RemainingEnrollments == 0 means the
// profile is fully enrolled.
type EnrollmentResult struct {
	RemainingEnrollments int
	Phrase               string
}

// Completed reports whether the profile needs no further enrollments.
func (r EnrollmentResult) Completed() bool {
	return r.RemainingEnrollments <= 0
}

// Client is the narrow RPC surface of the speaker-recognition service.
type Client interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
	CreateProfile(ctx context.Context) (string, error)
	ResetEnrollments(ctx context.Context, id string) error
	ListPhrases(ctx context.Context) ([]string, error)
	SubmitEnrollment(ctx context.Context, id string, audio []byte) (EnrollmentResult, error)
}

// RecognitionError carries the service's reason for rejecting audio.
// It matches ErrRecognition.
type RecognitionError struct {
	Reason string
}

func (e *RecognitionError) Error() string {
	if e.Reason == "" {
		return ErrRecognition.Error()
	}

	return ErrRecognition.Error() + ": " + e.Reason
}

// Is makes errors.Is(err, ErrRecognition) succeed.
func (e *RecognitionError) Is(target error) bool {
	return target == ErrRecognition
}
