package enrollment

import (
	"errors"

	"github.com/alkime/voiceprint/internal/profile"
	"github.com/alkime/voiceprint/internal/recording"
	"github.com/alkime/voiceprint/internal/verification"
)

// Phase is the coordinator's position in the enrollment state machine.
type Phase int

const (
	// PhaseIdle accepts a start intent.
	PhaseIdle Phase = iota
	// PhaseRecording has a current capture session.
	PhaseRecording
	// PhaseSubmitting waits for the service to accept a recording.
	PhaseSubmitting
	// PhaseCompleted means the profile is fully enrolled.
	PhaseCompleted
	// PhaseFailed means no usable profile could be resolved.
	PhaseFailed
)

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseRecording:
		return "Recording"
	case PhaseSubmitting:
		return "Submitting"
	case PhaseCompleted:
		return "Completed"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// FailureKind classifies the last error shown to the user.
type FailureKind int

const (
	// FailureDevice means capture could not start or produced no audio.
	FailureDevice FailureKind = iota + 1
	// FailureRecognition means the service rejected the recording.
	FailureRecognition
	// FailureTransport means the service could not be reached.
	FailureTransport
	// FailureReset means enrollment progress could not be reset remotely.
	FailureReset
	// FailureConfiguration means the service account is unusable.
	FailureConfiguration
)

func (k FailureKind) String() string {
	switch k {
	case FailureDevice:
		return "device"
	case FailureRecognition:
		return "recognition"
	case FailureTransport:
		return "transport"
	case FailureReset:
		return "reset"
	case FailureConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Failure is a published, human-readable error marker.
type Failure struct {
	Kind    FailureKind
	Message string
}

// Recoverable reports whether the user can simply try again.
func (f Failure) Recoverable() bool {
	return f.Kind != FailureConfiguration
}

// classify maps an error to its failure kind.
func classify(err error) FailureKind {
	switch {
	case errors.Is(err, profile.ErrConfiguration):
		return FailureConfiguration
	case errors.Is(err, recording.ErrDeviceStart), errors.Is(err, recording.ErrEmptyCapture):
		return FailureDevice
	case errors.Is(err, verification.ErrRecognition):
		return FailureRecognition
	default:
		return FailureTransport
	}
}

func failure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Message: err.Error()}
}

// State is the value published after every transition. It is replaced
// wholesale, never mutated after publication.
type State struct {
	Phase                Phase
	ProfileID            string
	RemainingEnrollments int
	// CurrentPhrase is the phrase the service expects next, nil until the
	// first accepted sample.
	CurrentPhrase *string
	// Phrases is the display-only phrase set fetched at startup.
	Phrases []string
	// LastError is set by a failed transition and cleared by the next
	// successful one.
	LastError *Failure
	// StopArmed is set once stop was requested and capture is flushing.
	StopArmed bool
}

// CanStart reports whether a start intent would be accepted.
func (s State) CanStart() bool {
	return s.Phase == PhaseIdle
}

// CanStop reports whether a stop intent would be accepted.
func (s State) CanStop() bool {
	return s.Phase == PhaseRecording && !s.StopArmed
}

// CanReset reports whether reset should be offered. The coordinator accepts
// reset in any phase; this only reflects what the screen enables.
func (s State) CanReset() bool {
	return s.Phase != PhaseRecording && s.Phase != PhaseFailed
}

// Prompt is the instruction shown under the phrase list.
func (s State) Prompt() string {
	switch s.Phase {
	case PhaseFailed:
		if s.LastError != nil {
			return "Voice verification is unavailable: " + s.LastError.Message
		}

		return "Voice verification is unavailable"
	case PhaseCompleted:
		return "Enrollment complete. Your voice profile is ready."
	case PhaseRecording:
		if s.StopArmed {
			return "Finishing recording..."
		}

		return "Recording... say your phrase, then stop."
	case PhaseSubmitting:
		return "Enrolling your recording..."
	}

	if s.LastError != nil {
		switch s.LastError.Kind {
		case FailureRecognition:
			return "Unrecognized, please try again."
		case FailureDevice:
			return "No audio was captured, please try again."
		}
	}

	if s.CurrentPhrase != nil && *s.CurrentPhrase != "" {
		return "Please repeat: " + *s.CurrentPhrase
	}

	return "Please start recording with one of the above phrases"
}

func stringPtr(s string) *string {
	return &s
}
