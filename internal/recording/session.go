// Package recording wraps a single audio capture attempt.
//
// A Session moves Idle -> Recording -> Stopping -> Done. Its result is
// delivered on a one-shot channel: exactly one Completion is sent and the
// channel is closed. An abandoned session closes the channel without sending,
// so a stale capture can never be observed by a receiver.
package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDeviceStart means the capture device could not be started. No audio
	// exists and nothing should be submitted.
	ErrDeviceStart = errors.New("capture device failed to start")
	// ErrEmptyCapture means the device stopped without usable audio.
	ErrEmptyCapture = errors.New("capture produced no usable audio")
	// ErrInvalidState is returned for Start outside Idle and Stop outside
	// Recording.
	ErrInvalidState = errors.New("invalid recording session state")
	// ErrAbandoned is returned by Start when the session was abandoned while
	// the device was starting.
	ErrAbandoned = errors.New("recording session abandoned")
)

// Device is a capture device driving one session. Stop blocks until buffered
// audio is flushed and returns the finished audio.
type Device interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) ([]byte, error)
}

// Token identifies a session generation.
type Token uint64

// Recording is a finished capture.
type Recording struct {
	ID         string
	Audio      []byte
	CapturedAt time.Time
}

// Completion is the single event a session produces once stopped. Err is
// set (typically ErrEmptyCapture) when no usable audio was produced.
type Completion struct {
	Token     Token
	Recording Recording
	Err       error
}

type state int

const (
	stateIdle state = iota
	stateStarting
	stateRecording
	stateStopping
	stateDone
	stateAbandoned
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateStarting:
		return "starting"
	case stateRecording:
		return "recording"
	case stateStopping:
		return "stopping"
	case stateDone:
		return "done"
	case stateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Session is one capture attempt.
type Session struct {
	token Token
	dev   Device
	now   func() time.Time

	mu    sync.Mutex
	state state

	done      chan Completion
	closeOnce sync.Once
}

// NewSession creates an idle session for the given device.
func NewSession(token Token, dev Device) *Session {
	return &Session{
		token: token,
		dev:   dev,
		now:   time.Now,
		state: stateIdle,
		done:  make(chan Completion, 1),
	}
}

// Token returns the generation this session was created for.
func (s *Session) Token() Token {
	return s.token
}

// Done returns the one-shot completion channel. It yields at most one value
// and is then closed. It is closed without a value if the session is
// abandoned or the device fails to start.
func (s *Session) Done() <-chan Completion {
	return s.done
}

// Start starts the device and blocks until it is ready or has failed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateIdle {
		st := s.state
		s.mu.Unlock()

		return fmt.Errorf("%w: start from %s", ErrInvalidState, st)
	}
	s.state = stateStarting
	s.mu.Unlock()

	err := s.dev.Start(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateAbandoned {
		if err == nil {
			// nobody will ever stop this capture, release the device now
			go s.release(context.WithoutCancel(ctx))
		}

		return ErrAbandoned
	}

	if err != nil {
		s.state = stateDone
		s.finish(nil)

		return fmt.Errorf("%w: %w", ErrDeviceStart, err)
	}

	s.state = stateRecording

	return nil
}

// Stop asks the device to stop. The Completion is delivered asynchronously
// on Done once the device has flushed. Calling Stop again is rejected with
// ErrInvalidState and never yields a second event.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateRecording {
		st := s.state
		s.mu.Unlock()

		return fmt.Errorf("%w: stop from %s", ErrInvalidState, st)
	}
	s.state = stateStopping
	s.mu.Unlock()

	go func() {
		audio, err := s.dev.Stop(ctx)
		if err == nil && len(audio) == 0 {
			err = ErrEmptyCapture
		}

		comp := Completion{Token: s.token, Err: err}
		if err == nil {
			comp.Recording = Recording{
				ID:         uuid.NewString(),
				Audio:      audio,
				CapturedAt: s.now(),
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.state == stateAbandoned {
			return
		}

		s.state = stateDone
		s.finish(&comp)
	}()

	return nil
}

// Abandon detaches the session. Any capture in progress is stopped and its
// audio discarded; Done is closed without a value.
func (s *Session) Abandon(ctx context.Context) {
	s.mu.Lock()
	prev := s.state
	s.state = stateAbandoned
	s.finish(nil)
	s.mu.Unlock()

	if prev == stateRecording {
		go s.release(ctx)
	}
}

func (s *Session) release(ctx context.Context) {
	_, _ = s.dev.Stop(ctx)
}

// finish delivers comp (if any) and closes the channel. Caller holds mu.
func (s *Session) finish(comp *Completion) {
	s.closeOnce.Do(func() {
		if comp != nil {
			s.done <- *comp
		}
		close(s.done)
	})
}
