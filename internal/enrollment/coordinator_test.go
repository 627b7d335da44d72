package enrollment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alkime/voiceprint/internal/enrollment"
	"github.com/alkime/voiceprint/internal/profile"
	"github.com/alkime/voiceprint/internal/recording"
	"github.com/alkime/voiceprint/internal/verification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

// fakeDevice implements recording.Device for testing.
type fakeDevice struct {
	// startGate and stopGate block Start and Stop until closed, when non-nil
	startGate chan struct{}
	stopGate  chan struct{}
	startErr  error
	audio     []byte

	stops atomic.Int32
}

func (f *fakeDevice) Start(ctx context.Context) error {
	if f.startGate != nil {
		select {
		case <-f.startGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return f.startErr
}

func (f *fakeDevice) Stop(ctx context.Context) ([]byte, error) {
	if f.stopGate != nil {
		select {
		case <-f.stopGate:
		case <-ctx.Done():
		}
	}
	f.stops.Add(1)

	return f.audio, nil
}

// fakeDevices hands out devices built by next, recording each.
type fakeDevices struct {
	next func() *fakeDevice
	err  error

	mu      sync.Mutex
	created []*fakeDevice
}

func newFakeDevices(next func() *fakeDevice) *fakeDevices {
	return &fakeDevices{next: next}
}

func audioDevice() *fakeDevice {
	return &fakeDevice{audio: []byte("RIFF....WAVEfmt ")}
}

func (f *fakeDevices) factory() (recording.Device, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dev := f.next()
	f.created = append(f.created, dev)

	return dev, nil
}

func (f *fakeDevices) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.created)
}

func (f *fakeDevices) last() *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.created[len(f.created)-1]
}

// fakeProfiles implements enrollment.Profiles for testing.
type fakeProfiles struct {
	mu         sync.Mutex
	current    profile.Profile
	resolveErr error
	resetErr   error
	resets     int
}

func (f *fakeProfiles) Resolve(_ context.Context) (profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.current, f.resolveErr
}

func (f *fakeProfiles) Reset(_ context.Context) (profile.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resets++
	if f.resetErr != nil {
		return f.current, f.resetErr
	}
	f.current.RemainingEnrollments = 3

	return f.current, nil
}

type submitResult struct {
	remaining int
	phrase    string
	err       error
}

// fakeEnroller implements enrollment.Enroller for testing.
type fakeEnroller struct {
	phrases []string
	listErr error

	// gate blocks SubmitEnrollment until closed, when non-nil
	gate chan struct{}

	mu      sync.Mutex
	results []submitResult
	calls   []string
}

func (f *fakeEnroller) ListPhrases(_ context.Context) ([]string, error) {
	return f.phrases, f.listErr
}

func (f *fakeEnroller) SubmitEnrollment(
	ctx context.Context,
	id string,
	_ []byte,
) (verification.EnrollmentResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return verification.EnrollmentResult{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}

	if res.err != nil {
		return verification.EnrollmentResult{}, res.err
	}

	return verification.EnrollmentResult{RemainingEnrollments: res.remaining, Phrase: res.phrase}, nil
}

func (f *fakeEnroller) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

type checkerFunc func(ctx context.Context, audio []byte, phrases []string) error

func (f checkerFunc) Check(ctx context.Context, audio []byte, phrases []string) error {
	return f(ctx, audio, phrases)
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived []recording.Recording
}

func (f *fakeArchiver) Archive(rec recording.Recording) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.archived = append(f.archived, rec)

	return nil
}

func (f *fakeArchiver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.archived)
}

// harness runs a coordinator for the duration of a test.
type harness struct {
	c      *enrollment.Coordinator
	states chan enrollment.State
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

func start(t *testing.T, conf enrollment.Config) *harness {
	t.Helper()

	conf.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := enrollment.New(conf)
	require.NoError(t, err)

	h := &harness{
		c:      c,
		states: make(chan enrollment.State, 64),
		done:   make(chan struct{}),
	}
	require.NoError(t, c.Subscribe(h.states))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go func() {
		h.runErr = c.Run(ctx)
		close(h.done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitTimeout):
			t.Error("coordinator did not stop")
		}
	})

	return h
}

func (h *harness) dispatch(t *testing.T, intents ...enrollment.Intent) {
	t.Helper()

	for _, intent := range intents {
		require.NoError(t, h.c.Dispatch(context.Background(), intent))
	}
}

// waitFor reads published states until one satisfies match.
func (h *harness) waitFor(t *testing.T, desc string, match func(enrollment.State) bool) enrollment.State {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-h.states:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, last snapshot: %+v", desc, h.c.Snapshot())
			return enrollment.State{}
		}
	}
}

func (h *harness) waitPhase(t *testing.T, phase enrollment.Phase) enrollment.State {
	t.Helper()

	return h.waitFor(t, phase.String(), func(s enrollment.State) bool {
		return s.Phase == phase
	})
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()

	select {
	case <-h.done:
		return h.runErr
	case <-time.After(waitTimeout):
		t.Fatal("coordinator did not return")
		return nil
	}
}

func p1(remaining int) *fakeProfiles {
	return &fakeProfiles{current: profile.Profile{ID: "p1", RemainingEnrollments: remaining}}
}

func TestCoordinator_RoundAcceptedReturnsToIdle(t *testing.T) {
	t.Parallel()

	enroller := &fakeEnroller{
		phrases: []string{"open sesame", "you can get in without your password"},
		results: []submitResult{{remaining: 2, phrase: "open sesame"}},
	}
	h := start(t, enrollment.Config{
		Profiles:  p1(3),
		Enroller:  enroller,
		NewDevice: newFakeDevices(audioDevice).factory,
	})

	initial := h.waitPhase(t, enrollment.PhaseIdle)
	assert.Equal(t, "p1", initial.ProfileID)
	assert.Equal(t, 3, initial.RemainingEnrollments)
	assert.Nil(t, initial.CurrentPhrase)
	assert.Len(t, initial.Phrases, 2)
	assert.Equal(t, "Please start recording with one of the above phrases", initial.Prompt())

	h.dispatch(t, enrollment.IntentStart)
	h.waitPhase(t, enrollment.PhaseRecording)

	h.dispatch(t, enrollment.IntentStop)
	h.waitPhase(t, enrollment.PhaseSubmitting)

	s := h.waitPhase(t, enrollment.PhaseIdle)
	assert.Equal(t, 2, s.RemainingEnrollments)
	require.NotNil(t, s.CurrentPhrase)
	assert.Equal(t, "open sesame", *s.CurrentPhrase)
	assert.Nil(t, s.LastError)
	assert.Equal(t, s, h.c.Snapshot())
}

func TestCoordinator_ThreeRoundsComplete(t *testing.T) {
	t.Parallel()

	enroller := &fakeEnroller{
		results: []submitResult{
			{remaining: 2, phrase: "open sesame"},
			{remaining: 1, phrase: "open sesame"},
			{remaining: 0},
		},
	}
	archiver := &fakeArchiver{}
	h := start(t, enrollment.Config{
		Profiles:  p1(3),
		Enroller:  enroller,
		NewDevice: newFakeDevices(audioDevice).factory,
		Archiver:  archiver,
	})

	h.waitPhase(t, enrollment.PhaseIdle)

	for _, want := range []int{2, 1} {
		h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)
		s := h.waitFor(t, "next round", func(s enrollment.State) bool {
			return s.Phase == enrollment.PhaseIdle && s.RemainingEnrollments == want
		})
		assert.NotNil(t, s.CurrentPhrase)
	}

	h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)
	final := h.waitPhase(t, enrollment.PhaseCompleted)

	assert.Zero(t, final.RemainingEnrollments)
	assert.Nil(t, final.CurrentPhrase)
	assert.False(t, final.CanStart())
	assert.Equal(t, 3, enroller.submissions())
	assert.Equal(t, 3, archiver.count())
}

func TestCoordinator_StartWhileNotIdleIsNoop(t *testing.T) {
	t.Parallel()

	devices := newFakeDevices(func() *fakeDevice {
		return &fakeDevice{startGate: make(chan struct{}), audio: []byte{1}}
	})
	profiles := p1(3)
	h := start(t, enrollment.Config{
		Profiles:  profiles,
		Enroller:  &fakeEnroller{},
		NewDevice: devices.factory,
	})

	h.waitPhase(t, enrollment.PhaseIdle)
	h.dispatch(t, enrollment.IntentStart)
	rec := h.waitPhase(t, enrollment.PhaseRecording)

	h.dispatch(t, enrollment.IntentStart, enrollment.IntentStart)

	// intents are processed in order; once reset lands the starts were seen
	h.dispatch(t, enrollment.IntentReset)
	h.waitPhase(t, enrollment.PhaseIdle)

	assert.Equal(t, 1, devices.count())
	assert.Equal(t, 3, rec.RemainingEnrollments)
}

func TestCoordinator_DoubleStopSubmitsOnce(t *testing.T) {
	t.Parallel()

	enroller := &fakeEnroller{results: []submitResult{{remaining: 2, phrase: "open sesame"}}}
	h := start(t, enrollment.Config{
		Profiles:  p1(3),
		Enroller:  enroller,
		NewDevice: newFakeDevices(audioDevice).factory,
	})

	h.waitPhase(t, enrollment.PhaseIdle)
	h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop, enrollment.IntentStop)

	h.waitFor(t, "accepted round", func(s enrollment.State) bool {
		return s.Phase == enrollment.PhaseIdle && s.RemainingEnrollments == 2
	})

	// a later stop in Idle is ignored too
	h.dispatch(t, enrollment.IntentStop, enrollment.IntentReset)
	h.waitFor(t, "reset", func(s enrollment.State) bool {
		return s.RemainingEnrollments == 3
	})

	assert.Equal(t, 1, enroller.submissions())
}

func TestCoordinator_StopBeforeDeviceReady(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	devices := newFakeDevices(func() *fakeDevice {
		return &fakeDevice{startGate: gate, audio: []byte{1, 2, 3}}
	})
	enroller := &fakeEnroller{results: []submitResult{{remaining: 2, phrase: "open sesame"}}}
	h := start(t, enrollment.Config{
		Profiles:  p1(3),
		Enroller:  enroller,
		NewDevice: devices.factory,
	})

	h.waitPhase(t, enrollment.PhaseIdle)
	h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)

	armed := h.waitFor(t, "armed stop", func(s enrollment.State) bool {
		return s.Phase == enrollment.PhaseRecording && s.StopArmed
	})
	assert.False(t, armed.CanStop())
	assert.Zero(t, enroller.submissions())

	close(gate)

	h.waitFor(t, "accepted round", func(s enrollment.State) bool {
		return s.Phase == enrollment.PhaseIdle && s.RemainingEnrollments == 2
	})
	assert.Equal(t, int32(1), devices.last().stops.Load())
	assert.Equal(t, 1, enroller.submissions())
}

func TestCoordinator_ResetDiscardsLateCompletion(t *testing.T) {
	t.Parallel()

	stopGate := make(chan struct{})
	devices := newFakeDevices(func() *fakeDevice {
		return &fakeDevice{stopGate: stopGate, audio: []byte{1}}
	})
	enroller := &fakeEnroller{results: []submitResult{{remaining: 2}}}
	profiles := p1(2)
	h := start(t, enrollment.Config{
		Profiles:  profiles,
		Enroller:  enroller,
		NewDevice: devices.factory,
	})

	h.waitPhase(t, enrollment.PhaseIdle)
	h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)
	h.waitFor(t, "armed stop", func(s enrollment.State) bool {
		return s.Phase == enrollment.PhaseRecording && s.StopArmed
	})

	h.dispatch(t, enrollment.IntentReset)
	s := h.waitPhase(t, enrollment.PhaseIdle)
	assert.Equal(t, 3, s.RemainingEnrollments)
	assert.Nil(t, s.CurrentPhrase)
	assert.Nil(t, s.LastError)

	// the device flushes after the reset
	close(stopGate)

	require.Eventually(t, func() bool {
		return devices.last().stops.Load() >= 1
	}, waitTimeout, 10*time.Millisecond)

	assert.Never(t, func() bool {
		return enroller.submissions() > 0 || h.c.Snapshot().Phase != enrollment.PhaseIdle
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestCoordinator_ResetWhileRecordingReleasesDevice(t *testing.T) {
	t.Parallel()

	devices := newFakeDevices(audioDevice)
	enroller := &fakeEnroller{}
	h := start(t, enrollment.Config{
		Profiles:  p1(3),
		Enroller:  enroller,
		NewDevice: devices.factory,
	})

	h.waitPhase(t, enrollment.PhaseIdle)
	h.dispatch(t, enrollment.IntentStart)
	h.waitPhase(t, enrollment.PhaseRecording)

	require.Eventually(t, func() bool {
		return devices.count() == 1
	}, waitTimeout, 10*time.Millisecond)

	h.dispatch(t, enrollment.IntentReset)
	h.waitPhase(t, enrollment.PhaseIdle)

	require.Eventually(t, func() bool {
		return devices.last().stops.Load() == 1
	}, waitTimeout, 10*time.Millisecond)
	assert.Zero(t, enroller.submissions())
}

func TestCoordinator_ResetWhileSubmittingIgnoresResult(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	enroller := &fakeEnroller{
		gate:    gate,
		results: []submitResult{{remaining: 0}},
	}
	h := start(t, enrollment.Config{
		Profiles:  p1(1),
		Enroller:  enroller,
		NewDevice: newFakeDevices(audioDevice).factory,
	})

	h.waitPhase(t, enrollment.PhaseIdle)
	h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)
	h.waitPhase(t, enrollment.PhaseSubmitting)

	h.dispatch(t, enrollment.IntentReset)
	s := h.waitPhase(t, enrollment.PhaseIdle)
	assert.Equal(t, 3, s.RemainingEnrollments)

	close(gate)

	assert.Never(t, func() bool {
		return h.c.Snapshot().Phase == enrollment.PhaseCompleted
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 3, h.c.Snapshot().RemainingEnrollments)
}

func TestCoordinator_ResetFailureKeepsProgress(t *testing.T) {
	t.Parallel()

	profiles := p1(2)
	profiles.resetErr = errors.Join(profile.ErrUnavailable, verification.ErrTransport)
	h := start(t, enrollment.Config{
		Profiles:  profiles,
		Enroller:  &fakeEnroller{},
		NewDevice: newFakeDevices(audioDevice).factory,
	})

	h.waitPhase(t, enrollment.PhaseIdle)
	h.dispatch(t, enrollment.IntentReset)

	s := h.waitFor(t, "reset failure", func(s enrollment.State) bool {
		return s.LastError != nil
	})
	assert.Equal(t, enrollment.PhaseIdle, s.Phase)
	assert.Equal(t, enrollment.FailureReset, s.LastError.Kind)
	assert.Equal(t, 2, s.RemainingEnrollments)
}

func TestCoordinator_RecognitionFailureKeepsProgress(t *testing.T) {
	t.Parallel()

	enroller := &fakeEnroller{
		results: []submitResult{
			{remaining: 2, phrase: "open sesame"},
			{err: &verification.RecognitionError{Reason: "Invalid verification phrase"}},
		},
	}
	h := start(t, enrollment.Config{
		Profiles:  p1(3),
		Enroller:  enroller,
		NewDevice: newFakeDevices(audioDevice).factory,
	})

	h.waitPhase(t, enrollment.PhaseIdle)
	h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)
	h.waitFor(t, "first round", func(s enrollment.State) bool {
		return s.Phase == enrollment.PhaseIdle && s.RemainingEnrollments == 2
	})

	h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)
	s := h.waitFor(t, "rejected round", func(s enrollment.State) bool {
		return s.Phase == enrollment.PhaseIdle && s.LastError != nil
	})

	assert.Equal(t, enrollment.FailureRecognition, s.LastError.Kind)
	assert.True(t, s.LastError.Recoverable())
	assert.Equal(t, 2, s.RemainingEnrollments)
	require.NotNil(t, s.CurrentPhrase)
	assert.Equal(t, "open sesame", *s.CurrentPhrase)
	assert.Equal(t, "Unrecognized, please try again.", s.Prompt())

	// the next start clears the error
	h.dispatch(t, enrollment.IntentStart)
	r := h.waitPhase(t, enrollment.PhaseRecording)
	assert.Nil(t, r.LastError)
}

func TestCoordinator_TransportFailureOnSubmit(t *testing.T) {
	t.Parallel()

	enroller := &fakeEnroller{
		results: []submitResult{{err: errors.Join(verification.ErrTransport, errors.New("connection refused"))}},
	}
	h := start(t, enrollment.Config{
		Profiles:  p1(3),
		Enroller:  enroller,
		NewDevice: newFakeDevices(audioDevice).factory,
	})

	h.waitPhase(t, enrollment.PhaseIdle)
	h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)

	s := h.waitFor(t, "failed round", func(s enrollment.State) bool {
		return s.Phase == enrollment.PhaseIdle && s.LastError != nil
	})
	assert.Equal(t, enrollment.FailureTransport, s.LastError.Kind)
	assert.Equal(t, 3, s.RemainingEnrollments)
}

func TestCoordinator_DeviceFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		devices *fakeDevices
	}{
		{
			name: "start error",
			devices: newFakeDevices(func() *fakeDevice {
				return &fakeDevice{startErr: errors.New("no microphone")}
			}),
		},
		{
			name:    "allocation error",
			devices: &fakeDevices{err: errors.New("no capture backend")},
		},
		{
			name: "empty capture",
			devices: newFakeDevices(func() *fakeDevice {
				return &fakeDevice{}
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			enroller := &fakeEnroller{}
			h := start(t, enrollment.Config{
				Profiles:  p1(3),
				Enroller:  enroller,
				NewDevice: tt.devices.factory,
			})

			h.waitPhase(t, enrollment.PhaseIdle)
			h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)

			s := h.waitFor(t, "device failure", func(s enrollment.State) bool {
				return s.Phase == enrollment.PhaseIdle && s.LastError != nil
			})
			assert.Equal(t, enrollment.FailureDevice, s.LastError.Kind)
			assert.Equal(t, 3, s.RemainingEnrollments)
			assert.Zero(t, enroller.submissions())
		})
	}
}

func TestCoordinator_CompletedIgnoresStartAndStop(t *testing.T) {
	t.Parallel()

	devices := newFakeDevices(audioDevice)
	h := start(t, enrollment.Config{
		Profiles:  p1(1),
		Enroller:  &fakeEnroller{results: []submitResult{{remaining: 0}}},
		NewDevice: devices.factory,
	})

	h.waitPhase(t, enrollment.PhaseIdle)
	h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)
	h.waitPhase(t, enrollment.PhaseCompleted)

	h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)
	assert.Never(t, func() bool {
		return h.c.Snapshot().Phase != enrollment.PhaseCompleted
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, devices.count())

	// reset re-enrolls
	h.dispatch(t, enrollment.IntentReset)
	s := h.waitPhase(t, enrollment.PhaseIdle)
	assert.Equal(t, 3, s.RemainingEnrollments)
}

func TestCoordinator_ZeroRemainingAtStartupStaysIdle(t *testing.T) {
	t.Parallel()

	h := start(t, enrollment.Config{
		Profiles:  p1(0),
		Enroller:  &fakeEnroller{},
		NewDevice: newFakeDevices(audioDevice).factory,
	})

	s := h.waitPhase(t, enrollment.PhaseIdle)
	assert.Zero(t, s.RemainingEnrollments)
}

func TestCoordinator_ResolveFailure(t *testing.T) {
	t.Parallel()

	profiles := &fakeProfiles{resolveErr: errors.Join(profile.ErrConfiguration, errors.New("empty profile id"))}
	h := start(t, enrollment.Config{
		Profiles:  profiles,
		Enroller:  &fakeEnroller{},
		NewDevice: newFakeDevices(audioDevice).factory,
	})

	s := h.waitPhase(t, enrollment.PhaseFailed)
	require.NotNil(t, s.LastError)
	assert.Equal(t, enrollment.FailureConfiguration, s.LastError.Kind)
	assert.False(t, s.LastError.Recoverable())
	assert.False(t, s.CanStart())

	err := h.wait(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, profile.ErrConfiguration)
	assert.Equal(t, enrollment.PhaseFailed, h.c.Snapshot().Phase)
}

func TestCoordinator_PhraseListFailureIsRecoverable(t *testing.T) {
	t.Parallel()

	h := start(t, enrollment.Config{
		Profiles:  p1(3),
		Enroller:  &fakeEnroller{listErr: verification.ErrTransport},
		NewDevice: newFakeDevices(audioDevice).factory,
	})

	s := h.waitPhase(t, enrollment.PhaseIdle)
	assert.Empty(t, s.Phrases)
	require.NotNil(t, s.LastError)
	assert.Equal(t, enrollment.FailureTransport, s.LastError.Kind)
	assert.True(t, s.CanStart())
}

func TestCoordinator_PhraseChecker(t *testing.T) {
	t.Parallel()

	t.Run("rejection skips submission", func(t *testing.T) {
		t.Parallel()

		enroller := &fakeEnroller{results: []submitResult{{remaining: 2}}}
		var seen []string
		checker := checkerFunc(func(_ context.Context, _ []byte, phrases []string) error {
			seen = phrases
			return &verification.RecognitionError{Reason: "phrase not recognized"}
		})
		h := start(t, enrollment.Config{
			Profiles:  p1(3),
			Enroller:  enroller,
			NewDevice: newFakeDevices(audioDevice).factory,
			Checker:   checker,
		})

		initial := h.waitPhase(t, enrollment.PhaseIdle)
		h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)

		s := h.waitFor(t, "rejected round", func(s enrollment.State) bool {
			return s.Phase == enrollment.PhaseIdle && s.LastError != nil
		})
		assert.Equal(t, enrollment.FailureRecognition, s.LastError.Kind)
		assert.Zero(t, enroller.submissions())
		assert.Equal(t, initial.Phrases, seen)
	})

	t.Run("checker outage still submits", func(t *testing.T) {
		t.Parallel()

		enroller := &fakeEnroller{results: []submitResult{{remaining: 2}}}
		checker := checkerFunc(func(context.Context, []byte, []string) error {
			return errors.New("transcription unavailable")
		})
		h := start(t, enrollment.Config{
			Profiles:  p1(3),
			Enroller:  enroller,
			NewDevice: newFakeDevices(audioDevice).factory,
			Checker:   checker,
		})

		h.waitPhase(t, enrollment.PhaseIdle)
		h.dispatch(t, enrollment.IntentStart, enrollment.IntentStop)

		h.waitFor(t, "accepted round", func(s enrollment.State) bool {
			return s.Phase == enrollment.PhaseIdle && s.RemainingEnrollments == 2
		})
		assert.Equal(t, 1, enroller.submissions())
	})
}

func TestCoordinator_NavigateAway(t *testing.T) {
	t.Parallel()

	devices := newFakeDevices(audioDevice)
	h := start(t, enrollment.Config{
		Profiles:  p1(3),
		Enroller:  &fakeEnroller{},
		NewDevice: devices.factory,
	})

	h.waitPhase(t, enrollment.PhaseIdle)
	h.dispatch(t, enrollment.IntentStart)
	h.waitPhase(t, enrollment.PhaseRecording)
	require.Eventually(t, func() bool {
		return devices.count() == 1
	}, waitTimeout, 10*time.Millisecond)

	h.dispatch(t, enrollment.IntentNavigateAway)
	require.NoError(t, h.wait(t))

	require.Eventually(t, func() bool {
		return devices.last().stops.Load() == 1
	}, waitTimeout, 10*time.Millisecond)

	err := h.c.Dispatch(context.Background(), enrollment.IntentStart)
	assert.ErrorIs(t, err, enrollment.ErrStopped)
}

func TestCoordinator_ContextCancelled(t *testing.T) {
	t.Parallel()

	h := start(t, enrollment.Config{
		Profiles:  p1(3),
		Enroller:  &fakeEnroller{},
		NewDevice: newFakeDevices(audioDevice).factory,
	})

	h.waitPhase(t, enrollment.PhaseIdle)
	h.cancel()

	assert.ErrorIs(t, h.wait(t), context.Canceled)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := enrollment.New(enrollment.Config{Enroller: &fakeEnroller{}, NewDevice: audioFactory})
	assert.ErrorContains(t, err, "profiles cannot be nil")

	_, err = enrollment.New(enrollment.Config{Profiles: p1(3), NewDevice: audioFactory})
	assert.ErrorContains(t, err, "enroller cannot be nil")

	_, err = enrollment.New(enrollment.Config{Profiles: p1(3), Enroller: &fakeEnroller{}})
	assert.ErrorContains(t, err, "device factory cannot be nil")
}

func audioFactory() (recording.Device, error) {
	return audioDevice(), nil
}
