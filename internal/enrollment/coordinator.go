// Package enrollment coordinates voiceprint enrollment: it owns the
// enrollment state machine, runs one recording session at a time and submits
// finished recordings to the speaker recognition service.
//
// All state is owned by the goroutine running Coordinator.Run. Device start,
// device flush and remote calls run on helper goroutines and report back to
// Run through a channel, tagged with the session token they belong to.
// Results whose token is no longer current are dropped.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alkime/voiceprint/internal/profile"
	"github.com/alkime/voiceprint/internal/recording"
	"github.com/alkime/voiceprint/internal/verification"
	"github.com/alkime/voiceprint/pkg/channels"
)

// ErrStopped is returned by Dispatch once Run has returned.
var ErrStopped = errors.New("enrollment coordinator stopped")

const (
	intentBuffer = 8
	eventBuffer  = 8
)

// Intent is a user request.
type Intent int

const (
	// IntentStart begins a recording.
	IntentStart Intent = iota
	// IntentStop ends the current recording and submits it.
	IntentStop
	// IntentReset clears enrollment progress.
	IntentReset
	// IntentNavigateAway leaves enrollment; Run returns.
	IntentNavigateAway
)

func (i Intent) String() string {
	switch i {
	case IntentStart:
		return "start"
	case IntentStop:
		return "stop"
	case IntentReset:
		return "reset"
	case IntentNavigateAway:
		return "navigate-away"
	default:
		return "unknown"
	}
}

// Profiles resolves and resets the active verification profile.
type Profiles interface {
	Resolve(ctx context.Context) (profile.Profile, error)
	Reset(ctx context.Context) (profile.Profile, error)
}

// Enroller is the part of the verification client the coordinator calls.
type Enroller interface {
	ListPhrases(ctx context.Context) ([]string, error)
	SubmitEnrollment(ctx context.Context, id string, audio []byte) (verification.EnrollmentResult, error)
}

// DeviceFactory allocates a capture device for one session.
type DeviceFactory func() (recording.Device, error)

// PhraseChecker screens a recording before it is submitted. An error
// matching verification.ErrRecognition rejects the recording locally;
// any other error is logged and the recording is submitted anyway.
type PhraseChecker interface {
	Check(ctx context.Context, audio []byte, phrases []string) error
}

// Archiver keeps a copy of every accepted recording.
type Archiver interface {
	Archive(rec recording.Recording) error
}

// Config configures a Coordinator.
type Config struct {
	Profiles  Profiles
	Enroller  Enroller
	NewDevice DeviceFactory

	// Optional.
	Checker  PhraseChecker
	Archiver Archiver
	Logger   *slog.Logger
}

// event is a result delivered back to the Run goroutine.
type event interface {
	token() recording.Token
}

type sessionStarted struct {
	tok recording.Token
	err error
}

type sessionCompleted struct {
	comp recording.Completion
}

type submissionDone struct {
	tok         recording.Token
	recordingID string
	result      verification.EnrollmentResult
	err         error
}

func (e sessionStarted) token() recording.Token   { return e.tok }
func (e sessionCompleted) token() recording.Token { return e.comp.Token }
func (e submissionDone) token() recording.Token   { return e.tok }

// Coordinator is the enrollment orchestrator.
type Coordinator struct {
	conf   Config
	logger *slog.Logger

	intents chan Intent
	events  chan event
	quit    chan struct{}

	bcast          *channels.Broadcaster[State]
	hasSubscribers bool
	started        atomic.Bool
	latest         atomic.Pointer[State]

	// owned by the Run goroutine
	out       chan<- State
	state     State
	token     recording.Token
	session   *recording.Session
	ready     bool
	submitted map[string]struct{}
}

// New creates a Coordinator. Subscribers must be added before Run.
func New(conf Config) (*Coordinator, error) {
	if conf.Profiles == nil {
		return nil, errors.New("profiles cannot be nil")
	}

	if conf.Enroller == nil {
		return nil, errors.New("enroller cannot be nil")
	}

	if conf.NewDevice == nil {
		return nil, errors.New("device factory cannot be nil")
	}

	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}

	c := &Coordinator{
		conf:      conf,
		logger:    conf.Logger,
		intents:   make(chan Intent, intentBuffer),
		events:    make(chan event, eventBuffer),
		quit:      make(chan struct{}),
		bcast:     channels.NewBroadcaster[State](),
		submitted: make(map[string]struct{}),
	}
	c.latest.Store(&State{})

	return c, nil
}

// Subscribe registers ch to receive every published State. Sends never
// block; a full channel drops states.
func (c *Coordinator) Subscribe(ch chan<- State) error {
	if err := c.bcast.Subscribe(ch); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	c.hasSubscribers = true

	return nil
}

// SubscribeWithTimeout registers ch; a send waits up to timeout before the
// state is dropped for that subscriber.
func (c *Coordinator) SubscribeWithTimeout(ch chan<- State, timeout time.Duration) error {
	if err := c.bcast.SubscribeWithTimeout(ch, timeout); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	c.hasSubscribers = true

	return nil
}

// Snapshot returns the most recently published state.
func (c *Coordinator) Snapshot() State {
	return *c.latest.Load()
}

// Dispatch queues an intent. Intents are processed in order.
func (c *Coordinator) Dispatch(ctx context.Context, intent Intent) error {
	select {
	case c.intents <- intent:
		return nil
	case <-c.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run resolves the profile, then processes intents until navigate-away
// (returns nil) or ctx is done (returns ctx.Err()). It returns an error
// without entering Idle if no profile can be resolved.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("coordinator already started")
	}

	// The broadcaster outlives ctx so the final state still reaches
	// subscribers after cancellation.
	bctx, bcancel := context.WithCancel(context.WithoutCancel(ctx))

	if c.hasSubscribers {
		out, err := c.bcast.Run(bctx)
		if err != nil {
			bcancel()

			return fmt.Errorf("failed to start state broadcaster: %w", err)
		}
		c.out = out
	}

	defer func() {
		close(c.quit)
		c.abandon(ctx)
		bcancel()
		if c.out != nil {
			c.bcast.Wait()
			c.logDropped()
		}
	}()

	if err := c.initialize(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case intent := <-c.intents:
			if intent == IntentNavigateAway {
				c.logger.Debug("leaving enrollment", "phase", c.state.Phase)
				return nil
			}
			c.handleIntent(ctx, intent)

		case ev := <-c.events:
			if ev.token() != c.token {
				c.logger.Debug("discarding stale event", "event", fmt.Sprintf("%T", ev),
					"eventToken", ev.token(), "currentToken", c.token)
				continue
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Coordinator) initialize(ctx context.Context) error {
	next := State{Phase: PhaseIdle}

	phrases, err := c.conf.Enroller.ListPhrases(ctx)
	if err != nil {
		c.logger.Warn("failed to list verification phrases", "error", err)
		next.LastError = failure(FailureTransport, err)
	} else {
		next.Phrases = phrases
	}

	p, err := c.conf.Profiles.Resolve(ctx)
	if err != nil {
		next.Phase = PhaseFailed
		next.LastError = failure(classify(err), err)
		c.transition(next)

		return fmt.Errorf("failed to resolve verification profile: %w", err)
	}

	next.ProfileID = p.ID
	next.RemainingEnrollments = p.RemainingEnrollments
	c.transition(next)

	return nil
}

func (c *Coordinator) handleIntent(ctx context.Context, intent Intent) {
	switch intent {
	case IntentStart:
		c.start(ctx)
	case IntentStop:
		c.stop(ctx)
	case IntentReset:
		c.reset(ctx)
	default:
		c.logger.Warn("unknown intent", "intent", int(intent))
	}
}

func (c *Coordinator) start(ctx context.Context) {
	if c.state.Phase != PhaseIdle {
		c.logger.Debug("ignoring start", "phase", c.state.Phase)
		return
	}

	dev, err := c.conf.NewDevice()
	if err != nil {
		next := c.state
		next.LastError = failure(FailureDevice, fmt.Errorf("%w: %w", recording.ErrDeviceStart, err))
		c.transition(next)

		return
	}

	c.token++
	c.session = recording.NewSession(c.token, dev)
	c.ready = false

	next := c.state
	next.Phase = PhaseRecording
	next.StopArmed = false
	next.LastError = nil
	c.transition(next)

	go c.runSession(ctx, c.session)
}

// stop arms the Recording -> Submitting transition. The transition itself
// happens when the session's completion arrives.
func (c *Coordinator) stop(ctx context.Context) {
	if c.state.Phase != PhaseRecording || c.state.StopArmed {
		c.logger.Debug("ignoring stop", "phase", c.state.Phase, "armed", c.state.StopArmed)
		return
	}

	next := c.state
	next.StopArmed = true
	c.transition(next)

	// still starting: the stop is applied once the device reports ready
	if c.ready {
		c.stopSession(ctx)
	}
}

func (c *Coordinator) stopSession(ctx context.Context) {
	if err := c.session.Stop(ctx); err != nil {
		c.logger.Error("failed to stop recording session", "error", err)
		c.abandon(ctx)
		c.toIdle(failure(FailureDevice, err))
	}
}

func (c *Coordinator) reset(ctx context.Context) {
	c.abandon(ctx)

	next := c.state
	next.Phase = PhaseIdle
	next.StopArmed = false
	next.CurrentPhrase = nil
	next.LastError = nil

	p, err := c.conf.Profiles.Reset(ctx)
	if err != nil {
		c.logger.Warn("failed to reset enrollments", "error", err)
		next.LastError = failure(FailureReset, err)
	} else {
		next.ProfileID = p.ID
		next.RemainingEnrollments = p.RemainingEnrollments
	}

	c.transition(next)
}

func (c *Coordinator) handleEvent(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case sessionStarted:
		if e.err != nil {
			c.logger.Warn("recording device failed to start", "error", e.err)
			c.session = nil
			c.toIdle(failure(FailureDevice, e.err))

			return
		}

		c.ready = true
		if c.state.StopArmed {
			c.stopSession(ctx)
		}

	case sessionCompleted:
		c.session = nil

		if e.comp.Err != nil {
			c.logger.Warn("recording produced no audio", "error", e.comp.Err)
			c.toIdle(failure(FailureDevice, e.comp.Err))

			return
		}

		c.submit(ctx, e.comp.Recording)

	case submissionDone:
		c.applyResult(e)
	}
}

func (c *Coordinator) submit(ctx context.Context, rec recording.Recording) {
	if _, dup := c.submitted[rec.ID]; dup {
		c.logger.Warn("recording already submitted", "recordingId", rec.ID)
		return
	}
	c.submitted[rec.ID] = struct{}{}

	next := c.state
	next.Phase = PhaseSubmitting
	next.StopArmed = false
	c.transition(next)

	go c.runSubmission(ctx, c.token, next.ProfileID, rec, next.Phrases)
}

func (c *Coordinator) applyResult(e submissionDone) {
	if e.err != nil {
		c.logger.Warn("enrollment rejected", "recordingId", e.recordingID, "error", e.err)
		c.toIdle(failure(classify(e.err), e.err))

		return
	}

	next := c.state
	next.RemainingEnrollments = e.result.RemainingEnrollments
	next.LastError = nil

	if e.result.Completed() {
		next.Phase = PhaseCompleted
		next.CurrentPhrase = nil
		c.logger.Info("enrollment complete", "profileId", next.ProfileID)
	} else {
		next.Phase = PhaseIdle
		if e.result.Phrase != "" {
			next.CurrentPhrase = stringPtr(e.result.Phrase)
		}
		c.logger.Info("enrollment accepted", "profileId", next.ProfileID,
			"remainingEnrollments", next.RemainingEnrollments)
	}

	c.transition(next)
}

func (c *Coordinator) toIdle(f *Failure) {
	next := c.state
	next.Phase = PhaseIdle
	next.StopArmed = false
	next.LastError = f
	c.transition(next)
}

// abandon invalidates the current session, if any, so its completion is
// never applied.
func (c *Coordinator) abandon(ctx context.Context) {
	c.token++
	c.ready = false

	if c.session == nil {
		return
	}

	c.session.Abandon(context.WithoutCancel(ctx))
	c.session = nil
}

func (c *Coordinator) transition(next State) {
	prev := c.state.Phase
	c.state = next

	snapshot := next
	c.latest.Store(&snapshot)

	c.logger.Debug("enrollment transition",
		"from", prev,
		"to", next.Phase,
		"remainingEnrollments", next.RemainingEnrollments,
		"stopArmed", next.StopArmed)

	if c.out != nil {
		c.out <- snapshot
	}
}

func (c *Coordinator) runSession(ctx context.Context, sess *recording.Session) {
	err := sess.Start(ctx)
	if errors.Is(err, recording.ErrAbandoned) {
		return
	}

	c.post(sessionStarted{tok: sess.Token(), err: err})
	if err != nil {
		return
	}

	select {
	case comp, ok := <-sess.Done():
		if !ok {
			return
		}
		c.post(sessionCompleted{comp: comp})
	case <-c.quit:
	}
}

func (c *Coordinator) runSubmission(
	ctx context.Context,
	tok recording.Token,
	profileID string,
	rec recording.Recording,
	phrases []string,
) {
	done := submissionDone{tok: tok, recordingID: rec.ID}

	if c.conf.Checker != nil {
		err := c.conf.Checker.Check(ctx, rec.Audio, phrases)
		if errors.Is(err, verification.ErrRecognition) {
			done.err = err
			c.post(done)

			return
		}
		if err != nil {
			c.logger.Debug("phrase check skipped", "error", err)
		}
	}

	done.result, done.err = c.conf.Enroller.SubmitEnrollment(ctx, profileID, rec.Audio)

	if done.err == nil && c.conf.Archiver != nil {
		if err := c.conf.Archiver.Archive(rec); err != nil {
			c.logger.Warn("failed to archive recording", "recordingId", rec.ID, "error", err)
		}
	}

	c.post(done)
}

// logDropped reports subscribers that fell behind.
func (c *Coordinator) logDropped() {
	for i, st := range c.bcast.Stats() {
		if st.Dropped > 0 {
			c.logger.Debug("state subscriber dropped updates",
				"subscriber", i, "dropped", st.Dropped, "inactive", st.Inactive)
		}
	}
}

func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}
