package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alkime/voiceprint/internal/audio"
	"github.com/alkime/voiceprint/internal/enrollment"
	"github.com/alkime/voiceprint/internal/recording"
	"github.com/alkime/voiceprint/internal/tui"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	stateBuffer     = 16
	logStateTimeout = 100 * time.Millisecond
)

// EnrollCmd is the default command that runs the enrollment TUI.
type EnrollCmd struct{}

// Run executes the enroll command.
//
//nolint:funlen // CLI command with multiple setup steps
func (c *EnrollCmd) Run(g *Globals) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// logs go to a file while the TUI owns the terminal
	a, err := newApp(g, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service()
	if err != nil {
		return err
	}

	persist, err := a.persistence()
	if err != nil {
		return err
	}

	store, err := a.profiles(svc, persist)
	if err != nil {
		return err
	}

	archive, err := a.archive()
	if err != nil {
		return err
	}

	// input

	devConf := audio.NewDeviceConfig(a.cfg.SampleRate)
	levels := audio.NewSampleRingBuffer(a.cfg.SampleRate)

	conf := enrollment.Config{
		Profiles: store,
		Enroller: svc,
		NewDevice: func() (recording.Device, error) {
			return audio.NewCapturer(audio.CapturerConfig{
				Device:      devConf,
				MaxDuration: a.cfg.MaxRecording,
				Levels:      levels,
				Logger:      a.logger,
			}, audio.NewDevice(devConf))
		},
		Logger: a.logger,
	}

	// assign only when configured so the interfaces stay nil otherwise
	if checker := a.checker(); checker != nil {
		conf.Checker = checker
	}

	if archive != nil {
		conf.Archiver = archive
	}

	coord, err := enrollment.New(conf)
	if err != nil {
		return fmt.Errorf("failed to create enrollment coordinator: %w", err)
	}

	states := make(chan enrollment.State, stateBuffer)
	if err := coord.Subscribe(states); err != nil {
		return err
	}

	logC := make(chan enrollment.State, stateBuffer)
	if err := coord.SubscribeWithTimeout(logC, logStateTimeout); err != nil {
		return err
	}

	p := tea.NewProgram(tui.New(tui.Config{
		Ctx:          ctx,
		Cancel:       cancel,
		Dispatcher:   coord,
		States:       states,
		Initial:      coord.Snapshot(),
		Levels:       levels.Window(a.cfg.SampleRate / 2),
		MaxRecording: a.cfg.MaxRecording,
	}))

	wg := sync.WaitGroup{}

	wg.Go(func() {
		logStates(ctx, a.logger, logC)
	})

	var runErr error

	wg.Go(func() {
		runErr = coord.Run(ctx)
		p.Send(tui.DoneMsg{Err: runErr})
	})

	_, tuiErr := p.Run()

	// stops the coordinator if the screen was closed without navigating away
	cancel()
	wg.Wait()

	if tuiErr != nil {
		return fmt.Errorf("failed to run TUI: %w", tuiErr)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	printSummary(coord.Snapshot())

	return nil
}

// logStates records phase changes in the log file.
func logStates(ctx context.Context, logger *slog.Logger, states <-chan enrollment.State) {
	var last enrollment.Phase = -1

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-states:
			if s.Phase == last {
				continue
			}
			last = s.Phase

			attrs := []any{
				"phase", s.Phase,
				"profileId", s.ProfileID,
				"remaining", s.RemainingEnrollments,
			}
			if s.LastError != nil {
				attrs = append(attrs, "lastError", s.LastError.Message, "kind", s.LastError.Kind)
			}

			logger.Info("enrollment state", attrs...)
		}
	}
}

func printSummary(s enrollment.State) {
	switch {
	case s.Phase == enrollment.PhaseCompleted:
		fmt.Println("\nenrollment complete. bye!")
	case s.ProfileID != "":
		fmt.Printf("\n%d enrollment(s) remaining. bye!\n", s.RemainingEnrollments)
	default:
		fmt.Println("\nbye!")
	}
}
