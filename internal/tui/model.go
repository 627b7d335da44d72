// Package tui is the terminal enrollment screen. It renders the states
// published by the enrollment coordinator and turns key presses into
// intents; it holds no enrollment logic of its own.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alkime/voiceprint/internal/enrollment"
	"github.com/alkime/voiceprint/internal/tui/components/meter"
	"github.com/alkime/voiceprint/internal/tui/style"
	"github.com/alkime/voiceprint/pkg/uictl"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/stopwatch"
	tea "github.com/charmbracelet/bubbletea"
)

const meterWidth = 40

// Dispatcher accepts user intents. *enrollment.Coordinator implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent enrollment.Intent) error
}

// Config wires the screen to a coordinator.
type Config struct {
	// Ctx bounds intent dispatch and the state subscription.
	Ctx    context.Context
	Cancel context.CancelFunc

	Dispatcher Dispatcher
	// States must be subscribed to the coordinator before it runs.
	States  <-chan enrollment.State
	Initial enrollment.State

	// Optional.
	Levels       uictl.Levels[int16]
	MaxRecording time.Duration
}

// StateMsg delivers a published state.
type StateMsg struct {
	State enrollment.State
}

// DoneMsg reports that the coordinator stopped running.
type DoneMsg struct {
	Err error
}

type dispatchErrMsg struct {
	err error
}

// Model is the enrollment screen.
type Model struct {
	conf      Config
	keys      KeyMap
	state     enrollment.State
	spinner   spinner.Model
	stopwatch stopwatch.Model
	meter     meter.Model

	// err is a problem talking to the coordinator itself, as opposed to
	// state.LastError which the coordinator publishes.
	err  error
	done bool
}

// New creates the enrollment screen.
func New(conf Config) Model {
	if conf.Ctx == nil {
		conf.Ctx = context.Background()
	}

	s := spinner.New()
	s.Spinner = spinner.Points

	return Model{
		conf:      conf,
		keys:      DefaultKeyMap(),
		state:     conf.Initial,
		spinner:   s,
		stopwatch: stopwatch.NewWithInterval(100 * time.Millisecond),
		meter:     meter.New(conf.Levels, meterWidth),
	}
}

// Init subscribes to coordinator states and starts the animations.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitForState(),
		m.spinner.Tick,
		m.meter.Init(),
	)
}

// Update handles key presses, coordinator states and animation ticks.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case StateMsg:
		cmd := m.applyState(msg.State)
		return m, tea.Batch(cmd, m.waitForState())

	case DoneMsg:
		m.done = true
		if msg.Err != nil {
			m.err = msg.Err
		}
		return m, m.stopwatch.Stop()

	case dispatchErrMsg:
		m.err = msg.err
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd

	m.spinner, cmd = m.spinner.Update(msg)
	cmds = append(cmds, cmd)

	m.stopwatch, cmd = m.stopwatch.Update(msg)
	cmds = append(cmds, cmd)

	m.meter, cmd = m.meter.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ForceQuit):
		if m.conf.Cancel != nil {
			m.conf.Cancel()
		}

		return m, tea.Quit

	case key.Matches(msg, m.keys.Quit):
		if m.done {
			return m, tea.Quit
		}

		return m, tea.Sequence(m.dispatch(enrollment.IntentNavigateAway), tea.Quit)

	case m.done, m.loading():
		return m, nil

	case key.Matches(msg, m.keys.Start) && m.state.CanStart():
		return m, m.dispatch(enrollment.IntentStart)

	case key.Matches(msg, m.keys.Stop) && m.state.CanStop():
		return m, m.dispatch(enrollment.IntentStop)

	case key.Matches(msg, m.keys.Reset) && m.state.CanReset():
		return m, m.dispatch(enrollment.IntentReset)
	}

	return m, nil
}

// applyState swaps in the new state and starts or stops the recording clock
// on phase changes.
func (m *Model) applyState(next enrollment.State) tea.Cmd {
	prev := m.state
	m.state = next
	m.err = nil

	if prev.Phase == next.Phase {
		return nil
	}

	switch {
	case next.Phase == enrollment.PhaseRecording:
		return tea.Batch(m.stopwatch.Reset(), m.stopwatch.Start())
	case prev.Phase == enrollment.PhaseRecording:
		return m.stopwatch.Stop()
	}

	return nil
}

func (m Model) dispatch(intent enrollment.Intent) tea.Cmd {
	d, ctx := m.conf.Dispatcher, m.conf.Ctx

	return func() tea.Msg {
		if d == nil {
			return nil
		}

		if err := d.Dispatch(ctx, intent); err != nil {
			return dispatchErrMsg{err: fmt.Errorf("failed to send %s: %w", intent, err)}
		}

		return nil
	}
}

// waitForState blocks for the next published state.
func (m Model) waitForState() tea.Cmd {
	states, ctx := m.conf.States, m.conf.Ctx
	if states == nil {
		return nil
	}

	return func() tea.Msg {
		select {
		case s := <-states:
			return StateMsg{State: s}
		case <-ctx.Done():
			return nil
		}
	}
}

// loading is true until the coordinator publishes a resolved profile.
func (m Model) loading() bool {
	return m.state.Phase == enrollment.PhaseIdle && m.state.ProfileID == ""
}

// State returns the state currently on screen.
func (m Model) State() enrollment.State {
	return m.state
}

// View renders the enrollment screen.
func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(style.Title.Render("Voice Enrollment"))
	sb.WriteString("\n")
	sb.WriteString(m.renderProgress())
	sb.WriteString("\n\n")

	sb.WriteString(m.renderPhrases())
	sb.WriteString("\n")

	sb.WriteString(m.renderStatus())
	sb.WriteString("\n\n")

	if e := m.renderErrors(); e != "" {
		sb.WriteString(e)
		sb.WriteString("\n\n")
	}

	sb.WriteString(m.renderHelp())

	return sb.String()
}

func (m Model) renderProgress() string {
	s := m.state

	switch {
	case s.Phase == enrollment.PhaseCompleted:
		return style.Success.Render("Enrolled")
	case s.Phase == enrollment.PhaseFailed:
		return style.Error.Render("Not enrolled")
	case s.ProfileID == "":
		return style.Subtitle.Render("Loading voice profile...")
	default:
		return style.Subtitle.Render(fmt.Sprintf("Profile %s · remaining enrollments: %d",
			s.ProfileID, s.RemainingEnrollments))
	}
}

func (m Model) renderPhrases() string {
	if len(m.state.Phrases) == 0 {
		return ""
	}

	var current string
	if m.state.CurrentPhrase != nil {
		current = *m.state.CurrentPhrase
	}

	var sb strings.Builder

	sb.WriteString(style.Label.Render("Phrases:"))
	sb.WriteString("\n")

	for _, phrase := range m.state.Phrases {
		sb.WriteString(style.Bullet.Render("  • "))
		if phrase == current {
			sb.WriteString(style.Key.Render(phrase))
		} else {
			sb.WriteString(style.Muted.Render(phrase))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m Model) renderStatus() string {
	s := m.state
	prompt := s.Prompt()

	if m.loading() {
		return m.spinner.View() + " " + style.Subtitle.Render("Connecting to the speaker recognition service...")
	}

	switch s.Phase {
	case enrollment.PhaseRecording:
		var sb strings.Builder

		sb.WriteString(m.spinner.View())
		sb.WriteString(" ")
		sb.WriteString(style.Title.Render("Recording"))
		sb.WriteString(" ")
		sb.WriteString(style.Subtitle.Render(m.elapsed()))
		sb.WriteString("\n")
		sb.WriteString(m.meter.View())
		if hint := m.meter.Hint(); hint != "" {
			sb.WriteString(" ")
			sb.WriteString(hint)
		}
		sb.WriteString("\n\n")
		sb.WriteString(style.Subtitle.Render(prompt))

		return sb.String()

	case enrollment.PhaseSubmitting:
		return m.spinner.View() + " " + style.Title.Render(prompt)

	case enrollment.PhaseCompleted:
		return style.Success.Render(prompt)

	case enrollment.PhaseFailed:
		return style.Error.Render(prompt)

	default:
		if s.LastError != nil && s.LastError.Kind != enrollment.FailureTransport {
			return style.Warning.Render(prompt)
		}

		return style.Subtitle.Render(prompt)
	}
}

func (m Model) elapsed() string {
	d := m.stopwatch.Elapsed().Truncate(100 * time.Millisecond)
	if m.conf.MaxRecording > 0 {
		return fmt.Sprintf("%s / %s", d, m.conf.MaxRecording)
	}

	return d.String()
}

func (m Model) renderErrors() string {
	var lines []string

	// the Failed prompt already carries the message
	if e := m.state.LastError; e != nil && m.state.Phase != enrollment.PhaseFailed {
		lines = append(lines, style.Error.Render(fmt.Sprintf("%s error: %s", e.Kind, e.Message)))
	}

	if m.err != nil {
		lines = append(lines, style.Error.Render(m.err.Error()))
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderHelp() string {
	var parts []string

	if !m.done && !m.loading() {
		if m.state.CanStart() {
			parts = append(parts, renderKeyHelp(m.keys.Start))
		}

		if m.state.CanStop() {
			parts = append(parts, renderKeyHelp(m.keys.Stop))
		}

		if m.state.CanReset() {
			parts = append(parts, renderKeyHelp(m.keys.Reset))
		}
	}

	parts = append(parts, renderKeyHelp(m.keys.Quit))

	return strings.Join(parts, "  ")
}

func renderKeyHelp(b key.Binding) string {
	return style.Help.Render("[") + style.Key.Render(b.Help().Key) +
		style.Help.Render("] ") + style.Help.Render(b.Help().Desc)
}
