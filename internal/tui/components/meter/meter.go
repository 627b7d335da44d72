// Package meter renders a one-line input level meter for the microphone.
package meter

import (
	"math"
	"strings"
	"time"

	"github.com/alkime/voiceprint/internal/tui/style"
	"github.com/alkime/voiceprint/pkg/uictl"
	tea "github.com/charmbracelet/bubbletea"
)

// Bar glyphs from silent to full scale.
const bars = " ▁▂▃▄▅▆▇█"

const (
	fullScale = 32767

	// quietLevel and clipLevel are fractions of full scale.
	quietLevel = 0.02
	clipLevel  = 0.98

	frameInterval = 50 * time.Millisecond
)

// TickMsg redraws the meter.
type TickMsg struct{}

// Model shows recent peak levels as bars, oldest on the left.
type Model struct {
	levels uictl.Levels[int16]
	width  int
}

// New creates a meter reading from levels. levels may be nil.
func New(levels uictl.Levels[int16], width int) Model {
	return Model{levels: levels, width: max(1, width)}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if _, ok := msg.(TickMsg); ok {
		return m, tick()
	}

	return m, nil
}

// View renders the bars, or a flat baseline when nothing has been heard.
func (m Model) View() string {
	peaks := m.peaks()
	if peaks == nil {
		return style.Muted.Render(strings.Repeat("▁", m.width))
	}

	glyphs := []rune(bars)
	steps := len(glyphs) - 1

	var sb strings.Builder
	for _, p := range peaks {
		sb.WriteRune(glyphs[min(steps, int(perceived(p)*float64(steps)))])
	}

	return style.Progress.Render(sb.String())
}

// Hint suggests a correction when the input is too quiet or clipping.
func (m Model) Hint() string {
	peaks := m.peaks()
	if peaks == nil {
		return ""
	}

	loudest := 0.0
	for _, p := range peaks {
		loudest = max(loudest, p)
	}

	switch {
	case loudest >= clipLevel:
		return style.Warning.Render("input is clipping, move back from the microphone")
	case loudest < quietLevel:
		return style.Muted.Render("can't hear you, speak up")
	default:
		return ""
	}
}

// peaks returns one peak per column, as a fraction of full scale, or nil
// when no samples are available.
func (m Model) peaks() []float64 {
	if m.levels == nil {
		return nil
	}

	samples := m.levels.Read()
	if len(samples) == 0 {
		return nil
	}

	bucket := max(1, len(samples)/m.width)
	peaks := make([]float64, m.width)

	for col := range peaks {
		start := col * bucket
		if start >= len(samples) {
			break
		}

		var peak int
		for _, s := range samples[start:min(start+bucket, len(samples))] {
			// widen before abs so -32768 does not overflow
			v := int(s)
			if v < 0 {
				v = -v
			}
			peak = max(peak, v)
		}

		peaks[col] = min(1, float64(peak)/fullScale)
	}

	return peaks
}

// perceived lifts quiet levels so normal speech fills most of the bar.
func perceived(level float64) float64 {
	return math.Sqrt(level)
}

func tick() tea.Cmd {
	return tea.Tick(frameInterval, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}
