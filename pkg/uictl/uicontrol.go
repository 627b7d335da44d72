// Package uictl defines the read-only controls the TUI polls for live
// values produced elsewhere.
package uictl

import "golang.org/x/exp/constraints"

type Number interface {
	constraints.Integer | constraints.Float
}

// Levels is a control that reads a window of recent levels.
type Levels[N Number] interface {
	Read() []N
}
