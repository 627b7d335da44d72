// Package channels provides small generic helpers for fanning values out to
// channel subscribers.
package channels

import (
	"errors"
)

var (
	ErrChannelClosed  = errors.New("channel closed")
	ErrChannelTimeout = errors.New("send timeout")
	ErrChannelFull    = errors.New("channel full")
	ErrNilChannel     = errors.New("channel cannot be nil")
	ErrAlreadyStarted = errors.New("broadcaster already started")
)
