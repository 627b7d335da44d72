package verification

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

const (
	// DefaultRequiredEnrollments is the number of accepted samples the
	// service needs before a verification profile is enrolled.
	DefaultRequiredEnrollments = 3

	// defaultMinAudioBytes is roughly one second of 16 kHz mono S16LE audio
	// plus a WAV header.
	defaultMinAudioBytes = 32_044
)

// DefaultPhrases mirrors the verification phrase list published by the
// speaker recognition service for en-us.
var DefaultPhrases = []string{
	"i am going to make him an offer he cannot refuse",
	"houston we have had a problem",
	"my voice is my passport verify me",
	"apple juice tastes funny after toothpaste",
	"you can get in without your password",
	"you can activate security system now",
	"my voice is stronger than passwords",
	"my password is not your business",
	"my name is unknown to you",
	"be yourself everyone else is already taken",
}

// MemoryOptions configures a Memory service.
type MemoryOptions struct {
	// RequiredEnrollments defaults to DefaultRequiredEnrollments.
	RequiredEnrollments int
	// MinAudioBytes is the smallest submission accepted; anything shorter
	// is rejected as a recognition failure.
	MinAudioBytes int
	// Phrases defaults to DefaultPhrases.
	Phrases []string
	// NewID generates profile ids. Defaults to uuid.NewString.
	NewID func() string
}

type memoryProfile struct {
	remaining int
	phrase    string
}

// Memory is an in-process speaker recognition service. It backs the local
// mock server and simulation mode.
type Memory struct {
	mu       sync.RWMutex
	opts     MemoryOptions
	profiles map[string]*memoryProfile
}

// NewMemory builds an in-memory service.
func NewMemory(opts MemoryOptions) *Memory {
	if opts.RequiredEnrollments <= 0 {
		opts.RequiredEnrollments = DefaultRequiredEnrollments
	}

	if opts.MinAudioBytes <= 0 {
		opts.MinAudioBytes = defaultMinAudioBytes
	}

	if len(opts.Phrases) == 0 {
		opts.Phrases = DefaultPhrases
	}

	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Memory{
		opts:     opts,
		profiles: make(map[string]*memoryProfile),
	}
}

func (m *Memory) GetProfile(_ context.Context, id string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}

	return Profile{ID: id, RemainingEnrollments: p.remaining}, nil
}

func (m *Memory) CreateProfile(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.opts.NewID()
	m.profiles[id] = &memoryProfile{remaining: m.opts.RequiredEnrollments}

	return id, nil
}

func (m *Memory) ResetEnrollments(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}

	p.remaining = m.opts.RequiredEnrollments
	p.phrase = ""

	return nil
}

func (m *Memory) ListPhrases(_ context.Context) ([]string, error) {
	return slices.Clone(m.opts.Phrases), nil
}

// SubmitEnrollment accepts any sample at least MinAudioBytes long. The
// profile is bound to the first phrase on its first accepted sample.
func (m *Memory) SubmitEnrollment(_ context.Context, id string, audio []byte) (EnrollmentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[id]
	if !ok {
		return EnrollmentResult{}, ErrNotFound
	}

	if len(audio) < m.opts.MinAudioBytes {
		return EnrollmentResult{}, &RecognitionError{Reason: "audio too short"}
	}

	if p.remaining == 0 {
		return EnrollmentResult{RemainingEnrollments: 0}, nil
	}

	if p.phrase == "" {
		p.phrase = m.opts.Phrases[0]
	}

	p.remaining--
	if p.remaining == 0 {
		return EnrollmentResult{RemainingEnrollments: 0}, nil
	}

	return EnrollmentResult{RemainingEnrollments: p.remaining, Phrase: p.phrase}, nil
}

// RequiredEnrollments is the number of accepted samples a profile needs.
func (m *Memory) RequiredEnrollments() int {
	return m.opts.RequiredEnrollments
}
