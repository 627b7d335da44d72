// Package profile resolves the verification profile used for enrollment:
// it reuses a persisted id while the service still recognizes it, and
// creates and persists a new one otherwise.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alkime/voiceprint/internal/verification"
)

// DefaultInitialEnrollments is the local progress assumed after a reset
// when the service cannot be re-queried.
const DefaultInitialEnrollments = 3

var (
	// ErrConfiguration means the service created a profile without an id.
	// It is fatal: retrying will not help until the account is fixed.
	ErrConfiguration = errors.New("speaker recognition returned an empty profile id")
	// ErrUnavailable means a profile could not be created or reset because
	// the service failed. It wraps the underlying verification error.
	ErrUnavailable = errors.New("verification profile unavailable")
	// ErrNoProfile is returned by Persistence.Load when nothing is stored.
	ErrNoProfile = errors.New("no persisted profile id")
	// ErrNotResolved is returned by Reset before Resolve succeeded.
	ErrNotResolved = errors.New("profile not resolved")
)

// Profile is the active verification profile.
type Profile = verification.Profile

// Persistence stores the profile id across process restarts.
type Persistence interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, id string) error
}

// Service is the part of the verification client the store needs.
type Service interface {
	GetProfile(ctx context.Context, id string) (verification.Profile, error)
	CreateProfile(ctx context.Context) (string, error)
	ResetEnrollments(ctx context.Context, id string) error
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Service     Service
	Persistence Persistence
	// InitialEnrollments defaults to DefaultInitialEnrollments.
	InitialEnrollments int
	Logger             *slog.Logger
}

// Store owns the active Profile.
type Store struct {
	service Service
	persist Persistence
	initial int
	logger  *slog.Logger

	mu      sync.Mutex
	current Profile
}

// NewStore creates a Store.
func NewStore(conf StoreConfig) (*Store, error) {
	if conf.Service == nil {
		return nil, errors.New("service cannot be nil")
	}

	if conf.Persistence == nil {
		return nil, errors.New("persistence cannot be nil")
	}

	if conf.InitialEnrollments <= 0 {
		conf.InitialEnrollments = DefaultInitialEnrollments
	}

	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}

	return &Store{
		service: conf.Service,
		persist: conf.Persistence,
		initial: conf.InitialEnrollments,
		logger:  conf.Logger,
	}, nil
}

// Current returns the last resolved profile.
func (s *Store) Current() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current
}

// Resolve returns the active profile. A persisted id is kept only if the
// service returns a profile with the same id; any failure discards it and
// a new profile is created and persisted.
func (s *Store) Resolve(ctx context.Context) (Profile, error) {
	id, err := s.persist.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoProfile) {
			s.logger.Warn("failed to load persisted profile id", "error", err)
		}
		id = ""
	}

	if id != "" {
		p, err := s.service.GetProfile(ctx, id)
		switch {
		case err != nil:
			s.logger.Info("discarding persisted profile id", "profileId", id, "error", err)
		case p.ID != id:
			s.logger.Info("discarding persisted profile id", "profileId", id, "returnedId", p.ID)
		default:
			s.set(p)
			s.logger.Debug("reusing verification profile", "profileId", id,
				"remainingEnrollments", p.RemainingEnrollments)

			return p, nil
		}
	}

	return s.create(ctx)
}

func (s *Store) create(ctx context.Context) (Profile, error) {
	id, err := s.service.CreateProfile(ctx)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	if id == "" {
		return Profile{}, ErrConfiguration
	}

	if err := s.persist.Save(ctx, id); err != nil {
		return Profile{}, fmt.Errorf("failed to persist profile id %s: %w", id, err)
	}

	p := Profile{ID: id, RemainingEnrollments: s.initial}
	if remote, err := s.service.GetProfile(ctx, id); err == nil && remote.ID == id {
		p = remote
	} else {
		s.logger.Debug("using initial enrollment count for new profile", "profileId", id, "error", err)
	}

	s.set(p)
	s.logger.Info("created verification profile", "profileId", id,
		"remainingEnrollments", p.RemainingEnrollments)

	return p, nil
}

// Reset clears enrollment progress of the current profile remotely, keeping
// its id. The remaining count is re-read from the service; if that read
// fails the configured initial count is used.
func (s *Store) Reset(ctx context.Context) (Profile, error) {
	cur := s.Current()
	if cur.ID == "" {
		return Profile{}, ErrNotResolved
	}

	if err := s.service.ResetEnrollments(ctx, cur.ID); err != nil {
		return cur, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	p := Profile{ID: cur.ID, RemainingEnrollments: s.initial}
	if remote, err := s.service.GetProfile(ctx, cur.ID); err == nil && remote.ID == cur.ID {
		p = remote
	} else {
		s.logger.Warn("could not re-read profile after reset, assuming initial count",
			"profileId", cur.ID, "error", err)
	}

	s.set(p)

	return p, nil
}

func (s *Store) set(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = p
}
