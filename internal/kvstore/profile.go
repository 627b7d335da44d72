package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/alkime/voiceprint/internal/profile"
)

const profileIDKey = "profile:verification-id"

// ProfileIDs persists the verification profile id in the store.
type ProfileIDs struct {
	store *Store
}

var _ profile.Persistence = (*ProfileIDs)(nil)

// ProfileIDs returns the store's profile.Persistence view.
func (s *Store) ProfileIDs() *ProfileIDs {
	return &ProfileIDs{store: s}
}

func (p *ProfileIDs) Load(ctx context.Context) (string, error) {
	val, err := p.store.Get(ctx, profileIDKey)
	if errors.Is(err, ErrNotFound) || (err == nil && len(val) == 0) {
		return "", profile.ErrNoProfile
	}

	if err != nil {
		return "", fmt.Errorf("failed to load profile id: %w", err)
	}

	return string(val), nil
}

func (p *ProfileIDs) Save(ctx context.Context, id string) error {
	if err := p.store.Set(ctx, profileIDKey, []byte(id)); err != nil {
		return fmt.Errorf("failed to save profile id: %w", err)
	}

	return nil
}

// Clear forgets the persisted id.
func (p *ProfileIDs) Clear(ctx context.Context) error {
	if err := p.store.Delete(ctx, profileIDKey); err != nil {
		return fmt.Errorf("failed to clear profile id: %w", err)
	}

	return nil
}
