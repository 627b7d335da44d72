package keyring

import (
	"context"
	"errors"
	"fmt"

	"github.com/alkime/voiceprint/internal/profile"
	"github.com/zalando/go-keyring"
)

const profileIDUser = "verification-profile-id"

// ProfileIDStore persists the verification profile id in the keychain.
type ProfileIDStore struct{}

var _ profile.Persistence = ProfileIDStore{}

func (ProfileIDStore) Load(_ context.Context) (string, error) {
	id, err := keyring.Get(serviceName, profileIDUser)
	if errors.Is(err, keyring.ErrNotFound) || (err == nil && id == "") {
		return "", profile.ErrNoProfile
	}

	if err != nil {
		return "", fmt.Errorf("failed to get profile id from keychain: %w", err)
	}

	return id, nil
}

func (ProfileIDStore) Save(_ context.Context, id string) error {
	if err := keyring.Set(serviceName, profileIDUser, id); err != nil {
		return fmt.Errorf("failed to set profile id in keychain: %w", err)
	}

	return nil
}

// Clear forgets the persisted id.
func (ProfileIDStore) Clear(_ context.Context) error {
	err := keyring.Delete(serviceName, profileIDUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete profile id from keychain: %w", err)
	}

	return nil
}
