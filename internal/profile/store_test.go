package profile_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alkime/voiceprint/internal/profile"
	"github.com/alkime/voiceprint/internal/verification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService implements profile.Service for testing.
type fakeService struct {
	profiles  map[string]int
	getErr    error
	returnID  string // overrides the id GetProfile reports, when set
	createIDs []string
	createErr error
	resetErr  error

	creates int
	resets  []string
}

func newFakeService() *fakeService {
	return &fakeService{profiles: map[string]int{}}
}

func (f *fakeService) GetProfile(_ context.Context, id string) (verification.Profile, error) {
	if f.getErr != nil {
		return verification.Profile{}, f.getErr
	}

	remaining, ok := f.profiles[id]
	if !ok {
		return verification.Profile{}, verification.ErrNotFound
	}

	if f.returnID != "" {
		id = f.returnID
	}

	return verification.Profile{ID: id, RemainingEnrollments: remaining}, nil
}

func (f *fakeService) CreateProfile(_ context.Context) (string, error) {
	f.creates++
	if f.createErr != nil {
		return "", f.createErr
	}

	id := f.createIDs[0]
	f.createIDs = f.createIDs[1:]
	if id != "" {
		f.profiles[id] = 3
	}

	return id, nil
}

func (f *fakeService) ResetEnrollments(_ context.Context, id string) error {
	f.resets = append(f.resets, id)
	if f.resetErr != nil {
		return f.resetErr
	}

	f.profiles[id] = 3

	return nil
}

func newStore(t *testing.T, svc profile.Service, persist profile.Persistence) *profile.Store {
	t.Helper()

	store, err := profile.NewStore(profile.StoreConfig{
		Service:     svc,
		Persistence: persist,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	return store
}

func TestResolve_FreshInstallCreatesAndPersists(t *testing.T) {
	svc := newFakeService()
	svc.createIDs = []string{"p1"}
	persist := profile.NewMemoryPersistence("")

	p, err := newStore(t, svc, persist).Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, 3, p.RemainingEnrollments)
	assert.Equal(t, 1, svc.creates)

	id, err := persist.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1", id)
}

func TestResolve_StaleIDReplaced(t *testing.T) {
	svc := newFakeService()
	svc.createIDs = []string{"p10"}
	persist := profile.NewMemoryPersistence("p9")

	p, err := newStore(t, svc, persist).Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "p10", p.ID)

	id, err := persist.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p10", id)
}

func TestResolve_ValidIDReused(t *testing.T) {
	svc := newFakeService()
	svc.profiles["p5"] = 1
	persist := profile.NewMemoryPersistence("p5")

	store := newStore(t, svc, persist)
	p, err := store.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, profile.Profile{ID: "p5", RemainingEnrollments: 1}, p)
	assert.Equal(t, p, store.Current())
	assert.Zero(t, svc.creates)
	assert.Zero(t, persist.Saves(), "no write on the reuse path")
}

func TestResolve_MismatchedIDReplaced(t *testing.T) {
	svc := newFakeService()
	svc.profiles["p5"] = 1
	svc.returnID = "someone-else"
	svc.createIDs = []string{"p6"}

	p, err := newStore(t, svc, profile.NewMemoryPersistence("p5")).Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "p6", p.ID)
	assert.Equal(t, 1, svc.creates)
}

func TestResolve_TransportErrorOnLookupFallsBackToCreate(t *testing.T) {
	svc := newFakeService()
	svc.getErr = verification.ErrTransport
	svc.createIDs = []string{"p2"}

	p, err := newStore(t, svc, profile.NewMemoryPersistence("p1")).Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "p2", p.ID)
	// the remaining count could not be read back, so the initial count is used
	assert.Equal(t, profile.DefaultInitialEnrollments, p.RemainingEnrollments)
}

func TestResolve_EmptyIDIsConfigurationError(t *testing.T) {
	svc := newFakeService()
	svc.createIDs = []string{""}
	persist := profile.NewMemoryPersistence("")

	_, err := newStore(t, svc, persist).Resolve(context.Background())
	require.ErrorIs(t, err, profile.ErrConfiguration)
	assert.NotErrorIs(t, err, profile.ErrUnavailable)
	assert.Zero(t, persist.Saves())
}

func TestResolve_CreateTransportErrorEscalated(t *testing.T) {
	svc := newFakeService()
	svc.createErr = errors.Join(verification.ErrTransport, errors.New("dial tcp: refused"))

	_, err := newStore(t, svc, profile.NewMemoryPersistence("")).Resolve(context.Background())
	require.ErrorIs(t, err, profile.ErrUnavailable)
	assert.ErrorIs(t, err, verification.ErrTransport)
	assert.NotErrorIs(t, err, profile.ErrConfiguration)
}

func TestReset(t *testing.T) {
	t.Run("before resolve", func(t *testing.T) {
		_, err := newStore(t, newFakeService(), profile.NewMemoryPersistence("")).Reset(context.Background())
		assert.ErrorIs(t, err, profile.ErrNotResolved)
	})

	t.Run("keeps id and re-reads progress", func(t *testing.T) {
		svc := newFakeService()
		svc.profiles["p5"] = 1
		persist := profile.NewMemoryPersistence("p5")
		store := newStore(t, svc, persist)

		_, err := store.Resolve(context.Background())
		require.NoError(t, err)

		p, err := store.Reset(context.Background())
		require.NoError(t, err)

		assert.Equal(t, profile.Profile{ID: "p5", RemainingEnrollments: 3}, p)
		assert.Equal(t, []string{"p5"}, svc.resets)
		assert.Zero(t, svc.creates)
		assert.Zero(t, persist.Saves())
	})

	t.Run("falls back to initial count", func(t *testing.T) {
		svc := newFakeService()
		svc.profiles["p5"] = 1
		store := newStore(t, svc, profile.NewMemoryPersistence("p5"))

		_, err := store.Resolve(context.Background())
		require.NoError(t, err)

		svc.getErr = verification.ErrTransport

		p, err := store.Reset(context.Background())
		require.NoError(t, err)
		assert.Equal(t, profile.DefaultInitialEnrollments, p.RemainingEnrollments)
	})

	t.Run("transport failure is reported", func(t *testing.T) {
		svc := newFakeService()
		svc.profiles["p5"] = 1
		store := newStore(t, svc, profile.NewMemoryPersistence("p5"))

		_, err := store.Resolve(context.Background())
		require.NoError(t, err)

		svc.resetErr = verification.ErrTransport

		p, err := store.Reset(context.Background())
		require.ErrorIs(t, err, profile.ErrUnavailable)
		assert.ErrorIs(t, err, verification.ErrTransport)
		assert.Equal(t, 1, p.RemainingEnrollments, "progress untouched on failure")
	})
}
