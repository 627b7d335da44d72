package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/alkime/voiceprint/internal/audio"
	"github.com/alkime/voiceprint/internal/config"
	"github.com/alkime/voiceprint/internal/keyring"
	"github.com/alkime/voiceprint/internal/kvstore"
	"github.com/alkime/voiceprint/internal/logger"
	"github.com/alkime/voiceprint/internal/profile"
	"github.com/alkime/voiceprint/internal/transcription"
	"github.com/alkime/voiceprint/internal/verification"
	"github.com/alkime/voiceprint/internal/workdir"
)

// service is everything the CLI needs from the speaker recognition API.
type service interface {
	profile.Service
	ListPhrases(ctx context.Context) ([]string, error)
	SubmitEnrollment(ctx context.Context, id string, audio []byte) (verification.EnrollmentResult, error)
}

// clearer is implemented by persistence backends that can forget the id.
type clearer interface {
	Clear(ctx context.Context) error
}

// app holds the wiring shared by commands.
type app struct {
	cfg     *config.Config
	dir     workdir.Dir
	logger  *slog.Logger
	globals *Globals
	closers []io.Closer
}

// newApp loads configuration, prepares the data directory and sends logs
// to w. A nil w logs to the data directory's log file.
func newApp(g *Globals, w io.Writer) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if g.DataDir != "" {
		cfg.DataDir = g.DataDir
	}

	if g.Simulate {
		cfg.ProfileStore = config.ProfileStoreMemory
	}

	dir, err := workdir.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}

	a := &app{cfg: cfg, dir: dir, globals: g}

	if w == nil {
		f, err := logger.OpenLogFile(dir.LogPath())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, f)
		w = f
	}

	a.logger = logger.SetupTextLogger(cfg, w)

	return a, nil
}

// Close releases stores and log files, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}

	return errors.Join(errs...)
}

// service returns the remote API client, or the in-process service when
// simulating.
func (a *app) service() (service, error) {
	if a.globals.Simulate {
		a.logger.Info("using simulated speaker recognition service")

		return verification.NewMemory(verification.MemoryOptions{
			RequiredEnrollments: a.cfg.InitialEnrollments,
		}), nil
	}

	key := a.cfg.SpeakerRecognitionKey
	if key == "" {
		// Environment variable takes priority, fallback to keychain
		secret, err := keyring.Get(keyring.SpeakerRecognition)
		if err != nil {
			a.logger.Debug("keychain lookup failed", "key", "speaker-recognition", "error", err)
		}
		key = secret
	}

	client, err := verification.NewHTTPClient(verification.HTTPConfig{
		Endpoint:        a.cfg.SpeakerRecognitionEndpoint,
		SubscriptionKey: key,
		Locale:          a.cfg.Locale,
		Timeout:         a.cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create speaker recognition client: %w", err)
	}

	return client, nil
}

// persistence opens the configured profile id backend.
func (a *app) persistence() (profile.Persistence, error) {
	switch a.cfg.ProfileStore {
	case config.ProfileStoreBadger:
		store, err := kvstore.Open(kvstore.Options{
			Dir:    a.dir.StorePath(),
			Logger: a.logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)

		return store.ProfileIDs(), nil

	case config.ProfileStoreMemory:
		return profile.NewMemoryPersistence(""), nil

	default:
		return keyring.ProfileIDStore{}, nil
	}
}

func (a *app) profiles(svc service, persist profile.Persistence) (*profile.Store, error) {
	store, err := profile.NewStore(profile.StoreConfig{
		Service:            svc,
		Persistence:        persist,
		InitialEnrollments: a.cfg.InitialEnrollments,
		Logger:             a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create profile store: %w", err)
	}

	return store, nil
}

// checker returns the Whisper phrase check, or nil when no OpenAI key is
// configured.
func (a *app) checker() *transcription.PhraseChecker {
	key := a.cfg.OpenAIAPIKey
	if key == "" {
		if secret, err := keyring.Get(keyring.OpenAI); err == nil {
			key = secret
		} else {
			a.logger.Debug("keychain lookup failed", "key", "openai", "error", err)
		}
	}

	if key == "" {
		a.logger.Debug("phrase check disabled: no OpenAI API key")
		return nil
	}

	whisper, err := transcription.NewWhisper(key)
	if err != nil {
		a.logger.Warn("phrase check disabled", "error", err)
		return nil
	}

	return transcription.NewPhraseChecker(whisper, a.logger)
}

// archive returns the MP3 archive when ARCHIVE_MP3 is set.
func (a *app) archive() (*audio.Archive, error) {
	if !a.cfg.ArchiveMP3 {
		return nil, nil
	}

	archive, err := audio.NewArchive(a.dir.ArchivePath(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare recording archive: %w", err)
	}

	return archive, nil
}
