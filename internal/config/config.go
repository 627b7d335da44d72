package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvProduction represents the production environment.
	EnvProduction = "production"
	// EnvDevelopment represents the development environment.
	EnvDevelopment = "development"
)

// Profile id persistence backends.
const (
	ProfileStoreKeyring = "keyring"
	ProfileStoreBadger  = "badger"
	ProfileStoreMemory  = "memory"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Env  string `envconfig:"ENV" default:"development"`
	Port string `envconfig:"PORT" default:"8080"`

	// Security settings
	HSTSMaxAge int    `envconfig:"HSTS_MAX_AGE" default:"31536000"`
	CSPMode    string `envconfig:"CSP_MODE" default:"relaxed"`

	// Logging settings
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Speaker recognition service
	SpeakerRecognitionEndpoint string        `envconfig:"SPEAKER_RECOGNITION_ENDPOINT" default:"https://westus.api.cognitive.microsoft.com/spid/v1.0"`
	SpeakerRecognitionKey      string        `envconfig:"SPEAKER_RECOGNITION_KEY"`
	Locale                     string        `envconfig:"SPEAKER_RECOGNITION_LOCALE" default:"en-us"`
	RequestTimeout             time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	// Enrollment settings
	InitialEnrollments int    `envconfig:"INITIAL_ENROLLMENTS" default:"3"`
	ProfileStore       string `envconfig:"PROFILE_STORE" default:"keyring"`
	DataDir            string `envconfig:"DATA_DIR"`

	// Capture settings
	SampleRate   int           `envconfig:"SAMPLE_RATE" default:"16000"`
	MaxRecording time.Duration `envconfig:"MAX_RECORDING" default:"15s"`
	ArchiveMP3   bool          `envconfig:"ARCHIVE_MP3" default:"false"`

	// Optional phrase pre-check
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
}

// LoadConfig loads configuration from .env file and environment variables.
func LoadConfig() (*Config, error) {
	// Try to load .env file (optional for development)
	if err := godotenv.Load(); err != nil {
		// Not an error if file doesn't exist (expected in production)
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	}

	// Parse environment variables into config struct
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	var errs []error

	switch c.ProfileStore {
	case ProfileStoreKeyring, ProfileStoreBadger, ProfileStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("PROFILE_STORE must be %q, %q or %q, got %q",
			ProfileStoreKeyring, ProfileStoreBadger, ProfileStoreMemory, c.ProfileStore))
	}

	if c.InitialEnrollments <= 0 {
		errs = append(errs, errors.New("INITIAL_ENROLLMENTS must be positive"))
	}

	if c.SampleRate <= 0 {
		errs = append(errs, errors.New("SAMPLE_RATE must be positive"))
	}

	if c.MaxRecording <= 0 {
		errs = append(errs, errors.New("MAX_RECORDING must be positive"))
	}

	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// BuildCSP constructs Content Security Policy based on mode.
func BuildCSP(mode string) string {
	if mode == "strict" {
		// The mock service serves JSON only
		return "default-src 'none'; " +
			"frame-ancestors 'none'; " +
			"base-uri 'none'; " +
			"form-action 'none'"
	}

	// Development/relaxed CSP
	return "default-src 'self'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"script-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data:"
}
