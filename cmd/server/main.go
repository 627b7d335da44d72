// Command server runs a local speaker recognition service for development.
// Point SPEAKER_RECOGNITION_ENDPOINT at http://localhost:$PORT/spid/v1.0.
package main

import (
	"log"

	"github.com/alkime/voiceprint/internal/config"
	"github.com/alkime/voiceprint/internal/logger"
	"github.com/alkime/voiceprint/internal/server"
	"github.com/alkime/voiceprint/internal/verification"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup structured logging
	l := logger.SetupLogger(cfg)

	l.Info("Starting mock speaker recognition service",
		"env", cfg.Env,
		"port", cfg.Port,
		"requiredEnrollments", cfg.InitialEnrollments,
		"keyRequired", cfg.SpeakerRecognitionKey != "",
	)

	service := verification.NewMemory(verification.MemoryOptions{
		RequiredEnrollments: cfg.InitialEnrollments,
	})

	srv := server.New(cfg, l, service)

	if err := server.Run(srv); err != nil {
		l.Error("Failed to start server", "error", err)
		log.Fatalf("Fatal: %v", err)
	}
}
