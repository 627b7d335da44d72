// Package workdir provides utilities for managing the voiceprint data directory.
package workdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Root returns the default base directory for voiceprint data.
// The path is expanded at runtime to resolve to:
//
//	$HOME/Documents/Alkime/Voiceprint
func Root() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, "Documents", "Alkime", "Voiceprint"), nil
}

// Dir is a prepared data directory.
type Dir string

// Open resolves the data directory (Root if override is empty) and ensures
// it exists.
func Open(override string) (Dir, error) {
	root := override
	if root == "" {
		var err error
		if root, err = Root(); err != nil {
			return "", err
		}
	}

	if err := Prep(root); err != nil {
		return "", err
	}

	return Dir(root), nil
}

// ArchivePath is where MP3 copies of submitted samples are kept.
func (d Dir) ArchivePath() string {
	return filepath.Join(string(d), "archive")
}

// StorePath is the Badger directory for persisted state.
func (d Dir) StorePath() string {
	return filepath.Join(string(d), "store")
}

// LogPath is the log file used while the TUI owns the terminal.
func (d Dir) LogPath() string {
	return filepath.Join(string(d), "voiceprint.log")
}

// Prep ensures that the directory exists.
func Prep(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory %s: %w", path, err)
	}

	return nil
}
