package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alkime/voiceprint/internal/recording"
	mp3encoder "github.com/braheezy/shine-mp3/pkg/mp3"
)

// Archive keeps an MP3 copy of every accepted enrollment sample.
type Archive struct {
	dir    string
	logger *slog.Logger
}

// NewArchive creates dir if needed.
func NewArchive(dir string, logger *slog.Logger) (*Archive, error) {
	if dir == "" {
		return nil, errors.New("archive directory cannot be empty")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}

	return &Archive{dir: dir, logger: logger}, nil
}

// Path returns where a recording id is archived.
func (a *Archive) Path(id string) string {
	return filepath.Join(a.dir, id+".mp3")
}

// Archive writes rec (a WAV sample) as <dir>/<id>.mp3.
func (a *Archive) Archive(rec recording.Recording) error {
	if rec.ID == "" {
		return errors.New("recording id cannot be empty")
	}

	pcm, format, err := DecodeWAV(rec.Audio)
	if err != nil {
		return fmt.Errorf("failed to decode recording %s: %w", rec.ID, err)
	}

	path := a.Path(rec.ID)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive file %s: %w", path, err)
	}
	defer f.Close()

	if err := EncodeMP3(f, pcm, format); err != nil {
		return fmt.Errorf("failed to archive recording %s: %w", rec.ID, err)
	}

	a.logger.Debug("archived recording", "recordingId", rec.ID, "path", path)

	return nil
}

// EncodeMP3 encodes S16LE PCM to MP3 and writes it to w.
func EncodeMP3(w io.Writer, pcm []byte, format Format) error {
	if format.SampleRate <= 0 {
		return errors.New("sample rate must be positive")
	}

	if format.Channels != 1 && format.Channels != 2 {
		return fmt.Errorf("unsupported channel count %d", format.Channels)
	}

	numSamples := len(pcm) / bytesPerSample
	samples := make([]int16, numSamples)

	if err := binary.Read(bytes.NewReader(pcm[:numSamples*bytesPerSample]), binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to read PCM samples: %w", err)
	}

	// WORKAROUND: shine-mp3 Write() has a bug for mono (always increments by samples_per_pass * 2)
	// Convert mono to stereo by duplicating samples (L=R)
	if format.Channels == 1 {
		stereo := make([]int16, numSamples*2)
		for i, sample := range samples {
			stereo[i*2] = sample
			stereo[i*2+1] = sample
		}
		samples = stereo
	}

	encoder := mp3encoder.NewEncoder(format.SampleRate, 2)

	if err := encoder.Write(w, samples); err != nil {
		return fmt.Errorf("failed to encode audio to MP3: %w", err)
	}

	return nil
}
