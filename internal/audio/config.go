package audio

import (
	"github.com/gen2brain/malgo"
)

const (
	// DefaultSampleRate is 16kHz, the rate the speaker recognition service
	// expects for enrollment samples.
	DefaultSampleRate = 16000
	// DefaultChannels is mono (1 channel).
	DefaultChannels = 1
	// bytesPerSample for S16LE.
	bytesPerSample = 2
)

type DeviceConfig struct {
	Format          malgo.FormatType
	CaptureChannels int
	SampleRate      int
}

// NewDeviceConfig returns a signed 16-bit mono capture config at sampleRate
// (DefaultSampleRate if zero).
func NewDeviceConfig(sampleRate int) *DeviceConfig {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	return &DeviceConfig{
		Format:          malgo.FormatS16,
		CaptureChannels: DefaultChannels,
		SampleRate:      sampleRate,
	}
}

// BytesPerSecond is the PCM data rate of the config.
func (c *DeviceConfig) BytesPerSecond() int {
	return c.SampleRate * c.CaptureChannels * bytesPerSample
}
