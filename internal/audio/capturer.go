// Package audio captures microphone audio with malgo and produces the WAV
// samples submitted for enrollment.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alkime/voiceprint/internal/recording"
)

const (
	// DefaultMaxDuration caps a single capture.
	DefaultMaxDuration = 15 * time.Second
	// DefaultMinDuration is the shortest capture worth submitting.
	DefaultMinDuration = 500 * time.Millisecond
)

var errCaptureStarted = errors.New("capture already started")

// CapturerConfig configures a Capturer.
type CapturerConfig struct {
	Device *DeviceConfig

	// MaxDuration stops buffering once reached; later audio is dropped.
	MaxDuration time.Duration
	// MinDuration is the least audio Stop accepts before reporting
	// recording.ErrEmptyCapture.
	MinDuration time.Duration

	// Levels, when set, receives live samples for level metering.
	Levels *SampleRingBuffer
	Logger *slog.Logger
}

// Capturer records one enrollment sample. It implements recording.Device
// and is not reusable: allocate a new one per session.
type Capturer struct {
	conf CapturerConfig
	dev  Device

	maxBytes int
	minBytes int

	mu        sync.Mutex
	pcm       []byte
	truncated bool

	started  bool
	stopC    chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	audio    []byte
	stopErr  error
}

// NewCapturer wraps dev. dev must not have been allocated yet.
func NewCapturer(conf CapturerConfig, dev Device) (*Capturer, error) {
	if dev == nil {
		return nil, errors.New("device cannot be nil")
	}

	if conf.Device == nil {
		conf.Device = NewDeviceConfig(DefaultSampleRate)
	}

	if conf.Device.CaptureChannels != DefaultChannels {
		return nil, errors.New("only mono (1 channel) is supported")
	}

	if conf.MaxDuration <= 0 {
		conf.MaxDuration = DefaultMaxDuration
	}

	if conf.MinDuration <= 0 {
		conf.MinDuration = DefaultMinDuration
	}

	if conf.Logger == nil {
		conf.Logger = slog.Default()
	}

	rate := conf.Device.BytesPerSecond()

	return &Capturer{
		conf:     conf,
		dev:      dev,
		maxBytes: int(conf.MaxDuration.Seconds() * float64(rate)),
		minBytes: int(conf.MinDuration.Seconds() * float64(rate)),
		stopC:    make(chan struct{}),
	}, nil
}

// Start allocates and starts the device and begins buffering audio.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errCaptureStarted
	}
	c.started = true
	c.mu.Unlock()

	dataC, err := c.dev.Capture(ctx)
	if err != nil {
		return fmt.Errorf("failed to allocate capture device: %w", err)
	}

	if c.conf.Levels != nil {
		c.conf.Levels.Reset()
	}

	c.wg.Go(func() {
		c.collect(dataC)
	})

	if err := c.dev.Start(ctx); err != nil {
		close(c.stopC)
		c.wg.Wait()
		c.dev.Dealloc(ctx)

		c.mu.Lock()
		c.started = false
		c.mu.Unlock()

		return fmt.Errorf("failed to start capture device: %w", err)
	}

	c.conf.Logger.Debug("capture started",
		"sampleRate", c.conf.Device.SampleRate,
		"maxDuration", c.conf.MaxDuration)

	return nil
}

// Stop stops the device, drains buffered packets and returns the capture
// as WAV. Subsequent calls return the same result.
func (c *Capturer) Stop(ctx context.Context) ([]byte, error) {
	c.stopOnce.Do(func() {
		c.audio, c.stopErr = c.stop(ctx)
	})

	return c.audio, c.stopErr
}

func (c *Capturer) stop(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if !started {
		return nil, fmt.Errorf("%w: capture never started", recording.ErrEmptyCapture)
	}

	// no packets are produced once the device has stopped
	stopErr := c.dev.Stop(ctx)
	close(c.stopC)
	c.wg.Wait()
	c.dev.Dealloc(ctx)

	if stopErr != nil {
		return nil, fmt.Errorf("failed to stop capture device: %w", stopErr)
	}

	c.mu.Lock()
	pcm := c.pcm
	truncated := c.truncated
	c.mu.Unlock()

	captured := c.Duration()

	c.conf.Logger.Debug("capture stopped",
		"bytes", len(pcm),
		"duration", captured,
		"truncated", truncated)

	if len(pcm) < c.minBytes {
		return nil, fmt.Errorf("%w: captured %s, need at least %s",
			recording.ErrEmptyCapture, captured.Round(time.Millisecond), c.conf.MinDuration)
	}

	return EncodeWAV(pcm, Format{
		SampleRate: c.conf.Device.SampleRate,
		Channels:   c.conf.Device.CaptureChannels,
	}), nil
}

// Duration is the amount of audio buffered so far.
func (c *Capturer) Duration() time.Duration {
	c.mu.Lock()
	n := len(c.pcm)
	c.mu.Unlock()

	return time.Duration(float64(n) / float64(c.conf.Device.BytesPerSecond()) * float64(time.Second))
}

func (c *Capturer) collect(dataC <-chan DataPacket) {
	for {
		select {
		case packet := <-dataC:
			c.append(packet)
		case <-c.stopC:
			// drain whatever the device delivered before it stopped
			for {
				select {
				case packet := <-dataC:
					c.append(packet)
				default:
					return
				}
			}
		}
	}
}

func (c *Capturer) append(packet DataPacket) {
	if c.conf.Levels != nil {
		c.conf.Levels.Write(BytesToInt16(packet))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	room := c.maxBytes - len(c.pcm)
	if room <= 0 {
		c.truncated = true
		return
	}

	if len(packet) > room {
		// keep whole samples only
		packet = packet[:room-room%bytesPerSample]
		c.truncated = true
	}

	c.pcm = append(c.pcm, packet...)
}
