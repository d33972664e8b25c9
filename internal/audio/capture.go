package audio

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// Capture owns a live microphone stream and delivers fixed-size frames
// to a registered callback until stopped.
type Capture struct {
	cfg    CaptureConfig
	logger zerolog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []float32
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	frameMu sync.RWMutex
	onFrame func([]float32)
}

// NewCapture creates a capture with the given constraints
func NewCapture(cfg CaptureConfig, logger zerolog.Logger) *Capture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultCaptureConfig().SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultCaptureConfig().FrameSize
	}
	return &Capture{
		cfg:    cfg,
		logger: logger.With().Str("component", "audio-capture").Logger(),
	}
}

// OnFrame registers the frame callback. Frames are copies and safe to retain.
func (c *Capture) OnFrame(fn func([]float32)) {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	c.onFrame = fn
}

// Start acquires the microphone and begins the capture loop.
// Starting while already active is a no-op. Acquisition failures map to
// ErrPermissionDenied, ErrDeviceNotFound or ErrDeviceBusy; there is no
// automatic retry, the caller re-invokes Start explicitly.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.logger.Debug().Msg("Capture already active, ignoring start")
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return classifyDeviceError(err)
	}

	c.buf = make([]float32, c.cfg.FrameSize)

	stream, err := c.openStream()
	if err != nil {
		portaudio.Terminate()
		mapped := classifyDeviceError(err)
		c.logger.Error().Err(mapped).Str("device", c.cfg.InputDevice).Msg("Failed to acquire microphone")
		return mapped
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		mapped := classifyDeviceError(err)
		c.logger.Error().Err(mapped).Msg("Failed to start microphone stream")
		return mapped
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.stream = stream
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.loop(loopCtx)

	c.logger.Info().
		Int("sampleRate", c.cfg.SampleRate).
		Int("frameSize", c.cfg.FrameSize).
		Bool("echoCancellation", c.cfg.EchoCancellation).
		Bool("noiseSuppression", c.cfg.NoiseSuppression).
		Msg("Microphone capture started")
	return nil
}

// openStream opens the configured device, or the default input when unset
func (c *Capture) openStream() (*portaudio.Stream, error) {
	if c.cfg.InputDevice == "" {
		return portaudio.OpenDefaultStream(c.cfg.Channels, 0, float64(c.cfg.SampleRate), len(c.buf), c.buf)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && strings.EqualFold(dev.Name, c.cfg.InputDevice) {
			params := portaudio.LowLatencyParameters(dev, nil)
			params.Input.Channels = c.cfg.Channels
			params.SampleRate = float64(c.cfg.SampleRate)
			params.FramesPerBuffer = len(c.buf)
			return portaudio.OpenStream(params, c.buf)
		}
	}
	return nil, fmt.Errorf("input device %q: %w", c.cfg.InputDevice, ErrDeviceNotFound)
}

// loop reads frames until the context is cancelled
func (c *Capture) loop(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.stream.Read(); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("Capture read failed, stopping loop")
			return
		}

		c.frameMu.RLock()
		fn := c.onFrame
		c.frameMu.RUnlock()

		if fn != nil {
			frame := make([]float32, len(c.buf))
			copy(frame, c.buf)
			fn(frame)
		}
	}
}

// Stop releases the stream and the device. Idempotent, safe to call
// multiple times and before Start.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false

	c.cancel()
	<-c.done

	if err := c.stream.Stop(); err != nil {
		c.logger.Debug().Err(err).Msg("Stream stop reported error")
	}
	if err := c.stream.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Stream close reported error")
	}
	c.stream = nil
	portaudio.Terminate()

	c.logger.Info().Msg("Microphone capture stopped")
}

// Active reports whether the capture loop is running
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Devices lists available input devices
func (c *Capture) Devices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, classifyDeviceError(err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, classifyDeviceError(err)
	}

	defaultIn, _ := portaudio.DefaultInputDevice()

	var devices []Device
	for i, info := range infos {
		if info.MaxInputChannels <= 0 {
			continue
		}
		devices = append(devices, Device{
			ID:                i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			IsDefault:         defaultIn != nil && info.Name == defaultIn.Name,
		})
	}
	return devices, nil
}

// classifyDeviceError maps an acquisition failure to one of the sentinel
// device errors so callers can show the right message.
func classifyDeviceError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "denied") || strings.Contains(msg, "permission") || strings.Contains(msg, "not allowed"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "no default input") || strings.Contains(msg, "invalid device") || strings.Contains(msg, "no device") || strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	case strings.Contains(msg, "unavailable") || strings.Contains(msg, "busy") || strings.Contains(msg, "in use"):
		return fmt.Errorf("%w: %v", ErrDeviceBusy, err)
	default:
		return fmt.Errorf("microphone acquisition failed: %w", err)
	}
}
