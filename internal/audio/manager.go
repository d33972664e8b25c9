package audio

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/bus"
)

// Manager ties the capture stream to the level meter and publishes
// microphone lifecycle and volume events on the bus. It is the single
// owner of the device; everything downstream consumes frames through
// OnFrame or watches the bus.
type Manager struct {
	capture  *Capture
	meter    *Meter
	eventBus *bus.EventBus
	logger   zerolog.Logger

	mu         sync.Mutex
	enabled    bool
	detection  SilenceDetection
	wasSilent  bool
	frameCount uint64

	frameMu sync.RWMutex
	onFrame FrameFunc
}

// NewManager wires a capture and meter together from the given configs
func NewManager(capCfg CaptureConfig, meterCfg MeterConfig, eventBus *bus.EventBus, logger zerolog.Logger) (*Manager, error) {
	meter, err := NewMeter(meterCfg)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		capture:   NewCapture(capCfg, logger),
		meter:     meter,
		eventBus:  eventBus,
		logger:    logger.With().Str("component", "audio").Logger(),
		detection: SilenceDetectionDisabled,
	}
	m.capture.OnFrame(m.handleFrame)
	return m, nil
}

// OnFrame registers the downstream frame consumer. Each delivery carries
// the raw samples, the smoothed level and the silence verdict for that frame.
func (m *Manager) OnFrame(fn FrameFunc) {
	m.frameMu.Lock()
	defer m.frameMu.Unlock()
	m.onFrame = fn
}

// EnableMicrophone acquires the device and starts metering.
// Enabling twice is a no-op.
func (m *Manager) EnableMicrophone(ctx context.Context) error {
	m.mu.Lock()
	if m.enabled {
		m.mu.Unlock()
		m.logger.Debug().Msg("Microphone already enabled")
		return nil
	}
	m.mu.Unlock()

	if err := m.capture.Start(ctx); err != nil {
		m.eventBus.Publish(bus.Event{
			Type: bus.EventTypeDeviceError,
			Data: map[string]interface{}{"error": err.Error()},
		})
		return err
	}

	m.mu.Lock()
	m.enabled = true
	m.wasSilent = false
	m.frameCount = 0
	m.mu.Unlock()
	m.meter.Reset()

	m.eventBus.Publish(bus.Event{Type: bus.EventTypeMicEnabled})
	m.logger.Info().Msg("Microphone enabled")
	return nil
}

// DisableMicrophone releases the device. Safe to call when already disabled.
func (m *Manager) DisableMicrophone() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.enabled = false
	m.mu.Unlock()

	m.capture.Stop()
	m.meter.Reset()

	m.eventBus.Publish(bus.Event{Type: bus.EventTypeMicDisabled})
	m.logger.Info().Msg("Microphone disabled")
}

// IsMicrophoneEnabled reports whether the device is currently held
func (m *Manager) IsMicrophoneEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Active reports whether a live stream is delivering frames
func (m *Manager) Active() bool {
	return m.capture.Active()
}

// SetSilenceDetection switches the silence verdict on or off.
// While disabled every frame reports as voiced.
func (m *Manager) SetSilenceDetection(mode SilenceDetection) {
	m.mu.Lock()
	m.detection = mode
	m.wasSilent = false
	m.mu.Unlock()
	m.logger.Info().Str("mode", string(mode)).Msg("Silence detection changed")
}

// Detection returns the current silence detection mode
func (m *Manager) Detection() SilenceDetection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detection
}

// Level returns the current smoothed volume level
func (m *Manager) Level() float64 {
	return m.meter.Level()
}

// Devices lists the available input devices
func (m *Manager) Devices() ([]Device, error) {
	return m.capture.Devices()
}

func (m *Manager) handleFrame(frame []float32) {
	level := m.meter.Process(frame)

	m.mu.Lock()
	silent := m.detection == SilenceDetectionEnabled && m.meter.IsSilent()
	transition := silent != m.wasSilent
	m.wasSilent = silent
	m.frameCount++
	count := m.frameCount
	m.mu.Unlock()

	m.eventBus.Publish(bus.Event{
		Type: bus.EventTypeVolumeSample,
		Data: map[string]interface{}{"level": level, "silent": silent},
	})

	if transition {
		evt := bus.EventTypeVoiced
		if silent {
			evt = bus.EventTypeSilence
		}
		m.eventBus.Publish(bus.Event{
			Type: evt,
			Data: map[string]interface{}{"level": level},
		})
	}

	if count%50 == 0 {
		m.logger.Debug().
			Uint64("frames", count).
			Float64("level", level).
			Bool("silent", silent).
			Msg("Audio level")
	}

	m.frameMu.RLock()
	fn := m.onFrame
	m.frameMu.RUnlock()
	if fn != nil {
		fn(frame, level, silent)
	}
}
