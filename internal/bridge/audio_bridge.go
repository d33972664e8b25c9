// Package bridge provides Wails Go-JS bindings.
package bridge

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/normanking/cortexvoice/internal/audio"
	"github.com/normanking/cortexvoice/internal/bus"
	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/recorder"
)

// AudioBridge exposes microphone and recording controls to the frontend
type AudioBridge struct {
	ctx      context.Context
	manager  *audio.Manager
	rec      *recorder.Controller
	eventBus *bus.EventBus
	cfg      *config.Config
	logger   zerolog.Logger
}

// NewAudioBridge creates the audio bridge
func NewAudioBridge(
	manager *audio.Manager,
	rec *recorder.Controller,
	eventBus *bus.EventBus,
	cfg *config.Config,
	logger zerolog.Logger,
) *AudioBridge {
	return &AudioBridge{
		manager:  manager,
		rec:      rec,
		eventBus: eventBus,
		cfg:      cfg,
		logger:   logger.With().Str("component", "audio-bridge").Logger(),
	}
}

// Bind sets the Wails runtime context and wires bus events to the frontend
func (b *AudioBridge) Bind(ctx context.Context) {
	b.ctx = ctx

	b.eventBus.Subscribe(bus.EventTypeMicEnabled, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "audio:micEnabled", true)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeMicDisabled, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "audio:micEnabled", false)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeVolumeSample, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "audio:level", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeSilence, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "audio:silence", true)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeVoiced, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "audio:silence", false)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeDeviceError, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "audio:deviceError", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeRecordingStarted, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "recorder:started", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeRecordingStopped, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "recorder:stopped", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeRecordingRejected, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "recorder:rejected", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeClipDelivered, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "recorder:clipDelivered", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeClipDropped, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "recorder:clipDropped", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeStatusChanged, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "assistant:status", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeTranscript, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "assistant:transcript", e.Data)
		}
	})

	b.eventBus.Subscribe(bus.EventTypeReply, func(e bus.Event) {
		if b.ctx != nil {
			runtime.EventsEmit(b.ctx, "assistant:reply", e.Data)
		}
	})
}

// EnableMicrophone opens the capture stream
func (b *AudioBridge) EnableMicrophone() error {
	b.logger.Info().Msg("Frontend requested microphone enable")
	return b.manager.EnableMicrophone(context.Background())
}

// DisableMicrophone tears down the capture stream
func (b *AudioBridge) DisableMicrophone() {
	b.logger.Info().Msg("Frontend requested microphone disable")
	b.manager.DisableMicrophone()
}

// IsMicrophoneEnabled reports whether capture is running
func (b *AudioBridge) IsMicrophoneEnabled() bool {
	return b.manager.IsMicrophoneEnabled()
}

// SetSilenceDetection toggles silence-based auto stop
func (b *AudioBridge) SetSilenceDetection(enabled bool) {
	mode := audio.SilenceDetectionDisabled
	if enabled {
		mode = audio.SilenceDetectionEnabled
	}
	b.manager.SetSilenceDetection(mode)
}

// IsSilenceDetectionEnabled reports the silence detection mode
func (b *AudioBridge) IsSilenceDetectionEnabled() bool {
	return b.manager.Detection() == audio.SilenceDetectionEnabled
}

// GetLevel returns the current smoothed input level
func (b *AudioBridge) GetLevel() float64 {
	return b.manager.Level()
}

// GetInputDevices lists available capture devices
func (b *AudioBridge) GetInputDevices() ([]audio.Device, error) {
	return b.manager.Devices()
}

// GetAudioConfig returns the capture settings for the settings panel
func (b *AudioBridge) GetAudioConfig() config.AudioConfig {
	return b.cfg.Audio
}

// StartRecording begins a recording session. Returns false when the
// microphone is off or a session is already in flight.
func (b *AudioBridge) StartRecording() bool {
	return b.rec.Start()
}

// StopRecording finalizes the active recording session
func (b *AudioBridge) StopRecording() {
	b.rec.Stop()
}

// GetRecorderState returns the recorder lifecycle state
func (b *AudioBridge) GetRecorderState() string {
	return string(b.rec.State())
}

// GetRecordingDuration returns elapsed recording time in milliseconds
func (b *AudioBridge) GetRecordingDuration() int64 {
	return b.rec.Duration().Milliseconds()
}

// GetSessionID returns the active recording session id, empty when idle
func (b *AudioBridge) GetSessionID() string {
	return b.rec.SessionID()
}
