// Package audio provides microphone capture and volume metering for CortexVoice.
package audio

import (
	"errors"
)

// Device acquisition errors, each mapped to a user-facing message
var (
	ErrPermissionDenied = errors.New("microphone access denied")
	ErrDeviceNotFound   = errors.New("no microphone found")
	ErrDeviceBusy       = errors.New("microphone is in use by another application")
)

// Status represents the shared assistant status indicator
type Status string

const (
	StatusIdle       Status = "idle"
	StatusListening  Status = "listening"
	StatusThinking   Status = "thinking"
	StatusProcessing Status = "processing"
	StatusSpeaking   Status = "speaking"
)

// SilenceDetection toggles the auto-stop-on-silence path
type SilenceDetection string

const (
	SilenceDetectionEnabled  SilenceDetection = "enabled"
	SilenceDetectionDisabled SilenceDetection = "disabled"
)

// CaptureConfig holds microphone acquisition constraints
type CaptureConfig struct {
	InputDevice      string `json:"input_device"`      // Empty selects the default input
	SampleRate       int    `json:"sample_rate"`       // Capture rate in Hz
	Channels         int    `json:"channels"`          // Input channel count
	FrameSize        int    `json:"frame_size"`        // Samples per delivered frame
	EchoCancellation bool   `json:"echo_cancellation"` // Prefer processed input when available
	NoiseSuppression bool   `json:"noise_suppression"`
	AutoGainControl  bool   `json:"auto_gain_control"`
}

// DefaultCaptureConfig returns standard voice-capture constraints
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		InputDevice:      "",
		SampleRate:       48000,
		Channels:         1,
		FrameSize:        1024,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// MeterConfig holds analysis-stage tuning
type MeterConfig struct {
	GainBoost        float64 `json:"gain_boost"`        // Fixed boost applied before analysis
	Smoothing        float64 `json:"smoothing"`         // Blend factor for the previous value
	SilenceThreshold float64 `json:"silence_threshold"` // Smoothed level below this is silence
}

// DefaultMeterConfig returns standard metering parameters
func DefaultMeterConfig() MeterConfig {
	return MeterConfig{
		GainBoost:        1.5,
		Smoothing:        0.7,
		SilenceThreshold: 0.08,
	}
}

// Device describes an available input device
type Device struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"max_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	IsDefault         bool    `json:"is_default"`
}

// FrameFunc receives each captured frame with its smoothed level
// and the silence predicate for that frame.
type FrameFunc func(frame []float32, level float64, silent bool)
