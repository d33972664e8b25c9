package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fullScaleFrame(n int) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = 1.0
	}
	return frame
}

func TestMeterSmoothingRecurrence(t *testing.T) {
	m, err := NewMeter(MeterConfig{GainBoost: 1.0, Smoothing: 0.7, SilenceThreshold: 0.08})
	require.NoError(t, err)

	// A full-scale frame normalizes to exactly 1.0, so the smoothed level
	// must follow new = 0.7*old + 0.3*1.0 on every frame.
	frame := fullScaleFrame(1024)
	expected := 0.0
	for i := 0; i < 8; i++ {
		got := m.Process(frame)
		expected = 0.7*expected + 0.3*1.0
		require.InDelta(t, expected, got, 1e-9, "frame %d", i)
	}
}

func TestMeterHalfwayStep(t *testing.T) {
	m, err := NewMeter(MeterConfig{GainBoost: 1.0, Smoothing: 0.7, SilenceThreshold: 0.08})
	require.NoError(t, err)

	// Drive the level to 0.5 with a frame whose RMS is 0.5, then verify a
	// full-scale frame lands at 0.7*0.5 + 0.3*1.0 = 0.65.
	half := make([]float32, 512)
	for i := range half {
		half[i] = 0.5
	}
	for i := 0; i < 200; i++ {
		m.Process(half)
	}
	require.InDelta(t, 0.5, m.Level(), 1e-6)

	got := m.Process(fullScaleFrame(512))
	require.InDelta(t, 0.65, got, 1e-6)
}

func TestMeterGainClampsToUnit(t *testing.T) {
	// 0.9 amplitude with 1.5x gain would be 1.35 per sample; the
	// normalized magnitude clamps at 1.0 before the RMS.
	m, err := NewMeter(MeterConfig{GainBoost: 1.5, Smoothing: 0, SilenceThreshold: 0.08})
	require.NoError(t, err)

	frame := make([]float32, 256)
	for i := range frame {
		frame[i] = 0.9
	}
	require.InDelta(t, 1.0, m.Process(frame), 1e-9)
}

func TestMeterSilencePredicate(t *testing.T) {
	m, err := NewMeter(MeterConfig{GainBoost: 1.0, Smoothing: 0, SilenceThreshold: 0.08})
	require.NoError(t, err)

	quiet := make([]float32, 256)
	for i := range quiet {
		quiet[i] = 0.01
	}
	m.Process(quiet)
	require.True(t, m.IsSilent())

	m.Process(fullScaleFrame(256))
	require.False(t, m.IsSilent())
}

func TestMeterReset(t *testing.T) {
	m, err := NewMeter(DefaultMeterConfig())
	require.NoError(t, err)

	m.Process(fullScaleFrame(256))
	require.Greater(t, m.Level(), 0.0)

	m.Reset()
	require.Zero(t, m.Level())
	require.True(t, m.IsSilent())
}

func TestMeterEmptyFrame(t *testing.T) {
	m, err := NewMeter(DefaultMeterConfig())
	require.NoError(t, err)
	require.Zero(t, m.Process(nil))
}

func TestNewMeterValidation(t *testing.T) {
	_, err := NewMeter(MeterConfig{GainBoost: 0, Smoothing: 0.7, SilenceThreshold: 0.08})
	require.Error(t, err)

	_, err = NewMeter(MeterConfig{GainBoost: 1.0, Smoothing: 1.0, SilenceThreshold: 0.08})
	require.Error(t, err)

	_, err = NewMeter(MeterConfig{GainBoost: 1.0, Smoothing: -0.1, SilenceThreshold: 0.08})
	require.Error(t, err)
}
