package audio

import (
	"fmt"
	"math"
	"sync"
)

// Meter turns raw capture frames into a smoothed loudness signal in [0,1].
//
// Each frame passes through a fixed gain stage, per-sample magnitudes are
// clamped to [0,1], and the frame's RMS energy is blended with the previous
// smoothed value: new = smoothing*old + (1-smoothing)*sample.
type Meter struct {
	gain             float64
	smoothing        float64
	silenceThreshold float64

	mu       sync.RWMutex
	smoothed float64
}

// NewMeter creates a meter with the given analysis parameters
func NewMeter(cfg MeterConfig) (*Meter, error) {
	if cfg.GainBoost <= 0 {
		return nil, fmt.Errorf("gain boost must be positive, got %v", cfg.GainBoost)
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		return nil, fmt.Errorf("smoothing must be in [0,1), got %v", cfg.Smoothing)
	}
	return &Meter{
		gain:             cfg.GainBoost,
		smoothing:        cfg.Smoothing,
		silenceThreshold: cfg.SilenceThreshold,
	}, nil
}

// Process folds one frame into the smoothed level and returns the new value
func (m *Meter) Process(frame []float32) float64 {
	sample := m.frameEnergy(frame)

	m.mu.Lock()
	m.smoothed = m.smoothing*m.smoothed + (1-m.smoothing)*sample
	level := m.smoothed
	m.mu.Unlock()

	return level
}

// frameEnergy computes gain-boosted RMS over the frame, normalized to [0,1]
func (m *Meter) frameEnergy(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}

	var sum float64
	for _, s := range frame {
		v := math.Abs(float64(s)) * m.gain
		if v > 1 {
			v = 1
		}
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Level returns the current smoothed value
func (m *Meter) Level() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.smoothed
}

// IsSilent reports whether the smoothed level is below the silence threshold
func (m *Meter) IsSilent() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.smoothed < m.silenceThreshold
}

// Reset zeroes the smoothed state between capture sessions
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.smoothed = 0
}
