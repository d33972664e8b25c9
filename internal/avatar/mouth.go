package avatar

import (
	"math"
	"sync"
)

// MouthRig drives the jaw from reply playback energy. The envelope
// follows the level quickly on attack and relaxes slowly, which reads
// as natural articulation without phoneme timing.
type MouthRig struct {
	mu sync.Mutex

	level    float32
	envelope float32
	attack   float32
	release  float32
}

func NewMouthRig() *MouthRig {
	return &MouthRig{
		attack:  24.0,
		release: 7.0,
	}
}

// Drive feeds the current playback level, 0..1
func (m *MouthRig) Drive(level float32) {
	m.mu.Lock()
	m.level = clamp(level, 0, 1)
	m.mu.Unlock()
}

// Silence drops the target level so the mouth settles shut
func (m *MouthRig) Silence() {
	m.Drive(0)
}

// Update advances the envelope by dt seconds and writes mouth channels
func (m *MouthRig) Update(dt float32, w *Weights) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rate := m.release
	if m.level > m.envelope {
		rate = m.attack
	}
	t := 1.0 - float32(math.Exp(float64(-rate*dt)))
	m.envelope += (m.level - m.envelope) * t

	if m.envelope < 0.01 {
		w.Set(JawOpen, 0)
		w.Set(MouthFunnel, 0)
		return
	}

	w.Set(JawOpen, m.envelope*0.7)
	w.Set(MouthFunnel, m.envelope*0.3)
	w.Raise(MouthStretch, m.envelope*0.15)
}

// Envelope reports the smoothed articulation level
func (m *MouthRig) Envelope() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.envelope
}
