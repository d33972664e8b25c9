package avatar

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

type blinkPhase int

const (
	blinkOpen blinkPhase = iota
	blinkClosing
	blinkClosed
	blinkOpening
)

// EyeRig animates gaze and blinking. Gaze coordinates run -1..1 on
// both axes with +X right and +Y up.
type EyeRig struct {
	mu sync.Mutex

	target  mgl32.Vec2
	current mgl32.Vec2
	// exponential approach rate toward the gaze target
	smoothing float32

	phase         blinkPhase
	blinkProgress float32
	blinkDuration float32
	nextBlink     time.Time
	minBlinkGap   time.Duration
	maxBlinkGap   time.Duration

	drift     mgl32.Vec2
	nextDrift time.Time
	driftAmp  float32
}

func NewEyeRig() *EyeRig {
	now := time.Now()
	return &EyeRig{
		smoothing:     8.0,
		blinkDuration: 0.15,
		minBlinkGap:   2 * time.Second,
		maxBlinkGap:   6 * time.Second,
		nextBlink:     now.Add(randomGap(2*time.Second, 4*time.Second)),
		driftAmp:      0.06,
		nextDrift:     now.Add(randomGap(400*time.Millisecond, 1600*time.Millisecond)),
	}
}

// LookAt aims the gaze, clamped to the rig's range
func (e *EyeRig) LookAt(x, y float32) {
	e.mu.Lock()
	e.target = mgl32.Vec2{clamp(x, -1, 1), clamp(y, -1, 1)}
	e.mu.Unlock()
}

// ForceBlink starts a blink immediately if the lids are open
func (e *EyeRig) ForceBlink() {
	e.mu.Lock()
	if e.phase == blinkOpen {
		e.phase = blinkClosing
		e.blinkProgress = 0
	}
	e.mu.Unlock()
}

// Gaze reports the smoothed gaze position
func (e *EyeRig) Gaze() mgl32.Vec2 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Update advances the rig by dt seconds and writes eye channels
func (e *EyeRig) Update(dt float32, w *Weights) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	e.updateDrift(now)
	e.updateGaze(dt)
	e.updateBlink(dt, now)

	gaze := e.current
	if gaze.X() > 0 {
		w.Set(LookRight, gaze.X()*0.8)
		w.Set(LookLeft, 0)
	} else {
		w.Set(LookLeft, -gaze.X()*0.8)
		w.Set(LookRight, 0)
	}
	if gaze.Y() > 0 {
		w.Set(LookUp, gaze.Y()*0.6)
		w.Set(LookDown, 0)
	} else {
		w.Set(LookDown, -gaze.Y()*0.6)
		w.Set(LookUp, 0)
	}
	w.Set(Blink, e.blinkAmount())
}

func (e *EyeRig) updateGaze(dt float32) {
	t := 1.0 - float32(math.Exp(float64(-e.smoothing*dt)))
	goal := e.target.Add(e.drift)
	e.current = e.current.Add(goal.Sub(e.current).Mul(t))
}

// updateDrift nudges the gaze off-center at random intervals so the
// eyes never look painted on.
func (e *EyeRig) updateDrift(now time.Time) {
	if now.Before(e.nextDrift) {
		return
	}
	e.drift = mgl32.Vec2{
		(rand.Float32()*2 - 1) * e.driftAmp,
		(rand.Float32()*2 - 1) * e.driftAmp * 0.5,
	}
	e.nextDrift = now.Add(randomGap(400*time.Millisecond, 1600*time.Millisecond))
}

func (e *EyeRig) updateBlink(dt float32, now time.Time) {
	switch e.phase {
	case blinkOpen:
		if now.After(e.nextBlink) {
			e.phase = blinkClosing
			e.blinkProgress = 0
		}
	case blinkClosing:
		e.blinkProgress += dt / (e.blinkDuration * 0.4)
		if e.blinkProgress >= 1 {
			e.blinkProgress = 1
			e.phase = blinkClosed
		}
	case blinkClosed:
		e.blinkProgress += dt / (e.blinkDuration * 0.1)
		if e.blinkProgress >= 1.1 {
			e.phase = blinkOpening
			e.blinkProgress = 1
		}
	case blinkOpening:
		e.blinkProgress -= dt / (e.blinkDuration * 0.5)
		if e.blinkProgress <= 0 {
			e.blinkProgress = 0
			e.phase = blinkOpen
			e.nextBlink = now.Add(randomGap(e.minBlinkGap, e.maxBlinkGap))
		}
	}
}

func (e *EyeRig) blinkAmount() float32 {
	switch e.phase {
	case blinkClosing:
		// ease out on the way down
		return e.blinkProgress * (2 - e.blinkProgress)
	case blinkClosed:
		return 1
	case blinkOpening:
		return e.blinkProgress * e.blinkProgress
	default:
		return 0
	}
}

func randomGap(lo, hi time.Duration) time.Duration {
	return lo + time.Duration(rand.Float64()*float64(hi-lo))
}
