package avatar

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexvoice/internal/audio"
	"github.com/normanking/cortexvoice/internal/bus"
)

func TestExpressionForStatus(t *testing.T) {
	tests := []struct {
		status audio.Status
		want   string
	}{
		{audio.StatusIdle, "neutral"},
		{audio.StatusListening, "attentive"},
		{audio.StatusThinking, "pondering"},
		{audio.StatusProcessing, "pondering"},
		{audio.StatusSpeaking, "animated"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expressionFor(tt.status).Name, "status %s", tt.status)
	}
}

func TestWeightsClampAndMap(t *testing.T) {
	var w Weights
	w.Set(MouthSmile, 1.7)
	w.Set(BrowDown, -0.4)
	w.Raise(MouthSmile, 0.5)

	assert.InDelta(t, 1.0, w.Get(MouthSmile), 1e-6)
	assert.InDelta(t, 0.0, w.Get(BrowDown), 1e-6)

	m := w.Map()
	assert.Equal(t, float32(1.0), m["mouthSmile"])
	_, hasBrow := m["browDown"]
	assert.False(t, hasBrow, "zero channels stay out of the map")
}

func TestWeightsLerp(t *testing.T) {
	var from, to Weights
	to.Set(JawOpen, 0.8)

	half := from.Lerp(to, 0.5)
	assert.InDelta(t, 0.4, half.Get(JawOpen), 1e-6)
	assert.Equal(t, to, from.Lerp(to, 1.5), "t above one snaps to target")
	assert.Equal(t, from, from.Lerp(to, -1), "negative t stays put")
}

func TestShapeFromName(t *testing.T) {
	assert.Equal(t, Blink, ShapeFromName("blink"))
	assert.Equal(t, Shape(-1), ShapeFromName("tailWag"))
}

func TestControllerFollowsStatusEvents(t *testing.T) {
	eventBus := bus.NewEventBus()
	c := NewController(DefaultConfig(), eventBus, zerolog.Nop())

	modes := make(chan string, 8)
	eventBus.Subscribe(bus.EventTypeAvatarStateChanged, func(e bus.Event) {
		if mode, ok := e.Data["mode"].(string); ok {
			modes <- mode
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	eventBus.PublishSync(bus.Event{
		Type: bus.EventTypeStatusChanged,
		Data: map[string]any{"status": string(audio.StatusListening)},
	})
	require.Equal(t, audio.StatusListening, c.Status())

	select {
	case mode := <-modes:
		assert.Equal(t, "attentive", mode)
	case <-time.After(2 * time.Second):
		t.Fatal("state change event never arrived")
	}

	// repeating the same status must not re-announce
	eventBus.PublishSync(bus.Event{
		Type: bus.EventTypeStatusChanged,
		Data: map[string]any{"status": string(audio.StatusListening)},
	})
	select {
	case mode := <-modes:
		t.Fatalf("unexpected re-announce: %s", mode)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestControllerEmitsFrames(t *testing.T) {
	eventBus := bus.NewEventBus()
	cfg := Config{FrameRate: 60, Smoothing: 6.0}
	c := NewController(cfg, eventBus, zerolog.Nop())

	frames := make(chan Frame, 64)
	c.OnFrame(func(f Frame) {
		select {
		case frames <- f:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	defer c.Stop()

	deadline := time.After(2 * time.Second)
	for i := 0; i < 3; i++ {
		select {
		case f := <-frames:
			assert.Equal(t, "neutral", f.Mode)
			assert.NotNil(t, f.Weights)
		case <-deadline:
			t.Fatal("frames stopped flowing")
		}
	}
}

func TestControllerApproachesExpression(t *testing.T) {
	eventBus := bus.NewEventBus()
	c := NewController(DefaultConfig(), eventBus, zerolog.Nop())

	c.SetStatus(audio.StatusListening)
	for i := 0; i < 60; i++ {
		c.compose(1.0 / 30.0)
	}

	frame := c.Frame()
	assert.Equal(t, "attentive", frame.Mode)
	assert.InDelta(t, Attentive.Weights.Get(BrowInnerUp), frame.Weights["browInnerUp"], 0.05,
		"pose settles on the attentive brows")
}

func TestControllerMouthOnlyMovesWhileSpeaking(t *testing.T) {
	eventBus := bus.NewEventBus()
	c := NewController(DefaultConfig(), eventBus, zerolog.Nop())

	c.SetStatus(audio.StatusListening)
	c.observeLevel(0.9)
	for i := 0; i < 30; i++ {
		c.compose(1.0 / 30.0)
	}
	assert.Less(t, c.mouth.Envelope(), float32(0.05), "mic energy must not flap the jaw")

	c.SetStatus(audio.StatusSpeaking)
	c.observeLevel(0.9)
	for i := 0; i < 30; i++ {
		c.compose(1.0 / 30.0)
	}
	assert.Greater(t, c.mouth.Envelope(), float32(0.5))

	// back to idle the mouth settles shut
	c.SetStatus(audio.StatusIdle)
	for i := 0; i < 60; i++ {
		c.compose(1.0 / 30.0)
	}
	assert.Less(t, c.mouth.Envelope(), float32(0.05))
}

func TestMouthRigEnvelope(t *testing.T) {
	m := NewMouthRig()
	var w Weights

	m.Drive(1.0)
	m.Update(0.1, &w)
	rising := m.Envelope()
	assert.Greater(t, rising, float32(0.5), "attack is fast")
	assert.Greater(t, w.Get(JawOpen), float32(0.3))

	m.Silence()
	for i := 0; i < 40; i++ {
		m.Update(0.05, &w)
	}
	assert.Less(t, m.Envelope(), float32(0.01))
	assert.Equal(t, float32(0), w.Get(JawOpen))
}

func TestEyeRigBlinkCycle(t *testing.T) {
	e := NewEyeRig()
	var w Weights

	e.ForceBlink()

	sawClosed := false
	for i := 0; i < 200; i++ {
		e.Update(0.01, &w)
		if w.Get(Blink) > 0.95 {
			sawClosed = true
		}
		if sawClosed && w.Get(Blink) == 0 {
			return
		}
	}
	t.Fatalf("blink never completed, closed=%v final=%f", sawClosed, w.Get(Blink))
}

func TestEyeRigGazeApproach(t *testing.T) {
	e := NewEyeRig()
	var w Weights

	e.LookAt(1, 0)
	for i := 0; i < 100; i++ {
		e.Update(1.0/30.0, &w)
	}

	require.Greater(t, e.Gaze().X(), float32(0.6))
	assert.Greater(t, w.Get(LookRight), float32(0.4))
	assert.Equal(t, float32(0), w.Get(LookLeft))
}
