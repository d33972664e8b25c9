package avatar

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/audio"
	"github.com/normanking/cortexvoice/internal/bus"
)

// Config controls the animation loop
type Config struct {
	FrameRate int     `json:"frame_rate"`
	Smoothing float32 `json:"smoothing"` // expression approach rate per second
}

func DefaultConfig() Config {
	return Config{
		FrameRate: 30,
		Smoothing: 6.0,
	}
}

// Frame is one rendered pose, pushed to the frontend every tick
type Frame struct {
	Mode    string             `json:"mode"`
	Weights map[string]float32 `json:"weights"`
	Gaze    mgl32.Vec2         `json:"gaze"`
}

// Controller owns the face rig. It follows the shared assistant status
// published on the bus: attentive while listening, pondering while a
// clip is out, animated while the reply plays.
type Controller struct {
	cfg      Config
	eventBus *bus.EventBus
	logger   zerolog.Logger

	eyes  *EyeRig
	mouth *MouthRig

	mu      sync.Mutex
	status  audio.Status
	current Weights
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	frameMu sync.RWMutex
	onFrame func(Frame)
}

func NewController(cfg Config, eventBus *bus.EventBus, logger zerolog.Logger) *Controller {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.Smoothing <= 0 {
		cfg.Smoothing = 6.0
	}
	return &Controller{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "avatar").Logger(),
		eyes:     NewEyeRig(),
		mouth:    NewMouthRig(),
		status:   audio.StatusIdle,
	}
}

// OnFrame registers the per-tick frame consumer
func (c *Controller) OnFrame(fn func(Frame)) {
	c.frameMu.Lock()
	c.onFrame = fn
	c.frameMu.Unlock()
}

// Start subscribes to bus events and runs the animation loop
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.eventBus.Subscribe(bus.EventTypeStatusChanged, func(e bus.Event) {
		if s, ok := e.Data["status"].(string); ok {
			c.SetStatus(audio.Status(s))
		}
	})
	c.eventBus.Subscribe(bus.EventTypeVolumeSample, func(e bus.Event) {
		if level, ok := e.Data["level"].(float64); ok {
			c.observeLevel(float32(level))
		}
	})
	c.eventBus.Subscribe(bus.EventTypeReply, func(bus.Event) {
		// a fresh reply warrants a beat of eye contact
		c.eyes.LookAt(0, 0)
		c.eyes.ForceBlink()
	})

	go c.loop(ctx)
	c.logger.Info().Int("frame_rate", c.cfg.FrameRate).Msg("Avatar controller started")
}

// Stop halts the animation loop
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done
	c.logger.Info().Msg("Avatar controller stopped")
}

// SetStatus retargets the face for a new assistant status
func (c *Controller) SetStatus(status audio.Status) {
	c.mu.Lock()
	prev := c.status
	c.status = status
	c.mu.Unlock()
	if prev == status {
		return
	}

	switch status {
	case audio.StatusThinking, audio.StatusProcessing:
		c.eyes.LookAt(-0.2, 0.3)
	default:
		c.eyes.LookAt(0, 0)
	}
	if status != audio.StatusSpeaking {
		c.mouth.Silence()
	}

	expr := expressionFor(status)
	c.eventBus.Publish(bus.Event{
		Type: bus.EventTypeAvatarStateChanged,
		Data: map[string]any{"mode": expr.Name, "status": string(status)},
	})
	c.logger.Debug().Str("status", string(status)).Str("mode", expr.Name).Msg("Avatar retargeted")
}

// Status reports the status the face currently follows
func (c *Controller) Status() audio.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// observeLevel feeds mic energy into the rig. Only reply playback
// moves the mouth; while the user speaks the face just perks up.
func (c *Controller) observeLevel(level float32) {
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()

	if status == audio.StatusSpeaking {
		c.mouth.Drive(level)
	}
}

// Frame composes the current pose without waiting for the next tick
func (c *Controller) Frame() Frame {
	return c.compose(0)
}

func (c *Controller) loop(ctx context.Context) {
	defer close(c.done)

	dt := 1.0 / float32(c.cfg.FrameRate)
	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.FrameRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := c.compose(dt)
			c.frameMu.RLock()
			fn := c.onFrame
			c.frameMu.RUnlock()
			if fn != nil {
				fn(frame)
			}
		}
	}
}

// compose blends the expression pose with the eye and mouth rigs
func (c *Controller) compose(dt float32) Frame {
	c.mu.Lock()
	status := c.status
	expr := expressionFor(status)
	if dt > 0 {
		t := 1.0 - float32(math.Exp(float64(-c.cfg.Smoothing*dt)))
		c.current = c.current.Lerp(expr.Weights, t)
	}
	pose := c.current
	c.mu.Unlock()

	if dt > 0 {
		c.eyes.Update(dt, &pose)
		c.mouth.Update(dt, &pose)
	}

	return Frame{
		Mode:    expr.Name,
		Weights: pose.Map(),
		Gaze:    c.eyes.Gaze(),
	}
}
