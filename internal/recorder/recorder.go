// Package recorder owns the clip lifecycle: it buffers captured frames
// into a bounded recording, validates the result and hands finished
// clips to a sender.
package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/audio"
	"github.com/normanking/cortexvoice/internal/bus"
)

// State is the recording lifecycle state
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateFinalizing State = "finalizing"
)

// StopReason says what ended a recording
type StopReason string

const (
	ReasonManual      StopReason = "manual"
	ReasonSilence     StopReason = "silence"
	ReasonMaxDuration StopReason = "max_duration"
	ReasonStatus      StopReason = "status_change"
)

// Config holds the recording bounds
type Config struct {
	MinDuration     time.Duration // clips shorter than this are rejected
	MinBytes        int           // clips smaller than this are rejected
	MaxDuration     time.Duration // hard cutoff, recording force-stops here
	SilenceAutoStop bool
	SilenceFrames   int           // consecutive silent frames before arming
	SilenceDelay    time.Duration // delay after arming before the stop fires
	TargetBitrate   int           // bits per second stamped on finished clips
}

// DefaultConfig returns the recording bounds used by the app
func DefaultConfig() Config {
	return Config{
		MinDuration:     500 * time.Millisecond,
		MinBytes:        1000,
		MaxDuration:     60 * time.Second,
		SilenceAutoStop: false,
		SilenceFrames:   25,
		SilenceDelay:    1500 * time.Millisecond,
		TargetBitrate:   128000,
	}
}

// Clip is a finalized, validated recording ready for delivery
type Clip struct {
	SessionID string
	Data      []byte
	MIME      string
	Bitrate   int // target bits per second for the upstream transcode
	Duration  time.Duration
	StartedAt time.Time
}

// Sender delivers a finished clip to the processing endpoint
type Sender interface {
	Send(ctx context.Context, clip Clip) error
}

// Source reports whether a live capture stream is feeding frames
type Source interface {
	Active() bool
}

// Controller is the recording state machine. Exactly one recording is
// active at a time; Start and Stop are safe to call in any state.
type Controller struct {
	cfg      Config
	source   Source
	sender   Sender
	enc      audio.Encoder
	eventBus *bus.EventBus
	logger   zerolog.Logger

	mu            sync.Mutex
	state         State
	sessionID     string
	startedAt     time.Time
	maxTimer      *time.Timer
	silenceTimer  *time.Timer
	silenceStreak int
	silenceGen    uint64
}

// NewController creates an idle controller
func NewController(cfg Config, source Source, enc audio.Encoder, sender Sender, eventBus *bus.EventBus, logger zerolog.Logger) *Controller {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultConfig().MinDuration
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = DefaultConfig().MinBytes
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultConfig().MaxDuration
	}
	if cfg.SilenceFrames <= 0 {
		cfg.SilenceFrames = DefaultConfig().SilenceFrames
	}
	if cfg.SilenceDelay <= 0 {
		cfg.SilenceDelay = DefaultConfig().SilenceDelay
	}
	if cfg.TargetBitrate <= 0 {
		cfg.TargetBitrate = DefaultConfig().TargetBitrate
	}
	return &Controller{
		cfg:      cfg,
		source:   source,
		sender:   sender,
		enc:      enc,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "recorder").Logger(),
	}
}

// Start begins a new recording session. Requires an active capture
// stream and no session in flight; otherwise it is a no-op returning
// false.
func (c *Controller) Start() bool {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		c.logger.Debug().Str("state", string(c.state)).Msg("Start ignored, recording already in flight")
		return false
	}
	if c.source == nil || !c.source.Active() {
		c.mu.Unlock()
		c.logger.Warn().Msg("Start ignored, no active capture stream")
		return false
	}

	c.sessionID = uuid.NewString()
	c.startedAt = time.Now()
	c.state = StateRecording
	c.silenceStreak = 0
	c.enc.Reset()
	c.maxTimer = time.AfterFunc(c.cfg.MaxDuration, func() {
		c.logger.Info().Msg("Max recording duration reached, force stopping")
		c.finalize(ReasonMaxDuration)
	})
	sessionID := c.sessionID
	c.mu.Unlock()

	c.eventBus.Publish(bus.Event{
		Type: bus.EventTypeRecordingStarted,
		Data: map[string]any{"sessionId": sessionID},
	})
	c.eventBus.Publish(bus.Event{
		Type: bus.EventTypeStatusChanged,
		Data: map[string]any{"status": string(audio.StatusListening)},
	})
	c.logger.Info().Str("sessionId", sessionID).Msg("Recording started")
	return true
}

// Stop ends the current recording and runs finalization.
// Stopping while not recording is a no-op.
func (c *Controller) Stop() {
	c.finalize(ReasonManual)
}

// Feed accepts one captured frame with its metering verdict. Frames
// arriving while not recording are discarded.
func (c *Controller) Feed(frame []float32, level float64, silent bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return
	}
	c.enc.AppendFrame(frame)

	if !c.cfg.SilenceAutoStop {
		return
	}

	if !silent {
		c.silenceStreak = 0
		if c.silenceTimer != nil {
			c.silenceTimer.Stop()
			c.silenceTimer = nil
			c.silenceGen++
			c.logger.Debug().Msg("Voiced frame, silence stop disarmed")
		}
		return
	}

	c.silenceStreak++
	if c.silenceStreak >= c.cfg.SilenceFrames && c.silenceTimer == nil {
		c.silenceGen++
		gen := c.silenceGen
		c.silenceTimer = time.AfterFunc(c.cfg.SilenceDelay, func() {
			c.silenceElapsed(gen)
		})
		c.logger.Debug().Int("frames", c.silenceStreak).Msg("Silence stop armed")
	}
}

// HandleStatusChange reacts to the shared status indicator. A move to
// "processing" stops any recording in flight immediately.
func (c *Controller) HandleStatusChange(status audio.Status) {
	if status == audio.StatusProcessing {
		c.finalize(ReasonStatus)
	}
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the in-flight session id, empty when idle
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Duration returns the elapsed recording time, zero when not recording
func (c *Controller) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return 0
	}
	return time.Since(c.startedAt)
}

// silenceElapsed fires when the armed delay passes. The generation
// check drops callbacks that lost a race with a voiced frame.
func (c *Controller) silenceElapsed(gen uint64) {
	c.mu.Lock()
	if c.state != StateRecording || gen != c.silenceGen {
		c.mu.Unlock()
		return
	}
	session := c.beginFinalize()
	c.mu.Unlock()

	c.logger.Info().Msg("Silence delay elapsed, stopping recording")
	c.completeFinalize(session, ReasonSilence)
}

func (c *Controller) finalize(reason StopReason) {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	session := c.beginFinalize()
	c.mu.Unlock()

	c.completeFinalize(session, reason)
}

type finalizing struct {
	sessionID string
	startedAt time.Time
	duration  time.Duration
}

// beginFinalize transitions to finalizing and cancels timers.
// Caller holds the mutex.
func (c *Controller) beginFinalize() finalizing {
	c.state = StateFinalizing
	if c.maxTimer != nil {
		c.maxTimer.Stop()
		c.maxTimer = nil
	}
	if c.silenceTimer != nil {
		c.silenceTimer.Stop()
		c.silenceTimer = nil
	}
	c.silenceGen++
	c.silenceStreak = 0
	return finalizing{
		sessionID: c.sessionID,
		startedAt: c.startedAt,
		duration:  time.Since(c.startedAt),
	}
}

// completeFinalize assembles and validates the clip, returns the
// controller to idle and hands valid clips to the sender.
func (c *Controller) completeFinalize(session finalizing, reason StopReason) {
	data, encErr := c.enc.Bytes()
	mime := c.enc.MIME()
	c.enc.Reset()

	c.mu.Lock()
	c.state = StateIdle
	c.sessionID = ""
	c.startedAt = time.Time{}
	c.mu.Unlock()

	c.eventBus.Publish(bus.Event{
		Type: bus.EventTypeRecordingStopped,
		Data: map[string]any{
			"sessionId":  session.sessionID,
			"reason":     string(reason),
			"durationMs": session.duration.Milliseconds(),
		},
	})

	switch {
	case session.duration < c.cfg.MinDuration:
		c.reject(session, "too_short", len(data))
		return
	case encErr != nil:
		c.reject(session, "no_data", 0)
		return
	case len(data) < c.cfg.MinBytes:
		c.reject(session, "too_small", len(data))
		return
	}

	clip := Clip{
		SessionID: session.sessionID,
		Data:      data,
		MIME:      mime,
		Bitrate:   c.cfg.TargetBitrate,
		Duration:  session.duration,
		StartedAt: session.startedAt,
	}
	c.logger.Info().
		Str("sessionId", clip.SessionID).
		Str("reason", string(reason)).
		Int("bytes", len(clip.Data)).
		Dur("duration", clip.Duration).
		Msg("Recording finalized")

	go c.deliver(clip)
}

// reject drops an invalid recording without sending. Expected noise
// filtering, logged but never surfaced as a user error.
func (c *Controller) reject(session finalizing, cause string, size int) {
	c.logger.Debug().
		Str("sessionId", session.sessionID).
		Str("cause", cause).
		Int("bytes", size).
		Dur("duration", session.duration).
		Msg("Recording rejected")
	c.eventBus.Publish(bus.Event{
		Type: bus.EventTypeRecordingRejected,
		Data: map[string]any{
			"sessionId":  session.sessionID,
			"cause":      cause,
			"bytes":      size,
			"durationMs": session.duration.Milliseconds(),
		},
	})
}

func (c *Controller) deliver(clip Clip) {
	if c.sender == nil {
		return
	}
	if err := c.sender.Send(context.Background(), clip); err != nil {
		c.logger.Warn().Err(err).Str("sessionId", clip.SessionID).Msg("Clip delivery failed, dropping")
		c.eventBus.Publish(bus.Event{
			Type: bus.EventTypeClipDropped,
			Data: map[string]any{"sessionId": clip.SessionID, "error": err.Error()},
		})
		return
	}
	c.eventBus.Publish(bus.Event{
		Type: bus.EventTypeClipDelivered,
		Data: map[string]any{"sessionId": clip.SessionID, "bytes": len(clip.Data)},
	})
}
