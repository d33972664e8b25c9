package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexvoice/internal/audio"
	"github.com/normanking/cortexvoice/internal/bus"
)

type stubSource struct{ active bool }

func (s *stubSource) Active() bool { return s.active }

type stubSender struct {
	mu    sync.Mutex
	clips []Clip
	err   error
	ch    chan Clip
}

func (s *stubSender) Send(_ context.Context, clip Clip) error {
	s.mu.Lock()
	s.clips = append(s.clips, clip)
	s.mu.Unlock()
	if s.ch != nil {
		s.ch <- clip
	}
	return s.err
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clips)
}

func voicedFrame(n int) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = 0.5
	}
	return frame
}

func newTestController(cfg Config, sender Sender) *Controller {
	return NewController(cfg, &stubSource{active: true}, audio.NewWAVEncoder(48000), sender, bus.NewEventBus(), zerolog.Nop())
}

func eventChan(b *bus.EventBus, evt bus.EventType) chan bus.Event {
	ch := make(chan bus.Event, 8)
	b.Subscribe(evt, func(e bus.Event) { ch <- e })
	return ch
}

func TestStartRequiresActiveSource(t *testing.T) {
	sender := &stubSender{}
	c := NewController(DefaultConfig(), &stubSource{active: false}, audio.NewWAVEncoder(48000), sender, bus.NewEventBus(), zerolog.Nop())

	require.False(t, c.Start())
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, c.SessionID())
}

func TestDoubleStartIsNoOp(t *testing.T) {
	c := newTestController(DefaultConfig(), &stubSender{})

	require.True(t, c.Start())
	first := c.SessionID()
	require.NotEmpty(t, first)

	require.False(t, c.Start())
	assert.Equal(t, first, c.SessionID(), "second start must not replace the session")
	c.Stop()
}

func TestStopWhileIdleIsNoOp(t *testing.T) {
	sender := &stubSender{}
	c := newTestController(DefaultConfig(), sender)

	c.Stop()
	c.Stop()
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, sender.count())
}

func TestShortRecordingNeverDelivered(t *testing.T) {
	sender := &stubSender{}
	cfg := DefaultConfig()
	cfg.MinDuration = 200 * time.Millisecond
	c := newTestController(cfg, sender)

	require.True(t, c.Start())
	// plenty of bytes, but stopped well before the duration floor
	c.Feed(voicedFrame(4096), 0.5, false)
	c.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sender.count())
	assert.Equal(t, StateIdle, c.State())
}

func TestSmallRecordingNeverDelivered(t *testing.T) {
	sender := &stubSender{}
	cfg := DefaultConfig()
	cfg.MinDuration = 10 * time.Millisecond
	c := newTestController(cfg, sender)

	require.True(t, c.Start())
	// 100 samples is a 244 byte container, under the 1000 byte floor
	c.Feed(voicedFrame(100), 0.5, false)
	time.Sleep(30 * time.Millisecond)
	c.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sender.count())
}

func TestValidClipDelivered(t *testing.T) {
	sender := &stubSender{ch: make(chan Clip, 1)}
	cfg := DefaultConfig()
	cfg.MinDuration = 10 * time.Millisecond
	c := newTestController(cfg, sender)

	require.True(t, c.Start())
	session := c.SessionID()
	c.Feed(voicedFrame(2048), 0.5, false)
	time.Sleep(30 * time.Millisecond)
	c.Stop()

	select {
	case clip := <-sender.ch:
		assert.Equal(t, session, clip.SessionID)
		assert.Equal(t, audio.MIMEWAV, clip.MIME)
		assert.Equal(t, 128000, clip.Bitrate)
		assert.GreaterOrEqual(t, len(clip.Data), 1000)
		assert.Equal(t, "RIFF", string(clip.Data[:4]))
		assert.GreaterOrEqual(t, clip.Duration, 10*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("clip was not delivered")
	}
	assert.Equal(t, StateIdle, c.State())
}

func TestMaxDurationForceStops(t *testing.T) {
	sender := &stubSender{ch: make(chan Clip, 1)}
	cfg := DefaultConfig()
	cfg.MinDuration = 10 * time.Millisecond
	cfg.MaxDuration = 60 * time.Millisecond
	c := newTestController(cfg, sender)

	require.True(t, c.Start())
	c.Feed(voicedFrame(2048), 0.5, false)

	// no explicit Stop: the cutoff timer must end the session on its own
	select {
	case clip := <-sender.ch:
		assert.NotEmpty(t, clip.SessionID)
	case <-time.After(time.Second):
		t.Fatal("force stop never finalized the clip")
	}
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, c.Duration(), "duration must reset once force-stopped")
}

func TestSilenceAutoStop(t *testing.T) {
	sender := &stubSender{ch: make(chan Clip, 1)}
	cfg := Config{
		MinDuration:     time.Millisecond,
		MinBytes:        1,
		MaxDuration:     10 * time.Second,
		SilenceAutoStop: true,
		SilenceFrames:   3,
		SilenceDelay:    40 * time.Millisecond,
	}
	c := newTestController(cfg, sender)

	require.True(t, c.Start())
	c.Feed(voicedFrame(512), 0.5, false)

	// two silent frames then a voiced one: never armed
	c.Feed(voicedFrame(512), 0.01, true)
	c.Feed(voicedFrame(512), 0.01, true)
	c.Feed(voicedFrame(512), 0.5, false)
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, StateRecording, c.State())

	// three silent frames arm the delay, a voiced frame disarms it
	c.Feed(voicedFrame(512), 0.01, true)
	c.Feed(voicedFrame(512), 0.01, true)
	c.Feed(voicedFrame(512), 0.01, true)
	c.Feed(voicedFrame(512), 0.5, false)
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, StateRecording, c.State(), "voiced frame must cancel the armed stop")

	// armed with no intervening voiced frame: the delay elapses and stops
	c.Feed(voicedFrame(512), 0.01, true)
	c.Feed(voicedFrame(512), 0.01, true)
	c.Feed(voicedFrame(512), 0.01, true)

	select {
	case <-sender.ch:
	case <-time.After(time.Second):
		t.Fatal("silence stop never fired")
	}
	assert.Equal(t, StateIdle, c.State())
}

func TestProcessingStatusForcesStop(t *testing.T) {
	c := newTestController(DefaultConfig(), &stubSender{})

	require.True(t, c.Start())
	c.HandleStatusChange(audio.StatusListening)
	assert.Equal(t, StateRecording, c.State())

	c.HandleStatusChange(audio.StatusProcessing)
	assert.Equal(t, StateIdle, c.State())
}

func TestFailedDeliveryDropsClip(t *testing.T) {
	eventBus := bus.NewEventBus()
	dropped := eventChan(eventBus, bus.EventTypeClipDropped)

	sender := &stubSender{err: errors.New("endpoint unreachable")}
	cfg := DefaultConfig()
	cfg.MinDuration = 10 * time.Millisecond
	c := NewController(cfg, &stubSource{active: true}, audio.NewWAVEncoder(48000), sender, eventBus, zerolog.Nop())

	require.True(t, c.Start())
	c.Feed(voicedFrame(2048), 0.5, false)
	time.Sleep(30 * time.Millisecond)
	c.Stop()

	select {
	case e := <-dropped:
		assert.Contains(t, e.Data["error"], "unreachable")
	case <-time.After(time.Second):
		t.Fatal("expected a clip_dropped event")
	}
}

func TestFeedWhileIdleDiscards(t *testing.T) {
	sender := &stubSender{}
	c := newTestController(DefaultConfig(), sender)

	c.Feed(voicedFrame(2048), 0.5, false)
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, sender.count())
}
