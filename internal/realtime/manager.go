package realtime

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/bus"
)

// Manager owns the one live room channel for this process. All the
// reconnect state (current channel, attempt counter, timers) lives
// here; nothing else touches the transport.
type Manager struct {
	cfg      Config
	identity PresenceMeta
	factory  ChannelFactory
	eventBus *bus.EventBus
	logger   zerolog.Logger

	mu            sync.Mutex
	state         ConnState
	isConnecting  bool
	channel       Channel
	attempts      int
	joinedAt      string
	networkUp     bool
	heartbeatStop chan struct{}
	retryTimer    *time.Timer
	members       []PresenceMeta
	volLast       time.Time
	volWasSilent  bool
}

// NewManager creates an offline manager for the given identity
func NewManager(cfg Config, identity PresenceMeta, factory ChannelFactory, eventBus *bus.EventBus, logger zerolog.Logger) *Manager {
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultConfig().SubscribeTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	return &Manager{
		cfg:       cfg,
		identity:  identity,
		factory:   factory,
		eventBus:  eventBus,
		logger:    logger.With().Str("component", "presence").Logger(),
		state:     StateOffline,
		networkUp: true,
	}
}

// Connect establishes the room channel. Requires an authenticated
// identity. A connect already in progress makes this a no-op; no
// second channel is ever created concurrently.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.isConnecting {
		m.mu.Unlock()
		m.logger.Debug().Msg("Connect already in progress, ignoring")
		return nil
	}
	if m.identity.UserID == "" {
		m.mu.Unlock()
		m.logger.Error().Msg("Connect refused, no authenticated identity")
		return ErrNoIdentity
	}
	m.isConnecting = true
	m.state = StateReconnecting
	m.stopRetryLocked()
	m.stopHeartbeatLocked()
	prev := m.channel
	m.channel = nil
	m.mu.Unlock()

	m.publishState(StateReconnecting)

	// tear the previous channel down before creating a new one so at
	// most one is ever current
	if prev != nil {
		prev.Untrack()
		prev.Close()
	}

	ch := m.factory()
	ch.OnPresenceSync(m.handlePresenceSync)
	ch.OnBroadcast(m.handleBroadcast)
	ch.OnClose(func(err error) { m.handleChannelClosed(ch, err) })

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SubscribeTimeout)
	defer cancel()

	if err := ch.Subscribe(ctx); err != nil {
		ch.Close()
		m.connectFailed(err)
		return err
	}

	now := nowISO()
	meta := m.identity
	meta.JoinedAt = now
	meta.LastSeen = now
	if err := ch.Track(meta); err != nil {
		ch.Close()
		m.connectFailed(err)
		return err
	}

	m.mu.Lock()
	m.channel = ch
	m.state = StateConnected
	m.attempts = 0
	m.isConnecting = false
	m.joinedAt = now
	m.startHeartbeatLocked()
	m.mu.Unlock()

	m.publishState(StateConnected)
	m.logger.Info().Str("userId", m.identity.UserID).Msg("Presence connected")
	return nil
}

// Disconnect tears everything down: timers cancelled, presence
// untracked, channel removed, membership cleared. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopRetryLocked()
	m.stopHeartbeatLocked()
	m.attempts = 0
	m.isConnecting = false
	ch := m.channel
	m.channel = nil
	m.state = StateOffline
	m.members = nil
	m.mu.Unlock()

	if ch != nil {
		ch.Untrack()
		ch.Close()
	}

	m.publishState(StateOffline)
	m.publishMembers(nil)
	m.logger.Info().Msg("Presence disconnected")
}

// Send emits an application event on the current channel
func (m *Manager) Send(event string, payload any) error {
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()
	if ch == nil {
		return ErrNotSubscribed
	}
	return ch.Send(event, payload)
}

const volumeInterval = 100 * time.Millisecond

// PublishVolume shares the local capture level with the room. Samples
// arrive at frame rate; the channel carries at most one per
// volumeInterval, plus a single zero when a voiced stretch ends so
// remote meters drop immediately.
func (m *Manager) PublishVolume(level float64, silent bool) {
	m.mu.Lock()
	ch := m.channel
	if ch == nil || (silent && m.volWasSilent) {
		m.mu.Unlock()
		return
	}
	now := time.Now()
	if !silent && now.Sub(m.volLast) < volumeInterval {
		m.mu.Unlock()
		return
	}
	m.volLast = now
	m.volWasSilent = silent
	identity := m.identity
	m.mu.Unlock()

	if silent {
		level = 0
	}
	err := ch.Send(EventBroadcast, RoomBroadcast{
		Type:   BroadcastVolume,
		UserID: identity.UserID,
		Name:   identity.Name,
		Level:  level,
	})
	if err != nil {
		m.logger.Debug().Err(err).Msg("Volume broadcast failed")
	}
}

// handleBroadcast surfaces room-wide application events on the bus.
// Status pushes reach the recorder, so a clip being processed anywhere
// in the room pauses local capture.
func (m *Manager) handleBroadcast(payload json.RawMessage) {
	var b RoomBroadcast
	if err := json.Unmarshal(payload, &b); err != nil {
		m.logger.Warn().Err(err).Msg("Bad room broadcast payload")
		return
	}
	if b.Type != BroadcastStatus {
		return
	}
	m.eventBus.Publish(bus.Event{
		Type: bus.EventTypeStatusChanged,
		Data: map[string]any{"status": b.Status, "sessionId": b.SessionID},
	})
}

// State returns the connection lifecycle state
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnecting reports whether a connect attempt is in flight
func (m *Manager) IsConnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isConnecting
}

// Attempts returns the reconnect attempt counter
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Members returns the deduplicated online membership
func (m *Manager) Members() []PresenceMeta {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PresenceMeta, len(m.members))
	copy(out, m.members)
	return out
}

// HandleNetworkOffline forces the offline state immediately and holds
// retries until the network comes back.
func (m *Manager) HandleNetworkOffline() {
	m.mu.Lock()
	m.networkUp = false
	m.stopRetryLocked()
	m.stopHeartbeatLocked()
	ch := m.channel
	m.channel = nil
	m.state = StateOffline
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	m.publishState(StateOffline)
	m.logger.Info().Msg("Network offline, presence forced offline")
}

// HandleNetworkOnline reconnects if not already connected
func (m *Manager) HandleNetworkOnline() {
	m.mu.Lock()
	m.networkUp = true
	connected := m.state == StateConnected
	m.mu.Unlock()

	if connected {
		return
	}
	m.logger.Info().Msg("Network online, reconnecting presence")
	go m.Connect()
}

// HandleFocus reconnects on window focus if not already connected.
// Visibility changes are deliberately not handled: the heartbeat keeps
// the membership alive while the window is backgrounded.
func (m *Manager) HandleFocus() {
	m.mu.Lock()
	connected := m.state == StateConnected
	connecting := m.isConnecting
	m.mu.Unlock()

	if connected || connecting {
		return
	}
	go m.Connect()
}

// connectFailed finishes a failed attempt: offline, maybe retry
func (m *Manager) connectFailed(err error) {
	m.mu.Lock()
	m.isConnecting = false
	m.state = StateOffline
	m.mu.Unlock()

	m.logger.Warn().Err(err).Msg("Presence connect failed")
	m.eventBus.Publish(bus.Event{
		Type: bus.EventTypePresenceError,
		Data: map[string]any{"error": err.Error()},
	})
	m.publishState(StateOffline)
	m.scheduleRetry()
}

// handleChannelClosed reacts to the current channel dying underneath
// us. Close callbacks from already-replaced channels are ignored.
func (m *Manager) handleChannelClosed(ch Channel, err error) {
	m.mu.Lock()
	if m.channel != ch {
		m.mu.Unlock()
		return
	}
	m.channel = nil
	m.stopHeartbeatLocked()
	m.state = StateOffline
	m.mu.Unlock()

	ch.Close()
	m.logger.Warn().Err(err).Msg("Presence channel lost")
	m.eventBus.Publish(bus.Event{
		Type: bus.EventTypePresenceError,
		Data: map[string]any{"error": err.Error()},
	})
	m.publishState(StateOffline)
	m.scheduleRetry()
}

// scheduleRetry arms the backoff timer for the next attempt. No retry
// is scheduled while the network is down or once the ceiling is hit.
func (m *Manager) scheduleRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.networkUp {
		m.logger.Debug().Msg("Network down, retry deferred until online event")
		return
	}
	if m.attempts >= m.cfg.MaxAttempts {
		m.logger.Warn().Int("attempts", m.attempts).Msg("Reconnect ceiling reached, staying offline")
		return
	}
	if m.retryTimer != nil {
		return
	}

	delay := backoffDelay(m.attempts, m.cfg.BackoffBase, m.cfg.BackoffCap, m.cfg.BackoffJitter)
	m.attempts++

	m.logger.Info().
		Int("attempt", m.attempts).
		Dur("delay", delay).
		Msg("Presence retry scheduled")

	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.retryTimer = nil
		m.mu.Unlock()
		m.Connect()
	})
}

// backoffDelay doubles from base per attempt, caps at ceiling, then
// adds random jitter.
func backoffDelay(attempt int, base, ceiling, jitter time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	if delay > ceiling {
		delay = ceiling
	}
	if jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jitter)))
	}
	return delay
}

func (m *Manager) handlePresenceSync(snapshot []PresenceMeta) {
	deduped := dedupeMembers(snapshot)

	m.mu.Lock()
	m.members = deduped
	m.mu.Unlock()

	m.logger.Debug().Int("members", len(deduped)).Msg("Presence sync")
	m.publishMembers(deduped)
}

// dedupeMembers keeps the first occurrence per user id
func dedupeMembers(in []PresenceMeta) []PresenceMeta {
	seen := make(map[string]struct{}, len(in))
	out := make([]PresenceMeta, 0, len(in))
	for _, meta := range in {
		if _, ok := seen[meta.UserID]; ok {
			continue
		}
		seen[meta.UserID] = struct{}{}
		out = append(out, meta)
	}
	return out
}

// startHeartbeatLocked launches the re-announce loop. Caller holds mu.
func (m *Manager) startHeartbeatLocked() {
	stop := make(chan struct{})
	m.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.sendHeartbeat()
			}
		}
	}()
}

// sendHeartbeat re-announces presence with a fresh last-seen stamp
func (m *Manager) sendHeartbeat() {
	m.mu.Lock()
	ch := m.channel
	joinedAt := m.joinedAt
	m.mu.Unlock()

	if ch == nil {
		return
	}

	meta := m.identity
	meta.JoinedAt = joinedAt
	meta.LastSeen = nowISO()
	if err := ch.Track(meta); err != nil {
		m.logger.Warn().Err(err).Msg("Heartbeat re-announce failed")
	}
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) publishState(state ConnState) {
	m.eventBus.Publish(bus.Event{
		Type: bus.EventTypePresenceState,
		Data: map[string]any{"state": string(state), "attempts": m.Attempts()},
	})
}

func (m *Manager) publishMembers(members []PresenceMeta) {
	m.eventBus.Publish(bus.Event{
		Type: bus.EventTypePresenceMembers,
		Data: map[string]any{"members": members, "count": len(members)},
	})
}
