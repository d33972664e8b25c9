package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/metrics"
	"github.com/normanking/cortexvoice/internal/realtime"
)

// wsFrame mirrors the envelope the realtime channel speaks
type wsFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

type membersPayload struct {
	Members []realtime.PresenceMeta `json:"members"`
}

type errorPayload struct {
	Reason string `json:"reason"`
}

// HubConfig controls the room hub
type HubConfig struct {
	Topic          string
	HeartbeatGrace time.Duration
}

// Hub accepts room channel sockets, maintains the shared presence view
// and fans membership snapshots out to every joined client.
type Hub struct {
	cfg      HubConfig
	presence PresenceStore
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*roomClient]struct{}
	closed  bool
	started bool

	stopReaper chan struct{}
	reaperDone chan struct{}
}

type roomClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	joined bool
	userID string
}

// NewHub creates a hub backed by the given presence store
func NewHub(cfg HubConfig, presence PresenceStore, logger zerolog.Logger) *Hub {
	if cfg.Topic == "" {
		cfg.Topic = realtime.RoomTopic
	}
	if cfg.HeartbeatGrace <= 0 {
		cfg.HeartbeatGrace = 30 * time.Second
	}
	return &Hub{
		cfg:      cfg,
		presence: presence,
		logger:   logger.With().Str("component", "room-hub").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:    make(map[*roomClient]struct{}),
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
}

// Start launches the reaper that expires members whose heartbeats
// stopped arriving.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.started || h.closed {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go h.reapLoop()
	h.logger.Info().
		Str("topic", h.cfg.Topic).
		Dur("grace", h.cfg.HeartbeatGrace).
		Msg("Room hub started")
}

// Close stops the reaper and drops every connected client
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	started := h.started
	conns := make([]*roomClient, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	if started {
		close(h.stopReaper)
		<-h.reaperDone
	}

	for _, c := range conns {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		c.writeMu.Unlock()
		c.conn.Close()
	}
}

// ServeHTTP upgrades the request and runs the client read loop
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	client := &roomClient{conn: conn}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.RoomConnections.Set(float64(count))
	h.logger.Debug().Str("remote", r.RemoteAddr).Int("connections", count).Msg("Room client connected")

	h.readPump(client)

	h.mu.Lock()
	delete(h.clients, client)
	count = len(h.clients)
	h.mu.Unlock()
	metrics.RoomConnections.Set(float64(count))

	// a vanished socket takes its presence with it
	client.mu.Lock()
	uid := client.userID
	client.mu.Unlock()
	if uid != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.presence.Remove(ctx, uid); err != nil {
			h.logger.Warn().Err(err).Str("user_id", uid).Msg("Failed to remove presence on disconnect")
		}
		cancel()
		h.broadcastState()
	}
}

func (h *Hub) readPump(c *roomClient) {
	defer c.conn.Close()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug().Err(err).Msg("Room client dropped")
			}
			return
		}

		var f wsFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			h.sendError(c, f.Ref, "malformed frame")
			continue
		}

		switch f.Event {
		case realtime.EventJoin:
			h.handleJoin(c, f)
		case realtime.EventTrack:
			h.handleTrack(c, f)
		case realtime.EventHeartbeat:
			h.handleHeartbeat(c)
		case realtime.EventUntrack:
			h.handleUntrack(c)
		case realtime.EventBroadcast:
			h.relayBroadcast(c, f)
		case realtime.EventLeave:
			return
		default:
			h.sendError(c, f.Ref, "unknown event: "+f.Event)
		}
	}
}

func (h *Hub) handleJoin(c *roomClient, f wsFrame) {
	if f.Topic != h.cfg.Topic {
		h.sendError(c, f.Ref, "unknown topic: "+f.Topic)
		return
	}

	c.mu.Lock()
	c.joined = true
	c.mu.Unlock()

	h.writeFrame(c, wsFrame{Topic: h.cfg.Topic, Event: realtime.EventJoined, Ref: f.Ref})

	// the joiner gets the current membership right away, before any
	// track of its own
	h.sendState(c)
}

func (h *Hub) handleTrack(c *roomClient, f wsFrame) {
	if !h.requireJoined(c, f.Ref) {
		return
	}

	var meta realtime.PresenceMeta
	if err := json.Unmarshal(f.Payload, &meta); err != nil || meta.UserID == "" {
		h.sendError(c, f.Ref, "track requires presence meta with userId")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.Upsert(ctx, meta, time.Now()); err != nil {
		h.logger.Error().Err(err).Str("user_id", meta.UserID).Msg("Failed to upsert presence")
		h.sendError(c, f.Ref, "presence store unavailable")
		return
	}

	c.mu.Lock()
	c.userID = meta.UserID
	c.mu.Unlock()

	h.broadcastState()
}

func (h *Hub) handleHeartbeat(c *roomClient) {
	c.mu.Lock()
	uid := c.userID
	c.mu.Unlock()
	if uid == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.Touch(ctx, uid, time.Now()); err != nil {
		h.logger.Warn().Err(err).Str("user_id", uid).Msg("Failed to refresh presence")
	}
}

func (h *Hub) handleUntrack(c *roomClient) {
	c.mu.Lock()
	uid := c.userID
	c.userID = ""
	c.mu.Unlock()
	if uid == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.Remove(ctx, uid); err != nil {
		h.logger.Warn().Err(err).Str("user_id", uid).Msg("Failed to remove presence")
	}
	h.broadcastState()
}

// relayBroadcast forwards an application event to every other joined
// client on the topic.
func (h *Hub) relayBroadcast(sender *roomClient, f wsFrame) {
	if !h.requireJoined(sender, f.Ref) {
		return
	}
	h.fanOut(wsFrame{Topic: h.cfg.Topic, Event: realtime.EventBroadcast, Payload: f.Payload}, sender)
}

// Broadcast pushes a server-originated application event to every
// joined client. Used to announce clip processing to the room.
func (h *Hub) Broadcast(payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.fanOut(wsFrame{Topic: h.cfg.Topic, Event: realtime.EventBroadcast, Payload: raw}, nil)
}

// fanOut writes a frame to every joined client except skip
func (h *Hub) fanOut(f wsFrame, skip *roomClient) {
	h.mu.Lock()
	targets := make([]*roomClient, 0, len(h.clients))
	for c := range h.clients {
		if c != skip {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.mu.Lock()
		joined := c.joined
		c.mu.Unlock()
		if joined {
			h.writeFrame(c, f)
		}
	}
}

func (h *Hub) requireJoined(c *roomClient, ref string) bool {
	c.mu.Lock()
	joined := c.joined
	c.mu.Unlock()
	if !joined {
		h.sendError(c, ref, "join the topic first")
	}
	return joined
}

// broadcastState pushes the deduplicated membership to every joined
// client and refreshes the member gauge.
func (h *Hub) broadcastState() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	members, err := h.presence.List(ctx)
	cancel()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list presence")
		return
	}
	metrics.RoomMembers.Set(float64(len(members)))

	payload, _ := json.Marshal(membersPayload{Members: members})
	h.fanOut(wsFrame{Topic: h.cfg.Topic, Event: realtime.EventPresenceState, Payload: payload}, nil)
}

// sendState sends the current membership to a single client
func (h *Hub) sendState(c *roomClient) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	members, err := h.presence.List(ctx)
	cancel()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list presence")
		return
	}
	payload, _ := json.Marshal(membersPayload{Members: members})
	h.writeFrame(c, wsFrame{Topic: h.cfg.Topic, Event: realtime.EventPresenceState, Payload: payload})
}

func (h *Hub) sendError(c *roomClient, ref, reason string) {
	payload, _ := json.Marshal(errorPayload{Reason: reason})
	h.writeFrame(c, wsFrame{Topic: h.cfg.Topic, Event: realtime.EventError, Payload: payload, Ref: ref})
}

func (h *Hub) writeFrame(c *roomClient, f wsFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug().Err(err).Msg("Room write failed")
	}
}

// reapLoop expires members whose last heartbeat is older than the
// grace window.
func (h *Hub) reapLoop() {
	defer close(h.reaperDone)

	interval := h.cfg.HeartbeatGrace / 3
	if interval < 25*time.Millisecond {
		interval = 25 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopReaper:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			removed, err := h.presence.Reap(ctx, time.Now().Add(-h.cfg.HeartbeatGrace))
			cancel()
			if err != nil {
				h.logger.Warn().Err(err).Msg("Presence reap failed")
				continue
			}
			if len(removed) == 0 {
				continue
			}
			metrics.PresenceReaped.Add(float64(len(removed)))
			h.logger.Info().Strs("user_ids", removed).Msg("Reaped silent members")
			h.broadcastState()
		}
	}
}
