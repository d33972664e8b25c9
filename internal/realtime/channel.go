package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Wire events understood on a room channel
const (
	EventJoin          = "join"
	EventJoined        = "joined"
	EventLeave         = "leave"
	EventTrack         = "track"
	EventUntrack       = "untrack"
	EventHeartbeat     = "heartbeat"
	EventPresenceState = "presence_state"
	EventBroadcast     = "broadcast"
	EventError         = "error"
)

// frame is the JSON envelope exchanged on the socket
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

// presenceState is the membership snapshot payload
type presenceState struct {
	Members []PresenceMeta `json:"members"`
}

// WSChannel is a Channel over a websocket. One instance serves one
// subscribe; a reconnect builds a fresh instance.
type WSChannel struct {
	url    string
	topic  string
	token  string
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	joined bool
	closed bool
	refSeq uint64

	writeMu sync.Mutex

	handlerMu   sync.RWMutex
	syncFn      func([]PresenceMeta)
	broadcastFn func(json.RawMessage)
	closeFn     func(error)
}

// NewWSChannel creates an unsubscribed channel for the given room
func NewWSChannel(url, topic, token string, logger zerolog.Logger) *WSChannel {
	return &WSChannel{
		url:    url,
		topic:  topic,
		token:  token,
		logger: logger.With().Str("component", "ws-channel").Str("topic", topic).Logger(),
	}
}

// OnPresenceSync registers the membership snapshot handler
func (ch *WSChannel) OnPresenceSync(fn func([]PresenceMeta)) {
	ch.handlerMu.Lock()
	ch.syncFn = fn
	ch.handlerMu.Unlock()
}

// OnBroadcast registers the handler for application broadcast payloads
func (ch *WSChannel) OnBroadcast(fn func(json.RawMessage)) {
	ch.handlerMu.Lock()
	ch.broadcastFn = fn
	ch.handlerMu.Unlock()
}

// OnClose registers the handler invoked when the socket dies without a
// deliberate Close call.
func (ch *WSChannel) OnClose(fn func(error)) {
	ch.handlerMu.Lock()
	ch.closeFn = fn
	ch.handlerMu.Unlock()
}

// Subscribe dials the server and joins the room topic. It returns once
// the join is acknowledged or the context expires.
func (ch *WSChannel) Subscribe(ctx context.Context) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return ErrChannelClosed
	}
	if ch.conn != nil {
		ch.mu.Unlock()
		return nil
	}
	ch.mu.Unlock()

	headers := http.Header{}
	if ch.token != "" {
		headers.Set("Authorization", "Bearer "+ch.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ch.url, headers)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrSubscribeTimeout, err)
		}
		return fmt.Errorf("failed to dial room server: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	joinRef := ch.nextRef()
	join := frame{Topic: ch.topic, Event: EventJoin, Ref: joinRef}
	data, _ := json.Marshal(join)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send join: %w", err)
	}

	// wait for the join acknowledgement before handing the socket to
	// the background read loop
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return fmt.Errorf("%w: waiting for join ack", ErrSubscribeTimeout)
			}
			return fmt.Errorf("join failed: %w", err)
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		if f.Event == EventError {
			conn.Close()
			return fmt.Errorf("join rejected: %s", string(f.Payload))
		}
		if f.Event == EventJoined && f.Ref == joinRef {
			break
		}
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		conn.Close()
		return ErrChannelClosed
	}
	ch.conn = conn
	ch.joined = true
	ch.mu.Unlock()

	go ch.readLoop(conn)

	ch.logger.Info().Str("url", ch.url).Msg("Subscribed to room channel")
	return nil
}

// Track announces or refreshes this client's presence
func (ch *WSChannel) Track(meta PresenceMeta) error {
	return ch.Send(EventTrack, meta)
}

// Untrack withdraws this client's presence
func (ch *WSChannel) Untrack() error {
	return ch.Send(EventUntrack, nil)
}

// Send emits one event on the room topic
func (ch *WSChannel) Send(event string, payload any) error {
	ch.mu.Lock()
	conn := ch.conn
	joined := ch.joined
	ch.mu.Unlock()

	if conn == nil || !joined {
		return ErrNotSubscribed
	}

	f := frame{Topic: ch.topic, Event: event, Ref: ch.nextRef()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		f.Payload = data
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the socket down. Idempotent; the OnClose handler is not
// invoked for a deliberate close.
func (ch *WSChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	conn := ch.conn
	ch.conn = nil
	ch.joined = false
	ch.mu.Unlock()

	if conn != nil {
		ch.writeMu.Lock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ch.writeMu.Unlock()
		conn.Close()
	}
	return nil
}

func (ch *WSChannel) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			ch.handleDead(err)
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}

		switch f.Event {
		case EventPresenceState:
			var state presenceState
			if err := json.Unmarshal(f.Payload, &state); err != nil {
				ch.logger.Warn().Err(err).Msg("Bad presence snapshot")
				continue
			}
			ch.handlerMu.RLock()
			fn := ch.syncFn
			ch.handlerMu.RUnlock()
			if fn != nil {
				fn(state.Members)
			}
		case EventBroadcast:
			ch.handlerMu.RLock()
			fn := ch.broadcastFn
			ch.handlerMu.RUnlock()
			if fn != nil {
				fn(f.Payload)
			}
		case EventError:
			ch.logger.Warn().RawJSON("payload", f.Payload).Msg("Room error frame")
		}
	}
}

// handleDead reports an unexpected socket death to the registered
// handler unless Close already ran.
func (ch *WSChannel) handleDead(err error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	conn := ch.conn
	ch.conn = nil
	ch.joined = false
	ch.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		ch.logger.Warn().Err(err).Msg("Room channel closed unexpectedly")
	}

	ch.handlerMu.RLock()
	fn := ch.closeFn
	ch.handlerMu.RUnlock()
	if fn != nil {
		fn(fmt.Errorf("%w: %v", ErrChannelClosed, err))
	}
}

func (ch *WSChannel) nextRef() string {
	ch.mu.Lock()
	ch.refSeq++
	ref := ch.refSeq
	ch.mu.Unlock()
	return strconv.FormatUint(ref, 10)
}
