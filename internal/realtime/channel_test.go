package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testRoom is a minimal in-process room endpoint: acks joins, echoes a
// presence snapshot for every track, records everything it sees.
type testRoom struct {
	server *httptest.Server

	mu        sync.Mutex
	frames    []frame
	authToken string
	ackJoins  bool
	dropAfter bool // close the socket right after the join ack
}

func newTestRoom(t *testing.T) *testRoom {
	room := &testRoom{ackJoins: true}
	room.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		room.mu.Lock()
		room.authToken = r.Header.Get("Authorization")
		room.mu.Unlock()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if err := json.Unmarshal(raw, &f); err != nil {
				continue
			}
			room.mu.Lock()
			room.frames = append(room.frames, f)
			ack := room.ackJoins
			drop := room.dropAfter
			room.mu.Unlock()

			switch f.Event {
			case EventJoin:
				if !ack {
					continue
				}
				reply, _ := json.Marshal(frame{Topic: f.Topic, Event: EventJoined, Ref: f.Ref})
				conn.WriteMessage(websocket.TextMessage, reply)
				if drop {
					return
				}
			case EventTrack:
				var meta PresenceMeta
				json.Unmarshal(f.Payload, &meta)
				state, _ := json.Marshal(presenceState{Members: []PresenceMeta{meta}})
				reply, _ := json.Marshal(frame{Topic: f.Topic, Event: EventPresenceState, Payload: state})
				conn.WriteMessage(websocket.TextMessage, reply)
			}
		}
	}))
	t.Cleanup(room.server.Close)
	return room
}

func (r *testRoom) wsURL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *testRoom) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Event
	}
	return out
}

func TestWSChannelSubscribeAndTrack(t *testing.T) {
	room := newTestRoom(t)
	ch := NewWSChannel(room.wsURL(), RoomTopic, "tok-abc", zerolog.Nop())

	synced := make(chan []PresenceMeta, 1)
	ch.OnPresenceSync(func(members []PresenceMeta) { synced <- members })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ch.Subscribe(ctx))
	defer ch.Close()

	require.NoError(t, ch.Track(PresenceMeta{UserID: "u-9", Name: "Lin"}))

	select {
	case members := <-synced:
		require.Len(t, members, 1)
		assert.Equal(t, "u-9", members[0].UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("presence snapshot never arrived")
	}

	require.NoError(t, ch.Untrack())

	room.mu.Lock()
	auth := room.authToken
	room.mu.Unlock()
	assert.Equal(t, "Bearer tok-abc", auth)

	deadline := time.Now().Add(2 * time.Second)
	for {
		events := room.events()
		if len(events) >= 3 {
			assert.Equal(t, EventJoin, events[0])
			assert.Equal(t, EventTrack, events[1])
			assert.Equal(t, EventUntrack, events[2])
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server saw %v", events)
		}
		time.Sleep(5 * time.Millisecond)
	}

	room.mu.Lock()
	topic := room.frames[0].Topic
	room.mu.Unlock()
	assert.Equal(t, RoomTopic, topic)
}

func TestWSChannelSubscribeTimeout(t *testing.T) {
	room := newTestRoom(t)
	room.mu.Lock()
	room.ackJoins = false
	room.mu.Unlock()

	ch := NewWSChannel(room.wsURL(), RoomTopic, "", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := ch.Subscribe(ctx)
	require.Error(t, err)
}

func TestWSChannelUnexpectedCloseFiresHandler(t *testing.T) {
	room := newTestRoom(t)
	room.mu.Lock()
	room.dropAfter = true
	room.mu.Unlock()

	ch := NewWSChannel(room.wsURL(), RoomTopic, "", zerolog.Nop())
	closed := make(chan error, 1)
	ch.OnClose(func(err error) { closed <- err })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ch.Subscribe(ctx))

	select {
	case err := <-closed:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("close handler never fired")
	}
}

func TestWSChannelDeliberateCloseIsSilent(t *testing.T) {
	room := newTestRoom(t)
	ch := NewWSChannel(room.wsURL(), RoomTopic, "", zerolog.Nop())

	closed := make(chan error, 1)
	ch.OnClose(func(err error) { closed <- err })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ch.Subscribe(ctx))
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close(), "close is idempotent")

	select {
	case err := <-closed:
		t.Fatalf("deliberate close must not fire the handler, got %v", err)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWSChannelSendRequiresSubscribe(t *testing.T) {
	ch := NewWSChannel("ws://localhost:1/realtime", RoomTopic, "", zerolog.Nop())
	assert.ErrorIs(t, ch.Send(EventBroadcast, map[string]string{"x": "y"}), ErrNotSubscribed)
	assert.ErrorIs(t, ch.Track(PresenceMeta{}), ErrNotSubscribed)
}
