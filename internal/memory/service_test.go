package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexvoice/internal/bus"
	"github.com/normanking/cortexvoice/internal/store"
)

func TestSaveTurnPostsToBackend(t *testing.T) {
	var received store.Turn
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/memory/turns", r.URL.Path)
		assert.Equal(t, "Bearer mem-tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	svc := NewService(Config{Enabled: true, BaseURL: server.URL, Token: "mem-tok"}, "u-1", bus.NewEventBus(), zerolog.Nop())
	svc.SaveTurn(context.Background(), "s-1", "user", "hello")

	assert.Equal(t, "u-1", received.UserID)
	assert.Equal(t, "s-1", received.SessionID)
	assert.Equal(t, "user", received.Role)
	assert.Equal(t, "hello", received.Content)
}

func TestTurnsFetchesFromBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u-1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "s-1", r.URL.Query().Get("session_id"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode([]store.Turn{
			{ID: "t-1", Role: "user", Content: "hi"},
			{ID: "t-2", Role: "assistant", Content: "hello"},
		})
	}))
	defer server.Close()

	svc := NewService(Config{Enabled: true, BaseURL: server.URL}, "u-1", bus.NewEventBus(), zerolog.Nop())
	turns := svc.Turns(context.Background(), "s-1", 5)

	require.Len(t, turns, 2)
	assert.Equal(t, "hi", turns[0].Content)
}

func TestFailuresAreSwallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusInternalServerError)
	}))
	defer server.Close()

	eventBus := bus.NewEventBus()
	failures := make(chan bus.Event, 8)
	eventBus.Subscribe(bus.EventTypeMemoryFailed, func(e bus.Event) { failures <- e })

	svc := NewService(Config{Enabled: true, BaseURL: server.URL}, "u-1", eventBus, zerolog.Nop())

	// none of these may panic or propagate the failure
	svc.SaveTurn(context.Background(), "s-1", "user", "x")
	svc.SaveIntent(context.Background(), "s-1", "smalltalk")
	svc.SavePreference(context.Background(), "voice", "alloy")
	assert.Nil(t, svc.Turns(context.Background(), "s-1", 5))
	assert.Nil(t, svc.Preferences(context.Background()))
	svc.ClearSession(context.Background(), "s-1")

	select {
	case e := <-failures:
		assert.NotEmpty(t, e.Data["op"])
		assert.Contains(t, e.Data["error"], "500")
	case <-time.After(time.Second):
		t.Fatal("expected a memory failure event")
	}
}

func TestUnreachableBackendIsSwallowed(t *testing.T) {
	svc := NewService(Config{Enabled: true, BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond}, "u-1", bus.NewEventBus(), zerolog.Nop())

	svc.SaveTurn(context.Background(), "s-1", "user", "x")
	assert.Nil(t, svc.Turns(context.Background(), "s-1", 5))
}

func TestDisabledServiceSkipsNetwork(t *testing.T) {
	hit := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer server.Close()

	svc := NewService(Config{Enabled: false, BaseURL: server.URL}, "u-1", bus.NewEventBus(), zerolog.Nop())
	svc.SaveTurn(context.Background(), "s-1", "user", "x")
	assert.Nil(t, svc.Turns(context.Background(), "s-1", 5))
	assert.False(t, hit)

	// missing identity also disables the client
	anon := NewService(Config{Enabled: true, BaseURL: server.URL}, "", bus.NewEventBus(), zerolog.Nop())
	anon.SavePreference(context.Background(), "k", "v")
	assert.False(t, hit)
}
