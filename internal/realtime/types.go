// Package realtime keeps one shared presence channel alive per client
// process across transient network loss, with capped exponential
// reconnect and a periodic heartbeat re-announcing presence.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Channel room name shared by every client
const RoomTopic = "voice-room"

// Application payload kinds carried on broadcast frames
const (
	BroadcastStatus = "status"
	BroadcastVolume = "volume"
)

// RoomBroadcast is the application payload inside a broadcast frame.
// The server pushes status announcements; clients push volume samples.
type RoomBroadcast struct {
	Type      string  `json:"type"`
	Status    string  `json:"status,omitempty"`
	SessionID string  `json:"sessionId,omitempty"`
	UserID    string  `json:"userId,omitempty"`
	Name      string  `json:"name,omitempty"`
	Level     float64 `json:"level,omitempty"`
}

// SocketURL derives the websocket endpoint from an http(s) server URL
func SocketURL(serverURL string) string {
	ws := serverURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimSuffix(ws, "/") + "/realtime"
}

var (
	ErrNoIdentity       = errors.New("no authenticated user identity")
	ErrNotSubscribed    = errors.New("channel not subscribed")
	ErrChannelClosed    = errors.New("channel closed")
	ErrSubscribeTimeout = errors.New("subscribe timed out")
)

// ConnState is the connection lifecycle state
type ConnState string

const (
	StateOffline      ConnState = "offline"
	StateReconnecting ConnState = "reconnecting"
	StateConnected    ConnState = "connected"
)

// PresenceMeta is the self-descriptor announced on the channel and the
// shape of each membership entry.
type PresenceMeta struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	JoinedAt string `json:"joinedAt"`
	LastSeen string `json:"lastSeen"`
}

// Channel is the opaque transport capability. Implementations own
// their socket; consumers never reach into transport internals.
// Subscription status after a successful Subscribe arrives through the
// OnClose handler, mirroring an asynchronous status callback.
type Channel interface {
	Subscribe(ctx context.Context) error
	Track(meta PresenceMeta) error
	Untrack() error
	OnPresenceSync(fn func([]PresenceMeta))
	OnBroadcast(fn func(json.RawMessage))
	OnClose(fn func(error))
	Send(event string, payload any) error
	Close() error
}

// ChannelFactory builds a fresh channel for each connect attempt
type ChannelFactory func() Channel

// Config holds reconnect and heartbeat tuning
type Config struct {
	SubscribeTimeout  time.Duration
	HeartbeatInterval time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	BackoffJitter     time.Duration
}

// DefaultConfig returns the tuning used by the app
func DefaultConfig() Config {
	return Config{
		SubscribeTimeout:  10 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		MaxAttempts:       100,
		BackoffBase:       time.Second,
		BackoffCap:        30 * time.Second,
		BackoffJitter:     time.Second,
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
