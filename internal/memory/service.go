// Package memory is the client side of conversational memory. Every
// call is best effort: failures are logged and swallowed so the
// interactive path never blocks on the backend.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/bus"
	"github.com/normanking/cortexvoice/internal/store"
)

// Config holds the memory backend settings
type Config struct {
	Enabled bool          `json:"enabled"`
	BaseURL string        `json:"base_url"`
	Token   string        `json:"token"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		BaseURL: "http://localhost:8790",
		Timeout: 3 * time.Second,
	}
}

// Service talks to the room server's memory API for one user
type Service struct {
	config   Config
	userID   string
	client   *http.Client
	eventBus *bus.EventBus
	logger   zerolog.Logger
}

// NewService creates a memory client bound to a user identity
func NewService(config Config, userID string, eventBus *bus.EventBus, logger zerolog.Logger) *Service {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Service{
		config:   config,
		userID:   userID,
		client:   &http.Client{Timeout: config.Timeout},
		eventBus: eventBus,
		logger:   logger.With().Str("component", "memory").Logger(),
	}
}

// SaveTurn records one utterance. Failures are swallowed.
func (s *Service) SaveTurn(ctx context.Context, sessionID, role, content string) {
	if !s.enabled() {
		return
	}
	turn := store.Turn{UserID: s.userID, SessionID: sessionID, Role: role, Content: content}
	if err := s.post(ctx, "/api/memory/turns", turn); err != nil {
		s.swallow("save turn", err)
		return
	}
	s.eventBus.Publish(bus.Event{
		Type: bus.EventTypeTurnSaved,
		Data: map[string]any{"sessionId": sessionID, "role": role},
	})
}

// Turns fetches recent turns for a session, empty on any failure
func (s *Service) Turns(ctx context.Context, sessionID string, limit int) []store.Turn {
	if !s.enabled() {
		return nil
	}
	q := url.Values{}
	q.Set("user_id", s.userID)
	q.Set("session_id", sessionID)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var turns []store.Turn
	if err := s.get(ctx, "/api/memory/turns?"+q.Encode(), &turns); err != nil {
		s.swallow("list turns", err)
		return nil
	}
	return turns
}

// SaveIntent upserts the session intent. Failures are swallowed.
func (s *Service) SaveIntent(ctx context.Context, sessionID, intent string) {
	if !s.enabled() {
		return
	}
	body := store.Intent{UserID: s.userID, SessionID: sessionID, Intent: intent}
	if err := s.post(ctx, "/api/memory/intent", body); err != nil {
		s.swallow("save intent", err)
	}
}

// SavePreference upserts one preference. Failures are swallowed.
func (s *Service) SavePreference(ctx context.Context, key, value string) {
	if !s.enabled() {
		return
	}
	body := store.Preference{UserID: s.userID, Key: key, Value: value}
	if err := s.post(ctx, "/api/memory/preferences", body); err != nil {
		s.swallow("save preference", err)
	}
}

// Preferences fetches the user's preferences, empty on any failure
func (s *Service) Preferences(ctx context.Context) []store.Preference {
	if !s.enabled() {
		return nil
	}
	q := url.Values{}
	q.Set("user_id", s.userID)

	var prefs []store.Preference
	if err := s.get(ctx, "/api/memory/preferences?"+q.Encode(), &prefs); err != nil {
		s.swallow("list preferences", err)
		return nil
	}
	return prefs
}

// ClearSession drops one session's turns and intent. Failures are
// swallowed.
func (s *Service) ClearSession(ctx context.Context, sessionID string) {
	if !s.enabled() {
		return
	}
	q := url.Values{}
	q.Set("user_id", s.userID)
	q.Set("session_id", sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.config.BaseURL+"/api/memory/session?"+q.Encode(), nil)
	if err != nil {
		s.swallow("clear session", err)
		return
	}
	if err := s.do(req, nil); err != nil {
		s.swallow("clear session", err)
	}
}

func (s *Service) enabled() bool {
	return s.config.Enabled && s.userID != ""
}

// swallow logs a backend failure without surfacing it
func (s *Service) swallow(op string, err error) {
	s.logger.Warn().Err(err).Str("op", op).Msg("Memory backend call failed, continuing without it")
	s.eventBus.Publish(bus.Event{
		Type: bus.EventTypeMemoryFailed,
		Data: map[string]any{"op": op, "error": err.Error()},
	})
}

func (s *Service) post(ctx context.Context, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, nil)
}

func (s *Service) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return s.do(req, out)
}

func (s *Service) do(req *http.Request, out any) error {
	if s.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("memory backend returned %d: %s", resp.StatusCode, string(body))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
