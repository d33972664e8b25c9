package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/realtime"
	"github.com/normanking/cortexvoice/internal/store"
)

const testToken = "tok-secret"

type recordSink struct {
	mu   sync.Mutex
	recs []ClipRecord
	err  error
}

func (s *recordSink) Append(_ context.Context, rec ClipRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *recordSink) Close() error { return nil }

func (s *recordSink) records() []ClipRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ClipRecord(nil), s.recs...)
}

type serverFixture struct {
	url   string
	sink  *recordSink
	store *store.Store
}

func newTestServer(t *testing.T, mutate func(*config.ServerConfig)) *serverFixture {
	cfg := config.ServerConfig{
		Host:           "127.0.0.1",
		AuthTokens:     []string{testToken},
		HeartbeatGrace: time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := store.New(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sink := &recordSink{}
	hub := NewHub(HubConfig{HeartbeatGrace: cfg.HeartbeatGrace}, NewMemoryPresence(), zerolog.Nop())
	srv := httptest.NewServer(New(cfg, st, hub, sink, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)

	return &serverFixture{url: srv.URL, sink: sink, store: st}
}

func voiceRequest(t *testing.T, url, token, sessionID string, audio []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if audio != nil {
		part, err := w.CreateFormFile("audio", "clip.wav")
		require.NoError(t, err)
		_, err = part.Write(audio)
		require.NoError(t, err)
	}
	if sessionID != "" {
		require.NoError(t, w.WriteField("session_id", sessionID))
	}
	require.NoError(t, w.WriteField("mime_type", "audio/wav"))
	require.NoError(t, w.WriteField("duration_ms", "1200"))
	require.NoError(t, w.WriteField("bitrate", "128000"))
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, url+"/api/voice", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func doJSON(t *testing.T, method, url, token string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthNeedsNoToken(t *testing.T) {
	fx := newTestServer(t, nil)

	resp, err := http.Get(fx.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestVoiceRequiresAuth(t *testing.T) {
	fx := newTestServer(t, nil)
	audio := bytes.Repeat([]byte{0x52}, 2048)

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{name: "missing token", token: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", token: "tok-bogus", wantStatus: http.StatusUnauthorized},
		{name: "valid token", token: testToken, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.DefaultClient.Do(voiceRequest(t, fx.url, tt.token, "sess-1", audio))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestVoiceUploadQueuesClip(t *testing.T) {
	fx := newTestServer(t, nil)
	audio := bytes.Repeat([]byte{0xAB}, 4096)

	resp, err := http.DefaultClient.Do(voiceRequest(t, fx.url, testToken, "sess-42", audio))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Transcript string         `json:"transcript"`
		Reply      string         `json:"reply"`
		Usage      map[string]any `json:"usage"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 4096, body.Usage["bytes"])

	recs := fx.sink.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "sess-42", recs[0].SessionID)
	assert.Equal(t, "audio/wav", recs[0].MIME)
	assert.EqualValues(t, 1200, recs[0].DurationMS)
	assert.Len(t, recs[0].Audio, 4096)
}

func TestVoiceValidation(t *testing.T) {
	fx := newTestServer(t, nil)

	tests := []struct {
		name      string
		sessionID string
		audio     []byte
	}{
		{name: "missing session id", sessionID: "", audio: []byte("RIFFdata")},
		{name: "missing audio part", sessionID: "sess-1", audio: nil},
		{name: "empty audio", sessionID: "sess-1", audio: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.DefaultClient.Do(voiceRequest(t, fx.url, testToken, tt.sessionID, tt.audio))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			assert.Empty(t, fx.sink.records(), "rejected clips must not reach the sink")
		})
	}
}

func TestVoiceSinkFailureWithoutUpstream(t *testing.T) {
	fx := newTestServer(t, nil)
	fx.sink.err = io.ErrClosedPipe

	resp, err := http.DefaultClient.Do(voiceRequest(t, fx.url, testToken, "sess-1", []byte("RIFFdata")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestVoiceProxiesUpstream(t *testing.T) {
	var upstreamSession string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(8<<20))
		upstreamSession = r.FormValue("session_id")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"transcript": "hello there", "reply": "hi"})
	}))
	defer upstream.Close()

	fx := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.UpstreamURL = upstream.URL
	})

	resp, err := http.DefaultClient.Do(voiceRequest(t, fx.url, testToken, "sess-7", []byte("RIFFdata")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "hello there", body["transcript"])
	assert.Equal(t, "hi", body["reply"])
	assert.Equal(t, "sess-7", upstreamSession)
}

func TestVoiceUpstreamErrorBecomesBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model melted", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	fx := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.UpstreamURL = upstream.URL
	})

	resp, err := http.DefaultClient.Do(voiceRequest(t, fx.url, testToken, "sess-7", []byte("RIFFdata")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestMemoryTurnsEndpoint(t *testing.T) {
	fx := newTestServer(t, nil)

	resp := doJSON(t, http.MethodPost, fx.url+"/api/memory/turns", testToken,
		store.Turn{UserID: "u-1", SessionID: "s-1", Role: "user", Content: "turn the lights on"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, fx.url+"/api/memory/turns", testToken,
		store.Turn{UserID: "u-1", SessionID: "s-1", Role: "assistant", Content: "done"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, fx.url+"/api/memory/turns?user_id=u-1&session_id=s-1", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var turns []store.Turn
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&turns))
	require.Len(t, turns, 2)
	assert.Equal(t, "turn the lights on", turns[0].Content)
	assert.Equal(t, "done", turns[1].Content)
}

func TestMemoryTurnsValidation(t *testing.T) {
	fx := newTestServer(t, nil)

	resp := doJSON(t, http.MethodPost, fx.url+"/api/memory/turns", testToken,
		store.Turn{UserID: "u-1", SessionID: "s-1", Role: "narrator", Content: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, fx.url+"/api/memory/turns?user_id=u-1", testToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMemoryIntentEndpoint(t *testing.T) {
	fx := newTestServer(t, nil)

	resp := doJSON(t, http.MethodPost, fx.url+"/api/memory/intent", testToken,
		store.Intent{UserID: "u-1", SessionID: "s-1", Intent: "control_lights"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, fx.url+"/api/memory/intent?user_id=u-1&session_id=s-1", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var intent store.Intent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&intent))
	assert.Equal(t, "control_lights", intent.Intent)

	resp = doJSON(t, http.MethodGet, fx.url+"/api/memory/intent?user_id=u-1&session_id=s-other", testToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMemoryPreferencesEndpoint(t *testing.T) {
	fx := newTestServer(t, nil)

	resp := doJSON(t, http.MethodPost, fx.url+"/api/memory/preferences", testToken,
		store.Preference{UserID: "u-1", Key: "voice", Value: "alto"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, fx.url+"/api/memory/preferences?user_id=u-1", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var prefs []store.Preference
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&prefs))
	require.Len(t, prefs, 1)
	assert.Equal(t, "alto", prefs[0].Value)
}

func TestMemorySessionClearEndpoint(t *testing.T) {
	fx := newTestServer(t, nil)

	doJSON(t, http.MethodPost, fx.url+"/api/memory/turns", testToken,
		store.Turn{UserID: "u-1", SessionID: "s-1", Role: "user", Content: "hello"})

	resp := doJSON(t, http.MethodDelete, fx.url+"/api/memory/session?user_id=u-1&session_id=s-1", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, fx.url+"/api/memory/turns?user_id=u-1&session_id=s-1", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var turns []store.Turn
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&turns))
	assert.Empty(t, turns)
}

func TestRealtimeAuthAcceptsQueryToken(t *testing.T) {
	fx := newTestServer(t, nil)
	wsURL := "ws" + strings.TrimPrefix(fx.url, "http") + "/realtime"

	// browsers cannot set headers on websockets, so the token rides the URL
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+testToken, nil)
	require.NoError(t, err)
	defer conn.Close()

	join, _ := json.Marshal(wsFrame{Topic: realtime.RoomTopic, Event: realtime.EventJoin, Ref: "1"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, join))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var ack wsFrame
	require.NoError(t, json.Unmarshal(raw, &ack))
	assert.Equal(t, realtime.EventJoined, ack.Event)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err, "no token must fail the handshake")
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestOpenServerAcceptsAnonymous(t *testing.T) {
	fx := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.AuthTokens = nil
	})

	resp, err := http.DefaultClient.Do(voiceRequest(t, fx.url, "", "sess-1", []byte("RIFFdata")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
