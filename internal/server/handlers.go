package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/normanking/cortexvoice/internal/metrics"
	"github.com/normanking/cortexvoice/internal/realtime"
	"github.com/normanking/cortexvoice/internal/store"
)

const maxClipBytes = 32 << 20

// handleVoice accepts a multipart clip upload. With an upstream
// configured the clip is proxied and the assistant response relayed;
// otherwise the clip is queued on the sink and acknowledged.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}

	if err := r.ParseMultipartForm(maxClipBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio part is required"})
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxClipBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read audio"})
		return
	}
	if len(audio) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio part is empty"})
		return
	}
	if len(audio) > maxClipBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "clip too large"})
		return
	}

	mimeType := r.FormValue("mime_type")
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
	}
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	durationMS, _ := strconv.ParseInt(r.FormValue("duration_ms"), 10, 64)
	bitrate, _ := strconv.ParseInt(r.FormValue("bitrate"), 10, 64)

	metrics.ClipsReceived.Inc()
	metrics.ClipBytes.Observe(float64(len(audio)))

	// the room hears intake status even though clips arrive over HTTP
	s.hub.Broadcast(realtime.RoomBroadcast{Type: realtime.BroadcastStatus, Status: "processing", SessionID: sessionID})
	defer s.hub.Broadcast(realtime.RoomBroadcast{Type: realtime.BroadcastStatus, Status: "idle", SessionID: sessionID})

	rec := ClipRecord{
		SessionID:  sessionID,
		UserID:     r.FormValue("user_id"),
		MIME:       mimeType,
		Bitrate:    bitrate,
		DurationMS: durationMS,
		Audio:      audio,
		ReceivedAt: time.Now(),
	}

	sinkErr := s.sink.Append(r.Context(), rec)
	if sinkErr != nil {
		s.logger.Error().Err(sinkErr).Str("session_id", sessionID).Msg("Failed to queue clip")
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("mime", mimeType).
		Int("bytes", len(audio)).
		Int64("duration_ms", durationMS).
		Msg("Clip received")

	if s.cfg.UpstreamURL != "" {
		s.proxyVoice(w, rec)
		return
	}

	// no upstream: the sink is the only delivery path
	if sinkErr != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "clip queue unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transcript": "",
		"reply":      "",
		"usage":      map[string]any{"bytes": len(audio), "duration_ms": durationMS},
	})
}

// proxyVoice replays the clip to the configured assistant backend and
// relays its JSON response verbatim.
func (s *Server) proxyVoice(w http.ResponseWriter, rec ClipRecord) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", "clip")
	if err == nil {
		_, err = part.Write(rec.Audio)
	}
	if err == nil {
		err = writer.WriteField("session_id", rec.SessionID)
	}
	if err == nil {
		err = writer.WriteField("mime_type", rec.MIME)
	}
	if err == nil {
		err = writer.WriteField("duration_ms", strconv.FormatInt(rec.DurationMS, 10))
	}
	if err == nil {
		err = writer.WriteField("bitrate", strconv.FormatInt(rec.Bitrate, 10))
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to build upstream request"})
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.cfg.UpstreamURL, &body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to build upstream request"})
		return
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.upstream.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("upstream", s.cfg.UpstreamURL).Msg("Upstream voice call failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn().Int("status", resp.StatusCode).Msg("Upstream rejected clip")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream rejected clip"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, resp.Body)
}

// handleTurns saves one turn (POST) or lists a session's turns (GET)
func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var turn store.Turn
		if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if turn.UserID == "" || turn.SessionID == "" || turn.Content == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId, sessionId and content are required"})
			return
		}
		if turn.Role != "user" && turn.Role != "assistant" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "role must be user or assistant"})
			return
		}
		if err := s.store.SaveTurn(r.Context(), turn); err != nil {
			s.logger.Error().Err(err).Msg("Failed to save turn")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save turn"})
			return
		}
		metrics.MemoryOperations.WithLabelValues("save_turn").Inc()
		writeJSON(w, http.StatusCreated, map[string]string{"status": "saved"})

	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		sessionID := r.URL.Query().Get("session_id")
		if userID == "" || sessionID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and session_id are required"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		turns, err := s.store.Turns(r.Context(), userID, sessionID, limit)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list turns")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list turns"})
			return
		}
		metrics.MemoryOperations.WithLabelValues("list_turns").Inc()
		if turns == nil {
			turns = []store.Turn{}
		}
		writeJSON(w, http.StatusOK, turns)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "GET or POST required"})
	}
}

// handleIntent upserts (POST) or fetches (GET) the session intent
func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var intent store.Intent
		if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if intent.UserID == "" || intent.SessionID == "" || intent.Intent == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId, sessionId and intent are required"})
			return
		}
		if err := s.store.SaveIntent(r.Context(), intent); err != nil {
			s.logger.Error().Err(err).Msg("Failed to save intent")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save intent"})
			return
		}
		metrics.MemoryOperations.WithLabelValues("save_intent").Inc()
		writeJSON(w, http.StatusCreated, map[string]string{"status": "saved"})

	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		sessionID := r.URL.Query().Get("session_id")
		if userID == "" || sessionID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and session_id are required"})
			return
		}
		intent, err := s.store.IntentFor(r.Context(), userID, sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no intent for session"})
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to load intent")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load intent"})
			return
		}
		metrics.MemoryOperations.WithLabelValues("get_intent").Inc()
		writeJSON(w, http.StatusOK, intent)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "GET or POST required"})
	}
}

// handlePreferences upserts (POST) or lists (GET) user preferences
func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var pref store.Preference
		if err := json.NewDecoder(r.Body).Decode(&pref); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if pref.UserID == "" || pref.Key == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId and key are required"})
			return
		}
		if err := s.store.SavePreference(r.Context(), pref); err != nil {
			s.logger.Error().Err(err).Msg("Failed to save preference")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save preference"})
			return
		}
		metrics.MemoryOperations.WithLabelValues("save_preference").Inc()
		writeJSON(w, http.StatusCreated, map[string]string{"status": "saved"})

	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
			return
		}
		prefs, err := s.store.Preferences(r.Context(), userID)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to list preferences")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list preferences"})
			return
		}
		metrics.MemoryOperations.WithLabelValues("list_preferences").Inc()
		if prefs == nil {
			prefs = []store.Preference{}
		}
		writeJSON(w, http.StatusOK, prefs)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "GET or POST required"})
	}
}

// handleSession clears a session's turns and intent
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "DELETE required"})
		return
	}
	userID := r.URL.Query().Get("user_id")
	sessionID := r.URL.Query().Get("session_id")
	if userID == "" || sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and session_id are required"})
		return
	}
	if err := s.store.ClearSession(r.Context(), userID, sessionID); err != nil {
		s.logger.Error().Err(err).Msg("Failed to clear session")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to clear session"})
		return
	}
	metrics.MemoryOperations.WithLabelValues("clear_session").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
