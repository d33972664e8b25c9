package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/metrics"
	"github.com/normanking/cortexvoice/internal/store"
)

// Server is the room backend: websocket hub, clip intake and the
// conversational memory REST surface.
type Server struct {
	cfg    config.ServerConfig
	store  *store.Store
	hub    *Hub
	sink   ClipSink
	logger zerolog.Logger

	httpServer *http.Server
	upstream   *http.Client
}

// New wires the HTTP surface around the given collaborators
func New(cfg config.ServerConfig, st *store.Store, hub *Hub, sink ClipSink, logger zerolog.Logger) *Server {
	if sink == nil {
		sink = NoopClipSink{}
	}
	s := &Server{
		cfg:      cfg,
		store:    st,
		hub:      hub,
		sink:     sink,
		logger:   logger.With().Str("component", "server").Logger(),
		upstream: &http.Client{Timeout: 60 * time.Second},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/voice", s.withMetrics("/api/voice", s.withAuth(s.handleVoice)))
	mux.Handle("/api/memory/turns", s.withMetrics("/api/memory/turns", s.withAuth(s.handleTurns)))
	mux.Handle("/api/memory/intent", s.withMetrics("/api/memory/intent", s.withAuth(s.handleIntent)))
	mux.Handle("/api/memory/preferences", s.withMetrics("/api/memory/preferences", s.withAuth(s.handlePreferences)))
	mux.Handle("/api/memory/session", s.withMetrics("/api/memory/session", s.withAuth(s.handleSession)))
	// the hub hijacks the connection, so no metrics wrapper here
	mux.Handle("/realtime", s.withAuth(hub.ServeHTTP))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  0, // websocket connections stay open
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	if len(cfg.AuthTokens) == 0 {
		s.logger.Warn().Msg("No auth tokens configured, accepting unauthenticated requests")
	}

	return s
}

// Start blocks serving HTTP until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Room server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the root mux, used by tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// withAuth validates the bearer token against the configured set. An
// empty set disables authentication. Websocket clients that cannot set
// headers may pass the token as a query parameter.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.cfg.AuthTokens) == 0 {
			next(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !s.tokenAllowed(token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing token"})
			return
		}
		next(w, r)
	}
}

func (s *Server) tokenAllowed(token string) bool {
	if token == "" {
		return false
	}
	allowed := false
	for _, t := range s.cfg.AuthTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(t)) == 1 {
			allowed = true
		}
	}
	return allowed
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// withMetrics records request counts and latency per endpoint
func (s *Server) withMetrics(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.RequestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
