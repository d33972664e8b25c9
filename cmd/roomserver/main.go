// roomserver hosts the shared voice room: websocket presence, clip
// intake, and the conversational memory API.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/realtime"
	"github.com/normanking/cortexvoice/internal/scheduler"
	"github.com/normanking/cortexvoice/internal/server"
	"github.com/normanking/cortexvoice/internal/store"
)

const version = "1.0.0"

func main() {
	hostFlag := flag.String("host", "", "Listen host (overrides config)")
	portFlag := flag.Int("port", 0, "Listen port (overrides config)")
	redisFlag := flag.String("redis", "", "Redis address (overrides config)")
	dbFlag := flag.String("db", "", "SQLite database path (overrides config)")
	memOnly := flag.Bool("mem", false, "Skip Redis, keep presence and clips in memory")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}).With().Timestamp().Str("app", "roomserver").Logger()

	logger.Info().Str("version", version).Msg("Starting roomserver")

	cfg, err := config.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.DefaultConfig()
	}
	if *hostFlag != "" {
		cfg.Server.Host = *hostFlag
	}
	if *portFlag != 0 {
		cfg.Server.Port = *portFlag
	}
	if *redisFlag != "" {
		cfg.Server.RedisAddr = *redisFlag
	}
	if *dbFlag != "" {
		cfg.Server.DatabasePath = *dbFlag
	}

	// Open the memory store
	st, err := store.New(cfg.Server.DatabasePath)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.Server.DatabasePath).Msg("Failed to open store")
		os.Exit(1)
	}
	logger.Info().Str("path", cfg.Server.DatabasePath).Msg("Store opened")

	// Presence and clip delivery prefer Redis so restarts and multiple
	// instances share state; without it the server still runs standalone.
	redisPassword := os.Getenv("CORTEXVOICE_REDIS_PASSWORD")

	var presence server.PresenceStore
	var sink server.ClipSink
	if *memOnly {
		presence = server.NewMemoryPresence()
		sink = server.NoopClipSink{}
		logger.Info().Msg("Running in memory-only mode")
	} else {
		rp, err := server.NewRedisPresence(cfg.Server.RedisAddr, redisPassword, 0, "")
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Server.RedisAddr).Msg("Redis unavailable, using in-memory presence")
			presence = server.NewMemoryPresence()
		} else {
			presence = rp
			logger.Info().Str("addr", cfg.Server.RedisAddr).Msg("Redis presence connected")
		}

		rs, err := server.NewRedisClipSink(cfg.Server.RedisAddr, redisPassword, 0, cfg.Server.ClipStreamName, cfg.Server.ClipStreamMax)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, clips will not be queued")
			sink = server.NoopClipSink{}
		} else {
			sink = rs
			logger.Info().Str("stream", cfg.Server.ClipStreamName).Msg("Redis clip sink connected")
		}
	}

	// Room hub
	hub := server.NewHub(server.HubConfig{
		Topic:          realtime.RoomTopic,
		HeartbeatGrace: cfg.Server.HeartbeatGrace,
	}, presence, logger)
	hub.Start()
	logger.Info().Str("topic", realtime.RoomTopic).Msg("Room hub started")

	// HTTP server
	srv := server.New(cfg.Server, st, hub, sink, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Server error")
		}
	}()
	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("Server listening")

	// Retention scheduler
	sched, err := scheduler.New(st, cfg.Server.RetentionCron, cfg.Server.RetentionDays, logger)
	if err != nil {
		logger.Error().Err(err).Str("cron", cfg.Server.RetentionCron).Msg("Invalid retention schedule")
		os.Exit(1)
	}
	sched.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info().Msg("Stopping scheduler")
	sched.Stop()

	logger.Info().Msg("Stopping HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	logger.Info().Msg("Closing presence store")
	presence.Close()

	logger.Info().Msg("Closing clip sink")
	if err := sink.Close(); err != nil {
		logger.Error().Err(err).Msg("Clip sink close error")
	}

	logger.Info().Msg("Closing store")
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("Store close error")
	}

	logger.Info().Msg("Shutdown complete")
}
