package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClipRecord is what the voice endpoint hands to the sink after a
// multipart upload passes validation.
type ClipRecord struct {
	SessionID  string
	UserID     string
	MIME       string
	Bitrate    int64
	DurationMS int64
	Audio      []byte
	ReceivedAt time.Time
}

// ClipSink queues accepted clips for downstream consumers.
type ClipSink interface {
	Append(ctx context.Context, rec ClipRecord) error
	Close() error
}

// NoopClipSink discards clips. Used when no redis is configured.
type NoopClipSink struct{}

func (NoopClipSink) Append(context.Context, ClipRecord) error { return nil }
func (NoopClipSink) Close() error                             { return nil }

// RedisClipSink appends clips to a capped redis stream. Transcription
// workers consume the stream with a consumer group.
type RedisClipSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewRedisClipSink connects to redis and validates the connection
func NewRedisClipSink(addr, password string, db int, stream string, maxLen int64) (*RedisClipSink, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if stream == "" {
		stream = "cortexvoice:clips"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisClipSink{rdb: rdb, stream: stream, maxLen: maxLen}, nil
}

func (s *RedisClipSink) Append(ctx context.Context, rec ClipRecord) error {
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"session_id":  rec.SessionID,
			"user_id":     rec.UserID,
			"mime":        rec.MIME,
			"bitrate":     rec.Bitrate,
			"duration_ms": rec.DurationMS,
			"bytes":       len(rec.Audio),
			"audio":       base64.StdEncoding.EncodeToString(rec.Audio),
			"received_at": rec.ReceivedAt.UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append clip to stream: %w", err)
	}
	return nil
}

func (s *RedisClipSink) Close() error {
	return s.rdb.Close()
}
