package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/normanking/cortexvoice/internal/realtime"
)

// PresenceStore holds the room membership with last-seen stamps so
// silent members can be reaped.
type PresenceStore interface {
	Upsert(ctx context.Context, meta realtime.PresenceMeta, seen time.Time) error
	Touch(ctx context.Context, userID string, seen time.Time) error
	Remove(ctx context.Context, userID string) error
	List(ctx context.Context) ([]realtime.PresenceMeta, error)
	Reap(ctx context.Context, cutoff time.Time) ([]string, error)
	Close() error
}

// presenceEntry is the stored envelope per member
type presenceEntry struct {
	Meta realtime.PresenceMeta `json:"meta"`
	Seen int64                 `json:"seen"` // unix millis
}

// MemoryPresence is the in-process fallback store
type MemoryPresence struct {
	mu      sync.Mutex
	entries map[string]presenceEntry
	order   []string // join order for stable snapshots
}

// NewMemoryPresence creates an empty in-process store
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{entries: make(map[string]presenceEntry)}
}

func (p *MemoryPresence) Upsert(_ context.Context, meta realtime.PresenceMeta, seen time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[meta.UserID]; !ok {
		p.order = append(p.order, meta.UserID)
	}
	p.entries[meta.UserID] = presenceEntry{Meta: meta, Seen: seen.UnixMilli()}
	return nil
}

func (p *MemoryPresence) Touch(_ context.Context, userID string, seen time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[userID]
	if !ok {
		return nil
	}
	entry.Seen = seen.UnixMilli()
	entry.Meta.LastSeen = seen.UTC().Format(time.RFC3339)
	p.entries[userID] = entry
	return nil
}

func (p *MemoryPresence) Remove(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(userID)
	return nil
}

func (p *MemoryPresence) removeLocked(userID string) {
	if _, ok := p.entries[userID]; !ok {
		return
	}
	delete(p.entries, userID)
	for i, id := range p.order {
		if id == userID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

func (p *MemoryPresence) List(_ context.Context) ([]realtime.PresenceMeta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]realtime.PresenceMeta, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.entries[id].Meta)
	}
	return out, nil
}

func (p *MemoryPresence) Reap(_ context.Context, cutoff time.Time) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	limit := cutoff.UnixMilli()
	var removed []string
	for id, entry := range p.entries {
		if entry.Seen < limit {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		p.removeLocked(id)
	}
	return removed, nil
}

func (p *MemoryPresence) Close() error { return nil }

// RedisPresence keeps the membership in a redis hash so multiple room
// server instances share one view.
type RedisPresence struct {
	rdb *redis.Client
	key string
}

// NewRedisPresence connects to redis and validates the connection
func NewRedisPresence(addr, password string, db int, key string) (*RedisPresence, error) {
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

	if key == "" {
		key = "cortexvoice:presence"
	}
	return &RedisPresence{rdb: rdb, key: key}, nil
}

func (p *RedisPresence) Upsert(ctx context.Context, meta realtime.PresenceMeta, seen time.Time) error {
	data, err := json.Marshal(presenceEntry{Meta: meta, Seen: seen.UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to marshal presence entry: %w", err)
	}
	if err := p.rdb.HSet(ctx, p.key, meta.UserID, data).Err(); err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	return nil
}

func (p *RedisPresence) Touch(ctx context.Context, userID string, seen time.Time) error {
	raw, err := p.rdb.HGet(ctx, p.key, userID).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("hget failed: %w", err)
	}
	var entry presenceEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return fmt.Errorf("bad presence entry: %w", err)
	}
	entry.Seen = seen.UnixMilli()
	entry.Meta.LastSeen = seen.UTC().Format(time.RFC3339)
	data, _ := json.Marshal(entry)
	return p.rdb.HSet(ctx, p.key, userID, data).Err()
}

func (p *RedisPresence) Remove(ctx context.Context, userID string) error {
	return p.rdb.HDel(ctx, p.key, userID).Err()
}

func (p *RedisPresence) List(ctx context.Context) ([]realtime.PresenceMeta, error) {
	raw, err := p.rdb.HGetAll(ctx, p.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}
	entries := make([]presenceEntry, 0, len(raw))
	for _, v := range raw {
		var entry presenceEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	// oldest joiner first keeps snapshots stable across instances
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].Meta.JoinedAt > entries[j].Meta.JoinedAt; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
	out := make([]realtime.PresenceMeta, len(entries))
	for i, e := range entries {
		out[i] = e.Meta
	}
	return out, nil
}

func (p *RedisPresence) Reap(ctx context.Context, cutoff time.Time) ([]string, error) {
	raw, err := p.rdb.HGetAll(ctx, p.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}
	limit := cutoff.UnixMilli()
	var removed []string
	for id, v := range raw {
		var entry presenceEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			removed = append(removed, id)
			continue
		}
		if entry.Seen < limit {
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		if err := p.rdb.HDel(ctx, p.key, removed...).Err(); err != nil {
			return nil, fmt.Errorf("hdel failed: %w", err)
		}
	}
	return removed, nil
}

func (p *RedisPresence) Close() error {
	return p.rdb.Close()
}
