package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"gopherai-localrag/internal/model"
)

// HistoryCache holds run transcripts in Redis. A dirty marker set by the persist
// worker tells readers the cached copy is behind the database.
type HistoryCache struct {
	client         *redisv9.Client
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

// NewHistoryCache falls back to a 60s transcript TTL and a 5s dirty marker TTL
// when either duration is not positive.
func NewHistoryCache(client *redisv9.Client, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

// GetHistory reports false on a miss. Callers check IsDirty first; a dirty run
// must be read from MySQL.
func (c *HistoryCache) GetHistory(ctx context.Context, runID string) ([]model.Message, bool, error) {
	key := c.historyKey(runID)
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var messages []model.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return messages, true, nil
}

// SetHistory stores the full transcript of a run as loaded from the run store.
func (c *HistoryCache) SetHistory(ctx context.Context, runID string, messages []model.Message) error {
	key := c.historyKey(runID)
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) DeleteHistory(ctx context.Context, runID string) error {
	key := c.historyKey(runID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

// MarkDirty flags the run's cached transcript as stale until the marker expires.
func (c *HistoryCache) MarkDirty(ctx context.Context, runID string) error {
	key := c.dirtyKey(runID)
	if err := c.client.Set(ctx, key, "1", c.dirtyMarkerTTL).Err(); err != nil {
		return fmt.Errorf("redis set dirty marker failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, runID string) (bool, error) {
	key := c.dirtyKey(runID)
	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *HistoryCache) historyKey(runID string) string {
	return "localrag:history:" + runID
}

func (c *HistoryCache) dirtyKey(runID string) string {
	return "localrag:history:dirty:" + runID
}
