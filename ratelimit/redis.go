package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed slide.lua
var slideScript string

// RedisCounterStore keeps sliding-window counters in redis sorted sets.
// The prune-add-count-expire sequence runs as a single Lua script so
// concurrent checks on the same key are serialized by redis.
type RedisCounterStore struct {
	client *redis.Client
	script *redis.Script
}

var _ CounterStore = (*RedisCounterStore)(nil)

// NewRedisCounterStore returns a counter store over the given client.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{
		client: client,
		script: redis.NewScript(slideScript),
	}
}

func (s *RedisCounterStore) Slide(ctx context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error) {
	var (
		nowScore = now.UnixMicro()
		minScore = now.Add(-window).UnixMicro()
		member   = fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
		expiryMS = window.Milliseconds()
	)
	if expiryMS <= 0 {
		expiryMS = 1
	}

	res, err := s.script.Run(ctx, s.client, []string{key}, minScore, nowScore, member, expiryMS).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected slide script response %v", res)
	}

	count, _ := values[0].(int64)

	oldest := now
	if raw, ok := values[1].(string); ok {
		if score, err := strconv.ParseFloat(raw, 64); err == nil {
			oldest = time.UnixMicro(int64(score))
		}
	}

	return count, oldest, nil
}
