package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/infra"
)

// Окно хранится хешем {count, start, last}; вся логика сброса и проверки
// выполняется внутри скрипта, поэтому несколько инстансов гейта не гоняются за счетчик.
var admissionScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local count = tonumber(redis.call("HGET", KEYS[1], "count") or "0")
local start = tonumber(redis.call("HGET", KEYS[1], "start") or now)
if (now - start) >= window then
  count = 0
  start = now
end
local allowed = 0
if count < max then
  count = count + 1
  allowed = 1
end
redis.call("HSET", KEYS[1], "count", count, "start", start, "last", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, count, start}
`)

// RedisStore разделяет окна между репликами гейта.
// При недоступности Redis решение принимает локальный Fallback.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	idle     time.Duration
	fallback *MemoryStore
	logger   *zap.Logger
}

// NewRedisStore: idle — время жизни простаивающего окна (наибольшее окно из лимитов).
func NewRedisStore(client *redis.Client, idle time.Duration, logger *zap.Logger) *RedisStore {
	if idle <= 0 {
		idle = time.Hour
	}
	return &RedisStore{
		client:   client,
		prefix:   infra.RedisKeyAdmissionPrefix,
		idle:     idle,
		fallback: NewMemoryStore(),
		logger:   logger.With(zap.String("mod", "admission-redis")),
	}
}

func (s *RedisStore) Check(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Decision, error) {
	ttl := s.idle
	if window > ttl {
		ttl = window
	}

	res, err := admissionScript.Run(ctx, s.client, []string{s.prefix + key},
		max, window.Milliseconds(), now.UnixMilli(), ttl.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 3 {
		if err == nil {
			err = fmt.Errorf("unexpected script reply: %v", res)
		}
		s.logger.Warn("redis admission check failed, using local fallback", zap.String("key", key), zap.Error(err))
		return s.fallback.Check(ctx, key, max, window, now)
	}

	allowed, count := res[0] == 1, int(res[1])
	resetAt := time.UnixMilli(res[2]).Add(window)
	d := Decision{Key: key, Allowed: allowed, Count: count, Limit: max, ResetAt: resetAt}
	if allowed {
		d.Remaining = max - count
	} else {
		d.RetryAfter = resetAt.Sub(now)
	}
	return d, nil
}

// Sweep в Redis делает PEXPIRE, локально чистится только fallback.
func (s *RedisStore) Sweep(ctx context.Context, idle time.Duration, now time.Time) (int, error) {
	return s.fallback.Sweep(ctx, idle, now)
}
