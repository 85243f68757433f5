package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// slidingLog trims, counts and conditionally adds in one round trip.
// KEYS[1] bucket; ARGV: now(ms), window(ms), quota, member.
// Returns {admitted, count, oldest(ms)}.
var slidingLog = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local quota  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local oldest = 0
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then oldest = tonumber(first[2]) end

if count >= quota then
  return {0, count, oldest}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
if oldest == 0 then oldest = now end
return {1, count + 1, oldest}
`)

// RedisStore shares quotas across instances through sorted sets.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key, entry string, now time.Time, window time.Duration, quota int) (HitResult, error) {
	raw, err := slidingLog.Run(ctx, s.client, []string{s.prefix + key},
		now.UnixMilli(), window.Milliseconds(), quota, entry).Result()
	if err != nil {
		return HitResult{}, fmt.Errorf("sliding log script: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return HitResult{}, fmt.Errorf("sliding log script: unexpected reply %v", raw)
	}

	admitted, _ := vals[0].(int64)
	count, _ := vals[1].(int64)
	oldest, _ := vals[2].(int64)

	res := HitResult{Admitted: admitted == 1, Count: int(count)}
	if oldest > 0 {
		res.Oldest = time.UnixMilli(oldest)
	}
	return res, nil
}

func (s *RedisStore) Remove(ctx context.Context, key, entry string) error {
	return s.client.ZRem(ctx, s.prefix+key, entry).Err()
}
