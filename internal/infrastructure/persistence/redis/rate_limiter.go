package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript 滑动窗口限流
//
// KEYS: requests zset
// ARGV: nowMs, windowMs, limit, member
// 返回: {allowed, retryAfterMs}
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local retry = window
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, retry}
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, 0}
`)

// AllowRequest 实现 governance.CounterStore 的请求速率检查
func (s *CounterStore) AllowRequest(ctx context.Context, tenantID string, limit int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	ctx, span := tracer.Start(ctx, "redis.CounterStore.AllowRequest")
	defer span.End()

	// 成员需唯一，同一毫秒内的多个请求才不会互相覆盖
	member := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	res, err := slidingWindowScript.Run(ctx, s.client.rdb,
		[]string{requestsKey(tenantID)},
		now.UnixMilli(), window.Milliseconds(), limit, member,
	).Slice()
	if err != nil {
		span.RecordError(err)
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit script: unexpected reply length %d", len(res))
	}
	if toInt64(res[0]) == 1 {
		return true, 0, nil
	}
	return false, time.Duration(toInt64(res[1])) * time.Millisecond, nil
}
