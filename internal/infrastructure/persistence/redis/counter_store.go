package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"content-pipeline-api/internal/application/governance"
	"content-pipeline-api/internal/domain/entity"
)

// CounterStore 基于 Redis 的治理计数，供多个网关与 worker 实例共享
//
// 键使用 {tenantID} 哈希标签，保证同一租户的键落在同一个 slot。
type CounterStore struct {
	client *Client
}

var _ governance.CounterStore = (*CounterStore)(nil)

// NewCounterStore 创建计数存储
func NewCounterStore(client *Client) *CounterStore {
	return &CounterStore{client: client}
}

func activeKey(tenantID string) string   { return "gov:{" + tenantID + "}:active" }
func quotaKey(tenantID string) string    { return "gov:{" + tenantID + "}:quota" }
func requestsKey(tenantID string) string { return "gov:{" + tenantID + "}:requests" }

// admitScript 检查并发与日配额，通过时占用槽位并计入配额
//
// KEYS: active, quota
// ARGV: runID, maxConcurrent, maxDaily(<0 不限), nowMs, windowMs
// 返回: {admitted, reason, active, dailyCount, windowStartMs, retryAfterMs}
var admitScript = redis.NewScript(`
local now = tonumber(ARGV[4])
local window = tonumber(ARGV[5])
local start = tonumber(redis.call('HGET', KEYS[2], 'start') or '0')
local count = tonumber(redis.call('HGET', KEYS[2], 'count') or '0')
if start > 0 and now >= start + window then
  start = 0
  count = 0
  redis.call('DEL', KEYS[2])
end
local active = redis.call('SCARD', KEYS[1])
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
  return {1, '', active, count, start, 0}
end
if active >= tonumber(ARGV[2]) then
  return {0, 'concurrency_limit', active, count, start, 0}
end
local maxDaily = tonumber(ARGV[3])
if maxDaily >= 0 and count >= maxDaily then
  return {0, 'daily_quota', active, count, start, start + window - now}
end
if start == 0 then
  start = now
end
count = count + 1
redis.call('HSET', KEYS[2], 'start', start, 'count', count)
redis.call('PEXPIRE', KEYS[2], 2 * window)
redis.call('SADD', KEYS[1], ARGV[1])
return {1, '', active + 1, count, start, 0}
`)

// Admit 实现 governance.CounterStore
func (s *CounterStore) Admit(ctx context.Context, tenantID, runID string, limits entity.TierLimits, now time.Time) (governance.Admission, error) {
	ctx, span := tracer.Start(ctx, "redis.CounterStore.Admit")
	defer span.End()

	res, err := admitScript.Run(ctx, s.client.rdb,
		[]string{activeKey(tenantID), quotaKey(tenantID)},
		runID, limits.MaxConcurrent, limits.MaxDailyContent,
		now.UnixMilli(), governance.QuotaWindow.Milliseconds(),
	).Slice()
	if err != nil {
		span.RecordError(err)
		return governance.Admission{}, fmt.Errorf("admit script: %w", err)
	}
	if len(res) != 6 {
		return governance.Admission{}, fmt.Errorf("admit script: unexpected reply length %d", len(res))
	}

	adm := governance.Admission{
		Admitted:    toInt64(res[0]) == 1,
		Reason:      toString(res[1]),
		Active:      int(toInt64(res[2])),
		DailyCount:  int(toInt64(res[3])),
		WindowStart: fromMillis(toInt64(res[4])),
		RetryAfter:  time.Duration(toInt64(res[5])) * time.Millisecond,
	}
	return adm, nil
}

// Release 实现 governance.CounterStore
func (s *CounterStore) Release(ctx context.Context, tenantID, runID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.CounterStore.Release")
	defer span.End()

	n, err := s.client.rdb.SRem(ctx, activeKey(tenantID), runID).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("release slot: %w", err)
	}
	return n == 1, nil
}

// Usage 实现 governance.CounterStore，只读不修改计数
func (s *CounterStore) Usage(ctx context.Context, tenantID string, now time.Time) (governance.Usage, error) {
	ctx, span := tracer.Start(ctx, "redis.CounterStore.Usage")
	defer span.End()

	cutoff := now.Add(-governance.RequestWindow).UnixMilli()
	pipe := s.client.rdb.Pipeline()
	activeCmd := pipe.SCard(ctx, activeKey(tenantID))
	quotaCmd := pipe.HMGet(ctx, quotaKey(tenantID), "start", "count")
	reqCmd := pipe.ZCount(ctx, requestsKey(tenantID), "("+strconv.FormatInt(cutoff, 10), "+inf")
	if _, err := pipe.Exec(ctx); err != nil && !IsNil(err) {
		span.RecordError(err)
		return governance.Usage{}, fmt.Errorf("usage pipeline: %w", err)
	}

	u := governance.Usage{
		Active:           int(activeCmd.Val()),
		RequestsInWindow: int(reqCmd.Val()),
	}
	vals := quotaCmd.Val()
	if len(vals) == 2 {
		start := toInt64(vals[0])
		if start > 0 && now.UnixMilli() < start+governance.QuotaWindow.Milliseconds() {
			u.WindowStart = fromMillis(start)
			u.DailyCount = int(toInt64(vals[1]))
		}
	}
	return u, nil
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case float64:
		return int64(t)
	}
	return 0
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
