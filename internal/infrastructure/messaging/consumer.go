package messaging

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/metrics"
	"content-pipeline-api/pkg/tracer"
)

// ErrConsumerRunning 消费者已启动
var ErrConsumerRunning = stderrors.New("consumer already running")

// 处理结果，用作 stream_processed_total 的 status 标签
const (
	outcomeSuccess      = "success"
	outcomeFailed       = "failed"
	outcomeMalformed    = "malformed"
	outcomeUnhandled    = "unhandled"
	outcomeDeadLettered = "dead_lettered"
)

const (
	readBatch    = 10
	pendingBatch = 20
)

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, msg *Message) error

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Stream        Stream
	Group         ConsumerGroup
	ConsumerName  string
	BlockTimeout  time.Duration
	ClaimInterval time.Duration
	RetryLimit    int
	Backoff       BackoffConfig
}

// Consumer 调度流消费者
//
// 失败的消息留在本消费者的 pending 列表里，按退避时间重投；投递次数达到上限或
// 处理器返回 Permanent 错误时转入死信流。其他消费者空闲过久的 pending 消息会被接管。
type Consumer struct {
	rdb         *redis.Client
	stream      Stream
	group       ConsumerGroup
	name        string
	block       time.Duration
	sweepEvery  time.Duration
	reclaimIdle time.Duration
	retryLimit  int
	backoff     BackoffConfig

	mu       sync.RWMutex
	handlers map[string]MessageHandler
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewConsumer 创建消费者，零值配置项取默认值
func NewConsumer(rdb *redis.Client, cfg ConsumerConfig) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = StreamPipelineRuns
	}
	if cfg.Group == "" {
		cfg.Group = ConsumerGroupPipelineWorker
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}

	reclaimIdle := 5 * time.Minute
	if d := 2 * cfg.Backoff.Max; d > reclaimIdle {
		reclaimIdle = d
	}

	return &Consumer{
		rdb:         rdb,
		stream:      cfg.Stream,
		group:       cfg.Group,
		name:        cfg.ConsumerName,
		block:       cfg.BlockTimeout,
		sweepEvery:  cfg.ClaimInterval,
		reclaimIdle: reclaimIdle,
		retryLimit:  cfg.RetryLimit,
		backoff:     cfg.Backoff,
		handlers:    make(map[string]MessageHandler),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// RegisterHandler 注册消息处理器，同类型后注册的覆盖先注册的
func (c *Consumer) RegisterHandler(msgType string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

func (c *Consumer) handlerFor(msgType string) (MessageHandler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[msgType]
	return h, ok
}

// Start 创建消费者组（已存在时忽略）并启动消费循环
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrConsumerRunning
	}
	c.running = true
	c.mu.Unlock()

	err := c.rdb.XGroupCreateMkStream(ctx, string(c.stream), string(c.group), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	go c.loop(ctx)
	return nil
}

// Stop 停止消费者并等待当前消息处理完成
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()
	<-c.doneCh
}

func (c *Consumer) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Consumer) loop(ctx context.Context) {
	defer close(c.doneCh)

	logger.Info(ctx, "consumer started", "stream", c.stream, "group", c.group, "consumer", c.name)
	defer logger.Info(ctx, "consumer stopped", "consumer", c.name)

	nextSweep := time.Now()
	for !c.stopped(ctx) {
		c.retryDue(ctx)
		if now := time.Now(); !now.Before(nextSweep) {
			c.sweep(ctx)
			nextSweep = now.Add(c.sweepEvery)
		}
		c.readNew(ctx)
	}
}

// readNew 阻塞读取本组尚未投递的新消息
func (c *Consumer) readNew(ctx context.Context) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    string(c.group),
		Consumer: c.name,
		Streams:  []string{string(c.stream), ">"},
		Count:    readBatch,
		Block:    c.block,
	}).Result()
	switch {
	case err == nil:
	case stderrors.Is(err, redis.Nil), ctx.Err() != nil:
		return
	default:
		logger.Error(ctx, "failed to read from stream", err)
		select {
		case <-ctx.Done():
		case <-c.stopCh:
		case <-time.After(time.Second):
		}
		return
	}

	for _, s := range streams {
		for _, xmsg := range s.Messages {
			c.handle(ctx, xmsg)
		}
	}
}

// decode 解析流条目，格式错误时返回 false
func decode(xmsg redis.XMessage) (*Message, bool) {
	raw, ok := xmsg.Values["data"].(string)
	if !ok {
		return nil, false
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, false
	}
	return &msg, true
}

// handle 处理一次投递，格式错误与无处理器的消息直接确认
func (c *Consumer) handle(ctx context.Context, xmsg redis.XMessage) {
	msg, ok := decode(xmsg)
	if !ok {
		logger.Warn(ctx, "invalid message format", "message_id", xmsg.ID)
		c.ack(ctx, xmsg.ID)
		c.count(outcomeMalformed)
		return
	}

	ctx, span := otelTracer.Start(tracer.Extract(ctx, msg.Metadata), "consumer.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("stream", string(c.stream)),
			attribute.String("stream.entry_id", xmsg.ID),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
			attribute.String("tenant.id", msg.TenantID),
			attribute.String("run.id", msg.RunID),
		))
	defer span.End()

	ctx = logger.WithRun(ctx, msg.TenantID, msg.RunID)
	if reqID := msg.GetMetadata("request_id"); reqID != "" {
		ctx = logger.WithContext(ctx, logger.RequestIDKey, reqID)
	}

	handler, ok := c.handlerFor(msg.Type)
	if !ok {
		logger.Warn(ctx, "no handler for message type", "type", msg.Type)
		c.ack(ctx, xmsg.ID)
		c.count(outcomeUnhandled)
		return
	}

	if err := handler(ctx, msg); err != nil {
		span.RecordError(err)
		logger.Error(ctx, "handler failed", err, "message_id", msg.ID, "type", msg.Type)
		c.count(outcomeFailed)
		c.fail(ctx, xmsg.ID, msg, err)
		return
	}

	c.ack(ctx, xmsg.ID)
	c.count(outcomeSuccess)
}

// fail 决定失败消息是留在 pending 中等待重投还是进入死信流
func (c *Consumer) fail(ctx context.Context, entryID string, msg *Message, err error) {
	deliveries := c.deliveries(ctx, entryID)
	if !IsPermanent(err) && deliveries < c.retryLimit {
		logger.Info(ctx, "message left pending for retry", "message_id", msg.ID, "deliveries", deliveries)
		return
	}
	logger.Warn(ctx, "message dead-lettered",
		"message_id", msg.ID,
		"deliveries", deliveries,
		"permanent", IsPermanent(err),
	)
	c.deadLetter(ctx, entryID, msg, err)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, string(c.stream), string(c.group), id).Err(); err != nil {
		logger.Error(ctx, "failed to ack message", err, "message_id", id)
	}
}

func (c *Consumer) count(outcome string) {
	metrics.RedisStreamProcessed.WithLabelValues(string(c.stream), outcome).Inc()
}

// deliveries 读取条目已被投递的次数
func (c *Consumer) deliveries(ctx context.Context, entryID string) int {
	entries, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: string(c.stream),
		Group:  string(c.group),
		Start:  entryID,
		End:    entryID,
		Count:  1,
	}).Result()
	if err != nil || len(entries) == 0 {
		return 0
	}
	return int(entries[0].RetryCount)
}

// deadLetter 写入死信流后确认原条目
func (c *Consumer) deadLetter(ctx context.Context, entryID string, msg *Message, cause error) {
	raw, err := json.Marshal(DeadLetter{
		OriginalStream: string(c.stream),
		Message:        msg,
		Error:          cause.Error(),
		FailedAt:       time.Now().Unix(),
	})
	if err == nil {
		err = c.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: c.stream.DLQStream(),
			Values: map[string]interface{}{"data": string(raw)},
		}).Err()
	}
	if err != nil {
		logger.Error(ctx, "failed to write DLQ entry", err, "message_id", msg.ID)
	}
	c.ack(ctx, entryID)
	c.count(outcomeDeadLettered)
}

// pending 列出 pending 条目，owner 为空时列出整个组
func (c *Consumer) pending(ctx context.Context, owner string) []redis.XPendingExt {
	entries, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   string(c.stream),
		Group:    string(c.group),
		Start:    "-",
		End:      "+",
		Count:    pendingBatch,
		Consumer: owner,
	}).Result()
	if err != nil && !stderrors.Is(err, redis.Nil) && ctx.Err() == nil {
		logger.Error(ctx, "failed to query pending messages", err)
	}
	return entries
}

// claim 把条目转到本消费者名下，minIdle 防止与其他消费者重复认领
func (c *Consumer) claim(ctx context.Context, id string, minIdle time.Duration) []redis.XMessage {
	claimed, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   string(c.stream),
		Group:    string(c.group),
		Consumer: c.name,
		MinIdle:  minIdle,
		Messages: []string{id},
	}).Result()
	if err != nil {
		logger.Error(ctx, "failed to claim pending message", err, "message_id", id)
		return nil
	}
	return claimed
}

// settle 认领后重新处理，投递次数已用尽的直接进入死信流
func (c *Consumer) settle(ctx context.Context, p redis.XPendingExt, minIdle time.Duration) {
	exhausted := int(p.RetryCount) >= c.retryLimit
	for _, xmsg := range c.claim(ctx, p.ID, minIdle) {
		if !exhausted {
			c.handle(ctx, xmsg)
			continue
		}
		msg, ok := decode(xmsg)
		if !ok {
			c.ack(ctx, xmsg.ID)
			c.count(outcomeMalformed)
			continue
		}
		c.deadLetter(ctx, xmsg.ID, msg, fmt.Errorf("message exceeded %d deliveries", c.retryLimit))
	}
}

// retryDue 重投本消费者名下退避期已过的消息
func (c *Consumer) retryDue(ctx context.Context) {
	for _, p := range c.pending(ctx, c.name) {
		if int(p.RetryCount) >= c.retryLimit {
			c.settle(ctx, p, 0)
			continue
		}
		wait := c.backoff.CalculateBackoff(int(p.RetryCount))
		if p.Idle < wait {
			continue
		}
		c.settle(ctx, p, wait)
	}
}

// sweep 接管其他消费者空闲过久的消息，并上报积压
func (c *Consumer) sweep(ctx context.Context) {
	for _, p := range c.pending(ctx, "") {
		if p.Consumer == c.name || p.Idle < c.reclaimIdle {
			continue
		}
		c.settle(ctx, p, c.reclaimIdle)
	}
	c.reportLag(ctx)
}

func (c *Consumer) reportLag(ctx context.Context) {
	groups, err := c.rdb.XInfoGroups(ctx, string(c.stream)).Result()
	if err != nil {
		return
	}
	for _, g := range groups {
		if g.Name == string(c.group) {
			metrics.RedisStreamLag.WithLabelValues(string(c.stream), g.Name).Set(float64(g.Lag + g.Pending))
		}
	}
}

// DLQDepth 死信流当前长度
func (c *Consumer) DLQDepth(ctx context.Context) (int64, error) {
	n, err := c.rdb.XLen(ctx, c.stream.DLQStream()).Result()
	if err != nil {
		return 0, err
	}
	metrics.RedisStreamDLQDepth.WithLabelValues(string(c.stream)).Set(float64(n))
	return n, nil
}

// MonitorDLQ 每分钟上报死信流长度，超过阈值时告警
func (c *Consumer) MonitorDLQ(ctx context.Context, alertThreshold int64) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
		}
		n, err := c.DLQDepth(ctx)
		if err != nil {
			continue
		}
		if n > alertThreshold {
			logger.Warn(ctx, "DLQ has pending messages", "stream", c.stream.DLQStream(), "count", n)
		}
	}
}
