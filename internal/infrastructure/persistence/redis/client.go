// Package redis 提供租户缓存与治理计数的 Redis 实现
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"content-pipeline-api/internal/config"
	"content-pipeline-api/pkg/logger"
)

var tracer = otel.Tracer("redis")

const pingTimeout = 5 * time.Second

// Client 持有共享连接池，缓存、计数器与消息流共用
type Client struct {
	rdb *redis.Client
}

func options(cfg *config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// NewClient 建立连接池，启动时连接不上直接返回错误
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(options(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr(), err)
	}

	if err := prometheus.Register(newPoolCollector(rdb, cfg.Addr())); err != nil {
		logger.Warn(ctx, "redis pool metrics not registered", "error", err.Error())
	}
	return &Client{rdb: rdb}, nil
}

// NewClientFromRDB 包装已有连接，测试中配合 miniredis 使用
func NewClientFromRDB(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Redis 底层客户端
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Close 关闭连接池
func (c *Client) Close() error {
	return c.rdb.Close()
}

// HealthCheck 就绪探针使用
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "redis.HealthCheck")
	defer span.End()

	opts := c.rdb.Options()
	span.SetAttributes(attribute.String("db.system", "redis"), attribute.String("server.address", opts.Addr))

	pong, err := c.rdb.Ping(ctx).Result()
	if err == nil && pong != "PONG" {
		err = fmt.Errorf("unexpected ping reply %q", pong)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ping failed")
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

// IsNil 键不存在
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// poolCollector 导出连接池统计
type poolCollector struct {
	rdb      *redis.Client
	hits     *prometheus.Desc
	misses   *prometheus.Desc
	timeouts *prometheus.Desc
	total    *prometheus.Desc
	idle     *prometheus.Desc
}

func newPoolCollector(rdb *redis.Client, addr string) *poolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("content_pipeline_redis_pool_"+name, help, nil, prometheus.Labels{"addr": addr})
	}
	return &poolCollector{
		rdb:      rdb,
		hits:     desc("hits_total", "Free connection found in the pool"),
		misses:   desc("misses_total", "Free connection not found in the pool"),
		timeouts: desc("timeouts_total", "Wait for a connection timed out"),
		total:    desc("connections", "Connections in the pool"),
		idle:     desc("idle_connections", "Idle connections in the pool"),
	}
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.hits
	ch <- p.misses
	ch <- p.timeouts
	ch <- p.total
	ch <- p.idle
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.rdb.PoolStats()
	ch <- prometheus.MustNewConstMetric(p.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(p.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(p.timeouts, prometheus.CounterValue, float64(s.Timeouts))
	ch <- prometheus.MustNewConstMetric(p.total, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(p.idle, prometheus.GaugeValue, float64(s.IdleConns))
}
