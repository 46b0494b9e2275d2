// Package postgres 提供运行、租户与投递事件的 gorm 持久化
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"content-pipeline-api/internal/config"
	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/pkg/logger"
)

var tracer = otel.Tracer("postgres")

const slowQuery = 500 * time.Millisecond

// Client gorm 连接
type Client struct {
	db *gorm.DB
}

// NewClient 打开连接池并在 ctx 内完成一次 ping
func NewClient(ctx context.Context, cfg *config.PostgresConfig) (*Client, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.New(slogWriter{}, gormlogger.Config{
			SlowThreshold:             slowQuery,
			LogLevel:                  parseLogLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 同一进程重复创建客户端时沿用首次注册的采集器
	if err := prometheus.Register(collectors.NewDBStatsCollector(sqlDB, cfg.Database)); err != nil {
		logger.Warn(ctx, "db stats collector not registered", "error", err.Error())
	}

	return NewClientWithDB(db)
}

// NewClientWithDB 包装已打开的连接，并挂载查询追踪
func NewClientWithDB(db *gorm.DB) (*Client, error) {
	if err := db.Use(otelgorm.NewPlugin(
		otelgorm.WithDBName(db.Dialector.Name()),
		otelgorm.WithoutQueryVariables(),
	)); err != nil {
		return nil, fmt.Errorf("failed to install tracing plugin: %w", err)
	}
	return &Client{db: db}, nil
}

// DB 获取 GORM DB 实例
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Migrate 同步表结构
func (c *Client) Migrate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.Migrate")
	defer span.End()

	err := c.db.WithContext(ctx).AutoMigrate(
		&entity.Tenant{},
		&entity.Run{},
		&entity.RunTransition{},
		&entity.DeliveryEvent{},
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck 就绪探针使用，走一次真实往返
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "postgres.HealthCheck")
	defer span.End()

	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// slogWriter 把 gorm 的慢查询与错误日志转到 slog
type slogWriter struct{}

func (slogWriter) Printf(format string, args ...interface{}) {
	logger.Default().Warn(fmt.Sprintf(format, args...), "component", "gorm")
}

func parseLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
