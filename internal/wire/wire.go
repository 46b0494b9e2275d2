//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"content-pipeline-api/internal/config"
	"content-pipeline-api/internal/infrastructure/persistence/postgres"
	"content-pipeline-api/internal/infrastructure/persistence/redis"
	"content-pipeline-api/internal/interfaces/http/router"
	"content-pipeline-api/internal/workflow/prompt"
)

// InitializeApp 初始化 API 进程
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		PostgresSet,
		RedisSet,
		MessagingSet,
		APISet,
	)
	return nil, nil, nil
}

// InitializeWorker 初始化流水线工作进程
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		PostgresSet,
		RedisSet,
		MessagingSet,
		StageSet,
		ProvidePipelineConfig,
		ProvideOrchestrator,
		ProvideTenantLifecycle,
		NewWorker,
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 相关依赖
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewTenantRepository,
	postgres.NewRunRepository,
	postgres.NewDeliveryEventRepository,
)

// RedisSet Redis 相关依赖
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	redis.NewCounterStore,
	ProvideTenantCache,
	ProvideGovernor,
)

// MessagingSet 消息队列依赖
var MessagingSet = wire.NewSet(
	ProvideProducer,
)

// APISet API 进程的编排器与处理器
var APISet = wire.NewSet(
	ProvideAPIStages,
	ProvidePipelineConfig,
	ProvideOrchestrator,
	ProvideAckProcessor,
	ProvideHealthHandler,
	ProvideRunHandler,
	ProvideTenantHandler,
	ProvideWebhookHandler,
	ProvideRouter,
)

// StageSet 工作进程的外部能力与阶段实现
var StageSet = wire.NewSet(
	ProvideEinoFactory,
	ProvideTextGenerator,
	prompt.NewRegistry,
	ProvideSearchClient,
	ProvideImageClient,
	ProvideAssetFetcher,
	ProvideUploader,
	ProvideStages,
)
