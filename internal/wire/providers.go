package wire

import (
	"context"
	"fmt"
	"os"

	"content-pipeline-api/internal/application/assembly"
	"content-pipeline-api/internal/application/delivery"
	"content-pipeline-api/internal/application/discovery"
	"content-pipeline-api/internal/application/governance"
	"content-pipeline-api/internal/application/pipeline"
	"content-pipeline-api/internal/application/quality"
	"content-pipeline-api/internal/application/strategy"
	"content-pipeline-api/internal/application/tenant"
	"content-pipeline-api/internal/application/visual"
	"content-pipeline-api/internal/config"
	"content-pipeline-api/internal/infrastructure/imagegen"
	"content-pipeline-api/internal/infrastructure/llm"
	"content-pipeline-api/internal/infrastructure/messaging"
	"content-pipeline-api/internal/infrastructure/persistence/postgres"
	"content-pipeline-api/internal/infrastructure/persistence/redis"
	"content-pipeline-api/internal/infrastructure/search"
	"content-pipeline-api/internal/infrastructure/storage"
	"content-pipeline-api/internal/interfaces/http/handler"
	"content-pipeline-api/internal/interfaces/http/router"
	"content-pipeline-api/internal/workflow/port"
	"content-pipeline-api/internal/workflow/prompt"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/retry"
)

// Worker 工作进程依赖
type Worker struct {
	Config       *config.Config
	Redis        *redis.Client
	Orchestrator *pipeline.Orchestrator
	Lifecycle    *tenant.Lifecycle
}

// NewWorker 组装工作进程
func NewWorker(cfg *config.Config, redisClient *redis.Client, orch *pipeline.Orchestrator, lc *tenant.Lifecycle) *Worker {
	return &Worker{Config: cfg, Redis: redisClient, Orchestrator: orch, Lifecycle: lc}
}

// NewConsumer 为本进程创建一个流消费者
func (w *Worker) NewConsumer(name string) *messaging.Consumer {
	rs := w.Config.Messaging.RedisStream
	return messaging.NewConsumer(w.Redis.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.Stream(rs.Stream),
		Group:         messaging.GroupFor(rs.ConsumerGroupPrefix, "pipeline-worker"),
		ConsumerName:  name,
		BlockTimeout:  rs.BlockTimeout,
		ClaimInterval: rs.ClaimInterval,
		RetryLimit:    rs.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    rs.RetryBackoff.Initial,
			Max:        rs.RetryBackoff.Max,
			Multiplier: rs.RetryBackoff.Multiplier,
		},
	})
}

// ProvidePostgresClient 提供 PostgreSQL 客户端，按配置同步表结构
func ProvidePostgresClient(ctx context.Context, cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(ctx, &cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Postgres.AutoMigrate {
		if err := client.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Error(context.Background(), "failed to close postgres client", err)
		}
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			logger.Error(context.Background(), "failed to close redis client", err)
		}
	}
	return client, cleanup, nil
}

// ProvideTenantCache 提供租户缓存
func ProvideTenantCache(client *redis.Client, repo *postgres.TenantRepository, cfg *config.Config) *redis.TenantCache {
	return redis.NewTenantCache(client, repo, cfg.Cache.TenantTTL)
}

// ProvideTenantLifecycle 生命周期变更经由缓存写入，保证旧快照失效
func ProvideTenantLifecycle(cache *redis.TenantCache) *tenant.Lifecycle {
	return tenant.NewLifecycle(cache)
}

// ProvideGovernor 提供基于 Redis 计数的治理器
func ProvideGovernor(store *redis.CounterStore) *governance.Governor {
	return governance.NewGovernor(store)
}

// ProvideProducer 提供运行命令生产者
func ProvideProducer(client *redis.Client, cfg *config.Config) *messaging.Producer {
	rs := cfg.Messaging.RedisStream
	return messaging.NewProducer(client.Redis(), messaging.Stream(rs.Stream), int64(rs.MaxLen))
}

// ProvidePipelineConfig 编排配置，租约持有者取主机名与进程号
func ProvidePipelineConfig(cfg *config.Config) pipeline.Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	p := cfg.Pipeline
	return pipeline.Config{
		WorkerID:         fmt.Sprintf("%s-%d", host, os.Getpid()),
		TopN:             p.DiscoveryTopN,
		HumanCandidates:  p.HumanCandidates,
		MaxRegenerations: p.MaxRegenerations,
		LeaseDuration:    p.LeaseDuration,
		ResumeBatch:      p.ResumeBatch,
	}
}

// ProvideOrchestrator 提供编排器
func ProvideOrchestrator(tx *postgres.TxManager, runs *postgres.RunRepository, tenants *redis.TenantCache,
	gov *governance.Governor, stages pipeline.Stages, producer *messaging.Producer, pcfg pipeline.Config) *pipeline.Orchestrator {
	return pipeline.NewOrchestrator(tx, runs, tenants, gov, stages, producer, pcfg)
}

// ProvideAPIStages API 进程只提交和管理运行，不执行阶段
func ProvideAPIStages() pipeline.Stages {
	return pipeline.Stages{}
}

// ProvideAckProcessor 提供入站确认处理器
func ProvideAckProcessor(cfg *config.Config, tx *postgres.TxManager, runs *postgres.RunRepository,
	events *postgres.DeliveryEventRepository, gov *governance.Governor) *delivery.AckProcessor {
	return delivery.NewAckProcessor(cfg.Webhook.InboundSecret, tx, runs, events, gov)
}

// ProvideHealthHandler 提供健康检查处理器
func ProvideHealthHandler(cfg *config.Config, pg *postgres.Client, redisClient *redis.Client) *handler.HealthHandler {
	return handler.NewHealthHandler(cfg.App.Version, pg, redisClient)
}

// ProvideRunHandler 提供运行处理器
func ProvideRunHandler(orch *pipeline.Orchestrator) *handler.RunHandler {
	return handler.NewRunHandler(orch)
}

// ProvideTenantHandler 提供租户处理器
func ProvideTenantHandler(gov *governance.Governor) *handler.TenantHandler {
	return handler.NewTenantHandler(gov)
}

// ProvideWebhookHandler 提供确认回调处理器
func ProvideWebhookHandler(cfg *config.Config, acks *delivery.AckProcessor) *handler.WebhookHandler {
	return handler.NewWebhookHandler(acks, cfg.Webhook.SignatureHeader)
}

// ProvideRouter 提供 HTTP 路由
func ProvideRouter(cfg *config.Config, health *handler.HealthHandler, runs *handler.RunHandler,
	tenants *handler.TenantHandler, webhook *handler.WebhookHandler,
	cache *redis.TenantCache, gov *governance.Governor) *router.Router {
	return router.New(cfg, router.Dependencies{
		Health:         health,
		Runs:           runs,
		Tenants:        tenants,
		Webhook:        webhook,
		TenantResolver: cache,
		Limiter:        gov,
	})
}

// ProvideEinoFactory 提供 LLM 模型工厂
func ProvideEinoFactory(cfg *config.Config) *llm.EinoFactory {
	return llm.NewEinoFactory(&cfg.LLM)
}

// ProvideTextGenerator 提供按模型档位路由的文本生成器
func ProvideTextGenerator(factory *llm.EinoFactory, cfg *config.Config) *llm.Generator {
	return llm.NewGenerator(factory, cfg.LLM.ModelClasses, cfg.LLM.DefaultProvider)
}

// ProvideSearchClient 提供搜索客户端
func ProvideSearchClient(cfg *config.Config) *search.Client {
	return search.NewClient(&cfg.Search, nil)
}

// ProvideImageClient 提供图片生成客户端
func ProvideImageClient(cfg *config.Config) *imagegen.Client {
	return imagegen.NewClient(&cfg.Image, nil)
}

// ProvideAssetFetcher 提供图片下载器
func ProvideAssetFetcher(cfg *config.Config) *imagegen.Fetcher {
	return imagegen.NewFetcher(nil, cfg.Image.MaxBytes)
}

// ProvideUploader 提供 GCS 上传器
func ProvideUploader(ctx context.Context, cfg *config.Config) (*storage.GCSUploader, func(), error) {
	uploader, err := storage.NewGCSUploader(ctx, &cfg.Storage.GCS)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := uploader.Close(); err != nil {
			logger.Error(context.Background(), "failed to close gcs client", err)
		}
	}
	return uploader, cleanup, nil
}

// ProvideStages 组装全部阶段实现
func ProvideStages(cfg *config.Config, gen *llm.Generator, prompts *prompt.Registry, searchClient *search.Client,
	images *imagegen.Client, fetcher *imagegen.Fetcher, uploader *storage.GCSUploader, runs *postgres.RunRepository) pipeline.Stages {
	p := cfg.Pipeline
	wh := cfg.Webhook
	return pipeline.Stages{
		Discovery: discovery.NewStage(searchClient, discovery.Config{
			MaxResultsPerQuery: cfg.Search.MaxResults,
			QueryTimeout:       cfg.Search.Timeout,
			Parallelism:        p.DiscoveryParallel,
		}),
		Strategy: strategy.NewStage(gen, prompts, strategy.Config{
			Temperature: float32(p.StrategyTemp),
			CallTimeout: p.StageCallTimeout,
		}),
		Assembly: assembly.NewStage(gen, prompts, assembly.Config{
			Retry: retry.Policy{
				MaxAttempts: p.Assembly.Attempts,
				BaseDelay:   p.Assembly.BaseDelay,
				Factor:      p.Assembly.Factor,
				Classifier:  port.IsTransient,
			},
			CallTimeout: p.StageCallTimeout,
		}),
		Visual: visual.NewStage(images, fetcher, uploader, visual.Config{
			Width:       cfg.Image.TargetWidth,
			Height:      cfg.Image.TargetHeight,
			JPEGQuality: cfg.Image.JPEGQuality,
			CallTimeout: cfg.Image.Timeout,
			Size:        cfg.Image.Size,
			Quality:     cfg.Image.Quality,
		}),
		Quality: quality.NewGate(quality.ScoringEvaluator{}, runs, quality.Config{
			Threshold: p.QualityThreshold,
		}),
		Delivery: delivery.NewDeliverer(nil, runs, delivery.Config{
			SignatureHeader: wh.SignatureHeader,
			Timeout:         wh.DeliveryTimeout,
			Retry: retry.Policy{
				MaxAttempts: wh.DeliveryAttempts,
				BaseDelay:   wh.DeliveryBackoff.Initial,
				MaxDelay:    wh.DeliveryBackoff.Max,
				Factor:      wh.DeliveryBackoff.Multiplier,
			},
		}),
	}
}
