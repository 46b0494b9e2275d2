// Package main 流水线工作进程入口（pipeline-worker）
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"content-pipeline-api/internal/application/quota"
	"content-pipeline-api/internal/config"
	"content-pipeline-api/internal/infrastructure/eino/callback"
	"content-pipeline-api/internal/infrastructure/messaging"
	"content-pipeline-api/internal/wire"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/tracer"
)

const dlqAlertThreshold = 100

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := tracer.Init(ctx, cfg.TracerConfig("pipeline-worker"))
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	callback.Init(quota.NewLLMUsageRecorder())

	worker, cleanup, err := wire.InitializeWorker(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize worker", err)
	}
	defer cleanup()

	if cfg.Observability.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Observability.Metrics.Port, cfg.Observability.Metrics.Path)
	}

	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 1
	}
	base := hostnameConsumerName()
	consumers := make([]*messaging.Consumer, 0, workers)
	for i := 0; i < workers; i++ {
		c := worker.NewConsumer(fmt.Sprintf("%s-%d", base, i))
		messaging.RegisterRunHandlers(c, worker.Orchestrator)
		messaging.RegisterTenantHandlers(c, worker.Lifecycle)
		if err := c.Start(ctx); err != nil {
			logger.Fatal(ctx, "failed to start consumer", err)
		}
		consumers = append(consumers, c)
	}
	go consumers[0].MonitorDLQ(ctx, dlqAlertThreshold)

	go resumeLoop(ctx, worker, cfg.Pipeline.ResumeInterval)

	logger.Info(ctx, "pipeline-worker started", "consumers", workers)

	<-ctx.Done()

	logger.Info(context.Background(), "pipeline-worker shutting down")
	for _, c := range consumers {
		c.Stop()
	}
}

// resumeLoop 启动时和之后每个周期接管租约过期的运行
func resumeLoop(ctx context.Context, worker *wire.Worker, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := worker.Orchestrator.ResumeInterrupted(ctx)
		if err != nil {
			logger.Error(ctx, "failed to resume interrupted runs", err)
		} else if n > 0 {
			logger.Info(ctx, "resumed interrupted runs", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func serveMetrics(ctx context.Context, port int, path string) {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(ctx, "metrics server error", err)
	}
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
