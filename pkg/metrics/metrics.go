// Package metrics 提供 Prometheus 指标采集功能
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "content_pipeline"

var (
	latencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	sizeBuckets    = prometheus.ExponentialBuckets(100, 10, 6)
)

func counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

func histogram(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

func gauge(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, labels)
}

// HTTP
var (
	HTTPRequestsTotal   = counter("http", "requests_total", "Total number of HTTP requests", "method", "path", "status")
	HTTPRequestDuration = histogram("http", "request_duration_seconds", "HTTP request duration in seconds", latencyBuckets, "method", "path")
	HTTPRequestSize     = histogram("http", "request_size_bytes", "HTTP request size in bytes", sizeBuckets, "method", "path")
	HTTPResponseSize    = histogram("http", "response_size_bytes", "HTTP response size in bytes", sizeBuckets, "method", "path")

	// TenantRequests 按租户等级和状态类统计，探活与指标端点不计入
	TenantRequests = counter("http", "tenant_requests_total", "Tenant API requests by tier and status class", "tier", "class")
)

// 流水线
var (
	RunsTotal = counter("pipeline", "runs_total", "Pipeline runs by terminal status", "status", "reason")

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "pipeline", Name: "active_runs",
		Help: "Runs currently executing in this worker",
	})

	StageDuration = histogram("pipeline", "stage_duration_seconds", "Stage execution duration in seconds",
		[]float64{.1, .5, 1, 5, 10, 30, 60, 120, 300}, "stage", "outcome")

	RegenerationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "pipeline", Name: "regenerations_total",
		Help: "Quality-driven regenerations",
	})

	QualityScore = histogram("quality", "score", "Quality gate scores by dimension",
		[]float64{40, 50, 60, 70, 80, 85, 90, 95, 100}, "dimension")

	DraftWordCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "pipeline", Name: "draft_word_count",
		Help:    "Assembled draft word count",
		Buckets: []float64{300, 600, 1000, 1500, 2000, 3000, 5000},
	})

	GovernanceRejections = counter("governance", "rejections_total", "Governance rejections", "tier", "reason")
)

// LLM 与外部能力
var (
	// type: prompt/completion
	LLMTokensUsed   = counter("llm", "tokens_used_total", "Tokens used for LLM calls", "provider", "model", "type")
	LLMCallDuration = histogram("llm", "call_duration_seconds", "LLM call duration in seconds",
		[]float64{1, 5, 10, 30, 60, 120}, "provider", "model")
	LLMCallTotal      = counter("llm", "call_total", "LLM calls", "provider", "model", "status")
	LLMWorkflowTokens = counter("llm", "workflow_tokens_total", "Tokens consumed per pipeline workflow", "workflow", "type")
	LLMWorkflowCalls  = counter("llm", "workflow_calls_total", "Chat model calls per pipeline workflow", "workflow", "status")

	ExternalCallTotal = counter("external", "call_total", "Calls to search, image and storage capabilities", "capability", "status")
)

// 投递
var (
	DeliveryAttempts = counter("delivery", "attempts_total", "Outbound webhook delivery attempts", "outcome")
	WebhookAcks      = counter("delivery", "acks_total", "Inbound acknowledgment webhooks", "event", "result")
)

// 调度流
var (
	RedisStreamLag       = gauge("redis", "stream_lag", "Undelivered plus pending entries per consumer group", "stream", "consumer_group")
	RedisStreamProcessed = counter("redis", "stream_processed_total", "Stream messages by handling outcome", "stream", "status")
	RedisStreamDLQDepth  = gauge("redis", "stream_dlq_depth", "Entries in the dead-letter stream", "stream")
)
