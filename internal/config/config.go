// Package config 提供配置加载和管理功能
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"content-pipeline-api/pkg/tracer"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Storage       StorageConfig       `mapstructure:"storage"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Image         ImageConfig         `mapstructure:"image"`
	Search        SearchConfig        `mapstructure:"search"`
	Messaging     MessagingConfig     `mapstructure:"messaging"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Security      SecurityConfig      `mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Env     string `mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN 组装 lib/pq 风格的连接串
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis     RedisConfig   `mapstructure:"redis"`
	TenantTTL time.Duration `mapstructure:"tenant_ttl"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr host:port 形式的地址
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StorageConfig 对象存储配置
type StorageConfig struct {
	GCS GCSConfig `mapstructure:"gcs"`
}

// GCSConfig Google Cloud Storage 配置
type GCSConfig struct {
	Bucket          string        `mapstructure:"bucket"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	PublicBaseURL   string        `mapstructure:"public_base_url"`
	CacheControl    string        `mapstructure:"cache_control"`
	UploadTimeout   time.Duration `mapstructure:"upload_timeout"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	DefaultProvider string                    `mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
	// ModelClasses 等级模型档位到提供商名的映射，如 standard -> openai_mini
	ModelClasses map[string]string `mapstructure:"model_classes"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ImageConfig 图片生成配置
type ImageConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	Size         string        `mapstructure:"size"`
	Quality      string        `mapstructure:"quality"`
	Timeout      time.Duration `mapstructure:"timeout"`
	TargetWidth  int           `mapstructure:"target_width"`
	TargetHeight int           `mapstructure:"target_height"`
	JPEGQuality  int           `mapstructure:"jpeg_quality"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
}

// SearchConfig 搜索能力配置
type SearchConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxResults int           `mapstructure:"max_results"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	Stream              string        `mapstructure:"stream"`
	MaxLen              int           `mapstructure:"max_len"`
	ConsumerGroupPrefix string        `mapstructure:"consumer_group_prefix"`
	BlockTimeout        time.Duration `mapstructure:"block_timeout"`
	ClaimInterval       time.Duration `mapstructure:"claim_interval"`
	RetryLimit          int           `mapstructure:"retry_limit"`
	RetryBackoff        BackoffConfig `mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	QualityThreshold  float64       `mapstructure:"quality_threshold"`
	MaxRegenerations  int           `mapstructure:"max_regenerations"`
	DiscoveryTopN     int           `mapstructure:"discovery_top_n"`
	HumanCandidates   int           `mapstructure:"human_candidates"`
	DiscoveryParallel int           `mapstructure:"discovery_parallel"`
	StageCallTimeout  time.Duration `mapstructure:"stage_call_timeout"`
	StrategyTemp      float64       `mapstructure:"strategy_temperature"`
	Assembly          RetryConfig   `mapstructure:"assembly"`
	LeaseDuration     time.Duration `mapstructure:"lease_duration"`
	ResumeInterval    time.Duration `mapstructure:"resume_interval"`
	ResumeBatch       int           `mapstructure:"resume_batch"`
	Workers           int           `mapstructure:"workers"`
}

// RetryConfig 重试配置，Attempts 为总尝试次数（含首次）
type RetryConfig struct {
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	Factor    float64       `mapstructure:"factor"`
}

// WebhookConfig 投递与入站确认配置
type WebhookConfig struct {
	InboundSecret    string        `mapstructure:"inbound_secret"`
	SignatureHeader  string        `mapstructure:"signature_header"`
	DeliveryAttempts int           `mapstructure:"delivery_attempts"`
	DeliveryBackoff  BackoffConfig `mapstructure:"delivery_backoff"`
	DeliveryTimeout  time.Duration `mapstructure:"delivery_timeout"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// TracerConfig 按服务名组装追踪配置，exporter 为 none 时关闭导出
func (c *Config) TracerConfig(service string) tracer.Config {
	t := c.Observability.Tracing
	return tracer.Config{
		ServiceName:    service,
		ServiceVersion: c.App.Version,
		Environment:    c.App.Env,
		Endpoint:       t.Endpoint,
		SampleRate:     t.SampleRate,
		Enabled:        t.Enabled && t.Exporter != "none",
	}
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// RateLimitConfig 租户请求速率限制开关，额度来自租户等级
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// Validate 检查启动前必须满足的约束，返回全部问题
func (c *Config) Validate() error {
	var errs []error
	p := c.Pipeline
	if p.QualityThreshold < 0 || p.QualityThreshold > 100 {
		errs = append(errs, fmt.Errorf("pipeline.quality_threshold must be within [0, 100], got %v", p.QualityThreshold))
	}
	if p.MaxRegenerations < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_regenerations must not be negative"))
	}
	if p.Assembly.Attempts < 1 {
		errs = append(errs, fmt.Errorf("pipeline.assembly.attempts must be at least 1"))
	}
	if p.HumanCandidates < 1 {
		errs = append(errs, fmt.Errorf("pipeline.human_candidates must be at least 1"))
	}
	if c.Webhook.DeliveryAttempts < 1 {
		errs = append(errs, fmt.Errorf("webhook.delivery_attempts must be at least 1"))
	}
	if c.App.Env == "production" && c.Webhook.InboundSecret == "" {
		errs = append(errs, fmt.Errorf("webhook.inbound_secret is required in production"))
	}
	for name, provider := range c.LLM.ModelClasses {
		if _, ok := c.LLM.Providers[provider]; !ok {
			errs = append(errs, fmt.Errorf("llm.model_classes.%s references unknown provider %q", name, provider))
		}
	}
	if c.Search.Endpoint != "" {
		if _, err := url.ParseRequestURI(c.Search.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("search.endpoint: %w", err))
		}
	}
	return errors.Join(errs...)
}
