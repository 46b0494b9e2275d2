// Package config 提供配置加载功能
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// EnvVar 选择环境覆盖文件的环境变量
const EnvVar = "APP_ENV"

// Load 从 configs 目录加载配置
func Load() (*Config, error) {
	return LoadFrom("configs")
}

// LoadFrom 依次合并 config.yaml、config.<APP_ENV>.yaml，再由环境变量覆盖，最后校验
//
// 环境变量名由配置键的点号替换为下划线得到，如 PIPELINE_QUALITY_THRESHOLD。
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	for _, layer := range layers(dir) {
		if err := mergeFile(v, layer.path, layer.optional); err != nil {
			return nil, err
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

type layer struct {
	path     string
	optional bool
}

func layers(dir string) []layer {
	env := os.Getenv(EnvVar)
	if env == "" {
		env = "development"
	}
	return []layer{
		{path: filepath.Join(dir, "config.yaml")},
		{path: filepath.Join(dir, "config."+env+".yaml"), optional: true},
	}
}

// mergeFile 展开 ${VAR:default} 后合并进 viper
func mergeFile(v *viper.Viper, path string, optional bool) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) && optional {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := v.MergeConfig(bytes.NewReader(expandEnv(raw))); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ${VAR} 或 ${VAR:default}
var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// expandEnv 未设置且无默认值的占位符原样保留
func expandEnv(src []byte) []byte {
	return envPattern.ReplaceAllFunc(src, func(match []byte) []byte {
		m := envPattern.FindSubmatchIndex(match)
		name := string(match[m[2]:m[3]])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		if m[4] >= 0 {
			return match[m[4]:m[5]]
		}
		return match
	})
}

// MustLoad 加载配置，失败时 panic
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// defaults 配置文件缺省时的取值
var defaults = map[string]any{
	"app.name":    "content-pipeline-api",
	"app.version": "v0.0.0",
	"app.env":     "development",

	"server.http.host":          "0.0.0.0",
	"server.http.port":          8080,
	"server.http.read_timeout":  "30s",
	"server.http.write_timeout": "60s",
	"server.http.idle_timeout":  "120s",

	"database.postgres.host":               "localhost",
	"database.postgres.port":               5432,
	"database.postgres.user":               "postgres",
	"database.postgres.database":           "content_pipeline",
	"database.postgres.ssl_mode":           "disable",
	"database.postgres.max_open_conns":     50,
	"database.postgres.max_idle_conns":     10,
	"database.postgres.conn_max_lifetime":  "30m",
	"database.postgres.conn_max_idle_time": "5m",
	"database.postgres.auto_migrate":       true,
	"database.postgres.log_level":          "warn",

	"cache.redis.host":           "localhost",
	"cache.redis.port":           6379,
	"cache.redis.db":             0,
	"cache.redis.pool_size":      100,
	"cache.redis.min_idle_conns": 10,
	"cache.redis.dial_timeout":   "5s",
	"cache.redis.read_timeout":   "3s",
	"cache.redis.write_timeout":  "3s",
	"cache.tenant_ttl":           "5m",

	"storage.gcs.cache_control":  "public, max-age=31536000",
	"storage.gcs.upload_timeout": "30s",

	"llm.default_provider": "openai",

	"image.size":          "1792x1024",
	"image.quality":       "standard",
	"image.timeout":       "120s",
	"image.target_width":  1200,
	"image.target_height": 630,
	"image.jpeg_quality":  82,
	"image.max_bytes":     20 << 20,

	"search.timeout":     "10s",
	"search.max_results": 10,

	"messaging.redis_stream.stream":                   "stream:pipeline:runs",
	"messaging.redis_stream.max_len":                  100000,
	"messaging.redis_stream.consumer_group_prefix":    "cg",
	"messaging.redis_stream.block_timeout":            "5s",
	"messaging.redis_stream.claim_interval":           "30s",
	"messaging.redis_stream.retry_limit":              3,
	"messaging.redis_stream.retry_backoff.initial":    "1s",
	"messaging.redis_stream.retry_backoff.max":        "1m",
	"messaging.redis_stream.retry_backoff.multiplier": 2.0,

	"pipeline.quality_threshold":    85.0,
	"pipeline.max_regenerations":    1,
	"pipeline.discovery_top_n":      1,
	"pipeline.human_candidates":     3,
	"pipeline.discovery_parallel":   4,
	"pipeline.stage_call_timeout":   "90s",
	"pipeline.strategy_temperature": 0.2,
	"pipeline.assembly.attempts":    3,
	"pipeline.assembly.base_delay":  "1s",
	"pipeline.assembly.factor":      2.0,
	"pipeline.lease_duration":       "2m",
	"pipeline.resume_interval":      "1m",
	"pipeline.resume_batch":         50,
	"pipeline.workers":              4,

	"webhook.signature_header":            "X-Signature",
	"webhook.delivery_attempts":           5,
	"webhook.delivery_backoff.initial":    "2s",
	"webhook.delivery_backoff.max":        "1m",
	"webhook.delivery_backoff.multiplier": 2.0,
	"webhook.delivery_timeout":            "15s",

	"observability.logging.level":       "info",
	"observability.logging.format":      "json",
	"observability.logging.output":      "stdout",
	"observability.tracing.enabled":     true,
	"observability.tracing.exporter":    "otlp",
	"observability.tracing.endpoint":    "localhost:4317",
	"observability.tracing.sample_rate": 1.0,
	"observability.metrics.enabled":     true,
	"observability.metrics.port":        9464,
	"observability.metrics.path":        "/metrics",

	"security.rate_limit.enabled": true,
}
