// Package storage 基于 Google Cloud Storage 的素材上传
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/option"

	"content-pipeline-api/internal/config"
	"content-pipeline-api/internal/workflow/port"
	"content-pipeline-api/pkg/metrics"
)

var tracer = otel.Tracer("storage")

// GCSUploader 把处理后的图片写入 GCS 并返回公开地址
type GCSUploader struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
	cacheControl  string
	timeout       time.Duration
}

var _ port.StorageUploader = (*GCSUploader)(nil)

// NewGCSUploader 创建上传器；未配置凭证文件时使用默认应用凭证
func NewGCSUploader(ctx context.Context, cfg *config.GCSConfig, opts ...option.ClientOption) (*GCSUploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket not configured")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSUploader{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: PublicBaseURL(cfg),
		cacheControl:  cfg.CacheControl,
		timeout:       cfg.UploadTimeout,
	}, nil
}

// Upload 实现 port.StorageUploader
func (u *GCSUploader) Upload(ctx context.Context, data []byte, meta port.ObjectMeta) (string, error) {
	ctx, span := tracer.Start(ctx, "storage.Upload")
	defer span.End()
	span.SetAttributes(attribute.String("storage.key", meta.Key), attribute.Int("storage.bytes", len(data)))

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	w := u.client.Bucket(u.bucket).Object(meta.Key).NewWriter(ctx)
	w.ContentType = meta.ContentType
	if w.ContentType == "" {
		w.ContentType = ContentTypeForKey(meta.Key)
	}
	w.CacheControl = u.cacheControl
	w.Metadata = ObjectMetadata(meta)

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		span.RecordError(err)
		metrics.ExternalCallTotal.WithLabelValues("storage", "error").Inc()
		return "", fmt.Errorf("%w: write object: %v", port.ErrTransient, err)
	}
	if err := w.Close(); err != nil {
		span.RecordError(err)
		metrics.ExternalCallTotal.WithLabelValues("storage", "error").Inc()
		return "", fmt.Errorf("%w: close object writer: %v", port.ErrTransient, err)
	}
	metrics.ExternalCallTotal.WithLabelValues("storage", "success").Inc()
	return PublicURL(u.publicBaseURL, meta.Key), nil
}

// Close 关闭客户端
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// PublicBaseURL 未配置时使用 storage.googleapis.com 下的桶地址
func PublicBaseURL(cfg *config.GCSConfig) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	return "https://storage.googleapis.com/" + cfg.Bucket
}

// PublicURL 拼接对象公开地址
func PublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// ObjectMetadata 对象自定义元数据
func ObjectMetadata(meta port.ObjectMeta) map[string]string {
	out := make(map[string]string, len(meta.Attributes)+2)
	for k, v := range meta.Attributes {
		out[k] = v
	}
	if meta.TenantID != "" {
		out["tenant_id"] = meta.TenantID
	}
	if meta.RunID != "" {
		out["run_id"] = meta.RunID
	}
	return out
}

// ContentTypeForKey 按扩展名推断内容类型
func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
