package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/repository"
)

// tenantRecord 缓存中的租户快照，额外保存序列化时被忽略的 webhook 密钥
type tenantRecord struct {
	entity.Tenant
	Secret string `json:"webhook_secret"`
}

// TenantCache 租户配置的 Read-Through 缓存，并发未命中合并为一次加载
type TenantCache struct {
	client *Client
	repo   repository.TenantRepository
	ttl    time.Duration
	group  singleflight.Group
}

var _ repository.TenantRepository = (*TenantCache)(nil)

// NewTenantCache 创建租户缓存
func NewTenantCache(client *Client, repo repository.TenantRepository, ttl time.Duration) *TenantCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TenantCache{client: client, repo: repo, ttl: ttl}
}

// TenantKey 租户缓存键
func TenantKey(tenantID string) string {
	return "tenant:" + tenantID
}

// GetByID 读取租户；缓存不可用时直接回源，不存在时返回 nil, nil
func (c *TenantCache) GetByID(ctx context.Context, id string) (*entity.Tenant, error) {
	ctx, span := tracer.Start(ctx, "cache.Tenant.GetByID",
		trace.WithAttributes(attribute.String("cache.key", TenantKey(id))))
	defer span.End()

	key := TenantKey(id)
	raw, err := c.client.rdb.Get(ctx, key).Bytes()
	if err == nil {
		if tenant, derr := decodeTenant(raw); derr == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return tenant, nil
		}
	} else if !IsNil(err) {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		tenant, err := c.repo.GetByID(ctx, id)
		if err != nil || tenant == nil {
			return tenant, err
		}
		if raw, err := json.Marshal(tenantRecord{Tenant: *tenant, Secret: tenant.WebhookSecret}); err == nil {
			if err := c.client.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				span.RecordError(err)
			}
		}
		return tenant, nil
	})
	span.SetAttributes(attribute.Bool("cache.shared", shared))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load tenant %s: %w", id, err)
	}
	tenant, _ := v.(*entity.Tenant)
	return tenant, nil
}

// Create 透传到底层仓储
func (c *TenantCache) Create(ctx context.Context, tenant *entity.Tenant) error {
	return c.repo.Create(ctx, tenant)
}

// UpdateLifecycle 写入底层仓储后删除缓存，下一次读取回源拿到新的等级与状态
func (c *TenantCache) UpdateLifecycle(ctx context.Context, id string, tier entity.Tier, status entity.TenantStatus) error {
	if err := c.repo.UpdateLifecycle(ctx, id, tier, status); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, id); err != nil {
		return fmt.Errorf("invalidate tenant %s: %w", id, err)
	}
	return nil
}

// Invalidate 租户配置变更后删除缓存
func (c *TenantCache) Invalidate(ctx context.Context, tenantID string) error {
	ctx, span := tracer.Start(ctx, "cache.Tenant.Invalidate")
	defer span.End()
	return c.client.rdb.Del(ctx, TenantKey(tenantID)).Err()
}

func decodeTenant(raw []byte) (*entity.Tenant, error) {
	var rec tenantRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	tenant := rec.Tenant
	tenant.WebhookSecret = rec.Secret
	return &tenant, nil
}
