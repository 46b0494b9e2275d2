// Package middleware 提供 HTTP 中间件
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/interfaces/http/dto"
	"content-pipeline-api/pkg/errors"
	"content-pipeline-api/pkg/logger"
)

const (
	// TenantHeader 上游网关写入的租户标识头
	TenantHeader = "X-Tenant-ID"

	tenantKey = "tenant"
)

// TenantResolver 加载租户配置
type TenantResolver interface {
	GetByID(ctx context.Context, id string) (*entity.Tenant, error)
}

// Tenant 解析租户并放入请求上下文；停用的租户仍可查询，由准入环节拒绝新运行
func Tenant(resolver TenantResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(TenantHeader)
		if tenantID == "" {
			dto.AppError(c, errors.ErrTenantMissing)
			c.Abort()
			return
		}

		tenant, err := resolver.GetByID(c.Request.Context(), tenantID)
		if err != nil {
			logger.Error(c.Request.Context(), "failed to load tenant", err, "tenant_id", tenantID)
			dto.AppError(c, errors.ErrDatabaseError)
			c.Abort()
			return
		}
		if tenant == nil {
			dto.AppError(c, errors.ErrTenantNotFound)
			c.Abort()
			return
		}

		c.Set(tenantKey, tenant)
		c.Set("tenant_id", tenant.ID)
		ctx := logger.WithContext(c.Request.Context(), logger.TenantIDKey, tenant.ID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// TenantFromGin 取出已解析的租户
func TenantFromGin(c *gin.Context) *entity.Tenant {
	v, ok := c.Get(tenantKey)
	if !ok {
		return nil
	}
	tenant, _ := v.(*entity.Tenant)
	return tenant
}
