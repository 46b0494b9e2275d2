package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/interfaces/http/dto"
	"content-pipeline-api/pkg/errors"
	"content-pipeline-api/pkg/logger"
)

// RequestLimiter 租户请求速率检查，超限时返回带 RetryAfter 的 AppError
type RequestLimiter interface {
	AllowRequest(ctx context.Context, tenant *entity.Tenant) error
}

// RateLimit 按租户等级的每小时请求额度限流，须挂在 Tenant 之后
func RateLimit(enabled bool, limiter RequestLimiter) gin.HandlerFunc {
	if !enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		tenant := TenantFromGin(c)
		if tenant == nil {
			c.Next()
			return
		}

		if err := limiter.AllowRequest(c.Request.Context(), tenant); err != nil {
			if errors.AsAppError(err).Is(errors.ErrRateLimited) {
				dto.AppError(c, err)
				c.Abort()
				return
			}
			// 限流器故障时放行，避免影响业务
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "error", err.Error())
		}

		c.Next()
	}
}
