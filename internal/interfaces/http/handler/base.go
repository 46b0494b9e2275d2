package handler

import (
	"github.com/gin-gonic/gin"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/interfaces/http/dto"
	"content-pipeline-api/internal/interfaces/http/middleware"
	"content-pipeline-api/pkg/errors"
	"content-pipeline-api/pkg/logger"
)

// respondError 输出业务错误；非 AppError 记录日志后按 500 返回
func respondError(c *gin.Context, err error, msg string) {
	if errors.IsAppError(err) {
		appErr := errors.AsAppError(err)
		if appErr.HTTPStatus >= 500 {
			logger.Error(c.Request.Context(), msg, err)
		}
		dto.AppError(c, appErr)
		return
	}
	logger.Error(c.Request.Context(), msg, err)
	dto.InternalError(c, msg)
}

// currentTenant 取出 Tenant 中间件解析的租户
func currentTenant(c *gin.Context) (*entity.Tenant, bool) {
	tenant := middleware.TenantFromGin(c)
	if tenant == nil {
		dto.AppError(c, errors.ErrTenantMissing)
		return nil, false
	}
	return tenant, true
}
