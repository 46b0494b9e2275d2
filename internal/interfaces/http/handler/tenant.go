package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"content-pipeline-api/internal/application/governance"
	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/interfaces/http/dto"
)

// UsageReader 租户用量查询
type UsageReader interface {
	Usage(ctx context.Context, tenant *entity.Tenant) (*governance.UsageReport, error)
}

// TenantHandler 租户处理器
type TenantHandler struct {
	usage UsageReader
}

// NewTenantHandler 创建租户处理器
func NewTenantHandler(usage UsageReader) *TenantHandler {
	return &TenantHandler{usage: usage}
}

// GetUsage 查询当前租户的用量与等级限制
// @Summary 租户用量
// @Tags Tenants
// @Produce json
// @Success 200 {object} dto.Response[dto.UsageResponse]
// @Router /v1/tenants/me/usage [get]
func (h *TenantHandler) GetUsage(c *gin.Context) {
	tenant, ok := currentTenant(c)
	if !ok {
		return
	}

	report, err := h.usage.Usage(c.Request.Context(), tenant)
	if err != nil {
		respondError(c, err, "failed to load usage")
		return
	}

	dto.Success(c, dto.ToUsageResponse(tenant, report))
}
