package router

import (
	"github.com/gin-gonic/gin"

	"content-pipeline-api/internal/interfaces/http/handler"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, runHandler *handler.RunHandler, tenantHandler *handler.TenantHandler) {
	// 运行管理
	runs := v1.Group("/runs")
	{
		runs.POST("", runHandler.SubmitRun)
		runs.GET("", runHandler.ListRuns)
		runs.GET("/:rid", runHandler.GetRun)
		runs.POST("/:rid/cancel", runHandler.CancelRun)
		runs.POST("/:rid/selection", runHandler.SelectCandidate)
		runs.POST("/:rid/redeliver", runHandler.RedeliverRun)
	}

	// 租户
	tenants := v1.Group("/tenants")
	{
		tenants.GET("/me/usage", tenantHandler.GetUsage)
	}
}
