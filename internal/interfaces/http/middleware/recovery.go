package middleware

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"content-pipeline-api/internal/interfaces/http/dto"
	"content-pipeline-api/pkg/errors"
	"content-pipeline-api/pkg/logger"
)

// Recovery 捕获 panic，记录堆栈并返回统一错误体；响应已开始写出时只中断
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rec any) {
		args := []any{
			"stack", string(debug.Stack()),
			"route", routeOf(c),
			"method", c.Request.Method,
		}
		if t := TenantFromGin(c); t != nil {
			args = append(args, "tenant_id", t.ID)
		}
		logger.Error(c.Request.Context(), "panic recovered", fmt.Errorf("%v", rec), args...)

		if !c.Writer.Written() {
			dto.AppError(c, errors.ErrInternalError)
		}
		c.Abort()
	})
}
