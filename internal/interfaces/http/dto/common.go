package dto

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"content-pipeline-api/internal/domain/repository"
)

// BindPage 从查询参数读取分页，非法值按默认值处理
func BindPage(c *gin.Context) repository.Pagination {
	return repository.NewPagination(
		queryInt(c, "page", 1),
		queryInt(c, "page_size", repository.DefaultPageSize),
	)
}

// PageMetaFrom 由仓储分页结果生成响应元数据
func PageMetaFrom[T any](r *repository.PagedResult[T]) *PageMeta {
	return &PageMeta{
		Page:       r.Page,
		PageSize:   r.PageSize,
		Total:      int(r.Total),
		TotalPages: r.TotalPages,
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	s := c.Query(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// RunIDRequest 运行 ID 路径参数
type RunIDRequest struct {
	RunID string `uri:"rid" binding:"required,uuid"`
}
