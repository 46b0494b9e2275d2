// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"errors"
)

var (
	// ErrStaleRun 保存时版本落后，调用方需重新加载
	ErrStaleRun = errors.New("run was modified concurrently")
	// ErrDuplicate 唯一约束冲突
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound 按主键更新时记录不存在
	ErrNotFound = errors.New("record not found")
)

// TxKey 事务上下文键类型
type TxKey struct{}

// Transactor 事务管理接口，嵌套调用复用外层事务
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// 分页默认值与上限
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Pagination 分页参数，页码从 1 开始
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// NewPagination 创建分页参数，越界值回落到默认值或上限
func NewPagination(page, pageSize int) Pagination {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

// Offset 计算偏移量
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Limit 获取限制数量
func (p Pagination) Limit() int {
	return p.PageSize
}

// PagedResult 分页结果
type PagedResult[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// NewPagedResult 创建分页结果
func NewPagedResult[T any](items []T, total int64, p Pagination) *PagedResult[T] {
	pages := 0
	if p.PageSize > 0 {
		pages = int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	}
	return &PagedResult[T]{
		Items:      items,
		Total:      total,
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: pages,
	}
}

// HasNext 是否还有下一页
func (r *PagedResult[T]) HasNext() bool {
	return r.Page < r.TotalPages
}
