// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"content-pipeline-api/pkg/errors"
)

// Response 统一响应结构
type Response[T any] struct {
	Code      int       `json:"code"`
	Message   string    `json:"message"`
	Data      T         `json:"data,omitempty"`
	Meta      *PageMeta `json:"meta,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// PageMeta 分页元数据
type PageMeta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	ErrorCode    string `json:"error_code,omitempty"`
	Details      string `json:"details,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Code      int          `json:"code"`
	Message   string       `json:"message"`
	Error     *ErrorDetail `json:"error,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	TraceID   string       `json:"trace_id,omitempty"`
}

// correlation 返回请求 ID 与当前 Span 的 trace ID
func correlation(c *gin.Context) (requestID, traceID string) {
	requestID = c.GetString("request_id")
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
		traceID = sc.TraceID().String()
	}
	return requestID, traceID
}

func respond[T any](c *gin.Context, status int, message string, data T, meta *PageMeta) {
	reqID, traceID := correlation(c)
	c.JSON(status, Response[T]{
		Code:      status,
		Message:   message,
		Data:      data,
		Meta:      meta,
		RequestID: reqID,
		TraceID:   traceID,
	})
}

// Success 返回成功响应
func Success[T any](c *gin.Context, data T) {
	respond(c, http.StatusOK, "success", data, nil)
}

// SuccessWithPage 返回带分页的成功响应
func SuccessWithPage[T any](c *gin.Context, data T, meta *PageMeta) {
	respond(c, http.StatusOK, "success", data, meta)
}

// Accepted 返回已受理响应 (202)，运行在后台继续推进
func Accepted[T any](c *gin.Context, data T) {
	respond(c, http.StatusAccepted, "accepted", data, nil)
}

// ErrorWithDetail 返回带详情的错误响应
func ErrorWithDetail(c *gin.Context, httpCode int, message string, detail *ErrorDetail) {
	reqID, traceID := correlation(c)
	c.JSON(httpCode, ErrorResponse{
		Code:      httpCode,
		Message:   message,
		Error:     detail,
		RequestID: reqID,
		TraceID:   traceID,
	})
}

// AppError 按 AppError 的状态码输出错误，带 RetryAfter 时同时设置 Retry-After 头（秒，向上取整）
func AppError(c *gin.Context, err error) {
	appErr := errors.AsAppError(err)
	detail := &ErrorDetail{
		ErrorCode: string(appErr.Code),
		Details:   appErr.Detail,
	}
	if appErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(appErr.RetryAfter.Seconds()))))
		detail.RetryAfterMs = appErr.RetryAfter.Milliseconds()
	}
	ErrorWithDetail(c, appErr.HTTPStatus, appErr.Message, detail)
}

// BadRequest 返回 400 错误
func BadRequest(c *gin.Context, message string) {
	ErrorWithDetail(c, http.StatusBadRequest, message, &ErrorDetail{ErrorCode: string(errors.CodeInvalidParam)})
}

// InternalError 返回 500 错误
func InternalError(c *gin.Context, message string) {
	ErrorWithDetail(c, http.StatusInternalServerError, message, &ErrorDetail{ErrorCode: string(errors.CodeInternalError)})
}
