// Package errors 提供统一的错误定义
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode 错误码，首位数字表示类别
type ErrorCode string

const (
	// 通用 (1xxx)
	CodeUnknown       ErrorCode = "1000"
	CodeInvalidParam  ErrorCode = "1001"
	CodeConflict      ErrorCode = "1005"
	CodeInternalError ErrorCode = "1007"

	// 签名与租户 (2xxx)
	CodeSignatureInvalid ErrorCode = "2001"
	CodeTenantMissing    ErrorCode = "2002"
	CodeTenantInactive   ErrorCode = "2003"

	// 资源 (3xxx)
	CodeRunNotFound    ErrorCode = "3001"
	CodeTenantNotFound ErrorCode = "3002"

	// 治理与运行状态 (4xxx)
	CodeConcurrencyLimit ErrorCode = "4001"
	CodeDailyQuota       ErrorCode = "4002"
	CodeRateLimited      ErrorCode = "4003"
	CodeRunStateConflict ErrorCode = "4004"
	CodeUnknownEvent     ErrorCode = "4005"
	CodeDeliveryFailed   ErrorCode = "4006"

	// 基础设施 (5xxx)
	CodeDatabaseError ErrorCode = "5001"
	CodeCacheError    ErrorCode = "5002"
	CodeQueueError    ErrorCode = "5003"
)

// httpStatus 未列出的错误码按 500 处理
var httpStatus = map[ErrorCode]int{
	CodeInvalidParam:     http.StatusBadRequest,
	CodeUnknownEvent:     http.StatusBadRequest,
	CodeSignatureInvalid: http.StatusUnauthorized,
	CodeTenantMissing:    http.StatusUnauthorized,
	CodeTenantInactive:   http.StatusForbidden,
	CodeRunNotFound:      http.StatusNotFound,
	CodeTenantNotFound:   http.StatusNotFound,
	CodeConflict:         http.StatusConflict,
	CodeRunStateConflict: http.StatusConflict,
	CodeConcurrencyLimit: http.StatusTooManyRequests,
	CodeDailyQuota:       http.StatusTooManyRequests,
	CodeRateLimited:      http.StatusTooManyRequests,
	CodeCacheError:       http.StatusServiceUnavailable,
	CodeQueueError:       http.StatusServiceUnavailable,
}

// StatusFor 错误码对应的 HTTP 状态码
func StatusFor(code ErrorCode) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// AppError 应用错误
type AppError struct {
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	Detail     string        `json:"detail,omitempty"`
	HTTPStatus int           `json:"-"`
	RetryAfter time.Duration `json:"-"`
	Err        error         `json:"-"`
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: StatusFor(code)}
}

// Wrap 包装底层错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	e := New(code, message)
	e.Err = err
	return e
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 同一错误码视为同一错误
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && e.Code == t.Code
}

// Retryable 限流与服务端错误可以稍后重试，其余客户端错误重试也不会成功
func (e *AppError) Retryable() bool {
	return e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus >= http.StatusInternalServerError
}

// WithDetail 返回附带详细信息的副本
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 返回附带底层错误的副本
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// WithRetryAfter 返回附带重试等待时间的副本
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	cp := *e
	cp.RetryAfter = d
	return &cp
}

// 预定义错误，使用前通过 With* 复制，不要直接修改
var (
	ErrInvalidParam  = New(CodeInvalidParam, "invalid parameter")
	ErrConflict      = New(CodeConflict, "resource conflict")
	ErrInternalError = New(CodeInternalError, "internal server error")

	ErrSignatureInvalid = New(CodeSignatureInvalid, "invalid signature")
	ErrTenantMissing    = New(CodeTenantMissing, "tenant id missing")
	ErrTenantInactive   = New(CodeTenantInactive, "tenant inactive")

	ErrRunNotFound    = New(CodeRunNotFound, "run not found")
	ErrTenantNotFound = New(CodeTenantNotFound, "tenant not found")

	ErrConcurrencyLimit = New(CodeConcurrencyLimit, "concurrent run limit reached")
	ErrDailyQuota       = New(CodeDailyQuota, "daily content quota exhausted")
	ErrRateLimited      = New(CodeRateLimited, "request rate limit exceeded")
	ErrRunStateConflict = New(CodeRunStateConflict, "run state does not allow this operation")
	ErrUnknownEvent     = New(CodeUnknownEvent, "unknown webhook event")
	ErrDeliveryFailed   = New(CodeDeliveryFailed, "delivery failed")

	ErrDatabaseError = New(CodeDatabaseError, "database error")
	ErrQueueError    = New(CodeQueueError, "queue error")
)

// IsAppError 错误链中是否有 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError 取错误链中的 AppError，没有时包装为 CodeUnknown
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}
