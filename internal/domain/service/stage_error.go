// Package service 定义跨层共享的领域服务契约
package service

import (
	"errors"
	"fmt"

	"content-pipeline-api/internal/domain/entity"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	KindTransient           ErrorKind = "transient_provider_error"
	KindStructural          ErrorKind = "structural_validation_error"
	KindGovernanceRejection ErrorKind = "governance_rejection"
	KindQualityRejection    ErrorKind = "quality_rejection"
	KindDeliveryFailure     ErrorKind = "delivery_failure"
	KindCancelled           ErrorKind = "cancelled"
	KindInternal            ErrorKind = "internal"
)

// StageError 阶段耗尽重试后向编排器抛出的唯一失败类型
type StageError struct {
	Stage  entity.RunStage
	Reason string
	Kind   ErrorKind
	Err    error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("stage %s failed (%s)", e.Stage, e.Reason)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError 创建阶段错误
func NewStageError(stage entity.RunStage, reason string, kind ErrorKind, err error) *StageError {
	return &StageError{Stage: stage, Reason: reason, Kind: kind, Err: err}
}

// AsStageError 从错误链中提取阶段错误
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ErrCancelled 运行被取消
var ErrCancelled = errors.New("run cancelled")
