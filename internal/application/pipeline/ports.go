// Package pipeline 编排运行状态机：阶段推进、内容与配图并行、质量门循环、投递与恢复
package pipeline

import (
	"context"

	"content-pipeline-api/internal/application/assembly"
	"content-pipeline-api/internal/application/delivery"
	"content-pipeline-api/internal/application/governance"
	"content-pipeline-api/internal/application/quality"
	"content-pipeline-api/internal/application/visual"
	"content-pipeline-api/internal/domain/entity"
)

// TenantProvider 租户配置读取
type TenantProvider interface {
	GetByID(ctx context.Context, id string) (*entity.Tenant, error)
}

// Discoverer 趋势发现
type Discoverer interface {
	Discover(ctx context.Context, tenant *entity.Tenant, n int) ([]entity.TrendCandidate, error)
}

// Strategist 简报生成
type Strategist interface {
	BuildBrief(ctx context.Context, tenant *entity.Tenant, cand entity.TrendCandidate) (*entity.Brief, error)
}

// Assembler 内容组装
type Assembler interface {
	Assemble(ctx context.Context, in assembly.Input, hooks assembly.Hooks) (*entity.Draft, error)
}

// Illustrator 配图生成
type Illustrator interface {
	Produce(ctx context.Context, in visual.Input) (*entity.ImageAsset, error)
}

// QualityGate 质量评估
type QualityGate interface {
	Evaluate(ctx context.Context, in quality.Input, regenerations, ceiling int) (*entity.QualityReport, error)
}

// Governance 租户治理
type Governance interface {
	Admit(ctx context.Context, tenant *entity.Tenant, runID string) (governance.Admission, error)
	Release(ctx context.Context, tenantID, runID string) error
	CheckRegeneration(ctx context.Context, tenant *entity.Tenant, runID string) error
}

// Deliverer 出站投递
type Deliverer interface {
	Deliver(ctx context.Context, tenant *entity.Tenant, run *entity.Run) (*delivery.Result, error)
}

// Dispatcher 把执行请求交给工作进程
type Dispatcher interface {
	DispatchExecute(ctx context.Context, tenantID, runID string) error
	DispatchRedeliver(ctx context.Context, tenantID, runID string) error
}

// Stages 各阶段实现
type Stages struct {
	Discovery Discoverer
	Strategy  Strategist
	Assembly  Assembler
	Visual    Illustrator
	Quality   QualityGate
	Delivery  Deliverer
}
