package dto

import (
	"time"

	"content-pipeline-api/internal/application/delivery"
	"content-pipeline-api/internal/application/governance"
	"content-pipeline-api/internal/domain/entity"
)

// RunSummary 列表中的运行摘要
type RunSummary struct {
	ID            string     `json:"id"`
	Stage         string     `json:"stage"`
	Status        string     `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	FailedStage   string     `json:"failed_stage,omitempty"`
	Regenerations int        `json:"regenerations"`
	Overall       *float64   `json:"overall_score,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// TransitionResponse 阶段迁移记录
type TransitionResponse struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Status string    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// RunResponse 运行详情
type RunResponse struct {
	RunSummary
	ErrorDetail      string                  `json:"error_detail,omitempty"`
	CancelRequested  bool                    `json:"cancel_requested"`
	Candidates       []entity.TrendCandidate `json:"candidates,omitempty"`
	Selected         *entity.TrendCandidate  `json:"selected,omitempty"`
	Brief            *entity.Brief           `json:"brief,omitempty"`
	Draft            *entity.Draft           `json:"draft,omitempty"`
	Image            *entity.ImageAsset      `json:"image,omitempty"`
	QualityReport    *entity.QualityReport   `json:"quality_report,omitempty"`
	DeliveryAttempts int                     `json:"delivery_attempts"`
	DeliveryID       string                  `json:"delivery_id,omitempty"`
	DeliveredAt      *time.Time              `json:"delivered_at,omitempty"`
	Transitions      []*TransitionResponse   `json:"transitions,omitempty"`
}

// SubmitRunResponse 提交结果
type SubmitRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Stage  string `json:"stage"`
}

// SelectionRequest 人工选择候选
type SelectionRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// UsageResponse 租户用量
type UsageResponse struct {
	Tier              string     `json:"tier"`
	ActiveRuns        int        `json:"active_runs"`
	MaxConcurrent     int        `json:"max_concurrent"`
	DailyCount        int        `json:"daily_count"`
	DailyLimit        int        `json:"daily_limit"`
	RemainingDaily    int        `json:"remaining_daily"`
	WindowStart       *time.Time `json:"window_start,omitempty"`
	RequestsInWindow  int        `json:"requests_in_window"`
	RequestsPerHour   int        `json:"requests_per_hour"`
	RemainingRequests int        `json:"remaining_requests"`
}

// ToRunSummary 转换运行摘要
func ToRunSummary(run *entity.Run) *RunSummary {
	s := &RunSummary{
		ID:            run.ID,
		Stage:         string(run.Stage),
		Status:        string(run.Status),
		Reason:        run.Reason,
		FailedStage:   string(run.FailedStage),
		Regenerations: run.Regenerations,
		CreatedAt:     run.CreatedAt,
		CompletedAt:   run.CompletedAt,
	}
	if run.Report != nil {
		overall := run.Report.Overall
		s.Overall = &overall
	}
	return s
}

// ToRunResponse 转换运行详情
func ToRunResponse(run *entity.Run, transitions []*entity.RunTransition) *RunResponse {
	resp := &RunResponse{
		RunSummary:       *ToRunSummary(run),
		ErrorDetail:      run.ErrorDetail,
		CancelRequested:  run.CancelRequested,
		Candidates:       run.Candidates,
		Selected:         run.Selected,
		Brief:            run.Brief,
		Draft:            run.Draft,
		Image:            run.Image,
		QualityReport:    run.Report,
		DeliveryAttempts: run.DeliveryAttempts,
		DeliveryID:       run.DeliveryID,
		DeliveredAt:      run.DeliveredAt,
	}
	for _, t := range transitions {
		resp.Transitions = append(resp.Transitions, &TransitionResponse{
			From:   string(t.FromStage),
			To:     string(t.ToStage),
			Status: string(t.Status),
			Reason: t.Reason,
			At:     t.CreatedAt,
		})
	}
	return resp
}

// ToUsageResponse 转换用量报告
func ToUsageResponse(tenant *entity.Tenant, r *governance.UsageReport) *UsageResponse {
	resp := &UsageResponse{
		Tier:              string(tenant.Tier),
		ActiveRuns:        r.Active,
		MaxConcurrent:     r.Limits.MaxConcurrent,
		DailyCount:        r.DailyCount,
		DailyLimit:        r.Limits.MaxDailyContent,
		RemainingDaily:    r.RemainingDaily,
		RequestsInWindow:  r.RequestsInWindow,
		RequestsPerHour:   r.Limits.RequestsPerHour,
		RemainingRequests: r.RemainingRequests,
	}
	if !r.WindowStart.IsZero() {
		ws := r.WindowStart
		resp.WindowStart = &ws
	}
	return resp
}

// AckResponse 入站确认结果
type AckResponse = delivery.AckResult
