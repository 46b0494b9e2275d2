package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"content-pipeline-api/internal/application/pipeline"
	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/repository"
	"content-pipeline-api/internal/interfaces/http/dto"
)

// RunService 运行管理能力，由 pipeline.Orchestrator 实现
type RunService interface {
	Submit(ctx context.Context, tenant *entity.Tenant) (*entity.Run, error)
	Get(ctx context.Context, tenantID, runID string) (*pipeline.RunView, error)
	List(ctx context.Context, tenantID string, filter *repository.RunFilter, p repository.Pagination) (*repository.PagedResult[*entity.Run], error)
	Cancel(ctx context.Context, tenantID, runID string) (*entity.Run, error)
	Select(ctx context.Context, tenantID, runID string, index int) (*entity.Run, error)
	Redeliver(ctx context.Context, tenantID, runID string) (*entity.Run, error)
}

// RunHandler 运行处理器
type RunHandler struct {
	runs RunService
}

// NewRunHandler 创建运行处理器
func NewRunHandler(runs RunService) *RunHandler {
	return &RunHandler{runs: runs}
}

// SubmitRun 提交新运行
// @Summary 提交运行
// @Description 通过准入检查后创建运行并异步执行
// @Tags Runs
// @Produce json
// @Param X-Tenant-ID header string true "租户 ID"
// @Success 202 {object} dto.Response[dto.SubmitRunResponse]
// @Failure 403 {object} dto.ErrorResponse "租户已停用"
// @Failure 429 {object} dto.ErrorResponse "并发或日配额超限"
// @Router /v1/runs [post]
func (h *RunHandler) SubmitRun(c *gin.Context) {
	tenant, ok := currentTenant(c)
	if !ok {
		return
	}

	run, err := h.runs.Submit(c.Request.Context(), tenant)
	if err != nil {
		respondError(c, err, "failed to submit run")
		return
	}

	dto.Accepted(c, &dto.SubmitRunResponse{
		RunID:  run.ID,
		Status: string(run.Status),
		Stage:  string(run.Stage),
	})
}

// ListRuns 分页列出运行
// @Summary 运行列表
// @Tags Runs
// @Produce json
// @Param status query string false "按状态过滤"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[[]dto.RunSummary]
// @Router /v1/runs [get]
func (h *RunHandler) ListRuns(c *gin.Context) {
	tenant, ok := currentTenant(c)
	if !ok {
		return
	}

	filter := &repository.RunFilter{}
	if s := c.Query("status"); s != "" {
		status := entity.RunStatus(s)
		if !status.Valid() {
			dto.BadRequest(c, "unknown status: "+s)
			return
		}
		filter.Status = status
	}

	result, err := h.runs.List(c.Request.Context(), tenant.ID, filter, dto.BindPage(c))
	if err != nil {
		respondError(c, err, "failed to list runs")
		return
	}

	items := make([]*dto.RunSummary, 0, len(result.Items))
	for _, run := range result.Items {
		items = append(items, dto.ToRunSummary(run))
	}
	dto.SuccessWithPage(c, items, dto.PageMetaFrom(result))
}

// GetRun 获取运行详情及迁移记录
// @Summary 运行详情
// @Tags Runs
// @Produce json
// @Param rid path string true "运行 ID"
// @Success 200 {object} dto.Response[dto.RunResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/runs/{rid} [get]
func (h *RunHandler) GetRun(c *gin.Context) {
	tenant, runID, ok := h.bindRun(c)
	if !ok {
		return
	}

	view, err := h.runs.Get(c.Request.Context(), tenant.ID, runID)
	if err != nil {
		respondError(c, err, "failed to get run")
		return
	}

	dto.Success(c, dto.ToRunResponse(view.Run, view.Transitions))
}

// CancelRun 请求取消运行
// @Summary 取消运行
// @Description 标记取消，执行中的运行在下一个阶段边界停止
// @Tags Runs
// @Produce json
// @Param rid path string true "运行 ID"
// @Success 200 {object} dto.Response[dto.RunSummary]
// @Failure 409 {object} dto.ErrorResponse "运行已结束"
// @Router /v1/runs/{rid}/cancel [post]
func (h *RunHandler) CancelRun(c *gin.Context) {
	tenant, runID, ok := h.bindRun(c)
	if !ok {
		return
	}

	run, err := h.runs.Cancel(c.Request.Context(), tenant.ID, runID)
	if err != nil {
		respondError(c, err, "failed to cancel run")
		return
	}

	dto.Success(c, dto.ToRunSummary(run))
}

// SelectCandidate 人工选择趋势候选
// @Summary 选择候选
// @Tags Runs
// @Accept json
// @Produce json
// @Param rid path string true "运行 ID"
// @Param body body dto.SelectionRequest true "候选下标"
// @Success 200 {object} dto.Response[dto.RunSummary]
// @Failure 409 {object} dto.ErrorResponse "运行不在等待选择状态"
// @Router /v1/runs/{rid}/selection [post]
func (h *RunHandler) SelectCandidate(c *gin.Context) {
	tenant, runID, ok := h.bindRun(c)
	if !ok {
		return
	}

	var req dto.SelectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid selection: "+err.Error())
		return
	}

	run, err := h.runs.Select(c.Request.Context(), tenant.ID, runID, *req.Index)
	if err != nil {
		respondError(c, err, "failed to select candidate")
		return
	}

	dto.Success(c, dto.ToRunSummary(run))
}

// RedeliverRun 重新投递交付失败的运行
// @Summary 重新投递
// @Tags Runs
// @Produce json
// @Param rid path string true "运行 ID"
// @Success 202 {object} dto.Response[dto.RunSummary]
// @Failure 409 {object} dto.ErrorResponse "运行不是交付失败状态"
// @Router /v1/runs/{rid}/redeliver [post]
func (h *RunHandler) RedeliverRun(c *gin.Context) {
	tenant, runID, ok := h.bindRun(c)
	if !ok {
		return
	}

	run, err := h.runs.Redeliver(c.Request.Context(), tenant.ID, runID)
	if err != nil {
		respondError(c, err, "failed to redeliver run")
		return
	}

	dto.Accepted(c, dto.ToRunSummary(run))
}

func (h *RunHandler) bindRun(c *gin.Context) (*entity.Tenant, string, bool) {
	tenant, ok := currentTenant(c)
	if !ok {
		return nil, "", false
	}
	var req dto.RunIDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		dto.BadRequest(c, "invalid run id")
		return nil, "", false
	}
	return tenant, req.RunID, true
}
