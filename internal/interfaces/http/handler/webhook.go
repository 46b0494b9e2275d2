package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"content-pipeline-api/internal/application/delivery"
	"content-pipeline-api/internal/interfaces/http/dto"
)

const maxAckBodyBytes = 1 << 20

// AckHandler 处理入站确认
type AckHandler interface {
	Handle(ctx context.Context, body []byte, signature string) (*delivery.AckResult, error)
}

// WebhookHandler 确认回调处理器
type WebhookHandler struct {
	acks            AckHandler
	signatureHeader string
}

// NewWebhookHandler 创建确认回调处理器
func NewWebhookHandler(acks AckHandler, signatureHeader string) *WebhookHandler {
	if signatureHeader == "" {
		signatureHeader = "X-Signature"
	}
	return &WebhookHandler{acks: acks, signatureHeader: signatureHeader}
}

// Confirm 接收下游的发布确认
// @Summary 发布确认回调
// @Description 校验 HMAC 签名后幂等地更新运行状态，重复确认同样返回 200
// @Tags Webhook
// @Accept json
// @Produce json
// @Param X-Signature header string true "sha256=<hex>"
// @Success 200 {object} dto.Response[dto.AckResponse]
// @Failure 401 {object} dto.ErrorResponse "签名无效"
// @Router /webhook/confirm [post]
func (h *WebhookHandler) Confirm(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxAckBodyBytes))
	if err != nil {
		dto.BadRequest(c, "failed to read body")
		return
	}

	result, err := h.acks.Handle(c.Request.Context(), body, c.GetHeader(h.signatureHeader))
	if err != nil {
		respondError(c, err, "failed to apply acknowledgment")
		return
	}

	dto.Success(c, result)
}
