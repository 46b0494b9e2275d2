package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/service"
	"content-pipeline-api/internal/workflow/port"
	"content-pipeline-api/pkg/metrics"
)

var tracer = otel.Tracer("llm")

// Generator 按租户模型档位选择提供商的文本生成器
type Generator struct {
	models          port.ChatModels
	classes         map[string]string
	defaultProvider string
}

var _ port.TextGenerator = (*Generator)(nil)

// NewGenerator 创建文本生成器，classes 为模型档位到提供商名的映射
func NewGenerator(models port.ChatModels, classes map[string]string, defaultProvider string) *Generator {
	return &Generator{models: models, classes: classes, defaultProvider: defaultProvider}
}

// providerFor 未配置的档位回落到默认提供商
func (g *Generator) providerFor(class entity.ModelClass) string {
	if name, ok := g.classes[string(class)]; ok && name != "" {
		return name
	}
	return g.defaultProvider
}

// Generate 实现 port.TextGenerator
func (g *Generator) Generate(ctx context.Context, req *port.GenerateRequest) (*port.GenerateResponse, error) {
	provider := g.providerFor(service.ModelClassFromContext(ctx))
	ctx, span := tracer.Start(ctx, "llm.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", provider))

	chat, err := g.models.Get(ctx, provider)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	modelName := g.models.ModelName(provider)
	if modelName == "" {
		modelName = provider
	}

	var opts []model.Option
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}

	start := time.Now()
	msg, err := chat.Generate(ctx, req.Messages, opts...)
	metrics.LLMCallDuration.WithLabelValues(provider, modelName).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		metrics.LLMCallTotal.WithLabelValues(provider, modelName, "error").Inc()
		return nil, classify(err)
	}
	metrics.LLMCallTotal.WithLabelValues(provider, modelName, "success").Inc()

	resp := &port.GenerateResponse{Text: msg.Content, Model: modelName}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		resp.PromptTokens = msg.ResponseMeta.Usage.PromptTokens
		resp.CompletionTokens = msg.ResponseMeta.Usage.CompletionTokens
		metrics.LLMTokensUsed.WithLabelValues(provider, modelName, "prompt").Add(float64(resp.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(provider, modelName, "completion").Add(float64(resp.CompletionTokens))
	}
	span.SetAttributes(
		attribute.String("llm.model", modelName),
		attribute.Int("llm.prompt_tokens", resp.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.CompletionTokens),
	)
	return resp, nil
}

// classify 超时、限流与服务端错误标记为可重试
func classify(err error) error {
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	if IsTransientError(err) {
		return fmt.Errorf("%w: %v", port.ErrTransient, err)
	}
	return err
}

// IsTransientError 判断提供方错误是否值得重试
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "too many requests",
		"500", "502", "503", "504", "server error", "bad gateway", "service unavailable",
		"timeout", "connection reset", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
