// Package strategy 实现策略阶段：把选中的趋势扩展为内容简报
package strategy

import (
	"context"
	"errors"
	"strings"
	"time"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/service"
	"content-pipeline-api/internal/workflow/node"
	"content-pipeline-api/internal/workflow/port"
	"content-pipeline-api/internal/workflow/prompt"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/retry"
)

const strictInstruction = "Your previous answer did not match the required structure. " +
	"Return ONLY the JSON object. title_options, outline and target_keywords must each contain at least one non-empty string."

// Config 策略阶段配置
type Config struct {
	Temperature float32
	MaxTokens   int
	CallTimeout time.Duration
	// Transient 单次生成调用的瞬时错误重试策略
	Transient retry.Policy
}

// Stage 策略阶段
type Stage struct {
	gen     port.TextGenerator
	prompts *prompt.Registry
	cfg     Config
}

// NewStage 创建策略阶段
func NewStage(gen port.TextGenerator, prompts *prompt.Registry, cfg Config) *Stage {
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1200
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.Transient.MaxAttempts <= 0 {
		cfg.Transient = retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 2}
	}
	cfg.Transient.Classifier = port.IsTransient
	return &Stage{gen: gen, prompts: prompts, cfg: cfg}
}

// BuildBrief 生成并校验简报；结构不合格时用更严格的指令重试一次
func (s *Stage) BuildBrief(ctx context.Context, tenant *entity.Tenant, cand entity.TrendCandidate) (*entity.Brief, error) {
	ctx = service.WithWorkflow(ctx, "strategy")

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		strict := ""
		if attempt > 1 {
			strict = strictInstruction
		}
		brief, err := s.generate(ctx, tenant, cand, strict)
		if err == nil {
			err = brief.Validate()
		}
		if err == nil {
			brief.Topic = cand.Topic
			return brief, nil
		}
		if !isStructural(err) {
			return nil, service.NewStageError(entity.StageStrategizing, entity.ReasonProviderFailed, service.KindTransient, err)
		}
		lastErr = err
		logger.Warn(ctx, "brief failed structural validation", "attempt", attempt, "error", err.Error())
	}
	return nil, service.NewStageError(entity.StageStrategizing, entity.ReasonBriefMalformed, service.KindStructural, lastErr)
}

func (s *Stage) generate(ctx context.Context, tenant *entity.Tenant, cand entity.TrendCandidate, strict string) (*entity.Brief, error) {
	brand := tenant.BrandOrDefault()
	length := brand.DesiredLength
	if length <= 0 {
		length = 1200
	}
	msgs, err := s.prompts.Render(ctx, prompt.PromptStrategyBriefV1, map[string]any{
		"voice":          orDefault(brand.Voice, "clear and helpful"),
		"audience":       orDefault(brand.Audience, "general readers"),
		"strict":         strict,
		"topic":          cand.Topic,
		"query":          cand.Query,
		"snippet":        cand.Snippet,
		"related":        strings.Join(cand.Metrics.RelatedKeywords, ", "),
		"brand_keywords": strings.Join(brand.Keywords, ", "),
		"length":         length,
	})
	if err != nil {
		return nil, retry.Permanent(err)
	}

	var text string
	err = s.cfg.Transient.Do(ctx, func(ctx context.Context, _ int) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		resp, err := s.gen.Generate(callCtx, &port.GenerateRequest{
			Messages:    msgs,
			Temperature: s.cfg.Temperature,
			MaxTokens:   s.cfg.MaxTokens,
		})
		if err != nil {
			return err
		}
		text = resp.Text
		return nil
	})
	if err != nil {
		return nil, err
	}

	brief, err := node.DecodeJSON[entity.Brief](text)
	if err != nil {
		return nil, err
	}
	return &brief, nil
}

func isStructural(err error) bool {
	var vErr *entity.BriefValidationError
	return errors.As(err, &vErr) || errors.Is(err, port.ErrMalformedOutput)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
