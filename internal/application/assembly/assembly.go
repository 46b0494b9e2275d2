// Package assembly 实现内容组装阶段
//
// 子步骤依次为：大纲展开、章节生成、引言与结语、合并、优化。
// 章节严格按大纲顺序逐个生成，前文作为上下文传入；任何章节在重试耗尽后缺失都会使运行失败。
package assembly

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/service"
	"content-pipeline-api/internal/workflow/node"
	"content-pipeline-api/internal/workflow/port"
	"content-pipeline-api/internal/workflow/prompt"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/metrics"
	"content-pipeline-api/pkg/retry"
)

// Config 组装阶段配置
type Config struct {
	// Retry 每个子步骤的重试策略，默认共 3 次尝试（首次 + 2 次重试），基数 1s，因子 2；
	// 只重试 port.ErrTransient，输出格式错误直接交给子步骤的回退
	Retry               retry.Policy
	CallTimeout         time.Duration
	Temperature         float32
	MaxTokensPerSection int
	ContextRunes        int
	DefaultLength       int
}

func (c *Config) withDefaults() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
		c.Retry.BaseDelay = time.Second
		c.Retry.Factor = 2
	}
	if c.Retry.Classifier == nil {
		c.Retry.Classifier = port.IsTransient
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 90 * time.Second
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokensPerSection <= 0 {
		c.MaxTokensPerSection = 1500
	}
	if c.ContextRunes <= 0 {
		c.ContextRunes = 6000
	}
	if c.DefaultLength <= 0 {
		c.DefaultLength = 1200
	}
}

// Input 组装输入
type Input struct {
	Tenant      *entity.Tenant
	Brief       *entity.Brief
	Instruction string
	Revision    int
}

// Hooks 编排器注入的回调
type Hooks struct {
	// OnCoreReady 章节全部生成后调用一次，传入草稿快照，视觉阶段据此开始
	OnCoreReady func(d *entity.Draft)
	// ShouldStop 每个子步骤之间检查，返回 true 时以 service.ErrCancelled 结束
	ShouldStop func(ctx context.Context) bool
}

// Stage 内容组装
type Stage struct {
	gen     port.TextGenerator
	prompts *prompt.Registry
	cfg     Config
}

// NewStage 创建组装阶段
func NewStage(gen port.TextGenerator, prompts *prompt.Registry, cfg Config) *Stage {
	cfg.withDefaults()
	return &Stage{gen: gen, prompts: prompts, cfg: cfg}
}

// Assemble 执行全部子步骤并返回最终草稿
func (s *Stage) Assemble(ctx context.Context, in Input, hooks Hooks) (*entity.Draft, error) {
	ctx = service.WithWorkflow(ctx, "assembly")
	brief := in.Brief
	if brief == nil {
		return nil, s.fail("brief", errors.New("brief is required"))
	}
	outline := brief.Sections()
	if len(outline) == 0 {
		return nil, s.fail("outline", errors.New("brief outline is empty"))
	}
	brand := in.Tenant.BrandOrDefault()
	draft := &entity.Draft{Title: brief.Title(), Revision: in.Revision}

	stop := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if hooks.ShouldStop != nil && hooks.ShouldStop(ctx) {
			return service.ErrCancelled
		}
		return nil
	}

	specs, err := s.expandOutline(ctx, in, outline, brand)
	if err != nil {
		return nil, s.fail("outline_expansion", err)
	}
	draft.Specs = specs

	for i, spec := range specs {
		if err := stop(); err != nil {
			return nil, err
		}
		body, err := s.generateSection(ctx, in, brand, draft, spec)
		if err != nil {
			return nil, s.fail(fmt.Sprintf("section %d (%s)", i+1, spec.Heading), err)
		}
		draft.Sections = append(draft.Sections, entity.Section{Heading: spec.Heading, Body: body})
	}
	if len(draft.Sections) != len(outline) {
		return nil, s.fail("sections", fmt.Errorf("generated %d of %d sections", len(draft.Sections), len(outline)))
	}

	if hooks.OnCoreReady != nil {
		hooks.OnCoreReady(draft.Clone())
	}

	if err := stop(); err != nil {
		return nil, err
	}
	intro, err := s.generateFraming(ctx, prompt.PromptAssemblyIntroV1, in, brand, draft)
	if err != nil {
		return nil, s.fail("introduction", err)
	}
	draft.Introduction = intro

	if err := stop(); err != nil {
		return nil, err
	}
	conclusion, err := s.generateFraming(ctx, prompt.PromptAssemblyConclusionV1, in, brand, draft)
	if err != nil {
		return nil, s.fail("conclusion", err)
	}
	draft.Conclusion = conclusion

	if err := stop(); err != nil {
		return nil, err
	}
	draft.Markdown = Consolidate(draft)
	Optimize(draft, brief)
	draft.WordCount = entity.CountWords(draft.Markdown)
	metrics.DraftWordCount.Observe(float64(draft.WordCount))

	logger.Info(ctx, "draft assembled",
		"sections", len(draft.Sections),
		"words", draft.WordCount,
		"revision", draft.Revision,
	)
	return draft, nil
}

func (s *Stage) fail(step string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, service.ErrCancelled) {
		return err
	}
	return service.NewStageError(entity.StageAssembling, entity.ReasonAssemblyFailed, service.KindTransient,
		fmt.Errorf("%s: %w", step, err))
}

// call 带超时和重试的单次生成；空输出视为失败
func (s *Stage) call(ctx context.Context, id prompt.PromptID, vars map[string]any, maxTokens int) (string, error) {
	msgs, err := s.prompts.Render(ctx, id, vars)
	if err != nil {
		return "", err
	}
	var text string
	err = s.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		resp, err := s.gen.Generate(callCtx, &port.GenerateRequest{
			Messages:    msgs,
			Temperature: s.cfg.Temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			logger.Warn(ctx, "assembly call failed", "prompt", string(id), "attempt", attempt, "error", err.Error())
			return err
		}
		out := node.StripCodeFence(resp.Text)
		if strings.TrimSpace(out) == "" {
			return fmt.Errorf("%w: empty output", port.ErrMalformedOutput)
		}
		text = out
		return nil
	})
	return text, err
}

func (s *Stage) expandOutline(ctx context.Context, in Input, outline []string, brand entity.BrandProfile) ([]entity.SectionSpec, error) {
	length := s.targetLength(brand)
	text, err := s.call(ctx, prompt.PromptAssemblyOutlineV1, map[string]any{
		"title":   in.Brief.Title(),
		"keyword": in.Brief.PrimaryKeyword(),
		"length":  length,
		"outline": numbered(outline),
	}, s.cfg.MaxTokensPerSection)
	if err != nil && !errors.Is(err, port.ErrMalformedOutput) {
		return nil, err
	}

	fallback := FallbackSpecs(outline, length)
	if err != nil {
		logger.Warn(ctx, "outline expansion returned nothing, using deterministic specs")
		return fallback, nil
	}
	specs, err := node.DecodeJSON[[]entity.SectionSpec](text)
	if err != nil || len(specs) != len(outline) {
		logger.Warn(ctx, "outline expansion malformed, using deterministic specs")
		return fallback, nil
	}
	for i := range specs {
		// 大纲标题与顺序以简报为准
		specs[i].Heading = outline[i]
		if specs[i].TargetWords <= 0 {
			specs[i].TargetWords = fallback[i].TargetWords
		}
	}
	return specs, nil
}

// FallbackSpecs 平均分配篇幅的确定性章节规格
func FallbackSpecs(outline []string, length int) []entity.SectionSpec {
	per := length / max(len(outline), 1)
	specs := make([]entity.SectionSpec, len(outline))
	for i, h := range outline {
		specs[i] = entity.SectionSpec{Heading: h, TargetWords: per}
	}
	return specs
}

func (s *Stage) generateSection(ctx context.Context, in Input, brand entity.BrandProfile, draft *entity.Draft, spec entity.SectionSpec) (string, error) {
	previous := "(none yet)"
	if len(draft.Sections) > 0 {
		previous = node.TailByRunes(draft.CoreText(), s.cfg.ContextRunes)
	}
	keywords := append(append([]string{}, in.Brief.TargetKeywords...), in.Brief.SecondaryKeywords...)
	body, err := s.call(ctx, prompt.PromptAssemblySectionV1, map[string]any{
		"voice":       orDefault(brand.Voice, "clear and helpful"),
		"audience":    orDefault(brand.Audience, "general readers"),
		"instruction": revisionNote(in.Instruction),
		"title":       draft.Title,
		"heading":     spec.Heading,
		"points":      strings.Join(spec.KeyPoints, "; "),
		"words":       spec.TargetWords,
		"keywords":    strings.Join(keywords, ", "),
		"previous":    previous,
	}, s.cfg.MaxTokensPerSection)
	if err != nil {
		return "", err
	}
	return demoteHeadings(body), nil
}

func (s *Stage) generateFraming(ctx context.Context, id prompt.PromptID, in Input, brand entity.BrandProfile, draft *entity.Draft) (string, error) {
	text, err := s.call(ctx, id, map[string]any{
		"voice":       orDefault(brand.Voice, "clear and helpful"),
		"instruction": revisionNote(in.Instruction),
		"title":       draft.Title,
		"keyword":     in.Brief.PrimaryKeyword(),
		"sections":    node.TailByRunes(draft.CoreText(), s.cfg.ContextRunes),
	}, s.cfg.MaxTokensPerSection/2)
	if err != nil {
		return "", err
	}
	return demoteHeadings(text), nil
}

func (s *Stage) targetLength(brand entity.BrandProfile) int {
	if brand.DesiredLength > 0 {
		return brand.DesiredLength
	}
	return s.cfg.DefaultLength
}

func revisionNote(instruction string) string {
	if strings.TrimSpace(instruction) == "" {
		return ""
	}
	return "Revision note from the quality review: " + instruction
}

func numbered(items []string) string {
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, it)
	}
	return b.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
