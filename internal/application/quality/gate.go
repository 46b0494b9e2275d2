// Package quality 实现质量门：五维评分、加权总分与重生成决策
package quality

import (
	"context"
	"fmt"
	"time"

	"content-pipeline-api/internal/application/scoring"
	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/metrics"
)

// DefaultThreshold 默认通过阈值
const DefaultThreshold = 85.0

// Input 评估输入
type Input struct {
	Tenant *entity.Tenant
	RunID  string
	Brief  *entity.Brief
	Draft  *entity.Draft
	Image  *entity.ImageAsset
	// Corpus 租户已发布内容，用于原创性比对
	Corpus []string
}

// Evaluation 各维度评分结果
type Evaluation struct {
	Scores     []entity.DimensionScore
	Deductions []entity.Deduction
}

// Evaluator 质量评估器
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (Evaluation, error)
}

// CorpusSource 原创性比对语料来源
type CorpusSource interface {
	ListDeliveredTexts(ctx context.Context, tenantID, excludeRunID string, limit int) ([]string, error)
}

// Config 质量门配置
type Config struct {
	Threshold   float64
	CorpusLimit int
}

// Gate 质量门
type Gate struct {
	eval   Evaluator
	corpus CorpusSource
	cfg    Config
	now    func() time.Time
}

// NewGate 创建质量门；corpus 可为 nil
func NewGate(eval Evaluator, corpus CorpusSource, cfg Config) *Gate {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.CorpusLimit <= 0 {
		cfg.CorpusLimit = 20
	}
	if eval == nil {
		eval = ScoringEvaluator{}
	}
	return &Gate{eval: eval, corpus: corpus, cfg: cfg, now: time.Now}
}

// Threshold 当前阈值
func (g *Gate) Threshold() float64 { return g.cfg.Threshold }

// Evaluate 评分并给出决策
//
// regenerations 为已发生的重生成次数，ceiling 为上限；未达阈值且仍有额度时决策为 regenerate。
func (g *Gate) Evaluate(ctx context.Context, in Input, regenerations, ceiling int) (*entity.QualityReport, error) {
	if in.Draft == nil {
		return nil, fmt.Errorf("quality gate: draft is required")
	}
	if in.Corpus == nil && g.corpus != nil && in.Tenant != nil {
		corpus, err := g.corpus.ListDeliveredTexts(ctx, in.Tenant.ID, in.RunID, g.cfg.CorpusLimit)
		if err != nil {
			return nil, fmt.Errorf("load originality corpus: %w", err)
		}
		in.Corpus = corpus
	}

	ev, err := g.eval.Evaluate(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("quality gate: %w", err)
	}

	report := &entity.QualityReport{
		Dimensions: normalize(ev.Scores),
		Threshold:  g.cfg.Threshold,
		Deductions: ev.Deductions,
		Pass:       regenerations + 1,
		ScoredAt:   g.now(),
	}
	report.Overall = scoring.ReportScore(report)
	report.Decision = Decide(report.Overall, g.cfg.Threshold, regenerations, ceiling)

	for _, d := range report.Dimensions {
		metrics.QualityScore.WithLabelValues(string(d.Dimension)).Observe(d.Score)
	}
	logger.Info(ctx, "draft scored",
		"overall", report.Overall,
		"threshold", report.Threshold,
		"decision", string(report.Decision),
		"pass", report.Pass,
	)
	return report, nil
}

// Decide 决策状态机：达标通过；未达标且有额度则重生成；否则拒绝
func Decide(overall, threshold float64, regenerations, ceiling int) entity.QualityDecision {
	switch {
	case overall >= threshold:
		return entity.DecisionApproved
	case regenerations < ceiling:
		return entity.DecisionRegenerate
	default:
		return entity.DecisionQualityRejected
	}
}

// Instruction 重生成时注入的改写指令：取最低分维度的建议
func Instruction(report *entity.QualityReport) string {
	lowest := report.Lowest()
	if lowest.Recommendation != "" {
		return lowest.Recommendation
	}
	return DefaultRecommendation(lowest.Dimension)
}

// normalize 按固定顺序补齐五个维度，缺失建议使用默认文案
func normalize(scores []entity.DimensionScore) []entity.DimensionScore {
	byDim := make(map[entity.QualityDimension]entity.DimensionScore, len(scores))
	for _, s := range scores {
		byDim[s.Dimension] = s
	}
	out := make([]entity.DimensionScore, 0, len(entity.QualityDimensions))
	for _, dim := range entity.QualityDimensions {
		s, ok := byDim[dim]
		if !ok {
			s = entity.DimensionScore{Dimension: dim}
		}
		s.Score = scoring.Clamp100(s.Score)
		if s.Recommendation == "" {
			s.Recommendation = DefaultRecommendation(dim)
		}
		out = append(out, s)
	}
	return out
}

// DefaultRecommendation 维度默认改写建议
func DefaultRecommendation(dim entity.QualityDimension) string {
	switch dim {
	case entity.DimensionBrand:
		return "Align the wording with the brand voice and weave in the brand keywords."
	case entity.DimensionSEO:
		return "Strengthen on-page SEO: keyword in title and opening, clear H2 structure."
	case entity.DimensionReadability:
		return "Use shorter sentences and simpler words."
	case entity.DimensionFactual:
		return "Name a source for every statistic or study mentioned."
	case entity.DimensionOriginality:
		return "Take a fresh angle and avoid phrasing used in earlier articles."
	}
	return "Revise the weakest parts of the draft."
}
