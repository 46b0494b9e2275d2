package quality

import (
	"context"

	"content-pipeline-api/internal/application/scoring"
	"content-pipeline-api/internal/domain/entity"
)

// ScoringEvaluator 基于 scoring 包启发式规则的默认评估器
type ScoringEvaluator struct{}

// Evaluate 计算五个维度
func (ScoringEvaluator) Evaluate(_ context.Context, in Input) (Evaluation, error) {
	text := in.Draft.Text()
	var brief entity.Brief
	if in.Brief != nil {
		brief = *in.Brief
	}
	var brand entity.BrandProfile
	if in.Tenant != nil {
		brand = in.Tenant.BrandOrDefault()
	}

	subs := map[entity.QualityDimension]scoring.SubScore{
		entity.DimensionBrand: scoring.BrandConsistency(text, brand),
		entity.DimensionSEO: scoring.SEOCompliance(scoring.SEOInput{
			Title:        in.Draft.Title,
			Markdown:     text,
			Introduction: in.Draft.Introduction,
			Brief:        brief,
			Image:        in.Image,
		}),
		entity.DimensionReadability: scoring.Readability(text),
		entity.DimensionFactual:     scoring.FactualConfidence(text),
		entity.DimensionOriginality: scoring.Originality(text, in.Corpus),
	}

	var ev Evaluation
	for _, dim := range entity.QualityDimensions {
		sub := subs[dim]
		ev.Scores = append(ev.Scores, entity.DimensionScore{
			Dimension:      dim,
			Score:          sub.Score,
			Recommendation: sub.Recommendation,
		})
		ev.Deductions = append(ev.Deductions, sub.Deductions...)
	}
	return ev, nil
}
