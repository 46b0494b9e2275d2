package scoring

import (
	"math"

	"content-pipeline-api/internal/domain/entity"
)

// qualityWeights 五个质量维度的固定权重，所有租户共用以保证阈值可比
var qualityWeights = map[entity.QualityDimension]float64{
	entity.DimensionBrand:       0.20,
	entity.DimensionSEO:         0.25,
	entity.DimensionReadability: 0.20,
	entity.DimensionFactual:     0.15,
	entity.DimensionOriginality: 0.20,
}

// QualityWeight 返回维度权重
func QualityWeight(dim entity.QualityDimension) float64 {
	return qualityWeights[dim]
}

// QualityScore 五个维度的加权和，缺失维度按 0 计，结果保留两位小数
func QualityScore(scores map[entity.QualityDimension]float64) float64 {
	total := 0.0
	for _, dim := range entity.QualityDimensions {
		total += qualityWeights[dim] * Clamp100(scores[dim])
	}
	return math.Round(Clamp100(total)*100) / 100
}

// ReportScore 从质量报告计算总分
func ReportScore(r *entity.QualityReport) float64 {
	scores := make(map[entity.QualityDimension]float64, len(r.Dimensions))
	for _, d := range r.Dimensions {
		scores[d.Dimension] = d.Score
	}
	return QualityScore(scores)
}
