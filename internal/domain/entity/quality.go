package entity

import "time"

// QualityDimension 质量维度
type QualityDimension string

const (
	DimensionBrand       QualityDimension = "brand_consistency"
	DimensionSEO         QualityDimension = "seo"
	DimensionReadability QualityDimension = "readability"
	DimensionFactual     QualityDimension = "factual_confidence"
	DimensionOriginality QualityDimension = "originality"
)

// QualityDimensions 固定顺序的五个维度
var QualityDimensions = []QualityDimension{
	DimensionBrand,
	DimensionSEO,
	DimensionReadability,
	DimensionFactual,
	DimensionOriginality,
}

// QualityDecision 质量门决策
type QualityDecision string

const (
	DecisionApproved        QualityDecision = "approved"
	DecisionRegenerate      QualityDecision = "regenerate"
	DecisionQualityRejected QualityDecision = "quality_rejected"
)

// DimensionScore 单维度得分
type DimensionScore struct {
	Dimension      QualityDimension `json:"dimension"`
	Score          float64          `json:"score"`
	Recommendation string           `json:"recommendation,omitempty"`
}

// Deduction 扣分项，Blocking 为 false 时仅记录不拦截
type Deduction struct {
	Dimension QualityDimension `json:"dimension"`
	Check     string           `json:"check"`
	Points    float64          `json:"points"`
	Reason    string           `json:"reason"`
	Blocking  bool             `json:"blocking"`
}

// QualityReport 质量报告
type QualityReport struct {
	Dimensions []DimensionScore `json:"dimensions"`
	Overall    float64          `json:"overall"`
	Threshold  float64          `json:"threshold"`
	Deductions []Deduction      `json:"deductions,omitempty"`
	Decision   QualityDecision  `json:"decision"`
	Pass       int              `json:"pass"`
	ScoredAt   time.Time        `json:"scored_at"`
}

// Score 返回指定维度得分
func (r *QualityReport) Score(dim QualityDimension) float64 {
	for _, d := range r.Dimensions {
		if d.Dimension == dim {
			return d.Score
		}
	}
	return 0
}

// Lowest 返回得分最低的维度，并列时取固定顺序中靠前者
func (r *QualityReport) Lowest() DimensionScore {
	var lowest DimensionScore
	found := false
	for _, dim := range QualityDimensions {
		for _, d := range r.Dimensions {
			if d.Dimension != dim {
				continue
			}
			if !found || d.Score < lowest.Score {
				lowest = d
				found = true
			}
		}
	}
	return lowest
}

// HasDeduction 是否存在指定检查项的扣分
func (r *QualityReport) HasDeduction(check string) bool {
	for _, d := range r.Deductions {
		if d.Check == check {
			return true
		}
	}
	return false
}
