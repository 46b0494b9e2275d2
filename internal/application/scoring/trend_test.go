package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"content-pipeline-api/internal/domain/entity"
)

func TestTrendScoreWeightsAndClamp(t *testing.T) {
	c := entity.TrendCandidate{
		Topic: "inventory forecasting for retailers",
		Metrics: entity.SignalMetrics{
			VolumeDelta:     400,
			Competition:     -0.5,
			RelatedKeywords: []string{"demand planning", "inventory"},
		},
	}
	b := TrendScore(c, []string{"inventory forecasting"})

	assert.Equal(t, 100.0, b.Relevance)
	assert.Equal(t, 100.0, b.Volume)
	assert.Equal(t, 100.0, b.Competition)
	assert.Equal(t, 50.0, b.Gap)
	assert.InDelta(t, 0.40*100+0.25*100+0.20*100+0.15*50, b.Composite, 1e-9)
}

func TestTrendScoreBoundsAndDeterminism(t *testing.T) {
	inputs := []entity.TrendCandidate{
		{},
		{Topic: "x", Metrics: entity.SignalMetrics{VolumeDelta: -50, Competition: 3}},
		{Topic: "AI coding assistants", Snippet: "assistants for developers", Metrics: entity.SignalMetrics{VolumeDelta: 90, Competition: 0.4, RelatedKeywords: []string{"copilot", "ai"}}},
	}
	topics := []string{"ai assistants", "developer tools"}
	for _, c := range inputs {
		first := TrendScore(c, topics)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, TrendScore(c, topics))
		}
		for _, v := range []float64{first.Relevance, first.Volume, first.Competition, first.Gap, first.Composite} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 100.0)
		}
	}
}

func TestRankOrdersByScoreThenTopic(t *testing.T) {
	cands := []entity.TrendCandidate{
		{Topic: "b", Score: 50},
		{Topic: "a", Score: 50},
		{Topic: "c", Score: 80},
	}
	Rank(cands)
	assert.Equal(t, []string{"c", "a", "b"}, []string{cands[0].Topic, cands[1].Topic, cands[2].Topic})
}

func TestContentGapCountsUncoveredKeywords(t *testing.T) {
	c := entity.TrendCandidate{Metrics: entity.SignalMetrics{RelatedKeywords: []string{"forecasting", "supply chain", "pricing"}}}
	b := TrendScore(c, []string{"forecasting"})
	assert.InDelta(t, 200.0/3, b.Gap, 1e-9)
}
