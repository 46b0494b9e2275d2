package quality

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-pipeline-api/internal/application/scoring"
	"content-pipeline-api/internal/domain/entity"
)

// passEvaluator 每次评估返回下一个统一分数
type passEvaluator struct {
	scores []float64
	calls  int
}

func (p *passEvaluator) Evaluate(context.Context, Input) (Evaluation, error) {
	score := p.scores[p.calls]
	p.calls++
	var ev Evaluation
	for _, dim := range entity.QualityDimensions {
		ev.Scores = append(ev.Scores, entity.DimensionScore{Dimension: dim, Score: score})
	}
	return ev, nil
}

type stubCorpus struct {
	texts    []string
	tenantID string
	exclude  string
}

func (s *stubCorpus) ListDeliveredTexts(_ context.Context, tenantID, exclude string, _ int) ([]string, error) {
	s.tenantID, s.exclude = tenantID, exclude
	return s.texts, nil
}

func runGate(t *testing.T, scores ...float64) []entity.QualityDecision {
	t.Helper()
	gate := NewGate(&passEvaluator{scores: scores}, nil, Config{})
	const ceiling = 1
	regenerations := 0
	var decisions []entity.QualityDecision
	for i := 0; i < len(scores); i++ {
		report, err := gate.Evaluate(context.Background(), Input{Draft: &entity.Draft{}}, regenerations, ceiling)
		require.NoError(t, err)
		decisions = append(decisions, report.Decision)
		if report.Decision != entity.DecisionRegenerate {
			break
		}
		regenerations++
	}
	return decisions
}

func TestGateRegeneratesOnceThenApproves(t *testing.T) {
	assert.Equal(t,
		[]entity.QualityDecision{entity.DecisionRegenerate, entity.DecisionApproved},
		runGate(t, 72, 90))
}

func TestGateRegeneratesOnceThenRejects(t *testing.T) {
	assert.Equal(t,
		[]entity.QualityDecision{entity.DecisionRegenerate, entity.DecisionQualityRejected},
		runGate(t, 72, 80))
}

func TestGateLoopIsBounded(t *testing.T) {
	for ceiling := 0; ceiling <= 3; ceiling++ {
		regenerations := 0
		for {
			d := Decide(10, DefaultThreshold, regenerations, ceiling)
			if d != entity.DecisionRegenerate {
				assert.Equal(t, entity.DecisionQualityRejected, d)
				break
			}
			regenerations++
			require.LessOrEqual(t, regenerations, ceiling)
		}
		assert.Equal(t, ceiling, regenerations)
	}
}

func TestGateThresholdIsInclusive(t *testing.T) {
	assert.Equal(t, entity.DecisionApproved, Decide(85, 85, 0, 1))
	assert.Equal(t, entity.DecisionRegenerate, Decide(84.99, 85, 0, 1))
}

func TestInstructionUsesLowestDimension(t *testing.T) {
	report := &entity.QualityReport{Dimensions: []entity.DimensionScore{
		{Dimension: entity.DimensionBrand, Score: 90},
		{Dimension: entity.DimensionReadability, Score: 40, Recommendation: "Split long sentences."},
		{Dimension: entity.DimensionFactual, Score: 70},
	}}
	assert.Equal(t, "Split long sentences.", Instruction(report))

	report.Dimensions[1].Recommendation = ""
	assert.Equal(t, DefaultRecommendation(entity.DimensionReadability), Instruction(report))
}

func TestGateFillsMissingDimensions(t *testing.T) {
	gate := NewGate(evaluatorFunc(func(context.Context, Input) (Evaluation, error) {
		return Evaluation{Scores: []entity.DimensionScore{{Dimension: entity.DimensionSEO, Score: 120}}}, nil
	}), nil, Config{})

	report, err := gate.Evaluate(context.Background(), Input{Draft: &entity.Draft{}}, 0, 1)
	require.NoError(t, err)
	require.Len(t, report.Dimensions, 5)
	assert.Equal(t, 100.0, report.Score(entity.DimensionSEO))
	assert.Equal(t, 25.0, report.Overall)
	for _, d := range report.Dimensions {
		assert.NotEmpty(t, d.Recommendation)
	}
}

type evaluatorFunc func(ctx context.Context, in Input) (Evaluation, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, in Input) (Evaluation, error) { return f(ctx, in) }

const gardenMarkdown = `# Garden Care Made Easy

A garden needs a bit of care each week. Here are the steps we use.

## Soil

Dig the soil well. Add some mulch on top. Pull weeds when you see them. Keep the beds neat and clean. Turn the top layer in the fall. Feed the ground with old leaves.

## Water

Water in the cool of the day. Soak the roots and not the leaves. Use a can or a soft hose. Check the soil with your hand first. Do not let pots sit in pools.

## Conclusion

Start with the soil and the rest will come. Pick one bed and give it a go this week.
`

func gardenInput() Input {
	return Input{
		Tenant: entity.NewTenant("t1", "Acme", entity.TierStarter),
		RunID:  "run-1",
		Brief: &entity.Brief{
			TitleOptions:    []string{"Garden Care Made Easy"},
			Outline:         []string{"Soil", "Water"},
			TargetKeywords:  []string{"garden"},
			MetaDescription: "Simple weekly garden care steps for soil and water that anyone can follow.",
		},
		Draft: &entity.Draft{
			Title:        "Garden Care Made Easy",
			Introduction: "A garden needs a bit of care each week. Here are the steps we use.",
			Markdown:     gardenMarkdown,
		},
	}
}

func TestMissingImageIsRecordedButApproved(t *testing.T) {
	corpus := &stubCorpus{}
	gate := NewGate(ScoringEvaluator{}, corpus, Config{})

	report, err := gate.Evaluate(context.Background(), gardenInput(), 0, 1)
	require.NoError(t, err)

	assert.Equal(t, "t1", corpus.tenantID)
	assert.Equal(t, "run-1", corpus.exclude)
	assert.True(t, report.HasDeduction(scoring.CheckImageAlt))
	for _, d := range report.Deductions {
		if d.Check == scoring.CheckImageAlt {
			assert.False(t, d.Blocking)
		}
	}
	assert.Equal(t, 90.0, report.Score(entity.DimensionSEO))
	assert.Equal(t, 96.0, report.Overall)
	assert.Equal(t, entity.DecisionApproved, report.Decision)
	assert.Equal(t, 1, report.Pass)
}

func TestOriginalityDropsAgainstPublishedCopy(t *testing.T) {
	gate := NewGate(ScoringEvaluator{}, &stubCorpus{texts: []string{gardenMarkdown}}, Config{})

	report, err := gate.Evaluate(context.Background(), gardenInput(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.Score(entity.DimensionOriginality))
	assert.Equal(t, entity.DecisionRegenerate, report.Decision)
	assert.Contains(t, Instruction(report), "Rephrase")
}
