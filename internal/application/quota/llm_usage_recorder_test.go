package quota

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-pipeline-api/internal/domain/service"
	"content-pipeline-api/pkg/metrics"
)

func TestRecordAccumulatesWorkflowTokens(t *testing.T) {
	r := NewLLMUsageRecorder()
	prompt := metrics.LLMWorkflowTokens.WithLabelValues("assembly", "prompt")
	before := testutil.ToFloat64(prompt)
	calls := testutil.ToFloat64(metrics.LLMWorkflowCalls.WithLabelValues("assembly", "success"))

	require.NoError(t, r.Record(context.Background(), service.LLMUsageInput{
		TenantID:         "t1",
		Workflow:         "assembly",
		PromptTokens:     120,
		CompletionTokens: 40,
	}))

	assert.Equal(t, before+120, testutil.ToFloat64(prompt))
	assert.Equal(t, calls+1, testutil.ToFloat64(metrics.LLMWorkflowCalls.WithLabelValues("assembly", "success")))
}

func TestRecordRejectsNegativeUsage(t *testing.T) {
	err := NewLLMUsageRecorder().Record(context.Background(), service.LLMUsageInput{PromptTokens: -1})
	assert.Error(t, err)
}

func TestRecordDefaultsWorkflowLabel(t *testing.T) {
	before := testutil.ToFloat64(metrics.LLMWorkflowCalls.WithLabelValues("unknown", "error"))
	require.NoError(t, NewLLMUsageRecorder().Record(context.Background(), service.LLMUsageInput{Status: "error"}))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LLMWorkflowCalls.WithLabelValues("unknown", "error")))
}
