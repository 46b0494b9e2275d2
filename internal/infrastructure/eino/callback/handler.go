package callback

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"content-pipeline-api/internal/domain/service"
	"content-pipeline-api/pkg/logger"
)

type callState struct {
	start time.Time
	model string
}

type callStateKey struct{}

func newChatModelCallbackHandler(usageRecorder service.LLMUsageRecorder) *cbtemplate.ModelCallbackHandler {
	return &cbtemplate.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			state := &callState{start: time.Now(), model: modelNameFromInput(input)}
			ctx = context.WithValue(ctx, callStateKey{}, state)

			attrs := []attribute.KeyValue{
				attribute.String("eino.workflow", service.WorkflowFromContext(ctx)),
				attribute.String("llm.model_class", string(service.ModelClassFromContext(ctx))),
				attribute.String("llm.model", state.model),
			}
			if info != nil {
				attrs = append(attrs,
					attribute.String("eino.node_name", info.Name),
					attribute.String("eino.type", info.Type),
				)
			}

			ctx, _ = otel.Tracer("eino").Start(ctx, "eino.chat_model", trace.WithAttributes(attrs...))
			return ctx
		},

		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			in := usageInput(ctx, info, "success")
			if name := modelNameFromOutput(output); name != "" {
				in.Model = name
			}
			if output != nil && output.TokenUsage != nil {
				in.PromptTokens = output.TokenUsage.PromptTokens
				in.CompletionTokens = output.TokenUsage.CompletionTokens
			}
			record(ctx, usageRecorder, in)

			span := trace.SpanFromContext(ctx)
			span.SetAttributes(
				attribute.Int("llm.prompt_tokens", in.PromptTokens),
				attribute.Int("llm.completion_tokens", in.CompletionTokens),
			)
			span.End()
			return ctx
		},

		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			record(ctx, usageRecorder, usageInput(ctx, info, "error"))

			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return ctx
		},
	}
}

func usageInput(ctx context.Context, info *einocb.RunInfo, status string) service.LLMUsageInput {
	in := service.LLMUsageInput{
		TenantID: service.TenantFromContext(ctx),
		Workflow: service.WorkflowFromContext(ctx),
		Status:   status,
	}
	if info != nil {
		in.Provider = info.Type
	}
	if state, ok := ctx.Value(callStateKey{}).(*callState); ok {
		in.Model = state.model
		in.DurationMs = int(time.Since(state.start).Milliseconds())
	}
	return in
}

// record 用量记录失败只写日志，不影响生成结果
func record(ctx context.Context, recorder service.LLMUsageRecorder, in service.LLMUsageInput) {
	if recorder == nil {
		return
	}
	if err := recorder.Record(ctx, in); err != nil {
		logger.Warn(ctx, "failed to record llm usage", "error", err.Error(), "workflow", in.Workflow)
	}
}

func modelNameFromInput(in *model.CallbackInput) string {
	if in == nil || in.Config == nil {
		return ""
	}
	return in.Config.Model
}

func modelNameFromOutput(out *model.CallbackOutput) string {
	if out == nil || out.Config == nil {
		return ""
	}
	return out.Config.Model
}
