package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"content-pipeline-api/internal/application/pipeline"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/tracer"
)

var otelTracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	stream Stream
	maxLen int64
}

var _ pipeline.Dispatcher = (*Producer)(nil)

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, stream Stream, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	if stream == "" {
		stream = StreamPipelineRuns
	}
	return &Producer{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Publish 发布消息到调度流
func (p *Producer) Publish(ctx context.Context, msg *Message) (string, error) {
	ctx, span := otelTracer.Start(ctx, "producer.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("stream", string(p.stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	if msg.Metadata == nil {
		msg.Metadata = make(map[string]string)
	}
	tracer.Inject(ctx, msg.Metadata)

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(p.stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// DispatchExecute 实现 pipeline.Dispatcher
func (p *Producer) DispatchExecute(ctx context.Context, tenantID, runID string) error {
	return p.publishRun(ctx, TypeRunExecute, tenantID, runID)
}

// DispatchRedeliver 实现 pipeline.Dispatcher
func (p *Producer) DispatchRedeliver(ctx context.Context, tenantID, runID string) error {
	return p.publishRun(ctx, TypeRunRedeliver, tenantID, runID)
}

// PublishTierChanged 发布租户等级变更事件
func (p *Producer) PublishTierChanged(ctx context.Context, tenantID, tier string) error {
	return p.publish(ctx, TypeTenantTierChanged, tenantID, "", TierChangedPayload{Tier: tier})
}

// PublishDeactivated 发布租户停用事件
func (p *Producer) PublishDeactivated(ctx context.Context, tenantID string) error {
	return p.publish(ctx, TypeTenantDeactivated, tenantID, "", nil)
}

func (p *Producer) publishRun(ctx context.Context, msgType, tenantID, runID string) error {
	return p.publish(ctx, msgType, tenantID, runID, nil)
}

func (p *Producer) publish(ctx context.Context, msgType, tenantID, runID string, payload interface{}) error {
	msg, err := NewMessage(ulid.Make().String(), msgType, tenantID, runID, payload)
	if err != nil {
		return err
	}
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok && reqID != "" {
		msg.SetMetadata("request_id", reqID)
	}
	if traceID := tracer.TraceID(ctx); traceID != "" {
		msg.SetMetadata("trace_id", traceID)
	}
	_, err = p.Publish(ctx, msg)
	return err
}
