// Package messaging 基于 Redis Stream 的运行调度队列
package messaging

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// 消息类型
const (
	TypeRunExecute   = "run.execute"
	TypeRunRedeliver = "run.redeliver"

	TypeTenantTierChanged = "tenant.tier_changed"
	TypeTenantDeactivated = "tenant.deactivated"
)

// TierChangedPayload 等级变更事件载荷
type TierChangedPayload struct {
	Tier string `json:"tier"`
}

// permanentError 重试无法修复的处理失败
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记处理失败不可重试，消费者会直接转入死信队列
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 是否为不可重试的失败
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Message 调度流中的一条命令或事件，序列化后存放在条目的 data 字段
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	TenantID  string            `json:"tenant_id"`
	RunID     string            `json:"run_id,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMessage payload 为 nil 时不带载荷
func NewMessage(id, msgType, tenantID, runID string, payload interface{}) (*Message, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Message{
		ID:        id,
		Type:      msgType,
		TenantID:  tenantID,
		RunID:     runID,
		Payload:   raw,
		Metadata:  map[string]string{},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key, value string) {
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata[key] = value
}

// GetMetadata 读取元数据，nil map 返回空串
func (m *Message) GetMetadata(key string) string {
	return m.Metadata[key]
}

// UnmarshalPayload 解析消息载荷
func (m *Message) UnmarshalPayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return errors.New("message has no payload")
	}
	return json.Unmarshal(m.Payload, v)
}

// DeadLetter 死信流条目
type DeadLetter struct {
	OriginalStream string   `json:"original_stream"`
	Message        *Message `json:"data"`
	Error          string   `json:"error"`
	FailedAt       int64    `json:"failed_at"`
}

// Stream 流定义
type Stream string

// StreamPipelineRuns 运行调度流
const StreamPipelineRuns Stream = "stream:pipeline:runs"

// DLQStream 获取对应的死信队列流名称
func (s Stream) DLQStream() string {
	return "dlq:" + string(s)
}

// ConsumerGroup 消费者组定义
type ConsumerGroup string

// ConsumerGroupPipelineWorker 流水线 worker 消费者组
const ConsumerGroupPipelineWorker ConsumerGroup = "cg-pipeline-worker"

// GroupFor 按配置前缀生成消费者组名
func GroupFor(prefix, name string) ConsumerGroup {
	if prefix == "" {
		prefix = "cg"
	}
	return ConsumerGroup(prefix + "-" + name)
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoffConfig 默认退避配置
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
	}
}

// CalculateBackoff 第 n 次重投前的等待时间：Initial * Multiplier^n，不超过 Max
func (c BackoffConfig) CalculateBackoff(n int) time.Duration {
	if n <= 0 || c.Multiplier <= 1 {
		return c.Initial
	}
	d := float64(c.Initial) * math.Pow(c.Multiplier, float64(n))
	if c.Max > 0 && d >= float64(c.Max) {
		return c.Max
	}
	return time.Duration(d)
}
