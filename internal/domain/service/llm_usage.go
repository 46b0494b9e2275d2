package service

import "context"

// LLMUsageInput 一次文本生成调用的可观测数据
type LLMUsageInput struct {
	TenantID string

	Workflow string
	Provider string
	Model    string

	PromptTokens     int
	CompletionTokens int
	DurationMs       int
	Status           string
}

// LLMUsageRecorder 记录 LLM 使用量，实现不应阻塞主流程
type LLMUsageRecorder interface {
	Record(ctx context.Context, in LLMUsageInput) error
}
