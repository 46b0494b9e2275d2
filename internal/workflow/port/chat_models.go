package port

import (
	"context"

	"github.com/cloudwego/eino/components/model"
)

// ChatModels 按提供方名称解析 ChatModel
type ChatModels interface {
	Get(ctx context.Context, provider string) (model.BaseChatModel, error)
	// ModelName 提供方实际调用的模型，用于指标与用量记录；未知时返回空串
	ModelName(provider string) string
}
