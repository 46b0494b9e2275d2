// Package llm 基于 Eino 的文本生成实现
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"content-pipeline-api/internal/config"
	"content-pipeline-api/internal/workflow/port"
)

// EinoFactory 每个提供方首次使用时创建一个 OpenAI 兼容的 ChatModel，之后复用
type EinoFactory struct {
	defaultProvider string
	providers       map[string]config.ProviderConfig

	mu      sync.Mutex
	entries map[string]*modelEntry
}

type modelEntry struct {
	once  sync.Once
	model model.BaseChatModel
	err   error
}

var _ port.ChatModels = (*EinoFactory)(nil)

// NewEinoFactory 创建工厂
func NewEinoFactory(cfg *config.LLMConfig) *EinoFactory {
	return &EinoFactory{
		defaultProvider: cfg.DefaultProvider,
		providers:       cfg.Providers,
		entries:         make(map[string]*modelEntry),
	}
}

func (f *EinoFactory) resolve(name string) string {
	if name == "" {
		return f.defaultProvider
	}
	return name
}

// Get 返回提供方的 ChatModel，name 为空时使用默认提供方；创建失败会被缓存
func (f *EinoFactory) Get(ctx context.Context, name string) (model.BaseChatModel, error) {
	name = f.resolve(name)
	pc, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found in LLM config", name)
	}

	f.mu.Lock()
	e, ok := f.entries[name]
	if !ok {
		e = &modelEntry{}
		f.entries[name] = e
	}
	f.mu.Unlock()

	e.once.Do(func() {
		e.model, e.err = newChatModel(ctx, pc)
		if e.err != nil {
			e.err = fmt.Errorf("failed to create chat model for %s: %w", name, e.err)
		}
	})
	return e.model, e.err
}

// ModelName 提供方配置的模型名
func (f *EinoFactory) ModelName(name string) string {
	return f.providers[f.resolve(name)].Model
}

func newChatModel(ctx context.Context, pc config.ProviderConfig) (model.BaseChatModel, error) {
	cfg := &openai.ChatModelConfig{
		APIKey:  pc.APIKey,
		BaseURL: pc.BaseURL,
		Model:   pc.Model,
		Timeout: pc.Timeout,
	}
	if pc.MaxTokens > 0 {
		maxTokens := pc.MaxTokens
		cfg.MaxTokens = &maxTokens
	}
	if pc.Temperature > 0 {
		temp := float32(pc.Temperature)
		cfg.Temperature = &temp
	}
	return openai.NewChatModel(ctx, cfg)
}
