// Package port 定义流水线阶段对外部能力的最小依赖
package port

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"

	"content-pipeline-api/internal/domain/entity"
)

var (
	// ErrTransient 可重试的提供方错误（超时、限流、5xx）
	ErrTransient = errors.New("transient provider error")
	// ErrMalformedOutput 输出结构不符合约定，不可重试，由阶段执行各自的回退
	ErrMalformedOutput = errors.New("malformed model output")
)

// IsTransient 分类函数，供 retry.Policy 使用
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// GenerateRequest 文本生成请求
type GenerateRequest struct {
	Messages    []*schema.Message
	Temperature float32
	MaxTokens   int
}

// GenerateResponse 文本生成结果
type GenerateResponse struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// TextGenerator 文本生成能力
type TextGenerator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// SearchRequest 搜索请求
type SearchRequest struct {
	Query      string
	MaxResults int
}

// SearchResult 单条搜索结果
type SearchResult struct {
	Title   string
	Snippet string
	URL     string
	Metrics entity.SignalMetrics
}

// SearchResponse 搜索结果；Failed 表示提供方出错后按空结果返回
type SearchResponse struct {
	Results []SearchResult
	Failed  bool
	Reason  string
}

// SearchClient 搜索能力，出错时必须返回空结果而不是错误
type SearchClient interface {
	Search(ctx context.Context, req SearchRequest) SearchResponse
}

// ImageRequest 图片生成请求
type ImageRequest struct {
	Prompt  string
	Size    string
	Quality string
}

// ImageResult 图片生成结果
type ImageResult struct {
	URL string
}

// ImageGenerator 图片生成能力
type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

// AssetFetcher 下载生成的图片
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ObjectMeta 上传元数据
type ObjectMeta struct {
	Key         string
	ContentType string
	TenantID    string
	RunID       string
	Attributes  map[string]string
}

// StorageUploader 对象存储能力
type StorageUploader interface {
	Upload(ctx context.Context, data []byte, meta ObjectMeta) (string, error)
}
