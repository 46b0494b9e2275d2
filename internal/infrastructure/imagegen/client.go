// Package imagegen 图片生成与素材下载的 HTTP 实现
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"content-pipeline-api/internal/config"
	"content-pipeline-api/internal/workflow/port"
	"content-pipeline-api/pkg/metrics"
)

var tracer = otel.Tracer("imagegen")

// Client OpenAI 兼容的图片生成客户端
type Client struct {
	http     *http.Client
	endpoint string
	apiKey   string
	model    string
}

var _ port.ImageGenerator = (*Client)(nil)

// NewClient 创建图片生成客户端
func NewClient(cfg *config.ImageConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{http: httpClient, endpoint: cfg.Endpoint, apiKey: cfg.APIKey, model: cfg.Model}
}

type generateRequest struct {
	Model   string `json:"model,omitempty"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
}

type generateResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate 实现 port.ImageGenerator；限流、5xx 与网络错误包装为 port.ErrTransient
func (c *Client) Generate(ctx context.Context, req port.ImageRequest) (*port.ImageResult, error) {
	ctx, span := tracer.Start(ctx, "imagegen.Generate")
	defer span.End()

	res, err := c.generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		metrics.ExternalCallTotal.WithLabelValues("image", "error").Inc()
		return nil, err
	}
	metrics.ExternalCallTotal.WithLabelValues("image", "success").Inc()
	return res, nil
}

func (c *Client) generate(ctx context.Context, req port.ImageRequest) (*port.ImageResult, error) {
	body, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  req.Prompt,
		N:       1,
		Size:    req.Size,
		Quality: req.Quality,
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", port.ErrTransient, err)
	}
	defer resp.Body.Close()

	var out generateResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out)

	if err := statusError(resp.StatusCode, resp.Status); err != nil {
		if out.Error != nil && out.Error.Message != "" {
			return nil, fmt.Errorf("%w: %s", err, out.Error.Message)
		}
		return nil, err
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode image response: %w", decodeErr)
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return nil, fmt.Errorf("image response contained no url")
	}
	return &port.ImageResult{URL: out.Data[0].URL}, nil
}

// statusError 非 2xx 转换为错误，429 与 5xx 可重试
func statusError(code int, status string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: image provider returned %s", port.ErrTransient, status)
	default:
		return fmt.Errorf("image provider returned %s", status)
	}
}

// Fetcher 下载生成的图片
type Fetcher struct {
	http     *http.Client
	maxBytes int64
}

var _ port.AssetFetcher = (*Fetcher)(nil)

// NewFetcher 创建下载器，maxBytes 为单张图片的大小上限
func NewFetcher(httpClient *http.Client, maxBytes int64) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &Fetcher{http: httpClient, maxBytes: maxBytes}
}

// Fetch 实现 port.AssetFetcher
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "imagegen.Fetch")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: fetch image: %v", port.ErrTransient, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode, resp.Status); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read image: %v", port.ErrTransient, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", f.maxBytes)
	}
	return data, nil
}
