// Package search 趋势搜索能力的 HTTP 实现
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"content-pipeline-api/internal/config"
	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/workflow/port"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/metrics"
)

var tracer = otel.Tracer("search")

// Client 搜索客户端，提供方出错时返回空结果
type Client struct {
	http       *http.Client
	endpoint   string
	apiKey     string
	maxResults int
}

var _ port.SearchClient = (*Client)(nil)

// NewClient 创建搜索客户端
func NewClient(cfg *config.SearchConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		http:       httpClient,
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		maxResults: cfg.MaxResults,
	}
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchHit struct {
	Title           string   `json:"title"`
	Snippet         string   `json:"snippet"`
	URL             string   `json:"url"`
	VolumeDelta     float64  `json:"volume_delta"`
	Competition     float64  `json:"competition"`
	RelatedKeywords []string `json:"related_keywords"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
}

// Search 实现 port.SearchClient
func (c *Client) Search(ctx context.Context, req port.SearchRequest) port.SearchResponse {
	ctx, span := tracer.Start(ctx, "search.Search")
	defer span.End()
	span.SetAttributes(attribute.String("search.query", req.Query))

	hits, err := c.do(ctx, req)
	if err != nil {
		span.RecordError(err)
		metrics.ExternalCallTotal.WithLabelValues("search", "error").Inc()
		logger.Warn(ctx, "search provider failed", "query", req.Query, "error", err.Error())
		return port.SearchResponse{Failed: true, Reason: err.Error()}
	}
	metrics.ExternalCallTotal.WithLabelValues("search", "success").Inc()

	results := make([]port.SearchResult, 0, len(hits))
	for _, h := range hits {
		title := PlainText(h.Title)
		if title == "" {
			continue
		}
		results = append(results, port.SearchResult{
			Title:   title,
			Snippet: PlainText(h.Snippet),
			URL:     strings.TrimSpace(h.URL),
			Metrics: entity.SignalMetrics{
				VolumeDelta:     h.VolumeDelta,
				Competition:     h.Competition,
				RelatedKeywords: h.RelatedKeywords,
			},
		})
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	return port.SearchResponse{Results: results}
}

func (c *Client) do(ctx context.Context, req port.SearchRequest) ([]searchHit, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("search endpoint not configured")
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = c.maxResults
	}
	body, err := json.Marshal(searchRequest{Query: req.Query, MaxResults: limit})
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
		return nil, fmt.Errorf("request search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search returned %s", resp.Status)
	}

	var out searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if limit > 0 && len(out.Results) > limit {
		out.Results = out.Results[:limit]
	}
	return out.Results, nil
}

// PlainText 去掉搜索片段里的 HTML 标记并折叠空白
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
