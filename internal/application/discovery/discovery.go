// Package discovery 实现趋势发现阶段
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"content-pipeline-api/internal/application/scoring"
	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/domain/service"
	"content-pipeline-api/internal/workflow/port"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/metrics"
)

// DefaultModifiers 查询修饰词
var DefaultModifiers = []string{"trends", "guide", "statistics", "best practices", "tools", "mistakes"}

// Config 发现阶段配置
type Config struct {
	MaxResultsPerQuery int
	QueryTimeout       time.Duration
	Parallelism        int
	Modifiers          []string
}

func (c *Config) withDefaults() {
	if c.MaxResultsPerQuery <= 0 {
		c.MaxResultsPerQuery = 10
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if len(c.Modifiers) == 0 {
		c.Modifiers = DefaultModifiers
	}
}

// Stage 趋势发现
type Stage struct {
	search port.SearchClient
	cfg    Config
}

// NewStage 创建发现阶段
func NewStage(search port.SearchClient, cfg Config) *Stage {
	cfg.withDefaults()
	return &Stage{search: search, cfg: cfg}
}

// BuildQueries 主题与修饰词的笛卡尔积，按修饰词外层展开以便每个主题优先获得配额，上限为 limit 且不超过 10
func BuildQueries(topics, modifiers []string, limit int) []string {
	if limit <= 0 || limit > entity.MaxQueryFanOut {
		limit = entity.MaxQueryFanOut
	}
	seen := make(map[string]struct{})
	var out []string
	for _, m := range modifiers {
		for _, t := range topics {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			q := strings.TrimSpace(t + " " + m)
			key := strings.ToLower(q)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, q)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

// Discover 执行查询并返回排名前 n 的候选
//
// 单个查询失败只记录并丢弃；没有任何候选时返回 discovery_empty。
func (s *Stage) Discover(ctx context.Context, tenant *entity.Tenant, n int) ([]entity.TrendCandidate, error) {
	if n <= 0 {
		n = 1
	}
	topics := []string(tenant.Topics)
	queries := BuildQueries(topics, s.cfg.Modifiers, tenant.Limits().MaxQueries)
	if len(queries) == 0 {
		return nil, service.NewStageError(entity.StageDiscovering, entity.ReasonDiscoveryEmpty, service.KindStructural,
			fmt.Errorf("tenant %s has no topics", tenant.ID))
	}

	results := make([][]port.SearchResult, len(queries))
	var dropped int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, q := range queries {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, s.cfg.QueryTimeout)
			defer cancel()

			resp := s.search.Search(callCtx, port.SearchRequest{Query: q, MaxResults: s.cfg.MaxResultsPerQuery})
			if resp.Failed {
				metrics.ExternalCallTotal.WithLabelValues("search", "dropped").Inc()
				logger.Warn(ctx, "search query dropped", "query", q, "reason", resp.Reason)
				mu.Lock()
				dropped++
				mu.Unlock()
				return nil
			}
			metrics.ExternalCallTotal.WithLabelValues("search", "ok").Inc()
			results[i] = resp.Results
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cands := s.rank(queries, results, topics)
	logger.Info(ctx, "trend discovery finished",
		"queries", len(queries),
		"dropped", dropped,
		"candidates", len(cands),
	)
	if len(cands) == 0 {
		return nil, service.NewStageError(entity.StageDiscovering, entity.ReasonDiscoveryEmpty, service.KindStructural,
			fmt.Errorf("no candidates survived %d queries (%d dropped)", len(queries), dropped))
	}
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands, nil
}

// rank 解析、评分、按主题去重后排序
func (s *Stage) rank(queries []string, results [][]port.SearchResult, topics []string) []entity.TrendCandidate {
	best := make(map[string]entity.TrendCandidate)
	for i, rs := range results {
		for _, r := range rs {
			c, ok := parseCandidate(queries[i], r)
			if !ok {
				continue
			}
			c = scoring.Apply(c, topics)
			key := strings.ToLower(c.Topic)
			if prev, exists := best[key]; !exists || c.Score > prev.Score {
				best[key] = c
			}
		}
	}
	out := make([]entity.TrendCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	scoring.Rank(out)
	return out
}

func parseCandidate(query string, r port.SearchResult) (entity.TrendCandidate, bool) {
	topic := strings.TrimSpace(r.Title)
	if topic == "" {
		topic = strings.TrimSpace(r.Snippet)
	}
	if topic == "" {
		return entity.TrendCandidate{}, false
	}
	return entity.TrendCandidate{
		Topic:   topic,
		Query:   query,
		Snippet: strings.TrimSpace(r.Snippet),
		URL:     r.URL,
		Metrics: r.Metrics,
	}, true
}
