// Package scoring 提供趋势评分与内容质量子评分的纯函数
//
// 所有函数只依赖入参：无随机数、无时钟，相同输入总是得到相同输出。
package scoring

import (
	"sort"
	"strings"

	"content-pipeline-api/internal/domain/entity"
)

// 趋势评分权重
const (
	WeightRelevance   = 0.40
	WeightVolume      = 0.25
	WeightCompetition = 0.20
	WeightGap         = 0.15
)

// volumeDeltaCeiling 搜索量增长达到该百分比即记满分
const volumeDeltaCeiling = 200.0

// TrendBreakdown 趋势评分明细
type TrendBreakdown struct {
	Relevance   float64
	Volume      float64
	Competition float64
	Gap         float64
	Composite   float64
}

// TrendScore 计算趋势候选综合分，各子分均归一化到 [0,100]
func TrendScore(c entity.TrendCandidate, tenantTopics []string) TrendBreakdown {
	b := TrendBreakdown{
		Relevance:   relevance(c, tenantTopics),
		Volume:      Clamp100(c.Metrics.VolumeDelta / volumeDeltaCeiling * 100),
		Competition: Clamp100((1 - clamp(c.Metrics.Competition, 0, 1)) * 100),
		Gap:         contentGap(c, tenantTopics),
	}
	b.Composite = Clamp100(WeightRelevance*b.Relevance +
		WeightVolume*b.Volume +
		WeightCompetition*b.Competition +
		WeightGap*b.Gap)
	return b
}

// Apply 把评分写回候选
func Apply(c entity.TrendCandidate, tenantTopics []string) entity.TrendCandidate {
	b := TrendScore(c, tenantTopics)
	c.Relevance = b.Relevance
	c.Volume = b.Volume
	c.Competition = b.Competition
	c.Gap = b.Gap
	c.Score = b.Composite
	return c
}

// Rank 按综合分降序排列，分数相同按主题字典序
func Rank(cands []entity.TrendCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Topic < cands[j].Topic
	})
}

// relevance 租户主题词在候选文本中的最大覆盖率
func relevance(c entity.TrendCandidate, topics []string) float64 {
	cand := tokenSet(c.Topic + " " + c.Snippet + " " + strings.Join(c.Metrics.RelatedKeywords, " "))
	best := 0.0
	for _, topic := range topics {
		toks := Tokenize(topic)
		if len(toks) == 0 {
			continue
		}
		hit := 0
		for _, t := range toks {
			if _, ok := cand[t]; ok {
				hit++
			}
		}
		if r := float64(hit) / float64(len(toks)); r > best {
			best = r
		}
	}
	return Clamp100(best * 100)
}

// contentGap 相关关键词中租户主题尚未覆盖的比例，无相关词时取中值
func contentGap(c entity.TrendCandidate, topics []string) float64 {
	if len(c.Metrics.RelatedKeywords) == 0 {
		return 50
	}
	covered := tokenSet(strings.Join(topics, " "))
	uncovered := 0
	for _, kw := range c.Metrics.RelatedKeywords {
		toks := Tokenize(kw)
		if len(toks) == 0 {
			continue
		}
		novel := false
		for _, t := range toks {
			if _, ok := covered[t]; !ok {
				novel = true
				break
			}
		}
		if novel {
			uncovered++
		}
	}
	return Clamp100(float64(uncovered) / float64(len(c.Metrics.RelatedKeywords)) * 100)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokenize(s) {
		set[t] = struct{}{}
	}
	return set
}
