package entity

// SignalMetrics 搜索能力返回的原始信号
type SignalMetrics struct {
	// VolumeDelta 搜索量变化百分比，例如 120 表示增长 120%
	VolumeDelta float64 `json:"volume_delta"`
	// Competition 竞争程度，取值 [0,1]
	Competition     float64  `json:"competition"`
	RelatedKeywords []string `json:"related_keywords,omitempty"`
}

// TrendCandidate 趋势候选
type TrendCandidate struct {
	Topic   string        `json:"topic"`
	Query   string        `json:"query"`
	Snippet string        `json:"snippet,omitempty"`
	URL     string        `json:"url,omitempty"`
	Metrics SignalMetrics `json:"metrics"`

	Relevance   float64 `json:"relevance"`
	Volume      float64 `json:"volume"`
	Competition float64 `json:"competition"`
	Gap         float64 `json:"gap"`
	Score       float64 `json:"score"`
}
