package entity

import (
	"fmt"
	"strings"
)

// SearchIntent 搜索意图
type SearchIntent string

const (
	IntentInformational SearchIntent = "informational"
	IntentCommercial    SearchIntent = "commercial"
	IntentTransactional SearchIntent = "transactional"
	IntentNavigational  SearchIntent = "navigational"
)

// Brief 内容简报
//
// 交给内容组装阶段后不再修改；一个 Brief 对应一个 Run。
type Brief struct {
	Topic             string       `json:"topic"`
	TitleOptions      []string     `json:"title_options"`
	Outline           []string     `json:"outline"`
	TargetKeywords    []string     `json:"target_keywords"`
	SecondaryKeywords []string     `json:"secondary_keywords,omitempty"`
	SearchIntent      SearchIntent `json:"search_intent,omitempty"`
	MetaDescription   string       `json:"meta_description,omitempty"`
	ContentType       string       `json:"content_type,omitempty"`
}

// BriefValidationError 简报结构校验失败
type BriefValidationError struct {
	Missing []string
}

func (e *BriefValidationError) Error() string {
	return fmt.Sprintf("brief missing required fields: %s", strings.Join(e.Missing, ", "))
}

// Validate 校验必填字段：标题至少一个、大纲非空、关键词非空
func (b *Brief) Validate() error {
	var missing []string
	if countNonBlank(b.TitleOptions) == 0 {
		missing = append(missing, "title_options")
	}
	if countNonBlank(b.Outline) == 0 {
		missing = append(missing, "outline")
	}
	if countNonBlank(b.TargetKeywords) == 0 {
		missing = append(missing, "target_keywords")
	}
	if len(missing) > 0 {
		return &BriefValidationError{Missing: missing}
	}
	return nil
}

// Title 首选标题
func (b *Brief) Title() string {
	for _, t := range b.TitleOptions {
		if s := strings.TrimSpace(t); s != "" {
			return s
		}
	}
	return b.Topic
}

// PrimaryKeyword 主关键词
func (b *Brief) PrimaryKeyword() string {
	for _, k := range b.TargetKeywords {
		if s := strings.TrimSpace(k); s != "" {
			return s
		}
	}
	return ""
}

// Sections 去除空白后的大纲
func (b *Brief) Sections() []string {
	out := make([]string, 0, len(b.Outline))
	for _, s := range b.Outline {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func countNonBlank(items []string) int {
	n := 0
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}
