package entity

import "strings"

// SectionSpec 大纲展开后的章节规格
type SectionSpec struct {
	Heading     string   `json:"heading"`
	KeyPoints   []string `json:"key_points,omitempty"`
	TargetWords int      `json:"target_words,omitempty"`
}

// Section 已生成章节
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Draft 草稿
//
// 只由内容组装阶段修改；质量门与视觉阶段只读。
type Draft struct {
	Title        string        `json:"title"`
	Specs        []SectionSpec `json:"specs,omitempty"`
	Sections     []Section     `json:"sections"`
	Introduction string        `json:"introduction"`
	Conclusion   string        `json:"conclusion"`
	Markdown     string        `json:"markdown"`
	WordCount    int           `json:"word_count"`
	Revision     int           `json:"revision"`
}

// CoreText 章节正文拼接，用于主题提取
func (d *Draft) CoreText() string {
	var b strings.Builder
	for _, s := range d.Sections {
		b.WriteString(s.Heading)
		b.WriteString("\n")
		b.WriteString(s.Body)
		b.WriteString("\n\n")
	}
	return b.String()
}

// Text 最终正文，未合并时退化为各部分拼接
func (d *Draft) Text() string {
	if d.Markdown != "" {
		return d.Markdown
	}
	return d.Introduction + "\n\n" + d.CoreText() + d.Conclusion
}

// Clone 深拷贝
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Specs = append([]SectionSpec(nil), d.Specs...)
	cp.Sections = append([]Section(nil), d.Sections...)
	return &cp
}

// CountWords 统计词数
func CountWords(text string) int {
	return len(strings.Fields(text))
}
