package assembly

import (
	"fmt"
	"regexp"
	"strings"

	"content-pipeline-api/internal/domain/entity"
)

var (
	headingLineRe = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

// Consolidate 按源顺序拼接标题、引言、各章节与结语
func Consolidate(d *entity.Draft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", d.Title)
	if d.Introduction != "" {
		b.WriteString(strings.TrimSpace(d.Introduction))
		b.WriteString("\n\n")
	}
	for _, s := range d.Sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.Heading, strings.TrimSpace(s.Body))
	}
	if d.Conclusion != "" {
		fmt.Fprintf(&b, "## Conclusion\n\n%s\n", strings.TrimSpace(d.Conclusion))
	}
	return b.String()
}

// Optimize 确定性的 SEO 结构调整：标题层级规范化、主关键词前置；不改动事实内容
func Optimize(d *entity.Draft, brief *entity.Brief) {
	lines := strings.Split(d.Markdown, "\n")
	seenH1 := false
	for i, line := range lines {
		if !headingLineRe.MatchString(line) {
			continue
		}
		level := len(line) - len(strings.TrimLeft(line, "#"))
		text := normalizeHeadingText(strings.TrimLeft(line, "#"))
		if text == "" {
			continue
		}
		switch {
		case level == 1 && !seenH1:
			seenH1 = true
		case level <= 2:
			level = 2
		default:
			level = 3
		}
		lines[i] = strings.Repeat("#", level) + " " + text
	}
	md := strings.Join(lines, "\n")

	if kw := brief.PrimaryKeyword(); kw != "" && !strings.Contains(strings.ToLower(firstWords(d.Introduction, 100)), strings.ToLower(kw)) {
		lead := fmt.Sprintf("This article looks at %s.", kw)
		if d.Introduction != "" {
			md = strings.Replace(md, strings.TrimSpace(d.Introduction), lead+" "+strings.TrimSpace(d.Introduction), 1)
			d.Introduction = lead + " " + strings.TrimSpace(d.Introduction)
		}
	}

	d.Markdown = strings.TrimSpace(blankRunRe.ReplaceAllString(md, "\n\n")) + "\n"
}

// demoteHeadings 生成内容中的标题降为三级，避免打乱文章结构
func demoteHeadings(body string) string {
	return headingLineRe.ReplaceAllString(strings.TrimSpace(body), "### ")
}

func normalizeHeadingText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ":.")
	return strings.Join(strings.Fields(s), " ")
}

func firstWords(s string, n int) string {
	f := strings.Fields(s)
	if len(f) > n {
		f = f[:n]
	}
	return strings.Join(f, " ")
}
