package scoring

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "for": {},
	"from": {}, "how": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "what": {}, "with": {}, "your": {}, "you": {}, "why": {},
}

// Tokenize 小写分词，丢弃停用词和单字符
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Words 不过滤停用词的分词
func Words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Sentences 按句末标点切分，忽略 markdown 标题行
func Sentences(s string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			out = append(out, t)
		}
		cur.Reset()
	}
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "![") {
			flush()
			continue
		}
		for _, r := range trimmed {
			cur.WriteRune(r)
			if r == '.' || r == '!' || r == '?' {
				flush()
			}
		}
		cur.WriteRune(' ')
	}
	flush()
	return out
}

// Syllables 英文音节数的元音组估计
func Syllables(word string) int {
	w := strings.ToLower(strings.Trim(word, "'"))
	if w == "" {
		return 0
	}
	count := 0
	prevVowel := false
	for _, r := range w {
		v := strings.ContainsRune("aeiouy", r)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}
	if strings.HasSuffix(w, "e") && !strings.HasSuffix(w, "le") && count > 1 {
		count--
	}
	if count == 0 {
		count = 1
	}
	return count
}

func containsPhrase(text, phrase string) bool {
	phrase = strings.TrimSpace(strings.ToLower(phrase))
	if phrase == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), phrase)
}

func countPhrase(text, phrase string) int {
	phrase = strings.TrimSpace(strings.ToLower(phrase))
	if phrase == "" {
		return 0
	}
	return strings.Count(strings.ToLower(text), phrase)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp100 截断到 [0,100]
func Clamp100(v float64) float64 {
	return clamp(v, 0, 100)
}
