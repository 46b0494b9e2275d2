package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"content-pipeline-api/internal/domain/entity"
)

// SubScore 单维度评估结果
type SubScore struct {
	Score          float64
	Deductions     []entity.Deduction
	Recommendation string
}

func (s *SubScore) deduct(dim entity.QualityDimension, check string, points float64, blocking bool, reason string) {
	s.Deductions = append(s.Deductions, entity.Deduction{
		Dimension: dim,
		Check:     check,
		Points:    points,
		Reason:    reason,
		Blocking:  blocking,
	})
}

// BrandConsistency 品牌一致性：品牌关键词覆盖、禁用词、篇幅偏差
func BrandConsistency(text string, brand entity.BrandProfile) SubScore {
	var s SubScore
	dim := entity.DimensionBrand
	score := 100.0

	if len(brand.Keywords) > 0 {
		var missing []string
		for _, kw := range brand.Keywords {
			if !containsPhrase(text, kw) {
				missing = append(missing, kw)
			}
		}
		coverage := 1 - float64(len(missing))/float64(len(brand.Keywords))
		if len(missing) > 0 {
			pts := 40 * (1 - coverage)
			score -= pts
			s.deduct(dim, "brand_keywords", pts, true, "missing brand keywords: "+strings.Join(missing, ", "))
			s.Recommendation = "Work the brand keywords " + strings.Join(missing, ", ") + " naturally into the body."
		}
	}

	banned := 0
	var hits []string
	for _, term := range brand.BannedTerms {
		if n := countPhrase(text, term); n > 0 {
			banned++
			hits = append(hits, term)
		}
	}
	if banned > 0 {
		pts := math.Min(45, float64(banned)*15)
		score -= pts
		s.deduct(dim, "banned_terms", pts, true, "uses banned terms: "+strings.Join(hits, ", "))
		s.Recommendation = "Remove the terms " + strings.Join(hits, ", ") + " which the brand does not use."
	}

	if brand.DesiredLength > 0 {
		wc := float64(entity.CountWords(text))
		dev := math.Abs(wc-float64(brand.DesiredLength)) / float64(brand.DesiredLength)
		if pts := clamp((dev-0.2)*50, 0, 20); pts > 0 {
			score -= pts
			s.deduct(dim, "length", pts, true, fmt.Sprintf("%.0f words against a target of %d", wc, brand.DesiredLength))
			if s.Recommendation == "" {
				s.Recommendation = fmt.Sprintf("Bring the article closer to %d words.", brand.DesiredLength)
			}
		}
	}

	if s.Recommendation == "" && brand.Voice != "" {
		s.Recommendation = "Keep the " + brand.Voice + " voice consistent across every section."
	}
	s.Score = Clamp100(score)
	return s
}

// SEO 检查项分值
const (
	seoTitleKeyword    = 20.0
	seoIntroKeyword    = 15.0
	seoDensity         = 20.0
	seoSecondary       = 15.0
	seoHeadings        = 10.0
	seoMeta            = 10.0
	seoImageAlt        = 10.0
	CheckImageAlt      = "image_alt"
	introWindowWords   = 100
	densityLow         = 0.005
	densityHigh        = 0.025
	metaMinLen         = 50
	metaMaxLen         = 160
	minSectionHeadings = 2
)

var headingRe = regexp.MustCompile(`(?m)^##\s+\S`)

// SEOInput SEO 评估输入
type SEOInput struct {
	Title        string
	Markdown     string
	Introduction string
	Brief        entity.Brief
	Image        *entity.ImageAsset
}

// SEOCompliance SEO 合规：缺少图片只记录不拦截的扣分
func SEOCompliance(in SEOInput) SubScore {
	var s SubScore
	dim := entity.DimensionSEO
	score := 0.0
	kw := in.Brief.PrimaryKeyword()
	var recs []string

	if containsPhrase(in.Title, kw) {
		score += seoTitleKeyword
	} else {
		s.deduct(dim, "title_keyword", seoTitleKeyword, true, "title does not contain the primary keyword")
		recs = append(recs, "put the primary keyword \""+kw+"\" in the title")
	}

	intro := in.Introduction
	if intro == "" {
		intro = in.Markdown
	}
	introWords := Words(intro)
	if len(introWords) > introWindowWords {
		introWords = introWords[:introWindowWords]
	}
	if containsPhrase(strings.Join(introWords, " "), kw) {
		score += seoIntroKeyword
	} else {
		s.deduct(dim, "intro_keyword", seoIntroKeyword, true, "primary keyword missing from the opening")
		recs = append(recs, "mention \""+kw+"\" in the first paragraph")
	}

	total := len(Words(in.Markdown))
	density := 0.0
	if total > 0 {
		density = float64(countPhrase(in.Markdown, kw)*len(Words(kw))) / float64(total)
	}
	switch {
	case density >= densityLow && density <= densityHigh:
		score += seoDensity
	case density > 0:
		score += seoDensity / 2
		s.deduct(dim, "keyword_density", seoDensity/2, true, fmt.Sprintf("keyword density %.2f%% outside 0.5%%-2.5%%", density*100))
		recs = append(recs, "adjust keyword density toward 1-2%")
	default:
		s.deduct(dim, "keyword_density", seoDensity, true, "primary keyword absent from body")
		recs = append(recs, "use the primary keyword in the body")
	}

	if sec := in.Brief.SecondaryKeywords; len(sec) > 0 {
		hit := 0
		for _, k := range sec {
			if containsPhrase(in.Markdown, k) {
				hit++
			}
		}
		if hit*2 >= len(sec) {
			score += seoSecondary
		} else {
			s.deduct(dim, "secondary_keywords", seoSecondary, true, fmt.Sprintf("%d of %d secondary keywords used", hit, len(sec)))
			recs = append(recs, "cover more secondary keywords")
		}
	} else {
		score += seoSecondary
	}

	if len(headingRe.FindAllString(in.Markdown, -1)) >= minSectionHeadings {
		score += seoHeadings
	} else {
		s.deduct(dim, "headings", seoHeadings, true, "fewer than two section headings")
		recs = append(recs, "structure the body with H2 section headings")
	}

	if n := len([]rune(in.Brief.MetaDescription)); n >= metaMinLen && n <= metaMaxLen {
		score += seoMeta
	} else {
		s.deduct(dim, "meta_description", seoMeta, true, fmt.Sprintf("meta description length %d outside %d-%d", n, metaMinLen, metaMaxLen))
	}

	switch {
	case in.Image == nil:
		s.deduct(dim, CheckImageAlt, seoImageAlt, false, "no image asset was produced")
	case strings.TrimSpace(in.Image.AltText) == "":
		s.deduct(dim, CheckImageAlt, seoImageAlt, true, "image has no alt text")
	default:
		score += seoImageAlt
	}

	if len(recs) > 0 {
		s.Recommendation = "Improve SEO: " + strings.Join(recs, "; ") + "."
	}
	s.Score = Clamp100(score)
	return s
}

// FleschReadingEase Flesch 易读性指数
func FleschReadingEase(text string) float64 {
	sentences := Sentences(text)
	words := Words(text)
	if len(sentences) == 0 || len(words) == 0 {
		return 0
	}
	syllables := 0
	for _, w := range words {
		syllables += Syllables(w)
	}
	wps := float64(len(words)) / float64(len(sentences))
	spw := float64(syllables) / float64(len(words))
	return 206.835 - 1.015*wps - 84.6*spw
}

// readabilityTarget Flesch 达到该值即满分
const readabilityTarget = 60.0

// Readability 易读性：Flesch 低于目标值按 1.5 倍扣分
func Readability(text string) SubScore {
	var s SubScore
	flesch := FleschReadingEase(text)
	gap := math.Max(0, readabilityTarget-flesch)
	s.Score = Clamp100(100 - gap*1.5)
	if gap > 0 {
		s.deduct(entity.DimensionReadability, "flesch", 100-s.Score, true, fmt.Sprintf("Flesch reading ease %.1f below %.0f", flesch, readabilityTarget))
		s.Recommendation = "Shorten sentences and prefer plain words to raise readability."
	}
	return s
}

var (
	claimRe    = regexp.MustCompile(`(?i)(\d|percent|\bstudy\b|\bstudies\b|\bresearch\b|\bsurvey\b|\breport\b|\bdata\b|\bstatistic)`)
	citationRe = regexp.MustCompile(`(?i)(according to|source:|reported by|\bcited\b|https?://|\[[^\]]+\]\(|\(\s*(19|20)\d{2}\s*\))`)
)

// FactualConfidence 事实可信度代理：含数据或研究表述的句子中带引用的比例
func FactualConfidence(text string) SubScore {
	var s SubScore
	claims, cited := 0, 0
	for _, sent := range Sentences(text) {
		if !claimRe.MatchString(sent) {
			continue
		}
		claims++
		if citationRe.MatchString(sent) {
			cited++
		}
	}
	if claims == 0 {
		s.Score = 90
		return s
	}
	s.Score = Clamp100(50 + 50*float64(cited)/float64(claims))
	if cited < claims {
		s.deduct(entity.DimensionFactual, "uncited_claims", 100-s.Score, true, fmt.Sprintf("%d of %d factual claims lack a source", claims-cited, claims))
		s.Recommendation = "Attribute every statistic or study to a named source in the same sentence."
	}
	return s
}

// shingleSize 原创性比对使用的词 n-gram 长度
const shingleSize = 3

// Originality 原创性代理：与租户已有内容的最大 n-gram 包含率
func Originality(text string, corpus []string) SubScore {
	var s SubScore
	draft := shingles(text)
	if len(draft) == 0 || len(corpus) == 0 {
		s.Score = 100
		return s
	}
	worst := 0.0
	for _, doc := range corpus {
		other := shingles(doc)
		if len(other) == 0 {
			continue
		}
		shared := 0
		for g := range draft {
			if _, ok := other[g]; ok {
				shared++
			}
		}
		if c := float64(shared) / float64(len(draft)); c > worst {
			worst = c
		}
	}
	s.Score = Clamp100((1 - worst) * 100)
	if worst > 0 {
		s.deduct(entity.DimensionOriginality, "ngram_overlap", 100-s.Score, true, fmt.Sprintf("%.0f%% of phrases overlap earlier content", worst*100))
		s.Recommendation = "Rephrase passages that repeat earlier published articles and add a fresh angle."
	}
	return s
}

func shingles(text string) map[string]struct{} {
	words := Words(text)
	out := make(map[string]struct{})
	for i := 0; i+shingleSize <= len(words); i++ {
		out[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}
	return out
}
