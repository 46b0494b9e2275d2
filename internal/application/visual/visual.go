// Package visual 生成并处理文章配图
//
// 配图失败不影响运行：阶段返回错误，编排器记录后以无图继续，由质量门扣除 SEO 分。
package visual

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"content-pipeline-api/internal/domain/entity"
	"content-pipeline-api/internal/workflow/node"
	"content-pipeline-api/internal/workflow/port"
	"content-pipeline-api/pkg/logger"
	"content-pipeline-api/pkg/metrics"
	"content-pipeline-api/pkg/retry"
)

// Config 视觉阶段配置
type Config struct {
	Width       int
	Height      int
	JPEGQuality int
	// Retry 生成调用的重试，默认失败后重试一次
	Retry        retry.Policy
	CallTimeout  time.Duration
	Size         string
	Quality      string
	KeyPrefix    string
	MaxAltLength int
}

func (c *Config) withDefaults() {
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = 1200, 630
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 82
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 2
		c.Retry.BaseDelay = 2 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 120 * time.Second
	}
	if c.Size == "" {
		c.Size = "1792x1024"
	}
	if c.Quality == "" {
		c.Quality = "standard"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "images"
	}
	if c.MaxAltLength <= 0 {
		c.MaxAltLength = 125
	}
}

// Input 视觉阶段输入，Draft 为章节完成时的快照
type Input struct {
	Tenant *entity.Tenant
	RunID  string
	Brief  *entity.Brief
	Draft  *entity.Draft
}

// Stage 视觉资产生成
type Stage struct {
	gen   port.ImageGenerator
	fetch port.AssetFetcher
	store port.StorageUploader
	cfg   Config
}

// NewStage 创建视觉阶段
func NewStage(gen port.ImageGenerator, fetch port.AssetFetcher, store port.StorageUploader, cfg Config) *Stage {
	cfg.withDefaults()
	return &Stage{gen: gen, fetch: fetch, store: store, cfg: cfg}
}

// Produce 生成、下载、裁剪压缩并上传配图
func (s *Stage) Produce(ctx context.Context, in Input) (*entity.ImageAsset, error) {
	start := time.Now()
	asset, err := s.produce(ctx, in)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		logger.Warn(ctx, "visual asset unavailable, continuing without image", "error", err.Error())
	}
	metrics.StageDuration.WithLabelValues(string(entity.StageVisualizing), outcome).Observe(time.Since(start).Seconds())
	return asset, err
}

func (s *Stage) produce(ctx context.Context, in Input) (*entity.ImageAsset, error) {
	prompt := BuildPrompt(in.Tenant.BrandOrDefault(), in.Brief, in.Draft)

	var result *port.ImageResult
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		res, err := s.gen.Generate(callCtx, port.ImageRequest{Prompt: prompt, Size: s.cfg.Size, Quality: s.cfg.Quality})
		if err != nil {
			metrics.ExternalCallTotal.WithLabelValues("image", "error").Inc()
			return err
		}
		if res == nil || res.URL == "" {
			return errors.New("image generator returned no url")
		}
		metrics.ExternalCallTotal.WithLabelValues("image", "success").Inc()
		result = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}

	raw, err := s.fetch.Fetch(ctx, result.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	data, err := Process(raw, s.cfg.Width, s.cfg.Height, s.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}

	title := in.Brief.Title()
	key := ObjectKey(s.cfg.KeyPrefix, in.Tenant.ID, in.RunID, title, revisionOf(in.Draft))
	url, err := s.store.Upload(ctx, data, port.ObjectMeta{
		Key:         key,
		ContentType: "image/jpeg",
		TenantID:    in.Tenant.ID,
		RunID:       in.RunID,
		Attributes:  map[string]string{"source_url": result.URL},
	})
	if err != nil {
		metrics.ExternalCallTotal.WithLabelValues("storage", "error").Inc()
		return nil, fmt.Errorf("upload image: %w", err)
	}
	metrics.ExternalCallTotal.WithLabelValues("storage", "success").Inc()

	return &entity.ImageAsset{
		URL:     url,
		AltText: AltText(title, in.Brief.PrimaryKeyword(), s.cfg.MaxAltLength),
		Width:   s.cfg.Width,
		Height:  s.cfg.Height,
		Format:  "jpeg",
		Bytes:   len(data),
		Prompt:  prompt,
	}, nil
}

// BuildPrompt 由关键词、章节主题和品牌视觉风格组成图片提示词
func BuildPrompt(brand entity.BrandProfile, brief *entity.Brief, draft *entity.Draft) string {
	var themes []string
	themes = append(themes, brief.TargetKeywords...)
	if draft != nil {
		for _, s := range draft.Sections {
			themes = append(themes, s.Heading)
		}
	}
	if len(themes) > 6 {
		themes = themes[:6]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Editorial header illustration for an article titled %q.", brief.Title())
	if len(themes) > 0 {
		fmt.Fprintf(&b, " Themes: %s.", strings.Join(themes, ", "))
	}
	if brand.VisualStyle != "" {
		fmt.Fprintf(&b, " Style: %s.", brand.VisualStyle)
	}
	if brand.Palette != "" {
		fmt.Fprintf(&b, " Color palette: %s.", brand.Palette)
	}
	if brand.Voice != "" {
		fmt.Fprintf(&b, " Mood matching a %s tone.", brand.Voice)
	}
	b.WriteString(" Wide landscape composition, no text, no logos.")
	return b.String()
}

// Process 解码任意支持的格式，居中裁剪到目标宽高比并缩放，输出 JPEG
func Process(raw []byte, width, height, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	crop := CenterCrop(src.Bounds(), width, height)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// CenterCrop 计算与目标宽高比一致的最大居中区域
func CenterCrop(b image.Rectangle, width, height int) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	if w*height > h*width {
		cw := h * width / height
		x0 := b.Min.X + (w-cw)/2
		return image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	}
	ch := w * height / width
	y0 := b.Min.Y + (h-ch)/2
	return image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
}

// ObjectKey 存储路径：前缀/租户/运行/标题 slug
func ObjectKey(prefix, tenantID, runID, title string, revision int) string {
	name := slug.Make(title)
	if name == "" {
		name = "header"
	}
	if len(name) > 60 {
		name = strings.TrimRight(name[:60], "-")
	}
	if revision > 0 {
		name = fmt.Sprintf("%s-r%d", name, revision)
	}
	return fmt.Sprintf("%s/%s/%s/%s.jpg", prefix, tenantID, runID, name)
}

// AltText 描述性替代文本
func AltText(title, keyword string, maxLen int) string {
	alt := "Illustration for " + title
	if keyword != "" && !strings.Contains(strings.ToLower(title), strings.ToLower(keyword)) {
		alt += " about " + keyword
	}
	return node.TruncateByRunes(alt, maxLen)
}

func revisionOf(d *entity.Draft) int {
	if d == nil {
		return 0
	}
	return d.Revision
}
