package entity

// ImageAsset 图片资产
type ImageAsset struct {
	URL     string `json:"url"`
	AltText string `json:"alt_text"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
	Bytes   int    `json:"bytes"`
	Prompt  string `json:"prompt,omitempty"`
}
