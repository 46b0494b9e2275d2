// Package entity 定义领域实体
package entity

import (
	"time"

	"gorm.io/datatypes"
)

// TenantStatus 租户状态
type TenantStatus string

const (
	TenantStatusActive      TenantStatus = "active"
	TenantStatusDeactivated TenantStatus = "deactivated"
)

// Tier 订阅等级
type Tier string

const (
	TierStarter    Tier = "starter"
	TierGrowth     Tier = "growth"
	TierEnterprise Tier = "enterprise"
)

// ModelClass 允许使用的模型档位
type ModelClass string

const (
	ModelClassStandard ModelClass = "standard"
	ModelClassAdvanced ModelClass = "advanced"
	ModelClassPremium  ModelClass = "premium"
)

// UnlimitedDaily 每日内容数不限
const UnlimitedDaily = -1

// MaxQueryFanOut 单次发现阶段的查询上限
const MaxQueryFanOut = 10

// TierLimits 等级限额
type TierLimits struct {
	MaxConcurrent   int        `json:"max_concurrent"`
	MaxDailyContent int        `json:"max_daily_content"`
	RequestsPerHour int        `json:"requests_per_hour"`
	MaxQueries      int        `json:"max_queries"`
	ModelClass      ModelClass `json:"model_class"`
}

// DailyUnlimited 每日配额是否不限
func (l TierLimits) DailyUnlimited() bool {
	return l.MaxDailyContent < 0
}

var tierLimits = map[Tier]TierLimits{
	TierStarter: {
		MaxConcurrent:   1,
		MaxDailyContent: 5,
		RequestsPerHour: 100,
		MaxQueries:      3,
		ModelClass:      ModelClassStandard,
	},
	TierGrowth: {
		MaxConcurrent:   3,
		MaxDailyContent: 25,
		RequestsPerHour: 1000,
		MaxQueries:      6,
		ModelClass:      ModelClassAdvanced,
	},
	TierEnterprise: {
		MaxConcurrent:   10,
		MaxDailyContent: UnlimitedDaily,
		RequestsPerHour: 10000,
		MaxQueries:      MaxQueryFanOut,
		ModelClass:      ModelClassPremium,
	},
}

// LimitsForTier 返回等级对应的限额
func LimitsForTier(t Tier) (TierLimits, bool) {
	l, ok := tierLimits[t]
	return l, ok
}

// Valid 检查等级是否合法
func (t Tier) Valid() bool {
	_, ok := tierLimits[t]
	return ok
}

// BrandProfile 品牌配置
type BrandProfile struct {
	Voice         string   `json:"voice,omitempty"`
	Audience      string   `json:"audience,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	BannedTerms   []string `json:"banned_terms,omitempty"`
	DesiredLength int      `json:"desired_length,omitempty"`
	VisualStyle   string   `json:"visual_style,omitempty"`
	Palette       string   `json:"palette,omitempty"`
}

// Tenant 租户实体
//
// 限额只随等级变更而变化；租户不会被删除，只会被停用。
type Tenant struct {
	ID             string                      `json:"id" gorm:"type:uuid;primaryKey"`
	Name           string                      `json:"name" gorm:"type:varchar(255);not null"`
	Tier           Tier                        `json:"tier" gorm:"type:varchar(32);not null"`
	Status         TenantStatus                `json:"status" gorm:"type:varchar(32);default:'active'"`
	Topics         datatypes.JSONSlice[string] `json:"topics"`
	Brand          *BrandProfile               `json:"brand,omitempty" gorm:"type:jsonb;serializer:json"`
	HumanSelection bool                        `json:"human_selection"`
	WebhookURL     string                      `json:"webhook_url,omitempty" gorm:"type:varchar(1024)"`
	WebhookSecret  string                      `json:"-" gorm:"type:varchar(255)"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// TableName 表名
func (Tenant) TableName() string { return "tenants" }

// NewTenant 创建新租户
func NewTenant(id, name string, tier Tier) *Tenant {
	now := time.Now()
	return &Tenant{
		ID:        id,
		Name:      name,
		Tier:      tier,
		Status:    TenantStatusActive,
		Brand:     &BrandProfile{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive 检查租户是否活跃
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// Limits 返回当前等级限额，未知等级按 starter 处理
func (t *Tenant) Limits() TierLimits {
	if l, ok := LimitsForTier(t.Tier); ok {
		return l
	}
	return tierLimits[TierStarter]
}

// EffectiveTier 实际生效的等级，未知等级视为 starter
func (t *Tenant) EffectiveTier() Tier {
	if _, ok := tierLimits[t.Tier]; ok {
		return t.Tier
	}
	return TierStarter
}

// ChangeTier 等级变更
func (t *Tenant) ChangeTier(tier Tier) {
	t.Tier = tier
	t.UpdatedAt = time.Now()
}

// Deactivate 停用租户
func (t *Tenant) Deactivate() {
	t.Status = TenantStatusDeactivated
	t.UpdatedAt = time.Now()
}

// BrandOrDefault 返回非空品牌配置
func (t *Tenant) BrandOrDefault() BrandProfile {
	if t.Brand == nil {
		return BrandProfile{}
	}
	return *t.Brand
}
