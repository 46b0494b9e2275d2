package entity

import (
	"time"

	"gorm.io/datatypes"
)

// AckEvent 入站确认事件
type AckEvent string

const (
	AckContentReady     AckEvent = "content.ready"
	AckContentPublished AckEvent = "content.published"
	AckContentFailed    AckEvent = "content.failed"
)

// Valid 是否为已知事件
func (e AckEvent) Valid() bool {
	switch e {
	case AckContentReady, AckContentPublished, AckContentFailed:
		return true
	}
	return false
}

// Confirms 是否确认投递成功
func (e AckEvent) Confirms() bool {
	return e == AckContentReady || e == AckContentPublished
}

// DeliveryEvent 已处理的入站确认，(run_id, event) 唯一
type DeliveryEvent struct {
	ID        string            `json:"id" gorm:"type:varchar(32);primaryKey"`
	RunID     string            `json:"run_id" gorm:"type:uuid;not null;uniqueIndex:idx_delivery_events_run_event"`
	Event     AckEvent          `json:"event" gorm:"type:varchar(32);not null;uniqueIndex:idx_delivery_events_run_event"`
	Data      datatypes.JSONMap `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// TableName 表名
func (DeliveryEvent) TableName() string { return "delivery_events" }
