package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Report is one immutable counts snapshot from a bound camera.
type Report struct {
	ID             snowflake.ID                         `gorm:"column:id;primaryKey" json:"id,string"`
	CameraID       string                               `gorm:"column:camera_id;type:varchar(64);not null" json:"camera_id"`
	Serial         string                               `gorm:"column:serial;type:varchar(128);not null;uniqueIndex:ux_reports_serial_idempotency,priority:1" json:"serial"`
	OrgID          string                               `gorm:"column:org_id;type:varchar(128);not null;index:ix_reports_org_timestamp,priority:1" json:"org_id"`
	SiteID         string                               `gorm:"column:site_id;type:varchar(128)" json:"site_id"`
	Timestamp      time.Time                            `gorm:"column:timestamp;not null;index:ix_reports_org_timestamp,priority:2" json:"timestamp"`
	Counts         datatypes.JSONType[map[string]int64] `gorm:"column:counts;not null" json:"counts"`
	Total          int64                                `gorm:"column:total;not null" json:"total"`
	Hardware       datatypes.JSONType[Hardware]         `gorm:"column:hardware" json:"hardware"`
	Schema         string                               `gorm:"column:payload_schema;type:varchar(32);not null" json:"schema"`
	IdempotencyKey *string                              `gorm:"column:idempotency_key;type:varchar(255);uniqueIndex:ux_reports_serial_idempotency,priority:2" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time                            `gorm:"column:created_at;not null" json:"created_at"`
}

func (Report) TableName() string { return "reports" }

// Hardware is device health telemetry carried alongside counts.
type Hardware struct {
	CPUTemp         *float64 `json:"cpu_temp,omitempty"`
	AcceleratorTemp *float64 `json:"accelerator_temp,omitempty"`
	AcceleratorLoad *float64 `json:"accelerator_load,omitempty"`
	FPS             *float64 `json:"fps,omitempty"`
}
