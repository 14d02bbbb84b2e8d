package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusUnbound Status = "unbound"
	StatusBound   Status = "bound"
	StatusActive  Status = "active"
)

// Camera is a physical edge device keyed by its hardware serial.
type Camera struct {
	Serial          string     `gorm:"column:serial;primaryKey;type:varchar(128)" json:"serial"`
	CameraID        string     `gorm:"column:camera_id;type:varchar(64);not null;index" json:"camera_id"`
	OrgID           *string    `gorm:"column:org_id;type:varchar(128);index" json:"org_id"`
	SiteID          *string    `gorm:"column:site_id;type:varchar(128)" json:"site_id"`
	IPAddress       *string    `gorm:"column:ip_address;type:varchar(64)" json:"ip_address,omitempty"`
	FirmwareVersion *string    `gorm:"column:firmware_version;type:varchar(64)" json:"firmware_version,omitempty"`
	Status          Status     `gorm:"column:status;type:varchar(32);not null" json:"status"`
	AuthTokenDigest *string    `gorm:"column:auth_token_digest;type:text" json:"-"`
	RegisteredAt    time.Time  `gorm:"column:registered_at;not null" json:"registered_at"`
	BoundAt         *time.Time `gorm:"column:bound_at" json:"bound_at,omitempty"`
	LastSeen        *time.Time `gorm:"column:last_seen" json:"last_seen,omitempty"`
	LastActivation  *time.Time `gorm:"column:last_activation" json:"last_activation,omitempty"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Camera) TableName() string { return "cameras" }

func (c *Camera) Org() string {
	if c == nil || c.OrgID == nil {
		return ""
	}
	return *c.OrgID
}

func (c *Camera) Site() string {
	if c == nil || c.SiteID == nil {
		return ""
	}
	return *c.SiteID
}

// Assigned reports whether the camera has both an org and a site and may report data.
func (c *Camera) Assigned() bool {
	return c.Org() != "" && c.Site() != ""
}

// CameraIDFromSerial derives the short display id: CAM_ plus the serial's last six characters.
// Distinct serials sharing a suffix collide; the serial stays the real key.
func CameraIDFromSerial(serial string) string {
	runes := []rune(strings.TrimSpace(serial))
	if len(runes) > 6 {
		runes = runes[len(runes)-6:]
	}
	return "CAM_" + string(runes)
}
