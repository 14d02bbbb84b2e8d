package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// APIKey is an admin credential. Only the sha256 of the secret is stored.
type APIKey struct {
	ID         snowflake.ID `gorm:"column:id;primaryKey"`
	KeyID      string       `gorm:"column:key_id;type:varchar(64);not null;uniqueIndex:ux_api_keys_key_id"`
	Name       string       `gorm:"column:name;type:varchar(255);not null"`
	Role       Role         `gorm:"column:role;type:varchar(32);not null"`
	OrgID      *string      `gorm:"column:org_id;type:varchar(128);index:ix_api_keys_org_id"`
	KeyHash    string       `gorm:"column:key_hash;type:varchar(64);not null;uniqueIndex:ux_api_keys_key_hash"`
	IsActive   bool         `gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time    `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time    `gorm:"column:updated_at;not null"`
	LastUsedAt *time.Time   `gorm:"column:last_used_at"`
	RevokedAt  *time.Time   `gorm:"column:revoked_at"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

func (k *APIKey) Org() string {
	if k == nil || k.OrgID == nil {
		return ""
	}
	return *k.OrgID
}
