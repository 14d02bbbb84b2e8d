package domain

import "time"

// Token is a site-scoped onboarding credential. The token value is its primary key.
type Token struct {
	ID        string     `gorm:"column:id;primaryKey;type:varchar(64)" json:"token"`
	SiteID    string     `gorm:"column:site_id;type:varchar(128);not null;index" json:"site_id"`
	OrgID     string     `gorm:"column:org_id;type:varchar(128);not null;index:ix_site_tokens_org_used,priority:1" json:"org_id"`
	CreatedAt time.Time  `gorm:"column:created_at;not null" json:"created_at"`
	ExpiresAt time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	Used      bool       `gorm:"column:used;not null;default:false;index:ix_site_tokens_org_used,priority:2" json:"used"`
	UsedBy    *string    `gorm:"column:used_by;type:varchar(128)" json:"used_by"`
	UsedAt    *time.Time `gorm:"column:used_at" json:"used_at"`
	MaxUses   int        `gorm:"column:max_uses;not null;default:1" json:"max_uses"`
	UseCount  int        `gorm:"column:use_count;not null;default:0" json:"use_count"`
}

// TableName sets the database table name.
func (Token) TableName() string { return "site_tokens" }

// Check returns the rejection reason for the token at now, or "" when it can still be used.
// Expiry wins over exhaustion.
func (t *Token) Check(now time.Time) Reason {
	if t == nil {
		return ReasonNotFound
	}
	if !now.Before(t.ExpiresAt) {
		return ReasonExpired
	}
	if t.UseCount >= t.MaxUses {
		return ReasonExhausted
	}
	return ""
}
