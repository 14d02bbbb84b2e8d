package domain

import (
	"context"

	"gorm.io/gorm"
)

// Site is a physical location owned by an org. Managed elsewhere; read-only here.
type Site struct {
	ID    string `gorm:"column:id;primaryKey;type:varchar(128)" json:"id"`
	OrgID string `gorm:"column:org_id;type:varchar(128);not null;index" json:"org_id"`
	Name  string `gorm:"column:name;type:varchar(255);not null" json:"name"`
}

func (Site) TableName() string { return "sites" }

type Service interface {
	// DisplayName returns the site's name, or siteID when the site is unknown or unreadable.
	DisplayName(ctx context.Context, siteID string) string
	Get(ctx context.Context, siteID string) (*Site, error)
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Site, error)
}
