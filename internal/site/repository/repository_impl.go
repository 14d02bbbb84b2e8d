package repository

import (
	"context"

	"github.com/smallbiznis/edgecount/internal/site/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Site, error) {
	var site domain.Site
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, name FROM sites WHERE id = ?`,
		id,
	).Scan(&site).Error
	if err != nil {
		return nil, err
	}
	if site.ID == "" {
		return nil, nil
	}
	return &site, nil
}
