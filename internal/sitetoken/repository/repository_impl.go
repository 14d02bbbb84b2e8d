package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/edgecount/internal/sitetoken/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, token *domain.Token) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO site_tokens (id, site_id, org_id, created_at, expires_at, used, used_by, used_at, max_uses, use_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		token.ID,
		token.SiteID,
		token.OrgID,
		token.CreatedAt,
		token.ExpiresAt,
		token.Used,
		token.UsedBy,
		token.UsedAt,
		token.MaxUses,
		token.UseCount,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Token, error) {
	var token domain.Token
	err := db.WithContext(ctx).Raw(
		`SELECT id, site_id, org_id, created_at, expires_at, used, used_by, used_at, max_uses, use_count
		 FROM site_tokens WHERE id = ?`,
		id,
	).Scan(&token).Error
	if err != nil {
		return nil, err
	}
	if token.ID == "" {
		return nil, nil
	}
	return &token, nil
}

// ConsumeIfValid is a single conditional UPDATE, so concurrent consumers can
// never push use_count past max_uses. A zero row count means nothing was consumed.
func (r *repo) ConsumeIfValid(ctx context.Context, db *gorm.DB, id, serial string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE site_tokens
		 SET use_count = use_count + 1, used = ?, used_by = ?, used_at = ?
		 WHERE id = ? AND use_count < max_uses AND expires_at > ?`,
		true,
		serial,
		now,
		id,
		now,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, orgID string) ([]domain.Token, error) {
	query := `SELECT id, site_id, org_id, created_at, expires_at, used, used_by, used_at, max_uses, use_count
		 FROM site_tokens WHERE used = ?`
	args := []any{false}
	if orgID != "" {
		query += ` AND org_id = ?`
		args = append(args, orgID)
	}
	query += ` ORDER BY created_at DESC`

	var tokens []domain.Token
	err := db.WithContext(ctx).Raw(query, args...).Scan(&tokens).Error
	if err != nil {
		return nil, err
	}
	return tokens, nil
}
