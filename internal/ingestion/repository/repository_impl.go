package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/edgecount/internal/ingestion/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, report *domain.Report) (bool, error) {
	q := db.WithContext(ctx)
	if report.IdempotencyKey != nil {
		q = q.Clauses(idempotencyConflictClause(db))
	}
	result := q.Create(report)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, serial, key string) (*domain.Report, error) {
	var report domain.Report
	err := db.WithContext(ctx).
		Where("serial = ? AND idempotency_key = ?", serial, key).
		First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// Postgres carries a partial unique index, so the conflict target must repeat its predicate.
func idempotencyConflictClause(db *gorm.DB) clause.OnConflict {
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "serial"}, {Name: "idempotency_key"}},
		DoNothing: true,
	}
	if db != nil && strings.EqualFold(db.Dialector.Name(), "postgres") {
		conflict.TargetWhere = clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "idempotency_key IS NOT NULL"},
		}}
	}
	return conflict
}
