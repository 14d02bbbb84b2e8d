package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*Token, error)
	Validate(ctx context.Context, tokenID string) (*Grant, error)
	Consume(ctx context.Context, tokenID, serial string) error
	// ConsumeTx consumes inside the caller's transaction.
	ConsumeTx(ctx context.Context, tx *gorm.DB, tokenID, serial string) error
	ListPending(ctx context.Context, orgID string) ([]Token, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, token *Token) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Token, error)
	// ConsumeIfValid increments use_count only while the token is unexpired and below max_uses.
	ConsumeIfValid(ctx context.Context, db *gorm.DB, id, serial string, now time.Time) (int64, error)
	ListPending(ctx context.Context, db *gorm.DB, orgID string) ([]Token, error)
}

type IssueRequest struct {
	SiteID     string `json:"site_id"`
	OrgID      string `json:"org_id"`
	ValidHours *int   `json:"valid_hours,omitempty"`
	MaxUses    *int   `json:"max_uses,omitempty"`
}

// Grant is what a valid token authorizes: joining SiteID under OrgID.
type Grant struct {
	TokenID string
	SiteID  string
	OrgID   string
}

var (
	ErrInvalidSiteID     = errors.New("invalid_site_id")
	ErrInvalidOrgID      = errors.New("invalid_org_id")
	ErrInvalidValidHours = errors.New("invalid_valid_hours")
	ErrInvalidMaxUses    = errors.New("invalid_max_uses")
	ErrInvalidSerial     = errors.New("invalid_serial")
)
