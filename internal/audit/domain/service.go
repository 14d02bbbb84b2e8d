package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/edgecount/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	ActionSiteTokenIssued   = "site_token.issued"
	ActionSiteTokenConsumed = "site_token.consumed"
	ActionDeviceRegistered  = "device.registered"
	ActionDeviceRejected    = "device.rejected"
	ActionCameraBound       = "camera.bound"
	ActionAPIKeyCreated     = "api_key.created"
	ActionAPIKeyRevoked     = "api_key.revoked"
	ActionAuthzDenied       = "authorization.denied"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	OrgID      string
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	AuditLog(ctx context.Context, orgID string, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	// AuditLogTx writes the entry inside the caller's transaction.
	AuditLogTx(ctx context.Context, tx *gorm.DB, orgID string, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
	ErrInvalidAction       = errors.New("invalid_action")
)
