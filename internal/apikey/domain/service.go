package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleOrgAdmin      Role = "org_admin"
	RoleOrgViewer     Role = "org_viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RolePlatformAdmin, RoleOrgAdmin, RoleOrgViewer:
		return true
	default:
		return false
	}
}

// OrgScoped reports whether keys with this role are pinned to one organization.
func (r Role) OrgScoped() bool {
	return r == RoleOrgAdmin || r == RoleOrgViewer
}

type Service interface {
	List(ctx context.Context, orgID string) ([]Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error
	Authenticate(ctx context.Context, raw string) (*Principal, error)
	// EnsureBootstrap installs raw as a platform admin key unless it already exists.
	EnsureBootstrap(ctx context.Context, raw string) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*APIKey, error)
	FindActiveByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
	ExistsByHash(ctx context.Context, db *gorm.DB, hash string) (bool, error)
	List(ctx context.Context, db *gorm.DB, orgID string) ([]APIKey, error)
	Revoke(ctx context.Context, db *gorm.DB, keyID string, at time.Time) (int64, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, id int64, at time.Time) error
}

type CreateRequest struct {
	Name  string `json:"name"`
	Role  Role   `json:"role"`
	OrgID string `json:"org_id"`
}

type Response struct {
	KeyID      string     `json:"key_id"`
	Name       string     `json:"name"`
	Role       Role       `json:"role"`
	OrgID      *string    `json:"org_id,omitempty"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

type SecretResponse struct {
	KeyID  string  `json:"key_id"`
	APIKey string  `json:"api_key"`
	Role   Role    `json:"role"`
	OrgID  *string `json:"org_id,omitempty"`
}

// Principal is the authenticated caller behind an admin request.
type Principal struct {
	KeyID string
	Role  Role
	OrgID string
}

// Subject is the authorization subject for this principal.
func (p Principal) Subject() string {
	return "api_key:" + p.KeyID
}

// CanAccessOrg reports whether the principal may act within orgID.
func (p Principal) CanAccessOrg(orgID string) bool {
	if p.Role == RolePlatformAdmin {
		return true
	}
	return orgID != "" && p.OrgID == orgID
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrInvalidKeyID        = errors.New("invalid_key_id")
	ErrInvalidBootstrapKey = errors.New("invalid_bootstrap_key")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not_found")
)
