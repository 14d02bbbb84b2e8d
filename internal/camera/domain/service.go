package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (string, error)
	Bind(ctx context.Context, req BindRequest) (*Camera, error)
	Get(ctx context.Context, serial string) (*Camera, error)
	GetByOrg(ctx context.Context, orgID string) ([]Camera, error)
	GetAll(ctx context.Context) ([]Camera, error)
	Activate(ctx context.Context, serial, status string) (string, error)

	// UpsertBinding binds the device to a tenant inside the caller's transaction.
	UpsertBinding(ctx context.Context, tx *gorm.DB, req BindingUpsert) (*Camera, error)
	// Touch marks a reporting camera as seen and active inside the caller's transaction.
	Touch(ctx context.Context, tx *gorm.DB, serial string) error
}

type Repository interface {
	FindBySerial(ctx context.Context, db *gorm.DB, serial string) (*Camera, error)
	InsertIfAbsent(ctx context.Context, db *gorm.DB, camera *Camera) (bool, error)
	Update(ctx context.Context, db *gorm.DB, camera *Camera) error
	UpdateBinding(ctx context.Context, db *gorm.DB, camera *Camera) (bool, error)
	ListByOrg(ctx context.Context, db *gorm.DB, orgID string) ([]Camera, error)
	ListAll(ctx context.Context, db *gorm.DB) ([]Camera, error)
	Touch(ctx context.Context, db *gorm.DB, serial string, status Status, at time.Time) (int64, error)
}

type RegisterRequest struct {
	Serial          string `json:"serial"`
	IPAddress       string `json:"ip"`
	FirmwareVersion string `json:"firmware_version"`
}

type BindRequest struct {
	Serial string `json:"serial"`
	OrgID  string `json:"org_id"`
	SiteID string `json:"site_id"`
}

type BindingUpsert struct {
	Serial          string
	OrgID           string
	SiteID          string
	IPAddress       string
	FirmwareVersion string
	AuthTokenDigest string
}

var (
	ErrInvalidSerial = errors.New("invalid_serial")
	ErrInvalidOrgID  = errors.New("invalid_org_id")
	ErrInvalidSiteID = errors.New("invalid_site_id")
	ErrNotFound      = errors.New("camera_not_found")
	ErrOrgConflict   = errors.New("camera_org_conflict")
)
