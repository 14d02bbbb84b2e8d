package domain

import (
	"context"
	"errors"
)

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*Binding, error)
	Activate(ctx context.Context, req ActivateRequest) (string, error)
}

// SerialLocker serializes concurrent handshakes of one device.
type SerialLocker interface {
	LockSerial(ctx context.Context, serial string) (func(), error)
}

type RegisterRequest struct {
	Serial          string `json:"serial"`
	Token           string `json:"token"`
	IPAddress       string `json:"ip"`
	FirmwareVersion string `json:"firmware_version"`
}

type ActivateRequest struct {
	Serial string `json:"serial"`
	Status string `json:"status"`
}

// Binding is the configuration a device needs to start reporting.
type Binding struct {
	Bound         bool   `json:"bound"`
	CameraID      string `json:"camera_id"`
	SiteID        string `json:"site_id"`
	SiteName      string `json:"site_name"`
	OrgID         string `json:"org_id"`
	Endpoint      string `json:"endpoint"`
	AuthMode      string `json:"auth_mode"`
	AuthToken     string `json:"auth_token"`
	PayloadFormat string `json:"payload_format"`
	TenantID      string `json:"tenant_id"`
	RegisteredAt  string `json:"registered_at"`
}

var (
	ErrMissingFields       = errors.New("missing_required_fields")
	ErrMissingSerial       = errors.New("missing_serial")
	ErrOrgConflict         = errors.New("device_org_conflict")
	ErrCameraNotRegistered = errors.New("camera_not_registered")

	ErrRegistrationInProgress = errors.New("registration_in_progress")
)
