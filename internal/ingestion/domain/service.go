package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Service interface {
	Ingest(ctx context.Context, raw []byte, opts IngestOptions) (*Result, error)
}

type Repository interface {
	// Insert reports false when the (serial, idempotency_key) pair already exists.
	Insert(ctx context.Context, db *gorm.DB, report *Report) (bool, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, serial, key string) (*Report, error)
}

type IngestOptions struct {
	// IdempotencyKey overrides any message_id carried in the payload.
	IdempotencyKey string
	// DeviceToken is the bearer token the device presented, if any.
	DeviceToken string
}

type Result struct {
	ID           string
	CameraID     string
	Schema       string
	Deduplicated bool
}

var (
	ErrUnrecognizedSchema  = errors.New("unrecognized_payload_schema")
	ErrMissingSerial       = errors.New("missing_device_serial")
	ErrCameraNotRegistered = errors.New("camera_not_registered")
	ErrCameraUnassigned    = errors.New("camera_unassigned")
	ErrMissingCounts       = errors.New("missing_counts")
)
