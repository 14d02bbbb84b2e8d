package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/edgecount/internal/camera/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const cameraColumns = `serial, camera_id, org_id, site_id, ip_address, firmware_version, status,
	auth_token_digest, registered_at, bound_at, last_seen, last_activation, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindBySerial(ctx context.Context, db *gorm.DB, serial string) (*domain.Camera, error) {
	var camera domain.Camera
	err := db.WithContext(ctx).Raw(
		`SELECT `+cameraColumns+` FROM cameras WHERE serial = ?`,
		serial,
	).Scan(&camera).Error
	if err != nil {
		return nil, err
	}
	if camera.Serial == "" {
		return nil, nil
	}
	return &camera, nil
}

// InsertIfAbsent reports false when a row with the same serial already exists.
func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, camera *domain.Camera) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "serial"}}, DoNothing: true}).
		Create(camera)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Update rewrites the mutable columns. registered_at is never touched.
func (r *repo) Update(ctx context.Context, db *gorm.DB, camera *domain.Camera) error {
	return db.WithContext(ctx).Exec(
		`UPDATE cameras
		 SET camera_id = ?, org_id = ?, site_id = ?, ip_address = ?, firmware_version = ?, status = ?,
		     auth_token_digest = ?, bound_at = ?, last_seen = ?, last_activation = ?, updated_at = ?
		 WHERE serial = ?`,
		camera.CameraID,
		camera.OrgID,
		camera.SiteID,
		camera.IPAddress,
		camera.FirmwareVersion,
		camera.Status,
		camera.AuthTokenDigest,
		camera.BoundAt,
		camera.LastSeen,
		camera.LastActivation,
		camera.UpdatedAt,
		camera.Serial,
	).Error
}

// UpdateBinding is Update guarded by org ownership: it reports false when the
// row has meanwhile been bound to a different org.
func (r *repo) UpdateBinding(ctx context.Context, db *gorm.DB, camera *domain.Camera) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE cameras
		 SET camera_id = ?, org_id = ?, site_id = ?, ip_address = ?, firmware_version = ?, status = ?,
		     auth_token_digest = ?, bound_at = ?, last_seen = ?, last_activation = ?, updated_at = ?
		 WHERE serial = ? AND (org_id IS NULL OR org_id = '' OR org_id = ?)`,
		camera.CameraID,
		camera.OrgID,
		camera.SiteID,
		camera.IPAddress,
		camera.FirmwareVersion,
		camera.Status,
		camera.AuthTokenDigest,
		camera.BoundAt,
		camera.LastSeen,
		camera.LastActivation,
		camera.UpdatedAt,
		camera.Serial,
		camera.Org(),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListByOrg(ctx context.Context, db *gorm.DB, orgID string) ([]domain.Camera, error) {
	var cameras []domain.Camera
	err := db.WithContext(ctx).Raw(
		`SELECT `+cameraColumns+` FROM cameras WHERE org_id = ? ORDER BY serial`,
		orgID,
	).Scan(&cameras).Error
	if err != nil {
		return nil, err
	}
	return cameras, nil
}

func (r *repo) ListAll(ctx context.Context, db *gorm.DB) ([]domain.Camera, error) {
	var cameras []domain.Camera
	err := db.WithContext(ctx).Raw(
		`SELECT ` + cameraColumns + ` FROM cameras ORDER BY serial`,
	).Scan(&cameras).Error
	if err != nil {
		return nil, err
	}
	return cameras, nil
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, serial string, status domain.Status, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE cameras SET last_seen = ?, status = ?, updated_at = ? WHERE serial = ?`,
		at,
		status,
		at,
		serial,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
