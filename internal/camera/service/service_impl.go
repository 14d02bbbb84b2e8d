package service

import (
	"context"
	"strings"

	auditdomain "github.com/smallbiznis/edgecount/internal/audit/domain"
	"github.com/smallbiznis/edgecount/internal/camera/domain"
	"github.com/smallbiznis/edgecount/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Audit auditdomain.Service `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	audit auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("camera.service"),
		clock: p.Clock,
		repo:  p.Repo,
		audit: p.Audit,
	}
}

// Register records a device without binding it. Existing cameras keep their
// binding and registered_at; only the network details are refreshed.
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (string, error) {
	serial := strings.TrimSpace(req.Serial)
	if serial == "" {
		return "", domain.ErrInvalidSerial
	}

	var cameraID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		existing, err := s.repo.FindBySerial(ctx, tx, serial)
		if err != nil {
			return err
		}
		if existing == nil {
			camera := &domain.Camera{
				Serial:          serial,
				CameraID:        domain.CameraIDFromSerial(serial),
				IPAddress:       optional(req.IPAddress),
				FirmwareVersion: optional(req.FirmwareVersion),
				Status:          domain.StatusUnbound,
				RegisteredAt:    now,
				UpdatedAt:       now,
			}
			inserted, err := s.repo.InsertIfAbsent(ctx, tx, camera)
			if err != nil {
				return err
			}
			if inserted {
				cameraID = camera.CameraID
				return nil
			}
			if existing, err = s.repo.FindBySerial(ctx, tx, serial); err != nil {
				return err
			}
			if existing == nil {
				return domain.ErrNotFound
			}
		}

		if ip := optional(req.IPAddress); ip != nil {
			existing.IPAddress = ip
		}
		if fw := optional(req.FirmwareVersion); fw != nil {
			existing.FirmwareVersion = fw
		}
		existing.UpdatedAt = now
		cameraID = existing.CameraID
		return s.repo.Update(ctx, tx, existing)
	})
	if err != nil {
		return "", err
	}

	s.log.Info("camera registered", zap.String("serial", serial), zap.String("camera_id", cameraID))
	return cameraID, nil
}

func (s *Service) Bind(ctx context.Context, req domain.BindRequest) (*domain.Camera, error) {
	serial := strings.TrimSpace(req.Serial)
	if serial == "" {
		return nil, domain.ErrInvalidSerial
	}
	orgID := strings.TrimSpace(req.OrgID)
	if orgID == "" {
		return nil, domain.ErrInvalidOrgID
	}
	siteID := strings.TrimSpace(req.SiteID)
	if siteID == "" {
		return nil, domain.ErrInvalidSiteID
	}

	camera, err := s.repo.FindBySerial(ctx, s.db, serial)
	if err != nil {
		return nil, err
	}
	if camera == nil {
		return nil, domain.ErrNotFound
	}
	if current := camera.Org(); current != "" && current != orgID {
		return nil, domain.ErrOrgConflict
	}

	now := s.clock.Now()
	camera.OrgID = &orgID
	camera.SiteID = &siteID
	camera.Status = domain.StatusBound
	camera.BoundAt = &now
	camera.UpdatedAt = now
	bound, err := s.repo.UpdateBinding(ctx, s.db, camera)
	if err != nil {
		return nil, err
	}
	if !bound {
		return nil, domain.ErrOrgConflict
	}

	if s.audit != nil {
		if err := s.audit.AuditLog(ctx, orgID, "", nil, auditdomain.ActionCameraBound, "camera", &serial, map[string]any{
			"site_id":   siteID,
			"camera_id": camera.CameraID,
		}); err != nil {
			s.log.Warn("audit camera bind failed", zap.Error(err))
		}
	}

	s.log.Info("camera bound", zap.String("serial", serial), zap.String("org_id", orgID), zap.String("site_id", siteID))
	return camera, nil
}

func (s *Service) Get(ctx context.Context, serial string) (*domain.Camera, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return nil, domain.ErrInvalidSerial
	}
	camera, err := s.repo.FindBySerial(ctx, s.db, serial)
	if err != nil {
		return nil, err
	}
	if camera == nil {
		return nil, domain.ErrNotFound
	}
	return camera, nil
}

func (s *Service) GetByOrg(ctx context.Context, orgID string) ([]domain.Camera, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, domain.ErrInvalidOrgID
	}
	return s.repo.ListByOrg(ctx, s.db, orgID)
}

func (s *Service) GetAll(ctx context.Context) ([]domain.Camera, error) {
	return s.repo.ListAll(ctx, s.db)
}

// Activate records a device's activation ping. An empty status means active.
// A camera without an org and site stays unbound whatever it reports.
func (s *Service) Activate(ctx context.Context, serial, status string) (string, error) {
	camera, err := s.Get(ctx, serial)
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	camera.Status = activationStatus(camera, status)
	camera.LastSeen = &now
	camera.LastActivation = &now
	camera.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, camera); err != nil {
		return "", err
	}

	s.log.Debug("camera activated", zap.String("serial", camera.Serial), zap.String("status", string(camera.Status)))
	return camera.CameraID, nil
}

func (s *Service) UpsertBinding(ctx context.Context, tx *gorm.DB, req domain.BindingUpsert) (*domain.Camera, error) {
	serial := strings.TrimSpace(req.Serial)
	if serial == "" {
		return nil, domain.ErrInvalidSerial
	}
	orgID := strings.TrimSpace(req.OrgID)
	if orgID == "" {
		return nil, domain.ErrInvalidOrgID
	}
	siteID := strings.TrimSpace(req.SiteID)
	if siteID == "" {
		return nil, domain.ErrInvalidSiteID
	}

	now := s.clock.Now()
	camera, err := s.repo.FindBySerial(ctx, tx, serial)
	if err != nil {
		return nil, err
	}
	if camera == nil {
		camera = &domain.Camera{
			Serial:          serial,
			CameraID:        domain.CameraIDFromSerial(serial),
			OrgID:           &orgID,
			SiteID:          &siteID,
			IPAddress:       optional(req.IPAddress),
			FirmwareVersion: optional(req.FirmwareVersion),
			Status:          domain.StatusBound,
			AuthTokenDigest: optional(req.AuthTokenDigest),
			RegisteredAt:    now,
			BoundAt:         &now,
			LastSeen:        &now,
			UpdatedAt:       now,
		}
		inserted, err := s.repo.InsertIfAbsent(ctx, tx, camera)
		if err != nil {
			return nil, err
		}
		if inserted {
			return camera, nil
		}
		// Lost an insert race for the same serial; merge into the winner's row.
		if camera, err = s.repo.FindBySerial(ctx, tx, serial); err != nil {
			return nil, err
		}
		if camera == nil {
			return nil, domain.ErrNotFound
		}
	}

	if current := camera.Org(); current != "" && current != orgID {
		return nil, domain.ErrOrgConflict
	}

	camera.OrgID = &orgID
	camera.SiteID = &siteID
	camera.Status = domain.StatusBound
	camera.BoundAt = &now
	camera.LastSeen = &now
	camera.UpdatedAt = now
	if ip := optional(req.IPAddress); ip != nil {
		camera.IPAddress = ip
	}
	if fw := optional(req.FirmwareVersion); fw != nil {
		camera.FirmwareVersion = fw
	}
	if digest := optional(req.AuthTokenDigest); digest != nil {
		camera.AuthTokenDigest = digest
	}
	if camera.CameraID == "" {
		camera.CameraID = domain.CameraIDFromSerial(serial)
	}
	bound, err := s.repo.UpdateBinding(ctx, tx, camera)
	if err != nil {
		return nil, err
	}
	if !bound {
		return nil, domain.ErrOrgConflict
	}
	return camera, nil
}

func (s *Service) Touch(ctx context.Context, tx *gorm.DB, serial string) error {
	affected, err := s.repo.Touch(ctx, tx, strings.TrimSpace(serial), domain.StatusActive, s.clock.Now())
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func activationStatus(camera *domain.Camera, requested string) domain.Status {
	if !camera.Assigned() {
		return domain.StatusUnbound
	}
	status := domain.Status(strings.TrimSpace(requested))
	if status == "" || status == domain.StatusUnbound {
		return domain.StatusActive
	}
	return status
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
