package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/edgecount/internal/audit/domain"
	"github.com/smallbiznis/edgecount/internal/audit/masking"
	cameradomain "github.com/smallbiznis/edgecount/internal/camera/domain"
	"github.com/smallbiznis/edgecount/internal/clock"
	"github.com/smallbiznis/edgecount/internal/config"
	"github.com/smallbiznis/edgecount/internal/handshake/credential"
	"github.com/smallbiznis/edgecount/internal/handshake/domain"
	"github.com/smallbiznis/edgecount/internal/observability/logger"
	"github.com/smallbiznis/edgecount/internal/observability/metrics"
	"github.com/smallbiznis/edgecount/internal/observability/tracing"
	sitedomain "github.com/smallbiznis/edgecount/internal/site/domain"
	sitetokendomain "github.com/smallbiznis/edgecount/internal/sitetoken/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Policy  *config.HandshakePolicyHolder
	Tokens  sitetokendomain.Service
	Cameras cameradomain.Service
	Sites   sitedomain.Service
	Locker  domain.SerialLocker `optional:"true"`
	Metrics *metrics.Metrics    `optional:"true"`
	Audit   auditdomain.Service `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	policy  *config.HandshakePolicyHolder
	tokens  sitetokendomain.Service
	cameras cameradomain.Service
	sites   sitedomain.Service
	locker  domain.SerialLocker
	metrics *metrics.Metrics
	audit   auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("handshake.service"),
		clock:   p.Clock,
		policy:  p.Policy,
		tokens:  p.Tokens,
		cameras: p.Cameras,
		sites:   p.Sites,
		locker:  p.Locker,
		metrics: p.Metrics,
		audit:   p.Audit,
	}
}

// Register validates the site token, binds the device to the token's tenant,
// consumes one use of the token and returns the device's binding.
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.Binding, error) {
	serial := strings.TrimSpace(req.Serial)
	tokenID := strings.TrimSpace(req.Token)

	ctx, span := tracing.StartSpan(ctx, "handshake.register")
	defer span.End()

	attempt := domain.NewAttempt(serial, s.clock.Now())
	log := logger.WithDevice(logger.WithContext(ctx, s.log), serial)
	defer func() {
		s.metrics.RecordHandshake(ctx, string(attempt.State), attempt.Reason, s.clock.Now().Sub(attempt.StartedAt))
		span.SetAttributes(attribute.String("handshake.state", string(attempt.State)))
		log.Debug("handshake finished", zap.Strings("states", statesOf(attempt)), zap.String("reason", attempt.Reason))
	}()

	if serial == "" || tokenID == "" {
		attempt.Reject("missing_fields")
		return nil, domain.ErrMissingFields
	}

	if s.locker != nil {
		unlock, err := s.locker.LockSerial(ctx, serial)
		switch {
		case err == nil:
			defer unlock()
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			attempt.Reject("canceled")
			return nil, err
		case errors.Is(err, domain.ErrRegistrationInProgress):
			attempt.Reject("locked")
			return nil, err
		default:
			log.Warn("handshake lock unavailable, continuing unlocked", zap.Error(err))
		}
	}

	grant, err := s.tokens.Validate(ctx, tokenID)
	if err != nil {
		return nil, s.reject(ctx, attempt, log, "", err)
	}
	_ = attempt.Advance(domain.StateTokenValidated)

	existing, err := s.cameras.Get(ctx, serial)
	if err != nil && !errors.Is(err, cameradomain.ErrNotFound) {
		attempt.Reject("internal")
		return nil, fmt.Errorf("load camera: %w", err)
	}
	if existing != nil && existing.Org() != "" && existing.Org() != grant.OrgID {
		return nil, s.reject(ctx, attempt, log, grant.OrgID, domain.ErrOrgConflict)
	}

	now := s.clock.Now()
	authToken := credential.NewDeviceToken(serial, now)
	tokenDigest, err := credential.Hash(authToken)
	if err != nil {
		attempt.Reject("internal")
		return nil, fmt.Errorf("hash device token: %w", err)
	}

	var camera *cameradomain.Camera
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bound, err := s.cameras.UpsertBinding(ctx, tx, cameradomain.BindingUpsert{
			Serial:          serial,
			OrgID:           grant.OrgID,
			SiteID:          grant.SiteID,
			IPAddress:       req.IPAddress,
			FirmwareVersion: req.FirmwareVersion,
			AuthTokenDigest: tokenDigest,
		})
		if err != nil {
			return err
		}
		_ = attempt.Advance(domain.StateDeviceBound)

		if err := s.tokens.ConsumeTx(ctx, tx, grant.TokenID, serial); err != nil {
			return err
		}
		_ = attempt.Advance(domain.StateTokenConsumed)

		camera = bound
		return s.auditRegistered(ctx, tx, grant, serial, bound.CameraID)
	})
	if err != nil {
		if errors.Is(err, cameradomain.ErrOrgConflict) {
			err = domain.ErrOrgConflict
		}
		if errors.Is(err, domain.ErrOrgConflict) || errors.Is(err, sitetokendomain.ErrTokenRejected) {
			return nil, s.reject(ctx, attempt, log, grant.OrgID, err)
		}
		attempt.Reject("internal")
		return nil, fmt.Errorf("bind device: %w", err)
	}

	policy := s.policy.Get()
	binding := &domain.Binding{
		Bound:         true,
		CameraID:      camera.CameraID,
		SiteID:        grant.SiteID,
		SiteName:      s.sites.DisplayName(ctx, grant.SiteID),
		OrgID:         grant.OrgID,
		Endpoint:      policy.IngestEndpoint,
		AuthMode:      policy.AuthMode,
		AuthToken:     authToken,
		PayloadFormat: policy.PayloadFormat,
		TenantID:      grant.OrgID,
		RegisteredAt:  now.UTC().Format(time.RFC3339),
	}
	_ = attempt.Advance(domain.StateConfigIssued)

	log.Info("device registered",
		zap.String("camera_id", binding.CameraID),
		zap.String("org_id", grant.OrgID),
		zap.String("site_id", grant.SiteID),
	)
	return binding, nil
}

func (s *Service) Activate(ctx context.Context, req domain.ActivateRequest) (string, error) {
	serial := strings.TrimSpace(req.Serial)
	if serial == "" {
		return "", domain.ErrMissingSerial
	}

	cameraID, err := s.cameras.Activate(ctx, serial, req.Status)
	if err != nil {
		if errors.Is(err, cameradomain.ErrNotFound) {
			return "", domain.ErrCameraNotRegistered
		}
		return "", fmt.Errorf("activate camera: %w", err)
	}

	logger.WithDevice(logger.WithContext(ctx, s.log), serial).Info("activation recorded", zap.String("camera_id", cameraID))
	return cameraID, nil
}

func (s *Service) reject(ctx context.Context, attempt *domain.Attempt, log *zap.Logger, orgID string, err error) error {
	reason := string(sitetokendomain.RejectionReason(err))
	if reason == "" {
		switch {
		case errors.Is(err, domain.ErrOrgConflict):
			reason = "org_conflict"
		default:
			reason = "internal"
		}
	}
	attempt.Reject(reason)
	log.Warn("handshake rejected", zap.String("reason", reason))

	if s.audit != nil {
		serial := attempt.Serial
		if auditErr := s.audit.AuditLog(ctx, orgID, string(auditdomain.ActorTypeDevice), &serial, auditdomain.ActionDeviceRejected, "camera", &serial, map[string]any{
			"reason": reason,
		}); auditErr != nil {
			log.Warn("audit handshake rejection failed", zap.Error(auditErr))
		}
	}
	return err
}

func (s *Service) auditRegistered(ctx context.Context, tx *gorm.DB, grant *sitetokendomain.Grant, serial, cameraID string) error {
	if s.audit == nil {
		return nil
	}
	fingerprint := masking.Fingerprint(grant.TokenID)
	if err := s.audit.AuditLogTx(ctx, tx, grant.OrgID, string(auditdomain.ActorTypeDevice), &serial, auditdomain.ActionSiteTokenConsumed, "site_token", &fingerprint, map[string]any{
		"serial":  serial,
		"site_id": grant.SiteID,
	}); err != nil {
		return err
	}
	return s.audit.AuditLogTx(ctx, tx, grant.OrgID, string(auditdomain.ActorTypeDevice), &serial, auditdomain.ActionDeviceRegistered, "camera", &serial, map[string]any{
		"camera_id": cameraID,
		"site_id":   grant.SiteID,
	})
}

func statesOf(a *domain.Attempt) []string {
	out := make([]string, 0, len(a.History))
	for _, s := range a.History {
		out = append(out, string(s))
	}
	return out
}
