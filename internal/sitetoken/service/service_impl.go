package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/edgecount/internal/audit/domain"
	"github.com/smallbiznis/edgecount/internal/audit/masking"
	"github.com/smallbiznis/edgecount/internal/clock"
	"github.com/smallbiznis/edgecount/internal/config"
	"github.com/smallbiznis/edgecount/internal/observability/metrics"
	"github.com/smallbiznis/edgecount/internal/sitetoken/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tokenSecretBytes = 32

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Policy  *config.HandshakePolicyHolder
	Repo    domain.Repository
	Metrics *metrics.Metrics    `optional:"true"`
	Audit   auditdomain.Service `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	policy  *config.HandshakePolicyHolder
	repo    domain.Repository
	metrics *metrics.Metrics
	audit   auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("sitetoken.service"),
		clock:   p.Clock,
		policy:  p.Policy,
		repo:    p.Repo,
		metrics: p.Metrics,
		audit:   p.Audit,
	}
}

func (s *Service) Issue(ctx context.Context, req domain.IssueRequest) (*domain.Token, error) {
	siteID := strings.TrimSpace(req.SiteID)
	if siteID == "" {
		return nil, domain.ErrInvalidSiteID
	}
	orgID := strings.TrimSpace(req.OrgID)
	if orgID == "" {
		return nil, domain.ErrInvalidOrgID
	}

	policy := s.policy.Get()
	validHours := policy.DefaultValidHours
	if req.ValidHours != nil {
		if *req.ValidHours <= 0 {
			return nil, domain.ErrInvalidValidHours
		}
		validHours = *req.ValidHours
	}
	if policy.MaxValidHours > 0 && validHours > policy.MaxValidHours {
		validHours = policy.MaxValidHours
	}
	maxUses := policy.DefaultMaxUses
	if req.MaxUses != nil {
		if *req.MaxUses <= 0 {
			return nil, domain.ErrInvalidMaxUses
		}
		maxUses = *req.MaxUses
	}

	id, err := generateTokenID()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	token := &domain.Token{
		ID:        id,
		SiteID:    siteID,
		OrgID:     orgID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(validHours) * time.Hour),
		MaxUses:   maxUses,
	}
	if err := s.repo.Insert(ctx, s.db, token); err != nil {
		return nil, err
	}

	s.metrics.RecordTokenIssued(ctx, orgID)
	if s.audit != nil {
		fingerprint := masking.Fingerprint(token.ID)
		if err := s.audit.AuditLog(ctx, orgID, "", nil, auditdomain.ActionSiteTokenIssued, "site_token", &fingerprint, map[string]any{
			"site_id":     siteID,
			"max_uses":    maxUses,
			"valid_hours": validHours,
		}); err != nil {
			s.log.Warn("audit site token issue failed", zap.Error(err))
		}
	}

	s.log.Info("site token issued",
		zap.String("org_id", orgID),
		zap.String("site_id", siteID),
		zap.Time("expires_at", token.ExpiresAt),
		zap.Int("max_uses", maxUses),
	)
	return token, nil
}

// Validate reads the token and reports whether it may still be consumed. It does not mutate.
func (s *Service) Validate(ctx context.Context, tokenID string) (*domain.Grant, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil, domain.Rejected(domain.ReasonNotFound)
	}

	token, err := s.repo.FindByID(ctx, s.db, tokenID)
	if err != nil {
		return nil, err
	}
	if reason := token.Check(s.clock.Now()); reason != "" {
		return nil, domain.Rejected(reason)
	}

	return &domain.Grant{TokenID: token.ID, SiteID: token.SiteID, OrgID: token.OrgID}, nil
}

func (s *Service) Consume(ctx context.Context, tokenID, serial string) error {
	return s.ConsumeTx(ctx, s.db, tokenID, serial)
}

func (s *Service) ConsumeTx(ctx context.Context, tx *gorm.DB, tokenID, serial string) error {
	tokenID = strings.TrimSpace(tokenID)
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return domain.ErrInvalidSerial
	}
	if tokenID == "" {
		return domain.Rejected(domain.ReasonNotFound)
	}

	now := s.clock.Now()
	affected, err := s.repo.ConsumeIfValid(ctx, tx, tokenID, serial, now)
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	// Nothing consumed; re-read to tell the caller why.
	token, err := s.repo.FindByID(ctx, tx, tokenID)
	if err != nil {
		return err
	}
	reason := token.Check(now)
	if reason == "" {
		reason = domain.ReasonExhausted
	}
	return domain.Rejected(reason)
}

// ListPending returns unused tokens, newest first. An empty orgID lists every org.
func (s *Service) ListPending(ctx context.Context, orgID string) ([]domain.Token, error) {
	return s.repo.ListPending(ctx, s.db, strings.TrimSpace(orgID))
}

func generateTokenID() (string, error) {
	buf := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
