package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/edgecount/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/edgecount/internal/audit/domain"
	"github.com/smallbiznis/edgecount/internal/audit/masking"
	"github.com/smallbiznis/edgecount/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiKeySecretBytes     = 32
	minBootstrapKeyLength = 24
	bootstrapKeyName      = "bootstrap"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  apikeydomain.Repository
	Audit auditdomain.Service `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  apikeydomain.Repository
	genID *snowflake.Node
	clock clock.Clock
	audit auditdomain.Service
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
		audit: p.Audit,
	}
}

func (s *Service) List(ctx context.Context, orgID string) ([]apikeydomain.Response, error) {
	items, err := s.repo.List(ctx, s.db, strings.TrimSpace(orgID))
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}
	role := apikeydomain.Role(strings.ToLower(strings.TrimSpace(string(req.Role))))
	if !role.Valid() {
		return nil, apikeydomain.ErrInvalidRole
	}
	orgID := strings.TrimSpace(req.OrgID)
	if role.OrgScoped() != (orgID != "") {
		return nil, apikeydomain.ErrInvalidOrganization
	}

	id := s.genID.Generate()
	keyID := newKeyID(id)
	plain, err := generateAPIKey(keyID)
	if err != nil {
		return nil, err
	}

	key := s.newKey(id, keyID, name, role, orgID, plain)
	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	if s.audit != nil {
		target := key.KeyID
		if err := s.audit.AuditLog(ctx, orgID, "", nil, auditdomain.ActionAPIKeyCreated, "api_key", &target, map[string]any{
			"name": name,
			"role": string(role),
		}); err != nil {
			s.log.Warn("failed to audit api key creation", zap.Error(err))
		}
	}

	return &apikeydomain.SecretResponse{KeyID: key.KeyID, APIKey: plain, Role: role, OrgID: key.OrgID}, nil
}

func (s *Service) Revoke(ctx context.Context, keyID string) error {
	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return apikeydomain.ErrInvalidKeyID
	}

	key, err := s.repo.FindByKeyID(ctx, s.db, trimmed)
	if err != nil {
		return err
	}
	if key == nil {
		return apikeydomain.ErrNotFound
	}

	affected, err := s.repo.Revoke(ctx, s.db, trimmed, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if affected == 0 {
		return nil
	}

	if s.audit != nil {
		if err := s.audit.AuditLog(ctx, key.Org(), "", nil, auditdomain.ActionAPIKeyRevoked, "api_key", &trimmed, nil); err != nil {
			s.log.Warn("failed to audit api key revocation", zap.Error(err))
		}
	}
	return nil
}

// Authenticate resolves a presented secret to its principal. Revoked and unknown
// keys are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, raw string) (*apikeydomain.Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apikeydomain.ErrUnauthorized
	}

	hash := apikeydomain.HashSecret(raw)
	key, err := s.repo.FindActiveByHash(ctx, s.db, hash)
	if err != nil {
		return nil, err
	}
	if key == nil || subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		if keyID, ok := apikeydomain.KeyIDFromSecret(raw); ok {
			s.log.Debug("api key rejected", zap.String("key_id", keyID))
		}
		return nil, apikeydomain.ErrUnauthorized
	}

	if err := s.repo.TouchLastUsed(ctx, s.db, int64(key.ID), s.clock.Now().UTC()); err != nil {
		s.log.Warn("failed to record api key usage", zap.String("key_id", key.KeyID), zap.Error(err))
	}

	return &apikeydomain.Principal{KeyID: key.KeyID, Role: key.Role, OrgID: key.Org()}, nil
}

func (s *Service) EnsureBootstrap(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if len(raw) < minBootstrapKeyLength {
		return apikeydomain.ErrInvalidBootstrapKey
	}

	exists, err := s.repo.ExistsByHash(ctx, s.db, apikeydomain.HashSecret(raw))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	id := s.genID.Generate()
	key := s.newKey(id, newKeyID(id), bootstrapKeyName, apikeydomain.RolePlatformAdmin, "", raw)
	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return err
	}
	s.log.Info("bootstrap admin key installed",
		zap.String("key_id", key.KeyID),
		zap.String("key", masking.MaskSecret(raw)),
	)
	return nil
}

func (s *Service) newKey(id snowflake.ID, keyID, name string, role apikeydomain.Role, orgID, plain string) *apikeydomain.APIKey {
	now := s.clock.Now().UTC()
	key := &apikeydomain.APIKey{
		ID:        id,
		KeyID:     keyID,
		Name:      name,
		Role:      role,
		KeyHash:   apikeydomain.HashSecret(plain),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if orgID != "" {
		key.OrgID = &orgID
	}
	return key
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	return apikeydomain.Response{
		KeyID:      key.KeyID,
		Name:       key.Name,
		Role:       key.Role,
		OrgID:      key.OrgID,
		IsActive:   key.IsActive,
		CreatedAt:  key.CreatedAt,
		LastUsedAt: key.LastUsedAt,
		RevokedAt:  key.RevokedAt,
	}
}

func generateAPIKey(keyID string) (string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return apikeydomain.FormatSecret(keyID, secret), nil
}

func newKeyID(id snowflake.ID) string {
	return "key_" + strings.ToUpper(strconv.FormatInt(int64(id), 36))
}
