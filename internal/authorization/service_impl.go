package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/edgecount/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectSiteToken = "site_token"
	ObjectCamera    = "camera"
	ObjectReport    = "report"
	ObjectAuditLog  = "audit_log"
	ObjectAPIKey    = "api_key"
)

const (
	ActionSiteTokenView  = "site_token.view"
	ActionSiteTokenIssue = "site_token.issue"

	ActionCameraView = "camera.view"
	ActionCameraBind = "camera.bind"

	ActionReportView = "report.view"

	ActionAuditLogView = "audit_log.view"

	ActionAPIKeyView   = "api_key.view"
	ActionAPIKeyCreate = "api_key.create"
	ActionAPIKeyRevoke = "api_key.revoke"
)

const (
	roleOrgViewer     = "org_viewer"
	roleOrgAdmin      = "org_admin"
	rolePlatformAdmin = "platform_admin"

	platformDomain = "platform"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, actorID, err := s.resolveActor(ctx, actor, orgID)
	if err != nil {
		s.auditDenied(ctx, actorID, orgID, object, action)
		return err
	}

	domain := platformDomain
	if orgID != "" {
		domain = fmt.Sprintf("org:%s", orgID)
	}
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorID, orgID, object, action)
		return ErrForbidden
	}
	return nil
}

// resolveActor maps "api_key:<key_id>" to the key's role. Org-scoped keys never
// reach another org or the platform scope.
func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, orgID string) (string, string, *string, error) {
	if !strings.HasPrefix(actor, "api_key:") {
		return "", "", nil, ErrInvalidActor
	}
	keyID := strings.TrimSpace(strings.TrimPrefix(actor, "api_key:"))
	if keyID == "" {
		return "", "", nil, ErrInvalidActor
	}

	var row struct {
		Role  string  `gorm:"column:role"`
		OrgID *string `gorm:"column:org_id"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role, org_id
		 FROM api_keys
		 WHERE key_id = ? AND is_active = ?
		 LIMIT 1`,
		keyID,
		true,
	).Scan(&row).Error; err != nil {
		return actor, "", &keyID, err
	}

	role := strings.ToLower(strings.TrimSpace(row.Role))
	switch role {
	case rolePlatformAdmin:
	case roleOrgAdmin, roleOrgViewer:
		if row.OrgID == nil || orgID == "" || *row.OrgID != orgID {
			return actor, "", &keyID, ErrForbidden
		}
	default:
		return actor, "", &keyID, ErrForbidden
	}
	return actor, "role:" + role, &keyID, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorID *string, orgID string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := "capability"
	if err := s.auditSvc.AuditLog(ctx, orgID, string(auditdomain.ActorTypeAPIKey), actorID, auditdomain.ActionAuthzDenied, "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
	}); err != nil {
		s.log.Warn("failed to audit authorization denial", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	viewer := [][]string{
		{ObjectSiteToken, ActionSiteTokenView},
		{ObjectCamera, ActionCameraView},
		{ObjectReport, ActionReportView},
		{ObjectAuditLog, ActionAuditLogView},
	}
	admin := append([][]string{
		{ObjectSiteToken, ActionSiteTokenIssue},
		{ObjectCamera, ActionCameraBind},
	}, viewer...)
	platform := append([][]string{
		{ObjectAPIKey, ActionAPIKeyView},
		{ObjectAPIKey, ActionAPIKeyCreate},
		{ObjectAPIKey, ActionAPIKeyRevoke},
	}, admin...)

	grants := map[string][][]string{
		"role:" + roleOrgViewer:     viewer,
		"role:" + roleOrgAdmin:      admin,
		"role:" + rolePlatformAdmin: platform,
	}
	for role, rules := range grants {
		for _, rule := range rules {
			if _, err := enforcer.AddPolicy(role, rule[0], rule[1]); err != nil {
				return err
			}
		}
	}
	return nil
}
