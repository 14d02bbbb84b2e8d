package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	apikeydomain "github.com/smallbiznis/edgecount/internal/apikey/domain"
	"github.com/smallbiznis/edgecount/internal/apikey/repository"
	"github.com/smallbiznis/edgecount/internal/apikey/service"
	"github.com/smallbiznis/edgecount/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (apikeydomain.Service, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&apikeydomain.APIKey{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(epoch)
	return service.New(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	}), clk
}

func TestCreateAndAuthenticate(t *testing.T) {
	svc, clk := setup(t)
	ctx := context.Background()

	secret, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "ops", Role: apikeydomain.RoleOrgAdmin, OrgID: "org-1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret.APIKey, "eck_"))
	assert.True(t, strings.HasPrefix(secret.KeyID, "key_"))
	require.NotNil(t, secret.OrgID)
	assert.Equal(t, "org-1", *secret.OrgID)

	clk.Advance(time.Minute)
	principal, err := svc.Authenticate(ctx, secret.APIKey)
	require.NoError(t, err)
	assert.Equal(t, secret.KeyID, principal.KeyID)
	assert.Equal(t, apikeydomain.RoleOrgAdmin, principal.Role)
	assert.Equal(t, "org-1", principal.OrgID)
	assert.Equal(t, "api_key:"+secret.KeyID, principal.Subject())

	keys, err := svc.List(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NotNil(t, keys[0].LastUsedAt)
	assert.True(t, keys[0].LastUsedAt.Equal(epoch.Add(time.Minute)))

	_, err = svc.Authenticate(ctx, secret.APIKey+"x")
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)
	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  apikeydomain.CreateRequest
		want error
	}{
		{"missing name", apikeydomain.CreateRequest{Role: apikeydomain.RolePlatformAdmin}, apikeydomain.ErrInvalidName},
		{"unknown role", apikeydomain.CreateRequest{Name: "x", Role: "owner"}, apikeydomain.ErrInvalidRole},
		{"org role without org", apikeydomain.CreateRequest{Name: "x", Role: apikeydomain.RoleOrgViewer}, apikeydomain.ErrInvalidOrganization},
		{"platform role with org", apikeydomain.CreateRequest{Name: "x", Role: apikeydomain.RolePlatformAdmin, OrgID: "org-1"}, apikeydomain.ErrInvalidOrganization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRevoke(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	secret, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "ci", Role: apikeydomain.RolePlatformAdmin})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, secret.KeyID))
	require.NoError(t, svc.Revoke(ctx, secret.KeyID))

	_, err = svc.Authenticate(ctx, secret.APIKey)
	assert.ErrorIs(t, err, apikeydomain.ErrUnauthorized)

	assert.ErrorIs(t, svc.Revoke(ctx, "key_MISSING"), apikeydomain.ErrNotFound)
	assert.ErrorIs(t, svc.Revoke(ctx, " "), apikeydomain.ErrInvalidKeyID)

	keys, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].IsActive)
	assert.NotNil(t, keys[0].RevokedAt)
}

func TestEnsureBootstrap(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	raw := "bootstrap-secret-0123456789abcdef"

	require.NoError(t, svc.EnsureBootstrap(ctx, ""))
	assert.ErrorIs(t, svc.EnsureBootstrap(ctx, "short"), apikeydomain.ErrInvalidBootstrapKey)

	require.NoError(t, svc.EnsureBootstrap(ctx, raw))
	require.NoError(t, svc.EnsureBootstrap(ctx, raw))

	keys, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, apikeydomain.RolePlatformAdmin, keys[0].Role)

	principal, err := svc.Authenticate(ctx, raw)
	require.NoError(t, err)
	assert.True(t, principal.CanAccessOrg("any-org"))
}

func TestPrincipalOrgAccess(t *testing.T) {
	viewer := apikeydomain.Principal{KeyID: "key_1", Role: apikeydomain.RoleOrgViewer, OrgID: "org-1"}
	assert.True(t, viewer.CanAccessOrg("org-1"))
	assert.False(t, viewer.CanAccessOrg("org-2"))
	assert.False(t, viewer.CanAccessOrg(""))
}
