package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/edgecount/internal/audit/domain"
	"github.com/smallbiznis/edgecount/internal/audit/repository"
	"github.com/smallbiznis/edgecount/internal/audit/service"
	"github.com/smallbiznis/edgecount/internal/clock"
	obscontext "github.com/smallbiznis/edgecount/internal/observability/context"
	"github.com/smallbiznis/edgecount/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setup(t *testing.T) (auditdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := service.NewService(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, db, clk
}

func TestAuditLogResolvesActorFromContext(t *testing.T) {
	svc, db, _ := setup(t)
	ctx := obscontext.WithActor(context.Background(), "api_key", "key_abc")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	target := "tok-1"
	require.NoError(t, svc.AuditLog(ctx, "org-1", "", nil, auditdomain.ActionSiteTokenIssued, "site_token", &target, map[string]any{
		"site_id":    "site-1",
		"ip_address": "10.0.0.7",
	}))

	var entry auditdomain.AuditLog
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, "api_key", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "key_abc", *entry.ActorID)
	require.NotNil(t, entry.OrgID)
	assert.Equal(t, "org-1", *entry.OrgID)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "10.0.0.7", *entry.IPAddress)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	assert.Equal(t, "site-1", entry.Metadata["site_id"])
	_, leaked := entry.Metadata["ip_address"]
	assert.False(t, leaked)
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _, _ := setup(t)
	err := svc.AuditLog(context.Background(), "org-1", "system", nil, " ", "x", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc, _, clk := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.AuditLog(ctx, "org-1", "system", nil, auditdomain.ActionCameraBound, "camera", nil, nil))
		clk.Advance(time.Minute)
	}
	require.NoError(t, svc.AuditLog(ctx, "org-2", "system", nil, auditdomain.ActionCameraBound, "camera", nil, nil))

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		OrgID:      "org-1",
		Pagination: pagination.Pagination{PageSize: 3},
	})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 3)
	assert.True(t, first.HasMore)
	assert.True(t, first.AuditLogs[0].CreatedAt.After(first.AuditLogs[2].CreatedAt))

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		OrgID:      "org-1",
		Pagination: pagination.Pagination{PageSize: 3, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 2)
	assert.False(t, second.HasMore)
}

func TestListValidation(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.List(ctx, auditdomain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidOrganization)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{OrgID: "org-1", Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	start := time.Now()
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{OrgID: "org-1", StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
