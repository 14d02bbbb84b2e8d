package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/edgecount/internal/audit/domain"
	auditrepository "github.com/smallbiznis/edgecount/internal/audit/repository"
	auditservice "github.com/smallbiznis/edgecount/internal/audit/service"
	cameradomain "github.com/smallbiznis/edgecount/internal/camera/domain"
	camerarepository "github.com/smallbiznis/edgecount/internal/camera/repository"
	cameraservice "github.com/smallbiznis/edgecount/internal/camera/service"
	"github.com/smallbiznis/edgecount/internal/clock"
	"github.com/smallbiznis/edgecount/internal/config"
	"github.com/smallbiznis/edgecount/internal/handshake/credential"
	"github.com/smallbiznis/edgecount/internal/handshake/domain"
	"github.com/smallbiznis/edgecount/internal/handshake/service"
	sitedomain "github.com/smallbiznis/edgecount/internal/site/domain"
	siterepository "github.com/smallbiznis/edgecount/internal/site/repository"
	siteservice "github.com/smallbiznis/edgecount/internal/site/service"
	sitetokendomain "github.com/smallbiznis/edgecount/internal/sitetoken/domain"
	sitetokenrepository "github.com/smallbiznis/edgecount/internal/sitetoken/repository"
	sitetokenservice "github.com/smallbiznis/edgecount/internal/sitetoken/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type harness struct {
	db      *gorm.DB
	clock   *clock.FakeClock
	tokens  sitetokendomain.Service
	cameras cameradomain.Service
	svc     domain.Service
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) LockSerial(ctx context.Context, serial string) (func(), error) {
	args := m.Called(ctx, serial)
	unlock, _ := args.Get(0).(func())
	return unlock, args.Error(1)
}

func setup(t *testing.T, locker domain.SerialLocker) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&sitetokendomain.Token{}, &cameradomain.Camera{}, &sitedomain.Site{}, &auditdomain.AuditLog{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Create(&sitedomain.Site{ID: "site-7", OrgID: "org-1", Name: "Harbour Gate"}).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	clk := clock.NewFakeClock(epoch)
	policy := config.NewStaticHandshakePolicy(config.DefaultHandshakePolicy())
	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepository.Provide()})
	tokens := sitetokenservice.New(sitetokenservice.Params{DB: db, Log: log, Clock: clk, Policy: policy, Repo: sitetokenrepository.Provide()})
	cameras := cameraservice.New(cameraservice.Params{DB: db, Log: log, Clock: clk, Repo: camerarepository.Provide()})
	sites := siteservice.New(siteservice.Params{DB: db, Log: log, Repo: siterepository.Provide()})

	svc := service.New(service.Params{
		DB:      db,
		Log:     log,
		Clock:   clk,
		Policy:  policy,
		Tokens:  tokens,
		Cameras: cameras,
		Sites:   sites,
		Locker:  locker,
		Audit:   audit,
	})
	return &harness{db: db, clock: clk, tokens: tokens, cameras: cameras, svc: svc}
}

func (h *harness) issue(t *testing.T, orgID, siteID string, maxUses int) string {
	t.Helper()
	tok, err := h.tokens.Issue(context.Background(), sitetokendomain.IssueRequest{SiteID: siteID, OrgID: orgID, MaxUses: &maxUses})
	require.NoError(t, err)
	return tok.ID
}

func TestRegisterBindsDevice(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()
	tokenID := h.issue(t, "org-1", "site-7", 1)

	binding, err := h.svc.Register(ctx, domain.RegisterRequest{
		Serial:          "HAILO-A001-123456",
		Token:           tokenID,
		IPAddress:       "192.168.1.50",
		FirmwareVersion: "2.0.1",
	})
	require.NoError(t, err)

	assert.True(t, binding.Bound)
	assert.Equal(t, "CAM_123456", binding.CameraID)
	assert.Equal(t, "site-7", binding.SiteID)
	assert.Equal(t, "Harbour Gate", binding.SiteName)
	assert.Equal(t, "org-1", binding.OrgID)
	assert.Equal(t, "org-1", binding.TenantID)
	assert.Equal(t, "apikey", binding.AuthMode)
	assert.Equal(t, "aiod05", binding.PayloadFormat)
	assert.Equal(t, "http://localhost:8080/ingestCounts", binding.Endpoint)
	assert.Equal(t, epoch.Format(time.RFC3339), binding.RegisteredAt)
	assert.True(t, strings.HasPrefix(binding.AuthToken, "device_HAILO-A001-123456_"))

	cam, err := h.cameras.Get(ctx, "HAILO-A001-123456")
	require.NoError(t, err)
	assert.Equal(t, cameradomain.StatusBound, cam.Status)
	assert.Equal(t, "org-1", cam.Org())
	assert.Equal(t, "site-7", cam.Site())
	require.NotNil(t, cam.AuthTokenDigest)
	assert.True(t, credential.Verify(binding.AuthToken, *cam.AuthTokenDigest))

	var tok sitetokendomain.Token
	require.NoError(t, h.db.First(&tok, "id = ?", tokenID).Error)
	assert.Equal(t, 1, tok.UseCount)
	assert.True(t, tok.Used)
	assert.Equal(t, "HAILO-A001-123456", *tok.UsedBy)

	var actions []string
	require.NoError(t, h.db.Model(&auditdomain.AuditLog{}).Order("action").Pluck("action", &actions).Error)
	assert.Equal(t, []string{auditdomain.ActionDeviceRegistered, auditdomain.ActionSiteTokenConsumed}, actions)
}

func TestSecondRegisterWithSingleUseTokenIsExhausted(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()
	tokenID := h.issue(t, "org-1", "site-7", 1)

	_, err := h.svc.Register(ctx, domain.RegisterRequest{Serial: "DEV1", Token: tokenID})
	require.NoError(t, err)

	_, err = h.svc.Register(ctx, domain.RegisterRequest{Serial: "DEV1", Token: tokenID})
	require.Error(t, err)
	assert.ErrorIs(t, err, sitetokendomain.ErrTokenRejected)
	assert.Equal(t, sitetokendomain.ReasonExhausted, sitetokendomain.RejectionReason(err))
}

func TestRegisterRejections(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, domain.RegisterRequest{Serial: "DEV1"})
	assert.ErrorIs(t, err, domain.ErrMissingFields)
	_, err = h.svc.Register(ctx, domain.RegisterRequest{Token: "abc"})
	assert.ErrorIs(t, err, domain.ErrMissingFields)

	_, err = h.svc.Register(ctx, domain.RegisterRequest{Serial: "DEV1", Token: "nope"})
	assert.Equal(t, sitetokendomain.ReasonNotFound, sitetokendomain.RejectionReason(err))

	tokenID := h.issue(t, "org-1", "site-7", 5)
	h.clock.Advance(25 * time.Hour)
	_, err = h.svc.Register(ctx, domain.RegisterRequest{Serial: "DEV1", Token: tokenID})
	assert.Equal(t, sitetokendomain.ReasonExpired, sitetokendomain.RejectionReason(err))

	var rejected int64
	require.NoError(t, h.db.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionDeviceRejected).Count(&rejected).Error)
	assert.Equal(t, int64(2), rejected)
}

func TestReRegisterIsIdempotent(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()
	tokenID := h.issue(t, "org-1", "site-7", 2)

	first, err := h.svc.Register(ctx, domain.RegisterRequest{Serial: "HAILO-A001-123456", Token: tokenID})
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	second, err := h.svc.Register(ctx, domain.RegisterRequest{Serial: "HAILO-A001-123456", Token: tokenID})
	require.NoError(t, err)

	assert.Equal(t, first.CameraID, second.CameraID)
	assert.NotEqual(t, first.AuthToken, second.AuthToken)

	cam, err := h.cameras.Get(ctx, "HAILO-A001-123456")
	require.NoError(t, err)
	assert.True(t, cam.RegisteredAt.Equal(epoch))
	assert.True(t, credential.Verify(second.AuthToken, *cam.AuthTokenDigest))
	assert.False(t, credential.Verify(first.AuthToken, *cam.AuthTokenDigest))
}

func TestRegisterCrossTenantConflict(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, domain.RegisterRequest{Serial: "DEV1", Token: h.issue(t, "org-1", "site-7", 1)})
	require.NoError(t, err)

	foreign := h.issue(t, "org-2", "site-9", 1)
	_, err = h.svc.Register(ctx, domain.RegisterRequest{Serial: "DEV1", Token: foreign})
	assert.ErrorIs(t, err, domain.ErrOrgConflict)

	var tok sitetokendomain.Token
	require.NoError(t, h.db.First(&tok, "id = ?", foreign).Error)
	assert.Equal(t, 0, tok.UseCount, "conflicting handshake must not consume the token")

	cam, err := h.cameras.Get(ctx, "DEV1")
	require.NoError(t, err)
	assert.Equal(t, "org-1", cam.Org())
}

func TestConcurrentRegistrationsRespectMaxUses(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()

	const maxUses = 3
	tokenID := h.issue(t, "org-1", "site-7", maxUses)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < maxUses+1; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := h.svc.Register(ctx, domain.RegisterRequest{Serial: fmt.Sprintf("SER-%06d", i), Token: tokenID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case sitetokendomain.RejectionReason(err) == sitetokendomain.ReasonExhausted:
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, maxUses, ok)
	assert.Equal(t, 1, rejected)

	var tok sitetokendomain.Token
	require.NoError(t, h.db.First(&tok, "id = ?", tokenID).Error)
	assert.Equal(t, maxUses, tok.UseCount)

	var bound int64
	require.NoError(t, h.db.Model(&cameradomain.Camera{}).Count(&bound).Error)
	assert.Equal(t, int64(maxUses), bound, "the losing racer's bind must roll back")
}

func TestRegisterHonoursSerialLock(t *testing.T) {
	locker := &mockLocker{}
	h := setup(t, locker)
	ctx := context.Background()
	tokenID := h.issue(t, "org-1", "site-7", 1)

	locker.On("LockSerial", mock.Anything, "DEV1").Return(nil, domain.ErrRegistrationInProgress).Once()
	_, err := h.svc.Register(ctx, domain.RegisterRequest{Serial: "DEV1", Token: tokenID})
	assert.ErrorIs(t, err, domain.ErrRegistrationInProgress)

	released := false
	locker.On("LockSerial", mock.Anything, "DEV1").Return(func() { released = true }, nil).Once()
	_, err = h.svc.Register(ctx, domain.RegisterRequest{Serial: "DEV1", Token: tokenID})
	require.NoError(t, err)
	assert.True(t, released)

	// A broken lock backend does not block registration.
	other := h.issue(t, "org-1", "site-7", 1)
	locker.On("LockSerial", mock.Anything, "DEV2").Return(nil, errors.New("redis down")).Once()
	_, err = h.svc.Register(ctx, domain.RegisterRequest{Serial: "DEV2", Token: other})
	require.NoError(t, err)

	locker.AssertExpectations(t)
}

func TestActivate(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()

	_, err := h.svc.Activate(ctx, domain.ActivateRequest{})
	assert.ErrorIs(t, err, domain.ErrMissingSerial)

	_, err = h.svc.Activate(ctx, domain.ActivateRequest{Serial: "GHOST"})
	assert.ErrorIs(t, err, domain.ErrCameraNotRegistered)

	_, err = h.svc.Register(ctx, domain.RegisterRequest{Serial: "HAILO-A001-123456", Token: h.issue(t, "org-1", "site-7", 1)})
	require.NoError(t, err)

	cameraID, err := h.svc.Activate(ctx, domain.ActivateRequest{Serial: "HAILO-A001-123456"})
	require.NoError(t, err)
	assert.Equal(t, "CAM_123456", cameraID)

	cam, err := h.cameras.Get(ctx, "HAILO-A001-123456")
	require.NoError(t, err)
	assert.Equal(t, cameradomain.StatusActive, cam.Status)
	assert.NotNil(t, cam.LastActivation)
}
