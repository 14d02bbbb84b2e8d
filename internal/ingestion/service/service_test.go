package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	cameradomain "github.com/smallbiznis/edgecount/internal/camera/domain"
	camerarepository "github.com/smallbiznis/edgecount/internal/camera/repository"
	cameraservice "github.com/smallbiznis/edgecount/internal/camera/service"
	"github.com/smallbiznis/edgecount/internal/clock"
	"github.com/smallbiznis/edgecount/internal/handshake/credential"
	"github.com/smallbiznis/edgecount/internal/ingestion/domain"
	"github.com/smallbiznis/edgecount/internal/ingestion/repository"
	"github.com/smallbiznis/edgecount/internal/ingestion/service"
	"github.com/smallbiznis/edgecount/internal/liveevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc     domain.Service
	db      *gorm.DB
	clk     *clock.FakeClock
	hub     *liveevents.Hub
	cameras cameradomain.Service
}

func setup(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&cameradomain.Camera{}, &domain.Report{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(epoch)
	cameras := cameraservice.New(cameraservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Repo:  camerarepository.Provide(),
	})
	hub := liveevents.NewHub()
	svc := service.New(service.Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clk,
		GenID:   node,
		Repo:    repository.Provide(),
		Cameras: cameras,
		Hub:     hub,
	})
	return &harness{svc: svc, db: db, clk: clk, hub: hub, cameras: cameras}
}

func (h *harness) boundCamera(t *testing.T, serial, orgID, siteID string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.cameras.Register(ctx, cameradomain.RegisterRequest{Serial: serial})
	require.NoError(t, err)
	_, err = h.cameras.Bind(ctx, cameradomain.BindRequest{Serial: serial, OrgID: orgID, SiteID: siteID})
	require.NoError(t, err)
}

func (h *harness) report(t *testing.T, id string) domain.Report {
	t.Helper()
	var report domain.Report
	require.NoError(t, h.db.Where("id = ?", id).First(&report).Error)
	return report
}

func TestIngestStoresReportUnderCameraTenant(t *testing.T) {
	h := setup(t)
	h.boundCamera(t, "HAILO-A001-123456", "org-1", "site-1")
	h.clk.Advance(time.Minute)

	res, err := h.svc.Ingest(context.Background(), []byte(`{"serial":"HAILO-A001-123456","counts":{"person":5,"car":2}}`), domain.IngestOptions{})
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	assert.Equal(t, "CAM_123456", res.CameraID)
	assert.Equal(t, "legacy_flat", res.Schema)

	report := h.report(t, res.ID)
	assert.Equal(t, int64(7), report.Total)
	assert.Equal(t, map[string]int64{"person": 5, "car": 2}, report.Counts.Data())
	assert.Equal(t, "org-1", report.OrgID)
	assert.Equal(t, "site-1", report.SiteID)
	assert.Equal(t, "CAM_123456", report.CameraID)
	assert.True(t, report.Timestamp.Equal(epoch.Add(time.Minute)))

	cam, err := h.cameras.Get(context.Background(), "HAILO-A001-123456")
	require.NoError(t, err)
	assert.Equal(t, cameradomain.StatusActive, cam.Status)
	require.NotNil(t, cam.LastSeen)
	assert.True(t, cam.LastSeen.Equal(epoch.Add(time.Minute)))
}

func TestIngestShapesNormalizeIdentically(t *testing.T) {
	h := setup(t)
	h.boundCamera(t, "HAILO-A001-123456", "org-1", "site-1")

	payloads := map[string]string{
		"nested":      `{"identity":{"serial":"HAILO-A001-123456","tenant_id":"org-evil"},"data":{"counts":{"person":5,"car":2}}}`,
		"tenant_flat": `{"serial":"HAILO-A001-123456","tenant_id":"org-evil","site_id":"site-evil","data":{"counts":{"person":5,"car":2}}}`,
		"legacy_flat": `{"serial":"HAILO-A001-123456","site_id":"site-evil","camera_id":"CAM_EVIL","counts":{"person":5,"car":2}}`,
	}
	for schema, payload := range payloads {
		res, err := h.svc.Ingest(context.Background(), []byte(payload), domain.IngestOptions{})
		require.NoError(t, err, schema)
		assert.Equal(t, schema, res.Schema)

		report := h.report(t, res.ID)
		assert.Equal(t, "CAM_123456", report.CameraID, schema)
		assert.Equal(t, "org-1", report.OrgID, schema)
		assert.Equal(t, "site-1", report.SiteID, schema)
		assert.Equal(t, int64(7), report.Total, schema)
	}
}

func TestIngestRejections(t *testing.T) {
	h := setup(t)
	h.boundCamera(t, "SER-BOUND", "org-1", "site-1")
	_, err := h.cameras.Register(context.Background(), cameradomain.RegisterRequest{Serial: "SER-LOOSE"})
	require.NoError(t, err)
	_, err = h.cameras.Register(context.Background(), cameradomain.RegisterRequest{Serial: "SER-HALF"})
	require.NoError(t, err)
	require.NoError(t, h.db.Model(&cameradomain.Camera{}).Where("serial = ?", "SER-HALF").Update("org_id", "org-1").Error)

	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"unknown serial", `{"serial":"SER-404","counts":{"person":1}}`, domain.ErrCameraNotRegistered},
		{"unassigned camera", `{"serial":"SER-LOOSE","counts":{"person":1}}`, domain.ErrCameraUnassigned},
		{"org without site", `{"serial":"SER-HALF","counts":{"person":1}}`, domain.ErrCameraUnassigned},
		{"unrecognized shape", `{"serial":"SER-BOUND","people":3}`, domain.ErrUnrecognizedSchema},
		{"malformed json", `{"serial":`, domain.ErrUnrecognizedSchema},
		{"missing serial", `{"counts":{"person":1}}`, domain.ErrMissingSerial},
		{"missing counts", `{"serial":"SER-BOUND","data":{"temperature":20}}`, domain.ErrMissingCounts},
		{"counts not an object", `{"serial":"SER-BOUND","data":{"counts":[1,2]}}`, domain.ErrMissingCounts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Ingest(context.Background(), []byte(tt.payload), domain.IngestOptions{})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	var stored int64
	require.NoError(t, h.db.Model(&domain.Report{}).Count(&stored).Error)
	assert.Zero(t, stored)
}

func TestIngestTimestampAndHardware(t *testing.T) {
	h := setup(t)
	h.boundCamera(t, "SER-1", "org-1", "site-1")

	res, err := h.svc.Ingest(context.Background(), []byte(`{
		"identity": {"serial": "SER-1"},
		"environment": {"timestamp": "2026-05-04T08:15:00Z"},
		"timestamp": "2020-01-01T00:00:00Z",
		"data": {"counts": {"person": 2, "fps": 14.5, "hardware": {"cpu_temp": 51.0, "hailo_temp": 60.0}}}
	}`), domain.IngestOptions{})
	require.NoError(t, err)

	report := h.report(t, res.ID)
	assert.True(t, report.Timestamp.Equal(time.Date(2026, 5, 4, 8, 15, 0, 0, time.UTC)))
	assert.Equal(t, int64(2), report.Total)
	assert.Equal(t, map[string]int64{"person": 2}, report.Counts.Data())

	hw := report.Hardware.Data()
	require.NotNil(t, hw.FPS)
	assert.InDelta(t, 14.5, *hw.FPS, 1e-9)
	require.NotNil(t, hw.CPUTemp)
	require.NotNil(t, hw.AcceleratorTemp)
	assert.Nil(t, hw.AcceleratorLoad)

	res, err = h.svc.Ingest(context.Background(), []byte(`{"serial":"SER-1","timestamp":"not a time","counts":{"a":1}}`), domain.IngestOptions{})
	require.NoError(t, err)
	assert.True(t, h.report(t, res.ID).Timestamp.Equal(epoch))
}

func TestIngestTruncatesLongKeyOnRuneBoundary(t *testing.T) {
	h := setup(t)
	h.boundCamera(t, "SER-1", "org-1", "site-1")
	ctx := context.Background()
	payload := []byte(`{"serial":"SER-1","counts":{"person":1}}`)
	key := strings.Repeat("a", 254) + "ééé"

	first, err := h.svc.Ingest(ctx, payload, domain.IngestOptions{IdempotencyKey: key})
	require.NoError(t, err)

	report := h.report(t, first.ID)
	require.NotNil(t, report.IdempotencyKey)
	assert.True(t, utf8.ValidString(*report.IdempotencyKey))
	assert.Equal(t, strings.Repeat("a", 254), *report.IdempotencyKey)

	again, err := h.svc.Ingest(ctx, payload, domain.IngestOptions{IdempotencyKey: key})
	require.NoError(t, err)
	assert.True(t, again.Deduplicated)
	assert.Equal(t, first.ID, again.ID)
}

func TestIngestDeduplicatesByKey(t *testing.T) {
	h := setup(t)
	h.boundCamera(t, "SER-1", "org-1", "site-1")
	h.boundCamera(t, "SER-2", "org-1", "site-1")
	ctx := context.Background()
	payload := []byte(`{"serial":"SER-1","counts":{"person":1}}`)

	first, err := h.svc.Ingest(ctx, payload, domain.IngestOptions{IdempotencyKey: "batch-1"})
	require.NoError(t, err)
	again, err := h.svc.Ingest(ctx, payload, domain.IngestOptions{IdempotencyKey: "batch-1"})
	require.NoError(t, err)
	assert.True(t, again.Deduplicated)
	assert.Equal(t, first.ID, again.ID)

	// message_id in the payload works when no header is sent.
	withID := []byte(`{"serial":"SER-1","message_id":"msg-9","counts":{"person":1}}`)
	a, err := h.svc.Ingest(ctx, withID, domain.IngestOptions{})
	require.NoError(t, err)
	b, err := h.svc.Ingest(ctx, withID, domain.IngestOptions{})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.True(t, b.Deduplicated)

	// Keys are scoped per serial.
	other, err := h.svc.Ingest(ctx, []byte(`{"serial":"SER-2","counts":{"person":1}}`), domain.IngestOptions{IdempotencyKey: "batch-1"})
	require.NoError(t, err)
	assert.False(t, other.Deduplicated)

	// No key means every report is stored.
	_, err = h.svc.Ingest(ctx, payload, domain.IngestOptions{})
	require.NoError(t, err)
	_, err = h.svc.Ingest(ctx, payload, domain.IngestOptions{})
	require.NoError(t, err)

	var stored int64
	require.NoError(t, h.db.Model(&domain.Report{}).Count(&stored).Error)
	assert.Equal(t, int64(5), stored)
}

func TestIngestConcurrentSameKeyStoresOnce(t *testing.T) {
	h := setup(t)
	h.boundCamera(t, "SER-1", "org-1", "site-1")

	const racers = 6
	ids := make([]string, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.Ingest(context.Background(), []byte(`{"serial":"SER-1","counts":{"person":1}}`), domain.IngestOptions{IdempotencyKey: "same"})
			if assert.NoError(t, err) {
				ids[i] = res.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var stored int64
	require.NoError(t, h.db.Model(&domain.Report{}).Count(&stored).Error)
	assert.Equal(t, int64(1), stored)
}

func TestIngestPublishesToOrgStream(t *testing.T) {
	h := setup(t)
	h.boundCamera(t, "SER-1", "org-1", "site-1")
	h.boundCamera(t, "SER-2", "org-2", "site-9")

	sub, _, err := h.hub.Subscribe("org-1")
	require.NoError(t, err)
	defer sub.Close()

	ctx := context.Background()
	res, err := h.svc.Ingest(ctx, []byte(`{"serial":"SER-1","counts":{"person":3}}`), domain.IngestOptions{IdempotencyKey: "k"})
	require.NoError(t, err)
	_, err = h.svc.Ingest(ctx, []byte(`{"serial":"SER-1","counts":{"person":3}}`), domain.IngestOptions{IdempotencyKey: "k"})
	require.NoError(t, err)
	_, err = h.svc.Ingest(ctx, []byte(`{"serial":"SER-2","counts":{"person":3}}`), domain.IngestOptions{})
	require.NoError(t, err)

	select {
	case event := <-sub.Events():
		assert.Equal(t, res.ID, event.ReportID)
		assert.Equal(t, int64(3), event.Total)
		assert.Equal(t, "site-1", event.SiteID)
		assert.Equal(t, liveevents.StatusAccepted, event.Status)
	case <-time.After(time.Second):
		t.Fatal("expected a report event")
	}
	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected event %+v", event)
	default:
	}
}

func TestIngestToleratesDeviceTokenMismatch(t *testing.T) {
	h := setup(t)
	h.boundCamera(t, "SER-1", "org-1", "site-1")
	digest, err := credential.Hash("device_SER-1_good")
	require.NoError(t, err)
	require.NoError(t, h.db.Model(&cameradomain.Camera{}).Where("serial = ?", "SER-1").Update("auth_token_digest", digest).Error)

	for i, token := range []string{"device_SER-1_good", "device_SER-1_bad", ""} {
		_, err := h.svc.Ingest(context.Background(), []byte(fmt.Sprintf(`{"serial":"SER-1","message_id":"m-%d","counts":{"a":1}}`, i)), domain.IngestOptions{DeviceToken: token})
		assert.NoError(t, err, token)
	}
}
