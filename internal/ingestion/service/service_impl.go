package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	cameradomain "github.com/smallbiznis/edgecount/internal/camera/domain"
	"github.com/smallbiznis/edgecount/internal/clock"
	"github.com/smallbiznis/edgecount/internal/handshake/credential"
	"github.com/smallbiznis/edgecount/internal/ingestion/decoder"
	"github.com/smallbiznis/edgecount/internal/ingestion/domain"
	"github.com/smallbiznis/edgecount/internal/liveevents"
	"github.com/smallbiznis/edgecount/internal/observability/logger"
	"github.com/smallbiznis/edgecount/internal/observability/metrics"
	"github.com/smallbiznis/edgecount/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxIdempotencyKeyLength = 255

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	GenID   *snowflake.Node
	Repo    domain.Repository
	Cameras cameradomain.Service
	Hub     *liveevents.Hub  `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	genID   *snowflake.Node
	repo    domain.Repository
	cameras cameradomain.Service
	hub     *liveevents.Hub
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ingestion.service"),
		clock:   p.Clock,
		genID:   p.GenID,
		repo:    p.Repo,
		cameras: p.Cameras,
		hub:     p.Hub,
		metrics: p.Metrics,
	}
}

// Ingest decodes a device report, attributes it to the camera's tenant and stores it.
// Tenant fields in the payload are never trusted.
func (s *Service) Ingest(ctx context.Context, raw []byte, opts domain.IngestOptions) (*domain.Result, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.ingest")
	defer span.End()

	env, err := decoder.Decode(raw)
	if err != nil {
		return nil, s.rejected(ctx, "unrecognized_schema", domain.ErrUnrecognizedSchema)
	}
	span.SetAttributes(attribute.String("ingest.schema", string(env.Schema)))

	serial := strings.TrimSpace(env.Serial)
	if serial == "" {
		return nil, s.rejected(ctx, "missing_serial", domain.ErrMissingSerial)
	}
	log := logger.WithDevice(logger.WithContext(ctx, s.log), serial)

	camera, err := s.cameras.Get(ctx, serial)
	if err != nil {
		if errors.Is(err, cameradomain.ErrNotFound) {
			return nil, s.rejected(ctx, "not_registered", domain.ErrCameraNotRegistered)
		}
		return nil, fmt.Errorf("load camera: %w", err)
	}
	if !camera.Assigned() {
		return nil, s.rejected(ctx, "unassigned", domain.ErrCameraUnassigned)
	}

	counts, ok := decoder.NormalizeCounts(env.Counts)
	if !ok {
		return nil, s.rejected(ctx, "missing_counts", domain.ErrMissingCounts)
	}

	if claimed := strings.TrimSpace(env.ClaimedTenant); claimed != "" && claimed != camera.Org() {
		log.Debug("payload tenant ignored", zap.String("claimed_tenant", claimed), zap.String("org_id", camera.Org()))
	}
	s.verifyDeviceToken(ctx, log, camera, opts.DeviceToken)

	key := idempotencyKey(opts.IdempotencyKey, env.MessageID)
	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, serial, key)
		if err != nil {
			return nil, fmt.Errorf("find report: %w", err)
		}
		if existing != nil {
			return s.deduplicated(ctx, existing), nil
		}
	}

	now := s.clock.Now().UTC()
	report := &domain.Report{
		ID:        s.genID.Generate(),
		CameraID:  camera.CameraID,
		Serial:    serial,
		OrgID:     camera.Org(),
		SiteID:    camera.Site(),
		Timestamp: decoder.ParseTimestamp(env.Timestamp, now),
		Counts:    datatypes.NewJSONType(counts.Values),
		Total:     counts.Total,
		Hardware:  datatypes.NewJSONType(hardwareOf(counts.Hardware)),
		Schema:    string(env.Schema),
		CreatedAt: now,
	}
	if key != "" {
		report.IdempotencyKey = &key
	}

	var existing *domain.Report
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.Insert(ctx, tx, report)
		if err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
		if !inserted {
			// A concurrent request with the same key won.
			existing, err = s.repo.FindByIdempotencyKey(ctx, tx, serial, key)
			if err != nil {
				return fmt.Errorf("find report: %w", err)
			}
			if existing == nil {
				return errors.New("report insert skipped without a conflicting row")
			}
			return nil
		}
		if err := s.cameras.Touch(ctx, tx, serial); err != nil {
			if errors.Is(err, cameradomain.ErrNotFound) {
				return domain.ErrCameraNotRegistered
			}
			return fmt.Errorf("touch camera: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrCameraNotRegistered) {
			return nil, s.rejected(ctx, "not_registered", err)
		}
		span.RecordError(tracing.SafeError(err))
		log.Error("ingest failed", zap.Error(err))
		return nil, err
	}
	if existing != nil {
		return s.deduplicated(ctx, existing), nil
	}

	s.metrics.RecordReportIngested(ctx, report.Schema, false)
	s.publish(report, liveevents.StatusAccepted)
	log.Debug("report ingested",
		zap.String("report_id", report.ID.String()),
		zap.String("schema", report.Schema),
		zap.Int64("total", report.Total),
	)

	return &domain.Result{
		ID:       report.ID.String(),
		CameraID: report.CameraID,
		Schema:   report.Schema,
	}, nil
}

func (s *Service) deduplicated(ctx context.Context, report *domain.Report) *domain.Result {
	s.metrics.RecordReportIngested(ctx, report.Schema, true)
	return &domain.Result{
		ID:           report.ID.String(),
		CameraID:     report.CameraID,
		Schema:       report.Schema,
		Deduplicated: true,
	}
}

func (s *Service) rejected(ctx context.Context, reason string, err error) error {
	s.metrics.RecordIngestRejected(ctx, reason)
	return err
}

// verifyDeviceToken only observes; devices provisioned before auth tokens existed still report.
func (s *Service) verifyDeviceToken(ctx context.Context, log *zap.Logger, camera *cameradomain.Camera, token string) {
	token = strings.TrimSpace(token)
	if token == "" || camera.AuthTokenDigest == nil || *camera.AuthTokenDigest == "" {
		return
	}
	if credential.Verify(token, *camera.AuthTokenDigest) {
		return
	}
	s.metrics.RecordDeviceTokenMismatch(ctx)
	log.Warn("device token mismatch")
}

func (s *Service) publish(report *domain.Report, status string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(report.OrgID, liveevents.ReportEvent{
		ReportID:  report.ID.String(),
		CameraID:  report.CameraID,
		Serial:    report.Serial,
		SiteID:    report.SiteID,
		Counts:    report.Counts.Data(),
		Total:     report.Total,
		Timestamp: report.Timestamp.UTC().Format(time.RFC3339),
		Schema:    report.Schema,
		Status:    status,
	})
}

// idempotencyKey prefers the transport header over the payload message id.
func idempotencyKey(header, messageID string) string {
	key := strings.TrimSpace(header)
	if key == "" {
		key = strings.TrimSpace(messageID)
	}
	if len(key) <= maxIdempotencyKeyLength {
		return key
	}
	// Cut on a rune boundary; the column rejects split UTF-8 sequences.
	cut := maxIdempotencyKeyLength
	for cut > 0 && !utf8.RuneStart(key[cut]) {
		cut--
	}
	return key[:cut]
}

func hardwareOf(h decoder.Hardware) domain.Hardware {
	return domain.Hardware{
		CPUTemp:         h.CPUTemp,
		AcceleratorTemp: h.AcceleratorTemp,
		AcceleratorLoad: h.AcceleratorLoad,
		FPS:             h.FPS,
	}
}
