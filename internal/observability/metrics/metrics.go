package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ExportInterval   time.Duration
	ServiceName      string
	Environment      string
}

// Metrics exposes domain instruments for the device trust and ingestion paths.
type Metrics struct {
	tokensIssued       metric.Int64Counter
	handshakes         metric.Int64Counter
	handshakeDuration  metric.Float64Histogram
	reportsIngested    metric.Int64Counter
	ingestRejected     metric.Int64Counter
	deviceTokenInvalid metric.Int64Counter
	rateLimitAllowed   metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
		zap.Duration("interval", interval),
	)
	return provider, nil
}

// New creates the domain instruments on the given provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "edgecount"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.tokensIssued, err = meter.Int64Counter("edgecount_site_tokens_issued_total"); err != nil {
		return nil, err
	}
	if m.handshakes, err = meter.Int64Counter("edgecount_handshakes_total"); err != nil {
		return nil, err
	}
	if m.handshakeDuration, err = meter.Float64Histogram("edgecount_handshake_duration_seconds", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.reportsIngested, err = meter.Int64Counter("edgecount_reports_ingested_total"); err != nil {
		return nil, err
	}
	if m.ingestRejected, err = meter.Int64Counter("edgecount_ingest_rejected_total"); err != nil {
		return nil, err
	}
	if m.deviceTokenInvalid, err = meter.Int64Counter("edgecount_device_token_mismatch_total"); err != nil {
		return nil, err
	}
	if m.rateLimitAllowed, err = meter.Int64Counter("edgecount_rate_limit_allowed_total"); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("edgecount_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordTokenIssued(ctx context.Context, orgID string) {
	if m == nil {
		return
	}
	m.tokensIssued.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
	)...))
}

// RecordHandshake counts a finished handshake by terminal state and reason.
func (m *Metrics) RecordHandshake(ctx context.Context, state, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(
		attribute.String("state", strings.TrimSpace(state)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)...)
	m.handshakes.Add(ctx, 1, attrs)
	m.handshakeDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) RecordReportIngested(ctx context.Context, schema string, deduplicated bool) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if deduplicated {
		outcome = "deduplicated"
	}
	m.reportsIngested.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("schema", strings.TrimSpace(schema)),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordIngestRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.ingestRejected.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("reason", strings.TrimSpace(reason)),
	)...))
}

func (m *Metrics) RecordDeviceTokenMismatch(ctx context.Context) {
	if m == nil {
		return
	}
	m.deviceTokenInvalid.Add(ctx, 1)
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// serial and token ids never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_id":      {},
	"endpoint":    {},
	"status_code": {},
	"state":       {},
	"reason":      {},
	"schema":      {},
	"outcome":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
