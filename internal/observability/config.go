package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/edgecount/internal/config"
)

const (
	defaultServiceName    = "edgecount"
	defaultMetricsPeriod  = 10 * time.Second
	defaultSamplingRatio  = 0.1
	defaultExportProtocol = "grpc"
)

// Config is the observability view of the process config. Traces and metrics
// can be switched independently; both default to OTEL_ENABLED.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	TracesEnabled  bool
	MetricsEnabled bool
	MetricsPeriod  time.Duration

	ExporterEndpoint string
	ExporterProtocol string
	SamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	otelEnabled := envBool("OTEL_ENABLED", false)

	out := Config{
		ServiceName:      firstNonEmpty(cfg.AppName, defaultServiceName),
		Environment:      env("DEPLOYMENT_ENV", cfg.Environment),
		Version:          env("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:         strings.ToLower(env("LOG_LEVEL", "info")),
		LogFormat:        logFormat(env("LOG_FORMAT", "json")),
		TracesEnabled:    envBool("OTEL_TRACES_ENABLED", otelEnabled),
		MetricsEnabled:   envBool("OTEL_METRICS_ENABLED", otelEnabled),
		MetricsPeriod:    envDuration("OTEL_METRIC_EXPORT_INTERVAL", defaultMetricsPeriod),
		ExporterEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		ExporterProtocol: strings.ToLower(env("OTEL_EXPORTER_OTLP_PROTOCOL", defaultExportProtocol)),
		SamplingRatio:    envFloat("OTEL_SAMPLING_RATIO", defaultSamplingRatio),
	}
	if out.SamplingRatio < 0 || out.SamplingRatio > 1 {
		out.SamplingRatio = defaultSamplingRatio
	}
	return out
}

// Debug turns on verbose request logging and stack traces.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func logFormat(value string) string {
	if strings.EqualFold(value, "console") {
		return "console"
	}
	return "json"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func env(key, def string) string {
	return firstNonEmpty(os.Getenv(key), def)
}

func envBool(key string, def bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return parsed
}

func envFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}

// envDuration accepts a Go duration ("15s") or whole milliseconds, the OTEL convention.
func envDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if millis, err := strconv.Atoi(value); err == nil && millis > 0 {
		return time.Duration(millis) * time.Millisecond
	}
	return def
}
