package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/loqalabs/loqa-coach/internal/config"
)

// telemetry owns the trace and meter providers of one runtime. Metrics are
// collected in a private Prometheus registry so several runtimes can live in
// one process.
type telemetry struct {
	traces   *sdktrace.TracerProvider
	meters   *sdkmetric.MeterProvider
	registry *prometheus.Registry
	exporter string
}

// setupTelemetry builds the providers and installs them globally.
func setupTelemetry(ctx context.Context, cfg config.Config, version string, logger *slog.Logger) (*telemetry, error) {
	res, err := coachResource(ctx, cfg, version)
	if err != nil {
		return nil, err
	}

	t := &telemetry{registry: prometheus.NewRegistry()}
	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	t.exporter = traceExporterKind(cfg.Telemetry)
	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Telemetry.TraceSampleRatio))),
	}
	spanExporter, err := newSpanExporter(ctx, t.exporter, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("%s trace exporter: %w", t.exporter, err)
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter))
	}
	t.traces = sdktrace.NewTracerProvider(traceOpts...)

	reader, err := otelprom.New(otelprom.WithRegisterer(t.registry))
	if err != nil {
		_ = t.traces.Shutdown(ctx)
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	t.meters = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))

	otel.SetTracerProvider(t.traces)
	otel.SetMeterProvider(t.meters)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logger.Info("telemetry initialized",
		slog.String("trace_exporter", t.exporter),
		slog.Float64("trace_sample_ratio", cfg.Telemetry.TraceSampleRatio))
	return t, nil
}

// Handler serves the runtime's metrics in the Prometheus text format.
func (t *telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// Shutdown flushes pending spans and stops both providers.
func (t *telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.meters.Shutdown(ctx), t.traces.Shutdown(ctx))
}

// coachResource describes this process: the service identity plus the pacing
// knobs that shape every session it runs.
func coachResource(ctx context.Context, cfg config.Config, version string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithProcessRuntimeVersion(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			semconv.ServiceVersion(version),
			semconv.ServiceInstanceID(uuid.NewString()),
			attribute.String("deployment.environment", cfg.Environment),
			attribute.String("coach.alert_mode", cfg.Coach.AlertMode),
			attribute.Int("coach.pace.slow_below_wpm", cfg.Coach.SlowBelowWPM),
			attribute.Int("coach.pace.fast_above_wpm", cfg.Coach.FastAboveWPM),
			attribute.Int("coach.max_sessions", cfg.Coach.MaxSessions),
			attribute.Bool("coach.bus.embedded", cfg.Bus.Embedded),
		),
	)
	if res != nil && (errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict)) {
		return res, nil
	}
	return res, err
}

// traceExporterKind resolves "auto" to otlp when an endpoint is configured.
func traceExporterKind(cfg config.TelemetryConfig) string {
	switch kind := strings.TrimSpace(cfg.TraceExporter); kind {
	case "", "auto":
		if strings.TrimSpace(cfg.OTLPEndpoint) != "" {
			return "otlp"
		}
		return "none"
	default:
		return kind
	}
}

func newSpanExporter(ctx context.Context, kind string, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch kind {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(strings.TrimSpace(cfg.OTLPEndpoint))}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown exporter %q", kind)
	}
}
