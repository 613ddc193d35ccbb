package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/rail-geofence/internal/logging"
)

// Span exporters selectable through TRACING_EXPORTER.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const (
	defaultServiceName  = "railfence"
	defaultOTLPEndpoint = "localhost:4317"
	tracingFlushTimeout = 5 * time.Second
)

// TracingConfig selects where geofence, motion and RPC spans go.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string
	// Endpoint is the OTLP gRPC collector address.
	Endpoint    string
	SampleRatio float64
}

// TracingConfigFromLookup reads TRACING_ENABLED, TRACING_EXPORTER,
// TRACING_SERVICE_NAME, TRACING_SAMPLE_RATIO and OTLP_ENDPOINT. A ratio
// outside [0, 1] is ignored.
func TracingConfigFromLookup(lookup func(string) (string, bool)) TracingConfig {
	cfg := TracingConfig{
		ServiceName: defaultServiceName,
		Exporter:    ExporterStdout,
		Endpoint:    defaultOTLPEndpoint,
		SampleRatio: 1,
	}
	for key, apply := range map[string]func(string){
		"TRACING_ENABLED":      func(v string) { cfg.Enabled = strings.EqualFold(v, "true") },
		"TRACING_EXPORTER":     func(v string) { cfg.Exporter = strings.ToLower(v) },
		"TRACING_SERVICE_NAME": func(v string) { cfg.ServiceName = v },
		"OTLP_ENDPOINT":        func(v string) { cfg.Endpoint = v },
		"TRACING_SAMPLE_RATIO": func(v string) {
			if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 && r <= 1 {
				cfg.SampleRatio = r
			}
		},
	} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			apply(strings.TrimSpace(v))
		}
	}
	return cfg
}

// InitTracing installs the global tracer provider and propagator. When
// tracing is disabled a noop provider is installed so otel.Tracer calls in
// core stay cheap. The returned func flushes pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	service := cfg.ServiceName
	if service == "" {
		service = defaultServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", service),
		attribute.String("service.namespace", "railfence"),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", service),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", ExporterStdout:
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithoutTimestamps())
	case ExporterOTLP, "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}
	return nil, fmt.Errorf("tracing exporter %q: want %s or %s", cfg.Exporter, ExporterStdout, ExporterOTLP)
}

// ShutdownWithTimeout flushes spans on the way out. Failures are logged, not
// returned.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, tracingFlushTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil && log != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
