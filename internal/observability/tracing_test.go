package observability

import (
	"context"
	"testing"

	"github.com/signalsfoundry/rail-geofence/internal/logging"
)

func TestTracingConfigFromLookup(t *testing.T) {
	env := map[string]string{
		"TRACING_ENABLED":      "TRUE",
		"TRACING_EXPORTER":     "OTLP",
		"TRACING_SERVICE_NAME": "",
		"TRACING_SAMPLE_RATIO": "0.25",
		"OTLP_ENDPOINT":        "collector:4317",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := TracingConfigFromLookup(lookup)
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.ServiceName != "railfence" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected ratio/endpoint: %+v", cfg)
	}

	defaults := TracingConfigFromLookup(func(string) (string, bool) { return "", false })
	if defaults.Enabled || defaults.Exporter != ExporterStdout || defaults.Endpoint != "localhost:4317" || defaults.SampleRatio != 1 {
		t.Fatalf("unexpected defaults: %+v", defaults)
	}

	env["TRACING_SAMPLE_RATIO"] = "7"
	if got := TracingConfigFromLookup(lookup).SampleRatio; got != 1.0 {
		t.Fatalf("out of range ratio = %v, want default 1.0", got)
	}
}

func TestInitTracing(t *testing.T) {
	ctx := context.Background()

	shutdown, err := InitTracing(ctx, TracingConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("InitTracing disabled error: %v", err)
	}
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown error: %v", err)
	}

	shutdown, err = InitTracing(ctx, TracingConfig{Enabled: true, Exporter: "stdout", ServiceName: "test", SampleRatio: 1}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing stdout error: %v", err)
	}
	ShutdownWithTimeout(ctx, shutdown, logging.Noop())

	if _, err := InitTracing(ctx, TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}

	// Leave the global provider in its disabled state for other tests.
	if _, err := InitTracing(ctx, TracingConfig{}, nil); err != nil {
		t.Fatalf("reset error: %v", err)
	}
}
