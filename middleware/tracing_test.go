package middleware

import (
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracing_UsesConfiguredEndpoint(t *testing.T) {
	shutdown, err := InitTracing("qrorder-test", "http://collector.test:14268/api/traces")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer shutdown()

	if otel.GetTracerProvider() == nil {
		t.Fatal("expected a global tracer provider to be registered")
	}
	if otel.GetTextMapPropagator() == nil {
		t.Fatal("expected a global propagator to be registered")
	}
}
