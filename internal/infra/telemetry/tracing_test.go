package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/muniportal/portal-auth/internal/infra/config"
)

func TestTracerProviderRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := NewTracerProviderWithProcessor(context.Background(), config.TelemetrySettings{ServiceName: "portal-auth-test"}, recorder, nil)
	if err != nil {
		t.Fatalf("NewTracerProviderWithProcessor: %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "login")
	traceID := TraceIDFromContext(ctx)
	span.End()

	if traceID == "" {
		t.Fatal("expected trace id inside span")
	}
	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Name() != "login" {
		t.Fatalf("expected one recorded span, got %d", len(ended))
	}
	if TraceIDFromContext(context.Background()) != "" {
		t.Fatal("expected empty trace id outside spans")
	}
}
