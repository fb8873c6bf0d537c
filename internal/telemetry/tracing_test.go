package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderInstallsGlobals(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), "", sdktrace.WithSpanProcessor(rec))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	require.Same(t, tp, otel.GetTracerProvider())

	ctx, span := otel.Tracer("test").Start(context.Background(), "unit")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()

	require.Contains(t, carrier.Get("traceparent"), span.SpanContext().TraceID().String())
	ended := rec.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "unit", ended[0].Name())

	name, ok := ended[0].Resource().Set().Value("service.name")
	require.True(t, ok)
	require.Equal(t, DefaultServiceName, name.AsString())
}
