package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// These tests replace the global provider, so they do not run in parallel.

func TestInitTracerProviderInstallsGlobals(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	p, err := InitTracerProvider(context.Background(), Config{Version: "1.2.3", SampleRatio: 1}, sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "write")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()

	assert.NotEmpty(t, carrier.Get("traceparent"))
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "write", spans[0].Name())
	assert.Equal(t, ServiceName, attrValue(spans[0].Resource().Attributes(), "service.name"))
	assert.Equal(t, "1.2.3", attrValue(spans[0].Resource().Attributes(), "service.version"))
}

func TestZeroSampleRatioRecordsNothing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	p, err := InitTracerProvider(context.Background(), Config{ServiceName: "quiet"}, sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "dropped")
	span.End()

	assert.False(t, span.SpanContext().IsSampled())
	assert.Empty(t, recorder.Ended())
	require.NoError(t, p.Shutdown(context.Background()))
}

func attrValue(attrs []attribute.KeyValue, key string) string {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.AsString()
		}
	}
	return ""
}
