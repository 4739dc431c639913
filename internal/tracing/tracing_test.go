package tracing_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/safar/greenvillage/internal/events"
	"github.com/safar/greenvillage/internal/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func setup(t *testing.T) {
	t.Helper()
	shutdown := tracing.Setup("greenvillage-test")
	t.Cleanup(func() {
		_ = shutdown(context.Background())
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())
	})
}

func TestSpansCarryIntoOutboxEvents(t *testing.T) {
	setup(t)

	ctx, span := otel.Tracer("test").Start(context.Background(), "PlaceOrder")
	defer span.End()
	require.True(t, span.SpanContext().IsValid())

	ev, err := events.New(ctx, "order", "1", "order.placed", map[string]int{"order_id": 1})
	require.NoError(t, err)

	traceID := span.SpanContext().TraceID().String()
	assert.True(t, strings.HasPrefix(ev.Traceparent, "00-"+traceID+"-"), ev.Traceparent)
}

func TestInboundTraceparentIsContinued(t *testing.T) {
	setup(t)

	header := http.Header{}
	header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(header))

	_, span := otel.Tracer("test").Start(ctx, "GetOrder")
	defer span.End()

	sc := span.SpanContext()
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
	assert.True(t, sc.IsSampled())
	assert.Equal(t, "00f067aa0ba902b7", trace.SpanContextFromContext(ctx).SpanID().String())
}
