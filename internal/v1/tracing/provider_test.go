package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracer(t *testing.T) {
	ctx := context.Background()

	// The gRPC client is lazy, so a collector does not need to be
	// listening for initialization to succeed.
	tp, err := InitTracer(ctx, "parley-test", "localhost:4317")
	require.NoError(t, err)
	require.NotNil(t, tp)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	t.Cleanup(func() { _ = tp.Shutdown(shutdownCtx) })

	// The provider and the W3C propagator are installed globally.
	assert.Equal(t, tp, otel.GetTracerProvider())
	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")

	tracer := tp.Tracer("parley-test")
	_, span := tracer.Start(ctx, "test-span")
	span.End()
}

func TestInitTracer_InsecureSkipVerifyEnv(t *testing.T) {
	t.Setenv("OTEL_INSECURE_SKIP_VERIFY", "true")

	tp, err := InitTracer(context.Background(), "parley-test", "localhost:4317")
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, tp.Shutdown(shutdownCtx))
}
