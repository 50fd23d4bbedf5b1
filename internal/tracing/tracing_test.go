package tracing

import (
	"context"
	"testing"

	"github.com/maneesh/pdfsqueeze/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestDisabledTracingInstallsPropagatorOnly(t *testing.T) {
	shutdown, err := InitTracer(Config{ServiceName: "pdfsqueeze", Endpoint: "localhost:4318"}, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")
}
