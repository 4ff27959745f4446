package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_Disabled(t *testing.T) {
	t.Parallel()

	shutdown, err := Setup(Options{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

// Not parallel: installs the global tracer provider.
func TestSetup_ExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Setup(Options{Enabled: true, Writer: &buf, Version: "1.2.3"})
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry.test").Start(context.Background(), "stage.INTAKE")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, `"Name":"stage.INTAKE"`)
	assert.Contains(t, out, "invoicegate")
	assert.Contains(t, out, "1.2.3")
}
