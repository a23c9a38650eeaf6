package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupExportsMetricsAndSpans(t *testing.T) {
	reg := prometheus.NewRegistry()
	var traces bytes.Buffer

	shutdown, err := Setup(Options{
		ServiceName: "inbox-test",
		Tracing:     true,
		TraceOutput: &traces,
		Registerer:  reg,
	})
	require.NoError(t, err)

	counter, err := otel.Meter("test").Int64Counter("widgets")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "widgets_total")

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, traces.String(), `"Name":"op"`)
}
