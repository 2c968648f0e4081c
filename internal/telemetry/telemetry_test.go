package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/planflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"
)

// saveAndRestoreGlobalProviders snapshots the current global OTel providers
// and restores them via t.Cleanup so tests don't leak state.
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp, "TracerProvider should be nil when disabled")
	assert.Nil(t, p.mp, "MeterProvider should be nil when disabled")
	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	cfg := config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "planflow-test",
		SampleRate:   0.5,
	}

	p, err := Init(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	assert.NotNil(t, p.tp)
	assert.NotNil(t, p.mp)

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK, "global TracerProvider should be *sdktrace.TracerProvider")
	assert.True(t, mpIsSDK, "global MeterProvider should be *sdkmetric.MeterProvider")

	_, span := p.Tracer().Start(context.Background(), "probe")
	span.End()
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.NotNil(t, p.Tracer())
}

func TestBuildVersion(t *testing.T) {
	// Test binaries report "(devel)", which falls back to "dev".
	assert.Equal(t, "dev", buildVersion())
}
