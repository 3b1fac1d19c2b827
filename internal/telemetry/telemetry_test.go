package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewDisabledReturnsNoop(t *testing.T) {
	rec, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	assert.Equal(t, NewNoop(), rec)
	assert.NoError(t, rec.Close())
}

func TestNewRejectsUnknownExporter(t *testing.T) {
	_, err := New(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		ServiceName:  "spotter-test",
		ExporterType: "carrier-pigeon",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter type")
}

func TestInstrumentsRecord(t *testing.T) {
	rec, err := newInstruments(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	rec.RecordScan(ctx, 3, 10*time.Millisecond)
	rec.RecordPlatformCall(ctx, "cti", "search", OutcomeTimeout, time.Second)
	rec.RecordCacheRefresh(ctx, "cti", "Malware", true, 42)
	rec.RecordCacheRefresh(ctx, "cti", "Malware", false, 0)
	assert.NoError(t, rec.Close())
}

func TestRecorderContext(t *testing.T) {
	assert.Equal(t, NewNoop(), FromContext(context.Background()))

	rec, err := newInstruments(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	ctx := WithRecorder(context.Background(), rec)
	assert.Same(t, rec, FromContext(ctx))
}
