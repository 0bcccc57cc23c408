package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/san-kum/closedloop/internal/dynamo"
)

func TestInit_Stdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init("closedloop-test", "test", Config{Exporter: "stdout", Output: &buf})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Errors(t *testing.T) {
	_, err := Init("closedloop-test", "test", Config{Exporter: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unknown exporter")

	_, err = Init("closedloop-test", "test", Config{Exporter: "otlp"})
	assert.ErrorContains(t, err, "endpoint")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNewLogger_TraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "json")

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "inside")
	span.End()
	logger.Info("outside")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var inside, outside map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &inside))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &outside))
	assert.Equal(t, span.SpanContext().TraceID().String(), inside["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), inside["span_id"])
	assert.NotContains(t, outside, "trace_id")
}

func TestNewLogger_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "text").With("run", "r1")
	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "msg=kept")
	assert.Contains(t, out, "run=r1")
}

func newTestObserver(t *testing.T) (*TickObserver, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	o, err := NewTickObserver(context.Background(), "seir", []string{"S", "E", "I", "R"},
		WithTracerProvider(tp),
		WithMeterProvider(mp),
		WithObserverLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	)
	require.NoError(t, err)
	return o, sr, reader
}

func tickData(s, e, i, r, r0 float64) map[string]any {
	return map[string]any{
		"seir": dynamo.State{s, e, i, r},
		"r0":   r0,
		"note": "ignored",
	}
}

func TestTickObserver_Spans(t *testing.T) {
	o, sr, _ := newTestObserver(t)

	o.OnTick(0, tickData(990, 0, 10, 0, 2.5))
	o.OnTick(1, tickData(985, 3, 10, 2, 2.5))
	o.OnTick(2, tickData(980, 5, 11, 4, 0.8))
	o.Finish(nil)
	o.OnTick(3, tickData(975, 6, 12, 7, 0.8))

	spans := sr.Ended()
	require.Len(t, spans, 4)

	run := spans[3]
	assert.Equal(t, "closedloop.run", run.Name())
	assert.Equal(t, codes.Unset, run.Status().Code)
	for i, s := range spans[:3] {
		assert.Equal(t, "closedloop.tick", s.Name())
		assert.Equal(t, run.SpanContext().SpanID(), s.Parent().SpanID())
		assert.False(t, s.EndTime().Before(s.StartTime()))

		attrs := map[string]any{}
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		assert.Equal(t, int64(i), attrs["closedloop.tick"])
		assert.Contains(t, attrs, "closedloop.S")
		assert.Contains(t, attrs, "closedloop.r0")
		assert.NotContains(t, attrs, "closedloop.note")
	}
}

func TestTickObserver_FinishWithError(t *testing.T) {
	o, sr, _ := newTestObserver(t)
	o.OnTick(0, tickData(990, 0, 10, 0, 2.5))
	o.Finish(errors.New("boom"))
	o.Finish(nil)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
}

func TestTickObserver_Metrics(t *testing.T) {
	o, _, reader := newTestObserver(t)
	o.OnTick(0, tickData(990, 0, 10, 0, 2.5))
	o.OnTick(1, tickData(985, 3, 10, 2, 2.5))
	o.OnTick(2, tickData(980, 5, 11, 4, 0.8))
	o.Finish(nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = m
		}
	}

	ticks, ok := found["closedloop.ticks"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, ticks.DataPoints, 1)
	assert.Equal(t, int64(2), ticks.DataPoints[0].Value)

	comp, ok := found["closedloop.compartment"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, comp.DataPoints, 4)
	byName := map[string]float64{}
	for _, dp := range comp.DataPoints {
		name, _ := dp.Attributes.Value("compartment")
		byName[name.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]float64{"S": 980, "E": 5, "I": 11, "R": 4}, byName)

	scalar, ok := found["closedloop.channel"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, scalar.DataPoints, 1)
	assert.Equal(t, 0.8, scalar.DataPoints[0].Value)
}

func TestTickObserver_UnnamedCompartments(t *testing.T) {
	o, sr, _ := newTestObserver(t)
	o.compartments = []string{"S"}
	o.OnTick(0, map[string]any{"seir": dynamo.State{1, 2}})
	o.Finish(nil)

	var keys []string
	for _, kv := range sr.Ended()[0].Attributes() {
		keys = append(keys, string(kv.Key))
	}
	assert.Contains(t, keys, "closedloop.S")
	assert.Contains(t, keys, "closedloop.x1")
}
