package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/san-kum/closedloop/internal/dynamo"
)

const instrumentationName = "github.com/san-kum/closedloop"

type ObserverOption func(*TickObserver)

func WithTracerProvider(tp trace.TracerProvider) ObserverOption {
	return func(o *TickObserver) { o.tracer = tp.Tracer(instrumentationName) }
}

func WithMeterProvider(mp metric.MeterProvider) ObserverOption {
	return func(o *TickObserver) { o.meter = mp.Meter(instrumentationName) }
}

func WithObserverLogger(l *slog.Logger) ObserverOption {
	return func(o *TickObserver) { o.logger = l }
}

// TickObserver traces a run as one span with a child span per tick and
// records compartment sizes and scalar channels as gauges.
//
// The span for tick k covers the time since tick k-1 was observed.
type TickObserver struct {
	channel      string
	compartments []string

	tracer trace.Tracer
	meter  metric.Meter
	logger *slog.Logger

	ticks       metric.Int64Counter
	compartment metric.Float64Gauge
	scalar      metric.Float64Gauge

	runCtx context.Context
	run    trace.Span
	ended  bool
	last   time.Time
}

// NewTickObserver starts the run span. channel is the model's output
// channel and compartments names the entries of its state.
func NewTickObserver(ctx context.Context, channel string, compartments []string, opts ...ObserverOption) (*TickObserver, error) {
	o := &TickObserver{
		channel:      channel,
		compartments: compartments,
		tracer:       otel.Tracer(instrumentationName),
		meter:        otel.Meter(instrumentationName),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	var err error
	o.ticks, err = o.meter.Int64Counter("closedloop.ticks",
		metric.WithDescription("Simulation ticks completed"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}
	o.compartment, err = o.meter.Float64Gauge("closedloop.compartment",
		metric.WithDescription("Population in a model compartment"),
		metric.WithUnit("{person}"),
	)
	if err != nil {
		return nil, err
	}
	o.scalar, err = o.meter.Float64Gauge("closedloop.channel",
		metric.WithDescription("Latest value of a numeric channel"),
	)
	if err != nil {
		return nil, err
	}

	o.runCtx, o.run = o.tracer.Start(ctx, "closedloop.run",
		trace.WithAttributes(attribute.String("closedloop.model", channel)),
	)
	o.last = time.Now()
	return o, nil
}

// Context carries the run span; log with it to correlate records.
func (o *TickObserver) Context() context.Context { return o.runCtx }

func (o *TickObserver) OnTick(tick int, observable map[string]any) {
	if o.ended {
		return
	}
	now := time.Now()
	ctx, span := o.tracer.Start(o.runCtx, "closedloop.tick",
		trace.WithTimestamp(o.last),
		trace.WithAttributes(attribute.Int("closedloop.tick", tick)),
	)
	o.last = now

	if x, ok := observable[o.channel].(dynamo.State); ok {
		for i, v := range x {
			name := o.compartmentName(i)
			o.compartment.Record(ctx, v, metric.WithAttributes(
				attribute.String("channel", o.channel),
				attribute.String("compartment", name),
			))
			span.SetAttributes(attribute.Float64("closedloop."+name, v))
		}
	}

	keys := make([]string, 0, len(observable))
	for k := range observable {
		if k != o.channel {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := observable[k].(float64); ok {
			o.scalar.Record(ctx, v, metric.WithAttributes(attribute.String("channel", k)))
			span.SetAttributes(attribute.Float64("closedloop."+k, v))
		}
	}

	if tick > 0 {
		o.ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", o.channel)))
	}
	o.logger.DebugContext(ctx, "telemetry: tick", "tick", tick)
	span.End(trace.WithTimestamp(now))
}

// Finish ends the run span, recording err on it when non-nil. Ticks
// observed afterwards are ignored.
func (o *TickObserver) Finish(err error) {
	if o.ended {
		return
	}
	o.ended = true
	if err != nil {
		o.run.RecordError(err)
		o.run.SetStatus(codes.Error, err.Error())
	}
	o.run.End()
}

func (o *TickObserver) compartmentName(i int) string {
	if i < len(o.compartments) {
		return o.compartments[i]
	}
	return "x" + strconv.Itoa(i)
}
