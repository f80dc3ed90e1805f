package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// instrumentationName identifies this gateway's meter/tracer to whatever
// OTEL exporter the operator has configured.
const instrumentationName = "github.com/routecodex/routecodex"

// spanPrefix namespaces every span this gateway starts, so a trace backend
// shared with other services can group gateway spans without per-query
// filtering on service name alone.
const spanPrefix = "routecodex."

type (
	// ClueLogger delegates to goa.design/clue/log.
	ClueLogger struct{}

	// ClueMetrics delegates to OTEL metrics.
	ClueMetrics struct {
		meter metric.Meter
	}

	// ClueTracer delegates to OTEL tracing.
	ClueTracer struct {
		tracer trace.Tracer
	}

	clueSpan struct {
		span trace.Span
	}

	// kv is a normalized key-value pair, the common form both the Clue
	// fielder encoding and the OTEL attribute encoding are built from.
	kv struct {
		k string
		v any
	}
)

// NewClueLogger constructs a Logger backed by goa.design/clue/log. Format
// and debug settings are read from the context (log.Context,
// log.WithFormat, log.WithDebug), set once at process startup.
func NewClueLogger() Logger { return ClueLogger{} }

// NewClueMetrics constructs a Metrics recorder backed by the global OTEL
// MeterProvider, covering route/target/pipeline counters (attempts,
// failures, retries) and quota/cooldown gauges.
func NewClueMetrics() Metrics {
	return &ClueMetrics{meter: otel.Meter(instrumentationName)}
}

// NewClueTracer constructs a Tracer backed by the global OTEL
// TracerProvider; every span it starts is namespaced under spanPrefix.
func NewClueTracer() Tracer {
	return &ClueTracer{tracer: otel.Tracer(instrumentationName)}
}

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fielders(msg, append(keyvals, "severity", "warning"))...)
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, fielders(msg, keyvals)...)
}

// fielders normalizes msg plus the caller's keyvals into Clue's Fielder
// form; every call site in router/pipeline/oauth passes requestId/target/
// provider-shaped pairs through this one path.
func fielders(msg string, keyvals []any) []log.Fielder {
	pairs := normalize(keyvals)
	out := make([]log.Fielder, 0, len(pairs)+1)
	out = append(out, log.KV{K: "msg", V: msg})
	for _, p := range pairs {
		out = append(out, log.KV{K: p.k, V: p.v})
	}
	return out
}

func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (m *ClueMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	hist, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	hist.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagAttrs(tags)...))
}

// RecordGauge records a gauge-shaped value (e.g. quota remaining, cooldown
// window) via a histogram, since OTEL's Go SDK has no synchronous gauge
// instrument.
func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	hist, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	hist.Record(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, spanPrefix+name, opts...)
	return newCtx, &clueSpan{span: span}
}

func (t *ClueTracer) Span(ctx context.Context) Span {
	return &clueSpan{span: trace.SpanFromContext(ctx)}
}

func (s *clueSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *clueSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvAttrs(normalize(attrs))...))
}

func (s *clueSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *clueSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// normalize pairs up a (k1, v1, k2, v2, ...) variadic slice, dropping any
// pair whose key isn't a string. It is the one place Debug/Info/Warn/Error,
// span events, and OTEL attribute encoding all route through, so the odd-
// length/non-string-key handling isn't duplicated per encoding target.
func normalize(keyvals []any) []kv {
	var pairs []kv
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		pairs = append(pairs, kv{k: k, v: v})
	}
	return pairs
}

func tagAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(tags[i], v))
	}
	return attrs
}

func kvAttrs(pairs []kv) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(pairs))
	for _, p := range pairs {
		switch val := p.v.(type) {
		case string:
			attrs = append(attrs, attribute.String(p.k, val))
		case int:
			attrs = append(attrs, attribute.Int(p.k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(p.k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(p.k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(p.k, val))
		default:
			attrs = append(attrs, attribute.String(p.k, ""))
		}
	}
	return attrs
}
