package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// NoopLogger discards all log messages. Orchestrator, Router and the
	// HTTP server fall back to this when constructed with a nil Logger, so a component
	// under test never needs a real Clue context wired in.
	NoopLogger struct{}

	// NoopMetrics discards all metrics.
	NoopMetrics struct{}

	// NoopTracer produces only no-op spans.
	NoopTracer struct{}

	noopSpan struct{}
)

// Package-level zero values, handed out by the constructors below so every
// caller that falls back to "no telemetry configured" shares one instance
// instead of allocating a fresh empty struct per component.
var (
	noopLogger  = NoopLogger{}
	noopMetrics = NoopMetrics{}
	noopTracer  = NoopTracer{}
)

func NewNoopLogger() Logger   { return noopLogger }
func NewNoopMetrics() Metrics { return noopMetrics }
func NewNoopTracer() Tracer   { return noopTracer }

func (NoopLogger) Debug(context.Context, string, ...any) {}
func (NoopLogger) Info(context.Context, string, ...any)  {}
func (NoopLogger) Warn(context.Context, string, ...any)  {}
func (NoopLogger) Error(context.Context, string, ...any) {}

func (NoopMetrics) IncCounter(string, float64, ...string)            {}
func (NoopMetrics) RecordTimer(string, time.Duration, ...string)     {}
func (NoopMetrics) RecordGauge(string, float64, ...string)           {}

func (NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (NoopTracer) Span(context.Context) Span { return noopSpan{} }

func (noopSpan) End(...trace.SpanEndOption)             {}
func (noopSpan) AddEvent(string, ...any)                {}
func (noopSpan) SetStatus(codes.Code, string)           {}
func (noopSpan) RecordError(error, ...trace.EventOption) {}
