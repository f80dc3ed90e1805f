// Package telemetry defines the logging/metrics/tracing seam used by every
// core component. Components accept a Logger/Metrics/Tracer rather than
// reaching for a package-level logger, following the teacher repo's
// runtime/agent/telemetry design (process-wide services constructed at
// startup and passed by handle — spec.md §9's "cut the singleton" note).
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured, leveled log messages. Every call must be
	// logged with the originating component and, when available, the
	// request id (spec.md §7's propagation policy).
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges for pipeline attempts,
	// OAuth refreshes, and route selections.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans around provider calls, OAuth flows, and
	// per-attempt pipeline stages.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is the minimal span handle used by core components.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
