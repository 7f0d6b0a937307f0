package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging,
// tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// passSpanKey is the context key for pass spans.
type passSpanKey struct{}

// passTimerKey is the context key for pass timers.
type passTimerKey struct{}

// WithPassContext creates a context enriched with pass-level telemetry: a
// pass span, a pass-scoped logger, the started metric, and the started
// event.
func WithPassContext(ctx context.Context, passID, driver, document string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartPassSpan(ctx, passID, driver)

	logger := tel.Logger.WithPassID(passID).WithField("driver", driver)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordPassStarted(driver)
	_ = tel.Events.PublishPassStarted(passID, driver, document)

	spanCtx = context.WithValue(spanCtx, passSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, passTimerKey{}, NewTimer())
	return spanCtx
}

// EndPassContext completes the pass context, recording metrics and events.
func EndPassContext(ctx context.Context, passID, driver, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(passSpanKey{}).(trace.Span); ok {
		span.SetAttributes(attribute.String("pass.status", status))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	timer, ok := ctx.Value(passTimerKey{}).(*Timer)
	if !ok {
		timer = NewTimer()
	}
	duration := timer.Duration()

	tel.Metrics.RecordPassCompleted(driver, status, duration)

	if err != nil {
		_ = tel.Events.PublishPassFailed(passID, err.Error())
	} else {
		_ = tel.Events.PublishPassCompleted(passID, status, duration)
	}
}

// RecordStageOutcome records a resolved stage across metrics and events.
func RecordStageOutcome(ctx context.Context, passID, stage, outcome, work string, targets int, timer *Timer) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	var duration = timer.Duration()
	tel.Metrics.RecordStageResolved(outcome, work, duration)
	_ = tel.Events.PublishStageResolved(passID, stage, outcome, targets)
}

// RecordDispatchOperation instruments a dispatch call with a span, timing,
// and the dispatch metrics.
func RecordDispatchOperation(ctx context.Context, adapter, fun string, targets int, fn func(context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	spanCtx, span := tel.Tracer.StartDispatchSpan(ctx, adapter, fun, targets)
	defer span.End()

	timer := NewTimer()
	err := fn(spanCtx)

	tel.Metrics.RecordDispatch(adapter, fun, targets, timer.Duration())
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	return err
}
