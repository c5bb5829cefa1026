package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names used across the gateway.
const (
	TracerProxy = "gridgate/proxy"
	TracerAuth  = "gridgate/auth"
	TracerPoll  = "gridgate/poll"
)

// StartSpan creates a new span for a gateway operation.
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerAuth, "auth.Login",
//	    attribute.String(telemetry.AttrAuthStrategy, "local"),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys
const (
	AttrUpstream     = "gateway.upstream"
	AttrOutcome      = "gateway.outcome"
	AttrAuthStrategy = "auth.strategy"
	AttrAuthSuccess  = "auth.success"
	AttrRuleMode     = "authz.rule_mode"
	AttrRulePattern  = "authz.rule_pattern"
	AttrPollAttempts = "poll.attempts"
)
