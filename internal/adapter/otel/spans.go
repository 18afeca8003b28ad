package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "researchd"

// StartSessionSpan starts a span covering a full research session.
func StartSessionSpan(ctx context.Context, sessionID, mode string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("session.mode", mode),
		),
	)
}

// StartConnectSpan starts a span for one backend connection attempt.
func StartConnectSpan(ctx context.Context, sessionID string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "connect",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("connect.attempt", attempt),
		),
	)
}
