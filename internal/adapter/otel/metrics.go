package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "researchd"

// Metrics holds all researchd metric instruments.
type Metrics struct {
	SessionsStarted   metric.Int64Counter
	SessionsCompleted metric.Int64Counter
	SessionsFailed    metric.Int64Counter
	SessionsCancelled metric.Int64Counter
	ConnectionRetries metric.Int64Counter
	CacheHits         metric.Int64Counter
	SessionDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SessionsStarted, err = meter.Int64Counter("researchd.sessions.started",
		metric.WithDescription("Number of research sessions started"))
	if err != nil {
		return nil, err
	}

	m.SessionsCompleted, err = meter.Int64Counter("researchd.sessions.completed",
		metric.WithDescription("Number of research sessions completed"))
	if err != nil {
		return nil, err
	}

	m.SessionsFailed, err = meter.Int64Counter("researchd.sessions.failed",
		metric.WithDescription("Number of research sessions failed"))
	if err != nil {
		return nil, err
	}

	m.SessionsCancelled, err = meter.Int64Counter("researchd.sessions.cancelled",
		metric.WithDescription("Number of research sessions cancelled"))
	if err != nil {
		return nil, err
	}

	m.ConnectionRetries, err = meter.Int64Counter("researchd.connection.retries",
		metric.WithDescription("Number of backend connection retries"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("researchd.cache.hits",
		metric.WithDescription("Number of answers served from the query cache"))
	if err != nil {
		return nil, err
	}

	m.SessionDuration, err = meter.Float64Histogram("researchd.session.duration_seconds",
		metric.WithDescription("Research session duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
