package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsAPI forwards everything to an inner API and additionally records
// counts and broken reports as otel instruments.
type MetricsAPI struct {
	inner  API
	counts metric.Int64Gauge
	broken metric.Int64Counter
}

func NewMetricsAPI(inner API) MetricsAPI {
	meter := otel.Meter("animeagg.telemetry")
	counts, _ := meter.Int64Gauge("report_count")
	broken, _ := meter.Int64Counter("report_broken")
	return MetricsAPI{inner: inner, counts: counts, broken: broken}
}

func (m MetricsAPI) ReportBroken(id string, params ...any) {
	if m.broken != nil {
		m.broken.Add(context.Background(), 1, metric.WithAttributes(attribute.String("id", id)))
	}
	m.inner.ReportBroken(id, params...)
}

func (m MetricsAPI) ReportWarning(id string, params ...any) {
	m.inner.ReportWarning(id, params...)
}

func (m MetricsAPI) ReportDebug(msg string, params ...any) {
	m.inner.ReportDebug(msg, params...)
}

func (m MetricsAPI) ReportCount(id string, count int64) {
	if m.counts != nil {
		m.counts.Record(context.Background(), count, metric.WithAttributes(attribute.String("id", id)))
	}
	m.inner.ReportCount(id, count)
}
