package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter  metric.Int64Counter
	RequestDuration metric.Float64Histogram
	FilesProcessed  metric.Int64Counter
	PagesEmbedded   metric.Int64Counter
	AICalls         metric.Int64Counter
	FileDuration    metric.Float64Histogram
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("slide-ingestion-platform")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	filesProcessed, err := meter.Int64Counter(
		"ingestion.files.processed",
		metric.WithDescription("Files reaching a terminal state, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	pagesEmbedded, err := meter.Int64Counter(
		"ingestion.pages.embedded",
		metric.WithDescription("Slide pages persisted with an embedding"),
	)
	if err != nil {
		return nil, err
	}

	aiCalls, err := meter.Int64Counter(
		"ai.calls.total",
		metric.WithDescription("Calls into hosted AI services, by kind and outcome"),
	)
	if err != nil {
		return nil, err
	}

	fileDuration, err := meter.Float64Histogram(
		"ingestion.file.duration",
		metric.WithDescription("Per-file processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		FilesProcessed:  filesProcessed,
		PagesEmbedded:   pagesEmbedded,
		AICalls:         aiCalls,
		FileDuration:    fileDuration,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordFileProcessed records a file reaching a terminal state
func (m *Metrics) RecordFileProcessed(status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("ingestion.status", status),
	}

	m.FilesProcessed.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.FileDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordPagesEmbedded records persisted slide pages
func (m *Metrics) RecordPagesEmbedded(count int64) {
	m.PagesEmbedded.Add(context.Background(), count)
}

// RecordAICall records a call to a hosted AI service
func (m *Metrics) RecordAICall(kind string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("ai.kind", kind),
		attribute.Bool("ai.success", success),
	}

	m.AICalls.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
