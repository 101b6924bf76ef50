package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/protocols/events"
)

// MetricsHandler translates batch events into OpenTelemetry metrics.
// It records counters for processed and failed descriptor files, emitted
// rows and a histogram of run durations.
type MetricsHandler struct {
	filesProcessed metric.Int64Counter
	filesFailed    metric.Int64Counter
	rowsEmitted    metric.Int64Counter
	runDuration    metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to create
// instruments for recording batch metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	processed, err := meter.Int64Counter("protocols.files.processed",
		metric.WithDescription("Number of descriptor files handled successfully"),
	)
	if err != nil {
		return nil, err
	}

	failed, err := meter.Int64Counter("protocols.files.failed",
		metric.WithDescription("Number of descriptor files that failed"),
	)
	if err != nil {
		return nil, err
	}

	rows, err := meter.Int64Counter("protocols.rows.emitted",
		metric.WithDescription("Number of CSV rows produced"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("protocols.run.duration",
		metric.WithDescription("Duration of a batch run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		filesProcessed: processed,
		filesFailed:    failed,
		rowsEmitted:    rows,
		runDuration:    runDur,
	}, nil
}

// Handle records the metrics for one event. It satisfies events.Emitter.
func (h *MetricsHandler) Handle(e events.Event) {
	switch e.Kind {
	case events.FileProcessed:
		h.handleFileProcessed(e)
	case events.FileFailed:
		h.handleFileFailed(e)
	case events.RunFinished:
		h.handleRunFinished(e)
	}
}

func (h *MetricsHandler) handleFileProcessed(e events.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("tool", e.Tool))
	h.filesProcessed.Add(ctx, 1, attrs)
	if n := e.PayloadInt("rows"); n > 0 {
		h.rowsEmitted.Add(ctx, int64(n), attrs)
	}
}

func (h *MetricsHandler) handleFileFailed(e events.Event) {
	ctx := context.Background()
	h.filesFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", e.Tool)))
}

func (h *MetricsHandler) handleRunFinished(e events.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("tool", e.Tool),
		attribute.String("run_id", e.RunID),
	)
	h.runDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
}
