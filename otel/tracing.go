// Package otel provides OpenTelemetry integration for batch run events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/protocols/events"
)

// TracingHandler translates batch events into OpenTelemetry spans: a root
// span per run and a child span per descriptor file.
type TracingHandler struct {
	tracer trace.Tracer

	mu       sync.RWMutex
	runSpans map[string]trace.Span      // runID -> span
	runCtxs  map[string]context.Context // runID -> context (for child spans)
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from batch events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:   tracer,
		runSpans: make(map[string]trace.Span),
		runCtxs:  make(map[string]context.Context),
	}
}

// Handle processes an event and creates or ends spans accordingly. It
// satisfies events.Emitter.
func (h *TracingHandler) Handle(e events.Event) {
	switch e.Kind {
	case events.RunStarted:
		h.handleRunStarted(e)
	case events.FileProcessed, events.FileFailed:
		h.handleFile(e)
	case events.RunFinished:
		h.handleRunFinished(e)
	}
}

func (h *TracingHandler) handleRunStarted(e events.Event) {
	ctx, span := h.tracer.Start(context.Background(), "run:"+e.Tool,
		trace.WithAttributes(
			attribute.String("protocols.run_id", e.RunID),
			attribute.String("protocols.tool", e.Tool),
			attribute.String("protocols.dir", e.PayloadString("dir")),
			attribute.Int("protocols.files", e.PayloadInt("files")),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

// handleFile records a completed file as a child span spanning Elapsed.
func (h *TracingHandler) handleFile(e events.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()

	if !ok {
		// No parent run span; start from background context.
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "file:"+e.File,
		trace.WithAttributes(
			attribute.String("protocols.run_id", e.RunID),
			attribute.String("protocols.file", e.File),
		),
		trace.WithTimestamp(e.Time.Add(-e.Elapsed)),
	)

	if e.Kind == events.FileFailed {
		msg := e.PayloadString("error")
		if msg == "" {
			msg = "file failed"
		}
		span.RecordError(spanError(msg))
		span.SetStatus(codes.Error, msg)
	} else {
		span.SetAttributes(attribute.Int("protocols.rows", e.PayloadInt("rows")))
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleRunFinished(e events.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	span.SetAttributes(
		attribute.String("protocols.duration", e.Elapsed.String()),
		attribute.Int("protocols.failed", e.PayloadInt("failed")),
	)
	if _, hasRows := e.Payload["rows"]; hasRows {
		span.SetAttributes(attribute.Int("protocols.rows", e.PayloadInt("rows")))
	}
	switch msg := e.PayloadString("error"); {
	case msg != "":
		span.RecordError(spanError(msg))
		span.SetStatus(codes.Error, msg)
	case e.PayloadInt("failed") > 0:
		span.SetStatus(codes.Error, "one or more files failed")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
