package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName        = "tierlist/api"
	eventsSpanName    = "POST /api/events"
	eventsEventName   = "tierlist.events.batch"
	eventsEventDomain = "tierlist"
	observabilityMsg  = "observability.event"
)

// eventBatchMetrics records one POST /api/events request as a span and a
// structured log entry.
type eventBatchMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration     time.Duration
	dedupeDuration   time.Duration
	dispatchDuration time.Duration
	received         int
	duplicates       int
	applied          int
	version          uint64
	errorStage       string
}

func newEventBatchMetrics(ctx context.Context, logger *log.Logger) (*eventBatchMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, eventsSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &eventBatchMetrics{logger: logger, span: span, start: time.Now()}, ctx
}

func (m *eventBatchMetrics) ObserveAuth(d time.Duration)     { m.authDuration = d }
func (m *eventBatchMetrics) ObserveDedupe(d time.Duration)   { m.dedupeDuration = d }
func (m *eventBatchMetrics) ObserveDispatch(d time.Duration) { m.dispatchDuration = d }

func (m *eventBatchMetrics) SetReceived(n int)   { m.received = n }
func (m *eventBatchMetrics) SetDuplicates(n int) { m.duplicates = n }

func (m *eventBatchMetrics) SetResult(applied int, version uint64) {
	m.applied = applied
	m.version = version
}

func (m *eventBatchMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *eventBatchMetrics) attributes(status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.route", "/api/events"),
		attribute.Int("http.status_code", status),
		attribute.Int("tierlist.events.received", m.received),
		attribute.Int("tierlist.events.duplicates", m.duplicates),
		attribute.Int("tierlist.events.applied", m.applied),
		attribute.Int64("tierlist.board.version", int64(m.version)),
		attribute.Float64("tierlist.events.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("tierlist.events.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.dedupeDuration > 0 {
		attrs = append(attrs, attribute.Float64("tierlist.events.dedupe_ms", durationToMillis(m.dedupeDuration)))
	}
	if m.dispatchDuration > 0 {
		attrs = append(attrs, attribute.Float64("tierlist.events.dispatch_ms", durationToMillis(m.dispatchDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("tierlist.events.error_stage", m.errorStage))
	}
	return attrs
}

// Log ends the span and writes the log entry. It is safe to call on a nil
// receiver.
func (m *eventBatchMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status)
	severity, number := severityForStatus(status, err)

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", eventsEventName),
		attribute.String("event.domain", eventsEventDomain),
		attribute.String("severity_text", severity),
	}, attrs...)
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}
	m.span.SetAttributes(attrs...)
	m.span.AddEvent(observabilityMsg, trace.WithAttributes(eventAttrs...))
	if err != nil || status >= http.StatusInternalServerError {
		desc := http.StatusText(status)
		if err != nil {
			desc = err.Error()
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      eventsEventName,
		"event.domain":    eventsEventDomain,
		"severity_text":   severity,
		"severity_number": number,
		"attributes":      attributesToFields(attrs),
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	entry := m.logger.WithFields(fields)
	switch severity {
	case "ERROR":
		entry.Error(observabilityMsg)
	case "WARN":
		entry.Warn(observabilityMsg)
	default:
		entry.Info(observabilityMsg)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity text and
// number.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func attributesToFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
