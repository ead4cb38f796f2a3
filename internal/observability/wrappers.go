package observability

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okanya/scriptbox/internal/approval"
	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/notification"
	"github.com/okanya/scriptbox/internal/preflight"
)

// --- InstrumentedRequestStore ---

// InstrumentedRequestStore wraps an approval.RequestStore with workflow
// metrics and tracing.
type InstrumentedRequestStore struct {
	inner   approval.RequestStore
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedRequestStore wraps a request store with observability.
func NewInstrumentedRequestStore(inner approval.RequestStore, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedRequestStore {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedRequestStore{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (s *InstrumentedRequestStore) Create(ctx context.Context, req *domain.ScriptRequest) error {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "requests.create",
			trace.WithAttributes(
				attribute.String("request.language", string(req.Language)),
				attribute.String("request.database", string(req.DatabaseKind)),
				attribute.String("request.instance", req.InstanceName),
			))
		defer span.End()
	}

	err := s.inner.Create(ctx, req)

	if err != nil {
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if s.metrics != nil {
		s.metrics.RequestsSubmittedTotal.WithLabelValues(string(req.Language), string(req.DatabaseKind)).Inc()
	}

	return err
}

func (s *InstrumentedRequestStore) Get(ctx context.Context, id uuid.UUID) (*domain.ScriptRequest, error) {
	return s.inner.Get(ctx, id)
}

func (s *InstrumentedRequestStore) List(ctx context.Context, filter approval.ListFilter) ([]domain.ScriptRequest, error) {
	return s.inner.List(ctx, filter)
}

func (s *InstrumentedRequestStore) Resolve(ctx context.Context, id uuid.UUID, status domain.RequestStatus, reviewer, reason string) error {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "requests.resolve",
			trace.WithAttributes(
				attribute.String("request.id", id.String()),
				attribute.String("request.outcome", status.String()),
			))
		defer span.End()
	}

	err := s.inner.Resolve(ctx, id, status, reviewer, reason)

	if err != nil {
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if s.metrics != nil {
		s.metrics.RequestsResolvedTotal.WithLabelValues(status.String()).Inc()
	}

	return err
}

func (s *InstrumentedRequestStore) SetOutcome(ctx context.Context, id uuid.UUID, status domain.RequestStatus, result json.RawMessage) error {
	return s.inner.SetOutcome(ctx, id, status, result)
}

func (s *InstrumentedRequestStore) ExpireOld(ctx context.Context) (int64, error) {
	n, err := s.inner.ExpireOld(ctx)
	if err == nil && n > 0 && s.metrics != nil {
		s.metrics.RequestsExpiredTotal.Add(float64(n))
	}
	return n, err
}

func (s *InstrumentedRequestStore) DeleteResolved(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.inner.DeleteResolved(ctx, olderThan)
}

// --- InstrumentedSender ---

// InstrumentedSender wraps a notification.Sender with delivery metrics and tracing.
type InstrumentedSender struct {
	inner   notification.Sender
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedSender wraps a notification sender with observability.
func NewInstrumentedSender(inner notification.Sender, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedSender {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSender{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

func (s *InstrumentedSender) Type() string { return s.inner.Type() }

func (s *InstrumentedSender) Send(ctx context.Context, msg *notification.Message) error {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "notify.send",
			trace.WithAttributes(
				attribute.String("notify.sender", s.inner.Type()),
			))
		defer span.End()
	}

	err := s.inner.Send(ctx, msg)

	status := "success"
	if err != nil {
		status = "error"
		if s.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if s.metrics != nil {
		s.metrics.NotificationsTotal.WithLabelValues(s.inner.Type(), status).Inc()
	}

	return err
}

// --- InstrumentedProber ---

// InstrumentedProber wraps a preflight.Prober with probe metrics, tracing,
// and anomaly detection.
type InstrumentedProber struct {
	inner   preflight.Prober
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedProber wraps a connectivity prober with observability.
func NewInstrumentedProber(inner preflight.Prober, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedProber {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProber{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (p *InstrumentedProber) Check(ctx context.Context, inst *domain.Instance) error {
	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "preflight.check",
			trace.WithAttributes(
				attribute.String("instance.name", inst.Name),
				attribute.String("instance.kind", string(inst.Kind)),
			))
		defer span.End()
	}

	err := p.inner.Check(ctx, inst)

	result := "ok"
	if err != nil {
		result = "fail"
		if p.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if p.metrics != nil {
		p.metrics.PreflightChecksTotal.WithLabelValues(string(inst.Kind), result).Inc()
	}

	if p.anomaly != nil {
		if err != nil {
			p.anomaly.RecordFailure(inst.Name)
		} else {
			p.anomaly.RecordSuccess(inst.Name)
		}
	}

	return err
}

// --- Compile-time interface checks ---

var (
	_ approval.RequestStore = (*InstrumentedRequestStore)(nil)
	_ notification.Sender   = (*InstrumentedSender)(nil)
	_ preflight.Prober      = (*InstrumentedProber)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
