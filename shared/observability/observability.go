package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer and meter used by the conversation service
const InstrumentationName = "school-portal/backend/conversation"

// ShutdownFunc flushes and stops a provider
type ShutdownFunc func(ctx context.Context) error

// newResource describes the service. The service attributes are schemaless so they merge
// with whatever schema the SDK detectors report.
func newResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.New(context.Background(),
		resource.WithTelemetrySDK(),
		resource.WithFromEnv(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build otel resource: %w", err)
	}
	return res, nil
}

// SetupTracing installs a global tracer provider exporting to w (stdout when nil)
func SetupTracing(serviceName string, w io.Writer) (ShutdownFunc, error) {
	if w == nil {
		w = os.Stdout
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize stdouttrace exporter: %w", err)
	}
	res, err := newResource(serviceName)
	if err != nil {
		return nil, err
	}
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// SetupMetrics installs a global meter provider whose readings are exposed through
// the given prometheus registerer, and returns the service instruments.
func SetupMetrics(serviceName string, reg promclient.Registerer) (*Metrics, ShutdownFunc, error) {
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	exp, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize prometheus exporter: %w", err)
	}
	res, err := newResource(serviceName)
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	m, err := NewMetrics(mp.Meter(InstrumentationName))
	if err != nil {
		return nil, nil, err
	}
	return m, mp.Shutdown, nil
}

// Tracer returns the service tracer from the global provider
func Tracer() oteltrace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Metrics holds the conversation service instruments. A nil *Metrics records nothing.
type Metrics struct {
	messagesAppended   metric.Int64Counter
	validationFailures metric.Int64Counter
	conflicts          metric.Int64Counter
	archived           metric.Int64Counter
	archiveFailures    metric.Int64Counter
	opDuration         metric.Float64Histogram
}

// NewMetrics creates the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.messagesAppended, err = meter.Int64Counter("conversation_messages_appended",
		metric.WithDescription("Messages appended, by sender")); err != nil {
		return nil, err
	}
	if m.validationFailures, err = meter.Int64Counter("conversation_validation_failures",
		metric.WithDescription("Mutations rejected by validation, by operation")); err != nil {
		return nil, err
	}
	if m.conflicts, err = meter.Int64Counter("conversation_write_conflicts",
		metric.WithDescription("Version conflicts seen while committing a mutation")); err != nil {
		return nil, err
	}
	if m.archived, err = meter.Int64Counter("conversation_archived",
		metric.WithDescription("Conversations moved to archived by the sweep")); err != nil {
		return nil, err
	}
	if m.archiveFailures, err = meter.Int64Counter("conversation_archive_failures",
		metric.WithDescription("Conversations the sweep failed to archive")); err != nil {
		return nil, err
	}
	if m.opDuration, err = meter.Float64Histogram("conversation_operation_duration_seconds",
		metric.WithDescription("Service operation latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) MessageAppended(ctx context.Context, sender string) {
	if m == nil {
		return
	}
	m.messagesAppended.Add(ctx, 1, metric.WithAttributes(attribute.String("sender", sender)))
}

func (m *Metrics) ValidationFailed(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.validationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

func (m *Metrics) Conflict(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

func (m *Metrics) Archived(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.archived.Add(ctx, n)
}

func (m *Metrics) ArchiveFailed(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.archiveFailures.Add(ctx, n)
}

// ObserveOperation records how long op took and whether it failed
func (m *Metrics) ObserveOperation(ctx context.Context, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.opDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("error", err != nil),
	))
}
