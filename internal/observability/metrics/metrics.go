package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	ledgerAppends        metric.Int64Counter
	appendConflicts      metric.Int64Counter
	compensations        metric.Int64Counter
	compensationFailures metric.Int64Counter
	driftDetected        metric.Int64Counter
	driftCorrected       metric.Int64Counter
	auditRuns            metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				return provider.Shutdown(shutdownCtx)
			},
		})
	}

	return provider, nil
}

// New builds the instrument set used by the loyalty services.
func New(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("loyalty")

	ledgerAppends, err := meter.Int64Counter("loyalty_ledger_appends_total",
		metric.WithDescription("Ledger transactions appended, by type"))
	if err != nil {
		return nil, err
	}
	appendConflicts, err := meter.Int64Counter("loyalty_append_conflicts_total",
		metric.WithDescription("Per-user lock conflicts retried during appends"))
	if err != nil {
		return nil, err
	}
	compensations, err := meter.Int64Counter("loyalty_compensations_total",
		metric.WithDescription("Compensating refunds written after partial order-points failures"))
	if err != nil {
		return nil, err
	}
	compensationFailures, err := meter.Int64Counter("loyalty_compensation_failures_total",
		metric.WithDescription("Compensations that exhausted retries and escalated"))
	if err != nil {
		return nil, err
	}
	driftDetected, err := meter.Int64Counter("loyalty_drift_detected_total",
		metric.WithDescription("Balance validations that found nonzero drift"))
	if err != nil {
		return nil, err
	}
	driftCorrected, err := meter.Int64Counter("loyalty_drift_corrected_total",
		metric.WithDescription("Correcting transactions written by fix"))
	if err != nil {
		return nil, err
	}
	auditRuns, err := meter.Int64Counter("loyalty_audit_runs_total",
		metric.WithDescription("Batch audit executions"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ledgerAppends:        ledgerAppends,
		appendConflicts:      appendConflicts,
		compensations:        compensations,
		compensationFailures: compensationFailures,
		driftDetected:        driftDetected,
		driftCorrected:       driftCorrected,
		auditRuns:            auditRuns,
	}, nil
}

func (m *Metrics) RecordLedgerAppend(ctx context.Context, txType string) {
	if m == nil || m.ledgerAppends == nil {
		return
	}
	m.ledgerAppends.Add(ctx, 1, metric.WithAttributes(attribute.String("type", txType)))
}

func (m *Metrics) RecordAppendConflict(ctx context.Context) {
	if m == nil || m.appendConflicts == nil {
		return
	}
	m.appendConflicts.Add(ctx, 1)
}

func (m *Metrics) RecordCompensation(ctx context.Context) {
	if m == nil || m.compensations == nil {
		return
	}
	m.compensations.Add(ctx, 1)
}

func (m *Metrics) RecordCompensationFailure(ctx context.Context) {
	if m == nil || m.compensationFailures == nil {
		return
	}
	m.compensationFailures.Add(ctx, 1)
}

func (m *Metrics) RecordDriftDetected(ctx context.Context) {
	if m == nil || m.driftDetected == nil {
		return
	}
	m.driftDetected.Add(ctx, 1)
}

func (m *Metrics) RecordDriftCorrected(ctx context.Context) {
	if m == nil || m.driftCorrected == nil {
		return
	}
	m.driftCorrected.Add(ctx, 1)
}

func (m *Metrics) RecordAuditRun(ctx context.Context) {
	if m == nil || m.auditRuns == nil {
		return
	}
	m.auditRuns.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
