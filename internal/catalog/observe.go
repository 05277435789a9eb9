package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Observer records metrics and spans for catalog operations. A nil
// Observer only runs the operation.
type Observer struct {
	ops    *prometheus.CounterVec
	dur    *prometheus.HistogramVec
	tracer trace.Tracer
}

// NewObserver registers the catalog metrics with reg (nil skips
// registration). Registering twice reuses the existing collectors.
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "novacat_catalog_operations_total",
				Help: "Total number of catalog operations",
			},
			[]string{"operation", "status"},
		),
		dur: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "novacat_catalog_operation_duration_seconds",
				Help:    "Duration of catalog operations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		tracer: otel.Tracer("novacat/catalog"),
	}
	if reg != nil {
		o.ops = register(reg, o.ops)
		o.dur = register(reg, o.dur)
	}
	return o
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		slog.Warn("catalog: metrics registration failed", "err", err)
	}
	return c
}

func (o *Observer) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	if o == nil {
		return fn(ctx)
	}
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "catalog."+op,
		trace.WithAttributes(attribute.String("operation", op)),
	)
	defer span.End()

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	o.ops.WithLabelValues(op, status).Inc()
	o.dur.WithLabelValues(op).Observe(duration.Seconds())
	return err
}
