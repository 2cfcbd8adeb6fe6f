package database

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/pricing-engine/pkg/database"

var queryDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of traced database operations",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
	},
	[]string{"operation", "outcome"},
)

type slowQuery struct {
	threshold time.Duration
	logger    *slog.Logger
}

var slowQueries atomic.Pointer[slowQuery]

// SetSlowQueryLogging makes TraceQuery warn about operations that take at
// least threshold. A zero threshold or nil logger turns it off.
func SetSlowQueryLogging(threshold time.Duration, logger *slog.Logger) {
	if threshold <= 0 || logger == nil {
		slowQueries.Store(nil)
		return
	}
	slowQueries.Store(&slowQuery{threshold: threshold, logger: logger})
}

// TraceQuery opens a client span for one database operation and returns the
// function that closes it:
//
//	ctx, end := database.TraceQuery(ctx, "ListProducts", listProductsQuery)
//	defer func() { end(err) }()
//
// The closer also records the duration histogram and the slow query warning.
func TraceQuery(ctx context.Context, operation, statement string, extra ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs := make([]attribute.KeyValue, 0, 3+len(extra))
	attrs = append(attrs,
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", operation),
		attribute.String("db.statement", statement),
	)
	attrs = append(attrs, extra...)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	return ctx, func(err error) {
		elapsed := time.Since(start)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		queryDuration.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())

		sq := slowQueries.Load()
		if sq == nil || elapsed < sq.threshold {
			return
		}
		args := []any{
			slog.String("operation", operation),
			slog.String("statement", statement),
			slog.Duration("duration", elapsed),
		}
		if err != nil {
			args = append(args, slog.String("error", err.Error()))
		}
		sq.logger.WarnContext(ctx, "slow query detected", args...)
	}
}
