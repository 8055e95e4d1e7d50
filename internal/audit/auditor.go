// Package audit records every tool invocation, whatever its outcome.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"argo-workflows-mcp/backend/internal/logging"
	"argo-workflows-mcp/backend/internal/repository"
	"argo-workflows-mcp/backend/pkg/models"
)

const tracerName = "argo-workflows-mcp/audit"

// Outcome is what a dispatched tool returns.
type Outcome interface {
	Failed() bool
	String() string
}

// sensitiveArgs are masked before arguments are stored.
var sensitiveArgs = map[string]bool{
	"confirmation_token": true,
}

// Metrics are the Prometheus collectors updated per invocation.
type Metrics struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "argo_mcp_tool_calls_total",
			Help: "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "argo_mcp_tool_call_duration_seconds",
			Help:    "Tool invocation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	reg.MustRegister(m.Calls, m.Duration)
	return m
}

// Auditor wraps tool dispatches.
type Auditor struct {
	store   repository.AuditStore
	metrics *Metrics
	logger  *logging.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func NewAuditor(store repository.AuditStore, metrics *Metrics, logger *logging.Logger) *Auditor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Auditor{
		store:   store,
		metrics: metrics,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
}

// Run calls fn and writes exactly one audit record for it: on normal
// return, on a returned error and on panic. A panic is re-raised after the
// record is written. Failing to persist the record is logged and does not
// change what Run returns.
func (a *Auditor) Run(ctx context.Context, tool string, args map[string]any, fn func(ctx context.Context) (Outcome, error)) (out Outcome, err error) {
	start := a.now()
	ctx, span := a.tracer.Start(ctx, "tool "+tool, trace.WithAttributes(attribute.String("mcp.tool", tool)))

	defer func() {
		recovered := recover()
		elapsed := a.now().Sub(start)

		status := models.AuditStatusSuccess
		var summary string
		switch {
		case recovered != nil:
			status = models.AuditStatusError
			summary = fmt.Sprintf("panic: %v", recovered)
		case err != nil:
			status = models.AuditStatusError
			summary = err.Error()
		case out == nil:
			status = models.AuditStatusError
			summary = "tool returned no result"
		default:
			summary = out.String()
			if out.Failed() {
				status = models.AuditStatusError
			}
		}

		a.record(ctx, tool, args, status, summary, elapsed)

		if status == models.AuditStatusError {
			if err != nil {
				span.RecordError(err)
			}
			span.SetStatus(codes.Error, truncate(summary, 128))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		if recovered != nil {
			panic(recovered)
		}
	}()

	return fn(ctx)
}

func (a *Auditor) record(ctx context.Context, tool string, args map[string]any, status models.AuditStatus, summary string, elapsed time.Duration) {
	if a.metrics != nil {
		a.metrics.Calls.WithLabelValues(tool, string(status)).Inc()
		a.metrics.Duration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}

	rec := &models.AuditRecord{
		ID:            uuid.New().String(),
		ToolName:      tool,
		Arguments:     EncodeArgs(args),
		Status:        status,
		ResultSummary: truncate(summary, models.MaxAuditSummaryLength),
		DurationMs:    elapsed.Milliseconds(),
		ExecutedAt:    a.now().UTC(),
	}

	// The dispatch context may already be cancelled; the record must still
	// be written.
	if err := a.store.AppendAudit(context.WithoutCancel(ctx), rec); err != nil {
		a.logger.Error("failed to write audit record", "tool", tool, "status", status, "error", err)
		return
	}
	a.logger.Debug("tool invocation audited", "tool", tool, "status", status, "duration_ms", rec.DurationMs)
}

// EncodeArgs serializes tool arguments as JSON with sensitive values
// masked.
func EncodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	masked := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && sensitiveArgs[k] {
			masked[k] = logging.Mask(s)
			continue
		}
		masked[k] = v
	}
	data, err := json.Marshal(masked)
	if err != nil {
		return fmt.Sprintf("%v", masked)
	}
	return string(data)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
