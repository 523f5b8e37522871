package monitoring

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
)

// MonitoringMiddleware combines metrics, tracing, and logging
type MonitoringMiddleware struct {
	metrics *MetricsCollector
	tracing *TracingManager
	logger  *logger.Logger
}

// NewMonitoringMiddleware creates a new monitoring middleware
func NewMonitoringMiddleware(metrics *MetricsCollector, tracing *TracingManager, log *logger.Logger) *MonitoringMiddleware {
	return &MonitoringMiddleware{
		metrics: metrics,
		tracing: tracing,
		logger:  log,
	}
}

// HTTPMiddleware assigns a request id, opens a server span, records
// request metrics and logs the completed request.
func (mm *MonitoringMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), logger.RequestIDKey, requestID)
		ctx = mm.tracing.ExtractTraceContext(ctx, r.Header)

		route := routeTemplate(r)
		ctx, span := mm.tracing.StartHTTPSpan(ctx, r.Method, route)
		defer span.End()
		if traceID := mm.tracing.TraceIDFromContext(ctx); traceID != "" {
			ctx = context.WithValue(ctx, logger.TraceIDKey, traceID)
		}

		span.SetAttributes(
			attribute.String("user_agent.original", r.UserAgent()),
			attribute.String("request.id", requestID),
		)

		wrapper := &monitoringResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapper.Header().Set("X-Request-ID", requestID)
		mm.tracing.InjectTraceContext(ctx, wrapper.Header())

		// The auth middleware runs inside this one and annotates the request
		// it passes on; the holder lets us read the user id back.
		holder := &requestContext{ctx: ctx}
		next.ServeHTTP(wrapper, r.WithContext(context.WithValue(ctx, requestContextKey{}, holder)))

		duration := time.Since(start)
		mm.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(wrapper.statusCode), duration)

		span.SetAttributes(
			attribute.Int("http.response.status_code", wrapper.statusCode),
			attribute.Int64("http.response.body.size", wrapper.bytesWritten),
		)
		if wrapper.statusCode >= 500 {
			span.SetStatus(codes.Error, http.StatusText(wrapper.statusCode))
		}

		mm.logger.HTTPRequest(holder.ctx, r.Method, r.URL.Path, r.UserAgent(), r.RemoteAddr, wrapper.statusCode, duration.Milliseconds())
	})
}

// StoreMiddleware wraps a key-value store call with a span and metrics
func (mm *MonitoringMiddleware) StoreMiddleware(operation, table string) func(context.Context, func(context.Context) error) error {
	return func(ctx context.Context, storeFunc func(context.Context) error) error {
		start := time.Now()

		ctx, span := mm.tracing.StartStoreSpan(ctx, operation, table)
		defer span.End()

		err := storeFunc(ctx)

		duration := time.Since(start)
		mm.metrics.RecordStoreOperation(table, operation, err, duration)
		mm.logger.StoreOperation(ctx, operation, table, duration.Milliseconds(), err)
		if err != nil {
			mm.tracing.RecordError(span, err)
		}
		return err
	}
}

// PHITarget names the provider and patient record an operation touches.
// The wrapped function may set SubjectID once the record is known.
type PHITarget struct {
	ProviderID string
	SubjectID  string
}

// PHIMiddleware wraps an operation touching patient data with a span, an
// access metric and an access log line
func (mm *MonitoringMiddleware) PHIMiddleware(operation, resourceType string) func(context.Context, *PHITarget, func(context.Context) error) error {
	return func(ctx context.Context, target *PHITarget, phiFunc func(context.Context) error) error {
		ctx, span := mm.tracing.StartPHISpan(ctx, operation, resourceType)
		defer span.End()

		err := phiFunc(ctx)

		status := "granted"
		if err != nil {
			status = "failed"
			mm.tracing.RecordError(span, err)
		}
		mm.metrics.RecordPHIAccess(resourceType, operation, status)
		span.SetAttributes(attribute.String("phi.status", status))
		mm.logger.PHIAccess(ctx, target.ProviderID, target.SubjectID, operation, err == nil)

		return err
	}
}

type requestContextKey struct{}

type requestContext struct {
	ctx context.Context
}

// AnnotateRequest lets an inner middleware publish its enriched context to
// the request log line written by HTTPMiddleware.
func AnnotateRequest(ctx context.Context) {
	if holder, ok := ctx.Value(requestContextKey{}).(*requestContext); ok {
		holder.ctx = ctx
	}
}

// monitoringResponseWriter wraps http.ResponseWriter to capture metrics
type monitoringResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (mrw *monitoringResponseWriter) WriteHeader(code int) {
	if !mrw.wroteHeader {
		mrw.statusCode = code
		mrw.wroteHeader = true
	}
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *monitoringResponseWriter) Write(b []byte) (int, error) {
	mrw.wroteHeader = true
	n, err := mrw.ResponseWriter.Write(b)
	mrw.bytesWritten += int64(n)
	return n, err
}
