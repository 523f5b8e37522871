package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/config"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
)

// recordingMiddleware returns a middleware whose spans land in the returned
// recorder and whose logs land in buf
func recordingMiddleware(t *testing.T, buf *bytes.Buffer) (*MonitoringMiddleware, *tracetest.SpanRecorder, *MetricsCollector) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	metrics := NewMetricsCollector("scribe-api")
	mm := NewMonitoringMiddleware(metrics, NewTracingManagerWithProvider(tp, "scribe-api", "test"), logger.NewWithOutput("debug", buf))
	return mm, recorder, metrics
}

func TestStoreMiddleware_RecordsSpans(t *testing.T) {
	var buf bytes.Buffer
	mm, recorder, _ := recordingMiddleware(t, &buf)

	require.NoError(t, mm.StoreMiddleware("GetItem", "patients")(context.Background(), func(ctx context.Context) error {
		return nil
	}))
	err := mm.StoreMiddleware("PutItem", "patients")(context.Background(), func(ctx context.Context) error {
		return errors.New("throttled")
	})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "dynamodb.GetItem", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "dynamodb.PutItem", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	assert.Contains(t, buf.String(), `"operation":"PutItem"`)
	assert.Contains(t, buf.String(), "Store operation failed")
}

func TestPHIMiddleware_SpanMetricAndAccessLog(t *testing.T) {
	var buf bytes.Buffer
	mm, recorder, metrics := recordingMiddleware(t, &buf)

	target := &PHITarget{ProviderID: "provider-1"}
	err := mm.PHIMiddleware("patients.create", "patient")(context.Background(), target, func(ctx context.Context) error {
		target.SubjectID = "p-7"
		return nil
	})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "phi.patients.create", spans[0].Name())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, true, entry["phi_access"])
	assert.Equal(t, "provider-1", entry["provider_id"])
	assert.Equal(t, "p-7", entry["patient_id"])
	assert.Equal(t, "patients.create", entry["action"])

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	var granted float64
	for _, mf := range families {
		if mf.GetName() != "phi_access_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			granted += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), granted)
}

func TestHTTPMiddleware_LogsTraceID(t *testing.T) {
	var buf bytes.Buffer
	mm, recorder, _ := recordingMiddleware(t, &buf)

	var traceID string
	handler := mm.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID, _ = r.Context().Value(logger.TraceIDKey).(string)
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/patients", nil))

	require.Len(t, recorder.Ended(), 1)
	require.NotEmpty(t, traceID)
	assert.Equal(t, recorder.Ended()[0].SpanContext().TraceID().String(), traceID)
	assert.Contains(t, buf.String(), `"trace_id":"`+traceID+`"`)
}

func TestNewTracerProvider_Sampling(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
		want  int
	}{
		{"always", 1, 1},
		{"never", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := tracetest.NewInMemoryExporter()
			tp := NewTracerProvider(exporter, config.TracingConfig{SampleRatio: tt.ratio, Environment: "test"}, "scribe-api", "test")

			tm := NewTracingManagerWithProvider(tp, "scribe-api", "test")
			_, span := tm.StartSpan(context.Background(), "encounters.submit")
			span.End()

			require.NoError(t, tp.ForceFlush(context.Background()))
			assert.Len(t, exporter.GetSpans(), tt.want)
			require.NoError(t, tp.Shutdown(context.Background()))
		})
	}
}

func TestNewSpanExporter(t *testing.T) {
	var buf bytes.Buffer
	exp, err := newSpanExporter(context.Background(), config.TracingConfig{Exporter: "stdout"}, &buf)
	require.NoError(t, err)

	tp := NewTracerProvider(exp, config.TracingConfig{SampleRatio: 1}, "scribe-api", "test")
	_, span := NewTracingManagerWithProvider(tp, "scribe-api", "test").StartSpan(context.Background(), "patients.search")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "patients.search")

	_, err = newSpanExporter(context.Background(), config.TracingConfig{Exporter: "jaeger"}, &buf)
	assert.Error(t, err)
}
