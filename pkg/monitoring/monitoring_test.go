package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
)

type fakeDescriber struct {
	status ddbtypes.TableStatus
	err    error
}

func (f *fakeDescriber) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.DescribeTableOutput{Table: &ddbtypes.TableDescription{TableStatus: f.status}}, nil
}

func TestHealthManager_CheckHealth(t *testing.T) {
	tests := []struct {
		name       string
		describer  *fakeDescriber
		wantStatus HealthStatus
		wantCode   int
	}{
		{"active table", &fakeDescriber{status: ddbtypes.TableStatusActive}, HealthStatusHealthy, http.StatusOK},
		{"updating table", &fakeDescriber{status: ddbtypes.TableStatusUpdating}, HealthStatusDegraded, http.StatusOK},
		{"unreachable", &fakeDescriber{err: errors.New("connection refused")}, HealthStatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm := NewHealthManager("scribe-api", "test")
			hm.RegisterChecker("patients", NewTableHealthChecker(tt.describer, "patients"))
			hm.RegisterChecker("static", CheckFunc(func(ctx context.Context) HealthCheck {
				return HealthCheck{Status: HealthStatusHealthy}
			}))

			rec := httptest.NewRecorder()
			hm.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)

			var report HealthReport
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
			assert.Equal(t, tt.wantStatus, report.Status)
			require.Len(t, report.Checks, 2)
			assert.Equal(t, "patients", report.Checks[0].Name)
			assert.Equal(t, "static", report.Checks[1].Name)
		})
	}
}

func TestHealthManager_SlowCheckTimesOut(t *testing.T) {
	hm := NewHealthManager("scribe-api", "test")
	hm.SetTimeout(10 * time.Millisecond)
	hm.RegisterChecker("slow", CheckFunc(func(ctx context.Context) HealthCheck {
		<-ctx.Done()
		return HealthCheck{Status: HealthStatusUnhealthy, Message: ctx.Err().Error()}
	}))
	hm.RegisterChecker("blank", CheckFunc(func(ctx context.Context) HealthCheck {
		return HealthCheck{}
	}))

	report := hm.CheckHealth(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, report.Status)
	assert.Equal(t, 2, report.Summary[string(HealthStatusUnhealthy)])
}

func TestBacklogHealthChecker(t *testing.T) {
	pending := 7
	checker := NewBacklogHealthChecker(func() int { return pending }, 10, 0.8)

	assert.Equal(t, HealthStatusHealthy, checker.Check(context.Background()).Status)

	pending = 8
	check := checker.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, check.Status)
	assert.Equal(t, 8, check.Details["pending"])
}

func TestMonitoringMiddleware_RequestIDAndMetrics(t *testing.T) {
	metrics := NewMetricsCollector("scribe-api")
	mm := NewMonitoringMiddleware(metrics, NewTracingManager("scribe-api", "test"), logger.Discard())

	router := mux.NewRouter()
	router.Use(mm.HTTPMiddleware)
	router.HandleFunc("/patients/{patientId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/patients/p-1", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	metricsRec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(metricsRec.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `endpoint="/patients/{patientId}"`))
	assert.True(t, strings.Contains(string(body), `status_code="404"`))
}

func TestMonitoringMiddleware_GeneratesRequestID(t *testing.T) {
	mm := NewMonitoringMiddleware(NewMetricsCollector("scribe-api"), NewTracingManager("scribe-api", "test"), logger.Discard())

	var seen string
	handler := mm.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logger.RequestIDKey).(string)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestStoreMiddleware_RecordsErrors(t *testing.T) {
	metrics := NewMetricsCollector("scribe-api")
	mm := NewMonitoringMiddleware(metrics, NewTracingManager("scribe-api", "test"), logger.Discard())

	wantErr := errors.New("throttled")
	err := mm.StoreMiddleware("PutItem", "patients")(context.Background(), func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() != "store_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == "error" {
					found = true
					assert.Equal(t, float64(1), m.GetCounter().GetValue())
				}
			}
		}
	}
	assert.True(t, found)
}
