package monitoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// HealthStatus is the state of one dependency or of the whole service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// severity orders statuses so the report takes the worst one
func (s HealthStatus) severity() int {
	switch s {
	case HealthStatusHealthy:
		return 0
	case HealthStatusDegraded:
		return 1
	default:
		return 2
	}
}

// HealthCheck is the outcome of probing one dependency
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// HealthReport is the body served on the health path. Checks are sorted by
// name.
type HealthReport struct {
	Status    HealthStatus   `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Service   string         `json:"service"`
	Version   string         `json:"version"`
	Checks    []HealthCheck  `json:"checks"`
	Summary   map[string]int `json:"summary"`
}

// HealthChecker probes one dependency
type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
}

// CheckFunc adapts a function to HealthChecker
type CheckFunc func(ctx context.Context) HealthCheck

// Check calls f
func (f CheckFunc) Check(ctx context.Context) HealthCheck {
	return f(ctx)
}

// HealthManager runs the registered checkers concurrently, each under its
// own deadline
type HealthManager struct {
	service string
	version string
	timeout time.Duration

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthManager creates a health manager with a five second per-check
// deadline
func NewHealthManager(service, version string) *HealthManager {
	return &HealthManager{
		service:  service,
		version:  version,
		timeout:  5 * time.Second,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds or replaces the checker stored under name
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// SetTimeout changes the per-check deadline
func (hm *HealthManager) SetTimeout(timeout time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.timeout = timeout
}

// CheckHealth probes every dependency and folds the results into a report
func (hm *HealthManager) CheckHealth(ctx context.Context) *HealthReport {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	slices.Sort(names)
	checkers := make([]HealthChecker, len(names))
	for i, name := range names {
		checkers[i] = hm.checkers[name]
	}
	timeout := hm.timeout
	hm.mu.RUnlock()

	checks := make([]HealthCheck, len(names))
	var wg sync.WaitGroup
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			checks[i] = runCheck(ctx, names[i], checkers[i], timeout)
		}(i)
	}
	wg.Wait()

	report := &HealthReport{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Service:   hm.service,
		Version:   hm.version,
		Checks:    checks,
		Summary:   make(map[string]int),
	}
	for _, check := range checks {
		report.Summary[string(check.Status)]++
		if check.Status.severity() > report.Status.severity() {
			report.Status = check.Status
		}
	}
	return report
}

func runCheck(ctx context.Context, name string, checker HealthChecker, timeout time.Duration) HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	check := checker.Check(ctx)
	check.Name = name
	check.LastChecked = start
	check.Duration = time.Since(start)
	if check.Status == "" {
		check.Status = HealthStatusUnhealthy
	}
	return check
}

// HTTPHandler serves the report. Only an unhealthy service answers 503; a
// degraded one keeps taking traffic.
func (hm *HealthManager) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hm.CheckHealth(r.Context())

		code := http.StatusOK
		if report.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	}
}

// NewDatabaseHealthChecker pings the side effect event log database
func NewDatabaseHealthChecker(db *sql.DB) HealthChecker {
	return CheckFunc(func(ctx context.Context) HealthCheck {
		if err := db.PingContext(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("event log unreachable: %v", err),
			}
		}

		stats := db.Stats()
		check := HealthCheck{
			Status: HealthStatusHealthy,
			Details: map[string]interface{}{
				"open_connections": stats.OpenConnections,
				"in_use":           stats.InUse,
				"wait_count":       stats.WaitCount,
			},
		}
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			check.Status = HealthStatusDegraded
			check.Message = "event log connection pool exhausted"
		}
		return check
	})
}

// TableDescriber is the DynamoDB call used by NewTableHealthChecker
type TableDescriber interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// NewTableHealthChecker reports a DynamoDB table healthy while it is
// ACTIVE and degraded while it is UPDATING
func NewTableHealthChecker(client TableDescriber, table string) HealthChecker {
	return CheckFunc(func(ctx context.Context) HealthCheck {
		details := map[string]interface{}{"table": table}

		out, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err != nil {
			return HealthCheck{
				Status:  HealthStatusUnhealthy,
				Message: fmt.Sprintf("describe table: %v", err),
				Details: details,
			}
		}

		status := ddbtypes.TableStatusActive
		if out.Table != nil {
			status = out.Table.TableStatus
		}
		details["table_status"] = string(status)

		switch status {
		case ddbtypes.TableStatusActive:
			return HealthCheck{Status: HealthStatusHealthy, Details: details}
		case ddbtypes.TableStatusUpdating:
			return HealthCheck{Status: HealthStatusDegraded, Message: "table updating", Details: details}
		default:
			return HealthCheck{Status: HealthStatusUnhealthy, Message: fmt.Sprintf("table %s", status), Details: details}
		}
	})
}

// NewBacklogHealthChecker reports degraded once pending reaches threshold
// (a fraction of capacity)
func NewBacklogHealthChecker(pending func() int, capacity int, threshold float64) HealthChecker {
	return CheckFunc(func(ctx context.Context) HealthCheck {
		n := pending()
		check := HealthCheck{
			Status:  HealthStatusHealthy,
			Details: map[string]interface{}{"pending": n, "capacity": capacity},
		}
		if capacity > 0 && float64(n) >= threshold*float64(capacity) {
			check.Status = HealthStatusDegraded
			check.Message = "backlog near capacity"
		}
		return check
	})
}
