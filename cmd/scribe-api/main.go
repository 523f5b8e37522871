package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/auth"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/encounters"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/patients"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/preferences"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/server"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/sideeffects"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/awsclient"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/config"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/database"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/monitoring"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

const serviceName = "scribe-api"

// Set by the build
var version = "dev"

// backlogThreshold marks the side effect queue degraded
const backlogThreshold = 0.8

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.WithComponent(serviceName).WithField("version", version).Info("Starting scribe API")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Scribe API stopped with an error")
	}
	log.Info("Scribe API stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := awsclient.New(ctx, cfg.AWS)
	if err != nil {
		return err
	}

	// Monitoring
	if cfg.Monitoring.Tracing.Enabled {
		shutdownTracing, err := monitoring.InstallTracing(ctx, cfg.Monitoring.Tracing, serviceName, version)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				log.WithError(err).Warn("Failed to flush traces")
			}
		}()
	}
	metrics := monitoring.NewMetricsCollector(serviceName)
	tracing := monitoring.NewTracingManager(serviceName, version)
	monitor := monitoring.NewMonitoringMiddleware(metrics, tracing, log)
	health := monitoring.NewHealthManager(serviceName, version)
	for _, table := range []string{cfg.Tables.Preferences, cfg.Tables.Patients, cfg.Tables.Encounters} {
		health.RegisterChecker("table:"+table, monitoring.NewTableHealthChecker(clients.DynamoDB, table))
	}

	// Side effect event log. Postgres is optional; the in-memory log is
	// always kept.
	var recorder sideeffects.Recorder = sideeffects.NewMemoryRecorder()
	if cfg.EventLog.DSN != "" {
		db, err := database.NewConnection(ctx, cfg.EventLog, log)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.CreateSchema(ctx); err != nil {
			return err
		}
		recorder = sideeffects.MultiRecorder{recorder, sideeffects.NewSQLRecorder(db.DB)}
		health.RegisterChecker("event_log", monitoring.NewDatabaseHealthChecker(db.DB))
	}

	queue := sideeffects.NewQueue(cfg.SideEffects.Buffer, cfg.SideEffects.TaskTimeout, recorder, metrics, log)
	go logFailures(queue, log)
	health.RegisterChecker("side_effects", monitoring.NewBacklogHealthChecker(queue.Pending, cfg.SideEffects.Buffer, backlogThreshold))

	// Domain services
	preferenceService := preferences.NewService(
		preferences.NewRepository(clients.DynamoDB, cfg.Tables.Preferences, monitor, log), log)
	patientService := patients.NewService(
		patients.NewRepository(clients.DynamoDB, cfg.Tables, monitor, log), monitor, log)
	encounterService := encounters.NewService(encounters.Dependencies{
		Audio:          encounters.NewAudioStore(clients.Uploader, cfg.AWS.Bucket, cfg.AWS.AudioPrefix, metrics, log),
		Jobs:           encounters.NewTranscriber(clients.Transcribe, cfg.AWS.DataAccessRoleARN, cfg.AWS.Bucket, log),
		Store:          encounters.NewRepository(clients.DynamoDB, cfg.Tables, monitor, log),
		Preferences:    preferenceService,
		Patients:       patientService,
		SideEffects:    queue,
		Metrics:        metrics,
		Tracing:        tracing,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, log)

	// HTTP surface
	authenticate, err := newAuthMiddleware(ctx, cfg, log)
	if err != nil {
		return err
	}
	limiter := server.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RatePeriod)
	go limiter.StartCleanup(ctx, 10*time.Minute)

	opts := server.Options{
		Config:      cfg.Server,
		Auth:        authenticate,
		RateLimiter: limiter,
		Health:      health.HTTPHandler(),
		HealthPath:  cfg.Monitoring.HealthPath,
	}
	if cfg.Monitoring.Enabled {
		opts.Monitoring = monitor.HTTPMiddleware
		opts.Metrics = metrics.Handler()
		opts.MetricsPath = cfg.Monitoring.MetricsPath
	}

	srv := server.New(opts, log,
		preferences.NewHandlers(preferenceService, log),
		patients.NewHandlers(patientService, log),
		encounters.NewHandlers(encounterService, cfg.Server.MaxUploadBytes, log),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Addr())
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Failed to shut down HTTP server gracefully")
	}
	if err := queue.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("Side effect queue did not drain before shutdown")
	}
	return serveErr
}

// newAuthMiddleware validates bearer tokens in the configured mode and,
// when auth.required_group is set, admits only members of that group
func newAuthMiddleware(ctx context.Context, cfg *config.Config, log *logger.Logger) (func(http.Handler) http.Handler, error) {
	validator, err := auth.NewValidator(ctx, cfg.AWS, cfg.Auth)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.Mode == config.AuthModeSharedSecret {
		log.WithComponent(serviceName).Warn("Accepting shared secret tokens; use the user pool mode outside local development")
	}

	authenticate := auth.Middleware(validator, log, cfg.Monitoring.HealthPath, cfg.Monitoring.MetricsPath)
	if cfg.Auth.RequiredGroup == "" {
		return authenticate, nil
	}
	requireGroup := auth.RequireGroup(types.ProviderGroup(cfg.Auth.RequiredGroup), log)
	return func(next http.Handler) http.Handler {
		return authenticate(requireGroup(next))
	}, nil
}

// logFailures reports side effect failures until the queue closes
func logFailures(queue *sideeffects.Queue, log *logger.Logger) {
	for event := range queue.Failures() {
		log.WithComponent("side_effects").WithFields(map[string]interface{}{
			"task_id":     event.TaskID,
			"kind":        event.Kind,
			"provider_id": event.ProviderID,
			"outcome":     event.Outcome,
			"error":       event.Error,
		}).Warn("Side effect did not complete")
	}
}
