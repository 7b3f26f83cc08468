package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/audittrail/pkg/app"
	"github.com/platinummonkey/audittrail/pkg/async"
	"github.com/platinummonkey/audittrail/pkg/audit"
	"github.com/platinummonkey/audittrail/pkg/config"
	"github.com/platinummonkey/audittrail/pkg/observability"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

var version = "dev"

var (
	runOnce     = flag.Bool("once", false, "Archive a single day and exit")
	archiveDate = flag.String("date", "", "Day to archive (YYYY-MM-DD). If empty, archives yesterday. Only used with --once")
	schedule    = flag.String("schedule", "", "Cron schedule, overrides AUDIT_ARCHIVE_SCHEDULE")
	backfillTo  = flag.String("to", "", "Last day of a backfill (YYYY-MM-DD). With --once, archives every day from --date to --to")
	workers     = flag.Int("workers", 4, "Concurrent days during a backfill")
	dayTimeout  = flag.Duration("day-timeout", 10*time.Minute, "Time limit for archiving a single day")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}
	if *schedule != "" {
		cfg.Archive.Schedule = *schedule
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "audit-archiver")
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("archiver stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	a, err := app.New(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer a.Close()

	j, err := newJob(ctx, a)
	if err != nil {
		return err
	}

	if *runOnce {
		day, err := parseDay(*archiveDate, time.Now())
		if err != nil {
			return err
		}
		if *backfillTo == "" {
			return j.run(ctx, day)
		}

		last, err := parseDay(*backfillTo, time.Now())
		if err != nil {
			return err
		}
		days, err := dayRange(day, last)
		if err != nil {
			return err
		}
		return j.backfill(ctx, days, *workers, *dayTimeout)
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(cfg.Archive.Schedule, func() {
		// errors are already audited and logged
		_ = j.run(ctx, yesterday(time.Now()))
	}); err != nil {
		return err
	}

	checker := observability.NewHealthChecker(a.Databases(), a.Redis(), version)
	checker.AddProbe("archive", true, j.store.HealthCheck)

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}
	go func() {
		defer observability.RecoverPanic(logger, "archiver health server")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("health server failed")
		}
	}()

	c.Start()
	logger.WithField("schedule", cfg.Archive.Schedule).Info("audit archiver started")

	<-ctx.Done()
	logger.Info("shutting down archiver")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	healthServer.Shutdown(shutdownCtx)

	// wait for a running job
	<-c.Stop().Done()
	logger.Info("archiver stopped")
	return nil
}

// job archives one day of records per run
type job struct {
	archiver   *audit.Archiver
	store      storage.ObjectStore
	exceptions *audit.ExceptionListener
	logger     *observability.Logger
}

func newJob(ctx context.Context, a *app.App) (*job, error) {
	store, err := a.ObjectStore(ctx)
	if err != nil {
		return nil, err
	}
	return &job{
		archiver: audit.NewArchiver(a.Reader, store, a.ArchiveObserver(), a.Logger, audit.ArchiverConfig{
			Prefix: a.Config.Storage.ArchivePrefix,
		}),
		store:      store,
		exceptions: a.Exceptions,
		logger:     a.Logger,
	}, nil
}

// run archives day. Failures and panics are recorded as exception audits.
func (j *job) run(ctx context.Context, day time.Time) error {
	return j.exceptions.RunCommand(ctx, func(ctx context.Context) error {
		j.logger.WithField("day", day.Format(time.DateOnly)).Info("archiving audit records")
		_, err := j.archiver.ArchiveDay(ctx, day)
		return err
	})
}

// backfill archives days concurrently and joins every failure
func (j *job) backfill(ctx context.Context, days []time.Time, workers int, timeout time.Duration) error {
	j.logger.WithFields(map[string]interface{}{
		"days":    len(days),
		"workers": workers,
	}).Info("starting archive backfill")

	errs := async.Batch(ctx, days, workers, "archive backfill", timeout, j.logger, j.run)
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d days failed: %w", len(errs), len(days), errors.Join(errs...))
	}
	return nil
}

// dayRange returns every day from first to last inclusive
func dayRange(first, last time.Time) ([]time.Time, error) {
	first = first.UTC().Truncate(24 * time.Hour)
	last = last.UTC().Truncate(24 * time.Hour)
	if last.Before(first) {
		return nil, fmt.Errorf("backfill end %s is before start %s", last.Format(time.DateOnly), first.Format(time.DateOnly))
	}

	var days []time.Time
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

func yesterday(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, -1)
}

// parseDay parses a YYYY-MM-DD date, defaulting to the day before now
func parseDay(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return yesterday(now), nil
	}
	return time.Parse(time.DateOnly, value)
}
