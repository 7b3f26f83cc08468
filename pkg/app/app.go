// Package app assembles the audit recorder graph from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/audittrail/pkg/audit"
	"github.com/platinummonkey/audittrail/pkg/config"
	"github.com/platinummonkey/audittrail/pkg/i18n"
	"github.com/platinummonkey/audittrail/pkg/observability"
	"github.com/platinummonkey/audittrail/pkg/storage"
	"github.com/platinummonkey/audittrail/pkg/storage/postgres"
)

// Storage types accepted in storage.Config.Type
const (
	StoragePostgres = "postgres"
	StorageFile     = "file"
	StorageMemory   = "memory"
)

// ServiceRecorderName is the registry name of the storage-backed recorder
const ServiceRecorderName = "service"

// App holds the wired audit components shared by the binaries
type App struct {
	Config     *config.Config
	Logger     *observability.Logger
	Metrics    *observability.Metrics // nil when metrics are disabled
	Catalog    *i18n.Catalog
	Categories *audit.CategorySet

	Registry *audit.RecorderRegistry
	Recorder audit.Recorder
	Reader   audit.Reader

	Exceptions *audit.ExceptionListener
	Lifecycle  *audit.LifecycleListener
	UnitOfWork *audit.SnapshotUnitOfWork

	// Backend is set for postgres storage only
	Backend *postgres.Backend

	closers []func() error
}

// New opens storage and builds the recorder, reader and listeners
func New(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (*App, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Categories: cfg.Audit.Categories(),
	}

	catalog, err := i18n.NewCatalog(cfg.I18n.Dir, cfg.I18n.Locale, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load translations: %w", err)
	}
	a.Catalog = catalog

	store, err := a.openStorage()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Registry = audit.NewRecorderRegistry(audit.VoidRecorder{}, logger)
	if cfg.Audit.Enabled {
		service := audit.NewService(store, audit.ServiceConfig{
			Categories:           a.Categories,
			Exclusions:           cfg.Audit.ExclusionPolicy(),
			CaptureRequestBodies: cfg.Audit.CaptureRequestBodies,
			Priority:             cfg.Audit.Priority,
		}, a.serviceOptions()...)
		a.Registry.Register(ServiceRecorderName, service)
	}
	a.Recorder = a.Registry.Resolve()

	a.Exceptions = audit.NewExceptionListener(a.Recorder, catalog, logger, audit.ExceptionListenerConfig{
		Exclusions:        cfg.Audit.ExclusionPolicy(),
		ErrorFormat:       cfg.Audit.ErrorFormat,
		TranslateMessages: cfg.Audit.TranslateExceptions,
	})

	a.UnitOfWork = audit.NewSnapshotUnitOfWork()
	a.Lifecycle = audit.NewLifecycleListener(a.Recorder, a.UnitOfWork, catalog)
	a.Lifecycle.SetEnabled(cfg.Audit.Enabled && cfg.Audit.LifecycleEnabled)

	logger.WithFields(map[string]interface{}{
		"storage":   cfg.Storage.Type,
		"recorder":  a.Registry.Active(),
		"lifecycle": a.Lifecycle.Enabled(),
		"resource":  cfg.Audit.ResourceEnabled,
	}).Info("audit trail initialized")

	return a, nil
}

func (a *App) serviceOptions() []audit.ServiceOption {
	opts := []audit.ServiceOption{
		audit.WithTranslator(a.Catalog),
		audit.WithLogger(a.Logger),
	}
	if a.Metrics != nil {
		opts = append(opts, audit.WithInstrumentation(a.Metrics))
	}
	return opts
}

// openStorage selects the record store and read model for cfg.Storage.Type
func (a *App) openStorage() (audit.Storage, error) {
	cfg := a.Config

	switch cfg.Storage.Type {
	case StoragePostgres:
		backend, err := postgres.Open(cfg.Storage, a.Logger)
		if err != nil {
			return nil, err
		}
		a.Backend = backend
		a.closers = append(a.closers, backend.Close)

		store, err := backend.AuditStore(cfg.Audit.AuditEntityManager, cfg.Audit.SQLStoreConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		a.Reader = backend.Reader(store, a.cacheObserver())
		return store, nil

	case StorageFile:
		fileCfg := audit.DefaultFileStoreConfig()
		fileCfg.BasePath = filepath.Join(cfg.Storage.FilesystemRoot, "records")
		file, err := audit.NewFileStore(fileCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file store: %w", err)
		}
		a.closers = append(a.closers, file.Close)

		// the file is append-only, reads are served from an in-memory mirror
		mirror := audit.NewMemoryStore()
		existing, err := file.ReadAllRecords()
		if err != nil {
			return nil, fmt.Errorf("failed to read existing audit records: %w", err)
		}
		for _, record := range existing {
			if err := mirror.Save(context.Background(), record); err != nil {
				return nil, err
			}
		}
		a.Reader = mirror
		return audit.NewMultiStore(file, mirror), nil

	case StorageMemory:
		store := audit.NewMemoryStore()
		a.Reader = store
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

func (a *App) cacheObserver() audit.CacheObserver {
	if a.Metrics == nil {
		return nil
	}
	return a.Metrics
}

// ArchiveObserver returns the metrics sink for archive runs, or nil
func (a *App) ArchiveObserver() audit.ArchiveObserver {
	if a.Metrics == nil {
		return nil
	}
	return a.Metrics
}

// Databases returns the open SQL pools for health checks
func (a *App) Databases() map[string]*sql.DB {
	if a.Backend == nil {
		return nil
	}
	return a.Backend.Connections.Databases()
}

// Redis returns the cache client, or nil
func (a *App) Redis() *redis.Client {
	if a.Backend == nil {
		return nil
	}
	return a.Backend.Redis
}

// ObjectStore opens the configured archive backend
func (a *App) ObjectStore(ctx context.Context) (storage.ObjectStore, error) {
	return postgres.NewObjectStore(ctx, a.Config.Storage)
}

// Close releases storage in reverse order of opening
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
