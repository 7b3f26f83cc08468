package postgres

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/audittrail/pkg/audit"
	"github.com/platinummonkey/audittrail/pkg/observability"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

// Backend bundles the PostgreSQL pools and the optional Redis client used by
// the audit binaries
type Backend struct {
	Connections *ConnectionManager
	Redis       *redis.Client // nil when no Redis URL is configured
	config      storage.Config
	logger      *observability.Logger
}

// Open connects to every configured database and, when configured, Redis
func Open(cfg storage.Config, logger *observability.Logger) (*Backend, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	cm, err := NewConnectionManager(ConnectionConfigFrom(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	b := &Backend{Connections: cm, config: cfg, logger: logger}

	if cfg.RedisURL != "" && cfg.CacheEnabled {
		client, err := NewRedisClient(cfg)
		if err != nil {
			// the cache is optional, reads fall back to the database
			logger.WithError(err).Warn("redis unavailable, audit record cache disabled")
		} else {
			b.Redis = client
		}
	}

	return b, nil
}

// AuditStore returns a SQL store on the named connection
func (b *Backend) AuditStore(connection string, cfg audit.SQLStoreConfig) (*audit.SQLStore, error) {
	db, err := b.Connections.DB(connection)
	if err != nil {
		return nil, err
	}
	return audit.NewSQLStore(db, cfg)
}

// Reader wraps reader in a CachedReader when caching is enabled
func (b *Backend) Reader(reader audit.Reader, observer audit.CacheObserver) audit.Reader {
	if !b.config.CacheEnabled {
		return reader
	}

	var remote audit.RecordCache
	if b.Redis != nil {
		remote = NewRedisRecordCache(b.Redis, b.config.CacheTTL)
	}

	return audit.NewCachedReader(reader, remote, observer, b.logger, audit.CachedReaderConfig{
		MaxEntries: b.config.L1CacheEntries,
		TTL:        b.config.CacheTTL,
	})
}

// Close closes Redis and all database pools
func (b *Backend) Close() error {
	var errs []error
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}
	if err := b.Connections.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NewObjectStore opens the configured archive backend
func NewObjectStore(ctx context.Context, cfg storage.Config) (storage.ObjectStore, error) {
	switch cfg.ArchiveBackend {
	case "s3":
		return NewS3ObjectStore(ctx, cfg)
	case "filesystem", "":
		return storage.NewFileSystemObjectStore(filepath.Join(cfg.FilesystemRoot, "archive"))
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", cfg.ArchiveBackend)
	}
}
