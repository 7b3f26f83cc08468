package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/audittrail/pkg/observability"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

// ConnectionManager holds one pool per named connection, e.g. "default" and
// "audit", so audit writes can go to their own database
type ConnectionManager struct {
	mu     sync.RWMutex
	pools  map[string]*sql.DB
	config ConnectionConfig
	logger *observability.Logger
}

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	Driver      string            // defaults to "postgres"
	URLs        map[string]string // connection name -> URL
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ConnectionConfigFrom builds a ConnectionConfig from storage settings
func ConnectionConfigFrom(cfg storage.Config) ConnectionConfig {
	urls := make(map[string]string, len(cfg.Connections))
	for name, url := range cfg.Connections {
		if url != "" {
			urls[name] = url
		}
	}
	return ConnectionConfig{
		URLs:        urls,
		MaxConns:    cfg.PostgresMaxConns,
		MinConns:    cfg.PostgresMinConns,
		Timeout:     cfg.PostgresTimeout,
		MaxLifetime: cfg.PostgresMaxLifetime,
		MaxIdleTime: cfg.PostgresMaxIdleTime,
	}
}

// NewConnectionManager opens and pings every configured connection
func NewConnectionManager(config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	if len(config.URLs) == 0 {
		return nil, fmt.Errorf("no database connections configured")
	}
	if config.Driver == "" {
		config.Driver = "postgres"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	cm := &ConnectionManager{
		pools:  make(map[string]*sql.DB, len(config.URLs)),
		config: config,
		logger: logger,
	}

	for _, name := range sortedNames(config.URLs) {
		db, err := cm.open(config.URLs[name])
		if err != nil {
			cm.Close()
			return nil, fmt.Errorf("connection %q: %w", name, err)
		}
		cm.pools[name] = db
	}

	logger.WithField("connections", sortedNames(config.URLs)).Info("database connections initialized")
	return cm, nil
}

func (cm *ConnectionManager) open(url string) (*sql.DB, error) {
	db, err := sql.Open(cm.config.Driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	if cm.config.MaxConns > 0 {
		db.SetMaxOpenConns(cm.config.MaxConns)
	}
	if cm.config.MinConns > 0 {
		db.SetMaxIdleConns(cm.config.MinConns)
	}
	db.SetConnMaxLifetime(cm.config.MaxLifetime)
	db.SetConnMaxIdleTime(cm.config.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cm.config.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	return db, nil
}

// DB returns the pool for name, falling back to the default connection
func (cm *ConnectionManager) DB(name string) (*sql.DB, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if db, ok := cm.pools[name]; ok {
		return db, nil
	}
	if db, ok := cm.pools[storage.DefaultConnection]; ok {
		return db, nil
	}
	return nil, fmt.Errorf("unknown database connection %q", name)
}

// Databases returns all pools keyed by name
func (cm *ConnectionManager) Databases() map[string]*sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make(map[string]*sql.DB, len(cm.pools))
	for name, db := range cm.pools {
		out[name] = db
	}
	return out
}

// HealthCheck pings every pool
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	var errs []error
	for name, db := range cm.Databases() {
		if err := db.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s unhealthy: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Stats returns pool statistics per connection
func (cm *ConnectionManager) Stats() map[string]sql.DBStats {
	stats := make(map[string]sql.DBStats)
	for name, db := range cm.Databases() {
		stats[name] = db.Stats()
	}
	return stats
}

// Close closes all pools
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	pools := cm.pools
	cm.pools = map[string]*sql.DB{}
	cm.mu.Unlock()

	var errs []error
	for _, name := range sortedNames(pools) {
		if err := pools[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close error: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
