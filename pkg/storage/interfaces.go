package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by ObjectStore.GetObject for unknown keys
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore stores opaque blobs such as audit archives
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
	DeleteObject(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// Connection names used by the audit subsystem
const (
	DefaultConnection = "default"
	AuditConnection   = "audit"
)

// Config for storage backends
type Config struct {
	Type string // "postgres", "file", "memory"

	// Filesystem config, used by the file store and the filesystem archive
	FilesystemRoot string

	// PostgreSQL config. Connections maps a connection name to its URL.
	Connections         map[string]string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled   bool
	CacheTTL       time.Duration
	L1CacheEntries int

	// Archive config
	ArchiveBackend string // "s3", "filesystem"
	ArchivePrefix  string
	// ArchiveRetention puts S3 archives under compliance-mode object lock for
	// this long; 0 disables locking
	ArchiveRetention time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:                "postgres",
		FilesystemRoot:      "/var/lib/audittrail",
		Connections:         map[string]string{},
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: time.Hour,
		PostgresMaxIdleTime: 10 * time.Minute,
		S3Region:            "us-east-1",
		RedisDB:             0,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		CacheEnabled:        true,
		CacheTTL:            10 * time.Minute,
		L1CacheEntries:      1024,
		ArchiveBackend:      "filesystem",
		ArchivePrefix:       "audit",
	}
}

// ConnectionURL returns the URL of a named connection, falling back to the
// default connection
func (c Config) ConnectionURL(name string) (string, bool) {
	if url, ok := c.Connections[name]; ok && url != "" {
		return url, true
	}
	url, ok := c.Connections[DefaultConnection]
	return url, ok && url != ""
}
