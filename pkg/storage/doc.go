// Package storage holds backend configuration and the object storage
// abstraction used for audit archives.
//
// # Object storage
//
// ObjectStore is a minimal blob interface. Two implementations exist:
//
//   - FileSystemObjectStore in this package, writing below a root directory
//   - postgres.S3ObjectStore, backed by aws-sdk-go-v2
//
// Keys are slash separated, e.g. "audit/2026/01/02.ndjson.gz".
//
// # Configuration
//
// Config carries named PostgreSQL connections, S3, Redis, cache and archive
// settings. It is populated by pkg/config from AUDIT_* environment variables.
//
//	cfg := storage.DefaultConfig()
//	cfg.Connections[storage.AuditConnection] = "postgres://localhost/audit"
//	url, ok := cfg.ConnectionURL(storage.AuditConnection)
package storage
