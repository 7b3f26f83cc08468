// Package config provides application configuration management from a YAML
// file and environment variables.
//
// # Overview
//
// LoadConfig reads AUDIT_CONFIG_FILE when it is set, then applies AUDIT_*
// environment variables on top, then validates the result. Server, storage
// and observability settings come from the environment only.
//
// # Configuration File
//
//	audit:
//	  enabled: true
//	  audit_entity_manager: audit
//	  default_entity_manager: default
//	  additional_types: [BILLING, SHIPPING]
//	  translate_exceptions: true
//	  excluded:
//	    response_codes: [404, 405]
//	    paths: ["/healthz", "/internal/*"]
//	    routes: [metrics]
//	archive:
//	  schedule: "@daily"
//	i18n:
//	  dir: /etc/audittrail/translations
//	  locale: en
//
// # Environment
//
// Server settings:
//
//	AUDIT_HOST="0.0.0.0"
//	AUDIT_PORT="8080"
//	AUDIT_HEALTH_PORT="9090"
//
// Storage settings:
//
//	AUDIT_STORAGE_TYPE="postgres"  # postgres, file, memory
//	AUDIT_POSTGRES_URL="postgres://localhost/app"
//	AUDIT_POSTGRES_AUDIT_URL="postgres://localhost/audit"
//	AUDIT_POSTGRES_CONNECTIONS="reporting=postgres://replica/app"
//	AUDIT_ARCHIVE_BACKEND="s3"
//	AUDIT_S3_BUCKET="audit-archive"
//	AUDIT_REDIS_URL="redis://localhost:6379"
//
// Audit settings override the file:
//
//	AUDIT_ADDITIONAL_TYPES="BILLING,SHIPPING"
//	AUDIT_EXCLUDED_RESPONSE_CODES="404,405"
//	AUDIT_CAPTURE_REQUEST_BODIES="true"
//
// Observability settings:
//
//	AUDIT_LOG_LEVEL="info"  # debug, info, warn, error
//	AUDIT_OTEL_ENABLED="true"
//	AUDIT_OTEL_ENDPOINT="otel-collector:4317"
package config
