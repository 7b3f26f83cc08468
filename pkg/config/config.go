package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/audittrail/pkg/audit"
	"github.com/platinummonkey/audittrail/pkg/observability"
	"github.com/platinummonkey/audittrail/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig

	// Audit bundle configuration
	Audit AuditConfig

	Archive ArchiveConfig
	I18n    I18nConfig
	Auth    AuthConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MaxBodyBytes caps write request bodies; 0 disables the cap
	MaxBodyBytes int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// AuditConfig is the audit bundle tree, loaded from the "audit" key of the
// config file and overridden by AUDIT_* variables
type AuditConfig struct {
	Enabled          bool `yaml:"enabled"`
	LifecycleEnabled bool `yaml:"lifecycle_enabled"`
	ResourceEnabled  bool `yaml:"resource_enabled"`

	// Named storage connections. Audit writes must not share the host's
	// connection.
	AuditEntityManager   string `yaml:"audit_entity_manager"`
	DefaultEntityManager string `yaml:"default_entity_manager"`

	AdditionalTypes      []string       `yaml:"additional_types"`
	TranslateExceptions  bool           `yaml:"translate_exceptions"`
	CaptureRequestBodies bool           `yaml:"capture_request_bodies"`
	ErrorFormat          string         `yaml:"error_format"`
	Schema               string         `yaml:"schema"`
	Table                string         `yaml:"table"`
	Priority             int            `yaml:"priority"`
	Excluded             ExcludedConfig `yaml:"excluded"`
}

// ExcludedConfig lists what exception auditing skips
type ExcludedConfig struct {
	ResponseCodes []int    `yaml:"response_codes"`
	Paths         []string `yaml:"paths"`
	Routes        []string `yaml:"routes"`
}

// ArchiveConfig configures the archiver job
type ArchiveConfig struct {
	Schedule string `yaml:"schedule"`
}

// I18nConfig configures the translation catalog
type I18nConfig struct {
	Dir    string `yaml:"dir"`
	Locale string `yaml:"locale"`
	Watch  bool   `yaml:"watch"`
}

// AuthConfig configures principal resolution for the HTTP API
type AuthConfig struct {
	OIDCIssuerURL string `yaml:"oidc_issuer_url"`
	OIDCClientID  string `yaml:"oidc_client_id"`
	// StaticPrincipal is used for every request when OIDC is not configured
	StaticPrincipal string `yaml:"static_principal"`
}

// fileConfig is the layout of AUDIT_CONFIG_FILE
type fileConfig struct {
	Audit   *AuditConfig   `yaml:"audit"`
	Archive *ArchiveConfig `yaml:"archive"`
	I18n    *I18nConfig    `yaml:"i18n"`
	Auth    *AuthConfig    `yaml:"auth"`
}

// DefaultAuditConfig returns the bundle defaults
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:              true,
		LifecycleEnabled:     true,
		ResourceEnabled:      true,
		AuditEntityManager:   storage.AuditConnection,
		DefaultEntityManager: storage.DefaultConnection,
		TranslateExceptions:  true,
		ErrorFormat:          audit.DefaultErrorFormat,
		Table:                audit.DefaultTable,
		Excluded: ExcludedConfig{
			ResponseCodes: []int{404},
		},
	}
}

// LoadConfig loads configuration from AUDIT_CONFIG_FILE, if set, and then
// from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Audit:   DefaultAuditConfig(),
		Archive: ArchiveConfig{Schedule: "@daily"},
		I18n:    I18nConfig{Locale: "en"},
	}

	if path := getEnv("AUDIT_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Server = loadServerConfig()
	cfg.Storage = loadStorageConfig()
	cfg.Observability = loadObservabilityConfig()
	if err := applyAuditEnv(&cfg.Audit); err != nil {
		return nil, err
	}
	applyExtrasEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the sections present in a YAML file
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	file := fileConfig{
		Audit:   &c.Audit,
		Archive: &c.Archive,
		I18n:    &c.I18n,
		Auth:    &c.Auth,
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("AUDIT_HOST", "0.0.0.0"),
		Port:            getEnv("AUDIT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("AUDIT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("AUDIT_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("AUDIT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("AUDIT_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    int64(getEnvInt("AUDIT_MAX_BODY_BYTES", 1<<20)),
		HealthPort:      getEnv("AUDIT_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// Storage type
	if storageType := getEnv("AUDIT_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}

	// Filesystem config
	if fsRoot := getEnv("AUDIT_FILESYSTEM_ROOT", ""); fsRoot != "" {
		cfg.FilesystemRoot = fsRoot
	}

	// PostgreSQL connections
	for name, url := range parseConnections(getEnv("AUDIT_POSTGRES_CONNECTIONS", "")) {
		cfg.Connections[name] = url
	}
	if pgURL := getEnv("AUDIT_POSTGRES_URL", ""); pgURL != "" {
		cfg.Connections[storage.DefaultConnection] = pgURL
	}
	if auditURL := getEnv("AUDIT_POSTGRES_AUDIT_URL", ""); auditURL != "" {
		cfg.Connections[storage.AuditConnection] = auditURL
	}
	if maxConns := getEnvInt("AUDIT_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("AUDIT_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("AUDIT_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	if lifetime := getEnvDuration("AUDIT_POSTGRES_MAX_LIFETIME", 0); lifetime > 0 {
		cfg.PostgresMaxLifetime = lifetime
	}
	if idle := getEnvDuration("AUDIT_POSTGRES_MAX_IDLE_TIME", 0); idle > 0 {
		cfg.PostgresMaxIdleTime = idle
	}

	// S3 config
	if s3Endpoint := getEnv("AUDIT_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("AUDIT_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("AUDIT_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("AUDIT_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("AUDIT_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	cfg.S3UsePathStyle = getEnvBool("AUDIT_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	// Redis config
	if redisURL := getEnv("AUDIT_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("AUDIT_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("AUDIT_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("AUDIT_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("AUDIT_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("AUDIT_CACHE_ENABLED", cfg.CacheEnabled)
	if ttl := getEnvDuration("AUDIT_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL = ttl
	}
	if entries := getEnvInt("AUDIT_L1_CACHE_ENTRIES", 0); entries > 0 {
		cfg.L1CacheEntries = entries
	}

	// Archive config
	if backend := getEnv("AUDIT_ARCHIVE_BACKEND", ""); backend != "" {
		cfg.ArchiveBackend = backend
	}
	if prefix := getEnv("AUDIT_ARCHIVE_PREFIX", ""); prefix != "" {
		cfg.ArchivePrefix = prefix
	}
	cfg.ArchiveRetention = getEnvDuration("AUDIT_ARCHIVE_RETENTION", cfg.ArchiveRetention)

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("AUDIT_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("AUDIT_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("AUDIT_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("AUDIT_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("AUDIT_OTEL_SERVICE_NAME", "audittrail"),
		OTelServiceVersion: getEnv("AUDIT_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("AUDIT_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("AUDIT_OTEL_SAMPLE_RATIO", 1),
	}
}

// applyAuditEnv overrides bundle settings with the variables that are set
func applyAuditEnv(cfg *AuditConfig) error {
	cfg.Enabled = getEnvBool("AUDIT_ENABLED", cfg.Enabled)
	cfg.LifecycleEnabled = getEnvBool("AUDIT_LIFECYCLE_ENABLED", cfg.LifecycleEnabled)
	cfg.ResourceEnabled = getEnvBool("AUDIT_RESOURCE_ENABLED", cfg.ResourceEnabled)
	cfg.AuditEntityManager = getEnv("AUDIT_ENTITY_MANAGER", cfg.AuditEntityManager)
	cfg.DefaultEntityManager = getEnv("AUDIT_DEFAULT_ENTITY_MANAGER", cfg.DefaultEntityManager)
	cfg.TranslateExceptions = getEnvBool("AUDIT_TRANSLATE_EXCEPTIONS", cfg.TranslateExceptions)
	cfg.CaptureRequestBodies = getEnvBool("AUDIT_CAPTURE_REQUEST_BODIES", cfg.CaptureRequestBodies)
	cfg.ErrorFormat = getEnv("AUDIT_ERROR_FORMAT", cfg.ErrorFormat)
	cfg.Schema = getEnv("AUDIT_SCHEMA", cfg.Schema)
	cfg.Table = getEnv("AUDIT_TABLE", cfg.Table)
	cfg.Priority = getEnvInt("AUDIT_PRIORITY", cfg.Priority)

	if types := getEnvList("AUDIT_ADDITIONAL_TYPES"); types != nil {
		cfg.AdditionalTypes = types
	}
	if codes := getEnvList("AUDIT_EXCLUDED_RESPONSE_CODES"); codes != nil {
		parsed := make([]int, 0, len(codes))
		for _, c := range codes {
			code, err := strconv.Atoi(c)
			if err != nil {
				return fmt.Errorf("AUDIT_EXCLUDED_RESPONSE_CODES: %q is not a status code", c)
			}
			parsed = append(parsed, code)
		}
		cfg.Excluded.ResponseCodes = parsed
	}
	if paths := getEnvList("AUDIT_EXCLUDED_PATHS"); paths != nil {
		cfg.Excluded.Paths = paths
	}
	if routes := getEnvList("AUDIT_EXCLUDED_ROUTES"); routes != nil {
		cfg.Excluded.Routes = routes
	}
	return nil
}

func applyExtrasEnv(cfg *Config) {
	cfg.Archive.Schedule = getEnv("AUDIT_ARCHIVE_SCHEDULE", cfg.Archive.Schedule)
	cfg.I18n.Dir = getEnv("AUDIT_I18N_DIR", cfg.I18n.Dir)
	cfg.I18n.Locale = getEnv("AUDIT_I18N_LOCALE", cfg.I18n.Locale)
	cfg.I18n.Watch = getEnvBool("AUDIT_I18N_WATCH", cfg.I18n.Watch)
	cfg.Auth.OIDCIssuerURL = getEnv("AUDIT_OIDC_ISSUER_URL", cfg.Auth.OIDCIssuerURL)
	cfg.Auth.OIDCClientID = getEnv("AUDIT_OIDC_CLIENT_ID", cfg.Auth.OIDCClientID)
	cfg.Auth.StaticPrincipal = getEnv("AUDIT_STATIC_PRINCIPAL", cfg.Auth.StaticPrincipal)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := c.Audit.Validate(); err != nil {
		return err
	}

	// Validate storage config based on type
	switch c.Storage.Type {
	case "postgres":
		if _, ok := c.Storage.ConnectionURL(c.Audit.AuditEntityManager); !ok {
			return fmt.Errorf("postgres URL is required for connection %q", c.Audit.AuditEntityManager)
		}
	case "file":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for file storage")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres, file, or memory)", c.Storage.Type)
	}

	switch c.Storage.ArchiveBackend {
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for the s3 archive backend")
		}
	case "filesystem", "":
	default:
		return fmt.Errorf("invalid archive backend: %s (must be s3 or filesystem)", c.Storage.ArchiveBackend)
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	if c.Auth.OIDCIssuerURL != "" && c.Auth.OIDCClientID == "" {
		return fmt.Errorf("OIDC client ID is required when an issuer is configured")
	}

	return nil
}

// Validate checks the audit bundle tree
func (a AuditConfig) Validate() error {
	var errs []error

	if strings.TrimSpace(a.AuditEntityManager) == "" {
		errs = append(errs, fmt.Errorf("audit_entity_manager must not be empty"))
	}
	if strings.TrimSpace(a.DefaultEntityManager) == "" {
		errs = append(errs, fmt.Errorf("default_entity_manager must not be empty"))
	}
	if a.AuditEntityManager != "" && a.AuditEntityManager == a.DefaultEntityManager {
		errs = append(errs, fmt.Errorf("audit_entity_manager and default_entity_manager must be different, both are %q", a.AuditEntityManager))
	}
	for _, code := range a.Excluded.ResponseCodes {
		if code < 100 || code > 599 {
			errs = append(errs, fmt.Errorf("excluded response code %d is not a valid HTTP status", code))
		}
	}
	for i, t := range a.AdditionalTypes {
		if strings.TrimSpace(t) == "" {
			errs = append(errs, fmt.Errorf("additional_types[%d] must not be empty", i))
		}
	}

	return errors.Join(errs...)
}

// Categories builds the allowed category set
func (a AuditConfig) Categories() *audit.CategorySet {
	return audit.NewCategorySet(a.AdditionalTypes...)
}

// ExclusionPolicy converts the excluded tree. 404 is always excluded, the
// configured codes add to it.
func (a AuditConfig) ExclusionPolicy() audit.ExclusionPolicy {
	codes := []int{http.StatusNotFound}
	for _, code := range a.Excluded.ResponseCodes {
		if !slices.Contains(codes, code) {
			codes = append(codes, code)
		}
	}
	return audit.ExclusionPolicy{
		ResponseCodes: codes,
		Paths:         a.Excluded.Paths,
		Routes:        a.Excluded.Routes,
	}
}

// SQLStoreConfig returns the table settings of the audit store
func (a AuditConfig) SQLStoreConfig() audit.SQLStoreConfig {
	return audit.SQLStoreConfig{Schema: a.Schema, Table: a.Table}
}

// parseConnections parses "name=url,name=url"
func parseConnections(value string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		name, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" || url == "" {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(url)
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable; unset returns nil
func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	out := []string{}
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
