package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// readinessTimeout bounds a full readiness check
const readinessTimeout = 5 * time.Second

// Probe checks one dependency. A nil error is healthy.
type Probe func(ctx context.Context) error

type dependency struct {
	probe Probe
	// critical dependencies make the service unhealthy, others only degrade it
	critical bool
}

// HealthChecker reports on the audit databases, the record cache and the
// archive sink
type HealthChecker struct {
	deps    map[string]dependency
	pools   map[string]*sql.DB
	version string
}

// NewHealthChecker probes each named database pool (critical) and redis
// (non-critical, it only backs the read cache). redis may be nil.
func NewHealthChecker(databases map[string]*sql.DB, redisClient *redis.Client, version string) *HealthChecker {
	h := &HealthChecker{
		deps:    make(map[string]dependency),
		pools:   databases,
		version: version,
	}
	for name, db := range databases {
		h.AddProbe("database:"+name, true, db.PingContext)
	}
	if redisClient != nil {
		h.AddProbe("redis", false, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	return h
}

// AddProbe registers an additional dependency, e.g. the archive object store
func (h *HealthChecker) AddProbe(name string, critical bool, probe Probe) {
	h.deps[name] = dependency{probe: probe, critical: critical}
}

// HealthStatus is the readiness response body
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Check runs every probe in name order
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.deps)),
	}

	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		dep := h.deps[name]
		result := runProbe(ctx, dep.probe)
		if result.Status == StatusHealthy {
			if db, ok := h.pools[databaseName(name)]; ok && poolExhausted(db) {
				result.Status = StatusDegraded
				result.Message = "connection pool exhausted"
			}
		}
		status.Dependencies[name] = result
		status.Status = worse(status.Status, effective(result.Status, dep.critical))
	}
	return status
}

func runProbe(ctx context.Context, probe Probe) DependencyStatus {
	start := time.Now()
	err := probe(ctx)
	result := DependencyStatus{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: start,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}

func databaseName(dep string) string {
	name, _ := strings.CutPrefix(dep, "database:")
	return name
}

func poolExhausted(db *sql.DB) bool {
	stats := db.Stats()
	return stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections
}

// effective caps a non-critical failure at degraded
func effective(status string, critical bool) string {
	if !critical && status == StatusUnhealthy {
		return StatusDegraded
	}
	return status
}

func worse(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Liveness answers 200 while the process serves requests
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness answers 503 when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes registers /health, /health/live and /health/ready
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
