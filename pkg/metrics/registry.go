// Package metrics provides centralized metrics management for Knowledge Graph Sync Engine.
//
// This package implements a unified taxonomy for Prometheus metrics:
//   - Sync metrics: coordinator throughput, conflicts, rollbacks, checkpoints, SCM
//   - HTTP metrics: request counts, durations, sizes
//   - Infrastructure metrics: database, cache, repositories
//
// All metrics follow the naming convention:
// kgsync_<category>_<subsystem>_<metric_name>_<unit>
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Sync().Operations.OperationsTotal.WithLabelValues("full", "completed").Inc()
//	registry.Infra().DB.ConnectionsActive.Set(42)
package metrics

import (
	"sync"
)

// MetricCategory represents the category of a metric.
type MetricCategory string

const (
	// CategorySync represents sync-domain metrics (operations, conflicts, rollbacks, checkpoints, SCM)
	CategorySync MetricCategory = "sync"

	// CategoryInfra represents infrastructure metrics (database, cache, repositories)
	CategoryInfra MetricCategory = "infra"
)

// MetricsRegistry is the central registry for all Prometheus metrics.
// Provides organized access to metrics by category (Sync, Infra).
//
// This is a simplified registry design (vs. full validation/map approach)
// for better maintainability and performance.
//
// Usage:
//
//	registry := metrics.DefaultRegistry()
//	registry.Sync().Operations.OperationsTotal.WithLabelValues("full", "completed").Inc()
//
// Thread-safe: All Prometheus metrics are thread-safe by design.
// Singleton: Use DefaultRegistry() to get the global instance.
type MetricsRegistry struct {
	namespace string

	// Category managers (lazy-initialized)
	syncMetrics *SyncMetrics
	infra       *InfraMetrics

	// Separate sync.Once for each category for true lazy initialization
	syncOnce  sync.Once
	infraOnce sync.Once
}

var (
	// Global singleton registry instance
	defaultRegistry     *MetricsRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton MetricsRegistry.
// Safe for concurrent use. Initialized once on first call.
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Infra().DB.ConnectionsActive.Set(10)
func DefaultRegistry() *MetricsRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewMetricsRegistry("kgsync")
	})
	return defaultRegistry
}

// NewMetricsRegistry creates a new MetricsRegistry with the specified namespace.
// For most use cases, use DefaultRegistry() instead of calling this directly.
//
// Parameters:
//   - namespace: The Prometheus namespace for all metrics (typically "kgsync")
//
// Returns:
//   - *MetricsRegistry: A new registry instance
func NewMetricsRegistry(namespace string) *MetricsRegistry {
	if namespace == "" {
		namespace = "kgsync"
	}

	return &MetricsRegistry{
		namespace: namespace,
	}
}

// Sync returns the sync-domain metrics manager (operations, conflicts,
// rollbacks, checkpoints, SCM, worker pools). Lazy-initialized on
// first access.
//
// Example:
//
//	registry.Sync().Operations.OperationsTotal.WithLabelValues("incremental", "completed").Inc()
//	registry.Sync().Conflicts.DetectedTotal.WithLabelValues("entity_version").Inc()
func (r *MetricsRegistry) Sync() *SyncMetrics {
	r.syncOnce.Do(func() {
		r.syncMetrics = NewSyncMetrics(r.namespace)
	})
	return r.syncMetrics
}

// Infra returns the Infrastructure metrics manager.
// Lazy-initialized on first access.
//
// Infrastructure metrics include:
//   - Database (connections, queries, errors)
//   - Cache (hits, misses, evictions)
//   - Repository (query duration, errors, results)
//
// Example:
//
//	registry.Infra().DB.ConnectionsActive.Set(42)
//	registry.Infra().Repository.QueryDurationSeconds.WithLabelValues("GetTopAlerts", "success").Observe(0.05)
func (r *MetricsRegistry) Infra() *InfraMetrics {
	r.infraOnce.Do(func() {
		r.infra = NewInfraMetrics(r.namespace)
	})
	return r.infra
}

// Namespace returns the configured namespace for this registry.
//
// Returns:
//   - string: The Prometheus namespace (e.g., "kgsync")
func (r *MetricsRegistry) Namespace() string {
	return r.namespace
}

// ValidateMetricName validates a metric name against naming conventions.
// Currently a placeholder for future validation logic.
//
// Naming convention:
// <namespace>_<category>_<subsystem>_<metric_name>_<unit>
//
// Examples:
// ✅ kgsync_sync_operation_total
// ✅ kgsync_sync_conflict_detected_total
// ✅ kgsync_infra_db_connections_active
// ❌ alerts_processed (missing namespace)
// ❌ kgsync_processed (missing category/subsystem)
//
// Parameters:
//   - name: The metric name to validate
//
// Returns:
//   - error: always nil; the name is not checked
//
// TODO: Implement validation logic (regex, taxonomy check)
func (r *MetricsRegistry) ValidateMetricName(name string) error {
	// Placeholder for future validation
	// Could check:
	// 1. Starts with namespace
	// 2. Contains category (sync/infra)
	// 3. Follows snake_case
	// 4. Has appropriate unit suffix (_total, _seconds, etc.)
	return nil
}
