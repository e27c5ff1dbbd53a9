package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics aggregates the domain-level metrics for Knowledge Graph
// Sync Engine: coordinator throughput, conflict resolution, rollback
// activity, checkpoint scheduling, and the SCM commit/PR flow.
//
// All metrics follow the taxonomy:
// kgsync_sync_<subsystem>_<metric_name>_<unit>
//
// Example:
//
//	sm := NewSyncMetrics("kgsync")
//	sm.Operations.OperationsTotal.WithLabelValues("full", "completed").Inc()
//	sm.Conflicts.DetectedTotal.WithLabelValues("entity_version").Inc()
type SyncMetrics struct {
	namespace string

	Operations *OperationMetrics
	Conflicts  *ConflictMetrics
	Rollbacks  *RollbackMetrics
	Checkpoint *CheckpointMetrics
	SCM        *SCMMetrics
	Worker     *WorkerPoolMetrics
}

// NewSyncMetrics creates a new SyncMetrics aggregator with all
// subsystems initialized.
func NewSyncMetrics(namespace string) *SyncMetrics {
	return &SyncMetrics{
		namespace:  namespace,
		Operations: NewOperationMetrics(namespace),
		Conflicts:  NewConflictMetrics(namespace),
		Rollbacks:  NewRollbackMetrics(namespace),
		Checkpoint: NewCheckpointMetrics(namespace),
		SCM:        NewSCMMetrics(namespace),
		Worker:     NewWorkerPoolMetrics(namespace),
	}
}

// OperationMetrics tracks the coordinator's queue and lifecycle.
type OperationMetrics struct {
	OperationsTotal    *prometheus.CounterVec   // type, status
	OperationDuration  *prometheus.HistogramVec // type
	QueueDepth         prometheus.Gauge
	ActiveOperations   prometheus.Gauge
	FilesProcessed     *prometheus.CounterVec // type
	EntitiesMutated    *prometheus.CounterVec // action: created|updated|deleted
	RelationshipsMutated *prometheus.CounterVec // action: created|updated|deleted
}

func NewOperationMetrics(namespace string) *OperationMetrics {
	return &OperationMetrics{
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_operation",
			Name:      "total",
			Help:      "Total number of sync operations by type and terminal status",
		}, []string{"type", "status"}),

		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync_operation",
			Name:      "duration_seconds",
			Help:      "Duration of a sync operation from submission to terminal status",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900, 1800},
		}, []string{"type"}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync_operation",
			Name:      "queue_depth",
			Help:      "Number of sync operations currently queued awaiting a worker slot",
		}),

		ActiveOperations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync_operation",
			Name:      "active",
			Help:      "Number of sync operations currently running",
		}),

		FilesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_operation",
			Name:      "files_processed_total",
			Help:      "Total number of files processed across sync operations",
		}, []string{"type"}),

		EntitiesMutated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_operation",
			Name:      "entities_mutated_total",
			Help:      "Total number of entity mutations applied during sync",
		}, []string{"action"}),

		RelationshipsMutated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_operation",
			Name:      "relationships_mutated_total",
			Help:      "Total number of relationship mutations applied during sync",
		}, []string{"action"}),
	}
}

// ConflictMetrics tracks conflict detection and resolution.
type ConflictMetrics struct {
	DetectedTotal  *prometheus.CounterVec // conflict_type
	ResolvedTotal  *prometheus.CounterVec // strategy
	UnresolvedGauge prometheus.Gauge
	ResolutionDuration prometheus.Histogram
}

func NewConflictMetrics(namespace string) *ConflictMetrics {
	return &ConflictMetrics{
		DetectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_conflict",
			Name:      "detected_total",
			Help:      "Total number of conflicts detected, by conflict type",
		}, []string{"conflict_type"}),

		ResolvedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_conflict",
			Name:      "resolved_total",
			Help:      "Total number of conflicts resolved, by strategy applied",
		}, []string{"strategy"}),

		UnresolvedGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync_conflict",
			Name:      "unresolved",
			Help:      "Number of conflicts currently awaiting manual resolution",
		}),

		ResolutionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync_conflict",
			Name:      "resolution_duration_seconds",
			Help:      "Time taken to resolve a conflict once detected",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
}

// RollbackMetrics tracks rollback-point creation and replay.
type RollbackMetrics struct {
	PointsCreatedTotal *prometheus.CounterVec // mode: snapshot|changelog
	RollbacksTotal     *prometheus.CounterVec // result: success|partial|failed
	ItemsReversedTotal *prometheus.CounterVec // item_type: entity|relationship
	Duration           prometheus.Histogram
}

func NewRollbackMetrics(namespace string) *RollbackMetrics {
	return &RollbackMetrics{
		PointsCreatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_rollback",
			Name:      "points_created_total",
			Help:      "Total number of rollback points created, by capture mode",
		}, []string{"mode"}),

		RollbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_rollback",
			Name:      "total",
			Help:      "Total number of rollback attempts, by outcome",
		}, []string{"result"}),

		ItemsReversedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_rollback",
			Name:      "items_reversed_total",
			Help:      "Total number of entity/relationship changes reversed",
		}, []string{"item_type"}),

		Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync_rollback",
			Name:      "duration_seconds",
			Help:      "Time taken to replay a rollback point",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30},
		}),
	}
}

// CheckpointMetrics tracks checkpoint scheduling and the session
// sequence-anomaly detector.
type CheckpointMetrics struct {
	ScheduledTotal *prometheus.CounterVec // reason
	JobsEnqueuedTotal prometheus.Counter
	JobsCompletedTotal *prometheus.CounterVec // status
	AnomaliesTotal *prometheus.CounterVec // reason, resolution_mode
	ActiveSessions prometheus.Gauge
}

func NewCheckpointMetrics(namespace string) *CheckpointMetrics {
	return &CheckpointMetrics{
		ScheduledTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_checkpoint",
			Name:      "scheduled_total",
			Help:      "Total number of checkpoints scheduled, by reason",
		}, []string{"reason"}),

		JobsEnqueuedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_checkpoint",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of checkpoint jobs handed to the runner",
		}),

		JobsCompletedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_checkpoint",
			Name:      "jobs_completed_total",
			Help:      "Total number of checkpoint jobs that reached a terminal status",
		}, []string{"status"}),

		AnomaliesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_checkpoint",
			Name:      "sequence_anomalies_total",
			Help:      "Total number of session sequence anomalies detected",
		}, []string{"reason", "resolution_mode"}),

		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync_checkpoint",
			Name:      "active_sessions",
			Help:      "Number of session streams currently open",
		}),
	}
}

// SCMMetrics tracks the serialized commit/PR flow.
type SCMMetrics struct {
	CommitsTotal *prometheus.CounterVec // status
	RetryTotal   prometheus.Counter
	EscalationTotal prometheus.Counter
	LockWaitDuration prometheus.Histogram
	CommitDuration   prometheus.Histogram
}

func NewSCMMetrics(namespace string) *SCMMetrics {
	return &SCMMetrics{
		CommitsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_scm",
			Name:      "commits_total",
			Help:      "Total number of SCM commit attempts, by terminal status",
		}, []string{"status"}),

		RetryTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_scm",
			Name:      "retries_total",
			Help:      "Total number of commit retries attempted after a transient failure",
		}),

		EscalationTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_scm",
			Name:      "escalations_total",
			Help:      "Total number of commit attempts that exhausted retries and escalated",
		}),

		LockWaitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync_scm",
			Name:      "lock_wait_duration_seconds",
			Help:      "Time spent waiting to acquire the serializing commit lock",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 15},
		}),

		CommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync_scm",
			Name:      "commit_duration_seconds",
			Help:      "Time taken by one commit(+PR) attempt end to end",
			Buckets:   []float64{.05, .1, .5, 1, 5, 15, 30, 60},
		}),
	}
}

// WorkerPoolMetrics instruments the bounded worker pool shared by
// full-sync batch processing and the checkpoint job runner.
type WorkerPoolMetrics struct {
	ActiveWorkers prometheus.Gauge
	QueueSize     prometheus.Gauge
	JobsTotal     *prometheus.CounterVec // pool, status
	JobDuration   *prometheus.HistogramVec // pool
}

func NewWorkerPoolMetrics(namespace string) *WorkerPoolMetrics {
	return &WorkerPoolMetrics{
		ActiveWorkers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync_worker_pool",
			Name:      "active_workers",
			Help:      "Number of worker goroutines currently running",
		}),

		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync_worker_pool",
			Name:      "queue_size",
			Help:      "Current number of jobs queued for a worker pool",
		}),

		JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync_worker_pool",
			Name:      "jobs_total",
			Help:      "Total number of jobs processed by a worker pool, by outcome",
		}, []string{"pool", "status"}),

		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync_worker_pool",
			Name:      "job_duration_seconds",
			Help:      "Duration of one worker-pool job",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 15},
		}, []string{"pool"}),
	}
}
