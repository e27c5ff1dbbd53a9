package core

import "context"

// KnowledgeGraph is the persisted graph store the coordinator, the
// conflict resolver, and the rollback engine mutate. Implementations
// are expected to be safe for concurrent use by the bounded worker
// pool that drives full-sync batches (spec §4.3, §6).
type KnowledgeGraph interface {
	GetEntity(ctx context.Context, id string) (*Entity, error)
	CreateEntity(ctx context.Context, e Entity) error
	UpdateEntity(ctx context.Context, e Entity) error
	CreateOrUpdateEntity(ctx context.Context, e Entity) (created bool, err error)
	DeleteEntity(ctx context.Context, id string) error
	GetEntitiesByFile(ctx context.Context, path string) ([]Entity, error)
	CreateEntitiesBulk(ctx context.Context, entities []Entity) error
	ListEntities(ctx context.Context, entityType string, limit, offset int) ([]Entity, error)

	GetRelationshipByID(ctx context.Context, id string) (*Relationship, error)
	CreateRelationship(ctx context.Context, r Relationship) error
	UpsertRelationship(ctx context.Context, r Relationship) (created bool, err error)
	// CanonicalizeRelationship resolves a placeholder target reference
	// (e.g. "external:<name>", "file:<relPath>:<name>") to a concrete
	// entity id using the symbol index, per the resolution ladder.
	CanonicalizeRelationship(ctx context.Context, r Relationship) (Relationship, error)
	DeleteRelationship(ctx context.Context, id string) error
	CreateRelationshipsBulk(ctx context.Context, rels []Relationship) error
	ListRelationships(ctx context.Context, relType string, limit, offset int) ([]Relationship, error)

	// UpsertEdgeEvidenceBulk records supporting evidence for a batch of
	// edges without altering their open/closed lifecycle state.
	UpsertEdgeEvidenceBulk(ctx context.Context, edgeIDs []string, evidence map[string]any) error
	OpenEdge(ctx context.Context, relationshipID string) error
	CloseEdge(ctx context.Context, relationshipID string) error
	FinalizeScan(ctx context.Context, operationID string) error

	// AppendVersion records a point-in-time snapshot of an entity or
	// relationship for history/audit purposes.
	AppendVersion(ctx context.Context, targetID string, fields map[string]any) error

	// AnnotateSessionRelationshipsWithCheckpoint marks the relationships
	// created by the given seeds, within the current session only, with
	// the checkpoint id that covers them (spec §9 decision).
	AnnotateSessionRelationshipsWithCheckpoint(ctx context.Context, sessionID, checkpointID string, seedEntityIDs []string) error

	// ResolveSymbol looks up a named symbol for relationship target
	// resolution, returning the concrete entity id if known.
	ResolveSymbol(ctx context.Context, name string, filePath string) (entityID string, ok bool, err error)

	CreateEmbeddingsBatch(ctx context.Context, entityIDs []string) error
}

// Database is the persistence collaborator for SyncCore's own
// bookkeeping records (rollback points, SCM commit records, checkpoint
// job history) as distinct from the knowledge graph itself.
type Database interface {
	SaveRollbackPoint(ctx context.Context, p RollbackPoint) error
	GetRollbackPoint(ctx context.Context, id string) (*RollbackPoint, error)
	DeleteRollbackPoint(ctx context.Context, id string) error
	ListRollbackPoints(ctx context.Context, operationID string) ([]RollbackPoint, error)

	SaveSCMCommitRecord(ctx context.Context, r SCMCommitRecord) error
	GetSCMCommitRecord(ctx context.Context, commitHash string) (*SCMCommitRecord, error)
	ListSCMCommitRecords(ctx context.Context, limit, offset int) ([]SCMCommitRecord, error)

	SaveCheckpointRecord(ctx context.Context, sessionID string, r SessionCheckpointRecord) error
	ListCheckpointRecords(ctx context.Context, sessionID string) ([]SessionCheckpointRecord, error)

	SaveManualOverride(ctx context.Context, o ManualOverrideRecord) error
	GetManualOverride(ctx context.Context, signature string) (*ManualOverrideRecord, error)
}

// Parser extracts entities and relationships from a single file's
// contents for full and incremental sync (spec §4.3.4, §4.3.6).
type Parser interface {
	ParseFile(ctx context.Context, path string, contents []byte) (ParseResult, error)
}

// ParseResult is what a Parser yields for one file.
type ParseResult struct {
	Entities      []Entity
	Relationships []Relationship
}

// EmbeddingService computes vector embeddings for newly created or
// updated entities. Failures are logged and counted but never fail the
// owning operation (spec §9 decision).
type EmbeddingService interface {
	Embed(ctx context.Context, entityIDs []string) error
}

// ModuleIndexer resolves file-scoped symbol names to entity ids,
// backing the relationship-target resolution ladder.
type ModuleIndexer interface {
	ResolveLocalSymbol(ctx context.Context, filePath, name string) (entityID string, ok bool)
	IndexFile(ctx context.Context, path string, entities []Entity) error
}

// CheckpointJobRunner is the external collaborator that actually
// executes a scheduled checkpoint job (spec §4.5). SyncCore only
// enqueues work and observes its terminal event.
type CheckpointJobRunner interface {
	Enqueue(ctx context.Context, job CheckpointJob) (jobID string, err error)
	Events() <-chan CheckpointJobEvent
}

// CheckpointJob is one unit of checkpoint work submitted to the
// runner.
type CheckpointJob struct {
	ID            string
	SessionID     string
	Reason        CheckpointReason
	SeedEntityIDs []string
	HopCount      int
}

// CheckpointJobEvent is the runner's terminal (or progress) signal for
// a previously enqueued job.
type CheckpointJobEvent struct {
	JobID     string
	SessionID string
	Status    SessionStatus
	Err       error
}

// SCMProvider performs the remote side of a commit/PR flow (spec
// §4.4). LocalGitProvider and a go-git-backed read-only fallback both
// implement this.
type SCMProvider interface {
	Name() string
	CreateCommit(ctx context.Context, branch, message, author string, changes []FileChange) (commitHash string, err error)
	CreatePullRequest(ctx context.Context, branch, title, description string) (prURL string, err error)
}
