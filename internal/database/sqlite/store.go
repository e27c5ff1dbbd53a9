// Package sqlite implements core.Database on top of an embedded
// modernc.org/sqlite database file, grounding the Lite deployment
// profile (config.ProfileLite, config.Storage.FilesystemPath) in a
// real storage backend instead of the Postgres-only Standard profile.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/memento-sh/sync-core/internal/core"
)

// Config configures a Store.
type Config struct {
	// Path is the database file; ":memory:" runs entirely in RAM.
	Path   string
	Logger *slog.Logger
}

// Store is the Lite profile's core.Database: the same rollback point /
// SCM commit / checkpoint / manual-override tables the Postgres Store
// serves, backed by a single embedded SQLite file rather than an
// external server.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// New opens (creating if necessary) the SQLite database at cfg.Path
// and ensures its schema exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: creating database directory: %w", err)
		}
	}

	cfg.Logger.Info("opening sqlite store", "path", path)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY under concurrent access

	s := &Store{db: db, path: path, logger: cfg.Logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: applying schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS rollback_points (
	id TEXT PRIMARY KEY,
	operation_id TEXT NOT NULL,
	description TEXT,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rollback_points_operation_id ON rollback_points(operation_id);

CREATE TABLE IF NOT EXISTS scm_commit_records (
	commit_hash TEXT PRIMARY KEY,
	branch TEXT,
	title TEXT,
	description TEXT,
	author TEXT,
	changes TEXT,
	related_spec_id TEXT,
	test_results TEXT,
	validation_results TEXT,
	pr_url TEXT,
	provider TEXT,
	status TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoint_records (
	checkpoint_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	reason TEXT,
	hop_count INTEGER,
	attempts INTEGER,
	seed_entity_ids TEXT,
	job_id TEXT,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoint_records_session_id ON checkpoint_records(session_id);

CREATE TABLE IF NOT EXISTS manual_overrides (
	signature TEXT PRIMARY KEY,
	resolution TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func isoOrNow(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// rollbackPayload mirrors the Postgres Store's JSON document shape so
// the two backends stay interchangeable.
type rollbackPayload struct {
	Entities            []core.Entity             `json:"entities,omitempty"`
	Relationships       []core.Relationship       `json:"relationships,omitempty"`
	EntityChanges       []core.EntityChange       `json:"entityChanges,omitempty"`
	RelationshipChanges []core.RelationshipChange `json:"relationshipChanges,omitempty"`
}

func (s *Store) SaveRollbackPoint(ctx context.Context, p core.RollbackPoint) error {
	payload, err := json.Marshal(rollbackPayload{
		Entities: p.Entities, Relationships: p.Relationships,
		EntityChanges: p.EntityChanges, RelationshipChanges: p.RelationshipChanges,
	})
	if err != nil {
		return fmt.Errorf("sqlite: encode rollback point: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rollback_points (id, operation_id, description, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET operation_id = excluded.operation_id,
			description = excluded.description, payload = excluded.payload`,
		p.ID, p.OperationID, p.Description, payload, isoOrNow(p.Timestamp))
	if err != nil {
		return fmt.Errorf("sqlite: save rollback point: %w", err)
	}
	return nil
}

func (s *Store) GetRollbackPoint(ctx context.Context, id string) (*core.RollbackPoint, error) {
	var p core.RollbackPoint
	var payloadJSON []byte
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, operation_id, description, payload, created_at
		FROM rollback_points WHERE id = ?`, id,
	).Scan(&p.ID, &p.OperationID, &p.Description, &payloadJSON, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("rollback point %q not found", id)
		}
		return nil, fmt.Errorf("sqlite: get rollback point: %w", err)
	}
	p.Timestamp = parseTime(createdAt)

	var payload rollbackPayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("sqlite: decode rollback point: %w", err)
	}
	p.Entities = payload.Entities
	p.Relationships = payload.Relationships
	p.EntityChanges = payload.EntityChanges
	p.RelationshipChanges = payload.RelationshipChanges
	return &p, nil
}

func (s *Store) DeleteRollbackPoint(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rollback_points WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete rollback point: %w", err)
	}
	return nil
}

func (s *Store) ListRollbackPoints(ctx context.Context, operationID string) ([]core.RollbackPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation_id, description, payload, created_at
		FROM rollback_points WHERE (? = '' OR operation_id = ?)
		ORDER BY created_at DESC`, operationID, operationID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list rollback points: %w", err)
	}
	defer rows.Close()

	var out []core.RollbackPoint
	for rows.Next() {
		var p core.RollbackPoint
		var payloadJSON []byte
		var createdAt string
		if err := rows.Scan(&p.ID, &p.OperationID, &p.Description, &payloadJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan rollback point: %w", err)
		}
		p.Timestamp = parseTime(createdAt)
		var payload rollbackPayload
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return nil, fmt.Errorf("sqlite: decode rollback point: %w", err)
		}
		p.Entities = payload.Entities
		p.Relationships = payload.Relationships
		p.EntityChanges = payload.EntityChanges
		p.RelationshipChanges = payload.RelationshipChanges
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) SaveSCMCommitRecord(ctx context.Context, r core.SCMCommitRecord) error {
	changesJSON, _ := json.Marshal(r.Changes)
	testResultsJSON, _ := json.Marshal(r.TestResults)
	validationJSON, _ := json.Marshal(r.ValidationResults)
	metadataJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: encode scm commit record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scm_commit_records (
			commit_hash, branch, title, description, author, changes,
			related_spec_id, test_results, validation_results, pr_url,
			provider, status, metadata, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(commit_hash) DO UPDATE SET
			status = excluded.status, pr_url = excluded.pr_url,
			test_results = excluded.test_results, validation_results = excluded.validation_results,
			metadata = excluded.metadata, updated_at = excluded.updated_at`,
		r.CommitHash, r.Branch, r.Title, r.Description, r.Author, changesJSON,
		r.RelatedSpecID, testResultsJSON, validationJSON, r.PRURL,
		r.Provider, string(r.Status), metadataJSON, isoOrNow(r.CreatedAt), isoOrNow(time.Now()))
	if err != nil {
		return fmt.Errorf("sqlite: save scm commit record: %w", err)
	}
	return nil
}

func (s *Store) GetSCMCommitRecord(ctx context.Context, commitHash string) (*core.SCMCommitRecord, error) {
	r, err := scanSCMCommitRow(s.db.QueryRowContext(ctx, `
		SELECT commit_hash, branch, title, description, author, changes,
		       related_spec_id, test_results, validation_results, pr_url,
		       provider, status, metadata, created_at, updated_at
		FROM scm_commit_records WHERE commit_hash = ?`, commitHash))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("scm commit record %q not found", commitHash)
		}
		return nil, fmt.Errorf("sqlite: get scm commit record: %w", err)
	}
	return r, nil
}

func (s *Store) ListSCMCommitRecords(ctx context.Context, limit, offset int) ([]core.SCMCommitRecord, error) {
	query := `SELECT commit_hash, branch, title, description, author, changes,
	       related_spec_id, test_results, validation_results, pr_url,
	       provider, status, metadata, created_at, updated_at
	FROM scm_commit_records ORDER BY created_at DESC LIMIT ? OFFSET ?`
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as "no limit"
	}

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list scm commit records: %w", err)
	}
	defer rows.Close()

	var out []core.SCMCommitRecord
	for rows.Next() {
		r, err := scanSCMCommitRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSCMCommitRow(row rowScanner) (*core.SCMCommitRecord, error) {
	var r core.SCMCommitRecord
	var status, createdAt, updatedAt string
	var changesJSON, testResultsJSON, validationJSON, metadataJSON []byte
	if err := row.Scan(
		&r.CommitHash, &r.Branch, &r.Title, &r.Description, &r.Author, &changesJSON,
		&r.RelatedSpecID, &testResultsJSON, &validationJSON, &r.PRURL,
		&r.Provider, &status, &metadataJSON, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	r.Status = core.SCMCommitStatus(status)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	_ = json.Unmarshal(changesJSON, &r.Changes)
	_ = json.Unmarshal(testResultsJSON, &r.TestResults)
	if len(validationJSON) > 0 && string(validationJSON) != "null" {
		r.ValidationResults = &core.SCMValidationResult{}
		_ = json.Unmarshal(validationJSON, r.ValidationResults)
	}
	_ = json.Unmarshal(metadataJSON, &r.Metadata)
	return &r, nil
}

func (s *Store) SaveCheckpointRecord(ctx context.Context, sessionID string, r core.SessionCheckpointRecord) error {
	seedsJSON, err := json.Marshal(r.SeedEntityIDs)
	if err != nil {
		return fmt.Errorf("sqlite: encode checkpoint record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoint_records (
			checkpoint_id, session_id, reason, hop_count, attempts, seed_entity_ids, job_id, recorded_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		r.CheckpointID, sessionID, string(r.Reason), r.HopCount, r.Attempts, seedsJSON, r.JobID, isoOrNow(r.RecordedAt))
	if err != nil {
		return fmt.Errorf("sqlite: save checkpoint record: %w", err)
	}
	return nil
}

func (s *Store) ListCheckpointRecords(ctx context.Context, sessionID string) ([]core.SessionCheckpointRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id, reason, hop_count, attempts, seed_entity_ids, job_id, recorded_at
		FROM checkpoint_records WHERE session_id = ? ORDER BY recorded_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list checkpoint records: %w", err)
	}
	defer rows.Close()

	var out []core.SessionCheckpointRecord
	for rows.Next() {
		var r core.SessionCheckpointRecord
		var reason, recordedAt string
		var seedsJSON []byte
		if err := rows.Scan(&r.CheckpointID, &reason, &r.HopCount, &r.Attempts, &seedsJSON, &r.JobID, &recordedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan checkpoint record: %w", err)
		}
		r.Reason = core.CheckpointReason(reason)
		r.RecordedAt = parseTime(recordedAt)
		_ = json.Unmarshal(seedsJSON, &r.SeedEntityIDs)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SaveManualOverride(ctx context.Context, o core.ManualOverrideRecord) error {
	resolutionJSON, err := json.Marshal(o.Resolution)
	if err != nil {
		return fmt.Errorf("sqlite: encode manual override: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO manual_overrides (signature, resolution, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET resolution = excluded.resolution, created_at = excluded.created_at`,
		o.Signature, resolutionJSON, isoOrNow(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: save manual override: %w", err)
	}
	return nil
}

func (s *Store) GetManualOverride(ctx context.Context, signature string) (*core.ManualOverrideRecord, error) {
	var o core.ManualOverrideRecord
	var resolutionJSON []byte
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT signature, resolution, created_at FROM manual_overrides WHERE signature = ?`, signature,
	).Scan(&o.Signature, &resolutionJSON, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("manual override %q not found", signature)
		}
		return nil, fmt.Errorf("sqlite: get manual override: %w", err)
	}
	o.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal(resolutionJSON, &o.Resolution); err != nil {
		return nil, fmt.Errorf("sqlite: decode manual override: %w", err)
	}
	return &o, nil
}

var _ core.Database = (*Store)(nil)
