package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/memento-sh/sync-core/internal/core"
)

// Store implements core.Database: rollback points, SCM commit records
// (§6's Database adapter), checkpoint scheduling history, and manual
// conflict overrides, as JSONB-payload tables distinct from the
// knowledge graph itself (which this repo never persists — §1's
// non-goals keep KG storage layout out of scope; callers bring their
// own core.KnowledgeGraph).
type Store struct {
	conn    DatabaseConnection
	logger  *slog.Logger
	metrics *StoreMetrics
}

func NewStore(conn DatabaseConnection, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{conn: conn, logger: logger, metrics: NewStoreMetrics()}
}

func errorKind(err error) string {
	if err == pgx.ErrNoRows {
		return "not_found"
	}
	return "database"
}

func (s *Store) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		s.metrics.QueryErrors.WithLabelValues(operation, errorKind(err)).Inc()
	}
	s.metrics.QueryDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

func (s *Store) SaveRollbackPoint(ctx context.Context, p core.RollbackPoint) error {
	start := time.Now()
	var err error
	defer func() { s.observe("save_rollback_point", start, err) }()

	payload, merr := json.Marshal(rollbackPayload{
		Entities:            p.Entities,
		Relationships:       p.Relationships,
		EntityChanges:       p.EntityChanges,
		RelationshipChanges: p.RelationshipChanges,
	})
	if merr != nil {
		return fmt.Errorf("store: encode rollback point: %w", merr)
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO rollback_points (id, operation_id, description, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET operation_id = EXCLUDED.operation_id,
		    description = EXCLUDED.description, payload = EXCLUDED.payload`,
		p.ID, p.OperationID, p.Description, payload, timeOrNow(p.Timestamp))
	if err != nil {
		err = fmt.Errorf("store: save rollback point: %w", err)
	}
	return err
}

func (s *Store) GetRollbackPoint(ctx context.Context, id string) (*core.RollbackPoint, error) {
	start := time.Now()
	var err error
	defer func() { s.observe("get_rollback_point", start, err) }()

	var p core.RollbackPoint
	var payloadJSON []byte
	err = s.conn.QueryRow(ctx, `
		SELECT id, operation_id, description, payload, created_at
		FROM rollback_points WHERE id = $1`, id,
	).Scan(&p.ID, &p.OperationID, &p.Description, &payloadJSON, &p.Timestamp)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("rollback point %q not found", id)
		}
		return nil, fmt.Errorf("store: get rollback point: %w", err)
	}

	var payload rollbackPayload
	if err = json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("store: decode rollback point: %w", err)
	}
	p.Entities = payload.Entities
	p.Relationships = payload.Relationships
	p.EntityChanges = payload.EntityChanges
	p.RelationshipChanges = payload.RelationshipChanges
	return &p, nil
}

func (s *Store) DeleteRollbackPoint(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { s.observe("delete_rollback_point", start, err) }()

	_, err = s.conn.Exec(ctx, `DELETE FROM rollback_points WHERE id = $1`, id)
	if err != nil {
		err = fmt.Errorf("store: delete rollback point: %w", err)
	}
	return err
}

func (s *Store) ListRollbackPoints(ctx context.Context, operationID string) ([]core.RollbackPoint, error) {
	start := time.Now()
	var err error
	defer func() { s.observe("list_rollback_points", start, err) }()

	rows, qerr := s.conn.Query(ctx, `
		SELECT id, operation_id, description, payload, created_at
		FROM rollback_points WHERE ($1 = '' OR operation_id = $1)
		ORDER BY created_at DESC`, operationID)
	if qerr != nil {
		err = fmt.Errorf("store: list rollback points: %w", qerr)
		return nil, err
	}
	defer rows.Close()

	var out []core.RollbackPoint
	for rows.Next() {
		var p core.RollbackPoint
		var payloadJSON []byte
		if err = rows.Scan(&p.ID, &p.OperationID, &p.Description, &payloadJSON, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan rollback point: %w", err)
		}
		var payload rollbackPayload
		if err = json.Unmarshal(payloadJSON, &payload); err != nil {
			return nil, fmt.Errorf("store: decode rollback point: %w", err)
		}
		p.Entities = payload.Entities
		p.Relationships = payload.Relationships
		p.EntityChanges = payload.EntityChanges
		p.RelationshipChanges = payload.RelationshipChanges
		out = append(out, p)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// rollbackPayload is the JSONB document shape for a rollback point:
// either the snapshot fields or the change-log fields are populated,
// never both (core.RollbackPoint.IsChangeLog distinguishes them).
type rollbackPayload struct {
	Entities            []core.Entity              `json:"entities,omitempty"`
	Relationships       []core.Relationship        `json:"relationships,omitempty"`
	EntityChanges       []core.EntityChange        `json:"entityChanges,omitempty"`
	RelationshipChanges []core.RelationshipChange  `json:"relationshipChanges,omitempty"`
}

func (s *Store) SaveSCMCommitRecord(ctx context.Context, r core.SCMCommitRecord) error {
	start := time.Now()
	var err error
	defer func() { s.observe("save_scm_commit_record", start, err) }()

	changesJSON, _ := json.Marshal(r.Changes)
	testResultsJSON, _ := json.Marshal(r.TestResults)
	validationJSON, _ := json.Marshal(r.ValidationResults)
	metadataJSON, merr := json.Marshal(r.Metadata)
	if merr != nil {
		return fmt.Errorf("store: encode scm commit record: %w", merr)
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO scm_commit_records (
			commit_hash, branch, title, description, author, changes,
			related_spec_id, test_results, validation_results, pr_url,
			provider, status, metadata, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (commit_hash) DO UPDATE SET
			status = EXCLUDED.status, pr_url = EXCLUDED.pr_url,
			test_results = EXCLUDED.test_results, validation_results = EXCLUDED.validation_results,
			metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`,
		r.CommitHash, r.Branch, r.Title, r.Description, r.Author, changesJSON,
		r.RelatedSpecID, testResultsJSON, validationJSON, r.PRURL,
		r.Provider, string(r.Status), metadataJSON, timeOrNow(r.CreatedAt), time.Now())
	if err != nil {
		err = fmt.Errorf("store: save scm commit record: %w", err)
	}
	return err
}

func (s *Store) GetSCMCommitRecord(ctx context.Context, commitHash string) (*core.SCMCommitRecord, error) {
	start := time.Now()
	var err error
	defer func() { s.observe("get_scm_commit_record", start, err) }()

	r, err := scanSCMCommitRow(s.conn.QueryRow(ctx, `
		SELECT commit_hash, branch, title, description, author, changes,
		       related_spec_id, test_results, validation_results, pr_url,
		       provider, status, metadata, created_at, updated_at
		FROM scm_commit_records WHERE commit_hash = $1`, commitHash))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("scm commit record %q not found", commitHash)
		}
		return nil, fmt.Errorf("store: get scm commit record: %w", err)
	}
	return r, nil
}

func (s *Store) ListSCMCommitRecords(ctx context.Context, limit, offset int) ([]core.SCMCommitRecord, error) {
	start := time.Now()
	var err error
	defer func() { s.observe("list_scm_commit_records", start, err) }()

	query := `SELECT commit_hash, branch, title, description, author, changes,
	       related_spec_id, test_results, validation_results, pr_url,
	       provider, status, metadata, created_at, updated_at
	FROM scm_commit_records ORDER BY created_at DESC OFFSET $1`
	args := []interface{}{offset}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, qerr := s.conn.Query(ctx, query, args...)
	if qerr != nil {
		err = fmt.Errorf("store: list scm commit records: %w", qerr)
		return nil, err
	}
	defer rows.Close()

	var out []core.SCMCommitRecord
	for rows.Next() {
		r, serr := scanSCMCommitRow(rows)
		if serr != nil {
			err = serr
			return nil, err
		}
		out = append(out, *r)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSCMCommitRow(row rowScanner) (*core.SCMCommitRecord, error) {
	var r core.SCMCommitRecord
	var status string
	var changesJSON, testResultsJSON, validationJSON, metadataJSON []byte
	if err := row.Scan(
		&r.CommitHash, &r.Branch, &r.Title, &r.Description, &r.Author, &changesJSON,
		&r.RelatedSpecID, &testResultsJSON, &validationJSON, &r.PRURL,
		&r.Provider, &status, &metadataJSON, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Status = core.SCMCommitStatus(status)
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
	start := time.Now()
	var err error
	defer func() { s.observe("save_checkpoint_record", start, err) }()

	seedsJSON, merr := json.Marshal(r.SeedEntityIDs)
	if merr != nil {
		return fmt.Errorf("store: encode checkpoint record: %w", merr)
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO checkpoint_records (
			checkpoint_id, session_id, reason, hop_count, attempts, seed_entity_ids, job_id, recorded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.CheckpointID, sessionID, string(r.Reason), r.HopCount, r.Attempts, seedsJSON, r.JobID, timeOrNow(r.RecordedAt))
	if err != nil {
		err = fmt.Errorf("store: save checkpoint record: %w", err)
	}
	return err
}

func (s *Store) ListCheckpointRecords(ctx context.Context, sessionID string) ([]core.SessionCheckpointRecord, error) {
	start := time.Now()
	var err error
	defer func() { s.observe("list_checkpoint_records", start, err) }()

	rows, qerr := s.conn.Query(ctx, `
		SELECT checkpoint_id, reason, hop_count, attempts, seed_entity_ids, job_id, recorded_at
		FROM checkpoint_records WHERE session_id = $1 ORDER BY recorded_at ASC`, sessionID)
	if qerr != nil {
		err = fmt.Errorf("store: list checkpoint records: %w", qerr)
		return nil, err
	}
	defer rows.Close()

	var out []core.SessionCheckpointRecord
	for rows.Next() {
		var r core.SessionCheckpointRecord
		var reason string
		var seedsJSON []byte
		if err = rows.Scan(&r.CheckpointID, &reason, &r.HopCount, &r.Attempts, &seedsJSON, &r.JobID, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("store: scan checkpoint record: %w", err)
		}
		r.Reason = core.CheckpointReason(reason)
		_ = json.Unmarshal(seedsJSON, &r.SeedEntityIDs)
		out = append(out, r)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SaveManualOverride(ctx context.Context, o core.ManualOverrideRecord) error {
	start := time.Now()
	var err error
	defer func() { s.observe("save_manual_override", start, err) }()

	resolutionJSON, merr := json.Marshal(o.Resolution)
	if merr != nil {
		return fmt.Errorf("store: encode manual override: %w", merr)
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO manual_overrides (signature, resolution, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (signature) DO UPDATE SET resolution = EXCLUDED.resolution, created_at = EXCLUDED.created_at`,
		o.Signature, resolutionJSON, timeOrNow(o.CreatedAt))
	if err != nil {
		err = fmt.Errorf("store: save manual override: %w", err)
	}
	return err
}

func (s *Store) GetManualOverride(ctx context.Context, signature string) (*core.ManualOverrideRecord, error) {
	start := time.Now()
	var err error
	defer func() { s.observe("get_manual_override", start, err) }()

	var o core.ManualOverrideRecord
	var resolutionJSON []byte
	err = s.conn.QueryRow(ctx,
		`SELECT signature, resolution, created_at FROM manual_overrides WHERE signature = $1`, signature,
	).Scan(&o.Signature, &resolutionJSON, &o.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("manual override %q not found", signature)
		}
		return nil, fmt.Errorf("store: get manual override: %w", err)
	}
	if err = json.Unmarshal(resolutionJSON, &o.Resolution); err != nil {
		return nil, fmt.Errorf("store: decode manual override: %w", err)
	}
	return &o, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

var _ core.Database = (*Store)(nil)
