package testfakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/memento-sh/sync-core/internal/core"
)

// Database is an in-memory core.Database.
type Database struct {
	mu               sync.Mutex
	rollbackPoints   map[string]core.RollbackPoint
	commitRecords    map[string]core.SCMCommitRecord
	checkpointRecords map[string][]core.SessionCheckpointRecord
	manualOverrides  map[string]core.ManualOverrideRecord
}

// NewDatabase creates an empty in-memory database.
func NewDatabase() *Database {
	return &Database{
		rollbackPoints:    make(map[string]core.RollbackPoint),
		commitRecords:     make(map[string]core.SCMCommitRecord),
		checkpointRecords: make(map[string][]core.SessionCheckpointRecord),
		manualOverrides:   make(map[string]core.ManualOverrideRecord),
	}
}

func (d *Database) SaveRollbackPoint(ctx context.Context, p core.RollbackPoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollbackPoints[p.ID] = p
	return nil
}

func (d *Database) GetRollbackPoint(ctx context.Context, id string) (*core.RollbackPoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.rollbackPoints[id]
	if !ok {
		return nil, fmt.Errorf("rollback point %q not found", id)
	}
	return &p, nil
}

func (d *Database) DeleteRollbackPoint(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rollbackPoints, id)
	return nil
}

func (d *Database) ListRollbackPoints(ctx context.Context, operationID string) ([]core.RollbackPoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []core.RollbackPoint
	for _, p := range d.rollbackPoints {
		if operationID == "" || p.OperationID == operationID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (d *Database) SaveSCMCommitRecord(ctx context.Context, r core.SCMCommitRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commitRecords[r.CommitHash] = r
	return nil
}

func (d *Database) GetSCMCommitRecord(ctx context.Context, commitHash string) (*core.SCMCommitRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.commitRecords[commitHash]
	if !ok {
		return nil, fmt.Errorf("commit record %q not found", commitHash)
	}
	return &r, nil
}

func (d *Database) ListSCMCommitRecords(ctx context.Context, limit, offset int) ([]core.SCMCommitRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []core.SCMCommitRecord
	for _, r := range d.commitRecords {
		out = append(out, r)
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (d *Database) SaveCheckpointRecord(ctx context.Context, sessionID string, r core.SessionCheckpointRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkpointRecords[sessionID] = append(d.checkpointRecords[sessionID], r)
	return nil
}

func (d *Database) ListCheckpointRecords(ctx context.Context, sessionID string) ([]core.SessionCheckpointRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.SessionCheckpointRecord(nil), d.checkpointRecords[sessionID]...), nil
}

func (d *Database) SaveManualOverride(ctx context.Context, o core.ManualOverrideRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.manualOverrides[o.Signature] = o
	return nil
}

func (d *Database) GetManualOverride(ctx context.Context, signature string) (*core.ManualOverrideRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.manualOverrides[signature]
	if !ok {
		return nil, fmt.Errorf("manual override %q not found", signature)
	}
	return &o, nil
}
