// Package testfakes provides in-memory implementations of the
// external collaborator interfaces in internal/core, used by the test
// suites of internal/api, internal/checkpoint, internal/rollback,
// internal/scm and internal/sync, and by cmd/server.
package testfakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/memento-sh/sync-core/internal/core"
)

// Graph is an in-memory core.KnowledgeGraph.
type Graph struct {
	mu            sync.Mutex
	entities      map[string]core.Entity
	relationships map[string]core.Relationship
	symbols       map[string]string // "file|name" -> entityID
	embeddedIDs   []string
	finalized     []string

	// FailCreateEntity, if set, is returned by CreateEntity/CreateOrUpdateEntity.
	FailCreateEntity error
}

// NewGraph creates an empty in-memory graph.
func NewGraph() *Graph {
	return &Graph{
		entities:      make(map[string]core.Entity),
		relationships: make(map[string]core.Relationship),
		symbols:       make(map[string]string),
	}
}

func (g *Graph) GetEntity(ctx context.Context, id string) (*core.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %q not found", id)
	}
	return &e, nil
}

func (g *Graph) CreateEntity(ctx context.Context, e core.Entity) error {
	if g.FailCreateEntity != nil {
		return g.FailCreateEntity
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entities[e.ID] = e
	return nil
}

func (g *Graph) UpdateEntity(ctx context.Context, e core.Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.entities[e.ID]; !ok {
		return fmt.Errorf("entity %q not found", e.ID)
	}
	g.entities[e.ID] = e
	return nil
}

func (g *Graph) CreateOrUpdateEntity(ctx context.Context, e core.Entity) (bool, error) {
	if g.FailCreateEntity != nil {
		return false, g.FailCreateEntity
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, existed := g.entities[e.ID]
	g.entities[e.ID] = e
	return !existed, nil
}

func (g *Graph) DeleteEntity(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entities, id)
	return nil
}

func (g *Graph) GetEntitiesByFile(ctx context.Context, path string) ([]core.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []core.Entity
	for _, e := range g.entities {
		if f, ok := e.Fields["filePath"]; ok && f == path {
			out = append(out, e)
		}
	}
	return out, nil
}

func (g *Graph) CreateEntitiesBulk(ctx context.Context, entities []core.Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range entities {
		g.entities[e.ID] = e
	}
	return nil
}

func (g *Graph) ListEntities(ctx context.Context, entityType string, limit, offset int) ([]core.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var matched []core.Entity
	for _, e := range g.entities {
		if entityType == "" || e.Type == entityType {
			matched = append(matched, e)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (g *Graph) GetRelationshipByID(ctx context.Context, id string) (*core.Relationship, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.relationships[id]
	if !ok {
		return nil, fmt.Errorf("relationship %q not found", id)
	}
	return &r, nil
}

func (g *Graph) CreateRelationship(ctx context.Context, r core.Relationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.relationships[r.ID] = r
	return nil
}

func (g *Graph) UpsertRelationship(ctx context.Context, r core.Relationship) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, existed := g.relationships[r.ID]
	g.relationships[r.ID] = r
	return !existed, nil
}

func (g *Graph) CanonicalizeRelationship(ctx context.Context, r core.Relationship) (core.Relationship, error) {
	return r, nil
}

func (g *Graph) DeleteRelationship(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.relationships, id)
	return nil
}

func (g *Graph) CreateRelationshipsBulk(ctx context.Context, rels []core.Relationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range rels {
		g.relationships[r.ID] = r
	}
	return nil
}

func (g *Graph) ListRelationships(ctx context.Context, relType string, limit, offset int) ([]core.Relationship, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var matched []core.Relationship
	for _, r := range g.relationships {
		if relType == "" || r.Type == relType {
			matched = append(matched, r)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (g *Graph) UpsertEdgeEvidenceBulk(ctx context.Context, edgeIDs []string, evidence map[string]any) error {
	return nil
}

func (g *Graph) OpenEdge(ctx context.Context, relationshipID string) error  { return nil }
func (g *Graph) CloseEdge(ctx context.Context, relationshipID string) error { return nil }

func (g *Graph) FinalizeScan(ctx context.Context, operationID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finalized = append(g.finalized, operationID)
	return nil
}

func (g *Graph) AppendVersion(ctx context.Context, targetID string, fields map[string]any) error {
	return nil
}

func (g *Graph) AnnotateSessionRelationshipsWithCheckpoint(ctx context.Context, sessionID, checkpointID string, seedEntityIDs []string) error {
	return nil
}

func (g *Graph) ResolveSymbol(ctx context.Context, name, filePath string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.symbols[filePath+"|"+name]
	return id, ok, nil
}

// IndexSymbol registers a symbol resolution for tests.
func (g *Graph) IndexSymbol(filePath, name, entityID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.symbols[filePath+"|"+name] = entityID
}

func (g *Graph) CreateEmbeddingsBatch(ctx context.Context, entityIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.embeddedIDs = append(g.embeddedIDs, entityIDs...)
	return nil
}

// EntityCount returns the number of entities currently stored.
func (g *Graph) EntityCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entities)
}

// RelationshipCount returns the number of relationships currently stored.
func (g *Graph) RelationshipCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.relationships)
}
