package sync

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/memento-sh/sync-core/internal/core"
)

var fullSyncRoots = []string{"src", "lib", "packages", "tests"}
var fullSyncExtensions = map[string]bool{".ts": true, ".tsx": true, ".js": true, ".jsx": true}
var fullSyncExcludeDirs = []string{"node_modules", "dist", "build", ".git", "coverage"}

const embeddingChunkSize = 200

// unresolvedRelationship is a relationship whose target could not be
// bound to a concrete entity id at write time, deferred to a
// post-resolution pass (spec §9 "deferred arena").
type unresolvedRelationship struct {
	Relationship   core.Relationship
	SourceFilePath string
}

// performFullSync implements spec §4.3.5: scans the configured source
// roots, parses files in bounded-concurrency batches, flushes entities
// and relationships in bulk with per-item fallback, and runs a
// post-resolution pass over anything left unresolved.
func (c *Coordinator) performFullSync(ctx context.Context, op *core.SyncOperation) error {
	c.emit(Event{Kind: EventSyncProgress, Progress: &ProgressPayload{OperationID: op.ID, Phase: "scanning", Progress: 0}})

	files := scanSourceFiles(".", fullSyncRoots, fullSyncExtensions, fullSyncExcludeDirs)

	if c.moduleIndex != nil {
		_ = c.moduleIndex.IndexFile(ctx, ".", nil) // best-effort root index; failures ignored
	}

	tuning := c.tuningFor(op.ID)

	var unresolved []unresolvedRelationship
	var embedQueue []string
	includeEmbeddings := false
	if op.Options.IncludeEmbeddings != nil {
		includeEmbeddings = *op.Options.IncludeEmbeddings
	}

	for start := 0; start < len(files); start += tuning.BatchSize {
		end := start + tuning.BatchSize
		if end > len(files) {
			end = len(files)
		}
		batch := files[start:end]

		if err := c.ensureNotCancelled(op.ID); err != nil {
			op.Errors = append(op.Errors, err.(core.SyncError))
			return nil
		}
		c.waitIfPaused(ctx)

		batchEntities, batchRels := c.processFullSyncBatch(ctx, op, batch, tuning.MaxConcurrency)

		created, errs := c.flushEntities(ctx, batchEntities)
		op.EntitiesCreated += created
		op.Errors = append(op.Errors, errs...)

		resolvedRels, deferred := c.resolveBatchRelationships(ctx, batchRels)
		unresolved = append(unresolved, deferred...)
		relCreated, relErrs := c.flushRelationships(ctx, resolvedRels)
		op.RelationshipsCreated += relCreated
		op.Errors = append(op.Errors, relErrs...)

		if includeEmbeddings && c.graph != nil {
			ids := make([]string, 0, len(batchEntities))
			for _, e := range batchEntities {
				ids = append(ids, e.ID)
			}
			c.embedInChunks(ctx, ids)
		} else {
			for _, e := range batchEntities {
				embedQueue = append(embedQueue, e.ID)
			}
		}

		op.FilesProcessed += len(batch)
		c.emit(Event{Kind: EventSyncProgress, Progress: &ProgressPayload{
			OperationID: op.ID, Phase: "processing", Progress: float64(op.FilesProcessed) / float64(max(1, len(files))),
		}})
	}

	created := c.runPostResolution(ctx, unresolved)
	op.RelationshipsCreated += created

	if c.graph != nil {
		_ = c.graph.FinalizeScan(ctx, op.ID)
	}
	c.emit(Event{Kind: EventSyncProgress, Progress: &ProgressPayload{OperationID: op.ID, Phase: "completed", Progress: 1.0}})

	if !includeEmbeddings && len(embedQueue) > 0 {
		go c.embedInChunks(context.Background(), embedQueue)
	}

	return nil
}

// processFullSyncBatch runs up to maxConcurrency cooperative workers
// over batch, each dequeuing the next file index from a shared cursor
// (spec §4.3.5 step 3, §5).
func (c *Coordinator) processFullSyncBatch(ctx context.Context, op *core.SyncOperation, batch []string, maxConcurrency int) ([]core.Entity, []core.Relationship) {
	var cursor int
	var cursorMu sync.Mutex
	var collected sync.Mutex
	var entities []core.Entity
	var rels []core.Relationship

	nextIndex := func() (int, bool) {
		cursorMu.Lock()
		defer cursorMu.Unlock()
		if cursor >= len(batch) {
			return 0, false
		}
		i := cursor
		cursor++
		return i, true
	}

	workers := maxConcurrency
	if workers > len(batch) {
		workers = len(batch)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i, ok := nextIndex()
				if !ok {
					return
				}
				if c.ensureNotCancelled(op.ID) != nil {
					return
				}
				c.waitIfPaused(ctx)

				path := batch[i]
				if c.parser == nil {
					continue
				}
				contents, err := os.ReadFile(path)
				if err != nil {
					collected.Lock()
					op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindParse, path, err.Error(), true))
					collected.Unlock()
					continue
				}
				result, err := c.parser.ParseFile(ctx, path, contents)
				if err != nil {
					collected.Lock()
					op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindParse, path, err.Error(), true))
					collected.Unlock()
					continue
				}

				for _, e := range result.Entities {
					if e.Type == "symbol" {
						if name, ok := e.Fields["name"].(string); ok {
							c.symbolIndex.Add(path+":"+name, e.ID)
						}
					}
					e.Fields = tagSourceFile(e.Fields, path)
				}
				detected := c.detectFileConflicts(ctx, result.Entities, result.Relationships)

				collected.Lock()
				c.logConflicts(ctx, op, detected)
				entities = append(entities, result.Entities...)
				for _, r := range result.Relationships {
					r.Fields = tagSourceFile(r.Fields, path)
					rels = append(rels, r)
				}
				collected.Unlock()
			}
		}()
	}
	wg.Wait()

	return entities, rels
}

func tagSourceFile(fields map[string]any, path string) map[string]any {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["__sourceFile"] = path
	return fields
}

// flushEntities bulk-creates entities, falling back to per-entity
// creation on bulk failure (spec §4.3.5 step 4).
func (c *Coordinator) flushEntities(ctx context.Context, entities []core.Entity) (created int, errs []core.SyncError) {
	if len(entities) == 0 {
		return 0, nil
	}
	if err := c.graph.CreateEntitiesBulk(ctx, entities); err == nil {
		return len(entities), nil
	}

	for _, e := range entities {
		if err := c.graph.CreateEntity(ctx, e); err != nil {
			errs = append(errs, core.NewSyncError(core.ErrorKindDatabase, e.ID, err.Error(), true))
			continue
		}
		created++
	}
	return created, errs
}

// resolveBatchRelationships checks each relationship's target against
// the live graph, falling back to resolveRelationshipTarget for
// placeholders; unresolved ones are deferred (spec §4.3.5 step 4).
func (c *Coordinator) resolveBatchRelationships(ctx context.Context, rels []core.Relationship) (resolved []core.Relationship, deferred []unresolvedRelationship) {
	for _, r := range rels {
		if _, err := c.graph.GetEntity(ctx, r.ToEntityID); err == nil {
			resolved = append(resolved, r)
			continue
		}
		sourceFile, _ := r.Fields["__sourceFile"].(string)
		if tr, ok := resolveRelationshipTarget(ctx, c.graph, r.ToEntityID, r.FromEntityID, sourceFile); ok {
			r.ToEntityID = tr.EntityID
			resolved = append(resolved, r)
			continue
		}
		deferred = append(deferred, unresolvedRelationship{Relationship: r, SourceFilePath: sourceFile})
	}
	return resolved, deferred
}

// flushRelationships bulk-creates relationships, falling back to
// per-relationship creation on bulk failure.
func (c *Coordinator) flushRelationships(ctx context.Context, rels []core.Relationship) (created int, errs []core.SyncError) {
	if len(rels) == 0 {
		return 0, nil
	}
	if err := c.graph.CreateRelationshipsBulk(ctx, rels); err == nil {
		return len(rels), nil
	}

	for _, r := range rels {
		if err := c.graph.CreateRelationship(ctx, r); err != nil {
			errs = append(errs, core.NewSyncError(core.ErrorKindDatabase, r.ID, err.Error(), true))
			continue
		}
		created++
	}
	return created, errs
}

// runPostResolution retries every unresolved relationship once,
// returning how many were successfully created (spec §4.3.5 step 6).
func (c *Coordinator) runPostResolution(ctx context.Context, unresolved []unresolvedRelationship) int {
	created := 0
	for _, u := range unresolved {
		tr, ok := resolveRelationshipTarget(ctx, c.graph, u.Relationship.ToEntityID, u.Relationship.FromEntityID, u.SourceFilePath)
		if !ok {
			continue
		}
		r := u.Relationship
		r.ToEntityID = tr.EntityID
		if err := c.graph.CreateRelationship(ctx, r); err == nil {
			created++
		}
	}
	return created
}

func (c *Coordinator) embedInChunks(ctx context.Context, entityIDs []string) {
	if c.embeddings == nil && c.graph == nil {
		return
	}
	for start := 0; start < len(entityIDs); start += embeddingChunkSize {
		end := start + embeddingChunkSize
		if end > len(entityIDs) {
			end = len(entityIDs)
		}
		chunk := entityIDs[start:end]
		var err error
		if c.graph != nil {
			err = c.graph.CreateEmbeddingsBatch(ctx, chunk)
		} else {
			err = c.embeddings.Embed(ctx, chunk)
		}
		if err != nil {
			c.logger.Warn("background embedding chunk failed", "error", err, "count", len(chunk))
			if c.metrics != nil {
				c.metrics.Operations.FilesProcessed.WithLabelValues("embedding_failure")
			}
		}
	}
}

// scanSourceFiles recursively collects files under roots whose
// extension is in extensions, excluding any path containing one of
// excludeDirs or ending in ".d.ts"/".min.js" (spec §4.3.5 step 1).
func scanSourceFiles(base string, roots []string, extensions map[string]bool, excludeDirs []string) []string {
	var out []string
	for _, root := range roots {
		dir := filepath.Join(base, root)
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				for _, ex := range excludeDirs {
					if d.Name() == ex {
						return filepath.SkipDir
					}
				}
				return nil
			}
			if shouldExcludeFile(path, extensions) {
				return nil
			}
			out = append(out, path)
			return nil
		})
	}
	return out
}

func shouldExcludeFile(path string, extensions map[string]bool) bool {
	if strings.HasSuffix(path, ".d.ts") || strings.HasSuffix(path, ".min.js") {
		return true
	}
	ext := filepath.Ext(path)
	return !extensions[ext]
}

