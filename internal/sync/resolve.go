package sync

import (
	"context"
	"path"
	"strings"

	"github.com/memento-sh/sync-core/internal/core"
)

// ResolutionPath tags which rung of the ladder resolved a target
// (spec §4.3.9).
type ResolutionPath string

const (
	ResolutionEntity         ResolutionPath = "entity"
	ResolutionFileSymbol     ResolutionPath = "fileSymbol"
	ResolutionExternalLocal  ResolutionPath = "external-local"
	ResolutionExternalName   ResolutionPath = "external-name"
	ResolutionFilePlaceholder ResolutionPath = "file-placeholder"
	ResolutionKindName       ResolutionPath = "kind-name"
	ResolutionImportLocal    ResolutionPath = "import-local"
	ResolutionImportName     ResolutionPath = "import-name"
)

// TargetResolution is what resolveRelationshipTarget yields when a
// placeholder target id is resolved. Candidates (if more than one
// matched) are preserved for diagnostics; Ambiguous is set when so.
type TargetResolution struct {
	EntityID       string
	ResolutionPath ResolutionPath
	Candidates     []string
	Ambiguous      bool
}

// resolveRelationshipTarget maps a placeholder target
// ("external:<name>", "file:<relPath>:<name>", "class:<name>", ...)
// to a concrete entity id using the graph's symbol index, per the
// resolution ladder in spec §4.3.9.
//
// sourceFilePath, if empty, is derived from fromEntityID by stripping
// a trailing ":symbol" suffix (step 5 of the ladder).
func resolveRelationshipTarget(ctx context.Context, kg core.KnowledgeGraph, toEntityID, fromEntityID, sourceFilePath string) (*TargetResolution, bool) {
	if sourceFilePath == "" {
		sourceFilePath = deriveSourceFile(fromEntityID)
	}

	switch {
	case strings.HasPrefix(toEntityID, "file:"):
		rest := strings.TrimPrefix(toEntityID, "file:")
		idx := strings.LastIndex(rest, ":")
		if idx < 0 {
			return nil, false
		}
		relPath, name := rest[:idx], rest[idx+1:]
		if id, ok, _ := kg.ResolveSymbol(ctx, name, relPath); ok {
			return &TargetResolution{EntityID: id, ResolutionPath: ResolutionFilePlaceholder}, true
		}
		return nil, false

	case strings.HasPrefix(toEntityID, "class:"),
		strings.HasPrefix(toEntityID, "interface:"),
		strings.HasPrefix(toEntityID, "function:"),
		strings.HasPrefix(toEntityID, "typeAlias:"):
		idx := strings.Index(toEntityID, ":")
		name := toEntityID[idx+1:]
		if id, ok, _ := kg.ResolveSymbol(ctx, name, sourceFilePath); ok {
			return &TargetResolution{EntityID: id, ResolutionPath: ResolutionKindName}, true
		}
		if id, ok, _ := kg.ResolveSymbol(ctx, name, ""); ok {
			return &TargetResolution{EntityID: id, ResolutionPath: ResolutionKindName}, true
		}
		return nil, false

	case strings.HasPrefix(toEntityID, "import:"):
		rest := strings.TrimPrefix(toEntityID, "import:")
		idx := strings.LastIndex(rest, ":")
		if idx < 0 {
			return nil, false
		}
		name := rest[idx+1:]
		if id, ok, _ := kg.ResolveSymbol(ctx, name, sourceFilePath); ok {
			return &TargetResolution{EntityID: id, ResolutionPath: ResolutionImportLocal}, true
		}
		if id, ok, _ := kg.ResolveSymbol(ctx, name, ""); ok {
			return &TargetResolution{EntityID: id, ResolutionPath: ResolutionImportName}, true
		}
		return nil, false

	case strings.HasPrefix(toEntityID, "external:"):
		name := strings.TrimPrefix(toEntityID, "external:")
		if id, ok, _ := kg.ResolveSymbol(ctx, name, sourceFilePath); ok {
			return &TargetResolution{EntityID: id, ResolutionPath: ResolutionExternalLocal}, true
		}
		if id, ok, _ := kg.ResolveSymbol(ctx, name, ""); ok {
			return &TargetResolution{EntityID: id, ResolutionPath: ResolutionExternalName}, true
		}
		return nil, false

	default:
		// Not a recognized placeholder; assume it is already a concrete
		// entity id (ladder step 1).
		if toEntityID != "" {
			return &TargetResolution{EntityID: toEntityID, ResolutionPath: ResolutionEntity}, true
		}
		return nil, false
	}
}

// deriveSourceFile strips a trailing ":symbol" suffix from an entity
// id of the form "<path>:<symbolName>", per spec §4.3.9 step 5. If the
// id carries no such suffix, it is returned unchanged as a best-effort
// fallback.
func deriveSourceFile(fromEntityID string) string {
	idx := strings.LastIndex(fromEntityID, ":")
	if idx < 0 {
		return fromEntityID
	}
	return path.Clean(fromEntityID[:idx])
}
