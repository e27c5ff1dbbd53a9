package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/scm"
	"github.com/memento-sh/sync-core/internal/sync"
)

// validate holds the struct-tag rules for request bodies decoded off
// the wire. A single instance is safe for concurrent use across handlers.
var validate = validator.New()

// submitOperationRequest is the wire shape for POST /v1/operations.
type submitOperationRequest struct {
	Type    core.OperationType   `json:"type" validate:"required,oneof=full incremental partial"`
	Options core.SyncOptions     `json:"options"`
	Changes []core.FileChange    `json:"changes,omitempty"`
	Updates []core.PartialUpdate `json:"updates,omitempty"`
}

func submitOperationHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Coordinator == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("sync coordinator not configured"))
			return
		}
		var req submitOperationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request body: %w", err))
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("validating request body: %w", err))
			return
		}

		opID := cfg.Coordinator.Submit(r.Context(), sync.SubmitRequest{
			Type:    req.Type,
			Options: req.Options,
			Changes: req.Changes,
			Updates: req.Updates,
		})
		writeJSON(w, http.StatusAccepted, map[string]string{"operation_id": opID})
	}
}

func listActiveOperationsHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Coordinator == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("sync coordinator not configured"))
			return
		}
		writeJSON(w, http.StatusOK, cfg.Coordinator.GetActiveOperations())
	}
}

func getOperationHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Coordinator == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("sync coordinator not configured"))
			return
		}
		id := mux.Vars(r)["id"]
		op, ok := cfg.Coordinator.GetOperationStatus(id)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("operation %q not found", id))
			return
		}
		writeJSON(w, http.StatusOK, op)
	}
}

func cancelOperationHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Coordinator == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("sync coordinator not configured"))
			return
		}
		id := mux.Vars(r)["id"]
		if !cfg.Coordinator.CancelOperation(id) {
			writeError(w, http.StatusNotFound, fmt.Errorf("operation %q not cancellable", id))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func updateTuningHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Coordinator == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("sync coordinator not configured"))
			return
		}
		var tuning core.OperationTuning
		if err := json.NewDecoder(r.Body).Decode(&tuning); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request body: %w", err))
			return
		}
		cfg.Coordinator.UpdateTuning(mux.Vars(r)["id"], tuning)
		w.WriteHeader(http.StatusNoContent)
	}
}

func pauseSyncHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Coordinator == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("sync coordinator not configured"))
			return
		}
		cfg.Coordinator.PauseSync()
		w.WriteHeader(http.StatusNoContent)
	}
}

func resumeSyncHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Coordinator == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("sync coordinator not configured"))
			return
		}
		cfg.Coordinator.ResumeSync(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}
}

func syncStatsHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Coordinator == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("sync coordinator not configured"))
			return
		}
		writeJSON(w, http.StatusOK, cfg.Coordinator.GetOperationStatistics())
	}
}

// createCommitRequest is the wire shape for POST /v1/scm/commits.
type createCommitRequest struct {
	Title         string               `json:"title" validate:"required"`
	Description   string               `json:"description"`
	BranchName    string               `json:"branch_name"`
	Base          string               `json:"base"`
	Changes       []string             `json:"changes" validate:"required,min=1,dive,required"`
	PreservePaths []string             `json:"preserve_paths,omitempty"`
	RelatedSpecID string               `json:"related_spec_id,omitempty"`
	TestResults   []core.SCMTestResult `json:"test_results,omitempty"`
	CreatePR      *bool                `json:"create_pr,omitempty"`
	PushForce     bool                 `json:"push_force,omitempty"`
	PushRemote    string               `json:"push_remote,omitempty"`
}

func createCommitHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.SCM == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("scm service not configured"))
			return
		}
		var req createCommitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request body: %w", err))
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("validating request body: %w", err))
			return
		}

		result, err := cfg.SCM.CreateCommitAndMaybePR(r.Context(), scm.CommitRequest{
			Title:         req.Title,
			Description:   req.Description,
			BranchName:    req.BranchName,
			Base:          req.Base,
			Changes:       req.Changes,
			PreservePaths: req.PreservePaths,
			RelatedSpecID: req.RelatedSpecID,
			TestResults:   req.TestResults,
			CreatePR:      req.CreatePR,
			PushForce:     req.PushForce,
			PushRemote:    req.PushRemote,
		})
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusCreated, result.Record)
	}
}

func getCommitHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Database == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("database not configured"))
			return
		}
		record, err := cfg.Database.GetSCMCommitRecord(r.Context(), mux.Vars(r)["hash"])
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

func listCommitsHandler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Database == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("database not configured"))
			return
		}
		records, err := cfg.Database.ListSCMCommitRecords(r.Context(), 50, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}
