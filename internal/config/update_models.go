package config

import (
	"fmt"
	"time"
)

// UpdateOptions specifies options for a configuration update operation.
type UpdateOptions struct {
	// Format is the request body format: "json" (default) or "yaml".
	Format string

	// DryRun validates configuration without applying changes.
	DryRun bool

	// Sections filters the update to specific config sections. Empty
	// means update all sections. Supported: server, database, redis,
	// sync, scm, log, cache, lock, app, metrics.
	Sections []string

	// Source identifies the origin of the update: "api", "gitops",
	// "manual", "sighup".
	Source string

	UserID      string
	Description string
	Ticket      string
}

// NewUpdateOptions creates UpdateOptions with defaults.
func NewUpdateOptions() UpdateOptions {
	return UpdateOptions{Format: "json", Source: "api"}
}

func (opts UpdateOptions) Validate() error {
	if opts.Format != "" && opts.Format != "json" && opts.Format != "yaml" {
		return fmt.Errorf("invalid format: %s (supported: json, yaml)", opts.Format)
	}
	validSources := map[string]bool{"api": true, "gitops": true, "manual": true, "sighup": true}
	if opts.Source != "" && !validSources[opts.Source] {
		return fmt.Errorf("invalid source: %s", opts.Source)
	}
	return nil
}

func (opts UpdateOptions) HasSections() bool { return len(opts.Sections) > 0 }

// UpdateResult is the result of a configuration update operation.
type UpdateResult struct {
	Version          int64                   `json:"version"`
	Diff             *ConfigDiff             `json:"diff,omitempty"`
	Applied          bool                    `json:"applied"`
	RolledBack       bool                    `json:"rolled_back"`
	ValidationErrors []ValidationErrorDetail `json:"validation_errors,omitempty"`
	ReloadErrors     []ReloadError           `json:"reload_errors,omitempty"`
	Duration         time.Duration           `json:"duration"`
}

func NewUpdateResult() *UpdateResult {
	return &UpdateResult{Diff: NewConfigDiff()}
}

func (r *UpdateResult) IsSuccess() bool {
	return len(r.ValidationErrors) == 0 && len(r.ReloadErrors) == 0 && !r.RolledBack
}

func (r *UpdateResult) HasValidationErrors() bool { return len(r.ValidationErrors) > 0 }
func (r *UpdateResult) HasReloadErrors() bool     { return len(r.ReloadErrors) > 0 }

func (r *UpdateResult) HasCriticalReloadErrors() bool {
	for _, e := range r.ReloadErrors {
		if e.Critical {
			return true
		}
	}
	return false
}

// ConfigDiff is a structured diff between two configurations.
type ConfigDiff struct {
	Added      map[string]interface{}  `json:"added,omitempty"`
	Modified   map[string]DiffEntry    `json:"modified,omitempty"`
	Deleted    []string                `json:"deleted,omitempty"`
	Affected   []string                `json:"affected_components,omitempty"`
	IsCritical bool                    `json:"is_critical"`
	Summary    string                  `json:"summary"`
}

type DiffEntry struct {
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
	Type     string      `json:"type,omitempty"`
}

func NewConfigDiff() *ConfigDiff {
	return &ConfigDiff{
		Added:    make(map[string]interface{}),
		Modified: make(map[string]DiffEntry),
		Deleted:  make([]string, 0),
		Affected: make([]string, 0),
	}
}

func (diff *ConfigDiff) IsEmpty() bool {
	return len(diff.Added) == 0 && len(diff.Modified) == 0 && len(diff.Deleted) == 0
}

func (diff *ConfigDiff) ChangeCount() int {
	return len(diff.Added) + len(diff.Modified) + len(diff.Deleted)
}

func (diff *ConfigDiff) GenerateSummary() string {
	if diff.IsEmpty() {
		return "No changes"
	}
	summary := ""
	if n := len(diff.Added); n > 0 {
		summary += fmt.Sprintf("%d added", n)
	}
	if n := len(diff.Modified); n > 0 {
		if summary != "" {
			summary += ", "
		}
		summary += fmt.Sprintf("%d modified", n)
	}
	if n := len(diff.Deleted); n > 0 {
		if summary != "" {
			summary += ", "
		}
		summary += fmt.Sprintf("%d deleted", n)
	}
	return summary
}

// ValidationError wraps a batch of field-level validation failures.
type ValidationError struct {
	Message string
	Errors  []ValidationErrorDetail
	Phase   string // "syntax", "schema", "type", "business", "cross_field"
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %d validation error(s) in phase %s", e.Message, len(e.Errors), e.Phase)
}

type ValidationErrorDetail struct {
	Field      string      `json:"field"`
	Message    string      `json:"message"`
	Code       string      `json:"code"`
	Value      interface{} `json:"value,omitempty"`
	Constraint string      `json:"constraint,omitempty"`
}

// ConflictError represents a concurrent update conflict.
type ConflictError struct {
	Message         string
	CurrentVersion  int64
	ExpectedVersion int64
	LockHolder      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s (current version: %d)", e.Message, e.CurrentVersion)
}

// ReloadError represents a component reload failure.
type ReloadError struct {
	Component string        `json:"component"`
	Error     string        `json:"error"`
	Critical  bool          `json:"critical"`
	Duration  time.Duration `json:"duration"`
}

// ConfigVersion is a historical configuration snapshot, used for
// rollback and audit trail.
type ConfigVersion struct {
	Version         int64                  `json:"version"`
	Config          map[string]interface{} `json:"config"`
	Hash            string                 `json:"hash"`
	CreatedAt       time.Time              `json:"created_at"`
	CreatedBy       string                 `json:"created_by"`
	Source          string                 `json:"source"`
	Description     string                 `json:"description,omitempty"`
	Ticket          string                 `json:"ticket,omitempty"`
	PreviousVersion int64                  `json:"previous_version,omitempty"`
	Diff            *ConfigDiff            `json:"diff,omitempty"`
}

// HasCriticalErrors reports whether any reload error is critical.
func HasCriticalErrors(errors []ReloadError) bool {
	for _, err := range errors {
		if err.Critical {
			return true
		}
	}
	return false
}

// FormatReloadErrors renders reload errors as a human-readable list.
func FormatReloadErrors(errors []ReloadError) string {
	if len(errors) == 0 {
		return "No errors"
	}
	result := ""
	for i, err := range errors {
		marker := ""
		if err.Critical {
			marker = " [CRITICAL]"
		}
		result += fmt.Sprintf("%d. %s%s: %s (took %v)\n", i+1, err.Component, marker, err.Error, err.Duration)
	}
	return result
}
