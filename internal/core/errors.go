// Package core holds the data model and external-collaborator interfaces
// shared by the sync coordinator, conflict resolver, and rollback engine.
package core

import (
	"fmt"
	"time"
)

// SyncErrorKind classifies a SyncError for retry routing and reporting.
type SyncErrorKind string

const (
	ErrorKindParse      SyncErrorKind = "parse"
	ErrorKindDatabase   SyncErrorKind = "database"
	ErrorKindConflict   SyncErrorKind = "conflict"
	ErrorKindRollback   SyncErrorKind = "rollback"
	ErrorKindCancelled  SyncErrorKind = "cancelled"
	ErrorKindCapability SyncErrorKind = "capability"
	ErrorKindUnknown    SyncErrorKind = "unknown"
)

// SyncError is one entry in a SyncOperation's Errors slice.
//
// Recoverable errors are eligible for the coordinator's retry queue; a
// single non-recoverable error fails the owning operation outright.
type SyncError struct {
	File        string        `json:"file,omitempty"`
	Kind        SyncErrorKind `json:"type"`
	Message     string        `json:"message"`
	Timestamp   time.Time     `json:"timestamp"`
	Recoverable bool          `json:"recoverable"`
}

func (e SyncError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.File, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewSyncError builds a SyncError stamped with the current time.
func NewSyncError(kind SyncErrorKind, file, message string, recoverable bool) SyncError {
	return SyncError{
		File:        file,
		Kind:        kind,
		Message:     message,
		Timestamp:   time.Now().UTC(),
		Recoverable: recoverable,
	}
}

// OperationCancelledError is returned once an in-flight operation's id
// has been added to the coordinator's cancellation set.
type OperationCancelledError struct {
	OperationID string
}

func (e *OperationCancelledError) Error() string {
	return fmt.Sprintf("operation %s was cancelled", e.OperationID)
}

// ValidationError carries the structured detail list produced by the
// SCM flow's request validation (spec §4.4 step 1).
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "validation failed"
	}
	msg := "validation failed: " + e.Details[0]
	for _, d := range e.Details[1:] {
		msg += "; " + d
	}
	return msg
}

// SCMProviderNotConfiguredError is raised when createPR is requested
// without a provider wired into the SCMService.
type SCMProviderNotConfiguredError struct{}

func (e *SCMProviderNotConfiguredError) Error() string {
	return "scm provider not configured: createPR was requested but no SCMProvider is set"
}
