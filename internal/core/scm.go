package core

import "time"

// SCMCommitStatus is the lifecycle state of a commit/PR attempt.
type SCMCommitStatus string

const (
	SCMStatusCommitted SCMCommitStatus = "committed"
	SCMStatusPending   SCMCommitStatus = "pending"
	SCMStatusFailed    SCMCommitStatus = "failed"
)

// SCMTestResult is one entry of the optional test-results summary
// attached to a commit record.
type SCMTestResult struct {
	Name    string
	Passed  bool
	Message string
}

// SCMValidationResult is the optional validation summary attached to a
// commit record. The SCM service does not set it, and does not check it
// before the pull-request step.
type SCMValidationResult struct {
	Passed bool
	Issues []string
}

// SCMCommitRecord is the persisted outcome of one serialized
// commit(+PR) attempt made through the SCM layer (spec §3, §4.4).
type SCMCommitRecord struct {
	CommitHash        string
	Branch            string
	Title             string
	Description       string
	Author            string
	Changes           []FileChange
	RelatedSpecID     string
	TestResults       []SCMTestResult
	ValidationResults *SCMValidationResult
	PRURL             string
	Provider          string
	Status            SCMCommitStatus
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
