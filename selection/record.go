// Package selection implements the selection-run orchestration core:
// dispatching stratified-selection workflows as async jobs, executing the
// load/select/write pipeline, and reconciling runs whose worker died.
package selection

import (
	"time"
)

// TaskType identifies which selection workflow a run executes
type TaskType string

const (
	TaskTypeLoad              TaskType = "load"
	TaskTypeSelect            TaskType = "select"
	TaskTypeTestSelect        TaskType = "test_select"
	TaskTypeLoadReplacement   TaskType = "load_replacement"
	TaskTypeSelectReplacement TaskType = "select_replacement"
	TaskTypeListOldTabs       TaskType = "list_old_tabs"
	TaskTypeDeleteOldTabs     TaskType = "delete_old_tabs"
)

// IsValidTaskType returns true if the string is a known TaskType
func IsValidTaskType(s string) bool {
	switch TaskType(s) {
	case TaskTypeLoad, TaskTypeSelect, TaskTypeTestSelect,
		TaskTypeLoadReplacement, TaskTypeSelectReplacement,
		TaskTypeListOldTabs, TaskTypeDeleteOldTabs:
		return true
	default:
		return false
	}
}

// IsSelectWorkflow reports whether the task type runs the SELECT stage
func (t TaskType) IsSelectWorkflow() bool {
	return t == TaskTypeSelect || t == TaskTypeTestSelect || t == TaskTypeSelectReplacement
}

// IsTabManagement reports whether the task type is a tab-management workflow
func (t TaskType) IsTabManagement() bool {
	return t == TaskTypeListOldTabs || t == TaskTypeDeleteOldTabs
}

// IsReplacement reports whether the task type operates on the replacement
// pool (people stepping in for dropouts), which loads the already-selected
// set as exclusions
func (t TaskType) IsReplacement() bool {
	return t == TaskTypeLoadReplacement || t == TaskTypeSelectReplacement
}

// Status is the lifecycle state of a selection run.
// Status only moves forward: PENDING -> RUNNING -> {COMPLETED, FAILED}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status is COMPLETED or FAILED
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next respects the
// forward-only state machine
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCompleted || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		// Terminal states never transition again
		return false
	}
}

// SubmissionPhase tracks the two-phase external-id correlation:
// the record is persisted (created), handed to the substrate (submitted),
// and finally updated with the substrate's job id (acknowledged). The gap
// between created and acknowledged is a recognized crash window that the
// health monitor reconciles explicitly.
type SubmissionPhase string

const (
	SubmissionCreated      SubmissionPhase = "created"
	SubmissionSubmitted    SubmissionPhase = "submitted"
	SubmissionAcknowledged SubmissionPhase = "acknowledged"
)

// Settings is the immutable configuration snapshot taken at dispatch time.
// Later edits to the assembly's live configuration must not retroactively
// change an in-flight run, so the snapshot travels inside the record and
// inside the job descriptor.
type Settings struct {
	SourceID         string   `json:"source_id"`         // spreadsheet / source directory identifier
	ServiceAccount   string   `json:"service_account"`   // identity that needs access to the source
	IDColumn         string   `json:"id_column"`         // column holding the unique person identifier
	CheckSameAddress bool     `json:"check_same_address"`
	AddressColumns   []string `json:"address_columns,omitempty"`
	ColumnsToKeep    []string `json:"columns_to_keep,omitempty"`
	Algorithm        string   `json:"algorithm,omitempty"` // selection algorithm name, informational
}

// Panel is a set of distinct selected-person identifiers produced by the
// selection algorithm
type Panel []string

// RunRecord is the durable state-machine entity for one submitted selection
// workflow. One row per task_id; never deleted (audit trail).
type RunRecord struct {
	TaskID        string          `json:"task_id"`
	ExternalJobID *string         `json:"external_job_id,omitempty"`
	AssemblyID    string          `json:"assembly_id"`
	UserID        string          `json:"user_id"`
	TaskType      TaskType        `json:"task_type"`
	Status        Status          `json:"status"`
	Submission    SubmissionPhase `json:"submission"`
	SettingsUsed  Settings        `json:"settings_used"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	SelectedIDs   []Panel         `json:"selected_ids,omitempty"`
	Report        RunReport       `json:"run_report"`
	LogMessages   []string        `json:"log_messages"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the run has reached COMPLETED or FAILED
func (r *RunRecord) IsTerminal() bool {
	return r.Status.IsTerminal()
}
