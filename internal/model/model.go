// Package model holds the entities persisted by the state store and patch
// stack: tasks, decisions, checkpoints, metrics, runs, and leases. These are
// plain data types; behavior lives in internal/state, internal/patch, and
// internal/supervisor.
package model

import "time"

// Phase is the run's coarse lifecycle stage.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhasePlanning       Phase = "planning"
	PhaseImplementation Phase = "implementation"
	PhaseReview         Phase = "review"
	PhaseDocumentation  Phase = "documentation"
	PhaseComplete       Phase = "complete"
	PhasePaused         Phase = "paused"
)

// RunStatus is the run's overall disposition.
type RunStatus string

const (
	StatusReady      RunStatus = "ready"
	StatusInProgress RunStatus = "in_progress"
	StatusPaused     RunStatus = "paused"
	StatusComplete   RunStatus = "complete"
	StatusFailed     RunStatus = "failed"
)

// TaskType names a kind of work dispatched to a specialist.
type TaskType string

const (
	TaskPlan      TaskType = "plan"
	TaskImplement TaskType = "implement"
	TaskTest      TaskType = "test"
	TaskReview    TaskType = "review"
	TaskDocument  TaskType = "document"
)

// TaskStatus is a WorkTask's lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// SpecialistRole names the fixed set of personas a task is assigned to.
type SpecialistRole string

const (
	RolePlanner    SpecialistRole = "planner"
	RoleCoder      SpecialistRole = "coder"
	RoleTester     SpecialistRole = "tester"
	RoleCritic     SpecialistRole = "critic"
	RoleDocumenter SpecialistRole = "documenter"
	RoleSupervisor SpecialistRole = "supervisor"
)

// PhaseTransition is one entry in a run's phase history.
type PhaseTransition struct {
	Phase  Phase     `json:"phase"`
	Status RunStatus `json:"status"`
	At     time.Time `json:"at"`
}

// PatchRefLite is the shape of a patch reference as carried on a run session
// (a subset of the authoritative PatchRef stored in metrics.patch_stack,
// duplicated here for session continuity across resume).
type PatchRefLite struct {
	PatchID   string `json:"patch_id"`
	CommitSHA string `json:"commit_hash"`
	TaskID    string `json:"task_id"`
}

// Session is the resumable identity of one run, embedded in RunContext.
type Session struct {
	RunID        string            `json:"run_id"`
	Goal         string            `json:"goal"`
	BaseBranch   string            `json:"base_branch"`
	ActiveBranch string            `json:"active_branch"`
	PhaseHistory []PhaseTransition `json:"phase_history"`
	PatchStack   []PatchRefLite    `json:"patch_stack"`
}

// PreflightReport is recorded verbatim into context.preflight and appended
// (bounded) to metrics.preflight_history.
type PreflightReport struct {
	CheckedAt time.Time `json:"checked_at"`
	OK        bool      `json:"ok"`
	Errors    []string  `json:"errors,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// DirtyWorktreeMode controls how a dirty working tree is handled at run start.
type DirtyWorktreeMode string

const (
	DirtyRefuse  DirtyWorktreeMode = "refuse"
	DirtyIsolate DirtyWorktreeMode = "isolate"
)

// DirtyWorktreeState is recorded into context.dirty_worktree.
type DirtyWorktreeState struct {
	Mode          DirtyWorktreeMode `json:"mode"`
	IsolatedPaths []string          `json:"isolated_paths,omitempty"`
}

// RunContext is the single live record in the "context" namespace.
type RunContext struct {
	Goal           string             `json:"goal"`
	Phase          Phase              `json:"phase"`
	Status         RunStatus          `json:"status"`
	ActiveBranch   string             `json:"active_branch"`
	Paused         bool               `json:"paused"`
	CurrentRunID   string             `json:"current_run_id"`
	StartedAt      time.Time          `json:"started_at"`
	EndedAt        *time.Time         `json:"ended_at,omitempty"`
	Session        Session            `json:"session"`
	Preflight      PreflightReport    `json:"preflight"`
	DirtyWorktree  DirtyWorktreeState `json:"dirty_worktree"`
}

// WorkTask is one node in the Supervisor's dependency-ordered task graph.
type WorkTask struct {
	ID             string         `json:"id"`
	Type           TaskType       `json:"type"`
	AssignedTo     SpecialistRole `json:"assigned_to"`
	Description    string         `json:"description"`
	Status         TaskStatus     `json:"status"`
	DependsOn      []string       `json:"depends_on"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	OutputSummary  string         `json:"output_summary,omitempty"`
	Attempt        int            `json:"attempt"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	PatchID        string         `json:"patch_id,omitempty"`
	AllowedTools   []string       `json:"allowed_tools,omitempty"`
}

// TasksData is the payload of the "tasks" namespace.
type TasksData struct {
	TaskQueue []WorkTask `json:"task_queue"`
}

// Decision is one append-only entry in the "decisions" namespace.
type Decision struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	DecidedBy  string    `json:"decided_by"`
	ApprovedBy string    `json:"approved_by,omitempty"`
	Decision   string    `json:"decision"`
	Rationale  string    `json:"rationale,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Evidence   []string  `json:"evidence,omitempty"`
}

// MaxDecisionLen bounds Decision.Decision per spec.md §3.
const MaxDecisionLen = 4000

// DecisionsData is the payload of the "decisions" namespace.
type DecisionsData struct {
	Decisions []Decision `json:"decisions"`
}

// Checkpoint is one append-only entry in the "checkpoints" namespace.
type Checkpoint struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Goal          string    `json:"goal"`
	RunID         string    `json:"run_id"`
	ActiveBranch  string    `json:"active_branch"`
	FailureTaskID string    `json:"failure_task_id,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// CheckpointsData is the payload of the "checkpoints" namespace.
type CheckpointsData struct {
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// PatchStatus is the lifecycle state of a PatchRef.
type PatchStatus string

const (
	PatchPending  PatchStatus = "pending"
	PatchAccepted PatchStatus = "accepted"
	PatchRejected PatchStatus = "rejected"
	PatchModified PatchStatus = "modified"
)

// PatchRef is one entry in metrics.patch_stack.
type PatchRef struct {
	PatchID      string      `json:"patch_id"`
	CommitHash   string      `json:"commit_hash"`
	Subject      string      `json:"subject"`
	Status       PatchStatus `json:"status"`
	TaskID       string      `json:"task_id"`
	RunID        string      `json:"run_id"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    *time.Time  `json:"updated_at,omitempty"`
	FilesChanged []string    `json:"files_changed"`
	CheckpointID string      `json:"checkpoint_id,omitempty"`
	StatusNote   string      `json:"status_note,omitempty"`
}

// QualityGateResult is one entry in metrics.quality_gates / metrics.gate_failures.
type QualityGateResult struct {
	Name      string    `json:"name"`
	TaskID    string    `json:"task_id"`
	Passed    bool      `json:"passed"`
	Reason    string    `json:"reason,omitempty"`
	Artifacts []string  `json:"artifacts,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// BackendEvent is one entry in metrics.backend_events.
type BackendEvent struct {
	Kind      string    `json:"kind"`
	Backend   string    `json:"backend"`
	Attempt   int       `json:"attempt,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// PreflightHistoryEntry bounds metrics.preflight_history.
type PreflightHistoryEntry struct {
	PreflightReport
	RunID string `json:"run_id"`
}

// DirtyWorktreeIsolationEntry bounds metrics.dirty_worktree_isolation.
type DirtyWorktreeIsolationEntry struct {
	RunID string    `json:"run_id"`
	Paths []string  `json:"paths"`
	At    time.Time `json:"at"`
}

// Bounds on histories, per spec.md §3.
const (
	MaxQualityGates          = 200
	MaxGateFailures          = 50
	MaxBackendEvents         = 200
	MaxPreflightHistory      = 30
	MaxDirtyWorktreeIsolated = 20
)

// MetricsData is the (merged-dictionary) payload of the "metrics" namespace.
type MetricsData struct {
	TaskRetryCount         int                           `json:"task_retry_count"`
	ReplanCount            int                           `json:"replan_count"`
	BackendRetryCount      int                           `json:"backend_retry_count"`
	BackendFallbackCount   int                           `json:"backend_fallback_count"`
	LastRunCompletedTasks  int                           `json:"last_run_completed_tasks"`
	SchedulerParallelism   int                           `json:"scheduler_parallelism"`
	ConflictResolutionRuns int                           `json:"conflict_resolution_cycles"`
	QualityGates           []QualityGateResult           `json:"quality_gates,omitempty"`
	GateFailures           []QualityGateResult           `json:"gate_failures,omitempty"`
	BackendEvents          []BackendEvent                `json:"backend_events,omitempty"`
	PreflightHistory       []PreflightHistoryEntry       `json:"preflight_history,omitempty"`
	DirtyWorktreeIsolation []DirtyWorktreeIsolationEntry  `json:"dirty_worktree_isolation,omitempty"`
	PatchIndex             map[string]string              `json:"patch_index,omitempty"`    // commit_hash -> patch_id
	PatchLifecycle         map[string]PatchStatus          `json:"patch_lifecycle,omitempty"` // commit_hash -> status
	PatchStack             []PatchRef                      `json:"patch_stack,omitempty"`
}

// RunRecord is one entry in the "runs" namespace, keyed by run_id.
type RunRecord struct {
	RunID          string     `json:"run_id"`
	Goal           string     `json:"goal"`
	BaseBranch     string     `json:"base_branch"`
	ActiveBranch   string     `json:"active_branch"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	CheckpointID   string     `json:"checkpoint_id,omitempty"`
	FailureTaskID  string     `json:"failure_task_id,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

// RunsData is the payload of the "runs" namespace: run_id -> RunRecord.
type RunsData struct {
	Runs map[string]RunRecord `json:"runs"`
}

// Lease is the payload of the "leases" namespace's "active" slot (nil when free).
type Lease struct {
	RunID        string `json:"run_id"`
	HeartbeatAt  time.Time `json:"heartbeat_at"`
	ExpiresEpoch int64  `json:"expires_epoch"`
	TaskID       string `json:"task_id,omitempty"`
}

// LeasesData is the payload of the "leases" namespace.
type LeasesData struct {
	Active *Lease `json:"active"`
}

// RunSummary is returned by Supervisor.Run.
type RunSummary struct {
	Goal           string    `json:"goal"`
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	TotalTasks     int       `json:"total_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	CheckpointID   string    `json:"checkpoint_id"`
}
