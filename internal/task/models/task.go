// Package models defines the durable task entities shared by the store, the
// coordinator and the API layer.
package models

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a coordinated task.
type TaskStatus string

const (
	TaskStatusPending            TaskStatus = "PENDING"
	TaskStatusAssigned           TaskStatus = "ASSIGNED"
	TaskStatusInProgress         TaskStatus = "IN_PROGRESS"
	TaskStatusSubmitted          TaskStatus = "SUBMITTED"
	TaskStatusAccepted           TaskStatus = "ACCEPTED"
	TaskStatusRejected           TaskStatus = "REJECTED"
	TaskStatusRework             TaskStatus = "REWORK"
	TaskStatusDone               TaskStatus = "DONE"
	TaskStatusFailed             TaskStatus = "FAILED"
	TaskStatusNeedsClarification TaskStatus = "NEEDS_CLARIFICATION"
)

// Active reports whether the status is non-terminal.
func (s TaskStatus) Active() bool {
	return s != TaskStatusDone && s != TaskStatusFailed
}

// Task is one durable task row.
type Task struct {
	TaskID       string          `json:"task_id" db:"task_id"`
	ParentTaskID string          `json:"parent_task_id,omitempty" db:"parent_task_id"`
	Namespace    string          `json:"namespace" db:"namespace"`
	SessionID    string          `json:"session_id" db:"session_id"`
	AgentID      string          `json:"agent_id" db:"agent_id"`
	Revision     int             `json:"revision" db:"revision"`
	Status       TaskStatus      `json:"status" db:"status"`
	Spec         json.RawMessage `json:"spec" db:"spec_json"`
	Result       json.RawMessage `json:"result,omitempty" db:"result_json"`
	Verification json.RawMessage `json:"verification,omitempty" db:"verification_json"`
	Attempts     int             `json:"attempts" db:"attempts"`
	LastError    string          `json:"last_error,omitempty" db:"last_error"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// TaskMessage is one appended conversation record attached to a task.
type TaskMessage struct {
	ID        int64     `json:"id" db:"id"`
	TaskID    string    `json:"task_id" db:"task_id"`
	Namespace string    `json:"namespace" db:"namespace"`
	SessionID string    `json:"session_id" db:"session_id"`
	Role      string    `json:"role" db:"role"`
	Kind      string    `json:"kind,omitempty" db:"kind"`
	Payload   string    `json:"payload" db:"payload"`
	Timestamp time.Time `json:"ts" db:"ts"`
}

// VerificationSpec declares the machine checks attached to a task spec.
type VerificationSpec struct {
	Commands []VerificationCommand `json:"commands"`
	UISmokes []UISmoke             `json:"uiSmokes,omitempty"`
}

// VerificationCommand is one allow-listed command with output assertions.
type VerificationCommand struct {
	Cmd               string   `json:"cmd"`
	Args              []string `json:"args,omitempty"`
	Cwd               string   `json:"cwd,omitempty"`
	TimeoutMs         int      `json:"timeoutMs,omitempty"`
	ExpectExitCode    *int     `json:"expectExitCode,omitempty"`
	AssertContains    []string `json:"assertContains,omitempty"`
	AssertNotContains []string `json:"assertNotContains,omitempty"`
	AssertRegex       []string `json:"assertRegex,omitempty"`
}

// UISmoke is one browser smoke suite, optionally with a managed sub-service.
type UISmoke struct {
	Suite           string        `json:"suite"`
	Service         *SmokeService `json:"service,omitempty"`
	ReadyURL        string        `json:"readyUrl,omitempty"`
	ReadyTimeoutMs  int           `json:"readyTimeoutMs,omitempty"`
	ShutdownGraceMs int           `json:"shutdownGraceMs,omitempty"`
	Steps           []SmokeStep   `json:"steps,omitempty"`
}

// SmokeService describes the managed process started before the smoke runs.
type SmokeService struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args,omitempty"`
	Cwd  string   `json:"cwd,omitempty"`
}

// SmokeStep is one ordered browser-control instruction.
type SmokeStep struct {
	Action string `json:"action"` // navigate, click, type, assert_text, screenshot
	Target string `json:"target,omitempty"`
	Value  string `json:"value,omitempty"`
}

// TaskSpec is the supervisor-issued work order handed to a delegate.
type TaskSpec struct {
	TaskID             string           `json:"taskId"`
	ParentTaskID       string           `json:"parentTaskId,omitempty"`
	AgentID            string           `json:"agentId"`
	Revision           int              `json:"revision"`
	Goal               string           `json:"goal"`
	Constraints        []string         `json:"constraints,omitempty"`
	Deliverables       []string         `json:"deliverables,omitempty"`
	AcceptanceCriteria []string         `json:"acceptanceCriteria,omitempty"`
	Verification       VerificationSpec `json:"verification"`
}

// TaskResultStatus enumerates delegate-reported outcomes.
type TaskResultStatus string

const (
	TaskResultSubmitted          TaskResultStatus = "submitted"
	TaskResultNeedsClarification TaskResultStatus = "needs_clarification"
	TaskResultFailed             TaskResultStatus = "failed"
)

// TaskResult is the structured payload a delegate must return.
type TaskResult struct {
	TaskID       string           `json:"taskId"`
	Revision     int              `json:"revision"`
	Status       TaskResultStatus `json:"status"`
	Summary      string           `json:"summary"`
	ChangedFiles []string         `json:"changedFiles,omitempty"`
	HowToVerify  []string         `json:"howToVerify,omitempty"`
	KnownRisks   []string         `json:"knownRisks,omitempty"`
	Questions    []string         `json:"questions,omitempty"`
}

// StatusForResult maps a delegate result status onto the task lifecycle.
func StatusForResult(s TaskResultStatus) TaskStatus {
	switch s {
	case TaskResultSubmitted:
		return TaskStatusSubmitted
	case TaskResultNeedsClarification:
		return TaskStatusNeedsClarification
	default:
		return TaskStatusFailed
	}
}

// SupervisorVerdict is the supervisor's per-task acceptance decision set.
type SupervisorVerdict struct {
	Verdicts []Verdict `json:"verdicts"`
}

// Verdict is one accept/reject decision.
type Verdict struct {
	TaskID string `json:"taskId"`
	Accept bool   `json:"accept"`
	Note   string `json:"note,omitempty"`
}

// VerificationResult is the outcome of one executed command or smoke.
type VerificationResult struct {
	Cmd              string   `json:"cmd"`
	Args             []string `json:"args,omitempty"`
	OK               bool     `json:"ok"`
	ExpectedExitCode int      `json:"expectedExitCode"`
	ExitCode         *int     `json:"exitCode,omitempty"`
	Signal           string   `json:"signal,omitempty"`
	ElapsedMs        int64    `json:"elapsedMs"`
	TimedOut         bool     `json:"timedOut"`
	Stdout           string   `json:"stdout,omitempty"`
	Stderr           string   `json:"stderr,omitempty"`
	Suite            string   `json:"suite,omitempty"`
	Notes            []string `json:"notes,omitempty"`
}

// VerificationReport aggregates all results for one task revision.
type VerificationReport struct {
	Enabled bool                 `json:"enabled"`
	Results []VerificationResult `json:"results"`
}

// OK reports whether every result passed.
func (r *VerificationReport) OK() bool {
	for _, res := range r.Results {
		if !res.OK {
			return false
		}
	}
	return true
}
