package ir

import (
	"fmt"
	"time"
)

// SystemName identifies an external system ("crm", "finance", "sheet").
type SystemName string

// LifecycleStage is one of the three pipeline stages.
type LifecycleStage string

const (
	StageRead    LifecycleStage = "Read"
	StagePromote LifecycleStage = "Promote"
	StageWrite   LifecycleStage = "Write"
)

// ValidStages lists the stages in pipeline order.
var ValidStages = []LifecycleStage{StageRead, StagePromote, StageWrite}

// ParseStage converts a case-sensitive stage name.
func ParseStage(s string) (LifecycleStage, error) {
	for _, st := range ValidStages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown lifecycle stage %q: must be one of %v", s, ValidStages)
}

// ObjectName is the object an operation handles. Read and Promote work on
// system entity types, Write works on core entity types.
type ObjectName string

// SystemEntityTypeName names a system's native entity type.
type SystemEntityTypeName string

// CoreEntityTypeName names a canonical core entity type.
type CoreEntityTypeName string

// CoreID identifies a core entity.
type CoreID string

// SystemID identifies an entity inside one external system.
type SystemID string

// StagedID identifies a staged payload.
type StagedID string

// SystemStatus reports whether a function is currently running.
type SystemStatus string

const (
	StatusIdle    SystemStatus = "Idle"
	StatusRunning SystemStatus = "Running"
)

// OperationResult is the outcome of the last run of an operation.
type OperationResult string

const (
	ResultUnknown OperationResult = "Unknown"
	ResultSuccess OperationResult = "Success"
	ResultError   OperationResult = "Error"
)

// AbortVote tells the function runner whether to keep going.
type AbortVote string

const (
	VoteContinue AbortVote = "Continue"
	VoteAbort    AbortVote = "Abort"
)

// SystemState is the scheduling state of one (system, stage).
type SystemState struct {
	System        SystemName     `json:"system"`
	Stage         LifecycleStage `json:"stage"`
	Active        bool           `json:"active"`
	Status        SystemStatus   `json:"status"`
	DateCreated   time.Time      `json:"date_created"`
	DateUpdated   time.Time      `json:"date_updated"`
	LastStarted   *time.Time     `json:"last_started,omitempty"`
	LastCompleted *time.Time     `json:"last_completed,omitempty"`
}

// NewSystemState returns an active, idle state created at now.
func NewSystemState(system SystemName, stage LifecycleStage, now time.Time) SystemState {
	return SystemState{
		System:      system,
		Stage:       stage,
		Active:      true,
		Status:      StatusIdle,
		DateCreated: now,
		DateUpdated: now,
	}
}

// Running marks the state as running from now.
func (s SystemState) Running(now time.Time) SystemState {
	s.Status = StatusRunning
	s.LastStarted = &now
	s.DateUpdated = now
	return s
}

// Completed marks the state idle again.
func (s SystemState) Completed(now time.Time) SystemState {
	s.Status = StatusIdle
	s.LastCompleted = &now
	s.DateUpdated = now
	return s
}

// ObjectState is the checkpoint and last-run record of one
// (system, stage, object).
type ObjectState struct {
	System      SystemName     `json:"system"`
	Stage       LifecycleStage `json:"stage"`
	Object      ObjectName     `json:"object"`
	Active      bool           `json:"active"`
	Checkpoint  time.Time      `json:"checkpoint"`
	DateCreated time.Time      `json:"date_created"`
	DateUpdated time.Time      `json:"date_updated"`

	// CheckpointKey orders entities that share the Checkpoint instant.
	// Empty means none of them has been handled yet.
	CheckpointKey string `json:"checkpoint_key,omitempty"`

	LastStart            *time.Time `json:"last_start,omitempty"`
	LastCompleted        *time.Time `json:"last_completed,omitempty"`
	LastSuccessStart     *time.Time `json:"last_success_start,omitempty"`
	LastSuccessCompleted *time.Time `json:"last_success_completed,omitempty"`

	LastResult       OperationResult `json:"last_result"`
	LastAbortVote    AbortVote       `json:"last_abort_vote"`
	LastRunMessage   string          `json:"last_run_message,omitempty"`
	LastRunException string          `json:"last_run_exception,omitempty"`
}

// NewObjectState returns an active state whose checkpoint is the first
// checkpoint configured for the operation.
func NewObjectState(ss SystemState, object ObjectName, firstCheckpoint, now time.Time) ObjectState {
	return ObjectState{
		System:        ss.System,
		Stage:         ss.Stage,
		Object:        object,
		Active:        true,
		Checkpoint:    firstCheckpoint.UTC(),
		DateCreated:   now,
		DateUpdated:   now,
		LastResult:    ResultUnknown,
		LastAbortVote: VoteContinue,
	}
}

// Advance moves the checkpoint to next. The checkpoint never goes back: a
// next value before the current one is ignored.
func (s ObjectState) Advance(next time.Time) ObjectState {
	return s.AdvanceTo(next, "")
}

// AdvanceTo moves the checkpoint to (next, key), compared by time and then
// by key. Like Advance it never goes back.
func (s ObjectState) AdvanceTo(next time.Time, key string) ObjectState {
	if next.After(s.Checkpoint) || (next.Equal(s.Checkpoint) && key > s.CheckpointKey) {
		s.Checkpoint = next.UTC()
		s.CheckpointKey = key
	}
	return s
}

// Started records the start of a run.
func (s ObjectState) Started(start time.Time) ObjectState {
	s.LastStart = &start
	s.DateUpdated = start
	return s
}

// Finished records the outcome of a run that began at start.
func (s ObjectState) Finished(start, end time.Time, result OperationResult, vote AbortVote, message, exception string) ObjectState {
	s.LastCompleted = &end
	s.LastResult = result
	s.LastAbortVote = vote
	s.LastRunMessage = message
	s.LastRunException = exception
	s.DateUpdated = end
	if result == ResultSuccess {
		s.LastSuccessStart = &start
		s.LastSuccessCompleted = &end
	}
	return s
}
