package warpflow

import (
	"encoding/json"
	"time"
)

// TaskFunc is the body of a task type. It should return promptly once
// tc.Context() is done, usually with context.Cause of that context.
type TaskFunc func(tc *TaskContext) error

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
	StatusTerminated Status = "terminated"
	// StatusInterrupted marks a run stopped by Engine.Close. The journal keeps
	// it as running so Recover resumes it.
	StatusInterrupted Status = "interrupted"
)

// Live reports whether the status describes an unfinished run.
func (s Status) Live() bool {
	return s == StatusRunning
}

// IDReusePolicy decides what Spawn does when a live run owns the ID.
type IDReusePolicy string

const (
	// RejectDuplicate fails the spawn with ErrAlreadyStarted. Default.
	RejectDuplicate IDReusePolicy = "reject_duplicate"
	// TerminateIfRunning terminates the live run, waits for it to exit and
	// starts a new run.
	TerminateIfRunning IDReusePolicy = "terminate_if_running"
)

// ParentClosePolicy decides what happens to a child when its parent run ends.
type ParentClosePolicy string

const (
	// Abandon lets the child outlive its parent. Default.
	Abandon ParentClosePolicy = "abandon"
	// Terminate stops the child when the parent run ends for any reason.
	Terminate ParentClosePolicy = "terminate"
)

// StartOptions describe a task to spawn.
type StartOptions struct {
	ID                string
	Type              string
	Input             any
	IDReusePolicy     IDReusePolicy
	ParentClosePolicy ParentClosePolicy
}

// Handle references a spawned run.
type Handle struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	Type      string    `json:"type"`
	StartedAt time.Time `json:"startedAt"`
}

// Filter selects live runs. Empty fields match everything.
type Filter struct {
	Type     string `json:"type,omitempty"`
	IDPrefix string `json:"prefix,omitempty"`
}

func (f Filter) match(info *TaskInfo) bool {
	if f.Type != "" && info.Type != f.Type {
		return false
	}
	if f.IDPrefix != "" && (len(info.ID) < len(f.IDPrefix) || info.ID[:len(f.IDPrefix)] != f.IDPrefix) {
		return false
	}
	return true
}

// TaskInfo is a snapshot of one run.
type TaskInfo struct {
	ID          string          `json:"id"`
	RunID       string          `json:"runId"`
	Type        string          `json:"type"`
	Status      Status          `json:"status"`
	ParentRunID string          `json:"parentRunId,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	EndedAt     time.Time       `json:"endedAt,omitempty"`
	Error       string          `json:"error,omitempty"`
	State       json.RawMessage `json:"state,omitempty"`
}

// Result is the outcome of a finished run.
type Result struct {
	Status Status
	Err    error
}

// Signal is one message in a run's mailbox.
type Signal struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sentAt"`
}

// Decode unmarshals the payload into v.
func (s Signal) Decode(v any) error {
	return json.Unmarshal(s.Payload, v)
}

// EventType names an engine event.
type EventType string

const (
	EventTaskStarted     EventType = "task_started"
	EventTaskFinished    EventType = "task_finished"
	EventCancelRequested EventType = "cancel_requested"
	EventSignalDelivered EventType = "signal_delivered"
	EventSignalQueued    EventType = "signal_queued"
	EventSignalExpired   EventType = "signal_expired"
	EventStatePublished  EventType = "state_published"
)

// Event is emitted to subscribers after every state change.
type Event struct {
	Type     EventType       `json:"type"`
	TaskID   string          `json:"taskId"`
	RunID    string          `json:"runId,omitempty"`
	TaskType string          `json:"taskType,omitempty"`
	Status   Status          `json:"status,omitempty"`
	Signal   string          `json:"signal,omitempty"`
	Error    string          `json:"error,omitempty"`
	State    json.RawMessage `json:"state,omitempty"`
	Time     time.Time       `json:"time"`
}
