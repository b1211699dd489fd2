package warpflow

import "errors"

// Sentinel errors for the orchestration engine.
var (
	// ErrAlreadyStarted is returned by Spawn when a live run already owns the
	// requested ID and the reuse policy rejects duplicates.
	ErrAlreadyStarted = errors.New("task already started")

	// ErrUnknownTaskType is returned when no TaskFunc is registered for a type.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrInvalidID is returned when a task is spawned without an ID.
	ErrInvalidID = errors.New("task id must not be empty")

	// ErrEngineClosed is returned by operations on a closed engine. It is also
	// the cancellation cause seen by runs interrupted by Close.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrRunNotFound is returned by Wait for an unknown run ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrCanceled is the cancellation cause of a run stopped by Cancel.
	ErrCanceled = errors.New("task canceled")

	// ErrTerminated is the cancellation cause of a run stopped by Terminate,
	// a terminate-if-running spawn or a terminating parent.
	ErrTerminated = errors.New("task terminated")

	// ErrTaskPanicked wraps a value recovered from a panicking task.
	ErrTaskPanicked = errors.New("task panicked")

	// ErrDelegatedCallTimeout is returned by Delegate when the call exceeds
	// its timeout. Callers treat it as retryable.
	ErrDelegatedCallTimeout = errors.New("delegated call timed out")
)
