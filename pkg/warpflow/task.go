package warpflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warpdl/warpmaster/pkg/logger"
)

// TaskContext is handed to a running TaskFunc. It scopes engine calls to the
// run: children spawned through it are tied to the run by their parent
// close policy, and blocking calls end when the run is stopped.
type TaskContext struct {
	engine *Engine
	run    *run
	log    logger.Logger
}

// Context is canceled when the run is canceled, terminated or interrupted.
// context.Cause reports which.
func (tc *TaskContext) Context() context.Context { return tc.run.ctx }

func (tc *TaskContext) ID() string    { return tc.run.info.ID }
func (tc *TaskContext) RunID() string { return tc.run.info.RunID }
func (tc *TaskContext) Type() string  { return tc.run.info.Type }

// Logger returns a logger tagged with the task and run IDs.
func (tc *TaskContext) Logger() logger.Logger { return tc.log }

// Input decodes the run's input into v.
func (tc *TaskContext) Input(v any) error {
	if len(tc.run.input) == 0 {
		return nil
	}
	if err := json.Unmarshal(tc.run.input, v); err != nil {
		return fmt.Errorf("decode input of %s: %w", tc.run.info.ID, err)
	}
	return nil
}

// Mailbox returns the run's signal queue.
func (tc *TaskContext) Mailbox() *Mailbox { return tc.run.mailbox }

// Sleep pauses for d. It returns the cancellation cause if the run is
// stopped first.
func (tc *TaskContext) Sleep(d time.Duration) error {
	ctx := tc.run.ctx
	if d <= 0 {
		return context.Cause(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Publish records state as the run's queryable state. It is returned by
// Describe and sent to subscribers.
func (tc *TaskContext) Publish(state any) error {
	raw, err := marshalPayload(state)
	if err != nil {
		return fmt.Errorf("encode state of %s: %w", tc.run.info.ID, err)
	}
	e := tc.engine
	e.mu.Lock()
	tc.run.info.State = raw
	rec := tc.run.record()
	e.mu.Unlock()
	e.persistRun(rec)
	e.emit(Event{
		Type:     EventStatePublished,
		TaskID:   rec.ID,
		RunID:    rec.RunID,
		TaskType: rec.Type,
		Status:   StatusRunning,
		State:    raw,
	})
	return nil
}

// Spawn starts a child run. The child outlives the parent unless
// opts.ParentClosePolicy is Terminate.
func (tc *TaskContext) Spawn(opts StartOptions) (Handle, error) {
	return tc.engine.spawn(tc.run.ctx, opts, tc.run)
}

// ExecuteChild spawns a child and waits for it. A child that does not
// complete is reported as an error carrying its status.
func (tc *TaskContext) ExecuteChild(opts StartOptions) (Result, error) {
	h, err := tc.Spawn(opts)
	if err != nil {
		return Result{}, err
	}
	res, err := tc.engine.Wait(tc.run.ctx, h.RunID)
	if err != nil {
		return res, err
	}
	switch res.Status {
	case StatusCompleted:
		return res, nil
	case StatusCanceled:
		return res, fmt.Errorf("child %s: %w", opts.ID, ErrCanceled)
	case StatusTerminated:
		return res, fmt.Errorf("child %s: %w", opts.ID, ErrTerminated)
	}
	return res, fmt.Errorf("child %s %s: %w", opts.ID, res.Status, res.Err)
}

// Cancel requests cancellation of another live run.
func (tc *TaskContext) Cancel(id string) error { return tc.engine.Cancel(id) }

// ListLive lists live runs matching f.
func (tc *TaskContext) ListLive(f Filter) []TaskInfo { return tc.engine.ListLive(f) }

// CountLive counts live runs matching f.
func (tc *TaskContext) CountLive(f Filter) int { return tc.engine.CountLive(f) }

// Delegate runs fn with a timeout bound to the run's context.
func (tc *TaskContext) Delegate(timeout time.Duration, fn func(ctx context.Context) error) error {
	return tc.engine.Delegate(tc.run.ctx, timeout, fn)
}

// SignalExternal sends a signal to another task by ID.
func (tc *TaskContext) SignalExternal(target, name string, payload any) error {
	return tc.engine.Signal(tc.run.ctx, target, name, payload)
}
