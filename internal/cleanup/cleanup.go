// Package cleanup implements the terminal phase the coordinator runs once
// every wanted item has completed.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/warpdl/warpmaster/pkg/logger"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

// Default step durations.
const (
	DefaultRecordDelay   = 2 * time.Second
	DefaultFinalizeDelay = 2 * time.Second
)

// Step is one unit of cleanup work.
type Step interface {
	Name() string
	Run(ctx context.Context) error
}

// DelayStep simulates work by waiting.
type DelayStep struct {
	name  string
	delay time.Duration
}

// NewDelayStep returns a step that waits d.
func NewDelayStep(name string, d time.Duration) DelayStep {
	return DelayStep{name: name, delay: d}
}

func (s DelayStep) Name() string { return s.name }

func (s DelayStep) Run(ctx context.Context) error {
	if s.delay <= 0 {
		return context.Cause(ctx)
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context) error
}

func (s StepFunc) Name() string                  { return s.StepName }
func (s StepFunc) Run(ctx context.Context) error { return s.Fn(ctx) }

// Phase runs its steps in order and stops at the first failure.
type Phase struct {
	steps []Step
}

// NewPhase returns a phase running steps in the given order.
func NewPhase(steps ...Step) *Phase {
	return &Phase{steps: steps}
}

// Default returns the two-step phase: record work, then finalize.
func Default(recordDelay, finalizeDelay time.Duration) *Phase {
	return NewPhase(
		NewDelayStep("record work", recordDelay),
		NewDelayStep("finalize", finalizeDelay),
	)
}

// Steps returns the step names in run order.
func (p *Phase) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run executes every step. A failing step is returned wrapped with its name;
// steps after it do not run.
func (p *Phase) Run(ctx context.Context, l logger.Logger) error {
	if l == nil {
		l = logger.NewNopLogger()
	}
	l.Info("Starting cleanup")
	for i, s := range p.steps {
		l.Info("cleanup step %d/%d: %s", i+1, len(p.steps), s.Name())
		if err := s.Run(ctx); err != nil {
			return fmt.Errorf("cleanup step %q: %w", s.Name(), err)
		}
	}
	l.Info("Cleanup finished")
	return nil
}

// Task is the warpflow.TaskFunc for common.CleanupTaskType.
func (p *Phase) Task(tc *warpflow.TaskContext) error {
	return p.Run(tc.Context(), tc.Logger())
}
