// Package master implements the coordinator: it reconciles download workers
// against the latest declaration of wanted items, tracks their completion
// and runs the cleanup phase once everything has finished.
package master

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/pkg/logger"
	"github.com/warpdl/warpmaster/pkg/warpflow"
	"golang.org/x/sync/errgroup"
)

// Phase is the coordinator state.
type Phase string

const (
	PhaseInitializing       Phase = "initializing"
	PhaseReconciling        Phase = "reconciling"
	PhaseAwaitingCompletion Phase = "awaiting_completion"
	PhaseCleaningUp         Phase = "cleaning_up"
	PhaseTerminated         Phase = "terminated"
	PhaseFailed             Phase = "failed"
)

// Input is the coordinator task input.
type Input struct {
	// StartupDelay stands in for computing the desired set.
	StartupDelay time.Duration `json:"startupDelay"`
	Files        []common.Item `json:"files"`
}

// Status is the snapshot the coordinator publishes after every change.
type Status struct {
	Phase                Phase    `json:"phase"`
	Desired              []string `json:"desired,omitempty"`
	Pending              []string `json:"pending,omitempty"`
	Spawned              []string `json:"spawned,omitempty"`
	AlreadyRunning       []string `json:"alreadyRunning,omitempty"`
	Canceled             []string `json:"canceled,omitempty"`
	EarlyNotifications   int      `json:"earlyNotifications,omitempty"`
	IgnoredNotifications int      `json:"ignoredNotifications,omitempty"`
	// LiveDownloads is the answer to the status query, -1 until it succeeds.
	LiveDownloads int    `json:"liveDownloads"`
	StatusError   string `json:"statusError,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Default coordinator settings.
const (
	DefaultStatusTimeout    = 30 * time.Second
	DefaultSpawnConcurrency = 16
)

// Config tunes the coordinator.
type Config struct {
	StatusTimeout    time.Duration
	StatusRetryDelay time.Duration
	StatusAttempts   int
	SpawnConcurrency int
	// CountDownloads answers the status query. Nil counts live download
	// workers through the runtime.
	CountDownloads func(ctx context.Context) (int, error)
}

func (c *Config) applyDefaults() {
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = DefaultStatusTimeout
	}
	retry := warpflow.DefaultRetryPolicy()
	if c.StatusRetryDelay <= 0 {
		c.StatusRetryDelay = retry.Delay
	}
	if c.StatusAttempts <= 0 {
		c.StatusAttempts = retry.Attempts
	}
	if c.SpawnConcurrency <= 0 {
		c.SpawnConcurrency = DefaultSpawnConcurrency
	}
}

// Runtime is the part of *warpflow.TaskContext the coordinator uses.
type Runtime interface {
	TaskController
	Context() context.Context
	Logger() logger.Logger
	Input(v any) error
	Mailbox() *warpflow.Mailbox
	Publish(state any) error
	Spawn(opts warpflow.StartOptions) (warpflow.Handle, error)
	ExecuteChild(opts warpflow.StartOptions) (warpflow.Result, error)
	CountLive(f warpflow.Filter) int
	Delegate(timeout time.Duration, fn func(ctx context.Context) error) error
}

// Coordinator is the body of the common.MasterTaskType task.
type Coordinator struct {
	cfg Config
}

// New returns a coordinator. Zero config fields select defaults.
func New(cfg Config) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{cfg: cfg}
}

// Task is the warpflow.TaskFunc for common.MasterTaskType.
func (c *Coordinator) Task(tc *warpflow.TaskContext) error {
	return c.Run(tc)
}

// Run drives one coordinator run to termination. A stopped run returns its
// cancellation cause without publishing the failed phase.
func (c *Coordinator) Run(rt Runtime) error {
	m := &machine{
		cfg:    c.cfg,
		rt:     rt,
		ctx:    rt.Context(),
		log:    rt.Logger(),
		status: Status{LiveDownloads: -1},
	}
	err := m.run()
	if err != nil && m.ctx.Err() == nil {
		m.status.Phase = PhaseFailed
		m.status.Error = err.Error()
		m.publish()
		m.log.Error("MasterWorkflow failed: %v", err)
	}
	return err
}

type machine struct {
	cfg     Config
	rt      Runtime
	ctx     context.Context
	log     logger.Logger
	status  Status
	early   earlyInbox
	pending pendingSet
}

func (m *machine) run() error {
	var in Input
	if err := m.rt.Input(&in); err != nil {
		return err
	}
	m.log.Info("Start MasterWorkflow")
	m.setPhase(PhaseInitializing)
	if err := m.initialize(in.StartupDelay); err != nil {
		return err
	}
	desired, err := NewDesiredSet(in.Files)
	if err != nil {
		return fmt.Errorf("invalid declaration: %w", err)
	}
	m.log.Info("Files to download calculated: %d", desired.Len())

	m.status.Phase = PhaseReconciling
	m.status.Desired = desired.Keys()
	m.pending = newPendingSet(desired.Keys())
	for _, key := range m.early.drain() {
		m.complete(key)
	}
	reaped := NewReaper(m.rt, m.log).Reap(desired)
	m.status.Canceled = reaped.Canceled
	m.publish()

	if err := m.spawnAll(desired); err != nil {
		return err
	}
	m.queryStatus()

	m.setPhase(PhaseAwaitingCompletion)
	mb := m.rt.Mailbox()
	for !m.pending.empty() {
		select {
		case <-mb.Ready():
			m.handle(mb.Drain())
			m.publish()
		case <-m.ctx.Done():
			return context.Cause(m.ctx)
		}
	}

	m.setPhase(PhaseCleaningUp)
	_, err = m.rt.ExecuteChild(warpflow.StartOptions{
		ID:                common.CleanupTaskID,
		Type:              common.CleanupTaskType,
		IDReusePolicy:     warpflow.TerminateIfRunning,
		ParentClosePolicy: warpflow.Terminate,
	})
	if err != nil {
		if m.ctx.Err() != nil {
			return context.Cause(m.ctx)
		}
		return fmt.Errorf("%w: %w", ErrCleanupFailed, err)
	}
	m.setPhase(PhaseTerminated)
	m.log.Info("MasterWorkflow finished")
	return nil
}

// initialize waits out the startup delay while buffering notifications.
func (m *machine) initialize(delay time.Duration) error {
	mb := m.rt.Mailbox()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			// Anything that raced with the timer goes to the inbox too.
			m.handle(mb.Drain())
			return nil
		case <-mb.Ready():
			m.handle(mb.Drain())
			m.publish()
		case <-m.ctx.Done():
			return context.Cause(m.ctx)
		}
	}
}

// handle applies mailbox signals. Before the pending set exists completion
// keys go to the early inbox.
func (m *machine) handle(sigs []warpflow.Signal) {
	for _, sig := range sigs {
		if sig.Name != common.SignalFileCompleted {
			m.log.Warning("ignoring unknown signal %q", sig.Name)
			continue
		}
		var fc common.FileCompleted
		if err := sig.Decode(&fc); err != nil || fc.SHA256 == "" {
			m.log.Warning("ignoring malformed %s payload %s", sig.Name, sig.Payload)
			continue
		}
		if m.pending == nil {
			m.early.add(fc.SHA256)
			m.status.EarlyNotifications = m.early.len()
			m.log.Info("Signal received for file: %s (buffered until the desired set is known)", common.ShortKey(fc.SHA256))
			continue
		}
		m.complete(fc.SHA256)
	}
}

func (m *machine) complete(key string) {
	switch m.pending.remove(key) {
	case Removed:
		m.log.Info("Signal received for file: %s", common.ShortKey(key))
	case NotPresent:
		m.status.IgnoredNotifications++
		m.log.Info("Signal for file %s ignored: not pending", common.ShortKey(key))
	}
}

// SpawnResult is the outcome of one worker spawn.
type SpawnResult int

const (
	SpawnStarted SpawnResult = iota
	SpawnAlreadyRunning
)

func (r SpawnResult) String() string {
	if r == SpawnAlreadyRunning {
		return "already_running"
	}
	return "started"
}

func spawnWorker(rt Runtime, item common.Item) (SpawnResult, error) {
	_, err := rt.Spawn(warpflow.StartOptions{
		ID:                common.DownloadTaskID(item.SHA256),
		Type:              common.DownloadTaskType,
		Input:             item,
		IDReusePolicy:     warpflow.RejectDuplicate,
		ParentClosePolicy: warpflow.Abandon,
	})
	switch {
	case err == nil:
		return SpawnStarted, nil
	case errors.Is(err, warpflow.ErrAlreadyStarted):
		return SpawnAlreadyRunning, nil
	}
	return SpawnStarted, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, item.Short(), err)
}

// spawnAll starts workers for every desired key still pending. Spawns run
// concurrently while the loop keeps consuming notifications.
func (m *machine) spawnAll(desired *DesiredSet) error {
	var items []common.Item
	for _, it := range desired.Items() {
		if m.pending.has(it.SHA256) {
			items = append(items, it)
		}
	}
	results := make([]SpawnResult, len(items))
	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		g.SetLimit(m.cfg.SpawnConcurrency)
		for i, it := range items {
			g.Go(func() error {
				r, err := spawnWorker(m.rt, it)
				results[i] = r
				return err
			})
		}
		done <- g.Wait()
	}()

	mb := m.rt.Mailbox()
	for {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
			m.recordSpawns(items, results)
			return nil
		case <-mb.Ready():
			m.handle(mb.Drain())
			m.publish()
		case <-m.ctx.Done():
			return context.Cause(m.ctx)
		}
	}
}

func (m *machine) recordSpawns(items []common.Item, results []SpawnResult) {
	skipped := false
	for i, it := range items {
		switch results[i] {
		case SpawnStarted:
			m.status.Spawned = append(m.status.Spawned, it.SHA256)
		case SpawnAlreadyRunning:
			skipped = true
			m.status.AlreadyRunning = append(m.status.AlreadyRunning, it.SHA256)
			m.log.Info("Download for %s already running", it.Short())
		}
	}
	if skipped {
		m.log.Info("Some downloads were already running, skipping them...")
	}
	m.publish()
}

// queryStatus asks for the live download count through a delegated call.
// Timeouts are retried; giving up is logged and does not fail the run.
func (m *machine) queryStatus() {
	count := m.cfg.CountDownloads
	if count == nil {
		count = func(context.Context) (int, error) {
			return m.rt.CountLive(warpflow.Filter{Type: common.DownloadTaskType}), nil
		}
	}
	policy := warpflow.RetryPolicy{Attempts: m.cfg.StatusAttempts, Delay: m.cfg.StatusRetryDelay}
	isTimeout := func(err error) bool { return errors.Is(err, warpflow.ErrDelegatedCallTimeout) }

	n := -1
	err := warpflow.Retry(m.ctx, policy, isTimeout, func(attempt int) error {
		var got int
		err := m.rt.Delegate(m.cfg.StatusTimeout, func(ctx context.Context) error {
			c, err := count(ctx)
			got = c
			return err
		})
		if err == nil {
			n = got
			return nil
		}
		if isTimeout(err) {
			m.log.Warning("status query attempt %d/%d: %v", attempt, policy.Attempts, err)
		}
		return err
	})
	if err != nil {
		m.status.StatusError = err.Error()
		m.log.Warning("status query gave up: %v", err)
	} else {
		m.status.LiveDownloads = n
		m.status.StatusError = ""
		m.log.Info("Running download workers: %d", n)
	}
	m.publish()
}

func (m *machine) setPhase(p Phase) {
	m.status.Phase = p
	m.publish()
}

func (m *machine) publish() {
	if m.pending != nil {
		m.status.Pending = m.pending.keys()
	}
	if err := m.rt.Publish(m.status); err != nil {
		m.log.Warning("publish status: %v", err)
	}
}
