package warpflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warpdl/warpmaster/pkg/logger"
)

const (
	// DefaultSignalTTL bounds how long a signal waits for an absent target.
	DefaultSignalTTL = 30 * time.Second
	// DefaultHistoryLimit is the number of finished runs kept for Describe.
	DefaultHistoryLimit = 1024
)

// EngineOpts configure an Engine. Zero values select defaults.
type EngineOpts struct {
	Journal      Journal
	Logger       logger.Logger
	SignalTTL    time.Duration
	HistoryLimit int
	// Now returns the current time. Tests override it to age queued signals.
	Now func() time.Time
}

func (o *EngineOpts) applyDefaults() {
	if o.Journal == nil {
		o.Journal = NewMemJournal()
	}
	if o.Logger == nil {
		o.Logger = logger.NewNopLogger()
	}
	if o.SignalTTL <= 0 {
		o.SignalTTL = DefaultSignalTTL
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type run struct {
	info        TaskInfo
	input       json.RawMessage
	parentClose ParentClosePolicy
	ctx         context.Context
	cancel      context.CancelCauseFunc
	mailbox     *Mailbox
	done        chan struct{}
	result      Result
	// requested is the terminal status asked for by Cancel or Terminate.
	requested Status
	children  []*run
}

// routable reports whether new signals for the run's ID go to its mailbox.
func (r *run) routable() bool {
	return r.requested != StatusTerminated
}

// stopping reports whether Cancel or Terminate was requested. A stopping run
// still holds its ID until it finishes but no longer counts as live.
func (r *run) stopping() bool {
	return r.requested != ""
}

func (r *run) record() RunRecord {
	return RunRecord{
		ID:          r.info.ID,
		RunID:       r.info.RunID,
		Type:        r.info.Type,
		Input:       r.input,
		Status:      r.info.Status,
		ParentRunID: r.info.ParentRunID,
		ParentClose: r.parentClose,
		StartedAt:   r.info.StartedAt,
		EndedAt:     r.info.EndedAt,
		Error:       r.info.Error,
		State:       r.info.State,
	}
}

type pendingSignal struct {
	seq       int64
	sig       Signal
	expiresAt time.Time
}

// Engine runs tasks, routes signals and keeps the run registry.
// All methods are safe for concurrent use.
type Engine struct {
	opts EngineOpts
	log  logger.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	types    map[string]TaskFunc
	live     map[string]*run
	runs     map[string]*run
	latest   map[string]*run
	finished []string
	pending  map[string][]pendingSignal
	subs     map[int]func(Event)
	subSeq   int
}

// NewEngine returns an engine ready for Register and Spawn.
func NewEngine(opts *EngineOpts) *Engine {
	var o EngineOpts
	if opts != nil {
		o = *opts
	}
	o.applyDefaults()
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Engine{
		opts:    o,
		log:     o.Logger,
		ctx:     ctx,
		cancel:  cancel,
		types:   make(map[string]TaskFunc),
		live:    make(map[string]*run),
		runs:    make(map[string]*run),
		latest:  make(map[string]*run),
		pending: make(map[string][]pendingSignal),
		subs:    make(map[int]func(Event)),
	}
}

// Register binds a task type name to its body. Registering a name twice
// replaces the earlier body for future spawns.
func (e *Engine) Register(taskType string, fn TaskFunc) {
	e.mu.Lock()
	e.types[taskType] = fn
	e.mu.Unlock()
}

// Spawn starts a run for opts.ID. With the default reuse policy a live run
// for the same ID makes Spawn fail with an error wrapping ErrAlreadyStarted.
// A run that is already stopping is waited for instead.
func (e *Engine) Spawn(ctx context.Context, opts StartOptions) (Handle, error) {
	return e.spawn(ctx, opts, nil)
}

func (e *Engine) spawn(ctx context.Context, opts StartOptions, parent *run) (Handle, error) {
	if opts.ID == "" {
		return Handle{}, ErrInvalidID
	}
	input, err := marshalPayload(opts.Input)
	if err != nil {
		return Handle{}, fmt.Errorf("encode input for %s: %w", opts.ID, err)
	}

	e.mu.Lock()
	for {
		if e.closed {
			e.mu.Unlock()
			return Handle{}, ErrEngineClosed
		}
		if _, ok := e.types[opts.Type]; !ok {
			e.mu.Unlock()
			return Handle{}, fmt.Errorf("%w: %q", ErrUnknownTaskType, opts.Type)
		}
		existing := e.live[opts.ID]
		if existing == nil {
			break
		}
		if opts.IDReusePolicy != TerminateIfRunning && !existing.stopping() {
			e.mu.Unlock()
			return Handle{}, fmt.Errorf("%w: %s (run %s)", ErrAlreadyStarted, opts.ID, existing.info.RunID)
		}
		var events []Event
		if !existing.stopping() {
			events = e.terminateLocked(existing, "replaced by a new run")
		}
		done := existing.done
		e.mu.Unlock()
		e.emit(events...)
		select {
		case <-done:
		case <-ctx.Done():
			return Handle{}, context.Cause(ctx)
		}
		e.mu.Lock()
	}

	now := e.opts.Now()
	parentRunID := ""
	if parent != nil {
		parentRunID = parent.info.RunID
	}
	r := e.newRunLocked(RunRecord{
		ID:          opts.ID,
		RunID:       uuid.NewString(),
		Type:        opts.Type,
		Input:       input,
		Status:      StatusRunning,
		ParentRunID: parentRunID,
		ParentClose: opts.ParentClosePolicy,
		StartedAt:   now,
	})
	if parent != nil && opts.ParentClosePolicy == Terminate {
		parent.children = append(parent.children, r)
	}
	delivered := e.flushPendingLocked(r, now)
	fn := e.types[opts.Type]
	rec := r.record()
	e.mu.Unlock()

	e.persistRun(rec)
	e.forgetSignals(delivered)
	e.start(r, fn)
	return handleOf(r), nil
}

func (e *Engine) newRunLocked(rec RunRecord) *run {
	ctx, cancel := context.WithCancelCause(e.ctx)
	r := &run{
		info: TaskInfo{
			ID:          rec.ID,
			RunID:       rec.RunID,
			Type:        rec.Type,
			Status:      StatusRunning,
			ParentRunID: rec.ParentRunID,
			StartedAt:   rec.StartedAt,
			State:       rec.State,
		},
		input:       rec.Input,
		parentClose: rec.ParentClose,
		ctx:         ctx,
		cancel:      cancel,
		mailbox:     NewMailbox(),
		done:        make(chan struct{}),
	}
	e.live[rec.ID] = r
	e.runs[rec.RunID] = r
	e.latest[rec.ID] = r
	// Done by the goroutine launched in start.
	e.wg.Add(1)
	return r
}

func (e *Engine) start(r *run, fn TaskFunc) {
	tc := &TaskContext{engine: e, run: r}
	tc.log = logger.With(e.log, "task", r.info.ID, "run", r.info.RunID)
	e.emit(Event{Type: EventTaskStarted, TaskID: r.info.ID, RunID: r.info.RunID, TaskType: r.info.Type, Status: StatusRunning})

	safeGo(e.log, &e.wg, r.info.ID,
		func(p interface{}) {
			e.finish(r, fmt.Errorf("%w: %v", ErrTaskPanicked, p))
		},
		func() {
			e.finish(r, fn(tc))
		},
	)
}

func (e *Engine) finish(r *run, err error) {
	e.mu.Lock()
	status := StatusCompleted
	switch {
	case err == nil:
	case r.requested != "":
		status = r.requested
	case errors.Is(context.Cause(r.ctx), ErrEngineClosed):
		status = StatusInterrupted
	default:
		status = StatusFailed
	}
	r.info.Status = status
	r.info.EndedAt = e.opts.Now()
	if err != nil {
		r.info.Error = err.Error()
	}
	r.result = Result{Status: status, Err: err}
	if e.live[r.info.ID] == r {
		delete(e.live, r.info.ID)
	}
	var events []Event
	for _, child := range r.children {
		if child.info.Status == StatusRunning {
			events = append(events, e.terminateLocked(child, "parent run ended")...)
		}
	}
	r.children = nil
	r.cancel(errCompleted)
	close(r.done)
	e.finished = append(e.finished, r.info.RunID)
	e.pruneLocked()
	rec := r.record()
	info := r.info
	e.mu.Unlock()

	if status != StatusInterrupted {
		e.persistRun(rec)
	}
	switch status {
	case StatusCompleted, StatusCanceled, StatusTerminated, StatusInterrupted:
		e.log.Info("%s %s (run %s) %s", info.Type, info.ID, info.RunID, status)
	default:
		e.log.Warning("%s %s (run %s) failed: %v", info.Type, info.ID, info.RunID, err)
	}
	e.emit(events...)
	e.emit(Event{Type: EventTaskFinished, TaskID: info.ID, RunID: info.RunID, TaskType: info.Type, Status: status, Error: info.Error})
}

// errCompleted cancels a finished run's context so its children derived
// from it are released.
var errCompleted = errors.New("run finished")

func (e *Engine) pruneLocked() {
	for len(e.finished) > e.opts.HistoryLimit {
		id := e.finished[0]
		e.finished = e.finished[1:]
		r, ok := e.runs[id]
		if !ok {
			continue
		}
		delete(e.runs, id)
		if e.latest[r.info.ID] == r {
			delete(e.latest, r.info.ID)
		}
	}
}

// Cancel requests cancellation of the live run for id. It is a no-op when
// no such run exists or a stop was already requested.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	r := e.live[id]
	if r == nil || r.requested != "" {
		e.mu.Unlock()
		return nil
	}
	r.requested = StatusCanceled
	r.cancel(ErrCanceled)
	ev := Event{Type: EventCancelRequested, TaskID: id, RunID: r.info.RunID, TaskType: r.info.Type}
	e.mu.Unlock()
	e.emit(ev)
	return nil
}

// Terminate stops the live run for id without letting it receive further
// signals. It is a no-op when no such run exists.
func (e *Engine) Terminate(id, reason string) error {
	e.mu.Lock()
	r := e.live[id]
	if r == nil {
		e.mu.Unlock()
		return nil
	}
	events := e.terminateLocked(r, reason)
	e.mu.Unlock()
	e.emit(events...)
	return nil
}

func (e *Engine) terminateLocked(r *run, reason string) []Event {
	if r.requested == StatusTerminated {
		return nil
	}
	r.requested = StatusTerminated
	r.cancel(fmt.Errorf("%w: %s", ErrTerminated, reason))
	return []Event{{Type: EventCancelRequested, TaskID: r.info.ID, RunID: r.info.RunID, TaskType: r.info.Type, Status: StatusTerminated, Error: reason}}
}

// ListLive returns snapshots of live runs matching f, sorted by ID. Runs
// already being canceled or terminated are left out.
func (e *Engine) ListLive(f Filter) []TaskInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []TaskInfo
	for _, r := range e.live {
		if r.stopping() || !f.match(&r.info) {
			continue
		}
		out = append(out, r.info)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// CountLive returns the number of runs ListLive(f) would return.
func (e *Engine) CountLive(f Filter) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, r := range e.live {
		if !r.stopping() && f.match(&r.info) {
			n++
		}
	}
	return n
}

// Describe returns the newest known run for id.
func (e *Engine) Describe(id string) (TaskInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.latest[id]
	if !ok {
		return TaskInfo{}, false
	}
	return r.info, true
}

// Runs returns every retained run, oldest first.
func (e *Engine) Runs() []TaskInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TaskInfo, 0, len(e.runs))
	for _, r := range e.runs {
		out = append(out, r.info)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].StartedAt.Equal(out[b].StartedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].StartedAt.Before(out[b].StartedAt)
	})
	return out
}

// Wait blocks until the run finishes or ctx is done.
func (e *Engine) Wait(ctx context.Context, runID string) (Result, error) {
	e.mu.Lock()
	r, ok := e.runs[runID]
	e.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, context.Cause(ctx)
	}
}

// Signal delivers a named signal to the newest live run of target. When
// no routable run exists the signal is queued for DefaultSignalTTL (or the
// configured TTL) and handed to the next run started with that ID.
// A queued signal leaves the journal once it is pushed into a mailbox, so a
// crash before the task drains it loses the signal.
func (e *Engine) Signal(ctx context.Context, target, name string, payload any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("encode signal %s: %w", name, err)
	}
	now := e.opts.Now()
	sig := Signal{Name: name, Payload: raw, SentAt: now}

	if ok, err := e.deliver(target, sig); ok || err != nil {
		return err
	}

	expiresAt := now.Add(e.opts.SignalTTL)
	seq, jerr := e.opts.Journal.SaveSignal(ctx, SignalRecord{
		Target:    target,
		Name:      name,
		Payload:   raw,
		SentAt:    now,
		ExpiresAt: expiresAt,
	})
	if jerr != nil {
		e.log.Warning("journal: save signal %s for %s: %v", name, target, jerr)
	}

	e.mu.Lock()
	if r := e.live[target]; r != nil && r.routable() {
		r.mailbox.Push(sig)
		ev := Event{Type: EventSignalDelivered, TaskID: target, RunID: r.info.RunID, Signal: name}
		e.mu.Unlock()
		e.forgetSignals([]int64{seq})
		e.emit(ev)
		return nil
	}
	expired := e.expireLocked(now)
	e.pending[target] = append(e.pending[target], pendingSignal{seq: seq, sig: sig, expiresAt: expiresAt})
	e.mu.Unlock()

	e.dropExpired(expired)
	e.emit(Event{Type: EventSignalQueued, TaskID: target, Signal: name})
	return nil
}

func (e *Engine) deliver(target string, sig Signal) (bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrEngineClosed
	}
	r := e.live[target]
	if r == nil || !r.routable() {
		e.mu.Unlock()
		return false, nil
	}
	r.mailbox.Push(sig)
	ev := Event{Type: EventSignalDelivered, TaskID: target, RunID: r.info.RunID, Signal: sig.Name}
	e.mu.Unlock()
	e.emit(ev)
	return true, nil
}

type expiredSignal struct {
	target string
	pendingSignal
}

func (e *Engine) expireLocked(now time.Time) []expiredSignal {
	var out []expiredSignal
	for target, list := range e.pending {
		kept := list[:0]
		for _, ps := range list {
			if now.After(ps.expiresAt) {
				out = append(out, expiredSignal{target: target, pendingSignal: ps})
				continue
			}
			kept = append(kept, ps)
		}
		if len(kept) == 0 {
			delete(e.pending, target)
		} else {
			e.pending[target] = kept
		}
	}
	return out
}

func (e *Engine) dropExpired(expired []expiredSignal) {
	if len(expired) == 0 {
		return
	}
	seqs := make([]int64, 0, len(expired))
	for _, x := range expired {
		seqs = append(seqs, x.seq)
		e.log.Warning("signal %s for %s expired undelivered", x.sig.Name, x.target)
		e.emit(Event{Type: EventSignalExpired, TaskID: x.target, Signal: x.sig.Name})
	}
	e.forgetSignals(seqs)
}

// flushPendingLocked moves unexpired queued signals for r's ID into its
// mailbox and returns their journal sequence numbers.
func (e *Engine) flushPendingLocked(r *run, now time.Time) []int64 {
	list := e.pending[r.info.ID]
	if len(list) == 0 {
		return nil
	}
	delete(e.pending, r.info.ID)
	seqs := make([]int64, 0, len(list))
	sigs := make([]Signal, 0, len(list))
	for _, ps := range list {
		seqs = append(seqs, ps.seq)
		if now.After(ps.expiresAt) {
			continue
		}
		sigs = append(sigs, ps.sig)
	}
	r.mailbox.Push(sigs...)
	return seqs
}

// PendingSignals returns the number of queued signals per target.
func (e *Engine) PendingSignals() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int, len(e.pending))
	for target, list := range e.pending {
		out[target] = len(list)
	}
	return out
}

// Delegate runs fn on a helper goroutine and waits at most timeout for it.
// A call that overruns returns an error wrapping ErrDelegatedCallTimeout;
// fn's context is canceled at that point. A non-positive timeout waits
// for as long as ctx allows.
func (e *Engine) Delegate(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	safeGo(e.log, nil, "delegate",
		func(p interface{}) { done <- fmt.Errorf("%w: %v", ErrTaskPanicked, p) },
		func() { done <- fn(cctx) },
	)

	var err error
	select {
	case err = <-done:
		if err == nil || !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	case <-cctx.Done():
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return fmt.Errorf("%w after %s", ErrDelegatedCallTimeout, timeout)
}

// Subscribe registers fn for every event. Callbacks run synchronously on
// the goroutine that caused the event and must not block. The returned
// function removes the subscription.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	e.subSeq++
	id := e.subSeq
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	e.mu.Lock()
	subs := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	now := e.opts.Now()
	for _, ev := range events {
		if ev.Time.IsZero() {
			ev.Time = now
		}
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// Recover restarts every run the journal still lists as running and
// reloads queued signals. It must be called before the first Spawn.
// Children with the terminate close policy whose parent is gone are marked
// terminated instead of restarted.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	recs, err := e.opts.Journal.LiveRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("load live runs: %w", err)
	}
	sigs, err := e.opts.Journal.PendingSignals(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending signals: %w", err)
	}

	now := e.opts.Now()
	var stale []int64
	e.mu.Lock()
	for _, s := range sigs {
		if now.After(s.ExpiresAt) {
			stale = append(stale, s.Seq)
			continue
		}
		e.pending[s.Target] = append(e.pending[s.Target], pendingSignal{
			seq:       s.Seq,
			sig:       Signal{Name: s.Name, Payload: s.Payload, SentAt: s.SentAt},
			expiresAt: s.ExpiresAt,
		})
	}
	e.mu.Unlock()
	e.forgetSignals(stale)

	alive := make(map[string]bool, len(recs))
	for _, rec := range recs {
		alive[rec.RunID] = true
	}

	restarted := 0
	for _, rec := range recs {
		if rec.ParentRunID != "" && rec.ParentClose == Terminate && !alive[rec.ParentRunID] {
			e.closeRecord(rec, StatusTerminated, "parent run not recovered")
			continue
		}
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return restarted, ErrEngineClosed
		}
		fn, ok := e.types[rec.Type]
		if !ok {
			e.mu.Unlock()
			e.closeRecord(rec, StatusFailed, fmt.Sprintf("%v: %q", ErrUnknownTaskType, rec.Type))
			continue
		}
		if _, busy := e.live[rec.ID]; busy {
			e.mu.Unlock()
			e.closeRecord(rec, StatusTerminated, "superseded by a newer run")
			continue
		}
		r := e.newRunLocked(rec)
		if parent := e.runs[rec.ParentRunID]; parent != nil && rec.ParentClose == Terminate {
			parent.children = append(parent.children, r)
		}
		delivered := e.flushPendingLocked(r, now)
		e.mu.Unlock()

		e.forgetSignals(delivered)
		e.log.Info("recovered %s %s (run %s)", rec.Type, rec.ID, rec.RunID)
		e.start(r, fn)
		restarted++
	}
	return restarted, nil
}

func (e *Engine) closeRecord(rec RunRecord, status Status, reason string) {
	rec.Status = status
	rec.EndedAt = e.opts.Now()
	rec.Error = reason
	e.persistRun(rec)
	e.log.Warning("not recovering %s (run %s): %s", rec.ID, rec.RunID, reason)
}

// Close stops every live run with ErrEngineClosed as the cause and waits
// for all goroutines to exit. Journal records of interrupted runs stay
// running. Close is idempotent and does not close the journal.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.cancel(ErrEngineClosed)
	e.wg.Wait()
	return nil
}

func (e *Engine) persistRun(rec RunRecord) {
	if err := e.opts.Journal.SaveRun(context.Background(), rec); err != nil {
		e.log.Warning("journal: save run %s (%s): %v", rec.ID, rec.RunID, err)
	}
}

func (e *Engine) forgetSignals(seqs []int64) {
	for _, seq := range seqs {
		if seq == 0 {
			continue
		}
		if err := e.opts.Journal.DeleteSignal(context.Background(), seq); err != nil {
			e.log.Warning("journal: delete signal %d: %v", seq, err)
		}
	}
}

func handleOf(r *run) Handle {
	return Handle{ID: r.info.ID, RunID: r.info.RunID, Type: r.info.Type, StartedAt: r.info.StartedAt}
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	return json.Marshal(v)
}
