package warpflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// blockUntilStopped parks until the run is stopped.
func blockUntilStopped(tc *TaskContext) error {
	<-tc.Context().Done()
	return context.Cause(tc.Context())
}

func newTestEngine(t *testing.T, opts *EngineOpts) *Engine {
	t.Helper()
	e := NewEngine(opts)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestSpawnRunsToCompletion(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Register("echo", func(tc *TaskContext) error {
		var in struct{ N int }
		if err := tc.Input(&in); err != nil {
			return err
		}
		if in.N != 7 {
			return errors.New("bad input")
		}
		return nil
	})

	h, err := e.Spawn(context.Background(), StartOptions{ID: "a", Type: "echo", Input: map[string]int{"N": 7}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if h.RunID == "" || h.ID != "a" {
		t.Fatalf("unexpected handle %+v", h)
	}
	res, err := e.Wait(context.Background(), h.RunID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != StatusCompleted || res.Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	info, ok := e.Describe("a")
	if !ok || info.Status != StatusCompleted || info.EndedAt.IsZero() {
		t.Fatalf("unexpected info %+v", info)
	}
	if n := e.CountLive(Filter{}); n != 0 {
		t.Fatalf("expected no live runs, got %d", n)
	}
}

func TestSpawnValidation(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Register("noop", func(tc *TaskContext) error { return nil })

	tests := []struct {
		name string
		opts StartOptions
		want error
	}{
		{"empty id", StartOptions{Type: "noop"}, ErrInvalidID},
		{"unknown type", StartOptions{ID: "x", Type: "missing"}, ErrUnknownTaskType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Spawn(context.Background(), tt.opts); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSpawnWaitsForCancelingRun(t *testing.T) {
	e := newTestEngine(t, nil)
	release := make(chan struct{})
	var started atomic.Int32
	e.Register("slow-stop", func(tc *TaskContext) error {
		if started.Add(1) > 1 {
			return nil
		}
		<-tc.Context().Done()
		<-release
		return context.Cause(tc.Context())
	})

	first, err := e.Spawn(context.Background(), StartOptions{ID: "w", Type: "slow-stop"})
	if err != nil {
		t.Fatalf("first Spawn: %v", err)
	}
	_ = e.Cancel("w")
	if n := e.CountLive(Filter{}); n != 0 {
		t.Fatalf("a canceling run should not count as live, got %d", n)
	}
	if got := e.ListLive(Filter{}); len(got) != 0 {
		t.Fatalf("a canceling run should not be listed, got %+v", got)
	}

	spawned := make(chan Handle, 1)
	go func() {
		h, err := e.Spawn(context.Background(), StartOptions{ID: "w", Type: "slow-stop"})
		if err != nil {
			t.Errorf("second Spawn: %v", err)
		}
		spawned <- h
	}()
	select {
	case <-spawned:
		t.Fatal("Spawn should wait for the canceling run to exit")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	second := <-spawned
	if second.RunID == "" || second.RunID == first.RunID {
		t.Fatalf("expected a fresh run, got %+v", second)
	}
	if res, _ := e.Wait(context.Background(), first.RunID); res.Status != StatusCanceled {
		t.Fatalf("first run should be canceled, got %s", res.Status)
	}
	if res, _ := e.Wait(context.Background(), second.RunID); res.Status != StatusCompleted {
		t.Fatalf("second run should complete, got %s", res.Status)
	}
}

func TestSpawnRejectsDuplicateLiveID(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Register("block", blockUntilStopped)

	first, err := e.Spawn(context.Background(), StartOptions{ID: "dup", Type: "block"})
	if err != nil {
		t.Fatalf("first Spawn: %v", err)
	}
	_, err = e.Spawn(context.Background(), StartOptions{ID: "dup", Type: "block"})
	if !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if n := e.CountLive(Filter{}); n != 1 {
		t.Fatalf("expected exactly one live run, got %d", n)
	}

	_ = e.Cancel("dup")
	res, _ := e.Wait(context.Background(), first.RunID)
	if res.Status != StatusCanceled {
		t.Fatalf("expected canceled, got %s", res.Status)
	}
	if _, err := e.Spawn(context.Background(), StartOptions{ID: "dup", Type: "block"}); err != nil {
		t.Fatalf("Spawn after the first run ended: %v", err)
	}
}

func TestSpawnTerminateIfRunningReplacesRun(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Register("block", blockUntilStopped)

	old, err := e.Spawn(context.Background(), StartOptions{ID: "c", Type: "block"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	fresh, err := e.Spawn(context.Background(), StartOptions{ID: "c", Type: "block", IDReusePolicy: TerminateIfRunning})
	if err != nil {
		t.Fatalf("replacing Spawn: %v", err)
	}
	if fresh.RunID == old.RunID {
		t.Fatal("expected a new run ID")
	}
	res, _ := e.Wait(context.Background(), old.RunID)
	if res.Status != StatusTerminated || !errors.Is(res.Err, ErrTerminated) {
		t.Fatalf("old run: unexpected result %+v", res)
	}
	live := e.ListLive(Filter{})
	if len(live) != 1 || live[0].RunID != fresh.RunID {
		t.Fatalf("expected only the fresh run live, got %+v", live)
	}
}

func TestParentClosePolicies(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Register("block", blockUntilStopped)
	release := make(chan struct{})
	e.Register("parent", func(tc *TaskContext) error {
		if _, err := tc.Spawn(StartOptions{ID: "bound", Type: "block", ParentClosePolicy: Terminate}); err != nil {
			return err
		}
		if _, err := tc.Spawn(StartOptions{ID: "free", Type: "block", ParentClosePolicy: Abandon}); err != nil {
			return err
		}
		<-release
		return nil
	})

	h, err := e.Spawn(context.Background(), StartOptions{ID: "p", Type: "parent"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitFor(t, "children to start", func() bool { return e.CountLive(Filter{Type: "block"}) == 2 })
	close(release)
	if _, err := e.Wait(context.Background(), h.RunID); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	waitFor(t, "bound child to stop", func() bool {
		info, _ := e.Describe("bound")
		return info.Status == StatusTerminated
	})
	info, _ := e.Describe("free")
	if info.Status != StatusRunning {
		t.Fatalf("abandoned child should keep running, got %s", info.Status)
	}
	if info.ParentRunID != h.RunID {
		t.Fatalf("expected parent run %s, got %s", h.RunID, info.ParentRunID)
	}
}

func TestExecuteChildReportsOutcome(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Register("ok", func(tc *TaskContext) error { return nil })
	e.Register("bad", func(tc *TaskContext) error { return errors.New("disk full") })

	var okErr, badErr error
	e.Register("parent", func(tc *TaskContext) error {
		_, okErr = tc.ExecuteChild(StartOptions{ID: "c1", Type: "ok"})
		_, badErr = tc.ExecuteChild(StartOptions{ID: "c2", Type: "bad"})
		return nil
	})
	h, _ := e.Spawn(context.Background(), StartOptions{ID: "p", Type: "parent"})
	if _, err := e.Wait(context.Background(), h.RunID); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if okErr != nil {
		t.Fatalf("expected nil for completed child, got %v", okErr)
	}
	if badErr == nil || badErr.Error() != "child c2 failed: disk full" {
		t.Fatalf("unexpected failed child error: %v", badErr)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Register("block", blockUntilStopped)

	if err := e.Cancel("absent"); err != nil {
		t.Fatalf("Cancel of absent task: %v", err)
	}
	h, _ := e.Spawn(context.Background(), StartOptions{ID: "w", Type: "block"})
	for i := 0; i < 3; i++ {
		if err := e.Cancel("w"); err != nil {
			t.Fatalf("Cancel #%d: %v", i, err)
		}
	}
	res, _ := e.Wait(context.Background(), h.RunID)
	if res.Status != StatusCanceled || !errors.Is(res.Err, ErrCanceled) {
		t.Fatalf("unexpected result %+v", res)
	}
	if err := e.Cancel("w"); err != nil {
		t.Fatalf("Cancel after exit: %v", err)
	}
}

func TestListLiveFilters(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Register("block", blockUntilStopped)
	e.Register("other", blockUntilStopped)

	for _, opts := range []StartOptions{
		{ID: "download-workflow-b", Type: "block"},
		{ID: "download-workflow-a", Type: "block"},
		{ID: "master-workflow", Type: "other"},
		{ID: "download-workflow-c", Type: "other"},
	} {
		if _, err := e.Spawn(context.Background(), opts); err != nil {
			t.Fatalf("Spawn %s: %v", opts.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"download-workflow-a", "download-workflow-b", "download-workflow-c", "master-workflow"}},
		{"by type", Filter{Type: "block"}, []string{"download-workflow-a", "download-workflow-b"}},
		{"by prefix", Filter{IDPrefix: "download-workflow-"}, []string{"download-workflow-a", "download-workflow-b", "download-workflow-c"}},
		{"type and prefix", Filter{Type: "other", IDPrefix: "download-"}, []string{"download-workflow-c"}},
		{"no match", Filter{IDPrefix: "zzz"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.ListLive(tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %+v", tt.want, got)
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Fatalf("index %d: expected %s, got %s", i, tt.want[i], got[i].ID)
				}
			}
			if n := e.CountLive(tt.filter); n != len(tt.want) {
				t.Fatalf("CountLive = %d, want %d", n, len(tt.want))
			}
		})
	}
}

func TestSignalToLiveRun(t *testing.T) {
	e := newTestEngine(t, nil)
	got := make(chan string, 4)
	e.Register("recv", func(tc *TaskContext) error {
		for {
			select {
			case <-tc.Mailbox().Ready():
				for _, s := range tc.Mailbox().Drain() {
					var p struct{ Key string }
					if err := s.Decode(&p); err != nil {
						return err
					}
					got <- s.Name + ":" + p.Key
				}
			case <-tc.Context().Done():
				return context.Cause(tc.Context())
			}
		}
	})
	if _, err := e.Spawn(context.Background(), StartOptions{ID: "r", Type: "recv"}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := e.Signal(context.Background(), "r", "done", map[string]string{"Key": "k1"}); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	select {
	case v := <-got:
		if v != "done:k1" {
			t.Fatalf("unexpected signal %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("signal not received")
	}
}

func TestSignalQueuedUntilTargetStarts(t *testing.T) {
	j := NewMemJournal()
	e := newTestEngine(t, &EngineOpts{Journal: j})
	var seen atomic.Int32
	e.Register("recv", func(tc *TaskContext) error {
		seen.Store(int32(len(tc.Mailbox().Drain())))
		return nil
	})

	for i := 0; i < 2; i++ {
		if err := e.Signal(context.Background(), "later", "ping", nil); err != nil {
			t.Fatalf("Signal: %v", err)
		}
	}
	if got := e.PendingSignals()["later"]; got != 2 {
		t.Fatalf("expected 2 pending signals, got %d", got)
	}
	if recs, _ := j.PendingSignals(context.Background()); len(recs) != 2 {
		t.Fatalf("expected 2 journaled signals, got %d", len(recs))
	}

	h, err := e.Spawn(context.Background(), StartOptions{ID: "later", Type: "recv"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	_, _ = e.Wait(context.Background(), h.RunID)
	if seen.Load() != 2 {
		t.Fatalf("expected the run to find 2 queued signals, got %d", seen.Load())
	}
	if len(e.PendingSignals()) != 0 {
		t.Fatalf("pending queue should be empty, got %v", e.PendingSignals())
	}
	if recs, _ := j.PendingSignals(context.Background()); len(recs) != 0 {
		t.Fatalf("journal should be empty, got %d", len(recs))
	}
}

func TestQueuedSignalExpires(t *testing.T) {
	clock := newTestClock()
	e := newTestEngine(t, &EngineOpts{Now: clock.Now, SignalTTL: time.Minute})
	var seen atomic.Int32
	e.Register("recv", func(tc *TaskContext) error {
		seen.Store(int32(len(tc.Mailbox().Drain())))
		return nil
	})

	_ = e.Signal(context.Background(), "late", "ping", nil)
	clock.Advance(2 * time.Minute)

	h, _ := e.Spawn(context.Background(), StartOptions{ID: "late", Type: "recv"})
	_, _ = e.Wait(context.Background(), h.RunID)
	if seen.Load() != 0 {
		t.Fatalf("expired signal should not be delivered, got %d", seen.Load())
	}
}

func TestTerminatedRunStopsReceivingSignals(t *testing.T) {
	e := newTestEngine(t, nil)
	stop := make(chan struct{})
	e.Register("slow-exit", func(tc *TaskContext) error {
		<-tc.Context().Done()
		<-stop
		return context.Cause(tc.Context())
	})
	h, _ := e.Spawn(context.Background(), StartOptions{ID: "t", Type: "slow-exit"})
	_ = e.Terminate("t", "test")

	_ = e.Signal(context.Background(), "t", "ping", nil)
	if got := e.PendingSignals()["t"]; got != 1 {
		t.Fatalf("signal to a terminating run should be queued, got %d pending", got)
	}
	if n := e.CountLive(Filter{}); n != 0 {
		t.Fatalf("terminating run should not be listed, got %d", n)
	}
	close(stop)
	res, _ := e.Wait(context.Background(), h.RunID)
	if res.Status != StatusTerminated {
		t.Fatalf("expected terminated, got %s", res.Status)
	}
}

func TestDelegateTimeout(t *testing.T) {
	e := newTestEngine(t, nil)

	tests := []struct {
		name    string
		timeout time.Duration
		fn      func(ctx context.Context) error
		want    error
	}{
		{"fast", time.Second, func(ctx context.Context) error { return nil }, nil},
		{"error passes through", time.Second, func(ctx context.Context) error { return ErrRunNotFound }, ErrRunNotFound},
		{"slow", 10 * time.Millisecond, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}, ErrDelegatedCallTimeout},
		{"ignores context", 10 * time.Millisecond, func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		}, ErrDelegatedCallTimeout},
		{"panic", time.Second, func(ctx context.Context) error { panic("boom") }, ErrTaskPanicked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Delegate(context.Background(), tt.timeout, tt.fn)
			if tt.want == nil && err != nil {
				t.Fatalf("expected nil, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPanickingTaskFails(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Register("boom", func(tc *TaskContext) error { panic("kaboom") })

	h, _ := e.Spawn(context.Background(), StartOptions{ID: "b", Type: "boom"})
	res, _ := e.Wait(context.Background(), h.RunID)
	if res.Status != StatusFailed || !errors.Is(res.Err, ErrTaskPanicked) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSubscribeReceivesLifecycle(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Register("noop", func(tc *TaskContext) error {
		return tc.Publish(map[string]string{"phase": "done"})
	})

	var mu sync.Mutex
	var types []EventType
	cancel := e.Subscribe(func(ev Event) {
		if ev.TaskID != "n" {
			return
		}
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})
	defer cancel()

	h, _ := e.Spawn(context.Background(), StartOptions{ID: "n", Type: "noop"})
	_, _ = e.Wait(context.Background(), h.RunID)
	waitFor(t, "finish event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	want := []EventType{EventTaskStarted, EventStatePublished, EventTaskFinished}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
	info, _ := e.Describe("n")
	if string(info.State) != `{"phase":"done"}` {
		t.Fatalf("unexpected published state %s", info.State)
	}
}

func TestCloseInterruptsAndRecoverResumes(t *testing.T) {
	j := NewMemJournal()
	first := NewEngine(&EngineOpts{Journal: j})
	first.Register("block", blockUntilStopped)
	h, err := first.Spawn(context.Background(), StartOptions{ID: "long", Type: "block", Input: map[string]int{"n": 1}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	_ = first.Signal(context.Background(), "absent", "ping", nil)
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := first.Spawn(context.Background(), StartOptions{ID: "x", Type: "block"}); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
	rec, ok := j.Run(h.RunID)
	if !ok || rec.Status != StatusRunning {
		t.Fatalf("interrupted run should stay running in the journal, got %+v", rec)
	}

	second := newTestEngine(t, &EngineOpts{Journal: j})
	resumed := make(chan string, 1)
	second.Register("block", func(tc *TaskContext) error {
		var in map[string]int
		_ = tc.Input(&in)
		if in["n"] == 1 {
			resumed <- tc.RunID()
		}
		return blockUntilStopped(tc)
	})
	n, err := second.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered run, got %d", n)
	}
	select {
	case runID := <-resumed:
		if runID != h.RunID {
			t.Fatalf("expected original run ID %s, got %s", h.RunID, runID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("recovered run did not start")
	}
	if got := second.PendingSignals()["absent"]; got != 1 {
		t.Fatalf("expected queued signal to survive, got %d", got)
	}
}

func TestRecoverSkipsOrphanedBoundChildren(t *testing.T) {
	j := NewMemJournal()
	ctx := context.Background()
	now := time.Now()
	_ = j.SaveRun(ctx, RunRecord{ID: "child", RunID: "c1", Type: "block", Status: StatusRunning, ParentRunID: "gone", ParentClose: Terminate, StartedAt: now})
	_ = j.SaveRun(ctx, RunRecord{ID: "loose", RunID: "l1", Type: "block", Status: StatusRunning, ParentRunID: "gone", ParentClose: Abandon, StartedAt: now})
	_ = j.SaveRun(ctx, RunRecord{ID: "mystery", RunID: "m1", Type: "unknown", Status: StatusRunning, StartedAt: now})

	e := newTestEngine(t, &EngineOpts{Journal: j})
	e.Register("block", blockUntilStopped)
	n, err := e.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the abandoned child to resume, got %d", n)
	}
	if rec, _ := j.Run("c1"); rec.Status != StatusTerminated {
		t.Fatalf("orphaned bound child should be terminated, got %s", rec.Status)
	}
	if rec, _ := j.Run("m1"); rec.Status != StatusFailed {
		t.Fatalf("unknown type should be failed, got %s", rec.Status)
	}
}

func TestSleepStopsOnCancel(t *testing.T) {
	e := newTestEngine(t, nil)
	e.Register("sleeper", func(tc *TaskContext) error { return tc.Sleep(time.Hour) })

	h, _ := e.Spawn(context.Background(), StartOptions{ID: "s", Type: "sleeper"})
	_ = e.Cancel("s")
	res, _ := e.Wait(context.Background(), h.RunID)
	if !errors.Is(res.Err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled from Sleep, got %v", res.Err)
	}
}

func TestWaitUnknownRun(t *testing.T) {
	e := newTestEngine(t, nil)
	if _, err := e.Wait(context.Background(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestHistoryLimitPrunesFinishedRuns(t *testing.T) {
	e := newTestEngine(t, &EngineOpts{HistoryLimit: 2})
	e.Register("noop", func(tc *TaskContext) error { return nil })

	var first string
	for i, id := range []string{"a", "b", "c"} {
		h, _ := e.Spawn(context.Background(), StartOptions{ID: id, Type: "noop"})
		_, _ = e.Wait(context.Background(), h.RunID)
		if i == 0 {
			first = h.RunID
		}
	}
	if _, ok := e.Describe("a"); ok {
		t.Fatal("oldest run should have been pruned")
	}
	if _, err := e.Wait(context.Background(), first); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected pruned run to be unknown, got %v", err)
	}
	if got := len(e.Runs()); got != 2 {
		t.Fatalf("expected 2 retained runs, got %d", got)
	}
}
