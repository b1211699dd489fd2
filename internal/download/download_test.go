package download

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

func newEngine(t *testing.T, d Downloader) *warpflow.Engine {
	t.Helper()
	e := warpflow.NewEngine(nil)
	t.Cleanup(func() { _ = e.Close() })
	e.Register(common.DownloadTaskType, NewTask(d).Run)
	return e
}

func spawnItem(t *testing.T, e *warpflow.Engine, item common.Item) warpflow.Handle {
	t.Helper()
	h, err := e.Spawn(context.Background(), warpflow.StartOptions{
		ID:    common.DownloadTaskID(item.SHA256),
		Type:  common.DownloadTaskType,
		Input: item,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	return h
}

func TestTask_SignalsCoordinatorOnCompletion(t *testing.T) {
	e := newEngine(t, &SimulatedDownloader{})
	key := strings.Repeat("0", 64)
	h := spawnItem(t, e, common.Item{SHA256: key, Duration: 5 * time.Millisecond})

	res, err := e.Wait(context.Background(), h.RunID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != warpflow.StatusCompleted {
		t.Fatalf("expected completed, got %+v", res)
	}
	if got := e.PendingSignals()[common.MasterTaskID]; got != 1 {
		t.Fatalf("expected a queued notification for the coordinator, got %d", got)
	}
}

func TestTask_CanceledWorkerDoesNotSignal(t *testing.T) {
	e := newEngine(t, &SimulatedDownloader{})
	h := spawnItem(t, e, common.Item{SHA256: "abc", Duration: time.Hour})

	if err := e.Cancel(h.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	res, _ := e.Wait(context.Background(), h.RunID)
	if res.Status != warpflow.StatusCanceled {
		t.Fatalf("expected canceled, got %s", res.Status)
	}
	if got := e.PendingSignals()[common.MasterTaskID]; got != 0 {
		t.Fatalf("canceled worker must not notify, got %d queued", got)
	}
}

type failingDownloader struct{ err error }

func (f failingDownloader) Download(context.Context, common.Item) error { return f.err }

func TestTask_Failures(t *testing.T) {
	boom := errors.New("connection reset")
	tests := []struct {
		name string
		d    Downloader
		item common.Item
		want error
	}{
		{"empty key", &SimulatedDownloader{}, common.Item{Duration: time.Millisecond}, ErrInvalidItem},
		{"downloader error", failingDownloader{err: boom}, common.Item{SHA256: "k1"}, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := warpflow.NewEngine(nil)
			defer e.Close()
			e.Register(common.DownloadTaskType, NewTask(tt.d).Run)
			h, err := e.Spawn(context.Background(), warpflow.StartOptions{ID: "w", Type: common.DownloadTaskType, Input: tt.item})
			if err != nil {
				t.Fatalf("Spawn: %v", err)
			}
			res, _ := e.Wait(context.Background(), h.RunID)
			if res.Status != warpflow.StatusFailed || !errors.Is(res.Err, tt.want) {
				t.Fatalf("expected failure wrapping %v, got %+v", tt.want, res)
			}
		})
	}
}

func TestSimulatedDownloader_ReportsProgress(t *testing.T) {
	var mu sync.Mutex
	var last time.Duration
	calls := 0
	d := &SimulatedDownloader{
		Tick: 2 * time.Millisecond,
		Progress: func(item common.Item, elapsed time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			last = elapsed
		},
	}
	item := common.Item{SHA256: "p", Duration: 20 * time.Millisecond}
	if err := d.Download(context.Background(), item); err != nil {
		t.Fatalf("Download: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected several progress reports, got %d", calls)
	}
	if last != item.Duration {
		t.Fatalf("final report should be the full duration, got %s", last)
	}
}

func TestSimulatedDownloader_ReturnsCause(t *testing.T) {
	cause := errors.New("replaced")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)
	err := (&SimulatedDownloader{}).Download(ctx, common.Item{SHA256: "x", Duration: time.Hour})
	if !errors.Is(err, cause) {
		t.Fatalf("expected cancellation cause, got %v", err)
	}
}
