// Package download implements the worker task that processes one item and
// reports completion to the coordinator.
package download

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

// ErrInvalidItem is returned when the worker input carries no key.
var ErrInvalidItem = errors.New("download: item has no sha256")

// Downloader performs the work for one item.
type Downloader interface {
	Download(ctx context.Context, item common.Item) error
}

// ProgressFunc receives the elapsed share of an item's simulated work.
type ProgressFunc func(item common.Item, elapsed time.Duration)

// SimulatedDownloader stands in for a real transfer by waiting for the item
// duration. When Progress is set it is called every Tick.
type SimulatedDownloader struct {
	Tick     time.Duration
	Progress ProgressFunc
}

func (d *SimulatedDownloader) Download(ctx context.Context, item common.Item) error {
	if item.Duration <= 0 {
		d.report(item, 0)
		return context.Cause(ctx)
	}
	deadline := time.NewTimer(item.Duration)
	defer deadline.Stop()

	var tick <-chan time.Time
	if d.Progress != nil && d.Tick > 0 {
		t := time.NewTicker(d.Tick)
		defer t.Stop()
		tick = t.C
	}
	start := time.Now()
	for {
		select {
		case <-deadline.C:
			d.report(item, item.Duration)
			return nil
		case <-tick:
			d.report(item, time.Since(start))
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

func (d *SimulatedDownloader) report(item common.Item, elapsed time.Duration) {
	if d.Progress != nil {
		d.Progress(item, elapsed)
	}
}

// Task runs a Downloader for the item in its input and signals
// common.SignalFileCompleted to the coordinator. A canceled worker returns
// before signalling.
type Task struct {
	downloader Downloader
}

// NewTask returns a worker body. A nil downloader selects a
// SimulatedDownloader.
func NewTask(d Downloader) *Task {
	if d == nil {
		d = &SimulatedDownloader{}
	}
	return &Task{downloader: d}
}

// Run is the warpflow.TaskFunc for common.DownloadTaskType.
func (t *Task) Run(tc *warpflow.TaskContext) error {
	var item common.Item
	if err := tc.Input(&item); err != nil {
		return err
	}
	if item.SHA256 == "" {
		return ErrInvalidItem
	}
	l := tc.Logger()
	l.Info("Start download for file: %s", item.Short())

	if err := t.downloader.Download(tc.Context(), item); err != nil {
		if tc.Context().Err() != nil {
			l.Info("Download of %s stopped: %v", item.Short(), err)
			return err
		}
		return fmt.Errorf("download %s: %w", item.Short(), err)
	}

	err := tc.SignalExternal(common.MasterTaskID, common.SignalFileCompleted, common.FileCompleted{SHA256: item.SHA256})
	if err != nil {
		return fmt.Errorf("notify completion of %s: %w", item.Short(), err)
	}
	l.Info("File %s completed download.", item.Short())
	return nil
}
