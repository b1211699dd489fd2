package master

import (
	"context"
	"encoding/json"

	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/internal/cleanup"
	"github.com/warpdl/warpmaster/internal/download"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

// Spawner starts tasks. *warpflow.Engine implements it.
type Spawner interface {
	Spawn(ctx context.Context, opts warpflow.StartOptions) (warpflow.Handle, error)
}

// Start validates in and (re)starts the coordinator. A live coordinator run
// is terminated first; the workers it spawned keep running.
func Start(ctx context.Context, s Spawner, in Input) (warpflow.Handle, error) {
	if _, err := NewDesiredSet(in.Files); err != nil {
		return warpflow.Handle{}, err
	}
	return s.Spawn(ctx, warpflow.StartOptions{
		ID:            common.MasterTaskID,
		Type:          common.MasterTaskType,
		Input:         in,
		IDReusePolicy: warpflow.TerminateIfRunning,
	})
}

// Notify sends a completion notification for key to the coordinator. It
// is queued when no coordinator run is live.
func Notify(ctx context.Context, e *warpflow.Engine, key string) error {
	if key == "" {
		return ErrInvalidItem
	}
	return e.Signal(ctx, common.MasterTaskID, common.SignalFileCompleted, common.FileCompleted{SHA256: key})
}

// DecodeStatus extracts the published Status from a coordinator run.
func DecodeStatus(info warpflow.TaskInfo) (Status, bool) {
	var st Status
	if len(info.State) == 0 {
		return st, false
	}
	if err := json.Unmarshal(info.State, &st); err != nil {
		return st, false
	}
	return st, true
}

// Workflows bundles the task bodies of the three task types.
type Workflows struct {
	Master   *Coordinator
	Download *download.Task
	Cleanup  *cleanup.Phase
}

// DefaultWorkflows returns simulated workers and the default cleanup steps.
func DefaultWorkflows(cfg Config) Workflows {
	return Workflows{
		Master:   New(cfg),
		Download: download.NewTask(nil),
		Cleanup:  cleanup.Default(cleanup.DefaultRecordDelay, cleanup.DefaultFinalizeDelay),
	}
}

// Register binds the task types to e.
func (w Workflows) Register(e *warpflow.Engine) {
	e.Register(common.MasterTaskType, w.Master.Task)
	e.Register(common.DownloadTaskType, w.Download.Run)
	e.Register(common.CleanupTaskType, w.Cleanup.Task)
}
