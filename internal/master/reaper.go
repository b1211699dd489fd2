package master

import (
	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/pkg/logger"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

// TaskController lists and cancels live tasks. *warpflow.Engine and
// *warpflow.TaskContext implement it.
type TaskController interface {
	ListLive(f warpflow.Filter) []warpflow.TaskInfo
	Cancel(id string) error
}

// ReapResult lists the worker IDs the reaper canceled and the ones it left
// running because their key is still wanted.
type ReapResult struct {
	Canceled []string `json:"canceled"`
	Kept     []string `json:"kept"`
}

// Reaper cancels download workers whose key is no longer desired.
type Reaper struct {
	tasks TaskController
	log   logger.Logger
}

// NewReaper returns a reaper acting through tasks.
func NewReaper(tasks TaskController, l logger.Logger) *Reaper {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Reaper{tasks: tasks, log: l}
}

// Reap lists live download workers and cancels those not in desired. IDs
// that do not follow the worker naming rule are left alone. Cancel errors
// are logged and do not stop the sweep.
func (r *Reaper) Reap(desired *DesiredSet) ReapResult {
	var res ReapResult
	live := r.tasks.ListLive(warpflow.Filter{Type: common.DownloadTaskType})
	for _, info := range live {
		key, ok := common.DownloadKey(info.ID)
		if !ok {
			continue
		}
		if desired.Contains(key) {
			res.Kept = append(res.Kept, info.ID)
			continue
		}
		if err := r.tasks.Cancel(info.ID); err != nil {
			r.log.Warning("cancel stale worker %s: %v", info.ID, err)
			continue
		}
		r.log.Info("Canceled stale download for file: %s", common.ShortKey(key))
		res.Canceled = append(res.Canceled, info.ID)
	}
	return res
}
