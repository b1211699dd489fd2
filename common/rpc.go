package common

import (
	"encoding/json"

	"github.com/warpdl/warpmaster/pkg/warpflow"
)

// Control plane method names.
const (
	MethodVersion      = "system.getVersion"
	MethodMasterStart  = "master.start"
	MethodMasterStatus = "master.status"
	MethodMasterNotify = "master.notify"
	MethodTaskList     = "task.list"
	MethodTaskCount    = "task.count"
	MethodTaskCancel   = "task.cancel"
)

// VersionResult is the response for system.getVersion.
type VersionResult struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildType string `json:"buildType,omitempty"`
}

// FileParam declares one item on the wire. Duration is a Go duration string.
type FileParam struct {
	SHA256   string `json:"sha256"`
	Duration string `json:"duration,omitempty"`
}

// StartParams is the input for master.start.
type StartParams struct {
	StartupDelay string      `json:"startupDelay,omitempty"`
	Files        []FileParam `json:"files"`
}

// StartResult is the response for master.start.
type StartResult struct {
	ID    string `json:"id"`
	RunID string `json:"runId"`
}

// MasterStatusResult is the response for master.status. Found is false when
// the coordinator never ran.
type MasterStatusResult struct {
	Found  bool               `json:"found"`
	Run    *warpflow.TaskInfo `json:"run,omitempty"`
	Status json.RawMessage    `json:"status,omitempty"`
}

// NotifyParams is the input for master.notify.
type NotifyParams struct {
	SHA256 string `json:"sha256"`
}

// ListResult is the response for task.list. The params of task.list and
// task.count are a warpflow.Filter.
type ListResult struct {
	Tasks []warpflow.TaskInfo `json:"tasks"`
}

// CountResult is the response for task.count.
type CountResult struct {
	Count int `json:"count"`
}

// CancelParams is the input for task.cancel.
type CancelParams struct {
	ID string `json:"id"`
}

// CancelResult is the response for task.cancel. Canceled is false when no
// live task had the ID.
type CancelResult struct {
	Canceled bool `json:"canceled"`
}

// EmptyResult is a placeholder for methods that return no data.
type EmptyResult struct{}
