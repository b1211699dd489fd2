package warpcli

import (
	"context"

	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

func (c *Client) GetDaemonVersion(ctx context.Context) (*common.VersionResult, error) {
	return call[common.VersionResult](ctx, c, common.MethodVersion, nil)
}

// StartMaster (re)starts the coordinator with the given declaration.
func (c *Client) StartMaster(ctx context.Context, p common.StartParams) (*common.StartResult, error) {
	return call[common.StartResult](ctx, c, common.MethodMasterStart, p)
}

func (c *Client) MasterStatus(ctx context.Context) (*common.MasterStatusResult, error) {
	return call[common.MasterStatusResult](ctx, c, common.MethodMasterStatus, nil)
}

// Notify reports that the item with key sha256 finished.
func (c *Client) Notify(ctx context.Context, sha256 string) error {
	_, err := call[common.EmptyResult](ctx, c, common.MethodMasterNotify, common.NotifyParams{SHA256: sha256})
	return err
}

func (c *Client) ListTasks(ctx context.Context, f warpflow.Filter) ([]warpflow.TaskInfo, error) {
	res, err := call[common.ListResult](ctx, c, common.MethodTaskList, f)
	if err != nil {
		return nil, err
	}
	return res.Tasks, nil
}

func (c *Client) CountTasks(ctx context.Context, f warpflow.Filter) (int, error) {
	res, err := call[common.CountResult](ctx, c, common.MethodTaskCount, f)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// CancelTask requests cancellation and reports whether a live task had id.
func (c *Client) CancelTask(ctx context.Context, id string) (bool, error) {
	res, err := call[common.CancelResult](ctx, c, common.MethodTaskCancel, common.CancelParams{ID: id})
	if err != nil {
		return false, err
	}
	return res.Canceled, nil
}
