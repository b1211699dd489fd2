package server

import (
	"context"
	"errors"
	"strings"

	"github.com/creachadair/jrpc2"
	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/internal/manifest"
	"github.com/warpdl/warpmaster/internal/master"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

// Custom JSON-RPC error codes.
const (
	codeUnauthorized  = jrpc2.Code(-32600)
	codeInvalidParams = jrpc2.Code(-32602)
	codeTaskNotFound  = jrpc2.Code(-32001)
	codeUnavailable   = jrpc2.Code(-32002)
	codeTimeout       = jrpc2.Code(-32003)
)

func (s *Server) systemGetVersion(_ context.Context) (*common.VersionResult, error) {
	return &common.VersionResult{
		Version:   s.cfg.Version,
		Commit:    s.cfg.Commit,
		BuildType: s.cfg.BuildType,
	}, nil
}

// masterStart validates the declaration and restarts the coordinator with it.
func (s *Server) masterStart(ctx context.Context, p *common.StartParams) (*common.StartResult, error) {
	in, err := manifest.FromParams(*p)
	if err != nil {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	}
	hd, err := master.Start(ctx, s.engine, in)
	if err != nil {
		return nil, rpcError(err)
	}
	s.log.Info("coordinator started by RPC: run=%s items=%d", hd.RunID, len(in.Files))
	return &common.StartResult{ID: hd.ID, RunID: hd.RunID}, nil
}

func (s *Server) masterStatus(_ context.Context) (*common.MasterStatusResult, error) {
	info, ok := s.engine.Describe(common.MasterTaskID)
	if !ok {
		return &common.MasterStatusResult{}, nil
	}
	st := info.State
	info.State = nil
	return &common.MasterStatusResult{Found: true, Run: &info, Status: st}, nil
}

// masterNotify sends a completion notification on behalf of an external
// source. It is queued when no coordinator is live.
func (s *Server) masterNotify(ctx context.Context, p *common.NotifyParams) (*common.EmptyResult, error) {
	if strings.TrimSpace(p.SHA256) == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: sha256"}
	}
	if err := master.Notify(ctx, s.engine, p.SHA256); err != nil {
		return nil, rpcError(err)
	}
	return &common.EmptyResult{}, nil
}

func (s *Server) taskList(_ context.Context, f *warpflow.Filter) (*common.ListResult, error) {
	return &common.ListResult{Tasks: s.engine.ListLive(*f)}, nil
}

// taskCount runs the count as a delegated call bounded by the configured
// timeout.
func (s *Server) taskCount(ctx context.Context, f *warpflow.Filter) (*common.CountResult, error) {
	var n int
	err := s.engine.Delegate(ctx, s.cfg.CountTimeout, func(context.Context) error {
		n = s.engine.CountLive(*f)
		return nil
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return &common.CountResult{Count: n}, nil
}

// taskCancel requests cancellation of a live task. Unknown IDs are not an
// error.
func (s *Server) taskCancel(_ context.Context, p *common.CancelParams) (*common.CancelResult, error) {
	if p.ID == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: id"}
	}
	info, ok := s.engine.Describe(p.ID)
	live := ok && info.Status.Live()
	if err := s.engine.Cancel(p.ID); err != nil {
		return nil, rpcError(err)
	}
	return &common.CancelResult{Canceled: live}, nil
}

func rpcError(err error) error {
	switch {
	case errors.Is(err, master.ErrInvalidItem),
		errors.Is(err, master.ErrDuplicateItem),
		errors.Is(err, warpflow.ErrInvalidID):
		return &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, warpflow.ErrRunNotFound):
		return &jrpc2.Error{Code: codeTaskNotFound, Message: err.Error()}
	case errors.Is(err, warpflow.ErrEngineClosed):
		return &jrpc2.Error{Code: codeUnavailable, Message: err.Error()}
	case errors.Is(err, warpflow.ErrDelegatedCallTimeout):
		return &jrpc2.Error{Code: codeTimeout, Message: err.Error()}
	}
	return err
}
