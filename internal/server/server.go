// Package server implements the daemon control plane: JSON-RPC 2.0 over
// HTTP POST at /jsonrpc and over a websocket at /jsonrpc/ws. Websocket
// connections also receive task.event push notifications.
package server

import (
	"net/http"
	"time"

	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/warpdl/warpmaster/common"
	"github.com/warpdl/warpmaster/pkg/logger"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

// DefaultCountTimeout bounds the delegated call behind task.count.
const DefaultCountTimeout = 10 * time.Second

// Config holds configuration for the control plane.
type Config struct {
	Secret       string // Bearer token; empty rejects every request
	Version      string
	Commit       string
	BuildType    string
	CountTimeout time.Duration
}

// Server manages the JSON-RPC bridge and method handlers.
type Server struct {
	cfg         Config
	engine      *warpflow.Engine
	log         logger.Logger
	methods     handler.Map
	bridge      jhttp.Bridge
	notifier    *RPCNotifier
	unsubscribe func()
}

// New builds the control plane for e and subscribes to its events.
func New(cfg *Config, e *warpflow.Engine, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNopLogger()
	}
	s := &Server{cfg: *cfg, engine: e, log: l}
	if s.cfg.CountTimeout <= 0 {
		s.cfg.CountTimeout = DefaultCountTimeout
	}
	s.methods = handler.Map{
		common.MethodVersion:      handler.New(s.systemGetVersion),
		common.MethodMasterStart:  handler.New(s.masterStart),
		common.MethodMasterStatus: handler.New(s.masterStatus),
		common.MethodMasterNotify: handler.New(s.masterNotify),
		common.MethodTaskList:     handler.New(s.taskList),
		common.MethodTaskCount:    handler.New(s.taskCount),
		common.MethodTaskCancel:   handler.New(s.taskCancel),
	}
	s.bridge = jhttp.NewBridge(s.methods, nil)
	s.notifier = NewRPCNotifier(l, common.EventMethod)
	s.unsubscribe = e.Subscribe(s.notifier.Publish)
	return s
}

// Handler returns the authenticated HTTP handler serving both endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/jsonrpc", requireToken(s.cfg.Secret, s.bridge))
	mux.Handle("/jsonrpc/ws", requireToken(s.cfg.Secret, http.HandlerFunc(s.handleWS)))
	return mux
}

// Notifier returns the push broadcaster.
func (s *Server) Notifier() *RPCNotifier { return s.notifier }

// Close unsubscribes from the engine and releases the bridge.
func (s *Server) Close() {
	s.unsubscribe()
	s.notifier.Close()
	s.bridge.Close()
}
