// Package daemon runs the control plane HTTP listener and manages its
// start, stop and graceful shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// Sentinel errors for the daemon runner.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running daemon.
	ErrAlreadyRunning = errors.New("daemon is already running")

	// ErrNotRunning is returned when Shutdown() is called on a stopped daemon.
	ErrNotRunning = errors.New("daemon is not running")

	// ErrShutdownTimeout is returned when shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// DefaultAddr is the listen address used when Config.Addr is empty.
const DefaultAddr = "127.0.0.1:7391"

const readHeaderTimeout = 10 * time.Second

// Config holds the configuration for the daemon runner.
type Config struct {
	// Addr is the TCP listen address. Port 0 picks an ephemeral port.
	Addr string

	// ShutdownTimeout bounds the graceful HTTP shutdown and the shutdown
	// function. A zero value means no timeout.
	ShutdownTimeout time.Duration
}

// Dependencies holds the external dependencies for the daemon runner.
type Dependencies struct {
	// ListenerFactory creates network listeners.
	// If nil, net.Listen is used.
	ListenerFactory func(network, address string) (net.Listener, error)

	// Handler serves requests on the listener. If nil, every request gets
	// a 404.
	Handler http.Handler

	// ShutdownFunc is called by Shutdown before the listener is closed.
	ShutdownFunc func() error
}

// Runner manages the daemon lifecycle.
type Runner struct {
	config *Config
	deps   *Dependencies

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	listener net.Listener
	server   *http.Server
	ready    chan struct{}
}

// New creates a runner. Nil arguments select the defaults.
func New(config *Config, deps *Dependencies) *Runner {
	return &Runner{
		config: applyConfigDefaults(config),
		deps:   applyDependencyDefaults(deps),
		ready:  make(chan struct{}),
	}
}

func applyConfigDefaults(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	return config
}

func applyDependencyDefaults(deps *Dependencies) *Dependencies {
	if deps == nil {
		deps = &Dependencies{}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
	if deps.Handler == nil {
		deps.Handler = http.NotFoundHandler()
	}
	return deps
}

// Config returns the runner's configuration.
func (r *Runner) Config() *Config {
	return r.config
}

// Ready is closed once the listener accepts connections.
func (r *Runner) Ready() <-chan struct{} {
	return r.ready
}

// Addr returns the bound listen address, or "" before Start succeeds.
func (r *Runner) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Start listens, serves and blocks until ctx is canceled or Shutdown is
// called, then stops the HTTP server gracefully. A runner can be started
// once.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running || r.server != nil {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, r.cancel = context.WithCancel(ctx)

	listener, err := r.deps.ListenerFactory("tcp", r.config.Addr)
	if err != nil {
		r.cancel()
		r.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", r.config.Addr, err)
	}
	r.listener = listener
	r.server = &http.Server{Handler: r.deps.Handler, ReadHeaderTimeout: readHeaderTimeout}
	srv := r.server
	r.running = true
	close(r.ready)
	r.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(listener) }()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("serve: %w", err)
		}
	}
	stopErr := r.stopServer(srv)
	r.cleanupOnStop()
	if serveErr != nil {
		return serveErr
	}
	return stopErr
}

// stopServer drains in-flight requests, closing connections forcibly when
// the shutdown timeout passes.
func (r *Runner) stopServer(srv *http.Server) error {
	ctx := context.Background()
	if r.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.ShutdownTimeout)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrShutdownTimeout
		}
		return err
	}
	return nil
}

func (r *Runner) cleanupOnStop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.running = false
	r.closeListener()
}

// closeListener closes the listener if it exists. Caller must hold the
// mutex.
func (r *Runner) closeListener() {
	if r.listener != nil {
		_ = r.listener.Close()
		r.listener = nil
	}
}

// Shutdown runs the shutdown function and stops the daemon.
// Returns ErrNotRunning if the daemon is not running and ErrShutdownTimeout
// if the shutdown function exceeds the configured timeout.
func (r *Runner) Shutdown() error {
	if err := r.validateRunning(); err != nil {
		return err
	}
	err := r.executeShutdownFunc()
	r.performShutdown()
	return err
}

func (r *Runner) validateRunning() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return ErrNotRunning
	}
	return nil
}

func (r *Runner) executeShutdownFunc() error {
	if r.deps.ShutdownFunc == nil {
		return nil
	}
	if r.config.ShutdownTimeout > 0 {
		return r.executeWithTimeout(r.deps.ShutdownFunc, r.config.ShutdownTimeout)
	}
	return r.deps.ShutdownFunc()
}

// executeWithTimeout runs fn, giving up with ErrShutdownTimeout after
// timeout.
func (r *Runner) executeWithTimeout(fn func() error, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (r *Runner) performShutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.running = false
	if r.cancel != nil {
		r.cancel()
	}
}

// IsRunning returns true if the daemon is currently running.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
