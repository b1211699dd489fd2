package server

import (
	"context"
	"sync"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/warpdl/warpmaster/pkg/logger"
	"github.com/warpdl/warpmaster/pkg/warpflow"
)

const (
	notifyQueueSize = 256
	pushTimeout     = 5 * time.Second
)

// RPCNotifier broadcasts engine events to every connected websocket
// server. Events are queued so that engine subscribers never block on a
// slow peer; when the queue is full the event is dropped.
type RPCNotifier struct {
	mu      sync.RWMutex
	servers map[*jrpc2.Server]struct{}
	log     logger.Logger
	method  string

	queue chan warpflow.Event
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewRPCNotifier starts a notifier pushing events under method.
func NewRPCNotifier(l logger.Logger, method string) *RPCNotifier {
	if l == nil {
		l = logger.NewNopLogger()
	}
	n := &RPCNotifier{
		servers: make(map[*jrpc2.Server]struct{}),
		log:     l,
		method:  method,
		queue:   make(chan warpflow.Event, notifyQueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go n.loop()
	return n
}

// Register adds a server to the broadcast set.
func (n *RPCNotifier) Register(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[srv] = struct{}{}
}

// Unregister removes a server from the broadcast set.
func (n *RPCNotifier) Unregister(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, srv)
}

// Count returns the number of registered servers.
func (n *RPCNotifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}

// Publish queues ev for broadcast. It never blocks.
func (n *RPCNotifier) Publish(ev warpflow.Event) {
	select {
	case <-n.stop:
		return
	default:
	}
	select {
	case n.queue <- ev:
	default:
		n.log.Warning("dropping %s event for %s: push queue full", ev.Type, ev.TaskID)
	}
}

// Broadcast sends a push notification to all registered servers. Servers
// that fail to receive it are unregistered.
func (n *RPCNotifier) Broadcast(params any) {
	n.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(n.servers))
	for srv := range n.servers {
		servers = append(servers, srv)
	}
	n.mu.RUnlock()

	var failed []*jrpc2.Server
	for _, srv := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		err := srv.Notify(ctx, n.method, params)
		cancel()
		if err != nil {
			n.log.Warning("RPC push failed: %v", err)
			failed = append(failed, srv)
		}
	}

	if len(failed) > 0 {
		n.mu.Lock()
		for _, srv := range failed {
			delete(n.servers, srv)
		}
		n.mu.Unlock()
	}
}

func (n *RPCNotifier) loop() {
	defer close(n.done)
	for {
		select {
		case ev := <-n.queue:
			n.Broadcast(ev)
		case <-n.stop:
			return
		}
	}
}

// Close stops the broadcast loop. Queued events are discarded.
func (n *RPCNotifier) Close() {
	n.once.Do(func() { close(n.stop) })
	<-n.done
}
