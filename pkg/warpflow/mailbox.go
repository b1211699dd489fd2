package warpflow

import "sync"

// Mailbox is the unbounded signal queue of a single run. Senders never
// block; the owning task waits on Ready and consumes with Drain.
type Mailbox struct {
	mu    sync.Mutex
	queue []Signal
	ready chan struct{}
}

// NewMailbox returns an empty mailbox. The engine creates one per run.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Push appends sigs and wakes the reader.
func (m *Mailbox) Push(sigs ...Signal) {
	if len(sigs) == 0 {
		return
	}
	m.mu.Lock()
	m.queue = append(m.queue, sigs...)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after at least one push since the last receive. A
// receive may find the queue already drained.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// Drain removes and returns all queued signals in arrival order.
func (m *Mailbox) Drain() []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

// Len returns the number of queued signals.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
