package master

import "sort"

// RemoveResult is the outcome of removing a key from the pending set.
type RemoveResult int

const (
	// Removed means the key was pending and is now confirmed complete.
	Removed RemoveResult = iota
	// NotPresent means the key was not pending: already completed, from a
	// previous declaration, or never declared.
	NotPresent
)

func (r RemoveResult) String() string {
	if r == Removed {
		return "removed"
	}
	return "not_present"
}

// pendingSet holds keys still waiting for a completion notification.
// It is owned by the coordinator loop and not safe for concurrent use.
type pendingSet map[string]struct{}

func newPendingSet(keys []string) pendingSet {
	p := make(pendingSet, len(keys))
	for _, k := range keys {
		p[k] = struct{}{}
	}
	return p
}

func (p pendingSet) remove(key string) RemoveResult {
	if _, ok := p[key]; !ok {
		return NotPresent
	}
	delete(p, key)
	return Removed
}

func (p pendingSet) has(key string) bool {
	_, ok := p[key]
	return ok
}

func (p pendingSet) empty() bool { return len(p) == 0 }

func (p pendingSet) keys() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// earlyInbox buffers completion keys received before the pending set
// exists, in arrival order.
type earlyInbox struct {
	keys []string
}

func (b *earlyInbox) add(key string) { b.keys = append(b.keys, key) }

func (b *earlyInbox) len() int { return len(b.keys) }

func (b *earlyInbox) drain() []string {
	k := b.keys
	b.keys = nil
	return k
}
