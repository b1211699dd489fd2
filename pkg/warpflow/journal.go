package warpflow

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// RunRecord is the durable form of a run.
type RunRecord struct {
	ID          string
	RunID       string
	Type        string
	Input       json.RawMessage
	Status      Status
	ParentRunID string
	ParentClose ParentClosePolicy
	StartedAt   time.Time
	EndedAt     time.Time
	Error       string
	State       json.RawMessage
}

// SignalRecord is the durable form of a signal queued for an absent target.
type SignalRecord struct {
	Seq       int64
	Target    string
	Name      string
	Payload   json.RawMessage
	SentAt    time.Time
	ExpiresAt time.Time
}

// Journal persists runs and queued signals. Engine treats journal errors as
// non-fatal and logs them.
type Journal interface {
	// SaveRun inserts or replaces the record keyed by RunID.
	SaveRun(ctx context.Context, rec RunRecord) error
	// LiveRuns returns all records whose status is running, oldest first.
	LiveRuns(ctx context.Context) ([]RunRecord, error)
	// SaveSignal stores rec and returns its assigned sequence number.
	SaveSignal(ctx context.Context, rec SignalRecord) (int64, error)
	// DeleteSignal removes a queued signal. Unknown sequence numbers are ignored.
	DeleteSignal(ctx context.Context, seq int64) error
	// PendingSignals returns queued signals in sequence order.
	PendingSignals(ctx context.Context) ([]SignalRecord, error)
	Close() error
}

// MemJournal is a Journal kept in memory. It is the default for engines
// built without a journal and is handy in tests.
type MemJournal struct {
	mu      sync.Mutex
	runs    map[string]RunRecord
	signals map[int64]SignalRecord
	seq     int64
}

// NewMemJournal returns an empty in-memory journal.
func NewMemJournal() *MemJournal {
	return &MemJournal{
		runs:    make(map[string]RunRecord),
		signals: make(map[int64]SignalRecord),
	}
}

func (j *MemJournal) SaveRun(_ context.Context, rec RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs[rec.RunID] = rec
	return nil
}

func (j *MemJournal) LiveRuns(_ context.Context) ([]RunRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []RunRecord
	for _, rec := range j.runs {
		if rec.Status == StatusRunning {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].StartedAt.Before(out[b].StartedAt)
	})
	return out, nil
}

// Run returns the stored record for runID.
func (j *MemJournal) Run(runID string) (RunRecord, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.runs[runID]
	return rec, ok
}

func (j *MemJournal) SaveSignal(_ context.Context, rec SignalRecord) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	rec.Seq = j.seq
	j.signals[rec.Seq] = rec
	return rec.Seq, nil
}

func (j *MemJournal) DeleteSignal(_ context.Context, seq int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.signals, seq)
	return nil
}

func (j *MemJournal) PendingSignals(_ context.Context) ([]SignalRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]SignalRecord, 0, len(j.signals))
	for _, rec := range j.signals {
		out = append(out, rec)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out, nil
}

func (j *MemJournal) Close() error { return nil }
