package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/warpdl/warpmaster/pkg/warpflow"
)

// Journal is a warpflow.Journal backed by SQLite.
type Journal struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

var _ warpflow.Journal = (*Journal)(nil)

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := OpenDatabase(path)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// NewJournal wraps an already migrated database.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) check() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return nil
}

func (j *Journal) SaveRun(ctx context.Context, rec warpflow.RunRecord) error {
	if err := j.check(); err != nil {
		return err
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, task_id, task_type, input, status, parent_run_id, parent_close, started_at, ended_at, error, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			ended_at = excluded.ended_at,
			error = excluded.error,
			state = excluded.state`,
		rec.RunID, rec.ID, rec.Type, []byte(rec.Input), string(rec.Status),
		rec.ParentRunID, string(rec.ParentClose),
		toUnix(rec.StartedAt), toUnix(rec.EndedAt), rec.Error, []byte(rec.State),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunID, err)
	}
	return nil
}

func (j *Journal) LiveRuns(ctx context.Context) ([]warpflow.RunRecord, error) {
	if err := j.check(); err != nil {
		return nil, err
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, task_id, task_type, input, status, parent_run_id, parent_close, started_at, ended_at, error, state
		FROM runs WHERE status = ? ORDER BY started_at, rowid`, string(warpflow.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("query live runs: %w", err)
	}
	defer rows.Close()

	var out []warpflow.RunRecord
	for rows.Next() {
		var (
			rec                 warpflow.RunRecord
			input, state        []byte
			status, parentClose string
			started, ended      int64
		)
		if err := rows.Scan(&rec.RunID, &rec.ID, &rec.Type, &input, &status, &rec.ParentRunID,
			&parentClose, &started, &ended, &rec.Error, &state); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Input = input
		rec.State = state
		rec.Status = warpflow.Status(status)
		rec.ParentClose = warpflow.ParentClosePolicy(parentClose)
		rec.StartedAt = fromUnix(started)
		rec.EndedAt = fromUnix(ended)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (j *Journal) SaveSignal(ctx context.Context, rec warpflow.SignalRecord) (int64, error) {
	if err := j.check(); err != nil {
		return 0, err
	}
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO pending_signals (target, name, payload, sent_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Target, rec.Name, []byte(rec.Payload), toUnix(rec.SentAt), toUnix(rec.ExpiresAt))
	if err != nil {
		return 0, fmt.Errorf("save signal %s for %s: %w", rec.Name, rec.Target, err)
	}
	return res.LastInsertId()
}

func (j *Journal) DeleteSignal(ctx context.Context, seq int64) error {
	if err := j.check(); err != nil {
		return err
	}
	if _, err := j.db.ExecContext(ctx, "DELETE FROM pending_signals WHERE seq = ?", seq); err != nil {
		return fmt.Errorf("delete signal %d: %w", seq, err)
	}
	return nil
}

func (j *Journal) PendingSignals(ctx context.Context) ([]warpflow.SignalRecord, error) {
	if err := j.check(); err != nil {
		return nil, err
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, target, name, payload, sent_at, expires_at
		FROM pending_signals ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query pending signals: %w", err)
	}
	defer rows.Close()

	var out []warpflow.SignalRecord
	for rows.Next() {
		var (
			rec           warpflow.SignalRecord
			payload       []byte
			sent, expires int64
		)
		if err := rows.Scan(&rec.Seq, &rec.Target, &rec.Name, &payload, &sent, &expires); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		rec.Payload = payload
		rec.SentAt = fromUnix(sent)
		rec.ExpiresAt = fromUnix(expires)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes finished runs that ended before cutoff and returns how many
// were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := j.check(); err != nil {
		return 0, err
	}
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM runs WHERE status != ? AND ended_at > 0 AND ended_at < ?",
		string(warpflow.StatusRunning), toUnix(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database. Further calls return ErrClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()
	return j.db.Close()
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
