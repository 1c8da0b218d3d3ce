package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/user/edexd/internal/telemetry"
)

// pruneEvery is how many inserts pass between retention sweeps.
const pruneEvery = 100

// Entry is one journaled snapshot.
type Entry struct {
	ID            int64              `json:"id"`
	TakenAt       int64              `json:"taken_at"` // unix milliseconds
	CPUUsage      int                `json:"cpu_usage"`
	MemoryPercent int                `json:"memory_percent"`
	Snapshot      telemetry.Snapshot `json:"snapshot"`
}

// Journal stores telemetry snapshots and drops those older than its
// retention. It satisfies telemetry.Sink.
type Journal struct {
	db        *sql.DB
	retention time.Duration
	clock     clock.Clock
	inserts   atomic.Uint64
}

// NewJournal wraps db. A non-positive retention keeps everything.
func NewJournal(db *sql.DB, retention time.Duration, clk clock.Clock) *Journal {
	if clk == nil {
		clk = clock.New()
	}
	return &Journal{db: db, retention: retention, clock: clk}
}

var _ telemetry.Sink = (*Journal)(nil)

// Record inserts snap and periodically prunes expired rows.
func (j *Journal) Record(ctx context.Context, snap telemetry.Snapshot) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("telemetry journal unavailable")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
INSERT INTO telemetry_samples (taken_at, cpu_usage, memory_percent, hostname, payload)
VALUES (?, ?, ?, ?, ?)
`, snap.Timestamp, snap.CPU.Usage, snap.Memory.Percent, snap.OS.Hostname, string(payload))
	if err != nil {
		return fmt.Errorf("insert telemetry sample: %w", err)
	}

	if j.retention > 0 && j.inserts.Add(1)%pruneEvery == 0 {
		if _, err := j.Prune(ctx, j.clock.Now().Add(-j.retention)); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns up to limit of the newest entries, oldest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("telemetry journal unavailable")
	}
	if limit <= 0 {
		limit = telemetry.HistorySize
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, taken_at, cpu_usage, memory_percent, payload
FROM (
	SELECT id, taken_at, cpu_usage, memory_percent, payload
	FROM telemetry_samples
	ORDER BY taken_at DESC, id DESC
	LIMIT ?
)
ORDER BY taken_at ASC, id ASC
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list telemetry samples: %w", err)
	}
	defer rows.Close()

	items := make([]*Entry, 0)
	for rows.Next() {
		entry := &Entry{}
		var payload string
		if err := rows.Scan(&entry.ID, &entry.TakenAt, &entry.CPUUsage, &entry.MemoryPercent, &payload); err != nil {
			return nil, fmt.Errorf("scan telemetry sample: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &entry.Snapshot); err != nil {
			return nil, fmt.Errorf("decode telemetry sample %d: %w", entry.ID, err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry samples: %w", err)
	}
	return items, nil
}

// Prune deletes entries taken before cutoff and reports how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if j == nil || j.db == nil {
		return 0, fmt.Errorf("telemetry journal unavailable")
	}
	res, err := j.db.ExecContext(ctx, `DELETE FROM telemetry_samples WHERE taken_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune telemetry samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune telemetry samples: %w", err)
	}
	return n, nil
}
