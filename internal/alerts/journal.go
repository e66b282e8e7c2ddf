// Package alerts keeps a local, operator-visible journal of dead-letter
// events in an embedded SQLite database. The journal survives restarts
// so an exhausted job never silently disappears even when no external
// alert channel is configured.
package alerts

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS dead_letter_alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	reason TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	failed_at INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dla_recorded ON dead_letter_alerts(recorded_at);
CREATE INDEX IF NOT EXISTS idx_dla_job ON dead_letter_alerts(job_id);
`

// Entry is one dead-letter alert.
type Entry struct {
	JobID    string
	OwnerID  string
	Reason   string
	Attempts int
	FailedAt time.Time
}

// Journal persists alert entries asynchronously. Writes never block the
// dead-letter consumer; the buffer drops on overflow.
type Journal struct {
	db   *sql.DB
	ch   chan *Entry
	done chan struct{}
	once sync.Once
	log  *slog.Logger
}

// Open creates or opens the journal database at path. ":memory:" works
// for tests.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		db:   db,
		ch:   make(chan *Entry, 256),
		done: make(chan struct{}),
		log:  logger,
	}
	go j.flushLoop()
	return j, nil
}

// Record queues an entry for persistence. Non-blocking.
func (j *Journal) Record(e *Entry) {
	select {
	case j.ch <- e:
	default:
		j.log.Warn("alerts.buffer.full", "job_id", e.JobID)
	}
}

// Recent returns the newest entries, for operator tooling.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`
		SELECT job_id, owner_id, reason, attempts, failed_at
		FROM dead_letter_alerts
		ORDER BY recorded_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			failedAt int64
		)
		if err := rows.Scan(&e.JobID, &e.OwnerID, &e.Reason, &e.Attempts, &failedAt); err != nil {
			return nil, err
		}
		e.FailedAt = time.Unix(failedAt, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close drains the buffer and closes the database.
func (j *Journal) Close() error {
	j.once.Do(func() {
		close(j.ch)
		<-j.done
	})
	return j.db.Close()
}

func (j *Journal) flushLoop() {
	defer close(j.done)

	batch := make([]*Entry, 0, 32)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				j.flushBatch(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= 32 {
				j.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				j.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (j *Journal) flushBatch(batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	tx, err := j.db.Begin()
	if err != nil {
		j.log.Error("alerts.flush.begin", "error", err)
		return
	}
	stmt, err := tx.Prepare(`
		INSERT INTO dead_letter_alerts (job_id, owner_id, reason, attempts, failed_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		j.log.Error("alerts.flush.prepare", "error", err)
		return
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, e := range batch {
		if _, err := stmt.Exec(e.JobID, e.OwnerID, e.Reason, e.Attempts, e.FailedAt.Unix(), now); err != nil {
			j.log.Error("alerts.flush.insert", "job_id", e.JobID, "error", err)
		}
	}
	if err := tx.Commit(); err != nil {
		j.log.Error("alerts.flush.commit", "error", err)
	}
}
