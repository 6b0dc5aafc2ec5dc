// Package queue implements the persistent, single-writer work queue that
// sits between the harvester and the processor: a local SQLite database
// tracking each item's PENDING/PROCESSING/COMPLETED/FAILED lifecycle.
// Grounded on the schema and operations of original robust_loader.py's
// QueueManager, in the database/sql + mattn/go-sqlite3 shape demonstrated
// by apollosenvy-roundtable's internal/db/store.go.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SourceType distinguishes the two upstream record families.
type SourceType string

const (
	SourceHansard SourceType = "hansard"
	SourcePQ      SourceType = "pq"
)

// Status is one of the four lifecycle states an item can be in.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Item is a single row of the queue.
type Item struct {
	ID           string
	SourceType   SourceType
	Date         string
	Status       Status
	ErrorMessage *string
	Attempts     int
	Metadata     json.RawMessage
}

// Queue wraps the sqlite-backed queue table. A Queue is safe to share across
// goroutines; sqlite itself serializes writers on the single underlying
// file, which is the concurrency contract this package is built around (see
// GetPendingBatch/MarkProcessing below).
type Queue struct {
	db *sql.DB
}

// Open opens (creating if necessary) the queue database at path and ensures
// its schema exists.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline, not a perf tweak
	q := &Queue{db: db}
	if err := q.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS queue (
		id TEXT PRIMARY KEY,
		source_type TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		error_message TEXT,
		attempts INTEGER DEFAULT 0,
		last_attempt TIMESTAMP,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_status ON queue (status);
	CREATE INDEX IF NOT EXISTS idx_date ON queue (date);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (q *Queue) Close() error { return q.db.Close() }

// AddItem inserts an item if it doesn't already exist, returning whether a
// row was actually inserted (false means a duplicate id was ignored).
func (q *Queue) AddItem(id string, sourceType SourceType, date string, metadata json.RawMessage) (bool, error) {
	res, err := q.db.Exec(
		`INSERT OR IGNORE INTO queue (id, source_type, date, metadata) VALUES (?, ?, ?, ?)`,
		id, sourceType, date, string(metadata),
	)
	if err != nil {
		return false, fmt.Errorf("add item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetPendingBatch returns up to limit PENDING items ordered by (date ASC, id ASC).
func (q *Queue) GetPendingBatch(limit int) ([]Item, error) {
	rows, err := q.db.Query(
		`SELECT id, source_type, date, status, error_message, attempts, metadata
		 FROM queue WHERE status = ? ORDER BY date ASC, id ASC LIMIT ?`,
		StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get pending batch: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var errMsg sql.NullString
		var metadata sql.NullString
		if err := rows.Scan(&it.ID, &it.SourceType, &it.Date, &it.Status, &errMsg, &it.Attempts, &metadata); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		if errMsg.Valid {
			it.ErrorMessage = &errMsg.String
		}
		if metadata.Valid {
			it.Metadata = json.RawMessage(metadata.String)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkProcessing flags ids as PROCESSING and bumps their attempt counter.
// Paired with GetPendingBatch this forms the claim operation; it is not
// atomic against a concurrent processor (see the Queue type's doc) but
// is safe because every downstream upsert is idempotent on chunk_id.
func (q *Queue) MarkProcessing(ids []string) error {
	tx, err := q.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`UPDATE queue SET status = ?, last_attempt = CURRENT_TIMESTAMP, attempts = attempts + 1 WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.Exec(StatusProcessing, id); err != nil {
			return fmt.Errorf("mark processing %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// MarkCompleted flags ids as COMPLETED and clears any prior error message.
func (q *Queue) MarkCompleted(ids []string) error {
	tx, err := q.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`UPDATE queue SET status = ?, error_message = NULL WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.Exec(StatusCompleted, id); err != nil {
			return fmt.Errorf("mark completed %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// MarkFailed flags a single id as FAILED with the given error message.
func (q *Queue) MarkFailed(id, errMsg string) error {
	_, err := q.db.Exec(`UPDATE queue SET status = ?, error_message = ? WHERE id = ?`, StatusFailed, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return nil
}

// Stats returns the item count per status across the whole queue.
func (q *Queue) Stats() (map[Status]int, error) {
	rows, err := q.db.Query(`SELECT status, COUNT(*) FROM queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[Status]int{}
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

// DailyStats returns the item count per status for a single date, optionally
// filtered to one source type.
func (q *Queue) DailyStats(date string, sourceType SourceType) (map[Status]int, error) {
	query := `SELECT status, COUNT(*) FROM queue WHERE date = ?`
	args := []any{date}
	if sourceType != "" {
		query += ` AND source_type = ?`
		args = append(args, sourceType)
	}
	query += ` GROUP BY status`

	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[Status]int{}
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

// ResetProcessing resets every PROCESSING item back to PENDING, used at
// startup to recover from a crash that left items claimed but unfinished.
func (q *Queue) ResetProcessing() (int64, error) {
	res, err := q.db.Exec(`UPDATE queue SET status = ? WHERE status = ?`, StatusPending, StatusProcessing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RetryFailed resets every FAILED item back to PENDING and clears its error.
func (q *Queue) RetryFailed() (int64, error) {
	res, err := q.db.Exec(`UPDATE queue SET status = ?, error_message = NULL WHERE status = ?`, StatusPending, StatusFailed)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
