// Package store provides the persistence backends for the ingestion
// ledger and the execution store.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sriyan983/slack-triage/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore implements core.Ledger and core.ExecutionStore with SQLite.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	s := &SQLiteStore{dbPath: dbPath}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	// WAL mode so scheduler reads and resume writes do not block each other.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration
		version = 0
	}

	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}

	return nil
}

// Submit creates a record for the dedup key, or returns the existing one.
// The unique constraint on dedup_key is the dedup authority; the insert
// and the created verdict are one atomic statement.
func (s *SQLiteStore) Submit(ctx context.Context, sub core.Submission) (*core.MessageRecord, bool, error) {
	if err := sub.Validate(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (dedup_key, channel, sender, text, thread_ts, arrival_ts, status, outbound_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dedup_key) DO NOTHING
	`,
		sub.DedupKey, sub.Channel, sub.Sender, sub.Text,
		nullableString(sub.ThreadTS), sub.ArrivalTS.UTC(),
		core.StatusPending, core.DeliveryNone, now, now,
	)
	if err != nil {
		return nil, false, core.ErrPersistence("inserting message", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, core.ErrPersistence("checking insert result", err)
	}

	rec, err := s.getByDedupKey(ctx, sub.DedupKey)
	if err != nil {
		return nil, false, err
	}
	return rec, inserted > 0, nil
}

// ListPending returns up to limit pending records, oldest first.
func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]*core.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE status = ? ORDER BY arrival_ts ASC, id ASC LIMIT ?
	`, core.StatusPending, limit)
	if err != nil {
		return nil, core.ErrPersistence("listing pending messages", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Get returns a record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id core.RecordID) (*core.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectRecord+" WHERE id = ?", id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("message record", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, core.ErrPersistence("loading message record", err)
	}
	return rec, nil
}

// GetByExecution returns the record bound to an execution ID.
func (s *SQLiteStore) GetByExecution(ctx context.Context, id core.ExecutionID) (*core.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectRecord+" WHERE execution_id = ?", string(id))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("message record for execution", string(id))
	}
	if err != nil {
		return nil, core.ErrPersistence("loading message record", err)
	}
	return rec, nil
}

func (s *SQLiteStore) getByDedupKey(ctx context.Context, key string) (*core.MessageRecord, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+" WHERE dedup_key = ?", key)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("message record", key)
	}
	if err != nil {
		return nil, core.ErrPersistence("loading message record", err)
	}
	return rec, nil
}

// Mark applies a partial update, enforcing the status transition rules in
// a single compare-and-set UPDATE. Zero rows affected means the record is
// gone or its current status forbids the transition.
func (s *SQLiteStore) Mark(ctx context.Context, id core.RecordID, upd core.RecordUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	if upd.Status != "" && !core.CanTransition(cur, upd.Status) {
		return core.ErrConflict(core.CodeStatusConflict,
			fmt.Sprintf("record %d cannot move %s -> %s", id, cur, upd.Status)).
			WithDetail("from", string(cur)).
			WithDetail("to", string(upd.Status))
	}

	query := "UPDATE messages SET "
	args := make([]interface{}, 0, 10)
	sep := ""

	add := func(col string, val interface{}) {
		query += sep + col + " = ?"
		args = append(args, val)
		sep = ", "
	}

	if upd.Status != "" {
		add("status", string(upd.Status))
	}
	if upd.ExecutionID != nil {
		add("execution_id", string(*upd.ExecutionID))
	}
	if upd.Classification != nil {
		add("classification", string(*upd.Classification))
	}
	if upd.Rationale != nil {
		add("rationale", *upd.Rationale)
	}
	if upd.Notification != nil {
		add("notification", *upd.Notification)
	}
	if upd.OutboundText != nil {
		add("outbound_text", *upd.OutboundText)
	}
	if upd.OutboundStatus != nil {
		add("outbound_status", string(*upd.OutboundStatus))
	}
	if upd.OutboundAt != nil {
		add("outbound_at", upd.OutboundAt.UTC())
	}
	if upd.LastError != nil {
		add("last_error", *upd.LastError)
	}
	if len(args) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	// Guard on the status observed above so a concurrent Mark loses cleanly.
	query += " WHERE id = ? AND status = ?"
	args = append(args, id, string(cur))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return core.ErrPersistence("updating message record", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.ErrPersistence("checking update result", err)
	}
	if affected == 0 {
		return core.ErrConflict(core.CodeStatusConflict,
			fmt.Sprintf("record %d was modified concurrently", id))
	}
	return nil
}

func (s *SQLiteStore) currentStatus(ctx context.Context, id core.RecordID) (core.ProcessingStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM messages WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", core.ErrNotFound("message record", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return "", core.ErrPersistence("loading record status", err)
	}
	return core.ProcessingStatus(status), nil
}

// RequeueFailed moves failed records back to pending.
func (s *SQLiteStore) RequeueFailed(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET status = ?, updated_at = ? WHERE status = ?",
		core.StatusPending, time.Now().UTC(), core.StatusFailed)
	if err != nil {
		return 0, core.ErrPersistence("requeuing failed messages", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, core.ErrPersistence("checking requeue result", err)
	}
	return int(affected), nil
}

// RequeueStale parks processing records untouched since the cutoff as
// failed, so the next failed-record requeue picks them up.
func (s *SQLiteStore) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET status = ?, last_error = ?, updated_at = ? WHERE status = ? AND updated_at < ?",
		core.StatusFailed, "processing stalled past the stale window",
		time.Now().UTC(), core.StatusProcessing, cutoff.UTC())
	if err != nil {
		return 0, core.ErrPersistence("requeuing stale messages", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, core.ErrPersistence("checking stale requeue result", err)
	}
	return int(affected), nil
}

// ListByClassification returns classified records, newest first.
func (s *SQLiteStore) ListByClassification(ctx context.Context, c core.Classification) ([]*core.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows *sql.Rows
	var err error
	if c == "" {
		rows, err = s.db.QueryContext(ctx, selectRecord+`
			WHERE classification IS NOT NULL ORDER BY arrival_ts DESC
		`)
	} else {
		rows, err = s.db.QueryContext(ctx, selectRecord+`
			WHERE classification = ? ORDER BY arrival_ts DESC
		`, string(c))
	}
	if err != nil {
		return nil, core.ErrPersistence("listing classified messages", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CountByStatus aggregates record counts per processing status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[core.ProcessingStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM messages GROUP BY status")
	if err != nil {
		return nil, core.ErrPersistence("counting messages", err)
	}
	defer rows.Close()

	counts := make(map[core.ProcessingStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, core.ErrPersistence("scanning status count", err)
		}
		counts[core.ProcessingStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrPersistence("iterating status counts", err)
	}
	return counts, nil
}

// ListOlderThan returns records created before the cutoff, oldest first.
func (s *SQLiteStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*core.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE created_at < ? ORDER BY created_at ASC LIMIT ?
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, core.ErrPersistence("listing old messages", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Delete removes records by ID and returns how many were deleted.
func (s *SQLiteStore) Delete(ctx context.Context, ids []core.RecordID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := "DELETE FROM messages WHERE id IN (?"
	args := []interface{}{int64(ids[0])}
	for _, id := range ids[1:] {
		query += ", ?"
		args = append(args, int64(id))
	}
	query += ")"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, core.ErrPersistence("deleting messages", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, core.ErrPersistence("checking delete result", err)
	}
	return int(affected), nil
}

// Save persists an execution snapshot, last writer wins.
func (s *SQLiteStore) Save(ctx context.Context, state *core.ExecutionState) error {
	if err := state.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := json.Marshal(state)
	if err != nil {
		return core.ErrPersistence("marshaling execution snapshot", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, snapshot, lifecycle, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			snapshot = excluded.snapshot,
			lifecycle = excluded.lifecycle,
			updated_at = excluded.updated_at
	`, string(state.ID), string(snapshot), string(state.Lifecycle),
		state.CreatedAt.UTC(), state.UpdatedAt.UTC())
	if err != nil {
		return core.ErrPersistence("saving execution snapshot", err)
	}
	return nil
}

// Load retrieves an execution snapshot by ID.
func (s *SQLiteStore) Load(ctx context.Context, id core.ExecutionID) (*core.ExecutionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snapshot string
	err := s.db.QueryRowContext(ctx, "SELECT snapshot FROM executions WHERE id = ?", string(id)).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, core.ErrExecutionNotFound(id)
	}
	if err != nil {
		return nil, core.ErrPersistence("loading execution snapshot", err)
	}

	var state core.ExecutionState
	if err := json.Unmarshal([]byte(snapshot), &state); err != nil {
		return nil, core.ErrState(core.CodeCorruptSnapshot, "execution snapshot does not parse").WithCause(err)
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &state, nil
}

// Exists checks whether an execution snapshot is present.
func (s *SQLiteStore) Exists(ctx context.Context, id core.ExecutionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM executions WHERE id = ?", string(id)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, core.ErrPersistence("checking execution existence", err)
	}
	return true, nil
}

const selectRecord = `
	SELECT id, dedup_key, channel, sender, text, thread_ts, arrival_ts,
	       status, execution_id, classification, rationale, notification,
	       outbound_text, outbound_status, outbound_at, last_error, created_at
	FROM messages
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*core.MessageRecord, error) {
	var rec core.MessageRecord
	var threadTS, executionID, classification sql.NullString
	var rationale, notification, outboundText, lastError sql.NullString
	var outboundAt sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.DedupKey, &rec.Channel, &rec.Sender, &rec.Text,
		&threadTS, &rec.ArrivalTS, &rec.Status, &executionID,
		&classification, &rationale, &notification,
		&outboundText, &rec.OutboundStatus, &outboundAt, &lastError,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if threadTS.Valid {
		rec.ThreadTS = threadTS.String
	}
	if executionID.Valid {
		rec.ExecutionID = core.ExecutionID(executionID.String)
	}
	if classification.Valid {
		rec.Classification = core.Classification(classification.String)
	}
	if rationale.Valid {
		rec.Rationale = rationale.String
	}
	if notification.Valid {
		rec.Notification = notification.String
	}
	if outboundText.Valid {
		rec.OutboundText = outboundText.String
	}
	if outboundAt.Valid {
		t := outboundAt.Time
		rec.OutboundAt = &t
	}
	if lastError.Valid {
		rec.LastError = lastError.String
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*core.MessageRecord, error) {
	var records []*core.MessageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, core.ErrPersistence("scanning message record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, core.ErrPersistence("iterating message records", err)
	}
	return records, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Verify interface compliance.
var (
	_ core.Ledger         = (*SQLiteStore)(nil)
	_ core.ExecutionStore = (*SQLiteStore)(nil)
)
