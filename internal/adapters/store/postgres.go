package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sriyan983/slack-triage/internal/core"
)

// PostgresStore implements core.Ledger and core.ExecutionStore on
// Postgres. Schema setup is lazy; the first operation creates the tables.
type PostgresStore struct {
	dsn string

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresStore creates a new Postgres-backed store.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, core.ErrValidation("MISSING_DSN", "postgres DSN cannot be empty")
	}
	return &PostgresStore{dsn: dsn}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := sql.Open("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}

		schema := `
			CREATE TABLE IF NOT EXISTS messages (
				id BIGSERIAL PRIMARY KEY,
				dedup_key TEXT NOT NULL UNIQUE,
				channel TEXT NOT NULL,
				sender TEXT NOT NULL,
				text TEXT NOT NULL,
				thread_ts TEXT,
				arrival_ts TIMESTAMPTZ NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				execution_id TEXT,
				classification TEXT,
				rationale TEXT,
				notification TEXT,
				outbound_text TEXT,
				outbound_status TEXT NOT NULL DEFAULT 'none',
				outbound_at TIMESTAMPTZ,
				last_error TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_messages_status_arrival ON messages(status, arrival_ts);
			CREATE INDEX IF NOT EXISTS idx_messages_execution ON messages(execution_id);
			CREATE TABLE IF NOT EXISTS executions (
				id TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				lifecycle TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_executions_lifecycle ON executions(lifecycle);
		`
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

// Submit creates a record for the dedup key, or returns the existing one.
func (s *PostgresStore) Submit(ctx context.Context, sub core.Submission) (*core.MessageRecord, bool, error) {
	if err := sub.Validate(); err != nil {
		return nil, false, err
	}
	if err := s.ensureReady(ctx); err != nil {
		return nil, false, core.ErrPersistence("connecting to postgres", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (dedup_key, channel, sender, text, thread_ts, arrival_ts, status, outbound_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (dedup_key) DO NOTHING
	`,
		sub.DedupKey, sub.Channel, sub.Sender, sub.Text,
		pgNullString(sub.ThreadTS), sub.ArrivalTS.UTC(),
		string(core.StatusPending), string(core.DeliveryNone),
	)
	if err != nil {
		return nil, false, core.ErrPersistence("inserting message", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, core.ErrPersistence("checking insert result", err)
	}

	row := s.db.QueryRowContext(ctx, pgSelectRecord+" WHERE dedup_key = $1", sub.DedupKey)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, false, core.ErrPersistence("loading message record", err)
	}
	return rec, inserted > 0, nil
}

// ListPending returns up to limit pending records, oldest first.
func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]*core.MessageRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, core.ErrPersistence("connecting to postgres", err)
	}

	rows, err := s.db.QueryContext(ctx, pgSelectRecord+`
		WHERE status = $1 ORDER BY arrival_ts ASC, id ASC LIMIT $2
	`, string(core.StatusPending), limit)
	if err != nil {
		return nil, core.ErrPersistence("listing pending messages", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Get returns a record by ID.
func (s *PostgresStore) Get(ctx context.Context, id core.RecordID) (*core.MessageRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, core.ErrPersistence("connecting to postgres", err)
	}

	row := s.db.QueryRowContext(ctx, pgSelectRecord+" WHERE id = $1", int64(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("message record", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, core.ErrPersistence("loading message record", err)
	}
	return rec, nil
}

// GetByExecution returns the record bound to an execution ID.
func (s *PostgresStore) GetByExecution(ctx context.Context, id core.ExecutionID) (*core.MessageRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, core.ErrPersistence("connecting to postgres", err)
	}

	row := s.db.QueryRowContext(ctx, pgSelectRecord+" WHERE execution_id = $1", string(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("message record for execution", string(id))
	}
	if err != nil {
		return nil, core.ErrPersistence("loading message record", err)
	}
	return rec, nil
}

// Mark applies a partial update guarded by the observed status.
func (s *PostgresStore) Mark(ctx context.Context, id core.RecordID, upd core.RecordUpdate) error {
	if err := s.ensureReady(ctx); err != nil {
		return core.ErrPersistence("connecting to postgres", err)
	}

	var cur string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM messages WHERE id = $1", int64(id)).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound("message record", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return core.ErrPersistence("loading record status", err)
	}

	current := core.ProcessingStatus(cur)
	if upd.Status != "" && !core.CanTransition(current, upd.Status) {
		return core.ErrConflict(core.CodeStatusConflict,
			fmt.Sprintf("record %d cannot move %s -> %s", id, current, upd.Status))
	}

	sets := make([]string, 0, 9)
	args := make([]interface{}, 0, 11)
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
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
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	args = append(args, int64(id), cur)
	query := fmt.Sprintf("UPDATE messages SET %s WHERE id = $%d AND status = $%d",
		strings.Join(sets, ", "), len(args)-1, len(args))

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

// RequeueFailed moves failed records back to pending.
func (s *PostgresStore) RequeueFailed(ctx context.Context) (int, error) {
	if err := s.ensureReady(ctx); err != nil {
		return 0, core.ErrPersistence("connecting to postgres", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET status = $1, updated_at = NOW() WHERE status = $2",
		string(core.StatusPending), string(core.StatusFailed))
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
func (s *PostgresStore) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.ensureReady(ctx); err != nil {
		return 0, core.ErrPersistence("connecting to postgres", err)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE messages SET status = $1, last_error = $2, updated_at = NOW() WHERE status = $3 AND updated_at < $4",
		string(core.StatusFailed), "processing stalled past the stale window",
		string(core.StatusProcessing), cutoff.UTC())
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
func (s *PostgresStore) ListByClassification(ctx context.Context, c core.Classification) ([]*core.MessageRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, core.ErrPersistence("connecting to postgres", err)
	}

	var rows *sql.Rows
	var err error
	if c == "" {
		rows, err = s.db.QueryContext(ctx, pgSelectRecord+`
			WHERE classification IS NOT NULL ORDER BY arrival_ts DESC
		`)
	} else {
		rows, err = s.db.QueryContext(ctx, pgSelectRecord+`
			WHERE classification = $1 ORDER BY arrival_ts DESC
		`, string(c))
	}
	if err != nil {
		return nil, core.ErrPersistence("listing classified messages", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CountByStatus aggregates record counts per processing status.
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[core.ProcessingStatus]int, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, core.ErrPersistence("connecting to postgres", err)
	}

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
func (s *PostgresStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*core.MessageRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, core.ErrPersistence("connecting to postgres", err)
	}

	rows, err := s.db.QueryContext(ctx, pgSelectRecord+`
		WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, core.ErrPersistence("listing old messages", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Delete removes records by ID and returns how many were deleted.
func (s *PostgresStore) Delete(ctx context.Context, ids []core.RecordID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.ensureReady(ctx); err != nil {
		return 0, core.ErrPersistence("connecting to postgres", err)
	}

	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ANY($1)", pq.Array(raw))
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
func (s *PostgresStore) Save(ctx context.Context, state *core.ExecutionState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	if err := s.ensureReady(ctx); err != nil {
		return core.ErrPersistence("connecting to postgres", err)
	}

	snapshot, err := json.Marshal(state)
	if err != nil {
		return core.ErrPersistence("marshaling execution snapshot", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (id, snapshot, lifecycle, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			lifecycle = EXCLUDED.lifecycle,
			updated_at = EXCLUDED.updated_at
	`, string(state.ID), string(snapshot), string(state.Lifecycle),
		state.CreatedAt.UTC(), state.UpdatedAt.UTC())
	if err != nil {
		return core.ErrPersistence("saving execution snapshot", err)
	}
	return nil
}

// Load retrieves an execution snapshot by ID.
func (s *PostgresStore) Load(ctx context.Context, id core.ExecutionID) (*core.ExecutionState, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, core.ErrPersistence("connecting to postgres", err)
	}

	var snapshot string
	err := s.db.QueryRowContext(ctx, "SELECT snapshot FROM executions WHERE id = $1", string(id)).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
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
func (s *PostgresStore) Exists(ctx context.Context, id core.ExecutionID) (bool, error) {
	if err := s.ensureReady(ctx); err != nil {
		return false, core.ErrPersistence("connecting to postgres", err)
	}

	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM executions WHERE id = $1", string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, core.ErrPersistence("checking execution existence", err)
	}
	return true, nil
}

const pgSelectRecord = `
	SELECT id, dedup_key, channel, sender, text, thread_ts, arrival_ts,
	       status, execution_id, classification, rationale, notification,
	       outbound_text, outbound_status, outbound_at, last_error, created_at
	FROM messages
`

func pgNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Verify interface compliance.
var (
	_ core.Ledger         = (*PostgresStore)(nil)
	_ core.ExecutionStore = (*PostgresStore)(nil)
)
