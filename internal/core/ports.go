// Package core holds the domain types, ports, and structured errors for
// the triage pipeline. It has no dependencies on adapters or transport.
package core

import (
	"context"
	"time"
)

// Ledger is the idempotent ingestion ledger. Dedup authority lives here,
// behind a unique-key constraint, so correctness survives process restarts
// and duplicate delivery from the platform.
type Ledger interface {
	// Submit creates a record for the dedup key, or returns the existing
	// one untouched. The bool is true exactly once per key.
	Submit(ctx context.Context, sub Submission) (*MessageRecord, bool, error)

	// ListPending returns up to limit pending records, oldest first.
	ListPending(ctx context.Context, limit int) ([]*MessageRecord, error)

	// Get returns a record by ID.
	Get(ctx context.Context, id RecordID) (*MessageRecord, error)

	// GetByExecution returns the record bound to an execution ID.
	GetByExecution(ctx context.Context, id ExecutionID) (*MessageRecord, error)

	// Mark applies a compare-and-set style update. A missing record
	// reports a not-found conflict; nothing is partially written.
	Mark(ctx context.Context, id RecordID, upd RecordUpdate) error

	// RequeueFailed moves failed records back to pending and returns how
	// many were requeued. The scheduler calls this at cycle start.
	RequeueFailed(ctx context.Context) (int, error)

	// RequeueStale parks processing records untouched since the cutoff
	// as failed. A crash mid-record leaves it stuck at processing; this
	// feeds such records back into the failed-record requeue.
	RequeueStale(ctx context.Context, cutoff time.Time) (int, error)

	// ListByClassification returns records matching a classification,
	// newest first. An empty filter returns all classified records.
	ListByClassification(ctx context.Context, c Classification) ([]*MessageRecord, error)

	// CountByStatus aggregates record counts per processing status.
	CountByStatus(ctx context.Context) (map[ProcessingStatus]int, error)

	// ListOlderThan returns records created before the cutoff.
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*MessageRecord, error)

	// Delete removes records by ID. Only the retention sweep calls this.
	Delete(ctx context.Context, ids []RecordID) (int, error)
}

// ExecutionStore persists execution snapshots. Overwrite-on-write,
// last-writer-wins; no business logic.
type ExecutionStore interface {
	Save(ctx context.Context, state *ExecutionState) error
	Load(ctx context.Context, id ExecutionID) (*ExecutionState, error)
	Exists(ctx context.Context, id ExecutionID) (bool, error)
}

// ClassifyRequest is the input to the classifier collaborator.
type ClassifyRequest struct {
	Channel string
	Sender  string
	Message string
}

// ClassifyResult is the classifier's verdict.
type ClassifyResult struct {
	Classification Classification
	Rationale      string
}

// Classifier decides the triage category for a message. May be an LLM, a
// rules engine, anything honoring the contract. Implementations must
// bound their own I/O with the supplied context.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error)
}

// NotificationContext is the full context handed to the notifier.
type NotificationContext struct {
	Channel        string
	Sender         string
	Message        string
	Classification Classification
	Rationale      string
}

// Notifier produces a short human-readable notification message.
type Notifier interface {
	ComposeNotification(ctx context.Context, nc NotificationContext) (string, error)
}

// OutboundMessage is one message bound for the platform.
type OutboundMessage struct {
	Channel  string
	Text     string
	ThreadTS string
}

// Messenger delivers outbound text through the messaging platform.
type Messenger interface {
	Send(ctx context.Context, msg OutboundMessage) error
}
