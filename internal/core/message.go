package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// RecordID uniquely identifies a message record in the ledger.
type RecordID int64

// Classification is the triage category assigned to a message.
type Classification string

const (
	ClassificationIgnore  Classification = "ignore"
	ClassificationNotify  Classification = "notify"
	ClassificationRespond Classification = "respond"
)

// ValidClassification reports whether c is a known category.
func ValidClassification(c Classification) bool {
	switch c {
	case ClassificationIgnore, ClassificationNotify, ClassificationRespond:
		return true
	}
	return false
}

// ProcessingStatus tracks a record through the pipeline.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusFailed     ProcessingStatus = "failed"
	// StatusCompleted marks a respond-classified record whose execution was
	// resumed with human feedback.
	StatusCompleted ProcessingStatus = "completed"
)

// ProcessedStatus returns the terminal status for a classification,
// e.g. "processed:notify".
func ProcessedStatus(c Classification) ProcessingStatus {
	return ProcessingStatus("processed:" + string(c))
}

// IsProcessed reports whether s is one of the processed:* statuses.
func (s ProcessingStatus) IsProcessed() bool {
	return len(s) > 10 && s[:10] == "processed:"
}

// DeliveryStatus tracks the outbound Slack send for a record.
type DeliveryStatus string

const (
	DeliveryNone   DeliveryStatus = "none"
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// MessageRecord is one inbound message as tracked by the ingestion ledger.
// Created once per dedup key; mutated by the scheduler and by execution
// outputs; removed only by the retention sweep.
type MessageRecord struct {
	ID             RecordID         `json:"id"`
	DedupKey       string           `json:"dedup_key"`
	Channel        string           `json:"channel"`
	Sender         string           `json:"sender"`
	Text           string           `json:"text"`
	ThreadTS       string           `json:"thread_ts,omitempty"`
	ArrivalTS      time.Time        `json:"arrival_ts"`
	Status         ProcessingStatus `json:"status"`
	ExecutionID    ExecutionID      `json:"execution_id,omitempty"`
	Classification Classification   `json:"classification,omitempty"`
	Rationale      string           `json:"rationale,omitempty"`
	Notification   string           `json:"notification,omitempty"`
	OutboundText   string           `json:"outbound_text,omitempty"`
	OutboundStatus DeliveryStatus   `json:"outbound_status"`
	OutboundAt     *time.Time       `json:"outbound_at,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Submission carries the fields needed to create a ledger record.
type Submission struct {
	DedupKey  string
	Channel   string
	Sender    string
	Text      string
	ThreadTS  string
	ArrivalTS time.Time
}

// Validate checks submission invariants before it reaches the store.
func (s Submission) Validate() error {
	if s.DedupKey == "" {
		return ErrValidation(CodeMissingDedupKey, "dedup key cannot be empty")
	}
	if s.Channel == "" {
		return ErrValidation(CodeMissingChannel, "channel cannot be empty")
	}
	if s.Sender == "" {
		return ErrValidation(CodeMissingSender, "sender cannot be empty")
	}
	if s.Text == "" {
		return ErrValidation(CodeMissingText, "message text cannot be empty")
	}
	return nil
}

// DedupKey derives the idempotency key for one physical platform event.
// The platform timestamp participates so that identical text sent twice
// stays two records, while redelivery of the same event collapses to one.
func DedupKey(channel, ts, sender, text string) string {
	h := sha256.Sum256([]byte(channel + "|" + ts + "|" + sender + "|" + text))
	return hex.EncodeToString(h[:])
}

// statusRank orders statuses for the monotonic-forward invariant.
// failed is a loop point: failed -> pending is the only backward edge.
func statusRank(s ProcessingStatus) int {
	switch {
	case s == StatusPending:
		return 0
	case s == StatusProcessing:
		return 1
	case s == StatusFailed:
		return 1
	case s.IsProcessed():
		return 2
	case s == StatusCompleted:
		return 3
	}
	return -1
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to ProcessingStatus) bool {
	if from == to {
		return true
	}
	if from == StatusFailed && to == StatusPending {
		return true
	}
	fr, tr := statusRank(from), statusRank(to)
	if fr < 0 || tr < 0 {
		return false
	}
	return tr >= fr
}

// RecordUpdate is a partial update applied by Ledger.Mark. Nil pointer
// fields are left untouched.
type RecordUpdate struct {
	Status         ProcessingStatus
	ExecutionID    *ExecutionID
	Classification *Classification
	Rationale      *string
	Notification   *string
	OutboundText   *string
	OutboundStatus *DeliveryStatus
	OutboundAt     *time.Time
	LastError      *string
}

// String returns a short description for logs.
func (r *MessageRecord) String() string {
	return fmt.Sprintf("record %d [%s] %s/%s", r.ID, r.Status, r.Channel, r.Sender)
}
