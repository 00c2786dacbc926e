package events

import "time"

// Event type constants for the triage pipeline.
const (
	TypeMessageIngested    = "message_ingested"
	TypeMessageDuplicate   = "message_duplicate"
	TypeExecutionStarted   = "execution_started"
	TypeExecutionSuspended = "execution_suspended"
	TypeExecutionResumed   = "execution_resumed"
	TypeExecutionCompleted = "execution_completed"
	TypeExecutionFailed    = "execution_failed"
	TypeNotificationSent   = "notification_sent"
	TypeCycleCompleted     = "cycle_completed"
)

// MessageIngestedEvent is emitted when a new message enters the ledger.
type MessageIngestedEvent struct {
	BaseEvent
	RecordID int64  `json:"record_id"`
	Channel  string `json:"channel"`
	Sender   string `json:"sender"`
}

// NewMessageIngestedEvent creates a new message ingested event.
func NewMessageIngestedEvent(recordID int64, channel, sender string) MessageIngestedEvent {
	return MessageIngestedEvent{
		BaseEvent: NewBaseEvent(TypeMessageIngested, ""),
		RecordID:  recordID,
		Channel:   channel,
		Sender:    sender,
	}
}

// MessageDuplicateEvent is emitted when a submission hits an existing
// dedup key and is silently absorbed.
type MessageDuplicateEvent struct {
	BaseEvent
	RecordID int64  `json:"record_id"`
	DedupKey string `json:"dedup_key"`
}

// NewMessageDuplicateEvent creates a new duplicate submission event.
func NewMessageDuplicateEvent(recordID int64, dedupKey string) MessageDuplicateEvent {
	return MessageDuplicateEvent{
		BaseEvent: NewBaseEvent(TypeMessageDuplicate, ""),
		RecordID:  recordID,
		DedupKey:  dedupKey,
	}
}

// ExecutionStartedEvent is emitted when an execution begins.
type ExecutionStartedEvent struct {
	BaseEvent
	Channel string `json:"channel"`
	Sender  string `json:"sender"`
}

// NewExecutionStartedEvent creates a new execution started event.
func NewExecutionStartedEvent(executionID, channel, sender string) ExecutionStartedEvent {
	return ExecutionStartedEvent{
		BaseEvent: NewBaseEvent(TypeExecutionStarted, executionID),
		Channel:   channel,
		Sender:    sender,
	}
}

// ExecutionSuspendedEvent is emitted when an execution parks for human input.
type ExecutionSuspendedEvent struct {
	BaseEvent
	Node   string `json:"node"`
	Prompt string `json:"prompt"`
}

// NewExecutionSuspendedEvent creates a new execution suspended event.
func NewExecutionSuspendedEvent(executionID, node, prompt string) ExecutionSuspendedEvent {
	return ExecutionSuspendedEvent{
		BaseEvent: NewBaseEvent(TypeExecutionSuspended, executionID),
		Node:      node,
		Prompt:    prompt,
	}
}

// ExecutionResumedEvent is emitted when a suspended execution receives
// human feedback and runs to completion.
type ExecutionResumedEvent struct {
	BaseEvent
	HasOutbound bool `json:"has_outbound"`
}

// NewExecutionResumedEvent creates a new execution resumed event.
func NewExecutionResumedEvent(executionID string, hasOutbound bool) ExecutionResumedEvent {
	return ExecutionResumedEvent{
		BaseEvent:   NewBaseEvent(TypeExecutionResumed, executionID),
		HasOutbound: hasOutbound,
	}
}

// ExecutionCompletedEvent is emitted when an execution reaches its
// terminal node.
type ExecutionCompletedEvent struct {
	BaseEvent
	Classification string        `json:"classification"`
	Duration       time.Duration `json:"duration"`
}

// NewExecutionCompletedEvent creates a new execution completed event.
func NewExecutionCompletedEvent(executionID, classification string, duration time.Duration) ExecutionCompletedEvent {
	return ExecutionCompletedEvent{
		BaseEvent:      NewBaseEvent(TypeExecutionCompleted, executionID),
		Classification: classification,
		Duration:       duration,
	}
}

// ExecutionFailedEvent is emitted when an execution fails.
// This is a PRIORITY event - never dropped.
type ExecutionFailedEvent struct {
	BaseEvent
	Node      string `json:"node"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// NewExecutionFailedEvent creates a new execution failed event.
func NewExecutionFailedEvent(executionID, node string, err error, retryable bool) ExecutionFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return ExecutionFailedEvent{
		BaseEvent: NewBaseEvent(TypeExecutionFailed, executionID),
		Node:      node,
		Error:     errStr,
		Retryable: retryable,
	}
}

// NotificationSentEvent is emitted after an outbound platform send.
type NotificationSentEvent struct {
	BaseEvent
	Channel string `json:"channel"`
	Kind    string `json:"kind"` // notify or respond
}

// NewNotificationSentEvent creates a new notification sent event.
func NewNotificationSentEvent(executionID, channel, kind string) NotificationSentEvent {
	return NotificationSentEvent{
		BaseEvent: NewBaseEvent(TypeNotificationSent, executionID),
		Channel:   channel,
		Kind:      kind,
	}
}

// CycleCompletedEvent is emitted at the end of each scheduler cycle.
type CycleCompletedEvent struct {
	BaseEvent
	Picked    int           `json:"picked"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// NewCycleCompletedEvent creates a new cycle completed event.
func NewCycleCompletedEvent(picked, succeeded, failed int, duration time.Duration) CycleCompletedEvent {
	return CycleCompletedEvent{
		BaseEvent: NewBaseEvent(TypeCycleCompleted, ""),
		Picked:    picked,
		Succeeded: succeeded,
		Failed:    failed,
		Duration:  duration,
	}
}
