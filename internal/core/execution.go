package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExecutionID uniquely identifies one triage execution.
type ExecutionID string

// NewExecutionID generates a fresh execution ID.
func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.NewString())
}

// Node is a position in the triage graph.
type Node string

const (
	NodeIngest      Node = "ingest"
	NodeClassify    Node = "classify"
	NodeRoute       Node = "route"
	NodeRespondWait Node = "respond_wait"
	NodeNotify      Node = "notify"
	NodeIgnore      Node = "ignore"
	NodeDone        Node = "done"
)

// Lifecycle is the coarse state of an execution.
type Lifecycle string

const (
	LifecycleRunning   Lifecycle = "running"
	LifecycleSuspended Lifecycle = "suspended"
	LifecycleCompleted Lifecycle = "completed"
)

// FeedbackSchemaJSON is the shape a resumer must supply for a suspended
// execution. Kept as a JSON schema so the boundary can validate payloads
// without reaching into engine internals.
const FeedbackSchemaJSON = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"feedback": {"type": "string", "minLength": 1},
		"outbound_response": {"type": "string"}
	},
	"required": ["feedback"]
}`

// FeedbackPayload is the typed form of a resume submission.
type FeedbackPayload struct {
	Feedback         string `json:"feedback"`
	OutboundResponse string `json:"outbound_response,omitempty"`
}

// Suspension captures why an execution is paused and what input unblocks it.
type Suspension struct {
	Node   Node            `json:"node"`
	Prompt string          `json:"prompt"`
	Schema json.RawMessage `json:"schema"`
}

// StepEvent is one entry in an execution's transcript.
type StepEvent struct {
	Node    Node      `json:"node"`
	Summary string    `json:"summary"`
	At      time.Time `json:"at"`
}

// ExecutionVars holds the variables accumulated as an execution advances.
type ExecutionVars struct {
	Channel          string         `json:"channel"`
	Sender           string         `json:"sender"`
	Message          string         `json:"message"`
	ThreadTS         string         `json:"thread_ts,omitempty"`
	Classification   Classification `json:"classification,omitempty"`
	Rationale        string         `json:"rationale,omitempty"`
	Notification     string         `json:"notification,omitempty"`
	Feedback         string         `json:"feedback,omitempty"`
	OutboundResponse string         `json:"outbound_response,omitempty"`
}

// ExecutionState is the durable snapshot of one triage execution. The
// engine owns all mutation; the execution store only persists snapshots.
type ExecutionState struct {
	ID         ExecutionID   `json:"id"`
	Node       Node          `json:"node"`
	Lifecycle  Lifecycle     `json:"lifecycle"`
	Vars       ExecutionVars `json:"vars"`
	Suspension *Suspension   `json:"suspension,omitempty"`
	Transcript []StepEvent   `json:"transcript"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// NewExecution creates an execution positioned at the ingest node.
func NewExecution(id ExecutionID, channel, sender, message, threadTS string) *ExecutionState {
	now := time.Now().UTC()
	return &ExecutionState{
		ID:        id,
		Node:      NodeIngest,
		Lifecycle: LifecycleRunning,
		Vars: ExecutionVars{
			Channel:  channel,
			Sender:   sender,
			Message:  message,
			ThreadTS: threadTS,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendStep records a transcript entry for a node transition.
func (e *ExecutionState) AppendStep(node Node, summary string) {
	e.Transcript = append(e.Transcript, StepEvent{
		Node:    node,
		Summary: summary,
		At:      time.Now().UTC(),
	})
}

// Suspend pauses the execution at the given node. An execution can hold at
// most one suspension at a time.
func (e *ExecutionState) Suspend(node Node, prompt string) error {
	if e.Lifecycle == LifecycleSuspended {
		return ErrState(CodeAlreadySuspended, "execution is already suspended at "+string(e.Node))
	}
	if e.Lifecycle == LifecycleCompleted {
		return ErrState(CodeExecutionCompleted, "cannot suspend a completed execution")
	}
	e.Node = node
	e.Lifecycle = LifecycleSuspended
	e.Suspension = &Suspension{
		Node:   node,
		Prompt: prompt,
		Schema: json.RawMessage(FeedbackSchemaJSON),
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete transitions the execution to the done node.
func (e *ExecutionState) Complete() {
	e.Node = NodeDone
	e.Lifecycle = LifecycleCompleted
	e.Suspension = nil
	e.UpdatedAt = time.Now().UTC()
}

// IsSuspended reports whether the execution is waiting on external input.
func (e *ExecutionState) IsSuspended() bool {
	return e.Lifecycle == LifecycleSuspended
}

// IsTerminal reports whether the execution has reached done.
func (e *ExecutionState) IsTerminal() bool {
	return e.Lifecycle == LifecycleCompleted
}

// Validate checks snapshot invariants before persistence.
func (e *ExecutionState) Validate() error {
	if e.ID == "" {
		return ErrValidation(CodeMissingExecutionID, "execution ID cannot be empty")
	}
	if e.Lifecycle == LifecycleSuspended && e.Suspension == nil {
		return ErrState(CodeCorruptSnapshot, "suspended execution has no suspension payload")
	}
	if e.Lifecycle != LifecycleSuspended && e.Suspension != nil {
		return ErrState(CodeCorruptSnapshot, "non-suspended execution carries a suspension payload")
	}
	return nil
}

// TerminalOutcome is what an execution produced once it reached done.
type TerminalOutcome struct {
	ExecutionID      ExecutionID    `json:"execution_id"`
	Classification   Classification `json:"classification"`
	Rationale        string         `json:"rationale,omitempty"`
	Notification     string         `json:"notification,omitempty"`
	Feedback         string         `json:"feedback,omitempty"`
	OutboundResponse string         `json:"outbound_response,omitempty"`
	Transcript       []StepEvent    `json:"events"`
}

// Outcome assembles the terminal outcome from the execution's variables.
func (e *ExecutionState) Outcome() TerminalOutcome {
	return TerminalOutcome{
		ExecutionID:      e.ID,
		Classification:   e.Vars.Classification,
		Rationale:        e.Vars.Rationale,
		Notification:     e.Vars.Notification,
		Feedback:         e.Vars.Feedback,
		OutboundResponse: e.Vars.OutboundResponse,
		Transcript:       e.Transcript,
	}
}
