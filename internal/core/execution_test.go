package core

import (
	"errors"
	"testing"
)

func TestNewExecution(t *testing.T) {
	id := NewExecutionID()
	e := NewExecution(id, "C1", "U1", "can you sign the RR?", "")

	if e.Node != NodeIngest {
		t.Errorf("Node = %s, want %s", e.Node, NodeIngest)
	}
	if e.Lifecycle != LifecycleRunning {
		t.Errorf("Lifecycle = %s, want %s", e.Lifecycle, LifecycleRunning)
	}
	if e.Vars.Channel != "C1" || e.Vars.Sender != "U1" {
		t.Errorf("Vars = %+v, channel/sender not carried", e.Vars)
	}
	if err := e.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestExecutionState_Suspend(t *testing.T) {
	e := NewExecution(NewExecutionID(), "C1", "U1", "help", "")

	if err := e.Suspend(NodeRespondWait, "Please provide feedback"); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}
	if !e.IsSuspended() {
		t.Fatal("IsSuspended() = false after Suspend")
	}
	if e.Suspension == nil || e.Suspension.Prompt != "Please provide feedback" {
		t.Errorf("Suspension = %+v, prompt not recorded", e.Suspension)
	}
	if len(e.Suspension.Schema) == 0 {
		t.Error("Suspension.Schema is empty")
	}

	// At most one suspension at a time.
	err := e.Suspend(NodeRespondWait, "again")
	if err == nil {
		t.Fatal("second Suspend() error = nil, want ALREADY_SUSPENDED")
	}
	var domErr *DomainError
	if !errors.As(err, &domErr) || domErr.Code != CodeAlreadySuspended {
		t.Errorf("error = %v, want code %s", err, CodeAlreadySuspended)
	}
}

func TestExecutionState_SuspendAfterComplete(t *testing.T) {
	e := NewExecution(NewExecutionID(), "C1", "U1", "help", "")
	e.Complete()

	err := e.Suspend(NodeRespondWait, "too late")
	if err == nil {
		t.Fatal("Suspend() on completed execution succeeded")
	}
}

func TestExecutionState_Complete(t *testing.T) {
	e := NewExecution(NewExecutionID(), "C1", "U1", "help", "")
	if err := e.Suspend(NodeRespondWait, "feedback?"); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}

	e.Complete()
	if e.Node != NodeDone {
		t.Errorf("Node = %s, want %s", e.Node, NodeDone)
	}
	if !e.IsTerminal() {
		t.Error("IsTerminal() = false after Complete")
	}
	if e.Suspension != nil {
		t.Error("Suspension survived Complete")
	}
	if err := e.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestExecutionState_ValidateCorruption(t *testing.T) {
	e := NewExecution(NewExecutionID(), "C1", "U1", "help", "")
	e.Lifecycle = LifecycleSuspended // without suspension payload
	if err := e.Validate(); err == nil {
		t.Error("Validate() passed a suspended execution with no payload")
	}

	e = NewExecution(NewExecutionID(), "C1", "U1", "help", "")
	e.Suspension = &Suspension{Node: NodeRespondWait}
	if err := e.Validate(); err == nil {
		t.Error("Validate() passed a running execution carrying a suspension")
	}
}

func TestExecutionState_Outcome(t *testing.T) {
	e := NewExecution(NewExecutionID(), "C1", "U1", "fyi", "")
	e.Vars.Classification = ClassificationNotify
	e.Vars.Rationale = "status update"
	e.Vars.Notification = "FYI noted"
	e.AppendStep(NodeClassify, "classified as notify")
	e.Complete()

	out := e.Outcome()
	if out.Classification != ClassificationNotify {
		t.Errorf("Classification = %s, want notify", out.Classification)
	}
	if out.Notification != "FYI noted" {
		t.Errorf("Notification = %q", out.Notification)
	}
	if len(out.Transcript) != 1 {
		t.Errorf("Transcript length = %d, want 1", len(out.Transcript))
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrClassifierUnavailable(nil)) {
		t.Error("classifier unavailable should be retryable")
	}
	if IsRetryable(ErrInvalidResumeState("x", LifecycleCompleted)) {
		t.Error("invalid resume state should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors should not be retryable")
	}
}

func TestDomainError_Is(t *testing.T) {
	err := ErrInvalidResumeState("abc", LifecycleRunning)
	target := &DomainError{Category: ErrCatConflict, Code: CodeInvalidResumeState}
	if !errors.Is(err, target) {
		t.Error("errors.Is failed to match category+code")
	}
	if GetCategory(err) != ErrCatConflict {
		t.Errorf("GetCategory = %s, want conflict", GetCategory(err))
	}
}
