package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sriyan983/slack-triage/internal/core"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "triage.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func submission(ts string) core.Submission {
	return core.Submission{
		DedupKey:  core.DedupKey("C1", ts, "U1", "need a review"),
		Channel:   "C1",
		Sender:    "U1",
		Text:      "need a review",
		ArrivalTS: time.Now().UTC(),
	}
}

func TestSubmit_IdempotentAcrossRedelivery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sub := submission("1700000000.000100")

	first, created, err := s.Submit(ctx, sub)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !created {
		t.Fatal("first Submit() created = false")
	}
	if first.Status != core.StatusPending {
		t.Errorf("Status = %s, want pending", first.Status)
	}

	// Redelivery N times yields the same record, created exactly once.
	for i := 0; i < 5; i++ {
		rec, created, err := s.Submit(ctx, sub)
		if err != nil {
			t.Fatalf("Submit() #%d error = %v", i, err)
		}
		if created {
			t.Errorf("Submit() #%d created = true, want false", i)
		}
		if rec.ID != first.ID {
			t.Errorf("Submit() #%d ID = %d, want %d", i, rec.ID, first.ID)
		}
	}

	pending, err := s.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending count = %d, want 1", len(pending))
	}
}

func TestSubmit_RejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	sub := submission("1700000000.000100")
	sub.Channel = ""

	_, _, err := s.Submit(context.Background(), sub)
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Errorf("error = %v, want validation category", err)
	}
}

func TestListPending_OldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		ts := fmt.Sprintf("1700000%03d.000100", i)
		sub := submission(ts)
		sub.DedupKey = core.DedupKey("C1", ts, "U1", "need a review")
		sub.ArrivalTS = base.Add(time.Duration(2-i) * time.Minute) // reverse order
		if _, _, err := s.Submit(ctx, sub); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	pending, err := s.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending count = %d, want 3", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].ArrivalTS.Before(pending[i-1].ArrivalTS) {
			t.Errorf("pending not sorted oldest first at index %d", i)
		}
	}

	limited, err := s.ListPending(ctx, 2)
	if err != nil {
		t.Fatalf("ListPending(2) error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored, got %d records", len(limited))
	}
}

func TestMark_TransitionsAndCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, _, err := s.Submit(ctx, submission("1700000000.000100"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	execID := core.NewExecutionID()
	if err := s.Mark(ctx, rec.ID, core.RecordUpdate{
		Status:      core.StatusProcessing,
		ExecutionID: &execID,
	}); err != nil {
		t.Fatalf("Mark(processing) error = %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != core.StatusProcessing {
		t.Errorf("Status = %s, want processing", got.Status)
	}
	if got.ExecutionID != execID {
		t.Errorf("ExecutionID = %s, want %s", got.ExecutionID, execID)
	}

	class := core.ClassificationNotify
	rationale := "status update for the team"
	if err := s.Mark(ctx, rec.ID, core.RecordUpdate{
		Status:         core.ProcessedStatus(class),
		Classification: &class,
		Rationale:      &rationale,
	}); err != nil {
		t.Fatalf("Mark(processed) error = %v", err)
	}

	// Backward transition is rejected.
	err = s.Mark(ctx, rec.ID, core.RecordUpdate{Status: core.StatusPending})
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr.Code != core.CodeStatusConflict {
		t.Errorf("backward Mark error = %v, want %s", err, core.CodeStatusConflict)
	}

	// The rejected update must not have touched the row.
	got, err = s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != core.ProcessedStatus(class) {
		t.Errorf("Status after rejected Mark = %s", got.Status)
	}
	if got.Classification != class || got.Rationale != rationale {
		t.Errorf("fields lost after rejected Mark: %+v", got)
	}
}

func TestMark_FailedRetryLoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, _, err := s.Submit(ctx, submission("1700000000.000100"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	lastErr := "classifier collaborator unavailable"
	if err := s.Mark(ctx, rec.ID, core.RecordUpdate{Status: core.StatusProcessing}); err != nil {
		t.Fatal(err)
	}
	if err := s.Mark(ctx, rec.ID, core.RecordUpdate{Status: core.StatusFailed, LastError: &lastErr}); err != nil {
		t.Fatal(err)
	}
	// failed -> pending is the retry edge.
	if err := s.Mark(ctx, rec.ID, core.RecordUpdate{Status: core.StatusPending}); err != nil {
		t.Errorf("Mark(failed -> pending) error = %v", err)
	}

	pending, err := s.ListPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("record did not return to the pending queue")
	}
	if pending[0].LastError != lastErr {
		t.Errorf("LastError = %q, want %q", pending[0].LastError, lastErr)
	}
}

func TestRequeueStale_ParksOnlyOldProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old, _, err := s.Submit(ctx, submission("1700000000.000100"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := s.Mark(ctx, old.ID, core.RecordUpdate{Status: core.StatusProcessing}); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	cutoff := time.Now().UTC()

	recent, _, err := s.Submit(ctx, submission("1700000000.000200"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := s.Mark(ctx, recent.ID, core.RecordUpdate{Status: core.StatusProcessing}); err != nil {
		t.Fatalf("Mark() error = %v", err)
	}
	untouched, _, err := s.Submit(ctx, submission("1700000000.000300"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	n, err := s.RequeueStale(ctx, cutoff)
	if err != nil {
		t.Fatalf("RequeueStale() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("RequeueStale() = %d, want 1", n)
	}

	got, err := s.Get(ctx, old.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != core.StatusFailed {
		t.Errorf("stale record Status = %s, want failed", got.Status)
	}
	if got.LastError == "" {
		t.Error("stale record LastError is empty")
	}

	for _, tt := range []struct {
		id   core.RecordID
		want core.ProcessingStatus
	}{
		{recent.ID, core.StatusProcessing},
		{untouched.ID, core.StatusPending},
	} {
		refreshed, err := s.Get(ctx, tt.id)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if refreshed.Status != tt.want {
			t.Errorf("record %d Status = %s, want %s untouched", tt.id, refreshed.Status, tt.want)
		}
	}

	// The parked record flows through the normal failed requeue.
	requeued, err := s.RequeueFailed(ctx)
	if err != nil {
		t.Fatalf("RequeueFailed() error = %v", err)
	}
	if requeued != 1 {
		t.Errorf("RequeueFailed() = %d, want 1", requeued)
	}
}

func TestMark_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Mark(context.Background(), 999, core.RecordUpdate{Status: core.StatusProcessing})
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("error = %v, want not_found category", err)
	}
}

func TestExecutionStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := core.NewExecution(core.NewExecutionID(), "C1", "U1", "please review the RR", "")
	exec.Vars.Classification = core.ClassificationRespond
	exec.AppendStep(core.NodeClassify, "classified as respond")
	if err := exec.Suspend(core.NodeRespondWait, "How should I respond?"); err != nil {
		t.Fatal(err)
	}

	if err := s.Save(ctx, exec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	ok, err := s.Exists(ctx, exec.ID)
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}

	loaded, err := s.Load(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ID != exec.ID || loaded.Node != core.NodeRespondWait {
		t.Errorf("loaded snapshot = %+v", loaded)
	}
	if !loaded.IsSuspended() {
		t.Error("loaded execution lost its suspension")
	}
	if loaded.Suspension.Prompt != "How should I respond?" {
		t.Errorf("Prompt = %q", loaded.Suspension.Prompt)
	}
	if len(loaded.Transcript) != 1 {
		t.Errorf("Transcript length = %d, want 1", len(loaded.Transcript))
	}

	// Overwrite: resume and complete, then save again.
	loaded.Vars.Feedback = "keep it short"
	loaded.Complete()
	if err := s.Save(ctx, loaded); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	final, err := s.Load(ctx, exec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !final.IsTerminal() || final.Vars.Feedback != "keep it short" {
		t.Errorf("final snapshot = %+v", final)
	}
}

func TestExecutionStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "no-such-execution")
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("error = %v, want not_found category", err)
	}

	ok, err := s.Exists(context.Background(), "no-such-execution")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Exists() = true for missing execution")
	}
}

func TestCountByStatusAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []core.RecordID
	for i := 0; i < 3; i++ {
		sub := submission("1700000000.00010" + string(rune('0'+i)))
		rec, _, err := s.Submit(ctx, sub)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, rec.ID)
	}

	if err := s.Mark(ctx, ids[0], core.RecordUpdate{Status: core.StatusProcessing}); err != nil {
		t.Fatal(err)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if counts[core.StatusPending] != 2 || counts[core.StatusProcessing] != 1 {
		t.Errorf("counts = %v", counts)
	}

	n, err := s.Delete(ctx, ids[1:])
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Delete() = %d, want 2", n)
	}
}

func TestGetByExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, _, err := s.Submit(ctx, submission("1700000000.000100"))
	if err != nil {
		t.Fatal(err)
	}
	execID := core.NewExecutionID()
	if err := s.Mark(ctx, rec.ID, core.RecordUpdate{Status: core.StatusProcessing, ExecutionID: &execID}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetByExecution(ctx, execID)
	if err != nil {
		t.Fatalf("GetByExecution() error = %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("ID = %d, want %d", got.ID, rec.ID)
	}

	if _, err := s.GetByExecution(ctx, "missing"); !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("error = %v, want not_found", err)
	}
}
