package triage

import (
	"context"

	"github.com/sriyan983/slack-triage/internal/core"
	"github.com/sriyan983/slack-triage/internal/logging"
)

// ResumeBridge reattaches human feedback to suspended executions. It is
// the only path by which a suspended execution moves again.
type ResumeBridge struct {
	engine *Engine
	ledger core.Ledger
	store  core.ExecutionStore
	locks  *executionLocks
	logger *logging.Logger
}

// NewResumeBridge creates a resume bridge sharing the scheduler's lock
// registry so resumes and cycles over the same execution serialize.
func NewResumeBridge(engine *Engine, ledger core.Ledger, store core.ExecutionStore, locks *executionLocks, logger *logging.Logger) *ResumeBridge {
	if locks == nil {
		locks = newExecutionLocks()
	}
	return &ResumeBridge{
		engine: engine,
		ledger: ledger,
		store:  store,
		locks:  locks,
		logger: logger,
	}
}

// Resume loads a suspended execution, applies the feedback payload, runs
// it to completion, and persists both the snapshot and the ledger record.
// Structural errors (unknown ID, not suspended, bad payload) mutate
// nothing; only a successful resume writes.
func (b *ResumeBridge) Resume(ctx context.Context, id core.ExecutionID, payload core.FeedbackPayload) (*core.TerminalOutcome, error) {
	unlock := b.locks.Lock(id)
	defer unlock()

	state, err := b.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	// Lifecycle and payload checks happen before any mutation so a
	// conflicting resume leaves the snapshot exactly as it was.
	if !state.IsSuspended() {
		return nil, core.ErrInvalidResumeState(state.ID, state.Lifecycle)
	}
	if payload.Feedback == "" {
		return nil, core.ErrValidation(core.CodeInvalidFeedback, "feedback cannot be empty")
	}

	if err := b.engine.Resume(ctx, state, payload); err != nil {
		return nil, err
	}

	if err := b.store.Save(ctx, state); err != nil {
		return nil, err
	}

	if err := b.markResumed(ctx, state); err != nil {
		// The snapshot is already terminal; a ledger miss here only
		// costs bookkeeping, so log and return the outcome anyway.
		b.logger.WithExecution(string(id)).Warn("ledger update after resume failed", "error", err)
	}

	outcome := state.Outcome()
	return &outcome, nil
}

// markResumed moves the ledger record backing the execution to completed
// and stores the human-provided outbound text.
func (b *ResumeBridge) markResumed(ctx context.Context, state *core.ExecutionState) error {
	rec, err := b.ledger.GetByExecution(ctx, state.ID)
	if err != nil {
		return err
	}

	upd := core.RecordUpdate{Status: core.StatusCompleted}
	if state.Vars.OutboundResponse != "" {
		text := state.Vars.OutboundResponse
		upd.OutboundText = &text
	}
	return b.ledger.Mark(ctx, rec.ID, upd)
}
