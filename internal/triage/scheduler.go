package triage

import (
	"context"
	"time"

	"github.com/sriyan983/slack-triage/internal/config"
	"github.com/sriyan983/slack-triage/internal/core"
	"github.com/sriyan983/slack-triage/internal/events"
	"github.com/sriyan983/slack-triage/internal/logging"
)

// CycleStats summarizes one scheduler pass over the ledger.
type CycleStats struct {
	Picked    int           `json:"picked"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Requeued  int           `json:"requeued"`
	Duration  time.Duration `json:"duration"`
}

// Scheduler drains pending ledger records in batches, driving each one
// through the engine. One record's failure never stops the batch; failed
// records park in the ledger and requeue on the next cycle.
type Scheduler struct {
	engine     *Engine
	ledger     core.Ledger
	store      core.ExecutionStore
	messenger  core.Messenger
	locks      *executionLocks
	bus        *events.EventBus
	logger     *logging.Logger
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
}

// NewScheduler creates a batch scheduler from the scheduler config.
func NewScheduler(cfg config.SchedulerConfig, engine *Engine, ledger core.Ledger, store core.ExecutionStore, messenger core.Messenger, locks *executionLocks, bus *events.EventBus, logger *logging.Logger) *Scheduler {
	if locks == nil {
		locks = newExecutionLocks()
	}
	return &Scheduler{
		engine:     engine,
		ledger:     ledger,
		store:      store,
		messenger:  messenger,
		locks:      locks,
		bus:        bus,
		logger:     logger,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		staleAfter: cfg.StaleAfter,
	}
}

// Locks exposes the scheduler's lock registry so the resume bridge can
// share it.
func (s *Scheduler) Locks() *executionLocks {
	return s.locks
}

// Run drives cycles on a fixed interval until the context is canceled.
// An immediate first cycle runs before the ticker starts.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunCycle(ctx); err != nil {
			s.logger.Error("scheduler cycle aborted", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle executes one pass: park stale processing records, requeue
// failed ones, pick up to the batch size of pending records, and process
// each in isolation. The returned error covers batch-level failures
// only; per-record failures are absorbed into the stats.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	stats := CycleStats{}

	if s.staleAfter > 0 {
		stale, err := s.ledger.RequeueStale(ctx, start.Add(-s.staleAfter))
		if err != nil {
			return stats, err
		}
		if stale > 0 {
			s.logger.Warn("stale processing records parked as failed", "count", stale)
		}
	}

	requeued, err := s.ledger.RequeueFailed(ctx)
	if err != nil {
		return stats, err
	}
	stats.Requeued = requeued
	if requeued > 0 {
		s.logger.Info("requeued failed records", "count", requeued)
	}

	records, err := s.ledger.ListPending(ctx, s.batchSize)
	if err != nil {
		return stats, err
	}
	stats.Picked = len(records)

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Process(ctx, rec); err != nil {
			stats.Failed++
			s.logger.WithRecord(int64(rec.ID)).Error("record processing failed", "error", err)
			continue
		}
		stats.Succeeded++
	}

	stats.Duration = time.Since(start)
	s.bus.Publish(events.NewCycleCompletedEvent(stats.Picked, stats.Succeeded, stats.Failed, stats.Duration))
	if stats.Picked > 0 {
		s.logger.Info("cycle completed",
			"picked", stats.Picked, "succeeded", stats.Succeeded,
			"failed", stats.Failed, "duration", stats.Duration)
	}
	return stats, nil
}

// Process runs one ledger record through the engine and records the
// outcome. A record that already carries an execution id is re-driven
// from its persisted node; earlier steps, classification included, do
// not repeat. Any error parks the record as failed for the requeue at
// the next cycle start.
func (s *Scheduler) Process(ctx context.Context, rec *core.MessageRecord) (*core.ExecutionState, error) {
	if err := s.ledger.Mark(ctx, rec.ID, core.RecordUpdate{Status: core.StatusProcessing}); err != nil {
		return nil, err
	}

	if rec.ExecutionID != "" {
		unlock := s.locks.Lock(rec.ExecutionID)
		defer unlock()

		state, err := s.store.Load(ctx, rec.ExecutionID)
		switch {
		case err == nil:
			var runErr error
			if !state.IsSuspended() && !state.IsTerminal() {
				runErr = s.engine.Drive(ctx, state)
			}
			return state, s.finish(ctx, rec, state, runErr)
		case core.IsCategory(err, core.ErrCatNotFound):
			// Snapshot lost; start over below with a fresh execution.
		default:
			return nil, s.parkFailed(ctx, rec, nil, err)
		}
	}

	state, runErr := s.engine.Start(ctx, rec)

	// Serialize against resumes from the moment the execution becomes
	// discoverable through the store.
	unlock := s.locks.Lock(state.ID)
	defer unlock()

	execID := state.ID
	if err := s.ledger.Mark(ctx, rec.ID, core.RecordUpdate{
		Status:      core.StatusProcessing,
		ExecutionID: &execID,
	}); err != nil {
		return state, err
	}

	return state, s.finish(ctx, rec, state, runErr)
}

// finish persists the state and records the outcome, parking the record
// as failed when anything went wrong.
func (s *Scheduler) finish(ctx context.Context, rec *core.MessageRecord, state *core.ExecutionState, runErr error) error {
	if runErr != nil {
		return s.parkFailed(ctx, rec, state, runErr)
	}
	if err := s.store.Save(ctx, state); err != nil {
		return s.parkFailed(ctx, rec, state, err)
	}
	if err := s.recordOutcome(ctx, rec, state); err != nil {
		return s.parkFailed(ctx, rec, state, err)
	}
	return nil
}

// recordOutcome writes the execution's result back to the ledger and
// dispatches the notification for notify-classified messages.
func (s *Scheduler) recordOutcome(ctx context.Context, rec *core.MessageRecord, state *core.ExecutionState) error {
	classification := state.Vars.Classification
	rationale := state.Vars.Rationale

	upd := core.RecordUpdate{
		Status:         core.ProcessedStatus(classification),
		Classification: &classification,
		Rationale:      &rationale,
	}

	if state.IsSuspended() {
		// respond: the record parks at processed:respond until a human
		// resumes the execution through the bridge.
		return s.ledger.Mark(ctx, rec.ID, upd)
	}

	if classification == core.ClassificationNotify {
		if err := s.dispatchNotification(ctx, rec, state, &upd); err != nil {
			return err
		}
	}
	return s.ledger.Mark(ctx, rec.ID, upd)
}

// dispatchNotification sends the composed notification unless the ledger
// already shows a delivery for this record. The delivery bookkeeping is
// persisted on its own, before the terminal mark, so a failure after the
// send cannot trigger a second one on the retry.
func (s *Scheduler) dispatchNotification(ctx context.Context, rec *core.MessageRecord, state *core.ExecutionState, upd *core.RecordUpdate) error {
	text := state.Vars.Notification
	upd.Notification = &text

	if rec.OutboundStatus == core.DeliverySent {
		return nil
	}

	if err := s.messenger.Send(ctx, core.OutboundMessage{
		Channel:  rec.Channel,
		Text:     text,
		ThreadTS: rec.ThreadTS,
	}); err != nil {
		return err
	}

	now := time.Now().UTC()
	sent := core.DeliverySent
	if err := s.ledger.Mark(ctx, rec.ID, core.RecordUpdate{
		Status:         core.StatusProcessing,
		OutboundText:   &text,
		OutboundStatus: &sent,
		OutboundAt:     &now,
	}); err != nil {
		return err
	}

	s.bus.Publish(events.NewNotificationSentEvent(string(state.ID), rec.Channel, "notify"))
	return nil
}

// parkFailed marks the record failed with the error text and persists
// whatever snapshot exists so the transcript survives for inspection.
func (s *Scheduler) parkFailed(ctx context.Context, rec *core.MessageRecord, state *core.ExecutionState, cause error) error {
	if state != nil {
		if saveErr := s.store.Save(ctx, state); saveErr != nil {
			s.logger.WithRecord(int64(rec.ID)).Warn("snapshot save for failed record lost", "error", saveErr)
		}
	}

	msg := cause.Error()
	if markErr := s.ledger.Mark(ctx, rec.ID, core.RecordUpdate{
		Status:    core.StatusFailed,
		LastError: &msg,
	}); markErr != nil {
		s.logger.WithRecord(int64(rec.ID)).Error("failed to park record", "error", markErr)
	}
	return cause
}
