package triage

import (
	"context"
	"strings"
	"time"

	"github.com/sriyan983/slack-triage/internal/core"
	"github.com/sriyan983/slack-triage/internal/events"
	"github.com/sriyan983/slack-triage/internal/logging"
)

// Service is the application facade over the ledger, engine, scheduler,
// and resume bridge. The CLI and the HTTP API both drive it.
type Service struct {
	ledger    core.Ledger
	store     core.ExecutionStore
	scheduler *Scheduler
	bridge    *ResumeBridge
	messenger core.Messenger
	bus       *events.EventBus
	logger    *logging.Logger
}

// NewService wires the facade.
func NewService(ledger core.Ledger, store core.ExecutionStore, scheduler *Scheduler, bridge *ResumeBridge, messenger core.Messenger, bus *events.EventBus, logger *logging.Logger) *Service {
	return &Service{
		ledger:    ledger,
		store:     store,
		scheduler: scheduler,
		bridge:    bridge,
		messenger: messenger,
		bus:       bus,
		logger:    logger,
	}
}

// StartResult is what a direct submission produced.
type StartResult struct {
	Record    *core.MessageRecord  `json:"record"`
	Execution *core.ExecutionState `json:"execution,omitempty"`
	Duplicate bool                 `json:"duplicate"`
}

// Start ingests one raw "channel|sender|text" line and processes it
// immediately. Resubmitting the same line returns the existing record
// without spawning a second execution.
func (s *Service) Start(ctx context.Context, raw string) (*StartResult, error) {
	sub, err := ParseRaw(raw)
	if err != nil {
		return nil, err
	}

	rec, created, err := s.ledger.Submit(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !created {
		s.bus.Publish(events.NewMessageDuplicateEvent(int64(rec.ID), rec.DedupKey))
		res := &StartResult{Record: rec, Duplicate: true}
		if rec.ExecutionID != "" {
			if state, err := s.store.Load(ctx, rec.ExecutionID); err == nil {
				res.Execution = state
			}
		}
		return res, nil
	}
	s.bus.Publish(events.NewMessageIngestedEvent(int64(rec.ID), rec.Channel, rec.Sender))

	state, err := s.scheduler.Process(ctx, rec)
	if err != nil {
		return nil, err
	}

	updated, err := s.ledger.Get(ctx, rec.ID)
	if err != nil {
		updated = rec
	}
	return &StartResult{Record: updated, Execution: state}, nil
}

// Resume applies human feedback to a suspended execution. When the
// payload carries an outbound response, it is dispatched to the original
// channel after the resume commits; a failed dispatch marks the record's
// delivery status but does not undo the resume.
func (s *Service) Resume(ctx context.Context, id core.ExecutionID, payload core.FeedbackPayload) (*core.TerminalOutcome, error) {
	outcome, err := s.bridge.Resume(ctx, id, payload)
	if err != nil {
		return nil, err
	}

	if outcome.OutboundResponse != "" {
		s.dispatchResponse(ctx, id, outcome.OutboundResponse)
	}
	return outcome, nil
}

// dispatchResponse sends the human-authored reply and records the
// delivery result on the ledger record.
func (s *Service) dispatchResponse(ctx context.Context, id core.ExecutionID, text string) {
	log := s.logger.WithExecution(string(id))

	rec, err := s.ledger.GetByExecution(ctx, id)
	if err != nil {
		log.Error("no ledger record for resumed execution", "error", err)
		return
	}

	status := core.DeliverySent
	sendErr := s.messenger.Send(ctx, core.OutboundMessage{
		Channel:  rec.Channel,
		Text:     text,
		ThreadTS: rec.ThreadTS,
	})
	if sendErr != nil {
		status = core.DeliveryFailed
		log.Error("outbound response dispatch failed", "channel", rec.Channel, "error", sendErr)
	} else {
		s.bus.Publish(events.NewNotificationSentEvent(string(id), rec.Channel, "respond"))
	}

	now := time.Now().UTC()
	upd := core.RecordUpdate{
		Status:         rec.Status,
		OutboundStatus: &status,
		OutboundAt:     &now,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		upd.LastError = &msg
	}
	if err := s.ledger.Mark(ctx, rec.ID, upd); err != nil {
		log.Warn("delivery status update failed", "error", err)
	}
}

// GetExecution loads one execution snapshot.
func (s *Service) GetExecution(ctx context.Context, id core.ExecutionID) (*core.ExecutionState, error) {
	return s.store.Load(ctx, id)
}

// ListMessages returns records, optionally filtered by classification.
func (s *Service) ListMessages(ctx context.Context, c core.Classification) ([]*core.MessageRecord, error) {
	return s.ledger.ListByClassification(ctx, c)
}

// Stats aggregates record counts per processing status.
func (s *Service) Stats(ctx context.Context) (map[core.ProcessingStatus]int, error) {
	return s.ledger.CountByStatus(ctx)
}

// RunCycle triggers one scheduler pass.
func (s *Service) RunCycle(ctx context.Context) (CycleStats, error) {
	return s.scheduler.RunCycle(ctx)
}

// ParseRaw splits a "channel|sender|text" line into a submission. The
// text segment may itself contain pipes; only the first two are
// structural. The dedup key derives from the content alone, so the same
// line resubmitted collapses into the original record.
func ParseRaw(raw string) (core.Submission, error) {
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 {
		return core.Submission{}, core.ErrValidation(core.CodeMalformedInput,
			"input must be channel|sender|text")
	}
	channel := strings.TrimSpace(parts[0])
	sender := strings.TrimSpace(parts[1])
	text := strings.TrimSpace(parts[2])
	if channel == "" || sender == "" || text == "" {
		return core.Submission{}, core.ErrValidation(core.CodeMalformedInput,
			"channel, sender, and text must all be non-empty")
	}
	return core.Submission{
		DedupKey:  core.DedupKey(channel, "", sender, text),
		Channel:   channel,
		Sender:    sender,
		Text:      text,
		ArrivalTS: time.Now().UTC(),
	}, nil
}
