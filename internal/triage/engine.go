// Package triage implements the suspendable triage state machine, the
// resume bridge, and the batch scheduler that drives them.
package triage

import (
	"context"
	"fmt"

	"github.com/sriyan983/slack-triage/internal/core"
	"github.com/sriyan983/slack-triage/internal/events"
	"github.com/sriyan983/slack-triage/internal/logging"
)

// respondWaitPrompt is shown to the human reviewing a respond-classified
// message.
const respondWaitPrompt = "This message needs a reply. Provide feedback, and optionally the exact response to send."

// Engine runs executions through the triage graph:
// ingest -> classify -> route -> {respond_wait | notify | ignore} -> done.
// Respond-classified executions suspend at respond_wait until resumed.
type Engine struct {
	classifier core.Classifier
	notifier   core.Notifier
	retry      *RetryPolicy
	bus        *events.EventBus
	logger     *logging.Logger
}

// NewEngine creates a triage engine.
func NewEngine(classifier core.Classifier, notifier core.Notifier, bus *events.EventBus, logger *logging.Logger) *Engine {
	return &Engine{
		classifier: classifier,
		notifier:   notifier,
		retry:      DefaultRetryPolicy(),
		bus:        bus,
		logger:     logger,
	}
}

// WithRetryPolicy overrides the in-pass retry policy.
func (e *Engine) WithRetryPolicy(p *RetryPolicy) *Engine {
	e.retry = p
	return e
}

// Start creates an execution for a ledger record and advances it until it
// suspends, completes, or fails. The caller persists the returned state
// in every case, including errors, so the node position survives.
func (e *Engine) Start(ctx context.Context, rec *core.MessageRecord) (*core.ExecutionState, error) {
	state := core.NewExecution(core.NewExecutionID(), rec.Channel, rec.Sender, rec.Text, rec.ThreadTS)
	state.AppendStep(core.NodeIngest, fmt.Sprintf("ingested message from %s in %s", rec.Sender, rec.Channel))
	state.Node = core.NodeClassify

	e.bus.Publish(events.NewExecutionStartedEvent(string(state.ID), rec.Channel, rec.Sender))

	if err := e.advance(ctx, state); err != nil {
		return state, err
	}
	return state, nil
}

// Drive re-runs a persisted execution from its current node. Steps that
// already ran, classification included, are not repeated; a record whose
// earlier pass failed at notify resumes at notify.
func (e *Engine) Drive(ctx context.Context, state *core.ExecutionState) error {
	return e.advance(ctx, state)
}

// advance runs the graph from the current node until a terminal, a
// suspension, or an error. Errors leave the node unchanged so a later
// pass picks up where this one stopped.
func (e *Engine) advance(ctx context.Context, state *core.ExecutionState) error {
	log := e.logger.WithExecution(string(state.ID))

	for {
		switch state.Node {
		case core.NodeClassify:
			if err := e.classify(ctx, state); err != nil {
				e.bus.PublishPriority(events.NewExecutionFailedEvent(
					string(state.ID), string(state.Node), err, core.IsRetryable(err)))
				return err
			}
			state.Node = core.NodeRoute

		case core.NodeRoute:
			next, err := routeNode(state.Vars.Classification)
			if err != nil {
				e.bus.PublishPriority(events.NewExecutionFailedEvent(
					string(state.ID), string(state.Node), err, false))
				return err
			}
			state.AppendStep(core.NodeRoute, "routed to "+string(next))
			state.Node = next

		case core.NodeRespondWait:
			if err := state.Suspend(core.NodeRespondWait, respondWaitPrompt); err != nil {
				return err
			}
			state.AppendStep(core.NodeRespondWait, "suspended for human feedback")
			log.Info("execution suspended", "node", core.NodeRespondWait)
			e.bus.Publish(events.NewExecutionSuspendedEvent(
				string(state.ID), string(core.NodeRespondWait), respondWaitPrompt))
			return nil

		case core.NodeNotify:
			if err := e.notify(ctx, state); err != nil {
				e.bus.PublishPriority(events.NewExecutionFailedEvent(
					string(state.ID), string(state.Node), err, core.IsRetryable(err)))
				return err
			}
			e.complete(state)
			return nil

		case core.NodeIgnore:
			state.AppendStep(core.NodeIgnore, "no action needed")
			e.complete(state)
			return nil

		case core.NodeDone:
			return nil

		default:
			return core.ErrState(core.CodeCorruptSnapshot,
				"execution stuck at unknown node "+string(state.Node))
		}
	}
}

func (e *Engine) classify(ctx context.Context, state *core.ExecutionState) error {
	var result *core.ClassifyResult
	err := e.retry.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = e.classifier.Classify(ctx, core.ClassifyRequest{
			Channel: state.Vars.Channel,
			Sender:  state.Vars.Sender,
			Message: state.Vars.Message,
		})
		return callErr
	})
	if err != nil {
		return err
	}

	state.Vars.Classification = result.Classification
	state.Vars.Rationale = result.Rationale
	state.AppendStep(core.NodeClassify,
		fmt.Sprintf("classified as %s: %s", result.Classification, result.Rationale))
	return nil
}

func (e *Engine) notify(ctx context.Context, state *core.ExecutionState) error {
	var text string
	err := e.retry.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		text, callErr = e.notifier.ComposeNotification(ctx, core.NotificationContext{
			Channel:        state.Vars.Channel,
			Sender:         state.Vars.Sender,
			Message:        state.Vars.Message,
			Classification: state.Vars.Classification,
			Rationale:      state.Vars.Rationale,
		})
		return callErr
	})
	if err != nil {
		return err
	}

	state.Vars.Notification = text
	state.AppendStep(core.NodeNotify, "composed notification")
	return nil
}

func (e *Engine) complete(state *core.ExecutionState) {
	created := state.CreatedAt
	state.Complete()
	e.logger.WithExecution(string(state.ID)).Info("execution completed",
		"classification", state.Vars.Classification)
	e.bus.Publish(events.NewExecutionCompletedEvent(
		string(state.ID), string(state.Vars.Classification), state.UpdatedAt.Sub(created)))
}

// Resume applies human feedback to a suspended execution and runs it to
// completion. The caller has already verified the lifecycle; this method
// re-checks so state is never mutated on a conflicting resume.
func (e *Engine) Resume(ctx context.Context, state *core.ExecutionState, payload core.FeedbackPayload) error {
	if !state.IsSuspended() {
		return core.ErrInvalidResumeState(state.ID, state.Lifecycle)
	}
	if payload.Feedback == "" {
		return core.ErrValidation(core.CodeInvalidFeedback, "feedback cannot be empty")
	}

	state.Vars.Feedback = payload.Feedback
	state.Vars.OutboundResponse = payload.OutboundResponse
	state.Suspension = nil
	state.Lifecycle = core.LifecycleRunning
	state.AppendStep(core.NodeRespondWait, "resumed with human feedback")

	e.bus.Publish(events.NewExecutionResumedEvent(string(state.ID), payload.OutboundResponse != ""))

	e.complete(state)
	return nil
}

// routeNode maps a classification to its branch of the graph.
func routeNode(c core.Classification) (core.Node, error) {
	switch c {
	case core.ClassificationRespond:
		return core.NodeRespondWait, nil
	case core.ClassificationNotify:
		return core.NodeNotify, nil
	case core.ClassificationIgnore:
		return core.NodeIgnore, nil
	default:
		return "", core.ErrState(core.CodeUnknownClassification,
			"cannot route unknown classification "+string(c))
	}
}
