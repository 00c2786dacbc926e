package cmd

import (
	"context"
	"fmt"

	"github.com/sriyan983/slack-triage/internal/adapters/openai"
	"github.com/sriyan983/slack-triage/internal/adapters/slack"
	"github.com/sriyan983/slack-triage/internal/adapters/store"
	"github.com/sriyan983/slack-triage/internal/core"
	"github.com/sriyan983/slack-triage/internal/events"
	"github.com/sriyan983/slack-triage/internal/triage"
)

// app bundles the wired pipeline for one command invocation.
type app struct {
	store     store.Store
	bus       *events.EventBus
	messenger core.Messenger
	service   *triage.Service
	scheduler *triage.Scheduler
	sweeper   *triage.Sweeper
}

func (a *app) Close() {
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		logger.Warn("closing store", "error", err)
	}
}

// consoleMessenger prints outbound messages instead of sending them.
// Used when no Slack bot token is configured, e.g. local development.
type consoleMessenger struct{}

func (consoleMessenger) Send(ctx context.Context, msg core.OutboundMessage) error {
	fmt.Printf("-> %s: %s\n", msg.Channel, msg.Text)
	return nil
}

// buildApp wires the store, collaborators, engine, scheduler, bridge,
// and service from the loaded config.
func buildApp() (*app, error) {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	bus := events.New(256)

	llm, err := openai.NewClient(cfg.Classifier)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("classifier config: %w (set classifier.api_key or TRIAGE_CLASSIFIER_API_KEY)", err)
	}

	var messenger core.Messenger
	if cfg.Slack.BotToken != "" {
		client, err := slack.NewClient(cfg.Slack.BotToken, cfg.Slack.BotPrefix)
		if err != nil {
			st.Close()
			return nil, err
		}
		messenger = client
	} else {
		logger.Warn("no slack bot token configured, outbound messages print to stdout")
		messenger = consoleMessenger{}
	}

	engine := triage.NewEngine(llm, llm, bus, logger)
	scheduler := triage.NewScheduler(cfg.Scheduler, engine, st, st, messenger, nil, bus, logger)
	bridge := triage.NewResumeBridge(engine, st, st, scheduler.Locks(), logger)
	service := triage.NewService(st, st, scheduler, bridge, messenger, bus, logger)
	sweeper := triage.NewSweeper(cfg.Retention, st, st, logger)

	return &app{
		store:     st,
		bus:       bus,
		messenger: messenger,
		service:   service,
		scheduler: scheduler,
		sweeper:   sweeper,
	}, nil
}
