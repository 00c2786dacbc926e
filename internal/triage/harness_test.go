package triage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sriyan983/slack-triage/internal/adapters/store"
	"github.com/sriyan983/slack-triage/internal/config"
	"github.com/sriyan983/slack-triage/internal/core"
	"github.com/sriyan983/slack-triage/internal/events"
	"github.com/sriyan983/slack-triage/internal/logging"
)

// fakeClassifier classifies by consulting classifyFn, counting calls.
type fakeClassifier struct {
	mu         sync.Mutex
	classifyFn func(req core.ClassifyRequest) (*core.ClassifyResult, error)
	calls      int
}

func (f *fakeClassifier) Classify(ctx context.Context, req core.ClassifyRequest) (*core.ClassifyResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.classifyFn(req)
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// classifyAs returns a classifier that always answers with one category.
func classifyAs(c core.Classification) *fakeClassifier {
	return &fakeClassifier{
		classifyFn: func(core.ClassifyRequest) (*core.ClassifyResult, error) {
			return &core.ClassifyResult{Classification: c, Rationale: "test verdict"}, nil
		},
	}
}

type fakeNotifier struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeNotifier) ComposeNotification(ctx context.Context, nc core.NotificationContext) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return fmt.Sprintf("heads up: %s in %s needs attention", nc.Sender, nc.Channel), nil
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []core.OutboundMessage
	err  error
}

func (f *fakeMessenger) Send(ctx context.Context, msg core.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMessenger) sentMessages() []core.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.OutboundMessage(nil), f.sent...)
}

// harness wires a full pipeline over a throwaway SQLite store with fast
// retries and a nop logger.
type harness struct {
	store      store.Store
	classifier *fakeClassifier
	notifier   *fakeNotifier
	messenger  *fakeMessenger
	engine     *Engine
	scheduler  *Scheduler
	bridge     *ResumeBridge
	service    *Service
	bus        *events.EventBus
}

func newHarness(t *testing.T, classifier *fakeClassifier) *harness {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "triage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.New(64)
	t.Cleanup(bus.Close)

	logger := logging.NewNop()
	notifier := &fakeNotifier{}
	messenger := &fakeMessenger{}

	engine := NewEngine(classifier, notifier, bus, logger).
		WithRetryPolicy(NewRetryPolicy(WithMaxAttempts(1), WithBaseDelay(time.Millisecond)))

	scheduler := NewScheduler(config.SchedulerConfig{
		Interval:  time.Second,
		BatchSize: 10,
	}, engine, st, st, messenger, nil, bus, logger)

	bridge := NewResumeBridge(engine, st, st, scheduler.Locks(), logger)
	service := NewService(st, st, scheduler, bridge, messenger, bus, logger)

	return &harness{
		store:      st,
		classifier: classifier,
		notifier:   notifier,
		messenger:  messenger,
		engine:     engine,
		scheduler:  scheduler,
		bridge:     bridge,
		service:    service,
		bus:        bus,
	}
}

// submitRecord puts one message into the ledger directly.
func (h *harness) submitRecord(t *testing.T, channel, sender, text string) *core.MessageRecord {
	t.Helper()
	rec, created, err := h.store.Submit(context.Background(), core.Submission{
		DedupKey:  core.DedupKey(channel, fmt.Sprintf("%d", time.Now().UnixNano()), sender, text),
		Channel:   channel,
		Sender:    sender,
		Text:      text,
		ArrivalTS: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, created)
	return rec
}
