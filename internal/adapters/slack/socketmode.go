package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/sriyan983/slack-triage/internal/core"
	"github.com/sriyan983/slack-triage/internal/events"
	"github.com/sriyan983/slack-triage/internal/logging"
)

// SocketListener ingests messages over Slack Socket Mode and submits them
// to the ledger. Duplicate delivery is expected; the ledger absorbs it.
type SocketListener struct {
	apiBase    string
	appToken   string
	botPrefix  string
	channels   map[string]bool // empty means all
	ledger     core.Ledger
	bus        *events.EventBus
	logger     *logging.Logger
	httpClient *http.Client

	// reconnect backoff bounds
	minBackoff time.Duration
	maxBackoff time.Duration

	// maxEventAge drops stale events replayed after downtime. Anything
	// that old is better handled by a fresh submission.
	maxEventAge time.Duration
	now         func() time.Time
}

// SocketOption configures the listener.
type SocketOption func(*SocketListener)

// WithSocketAPIBase overrides the Web API base URL, mainly for tests.
func WithSocketAPIBase(base string) SocketOption {
	return func(l *SocketListener) {
		l.apiBase = strings.TrimRight(base, "/")
	}
}

// NewSocketListener creates a Socket Mode listener.
func NewSocketListener(appToken, botPrefix string, channels []string, ledger core.Ledger, bus *events.EventBus, logger *logging.Logger, opts ...SocketOption) (*SocketListener, error) {
	if appToken == "" {
		return nil, errors.New("slack: app token must not be empty")
	}
	if botPrefix == "" {
		return nil, errors.New("slack: bot prefix must not be empty")
	}
	allow := make(map[string]bool, len(channels))
	for _, ch := range channels {
		allow[ch] = true
	}
	l := &SocketListener{
		apiBase:    defaultAPIBase,
		appToken:   appToken,
		botPrefix:  botPrefix,
		channels:   allow,
		ledger:     ledger,
		bus:        bus,
		logger:     logger,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		minBackoff: time.Second,
		maxBackoff: time.Minute,

		maxEventAge: time.Hour,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// envelope is the Socket Mode wire frame.
type envelope struct {
	EnvelopeID string          `json:"envelope_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

type ack struct {
	EnvelopeID string `json:"envelope_id"`
}

type eventsAPIPayload struct {
	Event messageEvent `json:"event"`
}

// messageEvent is the subset of Slack message events the listener consumes.
type messageEvent struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
}

// Run connects and consumes events until the context is canceled.
// Disconnects trigger reconnection with exponential backoff.
func (l *SocketListener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		err := l.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("socket mode connection lost, reconnecting",
			"error", err, "backoff", backoff.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

func (l *SocketListener) runConnection(ctx context.Context) error {
	wsURL, err := l.openConnection(ctx)
	if err != nil {
		return fmt.Errorf("opening socket mode connection: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dialing socket mode URL: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	l.logger.Info("socket mode connected")

	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return fmt.Errorf("reading envelope: %w", err)
		}

		// Ack before processing. Slack redelivers unacked envelopes and
		// the ledger's dedup makes the at-least-once delivery safe.
		if env.EnvelopeID != "" {
			if err := wsjson.Write(ctx, conn, ack{EnvelopeID: env.EnvelopeID}); err != nil {
				return fmt.Errorf("acking envelope: %w", err)
			}
		}

		switch env.Type {
		case "hello":
			continue
		case "disconnect":
			return errors.New("server requested disconnect")
		case "events_api":
			l.handleEventsAPI(ctx, env.Payload)
		}
	}
}

// openConnection calls apps.connections.open and returns the wss URL.
func (l *SocketListener) openConnection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.apiBase+"/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+l.appToken)

	res, err := l.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = res.Body.Close() }()

	var payload struct {
		apiResponse
		URL string `json:"url"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decoding apps.connections.open: %w", err)
	}
	if !payload.OK {
		return "", fmt.Errorf("apps.connections.open failed: %s", payload.Error)
	}
	return payload.URL, nil
}

func (l *SocketListener) handleEventsAPI(ctx context.Context, raw json.RawMessage) {
	var payload eventsAPIPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		l.logger.Warn("dropping malformed events_api payload", "error", err)
		return
	}

	ev := payload.Event
	if reason := l.filterReason(ev); reason != "" {
		l.logger.Debug("skipping event", "reason", reason, "channel", ev.Channel, "ts", ev.TS)
		return
	}

	arrival := parseSlackTS(ev.TS)
	if l.isStale(arrival) {
		l.logger.Debug("skipping stale event", "channel", ev.Channel, "ts", ev.TS)
		return
	}

	sub := core.Submission{
		DedupKey:  core.DedupKey(ev.Channel, ev.TS, ev.User, ev.Text),
		Channel:   ev.Channel,
		Sender:    ev.User,
		Text:      ev.Text,
		ThreadTS:  ev.ThreadTS,
		ArrivalTS: arrival,
	}

	rec, created, err := l.ledger.Submit(ctx, sub)
	if err != nil {
		l.logger.Error("submitting message to ledger", "error", err, "channel", ev.Channel)
		return
	}
	if created {
		l.logger.WithRecord(int64(rec.ID)).WithChannel(ev.Channel).Info("message ingested", "sender", ev.User)
		l.bus.Publish(events.NewMessageIngestedEvent(int64(rec.ID), ev.Channel, ev.User))
	} else {
		l.bus.Publish(events.NewMessageDuplicateEvent(int64(rec.ID), rec.DedupKey))
	}
}

// isStale reports whether an event predates the ingestion window.
func (l *SocketListener) isStale(arrival time.Time) bool {
	return l.maxEventAge > 0 && l.now().Sub(arrival) > l.maxEventAge
}

// filterReason returns a non-empty reason when the event should be skipped.
func (l *SocketListener) filterReason(ev messageEvent) string {
	if ev.Type != "message" {
		return "not a message"
	}
	if ev.Subtype != "" {
		return "subtype " + ev.Subtype
	}
	if ev.BotID != "" {
		return "bot message"
	}
	if ev.User == "" || ev.Text == "" {
		return "missing user or text"
	}
	if strings.HasPrefix(ev.Text, l.botPrefix) {
		return "own outbound marker"
	}
	if len(l.channels) > 0 && !l.channels[ev.Channel] {
		return "channel not allowed"
	}
	return ""
}

// parseSlackTS converts a Slack "1700000000.000100" timestamp to time.Time.
// Falls back to now on malformed input; the value only orders the queue.
func parseSlackTS(ts string) time.Time {
	var sec, usec int64
	if _, err := fmt.Sscanf(ts, "%d.%d", &sec, &usec); err != nil {
		return time.Now().UTC()
	}
	return time.Unix(sec, usec*1000).UTC()
}
