package slack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenerForFilters(t *testing.T, channels []string) *SocketListener {
	t.Helper()
	l, err := NewSocketListener("xapp-test", "[triage-bot]", channels, nil, nil, nil)
	require.NoError(t, err)
	return l
}

func TestFilterReason(t *testing.T) {
	l := listenerForFilters(t, []string{"C1"})

	base := messageEvent{Type: "message", Channel: "C1", User: "U1", Text: "help", TS: "1700000000.000100"}

	tests := []struct {
		name   string
		mutate func(*messageEvent)
		skip   bool
	}{
		{"plain message passes", func(e *messageEvent) {}, false},
		{"non-message type", func(e *messageEvent) { e.Type = "reaction_added" }, true},
		{"edited message subtype", func(e *messageEvent) { e.Subtype = "message_changed" }, true},
		{"bot message", func(e *messageEvent) { e.BotID = "B1" }, true},
		{"own outbound marker", func(e *messageEvent) { e.Text = "[triage-bot] summary" }, true},
		{"empty text", func(e *messageEvent) { e.Text = "" }, true},
		{"missing user", func(e *messageEvent) { e.User = "" }, true},
		{"disallowed channel", func(e *messageEvent) { e.Channel = "C9" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base
			tt.mutate(&ev)
			reason := l.filterReason(ev)
			if tt.skip {
				require.NotEmpty(t, reason)
			} else {
				require.Empty(t, reason)
			}
		})
	}
}

func TestFilterReason_EmptyAllowListAdmitsAll(t *testing.T) {
	l := listenerForFilters(t, nil)
	ev := messageEvent{Type: "message", Channel: "CANY", User: "U1", Text: "hi", TS: "1.0"}
	require.Empty(t, l.filterReason(ev))
}

func TestIsStale(t *testing.T) {
	l := listenerForFilters(t, nil)
	now := time.Unix(1700010000, 0)
	l.now = func() time.Time { return now }

	require.False(t, l.isStale(now.Add(-30*time.Minute)))
	require.True(t, l.isStale(now.Add(-2*time.Hour)))

	// Zero max age disables the window.
	l.maxEventAge = 0
	require.False(t, l.isStale(now.Add(-48*time.Hour)))
}

func TestParseSlackTS(t *testing.T) {
	ts := parseSlackTS("1700000000.000100")
	require.Equal(t, time.Unix(1700000000, 100*1000).UTC(), ts)

	// Malformed input falls back to a recent time.
	fallback := parseSlackTS("garbage")
	require.WithinDuration(t, time.Now(), fallback, time.Minute)
}
