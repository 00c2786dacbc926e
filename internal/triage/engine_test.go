package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sriyan983/slack-triage/internal/core"
)

func TestEngineStart_IgnoreCompletes(t *testing.T) {
	h := newHarness(t, classifyAs(core.ClassificationIgnore))
	rec := h.submitRecord(t, "C1", "U1", "fyi, deployed to staging")

	state, err := h.engine.Start(context.Background(), rec)
	require.NoError(t, err)

	require.True(t, state.IsTerminal())
	require.Equal(t, core.NodeDone, state.Node)
	require.Equal(t, core.ClassificationIgnore, state.Vars.Classification)
	require.Empty(t, state.Vars.Notification)
	require.Equal(t, 0, h.notifier.callCount())
}

func TestEngineStart_NotifyComposesNotification(t *testing.T) {
	h := newHarness(t, classifyAs(core.ClassificationNotify))
	h.notifier.text = "prod latency spiked, U1 is asking in C1"
	rec := h.submitRecord(t, "C1", "U1", "latency dashboard looks bad")

	state, err := h.engine.Start(context.Background(), rec)
	require.NoError(t, err)

	require.True(t, state.IsTerminal())
	require.Equal(t, core.ClassificationNotify, state.Vars.Classification)
	require.Equal(t, "prod latency spiked, U1 is asking in C1", state.Vars.Notification)
	require.Equal(t, 1, h.notifier.callCount())
}

func TestEngineStart_RespondSuspends(t *testing.T) {
	h := newHarness(t, classifyAs(core.ClassificationRespond))
	rec := h.submitRecord(t, "C1", "U1", "can someone review my PR today?")

	state, err := h.engine.Start(context.Background(), rec)
	require.NoError(t, err)

	require.True(t, state.IsSuspended())
	require.Equal(t, core.NodeRespondWait, state.Node)
	require.NotNil(t, state.Suspension)
	require.Equal(t, core.NodeRespondWait, state.Suspension.Node)
	require.NotEmpty(t, state.Suspension.Prompt)
	require.JSONEq(t, core.FeedbackSchemaJSON, string(state.Suspension.Schema))
	require.Equal(t, 0, h.notifier.callCount())
}

func TestEngineStart_ClassifierUnavailableStaysAtClassify(t *testing.T) {
	h := newHarness(t, &fakeClassifier{
		classifyFn: func(core.ClassifyRequest) (*core.ClassifyResult, error) {
			return nil, core.ErrClassifierUnavailable(errors.New("connection refused"))
		},
	})
	rec := h.submitRecord(t, "C1", "U1", "anyone around?")

	state, err := h.engine.Start(context.Background(), rec)
	require.Error(t, err)
	require.True(t, IsRetryExhausted(err) || core.IsRetryable(err))

	require.Equal(t, core.NodeClassify, state.Node)
	require.Equal(t, core.LifecycleRunning, state.Lifecycle)
	require.Empty(t, state.Vars.Classification)
}

func TestEngineStart_UnknownClassificationIsStructural(t *testing.T) {
	h := newHarness(t, &fakeClassifier{
		classifyFn: func(core.ClassifyRequest) (*core.ClassifyResult, error) {
			return &core.ClassifyResult{Classification: "escalate"}, nil
		},
	})
	rec := h.submitRecord(t, "C1", "U1", "weird one")

	state, err := h.engine.Start(context.Background(), rec)
	require.Error(t, err)
	require.False(t, core.IsRetryable(err))
	require.True(t, core.IsCategory(err, core.ErrCatState))
	require.Equal(t, core.NodeRoute, state.Node)
}

func TestEngineResume_CompletesSuspendedExecution(t *testing.T) {
	h := newHarness(t, classifyAs(core.ClassificationRespond))
	rec := h.submitRecord(t, "C1", "U1", "need an answer on the contract")

	state, err := h.engine.Start(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, state.IsSuspended())

	err = h.engine.Resume(context.Background(), state, core.FeedbackPayload{
		Feedback:         "tell them legal signs off Friday",
		OutboundResponse: "Legal will sign off by Friday.",
	})
	require.NoError(t, err)

	require.True(t, state.IsTerminal())
	require.Nil(t, state.Suspension)
	require.Equal(t, "tell them legal signs off Friday", state.Vars.Feedback)
	require.Equal(t, "Legal will sign off by Friday.", state.Vars.OutboundResponse)
}

func TestEngineResume_RejectsNonSuspended(t *testing.T) {
	h := newHarness(t, classifyAs(core.ClassificationIgnore))
	rec := h.submitRecord(t, "C1", "U1", "nothing to see")

	state, err := h.engine.Start(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, state.IsTerminal())

	err = h.engine.Resume(context.Background(), state, core.FeedbackPayload{Feedback: "too late"})
	require.Error(t, err)
	require.True(t, core.IsCategory(err, core.ErrCatConflict))
	require.Empty(t, state.Vars.Feedback)
}

func TestEngineResume_RejectsEmptyFeedback(t *testing.T) {
	h := newHarness(t, classifyAs(core.ClassificationRespond))
	rec := h.submitRecord(t, "C1", "U1", "ping")

	state, err := h.engine.Start(context.Background(), rec)
	require.NoError(t, err)

	err = h.engine.Resume(context.Background(), state, core.FeedbackPayload{})
	require.Error(t, err)
	require.True(t, core.IsCategory(err, core.ErrCatValidation))
	require.True(t, state.IsSuspended())
}

func TestRouteNode(t *testing.T) {
	for _, tc := range []struct {
		classification core.Classification
		want           core.Node
	}{
		{core.ClassificationRespond, core.NodeRespondWait},
		{core.ClassificationNotify, core.NodeNotify},
		{core.ClassificationIgnore, core.NodeIgnore},
	} {
		got, err := routeNode(tc.classification)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := routeNode("defer")
	require.Error(t, err)
}
