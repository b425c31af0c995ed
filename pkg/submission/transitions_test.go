package submission

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    contracts.State
		trigger Trigger
		to      contracts.State
	}{
		{contracts.StateDraft, TriggerWrite, contracts.StateInProgress},
		{contracts.StateInProgress, TriggerWrite, contracts.StateInProgress},
		{contracts.StateInProgress, TriggerSubmit, contracts.StateSubmitted},
		{contracts.StateInProgress, TriggerSubmitForReview, contracts.StateNeedsReview},
		{contracts.StateNeedsReview, TriggerApprove, contracts.StateApproved},
		{contracts.StateNeedsReview, TriggerReject, contracts.StateRejected},
		{contracts.StateNeedsReview, TriggerRequestChanges, contracts.StateDraft},
		{contracts.StateSubmitted, TriggerFinalize, contracts.StateFinalized},
		{contracts.StateApproved, TriggerFinalize, contracts.StateFinalized},
		{contracts.StateRejected, TriggerCancel, contracts.StateCancelled},
		{contracts.StateApproved, TriggerExpire, contracts.StateExpired},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"/"+string(tc.trigger), func(t *testing.T) {
			to, ok := Next(tc.from, tc.trigger)
			require.True(t, ok)
			assert.Equal(t, tc.to, to)
		})
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	triggers := []Trigger{
		TriggerWrite, TriggerSubmit, TriggerSubmitForReview, TriggerApprove, TriggerReject,
		TriggerRequestChanges, TriggerFinalize, TriggerCancel, TriggerExpire,
	}
	for _, s := range contracts.AllStates {
		if !s.Terminal() {
			continue
		}
		for _, tr := range triggers {
			assert.False(t, Allowed(s, tr), "%s must not leave %s", tr, s)
		}
	}
}

func TestGate(t *testing.T) {
	sub := func(s contracts.State) *contracts.Submission {
		return &contracts.Submission{ID: "s1", State: s}
	}

	assert.Nil(t, gate(sub(contracts.StateDraft), TriggerWrite))

	e := gate(sub(contracts.StateExpired), TriggerWrite)
	require.NotNil(t, e)
	assert.Equal(t, contracts.ErrExpired, e.Type)

	e = gate(sub(contracts.StateCancelled), TriggerSubmit)
	require.NotNil(t, e)
	assert.Equal(t, contracts.ErrCancelled, e.Type)

	for _, tr := range []Trigger{TriggerWrite, TriggerSubmit, TriggerFinalize} {
		e = gate(sub(contracts.StateNeedsReview), tr)
		require.NotNil(t, e)
		assert.Equal(t, contracts.ErrNeedsApproval, e.Type, tr)
	}

	e = gate(sub(contracts.StateNeedsReview), TriggerExpire)
	assert.Nil(t, e)

	e = gate(sub(contracts.StateRejected), TriggerApprove)
	require.NotNil(t, e)
	assert.Equal(t, contracts.ErrConflict, e.Type)
	assert.False(t, e.Retryable)
	assert.Equal(t, "cannot approve a submission in state rejected", e.Message)

	e = gate(sub(contracts.StateDraft), TriggerSubmit)
	require.NotNil(t, e)
	assert.Equal(t, contracts.ErrConflict, e.Type)
}

func TestNewToken(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		tok, err := NewToken()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(tok, "rt_"))
		assert.Len(t, tok, 3+43)
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}
