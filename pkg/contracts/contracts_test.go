package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorValidate(t *testing.T) {
	assert.NoError(t, Actor{Kind: ActorHuman, ID: "user-7"}.Validate())
	assert.Error(t, Actor{Kind: "robot", ID: "r2"}.Validate())
	assert.Error(t, Actor{Kind: ActorAgent}.Validate())

	assert.Equal(t, "human:user-7 (Ada)", Actor{Kind: ActorHuman, ID: "user-7", Name: "Ada"}.String())
	assert.Equal(t, "agent:a1", Actor{Kind: ActorAgent, ID: "a1"}.String())
}

func TestStateTerminal(t *testing.T) {
	for _, s := range AllStates {
		want := s == StateFinalized || s == StateCancelled || s == StateExpired
		assert.Equal(t, want, s.Terminal(), s)
		assert.True(t, s.Valid())
	}
	assert.False(t, State("archived").Valid())
}

func TestErrorCodeRank(t *testing.T) {
	assert.Equal(t, 0, CodeRequired.Rank())
	assert.Less(t, CodeTooShort.Rank(), CodePatternMismatch.Rank())
	assert.Equal(t, len(ErrorCodes), ErrorCode("nonsense").Rank())
}

func TestSubmissionClone_DoesNotShare(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	orig := &Submission{
		ID:               "s1",
		Fields:           map[string]any{"address": map[string]any{"city": "Oslo"}, "tags": []any{"a"}},
		FieldAttribution: map[string]Actor{"address": {Kind: ActorAgent, ID: "a1"}},
		ExpiresAt:        now,
	}
	c := orig.Clone()
	c.Fields["address"].(map[string]any)["city"] = "Bergen"
	c.Fields["tags"].([]any)[0] = "b"
	c.FieldAttribution["address"] = Actor{Kind: ActorHuman, ID: "u1"}

	assert.Equal(t, "Oslo", orig.Fields["address"].(map[string]any)["city"])
	assert.Equal(t, "a", orig.Fields["tags"].([]any)[0])
	assert.Equal(t, ActorAgent, orig.FieldAttribution["address"].Kind)

	assert.False(t, orig.Expired(now))
	assert.True(t, orig.Expired(now.Add(time.Nanosecond)))

	var nilSub *Submission
	require.Nil(t, nilSub.Clone())
}

func TestEnvelopeOf(t *testing.T) {
	env := EnvelopeOf(&Submission{ID: "s1", State: StateDraft, VersionToken: "tok"})
	assert.Equal(t, Envelope{SubmissionID: "s1", State: StateDraft, VersionToken: "tok"}, env)
}
