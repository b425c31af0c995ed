package submission

import (
	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

// Trigger is an operation that may move a submission between states.
type Trigger string

const (
	TriggerWrite           Trigger = "write"
	TriggerSubmit          Trigger = "submit"
	TriggerSubmitForReview Trigger = "submit_for_review"
	TriggerApprove         Trigger = "approve"
	TriggerReject          Trigger = "reject"
	TriggerRequestChanges  Trigger = "request_changes"
	TriggerFinalize        Trigger = "finalize"
	TriggerCancel          Trigger = "cancel"
	TriggerExpire          Trigger = "expire"
)

func (t Trigger) verb() string {
	switch t {
	case TriggerWrite:
		return "write fields of"
	case TriggerSubmitForReview:
		return "submit"
	case TriggerRequestChanges:
		return "request changes on"
	}
	return string(t)
}

var nonTerminal = []contracts.State{
	contracts.StateDraft,
	contracts.StateInProgress,
	contracts.StateSubmitted,
	contracts.StateNeedsReview,
	contracts.StateApproved,
	contracts.StateRejected,
}

// transitions is the complete lifecycle table: trigger -> from -> to.
// A (trigger, from) pair that is absent is an illegal transition.
var transitions = map[Trigger]map[contracts.State]contracts.State{
	TriggerWrite: {
		contracts.StateDraft:      contracts.StateInProgress,
		contracts.StateInProgress: contracts.StateInProgress,
	},
	TriggerSubmit: {
		contracts.StateInProgress: contracts.StateSubmitted,
	},
	TriggerSubmitForReview: {
		contracts.StateInProgress: contracts.StateNeedsReview,
	},
	TriggerApprove: {
		contracts.StateNeedsReview: contracts.StateApproved,
	},
	TriggerReject: {
		contracts.StateNeedsReview: contracts.StateRejected,
	},
	TriggerRequestChanges: {
		contracts.StateNeedsReview: contracts.StateDraft,
	},
	TriggerFinalize: {
		contracts.StateSubmitted: contracts.StateFinalized,
		contracts.StateApproved:  contracts.StateFinalized,
	},
	TriggerCancel: toAll(contracts.StateCancelled),
	TriggerExpire: toAll(contracts.StateExpired),
}

func toAll(to contracts.State) map[contracts.State]contracts.State {
	m := make(map[contracts.State]contracts.State, len(nonTerminal))
	for _, s := range nonTerminal {
		m[s] = to
	}
	return m
}

// Next returns the state t leads to from from.
func Next(from contracts.State, t Trigger) (contracts.State, bool) {
	to, ok := transitions[t][from]
	return to, ok
}

// Allowed reports whether t may fire in state from.
func Allowed(from contracts.State, t Trigger) bool {
	_, ok := Next(from, t)
	return ok
}

// gate returns the error for firing t on sub, or nil when the transition is
// legal. Terminal and review states get their dedicated error types; every
// other illegal pair is a conflict naming the current state.
func gate(sub *contracts.Submission, t Trigger) *Error {
	if Allowed(sub.State, t) {
		return nil
	}
	switch sub.State {
	case contracts.StateExpired:
		return expired(sub.ID)
	case contracts.StateCancelled:
		return cancelled(sub)
	case contracts.StateNeedsReview:
		switch t {
		case TriggerWrite, TriggerSubmit, TriggerSubmitForReview, TriggerFinalize:
			return needsApproval(sub, t)
		}
	}
	return illegalTransition(sub, t)
}
