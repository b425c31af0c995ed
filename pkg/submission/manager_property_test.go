//go:build property
// +build property

package submission_test

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/submission"
	"github.com/Mindburn-Labs/intake/pkg/submission/submissiontest"
)

// op codes driven by the generator.
const (
	opWrite = iota
	opWriteStale
	opSubmit
	opCancel
	opFinalize
	opTick
	opCount
)

// Property: whatever sequence of calls is made, the token rotates exactly
// when an operation succeeds, failed calls leave no trace, and a terminal
// state is never left.
func TestLifecycleInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)

	properties.Property("token rotation and event log track successful operations", prop.ForAll(
		func(ops []int) bool {
			f := submissiontest.New(t)
			ctx := context.Background()
			sub := f.Create(t, "contact", nil)
			token := sub.VersionToken
			stale := token
			events := 1
			var terminal contracts.State

			for i, op := range ops {
				var (
					got *contracts.Submission
					err error
				)
				switch op % opCount {
				case opWrite:
					got, err = f.Manager.SetFields(ctx, sub.ID, token, map[string]any{"name": string(rune('a' + i%26))}, submissiontest.Agent)
				case opWriteStale:
					got, err = f.Manager.SetFields(ctx, sub.ID, stale, map[string]any{"email": "x@example.com"}, submissiontest.Human)
				case opSubmit:
					got, err = f.Manager.Submit(ctx, sub.ID, token, submissiontest.Agent)
				case opCancel:
					got, err = f.Manager.Cancel(ctx, sub.ID, token, submissiontest.Human, "")
				case opFinalize:
					got, err = f.Manager.Finalize(ctx, sub.ID, token, submissiontest.Agent, nil)
				case opTick:
					f.Clock.Advance(10 * time.Minute)
					continue
				}

				current, gerr := f.Manager.Get(ctx, sub.ID)
				if gerr != nil {
					return false
				}
				if current.State == contracts.StateExpired && terminal == "" {
					terminal = contracts.StateExpired
					events++
				}
				if err != nil {
					if _, ok := submission.AsError(err); !ok {
						return false
					}
					if current.State != contracts.StateExpired && current.VersionToken != token {
						return false
					}
					if len(f.EventTypes(sub.ID)) != events {
						return false
					}
					continue
				}
				if terminal != "" {
					return false
				}
				if got.VersionToken == token {
					return false
				}
				stale, token = token, got.VersionToken
				events++
				if got.State.Terminal() {
					terminal = got.State
				}
				if len(f.EventTypes(sub.ID)) != events {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(12, gen.IntRange(0, opCount-1)),
	))

	properties.TestingRun(t)
}
