package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/intake/pkg/validation"
)

// ApprovalGate configures the human review step of a definition.
//
// With When empty the gate applies whenever Required is set. With When set
// the gate applies exactly when the CEL expression evaluates to true. The
// expression sees two variables: "fields", the flat dot-path map, and "data",
// the same values expanded into a nested document.
type ApprovalGate struct {
	Required  bool
	When      string
	Reviewers []string
	ReviewURL string

	program cel.Program
}

var gateEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
})

// NewApprovalGate compiles when, if any, into a program.
func NewApprovalGate(required bool, when string, reviewers []string, reviewURL string) (ApprovalGate, error) {
	g := ApprovalGate{Required: required, When: when, Reviewers: reviewers, ReviewURL: reviewURL}
	if when == "" {
		return g, nil
	}
	env, err := gateEnv()
	if err != nil {
		return ApprovalGate{}, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(when)
	if issues != nil && issues.Err() != nil {
		return ApprovalGate{}, fmt.Errorf("approval condition compile: %w", issues.Err())
	}
	prg, err := env.Program(ast, cel.CostLimit(10000))
	if err != nil {
		return ApprovalGate{}, fmt.Errorf("approval condition program: %w", err)
	}
	g.Required = true
	g.program = prg
	return g, nil
}

// Configured reports whether the definition declares a gate at all.
func (g ApprovalGate) Configured() bool {
	return g.Required || g.When != ""
}

// Applies reports whether a submission holding fields must be reviewed.
// Evaluation failures fail closed: the gate applies and the error is
// returned so the caller can log it.
func (g ApprovalGate) Applies(fields map[string]any) (bool, error) {
	if !g.Configured() {
		return false, nil
	}
	if g.program == nil {
		if g.When != "" {
			return true, fmt.Errorf("approval condition %q was never compiled", g.When)
		}
		return true, nil
	}

	flat := make(map[string]any, len(fields))
	for k, v := range fields {
		nv, err := validation.NormalizeValue(v)
		if err != nil {
			return true, fmt.Errorf("approval condition input %q: %w", k, err)
		}
		flat[k] = celValue(nv)
	}
	doc, _ := validation.Expand(fields)

	out, _, err := g.program.Eval(map[string]any{
		"fields": flat,
		"data":   celValue(doc),
	})
	if err != nil {
		return true, fmt.Errorf("approval condition eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return true, fmt.Errorf("approval condition %q is not boolean", g.When)
	}
	return val, nil
}

// celValue replaces json.Number with int64 or float64, which CEL's native
// type adapter understands.
func celValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = celValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = celValue(inner)
		}
		return out
	default:
		return v
	}
}
