// Package validation turns constraint-engine violations into the closed
// FieldError vocabulary and derives NextAction guidance from it.
//
// Every function in this package is pure: no state, no I/O, and validation
// failures are returned as data, never as Go errors or panics.
package validation

import (
	"errors"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

// Schema is the already-compiled constraint tree for one form definition,
// plus the presentation metadata the engine needs for ordering and guidance.
type Schema struct {
	Tree *jsonschema.Schema
	// FieldOrder lists top-level or dotted paths in display order. Errors are
	// sorted by the position of the closest declared ancestor.
	FieldOrder []string
	// FileFields lists paths that hold uploaded files.
	FileFields []string
}

// Result is the outcome of a validation run.
type Result struct {
	Valid  bool                   `json:"valid"`
	Errors []contracts.FieldError `json:"errors,omitempty"`
	// Unmapped holds keyword locations the code table did not recognise.
	// Each of them is still reported as invalid_value in Errors.
	Unmapped []string `json:"unmapped,omitempty"`
}

// Validate checks data, a flat dot-path map, against the full schema.
func Validate(s *Schema, data map[string]any) Result {
	doc, errs := Expand(data)
	var unmapped []string
	if s != nil && s.Tree != nil {
		var more []contracts.FieldError
		more, unmapped = evaluate(s.Tree, doc)
		errs = append(errs, more...)
	}
	return finish(s, errs, unmapped)
}

// ValidateRequiredOnly reports only missing required values. It is the
// partial-readiness check used before a submission leaves draft.
func ValidateRequiredOnly(s *Schema, data map[string]any) Result {
	r := Validate(s, data)
	return filter(s, r, func(fe contracts.FieldError) bool {
		return fe.Code == contracts.CodeRequired
	})
}

// ValidateSubset reports only errors at or beneath the given paths. It lets a
// step-scoped caller check the fields it owns without tripping over the rest
// of the form.
func ValidateSubset(s *Schema, data map[string]any, paths []string) Result {
	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		if np, err := NormalizePath(p); err == nil {
			roots = append(roots, np)
		}
	}
	r := Validate(s, data)
	return filter(s, r, func(fe contracts.FieldError) bool {
		return withinAny(fe.Path, roots)
	})
}

func filter(s *Schema, r Result, keep func(contracts.FieldError) bool) Result {
	var kept []contracts.FieldError
	for _, fe := range r.Errors {
		if keep(fe) {
			kept = append(kept, fe)
		}
	}
	return finish(s, kept, r.Unmapped)
}

func finish(s *Schema, errs []contracts.FieldError, unmapped []string) Result {
	Sort(s, errs)
	sort.Strings(unmapped)
	return Result{Valid: len(errs) == 0, Errors: errs, Unmapped: unmapped}
}

// evaluate runs the constraint engine and flattens its error tree.
func evaluate(tree *jsonschema.Schema, doc map[string]any) ([]contracts.FieldError, []string) {
	err := tree.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		// Infinite $ref loops and similar engine faults are not the caller's
		// to fix.
		return []contracts.FieldError{{
			Path:    "",
			Code:    contracts.CodeInvalidValue,
			Message: err.Error(),
		}}, []string{"engine: " + err.Error()}
	}
	c := collector{doc: doc, seen: make(map[string]bool)}
	c.walk(ve)
	return c.errs, c.unmapped
}

type collector struct {
	doc      map[string]any
	errs     []contracts.FieldError
	unmapped []string
	seen     map[string]bool
}

func (c *collector) walk(ve *jsonschema.ValidationError) {
	kw := keywordOf(ve.KeywordLocation)
	if len(ve.Causes) > 0 && kw != "minContains" {
		for _, cause := range ve.Causes {
			c.walk(cause)
		}
		return
	}

	base := pointerToPath(ve.InstanceLocation)
	code, known := codeFor(kw)
	if !known {
		c.unmapped = append(c.unmapped, ve.KeywordLocation)
	}

	switch kw {
	case "required":
		for _, name := range quotedNames(ve.Message) {
			c.add(contracts.FieldError{
				Path:    joinPath(base, name),
				Code:    contracts.CodeRequired,
				Message: "value is required",
			})
		}
		return
	case "dependentRequired", "dependencies":
		if names := quotedNames(ve.Message); len(names) > 0 {
			c.add(contracts.FieldError{
				Path:    joinPath(base, names[0]),
				Code:    contracts.CodeRequired,
				Message: ve.Message,
			})
			return
		}
	}

	value, found := lookup(c.doc, ve.InstanceLocation)
	c.add(contracts.FieldError{
		Path:     base,
		Code:     code,
		Message:  ve.Message,
		Expected: expectedFor(kw, ve.Message),
		Received: receivedFor(kw, ve.Message, value, found),
	})
}

// add drops exact duplicates, which anyOf branches sharing a constraint
// would otherwise produce.
func (c *collector) add(fe contracts.FieldError) {
	key := fe.Path + "\x00" + string(fe.Code) + "\x00" + fe.Message
	if c.seen[key] {
		return
	}
	c.seen[key] = true
	c.errs = append(c.errs, fe)
}

// Sort orders errs in place: by declared field order, then path, then code
// rank, then message.
func Sort(s *Schema, errs []contracts.FieldError) {
	var order []string
	if s != nil {
		order = s.FieldOrder
	}
	sort.SliceStable(errs, func(i, j int) bool {
		a, b := errs[i], errs[j]
		if oa, ob := orderIndex(order, a.Path), orderIndex(order, b.Path); oa != ob {
			return oa < ob
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if ra, rb := a.Code.Rank(), b.Code.Rank(); ra != rb {
			return ra < rb
		}
		return a.Message < b.Message
	})
}

// orderIndex returns the position of the longest entry in order that is path
// or an ancestor of path. Undeclared paths sort after every declared one.
func orderIndex(order []string, path string) int {
	best, bestLen := len(order), -1
	for i, p := range order {
		if (path == p || strings.HasPrefix(path, p+".")) && len(p) > bestLen {
			best, bestLen = i, len(p)
		}
	}
	return best
}
