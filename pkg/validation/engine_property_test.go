//go:build property
// +build property

package validation_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/intake/pkg/validation"
)

const formSchema = `{
	"type": "object",
	"required": ["name", "code"],
	"properties": {
		"name": {"type": "string", "minLength": 2, "maxLength": 8},
		"code": {"type": "string", "pattern": "^[A-Z]+$"},
		"notes": {"type": "array", "maxItems": 2, "uniqueItems": true}
	}
}`

func mustSchema(t *testing.T) *validation.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("https://intake.schemas.local/p.json", strings.NewReader(formSchema)); err != nil {
		t.Fatal(err)
	}
	tree, err := c.Compile("https://intake.schemas.local/p.json")
	if err != nil {
		t.Fatal(err)
	}
	return &validation.Schema{Tree: tree, FieldOrder: []string{"code", "name"}}
}

// Property: Validate is a pure function of its inputs and its guidance lines
// up one to one with its errors.
func TestValidateDeterminism(t *testing.T) {
	s := mustSchema(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same input yields same ordered errors", prop.ForAll(
		func(name, code string, notes []string, drop bool) bool {
			data := map[string]any{"name": name, "code": code}
			if len(notes) > 0 {
				data["notes"] = notes
			}
			if drop {
				delete(data, "name")
			}
			before := len(data)

			r1 := validation.Validate(s, data)
			r2 := validation.Validate(s, data)
			if !reflect.DeepEqual(r1, r2) {
				return false
			}
			if len(data) != before {
				return false
			}
			if len(validation.Guide(s, r1.Errors)) != len(r1.Errors) {
				return false
			}
			if r1.Valid != (len(r1.Errors) == 0) {
				return false
			}
			if len(r1.Errors) > 0 && strings.Count(validation.Summary(r1.Errors), "(") != len(r1.Errors) {
				return false
			}
			return true
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
		gen.Bool(),
	))

	properties.Property("errors are already in sorted order", prop.ForAll(
		func(name, code string) bool {
			r := validation.Validate(s, map[string]any{"name": name, "code": code})
			sorted := append(r.Errors[:0:0], r.Errors...)
			validation.Sort(s, sorted)
			return reflect.DeepEqual(sorted, r.Errors)
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
