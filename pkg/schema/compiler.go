package schema

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBaseURL = "https://intake.schemas.local/definitions/"

// Compile turns a JSON Schema document into a constraint tree. Documents
// without "$schema" are treated as draft 2020-12. Format and content
// keywords are asserted, not just annotated.
func Compile(name string, doc []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	c.AssertContent = true

	schemaURL := schemaBaseURL + url.PathEscape(name) + ".schema.json"
	if err := c.AddResource(schemaURL, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("schema %q load failed: %w", name, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema %q compile failed: %w", name, err)
	}
	return compiled, nil
}
