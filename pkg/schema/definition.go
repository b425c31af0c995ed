// Package schema supplies form definitions to the submission runtime: the
// compiled constraint tree, the approval gate, the default TTL and the
// presentation metadata validation needs for ordering and guidance.
package schema

import (
	"context"
	"errors"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/intake/pkg/validation"
)

// ErrUnknownDefinition is returned when no definition matches an id.
var ErrUnknownDefinition = errors.New("unknown definition")

// Definition is one declared form, already compiled.
type Definition struct {
	Name    string
	Version *semver.Version // nil for unversioned definitions
	Title   string

	// TTL is the default lifetime of a submission against this definition.
	// Zero defers to the runtime default.
	TTL time.Duration

	Schema *validation.Schema
	Gate   ApprovalGate
}

// ID returns the canonical identifier, "name@version" or "name".
func (d *Definition) ID() string {
	if d.Version == nil {
		return d.Name
	}
	return d.Name + "@" + d.Version.String()
}

// Provider resolves definition ids. Implementations must be safe for
// concurrent use.
type Provider interface {
	Lookup(ctx context.Context, id string) (*Definition, error)
}
