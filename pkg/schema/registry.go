package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Registry is an in-memory Provider. Ids take three forms:
//
//	kyc            highest registered version (or the unversioned entry)
//	kyc@1.2.0      that exact version
//	kyc@^1.2       highest version satisfying the constraint
type Registry struct {
	mu    sync.RWMutex
	forms map[string][]*Definition // sorted by ascending version
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{forms: make(map[string][]*Definition)}
}

// Register adds d. Registering the same name and version twice is an error.
func (r *Registry) Register(d *Definition) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("definition must have a name")
	}
	if strings.Contains(d.Name, "@") {
		return fmt.Errorf("definition name %q must not contain '@'", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.forms[d.Name]
	for _, e := range existing {
		if sameVersion(e.Version, d.Version) {
			return fmt.Errorf("definition %q already registered", d.ID())
		}
	}
	existing = append(existing, d)
	sort.SliceStable(existing, func(i, j int) bool {
		return lessVersion(existing[i].Version, existing[j].Version)
	})
	r.forms[d.Name] = existing
	return nil
}

// Lookup resolves id to a definition.
func (r *Registry) Lookup(_ context.Context, id string) (*Definition, error) {
	name, want, versioned := strings.Cut(id, "@")
	r.mu.RLock()
	defs := r.forms[name]
	r.mu.RUnlock()
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, id)
	}
	if !versioned {
		return defs[len(defs)-1], nil
	}

	c, err := semver.NewConstraint(want)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnknownDefinition, id, err)
	}
	for i := len(defs) - 1; i >= 0; i-- {
		if v := defs[i].Version; v != nil && c.Check(v) {
			return defs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, id)
}

// IDs lists the canonical id of every registered definition, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, defs := range r.forms {
		for _, d := range defs {
			ids = append(ids, d.ID())
		}
	}
	sort.Strings(ids)
	return ids
}

func sameVersion(a, b *semver.Version) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

// lessVersion orders unversioned entries first.
func lessVersion(a, b *semver.Version) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.LessThan(b)
}
