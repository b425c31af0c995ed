package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/validation"
)

func TestLoadDir(t *testing.T) {
	reg, err := LoadDir("testdata")
	require.NoError(t, err)
	assert.Equal(t, []string{"contact", "kyc@1.0.0", "kyc@1.1.0"}, reg.IDs())

	contact, err := reg.Lookup(context.Background(), "contact")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, contact.TTL)
	assert.False(t, contact.Gate.Configured())
	assert.Equal(t, []string{"name", "email"}, contact.Schema.FieldOrder)

	r := validation.Validate(contact.Schema, map[string]any{"name": "", "email": "nope"})
	require.Len(t, r.Errors, 2)
	assert.Equal(t, contracts.CodeTooShort, r.Errors[0].Code)
	assert.Equal(t, contracts.CodeInvalidFormat, r.Errors[1].Code)
}

func TestRegistry_VersionResolution(t *testing.T) {
	reg, err := LoadDir("testdata")
	require.NoError(t, err)
	ctx := context.Background()

	tests := map[string]string{
		"kyc":       "kyc@1.1.0",
		"kyc@1.0.0": "kyc@1.0.0",
		"kyc@~1.0":  "kyc@1.0.0",
		"kyc@^1":    "kyc@1.1.0",
		"kyc@>=1.1": "kyc@1.1.0",
		"contact":   "contact",
	}
	for id, want := range tests {
		def, err := reg.Lookup(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, want, def.ID(), id)
	}

	for _, id := range []string{"nope", "kyc@2.0.0", "kyc@not-a-version", "contact@1.0.0"} {
		_, err := reg.Lookup(ctx, id)
		assert.ErrorIs(t, err, ErrUnknownDefinition, id)
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := NewRegistry()
	def, err := Parse([]byte("id: a\nversion: 1.0.0\nschema: {}\n"))
	require.NoError(t, err)
	require.NoError(t, reg.Register(def))
	assert.Error(t, reg.Register(def))
	assert.Error(t, reg.Register(&Definition{Name: "x@y"}))
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"missing id":    "schema: {}\n",
		"bad version":   "id: a\nversion: one\n",
		"bad ttl":       "id: a\nttl: forever\n",
		"bad schema":    "id: a\nschema: '{\"type\": 12}'\n",
		"bad condition": "id: a\napproval:\n  when: 'fields[\"x\"] >'\n",
		"bad yaml":      "id: [\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestApprovalGate(t *testing.T) {
	reg, err := LoadDir("testdata")
	require.NoError(t, err)
	ctx := context.Background()

	v1, err := reg.Lookup(ctx, "kyc@1.0.0")
	require.NoError(t, err)
	applies, err := v1.Gate.Applies(map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.True(t, applies)
	assert.Equal(t, []string{"compliance"}, v1.Gate.Reviewers)

	v2, err := reg.Lookup(ctx, "kyc")
	require.NoError(t, err)
	assert.True(t, v2.Gate.Configured())
	assert.Equal(t, "https://review.example.com/kyc", v2.Gate.ReviewURL)

	applies, err = v2.Gate.Applies(map[string]any{"amount": 50})
	require.NoError(t, err)
	assert.False(t, applies)

	applies, err = v2.Gate.Applies(map[string]any{"amount": 5000.5})
	require.NoError(t, err)
	assert.True(t, applies)

	applies, err = v2.Gate.Applies(map[string]any{"name": "no amount"})
	require.NoError(t, err)
	assert.False(t, applies)
}

func TestApprovalGate_FlatFieldsAndFailClosed(t *testing.T) {
	g, err := NewApprovalGate(false, `fields["limits.daily"] >= 100`, nil, "")
	require.NoError(t, err)

	applies, err := g.Applies(map[string]any{"limits.daily": 100})
	require.NoError(t, err)
	assert.True(t, applies)

	// Missing key is an evaluation error; the gate fails closed.
	applies, err = g.Applies(map[string]any{})
	assert.Error(t, err)
	assert.True(t, applies)

	none := ApprovalGate{}
	applies, err = none.Applies(map[string]any{"x": 1})
	require.NoError(t, err)
	assert.False(t, applies)
}
