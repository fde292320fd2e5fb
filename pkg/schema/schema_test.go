package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrF(f float64) *float64 { return &f }
func ptrI(i int) *int         { return &i }

func userAttrs() Attributes {
	return Attributes{
		"name":  {Type: TypeString, Required: true},
		"email": {Type: TypeEmail},
		"age":   {Type: TypeNumber, Min: ptrF(0), Max: ptrF(150)},
		"address": {Type: TypeObject, Attributes: Attributes{
			"city":    {Type: TypeString},
			"country": {Type: TypeString, Default: "US"},
		}},
		"active": {Type: TypeBoolean, Default: true},
	}
}

// ============================================================================
// Version creation
// ============================================================================

func TestNewVersionAssignsStableTokens(t *testing.T) {
	t.Parallel()

	v, err := NewVersion("v1", userAttrs())
	require.NoError(t, err)

	// Tokens follow the lexicographic path order.
	assert.Equal(t, "t0", v.Token("active"))
	assert.Equal(t, "t1", v.Token("address.city"))
	assert.Equal(t, "t2", v.Token("address.country"))
	assert.Equal(t, "t3", v.Token("age"))
	assert.Equal(t, "t4", v.Token("email"))
	assert.Equal(t, "t5", v.Token("name"))

	assert.Equal(t, "address.city", v.PathOf("t1"))
	assert.Empty(t, v.Token("missing"))
}

func TestHashIsPureFunctionOfDefinitions(t *testing.T) {
	t.Parallel()

	a, err := NewVersion("v1", userAttrs())
	require.NoError(t, err)
	b, err := NewVersion("v7", userAttrs())
	require.NoError(t, err)
	assert.Equal(t, a.Hash, b.Hash)

	changed := userAttrs()
	changed["name"].Required = false
	c, err := NewVersion("v1", changed)
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, c.Hash)
}

func TestNewVersionRejectsBadDefinitions(t *testing.T) {
	t.Parallel()

	_, err := NewVersion("v1", Attributes{"x": {Type: "integer"}})
	assert.Error(t, err)

	_, err = NewVersion("v1", Attributes{"a.b": {Type: TypeString}})
	assert.Error(t, err)

	_, err = NewVersion("v1", Attributes{"x": {Type: TypeString, Attributes: Attributes{"y": {Type: TypeString}}}})
	assert.Error(t, err)
}

func TestNextVersionID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "v1", NextVersionID(nil))
	assert.Equal(t, "v3", NextVersionID([]string{"v1", "v2"}))
	assert.Equal(t, "v11", NextVersionID([]string{"v10", "v9", "junk"}))
}

// ============================================================================
// Validation
// ============================================================================

func TestValidateCollectsAllFailures(t *testing.T) {
	t.Parallel()

	v, err := NewVersion("v1", userAttrs())
	require.NoError(t, err)

	fields := v.Validate(map[string]any{
		"email": "not-an-email",
		"age":   float64(200),
	})

	rules := map[string]string{}
	for _, f := range fields {
		rules[f.Field] = f.Rule
	}
	assert.Equal(t, "required", rules["name"])
	assert.Equal(t, "email", rules["email"])
	assert.Equal(t, "max", rules["age"])
	assert.Len(t, fields, 3)
}

func TestValidateAcceptsGoodRecord(t *testing.T) {
	t.Parallel()

	v, err := NewVersion("v1", userAttrs())
	require.NoError(t, err)

	fields := v.Validate(map[string]any{
		"name":         "alice",
		"email":        "alice@example.com",
		"age":          float64(30),
		"address.city": "Milan",
		"active":       true,
	})
	assert.Empty(t, fields)
}

func TestValidateStringRules(t *testing.T) {
	t.Parallel()

	v, err := NewVersion("v1", Attributes{
		"code": {Type: TypeString, MinLength: ptrI(3), MaxLength: ptrI(5), Pattern: "^[A-Z]+$"},
		"tier": {Type: TypeString, Enum: []string{"free", "pro"}},
	})
	require.NoError(t, err)

	fields := v.Validate(map[string]any{"code": "ab", "tier": "gold"})
	rules := map[string]bool{}
	for _, f := range fields {
		rules[f.Field+"/"+f.Rule] = true
	}
	assert.True(t, rules["code/minLength"])
	assert.True(t, rules["code/pattern"])
	assert.True(t, rules["tier/enum"])
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	v, err := NewVersion("v1", userAttrs())
	require.NoError(t, err)

	out := v.ApplyDefaults(map[string]any{"name": "bob"})
	assert.Equal(t, "bob", out["name"])
	assert.Equal(t, true, out["active"])
	assert.Equal(t, "US", out["address.country"])
	_, hasAge := out["age"]
	assert.False(t, hasAge)
}

// ============================================================================
// Coercion round trips
// ============================================================================

func TestCoerceParseRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		attr *Attribute
		val  any
		wire string
	}{
		{"string", &Attribute{Type: TypeString}, "hello", "hello"},
		{"integer number", &Attribute{Type: TypeNumber}, float64(42), "42"},
		{"decimal number", &Attribute{Type: TypeNumber}, 3.14, "3.14"},
		{"negative", &Attribute{Type: TypeNumber}, float64(-7), "-7"},
		{"bool", &Attribute{Type: TypeBoolean}, true, "true"},
		{"date", &Attribute{Type: TypeDate}, "2026-01-02T03:04:05Z", "2026-01-02T03:04:05Z"},
		{"array", &Attribute{Type: TypeArray}, []any{"a", "b"}, `["a","b"]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire, err := CoerceValue(tc.attr, tc.val)
			require.NoError(t, err)
			assert.Equal(t, tc.wire, wire)

			back, err := ParseValue(tc.attr, wire)
			require.NoError(t, err)
			assert.Equal(t, tc.val, back)
		})
	}
}

func TestCoerceDateNormalizesToUTC(t *testing.T) {
	t.Parallel()

	wire, err := CoerceValue(&Attribute{Type: TypeDate}, "2026-01-02T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T08:00:00Z", wire)
}

// ============================================================================
// Data flattening
// ============================================================================

func TestFlattenUnflattenData(t *testing.T) {
	t.Parallel()

	v, err := NewVersion("v1", userAttrs())
	require.NoError(t, err)

	flat := v.FlattenData(map[string]any{
		"name": "alice",
		"address": map[string]any{
			"city":    "Milan",
			"country": "IT",
		},
	})
	assert.Equal(t, "alice", flat["name"])
	assert.Equal(t, "Milan", flat["address.city"])
	assert.Equal(t, "IT", flat["address.country"])

	nested := UnflattenData(flat)
	addr, ok := nested["address"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Milan", addr["city"])
}

// ============================================================================
// Migration
// ============================================================================

func TestDiffAndMigrate(t *testing.T) {
	t.Parallel()

	from, err := NewVersion("v1", Attributes{
		"name":   {Type: TypeString, Required: true},
		"region": {Type: TypeString},
		"count":  {Type: TypeString},
	})
	require.NoError(t, err)

	to, err := NewVersion("v2", Attributes{
		"name":  {Type: TypeString, Required: true},
		"count": {Type: TypeNumber},
		"tier":  {Type: TypeString, Default: "free"},
	})
	require.NoError(t, err)

	changes := Diff(from, to)
	ops := map[string]ChangeOp{}
	for _, c := range changes {
		ops[c.Path] = c.Op
	}
	assert.Equal(t, ChangeRemove, ops["region"])
	assert.Equal(t, ChangeRetype, ops["count"])
	assert.Equal(t, ChangeAdd, ops["tier"])

	out, err := Migrate(map[string]any{
		"name":   "alice",
		"region": "eu",
		"count":  "12",
	}, from, to)
	require.NoError(t, err)

	assert.Equal(t, "alice", out["name"])
	assert.Equal(t, float64(12), out["count"])
	assert.Equal(t, "free", out["tier"])
	_, hasRegion := out["region"]
	assert.False(t, hasRegion)
}

func TestMigrateFailsOnImpossibleRetype(t *testing.T) {
	t.Parallel()

	from, err := NewVersion("v1", Attributes{"x": {Type: TypeString}})
	require.NoError(t, err)
	to, err := NewVersion("v2", Attributes{"x": {Type: TypeNumber}})
	require.NoError(t, err)

	_, err = Migrate(map[string]any{"x": "not a number"}, from, to)
	assert.Error(t, err)
}
