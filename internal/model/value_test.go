package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEq(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"int64 equal", Int64Value(1), Int64Value(1), true},
		{"int64 vs uint64 never cross-compare", Int64Value(1), UInt64Value(1), false},
		{"string equal", StringValue("a"), StringValue("a"), true},
		{"null equal", Null(), Null(), true},
		{"array equal", ArrayValue([]Value{Int64Value(1), StringValue("x")}), ArrayValue([]Value{Int64Value(1), StringValue("x")}), true},
		{"array different length", ArrayValue([]Value{Int64Value(1)}), ArrayValue([]Value{}), false},
		{"object equal", ObjectValue(map[string]Value{"a": Int64Value(1)}), ObjectValue(map[string]Value{"a": Int64Value(1)}), true},
		{"object missing key", ObjectValue(map[string]Value{"a": Int64Value(1)}), ObjectValue(map[string]Value{"b": Int64Value(1)}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Eq(tt.a, tt.b))
		})
	}
}

func TestCmpNumericUnifiesAcrossTags(t *testing.T) {
	assert.Equal(t, Equal, Cmp(Int64Value(5), DoubleValue(5)))
	assert.Equal(t, Less, Cmp(Int64Value(1), UInt64Value(2)))
	assert.Equal(t, Greater, Cmp(DoubleValue(3.5), Int64Value(3)))
}

func TestCmpIncomparable(t *testing.T) {
	assert.Equal(t, Incomparable, Cmp(StringValue("a"), Int64Value(1)))
}

func TestCmpNaNIncomparable(t *testing.T) {
	assert.Equal(t, Incomparable, Cmp(DoubleValue(naN()), Int64Value(1)))
}

func naN() float64 {
	var zero float64
	return zero / zero
}

func TestStringFormContainersHaveNone(t *testing.T) {
	_, ok := StringForm(ArrayValue(nil))
	assert.False(t, ok)
	_, ok = StringForm(ObjectValue(nil))
	assert.False(t, ok)
	_, ok = StringForm(Null())
	assert.False(t, ok)
}

func TestMatchWildcard(t *testing.T) {
	assert.True(t, MatchWildcard(StringValue("hello.world"), "hello.*"))
	assert.True(t, MatchWildcard(StringValue("abc"), "a?c"))
	assert.False(t, MatchWildcard(StringValue("abc"), "xyz"))
}

func TestLevelFromStringRoundTrip(t *testing.T) {
	for _, lvl := range []Level{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError} {
		parsed, ok := LevelFromString(lvl.String())
		require.True(t, ok)
		assert.Equal(t, lvl, parsed)
	}
	_, ok := LevelFromString("BOGUS")
	assert.False(t, ok)
}

func TestResourceIDRoundTrip(t *testing.T) {
	id := NewResourceID()
	parsed, ok := ParseResourceID(id.String())
	require.True(t, ok)
	assert.Equal(t, id, parsed)

	_, ok = ParseResourceID("not-a-uuid")
	assert.False(t, ok)
}

func TestSpanIDString(t *testing.T) {
	id := SpanID{ResourceID: NewResourceID(), Local: 42}
	assert.Contains(t, id.String(), ":42")
}

func TestSortedKeysDeterministic(t *testing.T) {
	m := map[string]Value{"b": Int64Value(1), "a": Int64Value(2), "c": Int64Value(3)}
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(m))
}
