package props

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLiteralKinds(t *testing.T) {
	v, err := ParseLiteral(`"blaa"`)
	require.NoError(t, err)
	assert.Equal(t, KindString, v.Kind)
	assert.Equal(t, "blaa", v.Str)

	v, err = ParseLiteral("true")
	require.NoError(t, err)
	assert.Equal(t, KindBool, v.Kind)
	assert.True(t, v.Bool)

	v, err = ParseLiteral("42")
	require.NoError(t, err)
	assert.Equal(t, KindNumber, v.Kind)
	assert.Equal(t, float64(42), v.Num)

	v, err = ParseLiteral(`d"3.50"`)
	require.NoError(t, err)
	assert.Equal(t, KindDecimal, v.Kind)

	v, err = ParseLiteral(`t"2024-01-02T15:04:05Z"`)
	require.NoError(t, err)
	assert.Equal(t, KindDateTime, v.Kind)

	v, err = ParseLiteral(`v"1.2.3"`)
	require.NoError(t, err)
	assert.Equal(t, KindVersion, v.Kind)

	v, err = ParseLiteral(`["a","b"]`)
	require.NoError(t, err)
	assert.Equal(t, KindList, v.Kind)
	assert.Len(t, v.List, 2)
}

func TestParseLiteralInvalidDecimal(t *testing.T) {
	_, err := ParseLiteral(`d"not-a-number"`)
	require.Error(t, err)
	var target *InvalidLiteralError
	assert.ErrorAs(t, err, &target)
}

func TestStringWildcardEquality(t *testing.T) {
	wildcard := String("blaa*")
	concrete := String("blaablue")
	ok, err := wildcard.Equal(concrete)
	require.NoError(t, err)
	assert.True(t, ok)

	other := String("notblaa")
	ok, err = wildcard.Equal(other)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListContainsEquality(t *testing.T) {
	list := List(String("a"), String("b"), String("c"))
	ok, err := list.Equal(String("b"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = list.Equal(String("z"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTypeMismatch(t *testing.T) {
	_, err := String("x").Equal(Number(1))
	var mismatch *TypeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestFromJSONFlattensNestedDocument(t *testing.T) {
	doc := []byte(`{
		"golem": {
			"inf": {"mem": {"gib": 4}},
			"node": {"debug": {"subnet": "blaa"}}
		}
	}`)
	set, err := FromJSON(doc)
	require.NoError(t, err)

	entry, ok := set.Lookup("golem.inf.mem.gib")
	require.True(t, ok)
	assert.Equal(t, float64(4), entry.Value.Num)

	entry, ok = set.Lookup("golem.node.debug.subnet")
	require.True(t, ok)
	assert.Equal(t, "blaa", entry.Value.Str)
}

func TestFromJSONVersionTag(t *testing.T) {
	doc := []byte(`{"golem.runtime.version@v": "1.2.3"}`)
	set, err := FromJSON(doc)
	require.NoError(t, err)
	entry, ok := set.Lookup("golem.runtime.version")
	require.True(t, ok)
	assert.Equal(t, KindVersion, entry.Value.Kind)
}

func TestFromAssertionsDynamicMarker(t *testing.T) {
	set, err := FromAssertions([]string{"custom.facet=*"})
	require.NoError(t, err)
	entry, ok := set.Lookup("custom.facet")
	require.True(t, ok)
	assert.True(t, entry.Dynamic)
}

func TestAspectsDoNotAffectBaseEquality(t *testing.T) {
	set := NewSet()
	set.Set("golem.com.pricing.model", String("linear"))
	set.SetAspect("golem.com.pricing.model", "unit", "GNT")

	entry, ok := set.Lookup("golem.com.pricing.model")
	require.True(t, ok)
	eq, err := entry.Value.Equal(String("linear"))
	require.NoError(t, err)
	assert.True(t, eq)

	aspect, ok := set.Aspect("golem.com.pricing.model", "unit")
	require.True(t, ok)
	assert.Equal(t, "GNT", aspect)
}
