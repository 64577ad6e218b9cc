package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nhbchain/core/market/props"
)

func setWith(pairs ...string) *props.Set {
	set, err := props.FromAssertions(pairs)
	if err != nil {
		panic(err)
	}
	return set
}

func TestEmptyExpressionMatchesEverything(t *testing.T) {
	expr, err := Parse("()")
	require.NoError(t, err)
	out, err := expr.Resolve(props.NewSet())
	require.NoError(t, err)
	assert.True(t, out.IsTrue())
}

func TestSimpleEquality(t *testing.T) {
	expr, err := Parse("(golem.node.debug.subnet=blaa)")
	require.NoError(t, err)
	set := setWith(`golem.node.debug.subnet="blaa"`)
	out, err := expr.Resolve(set)
	require.NoError(t, err)
	assert.True(t, out.IsTrue())

	set2 := setWith(`golem.node.debug.subnet="other"`)
	out2, err := expr.Resolve(set2)
	require.NoError(t, err)
	assert.True(t, out2.IsFalse())
}

func TestPresentOperator(t *testing.T) {
	expr, err := Parse("(golem.node.debug.subnet=*)")
	require.NoError(t, err)
	out, err := expr.Resolve(props.NewSet())
	require.NoError(t, err)
	assert.True(t, out.IsUndefined())
	require.Len(t, out.Refs, 1)
	assert.Equal(t, "golem.node.debug.subnet", out.Refs[0].Name)
}

func TestAndShortCircuitsOnFalse(t *testing.T) {
	expr, err := Parse("(&(a=1)(b=2))")
	require.NoError(t, err)
	set := setWith("a=1", "b=3")
	out, err := expr.Resolve(set)
	require.NoError(t, err)
	assert.True(t, out.IsFalse())
}

func TestAndCollectsUndefinedResidual(t *testing.T) {
	expr, err := Parse("(&(a=1)(c=*))")
	require.NoError(t, err)
	set := setWith("a=1")
	out, err := expr.Resolve(set)
	require.NoError(t, err)
	require.True(t, out.IsUndefined())
	require.Len(t, out.Refs, 1)
	assert.Equal(t, "c", out.Refs[0].Name)

	// Once the missing property is supplied, the residual conclusively
	// resolves, per spec.md P6.
	resolved := setWith("a=1", "c=1")
	final, err := out.Residual.Resolve(resolved)
	require.NoError(t, err)
	assert.True(t, final.IsTrue())
}

func TestOrShortCircuitsOnTrue(t *testing.T) {
	expr, err := Parse("(|(a=1)(b=2))")
	require.NoError(t, err)
	set := setWith("a=1", "b=99")
	out, err := expr.Resolve(set)
	require.NoError(t, err)
	assert.True(t, out.IsTrue())
}

func TestOrAllFalseYieldsFalse(t *testing.T) {
	expr, err := Parse("(|(a=1)(b=2))")
	require.NoError(t, err)
	set := setWith("a=9", "b=9")
	out, err := expr.Resolve(set)
	require.NoError(t, err)
	assert.True(t, out.IsFalse())
}

func TestNotFlipsConclusiveOutcomes(t *testing.T) {
	expr, err := Parse("(!(a=1))")
	require.NoError(t, err)
	out, err := expr.Resolve(setWith("a=1"))
	require.NoError(t, err)
	assert.True(t, out.IsFalse())

	out2, err := expr.Resolve(setWith("a=2"))
	require.NoError(t, err)
	assert.True(t, out2.IsTrue())
}

func TestNotPropagatesUndefined(t *testing.T) {
	expr, err := Parse("(!(a=*))")
	require.NoError(t, err)
	out, err := expr.Resolve(props.NewSet())
	require.NoError(t, err)
	assert.True(t, out.IsUndefined())

	final, err := out.Residual.Resolve(setWith("a=1"))
	require.NoError(t, err)
	assert.True(t, final.IsFalse())
}

func TestOrderingOperators(t *testing.T) {
	expr, err := Parse("(golem.srv.comp.expiration>0)")
	require.NoError(t, err)
	set := setWith("golem.srv.comp.expiration=3")
	out, err := expr.Resolve(set)
	require.NoError(t, err)
	assert.True(t, out.IsTrue())
}

func TestUnknownOperatorFailsAtParse(t *testing.T) {
	_, err := Parse("(a~=1)")
	require.Error(t, err)
}

func TestWildcardOnNonStringIsError(t *testing.T) {
	expr, err := Parse(`(golem.inf.mem.gib=4*)`)
	require.NoError(t, err)
	set := setWith("golem.inf.mem.gib=4")
	_, err = expr.Resolve(set)
	assert.Error(t, err)
}

func TestAspectReference(t *testing.T) {
	expr, err := Parse("(golem.com.pricing.model[unit]=GNT)")
	require.NoError(t, err)
	set := props.NewSet()
	set.Set("golem.com.pricing.model", props.String("linear"))
	set.SetAspect("golem.com.pricing.model", "unit", "GNT")
	out, err := expr.Resolve(set)
	require.NoError(t, err)
	assert.True(t, out.IsTrue())
}

func TestFullScenarioTwoNodeMatch(t *testing.T) {
	demandConstraints, err := Parse("(golem.com.pricing.model=linear)")
	require.NoError(t, err)
	offerConstraints, err := Parse("(&(golem.node.debug.subnet=blaa)(golem.srv.comp.expiration>0))")
	require.NoError(t, err)

	demandProps := setWith(
		`golem.srv.comp.expiration=3`,
		`golem.srv.comp.task_package="test-package"`,
		`golem.node.debug.subnet="blaa"`,
	)
	offerProps := setWith(
		`golem.node.debug.subnet="blaa"`,
		`golem.com.pricing.model="linear"`,
	)

	demandSide, err := demandConstraints.Resolve(offerProps)
	require.NoError(t, err)
	assert.True(t, demandSide.IsTrue())

	offerSide, err := offerConstraints.Resolve(demandProps)
	require.NoError(t, err)
	assert.True(t, offerSide.IsTrue())
}
