package fiberscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAndOptimize(t *testing.T, src string) *Block {
	t.Helper()
	b, err := ParseProgram([]byte(src))
	require.NoError(t, err)
	return Optimize(b, true)
}

func TestOptimize_Disabled_ReturnsSameBlock(t *testing.T) {
	b, err := ParseProgram([]byte("return 1 + 2;"))
	require.NoError(t, err)
	out := Optimize(b, false)
	assert.Same(t, b, out)
}

func TestOptimize_ConstantFoldsBinaryOp(t *testing.T) {
	b := parseAndOptimize(t, "return 1 + 2;")
	ret := b.Statements[0].(*Return)
	cv, ok := ret.Value.(*ConstantVal)
	require.True(t, ok)
	assert.Equal(t, int64(3), cv.Value.AsInt())
}

func TestOptimize_ConstantFoldsUnaryOp(t *testing.T) {
	b := parseAndOptimize(t, "return -5;")
	ret := b.Statements[0].(*Return)
	cv, ok := ret.Value.(*ConstantVal)
	require.True(t, ok)
	assert.Equal(t, int64(-5), cv.Value.AsInt())
}

func TestOptimize_IfConstTrue_CollapsesToThen(t *testing.T) {
	b := parseAndOptimize(t, "if (true) { return 1; } else { return 2; }")
	ret, ok := b.Statements[0].(*Return)
	require.True(t, ok, "expected the if to collapse directly to its then-branch")
	cv := ret.Value.(*Literal)
	assert.Equal(t, int64(1), cv.Value.AsInt())
}

func TestOptimize_IfConstFalse_CollapsesToElse(t *testing.T) {
	b := parseAndOptimize(t, "if (false) { return 1; } else { return 2; }")
	ret, ok := b.Statements[0].(*Return)
	require.True(t, ok)
	assert.Equal(t, int64(2), ret.Value.(*Literal).Value.AsInt())
}

func TestOptimize_IfConstFalse_NoElse_CollapsesToEmptyBlock(t *testing.T) {
	b := parseAndOptimize(t, "if (false) { return 1; }")
	assert.Len(t, b.Statements, 0)
}

func TestOptimize_TernaryConstCollapses(t *testing.T) {
	b := parseAndOptimize(t, "return true ? 1 : 2;")
	ret := b.Statements[0].(*Return)
	lit := ret.Value.(*Literal)
	assert.Equal(t, int64(1), lit.Value.AsInt())
}

func TestOptimize_DoesNotFoldNonConstOperands(t *testing.T) {
	b := parseAndOptimize(t, "return x + 1;")
	ret := b.Statements[0].(*Return)
	_, ok := ret.Value.(*ConstantVal)
	assert.False(t, ok, "an operand referencing a variable must not be folded")
}
