package fiberscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOK(t *testing.T, src string) *Block {
	t.Helper()
	b, err := ParseProgram([]byte(src))
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

func TestParser_Precedence(t *testing.T) {
	// 1 + 2 * 3 must bind as 1 + (2 * 3)
	b := parseOK(t, "return 1 + 2 * 3;")
	ret := b.Statements[0].(*Return)
	add := ret.Value.(*BinaryOperator)
	assert.Equal(t, OpAdd, add.Op)
	lit, ok := add.Left.(*Literal)
	require.True(t, ok)
	assert.Equal(t, int64(1), lit.Value.AsInt())
	mul, ok := add.Right.(*BinaryOperator)
	require.True(t, ok)
	assert.Equal(t, OpMul, mul.Op)
}

func TestParser_TernaryAndLogical(t *testing.T) {
	b := parseOK(t, "return a && b || c ? 1 : 2;")
	ret := b.Statements[0].(*Return)
	tern, ok := ret.Value.(*Ternary)
	require.True(t, ok)
	orExpr, ok := tern.Cond.(*LogicRelationalExpression)
	require.True(t, ok)
	assert.Equal(t, "||", orExpr.Op)
}

func TestParser_VarDeclAndAssignment(t *testing.T) {
	b := parseOK(t, "let x = 1; x += 2;")
	decl := b.Statements[0].(*VariableDeclare)
	assert.Equal(t, "let", decl.Kind)
	assert.Equal(t, "x", decl.Name)
	assign := b.Statements[1].(*ExpressionStatement).Expr.(*Assign)
	assert.Equal(t, "+=", assign.Op)
}

func TestParser_IfElse(t *testing.T) {
	b := parseOK(t, "if (x) { return 1; } else { return 2; }")
	ifStmt := b.Statements[0].(*If)
	assert.NotNil(t, ifStmt.Then)
	assert.NotNil(t, ifStmt.Else)
}

func TestParser_ForOf_SingleVariable(t *testing.T) {
	b := parseOK(t, "for (let v of arr) { s = s + v; }")
	fe := b.Statements[0].(*Foreach)
	assert.Equal(t, "of", fe.Kind)
	assert.Equal(t, "", fe.KeyName)
	assert.Equal(t, "v", fe.VarName)
}

func TestParser_ForOf_TwoVariables(t *testing.T) {
	b := parseOK(t, "for (let i, v of arr) { s = s + v; }")
	fe := b.Statements[0].(*Foreach)
	assert.Equal(t, "of", fe.Kind)
	assert.Equal(t, "i", fe.KeyName)
	assert.Equal(t, "v", fe.VarName)
}

func TestParser_ForIn(t *testing.T) {
	b := parseOK(t, "for (let k in obj) { x = k; }")
	fe := b.Statements[0].(*Foreach)
	assert.Equal(t, "in", fe.Kind)
}

func TestParser_TryCatchFinally(t *testing.T) {
	b := parseOK(t, "try { x(); } catch (e) { y(); } finally { z(); }")
	tc := b.Statements[0].(*TryCatch)
	assert.Equal(t, "e", tc.CatchName)
	assert.NotNil(t, tc.Catch)
	assert.NotNil(t, tc.Finally)
}

func TestParser_TryRequiresCatchOrFinally(t *testing.T) {
	_, err := ParseProgram([]byte("try { x(); }"))
	assert.Error(t, err)
}

func TestParser_DirectiveDecl_EqualsForm(t *testing.T) {
	b := parseOK(t, `directive log = Logger "info";`)
	d := b.Statements[0].(*Directive)
	assert.Equal(t, "log", d.Name)
}

func TestParser_DirectiveDecl_FromForm(t *testing.T) {
	b := parseOK(t, `directive log from Logger "info";`)
	d := b.Statements[0].(*Directive)
	assert.Equal(t, "log", d.Name)
}

func TestParser_DirectiveMethodCall_CollapsesToDottedName(t *testing.T) {
	b := parseOK(t, `directive log = Logger; log.info("hi");`)
	stmt := b.Statements[1].(*ExpressionStatement)
	call := stmt.Expr.(*FunctionCall)
	callee := call.Callee.(*Identifier)
	assert.Equal(t, "log.info", callee.Name)
}

func TestParser_DollarNamespaceResolution(t *testing.T) {
	b := parseOK(t, `return $ns.key;`)
	ret := b.Statements[0].(*Return)
	id := ret.Value.(*Identifier)
	assert.Equal(t, "$ns.key", id.Name)
}

func TestParser_DollarNamespaceMultiSegment(t *testing.T) {
	b := parseOK(t, `return $ns.a.b;`)
	ret := b.Statements[0].(*Return)
	id := ret.Value.(*Identifier)
	assert.Equal(t, "$ns.a.b", id.Name)
}

func TestParser_SpreadInCallAndArray(t *testing.T) {
	b := parseOK(t, "f(...args); return [1, ...rest, 2];")
	call := b.Statements[0].(*ExpressionStatement).Expr.(*FunctionCall)
	_, ok := call.Args[0].(*ExpandArrArg)
	assert.True(t, ok)

	ret := b.Statements[1].(*Return)
	lst := ret.Value.(*InlineList)
	require.Len(t, lst.Elements, 3)
	_, ok = lst.Elements[1].(*ExpandArrArg)
	assert.True(t, ok)
}

func TestParser_ObjectLiteral_DuplicateKeyRejected(t *testing.T) {
	_, err := ParseProgram([]byte(`return {a: 1, a: 2};`))
	assert.Error(t, err)
}

func TestParser_ObjectLiteral(t *testing.T) {
	b := parseOK(t, `return {a: 1, "b": 2};`)
	ret := b.Statements[0].(*Return)
	obj := ret.Value.(*InlineObject)
	assert.Equal(t, []string{"a", "b"}, obj.Keys)
}

func TestParser_UnaryOperators(t *testing.T) {
	b := parseOK(t, "return -1; ")
	ret := b.Statements[0].(*Return)
	un := ret.Value.(*UnaryOperator)
	assert.Equal(t, OpNegate, un.Op)

	b = parseOK(t, "return typeof x;")
	ret = b.Statements[0].(*Return)
	un = ret.Value.(*UnaryOperator)
	assert.Equal(t, OpTypeof, un.Op)
}

func TestParser_PropertyAndIndexChains(t *testing.T) {
	b := parseOK(t, "return a.b[0].c;")
	ret := b.Statements[0].(*Return)
	prop := ret.Value.(*PropertyReference)
	assert.Equal(t, "c", prop.Name)
	idx := prop.Object.(*Indexer)
	_, ok := idx.Object.(*PropertyReference)
	assert.True(t, ok)
}

func TestParser_MatchOperator(t *testing.T) {
	b := parseOK(t, `return name ~ "*.txt";`)
	ret := b.Statements[0].(*Return)
	bin := ret.Value.(*BinaryOperator)
	assert.Equal(t, OpMatch, bin.Op)
}

func TestParser_InvalidAssignmentTarget(t *testing.T) {
	_, err := ParseProgram([]byte("1 = 2;"))
	assert.Error(t, err)
}

func TestParser_UnterminatedBlock(t *testing.T) {
	_, err := ParseProgram([]byte("{ let x = 1;"))
	assert.Error(t, err)
}
