package fiberscript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisassemble_RendersKnownOpcodes(t *testing.T) {
	block, err := ParseProgram([]byte("return 1 + 2;"))
	require.NoError(t, err)
	compiled, err := Compile(block, testLibrary())
	require.NoError(t, err)

	out := Disassemble(compiled)
	assert.Contains(t, out, "push_const")
	assert.Contains(t, out, "bin_op")
	assert.Contains(t, out, "; +")
	assert.Contains(t, out, "halt")
}

func TestDisassemble_AnnotatesCallsWithName(t *testing.T) {
	block, err := ParseProgram([]byte("return double(1);"))
	require.NoError(t, err)
	compiled, err := Compile(block, testLibrary())
	require.NoError(t, err)

	out := Disassemble(compiled)
	assert.True(t, strings.Contains(out, `"double"`))
}
