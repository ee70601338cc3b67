package fiberscript

import (
	"fmt"
	"strings"
)

var opcodeNames = map[Opcode]string{
	OpNop: "nop", OpPushConst: "push_const", OpPushInt: "push_int",
	OpPushUndef: "push_undef", OpPushNull: "push_null", OpPushTrue: "push_true",
	OpPushFalse: "push_false", OpPop: "pop", OpDup: "dup",
	OpLoadVar: "load_var", OpStoreVar: "store_var",
	OpLoadGlobal: "load_global", OpStoreGlobal: "store_global", OpLoadRoot: "load_root",
	OpGetProp: "get_prop", OpSetProp: "set_prop", OpGetIdx: "get_idx", OpSetIdx: "set_idx",
	OpNewArray: "new_array", OpNewObject: "new_object",
	OpArrayPush: "array_push", OpArraySpread: "array_spread",
	OpBinOp: "bin_op", OpUnOp: "un_op",
	OpJump: "jump", OpJumpIfFalse: "jump_if_false", OpJumpIfTrue: "jump_if_true",
	OpJumpIfNullish: "jump_if_nullish",
	OpCall: "call", OpCallAsync: "call_async",
	OpCallSpread: "call_spread", OpCallAsyncSpread: "call_async_spread",
	OpLoadLibConst: "load_lib_const", OpLoadLibConstAsync: "load_lib_const_async",
	OpReturn:       "return",
	OpMakeIterator: "make_iterator", OpIterNext: "iter_next", OpIterValue: "iter_value", OpIterKey: "iter_key",
	OpThrow: "throw", OpEnterTry: "enter_try", OpExitTry: "exit_try",
	OpEnterCatch: "enter_catch", OpEnterFinally: "enter_finally",
	OpAwait: "await", OpHalt: "halt",
}

// Disassemble renders c's instruction stream in a plain text format
// meant for human debugging, not for re-parsing.
func Disassemble(c *Compiled) string {
	var sb strings.Builder
	for i, ins := range c.Codes {
		name, ok := opcodeNames[ins.Op]
		if !ok {
			name = fmt.Sprintf("op(%d)", ins.Op)
		}
		fmt.Fprintf(&sb, "%6d  %-20s a=%-6d b=%-6d", i, name, ins.A, ins.B)
		switch ins.Op {
		case OpLoadLibConst, OpLoadLibConstAsync, OpCall, OpCallAsync, OpCallSpread, OpCallAsyncSpread, OpGetProp, OpSetProp:
			if int(ins.A) < len(c.Strings) {
				fmt.Fprintf(&sb, "  ; %q", c.Strings[ins.A])
			}
		case OpPushConst:
			if int(ins.A) < len(c.Consts) {
				fmt.Fprintf(&sb, "  ; %s", c.Consts[ins.A].Debug())
			}
		case OpBinOp:
			fmt.Fprintf(&sb, "  ; %s", BinOp(ins.A))
		case OpUnOp:
			fmt.Fprintf(&sb, "  ; %s", UnOp(ins.A))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
