package fiberscript

// Compiled is an executable bytecode unit: the flat instruction
// stream, its constant/string pools, the exception table, and the
// sizing the VM needs to preallocate frames.
type Compiled struct {
	Codes         []Instruction
	Consts        []Value
	Strings       []string
	ExceptionTable []ExceptionTableEntry
	VarTableSize  int
	StackSize     int
	ContainsAsync bool
}

// compiler turns an optimized AST into a Compiled unit, resolving
// every free identifier against lib at compile time so the VM never
// has to do name lookup at runtime beyond the library call itself.
type compiler struct {
	lib Library

	codes          []Instruction
	consts         []Value
	constIndex     map[string]int
	strings        []string
	stringIndex    map[string]int
	exceptionTable []ExceptionTableEntry

	vars     map[string]int
	nextSlot int

	curStack int
	maxStack int

	containsAsync bool
	err           error
}

// Compile lowers block (the program body) into a Compiled unit,
// resolving library symbols against lib.
func Compile(block *Block, lib Library) (*Compiled, error) {
	c := &compiler{
		lib:         lib,
		constIndex:  map[string]int{},
		stringIndex: map[string]int{},
		vars:        map[string]int{},
	}
	c.compileBlock(block)
	if c.err != nil {
		return nil, c.err
	}
	c.emit(OpHalt, 0, 0)
	return &Compiled{
		Codes:          c.codes,
		Consts:         c.consts,
		Strings:        c.strings,
		ExceptionTable: c.exceptionTable,
		VarTableSize:   c.nextSlot,
		StackSize:      c.maxStack,
		ContainsAsync:  c.containsAsync,
	}, nil
}

func (c *compiler) fail(pos int, format string, args ...any) {
	if c.err == nil {
		c.err = newParseError(pos, format, args...)
	}
}

func (c *compiler) emit(op Opcode, a, b int32) int {
	c.codes = append(c.codes, Instruction{Op: op, A: a, B: b})
	return len(c.codes) - 1
}

func (c *compiler) patchTarget(idx int, target int) {
	c.codes[idx].A = int32(target - idx)
}

func (c *compiler) push() {
	c.curStack++
	if c.curStack > c.maxStack {
		c.maxStack = c.curStack
	}
}

func (c *compiler) pop() {
	if c.curStack > 0 {
		c.curStack--
	}
}

func (c *compiler) internString(s string) int32 {
	if i, ok := c.stringIndex[s]; ok {
		return int32(i)
	}
	i := len(c.strings)
	c.strings = append(c.strings, s)
	c.stringIndex[s] = i
	return int32(i)
}

func (c *compiler) internConst(v Value) int32 {
	key := v.Debug() + "|" + v.Kind().String()
	if i, ok := c.constIndex[key]; ok {
		return int32(i)
	}
	i := len(c.consts)
	c.consts = append(c.consts, v)
	c.constIndex[key] = i
	return int32(i)
}

func (c *compiler) slotFor(name string) int32 {
	if s, ok := c.vars[name]; ok {
		return int32(s)
	}
	s := c.nextSlot
	c.nextSlot++
	c.vars[name] = s
	return int32(s)
}

func (c *compiler) compileBlock(b *Block) {
	for _, s := range b.Statements {
		c.compileStmt(s)
	}
}

func (c *compiler) compileStmt(n Node) {
	switch s := n.(type) {
	case *Block:
		c.compileBlock(s)
	case *VariableDeclare:
		slot := c.slotFor(s.Name)
		if s.Init != nil {
			c.compileExpr(s.Init)
		} else {
			c.emit(OpPushUndef, 0, 0)
			c.push()
		}
		c.emit(OpStoreVar, slot, 0)
		c.pop()
	case *ExpressionStatement:
		c.compileExpr(s.Expr)
		c.emit(OpPop, 0, 0)
		c.pop()
	case *If:
		c.compileExpr(s.Cond)
		jf := c.emit(OpJumpIfFalse, 0, 0)
		c.pop()
		c.compileStmt(s.Then)
		if s.Else != nil {
			jend := c.emit(OpJump, 0, 0)
			c.patchTarget(jf, len(c.codes))
			c.compileStmt(s.Else)
			c.patchTarget(jend, len(c.codes))
		} else {
			c.patchTarget(jf, len(c.codes))
		}
	case *Foreach:
		c.compileForeach(s)
	case *Break:
		c.fail(s.Pos(), "break outside of a loop")
	case *Continue:
		c.fail(s.Pos(), "continue outside of a loop")
	case *Return:
		if s.Value != nil {
			c.compileExpr(s.Value)
			c.pop()
		} else {
			c.emit(OpPushUndef, 0, 0)
		}
		c.emit(OpReturn, 0, 0)
	case *Throw:
		c.compileExpr(s.Value)
		c.pop()
		c.emit(OpThrow, 0, 0)
	case *TryCatch:
		c.compileTryCatch(s)
	case *Directive:
		d, ok := c.lib.LookupDirective(s.Name)
		if !ok {
			c.fail(s.Pos(), "unknown directive #%s", s.Name)
			return
		}
		if err := d(s.Args); err != nil {
			c.fail(s.Pos(), "directive #%s: %v", s.Name, err)
		}
	default:
		c.fail(n.Pos(), "cannot compile statement node")
	}
}

// loopCtx threads break/continue targets through compileLoopBody for
// nested loop bodies; compileForeach patches Break/Continue nodes it
// finds directly inside its own body (one level — nested Foreach
// patches its own).
type loopCtx struct {
	breakJumps    []int
	continueJumps []int
}

func (c *compiler) compileForeach(s *Foreach) {
	c.compileExpr(s.IterExpr)
	var mode IterMode
	switch {
	case s.KeyName != "":
		mode = IterEntries
	case s.Kind == "in":
		mode = IterKeys
	default:
		mode = IterValues
	}
	c.emit(OpMakeIterator, int32(mode), 0)
	loopStart := len(c.codes)
	exitJump := c.emit(OpIterNext, 0, 0)
	if s.KeyName != "" {
		keySlot := c.slotFor(s.KeyName)
		c.emit(OpIterKey, 0, 0)
		c.push()
		c.emit(OpStoreVar, keySlot, 0)
		c.pop()
	}
	slot := c.slotFor(s.VarName)
	c.emit(OpIterValue, 0, 0)
	c.push()
	c.emit(OpStoreVar, slot, 0)
	c.pop()

	lp := &loopCtx{}
	c.compileLoopBody(s.Body, lp)
	for _, j := range lp.continueJumps {
		c.patchTarget(j, len(c.codes))
	}
	c.emit(OpJump, int32(loopStart-len(c.codes)), 0)
	c.patchTarget(exitJump, len(c.codes))
	for _, j := range lp.breakJumps {
		c.patchTarget(j, len(c.codes))
	}
	c.emit(OpPop, 0, 0) // drop the iterator value
}

// compileLoopBody compiles body, rewriting any Break/Continue
// statements lexically nested inside it (but not inside a further
// nested loop) into jumps recorded on lp.
func (c *compiler) compileLoopBody(n Node, lp *loopCtx) {
	switch s := n.(type) {
	case *Block:
		for _, stmt := range s.Statements {
			c.compileLoopBody(stmt, lp)
		}
	case *Break:
		lp.breakJumps = append(lp.breakJumps, c.emit(OpJump, 0, 0))
	case *Continue:
		lp.continueJumps = append(lp.continueJumps, c.emit(OpJump, 0, 0))
	case *If:
		c.compileExpr(s.Cond)
		jf := c.emit(OpJumpIfFalse, 0, 0)
		c.pop()
		c.compileLoopBody(s.Then, lp)
		if s.Else != nil {
			jend := c.emit(OpJump, 0, 0)
			c.patchTarget(jf, len(c.codes))
			c.compileLoopBody(s.Else, lp)
			c.patchTarget(jend, len(c.codes))
		} else {
			c.patchTarget(jf, len(c.codes))
		}
	case *Foreach:
		c.compileForeach(s) // its own break/continue scope
	default:
		c.compileStmt(n)
	}
}

// compileTryCatch lowers try/catch/finally to an ExceptionTable entry
// plus OpEnterTry/OpExitTry markers bracketing the try body: the VM
// pushes a tryFrame on entry and pops it on a clean exit, so a thrown
// exception only ever unwinds scopes that are genuinely still active.
// The entry's targets aren't known until after both Try
// and Catch/Finally are compiled, so OpEnterTry's operand just names
// the entry's index and the entry itself is patched in afterwards.
func (c *compiler) compileTryCatch(s *TryCatch) {
	entryIdx := len(c.exceptionTable)
	c.exceptionTable = append(c.exceptionTable, ExceptionTableEntry{CatchTarget: -1, FinallyTarget: -1, CatchVarSlot: -1})

	tryStart := len(c.codes)
	c.emit(OpEnterTry, int32(entryIdx), 0)
	c.compileStmt(s.Try)
	tryEnd := len(c.codes)
	c.emit(OpExitTry, 0, 0)
	skipCatch := c.emit(OpJump, 0, 0)

	entry := ExceptionTableEntry{TryStart: tryStart, TryEnd: tryEnd, CatchTarget: -1, FinallyTarget: -1, CatchVarSlot: -1}
	if s.Catch != nil {
		entry.CatchTarget = len(c.codes)
		if s.CatchName != "" {
			entry.CatchVarSlot = int(c.slotFor(s.CatchName))
		}
		c.emit(OpEnterCatch, 0, 0)
		c.compileStmt(s.Catch)
	}
	c.patchTarget(skipCatch, len(c.codes))
	if s.Finally != nil {
		entry.FinallyTarget = len(c.codes)
		c.emit(OpEnterFinally, 0, 0)
		c.compileStmt(s.Finally)
	}
	c.exceptionTable[entryIdx] = entry
}

func (c *compiler) compileExpr(n Node) {
	switch e := n.(type) {
	case *Literal:
		c.emitConst(e.Value)
	case *ConstantVal:
		c.emitConst(e.Value)
	case *VariableReference:
		if e.Name == "$" {
			c.emit(OpLoadRoot, 0, 0)
		} else if _, declared := c.vars[e.Name]; !declared && (c.lib.Resolve(e.Name) == ResConstant || c.lib.Resolve(e.Name) == ResAsyncConstant) {
			// A bare name that isn't a variable but names a library
			// constant reads that constant.
			c.compileIdentifier(&Identifier{baseNode{e.Pos()}, e.Name})
			return
		} else {
			c.emit(OpLoadVar, c.slotFor(e.Name), 0)
		}
		c.push()
	case *Identifier:
		c.compileIdentifier(e)
	case *Assign:
		c.compileAssign(e)
	case *Ternary:
		c.compileExpr(e.Cond)
		jf := c.emit(OpJumpIfFalse, 0, 0)
		c.pop()
		c.compileExpr(e.Then)
		jend := c.emit(OpJump, 0, 0)
		c.pop()
		c.patchTarget(jf, len(c.codes))
		c.compileExpr(e.Else)
		c.patchTarget(jend, len(c.codes))
	case *BinaryOperator:
		c.compileExpr(e.Left)
		c.compileExpr(e.Right)
		c.emit(OpBinOp, int32(e.Op), 0)
		c.pop()
	case *UnaryOperator:
		c.compileExpr(e.Operand)
		c.emit(OpUnOp, int32(e.Op), 0)
	case *LogicRelationalExpression:
		c.compileLogical(e)
	case *PropertyReference:
		c.compileExpr(e.Object)
		c.emit(OpGetProp, c.internString(e.Name), 0)
	case *Indexer:
		c.compileExpr(e.Object)
		c.compileExpr(e.Index)
		c.emit(OpGetIdx, 0, 0)
		c.pop()
	case *FunctionCall:
		c.compileCall(e)
	case *InlineList:
		c.compileInlineList(e)
	case *InlineObject:
		for i := range e.Keys {
			c.emit(OpPushConst, c.internConst(NativeStr(e.Keys[i])), 0)
			c.push()
			c.compileExpr(e.Values[i])
		}
		c.emit(OpNewObject, int32(len(e.Keys)), 0)
		for range e.Keys {
			c.pop()
			c.pop()
		}
		c.push()
	case *ExpandArrArg:
		c.compileExpr(e.Expr)
	default:
		c.fail(n.Pos(), "cannot compile expression node")
	}
}

func (c *compiler) emitConst(v Value) {
	switch v.Kind() {
	case KindUndefined:
		c.emit(OpPushUndef, 0, 0)
	case KindNull:
		c.emit(OpPushNull, 0, 0)
	case KindBoolean:
		if v.b {
			c.emit(OpPushTrue, 0, 0)
		} else {
			c.emit(OpPushFalse, 0, 0)
		}
	case KindInteger:
		c.emit(OpPushConst, c.internConst(v), 0)
	default:
		c.emit(OpPushConst, c.internConst(v), 0)
	}
	c.push()
}

func (c *compiler) compileIdentifier(e *Identifier) {
	switch c.lib.Resolve(e.Name) {
	case ResConstant:
		c.emit(OpLoadLibConst, c.internString(e.Name), 0)
	case ResAsyncConstant:
		c.emit(OpLoadLibConstAsync, c.internString(e.Name), 0)
		c.containsAsync = true
	default:
		c.fail(e.Pos(), "unknown identifier %q", e.Name)
		return
	}
	c.push()
}

func (c *compiler) compileAssign(e *Assign) {
	switch t := e.Target.(type) {
	case *VariableReference:
		c.compileExpr(e.Value)
		c.emit(OpDup, 0, 0) // the assigned value is also the expression's result
		c.push()
		c.emit(OpStoreVar, c.slotFor(t.Name), 0)
		c.pop()
	case *PropertyReference:
		c.compileExpr(t.Object)
		c.compileExpr(e.Value)
		c.emit(OpSetProp, c.internString(t.Name), 0)
		c.pop()
	case *Indexer:
		c.compileExpr(t.Object)
		c.compileExpr(t.Index)
		c.compileExpr(e.Value)
		c.emit(OpSetIdx, 0, 0)
		c.pop()
		c.pop()
	default:
		c.fail(e.Pos(), "invalid assignment target")
	}
}

// compileLogical lowers &&/||/?? with the left operand surviving as
// the expression's own result on the short-circuit path: the test
// runs against a duplicate, and only the non-short-circuit path pops
// the original Left before computing Right.
func (c *compiler) compileLogical(e *LogicRelationalExpression) {
	c.compileExpr(e.Left)
	c.emit(OpDup, 0, 0)
	c.push()
	var toRight int
	switch e.Op {
	case "&&":
		toRight = c.emit(OpJumpIfTrue, 0, 0)
	case "||":
		toRight = c.emit(OpJumpIfFalse, 0, 0)
	default: // "??"
		toRight = c.emit(OpJumpIfNullish, 0, 0)
	}
	c.pop()
	toEnd := c.emit(OpJump, 0, 0)
	c.patchTarget(toRight, len(c.codes))
	c.emit(OpPop, 0, 0)
	c.pop()
	c.compileExpr(e.Right)
	c.patchTarget(toEnd, len(c.codes))
}

// compileInlineList lowers an array literal. Without a spread element
// it takes the fast path of pushing every element then a single
// OpNewArray; a `...expr` element forces the slower accumulate-in-
// place form, since the final size isn't known until runtime.
func (c *compiler) compileInlineList(e *InlineList) {
	hasSpread := false
	for _, el := range e.Elements {
		if _, ok := el.(*ExpandArrArg); ok {
			hasSpread = true
			break
		}
	}
	if !hasSpread {
		for _, el := range e.Elements {
			c.compileExpr(el)
		}
		c.emit(OpNewArray, int32(len(e.Elements)), 0)
		for range e.Elements {
			c.pop()
		}
		c.push()
		return
	}

	c.emit(OpNewArray, 0, 0)
	c.push()
	for _, el := range e.Elements {
		c.emit(OpDup, 0, 0)
		c.push()
		if sp, ok := el.(*ExpandArrArg); ok {
			c.compileExpr(sp.Expr)
			c.emit(OpArraySpread, 0, 0)
		} else {
			c.compileExpr(el)
			c.emit(OpArrayPush, 0, 0)
		}
		c.pop() // the pushed value/spread-source
		c.pop() // the duplicated array reference, consumed by the opcode
	}
}

// compileCall lowers a call. A spread argument (`f(...xs)`) forces the
// whole argument list through an InlineList-style build into a single
// Array, dispatched via the Spread opcode variants; otherwise arguments
// are pushed positionally and packed into the plain Call opcode's argc
// operand.
func (c *compiler) compileCall(e *FunctionCall) {
	id, ok := e.Callee.(*Identifier)
	if !ok {
		c.fail(e.Pos(), "call target must be a library function name")
		return
	}
	hasSpread := false
	for _, a := range e.Args {
		if _, ok := a.(*ExpandArrArg); ok {
			hasSpread = true
			break
		}
	}
	nameIdx := c.internString(id.Name)
	kind := c.lib.Resolve(id.Name)

	if hasSpread {
		c.compileInlineList(&InlineList{Elements: e.Args})
		switch kind {
		case ResFunction:
			c.emit(OpCallSpread, nameIdx, 0)
		case ResAsyncFunction:
			c.emit(OpCallAsyncSpread, nameIdx, 0)
			c.containsAsync = true
		default:
			c.fail(e.Pos(), "unknown function %q", id.Name)
			return
		}
		c.pop()
		c.push()
		return
	}

	for _, a := range e.Args {
		c.compileExpr(a)
	}
	switch kind {
	case ResFunction:
		c.emit(OpCall, nameIdx, int32(len(e.Args)))
	case ResAsyncFunction:
		c.emit(OpCallAsync, nameIdx, int32(len(e.Args)))
		c.containsAsync = true
	default:
		c.fail(e.Pos(), "unknown function %q", id.Name)
	}
	for range e.Args {
		c.pop()
	}
	c.push()
}
