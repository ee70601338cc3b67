package fiberscript

import (
	"fmt"

	"github.com/google/uuid"
)

// VM interprets one Compiled unit against a Heap and a Library. Each
// VM runs on its own goroutine; an async library call blocks that
// goroutine on a channel rather than hand-rolling stack-switching
// coroutines, letting Go's scheduler do the cooperative multiplexing
// the original single-threaded coroutine runtime did by hand.
type VM struct {
	heap    *Heap
	lib     Library
	cfg     *Config
	sched   Scheduler
	program *Compiled
	root    Value
	attach  any

	stack []Value
	vars  []Value
	pc    int
	tries tryStack

	// lastTaskID is the uuid of the most recently created suspension
	// task, set by execContext.Suspend. A host Function/AsyncFunction
	// suspends at most one task per call, so by the time its error
	// reaches execCall/OpLoadLibConst(Async) this is the task that
	// failed; it's threaded into the resulting EXEC_ASYNC_ERROR's Meta
	// field for log correlation.
	lastTaskID uuid.UUID
}

// execContext is the VM's ExecutionContext implementation handed to
// library calls.
type execContext struct {
	vm *VM
}

func (c execContext) Heap() *Heap     { return c.vm.heap }
func (c execContext) Config() *Config { return c.vm.cfg }
func (c execContext) Root() Value     { return c.vm.root }
func (c execContext) Attach() any     { return c.vm.attach }

func (c execContext) Suspend() (resume func(Value, error), wait func() (Value, error)) {
	t := newTask()
	c.vm.lastTaskID = t.id
	return func(v Value, err error) {
		deliver := func() {
			if err != nil {
				t.reject(err)
			} else {
				t.resolve(v)
			}
		}
		if c.vm.sched != nil {
			c.vm.sched.Post(deliver)
		} else {
			deliver()
		}
	}, t.wait
}

// NewVM prepares a VM to run program against heap, resolving library
// calls against lib. sched may be nil, in which case a SyncScheduler
// is used. root is the host value the bare `$` identifier and
// ExecutionContext.Root() resolve to; it is registered as a permanent
// GC global so it survives collections for the life of the heap.
// attach is an opaque host pointer threaded through unchanged, handed
// back via ExecutionContext.Attach().
func NewVM(heap *Heap, lib Library, cfg *Config, sched Scheduler, program *Compiled, root Value, attach any) *VM {
	if sched == nil {
		sched = SyncScheduler{}
	}
	heap.Roots.AddGlobal(root)
	return &VM{
		heap:    heap,
		lib:     lib,
		cfg:     cfg,
		sched:   sched,
		program: program,
		root:    root,
		attach:  attach,
		stack:   make([]Value, 0, program.StackSize),
		vars:    make([]Value, program.VarTableSize),
	}
}

// push stores v on the VM's operand stack and, for heap-managed
// values, also roots it in heap.Roots for the lifetime of the current
// call frame: vm.stack is an ordinary Go slice the collector never
// walks, so without this a value that's only reachable from the
// operand stack (e.g. the result of a string concatenation that
// hasn't been stored into a variable yet) would look unreachable to
// Collect and get swept out from under the VM mid-expression.
func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
	if v.IsHeapManaged() {
		vm.heap.Roots.AddStackRoot(v)
	}
}

func (vm *VM) pop() Value {
	n := len(vm.stack)
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v
}

func (vm *VM) top() Value { return vm.stack[len(vm.stack)-1] }

// Run executes the program to completion, returning the value of a
// `return` statement, or, when the program runs off its end, the value
// most recently discarded by OpPop (the last expression statement's
// value when the program ends with one; Undefined if nothing was
// popped), or a RuntimeError wrapping an uncaught exception.
func (vm *VM) Run() (Value, error) {
	vm.heap.Roots.PushFrame()
	defer vm.heap.Roots.PopFrame()

	var lastExprVal Value = Undefined
	for {
		if vm.pc >= len(vm.program.Codes) {
			return lastExprVal, nil
		}
		ins := vm.program.Codes[vm.pc]
		result, advance, ret, thrown := vm.step(ins, &lastExprVal)
		if thrown.Kind() != KindUndefined {
			f, ok := vm.tries.findHandler()
			if !ok {
				return Undefined, RuntimeError{Exception: thrown}
			}
			if f.catchTarget >= 0 {
				vm.pc = f.catchTarget
				if f.catchVarSlot >= 0 {
					if thrown.IsHeapManaged() {
						vm.heap.Roots.AddStackRoot(thrown)
					}
					vm.vars[f.catchVarSlot] = thrown
				}
			} else {
				vm.pc = f.finallyTarget
			}
			continue
		}
		if ret {
			return result, nil
		}
		vm.pc += advance
	}
}

// step executes one instruction. It returns (value, pcAdvance, isReturn, thrownException).
func (vm *VM) step(ins Instruction, lastExprVal *Value) (Value, int, bool, Value) {
	switch ins.Op {
	case OpNop:
	case OpPushConst:
		vm.push(vm.program.Consts[ins.A])
	case OpPushInt:
		vm.push(Int(int64(ins.A)))
	case OpPushUndef:
		vm.push(Undefined)
	case OpPushNull:
		vm.push(Null)
	case OpPushTrue:
		vm.push(True)
	case OpPushFalse:
		vm.push(False)
	case OpPop:
		*lastExprVal = vm.pop()
	case OpDup:
		vm.push(vm.top())
	case OpLoadVar:
		vm.push(vm.vars[ins.A])
	case OpStoreVar:
		vm.vars[ins.A] = vm.pop()
	case OpLoadGlobal:
		vm.push(vm.heap.Roots.globals[ins.A])
	case OpStoreGlobal:
		vm.heap.Roots.globals[ins.A] = vm.pop()
	case OpLoadRoot:
		vm.push(vm.root)
	case OpGetProp:
		obj := vm.pop()
		name := vm.program.Strings[ins.A]
		v, exc := vm.getProperty(obj, name)
		if exc.Kind() != KindUndefined {
			return Undefined, 0, false, exc
		}
		vm.push(v)
	case OpSetProp:
		val := vm.pop()
		obj := vm.pop()
		name := vm.program.Strings[ins.A]
		if exc := vm.setProperty(obj, name, val); exc.Kind() != KindUndefined {
			return Undefined, 0, false, exc
		}
		vm.push(val)
	case OpGetIdx:
		idx := vm.pop()
		obj := vm.pop()
		v, exc := vm.getIndex(obj, idx)
		if exc.Kind() != KindUndefined {
			return Undefined, 0, false, exc
		}
		vm.push(v)
	case OpSetIdx:
		val := vm.pop()
		idx := vm.pop()
		obj := vm.pop()
		if exc := vm.setIndex(obj, idx, val); exc.Kind() != KindUndefined {
			return Undefined, 0, false, exc
		}
		vm.push(val)
	case OpNewArray:
		n := int(ins.A)
		arr := vm.heap.NewArray(n)
		elems := make([]Value, n)
		for i := n - 1; i >= 0; i-- {
			elems[i] = vm.pop()
		}
		for _, e := range elems {
			arr.Append(e)
		}
		vm.push(heapArrayValue(arr))
	case OpNewObject:
		n := int(ins.A)
		obj := vm.heap.NewObject(n)
		pairs := make([][2]Value, n)
		for i := n - 1; i >= 0; i-- {
			v := vm.pop()
			k := vm.pop()
			pairs[i] = [2]Value{k, v}
		}
		for _, p := range pairs {
			keyStr, ok := p[0].AsGoString()
			if !ok {
				return Undefined, 0, false, newException(vm.heap, ExecTypeError, "object key must be a string", vm.pc)
			}
			hs, ok := vm.heap.NewString([]byte(keyStr))
			if !ok {
				return Undefined, 0, false, oomException(vm.pc)
			}
			obj.Set(hs, p[1])
		}
		vm.push(heapObjectValue(obj))
	case OpArrayPush:
		val := vm.pop()
		arrV := vm.pop()
		if arrV.Kind() != KindArray {
			return Undefined, 0, false, newException(vm.heap, ExecTypeError, "internal error: array-push target is not an array", vm.pc)
		}
		arrV.arr.Append(val)
	case OpArraySpread:
		src := vm.pop()
		arrV := vm.pop()
		if arrV.Kind() != KindArray {
			return Undefined, 0, false, newException(vm.heap, ExecTypeError, "internal error: spread target is not an array", vm.pc)
		}
		if src.Kind() != KindArray {
			return Undefined, 0, false, newException(vm.heap, ExecTypeError, "spread operator requires an array", vm.pc)
		}
		for i := 0; i < src.arr.Size; i++ {
			arrV.arr.Append(src.arr.Get(i))
		}
	case OpBinOp:
		right := vm.pop()
		left := vm.pop()
		v, err := BinaryOp(vm.heap, BinOp(ins.A), left, right)
		if err != nil {
			return Undefined, 0, false, newException(vm.heap, err.Name, err.Message, vm.pc)
		}
		vm.push(v)
	case OpUnOp:
		operand := vm.pop()
		v, err := UnaryOp(UnOp(ins.A), operand)
		if err != nil {
			return Undefined, 0, false, newException(vm.heap, err.Name, err.Message, vm.pc)
		}
		vm.push(v)
	case OpJump:
		return Undefined, int(ins.A), false, Undefined
	case OpJumpIfFalse:
		if !vm.pop().Truthy() {
			return Undefined, int(ins.A), false, Undefined
		}
	case OpJumpIfTrue:
		if vm.pop().Truthy() {
			return Undefined, int(ins.A), false, Undefined
		}
	case OpJumpIfNullish:
		v := vm.pop()
		if v.Kind() == KindUndefined || v.Kind() == KindNull {
			return Undefined, int(ins.A), false, Undefined
		}
	case OpCall, OpCallAsync, OpCallSpread, OpCallAsyncSpread:
		return vm.execCall(ins)
	case OpLoadLibConst:
		name := vm.program.Strings[ins.A]
		c, ok := vm.lib.LookupConstant(name)
		if !ok {
			return Undefined, 0, false, newException(vm.heap, ExecUnknownFunction, "unknown constant "+name, vm.pc)
		}
		v, err := c(execContext{vm: vm})
		if err != nil {
			return Undefined, 0, false, vm.asyncError(err)
		}
		vm.push(v)
	case OpLoadLibConstAsync:
		name := vm.program.Strings[ins.A]
		c, ok := vm.lib.LookupAsyncConstant(name)
		if !ok {
			return Undefined, 0, false, newException(vm.heap, ExecUnknownFunction, "unknown constant "+name, vm.pc)
		}
		v, err := c(execContext{vm: vm})
		if err != nil {
			return Undefined, 0, false, vm.asyncError(err)
		}
		vm.push(v)
	case OpReturn:
		return vm.pop(), 0, true, Undefined
	case OpMakeIterator:
		src := vm.pop()
		it, exc := vm.makeIterator(src, IterMode(ins.A))
		if exc.Kind() != KindUndefined {
			return Undefined, 0, false, exc
		}
		vm.push(it)
	case OpIterNext:
		it := vm.top().it
		if !it.Next() {
			return Undefined, int(ins.A), false, Undefined
		}
	case OpIterValue:
		it := vm.top().it
		k, v := it.Current()
		if it.Mode == IterKeys {
			vm.push(k)
		} else {
			vm.push(v)
		}
	case OpIterKey:
		it := vm.top().it
		k, _ := it.Current()
		vm.push(k)
	case OpThrow:
		return Undefined, 0, false, vm.pop()
	case OpEnterTry:
		e := vm.program.ExceptionTable[ins.A]
		vm.tries.push(tryFrame{catchTarget: e.CatchTarget, finallyTarget: e.FinallyTarget, catchVarSlot: e.CatchVarSlot})
	case OpExitTry:
		vm.tries.pop()
	case OpEnterCatch, OpEnterFinally:
		// No VM action: the frame that made this handler reachable was
		// already consumed by tryStack.findHandler when the exception
		// was thrown. These opcodes exist for bytecode readability
		// (disassembly) and as markers a future debugger can break on.
	case OpHalt:
		return *lastExprVal, 0, true, Undefined
	default:
		panic(fmt.Sprintf("fiberscript: unhandled opcode %d", ins.Op))
	}
	return Undefined, 1, false, Undefined
}

// asyncError builds an EXEC_ASYNC_ERROR exception carrying the id of
// the task that was suspended for this call (if any) in its Meta
// field, and logs the failure with the same id for correlation with
// whatever timer/request bookkeeping the host keeps on its side.
func (vm *VM) asyncError(err error) Value {
	taskID := vm.lastTaskID
	log.WithFields(map[string]any{"task_id": taskID, "error": err.Error()}).Debug("async call failed")
	exc := newException(vm.heap, ExecAsyncError, err.Error(), vm.pc)
	if exc.kind == KindException && exc.exc != nil && vm.heap != nil {
		if meta, ok := vm.heap.NewString([]byte(taskID.String())); ok {
			exc.exc.Meta = heapStringValue(meta)
		}
	}
	return exc
}

func (vm *VM) execCall(ins Instruction) (Value, int, bool, Value) {
	name := vm.program.Strings[ins.A]
	isAsync := ins.Op == OpCallAsync || ins.Op == OpCallAsyncSpread
	isSpread := ins.Op == OpCallSpread || ins.Op == OpCallAsyncSpread

	var args []Value
	if isSpread {
		arrV := vm.pop()
		if arrV.Kind() != KindArray {
			return Undefined, 0, false, newException(vm.heap, ExecTypeError, "spread call arguments must be an array", vm.pc)
		}
		args = make([]Value, arrV.arr.Size)
		for i := 0; i < arrV.arr.Size; i++ {
			args[i] = arrV.arr.Get(i)
		}
	} else {
		argc := int(ins.B)
		args = make([]Value, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
	}

	ctx := execContext{vm: vm}
	var v Value
	var err error
	if isAsync {
		fn, ok := vm.lib.LookupAsyncFunction(name)
		if !ok {
			return Undefined, 0, false, newException(vm.heap, ExecUnknownFunction, "unknown async function "+name, vm.pc)
		}
		v, err = fn(ctx, args)
	} else {
		fn, ok := vm.lib.LookupFunction(name)
		if !ok {
			return Undefined, 0, false, newException(vm.heap, ExecUnknownFunction, "unknown function "+name, vm.pc)
		}
		v, err = fn(ctx, args)
	}
	if err != nil {
		if re, ok := err.(RuntimeError); ok {
			return Undefined, 0, false, re.Exception
		}
		return Undefined, 0, false, vm.asyncError(err)
	}
	vm.push(v)
	return Undefined, 1, false, Undefined
}

func (vm *VM) makeIterator(src Value, mode IterMode) (Value, Value) {
	switch src.Kind() {
	case KindArray:
		return heapIteratorValue(vm.heap.NewArrayIterator(src.arr, mode)), Undefined
	case KindObject:
		return heapIteratorValue(vm.heap.NewObjectIterator(src.obj, mode)), Undefined
	default:
		return Undefined, newException(vm.heap, ExecTypeError, "value is not iterable", vm.pc)
	}
}

func (vm *VM) getProperty(obj Value, name string) (Value, Value) {
	switch obj.Kind() {
	case KindObject:
		hs, ok := vm.heap.NewString([]byte(name))
		if !ok {
			return Undefined, oomException(vm.pc)
		}
		v, _ := obj.obj.Get(hs)
		return v, Undefined
	case KindArray:
		if name == "length" {
			return Int(int64(obj.arr.Size)), Undefined
		}
		return Undefined, Undefined
	case KindHeapString, KindNativeString:
		if name == "length" {
			if s, ok := obj.AsGoString(); ok {
				n, _ := utf16LenOf([]byte(s))
				return Int(int64(n)), Undefined
			}
		}
		return Undefined, Undefined
	default:
		return Undefined, Undefined
	}
}

func (vm *VM) setProperty(obj Value, name string, val Value) Value {
	if obj.Kind() != KindObject {
		return newException(vm.heap, ExecTypeError, "cannot set property on non-object value", vm.pc)
	}
	hs, ok := vm.heap.NewString([]byte(name))
	if !ok {
		return oomException(vm.pc)
	}
	obj.obj.Set(hs, val)
	return Undefined
}

func (vm *VM) getIndex(obj, idx Value) (Value, Value) {
	switch obj.Kind() {
	case KindArray:
		if idx.Kind() != KindInteger {
			return Undefined, newException(vm.heap, ExecTypeError, "array index must be an integer", vm.pc)
		}
		i := int(idx.i)
		if i < 0 || i >= obj.arr.Size {
			return Undefined, newException(vm.heap, ExecIndexError, "array index out of range", vm.pc)
		}
		return obj.arr.Get(i), Undefined
	case KindObject:
		key, ok := idx.AsGoString()
		if !ok {
			return Undefined, newException(vm.heap, ExecTypeError, "object key must be a string", vm.pc)
		}
		hs, ok := vm.heap.NewString([]byte(key))
		if !ok {
			return Undefined, oomException(vm.pc)
		}
		v, _ := obj.obj.Get(hs)
		return v, Undefined
	default:
		return Undefined, newException(vm.heap, ExecTypeError, "value does not support indexing", vm.pc)
	}
}

func (vm *VM) setIndex(obj, idx, val Value) Value {
	switch obj.Kind() {
	case KindArray:
		if idx.Kind() != KindInteger {
			return newException(vm.heap, ExecTypeError, "array index must be an integer", vm.pc)
		}
		i := int(idx.i)
		if i < 0 {
			return newException(vm.heap, ExecIndexError, "array index out of range", vm.pc)
		}
		obj.arr.Set(i, val)
		return Undefined
	case KindObject:
		key, ok := idx.AsGoString()
		if !ok {
			return newException(vm.heap, ExecTypeError, "object key must be a string", vm.pc)
		}
		hs, ok := vm.heap.NewString([]byte(key))
		if !ok {
			return oomException(vm.pc)
		}
		obj.obj.Set(hs, val)
		return Undefined
	default:
		return newException(vm.heap, ExecTypeError, "value does not support indexed assignment", vm.pc)
	}
}
