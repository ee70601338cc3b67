package fiberscript

import "fmt"

// Script is a compiled, ready-to-run program bound to nothing yet: a
// Heap and Library are supplied per execution so one Script can run
// concurrently against independent heaps.
type Script struct {
	compiled *Compiled
}

// CompileSource parses, optimizes, and compiles src against lib in one
// step. cfg controls the optimizer pass (compiler.optimize) and is
// also threaded through to the Heap/VM at execution time by the
// caller; CompileSource itself only needs the optimizer flag.
func CompileSource(src []byte, lib Library, cfg *Config) (*Script, error) {
	block, err := ParseProgram(src)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = NewConfig()
	}
	block = Optimize(block, cfg.GetInt("compiler.optimize") != 0)
	compiled, err := Compile(block, lib)
	if err != nil {
		return nil, err
	}
	return &Script{compiled: compiled}, nil
}

// ExecSync runs the script to completion on the calling goroutine. It
// refuses scripts that reference any AsyncFunction/AsyncConstant,
// since a synchronous caller has no scheduler to resume them. root is
// the host value the script's bare `$` identifier and
// ExecutionContext.Root() resolve to; attach is an opaque host pointer
// handed back unchanged via ExecutionContext.Attach().
func (s *Script) ExecSync(heap *Heap, lib Library, cfg *Config, root Value, attach any) (Value, error) {
	if s.compiled.ContainsAsync {
		return Undefined, fmt.Errorf("fiberscript: script uses async functions/constants, use ExecAsync")
	}
	vm := NewVM(heap, lib, cfg, SyncScheduler{}, s.compiled, root, attach)
	return vm.Run()
}

// ExecAsync runs the script on a dedicated goroutine, driving any
// suspended AsyncFunction/AsyncConstant calls through sched, and
// returns a future-style pair the caller blocks on at its own pace.
// root and attach are as in ExecSync.
func (s *Script) ExecAsync(heap *Heap, lib Library, cfg *Config, sched Scheduler, root Value, attach any) (wait func() (Value, error)) {
	result := make(chan struct {
		v   Value
		err error
	}, 1)
	vm := NewVM(heap, lib, cfg, sched, s.compiled, root, attach)
	go func() {
		v, err := vm.Run()
		result <- struct {
			v   Value
			err error
		}{v, err}
	}()
	return func() (Value, error) {
		r := <-result
		return r.v, r.err
	}
}

// Compiled exposes the underlying bytecode unit, e.g. for a CLI
// disassemble command.
func (s *Script) Compiled() *Compiled { return s.compiled }
