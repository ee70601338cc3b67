package fiberscript

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// ExecutionContext is the VM-facing handle a host Function/AsyncFunction
// receives when called: it exposes the heap, the calling script's
// config, the host root value and opaque attach pointer bound to this
// execution, and (for async calls) the means to suspend until a result
// is posted back.
type ExecutionContext interface {
	Heap() *Heap
	Config() *Config
	// Root returns the host value bound to this execution as `$`.
	Root() Value
	// Attach returns the opaque host pointer passed to ExecSync/ExecAsync,
	// letting a Function/AsyncFunction recover host-side state without
	// routing it through script-visible values.
	Attach() any
	// Suspend parks the current coroutine until Resume is called with
	// a value or an exception to throw in its place. Only valid from
	// inside an AsyncFunction.
	Suspend() (resume func(Value, error), wait func() (Value, error))
}

// Function is a synchronous host-provided callable.
type Function func(ctx ExecutionContext, args []Value) (Value, error)

// AsyncFunction is a host-provided callable that suspends the calling
// coroutine until its result is ready; it is invoked via the VM's
// async call opcode and resumed through the Scheduler.
type AsyncFunction func(ctx ExecutionContext, args []Value) (Value, error)

// Constant is a host-provided value, computed by calling it each time
// a running script reads the constant.
type Constant func(ctx ExecutionContext) (Value, error)

// AsyncConstant is a Constant whose evaluation may suspend the
// calling coroutine, exactly like an AsyncFunction call; it too is
// called on every read.
type AsyncConstant func(ctx ExecutionContext) (Value, error)

// DirectiveDef implements a `directive NAME = TYPE [literals...];`
// compile-time declaration. It runs during compilation, not execution,
// and can inspect/rewrite the declaration's argument nodes (an
// Identifier naming TYPE followed by the literals).
type DirectiveDef func(args []Node) error

// Library is the host's capability surface: every free identifier a
// script references that isn't a local/global variable resolves
// against a Library. Concrete host libraries are expected to be
// assembled with a Builder rather than implementing this interface
// directly.
type Library interface {
	LookupFunction(name string) (Function, bool)
	LookupAsyncFunction(name string) (AsyncFunction, bool)
	LookupConstant(name string) (Constant, bool)
	LookupAsyncConstant(name string) (AsyncConstant, bool)
	LookupDirective(name string) (DirectiveDef, bool)
	// Resolve classifies name the way the compiler needs to pick an
	// opcode, without the caller probing each Lookup* in turn.
	Resolve(name string) ResolutionKind
}

// Builder assembles a Library and wraps its name
// resolution in an LRU cache, since a long-running script engine
// re-resolves the same handful of library names on every call-site
// compile.
type Builder struct {
	functions      map[string]Function
	asyncFunctions map[string]AsyncFunction
	constants      map[string]Constant
	asyncConstants map[string]AsyncConstant
	directives     map[string]DirectiveDef
}

func NewBuilder() *Builder {
	return &Builder{
		functions:      map[string]Function{},
		asyncFunctions: map[string]AsyncFunction{},
		constants:      map[string]Constant{},
		asyncConstants: map[string]AsyncConstant{},
		directives:     map[string]DirectiveDef{},
	}
}

func (b *Builder) AddFunction(name string, fn Function) *Builder {
	b.functions[name] = fn
	return b
}

func (b *Builder) AddAsyncFunction(name string, fn AsyncFunction) *Builder {
	b.asyncFunctions[name] = fn
	return b
}

func (b *Builder) AddConstant(name string, c Constant) *Builder {
	b.constants[name] = c
	return b
}

func (b *Builder) AddAsyncConstant(name string, c AsyncConstant) *Builder {
	b.asyncConstants[name] = c
	return b
}

func (b *Builder) AddDirective(name string, d DirectiveDef) *Builder {
	b.directives[name] = d
	return b
}

// Build returns the finished Library, wrapping resolution in a
// resolution cache sized by cfg's vm.resolution_cache_size setting.
func (b *Builder) Build(cfg *Config) Library {
	lib := &builtLibrary{
		functions:      b.functions,
		asyncFunctions: b.asyncFunctions,
		constants:      b.constants,
		asyncConstants: b.asyncConstants,
		directives:     b.directives,
	}
	if cfg != nil && cfg.GetBool("vm.resolution_cache") {
		size := int(cfg.GetInt("vm.resolution_cache_size"))
		if size <= 0 {
			size = 128
		}
		cache, err := lru.New[string, resolution](size)
		if err == nil {
			lib.cache = cache
		}
	}
	return lib
}

// ResolutionKind reports which lookup table a name resolved against,
// so the compiler can pick the right call opcode without doing the
// lookup twice.
type ResolutionKind int

const (
	ResNone ResolutionKind = iota
	ResFunction
	ResAsyncFunction
	ResConstant
	ResAsyncConstant
)

type resolution struct {
	kind ResolutionKind
}

// builtLibrary is the concrete Library produced by Builder. Resolve
// consults the LRU cache first (when enabled); on a miss it classifies
// the name against the backing maps and remembers only the resulting
// ResolutionKind, never a copy of the callable. The backing maps are
// the Builder's own, so names added to the Builder after Build are
// visible to the Lookup* methods; a cached kind (ResNone included) is
// never refreshed, so Resolve keeps reporting it for that name.
type builtLibrary struct {
	functions      map[string]Function
	asyncFunctions map[string]AsyncFunction
	constants      map[string]Constant
	asyncConstants map[string]AsyncConstant
	directives     map[string]DirectiveDef
	cache          *lru.Cache[string, resolution]
}

// Resolve reports what kind of symbol name is, consulting the
// resolution cache configured via Build. Compilers should call this
// once per identifier reference and branch on the result rather than
// probing each Lookup* method in turn.
func (l *builtLibrary) Resolve(name string) ResolutionKind {
	if l.cache != nil {
		if r, ok := l.cache.Get(name); ok {
			return r.kind
		}
	}
	kind := ResNone
	switch {
	case containsFn(l.functions, name):
		kind = ResFunction
	case containsAsyncFn(l.asyncFunctions, name):
		kind = ResAsyncFunction
	case containsConst(l.constants, name):
		kind = ResConstant
	case containsAsyncConst(l.asyncConstants, name):
		kind = ResAsyncConstant
	}
	if l.cache != nil {
		l.cache.Add(name, resolution{kind: kind})
	}
	return kind
}

func containsFn(m map[string]Function, k string) bool           { _, ok := m[k]; return ok }
func containsAsyncFn(m map[string]AsyncFunction, k string) bool { _, ok := m[k]; return ok }
func containsConst(m map[string]Constant, k string) bool        { _, ok := m[k]; return ok }
func containsAsyncConst(m map[string]AsyncConstant, k string) bool {
	_, ok := m[k]
	return ok
}

func (l *builtLibrary) LookupFunction(name string) (Function, bool) {
	fn, ok := l.functions[name]
	return fn, ok
}

func (l *builtLibrary) LookupAsyncFunction(name string) (AsyncFunction, bool) {
	fn, ok := l.asyncFunctions[name]
	return fn, ok
}

func (l *builtLibrary) LookupConstant(name string) (Constant, bool) {
	c, ok := l.constants[name]
	return c, ok
}

func (l *builtLibrary) LookupAsyncConstant(name string) (AsyncConstant, bool) {
	c, ok := l.asyncConstants[name]
	return c, ok
}

func (l *builtLibrary) LookupDirective(name string) (DirectiveDef, bool) {
	d, ok := l.directives[name]
	return d, ok
}
