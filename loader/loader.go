// Package loader wraps wazero to compile and instantiate component
// binaries. wazero's OSS core operates on plain wasm modules rather than
// the full component-model ABI, so a component binary here is a wasm
// module whose imports/exports already use flat `interface#function`
// symbol names - the same convention wazero's own WASI adapter and the
// ecosystem's component-model preprocessors use ahead of instantiation.
package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/theater-rt/theater/cmn"
)

// Import is one host function a component binary declares as an import,
// named by the two-part `interface#function` convention.
type Import struct {
	Interface string
	Function  string
}

func (i Import) String() string { return i.Interface + "#" + i.Function }

// HostFunc is the shape every bound import must have: it receives the
// raw linear-memory arguments wazero hands it and returns raw results.
// The Host-Call Interceptor is what actually wraps these with encoding
// and chain recording; the loader only knows how to bind and call them.
type HostFunc func(ctx context.Context, mod api.Module, stack []uint64)

// Component is a compiled, not-yet-instantiated wasm binary together
// with the set of imports it declared, harvested from the compiled
// module's import section so callers never have to parse the binary
// themselves.
type Component struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	imports  []Import
}

func (c *Component) Imports() []Import {
	out := make([]Import, len(c.imports))
	copy(out, c.imports)
	return out
}

// Loader owns the wazero.Runtime for a process (or, in tests, for one
// actor) and the host modules bound into it. One Loader is shared by
// every Instance it produces, matching wazero's guidance to compile and
// cache a runtime once rather than per-call.
type Loader struct {
	mu      sync.Mutex
	runtime wazero.Runtime
}

func New(ctx context.Context) *Loader {
	return &Loader{runtime: wazero.NewRuntime(ctx)}
}

func (l *Loader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

// Compile parses a component binary and reports its declared imports.
// Compilation is the expensive, cacheable step; Instantiate (below) is
// cheap and is what actually runs per spawned actor.
func (l *Loader) Compile(ctx context.Context, binary []byte) (*Component, error) {
	compiled, err := l.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, fmt.Errorf("loader: compile: %w", err)
	}
	var imports []Import
	for _, imp := range compiled.ImportedFunctions() {
		modName, fnName, ok := imp.Import()
		if !ok {
			continue
		}
		imports = append(imports, parseImport(modName, fnName))
	}
	return &Component{runtime: l.runtime, compiled: compiled, imports: imports}, nil
}

// parseImport maps a wazero (module, name) pair onto the
// interface#function shape: the module name is the interface and the
// import name the function. A module name that itself contains "#" is
// split at its first "#", the rest joining the function name. An
// interface no handler is registered for fails binding cleanly with
// UnsatisfiedImport rather than panicking on a malformed symbol.
func parseImport(module, name string) Import {
	if iface, fn, ok := strings.Cut(module+"#"+name, "#"); ok {
		return Import{Interface: iface, Function: fn}
	}
	return Import{Interface: module, Function: name}
}

// Instance is a running copy of a Component bound against a concrete set
// of host functions. Each actor gets its own Instance; Components (and
// the Loader's Runtime) are shared across actors running the same
// binary.
type Instance struct {
	mod api.Module
}

// Bind instantiates comp with hostFns providing every declared import.
// Bind fails with a plain error naming the first import it cannot find a
// host function for; an import with no registered handler is normally
// already refused as UnsatisfiedImport by the Handler Registry before
// Bind runs.
func (l *Loader) Bind(ctx context.Context, comp *Component, hostFns map[Import]HostFunc) (*Instance, error) {
	for _, imp := range comp.imports {
		if _, ok := hostFns[imp]; !ok {
			return nil, fmt.Errorf("loader: no host function bound for import %s", imp)
		}
	}

	byModule := make(map[string]wazero.HostModuleBuilder)
	for imp, fn := range hostFns {
		builder, ok := byModule[imp.Interface]
		if !ok {
			builder = l.runtime.NewHostModuleBuilder(imp.Interface)
			byModule[imp.Interface] = builder
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(fn), nil, nil).
			Export(imp.Function)
	}
	for name, builder := range byModule {
		if _, err := builder.Instantiate(ctx); err != nil {
			return nil, fmt.Errorf("loader: instantiate host module %s: %w", name, err)
		}
	}

	mod, err := l.runtime.InstantiateModule(ctx, comp.compiled, wazero.NewModuleConfig())
	if err != nil {
		return nil, fmt.Errorf("loader: instantiate component: %w", err)
	}
	return &Instance{mod: mod}, nil
}

func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// Invoke calls an exported function by name, passing the raw uint64
// argument encoding wazero's ABI expects. The Actor Runtime is the only
// caller; argument/result marshaling into abi.Value happens one layer up
// in actorrt (callArgs/callResult).
func (i *Instance) Invoke(ctx context.Context, function string, args ...uint64) ([]uint64, error) {
	fn := i.mod.ExportedFunction(function)
	if fn == nil {
		return nil, &cmn.ErrFunctionNotFound{Name: function}
	}
	return fn.Call(ctx, args...)
}

// HasExport reports whether function is exported, so callers can decide
// whether to invoke an optional entry point (e.g. "init") without
// risking a not-found error.
func (i *Instance) HasExport(function string) bool {
	return i.mod.ExportedFunction(function) != nil
}

// WriteBytes copies b into guest memory at an address obtained from the
// guest's own "alloc" export - the same "callee allocates, caller
// writes" convention components are expected to provide so the host
// never has to guess at the guest's allocator internals.
func (i *Instance) WriteBytes(ctx context.Context, b []byte) (ptr, size uint32, err error) {
	alloc := i.mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, 0, fmt.Errorf("loader: component has no \"alloc\" export")
	}
	res, err := alloc.Call(ctx, uint64(len(b)))
	if err != nil {
		return 0, 0, fmt.Errorf("loader: alloc: %w", err)
	}
	ptr = uint32(res[0])
	if !i.mod.Memory().Write(ptr, b) {
		return 0, 0, fmt.Errorf("loader: out-of-bounds write at %d/%d", ptr, len(b))
	}
	return ptr, uint32(len(b)), nil
}

// ReadBytes reads size bytes at ptr out of guest memory.
func (i *Instance) ReadBytes(ptr, size uint32) ([]byte, error) {
	b, ok := i.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("loader: out-of-bounds read at %d/%d", ptr, size)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
