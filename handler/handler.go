// Package handler provides the registry that binds a component's
// declared imports to concrete host-side implementations, plus a set of
// bundled adapters for common capabilities (filesystem, HTTP client,
// clock, random, environment). Handlers are intentionally thin: the core
// only needs their registration shape, not a full-fidelity WASI
// implementation.
package handler

import (
	"context"
	"fmt"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/cmn"
	"github.com/theater-rt/theater/loader"
)

// Func is the one contract every handler implements, live or bundled:
// take a decoded argument, return a result or an error. The Interceptor
// never special-cases a handler because they all share this shape.
type Func func(ctx context.Context, input abi.Value) (abi.Value, error)

// Factory builds a bound Func for one (interface, version) pair, given
// the permission policy declared for the actor being spawned. Returning
// an error here - e.g. a requested root outside the allowed set - fails
// the bind before the actor ever starts.
type Factory func(policy Policy) (Func, error)

// Policy is the subset of a manifest's permission_policy relevant to
// handler construction; each bundled adapter reads only the fields it
// understands and ignores the rest.
type Policy struct {
	AllowedRoots []string          // handler/fs
	AllowedHosts []string          // handler/httpclient
	AllowedEnv   []string          // handler/env
	Extra        map[string]string // passthrough for custom handlers
}

// Registry maps (interface, version) pairs to Factories. One Registry is
// built at process startup with every bundled adapter registered, then
// shared read-only across every Bind call.
type Registry struct {
	factories map[key]Factory
}

type key struct {
	iface   string
	version string
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[key]Factory)}
}

func (r *Registry) Register(iface, version string, f Factory) {
	r.factories[key{iface, version}] = f
}

// Bind walks the imports loader reported for a compiled component,
// resolves each against a registered Factory, and enforces policy at
// bind time. Any import left unmatched fails the whole bind with
// cmn.ErrUnsatisfiedImport rather than deferring the failure to first
// call.
func (r *Registry) Bind(imports []loader.Import, version string, policy Policy) (map[loader.Import]Func, error) {
	out := make(map[loader.Import]Func, len(imports))
	byIface := make(map[string][]loader.Import)
	for _, imp := range imports {
		byIface[imp.Interface] = append(byIface[imp.Interface], imp)
	}
	for iface, group := range byIface {
		factory, ok := r.factories[key{iface, version}]
		if !ok {
			return nil, &cmn.ErrUnsatisfiedImport{Interface: iface, Function: group[0].Function}
		}
		fn, err := factory(policy)
		if err != nil {
			return nil, fmt.Errorf("handler: bind %s@%s: %w", iface, version, err)
		}
		for _, imp := range group {
			out[imp] = fn
		}
	}
	return out, nil
}
