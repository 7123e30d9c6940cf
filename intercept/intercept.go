// Package intercept wraps every declared host-call import with a
// recording layer: each call is decoded into an abi.Value, dispatched to
// an Invoker, and the (input, output) pair is appended to the actor's
// chain as a single HostFunctionCall event. Live execution and replay
// share this package; only the Invoker differs between them.
package intercept

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/chain"
	"github.com/theater-rt/theater/loader"
)

// Invoker performs the actual work behind one host call. The live
// Invoker runs a bound handler; the replay Invoker instead pops the next
// recorded event off a loaded chain and asserts it matches.
type Invoker interface {
	Invoke(ctx context.Context, call Call) (abi.Value, error)
}

// Call is everything an Invoker needs to resolve one host call.
type Call struct {
	Interface string
	Function  string
	Input     abi.Value
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(ctx context.Context, call Call) (abi.Value, error)

func (f InvokerFunc) Invoke(ctx context.Context, call Call) (abi.Value, error) {
	return f(ctx, call)
}

// Interceptor binds one Invoker and one Chain to a set of declared
// imports and produces the loader.HostFunc map Bind requires. Wire
// arguments are decoded as a single length-prefixed byte slice read from
// the caller's linear memory - every host function this module exposes
// shares that one calling convention, so the Interceptor never needs to
// special-case a handler's argument shape.
type Interceptor struct {
	chain   *chain.Chain
	invoker Invoker
}

func New(c *chain.Chain, inv Invoker) *Interceptor {
	return &Interceptor{chain: c, invoker: inv}
}

// Bind produces one loader.HostFunc per import, each wrapping
// i.invoker.Invoke with the record-to-chain bookkeeping described above.
func (i *Interceptor) Bind(imports []loader.Import) map[loader.Import]loader.HostFunc {
	out := make(map[loader.Import]loader.HostFunc, len(imports))
	for _, imp := range imports {
		imp := imp
		out[imp] = func(ctx context.Context, mod api.Module, stack []uint64) {
			input, err := decodeArg(mod, stack)
			if err != nil {
				encodeErr(mod, stack, err)
				return
			}

			output, err := i.invoker.Invoke(ctx, Call{Interface: imp.Interface, Function: imp.Function, Input: input})
			if err != nil {
				output = abi.Err(abi.String(err.Error()))
			}

			if _, appendErr := i.chain.Append(chain.HostFunctionCall(imp.Interface, imp.Function, input, output)); appendErr != nil {
				encodeErr(mod, stack, appendErr)
				return
			}

			encodeResult(mod, stack, output)
		}
	}
	return out
}

// decodeArg reads a (ptr, len) pair off the call stack and parses the
// pointed-at bytes as a JSON-encoded abi.Value. JSON (not a bespoke
// binary ABI) keeps the wire shape identical to everything else the
// module canonicalizes through jsoniter, at the cost of being slower
// than a hand-packed encoding - an acceptable tradeoff since host calls
// are not the hot path replay needs to be fast on.
func decodeArg(mod api.Module, stack []uint64) (abi.Value, error) {
	if len(stack) < 2 {
		return abi.Value{}, fmt.Errorf("intercept: host call stack too short: %d", len(stack))
	}
	ptr := uint32(stack[0])
	size := uint32(stack[1])
	buf, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return abi.Value{}, fmt.Errorf("intercept: out-of-bounds argument read at %d/%d", ptr, size)
	}
	var v abi.Value
	if err := jsonUnmarshal(buf, &v); err != nil {
		return abi.Value{}, fmt.Errorf("intercept: decode argument: %w", err)
	}
	return v, nil
}

// encodeResult writes v back into the guest's memory at the location
// the guest pre-allocated and reserved via the final stack slot, then
// reports the written length through the first result slot. Components
// following the "caller allocates, callee writes back" convention (the
// same one wazero's own examples use to avoid host-side allocation)
// satisfy this without any extra export.
func encodeResult(mod api.Module, stack []uint64, v abi.Value) {
	body, err := jsonMarshal(v)
	if err != nil {
		encodeErr(mod, stack, err)
		return
	}
	writeBack(mod, stack, body)
}

func encodeErr(mod api.Module, stack []uint64, err error) {
	body, _ := jsonMarshal(abi.Err(abi.String(err.Error())))
	writeBack(mod, stack, body)
}

func writeBack(mod api.Module, stack []uint64, body []byte) {
	if len(stack) < 3 {
		return
	}
	outPtr := uint32(stack[2])
	mod.Memory().Write(outPtr, body)
	stack[0] = uint64(len(body))
}
