// Package random implements the bundled randomness handler, backed by
// crypto/rand so actors never rely on a predictable source - replay
// substitutes the recorded bytes instead of re-drawing them, so
// reproducibility never depends on this handler being deterministic.
package random

import (
	"context"
	"crypto/rand"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/handler"
)

const (
	Interface = "theater:simple/random"
	Version   = "0.1.0"
)

func Register(r *handler.Registry) {
	r.Register(Interface, Version, factory)
}

func factory(handler.Policy) (handler.Func, error) {
	return func(ctx context.Context, input abi.Value) (abi.Value, error) {
		n := input.Fields["len"].Int
		if n < 0 || n > 1<<20 {
			return abi.Err(abi.String("random: length out of range")), nil
		}
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return abi.Err(abi.String(err.Error())), nil
		}
		return abi.Ok(abi.Bytes(buf)), nil
	}, nil
}
