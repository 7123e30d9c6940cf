// Package clock implements the bundled wall-clock handler. It is the
// simplest adapter in the registry and exists mostly to show that a
// handler carries no chain-recording logic of its own - the Interceptor
// already does that uniformly for every bound import.
package clock

import (
	"context"
	"time"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/handler"
)

const (
	Interface = "theater:simple/clock"
	Version   = "0.1.0"
)

func Register(r *handler.Registry) {
	r.Register(Interface, Version, factory)
}

func factory(handler.Policy) (handler.Func, error) {
	return func(ctx context.Context, input abi.Value) (abi.Value, error) {
		now := time.Now().UTC()
		return abi.Ok(abi.Record(map[string]abi.Value{
			"seconds": abi.Int(now.Unix()),
			"nanos":   abi.Int(int64(now.Nanosecond())),
		})), nil
	}, nil
}
