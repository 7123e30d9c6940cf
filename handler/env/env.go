// Package env implements the bundled environment-variable handler,
// confined to an actor's allowed variable names.
package env

import (
	"context"
	"fmt"
	"os"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/handler"
)

const (
	Interface = "theater:simple/environment"
	Version   = "0.1.0"
)

func Register(r *handler.Registry) {
	r.Register(Interface, Version, factory)
}

func factory(policy handler.Policy) (handler.Func, error) {
	allowed := make(map[string]bool, len(policy.AllowedEnv))
	for _, name := range policy.AllowedEnv {
		allowed[name] = true
	}
	return func(ctx context.Context, input abi.Value) (abi.Value, error) {
		name := input.Str
		if len(allowed) > 0 && !allowed[name] {
			return abi.Err(abi.String(fmt.Sprintf("env: variable %q not allowed", name))), nil
		}
		v, ok := os.LookupEnv(name)
		if !ok {
			return abi.Ok(abi.None()), nil
		}
		return abi.Ok(abi.Some(abi.String(v))), nil
	}, nil
}
