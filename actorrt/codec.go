package actorrt

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"github.com/theater-rt/theater/abi"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// callArgs writes v into the component's own memory via its "alloc"
// export and returns the (ptr, len) pair every exported operation
// function takes as its two wasm arguments, matching the convention the
// Interceptor already uses for host calls in the other direction.
func callArgs(ctx context.Context, inst Instance, v abi.Value) ([]uint64, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	ptr, size, err := inst.WriteBytes(ctx, body)
	if err != nil {
		return nil, err
	}
	return []uint64{uint64(ptr), uint64(size)}, nil
}

// callResult decodes the (ptr, len) pair an exported operation function
// returns back into an abi.Value.
func callResult(inst Instance, out []uint64) (abi.Value, error) {
	if len(out) < 2 {
		return abi.Unit(), nil
	}
	body, err := inst.ReadBytes(uint32(out[0]), uint32(out[1]))
	if err != nil {
		return abi.Value{}, err
	}
	var v abi.Value
	if err := json.Unmarshal(body, &v); err != nil {
		return abi.Value{}, err
	}
	return v, nil
}
