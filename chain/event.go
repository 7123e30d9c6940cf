// Package chain implements the append-only, hash-linked event log kept per
// actor. Every host-side effect an actor observes is recorded here; a
// chain plus the actor binary is enough to deterministically replay the
// actor.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package chain

import (
	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/cmn/cos"
)

// Kind tags the payload taxonomy. HostFunctionCall is deliberately the
// only variant the Interceptor ever writes; runtime/wasm/theater-runtime
// events are emitted by the components that actually observe them, which
// keeps the interceptor itself free of handler-specific knowledge.
type Kind string

const (
	KindHostFunctionCall Kind = "host_function_call"
	KindRuntime          Kind = "runtime"
	KindWasm             Kind = "wasm"
	KindTheaterRuntime   Kind = "theater_runtime"
	KindReplaySummary    Kind = "replay_summary"
)

// RuntimeSubkind enumerates the "kind" field inside a Runtime payload.
type RuntimeSubkind string

const (
	RuntimeInitCallStarted   RuntimeSubkind = "init_call_started"
	RuntimeInitCallCompleted RuntimeSubkind = "init_call_completed"
	RuntimeShutdownRequested RuntimeSubkind = "shutdown_requested"
	RuntimeLog               RuntimeSubkind = "log"
)

type WasmSubkind string

const (
	WasmComponentLoaded WasmSubkind = "component_loaded"
	WasmFunctionInvoked WasmSubkind = "function_invoked"
	WasmTrap            WasmSubkind = "trap"
	WasmMemoryGrowth    WasmSubkind = "memory_growth"
)

type TheaterRuntimeSubkind string

const (
	TRActorSpawned             TheaterRuntimeSubkind = "actor_spawned"
	TRComponentUpdateStarted   TheaterRuntimeSubkind = "component_update_started"
	TRComponentUpdateCompleted TheaterRuntimeSubkind = "component_update_completed"
	TRComponentUpdateFailed    TheaterRuntimeSubkind = "component_update_failed"
)

// Payload is the tagged-union event body. Only the fields matching Kind
// (and, for Runtime/Wasm/TheaterRuntime, Subkind) are meaningful; this
// mirrors abi.Value's "flat struct, zero-value the rest" canonicalization
// so hashing stays deterministic regardless of which variant is in play.
type Payload struct {
	Kind Kind `json:"kind"`

	// HostFunctionCall
	Interface string    `json:"interface,omitempty"`
	Function  string    `json:"function,omitempty"`
	Input     abi.Value `json:"input,omitempty"`
	Output    abi.Value `json:"output,omitempty"`

	// Runtime / Wasm / TheaterRuntime
	Subkind string            `json:"subkind,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`

	// ReplaySummary
	TotalEvents    int    `json:"total_events,omitempty"`
	EventsReplayed int    `json:"events_replayed,omitempty"`
	Mismatches     int    `json:"mismatches,omitempty"`
	Success        bool   `json:"success,omitempty"`
	ReplayError    string `json:"replay_error,omitempty"`
}

func HostFunctionCall(iface, fn string, input, output abi.Value) Payload {
	return Payload{Kind: KindHostFunctionCall, Interface: iface, Function: fn, Input: input, Output: output}
}

func Runtime(sub RuntimeSubkind, fields map[string]string) Payload {
	return Payload{Kind: KindRuntime, Subkind: string(sub), Fields: fields}
}

func Wasm(sub WasmSubkind, fields map[string]string) Payload {
	return Payload{Kind: KindWasm, Subkind: string(sub), Fields: fields}
}

func TheaterRuntimeEvent(sub TheaterRuntimeSubkind, fields map[string]string) Payload {
	return Payload{Kind: KindTheaterRuntime, Subkind: string(sub), Fields: fields}
}

func ReplaySummary(total, replayed, mismatches int, success bool, errStr string) Payload {
	return Payload{
		Kind: KindReplaySummary, TotalEvents: total, EventsReplayed: replayed,
		Mismatches: mismatches, Success: success, ReplayError: errStr,
	}
}

// Event is an immutable, hash-linked log entry.
type Event struct {
	Seq        int64    `json:"seq"`
	ParentHash string   `json:"parent_hash,omitempty"`
	Payload    Payload  `json:"payload"`
	Hash       string   `json:"hash"`
}

// computeHash re-derives H(parent ‖ serialize(payload)) - the chain
// linkage invariant that must hold for every event, not just the one
// just appended.
func computeHash(parentHash string, payload Payload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := cos.ChecksumBytes(append([]byte(parentHash), body...))
	return sum.Value(), nil
}
