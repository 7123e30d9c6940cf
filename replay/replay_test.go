package replay_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/chain"
	"github.com/theater-rt/theater/cmn"
	"github.com/theater-rt/theater/intercept"
	"github.com/theater-rt/theater/replay"
)

// buildRecordedChain replays the way the actor runtime would itself have
// recorded one init call to "theater:simple/runtime"#log.
func buildRecordedChain(t *testing.T) []chain.Event {
	t.Helper()
	c := chain.New(cmn.NewActorID())
	c.Append(chain.Runtime(chain.RuntimeInitCallStarted, nil))
	c.Append(chain.HostFunctionCall("theater:simple/runtime", "log", abi.String("hello"), abi.Unit()))
	c.Append(chain.Runtime(chain.RuntimeInitCallCompleted, nil))
	return c.Events()
}

func TestReplayMatchingChainSucceeds(t *testing.T) {
	recorded := buildRecordedChain(t)
	out := chain.New(cmn.NewActorID())
	eng := replay.New(recorded, out)

	inv := eng.Invoker()
	result, err := inv.Invoke(context.Background(), intercept.Call{
		Interface: "theater:simple/runtime",
		Function:  "log",
		Input:     abi.String("hello"),
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !result.Equal(abi.Unit()) {
		t.Fatalf("expected recorded output (), got %+v", result)
	}

	summary, err := eng.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if summary.Payload.Kind != chain.KindReplaySummary {
		t.Fatalf("expected a ReplaySummary event, got %s", summary.Payload.Kind)
	}
	if !summary.Payload.Success || summary.Payload.Mismatches != 0 {
		t.Fatalf("expected success with zero mismatches, got %+v", summary.Payload)
	}
	if summary.Payload.EventsReplayed != 3 {
		t.Fatalf("expected 3 events replayed, got %d", summary.Payload.EventsReplayed)
	}
	if !eng.Success() {
		t.Fatalf("expected eng.Success() to report true")
	}
}

func TestReplayMismatchedInputFails(t *testing.T) {
	recorded := buildRecordedChain(t)
	out := chain.New(cmn.NewActorID())
	eng := replay.New(recorded, out)

	inv := eng.Invoker()
	_, err := inv.Invoke(context.Background(), intercept.Call{
		Interface: "theater:simple/runtime",
		Function:  "log",
		Input:     abi.String("goodbye"), // does not match the recorded "hello"
	})
	if err == nil {
		t.Fatalf("expected a mismatch error for a divergent input")
	}

	summary, err := eng.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if summary.Payload.Success {
		t.Fatalf("expected success=false after a mismatch")
	}
	if summary.Payload.Mismatches == 0 {
		t.Fatalf("expected at least one recorded mismatch")
	}
	if summary.Payload.ReplayError == "" {
		t.Fatalf("expected a non-empty error string on the summary")
	}
	if eng.Success() {
		t.Fatalf("expected eng.Success() to report false")
	}
}

func TestReplayExhaustedChainFails(t *testing.T) {
	// A chain with no HostFunctionCall events at all: any live call is
	// unexpected since the recording has nothing left to match against.
	c := chain.New(cmn.NewActorID())
	c.Append(chain.Runtime(chain.RuntimeInitCallStarted, nil))
	c.Append(chain.Runtime(chain.RuntimeInitCallCompleted, nil))

	out := chain.New(cmn.NewActorID())
	eng := replay.New(c.Events(), out)

	_, err := eng.Invoker().Invoke(context.Background(), intercept.Call{
		Interface: "theater:simple/runtime",
		Function:  "log",
		Input:     abi.String("hello"),
	})
	if err == nil {
		t.Fatalf("expected an error when the recorded chain has no more host calls")
	}
}

func TestOperationsRecoveredFromBoundaryEvents(t *testing.T) {
	c := chain.New(cmn.NewActorID())
	c.Append(chain.Runtime(chain.RuntimeInitCallStarted, nil))
	c.Append(chain.Runtime(chain.RuntimeInitCallCompleted, nil))

	inputJSON, err := json.Marshal(abi.String("world"))
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	c.Append(chain.Wasm(chain.WasmFunctionInvoked, map[string]string{
		"function": "greet",
		"input":    string(inputJSON),
	}))
	c.Append(chain.Wasm(chain.WasmFunctionInvoked, map[string]string{
		"function": "cleanup",
		"error":    "function not found: cleanup",
	}))

	eng := replay.New(c.Events(), chain.New(cmn.NewActorID()))
	ops := eng.Operations()
	if len(ops) != 2 {
		t.Fatalf("expected 2 recovered operations, got %d", len(ops))
	}
	if ops[0].Function != "greet" || !ops[0].Input.Equal(abi.String("world")) || ops[0].RecordedError != "" {
		t.Fatalf("unexpected first operation: %+v", ops[0])
	}
	if ops[1].Function != "cleanup" || ops[1].RecordedError == "" {
		t.Fatalf("expected the second operation to carry its recorded error, got %+v", ops[1])
	}
	if !ops[1].Input.Equal(abi.Unit()) {
		t.Fatalf("an operation recorded without an input decodes as unit, got %+v", ops[1].Input)
	}
}
