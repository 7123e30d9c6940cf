// Package replay re-executes an actor against a recorded chain instead
// of live handlers, building a new chain as it goes and checking each
// host call against the next recorded one. The new chain's hashes are
// not compared with the recorded chain's. It is a bug-finding tool, not a
// self-healing one: the first mismatch stops replay rather than
// papering over it.
package replay

import (
	"context"
	"fmt"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/chain"
	"github.com/theater-rt/theater/intercept"
	"github.com/theater-rt/theater/metrics"
)

// Engine drives one replay run against a recorded chain.
type Engine struct {
	recorded []chain.Event
	pos      int
	output   *chain.Chain // the freshly built chain the replay run produces

	mismatches int
	failed     error

	metrics *metrics.Recorder // optional; nil when no Recorder was attached
}

// SetMetrics attaches the process-wide metrics Recorder so Finish
// reports this run's outcome alongside every other replay run.
func (e *Engine) SetMetrics(m *metrics.Recorder) { e.metrics = m }

// New builds an Engine over a recorded chain's events, writing into a
// fresh output chain for the same actor.
func New(recorded []chain.Event, output *chain.Chain) *Engine {
	return &Engine{recorded: recorded, output: output}
}

// Invoker returns the intercept.Invoker this engine drives host calls
// through: instead of calling a real handler, it pops the next expected
// HostFunctionCall event and asserts it matches.
func (e *Engine) Invoker() intercept.Invoker {
	return intercept.InvokerFunc(e.invoke)
}

func (e *Engine) invoke(ctx context.Context, call intercept.Call) (abi.Value, error) {
	if e.failed != nil {
		return abi.Value{}, e.failed
	}

	next, ok := e.nextHostCall()
	if !ok {
		err := fmt.Errorf("replay: unexpected host call %s#%s: recorded chain exhausted", call.Interface, call.Function)
		e.mismatch(err)
		return abi.Value{}, err
	}

	if next.Interface != call.Interface || next.Function != call.Function || !next.Input.Equal(call.Input) {
		err := fmt.Errorf("replay: mismatch at event: recorded %s#%s(%v), got %s#%s(%v)",
			next.Interface, next.Function, next.Input, call.Interface, call.Function, call.Input)
		e.mismatch(err)
		return abi.Value{}, err
	}

	return next.Output, nil
}

// Operation is one operation boundary recovered from a recorded chain:
// the function the actor was driven through, the input it was driven
// with, and the error the live run recorded for it (empty for a clean
// run). Boundary events carry the input precisely so a replay run can
// re-drive the same call.
type Operation struct {
	Function      string
	Input         abi.Value
	RecordedError string
}

// Operations returns every operation boundary in the recorded chain, in
// order. The replay driver invokes each one after init so the re-run
// exercises the same entry points the live run did, not just the init
// call.
func (e *Engine) Operations() []Operation {
	var ops []Operation
	for _, ev := range e.recorded {
		p := ev.Payload
		if p.Kind != chain.KindWasm || p.Subkind != string(chain.WasmFunctionInvoked) {
			continue
		}
		op := Operation{
			Function:      p.Fields["function"],
			Input:         abi.Unit(),
			RecordedError: p.Fields["error"],
		}
		if raw := p.Fields["input"]; raw != "" {
			var v abi.Value
			if err := json.Unmarshal([]byte(raw), &v); err == nil {
				op.Input = v
			}
		}
		ops = append(ops, op)
	}
	return ops
}

// nextHostCall advances past any non-HostFunctionCall events (runtime,
// wasm, theater-runtime events recorded alongside calls) and returns the
// next HostFunctionCall payload, if any remain.
func (e *Engine) nextHostCall() (chain.Payload, bool) {
	for e.pos < len(e.recorded) {
		ev := e.recorded[e.pos]
		e.pos++
		if ev.Payload.Kind == chain.KindHostFunctionCall {
			return ev.Payload, true
		}
	}
	return chain.Payload{}, false
}

func (e *Engine) mismatch(err error) {
	e.mismatches++
	if e.failed == nil {
		e.failed = err
	}
}

// Finish appends exactly one ReplaySummary event to the output chain,
// per the replay contract's one-summary-per-run guarantee.
func (e *Engine) Finish() (chain.Event, error) {
	success := e.failed == nil
	errStr := ""
	if e.failed != nil {
		errStr = e.failed.Error()
	}
	if e.metrics != nil {
		e.metrics.ReplayFinished(success)
	}
	// e.pos only advances as far as the last HostFunctionCall nextHostCall
	// consumed, so on a mismatch or an exhausted recording it's exactly
	// where replay stopped. A successful run, though, always plays the
	// recorded chain through to its end - including any trailing
	// runtime/wasm events after the last host call that nextHostCall never
	// needed to look at - so EventsReplayed is the full recording length,
	// not the position of the last consumed host call.
	eventsReplayed := e.pos
	if success {
		eventsReplayed = len(e.recorded)
	}
	return e.output.Append(chain.ReplaySummary(len(e.recorded), eventsReplayed, e.mismatches, success, errStr))
}

// Success reports whether replay completed without a single mismatch.
func (e *Engine) Success() bool { return e.failed == nil }

// Abort marks this run as failed for a reason other than a host-call
// mismatch - e.g. the replayed component trapped during its init call -
// so Finish's summary reports success=false instead of reporting a clean
// run just because no HostFunctionCall ever diverged. A no-op if the run
// already failed.
func (e *Engine) Abort(err error) {
	if e.failed == nil {
		e.failed = err
	}
}
