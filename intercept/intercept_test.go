package intercept

import (
	"context"
	"errors"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/chain"
	"github.com/theater-rt/theater/cmn"
	"github.com/theater-rt/theater/loader"
)

// fakeMemory is a flat byte buffer behind the api.Memory interface; the
// embedded interface covers the methods these tests never reach.
type fakeMemory struct {
	api.Memory
	buf []byte
}

func (m *fakeMemory) Read(off, count uint32) ([]byte, bool) {
	if uint64(off)+uint64(count) > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[off : off+count], true
}

func (m *fakeMemory) Write(off uint32, b []byte) bool {
	if uint64(off)+uint64(len(b)) > uint64(len(m.buf)) {
		return false
	}
	copy(m.buf[off:], b)
	return true
}

type fakeModule struct {
	api.Module
	mem *fakeMemory
}

func (m *fakeModule) Memory() api.Memory { return m.mem }

// call stages input at offset 0 of a fresh guest memory, runs the bound
// host function with the [ptr, len, outPtr] stack shape components use,
// and decodes whatever the interceptor wrote back.
func call(t *testing.T, fn loader.HostFunc, input abi.Value) abi.Value {
	t.Helper()
	body, err := jsonMarshal(input)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	mem := &fakeMemory{buf: make([]byte, 64*1024)}
	copy(mem.buf, body)
	outPtr := uint32(32 * 1024)
	stack := []uint64{0, uint64(len(body)), uint64(outPtr)}

	fn(context.Background(), &fakeModule{mem: mem}, stack)

	written := stack[0]
	out, ok := mem.Read(outPtr, uint32(written))
	if !ok {
		t.Fatalf("result out of bounds: %d/%d", outPtr, written)
	}
	var v abi.Value
	if err := jsonUnmarshal(out, &v); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return v
}

func TestHostCallRecordedAfterInvocation(t *testing.T) {
	c := chain.New(cmn.NewActorID())

	var got Call
	inv := InvokerFunc(func(ctx context.Context, call Call) (abi.Value, error) {
		got = call
		return abi.Ok(abi.String("pong")), nil
	})
	imp := loader.Import{Interface: "theater:simple/runtime", Function: "ping"}
	bound := New(c, inv).Bind([]loader.Import{imp})

	out := call(t, bound[imp], abi.String("ping"))
	if !out.Equal(abi.Ok(abi.String("pong"))) {
		t.Fatalf("guest saw %+v, want the invoker's output", out)
	}
	if got.Interface != imp.Interface || got.Function != imp.Function || !got.Input.Equal(abi.String("ping")) {
		t.Fatalf("invoker saw wrong call: %+v", got)
	}

	events := c.Events()
	if len(events) != 1 {
		t.Fatalf("expected exactly one recorded event, got %d", len(events))
	}
	p := events[0].Payload
	if p.Kind != chain.KindHostFunctionCall {
		t.Fatalf("expected a HostFunctionCall event, got %s", p.Kind)
	}
	if p.Interface != imp.Interface || p.Function != imp.Function {
		t.Fatalf("event names the wrong import: %s#%s", p.Interface, p.Function)
	}
	if !p.Input.Equal(abi.String("ping")) || !p.Output.Equal(abi.Ok(abi.String("pong"))) {
		t.Fatalf("event recorded wrong values: %+v", p)
	}
	if !c.Verify() {
		t.Fatal("chain failed verification after a recorded call")
	}
}

// TestInvokerFailureRecordedAsOutput: a failing handler becomes the call's recorded output, the
// guest observes it as an err result, and the chain stays consistent.
func TestInvokerFailureRecordedAsOutput(t *testing.T) {
	c := chain.New(cmn.NewActorID())

	inv := InvokerFunc(func(ctx context.Context, call Call) (abi.Value, error) {
		return abi.Value{}, errors.New("permission denied: /etc/passwd outside allowed roots")
	})
	imp := loader.Import{Interface: "theater:simple/filesystem", Function: "write-file"}
	bound := New(c, inv).Bind([]loader.Import{imp})

	out := call(t, bound[imp], abi.String("/etc/passwd"))
	if !out.IsErr() {
		t.Fatalf("guest should see an err result, got %+v", out)
	}

	events := c.Events()
	if len(events) != 1 {
		t.Fatalf("expected the denial recorded as one event, got %d", len(events))
	}
	if !events[0].Payload.Output.IsErr() {
		t.Fatalf("denial must be the recorded output, got %+v", events[0].Payload.Output)
	}
	if !c.Verify() {
		t.Fatal("chain failed verification after a recorded denial")
	}
}

func TestEventOrderMatchesCallOrder(t *testing.T) {
	c := chain.New(cmn.NewActorID())

	inv := InvokerFunc(func(ctx context.Context, call Call) (abi.Value, error) {
		return abi.Unit(), nil
	})
	imps := []loader.Import{
		{Interface: "theater:simple/runtime", Function: "log"},
		{Interface: "theater:simple/clock", Function: "now"},
	}
	bound := New(c, inv).Bind(imps)

	call(t, bound[imps[0]], abi.String("first"))
	call(t, bound[imps[1]], abi.Unit())
	call(t, bound[imps[0]], abi.String("third"))

	events := c.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	wantFns := []string{"log", "now", "log"}
	for i, ev := range events {
		if ev.Payload.Function != wantFns[i] {
			t.Fatalf("event %d records %s, want %s", i, ev.Payload.Function, wantFns[i])
		}
	}
	if events[1].ParentHash != events[0].Hash || events[2].ParentHash != events[1].Hash {
		t.Fatal("recorded events are not linked in observation order")
	}
}
