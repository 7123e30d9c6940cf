package theater

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/actorrt"
	"github.com/theater-rt/theater/chain"
	"github.com/theater-rt/theater/cmn"
	"github.com/theater-rt/theater/cmn/cos"
	"github.com/theater-rt/theater/handler"
	"github.com/theater-rt/theater/intercept"
	"github.com/theater-rt/theater/loader"
	"github.com/theater-rt/theater/manifest"
	"github.com/theater-rt/theater/store"
	"github.com/theater-rt/theater/supervisor"
)

// fakeInstance satisfies actorrt.Instance without wazero, so the
// coordinator's own wiring - supervisor links, terminal callbacks,
// chain persistence, subscriber fan-out - runs against hand-registered
// exports instead of a compiled binary.
type fakeInstance struct {
	mu      sync.Mutex
	buf     []byte
	exports map[string]func(ctx context.Context, args []uint64) ([]uint64, error)

	onClose func()
}

func newFakeInstance() *fakeInstance {
	fi := &fakeInstance{exports: make(map[string]func(ctx context.Context, args []uint64) ([]uint64, error))}
	fi.exports["init"] = func(ctx context.Context, args []uint64) ([]uint64, error) { return nil, nil }
	return fi
}

func (f *fakeInstance) register(name string, fn func(ctx context.Context, args []uint64) ([]uint64, error)) {
	f.exports[name] = fn
}

func (f *fakeInstance) Invoke(ctx context.Context, function string, args ...uint64) ([]uint64, error) {
	fn, ok := f.exports[function]
	if !ok {
		return nil, &cmn.ErrFunctionNotFound{Name: function}
	}
	return fn(ctx, args)
}

func (f *fakeInstance) HasExport(function string) bool {
	_, ok := f.exports[function]
	return ok
}

func (f *fakeInstance) WriteBytes(ctx context.Context, b []byte) (uint32, uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ptr := uint32(len(f.buf))
	f.buf = append(f.buf, b...)
	return ptr, uint32(len(b)), nil
}

func (f *fakeInstance) ReadBytes(ptr, size uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, size)
	copy(out, f.buf[ptr:ptr+size])
	return out, nil
}

func (f *fakeInstance) Close(ctx context.Context) error {
	if f.onClose != nil {
		f.onClose()
	}
	return nil
}

func instantiator(fi *fakeInstance) func(c *chain.Chain) actorrt.Instantiator {
	return func(*chain.Chain) actorrt.Instantiator {
		return func(ctx context.Context, binary []byte, inv intercept.Invoker) (actorrt.Instance, []loader.Import, error) {
			return fi, nil, nil
		}
	}
}

func testTheater(t *testing.T) (*Theater, *store.Store) {
	t.Helper()
	dir, err := os.MkdirTemp("", "theater-test-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	cfg := *cmn.DefaultConfig()
	cfg.Timeout.Operation = cos.Duration(5 * time.Second)
	cfg.Timeout.ShutdownGrace = cos.Duration(time.Second)
	th := New(&cfg, st, nil, handler.NewRegistry(), supervisor.New())
	return th, st
}

func waitRemoved(t *testing.T, th *Theater, id cmn.ActorID) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if _, ok := th.lookup(id); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("actor %s still registered after stop", id)
}

func TestSpawnUnknownParentFails(t *testing.T) {
	th, _ := testTheater(t)
	parent := cmn.NewActorID()
	_, err := th.spawn(context.Background(), &manifest.Manifest{Name: "orphan"}, &parent, instantiator(newFakeInstance()))
	if err == nil {
		t.Fatal("expected spawning under an unknown parent to fail")
	}
}

func TestStopActorStopsDescendantsFirst(t *testing.T) {
	th, _ := testTheater(t)
	ctx := context.Background()

	var order []string
	var mu sync.Mutex
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	parentFI := newFakeInstance()
	parentFI.onClose = record("parent")
	parentID, err := th.spawn(ctx, &manifest.Manifest{Name: "parent"}, nil, instantiator(parentFI))
	if err != nil {
		t.Fatalf("spawn parent: %v", err)
	}

	childFI := newFakeInstance()
	childFI.onClose = record("child")
	childID, err := th.spawn(ctx, &manifest.Manifest{Name: "child"}, &parentID, instantiator(childFI))
	if err != nil {
		t.Fatalf("spawn child: %v", err)
	}

	grandFI := newFakeInstance()
	grandFI.onClose = record("grandchild")
	if _, err := th.spawn(ctx, &manifest.Manifest{Name: "grandchild"}, &childID, instantiator(grandFI)); err != nil {
		t.Fatalf("spawn grandchild: %v", err)
	}

	if err := th.StopActor(ctx, parentID, true); err != nil {
		t.Fatalf("stop parent: %v", err)
	}
	waitRemoved(t, th, parentID)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 instances closed, got %v", order)
	}
	if order[0] != "grandchild" || order[1] != "child" || order[2] != "parent" {
		t.Fatalf("expected depth-first teardown, got %v", order)
	}
}

// TestChildExitCallbacksReachParent: a
// child stopped as part of its parent's cascade invokes
// handle-child-exit on the parent, while a child targeted directly by
// StopActor invokes handle-child-external-stop instead.
func TestChildExitCallbacksReachParent(t *testing.T) {
	th, _ := testTheater(t)
	ctx := context.Background()

	callbacks := make(chan string, 4)
	parentFI := newFakeInstance()
	for _, cb := range []string{"handle-child-exit", "handle-child-error", "handle-child-external-stop"} {
		cb := cb
		parentFI.register(cb, func(ctx context.Context, args []uint64) ([]uint64, error) {
			callbacks <- cb
			return nil, nil
		})
	}
	parentID, err := th.spawn(ctx, &manifest.Manifest{Name: "parent"}, nil, instantiator(parentFI))
	if err != nil {
		t.Fatalf("spawn parent: %v", err)
	}

	childID, err := th.spawn(ctx, &manifest.Manifest{Name: "child"}, &parentID, instantiator(newFakeInstance()))
	if err != nil {
		t.Fatalf("spawn child: %v", err)
	}

	if err := th.StopActor(ctx, childID, true); err != nil {
		t.Fatalf("stop child: %v", err)
	}
	select {
	case cb := <-callbacks:
		if cb != "handle-child-external-stop" {
			t.Fatalf("direct StopActor on a child should deliver handle-child-external-stop, got %s", cb)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("parent never received a child-termination callback")
	}

	// A second child torn down by the parent's own cascade exits with
	// handle-child-exit: the stop command targeted the parent, not it.
	if _, err := th.spawn(ctx, &manifest.Manifest{Name: "child2"}, &parentID, instantiator(newFakeInstance())); err != nil {
		t.Fatalf("spawn child2: %v", err)
	}
	if err := th.StopActor(ctx, parentID, true); err != nil {
		t.Fatalf("stop parent: %v", err)
	}
	select {
	case cb := <-callbacks:
		if cb != "handle-child-exit" {
			t.Fatalf("cascade teardown should deliver handle-child-exit, got %s", cb)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("parent never received the cascade callback")
	}
}

func TestSaveChainPersistsOnGracefulStop(t *testing.T) {
	th, st := testTheater(t)
	ctx := context.Background()

	id, err := th.spawn(ctx, &manifest.Manifest{Name: "persisted", SaveChain: true}, nil, instantiator(newFakeInstance()))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := th.StopActor(ctx, id, true); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitRemoved(t, th, id)

	loaded, err := chain.LoadByActor(st, id)
	if err != nil {
		t.Fatalf("load persisted chain: %v", err)
	}
	if !loaded.Verify() {
		t.Fatal("persisted chain failed verification")
	}
	events := loaded.Events()
	if len(events) == 0 || events[0].Payload.Kind != chain.KindTheaterRuntime {
		t.Fatalf("expected the spawn event at the head of the persisted chain, got %+v", events)
	}
}

func TestSubscribeReceivesAppendedEvents(t *testing.T) {
	th, _ := testTheater(t)
	ctx := context.Background()

	fi := newFakeInstance()
	fi.register("tick", func(ctx context.Context, args []uint64) ([]uint64, error) { return nil, nil })
	id, err := th.spawn(ctx, &manifest.Manifest{Name: "subscribed"}, nil, instantiator(fi))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	ch, err := th.Subscribe(id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := th.SendMessage(ctx, id, "tick", abi.Unit()); err != nil {
		t.Fatalf("send message: %v", err)
	}

	// The operation-boundary event lands on the chain once "tick"
	// returns; the subscriber channel must see it without any further
	// prompting.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Payload.Kind == chain.KindWasm && ev.Payload.Fields["function"] == "tick" {
				return
			}
		case <-deadline:
			t.Fatal("subscriber never observed the operation event")
		}
	}
}

func TestSendMessageUnknownActor(t *testing.T) {
	th, _ := testTheater(t)
	_, err := th.SendMessage(context.Background(), cmn.NewActorID(), "noop", abi.Unit())
	if _, ok := err.(*cmn.ErrNotFound); !ok {
		t.Fatalf("expected *cmn.ErrNotFound, got %T (%v)", err, err)
	}
}
