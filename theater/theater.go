// Package theater implements the process-wide coordinator: a single
// mutex-guarded ActorID -> actorrt.Runtime table, one actorrt.Runtime per
// live actor. Commands are direct method calls on Theater; there is no
// inbound command channel.
package theater

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/actorrt"
	"github.com/theater-rt/theater/chain"
	"github.com/theater-rt/theater/cmn"
	"github.com/theater-rt/theater/handler"
	"github.com/theater-rt/theater/intercept"
	"github.com/theater-rt/theater/loader"
	"github.com/theater-rt/theater/manifest"
	"github.com/theater-rt/theater/metrics"
	"github.com/theater-rt/theater/replay"
	"github.com/theater-rt/theater/store"
	"github.com/theater-rt/theater/supervisor"
)

// Theater is the process-wide runtime. One instance per process.
type Theater struct {
	cfg *cmn.Config
	st  *store.Store
	ld  *loader.Loader
	reg *handler.Registry
	sup *supervisor.Supervisor
	met *metrics.Recorder

	mu        sync.RWMutex
	actors    map[cmn.ActorID]*actorrt.Runtime
	chains    map[cmn.ActorID]*chain.Chain
	saveChain map[cmn.ActorID]bool
	subs      map[cmn.ActorID][]chan chain.Event

	// externalStop marks an actor whose pending Stopped transition was
	// requested by a StopActor call that targeted it directly, rather
	// than the recursive descendant-teardown StopActor performs on a
	// parent's subtree. The terminal callback reads and clears this to
	// decide between handle-child-exit and handle-child-external-stop.
	externalStop map[cmn.ActorID]bool
}

func New(cfg *cmn.Config, st *store.Store, ld *loader.Loader, reg *handler.Registry, sup *supervisor.Supervisor) *Theater {
	return &Theater{
		cfg:          cfg,
		st:           st,
		ld:           ld,
		reg:          reg,
		sup:          sup,
		met:          metrics.New(),
		actors:       make(map[cmn.ActorID]*actorrt.Runtime),
		chains:       make(map[cmn.ActorID]*chain.Chain),
		saveChain:    make(map[cmn.ActorID]bool),
		subs:         make(map[cmn.ActorID][]chan chain.Event),
		externalStop: make(map[cmn.ActorID]bool),
	}
}

// MetricsHandler serves the process's Prometheus registry, for the
// daemon to mount at /metrics.
func (t *Theater) MetricsHandler() http.Handler { return t.met.Handler() }

// boundInvoker adapts a handler-registry binding (interface#function ->
// handler.Func) to the intercept.Invoker contract the Interceptor
// drives every live host call through.
type boundInvoker struct {
	fns map[loader.Import]handler.Func
}

func (b boundInvoker) Invoke(ctx context.Context, call intercept.Call) (abi.Value, error) {
	fn, ok := b.fns[loader.Import{Interface: call.Interface, Function: call.Function}]
	if !ok {
		return abi.Value{}, &cmn.ErrUnsatisfiedImport{Interface: call.Interface, Function: call.Function}
	}
	return fn(ctx, call.Input)
}

// instantiateFor builds the actorrt.Instantiator closure for one actor.
// When called with a nil invoker (ordinary live spawn), host calls are
// bound to real handlers through the registry. When called with a
// non-nil invoker (the replay engine), that invoker drives every host
// call instead and the registry is never consulted - replay never talks
// to a real handler.
func (t *Theater) instantiateFor(m *manifest.Manifest, c *chain.Chain) actorrt.Instantiator {
	return func(ctx context.Context, binary []byte, override intercept.Invoker) (actorrt.Instance, []loader.Import, error) {
		comp, err := t.ld.Compile(ctx, binary)
		if err != nil {
			return nil, nil, fmt.Errorf("theater: compile: %w", err)
		}
		imports := comp.Imports()

		invoker := override
		if invoker == nil {
			bound, err := t.reg.Bind(imports, m.APIVersion, policyFromManifest(m))
			if err != nil {
				return nil, nil, err
			}
			invoker = boundInvoker{fns: bound}
		}

		icpt := intercept.New(c, invoker)
		inst, err := t.ld.Bind(ctx, comp, icpt.Bind(imports))
		if err != nil {
			return nil, nil, fmt.Errorf("theater: bind: %w", err)
		}
		return inst, imports, nil
	}
}

// SpawnActor compiles m's component binary, binds its imports through
// the handler registry, wires the interceptor against a fresh chain, and
// starts the actor's scheduler goroutine. If parentID is non-nil, the
// new actor is linked under it and a cycle is rejected before anything
// is started.
func (t *Theater) SpawnActor(ctx context.Context, m *manifest.Manifest, parentID *cmn.ActorID) (cmn.ActorID, error) {
	return t.spawn(ctx, m, parentID, nil)
}

// spawn is SpawnActor with the instantiation step injectable: makeInst,
// when non-nil, supplies the actorrt.Instantiator for the actor's chain
// instead of the loader-backed one instantiateFor builds. The seam
// exists so the coordinator's own wiring - supervisor links, terminal
// callbacks, chain persistence, subscriber fan-out - can run against an
// instance that never touches wazero.
func (t *Theater) spawn(ctx context.Context, m *manifest.Manifest, parentID *cmn.ActorID, makeInst func(c *chain.Chain) actorrt.Instantiator) (cmn.ActorID, error) {
	id := cmn.NewActorID()

	if parentID != nil {
		if _, ok := t.lookup(*parentID); !ok {
			return cmn.NilActorID, fmt.Errorf("theater: spawn %s: unknown parent %s", id, *parentID)
		}
		if err := t.sup.Link(*parentID, id); err != nil {
			return cmn.NilActorID, err
		}
	}

	c := chain.New(id)
	c.OnAppend(func(ev chain.Event) {
		t.met.ChainEventAppended()
		t.fanout(id, ev)
	})
	c.Append(chain.TheaterRuntimeEvent(chain.TRActorSpawned, map[string]string{"manifest": m.Name}))
	t.met.ActorSpawned()

	inst := t.instantiateFor(m, c)
	if makeInst != nil {
		inst = makeInst(c)
	}
	rt := actorrt.New(id, t.cfg, c, inst)
	rt.SetMetrics(t.met)
	rt.SetInitState(m.InitStateBytes)
	rt.OnTerminal(func(id cmn.ActorID, final actorrt.State, rtErr error) {
		if final == actorrt.Stopped && t.shouldSaveChain(id) {
			if _, err := c.Save(t.st); err != nil {
				glog.Warningf("theater: actor %s: save chain: %v", id, err)
			}
		}
		reason := supervisor.ChildExit
		switch final {
		case actorrt.Failed:
			reason = supervisor.ChildError
		case actorrt.Stopped:
			if t.wasExternallyStopped(id) {
				reason = supervisor.ChildExternalStop
			}
		}
		t.remove(id)
		if parent, ok := t.sup.Parent(id); ok {
			parentRT, _ := t.lookup(parent)
			t.sup.NotifyChildExit(context.Background(), parentRT, id, reason, rtErr)
		}
	})

	t.mu.Lock()
	t.actors[id] = rt
	t.chains[id] = c
	t.saveChain[id] = m.SaveChain
	t.mu.Unlock()

	go rt.Run(ctx, m.ComponentBytes, nil)

	return id, nil
}

// StopActor stops descendants before the actor itself, per the ordering
// the command contract requires. Sibling subtrees are independent, so
// they stop concurrently; the first child error cancels the rest via
// the errgroup's shared context. id itself is treated as the directly
// targeted actor of this call - if it has a living parent, that parent's
// handle-child-external-stop fires rather than handle-child-exit - while
// its descendants are torn down as a side effect of the cascade, not a
// direct external command against them.
func (t *Theater) StopActor(ctx context.Context, id cmn.ActorID, graceful bool) error {
	return t.stopActor(ctx, id, graceful, true)
}

func (t *Theater) stopActor(ctx context.Context, id cmn.ActorID, graceful bool, external bool) error {
	children := t.sup.Children(id)
	if len(children) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for _, child := range children {
			child := child
			g.Go(func() error { return t.stopActor(gctx, child, graceful, false) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	rt, ok := t.lookup(id)
	if !ok {
		return &cmn.ErrNotFound{What: id.String()}
	}
	if external {
		t.mu.Lock()
		t.externalStop[id] = true
		t.mu.Unlock()
	}
	if err := rt.Shutdown(ctx, graceful); err != nil {
		return err
	}
	// Shutdown returns once the runtime has accepted the request; a
	// graceful stop may still be draining. Waiting out the runtime's
	// goroutine here is what makes "descendants stop before the parent"
	// mean fully stopped - chain flushed, instance closed - rather than
	// merely stopping.
	select {
	case <-rt.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wasExternallyStopped reports and clears whether id's pending Stopped
// transition was requested via a direct StopActor call rather than a
// descendant-teardown cascade.
func (t *Theater) wasExternallyStopped(id cmn.ActorID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	external := t.externalStop[id]
	delete(t.externalStop, id)
	return external
}

// ReplayActor re-instantiates m's component against a recorded chain
// instead of live handlers: instantiateFor's override-invoker seam,
// built for exactly this substitution, is handed the Replay Engine's
// Invoker instead of a registry-bound one, so every host call the
// component makes during its init is checked against the next recorded
// HostFunctionCall event instead of running a real handler.
// It drives the same entry points the recorded chain implies: the
// init-call sequence first, then every operation boundary the live run
// recorded, each re-invoked with its recorded input - never starting
// the live scheduler loop, and never touching the live actor table. An
// operation that fails where the live run recorded no error aborts the
// replay; one that failed live is allowed to fail again. The returned
// event is the ReplaySummary appended to a fresh output chain built
// for this run.
func (t *Theater) ReplayActor(ctx context.Context, m *manifest.Manifest, recorded []chain.Event) (chain.Event, error) {
	id := cmn.NewActorID()
	out := chain.New(id)

	eng := replay.New(recorded, out)
	eng.SetMetrics(t.met)

	instance, _, err := t.instantiateFor(m, out)(ctx, m.ComponentBytes, eng.Invoker())
	if err != nil {
		return chain.Event{}, fmt.Errorf("theater: replay %s: instantiate: %w", id, err)
	}
	defer func() {
		if err := instance.Close(ctx); err != nil {
			glog.Warningf("theater: replay %s: close instance: %v", id, err)
		}
	}()

	if err := actorrt.RunInit(ctx, instance, out, m.InitStateBytes); err != nil {
		eng.Abort(fmt.Errorf("replay: init: %w", err))
		return eng.Finish()
	}
	for _, op := range eng.Operations() {
		if _, err := actorrt.RunOperation(ctx, instance, out, op.Function, op.Input); err != nil && op.RecordedError == "" {
			eng.Abort(fmt.Errorf("replay: %s: %w", op.Function, err))
			break
		}
	}

	return eng.Finish()
}

// SendMessage invokes a function on a running actor, returning its
// result. This is the path for ordinary operation calls.
func (t *Theater) SendMessage(ctx context.Context, id cmn.ActorID, function string, input abi.Value) (abi.Value, error) {
	rt, ok := t.lookup(id)
	if !ok {
		return abi.Value{}, &cmn.ErrNotFound{What: id.String()}
	}
	return rt.Invoke(ctx, function, input)
}

func (t *Theater) GetActorStatus(id cmn.ActorID) (actorrt.Status, error) {
	rt, ok := t.lookup(id)
	if !ok {
		return actorrt.Status{}, &cmn.ErrNotFound{What: id.String()}
	}
	return rt.GetStatus()
}

// GetActorState is the lightweight counterpart to GetActorStatus: just
// the lifecycle state, none of the mailbox depth bookkeeping.
func (t *Theater) GetActorState(id cmn.ActorID) (actorrt.State, error) {
	rt, ok := t.lookup(id)
	if !ok {
		return "", &cmn.ErrNotFound{What: id.String()}
	}
	return rt.GetState()
}

func (t *Theater) GetActorEvents(id cmn.ActorID) ([]chain.Event, error) {
	rt, ok := t.lookup(id)
	if !ok {
		return nil, &cmn.ErrNotFound{What: id.String()}
	}
	return rt.GetEvents()
}

func (t *Theater) lookup(id cmn.ActorID) (*actorrt.Runtime, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rt, ok := t.actors[id]
	return rt, ok
}

func (t *Theater) shouldSaveChain(id cmn.ActorID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.saveChain[id]
}

func (t *Theater) remove(id cmn.ActorID) {
	t.mu.Lock()
	delete(t.actors, id)
	delete(t.chains, id)
	delete(t.saveChain, id)
	delete(t.externalStop, id)
	subs := t.subs[id]
	delete(t.subs, id)
	t.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// Subscribe registers a channel that receives events newly appended to
// id's chain, for as long as the actor lives. The channel buffers 64
// events; a subscriber that falls further behind misses events (see
// fanout).
func (t *Theater) Subscribe(id cmn.ActorID) (<-chan chain.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.actors[id]; !ok {
		return nil, &cmn.ErrNotFound{What: id.String()}
	}
	ch := make(chan chain.Event, 64)
	t.subs[id] = append(t.subs[id], ch)
	return ch, nil
}

func (t *Theater) fanout(id cmn.ActorID, ev chain.Event) {
	t.mu.RLock()
	subs := t.subs[id]
	t.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// A slow subscriber never blocks the actor's single writer;
			// it simply misses events until it catches up.
		}
	}
}

func policyFromManifest(m *manifest.Manifest) handler.Policy {
	return handler.Policy{
		AllowedRoots: m.Permissions.AllowedRoots,
		AllowedHosts: m.Permissions.AllowedHosts,
		AllowedEnv:   m.Permissions.AllowedEnv,
	}
}
