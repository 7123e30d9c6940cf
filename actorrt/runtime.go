// Package actorrt implements the per-actor scheduler: the lifecycle
// state machine and the three mailboxes (operation, control, info)
// served by one cooperative select loop per actor - the same "one
// goroutine, one select, bounded channels" shape used at process scope
// for daemon subsystem runners.
package actorrt

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/chain"
	"github.com/theater-rt/theater/cmn"
	"github.com/theater-rt/theater/intercept"
	"github.com/theater-rt/theater/loader"
	"github.com/theater-rt/theater/metrics"
)

// Instance is everything the scheduler needs from a running component:
// enough to invoke exported functions, marshal operation arguments
// through its own linear memory, and close it down on replacement or
// shutdown. *loader.Instance satisfies this; tests substitute a fake
// that never touches wazero, so Run/loop/runOp can be exercised
// without a real compiled wasm binary.
type Instance interface {
	Invoke(ctx context.Context, function string, args ...uint64) ([]uint64, error)
	HasExport(function string) bool
	WriteBytes(ctx context.Context, b []byte) (ptr, size uint32, err error)
	ReadBytes(ptr, size uint32) ([]byte, error)
	Close(ctx context.Context) error
}

// Instantiator produces a freshly bound Instance for a binary, used
// both at Starting and for UpdateComponent. Separated out so actorrt
// never imports handler-registry binding logic directly - the Theater
// Runtime owns wiring the loader, interceptor, and registry together
// and hands actorrt only the function to call.
type Instantiator func(ctx context.Context, binary []byte, inv intercept.Invoker) (Instance, []loader.Import, error)

// Runtime is one actor's scheduler: its chain, its component instance,
// and its mailbox receivers. Nothing outside this struct ever touches
// the component instance or the chain directly - that exclusivity is
// what the ownership model promises.
type Runtime struct {
	id          cmn.ActorID
	cfg         *cmn.Config
	chain       *chain.Chain
	instantiate Instantiator

	opCh   chan opRequest
	ctrlCh chan ctrlRequest
	infoCh chan infoRequest
	doneCh chan struct{}

	state    State
	instance Instance
	imports  []loader.Import // the live component's declared imports; UpdateComponent checks new binaries against these

	// opInFlight, opDoneCh and opCancel track the single operation the
	// scheduler currently has running on its own goroutine. The select
	// loop never blocks waiting for that goroutine - it keeps reading
	// ctrlCh/infoCh the whole time an operation is outstanding, which is
	// what lets a status query or a control message get through while a
	// function call is still running. At most one operation goroutine is
	// ever outstanding: opSrc is nil whenever opInFlight is true, so the
	// next queued operation isn't even read off opCh until this one
	// reports back on opDoneCh.
	opInFlight bool
	opDoneCh   chan struct{}
	opCancel   context.CancelFunc

	initState []byte // opaque bytes handed to "init"; nil when the manifest declared none

	metrics *metrics.Recorder // optional; nil when the process runs without a Recorder

	onTerminal func(id cmn.ActorID, final State, err error) // supervisor hook
}

// SetMetrics attaches the process-wide metrics Recorder. Called once by
// the Theater Runtime right after New, before Run starts; left nil this
// Runtime simply records nothing.
func (r *Runtime) SetMetrics(m *metrics.Recorder) { r.metrics = m }

// SetInitState supplies the opaque state bytes "init" receives. The
// runtime never interprets them; it only round-trips them into the
// component's linear memory. Called before Run, like SetMetrics.
func (r *Runtime) SetInitState(state []byte) { r.initState = state }

func New(id cmn.ActorID, cfg *cmn.Config, c *chain.Chain, inst Instantiator) *Runtime {
	return &Runtime{
		id:          id,
		cfg:         cfg,
		chain:       c,
		instantiate: inst,
		opCh:        make(chan opRequest, cfg.Mailbox.OperationSize),
		ctrlCh:      make(chan ctrlRequest, cfg.Mailbox.ControlSize),
		infoCh:      make(chan infoRequest, cfg.Mailbox.InfoSize),
		doneCh:      make(chan struct{}),
		opDoneCh:    make(chan struct{}, 1),
		state:       Starting,
	}
}

// OnTerminal registers the callback the Supervisor delivers to a
// parent's operation mailbox when this actor reaches Stopped or Failed.
func (r *Runtime) OnTerminal(fn func(id cmn.ActorID, final State, err error)) {
	r.onTerminal = fn
}

func (r *Runtime) ID() cmn.ActorID { return r.id }

// Run is the runtime's single goroutine: component load, then the
// select loop, until Stopped or Failed. Callers invoke this via
// `go rt.Run(ctx, binary, invoker)` at spawn time.
func (r *Runtime) Run(ctx context.Context, binary []byte, invoker intercept.Invoker) {
	defer close(r.doneCh)

	instance, imports, err := r.instantiate(ctx, binary, invoker)
	if err != nil {
		r.fail(fmt.Errorf("actorrt: instantiate: %w", err))
		return
	}
	r.instance = instance
	r.imports = imports
	defer func() {
		if err := r.instance.Close(context.Background()); err != nil {
			glog.Warningf("actorrt: %s: close component: %v", r.id, err)
		}
	}()

	if err := RunInit(ctx, instance, r.chain, r.initState); err != nil {
		r.fail(fmt.Errorf("actorrt: init: %w", err))
		return
	}
	r.state = Running

	r.loop(ctx)
}

// RunInit drives an instance's "init" export exactly the way Run does,
// recording the RuntimeInitCallStarted/RuntimeInitCallCompleted pair
// onto c. Non-empty initState is written into the component's memory
// and handed to "init" as its (ptr, len) argument pair. It's exported
// so the Replay Engine can reproduce the same init-call event shape a
// live spawn produces without starting the scheduler loop a replay run
// has no use for.
func RunInit(ctx context.Context, instance Instance, c *chain.Chain, initState []byte) error {
	var args []uint64
	if len(initState) > 0 {
		ptr, size, err := instance.WriteBytes(ctx, initState)
		if err != nil {
			return err
		}
		args = []uint64{uint64(ptr), uint64(size)}
	}
	c.Append(chain.Runtime(chain.RuntimeInitCallStarted, nil))
	if _, err := instance.Invoke(ctx, "init", args...); err != nil {
		c.Append(chain.Runtime(chain.RuntimeInitCallCompleted, map[string]string{"error": err.Error()}))
		return err
	}
	c.Append(chain.Runtime(chain.RuntimeInitCallCompleted, nil))
	return nil
}

// loop is the cooperative scheduler. At most one operation is ever
// running at a time, but it runs on its own goroutine (see dispatchOp)
// so that control messages and info queries keep being served by this
// select for the whole time that operation is outstanding - a stuck
// function call blocks neither.
func (r *Runtime) loop(ctx context.Context) {
	var stopDeadline <-chan time.Time
	for {
		// opSrc is nil while Paused, or while an operation is already in
		// flight, so the select below never pulls a second one off opCh:
		// queued operations stay unread in the channel buffer until either
		// Running resumes or the in-flight operation reports back.
		var opSrc chan opRequest
		if r.state != Paused && !r.opInFlight {
			opSrc = r.opCh
		}

		select {
		case req := <-r.ctrlCh:
			r.handleCtrl(req, &stopDeadline)
			if r.state == Stopped || r.state == Failed {
				return
			}

		case req := <-r.infoCh:
			r.handleInfo(req)

		case <-stopDeadline:
			if r.opInFlight && r.opCancel != nil {
				r.opCancel()
			}
			r.drainAbort()
			if !r.opInFlight {
				r.transition(Stopped, nil)
				return
			}
			// Still waiting on the cancelled in-flight operation to report
			// back on opDoneCh; the loop falls through to that case below
			// once runOp's goroutine unwinds.

		case req := <-opSrc:
			r.dispatchOp(ctx, req)

		case <-r.opDoneCh:
			r.opInFlight = false
			r.opCancel = nil
			if r.state == Stopping && len(r.opCh) == 0 {
				r.transition(Stopped, nil)
				return
			}
		}
	}
}

// dispatchOp starts req's work on its own goroutine and immediately
// returns control to the select loop. runOp reports back exactly once
// on r.opDoneCh when it finishes, which is the only place opInFlight is
// cleared.
func (r *Runtime) dispatchOp(ctx context.Context, req opRequest) {
	opCtx := ctx
	var cancel context.CancelFunc
	if !req.deadline.IsZero() {
		opCtx, cancel = context.WithDeadline(ctx, req.deadline)
	} else {
		opCtx, cancel = context.WithCancel(ctx)
	}
	r.opInFlight = true
	r.opCancel = cancel
	go r.runOp(opCtx, cancel, req)
}

func (r *Runtime) handleCtrl(req ctrlRequest, stopDeadline *<-chan time.Time) {
	switch req.kind {
	case ctrlPause:
		if r.state == Paused {
			req.resp <- &cmn.ErrPaused{ActorID: r.id}
			return
		}
		if err := r.transition(Paused, nil); err != nil {
			req.resp <- err
			return
		}
		req.resp <- nil
	case ctrlResume:
		if r.state != Paused {
			req.resp <- &cmn.ErrNotPaused{ActorID: r.id}
			return
		}
		if err := r.transition(Running, nil); err != nil {
			req.resp <- err
			return
		}
		req.resp <- nil
	case ctrlShutdownGraceful:
		r.chain.Append(chain.Runtime(chain.RuntimeShutdownRequested, map[string]string{"mode": "graceful"}))
		if err := r.transition(Stopping, nil); err != nil {
			req.resp <- err
			return
		}
		if len(r.opCh) == 0 && !r.opInFlight {
			r.transition(Stopped, nil)
			req.resp <- nil
			return
		}
		*stopDeadline = time.After(r.cfg.Timeout.ShutdownGrace.D())
		req.resp <- nil
	case ctrlShutdownForced:
		r.chain.Append(chain.Runtime(chain.RuntimeShutdownRequested, map[string]string{"mode": "forced"}))
		if r.state != Stopping {
			r.transition(Stopping, nil)
		}
		if r.opInFlight && r.opCancel != nil {
			r.opCancel()
		}
		r.drainAbort()
		if !r.opInFlight {
			r.transition(Stopped, nil)
		}
		req.resp <- nil
	}
}

func (r *Runtime) handleInfo(req infoRequest) {
	switch req.kind {
	case infoStatus:
		req.resp <- infoResponse{status: Status{ActorID: r.id, State: r.state, QueueSize: len(r.opCh)}}
	case infoState:
		req.resp <- infoResponse{state: r.state}
	case infoEvents:
		req.resp <- infoResponse{events: r.chain.Events()}
	}
}

// runOp does the actual work of one operation on its own goroutine,
// entirely off the select loop, and reports completion on r.opDoneCh
// exactly once when it returns. This is what lets the loop keep reading
// ctrlCh/infoCh - including GetStatus/GetState/GetEvents - for the
// entire time a function call is outstanding: "a stuck
// function call cannot block a status query".
func (r *Runtime) runOp(ctx context.Context, cancel context.CancelFunc, req opRequest) {
	defer cancel()
	defer func() { r.opDoneCh <- struct{}{} }()

	if req.update != nil {
		r.handleUpdate(ctx, req)
		return
	}

	done := make(chan opResponse, 1)
	go func() {
		result, err := invokeExport(ctx, r.instance, req.function, req.input)
		done <- opResponse{output: result, err: err}
	}()

	select {
	case resp := <-done:
		r.chain.Append(chain.Wasm(chain.WasmFunctionInvoked, opBoundaryFields(req.function, req.input, resp.err)))
		if r.metrics != nil {
			r.metrics.OperationCompleted(resp.err)
		}
		req.resp <- resp
	case <-ctx.Done():
		// DeadlineExceeded is this operation's own per-call deadline
		// expiring; any other cause (explicit cancel) is the scheduler
		// aborting it from outside - a forced shutdown or an exhausted
		// graceful-shutdown grace period - which is ShuttingDown, not a
		// timeout.
		var err error
		if ctx.Err() == context.DeadlineExceeded {
			err = &cmn.ErrOperationTimeout{Deadline: req.deadline}
		} else {
			err = &cmn.ErrShuttingDown{ActorID: r.id}
		}
		r.chain.Append(chain.Wasm(chain.WasmFunctionInvoked, opBoundaryFields(req.function, req.input, err)))
		if r.metrics != nil {
			r.metrics.OperationCompleted(err)
		}
		req.resp <- opResponse{err: err}
	}
}

// RunOperation invokes one exported function the way the scheduler
// does for every operation-mailbox call, then appends the
// operation-boundary event recording the function name, its input, and
// the outcome. Host calls made inside the operation were already
// recorded by the Interceptor in observation order; the boundary event
// marks where the operation ended, and carrying the input is what lets
// a replay run re-drive the same operation later. Exported for the
// Replay Engine, which walks a recorded chain's boundary events and
// re-invokes each one through here.
func RunOperation(ctx context.Context, instance Instance, c *chain.Chain, function string, input abi.Value) (abi.Value, error) {
	result, err := invokeExport(ctx, instance, function, input)
	c.Append(chain.Wasm(chain.WasmFunctionInvoked, opBoundaryFields(function, input, err)))
	return result, err
}

func invokeExport(ctx context.Context, instance Instance, function string, input abi.Value) (abi.Value, error) {
	args, err := callArgs(ctx, instance, input)
	if err != nil {
		return abi.Value{}, err
	}
	out, err := instance.Invoke(ctx, function, args...)
	if err != nil {
		return abi.Value{}, err
	}
	return callResult(instance, out)
}

func opBoundaryFields(function string, input abi.Value, opErr error) map[string]string {
	fields := map[string]string{"function": function}
	if body, err := json.Marshal(input); err == nil {
		fields["input"] = string(body)
	}
	if opErr != nil {
		fields["error"] = opErr.Error()
	}
	return fields
}

func (r *Runtime) handleUpdate(ctx context.Context, req opRequest) {
	if !r.cfg.Features.ComponentUpdate {
		req.resp <- opResponse{err: &cmn.ErrUpdateComponent{Reason: "feature disabled"}}
		return
	}
	r.chain.Append(chain.TheaterRuntimeEvent(chain.TRComponentUpdateStarted, nil))

	newInstance, newImports, err := r.instantiate(ctx, req.update.binary, nil)
	if err != nil {
		r.chain.Append(chain.TheaterRuntimeEvent(chain.TRComponentUpdateFailed, map[string]string{"error": err.Error()}))
		req.resp <- opResponse{err: &cmn.ErrUpdateComponent{Reason: err.Error()}}
		return
	}

	// The new binary may only import what the old one already did: an
	// import the running chain has never seen would make the chain
	// unreplayable against either binary.
	if extra := firstExtraImport(r.imports, newImports); extra != nil {
		reason := fmt.Sprintf("new component imports %s, not declared by the old one", extra)
		r.chain.Append(chain.TheaterRuntimeEvent(chain.TRComponentUpdateFailed, map[string]string{"error": reason}))
		if err := newInstance.Close(ctx); err != nil {
			glog.Warningf("actorrt: %s: close rejected component: %v", r.id, err)
		}
		req.resp <- opResponse{err: &cmn.ErrUpdateComponent{Reason: reason}}
		return
	}

	old := r.instance
	r.instance = newInstance
	r.imports = newImports
	if old != nil {
		if err := old.Close(ctx); err != nil {
			glog.Warningf("actorrt: %s: close old component: %v", r.id, err)
		}
	}
	r.chain.Append(chain.TheaterRuntimeEvent(chain.TRComponentUpdateCompleted, nil))
	req.resp <- opResponse{output: abi.Unit()}
}

// firstExtraImport returns the first member of next missing from prev,
// or nil when next is a subset of prev.
func firstExtraImport(prev, next []loader.Import) *loader.Import {
	have := make(map[loader.Import]bool, len(prev))
	for _, imp := range prev {
		have[imp] = true
	}
	for _, imp := range next {
		if !have[imp] {
			imp := imp
			return &imp
		}
	}
	return nil
}

// drainAbort fails every operation still queued with ShuttingDown,
// matching the testable property that a shutdown with an exhausted
// deadline leaves no operation unanswered.
func (r *Runtime) drainAbort() {
	for {
		select {
		case req := <-r.opCh:
			req.resp <- opResponse{err: &cmn.ErrShuttingDown{ActorID: r.id}}
		default:
			return
		}
	}
}

func (r *Runtime) transition(to State, err error) error {
	if !canTransition(r.state, to) {
		return fmt.Errorf("actorrt: %s: invalid transition %s -> %s", r.id, r.state, to)
	}
	r.state = to
	if to == Stopped || to == Failed {
		if r.metrics != nil {
			r.metrics.ActorTerminal(string(to))
		}
		if r.onTerminal != nil {
			r.onTerminal(r.id, to, err)
		}
	}
	return nil
}

func (r *Runtime) fail(err error) {
	r.chain.Append(chain.Wasm(chain.WasmTrap, map[string]string{"error": err.Error()}))
	r.transition(Failed, err)
}
