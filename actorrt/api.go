package actorrt

import (
	"context"
	"time"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/chain"
	"github.com/theater-rt/theater/cmn"
)

// Invoke submits a function call to the operation mailbox and blocks for
// the result, respecting both the caller's context and the configured
// per-operation deadline - whichever fires first.
func (r *Runtime) Invoke(ctx context.Context, function string, input abi.Value) (abi.Value, error) {
	deadline := time.Now().Add(r.cfg.Timeout.Operation.D())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	resp := make(chan opResponse, 1)
	req := opRequest{function: function, input: input, deadline: deadline, resp: resp}

	select {
	case r.opCh <- req:
	case <-ctx.Done():
		return abi.Value{}, ctx.Err()
	case <-r.doneCh:
		return abi.Value{}, &cmn.ErrChannelClosed{ActorID: r.id}
	}

	select {
	case out := <-resp:
		return out.output, out.err
	case <-ctx.Done():
		return abi.Value{}, ctx.Err()
	}
}

// UpdateComponent submits a live component swap onto the operation
// mailbox so it is serialized with ordinary calls, per the feature's
// gating in cmn.Config.Features.ComponentUpdate.
func (r *Runtime) UpdateComponent(ctx context.Context, binary []byte) error {
	resp := make(chan opResponse, 1)
	req := opRequest{update: &updateRequest{binary: binary}, resp: resp}
	select {
	case r.opCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.doneCh:
		return &cmn.ErrChannelClosed{ActorID: r.id}
	}
	out := <-resp
	return out.err
}

func (r *Runtime) ctrl(ctx context.Context, kind ctrlKind) error {
	resp := make(chan error, 1)
	select {
	case r.ctrlCh <- ctrlRequest{kind: kind, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.doneCh:
		return &cmn.ErrChannelClosed{ActorID: r.id}
	}
	return <-resp
}

func (r *Runtime) Pause(ctx context.Context) error  { return r.ctrl(ctx, ctrlPause) }
func (r *Runtime) Resume(ctx context.Context) error { return r.ctrl(ctx, ctrlResume) }

func (r *Runtime) Shutdown(ctx context.Context, graceful bool) error {
	if graceful {
		return r.ctrl(ctx, ctrlShutdownGraceful)
	}
	return r.ctrl(ctx, ctrlShutdownForced)
}

func (r *Runtime) info(kind infoKind) infoResponse {
	resp := make(chan infoResponse, 1)
	select {
	case r.infoCh <- infoRequest{kind: kind, resp: resp}:
	case <-r.doneCh:
		return infoResponse{err: &cmn.ErrChannelClosed{ActorID: r.id}}
	}
	return <-resp
}

func (r *Runtime) GetStatus() (Status, error) {
	out := r.info(infoStatus)
	return out.status, out.err
}

func (r *Runtime) GetState() (State, error) {
	out := r.info(infoState)
	return out.state, out.err
}

func (r *Runtime) GetEvents() ([]chain.Event, error) {
	out := r.info(infoEvents)
	return out.events, out.err
}

// Done reports when the runtime's goroutine has exited, for callers
// that need to wait out a terminal transition without polling status.
func (r *Runtime) Done() <-chan struct{} { return r.doneCh }
