package actorrt

import (
	"time"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/chain"
	"github.com/theater-rt/theater/cmn"
)

// opRequest is one function invocation or component-update request on
// the operation mailbox. Exactly one of these is ever being processed
// at a time - that single-threaded guarantee is what makes the chain's
// event order the actor's true observation order.
type opRequest struct {
	function string
	input    abi.Value
	deadline time.Time
	resp     chan opResponse

	// update, when non-nil, makes this an UpdateComponent request instead
	// of a function call; function/input are unused in that case.
	update *updateRequest
}

type updateRequest struct {
	binary []byte
}

type opResponse struct {
	output abi.Value
	err    error
}

// ctrlKind enumerates the control-mailbox message types. Control
// messages preempt future operations but never cancel one already
// in flight, except shutdown which begins draining.
type ctrlKind int

const (
	ctrlPause ctrlKind = iota
	ctrlResume
	ctrlShutdownGraceful
	ctrlShutdownForced
)

type ctrlRequest struct {
	kind ctrlKind
	resp chan error
}

// infoKind enumerates the info-mailbox query types. Info requests never
// block on operations - they're served out of the runtime's current
// snapshot regardless of what the operation loop is doing.
type infoKind int

const (
	infoStatus infoKind = iota
	infoState
	infoEvents
)

type infoRequest struct {
	kind infoKind
	resp chan infoResponse
}

type infoResponse struct {
	status Status
	state  State
	events []chain.Event
	err    error
}

// Status is the snapshot GetActorStatus reports.
type Status struct {
	ActorID   cmn.ActorID
	State     State
	QueueSize int
}
