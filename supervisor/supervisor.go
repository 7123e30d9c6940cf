// Package supervisor tracks the parent/child actor graph and delivers
// child-termination callbacks onto the parent's operation mailbox, so a
// parent's response to a child's death is serialized with its other
// work and recorded on its own chain. Restart policy is deliberately not
// here - that's user code built on the spawn/stop primitives this
// package exposes the graph for.
package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"

	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/actorrt"
	"github.com/theater-rt/theater/cmn"
)

// Supervisor holds the parent -> children index and nothing else; it
// has no notion of component binaries, chains, or mailboxes beyond the
// Runtime handle needed to deliver a callback.
type Supervisor struct {
	mu       sync.Mutex
	children map[cmn.ActorID][]cmn.ActorID
	parent   map[cmn.ActorID]cmn.ActorID
}

func New() *Supervisor {
	return &Supervisor{
		children: make(map[cmn.ActorID][]cmn.ActorID),
		parent:   make(map[cmn.ActorID]cmn.ActorID),
	}
}

// Link records a parent -> child edge, failing with ErrWouldCycle if
// child is already an ancestor of parent (a plain DFS over the existing
// index table - the graph is small and changes rarely enough that this
// never needs to be more than O(depth)).
func (s *Supervisor) Link(parent, child cmn.ActorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isAncestor(child, parent) {
		return &cmn.ErrWouldCycle{Parent: parent, Child: child}
	}
	s.children[parent] = append(s.children[parent], child)
	s.parent[child] = parent
	return nil
}

// isAncestor reports whether candidate is an ancestor of id by walking
// the parent chain upward from id.
func (s *Supervisor) isAncestor(candidate, id cmn.ActorID) bool {
	cur := id
	for {
		p, ok := s.parent[cur]
		if !ok {
			return false
		}
		if p == candidate {
			return true
		}
		cur = p
	}
}

func (s *Supervisor) Unlink(child cmn.ActorID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.parent[child]
	if !ok {
		return
	}
	delete(s.parent, child)
	siblings := s.children[parent]
	for i, c := range siblings {
		if c == child {
			s.children[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
}

func (s *Supervisor) Children(parent cmn.ActorID) []cmn.ActorID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cmn.ActorID, len(s.children[parent]))
	copy(out, s.children[parent])
	return out
}

func (s *Supervisor) Parent(child cmn.ActorID) (cmn.ActorID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parent[child]
	return p, ok
}

// ChildExitReason distinguishes the three terminal notifications
// a parent may export as optional callbacks: a child that ran to
// completion, a child that reached Failed, and a child stopped by a
// command that targeted it directly rather than by its own supervisor
// relationship.
type ChildExitReason string

const (
	ChildExit         ChildExitReason = "exit"
	ChildError        ChildExitReason = "error"
	ChildExternalStop ChildExitReason = "external-stop"
)

// The exported function names reserved for the parent's optional
// lifecycle callbacks: handle-child-exit(child-id, exit-data),
// handle-child-error(child-id, error), handle-child-external-stop(child-id).
const (
	handleChildExitFunction         = "handle-child-exit"
	handleChildErrorFunction        = "handle-child-error"
	handleChildExternalStopFunction = "handle-child-external-stop"
)

// NotifyChildExit delivers a child-termination event onto the parent's
// operation mailbox, so the notification is processed single-threaded
// alongside the parent's own operations rather than arriving as an
// out-of-band signal. Which export is invoked, and the
// shape of its argument, depends on reason. A parent that does not
// export the callback for this reason simply never observes it - these
// are optional exports, not a contract failure.
func (s *Supervisor) NotifyChildExit(ctx context.Context, parentRT *actorrt.Runtime, child cmn.ActorID, reason ChildExitReason, cause error) {
	s.Unlink(child)
	if parentRT == nil {
		return
	}

	var function string
	fields := map[string]abi.Value{"child_id": abi.String(child.String())}
	switch reason {
	case ChildError:
		function = handleChildErrorFunction
		errMsg := ""
		if cause != nil {
			errMsg = cause.Error()
		}
		fields["error"] = abi.String(errMsg)
	case ChildExternalStop:
		function = handleChildExternalStopFunction
	default:
		function = handleChildExitFunction
		fields["exit_data"] = abi.Record(map[string]abi.Value{"reason": abi.String(string(reason))})
	}

	input := abi.Record(fields)
	if _, err := parentRT.Invoke(ctx, function, input); err != nil {
		var notFound *cmn.ErrFunctionNotFound
		if errors.As(err, &notFound) {
			// Parent doesn't export this optional callback; nothing to do.
			return
		}
		// The parent may have already terminated itself; that's not a
		// supervisor-level failure, just a notification that arrived too
		// late to be delivered.
		glog.Warningf("supervisor: deliver %s for %s to %s: %v", function, child, parentRT.ID(), err)
	}
}
