package cmn

import (
	"fmt"
	"time"
)

// Error taxonomy. Each kind is its own type so callers can distinguish
// them with errors.As instead of string matching.
type (
	ErrOperationTimeout  struct{ Deadline time.Time }
	ErrChannelClosed     struct{ ActorID ActorID }
	ErrShuttingDown      struct{ ActorID ActorID }
	ErrFunctionNotFound  struct{ Name string }
	ErrTypeMismatch      struct{ Name string }
	ErrInternal          struct{ Event string }
	ErrSerialization     struct{ Reason string }
	ErrUpdateComponent   struct{ Reason string }
	ErrPaused            struct{ ActorID ActorID }
	ErrNotPaused         struct{ ActorID ActorID }
	ErrPermissionDenied  struct{ Interface, Function string }
	ErrUnsatisfiedImport struct{ Interface, Function string }
	ErrWouldCycle        struct{ Parent, Child ActorID }
	ErrCorrupt           struct{ Ref string }
	ErrNotFound          struct{ What string }
)

func (e *ErrOperationTimeout) Error() string {
	return fmt.Sprintf("operation timed out (deadline %s)", e.Deadline.Format(time.RFC3339))
}
func (e *ErrChannelClosed) Error() string {
	return fmt.Sprintf("actor %s: mailbox closed", e.ActorID)
}
func (e *ErrShuttingDown) Error() string {
	return fmt.Sprintf("actor %s: shutting down, operation refused", e.ActorID)
}
func (e *ErrFunctionNotFound) Error() string {
	return fmt.Sprintf("function not found: %s", e.Name)
}
func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("type mismatch: %s", e.Name)
}
func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal error: %s", e.Event)
}
func (e *ErrSerialization) Error() string {
	return fmt.Sprintf("serialization error: %s", e.Reason)
}
func (e *ErrUpdateComponent) Error() string {
	return fmt.Sprintf("component update failed: %s", e.Reason)
}
func (e *ErrPaused) Error() string {
	return fmt.Sprintf("actor %s: already paused", e.ActorID)
}
func (e *ErrNotPaused) Error() string {
	return fmt.Sprintf("actor %s: not paused", e.ActorID)
}
func (e *ErrPermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: %s.%s", e.Interface, e.Function)
}
func (e *ErrUnsatisfiedImport) Error() string {
	return fmt.Sprintf("unsatisfied import: %s#%s", e.Interface, e.Function)
}
func (e *ErrWouldCycle) Error() string {
	return fmt.Sprintf("spawn %s -> %s would close a cycle", e.Parent, e.Child)
}
func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("corrupt content: %s", e.Ref)
}
func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("not found: %s", e.What)
}
