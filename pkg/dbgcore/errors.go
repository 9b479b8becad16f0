package dbgcore

import "fmt"

// NotAttachedError is returned when an operation that requires an
// attached process is issued from the Detached state.
type NotAttachedError struct{}

func (e *NotAttachedError) Error() string { return "not attached to a process" }

// AlreadyAttachedError is returned by open/attach when the controller
// is not currently Detached.
type AlreadyAttachedError struct{ Pid Pid }

func (e *AlreadyAttachedError) Error() string {
	return fmt.Sprintf("already attached to pid %d", e.Pid)
}

// OsError wraps a raw OS/errno failure, surfaced verbatim to the
// caller. The controller never retries a syscall that returns one.
type OsError struct {
	Op   string
	Code error
}

func (e *OsError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Code) }
func (e *OsError) Unwrap() error { return e.Code }

// SpawnFailedError is returned by open when fork or exec fails before
// the traced child could be observed.
type SpawnFailedError struct {
	Path string
	Err  error
}

func (e *SpawnFailedError) Error() string {
	return fmt.Sprintf("could not spawn %q: %v", e.Path, e.Err)
}
func (e *SpawnFailedError) Unwrap() error { return e.Err }

// UnexpectedFirstEventError is returned by open when the first event
// observed after exec is not Stopped{TRAP}.
type UnexpectedFirstEventError struct {
	Got DebugEvent
}

func (e *UnexpectedFirstEventError) Error() string {
	return fmt.Sprintf("unexpected first event after spawn: %s (signal %d)", e.Got.Kind, e.Got.Signal)
}

// UnknownThreadError is returned when an operation names a tid the
// thread registry has never seen.
type UnknownThreadError struct{ Tid Tid }

func (e *UnknownThreadError) Error() string { return fmt.Sprintf("unknown thread %d", e.Tid) }

// AddressUnmappedError flags a read/decode that touched an address
// with no backing mapping. read_word returns this rather than
// panicking so callers can probe memory speculatively.
type AddressUnmappedError struct{ Address Address }

func (e *AddressUnmappedError) Error() string {
	return fmt.Sprintf("address %#x is not mapped", uint64(e.Address))
}

// DisassemblyFailedError flags a decode failure at a specific address.
// It aborts the current function-walker seed, not the whole analysis.
type DisassemblyFailedError struct{ Address Address }

func (e *DisassemblyFailedError) Error() string {
	return fmt.Sprintf("could not decode instruction at %#x", uint64(e.Address))
}

// TimeoutError is returned by wait_event when the deadline elapses
// with no pending event. It leaves no partial state in the controller.
type TimeoutError struct{ TimeoutMs int }

func (e *TimeoutError) Error() string { return fmt.Sprintf("wait timed out after %dms", e.TimeoutMs) }

// InvalidDebugRegisterError, DebugRegisterInUseError and
// UnsupportedBreakConditionError report misuse of the hardware
// breakpoint helpers on RegistersSnapshot.Debug.
type InvalidDebugRegisterError struct{ Index uint8 }

func (e *InvalidDebugRegisterError) Error() string {
	return fmt.Sprintf("invalid debug register index %d", e.Index)
}

type DebugRegisterInUseError struct {
	Index   uint8
	Address uint64
}

func (e *DebugRegisterInUseError) Error() string {
	return fmt.Sprintf("hardware breakpoint %d already in use (address %#x)", e.Index, e.Address)
}

type UnsupportedBreakConditionError struct{ Reason string }

func (e *UnsupportedBreakConditionError) Error() string { return e.Reason }
