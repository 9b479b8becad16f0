package native

import (
	"syscall"

	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
)

// classifyStatus turns a raw wait(2) status into a DebugEvent
// (component F). It is a pure function of its inputs, evaluated in a
// fixed order so a status matching more than one predicate always
// classifies the same way:
//
//  1. WIFEXITED  -> Terminated{Normal: true}
//  2. WIFSIGNALED -> Terminated{Normal: false}
//  3. WIFSTOPPED with StopSignal == SIGTRAP -> Trap
//  4. WIFSTOPPED with any other signal -> Stopped
//
// Any other combination (e.g. WIFCONTINUED, which FreeBSD only
// reports for SIGCONT) classifies as Stopped with signal 0, since the
// controller never leaves a thread running unobserved.
func classifyStatus(pid dbgcore.Pid, tid dbgcore.Tid, status syscall.WaitStatus) dbgcore.DebugEvent {
	base := dbgcore.DebugEvent{Pid: pid, Tid: tid}

	switch {
	case status.Exited():
		base.Kind = dbgcore.EventTerminated
		base.Normal = true
		base.ExitCode = status.ExitStatus()
		return base

	case status.Signaled():
		base.Kind = dbgcore.EventTerminated
		base.Normal = false
		base.ExitCode = -int(status.Signal())
		return base

	case status.Stopped():
		sig := status.StopSignal()
		if sig == syscall.SIGTRAP {
			base.Kind = dbgcore.EventTrap
			base.Signal = int(sig)
			return base
		}
		base.Kind = dbgcore.EventStopped
		base.Signal = int(sig)
		return base

	default:
		base.Kind = dbgcore.EventStopped
		return base
	}
}
