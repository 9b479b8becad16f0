package native

import (
	"syscall"
	"testing"

	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
)

// The BSD wait(2) status encoding this module targets packs a normal
// exit as (code<<8), a signal death as the raw signal number, and a
// stop as (signal<<8 | 0x7f) — the same layout syscall.WaitStatus's
// accessor methods decode on FreeBSD.
func exitedStatus(code int) syscall.WaitStatus             { return syscall.WaitStatus(code << 8) }
func signaledStatus(sig syscall.Signal) syscall.WaitStatus { return syscall.WaitStatus(sig) }
func stoppedStatus(sig syscall.Signal) syscall.WaitStatus {
	return syscall.WaitStatus(int(sig)<<8 | 0x7f)
}

func TestClassifyStatusExited(t *testing.T) {
	ev := classifyStatus(1, 1, exitedStatus(7))
	if ev.Kind != dbgcore.EventTerminated || !ev.Normal || ev.ExitCode != 7 {
		t.Fatalf("got %+v", ev)
	}
}

func TestClassifyStatusSignaled(t *testing.T) {
	ev := classifyStatus(1, 1, signaledStatus(syscall.SIGSEGV))
	if ev.Kind != dbgcore.EventTerminated || ev.Normal {
		t.Fatalf("got %+v", ev)
	}
	if ev.ExitCode != -int(syscall.SIGSEGV) {
		t.Fatalf("exit code = %d, want %d", ev.ExitCode, -int(syscall.SIGSEGV))
	}
}

func TestClassifyStatusTrap(t *testing.T) {
	ev := classifyStatus(1, 1, stoppedStatus(syscall.SIGTRAP))
	if ev.Kind != dbgcore.EventTrap || ev.Signal != int(syscall.SIGTRAP) {
		t.Fatalf("got %+v", ev)
	}
}

func TestClassifyStatusStoppedOtherSignal(t *testing.T) {
	// SIGSTOP is deliberately not used here: the BSD wait status
	// encoding reserves it to mean "continued", not "stopped".
	ev := classifyStatus(1, 1, stoppedStatus(syscall.SIGINT))
	if ev.Kind != dbgcore.EventStopped || ev.Signal != int(syscall.SIGINT) {
		t.Fatalf("got %+v", ev)
	}
}

func TestThreadRegistryUnknownThread(t *testing.T) {
	r := newThreadRegistry()
	_, err := r.get(42)
	if err == nil {
		t.Fatal("expected UnknownThreadError")
	}
	if _, ok := err.(*dbgcore.UnknownThreadError); !ok {
		t.Fatalf("got %T, want *dbgcore.UnknownThreadError", err)
	}
}

func TestThreadRegistryObserveAndRemove(t *testing.T) {
	r := newThreadRegistry()
	r.observe(1)
	r.observe(2)
	if got := r.list(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("list = %v", got)
	}
	r.remove(1)
	if got := r.list(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("list after remove = %v", got)
	}
	if _, err := r.get(1); err == nil {
		t.Fatal("expected error after remove")
	}
}
