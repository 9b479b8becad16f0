//go:build freebsd && amd64

package native

import (
	"encoding/binary"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/creack/pty"
	isatty "github.com/mattn/go-isatty"
	sys "golang.org/x/sys/unix"

	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
	"github.com/tracepoint-dev/bsdcore/pkg/logflags"
)

// ControllerState is the process controller's state machine (component E).
type ControllerState int

const (
	Detached ControllerState = iota
	AttachedRunning
	AttachedStopped
)

func (s ControllerState) String() string {
	switch s {
	case Detached:
		return "Detached"
	case AttachedRunning:
		return "AttachedRunning"
	case AttachedStopped:
		return "AttachedStopped"
	default:
		return "Unknown"
	}
}

// Controller owns one traced process end to end: spawn or attach,
// classify events, resume or single-step threads, and read or write
// its memory and registers. All state transitions happen under mu;
// every ptrace(2) call itself is funneled through a single dedicated
// OS thread via execPtrace, since FreeBSD (like Linux) requires every
// ptrace request for a tracee to originate from the thread that
// attached to it.
type Controller struct {
	mu    sync.Mutex
	state ControllerState

	pid          dbgcore.Pid
	threads      *threadRegistry
	activeTid    dbgcore.Tid // tid of the most recently reported event; resume/step's target
	childProcess bool
	tty          *os.File

	ptraceChan chan func()
	ptraceDone chan struct{}

	breakpoints dbgcore.BreakpointRegistry

	log logflags.Logger
}

// NewController returns an idle controller in the Detached state. Its
// breakpoint registry collaborator (§6) starts as a no-op; a caller
// that plants software breakpoints supplies its own via
// SetBreakpointRegistry so Detach can clear them before tearing down.
func NewController() *Controller {
	c := &Controller{
		state:       Detached,
		threads:     newThreadRegistry(),
		ptraceChan:  make(chan func()),
		ptraceDone:  make(chan struct{}),
		breakpoints: dbgcore.NoopBreakpointRegistry{},
		log:         logflags.New(logflags.PtraceLogger(), nil),
	}
	go c.dispatch()
	return c
}

// SetBreakpointRegistry installs the breakpoint-registry collaborator
// Detach clears before issuing its kill/detach opcode. Passing nil
// restores the no-op default.
func (c *Controller) SetBreakpointRegistry(r dbgcore.BreakpointRegistry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r == nil {
		r = dbgcore.NoopBreakpointRegistry{}
	}
	c.breakpoints = r
}

func (c *Controller) dispatch() {
	runtime.LockOSThread()
	for fn := range c.ptraceChan {
		fn()
		c.ptraceDone <- struct{}{}
	}
}

func (c *Controller) execPtrace(fn func()) {
	c.ptraceChan <- fn
	<-c.ptraceDone
}

// State reports the controller's current state.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pid returns the controlled process's pid, or 0 if Detached.
func (c *Controller) Pid() dbgcore.Pid {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// IsRunning reports whether the controller is currently AttachedRunning,
// satisfying dbgcore.RunStateReporter so the static analyzer can tell
// when a memory read during an analysis pass raced a resume.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == AttachedRunning
}

// Open spawns path with args under ptrace and waits for the initial
// post-exec trap (component A "spawn_traced" plus component E "open").
// If ttyPath is non-empty the child's stdio is attached to that
// terminal instead of the caller's; otherwise a fresh pty is allocated
// when the caller is itself attached to a terminal, matching the
// teacher's foreground-job handling.
func (c *Controller) Open(path string, args []string, ttyPath string) (dbgcore.DebugEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Detached {
		return dbgcore.DebugEvent{}, &dbgcore.AlreadyAttachedError{Pid: c.pid}
	}

	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true, Setpgid: true}

	if ttyPath != "" {
		f, err := os.OpenFile(ttyPath, os.O_RDWR, 0)
		if err != nil {
			return dbgcore.DebugEvent{}, &dbgcore.SpawnFailedError{Path: path, Err: err}
		}
		cmd.Stdin, cmd.Stdout, cmd.Stderr = f, f, f
		c.tty = f
	} else if isatty.IsTerminal(os.Stdin.Fd()) {
		ptmx, tty, err := pty.Open()
		if err == nil {
			cmd.Stdin, cmd.Stdout, cmd.Stderr = tty, tty, tty
			c.tty = ptmx
			defer tty.Close()
		}
	}

	var startErr error
	c.execPtrace(func() { startErr = cmd.Start() })
	if startErr != nil {
		return dbgcore.DebugEvent{}, &dbgcore.SpawnFailedError{Path: path, Err: startErr}
	}

	c.pid = dbgcore.Pid(cmd.Process.Pid)
	c.childProcess = true
	c.threads.observe(dbgcore.Tid(c.pid))

	ev, err := c.waitRaw(0)
	if err != nil {
		return dbgcore.DebugEvent{}, err
	}
	if ev.Kind != dbgcore.EventTrap {
		return dbgcore.DebugEvent{}, &dbgcore.UnexpectedFirstEventError{Got: ev}
	}

	var lwpErr error
	c.execPtrace(func() { lwpErr = ptraceLwpEvents(int(c.pid), true) })
	if lwpErr != nil {
		c.log.WithError(lwpErr).Debug("could not enable lwp events")
	}

	c.state = AttachedStopped
	return ev, nil
}

// Attach ptrace-attaches to an already-running process (component A
// "attach_traced" plus component E "attach"). Unlike Open, attach's
// own description in §4.E names no blocking wait: it only "issues
// ATTACH; on success registers the principal thread", landing the
// controller in AttachedRunning. The caller drives WaitEvent to reach
// AttachedStopped and observe the stop the ATTACH request itself
// causes, the same way it would observe any other event.
func (c *Controller) Attach(pid dbgcore.Pid) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Detached {
		return &dbgcore.AlreadyAttachedError{Pid: c.pid}
	}

	var err error
	c.execPtrace(func() { err = ptraceAttach(int(pid)) })
	if err != nil {
		return &dbgcore.OsError{Op: "ptrace_attach", Code: err}
	}

	c.pid = pid
	c.childProcess = false
	c.threads.observe(dbgcore.Tid(pid))

	c.execPtrace(func() { err = ptraceLwpEvents(int(c.pid), true) })
	if err != nil {
		c.log.WithError(err).Debug("could not enable lwp events")
	}

	c.state = AttachedRunning
	return nil
}

// AttachWaitFor polls enumerate_processes for a not-yet-running
// process whose name or command line starts with prefix, then attaches
// to it. It is additive plumbing over attach (see SPEC_FULL.md), still
// gated by the same Detached-only precondition, and leaves the
// controller in AttachedRunning exactly as Attach does: the caller
// drives WaitEvent to reach AttachedStopped.
func (c *Controller) AttachWaitFor(prefix string, pollInterval time.Duration, timeout time.Duration) (dbgcore.Pid, error) {
	deadline := time.Now().Add(timeout)
	seen := make(map[dbgcore.Pid]struct{})
	for {
		procs, err := enumerateProcesses()
		if err != nil {
			return 0, err
		}
		for _, p := range procs {
			if _, ok := seen[p.Pid]; ok {
				continue
			}
			seen[p.Pid] = struct{}{}
			if matchesPrefix(p, prefix) {
				return p.Pid, c.Attach(p.Pid)
			}
		}
		if time.Now().After(deadline) {
			return 0, &dbgcore.TimeoutError{TimeoutMs: int(timeout.Milliseconds())}
		}
		time.Sleep(pollInterval)
	}
}

func matchesPrefix(p dbgcore.ProcessInfo, prefix string) bool {
	if len(p.Name) >= len(prefix) && p.Name[:len(prefix)] == prefix {
		return true
	}
	for _, a := range p.Argv {
		if len(a) >= len(prefix) && a[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// WaitEvent blocks until the next debug event arrives, or until
// timeout elapses if timeout > 0 (timeout <= 0 waits indefinitely).
// FreeBSD's wait4 has no timeout parameter, so this polls with WNOHANG
// on the dedicated ptrace thread at a fixed interval well under
// §4.A's 10ms bound, sleeping briefly between attempts.
func (c *Controller) WaitEvent(timeout time.Duration) (dbgcore.DebugEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AttachedRunning {
		return dbgcore.DebugEvent{}, &dbgcore.NotAttachedError{}
	}

	deadline := time.Now().Add(timeout)
	const pollInterval = 2 * time.Millisecond
	for {
		wpid, status, err := c.waitOnce(sys.WNOHANG)
		if err != nil {
			return dbgcore.DebugEvent{}, &dbgcore.OsError{Op: "wait4", Code: err}
		}
		if wpid == c.pid {
			ev := c.classify(status)
			c.applyEvent(ev)
			return ev, nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return dbgcore.DebugEvent{}, &dbgcore.TimeoutError{TimeoutMs: int(timeout.Milliseconds())}
		}
		time.Sleep(pollInterval)
	}
}

// waitRaw performs a single blocking wait4 and classifies the result,
// without the timeout/poll machinery WaitEvent needs; it is used by
// Open, Step and Detach, where the next event is expected promptly.
func (c *Controller) waitRaw(options int) (dbgcore.DebugEvent, error) {
	_, status, err := c.waitOnce(options)
	if err != nil {
		return dbgcore.DebugEvent{}, &dbgcore.OsError{Op: "wait4", Code: err}
	}
	ev := c.classify(status)
	c.applyEvent(ev)
	return ev, nil
}

func (c *Controller) waitOnce(options int) (dbgcore.Pid, syscall.WaitStatus, error) {
	var (
		wpid   int
		status syscall.WaitStatus
		err    error
	)
	c.execPtrace(func() { wpid, status, err = waitpid(int(c.pid), options) })
	return dbgcore.Pid(wpid), status, err
}

// classify resolves the reporting tid, then does what §4.E's wait_event
// requires of every non-timeout return before handing back the typed
// event: insert the thread if unknown, store its raw status, and set
// it as the active thread that resume/step will next target.
func (c *Controller) classify(status syscall.WaitStatus) dbgcore.DebugEvent {
	tid := dbgcore.Tid(c.pid)
	if status.Stopped() {
		var info sys.PtraceLwpInfoStruct
		var err error
		c.execPtrace(func() { info, err = ptraceLwpInfo(int(c.pid)) })
		if err == nil {
			tid = dbgcore.Tid(info.Lwpid)
		}
	}
	c.threads.setStatus(tid, uint32(status))
	c.activeTid = tid
	return classifyStatus(c.pid, tid, status)
}

// resolveSignal turns disposition into the signal number resume/step
// should pass to CONTINUE/SINGLE_STEP, per §4.E: Stop never reaches
// here (callers treat it as a no-op before calling resolveSignal),
// Continue always passes 0, and PassSignal re-derives the signal that
// caused the active thread's last stop from its stored raw status.
func (c *Controller) resolveSignal(disposition dbgcore.Disposition) int {
	if disposition != dbgcore.DispositionPassSignal {
		return 0
	}
	ts, err := c.threads.get(c.activeTid)
	if err != nil {
		return 0
	}
	status := syscall.WaitStatus(ts.LastWaitStatus)
	switch {
	case status.Signaled():
		return int(status.Signal())
	case status.Stopped():
		return int(status.StopSignal())
	default:
		return 0
	}
}

func (c *Controller) applyEvent(ev dbgcore.DebugEvent) {
	switch ev.Kind {
	case dbgcore.EventTerminated:
		c.state = Detached
		c.threads.clear()
	case dbgcore.EventTrap, dbgcore.EventStopped:
		c.state = AttachedStopped
	}
}

// Resume issues CONTINUE per disposition and transitions the
// controller to AttachedRunning (component E "resume"). Stop is a
// no-op: the process stays AttachedStopped and no ptrace opcode is
// issued. FreeBSD's PT_CONTINUE resumes every thread of the traced
// process regardless of which one is named, the same restriction the
// teacher's own `processGroup.resume` works within; the active-thread
// distinction §4.E draws matters for which signal is redelivered, not
// which threads move.
func (c *Controller) Resume(disposition dbgcore.Disposition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AttachedStopped {
		return &dbgcore.NotAttachedError{}
	}
	if disposition == dbgcore.DispositionStop {
		return nil
	}
	sig := c.resolveSignal(disposition)
	var err error
	c.execPtrace(func() { err = ptraceCont(int(c.pid), sig) })
	if err != nil {
		return &dbgcore.OsError{Op: "ptrace_cont", Code: err}
	}
	c.state = AttachedRunning
	return nil
}

// Step issues SINGLE_STEP for the active thread and blocks for its
// resulting trap (component E "step"). Stop is a no-op, mirroring
// Resume. golang.org/x/sys/unix's PtraceSingleStep — the same call the
// teacher's own ptrace_freebsd.go wraps — takes no signal argument, so
// unlike Resume, PassSignal cannot be honored at the opcode level here;
// Continue and PassSignal both just step.
func (c *Controller) Step(disposition dbgcore.Disposition) (dbgcore.DebugEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AttachedStopped {
		return dbgcore.DebugEvent{}, &dbgcore.NotAttachedError{}
	}
	if disposition == dbgcore.DispositionStop {
		return dbgcore.DebugEvent{}, nil
	}
	tid := c.activeTid
	if _, err := c.threads.get(tid); err != nil {
		return dbgcore.DebugEvent{}, err
	}
	var err error
	c.execPtrace(func() { err = ptraceSingleStep(int(tid)) })
	if err != nil {
		return dbgcore.DebugEvent{}, &dbgcore.OsError{Op: "ptrace_singlestep", Code: err}
	}
	c.state = AttachedRunning
	return c.waitRaw(0)
}

// Pause sends SIGSTOP to every registered thread and returns
// immediately without waiting for the resulting stop; the caller
// observes it, like any other event, through a subsequent WaitEvent
// (component E "pause"). FreeBSD has no per-LWP signal delivery
// through the standard kill(2) surface, so each thread's job-control
// stop is delivered via the shared process signal, once per
// registered tid to match the "exactly one SIGSTOP per registered
// tid" invariant.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != AttachedRunning {
		return &dbgcore.NotAttachedError{}
	}
	for range c.threads.list() {
		if err := sys.Kill(int(c.pid), sys.SIGSTOP); err != nil {
			return &dbgcore.OsError{Op: "kill", Code: err}
		}
	}
	return nil
}

// ReadWord reads one 64-bit word at addr from the debuggee's address
// space (component A "peek_data").
func (c *Controller) ReadWord(addr dbgcore.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Detached {
		return 0, &dbgcore.NotAttachedError{}
	}
	var buf [8]byte
	var n int
	var err error
	c.execPtrace(func() { n, err = ptracePeek(int(c.pid), uintptr(addr), buf[:]) })
	if err != nil || n != len(buf) {
		return 0, &dbgcore.AddressUnmappedError{Address: addr}
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteWord writes one 64-bit word at addr in the debuggee's address
// space (component A "poke_data").
func (c *Controller) WriteWord(addr dbgcore.Address, val uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Detached {
		return &dbgcore.NotAttachedError{}
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	var n int
	var err error
	c.execPtrace(func() { n, err = ptracePoke(int(c.pid), uintptr(addr), buf[:]) })
	if err != nil || n != len(buf) {
		return &dbgcore.AddressUnmappedError{Address: addr}
	}
	return nil
}

// ReadMemory reads len(buf) bytes starting at addr, satisfying
// dbgcore.MemoryReader for the static analyzer. Unlike ReadWord it
// does not require the read to be word-aligned or word-sized.
func (c *Controller) ReadMemory(buf []byte, addr dbgcore.Address) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Detached {
		return 0, &dbgcore.NotAttachedError{}
	}
	var n int
	var err error
	c.execPtrace(func() { n, err = ptracePeek(int(c.pid), uintptr(addr), buf) })
	if err != nil {
		return n, &dbgcore.AddressUnmappedError{Address: addr}
	}
	return n, nil
}

// WriteMemory writes data at addr, satisfying dbgcore.MemoryReadWriter.
func (c *Controller) WriteMemory(addr dbgcore.Address, data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Detached {
		return 0, &dbgcore.NotAttachedError{}
	}
	var n int
	var err error
	c.execPtrace(func() { n, err = ptracePoke(int(c.pid), uintptr(addr), data) })
	if err != nil {
		return n, &dbgcore.AddressUnmappedError{Address: addr}
	}
	return n, nil
}

// GetState reads tid's full register bank (component E "get_state").
func (c *Controller) GetState(tid dbgcore.Tid) (dbgcore.RegistersSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Detached {
		return dbgcore.ZeroRegistersSnapshot(), &dbgcore.NotAttachedError{}
	}
	if _, err := c.threads.get(tid); err != nil {
		return dbgcore.ZeroRegistersSnapshot(), err
	}

	var (
		regs   sys.Reg
		fpregs sys.FpReg
		err    error
	)
	c.execPtrace(func() {
		regs, err = ptraceGetRegs(int(tid))
		if err != nil {
			return
		}
		fpregs, err = ptraceGetFpRegs(int(tid))
	})
	if err != nil {
		return dbgcore.ZeroRegistersSnapshot(), &dbgcore.OsError{Op: "ptrace_getregs", Code: err}
	}

	var gsBase, fsBase uint64
	c.execPtrace(func() {
		fsBase, _ = ptraceGetFsBase(int(tid))
		gsBase, _ = ptraceGetGsBase(int(tid))
	})

	snap := dbgcore.RegistersSnapshot{
		GP:     regFromNative(regs),
		GsBase: gsBase,
		FsBase: fsBase,
	}
	copyFpRegs(&snap.FP, &fpregs)
	return snap, nil
}

// SetState writes tid's general purpose and floating point registers
// (component E "set_state"). snap.Debug is not written to the thread,
// so hardware breakpoints armed on it have no effect on the debuggee.
func (c *Controller) SetState(tid dbgcore.Tid, snap dbgcore.RegistersSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Detached {
		return &dbgcore.NotAttachedError{}
	}
	if _, err := c.threads.get(tid); err != nil {
		return err
	}

	regs := regToNative(snap.GP)
	var fpregs sys.FpReg
	copyFpRegsIn(&fpregs, &snap.FP)

	var err error
	c.execPtrace(func() {
		err = ptraceSetRegs(int(tid), &regs)
		if err != nil {
			return
		}
		err = ptraceSetFpRegs(int(tid), &fpregs)
	})
	if err != nil {
		return &dbgcore.OsError{Op: "ptrace_setregs", Code: err}
	}
	return nil
}

// Detach releases the controlled process, killing it first when kill
// is true or when it was spawned by Open (component E "detach"/"kill").
// Per §4.E it clears the breakpoint registry collaborator before
// issuing either opcode.
func (c *Controller) Detach(kill bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Detached {
		return nil
	}

	if err := c.breakpoints.ClearAll(); err != nil {
		c.log.WithError(err).Debug("clearing breakpoint registry before detach")
	}

	if kill || c.childProcess {
		var err error
		c.execPtrace(func() { err = ptraceKill(int(c.pid)) })
		if err != nil {
			return &dbgcore.OsError{Op: "ptrace_kill", Code: err}
		}
		c.waitRaw(0)
	} else {
		var err error
		c.execPtrace(func() { err = ptraceDetach(int(c.pid)) })
		if err != nil {
			return &dbgcore.OsError{Op: "ptrace_detach", Code: err}
		}
	}

	if c.tty != nil {
		c.tty.Close()
		c.tty = nil
	}
	c.state = Detached
	c.pid = 0
	c.threads.clear()
	return nil
}

// Kill is Detach(true) under the name the OS adapter's interface uses.
func (c *Controller) Kill() error { return c.Detach(true) }

func regFromNative(r sys.Reg) dbgcore.GPRegs {
	return dbgcore.GPRegs{
		R15: uint64(r.R15), R14: uint64(r.R14), R13: uint64(r.R13), R12: uint64(r.R12),
		R11: uint64(r.R11), R10: uint64(r.R10), R9: uint64(r.R9), R8: uint64(r.R8),
		Rdi: uint64(r.Rdi), Rsi: uint64(r.Rsi), Rbp: uint64(r.Rbp), Rbx: uint64(r.Rbx),
		Rdx: uint64(r.Rdx), Rcx: uint64(r.Rcx), Rax: uint64(r.Rax),
		Rip: uint64(r.Rip), Rsp: uint64(r.Rsp), Rflags: uint64(r.Rflags),
		Cs: uint64(r.Cs), Ss: uint64(r.Ss), Ds: uint64(r.Ds), Es: uint64(r.Es),
		Fs: uint64(r.Fs), Gs: uint64(r.Gs),
	}
}

func regToNative(g dbgcore.GPRegs) sys.Reg {
	return sys.Reg{
		R15: int64(g.R15), R14: int64(g.R14), R13: int64(g.R13), R12: int64(g.R12),
		R11: int64(g.R11), R10: int64(g.R10), R9: int64(g.R9), R8: int64(g.R8),
		Rdi: int64(g.Rdi), Rsi: int64(g.Rsi), Rbp: int64(g.Rbp), Rbx: int64(g.Rbx),
		Rdx: int64(g.Rdx), Rcx: int64(g.Rcx), Rax: int64(g.Rax),
		Rip: int64(g.Rip), Rsp: int64(g.Rsp), Rflags: int64(g.Rflags),
		Cs: int64(g.Cs), Ss: int64(g.Ss), Ds: int64(g.Ds), Es: int64(g.Es),
		Fs: int64(g.Fs), Gs: int64(g.Gs),
	}
}

func copyFpRegs(dst *[512]byte, src *sys.FpReg) {
	n := int(unsafe.Sizeof(*src))
	if n > len(dst) {
		n = len(dst)
	}
	b := (*[1 << 20]byte)(unsafe.Pointer(src))[:n:n]
	copy(dst[:], b)
}

func copyFpRegsIn(dst *sys.FpReg, src *[512]byte) {
	n := int(unsafe.Sizeof(*dst))
	if n > len(src) {
		n = len(src)
	}
	b := (*[1 << 20]byte)(unsafe.Pointer(dst))[:n:n]
	copy(b, src[:n])
}
