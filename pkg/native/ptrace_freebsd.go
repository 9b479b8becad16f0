//go:build freebsd && amd64

package native

import (
	"syscall"

	sys "golang.org/x/sys/unix"
)

// ptraceAttach, ptraceDetach, ptraceCont, ptraceSingleStep, ptraceKill,
// ptraceGetRegs, ptraceSetRegs, ptraceGetFpRegs, ptracePeek and
// ptracePoke are the ptrace opcode wrappers named in the OS adapter
// (component A). Every one of them must be issued from the same OS
// thread the traced process was attached from; callers reach them only
// through Controller.execPtrace.

func ptraceAttach(pid int) error {
	return sys.PtraceAttach(pid)
}

func ptraceDetach(pid int) error {
	return sys.PtraceDetach(pid)
}

func ptraceCont(id, sig int) error {
	return sys.PtraceCont(id, sig)
}

func ptraceSingleStep(id int) error {
	return sys.PtraceSingleStep(id)
}

func ptraceKill(pid int) error {
	return sys.Kill(pid, sys.SIGKILL)
}

func ptraceGetRegs(id int) (sys.Reg, error) {
	var regs sys.Reg
	err := sys.PtraceGetRegs(id, &regs)
	return regs, err
}

func ptraceSetRegs(id int, regs *sys.Reg) error {
	return sys.PtraceSetRegs(id, regs)
}

func ptraceGetFpRegs(id int) (sys.FpReg, error) {
	var regs sys.FpReg
	err := sys.PtraceGetFpRegs(id, &regs)
	return regs, err
}

func ptraceSetFpRegs(id int, regs *sys.FpReg) error {
	return sys.PtraceSetFpRegs(id, regs)
}

// ptracePeek reads len(data) bytes from the traced process's address
// space at addr, using PT_IO rather than the word-at-a-time PT_READ_D
// so a Region-sized read is a single syscall.
func ptracePeek(id int, addr uintptr, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	return sys.PtraceIO(sys.PIOD_READ_D, id, addr, data)
}

// ptracePoke writes data into the traced process's address space at addr.
func ptracePoke(id int, addr uintptr, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	return sys.PtraceIO(sys.PIOD_WRITE_D, id, addr, data)
}

func ptraceGetFsBase(id int) (uint64, error) {
	var base int64
	err := sys.PtraceGetFsBase(id, &base)
	return uint64(base), err
}

func ptraceGetGsBase(id int) (uint64, error) {
	var base int64
	err := sys.PtraceGetGsBase(id, &base)
	return uint64(base), err
}

// ptraceLwpEvents toggles LWP birth/death event reporting for pid; the
// controller enables it as soon as a process is attached so new
// threads surface as classified DebugEvents instead of silent stops.
func ptraceLwpEvents(pid int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return sys.PtraceLwpEvents(pid, v)
}

// ptraceLwpInfo reports which LWP caused the most recent stop and why.
func ptraceLwpInfo(pid int) (sys.PtraceLwpInfoStruct, error) {
	var info sys.PtraceLwpInfoStruct
	err := sys.PtraceLwpInfo(pid, &info)
	return info, err
}

// waitpid wraps wait4(2), returning the raw wait status the event
// classifier (component F) consumes.
func waitpid(pid int, options int) (int, syscall.WaitStatus, error) {
	var status syscall.WaitStatus
	wpid, err := sys.Wait4(pid, &status, options, nil)
	return wpid, status, err
}

// pageSize reports the host's page size; adapter.go exports it as
// PageSize.
func pageSize() int {
	return sys.Getpagesize()
}
