//go:build freebsd && amd64

package native

/*
#cgo LDFLAGS: -lprocstat -lkvm -lutil

#include <sys/types.h>
#include <sys/sysctl.h>
#include <sys/user.h>

#include <fcntl.h>
#include <kvm.h>
#include <limits.h>
#include <stdlib.h>
#include <string.h>

#include <libprocstat.h>
#include <libutil.h>

uintptr_t bsdcore_aux_ptr(Elf_Auxinfo *aux) {
	return (uintptr_t)aux->a_un.a_ptr;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
	"github.com/tracepoint-dev/bsdcore/pkg/logflags"
)

// openKvm opens a kvm(3) handle against the running kernel, the same
// call the OpenBSD adapter this package is grounded on makes before
// every kvm_getprocs. errbuf is sized _POSIX2_LINE_MAX as the man page
// requires.
func openKvm() (*C.kvm_t, error) {
	var errbuf [_POSIX2_LINE_MAX]C.char
	kd := C.kvm_open(nil, nil, nil, C.O_RDONLY, (*C.char)(unsafe.Pointer(&errbuf[0])))
	if kd == nil {
		return nil, errors.New(C.GoString(&errbuf[0]))
	}
	return kd, nil
}

const _POSIX2_LINE_MAX = 2048

// enumerateProcesses lists every process visible to the caller with a
// single kvm_open/kvm_getprocs/kvm_close cycle (component A's process
// listing), the same kvm-style enumeration the OpenBSD adapter this
// package is grounded on uses.
func enumerateProcesses() ([]dbgcore.ProcessInfo, error) {
	log := logflags.ProcstatLogger()

	kd, err := openKvm()
	if err != nil {
		return nil, &dbgcore.OsError{Op: "kvm_open", Code: err}
	}
	defer C.kvm_close(kd)

	var cnt C.int
	procs := C.kvm_getprocs(kd, C.KERN_PROC_PROC, 0, &cnt)
	if procs == nil || cnt == 0 {
		// An empty table is a legitimate answer for a global listing,
		// unlike the single-pid lookups below where zero rows means
		// that specific pid is gone.
		return nil, nil
	}

	out := make([]dbgcore.ProcessInfo, 0, int(cnt))
	base := uintptr(unsafe.Pointer(procs))
	stride := unsafe.Sizeof(*procs)
	for i := 0; i < int(cnt); i++ {
		kp := (*C.struct_kinfo_proc)(unsafe.Pointer(base + uintptr(i)*stride))
		out = append(out, dbgcore.ProcessInfo{
			Pid:  dbgcore.Pid(kp.ki_pid),
			Uid:  int(kp.ki_ruid),
			Name: strings.ReplaceAll(C.GoString(&kp.ki_comm[0]), "%", "%%"),
			Argv: kvmArgv(kd, kp),
		})
	}
	log.Debugf("enumerate_processes: %d entries", len(out))
	return out, nil
}

func kvmArgv(kd *C.kvm_t, kp *C.struct_kinfo_proc) []string {
	argv := C.kvm_getargv(kd, kp, 0)
	if argv == nil {
		return nil
	}
	var out []string
	base := uintptr(unsafe.Pointer(argv))
	stride := unsafe.Sizeof(*argv)
	for i := 0; ; i++ {
		p := *(**C.char)(unsafe.Pointer(base + uintptr(i)*stride))
		if p == nil {
			break
		}
		out = append(out, C.GoString(p))
	}
	return out
}

// processExe returns the absolute path of pid's executable via
// libprocstat, which (unlike kvm) can resolve the backing vnode path.
// The OpenBSD adapter this is grounded on builds its answer in a C
// buffer scoped inside the "if kvm_getprocs succeeded" block and
// returns a pointer to it after that block — and the kvm handle it
// came from — have already gone out of scope. C.GoString below copies
// the bytes out while ps is still open, so no such dangling reference
// is possible here.
func processExe(pid dbgcore.Pid) (string, error) {
	ps := C.procstat_open_sysctl()
	if ps == nil {
		return "", &dbgcore.OsError{Op: "procstat_open_sysctl", Code: errors.New("failed")}
	}
	defer C.procstat_close(ps)

	var cnt C.uint
	procs := C.procstat_getprocs(ps, C.KERN_PROC_PID, C.int(pid), &cnt)
	if procs == nil || cnt == 0 {
		return "", &dbgcore.OsError{Op: "procstat_getprocs", Code: fmt.Errorf("no such process: %d", pid)}
	}
	defer C.procstat_freeprocs(ps, procs)

	var pathname [C.PATH_MAX]C.char
	if C.procstat_getpathname(ps, procs, (*C.char)(unsafe.Pointer(&pathname[0])), C.PATH_MAX) != 0 {
		return "", &dbgcore.OsError{Op: "procstat_getpathname", Code: fmt.Errorf("failed for pid %d", pid)}
	}
	path := C.GoString(&pathname[0])
	return path, nil
}

// parentPid returns pid's parent via kvm_getprocs. kvm_getprocs can
// legitimately return zero rows for a pid that exited between the
// caller learning about it and this call running; the adapter this is
// grounded on dereferences that result unconditionally and segfaults.
// This adapter checks cnt before touching the row.
func parentPid(pid dbgcore.Pid) (dbgcore.Pid, error) {
	kd, err := openKvm()
	if err != nil {
		return 0, &dbgcore.OsError{Op: "kvm_open", Code: err}
	}
	defer C.kvm_close(kd)

	var cnt C.int
	procs := C.kvm_getprocs(kd, C.KERN_PROC_PID, C.int(pid), &cnt)
	if procs == nil || cnt == 0 {
		return 0, &dbgcore.OsError{Op: "kvm_getprocs", Code: fmt.Errorf("no such process: %d", pid)}
	}
	return dbgcore.Pid(procs.ki_ppid), nil
}

// entryPoint reads AT_ENTRY out of pid's auxiliary vector. kvm(3) has
// no auxv accessor, so this uses libprocstat instead.
func entryPoint(pid dbgcore.Pid) (dbgcore.Address, error) {
	ps := C.procstat_open_sysctl()
	if ps == nil {
		return 0, &dbgcore.OsError{Op: "procstat_open_sysctl", Code: errors.New("failed")}
	}
	defer C.procstat_close(ps)

	var cnt C.uint
	procs := C.procstat_getprocs(ps, C.KERN_PROC_PID, C.int(pid), &cnt)
	if procs == nil || cnt == 0 {
		return 0, &dbgcore.OsError{Op: "procstat_getprocs", Code: fmt.Errorf("no such process: %d", pid)}
	}
	defer C.procstat_freeprocs(ps, procs)

	auxv := C.procstat_getauxv(ps, procs, &cnt)
	if auxv == nil {
		return 0, &dbgcore.OsError{Op: "procstat_getauxv", Code: fmt.Errorf("no auxv for pid %d", pid)}
	}
	defer C.procstat_freeauxv(ps, auxv)

	stride := unsafe.Sizeof(*auxv)
	base := uintptr(unsafe.Pointer(auxv))
	for i := 0; i < int(cnt); i++ {
		e := (*C.Elf_Auxinfo)(unsafe.Pointer(base + uintptr(i)*stride))
		if e.a_type == C.AT_ENTRY {
			return dbgcore.Address(C.bsdcore_aux_ptr(e)), nil
		}
	}
	return 0, &dbgcore.OsError{Op: "procstat_getauxv", Code: fmt.Errorf("AT_ENTRY not present for pid %d", pid)}
}
