//go:build freebsd && amd64

package native

/*
#cgo LDFLAGS: -lprocstat -lutil

#include <sys/types.h>
#include <sys/user.h>
#include <libprocstat.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
)

// Regions enumerates pid's mapped memory regions, the input the
// static analyzer (components G-K) walks one at a time.
func Regions(pid dbgcore.Pid) ([]dbgcore.Region, error) {
	ps := C.procstat_open_sysctl()
	if ps == nil {
		return nil, &dbgcore.OsError{Op: "procstat_open_sysctl", Code: fmt.Errorf("failed")}
	}
	defer C.procstat_close(ps)

	var cnt C.uint
	procs := C.procstat_getprocs(ps, C.KERN_PROC_PID, C.int(pid), &cnt)
	if procs == nil || cnt == 0 {
		return nil, &dbgcore.OsError{Op: "procstat_getprocs", Code: fmt.Errorf("no such process: %d", pid)}
	}
	defer C.procstat_freeprocs(ps, procs)

	var vmcnt C.uint
	vmmap := C.procstat_getvmmap(ps, procs, &vmcnt)
	if vmmap == nil {
		return nil, &dbgcore.OsError{Op: "procstat_getvmmap", Code: fmt.Errorf("no vm map for pid %d", pid)}
	}
	defer C.procstat_freevmmap(ps, vmmap)

	out := make([]dbgcore.Region, 0, int(vmcnt))
	base := uintptr(unsafe.Pointer(vmmap))
	stride := unsafe.Sizeof(*vmmap)
	for i := 0; i < int(vmcnt); i++ {
		e := (*C.struct_kinfo_vmentry)(unsafe.Pointer(base + uintptr(i)*stride))
		out = append(out, dbgcore.Region{
			Start: dbgcore.Address(e.kve_start),
			End:   dbgcore.Address(e.kve_end),
			Base:  dbgcore.Address(e.kve_offset),
			Name:  C.GoString(&e.kve_path[0]),
			Perm: dbgcore.Permissions{
				Read:    e.kve_protection&C.KVME_PROT_READ != 0,
				Write:   e.kve_protection&C.KVME_PROT_WRITE != 0,
				Execute: e.kve_protection&C.KVME_PROT_EXEC != 0,
			},
		})
	}
	return out, nil
}
