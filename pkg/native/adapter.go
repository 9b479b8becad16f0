//go:build freebsd && amd64

package native

import "github.com/tracepoint-dev/bsdcore/pkg/dbgcore"

// EnumerateProcesses lists every process visible to the caller
// (component A). It does not require an active Controller.
func EnumerateProcesses() ([]dbgcore.ProcessInfo, error) {
	return enumerateProcesses()
}

// ProcessExecutable returns the absolute path of pid's executable.
func ProcessExecutable(pid dbgcore.Pid) (string, error) {
	return processExe(pid)
}

// ParentPid returns pid's parent process id.
func ParentPid(pid dbgcore.Pid) (dbgcore.Pid, error) {
	return parentPid(pid)
}

// EntryPoint returns pid's ELF entry point address, read from its
// auxiliary vector.
func EntryPoint(pid dbgcore.Pid) (dbgcore.Address, error) {
	return entryPoint(pid)
}

// PageSize reports the host's page size.
func PageSize() int {
	return pageSize()
}
