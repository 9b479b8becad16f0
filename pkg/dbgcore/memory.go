package dbgcore

// MemoryReader is like io.ReaderAt, but addressed with Address so it
// can address the full 64-bit debuggee address space regardless of
// the host's own pointer width.
type MemoryReader interface {
	ReadMemory(buf []byte, addr Address) (n int, err error)
}

// MemoryReadWriter is a MemoryReader that can also patch the
// debuggee's memory, e.g. to plant or remove a software breakpoint.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr Address, data []byte) (written int, err error)
}

// RunStateReporter is optionally implemented by a MemoryReader backed
// by a live debuggee, as opposed to a static memory dump. IsRunning
// reports whether the debuggee was AttachedRunning, rather than
// AttachedStopped, the instant it was asked. The static analyzer polls
// this before and after seeding and after each function walk of an
// analysis pass: per §4.K,
// a pass during which the debuggee was ever running produces a fuzzy
// RegionAnalysis that must never be served from the cache.
type RunStateReporter interface {
	IsRunning() bool
}
