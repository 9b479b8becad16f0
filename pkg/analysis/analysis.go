// Package analysis implements the static analyzer: region
// fingerprinting (G), heuristic function discovery (H), the function
// walker (I), overlap resolution (J) and the analysis cache (K). It
// never issues a syscall; callers supply a dbgcore.MemoryReader over
// whatever backs the debuggee's memory.
package analysis

import "github.com/tracepoint-dev/bsdcore/pkg/dbgcore"

// FunctionType distinguishes a genuine function entry from a thunk (a
// single indirect jump stub, usually into a PLT or import table).
// FunctionTypeUnknown is the zero value: every seed starts out
// Unknown until the walker resolves its End and classifies it.
type FunctionType int

const (
	FunctionTypeUnknown FunctionType = iota
	FunctionTypeStandard
	FunctionTypeThunk
)

func (t FunctionType) String() string {
	switch t {
	case FunctionTypeStandard:
		return "standard"
	case FunctionTypeThunk:
		return "thunk"
	default:
		return "unknown"
	}
}

// Function is one entry of a region's analysis.
type Function struct {
	Start        dbgcore.Address
	End          dbgcore.Address // exclusive; zero if not yet resolved
	Type         FunctionType
	SeededBy     string // which H seeder found this address first, or "call-target"/"backward-jump-target" for walker discoveries
	ReferencesIn uint32 // number of direct CALLs into Start found so far; a backward-jump target starts at 1
}

func (f Function) Contains(addr dbgcore.Address) bool {
	return addr >= f.Start && (f.End == 0 || addr < f.End)
}

// FunctionMap is a region's function table, keyed by entry address.
type FunctionMap map[dbgcore.Address]*Function

// AddressCategory classifies a single address relative to a region's
// analysis (the "category" operation, §3's AddressCategory).
type AddressCategory int

const (
	CategoryNotFunction AddressCategory = iota
	CategoryFunctionStart
	CategoryFunctionBody
	CategoryFunctionEnd
)

func (c AddressCategory) String() string {
	switch c {
	case CategoryFunctionStart:
		return "function-start"
	case CategoryFunctionBody:
		return "function-body"
	case CategoryFunctionEnd:
		return "function-end"
	default:
		return "not-function"
	}
}
