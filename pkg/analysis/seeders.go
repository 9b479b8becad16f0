package analysis

import (
	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
	"github.com/tracepoint-dev/bsdcore/pkg/disasm"
	"github.com/tracepoint-dev/bsdcore/pkg/symbols"
)

// seederName values are the SeededBy tag recorded on each discovered
// Function, and the fixed evaluation order for the six seeders (H):
// an address found by more than one seeder keeps whichever ran first.
const (
	seededSpecified  = "specified"
	seededEntryPoint = "entry-point"
	seededMain       = "main"
	seededSymbols    = "symbols"
	seededMarked     = "marked"
	seededStackFrame = "stack-frame"
)

// SeedInputs gathers everything the six seeders (H.1-H.6) draw from.
// All fields are optional; a nil or empty field simply means that
// seeder contributes nothing this pass.
type SeedInputs struct {
	// H.1: addresses the caller has explicitly marked as functions,
	// persisted across sessions (pkg/config's SpecifiedFunctions).
	Specified []dbgcore.Address

	// H.2/H.3: the debuggee's own entry point and "main"-equivalent
	// symbol, when known.
	BinInfo symbols.BinaryInfo

	// H.4: the region's symbol table, if one could be resolved.
	Symbols *symbols.Table

	// H.5: addresses marked in the current session only (not persisted).
	Marked []dbgcore.Address

	// H.6: return addresses recovered by unwinding the debuggee's
	// current call stack, supplied by the caller since only it has a
	// live thread to unwind.
	StackFrames []dbgcore.Address
}

// seed runs the six seeders in spec order over region, returning every
// address they propose as a starting point for the function walker.
// Results are deduplicated by address, first seeder wins. mem is used
// only by H.6 (stack-frame scanning); it may be nil if the caller has
// already resolved StackFrames itself.
func seed(mem dbgcore.MemoryReader, region dbgcore.Region, in SeedInputs) FunctionMap {
	out := make(FunctionMap)

	add := func(addr dbgcore.Address, by string) {
		if !region.Contains(addr) {
			return
		}
		if _, ok := out[addr]; ok {
			return
		}
		out[addr] = &Function{Start: addr, SeededBy: by}
	}

	// H.1 Specified
	for _, a := range in.Specified {
		add(a, seededSpecified)
	}

	// H.2 Entry point
	if in.BinInfo != nil {
		if entry, err := in.BinInfo.EntryPoint(); err == nil {
			add(entry, seededEntryPoint)
		}
	}

	// H.3 Main
	if in.BinInfo != nil {
		if sym, ok := in.BinInfo.MainSymbol(); ok {
			add(sym.Address, seededMain)
		}
	}

	// H.4 Symbols: only symbols whose kind is function-like are seeded
	// here (spec.md §4.H.4) — a data symbol inside the region is not a
	// function entry, and seeding it would hand the walker a bogus start.
	if in.Symbols != nil {
		for _, sym := range in.Symbols.FunctionsIn(region.Start, region.End) {
			add(sym.Address, seededSymbols)
		}
	}

	// H.5 Marked
	for _, a := range in.Marked {
		add(a, seededMarked)
	}

	// H.6 Stack frame: caller-supplied candidates (e.g. unwound return
	// addresses) plus every address in the region whose canonical
	// push-rbp/mov-rbp,rsp prologue the disassembler confirms.
	for _, a := range in.StackFrames {
		add(a, seededStackFrame)
	}
	if mem != nil {
		for _, a := range findStackFrames(mem, region) {
			add(a, seededStackFrame)
		}
	}

	return out
}

// findStackFrames scans region for the canonical x86-64 frame-setup
// sequence (push rbp; mov rbp, rsp) or its 32-bit equivalent (push ebp;
// mov ebp, esp), confirming each candidate by actually decoding both
// instructions rather than trusting the raw bytes alone (§4.H.6).
func findStackFrames(mem dbgcore.MemoryReader, region dbgcore.Region) []dbgcore.Address {
	n := region.Size()
	if n <= 0 {
		return nil
	}
	if n > maxFingerprintBytes {
		n = maxFingerprintBytes
	}
	buf := make([]byte, n)
	if _, err := mem.ReadMemory(buf, region.Start); err != nil {
		return nil
	}

	var out []dbgcore.Address
	for off := 0; off+2 < len(buf); off++ {
		if buf[off] != 0x55 { // push rbp/ebp
			continue
		}
		addr := region.Start.Add(int64(off))
		first, err := disasm.Decode(buf[off:], addr)
		if err != nil || first.Mnemonic != "PUSH" {
			continue
		}
		next := off + first.Length
		if next >= len(buf) {
			continue
		}
		second, err := disasm.Decode(buf[next:], addr.Add(int64(first.Length)))
		if err != nil || second.Mnemonic != "MOV" {
			continue
		}
		// Only a MOV from the stack pointer into the base pointer counts:
		// mov rbp, rsp (48 89 e5 / 48 8b ec) or mov ebp, esp (89 e5 / 8b ec).
		switch string(buf[next : next+second.Length]) {
		case "\x48\x89\xe5", "\x48\x8b\xec", "\x89\xe5", "\x8b\xec":
		default:
			continue
		}
		out = append(out, addr)
	}
	return out
}
