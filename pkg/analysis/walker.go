package analysis

import (
	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
	"github.com/tracepoint-dev/bsdcore/pkg/disasm"
	"github.com/tracepoint-dev/bsdcore/pkg/logflags"
)

// maxWalkedInstructions bounds a single walk so a corrupted or
// adversarial region (an infinite chain of one-byte jumps) cannot hang
// analyze(); the walker gives up and returns what it found so far.
const maxWalkedInstructions = 200000

// walkResult is what the function walker (component I) recovers about
// one seed: how far its code extends, which addresses it calls
// directly (feeding the "high-ref" pass's next generation of seeds),
// and which jump targets land before the seed's own entry (NewSeeds —
// §4.I treats a jump target as a continuation of the walking function
// unless it precedes the seed, in which case it belongs to whatever
// function already owns that earlier address and must be walked on
// its own rather than folded into this one).
type walkResult struct {
	End      dbgcore.Address
	Calls    []dbgcore.Address
	NewSeeds []dbgcore.Address
	IsThunk  bool
}

// walkFunction performs a linear-with-branches disassembly starting at
// start, never following an edge outside [start, regionEnd). It is the
// core of component I: RET and HLT terminate a path without a
// successor, CALL records its target as a high-ref candidate but does
// not stop the walk (the callee is a separate function), and
// unconditional/conditional jumps are followed as control flow edges.
// An unreadable address or an instruction that fails to decode ends
// the whole walk: End stays at the furthest instruction decoded so far
// and any paths still pending are dropped.
func walkFunction(mem dbgcore.MemoryReader, start, regionEnd dbgcore.Address) (walkResult, error) {
	log := logflags.AnalysisLogger()

	worklist := []dbgcore.Address{start}
	visited := make(map[dbgcore.Address]bool)
	res := walkResult{End: start}

	firstInsn := true
	steps := 0
	for len(worklist) > 0 {
		addr := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if visited[addr] || addr < start || addr >= regionEnd {
			continue
		}
		visited[addr] = true

		steps++
		if steps > maxWalkedInstructions {
			log.Debugf("walk from %#x truncated after %d instructions", uint64(start), steps)
			break
		}

		window := int64(regionEnd) - int64(addr)
		if window > 15 {
			window = 15
		}
		if window <= 0 {
			continue
		}
		buf := make([]byte, window)
		if _, err := mem.ReadMemory(buf, addr); err != nil {
			break
		}

		inst, err := disasm.Decode(buf, addr)
		if err != nil {
			break
		}

		if firstInsn {
			firstInsn = false
			if inst.Class == disasm.ClassJumpUnconditional && len(inst.DirectTargets) == 0 {
				res.IsThunk = true
			}
		}

		instEnd := addr.Add(int64(inst.Length))
		if instEnd > res.End {
			res.End = instEnd
		}

		switch inst.Class {
		case disasm.ClassReturn, disasm.ClassHalt:
			// no successor

		case disasm.ClassCall:
			if len(inst.DirectTargets) == 1 {
				res.Calls = append(res.Calls, inst.DirectTargets[0])
			}
			if instEnd < regionEnd {
				worklist = append(worklist, instEnd)
			}

		case disasm.ClassJumpUnconditional:
			for _, t := range inst.DirectTargets {
				if t < start {
					res.NewSeeds = append(res.NewSeeds, t)
					continue
				}
				worklist = append(worklist, t)
			}

		case disasm.ClassJumpConditional:
			for _, t := range inst.DirectTargets {
				if t < start {
					res.NewSeeds = append(res.NewSeeds, t)
					continue
				}
				worklist = append(worklist, t)
			}
			if instEnd < regionEnd {
				worklist = append(worklist, instEnd)
			}

		default:
			if instEnd < regionEnd {
				worklist = append(worklist, instEnd)
			}
		}
	}

	return res, nil
}
