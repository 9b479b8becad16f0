package analysis

import "sort"

// resolveOverlaps implements component J. Functions are walked
// independently and can end up claiming the same bytes; this pass
// makes the region's function table a partition again by clipping an
// earlier function's end to the start of whatever comes after it.
//
// The one exception is a thunk fully contained inside another
// function's range: a thunk is a single jump stub, and BSD-linked
// binaries routinely place PLT-style thunks inside the padding of a
// larger function. Clipping the containing function down to the
// thunk's start would erase most of it for the sake of an 8-byte stub,
// so a contained thunk is left in place and both entries are kept.
//
// spec.md §8 states the partition invariant over any two functions
// F1<F2 by entry, not just entries adjacent in start order: a contained
// thunk can sit between F1 and a later F3 that still overlaps F1, so
// each function is compared against every later-starting function, not
// just its immediate successor, until the list is sorted by Start and
// an entry starts at or past cur's (possibly already-clipped) End.
func resolveOverlaps(fm FunctionMap) {
	if len(fm) < 2 {
		return
	}

	ordered := make([]*Function, 0, len(fm))
	for _, f := range fm {
		ordered = append(ordered, f)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	for i := 0; i < len(ordered); i++ {
		cur := ordered[i]
		for j := i + 1; j < len(ordered); j++ {
			next := ordered[j]
			if cur.End <= cur.Start || next.Start >= cur.End {
				break // sorted by Start: nothing further can overlap cur either
			}

			contained := next.Type == FunctionTypeThunk && next.End != 0 && next.End <= cur.End
			if contained {
				continue
			}

			cur.End = next.Start
		}
	}
}
