package analysis

import (
	"sort"
	"sync"

	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
	"github.com/tracepoint-dev/bsdcore/pkg/logflags"
)

// highRefThreshold/lowRefThreshold are the call-site-count cutoffs
// §4.I's walk order uses to prioritize popular CALL targets over
// incidental ones before either can claim overlapping bytes.
const (
	highRefThreshold = 2
	lowRefThreshold  = 1
)

// Analyzer is the static analyzer's public face: it turns a region and
// a memory reader into a function table, memoizing the result per
// region (component K) until the region's contents change or the
// caller explicitly invalidates it.
//
// An Analyzer holds no reference to a live debuggee; every call takes
// the dbgcore.MemoryReader to use, so the same Analyzer can serve a
// live Controller session or an offline memory dump equally well.
type Analyzer struct {
	mu         sync.Mutex
	cache      *Cache
	fuzzyMatch bool
}

// NewAnalyzer builds an Analyzer whose cache holds at most maxEntries
// regions (0 for the package default). allowFuzzyMatch mirrors
// pkg/config's Config.FuzzyCache: when true, a region whose size and
// permissions are unchanged is treated as unchanged even if its bytes
// differ (they are still read and hashed on every call). This is
// unrelated to, and does not override,
// §4.K's own fuzzy rule (an analysis computed while the debuggee was
// AttachedRunning is never served from the cache no matter what this
// flag says).
func NewAnalyzer(maxEntries int, allowFuzzyMatch bool) *Analyzer {
	return &Analyzer{cache: NewCache(maxEntries), fuzzyMatch: allowFuzzyMatch}
}

// Analyze runs the full pipeline for region: fingerprint (G), cache
// lookup, and on a miss, seed (H), walk every seed and every call
// target it turns up, high-ref targets first (I), and resolve
// overlaps (J). The
// result is cached under region's fingerprint before it is returned.
func (a *Analyzer) Analyze(mem dbgcore.MemoryReader, region dbgcore.Region, in SeedInputs) (FunctionMap, error) {
	log := logflags.AnalysisLogger()

	fp, err := ComputeFingerprint(mem, region)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if fm, ok := a.cache.Lookup(region, fp, a.fuzzyMatch); ok {
		log.Debugf("analysis cache hit for region %#x", uint64(region.Start))
		return fm, nil
	}

	// fuzzy tracks §4.K's own flag: whether mem ever reported the
	// debuggee as AttachedRunning during this pass, checked before
	// seeding, after seeding and after each function walk. A fuzzy
	// result is still stored, but Cache.Lookup will never hand it back.
	fuzzy := wasRunning(mem)

	fm := seed(mem, region, in)
	fuzzy = fuzzy || wasRunning(mem)

	// walkOne runs the walker over addr, records its extent/type and
	// folds any newly discovered CALL targets, plus any jump target that
	// lands before addr itself (res.NewSeeds — it belongs to whatever
	// function already owns that earlier code, not this one), into fm.
	// Returns whether a genuinely new address was added.
	walkOne := func(addr dbgcore.Address) bool {
		fn := fm[addr]
		res, err := walkFunction(mem, addr, region.End)
		fuzzy = fuzzy || wasRunning(mem)
		if err != nil {
			return false
		}
		fn.End = res.End
		if res.IsThunk {
			fn.Type = FunctionTypeThunk
		} else {
			fn.Type = FunctionTypeStandard
		}
		added := false
		for _, call := range res.Calls {
			if !region.Contains(call) {
				continue
			}
			if target, ok := fm[call]; ok {
				target.ReferencesIn++
				continue
			}
			fm[call] = &Function{Start: call, SeededBy: "call-target", ReferencesIn: 1}
			added = true
		}
		for _, seed := range res.NewSeeds {
			if !region.Contains(seed) {
				continue
			}
			if _, ok := fm[seed]; ok {
				continue
			}
			fm[seed] = &Function{Start: seed, SeededBy: "backward-jump-target", ReferencesIn: 1}
			added = true
		}
		return added
	}

	pendingWithMinRefs := func(minRefs uint32) []dbgcore.Address {
		out := make([]dbgcore.Address, 0)
		for addr, fn := range fm {
			if fn.End == 0 && fn.ReferencesIn >= minRefs {
				out = append(out, addr)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}

	// H-seeded entries (SpecifiedFunctions, entry point, main, symbols,
	// marked, stack-frame) are always walked: they didn't arrive via a
	// CALL, so the high/low-ref split does not apply to them.
	for _, addr := range pendingWithMinRefs(0) {
		walkOne(addr)
	}

	// CALL targets the walker turns up are ranked by how many known
	// call sites reference them: high-ref (>=2) targets are walked to a
	// fixed point before any low-ref (>=1) target is touched at all, so
	// that a popular target's extent is established first and a later,
	// less-referenced discovery cannot claim bytes already resolved for
	// it — mirroring collect_high_ref_results / collect_low_ref_results.
	for {
		progressed := false
		for {
			high := pendingWithMinRefs(highRefThreshold)
			if len(high) == 0 {
				break
			}
			for _, addr := range high {
				if walkOne(addr) {
					progressed = true
				}
			}
		}
		low := pendingWithMinRefs(lowRefThreshold)
		if len(low) == 0 {
			if !progressed {
				break
			}
			continue
		}
		for _, addr := range low {
			if walkOne(addr) {
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	resolveOverlaps(fm)

	if fuzzy {
		log.Debugf("analysis of region %#x computed fuzzy: debuggee was running during the pass", uint64(region.Start))
	}
	a.cache.Store(region, fp, fm, fuzzy)
	return fm, nil
}

// wasRunning reports whether mem is backed by a live debuggee that was
// AttachedRunning the instant it was asked. mem that doesn't implement
// dbgcore.RunStateReporter (an offline memory dump, a test fixture) is
// never fuzzy.
func wasRunning(mem dbgcore.MemoryReader) bool {
	r, ok := mem.(dbgcore.RunStateReporter)
	return ok && r.IsRunning()
}

// Functions returns the cached function table for region without
// recomputing anything, for callers that only want to know whether
// region has already been analyzed.
func (a *Analyzer) Functions(mem dbgcore.MemoryReader, region dbgcore.Region) (FunctionMap, bool) {
	fp, err := ComputeFingerprint(mem, region)
	if err != nil {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cache.Lookup(region, fp, a.fuzzyMatch)
}

// Category classifies addr against region's cached analysis (§3's
// AddressCategory: NotFunction, FunctionStart, FunctionBody or
// FunctionEnd). A function whose End is still unresolved (0) is treated
// as extending without bound (see Function.Contains), so it yields
// FunctionStart at its entry and FunctionBody past it, never
// FunctionEnd.
func (a *Analyzer) Category(mem dbgcore.MemoryReader, region dbgcore.Region, addr dbgcore.Address) AddressCategory {
	fm, ok := a.Functions(mem, region)
	if !ok {
		return CategoryNotFunction
	}
	for _, fn := range fm {
		if !fn.Contains(addr) {
			continue
		}
		switch {
		case addr == fn.Start:
			return CategoryFunctionStart
		case fn.End != 0 && addr == fn.End-1:
			return CategoryFunctionEnd
		default:
			return CategoryFunctionBody
		}
	}
	return CategoryNotFunction
}

// InvalidateAnalysis drops region's cached analysis, forcing the next
// Analyze call to recompute it from scratch.
func (a *Analyzer) InvalidateAnalysis(region dbgcore.Region) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache.Invalidate(region)
}

// InvalidateAll drops every region's cached analysis, used when the
// debuggee's address space has changed wholesale (e.g. after exec).
func (a *Analyzer) InvalidateAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache.InvalidateAll()
}
