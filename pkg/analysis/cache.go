package analysis

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
	"github.com/tracepoint-dev/bsdcore/pkg/logflags"
)

// defaultCacheEntries bounds the number of regions whose analysis is
// memoized at once (component K); a debuggee that maps thousands of
// shared libraries should not grow this cache unboundedly.
const defaultCacheEntries = 256

// regionAnalysis is one cache entry: the function table found for a
// region the last time it was analyzed, plus the fingerprint (G) that
// was current at the time.
//
// fuzzy marks that the pass which produced functions observed the
// debuggee as AttachedRunning at some point (§4.K, GLOSSARY "fuzzy
// analysis") — not a size/permissions shortcut, see fingerprint.go's
// Fingerprint.Matches for that. A fuzzy entry is still stored
// (replacing any older entry for the region), but Lookup never hands
// it back: spec.md's
// cache rule is "cached.fuzzy == false" before an entry is reusable,
// with no fuzzy/fuzzy-match interaction.
type regionAnalysis struct {
	functions   FunctionMap
	fingerprint Fingerprint
	region      dbgcore.Region
	fuzzy       bool
}

// Cache memoizes analyze() results per region start address, so
// re-analyzing an unchanged region (the common case: the caller pauses
// the debuggee repeatedly without it ever mapping new code) is a
// fingerprint comparison instead of a full re-walk.
type Cache struct {
	entries *lru.Cache
}

// NewCache builds a Cache holding at most maxEntries regions; 0 uses
// the package default.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	c, err := lru.New(maxEntries)
	if err != nil {
		// lru.New only errors on a non-positive size, which is excluded above.
		panic(err)
	}
	return &Cache{entries: c}
}

// Lookup returns the cached function table for region, applying §4.K's
// two-part rule in order: an entry computed fuzzy (the debuggee was
// AttachedRunning at some point during its pass) is never reused
// regardless of fingerprint, full stop; otherwise the fingerprint must
// still match, where fuzzyMatch relaxes that comparison from the exact
// MD5 to just size/permissions (a distinct, caller-opted-into knob —
// see fingerprint.go's Fingerprint.Matches).
func (c *Cache) Lookup(region dbgcore.Region, fp Fingerprint, fuzzyMatch bool) (FunctionMap, bool) {
	v, ok := c.entries.Get(region.Start)
	if !ok {
		return nil, false
	}
	ra := v.(regionAnalysis)
	if ra.fuzzy {
		logflags.AnalysisLogger().Debugf("cache entry for region %#x was computed fuzzy, forcing re-analysis", uint64(region.Start))
		return nil, false
	}
	if !ra.fingerprint.Matches(fp, fuzzyMatch) {
		logflags.AnalysisLogger().Debugf("cache stale for region %#x", uint64(region.Start))
		return nil, false
	}
	return ra.functions, true
}

// Store records region's analysis result under its start address,
// evicting the least recently used entry if the cache is full. fuzzy
// is carried through so a later Lookup can refuse to serve it.
func (c *Cache) Store(region dbgcore.Region, fp Fingerprint, fm FunctionMap, fuzzy bool) {
	c.entries.Add(region.Start, regionAnalysis{functions: fm, fingerprint: fp, region: region, fuzzy: fuzzy})
}

// Invalidate drops region's cached analysis, if any.
func (c *Cache) Invalidate(region dbgcore.Region) {
	c.entries.Remove(region.Start)
}

// InvalidateAll drops every cached analysis.
func (c *Cache) InvalidateAll() {
	c.entries.Purge()
}
