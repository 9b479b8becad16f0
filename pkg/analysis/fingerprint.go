package analysis

import (
	"crypto/md5"

	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
)

// Fingerprint identifies a region's contents for cache lookups
// (component G). Exact is the MD5 of the region's bytes at the time
// it was computed; Fuzzy covers just the region's size and
// permissions, cheap enough to compute without reading memory and
// used when the caller opts into K's relaxed reuse policy.
type Fingerprint struct {
	Exact [md5.Size]byte
	Fuzzy FuzzyFingerprint
}

// FuzzyFingerprint is the size/permission summary of a region, stable
// across re-mappings that don't change the region's shape (e.g. a
// shared library reloaded at the same base).
type FuzzyFingerprint struct {
	Size int64
	Perm dbgcore.Permissions
}

// ComputeFingerprint reads the whole region through mem and hashes it
// (component G, "md5_region"). Regions larger than maxFingerprintBytes
// are hashed by their first maxFingerprintBytes only, since analysis
// only ever needs to detect "did this region change", not verify it
// byte for byte.
const maxFingerprintBytes = 4 << 20

func ComputeFingerprint(mem dbgcore.MemoryReader, region dbgcore.Region) (Fingerprint, error) {
	fp := Fingerprint{Fuzzy: FuzzyFingerprint{Size: region.Size(), Perm: region.Perm}}

	n := region.Size()
	if n > maxFingerprintBytes {
		n = maxFingerprintBytes
	}
	if n <= 0 {
		fp.Exact = md5.Sum(nil)
		return fp, nil
	}

	buf := make([]byte, n)
	if _, err := mem.ReadMemory(buf, region.Start); err != nil {
		return Fingerprint{}, &dbgcore.AddressUnmappedError{Address: region.Start}
	}
	fp.Exact = md5.Sum(buf)
	return fp, nil
}

// Matches reports whether other is the same region content as fp. When
// fuzzy is true, a match on size and permissions alone is sufficient;
// otherwise the exact MD5 must agree.
func (fp Fingerprint) Matches(other Fingerprint, fuzzy bool) bool {
	if fuzzy {
		return fp.Fuzzy == other.Fuzzy
	}
	return fp.Exact == other.Exact
}
