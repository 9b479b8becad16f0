package analysis

import (
	"testing"

	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
)

// fakeMemory serves ReadMemory out of an in-process byte slice anchored
// at base, standing in for a live Controller in these tests.
type fakeMemory struct {
	base dbgcore.Address
	data []byte
}

func (m *fakeMemory) ReadMemory(buf []byte, addr dbgcore.Address) (int, error) {
	off := int64(addr) - int64(m.base)
	if off < 0 || off >= int64(len(m.data)) {
		return 0, &dbgcore.AddressUnmappedError{Address: addr}
	}
	n := copy(buf, m.data[off:])
	return n, nil
}

// runningMemory wraps fakeMemory and reports a caller-controlled
// run-state, standing in for a live Controller mid-resume.
type runningMemory struct {
	fakeMemory
	running bool
}

func (m *runningMemory) IsRunning() bool { return m.running }

func testRegion(base dbgcore.Address, size int64) dbgcore.Region {
	return dbgcore.Region{
		Start: base,
		End:   base.Add(size),
		Perm:  dbgcore.Permissions{Read: true, Execute: true},
	}
}

func TestFingerprintExactVsFuzzy(t *testing.T) {
	region := testRegion(0x1000, 4)
	memA := &fakeMemory{base: 0x1000, data: []byte{0x90, 0x90, 0x90, 0xc3}}
	memB := &fakeMemory{base: 0x1000, data: []byte{0x90, 0x90, 0x90, 0x90}}

	fpA, err := ComputeFingerprint(memA, region)
	if err != nil {
		t.Fatal(err)
	}
	fpB, err := ComputeFingerprint(memB, region)
	if err != nil {
		t.Fatal(err)
	}

	if fpA.Matches(fpB, false) {
		t.Fatal("expected exact match to fail on differing bytes")
	}
	if !fpA.Matches(fpB, true) {
		t.Fatal("expected fuzzy match to succeed on equal size/perm")
	}
}

func TestSeedFirstSeederWins(t *testing.T) {
	region := testRegion(0x1000, 0x1000)
	in := SeedInputs{
		Specified: []dbgcore.Address{0x1050},
		Marked:    []dbgcore.Address{0x1050},
	}
	fm := seed(nil, region, in)
	fn, ok := fm[0x1050]
	if !ok {
		t.Fatal("expected seed at 0x1050")
	}
	if fn.SeededBy != seededSpecified {
		t.Fatalf("expected specified seeder to win, got %q", fn.SeededBy)
	}
	if len(fm) != 1 {
		t.Fatalf("expected dedup to a single entry, got %d", len(fm))
	}
}

func TestSeedOutOfRangeIgnored(t *testing.T) {
	region := testRegion(0x1000, 0x10)
	in := SeedInputs{Specified: []dbgcore.Address{0x5000}}
	fm := seed(nil, region, in)
	if len(fm) != 0 {
		t.Fatalf("expected out-of-region seed to be dropped, got %d entries", len(fm))
	}
}

func TestSeedStackFrameConfirmedByDisassembler(t *testing.T) {
	// 55 48 89 e5: push rbp; mov rbp, rsp, the canonical prologue H.6
	// scans for and confirms by decoding both instructions.
	region := testRegion(0x2000, 8)
	mem := &fakeMemory{base: 0x2000, data: []byte{0x55, 0x48, 0x89, 0xe5, 0xc3, 0x90, 0x90, 0x90}}

	fm := seed(mem, region, SeedInputs{})
	fn, ok := fm[0x2000]
	if !ok {
		t.Fatal("expected the disassembler-confirmed prologue at 0x2000 to be seeded")
	}
	if fn.SeededBy != seededStackFrame {
		t.Fatalf("expected stack-frame seeder credit, got %q", fn.SeededBy)
	}
}

func TestWalkFunctionStraightLineRet(t *testing.T) {
	mem := &fakeMemory{base: 0x1000, data: []byte{0x90, 0xc3}} // nop; ret
	res, err := walkFunction(mem, 0x1000, 0x2000)
	if err != nil {
		t.Fatal(err)
	}
	if res.End != 0x1002 {
		t.Fatalf("expected End 0x1002, got %#x", uint64(res.End))
	}
	if len(res.Calls) != 0 {
		t.Fatalf("expected no calls, got %v", res.Calls)
	}
	if res.IsThunk {
		t.Fatal("straight-line function must not be classified as a thunk")
	}
}

func TestWalkFunctionCallTarget(t *testing.T) {
	// call rel32 to 0x2000, then ret.
	callLen := 5
	rel := int32(0x2000 - (0x1000 + int64(callLen)))
	data := []byte{
		0xe8, byte(rel), byte(rel >> 8), byte(rel >> 16), byte(rel >> 24),
		0xc3,
	}
	mem := &fakeMemory{base: 0x1000, data: data}
	res, err := walkFunction(mem, 0x1000, 0x3000)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Calls) != 1 || res.Calls[0] != 0x2000 {
		t.Fatalf("expected a single call to 0x2000, got %v", res.Calls)
	}
	if res.End != 0x1006 {
		t.Fatalf("expected End 0x1006, got %#x", uint64(res.End))
	}
}

func TestWalkFunctionThunkDetection(t *testing.T) {
	// jmp rax (FF /4, indirect through a register): the canonical
	// PLT-style trampoline body, one instruction, no direct target.
	data := []byte{0xff, 0xe0}

	mem := &fakeMemory{base: 0x1000, data: data}
	res, err := walkFunction(mem, 0x1000, dbgcore.Address(0x1000+int64(len(data))))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsThunk {
		t.Fatal("expected a leading indirect jump to be classified as a thunk")
	}
}

func TestWalkFunctionDirectJumpIsNotThunk(t *testing.T) {
	// jmp rel8 +5 has a resolvable direct target: it is ordinary
	// control flow, not the indirect trampoline a thunk requires.
	data := make([]byte, 8)
	data[0] = 0xeb
	data[1] = 0x05
	for i := 2; i < 7; i++ {
		data[i] = 0x90
	}
	data[7] = 0xc3

	mem := &fakeMemory{base: 0x1000, data: data}
	res, err := walkFunction(mem, 0x1000, dbgcore.Address(0x1000+int64(len(data))))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsThunk {
		t.Fatal("a direct jump must not be classified as a thunk")
	}
}

func TestWalkFunctionBackwardJumpIsNewSeedNotContinuation(t *testing.T) {
	// jmp rel8 -7 at the seed 0x1005, landing at 0x1000, the seed's own
	// entry minus 5 — a
	// backward edge into a preceding routine, not a continuation of
	// this one.
	data := make([]byte, 7)
	data[0] = 0xeb
	var rel int8 = -7
	data[1] = byte(rel)
	for i := 2; i < 6; i++ {
		data[i] = 0x90
	}
	data[6] = 0xc3

	mem := &fakeMemory{base: 0x1005, data: data}
	res, err := walkFunction(mem, 0x1005, dbgcore.Address(0x1005+int64(len(data))))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.NewSeeds) != 1 || res.NewSeeds[0] != 0x1000 {
		t.Fatalf("expected the backward jump target 0x1000 surfaced as a new seed, got %v", res.NewSeeds)
	}
	if res.End > 0x1005+2 {
		t.Fatalf("backward target must not be folded into this walk's own extent, got End %#x", uint64(res.End))
	}
}

func TestResolveOverlapsClipsEarlierFunction(t *testing.T) {
	fm := FunctionMap{
		0x1000: {Start: 0x1000, End: 0x1100},
		0x1050: {Start: 0x1050, End: 0x1080},
	}
	resolveOverlaps(fm)
	if fm[0x1000].End != 0x1050 {
		t.Fatalf("expected earlier function clipped to 0x1050, got %#x", uint64(fm[0x1000].End))
	}
}

func TestResolveOverlapsKeepsContainedThunk(t *testing.T) {
	fm := FunctionMap{
		0x1000: {Start: 0x1000, End: 0x1100},
		0x1050: {Start: 0x1050, End: 0x1058, Type: FunctionTypeThunk},
	}
	resolveOverlaps(fm)
	if fm[0x1000].End != 0x1100 {
		t.Fatalf("expected containing function left intact, got End %#x", uint64(fm[0x1000].End))
	}
	if fm[0x1050].Start != 0x1050 || fm[0x1050].End != 0x1058 {
		t.Fatal("expected contained thunk to be preserved unchanged")
	}
}

func TestResolveOverlapsClipsNonAdjacentFunction(t *testing.T) {
	// F1=[0x1000,0x1100) and F3=[0x1060,0x1120) genuinely overlap, but a
	// thunk F2=[0x1040,0x1050) contained in F1 sits between them in
	// start order; F1 must still be clipped against F3 even though F2
	// is F1's immediate successor.
	fm := FunctionMap{
		0x1000: {Start: 0x1000, End: 0x1100},
		0x1040: {Start: 0x1040, End: 0x1050, Type: FunctionTypeThunk},
		0x1060: {Start: 0x1060, End: 0x1120},
	}
	resolveOverlaps(fm)
	if fm[0x1000].End != 0x1060 {
		t.Fatalf("expected F1 clipped to 0x1060 past the contained thunk, got %#x", uint64(fm[0x1000].End))
	}
	if fm[0x1040].Start != 0x1040 || fm[0x1040].End != 0x1050 {
		t.Fatal("expected the contained thunk to be preserved unchanged")
	}
}

func TestAnalyzerCachesUntilInvalidated(t *testing.T) {
	region := testRegion(0x1000, 4)
	mem := &fakeMemory{base: 0x1000, data: []byte{0x90, 0x90, 0x90, 0xc3}}
	a := NewAnalyzer(0, false)
	in := SeedInputs{Specified: []dbgcore.Address{0x1000}}

	fm1, err := a.Analyze(mem, region, in)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fm1[0x1000]; !ok {
		t.Fatal("expected function entry at 0x1000")
	}

	if _, ok := a.Functions(mem, region); !ok {
		t.Fatal("expected a cache hit after Analyze")
	}

	a.InvalidateAnalysis(region)
	if _, ok := a.Functions(mem, region); ok {
		t.Fatal("expected cache miss after InvalidateAnalysis")
	}
}

func TestAnalyzerNeverCachesFuzzyResult(t *testing.T) {
	region := testRegion(0x1000, 4)
	mem := &runningMemory{
		fakeMemory: fakeMemory{base: 0x1000, data: []byte{0x90, 0x90, 0x90, 0xc3}},
		running:    true,
	}
	a := NewAnalyzer(0, false)
	in := SeedInputs{Specified: []dbgcore.Address{0x1000}}

	if _, err := a.Analyze(mem, region, in); err != nil {
		t.Fatal(err)
	}

	// The debuggee was AttachedRunning during the pass, so the result
	// must never be served back out of the cache, even though the
	// region's bytes and fingerprint have not changed.
	if _, ok := a.Functions(mem, region); ok {
		t.Fatal("expected a fuzzy analysis to never be served from the cache")
	}

	mem.running = false
	if _, err := a.Analyze(mem, region, in); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Functions(mem, region); !ok {
		t.Fatal("expected a non-fuzzy analysis (debuggee stopped throughout) to be cached")
	}
}

func TestAnalyzerTracksReferencesIn(t *testing.T) {
	// Two callers at 0x1000 and 0x1010 both call the callee at 0x2000;
	// the callee itself just returns.
	region := testRegion(0x1000, 0x1010)
	data := make([]byte, 0x1010)
	callLen := 5
	relFrom := func(from int64) int32 { return int32(0x2000 - (0x1000 + from + int64(callLen))) }

	putCall := func(off int64) {
		rel := relFrom(off)
		data[off] = 0xe8
		data[off+1] = byte(rel)
		data[off+2] = byte(rel >> 8)
		data[off+3] = byte(rel >> 16)
		data[off+4] = byte(rel >> 24)
		data[off+5] = 0xc3
	}
	putCall(0x00)
	putCall(0x10)
	data[0x1000] = 0xc3 // ret at the callee, 0x2000

	mem := &fakeMemory{base: 0x1000, data: data}
	a := NewAnalyzer(0, false)
	in := SeedInputs{Specified: []dbgcore.Address{0x1000, 0x1010}}

	fm, err := a.Analyze(mem, region, in)
	if err != nil {
		t.Fatal(err)
	}
	callee, ok := fm[0x2000]
	if !ok {
		t.Fatal("expected callee discovered as a call target at 0x2000")
	}
	if callee.ReferencesIn != 2 {
		t.Fatalf("expected ReferencesIn 2 after two callers, got %d", callee.ReferencesIn)
	}
}

func TestAnalyzerCategory(t *testing.T) {
	region := testRegion(0x1000, 4)
	mem := &fakeMemory{base: 0x1000, data: []byte{0x90, 0x90, 0x90, 0xc3}}
	a := NewAnalyzer(0, false)
	in := SeedInputs{Specified: []dbgcore.Address{0x1000}}

	if _, err := a.Analyze(mem, region, in); err != nil {
		t.Fatal(err)
	}

	if cat := a.Category(mem, region, 0x1000); cat != CategoryFunctionStart {
		t.Fatalf("expected function-start at entry, got %v", cat)
	}
	if cat := a.Category(mem, region, 0x1002); cat != CategoryFunctionBody {
		t.Fatalf("expected function-body inside function, got %v", cat)
	}
	if cat := a.Category(mem, region, 0x1003); cat != CategoryFunctionEnd {
		t.Fatalf("expected function-end at the function's last byte, got %v", cat)
	}
	if cat := a.Category(mem, region, 0x5000); cat != CategoryNotFunction {
		t.Fatalf("expected not-function for an address outside any function, got %v", cat)
	}
}
