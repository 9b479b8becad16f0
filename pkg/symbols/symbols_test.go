package symbols

import "testing"

func syms() []Symbol {
	return []Symbol{
		{Name: "main.main", Address: 0x1000, Size: 32, Kind: KindFunction},
		{Name: "main.init", Address: 0x1020, Size: 16, Kind: KindFunction},
		{Name: "_start", Address: 0x400, Size: 8, Kind: KindFunction},
		{Name: "runtime.morestack", Address: 0x2000, Size: 64, Kind: KindFunction},
	}
}

func TestLookup(t *testing.T) {
	tbl := NewTable(syms())
	s, ok := tbl.Lookup("main.main")
	if !ok || s.Address != 0x1000 {
		t.Fatalf("got %+v, %v", s, ok)
	}
	if _, ok := tbl.Lookup("nope"); ok {
		t.Fatal("expected miss")
	}
}

func TestMainSymbolPrefersStart(t *testing.T) {
	tbl := NewTable(syms())
	s, ok := tbl.MainSymbol()
	if !ok || s.Name != "_start" {
		t.Fatalf("got %+v, %v", s, ok)
	}
}

func TestMainSymbolFallsBackToMain(t *testing.T) {
	tbl := NewTable([]Symbol{{Name: "main.main", Address: 0x1000}})
	s, ok := tbl.MainSymbol()
	if !ok || s.Name != "main.main" {
		t.Fatalf("got %+v, %v", s, ok)
	}
}

func TestWithPrefix(t *testing.T) {
	tbl := NewTable(syms())
	got := tbl.WithPrefix("main.")
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestAllInRange(t *testing.T) {
	tbl := NewTable(syms())
	got := tbl.All(0x1000, 0x2000)
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestFunctionsInExcludesDataSymbols(t *testing.T) {
	syms := append(syms(), Symbol{Name: "global_counter", Address: 0x1040, Size: 4, Kind: KindData})
	tbl := NewTable(syms)

	got := tbl.FunctionsIn(0x1000, 0x2000)
	if len(got) != 2 {
		t.Fatalf("expected only the 2 function-like symbols in range, got %v", got)
	}
	for _, s := range got {
		if s.Kind != KindFunction {
			t.Fatalf("expected only KindFunction symbols, got %+v", s)
		}
	}

	all := tbl.All(0x1000, 0x2000)
	if len(all) != 3 {
		t.Fatalf("expected All to still include the data symbol, got %v", all)
	}
}
