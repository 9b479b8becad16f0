// Package symbols provides the symbol table collaborator the static
// analyzer's seeders (H.3, H.4) query: whether a name is present, and
// prefix lookups over the name space, backed by a trie so both are
// O(len(query)) regardless of symbol count.
package symbols

import (
	"github.com/derekparker/trie"

	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
)

// Kind distinguishes a function-like symbol from a data symbol, the
// way the symbol-provider collaborator's (name, address, size, kind)
// interface (spec.md §6) does. KindUnknown is the zero value, for
// symbol sources that cannot resolve a kind at all.
type Kind int

const (
	KindUnknown Kind = iota
	KindFunction
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Symbol is one entry of a binary's symbol table.
type Symbol struct {
	Name    string
	Address dbgcore.Address
	Size    int64
	Kind    Kind
}

// Table indexes a binary's symbols by name for the seeders in H.3
// ("main") and H.4 ("symbols").
type Table struct {
	byName map[string]Symbol
	names  *trie.Trie
}

// NewTable builds a Table over syms. Later entries with a name already
// present overwrite earlier ones.
func NewTable(syms []Symbol) *Table {
	t := &Table{
		byName: make(map[string]Symbol, len(syms)),
		names:  trie.New(),
	}
	for _, s := range syms {
		t.byName[s.Name] = s
		t.names.Add(s.Name, s.Address)
	}
	return t
}

// Lookup returns the symbol exactly named name, if any.
func (t *Table) Lookup(name string) (Symbol, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// MainSymbol implements seeder H.3: the conventional entry symbol
// for a debuggee's own code, tried in the order main, _start, start,
// and finally Go's main.main.
func (t *Table) MainSymbol() (Symbol, bool) {
	for _, name := range []string{"main", "_start", "start", "main.main"} {
		if s, ok := t.byName[name]; ok {
			return s, ok
		}
	}
	return Symbol{}, false
}

// WithPrefix returns every symbol whose name starts with prefix, in
// trie (not necessarily address) order. The seeders do not call it;
// H.4 uses FunctionsIn.
func (t *Table) WithPrefix(prefix string) []Symbol {
	names := t.names.PrefixSearch(prefix)
	out := make([]Symbol, 0, len(names))
	for _, n := range names {
		if s, ok := t.byName[n]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Len reports how many symbols the table holds.
func (t *Table) Len() int { return len(t.byName) }

// All returns every symbol whose address falls within [start, end),
// regardless of kind.
func (t *Table) All(start, end dbgcore.Address) []Symbol {
	out := make([]Symbol, 0)
	for _, s := range t.byName {
		if s.Address >= start && s.Address < end {
			out = append(out, s)
		}
	}
	return out
}

// FunctionsIn returns every function-like symbol (Kind == KindFunction)
// whose address falls within [start, end). This is what seeder H.4
// ("Symbols") feeds the function walker: spec.md is explicit that the
// seeder only trusts a symbol as a function start when "its kind is
// function-like" — a data symbol inside the same range is left alone.
func (t *Table) FunctionsIn(start, end dbgcore.Address) []Symbol {
	out := make([]Symbol, 0)
	for _, s := range t.byName {
		if s.Kind == KindFunction && s.Address >= start && s.Address < end {
			out = append(out, s)
		}
	}
	return out
}
