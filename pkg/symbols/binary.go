package symbols

import "github.com/tracepoint-dev/bsdcore/pkg/dbgcore"

// BinaryInfo is the minimal view of a debuggee's own binary the
// analyzer's seeders need: its declared entry point and, if resolvable,
// a "main" symbol distinct from the raw ELF entry (H.2, H.3).
type BinaryInfo interface {
	EntryPoint() (dbgcore.Address, error)
	MainSymbol() (Symbol, bool)
}

// StaticBinaryInfo is a BinaryInfo backed by a fixed entry address and
// a pre-built Table, for callers that already resolved both up front
// (e.g. the CLI, after native.EntryPoint and reading the ELF symtab).
type StaticBinaryInfo struct {
	Entry dbgcore.Address
	Table *Table
}

func (b StaticBinaryInfo) EntryPoint() (dbgcore.Address, error) { return b.Entry, nil }

func (b StaticBinaryInfo) MainSymbol() (Symbol, bool) {
	if b.Table == nil {
		return Symbol{}, false
	}
	return b.Table.MainSymbol()
}
