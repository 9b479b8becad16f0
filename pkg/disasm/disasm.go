// Package disasm decodes x86-64 machine code for the process control
// core and the static analyzer. It is a thin, stateless wrapper around
// golang.org/x/arch/x86/x86asm: the analyzer's function walker
// (component I) and stack-frame seeder (H.6) never touch x86asm
// directly.
package disasm

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
	"github.com/tracepoint-dev/bsdcore/pkg/logflags"
)

// Class buckets an instruction the way the function walker (I) needs
// to reason about control flow, without
// exposing every x86asm.Op to callers.
type Class int

const (
	ClassOther Class = iota
	ClassCall
	ClassReturn
	ClassJumpUnconditional
	ClassJumpConditional
	ClassHalt
	ClassInvalid
)

func (c Class) String() string {
	switch c {
	case ClassCall:
		return "call"
	case ClassReturn:
		return "return"
	case ClassJumpUnconditional:
		return "jump"
	case ClassJumpConditional:
		return "jump-conditional"
	case ClassHalt:
		return "halt"
	case ClassInvalid:
		return "invalid"
	default:
		return "other"
	}
}

// Instruction is the decode result the analyzer walks over. DirectTargets
// holds the resolved absolute addresses of any statically-known branch
// targets (a direct CALL/JMP/Jcc's immediate operand); indirect
// branches (through a register or memory operand) yield no targets,
// since resolving them needs a live register file the analyzer does
// not have.
type Instruction struct {
	Address       dbgcore.Address
	Length        int
	Class         Class
	Mnemonic      string
	DirectTargets []dbgcore.Address
}

// Decode decodes the single instruction at the front of mem, which is
// assumed to start at address addr. It never consumes more than 15
// bytes (x86's maximum instruction length).
func Decode(mem []byte, addr dbgcore.Address) (Instruction, error) {
	inst, err := x86asm.Decode(mem, 64)
	if err != nil {
		if logflags.Disasm() {
			logflags.DisasmLogger().WithError(err).Debugf("decode failed at %#x", uint64(addr))
		}
		return Instruction{}, &dbgcore.DisassemblyFailedError{Address: addr}
	}

	out := Instruction{
		Address:  addr,
		Length:   inst.Len,
		Mnemonic: inst.Op.String(),
		Class:    classify(inst),
	}
	if target, ok := directTarget(inst, addr); ok {
		out.DirectTargets = []dbgcore.Address{target}
	}
	return out, nil
}

func classify(inst x86asm.Inst) Class {
	switch inst.Op {
	case x86asm.CALL, x86asm.LCALL:
		return ClassCall
	case x86asm.RET, x86asm.LRET:
		return ClassReturn
	case x86asm.JMP, x86asm.LJMP:
		return ClassJumpUnconditional
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ, x86asm.JECXZ,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO,
		x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JRCXZ, x86asm.JS:
		return ClassJumpConditional
	case x86asm.HLT:
		return ClassHalt
	default:
		return ClassOther
	}
}

// directTarget resolves a CALL/JMP/Jcc instruction's immediate operand
// to an absolute address. addr+len is the address of the following
// instruction, which x86's relative branch encoding is offset from.
func directTarget(inst x86asm.Inst, addr dbgcore.Address) (dbgcore.Address, bool) {
	switch inst.Op {
	case x86asm.CALL, x86asm.JMP, x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE,
		x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO, x86asm.JP,
		x86asm.JRCXZ, x86asm.JS:
	default:
		return 0, false
	}
	if len(inst.Args) == 0 {
		return 0, false
	}
	switch arg := inst.Args[0].(type) {
	case x86asm.Rel:
		return addr.Add(int64(inst.Len) + int64(arg)), true
	case x86asm.Imm:
		return dbgcore.Address(arg), true
	default:
		return 0, false
	}
}
